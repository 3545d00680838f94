// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/brainsait/claimguard/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveReport stores a report and its physician profiles in one transaction.
// Saving the same report id again replaces the stored copy.
func (r *SQLRepository) SaveReport(ctx context.Context, tenantID string, report *domain.FraudAnalysisReport) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if report == nil || report.ID == "" {
		return fmt.Errorf("%w: report id is required", ErrInvalidInput)
	}

	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	summary := report.Summarize()
	now := time.Now().UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO reports (
			id, tenant_id, generated_at, claims_analyzed, total_alerts,
			blocked, flagged, high_risk_physicians, body, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			generated_at = excluded.generated_at,
			claims_analyzed = excluded.claims_analyzed,
			total_alerts = excluded.total_alerts,
			blocked = excluded.blocked,
			flagged = excluded.flagged,
			high_risk_physicians = excluded.high_risk_physicians,
			body = excluded.body
	`
	if _, err := tx.ExecContext(ctx, r.rebind(query),
		report.ID, tenantID, report.GeneratedAt.UTC(),
		summary.ClaimsAnalyzed, summary.TotalAlerts,
		summary.Blocked, summary.Flagged, summary.HighRiskPhysicians,
		string(body), now,
	); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, r.rebind(`DELETE FROM physician_risks WHERE tenant_id = ? AND report_id = ?`), tenantID, report.ID); err != nil {
		return err
	}

	insert := r.rebind(`
		INSERT INTO physician_risks (
			report_id, tenant_id, physician_id, generated_at, risk_score, risk_level,
			alert_count, claim_count, requires_investigation, requires_training
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	for _, p := range report.PhysicianRisks {
		if _, err := tx.ExecContext(ctx, insert,
			report.ID, tenantID, p.PhysicianID, report.GeneratedAt.UTC(),
			p.RiskScore, string(p.RiskLevel), p.AlertCount, p.ClaimCount,
			boolInt(p.RequiresInvestigation), boolInt(p.RequiresTraining),
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetReport retrieves a report by ID with tenant isolation.
func (r *SQLRepository) GetReport(ctx context.Context, tenantID string, reportID string) (*domain.FraudAnalysisReport, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT body FROM reports WHERE tenant_id = ? AND id = ?`

	var body string
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, reportID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var report domain.FraudAnalysisReport
	if err := json.Unmarshal([]byte(body), &report); err != nil {
		return nil, fmt.Errorf("failed to decode report %s: %w", reportID, err)
	}
	return &report, nil
}

// ListReports returns report summaries for a tenant, newest first.
func (r *SQLRepository) ListReports(ctx context.Context, tenantID string, limit int) ([]domain.ReportSummary, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, tenant_id, generated_at, claims_analyzed, total_alerts,
			   blocked, flagged, high_risk_physicians, created_at
		FROM reports
		WHERE tenant_id = ?
		ORDER BY created_at DESC, id
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := []domain.ReportSummary{}
	for rows.Next() {
		var s domain.ReportSummary
		if err := rows.Scan(
			&s.ID, &s.TenantID, &s.GeneratedAt, &s.ClaimsAnalyzed, &s.TotalAlerts,
			&s.Blocked, &s.Flagged, &s.HighRiskPhysicians, &s.CreatedAt,
		); err != nil {
			return nil, err
		}
		summaries = append(summaries, s)
	}

	return summaries, rows.Err()
}

// ListPhysicianRisks returns a physician's stored profiles, newest first.
func (r *SQLRepository) ListPhysicianRisks(ctx context.Context, tenantID string, physicianID string, limit int) ([]domain.PhysicianRiskRecord, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT report_id, generated_at, physician_id, risk_score, risk_level,
			   alert_count, claim_count, requires_investigation, requires_training
		FROM physician_risks
		WHERE tenant_id = ? AND physician_id = ?
		ORDER BY generated_at DESC, report_id
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, physicianID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []domain.PhysicianRiskRecord{}
	for rows.Next() {
		var rec domain.PhysicianRiskRecord
		var level string
		var investigation, training int

		if err := rows.Scan(
			&rec.ReportID, &rec.GeneratedAt, &rec.Profile.PhysicianID,
			&rec.Profile.RiskScore, &level,
			&rec.Profile.AlertCount, &rec.Profile.ClaimCount,
			&investigation, &training,
		); err != nil {
			return nil, err
		}

		rec.Profile.RiskLevel = domain.RiskLevel(level)
		rec.Profile.RequiresInvestigation = investigation == 1
		rec.Profile.RequiresTraining = training == 1
		records = append(records, rec)
	}

	return records, rows.Err()
}

// SaveHistoricalClaims upserts adjudicated claims with tenant isolation.
func (r *SQLRepository) SaveHistoricalClaims(ctx context.Context, tenantID string, claims []domain.HistoricalClaim) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if len(claims) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := r.rebind(`
		INSERT INTO historical_claims (
			id, tenant_id, physician_id, service_code, complexity_level,
			service_date, billed_amount, outcome, body, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			physician_id = excluded.physician_id,
			service_code = excluded.service_code,
			complexity_level = excluded.complexity_level,
			service_date = excluded.service_date,
			billed_amount = excluded.billed_amount,
			outcome = excluded.outcome,
			body = excluded.body
	`)

	now := time.Now().UTC()
	for i := range claims {
		h := &claims[i]
		if h.ID == "" {
			return fmt.Errorf("%w: historical claim id is required", ErrInvalidInput)
		}
		body, err := json.Marshal(h)
		if err != nil {
			return fmt.Errorf("failed to encode historical claim %s: %w", h.ID, err)
		}
		if _, err := tx.ExecContext(ctx, query,
			h.ID, tenantID, h.PhysicianID, h.ServiceCode, string(h.Complexity),
			h.DateKey(), h.BilledAmount, string(h.Outcome), string(body), now,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ListHistoricalClaims returns a tenant's historical claims with a service
// date on or after since, ordered by id. A zero since returns everything.
func (r *SQLRepository) ListHistoricalClaims(ctx context.Context, tenantID string, since time.Time) ([]domain.HistoricalClaim, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT body
		FROM historical_claims
		WHERE tenant_id = ? AND service_date >= ?
		ORDER BY id
	`

	from := ""
	if !since.IsZero() {
		from = since.UTC().Format(domain.DateLayout)
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, from)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	claims := []domain.HistoricalClaim{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var h domain.HistoricalClaim
		if err := json.Unmarshal([]byte(body), &h); err != nil {
			return nil, fmt.Errorf("failed to decode historical claim: %w", err)
		}
		claims = append(claims, h)
	}

	return claims, rows.Err()
}

// SaveRuleConfig stores a rule configuration with tenant isolation.
func (r *SQLRepository) SaveRuleConfig(ctx context.Context, tenantID string, rule *domain.RuleConfig) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	bands, _ := json.Marshal(rule.Bands)
	now := time.Now().UTC()

	query := `
		INSERT INTO rule_configs (
			id, tenant_id, name, description, version, expression, field,
			severity, message, suggestion, bands, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id, version) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			field = excluded.field,
			severity = excluded.severity,
			message = excluded.message,
			suggestion = excluded.suggestion,
			bands = excluded.bands,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.Name, rule.Description,
		rule.Version, rule.Expression, rule.Field,
		string(rule.Severity), rule.Message, rule.Suggestion,
		string(bands), boolInt(rule.Enabled),
		now, now,
	)
	return err
}

const ruleColumns = `id, tenant_id, name, description, version, expression, field, severity, message, suggestion, bands, enabled`

func scanRule(row interface{ Scan(...any) error }) (*domain.RuleConfig, error) {
	var cfg domain.RuleConfig
	var severity, bands string
	var enabled int

	if err := row.Scan(
		&cfg.ID, &cfg.TenantID, &cfg.Name, &cfg.Description,
		&cfg.Version, &cfg.Expression, &cfg.Field,
		&severity, &cfg.Message, &cfg.Suggestion,
		&bands, &enabled,
	); err != nil {
		return nil, err
	}

	cfg.Severity = domain.IssueSeverity(severity)
	cfg.Enabled = enabled == 1
	if bands != "" && bands != "null" {
		if err := json.Unmarshal([]byte(bands), &cfg.Bands); err != nil {
			return nil, fmt.Errorf("failed to parse bands for rule %s: %w", cfg.ID, err)
		}
	}
	return &cfg, nil
}

// GetRuleConfig retrieves the latest enabled version of a rule.
func (r *SQLRepository) GetRuleConfig(ctx context.Context, tenantID string, ruleID string) (*domain.RuleConfig, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT ` + ruleColumns + `
		FROM rule_configs
		WHERE tenant_id = ? AND id = ? AND enabled = 1
		ORDER BY version DESC
		LIMIT 1
	`

	cfg, err := scanRule(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, ruleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return cfg, err
}

// ListRuleConfigs retrieves all active rule configurations for a tenant,
// ordered by id.
func (r *SQLRepository) ListRuleConfigs(ctx context.Context, tenantID string) ([]*domain.RuleConfig, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT ` + ruleColumns + `
		FROM rule_configs
		WHERE tenant_id = ? AND enabled = 1
		ORDER BY id, version
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*domain.RuleConfig
	for rows.Next() {
		cfg, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}

	return configs, rows.Err()
}

// DeleteRuleConfig soft-deletes every version of a rule.
func (r *SQLRepository) DeleteRuleConfig(ctx context.Context, tenantID string, ruleID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		UPDATE rule_configs
		SET enabled = 0, updated_at = ?
		WHERE tenant_id = ? AND id = ? AND enabled = 1
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC(), tenantID, ruleID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = strconv.AppendInt(result, int64(n), 10)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
