// Package engine is the pipeline orchestrator. It parses a batch, runs the
// detectors and validator, scores anomalies, and assembles a deterministic
// FraudAnalysisReport. It performs no I/O.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/brainsait/claimguard/internal/anomaly"
	"github.com/brainsait/claimguard/internal/cadp"
	"github.com/brainsait/claimguard/internal/catalog"
	"github.com/brainsait/claimguard/internal/detector"
	"github.com/brainsait/claimguard/internal/domain"
	"github.com/brainsait/claimguard/internal/validator"
)

// Version is stamped into report metadata.
const Version = "claimguard-1.0"

// ErrBatchTooLarge is returned when a batch exceeds the configured cap.
var ErrBatchTooLarge = errors.New("batch exceeds maximum size")

var tracer = otel.Tracer("claimguard-engine")

// Engine runs screening batches. It is safe for concurrent use.
type Engine struct {
	cfg       domain.EngineConfig
	catalog   *catalog.Catalog
	validator *validator.Validator
	detectors []detector.Detector
	scorer    *anomaly.Scorer
	processor *cadp.Processor
	workers   int
}

// New builds an engine. rules may be nil when no extension rules are used.
func New(cat *catalog.Catalog, rules validator.RuleEvaluator, cfg domain.EngineConfig) (*Engine, error) {
	if cat == nil {
		return nil, &domain.ConfigError{Component: "engine", Field: "catalog", Reason: "is required"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	return &Engine{
		cfg:       cfg,
		catalog:   cat,
		validator: validator.New(cat, rules),
		detectors: detector.Standard(cfg, cat),
		scorer:    anomaly.NewScorer(cfg.Anomaly),
		processor: cadp.NewProcessor(cfg),
		workers:   workers,
	}, nil
}

// Catalog returns the catalog the engine was built with.
func (e *Engine) Catalog() *catalog.Catalog { return e.catalog }

// Config returns the engine settings.
func (e *Engine) Config() domain.EngineConfig { return e.cfg }

// Input is one screening batch in wire form.
type Input struct {
	TenantID   string                    `json:"tenant_id,omitempty"`
	Claims     []domain.ClaimRecord      `json:"claims"`
	Historical []domain.HistoricalRecord `json:"historical_data,omitempty"`
	Schedules  []domain.ScheduleEntry    `json:"facility_schedules,omitempty"`

	// AsOf anchors date checks, detected_at and generated_at. Zero means now.
	AsOf time.Time `json:"as_of,omitempty"`
}

// ValidateClaim parses and validates a single claim. A malformed record
// yields an *domain.InputError.
func (e *Engine) ValidateClaim(ctx context.Context, rec *domain.ClaimRecord, asOf time.Time) ([]domain.ValidationIssue, error) {
	c, err := rec.Parse()
	if err != nil {
		return nil, err
	}
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}
	issues := e.validator.Validate(ctx, &c, asOf)
	if issues == nil {
		issues = []domain.ValidationIssue{}
	}
	return issues, nil
}

// batch is the parsed form of an Input.
type batch struct {
	claims      []domain.Claim // sorted by id
	inputOrder  []string
	historical  []domain.HistoricalClaim
	schedules   domain.FacilitySchedule
	diagnostics []domain.Diagnostic
}

// Run screens a batch and returns its report. Malformed records are skipped
// and listed as diagnostics; only an oversized batch or a cancelled context
// fails the run.
func (e *Engine) Run(ctx context.Context, in *Input) (*domain.FraudAnalysisReport, error) {
	if len(in.Claims) > e.cfg.MaxBatchSize {
		return nil, fmt.Errorf("%w: %d claims, limit %d", ErrBatchTooLarge, len(in.Claims), e.cfg.MaxBatchSize)
	}

	asOf := in.AsOf.UTC()
	if in.AsOf.IsZero() {
		asOf = time.Now().UTC()
	}

	ctx, span := tracer.Start(ctx, "engine.Run", trace.WithAttributes(
		attribute.String("tenant.id", in.TenantID),
		attribute.Int("claims.received", len(in.Claims)),
	))
	defer span.End()

	start := time.Now()
	b := parse(in)
	span.SetAttributes(attribute.Int("claims.analyzed", len(b.claims)))

	// Phase 1: whole-batch detectors and per-claim validation.
	alerts, issues := e.phaseOne(ctx, b, asOf)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	slog.Debug("engine phase one complete",
		"tenant_id", in.TenantID,
		"claims", len(b.claims),
		"alerts", len(alerts),
		"elapsed", time.Since(start),
	)

	// Phase 2: anomaly scoring and verdict assembly.
	amounts := make([]float64, len(b.claims))
	for i := range b.claims {
		amounts[i] = b.claims[i].BilledAmount
	}
	scored := e.scorer.Score(anomaly.Features(b.claims, b.historical), amounts, e.forEach)
	for i := range b.claims {
		if a, ok := e.processor.AnomalyAlert(&b.claims[i], scored.Scores[i], asOf); ok {
			alerts = append(alerts, a)
		}
	}
	domain.SortAlerts(alerts)

	byClaim := make(map[string][]domain.FraudAlert, len(b.claims))
	for _, a := range alerts {
		for _, id := range a.ClaimIDs {
			byClaim[id] = append(byClaim[id], a)
		}
	}

	sorted := make([]domain.ClaimVerdict, len(b.claims))
	e.forEach(len(b.claims), func(i int) {
		id := b.claims[i].ID
		sorted[i] = e.processor.Verdict(id, issues[i], byClaim[id], scored.Scores[i])
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	position := make(map[string]int, len(b.claims))
	for i := range b.claims {
		position[b.claims[i].ID] = i
	}
	verdicts := make([]domain.ClaimVerdict, len(b.inputOrder))
	for i, id := range b.inputOrder {
		verdicts[i] = sorted[position[id]]
	}

	profiles := e.processor.Profiles(b.claims, alerts)

	report := &domain.FraudAnalysisReport{
		ID:                 reportID(in.TenantID, asOf, b.claims),
		TenantID:           in.TenantID,
		GeneratedAt:        asOf,
		Alerts:             alerts,
		TotalAlerts:        len(alerts),
		AlertsBySeverity:   cadp.CountBySeverity(alerts),
		AlertsByType:       cadp.CountByType(alerts),
		PhysicianRisks:     profiles,
		HighRiskPhysicians: cadp.HighRisk(profiles),
		Verdicts:           verdicts,
		DecisionCounts:     cadp.CountDecisions(verdicts),
		Diagnostics:        b.diagnostics,
		Metadata: domain.ReportMetadata{
			ClaimsReceived:    len(in.Claims),
			ClaimsAnalyzed:    len(b.claims),
			ClaimsSkipped:     len(in.Claims) - len(b.claims),
			HistoricalRecords: len(b.historical),
			ScheduleEntries:   len(in.Schedules),
			ScoringMethod:     scored.Method,
			Seed:              e.cfg.Anomaly.Seed,
			CatalogVersion:    e.catalog.Version(),
			EngineVersion:     Version,
		},
	}
	if report.Alerts == nil {
		report.Alerts = []domain.FraudAlert{}
	}

	span.SetAttributes(
		attribute.Int("alerts.total", report.TotalAlerts),
		attribute.String("scoring.method", scored.Method),
	)
	slog.Debug("engine run complete",
		"tenant_id", in.TenantID,
		"report_id", report.ID,
		"alerts", report.TotalAlerts,
		"scoring_method", scored.Method,
		"elapsed", time.Since(start),
	)
	return report, nil
}

// phaseOne runs every detector concurrently alongside per-claim validation.
// Detector results are concatenated in detector order.
func (e *Engine) phaseOne(ctx context.Context, b *batch, asOf time.Time) ([]domain.FraudAlert, [][]domain.ValidationIssue) {
	in := &detector.Input{
		Claims:     b.claims,
		Historical: b.historical,
		Schedules:  b.schedules,
		AsOf:       asOf,
	}

	found := make([][]domain.FraudAlert, len(e.detectors))
	var wg sync.WaitGroup
	for i, d := range e.detectors {
		wg.Add(1)
		go func(idx int, d detector.Detector) {
			defer wg.Done()
			found[idx] = d.Detect(in)
		}(i, d)
	}

	issues := make([][]domain.ValidationIssue, len(b.claims))
	e.forEach(len(b.claims), func(i int) {
		issues[i] = e.validator.Validate(ctx, &b.claims[i], asOf)
	})
	wg.Wait()

	var alerts []domain.FraudAlert
	for _, f := range found {
		alerts = append(alerts, f...)
	}
	return alerts, issues
}

// parse converts the wire batch, collecting one diagnostic per rejected record.
func parse(in *Input) *batch {
	b := &batch{diagnostics: []domain.Diagnostic{}}
	seen := make(map[string]struct{}, len(in.Claims))

	for i := range in.Claims {
		c, err := in.Claims[i].Parse()
		if err == nil {
			if _, dup := seen[c.ID]; dup {
				err = &domain.InputError{Kind: domain.RecordClaim, RecordID: c.ID, Reason: "duplicate claim id"}
			}
		}
		if err != nil {
			b.reject(i, err)
			continue
		}
		seen[c.ID] = struct{}{}
		b.claims = append(b.claims, c)
		b.inputOrder = append(b.inputOrder, c.ID)
	}
	sort.Slice(b.claims, func(i, j int) bool { return b.claims[i].ID < b.claims[j].ID })

	for i := range in.Historical {
		h, err := in.Historical[i].Parse()
		if err != nil {
			b.reject(i, err)
			continue
		}
		b.historical = append(b.historical, h)
	}

	schedules, errs := domain.NewFacilitySchedule(in.Schedules)
	for _, err := range errs {
		b.reject(-1, err)
	}
	b.schedules = schedules
	return b
}

func (b *batch) reject(index int, err error) {
	var ie *domain.InputError
	if !errors.As(err, &ie) {
		ie = &domain.InputError{Kind: domain.RecordClaim, Reason: err.Error()}
	}
	if index >= 0 {
		ie.Index = index
	}
	b.diagnostics = append(b.diagnostics, ie.Diagnostic())
}

// ReportID returns the id Run assigns to in's report, so a caller can hand
// out the id before an asynchronous run. in.AsOf must be set.
func ReportID(in *Input) string {
	return reportID(in.TenantID, in.AsOf.UTC(), parse(in).claims)
}

func reportID(tenantID string, asOf time.Time, claims []domain.Claim) string {
	parts := make([]string, 0, len(claims)+3)
	parts = append(parts, "report", tenantID, asOf.Format(time.RFC3339Nano))
	for i := range claims {
		parts = append(parts, claims[i].ID)
	}
	return domain.StableID(parts...)
}
