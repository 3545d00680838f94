package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Report operations
	SaveReport(ctx context.Context, tenantID string, report *FraudAnalysisReport) error
	GetReport(ctx context.Context, tenantID string, reportID string) (*FraudAnalysisReport, error)
	ListReports(ctx context.Context, tenantID string, limit int) ([]ReportSummary, error)

	// Physician risk history, newest first
	ListPhysicianRisks(ctx context.Context, tenantID string, physicianID string, limit int) ([]PhysicianRiskRecord, error)

	// Historical claim reference data
	SaveHistoricalClaims(ctx context.Context, tenantID string, claims []HistoricalClaim) error
	ListHistoricalClaims(ctx context.Context, tenantID string, since time.Time) ([]HistoricalClaim, error)

	// Rule configuration operations
	SaveRuleConfig(ctx context.Context, tenantID string, rule *RuleConfig) error
	GetRuleConfig(ctx context.Context, tenantID string, ruleID string) (*RuleConfig, error)
	ListRuleConfigs(ctx context.Context, tenantID string) ([]*RuleConfig, error)
	DeleteRuleConfig(ctx context.Context, tenantID string, ruleID string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// PhysicianRiskRecord is a stored physician profile tied to the report that produced it.
type PhysicianRiskRecord struct {
	ReportID    string               `json:"report_id"`
	GeneratedAt time.Time            `json:"generated_at"`
	Profile     PhysicianRiskProfile `json:"profile"`
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `mapstructure:"driver"`

	// SQLite specific
	SQLitePath string `mapstructure:"sqlite_path"`

	// PostgreSQL specific
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"`
	PostgresDB       string `mapstructure:"postgres_db"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode"`

	// Connection pool settings
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}
