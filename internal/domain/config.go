package domain

import (
	"fmt"
	"runtime"
)

// Config holds the complete ClaimGuard configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Tier determines which infrastructure backends are used
	Tier Tier `json:"tier" mapstructure:"tier"`

	// Screening engine thresholds
	Engine EngineConfig `json:"engine" mapstructure:"engine"`

	// Rule catalog source
	Catalog CatalogConfig `json:"catalog" mapstructure:"catalog"`

	// Component configurations
	Repository RepositoryConfig `json:"repository" mapstructure:"repository"`
	Cache      CacheConfig      `json:"cache" mapstructure:"cache"`
	EventBus   EventBusConfig   `json:"eventBus" mapstructure:"event_bus"`
	Worker     WorkerConfig     `json:"worker" mapstructure:"worker"`

	// Observability
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" mapstructure:"host"`
	Port         int    `json:"port" mapstructure:"port"`
	ReadTimeout  int    `json:"readTimeout" mapstructure:"read_timeout"`   // seconds
	WriteTimeout int    `json:"writeTimeout" mapstructure:"write_timeout"` // seconds

	// Per-tenant token bucket
	RateLimit float64 `json:"rateLimit" mapstructure:"rate_limit"` // requests per second, 0 disables
	RateBurst int     `json:"rateBurst" mapstructure:"rate_burst"`

	// ReportTTL is how long reports stay in cache, in seconds
	ReportTTL int `json:"reportTtl" mapstructure:"report_ttl"`
}

// CatalogConfig points at an optional rule catalog file.
type CatalogConfig struct {
	Path string `json:"path" mapstructure:"path"` // empty = built-in catalog
}

// WorkerConfig holds async worker settings.
type WorkerConfig struct {
	Enabled   bool     `json:"enabled" mapstructure:"enabled"`
	TenantIDs []string `json:"tenantIds" mapstructure:"tenant_ids"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `json:"format" mapstructure:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" mapstructure:"enabled"`
	ServiceName string `json:"serviceName" mapstructure:"service_name"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite + channels + in-process LRU
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// EngineConfig holds every tunable threshold of the screening pipeline.
type EngineConfig struct {
	Workers      int `json:"workers" mapstructure:"workers"`
	MaxBatchSize int `json:"maxBatchSize" mapstructure:"max_batch_size"`

	Upcoding UpcodingConfig `json:"upcoding" mapstructure:"upcoding"`
	Phantom  PhantomConfig  `json:"phantom" mapstructure:"phantom"`
	Anomaly  AnomalyConfig  `json:"anomaly" mapstructure:"anomaly"`
	Decision DecisionConfig `json:"decision" mapstructure:"decision"`
	Risk     RiskConfig     `json:"risk" mapstructure:"risk"`
}

// UpcodingConfig tunes the upcoding detector.
type UpcodingConfig struct {
	ZThreshold float64 `json:"zThreshold" mapstructure:"z_threshold"`
	MinSamples int     `json:"minSamples" mapstructure:"min_samples"`

	// A physician whose HIGH-complexity share in the batch exceeds
	// MixFactor times their historical share is flagged. 0 disables it.
	MixFactor     float64 `json:"mixFactor" mapstructure:"mix_factor"`
	MixMinHistory int     `json:"mixMinHistory" mapstructure:"mix_min_history"`
}

// PhantomConfig tunes the phantom-billing detector.
type PhantomConfig struct {
	MaxDailyClaims    int  `json:"maxDailyClaims" mapstructure:"max_daily_claims"` // 0 disables the volume check
	ScheduleGapAlerts bool `json:"scheduleGapAlerts" mapstructure:"schedule_gap_alerts"`
}

// Normalization modes for anomaly scores.
const (
	NormalizeMinMax    = "minmax"
	NormalizeReference = "reference"
)

// AnomalyConfig tunes the isolation forest.
type AnomalyConfig struct {
	Trees         int    `json:"trees" mapstructure:"trees"`
	SampleSize    int    `json:"sampleSize" mapstructure:"sample_size"`
	Seed          uint64 `json:"seed" mapstructure:"seed"`
	MinBatchSize  int    `json:"minBatchSize" mapstructure:"min_batch_size"`
	Normalization string `json:"normalization" mapstructure:"normalization"`
}

// DecisionConfig holds the anomaly cut-offs used for verdicts.
type DecisionConfig struct {
	AnomalyAlertScore float64 `json:"anomalyAlertScore" mapstructure:"anomaly_alert_score"`
	AnomalyFlagScore  float64 `json:"anomalyFlagScore" mapstructure:"anomaly_flag_score"`
}

// SeverityWeights are the per-alert contributions to a physician risk score.
type SeverityWeights struct {
	Critical float64 `json:"critical" mapstructure:"critical"`
	High     float64 `json:"high" mapstructure:"high"`
	Medium   float64 `json:"medium" mapstructure:"medium"`
	Low      float64 `json:"low" mapstructure:"low"`
}

// Weight returns the weight for s.
func (w SeverityWeights) Weight(s AlertSeverity) float64 {
	switch s {
	case SeverityCritical:
		return w.Critical
	case SeverityHigh:
		return w.High
	case SeverityMedium:
		return w.Medium
	default:
		return w.Low
	}
}

// RiskConfig tunes physician risk profiling.
type RiskConfig struct {
	Weights                 SeverityWeights `json:"weights" mapstructure:"weights"`
	HighLevel               float64         `json:"highLevel" mapstructure:"high_level"`
	MediumLevel             float64         `json:"mediumLevel" mapstructure:"medium_level"`
	InvestigationAlertCount int             `json:"investigationAlertCount" mapstructure:"investigation_alert_count"`
}

// DefaultEngineConfig returns the calibrated defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Workers:      runtime.NumCPU(),
		MaxBatchSize: 1000,
		Upcoding: UpcodingConfig{
			ZThreshold:    3.0,
			MinSamples:    5,
			MixFactor:     1.5,
			MixMinHistory: 10,
		},
		Phantom: PhantomConfig{
			MaxDailyClaims:    50,
			ScheduleGapAlerts: true,
		},
		Anomaly: AnomalyConfig{
			Trees:         100,
			SampleSize:    256,
			Seed:          42,
			MinBatchSize:  10,
			Normalization: NormalizeMinMax,
		},
		Decision: DecisionConfig{
			AnomalyAlertScore: 80,
			AnomalyFlagScore:  60,
		},
		Risk: RiskConfig{
			Weights:                 SeverityWeights{Critical: 20, High: 10, Medium: 5, Low: 2},
			HighLevel:               70,
			MediumLevel:             40,
			InvestigationAlertCount: 5,
		},
	}
}

// Validate checks the engine settings for consistency.
func (c EngineConfig) Validate() error {
	bad := func(field, format string, args ...any) error {
		return &ConfigError{Component: "engine", Field: field, Reason: fmt.Sprintf(format, args...)}
	}
	switch {
	case c.Workers < 0:
		return bad("workers", "must not be negative, got %d", c.Workers)
	case c.MaxBatchSize <= 0:
		return bad("max_batch_size", "must be positive, got %d", c.MaxBatchSize)
	case c.Upcoding.ZThreshold <= 0:
		return bad("upcoding.z_threshold", "must be positive, got %g", c.Upcoding.ZThreshold)
	case c.Upcoding.MinSamples < 2:
		return bad("upcoding.min_samples", "must be at least 2, got %d", c.Upcoding.MinSamples)
	case c.Upcoding.MixFactor < 0:
		return bad("upcoding.mix_factor", "must not be negative, got %g", c.Upcoding.MixFactor)
	case c.Upcoding.MixFactor > 0 && c.Upcoding.MixMinHistory < 1:
		return bad("upcoding.mix_min_history", "must be positive, got %d", c.Upcoding.MixMinHistory)
	case c.Phantom.MaxDailyClaims < 0:
		return bad("phantom.max_daily_claims", "must not be negative, got %d", c.Phantom.MaxDailyClaims)
	case c.Anomaly.Trees <= 0:
		return bad("anomaly.trees", "must be positive, got %d", c.Anomaly.Trees)
	case c.Anomaly.SampleSize < 2:
		return bad("anomaly.sample_size", "must be at least 2, got %d", c.Anomaly.SampleSize)
	case c.Anomaly.MinBatchSize < 2:
		return bad("anomaly.min_batch_size", "must be at least 2, got %d", c.Anomaly.MinBatchSize)
	case c.Anomaly.Normalization != NormalizeMinMax && c.Anomaly.Normalization != NormalizeReference:
		return bad("anomaly.normalization", "unknown mode %q", c.Anomaly.Normalization)
	case !inScoreRange(c.Decision.AnomalyAlertScore) || !inScoreRange(c.Decision.AnomalyFlagScore):
		return bad("decision", "anomaly cut-offs must lie in [0,100]")
	case c.Decision.AnomalyFlagScore > c.Decision.AnomalyAlertScore:
		return bad("decision.anomaly_flag_score", "%g exceeds anomaly_alert_score %g", c.Decision.AnomalyFlagScore, c.Decision.AnomalyAlertScore)
	case c.Risk.Weights.Critical < 0 || c.Risk.Weights.High < 0 || c.Risk.Weights.Medium < 0 || c.Risk.Weights.Low < 0:
		return bad("risk.weights", "must not be negative")
	case !inScoreRange(c.Risk.HighLevel) || !inScoreRange(c.Risk.MediumLevel):
		return bad("risk", "levels must lie in [0,100]")
	case c.Risk.MediumLevel > c.Risk.HighLevel:
		return bad("risk.medium_level", "%g exceeds high_level %g", c.Risk.MediumLevel, c.Risk.HighLevel)
	case c.Risk.InvestigationAlertCount <= 0:
		return bad("risk.investigation_alert_count", "must be positive, got %d", c.Risk.InvestigationAlertCount)
	}
	return nil
}

func inScoreRange(v float64) bool { return v >= 0 && v <= 100 }

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 60,
			RateLimit:    20,
			RateBurst:    40,
			ReportTTL:    3600,
		},
		Tier:   TierCommunity,
		Engine: DefaultEngineConfig(),
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./claimguard.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     300, // 5 minutes
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Worker: WorkerConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "claimguard",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "claimguard",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       300,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
