// Package config loads the service configuration from an optional YAML file
// and CLAIMGUARD_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/brainsait/claimguard/internal/domain"
)

// EnvPrefix is prepended to every environment key, e.g. CLAIMGUARD_SERVER_PORT.
const EnvPrefix = "CLAIMGUARD"

// Load reads configuration. An empty path searches for claimguard.yaml in
// the usual places and tolerates its absence; an explicit path must exist.
// Defaults come from domain.DefaultConfig, or domain.ProConfig when the
// resolved tier is "pro".
func Load(path string) (*domain.Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("claimguard")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/claimguard/")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, &domain.ConfigError{Component: "config", Field: "path", Reason: "error reading config file", Err: err}
		}
	}

	base := domain.DefaultConfig()
	switch tier := domain.Tier(strings.ToLower(v.GetString("tier"))); tier {
	case "", domain.TierCommunity:
	case domain.TierPro:
		base = domain.ProConfig()
	default:
		return nil, &domain.ConfigError{Component: "config", Field: "tier", Reason: fmt.Sprintf("unknown tier %q", tier)}
	}
	setDefaults(v, base)

	cfg := &domain.Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, &domain.ConfigError{Component: "config", Reason: "error unmarshaling config", Err: err}
	}
	cfg.Tier = domain.Tier(strings.ToLower(string(cfg.Tier)))

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that would otherwise fail late.
func Validate(cfg *domain.Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return &domain.ConfigError{Component: "server", Field: "port", Reason: fmt.Sprintf("invalid port %d", cfg.Server.Port)}
	}
	if cfg.Server.RateLimit < 0 {
		return &domain.ConfigError{Component: "server", Field: "rate_limit", Reason: "must not be negative"}
	}
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return &domain.ConfigError{Component: "logging", Field: "level", Reason: fmt.Sprintf("invalid level %q", cfg.Logging.Level)}
	}
	return cfg.Engine.Validate()
}

func setDefaults(v *viper.Viper, d *domain.Config) {
	v.SetDefault("tier", string(d.Tier))

	// Server defaults
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.rate_limit", d.Server.RateLimit)
	v.SetDefault("server.rate_burst", d.Server.RateBurst)
	v.SetDefault("server.report_ttl", d.Server.ReportTTL)

	// Engine defaults
	e := d.Engine
	v.SetDefault("engine.workers", e.Workers)
	v.SetDefault("engine.max_batch_size", e.MaxBatchSize)
	v.SetDefault("engine.upcoding.z_threshold", e.Upcoding.ZThreshold)
	v.SetDefault("engine.upcoding.min_samples", e.Upcoding.MinSamples)
	v.SetDefault("engine.upcoding.mix_factor", e.Upcoding.MixFactor)
	v.SetDefault("engine.upcoding.mix_min_history", e.Upcoding.MixMinHistory)
	v.SetDefault("engine.phantom.max_daily_claims", e.Phantom.MaxDailyClaims)
	v.SetDefault("engine.phantom.schedule_gap_alerts", e.Phantom.ScheduleGapAlerts)
	v.SetDefault("engine.anomaly.trees", e.Anomaly.Trees)
	v.SetDefault("engine.anomaly.sample_size", e.Anomaly.SampleSize)
	v.SetDefault("engine.anomaly.seed", e.Anomaly.Seed)
	v.SetDefault("engine.anomaly.min_batch_size", e.Anomaly.MinBatchSize)
	v.SetDefault("engine.anomaly.normalization", e.Anomaly.Normalization)
	v.SetDefault("engine.decision.anomaly_alert_score", e.Decision.AnomalyAlertScore)
	v.SetDefault("engine.decision.anomaly_flag_score", e.Decision.AnomalyFlagScore)
	v.SetDefault("engine.risk.weights.critical", e.Risk.Weights.Critical)
	v.SetDefault("engine.risk.weights.high", e.Risk.Weights.High)
	v.SetDefault("engine.risk.weights.medium", e.Risk.Weights.Medium)
	v.SetDefault("engine.risk.weights.low", e.Risk.Weights.Low)
	v.SetDefault("engine.risk.high_level", e.Risk.HighLevel)
	v.SetDefault("engine.risk.medium_level", e.Risk.MediumLevel)
	v.SetDefault("engine.risk.investigation_alert_count", e.Risk.InvestigationAlertCount)

	// Catalog defaults
	v.SetDefault("catalog.path", d.Catalog.Path)

	// Repository defaults
	v.SetDefault("repository.driver", d.Repository.Driver)
	v.SetDefault("repository.sqlite_path", d.Repository.SQLitePath)
	v.SetDefault("repository.postgres_host", d.Repository.PostgresHost)
	v.SetDefault("repository.postgres_port", d.Repository.PostgresPort)
	v.SetDefault("repository.postgres_user", d.Repository.PostgresUser)
	v.SetDefault("repository.postgres_password", d.Repository.PostgresPassword)
	v.SetDefault("repository.postgres_db", d.Repository.PostgresDB)
	v.SetDefault("repository.postgres_ssl_mode", d.Repository.PostgresSSLMode)
	v.SetDefault("repository.max_open_conns", d.Repository.MaxOpenConns)
	v.SetDefault("repository.max_idle_conns", d.Repository.MaxIdleConns)
	v.SetDefault("repository.conn_max_lifetime", d.Repository.ConnMaxLifetime)

	// Cache defaults
	v.SetDefault("cache.type", d.Cache.Type)
	v.SetDefault("cache.local_max_size", d.Cache.LocalMaxSize)
	v.SetDefault("cache.local_ttl", d.Cache.LocalTTL)
	v.SetDefault("cache.redis_addr", d.Cache.RedisAddr)
	v.SetDefault("cache.redis_password", d.Cache.RedisPassword)
	v.SetDefault("cache.redis_db", d.Cache.RedisDB)
	v.SetDefault("cache.enable_two_phase", d.Cache.EnableTwoPhase)
	v.SetDefault("cache.breaker_failures", d.Cache.BreakerFailures)

	// Event bus defaults
	v.SetDefault("event_bus.type", d.EventBus.Type)
	v.SetDefault("event_bus.channel_buffer_size", d.EventBus.ChannelBufferSize)
	v.SetDefault("event_bus.nats_url", d.EventBus.NATSUrl)
	v.SetDefault("event_bus.nats_token", d.EventBus.NATSToken)
	v.SetDefault("event_bus.nats_max_reconnects", d.EventBus.NATSMaxReconnects)
	v.SetDefault("event_bus.nats_reconnect_wait", d.EventBus.NATSReconnectWait)

	// Worker defaults
	v.SetDefault("worker.enabled", d.Worker.Enabled)
	v.SetDefault("worker.tenant_ids", d.Worker.TenantIDs)

	// Logging and tracing defaults
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
}
