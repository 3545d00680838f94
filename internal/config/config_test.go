package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brainsait/claimguard/internal/domain"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "claimguard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, domain.TierCommunity, cfg.Tier)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Repository.Driver)
	assert.Equal(t, "memory", cfg.Cache.Type)
	assert.Equal(t, "channel", cfg.EventBus.Type)

	e := cfg.Engine
	assert.Equal(t, 3.0, e.Upcoding.ZThreshold)
	assert.Equal(t, 5, e.Upcoding.MinSamples)
	assert.Equal(t, 1.5, e.Upcoding.MixFactor)
	assert.Equal(t, 10, e.Upcoding.MixMinHistory)
	assert.Equal(t, 100, e.Anomaly.Trees)
	assert.Equal(t, uint64(42), e.Anomaly.Seed)
	assert.Equal(t, 80.0, e.Decision.AnomalyAlertScore)
	assert.Equal(t, 60.0, e.Decision.AnomalyFlagScore)
	assert.Equal(t, domain.SeverityWeights{Critical: 20, High: 10, Medium: 5, Low: 2}, e.Risk.Weights)
	assert.Equal(t, 1000, e.MaxBatchSize)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
engine:
  upcoding:
    z_threshold: 2.5
  anomaly:
    seed: 7
    normalization: reference
  risk:
    weights:
      critical: 25
catalog:
  path: /etc/claimguard/catalog.yaml
worker:
  tenant_ids: [tenant-a, tenant-b]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 2.5, cfg.Engine.Upcoding.ZThreshold)
	assert.Equal(t, 5, cfg.Engine.Upcoding.MinSamples, "unset keys keep defaults")
	assert.Equal(t, uint64(7), cfg.Engine.Anomaly.Seed)
	assert.Equal(t, domain.NormalizeReference, cfg.Engine.Anomaly.Normalization)
	assert.Equal(t, 25.0, cfg.Engine.Risk.Weights.Critical)
	assert.Equal(t, 10.0, cfg.Engine.Risk.Weights.High)
	assert.Equal(t, "/etc/claimguard/catalog.yaml", cfg.Catalog.Path)
	assert.Equal(t, []string{"tenant-a", "tenant-b"}, cfg.Worker.TenantIDs)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CLAIMGUARD_SERVER_PORT", "7070")
	t.Setenv("CLAIMGUARD_ENGINE_DECISION_ANOMALY_ALERT_SCORE", "90")
	t.Setenv("CLAIMGUARD_ENGINE_PHANTOM_SCHEDULE_GAP_ALERTS", "false")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, 90.0, cfg.Engine.Decision.AnomalyAlertScore)
	assert.False(t, cfg.Engine.Phantom.ScheduleGapAlerts)
}

func TestLoadProTier(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CLAIMGUARD_TIER", "pro")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, domain.TierPro, cfg.Tier)
	assert.Equal(t, "postgres", cfg.Repository.Driver)
	assert.Equal(t, "redis", cfg.Cache.Type)
	assert.True(t, cfg.Cache.EnableTwoPhase)
	assert.Equal(t, "nats", cfg.EventBus.Type)
	assert.True(t, cfg.Worker.Enabled)
}

func TestLoadErrors(t *testing.T) {
	t.Run("MissingExplicitFile", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.True(t, domain.IsConfigError(err))
	})

	t.Run("UnknownTier", func(t *testing.T) {
		_, err := Load(writeConfig(t, "tier: enterprise\n"))
		var ce *domain.ConfigError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, "tier", ce.Field)
	})

	t.Run("InconsistentThresholds", func(t *testing.T) {
		_, err := Load(writeConfig(t, `
engine:
  decision:
    anomaly_alert_score: 50
    anomaly_flag_score: 70
`))
		var ce *domain.ConfigError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, "engine", ce.Component)
	})

	t.Run("NegativeMixFactor", func(t *testing.T) {
		_, err := Load(writeConfig(t, "engine:\n  upcoding:\n    mix_factor: -1\n"))
		var ce *domain.ConfigError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, "upcoding.mix_factor", ce.Field)
	})

	t.Run("BadLogLevel", func(t *testing.T) {
		_, err := Load(writeConfig(t, "logging:\n  level: loud\n"))
		assert.True(t, domain.IsConfigError(err))
	})
}
