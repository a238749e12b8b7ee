package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// 🧪 配置测试
// =============================================================================

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, "memory", cfg.Graph.Backend)
	assert.Greater(t, cfg.Temporal.HysteresisHigh, cfg.Temporal.HysteresisLow)
	assert.InDelta(t, 1.0,
		cfg.Retrieval.PooledWeight+cfg.Retrieval.TimestepWeight+cfg.Retrieval.TokenWeight, 1e-9)
	assert.InDelta(t, 1.0,
		cfg.Resolution.EmbeddingWeight+cfg.Resolution.TopologyWeight+
			cfg.Resolution.TravelWeight+cfg.Resolution.OverlapWeight, 1e-9)
}

func TestValidate_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"hysteresis inverted", func(c *Config) {
			c.Temporal.HysteresisHigh = 0.3
			c.Temporal.HysteresisLow = 0.6
		}},
		{"confidence out of range", func(c *Config) { c.Retrieval.MinConfidence = 1.5 }},
		{"negative retry budget", func(c *Config) { c.Orchestrator.RetryBudget = -1 }},
		{"unknown cache backend", func(c *Config) { c.Cache.Backend = "etcd" }},
		{"unknown graph backend", func(c *Config) { c.Graph.Backend = "neo4j" }},
		{"zero smoothing window", func(c *Config) { c.Temporal.SmoothingWindow = 0 }},
		{"empty model version", func(c *Config) { c.ModelVersion = "" }},
		{"sample rate out of range", func(c *Config) { c.Telemetry.SampleRate = 1.5 }},
		{"telemetry enabled without endpoint", func(c *Config) {
			c.Telemetry.Enabled = true
			c.Telemetry.OTLPEndpoint = ""
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoader_YAMLAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
log:
  level: debug
orchestrator:
  stage_timeout: 45s
retrieval:
  min_confidence: 0.42
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	t.Setenv("VIDEORAG_LOG_LEVEL", "warn")
	t.Setenv("VIDEORAG_OTLP_ENDPOINT", "otel-collector:4317")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	// 环境变量覆盖 YAML
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 45*time.Second, cfg.Orchestrator.StageTimeout)
	assert.InDelta(t, 0.42, cfg.Retrieval.MinConfidence, 1e-9)
	assert.Equal(t, "otel-collector:4317", cfg.Telemetry.OTLPEndpoint)
	// 未覆盖的字段保持默认
	assert.Equal(t, DefaultConfig().Retrieval.InitialTopK, cfg.Retrieval.InitialTopK)
}

func TestLoader_MissingFileFails(t *testing.T) {
	_, err := NewLoader().WithConfigPath("/nonexistent/config.yaml").Load()
	assert.Error(t, err)
}
