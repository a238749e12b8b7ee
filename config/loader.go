package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Loader 配置加载器
type Loader struct {
	configPath string
	envPrefix  string
}

// NewLoader 创建配置加载器
func NewLoader() *Loader {
	return &Loader{envPrefix: "VIDEORAG"}
}

// WithConfigPath 指定 YAML 配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 指定环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// Load 加载配置：默认值 → YAML 文件 → 环境变量，最后统一校验
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		data, err := os.ReadFile(l.configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", l.configPath, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", l.configPath, err)
		}
	}

	l.applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides 环境变量覆盖（运维上最常改动的一组键）
func (l *Loader) applyEnvOverrides(cfg *Config) {
	l.stringVar(&cfg.Log.Level, "LOG_LEVEL")
	l.stringVar(&cfg.Log.Format, "LOG_FORMAT")
	l.stringVar(&cfg.Cache.Backend, "CACHE_BACKEND")
	l.stringVar(&cfg.Cache.Addr, "CACHE_ADDR")
	l.stringVar(&cfg.Cache.Password, "CACHE_PASSWORD")
	l.intVar(&cfg.Cache.DB, "CACHE_DB")
	l.stringVar(&cfg.Graph.Backend, "GRAPH_BACKEND")
	l.stringVar(&cfg.Graph.DSN, "GRAPH_DSN")
	l.boolVar(&cfg.Metrics.Enabled, "METRICS_ENABLED")
	l.stringVar(&cfg.Metrics.Addr, "METRICS_ADDR")
	l.boolVar(&cfg.Telemetry.Enabled, "TELEMETRY_ENABLED")
	l.stringVar(&cfg.Telemetry.OTLPEndpoint, "OTLP_ENDPOINT")
	l.stringVar(&cfg.ModelVersion, "MODEL_VERSION")
	l.durationVar(&cfg.Orchestrator.RunTimeout, "RUN_TIMEOUT")
	l.durationVar(&cfg.Orchestrator.StageTimeout, "STAGE_TIMEOUT")
	l.intVar(&cfg.Orchestrator.MaxConcurrentRuns, "MAX_CONCURRENT_RUNS")
}

func (l *Loader) lookup(key string) (string, bool) {
	return os.LookupEnv(l.envPrefix + "_" + strings.ToUpper(key))
}

func (l *Loader) stringVar(dst *string, key string) {
	if v, ok := l.lookup(key); ok {
		*dst = v
	}
}

func (l *Loader) intVar(dst *int, key string) {
	if v, ok := l.lookup(key); ok {
		if parsed, err := strconv.Atoi(v); err == nil {
			*dst = parsed
		}
	}
}

func (l *Loader) boolVar(dst *bool, key string) {
	if v, ok := l.lookup(key); ok {
		if parsed, err := strconv.ParseBool(v); err == nil {
			*dst = parsed
		}
	}
}

func (l *Loader) durationVar(dst *time.Duration, key string) {
	if v, ok := l.lookup(key); ok {
		if parsed, err := time.ParseDuration(v); err == nil {
			*dst = parsed
		}
	}
}
