// =============================================================================
// 📦 VideoRAG 运行时配置
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("videorag.yaml").
//	    WithEnvPrefix("VIDEORAG").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// 进程启动时校验一次；校验失败属于致命错误，直接终止。
// =============================================================================
package config

import (
	"fmt"
	"time"
)

// Config 是 VideoRAG 的完整配置结构
type Config struct {
	// Log 日志配置
	Log LogConfig `yaml:"log"`

	// Orchestrator 编排状态机配置
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`

	// Ingestion Stage 1 触发路由配置
	Ingestion IngestionConfig `yaml:"ingestion"`

	// Retrieval Stage 2 检索与重排配置
	Retrieval RetrievalConfig `yaml:"retrieval"`

	// Grounding Stage 3 空间定位配置
	Grounding GroundingConfig `yaml:"grounding"`

	// Resolution Stage 4 实体归并配置
	Resolution ResolutionConfig `yaml:"resolution"`

	// Temporal Stage 5 时间定位配置
	Temporal TemporalConfig `yaml:"temporal"`

	// Cache 分层特征缓存配置
	Cache CacheConfig `yaml:"cache"`

	// Graph 图记忆存储配置
	Graph GraphConfig `yaml:"graph"`

	// Metrics Prometheus 指标配置
	Metrics MetricsConfig `yaml:"metrics"`

	// Telemetry OpenTelemetry 链路追踪配置
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// ModelVersion 能力适配器的声明版本，参与缓存键与证据引用
	ModelVersion string `yaml:"model_version"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `yaml:"level"`       // debug, info, warn, error
	Format     string `yaml:"format"`      // json, console
	OutputPath string `yaml:"output_path"` // stdout 或文件路径
}

// OrchestratorConfig 编排器的预算与超时
type OrchestratorConfig struct {
	// StageTimeout 单阶段超时
	StageTimeout time.Duration `yaml:"stage_timeout"`

	// RunTimeout 整次运行超时
	RunTimeout time.Duration `yaml:"run_timeout"`

	// RetryBudget 每阶段的有界重试预算（分解重试 + 回退合计）
	RetryBudget int `yaml:"retry_budget"`

	// MaxConcurrentRuns 并发查询上限（worker pool 大小）
	MaxConcurrentRuns int `yaml:"max_concurrent_runs"`

	// StageParallelism 阶段内并行子单元上限
	StageParallelism int `yaml:"stage_parallelism"`
}

// IngestionConfig Stage 1 配置
type IngestionConfig struct {
	// BGMotionThreshold 背景运动均值超过该值时选择 bg_motion_trigger 路由
	BGMotionThreshold float64 `yaml:"bg_motion_threshold"`

	// MinCoverage 质量门：发出窗口覆盖真实活动时间的最小比例
	MinCoverage float64 `yaml:"min_coverage"`

	// MaxDuplicateRate 质量门：近重复关键帧的最大比例
	MaxDuplicateRate float64 `yaml:"max_duplicate_rate"`

	// SafetyNetConfidence 路由自报置信度低于该值时并行运行
	// sig_ex_adaptive 兜底并按时间重叠去重合并
	SafetyNetConfidence float64 `yaml:"safety_net_confidence"`

	// DedupOverlapRatio 窗口合并时判定重复的时间重叠比例
	DedupOverlapRatio float64 `yaml:"dedup_overlap_ratio"`
}

// RetrievalConfig Stage 2 配置
type RetrievalConfig struct {
	InitialTopK   int     `yaml:"initial_top_k"`
	ValidatedTopK int     `yaml:"validated_top_k"`
	MinConfidence float64 `yaml:"min_confidence"`

	// 双层特征融合权重：池化 / 时间步 / 语义 token 重叠
	PooledWeight   float64 `yaml:"pooled_weight"`
	TimestepWeight float64 `yaml:"timestep_weight"`
	TokenWeight    float64 `yaml:"token_weight"`
}

// GroundingConfig Stage 3 配置
type GroundingConfig struct {
	// MinMaskConfidence 接受轨迹所需的掩码置信度中位数
	MinMaskConfidence float64 `yaml:"min_mask_confidence"`

	// MaxPromptRetries 分解提示词重试上限
	MaxPromptRetries int `yaml:"max_prompt_retries"`
}

// ResolutionConfig Stage 4 配置
type ResolutionConfig struct {
	// ClusterEps 密度聚类的余弦距离半径
	ClusterEps float64 `yaml:"cluster_eps"`

	// ClusterMinPoints 密度聚类的核心点最小邻居数
	ClusterMinPoints int `yaml:"cluster_min_points"`

	// LinkThreshold 人员配对融合分数的链接阈值
	LinkThreshold float64 `yaml:"link_threshold"`

	// 融合权重：嵌入相似度 / 拓扑邻接 / 行程时间可行性 / 时间重叠
	EmbeddingWeight float64 `yaml:"embedding_weight"`
	TopologyWeight  float64 `yaml:"topology_weight"`
	TravelWeight    float64 `yaml:"travel_weight"`
	OverlapWeight   float64 `yaml:"overlap_weight"`

	// MaxTravelSeconds 跨摄像机可行行程时间上限
	MaxTravelSeconds float64 `yaml:"max_travel_seconds"`
}

// TemporalConfig Stage 5 配置
type TemporalConfig struct {
	// SmoothingWindow 滑动平均窗口（采样点数）
	SmoothingWindow int `yaml:"smoothing_window"`

	// 滞回双阈值，要求 low < high 且均在 [0,1]
	HysteresisHigh float64 `yaml:"hysteresis_high"`
	HysteresisLow  float64 `yaml:"hysteresis_low"`

	// OcclusionDip 片段内掩码置信度低于该值时置 occlusion 标志
	OcclusionDip float64 `yaml:"occlusion_dip"`

	// MaxBoundaryDrift 质量门：邻近窗口重算时边界漂移上限（秒）
	MaxBoundaryDrift float64 `yaml:"max_boundary_drift"`
}

// CacheConfig 分层特征缓存配置
type CacheConfig struct {
	// Backend 缓存后端：memory 或 redis
	Backend string `yaml:"backend"`

	// Redis 连接参数（backend=redis 时生效）
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// GraphConfig 图记忆存储配置
type GraphConfig struct {
	// Backend 存储后端：memory 或 sqlite
	Backend string `yaml:"backend"`

	// DSN sqlite 数据库路径（backend=sqlite 时生效）
	DSN string `yaml:"dsn"`
}

// MetricsConfig Prometheus 指标配置
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
	Addr      string `yaml:"addr"`
}

// TelemetryConfig OpenTelemetry 链路追踪配置
type TelemetryConfig struct {
	// Enabled 关闭时使用 noop provider，不建立任何外部连接
	Enabled bool `yaml:"enabled"`

	// ServiceName 上报的 service.name 资源属性
	ServiceName string `yaml:"service_name"`

	// OTLPEndpoint OTLP gRPC collector 地址
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// SampleRate 采样率，[0,1]
	SampleRate float64 `yaml:"sample_rate"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			OutputPath: "stdout",
		},
		Orchestrator: OrchestratorConfig{
			StageTimeout:      30 * time.Second,
			RunTimeout:        5 * time.Minute,
			RetryBudget:       2,
			MaxConcurrentRuns: 8,
			StageParallelism:  4,
		},
		Ingestion: IngestionConfig{
			BGMotionThreshold:   0.55,
			MinCoverage:         0.6,
			MaxDuplicateRate:    0.5,
			SafetyNetConfidence: 0.4,
			DedupOverlapRatio:   0.8,
		},
		Retrieval: RetrievalConfig{
			InitialTopK:    24,
			ValidatedTopK:  4,
			MinConfidence:  0.5,
			PooledWeight:   0.45,
			TimestepWeight: 0.35,
			TokenWeight:    0.20,
		},
		Grounding: GroundingConfig{
			MinMaskConfidence: 0.6,
			MaxPromptRetries:  2,
		},
		Resolution: ResolutionConfig{
			ClusterEps:       0.35,
			ClusterMinPoints: 2,
			LinkThreshold:    0.7,
			EmbeddingWeight:  0.55,
			TopologyWeight:   0.20,
			TravelWeight:     0.15,
			OverlapWeight:    0.10,
			MaxTravelSeconds: 120,
		},
		Temporal: TemporalConfig{
			SmoothingWindow:  3,
			HysteresisHigh:   0.7,
			HysteresisLow:    0.4,
			OcclusionDip:     0.35,
			MaxBoundaryDrift: 1.0,
		},
		Cache: CacheConfig{
			Backend: "memory",
			Addr:    "localhost:6379",
			TTL:     10 * time.Minute,
		},
		Graph: GraphConfig{
			Backend: "memory",
			DSN:     "videorag_graph.db",
		},
		Metrics: MetricsConfig{
			Enabled:   false,
			Namespace: "videorag",
			Addr:      ":9091",
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			ServiceName:  "videorag",
			OTLPEndpoint: "localhost:4317",
			SampleRate:   1.0,
		},
		ModelVersion: "v1",
	}
}

// Validate 校验配置合法性；结构性规则之外不做数值假设
func (c *Config) Validate() error {
	if c.Orchestrator.RetryBudget < 0 {
		return fmt.Errorf("orchestrator.retry_budget must be >= 0, got %d", c.Orchestrator.RetryBudget)
	}
	if c.Orchestrator.MaxConcurrentRuns <= 0 {
		return fmt.Errorf("orchestrator.max_concurrent_runs must be > 0, got %d", c.Orchestrator.MaxConcurrentRuns)
	}
	if c.Orchestrator.StageParallelism <= 0 {
		return fmt.Errorf("orchestrator.stage_parallelism must be > 0, got %d", c.Orchestrator.StageParallelism)
	}
	if c.Orchestrator.StageTimeout <= 0 || c.Orchestrator.RunTimeout <= 0 {
		return fmt.Errorf("orchestrator timeouts must be positive")
	}

	for name, v := range map[string]float64{
		"ingestion.min_coverage":          c.Ingestion.MinCoverage,
		"ingestion.max_duplicate_rate":    c.Ingestion.MaxDuplicateRate,
		"ingestion.safety_net_confidence": c.Ingestion.SafetyNetConfidence,
		"retrieval.min_confidence":        c.Retrieval.MinConfidence,
		"grounding.min_mask_confidence":   c.Grounding.MinMaskConfidence,
		"resolution.link_threshold":       c.Resolution.LinkThreshold,
		"temporal.hysteresis_high":        c.Temporal.HysteresisHigh,
		"temporal.hysteresis_low":         c.Temporal.HysteresisLow,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be in [0,1], got %v", name, v)
		}
	}

	if c.Temporal.HysteresisHigh <= c.Temporal.HysteresisLow {
		return fmt.Errorf("temporal.hysteresis_high (%v) must be greater than temporal.hysteresis_low (%v)",
			c.Temporal.HysteresisHigh, c.Temporal.HysteresisLow)
	}
	if c.Temporal.SmoothingWindow < 1 {
		return fmt.Errorf("temporal.smoothing_window must be >= 1, got %d", c.Temporal.SmoothingWindow)
	}
	if c.Resolution.ClusterEps <= 0 {
		return fmt.Errorf("resolution.cluster_eps must be > 0, got %v", c.Resolution.ClusterEps)
	}
	if c.Resolution.ClusterMinPoints < 1 {
		return fmt.Errorf("resolution.cluster_min_points must be >= 1, got %d", c.Resolution.ClusterMinPoints)
	}

	if c.Retrieval.InitialTopK <= 0 || c.Retrieval.ValidatedTopK <= 0 {
		return fmt.Errorf("retrieval top_k values must be > 0")
	}
	if c.Grounding.MaxPromptRetries < 0 {
		return fmt.Errorf("grounding.max_prompt_retries must be >= 0, got %d", c.Grounding.MaxPromptRetries)
	}

	switch c.Cache.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("cache.backend must be memory or redis, got %q", c.Cache.Backend)
	}
	switch c.Graph.Backend {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("graph.backend must be memory or sqlite, got %q", c.Graph.Backend)
	}

	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		return fmt.Errorf("telemetry.sample_rate must be in [0,1], got %v", c.Telemetry.SampleRate)
	}
	if c.Telemetry.Enabled && c.Telemetry.OTLPEndpoint == "" {
		return fmt.Errorf("telemetry.otlp_endpoint must be set when telemetry is enabled")
	}

	if c.ModelVersion == "" {
		return fmt.Errorf("model_version must not be empty")
	}
	return nil
}
