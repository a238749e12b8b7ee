// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// 阶段指标
	stageDuration *prometheus.HistogramVec
	stageRetries  *prometheus.CounterVec
	gateFailures  *prometheus.CounterVec

	// 适配器指标
	adapterCalls    *prometheus.CounterVec
	adapterFailures *prometheus.CounterVec

	// 缓存指标
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// 运行与证据指标
	runsTotal      *prometheus.CounterVec
	claimsEmitted  prometheus.Counter
	claimsRedacted prometheus.Counter

	logger *zap.Logger
}

// NewCollector 创建指标收集器并注册到给定 Registerer
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.stageDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	c.stageRetries = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_retries_total",
			Help:      "Total number of stage retry attempts",
		},
		[]string{"stage", "mode"},
	)

	c.gateFailures = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_failures_total",
			Help:      "Total number of stage quality gate failures",
		},
		[]string{"stage"},
	)

	c.adapterCalls = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "adapter_invocations_total",
			Help:      "Total number of capability adapter invocations",
		},
		[]string{"adapter"},
	)

	c.adapterFailures = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "adapter_failures_total",
			Help:      "Total number of capability adapter failures",
		},
		[]string{"adapter", "code"},
	)

	c.cacheHits = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of feature cache hits",
		},
		[]string{"tier"},
	)

	c.cacheMisses = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of feature cache misses",
		},
		[]string{"tier"},
	)

	c.runsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of pipeline runs by final stage",
		},
		[]string{"final_stage"},
	)

	c.claimsEmitted = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claims_emitted_total",
			Help:      "Total number of evidence-backed claims emitted",
		},
	)

	c.claimsRedacted = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claims_redacted_total",
			Help:      "Total number of claims redacted for missing evidence",
		},
	)

	return c
}

// ObserveStageDuration 记录阶段耗时
func (c *Collector) ObserveStageDuration(stage string, d time.Duration) {
	c.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// IncStageRetry 记录一次阶段重试（mode: decompose / fallback）
func (c *Collector) IncStageRetry(stage, mode string) {
	c.stageRetries.WithLabelValues(stage, mode).Inc()
}

// IncGateFailure 记录一次质量门失败
func (c *Collector) IncGateFailure(stage string) {
	c.gateFailures.WithLabelValues(stage).Inc()
}

// IncAdapterCall 记录一次适配器调用
func (c *Collector) IncAdapterCall(adapter string) {
	c.adapterCalls.WithLabelValues(adapter).Inc()
}

// IncAdapterFailure 记录一次适配器失败
func (c *Collector) IncAdapterFailure(adapter, code string) {
	c.adapterFailures.WithLabelValues(adapter, code).Inc()
}

// IncCacheHit 记录一次缓存命中
func (c *Collector) IncCacheHit(tier string) {
	c.cacheHits.WithLabelValues(tier).Inc()
}

// IncCacheMiss 记录一次缓存未命中
func (c *Collector) IncCacheMiss(tier string) {
	c.cacheMisses.WithLabelValues(tier).Inc()
}

// IncRun 记录一次运行结束
func (c *Collector) IncRun(finalStage string) {
	c.runsTotal.WithLabelValues(finalStage).Inc()
}

// AddClaims 记录发出与被拒绝的 claim 数
func (c *Collector) AddClaims(emitted, redacted int) {
	c.claimsEmitted.Add(float64(emitted))
	c.claimsRedacted.Add(float64(redacted))
}
