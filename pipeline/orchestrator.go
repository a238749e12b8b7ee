package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/videorag/adapters"
	"github.com/BaSui01/videorag/config"
	"github.com/BaSui01/videorag/internal/metrics"
	"github.com/BaSui01/videorag/stores"
	"github.com/BaSui01/videorag/types"
)

// =============================================================================
// 🚦 编排引擎
// =============================================================================
// 前向推进的阶段状态机。每个阶段有出口门禁；门禁失败沿
// primary → decomposed → fallback → degraded 阶梯升级，预算耗尽
// 且无法降级时运行以显式 failed 终态结束，绝不静默编造结果。

// Engine 查询管道编排引擎
type Engine struct {
	cfg       *config.Config
	bundle    *adapters.Bundle
	invoker   *adapters.Invoker
	cache     stores.FeatureCache
	index     *stores.KeyframeIndex
	artifacts stores.ArtifactStore
	graph     stores.GraphStore
	collector *metrics.Collector
	tracer    trace.Tracer
	logger    *zap.Logger
}

// Options 引擎外部依赖
type Options struct {
	Config    *config.Config
	Bundle    *adapters.Bundle
	Cache     stores.FeatureCache
	Graph     stores.GraphStore
	Artifacts stores.ArtifactStore
	Collector *metrics.Collector
	Logger    *zap.Logger
}

// NewEngine 创建编排引擎
func NewEngine(opts Options) (*Engine, error) {
	if opts.Config == nil {
		return nil, types.NewError(types.ErrInvalidConfig, "engine requires a config")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	bundle := opts.Bundle
	if bundle == nil {
		bundle = adapters.NewLocalBundle(opts.Config.ModelVersion, logger)
	}
	cache := opts.Cache
	if cache == nil {
		cache = stores.NewMemoryFeatureCache(logger)
	}
	graph := opts.Graph
	if graph == nil {
		graph = stores.NewMemoryGraphStore(logger)
	}
	artifacts := opts.Artifacts
	if artifacts == nil {
		artifacts = stores.NewMemoryArtifactStore(logger)
	}

	return &Engine{
		cfg:       opts.Config,
		bundle:    bundle,
		invoker:   adapters.NewInvoker(adapters.DefaultResilienceConfig(), logger),
		cache:     cache,
		index:     stores.NewKeyframeIndex(logger),
		artifacts: artifacts,
		graph:     graph,
		collector: opts.Collector,
		tracer:    otel.Tracer("videorag/pipeline"),
		logger:    logger.With(zap.String("component", "engine")),
	}, nil
}

// Graph 暴露图记忆（查询校验与测试用）
func (e *Engine) Graph() stores.GraphStore { return e.graph }

// Cache 暴露特征缓存
func (e *Engine) Cache() stores.FeatureCache { return e.cache }

type stageFunc func(ctx context.Context, st *RunState, mode Mode) error

// Run 执行一次完整查询运行。
// 任何结局都返回结构化 RunResult；error 仅在结果无法构造时返回。
func (e *Engine) Run(ctx context.Context, req types.QueryRequest) (*types.RunResult, error) {
	if req.QueryID == "" {
		req.QueryID = uuid.NewString()
	}
	runID := uuid.NewString()
	st := NewRunState(runID, req)

	runCtx := ctx
	cancel := func() {}
	if e.cfg.Orchestrator.RunTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, e.cfg.Orchestrator.RunTimeout)
	}
	defer cancel()

	runCtx, span := e.tracer.Start(runCtx, "pipeline.run",
		trace.WithAttributes(
			attribute.String("run_id", runID),
			attribute.String("query_id", req.QueryID),
		))
	defer span.End()

	e.logger.Info("运行开始",
		zap.String("run_id", runID),
		zap.String("query_id", req.QueryID),
		zap.String("query", req.QueryText))

	stageFns := map[types.Stage]stageFunc{
		types.StageIngest:     e.stageIngest,
		types.StageRetrieve:   e.stageRetrieve,
		types.StageGround:     e.stageGround,
		types.StageResolve:    e.stageResolve,
		types.StageLocalize:   e.stageLocalize,
		types.StageMemorize:   e.stageMemorize,
		types.StageSynthesize: e.stageSynthesize,
	}

	prev := types.Stage("")
	for _, stage := range types.PipelineStages {
		if err := st.CheckContract(stage); err != nil {
			return e.fail(st, stage, err), nil
		}
		st.RecordTransition(prev, stage, "advance")

		if err := e.runStage(runCtx, st, stage, stageFns[stage]); err != nil {
			return e.fail(st, stage, err), nil
		}
		prev = stage
	}

	st.RecordTransition(prev, types.StageDone, "complete")
	if e.collector != nil {
		e.collector.IncRun(string(types.StageDone))
	}
	e.logger.Info("运行完成",
		zap.String("run_id", runID),
		zap.Int("claims", claimCount(st)),
		zap.Int("degraded_stages", len(st.DegradedStages)))
	return st.Result(types.StageDone), nil
}

// runStage 带门禁阶梯地执行单个阶段
func (e *Engine) runStage(ctx context.Context, st *RunState, stage types.Stage, fn stageFunc) error {
	mode := ModePrimary
	gateFailures := 0
	transientRetries := 0

	for {
		if err := ctx.Err(); err != nil {
			return types.NewError(types.ErrRunTimeout, "run aborted").WithStage(stage).WithCause(err)
		}

		stageCtx := ctx
		cancel := func() {}
		if e.cfg.Orchestrator.StageTimeout > 0 {
			stageCtx, cancel = context.WithTimeout(ctx, e.cfg.Orchestrator.StageTimeout)
		}

		start := time.Now()
		stageCtx, span := e.tracer.Start(stageCtx, "pipeline."+string(stage),
			trace.WithAttributes(attribute.String("mode", string(mode))))
		err := fn(stageCtx, st, mode)
		span.End()
		cancel()

		elapsed := time.Since(start)
		st.Metrics.StageDurations[stage] += elapsed
		if e.collector != nil {
			e.collector.ObserveStageDuration(string(stage), elapsed)
		}

		if err == nil {
			if mode == ModeDegraded {
				st.MarkDegraded(stage)
				st.RecordTransition(stage, stage, "degraded")
			}
			return nil
		}

		switch {
		case types.IsGateFailure(err):
			gateFailures++
			st.Metrics.StageRetries[stage]++
			if e.collector != nil {
				e.collector.IncGateFailure(string(stage))
				e.collector.IncStageRetry(string(stage), string(mode))
			}
			next, ok := e.escalate(stage, mode, gateFailures)
			if !ok {
				return err
			}
			e.logger.Warn("门禁失败，升级执行模式",
				zap.String("run_id", st.RunID),
				zap.String("stage", string(stage)),
				zap.String("from", string(mode)),
				zap.String("to", string(next)),
				zap.Error(err))
			st.RecordTransition(stage, stage, "gate_failure:"+string(next))
			mode = next

		case types.IsRetryable(err) && transientRetries < e.cfg.Orchestrator.RetryBudget:
			transientRetries++
			st.Metrics.StageRetries[stage]++
			if e.collector != nil {
				e.collector.IncStageRetry(string(stage), "transient")
			}
			e.logger.Warn("阶段瞬时失败，重试",
				zap.String("run_id", st.RunID),
				zap.String("stage", string(stage)),
				zap.Int("attempt", transientRetries),
				zap.Error(err))

		default:
			return err
		}
	}
}

// escalate 返回门禁失败后的下一执行模式。
// 梯度受重试预算约束；降级是最后一级，降级仍失败则运行终止。
func (e *Engine) escalate(stage types.Stage, current Mode, gateFailures int) (Mode, bool) {
	if gateFailures > e.cfg.Orchestrator.RetryBudget+1 {
		return current, false
	}
	switch current {
	case ModePrimary:
		if stageSupportsDecompose(stage) {
			return ModeDecomposed, true
		}
		return ModeFallback, true
	case ModeDecomposed:
		return ModeFallback, true
	case ModeFallback:
		return ModeDegraded, true
	default:
		return current, false
	}
}

func stageSupportsDecompose(stage types.Stage) bool {
	return stage == types.StageRetrieve || stage == types.StageGround
}

// fail 以显式失败终态收束运行
func (e *Engine) fail(st *RunState, stage types.Stage, err error) *types.RunResult {
	st.FailureReason = err.Error()
	st.RecordTransition(stage, types.StageFailed, err.Error())
	if e.collector != nil {
		e.collector.IncRun(string(types.StageFailed))
	}
	e.logger.Error("运行失败",
		zap.String("run_id", st.RunID),
		zap.String("stage", string(stage)),
		zap.Error(err))
	return st.Result(types.StageFailed)
}

func claimCount(st *RunState) int {
	if st.Synthesis == nil {
		return 0
	}
	return len(st.Synthesis.Claims)
}
