package pipeline

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/videorag/internal/pool"
	"github.com/BaSui01/videorag/types"
)

// =============================================================================
// 🏃 并发运行器
// =============================================================================
// 多条查询共享一个引擎与工作池并发执行。缓存、索引与图记忆是
// 共享资产，幂等写入保证并发重放安全。

// Runner 并发查询运行器
type Runner struct {
	engine *Engine
	pool   *pool.WorkerPool
	logger *zap.Logger
}

// NewRunner 创建并发运行器
func NewRunner(engine *Engine, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	workers := engine.cfg.Orchestrator.MaxConcurrentRuns
	if workers <= 0 {
		workers = 1
	}
	return &Runner{
		engine: engine,
		pool:   pool.New(workers),
		logger: logger.With(zap.String("component", "runner")),
	}
}

// RunAll 并发执行一批查询，结果按输入顺序返回。
// 单条运行的失败落在其 RunResult 中，不影响同批其余运行。
func (r *Runner) RunAll(ctx context.Context, requests []types.QueryRequest) ([]*types.RunResult, error) {
	results := make([]*types.RunResult, len(requests))
	var wg sync.WaitGroup

	for i, req := range requests {
		i, req := i, req
		wg.Add(1)
		err := r.pool.Submit(ctx, func(taskCtx context.Context) {
			defer wg.Done()
			result, err := r.engine.Run(taskCtx, req)
			if err != nil {
				r.logger.Error("运行器内部错误",
					zap.String("query_id", req.QueryID),
					zap.Error(err))
				result = &types.RunResult{
					QueryID:       req.QueryID,
					QueryText:     req.QueryText,
					FinalStage:    types.StageFailed,
					FailureReason: err.Error(),
					Metrics:       types.NewStageMetrics(),
				}
			}
			results[i] = result
		})
		if err != nil {
			wg.Done()
			return nil, err
		}
	}

	wg.Wait()
	return results, nil
}

// Close 关闭底层工作池
func (r *Runner) Close() {
	r.pool.Close()
}
