package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/videorag/adapters"
	"github.com/BaSui01/videorag/stores"
	"github.com/BaSui01/videorag/types"
)

// =============================================================================
// 🔎 阶段二：时序检索与重排
// =============================================================================
// 关键帧粗检回收候选窗口，窗口级特征经缓存读穿后做三路融合打分：
// 池化相似 0.45 + 最佳时间步相似 0.35 + 语义 token 重叠 0.20。
// 验证不足时先分解查询重试，仍为空则按片段多样性降级补位。

// stageRetrieve 执行时序检索
func (e *Engine) stageRetrieve(ctx context.Context, st *RunState, mode Mode) error {
	queryEmbedding, _, err := adapters.Invoke(ctx, e.invoker, "frame_embedder",
		func(c context.Context) ([]float64, float64, error) {
			return e.bundle.Frames.EmbedText(c, st.Request.QueryText)
		})
	if err != nil {
		return types.NewError(types.ErrAdapterUnavailable, "query embedding failed").
			WithStage(types.StageRetrieve).WithCause(err)
	}

	hits, err := e.index.Search(ctx, queryEmbedding, e.cfg.Retrieval.InitialTopK)
	if err != nil {
		return types.NewError(types.ErrStoreUnavailable, "keyframe search failed").
			WithStage(types.StageRetrieve).WithCause(err)
	}

	windowsByID := make(map[string]types.Window, len(st.ActiveWindows))
	for _, window := range st.ActiveWindows {
		windowsByID[window.WindowID] = window
	}

	var candidateIDs []string
	seen := make(map[string]bool)
	for _, hit := range hits {
		id := hit.Record.WindowID
		if seen[id] {
			continue
		}
		if _, ok := windowsByID[id]; !ok {
			continue
		}
		seen[id] = true
		candidateIDs = append(candidateIDs, id)
	}

	scored, err := e.scoreWindows(ctx, st, candidateIDs, windowsByID, st.Request.QueryText)
	if err != nil {
		return err
	}
	st.CandidateWindows = scored

	threshold := e.cfg.Retrieval.MinConfidence
	var validated []ScoredWindow
	for _, sw := range scored {
		if sw.Score >= threshold {
			validated = append(validated, sw)
		}
	}

	// 分解重试：子查询用放宽的阈值补召回
	if mode == ModeDecomposed || mode == ModeFallback || len(validated) == 0 {
		relaxed := threshold - 0.15
		if relaxed < 0.35 {
			relaxed = 0.35
		}
		for _, variant := range decomposeQuery(st.Request.QueryText)[1:] {
			st.DecomposedTerms = append(st.DecomposedTerms, variant)
			rescored, err := e.scoreWindows(ctx, st, candidateIDs, windowsByID, variant)
			if err != nil {
				return err
			}
			for _, sw := range rescored {
				if sw.Score >= relaxed {
					validated = append(validated, sw)
				}
			}
		}
	}

	// 降级：每片段保底一个最佳窗口
	if len(validated) == 0 && (mode == ModeDegraded || mode == ModeFallback) {
		bestByClip := make(map[string]ScoredWindow)
		for _, sw := range scored {
			if best, ok := bestByClip[sw.Window.ClipID]; !ok || sw.Score > best.Score {
				bestByClip[sw.Window.ClipID] = sw
			}
		}
		for _, sw := range bestByClip {
			validated = append(validated, sw)
		}
	}

	top := selectDiverse(dedupeScored(validated), e.cfg.Retrieval.ValidatedTopK)
	for i := range top {
		// 融合分回写窗口置信度，输出侧只看 Window 不看 ScoredWindow
		top[i].Window.Confidence = top[i].Score
	}
	st.ValidatedWindows = top

	if len(st.ValidatedWindows) == 0 {
		if mode == ModeDegraded {
			st.MarkDegraded(types.StageRetrieve)
			return nil
		}
		return types.NewError(types.ErrGateFailure,
			fmt.Sprintf("no window passed validation floor %.2f", threshold)).
			WithStage(types.StageRetrieve)
	}

	e.logger.Info("检索验证完成",
		zap.String("run_id", st.RunID),
		zap.Int("candidates", len(scored)),
		zap.Int("validated", len(st.ValidatedWindows)))
	return nil
}

// scoreWindows 并发抽取窗口特征并做三路融合打分。
// 结果按分数降序、window_id 升序排序，保证确定性。
func (e *Engine) scoreWindows(ctx context.Context, st *RunState, candidateIDs []string, windowsByID map[string]types.Window, queryText string) ([]ScoredWindow, error) {
	queryTokens := adapters.Tokenize(queryText)
	alignEmbedding, _, err := adapters.Invoke(ctx, e.invoker, "text_aligner",
		func(c context.Context) ([]float64, float64, error) {
			return e.bundle.Text.AlignText(c, queryText)
		})
	if err != nil {
		return nil, types.NewError(types.ErrAdapterUnavailable, "text alignment failed").
			WithStage(types.StageRetrieve).WithCause(err)
	}

	clipsByID := make(map[string]types.Clip, len(st.Request.Clips))
	for _, clip := range st.Request.Clips {
		clipsByID[clip.ClipID] = clip
	}

	results := make([]ScoredWindow, len(candidateIDs))
	valid := make([]bool, len(candidateIDs))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(e.cfg.Orchestrator.StageParallelism)
	var mu sync.Mutex

	for i, windowID := range candidateIDs {
		i, windowID := i, windowID
		group.Go(func() error {
			window, ok := windowsByID[windowID]
			if !ok {
				return nil
			}

			features, err := e.windowFeatures(groupCtx, st, window, clipsByID[window.ClipID])
			if err != nil {
				return err
			}

			pooledSim := adapters.CosineUnit(alignEmbedding, features.PooledEmbedding)
			stepSim := 0.0
			for _, step := range features.TimestepFeatures {
				if sim := adapters.CosineUnit(alignEmbedding, step); sim > stepSim {
					stepSim = sim
				}
			}
			tokenSim := adapters.OverlapScore(queryTokens, features.SemanticTokens)
			score := e.cfg.Retrieval.PooledWeight*pooledSim +
				e.cfg.Retrieval.TimestepWeight*stepSim +
				e.cfg.Retrieval.TokenWeight*tokenSim

			mu.Lock()
			results[i] = ScoredWindow{
				Window:    window,
				Features:  features,
				Score:     score,
				PooledSim: pooledSim,
				StepSim:   stepSim,
				TokenSim:  tokenSim,
			}
			valid[i] = true
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	var scored []ScoredWindow
	for i, ok := range valid {
		if ok {
			scored = append(scored, results[i])
		}
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Window.WindowID < scored[j].Window.WindowID
	})
	return scored, nil
}

// windowFeatures L1 缓存读穿：命中直接返回，未命中调用特征抽取并回填
func (e *Engine) windowFeatures(ctx context.Context, st *RunState, window types.Window, clip types.Clip) (types.WindowFeatures, error) {
	features, err := e.cache.GetL1(ctx, window.WindowID, e.cfg.ModelVersion)
	if err == nil {
		st.Metrics.CacheHits++
		if e.collector != nil {
			e.collector.IncCacheHit("l1")
		}
		return features, nil
	}
	if !errors.Is(err, stores.ErrCacheMiss) {
		return types.WindowFeatures{}, types.NewError(types.ErrStoreUnavailable, "feature cache read failed").
			WithStage(types.StageRetrieve).WithCause(err)
	}
	st.Metrics.CacheMisses++
	if e.collector != nil {
		e.collector.IncCacheMiss("l1")
	}

	features, _, err = adapters.Invoke(ctx, e.invoker, "feature_extractor",
		func(c context.Context) (types.WindowFeatures, float64, error) {
			return e.bundle.Features.ExtractWindowFeatures(c, window, clip)
		})
	if err != nil {
		return types.WindowFeatures{}, types.NewError(types.ErrAdapterUnavailable, "window feature extraction failed").
			WithStage(types.StageRetrieve).WithCause(err)
	}
	features.ModelVersion = e.cfg.ModelVersion

	if err := e.cache.SetL1(ctx, features); err != nil {
		e.logger.Warn("L1 缓存写入失败", zap.String("window_id", window.WindowID), zap.Error(err))
	}
	return features, nil
}

// dedupeScored 同窗口保留最高分
func dedupeScored(scored []ScoredWindow) []ScoredWindow {
	best := make(map[string]ScoredWindow)
	for _, sw := range scored {
		if existing, ok := best[sw.Window.WindowID]; !ok || sw.Score > existing.Score {
			best[sw.Window.WindowID] = sw
		}
	}
	out := make([]ScoredWindow, 0, len(best))
	for _, sw := range best {
		out = append(out, sw)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Window.WindowID < out[j].Window.WindowID
	})
	return out
}

// selectDiverse 先保证片段多样性，再按置信度补满 topK
func selectDiverse(ranked []ScoredWindow, topK int) []ScoredWindow {
	if topK <= 0 {
		return ranked
	}

	var selected []ScoredWindow
	seenClips := make(map[string]bool)
	picked := make(map[string]bool)

	for _, sw := range ranked {
		if seenClips[sw.Window.ClipID] {
			continue
		}
		selected = append(selected, sw)
		seenClips[sw.Window.ClipID] = true
		picked[sw.Window.WindowID] = true
		if len(selected) >= topK {
			return selected
		}
	}
	for _, sw := range ranked {
		if len(selected) >= topK {
			break
		}
		if picked[sw.Window.WindowID] {
			continue
		}
		selected = append(selected, sw)
		picked[sw.Window.WindowID] = true
	}
	return selected
}
