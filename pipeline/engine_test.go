package pipeline

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/videorag/adapters"
	"github.com/BaSui01/videorag/fixtures"
	"github.com/BaSui01/videorag/types"
)

// =============================================================================
// 🧪 端到端运行测试
// =============================================================================

func TestEngineRun_RedSUVScenario(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	result, err := engine.Run(ctx, fixtures.RedSUVRequest())
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, types.StageDone, result.FinalStage)
	assert.Empty(t, result.FailureReason)
	require.NotNil(t, result.Synthesis)
	require.NotEmpty(t, result.Synthesis.Claims)

	// 人物实体跨机位合并为单一 resolved 链接
	var person *types.EntityLink
	for i, link := range result.EntityLinks {
		if link.EntityType == types.EntityPerson && link.Resolved {
			person = &result.EntityLinks[i]
		}
	}
	require.NotNil(t, person, "resolved person entity expected")
	assert.GreaterOrEqual(t, len(person.TrackIDs), 2, "person must span multiple tracks")

	// EXITS 与 MOVES_TO 边各至少一条，且每条边都带证据
	var exits, moves int
	for _, edge := range result.GraphEdges {
		require.NotEmpty(t, edge.EvidenceRefs, "edge %s published without evidence", edge.NaturalKey())
		switch edge.Type {
		case types.EdgeExits:
			exits++
		case types.EdgeMovesTo:
			moves++
		}
	}
	assert.GreaterOrEqual(t, exits, 1, "exit relation missing")
	assert.GreaterOrEqual(t, moves, 1, "cross-camera movement relation missing")

	// 每条发布的主张都过了证据门禁
	for _, claim := range result.Synthesis.Claims {
		assert.NotEmpty(t, claim.EvidenceRefs, "claim %s has no evidence", claim.ClaimID)
	}

	// 迁移审计以 done 收束
	require.NotEmpty(t, result.Transitions)
	assert.Equal(t, types.StageDone, result.Transitions[len(result.Transitions)-1].To)
}

// 重放同一查询：图记忆自然键幂等，特征全部命中 L1
func TestEngineRun_ReplayIsIdempotent(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	first, err := engine.Run(ctx, fixtures.RedSUVRequest())
	require.NoError(t, err)
	require.Equal(t, types.StageDone, first.FinalStage)

	nodes, err := engine.Graph().Nodes(ctx)
	require.NoError(t, err)
	edges, err := engine.Graph().Edges(ctx)
	require.NoError(t, err)

	extractor := engine.bundle.Features.(*adapters.LocalFeatureExtractor)
	invocations := extractor.Invocations()

	second, err := engine.Run(ctx, fixtures.RedSUVRequest())
	require.NoError(t, err)
	require.Equal(t, types.StageDone, second.FinalStage)

	nodesAfter, err := engine.Graph().Nodes(ctx)
	require.NoError(t, err)
	edgesAfter, err := engine.Graph().Edges(ctx)
	require.NoError(t, err)

	assert.Equal(t, len(nodes), len(nodesAfter), "replay must not duplicate nodes")
	assert.Equal(t, len(edges), len(edgesAfter), "replay must not duplicate edges")
	assert.Equal(t, invocations, extractor.Invocations(), "replay must reuse cached features")
	assert.Greater(t, second.Metrics.CacheHits, int64(0))
}

// 歧义人物：不可达拓扑下绝不编造跨机位连续性
func TestEngineRun_AmbiguousPersonStaysHonest(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	result, err := engine.Run(ctx, fixtures.AmbiguousPersonRequest())
	require.NoError(t, err)
	require.Equal(t, types.StageDone, result.FinalStage)

	// 人物链接保持 unresolved
	require.NotEmpty(t, result.Unresolved())
	for _, link := range result.EntityLinks {
		if link.EntityType == types.EntityPerson {
			assert.False(t, link.Resolved)
		}
	}

	// 未解析实体不得产生移动主张
	for _, edge := range result.GraphEdges {
		assert.NotEqual(t, types.EdgeMovesTo, edge.Type, "movement claim fabricated for unresolved person")
	}

	// 连续性缺口以遮蔽通告浮出
	require.NotNil(t, result.Synthesis)
	found := false
	for _, notice := range result.Synthesis.Redactions {
		if strings.Contains(notice.Reason, "continuity") {
			found = true
		}
	}
	assert.True(t, found, "continuity redaction notice expected")

	// 无可验证主张时输出保守答复
	if len(result.Synthesis.Claims) == 0 {
		assert.Contains(t, result.Synthesis.Summary, "Insufficient verified evidence")
	}
}

// 空请求：门禁沿阶梯降到底后以保守的 insufficient evidence 收束，
// 而不是编造内容或抛裸错误
func TestEngineRun_NoClipsDegradesToConservativeAnswer(t *testing.T) {
	engine := newTestEngine(t)

	result, err := engine.Run(context.Background(), types.QueryRequest{
		QueryID:   "query_empty",
		QueryText: "find anything",
	})
	require.NoError(t, err, "degraded run must still produce a structured result")
	require.NotNil(t, result)

	assert.Equal(t, types.StageDone, result.FinalStage)
	assert.NotEmpty(t, result.DegradedStages)
	require.NotNil(t, result.Synthesis)
	assert.Empty(t, result.Synthesis.Claims)
	assert.Contains(t, result.Synthesis.Summary, "Insufficient verified evidence")
}

func TestEngineRun_AssignsQueryID(t *testing.T) {
	engine := newTestEngine(t)

	req := fixtures.RedSUVRequest()
	req.QueryID = ""
	result, err := engine.Run(context.Background(), req)
	require.NoError(t, err)
	assert.NotEmpty(t, result.QueryID)
}
