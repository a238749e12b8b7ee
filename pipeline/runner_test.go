package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/videorag/fixtures"
	"github.com/BaSui01/videorag/types"
)

// =============================================================================
// 🧪 并发运行器测试
// =============================================================================

func TestRunner_RunAllPreservesOrder(t *testing.T) {
	engine := newTestEngine(t)
	runner := NewRunner(engine, zap.NewNop())
	defer runner.Close()

	requests := []types.QueryRequest{
		fixtures.RedSUVRequest(),
		fixtures.AmbiguousPersonRequest(),
		fixtures.RouteCoverageRequest(),
	}

	results, err := runner.RunAll(context.Background(), requests)
	require.NoError(t, err)
	require.Len(t, results, len(requests))

	for i, result := range results {
		require.NotNil(t, result, "result %d missing", i)
		assert.Equal(t, requests[i].QueryID, result.QueryID)
		assert.Equal(t, types.StageDone, result.FinalStage)
	}
}

// 单条失败不影响同批其余运行
func TestRunner_IsolatesPerQueryOutcomes(t *testing.T) {
	engine := newTestEngine(t)
	runner := NewRunner(engine, zap.NewNop())
	defer runner.Close()

	requests := []types.QueryRequest{
		fixtures.RedSUVRequest(),
		{QueryID: "query_empty", QueryText: "find anything"},
	}

	results, err := runner.RunAll(context.Background(), requests)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, types.StageDone, results[0].FinalStage)
	require.NotNil(t, results[1])
	require.NotNil(t, results[1].Synthesis)
	assert.Contains(t, results[1].Synthesis.Summary, "Insufficient verified evidence")
}

func TestRunner_SubmitAfterCloseFails(t *testing.T) {
	engine := newTestEngine(t)
	runner := NewRunner(engine, zap.NewNop())
	runner.Close()

	_, err := runner.RunAll(context.Background(), []types.QueryRequest{fixtures.RedSUVRequest()})
	require.Error(t, err)
}
