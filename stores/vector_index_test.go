package stores

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/videorag/adapters"
	"github.com/BaSui01/videorag/types"
)

// =============================================================================
// 🧪 关键帧索引测试
// =============================================================================

func TestKeyframeIndex_SearchRanksBySimilarity(t *testing.T) {
	idx := NewKeyframeIndex(zap.NewNop())
	ctx := context.Background()

	query := adapters.DeterministicVector("probe")
	near := adapters.Blend(query, adapters.DeterministicVector("off"), 0.95, 0.05)
	far := adapters.DeterministicVector("unrelated")

	require.NoError(t, idx.Add(ctx, []types.KeyframeRecord{
		{FrameID: "frame-far", WindowID: "win-b", Embedding: far},
		{FrameID: "frame-near", WindowID: "win-a", Embedding: near},
	}))

	matches, err := idx.Search(ctx, query, 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "frame-near", matches[0].Record.FrameID)
	assert.Greater(t, matches[0].Score, matches[1].Score)
}

// 相同分数按 frame_id 升序决胜，保证确定性
func TestKeyframeIndex_DeterministicTieBreak(t *testing.T) {
	idx := NewKeyframeIndex(zap.NewNop())
	ctx := context.Background()

	embedding := adapters.DeterministicVector("tied")
	require.NoError(t, idx.Add(ctx, []types.KeyframeRecord{
		{FrameID: "frame-b", Embedding: embedding},
		{FrameID: "frame-a", Embedding: embedding},
		{FrameID: "frame-c", Embedding: embedding},
	}))

	matches, err := idx.Search(ctx, adapters.DeterministicVector("tied"), 3)
	require.NoError(t, err)
	require.Len(t, matches, 3)
	assert.Equal(t, "frame-a", matches[0].Record.FrameID)
	assert.Equal(t, "frame-b", matches[1].Record.FrameID)
	assert.Equal(t, "frame-c", matches[2].Record.FrameID)
}

func TestKeyframeIndex_OverwriteByFrameID(t *testing.T) {
	idx := NewKeyframeIndex(zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, idx.Add(ctx, []types.KeyframeRecord{{
			FrameID:   "frame-1",
			WindowID:  fmt.Sprintf("win-%d", i),
			Embedding: adapters.DeterministicVector("frame"),
		}}))
	}

	assert.Equal(t, 1, idx.Size())
	records := idx.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "win-2", records[0].WindowID)
}

func TestEvidenceRegistry_MergesAndCollects(t *testing.T) {
	registry := NewEvidenceRegistry()

	ref := types.EvidenceRef{
		ClipID:       "clip_1",
		CameraID:     "cam_1",
		FrameRange:   types.FrameRange{TStart: 1, TEnd: 2},
		OverlayURI:   "artifact://clip_1/a.json",
		EmbeddingID:  "EMB-1",
		ModelVersion: "v1",
	}
	registry.Register("track-1", ref)
	registry.Register("track-1", ref) // 重复登记被去重
	registry.Register("track-2", types.EvidenceRef{
		ClipID: "clip_1", CameraID: "cam_1",
		FrameRange: types.FrameRange{TStart: 3, TEnd: 4},
		OverlayURI: "artifact://clip_1/b.json", EmbeddingID: "EMB-2", ModelVersion: "v1",
	})

	assert.Len(t, registry.Lookup("track-1"), 1)
	assert.Len(t, registry.Collect("track-1", "track-2"), 2)
	assert.Empty(t, registry.Lookup("missing"))
}
