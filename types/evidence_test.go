package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

// =============================================================================
// 🧪 证据引用测试
// =============================================================================

func ref(clipID string, tStart, tEnd float64) EvidenceRef {
	return EvidenceRef{
		ClipID:       clipID,
		CameraID:     "cam_1",
		FrameRange:   FrameRange{TStart: tStart, TEnd: tEnd},
		OverlayURI:   "artifact://" + clipID + "/overlay.json",
		EmbeddingID:  "EMB-" + clipID,
		ModelVersion: "v1",
	}
}

func TestMergeEvidence_DeduplicatesByKey(t *testing.T) {
	existing := []EvidenceRef{ref("clip_a", 1, 2)}
	incoming := []EvidenceRef{ref("clip_a", 1, 2), ref("clip_b", 3, 4)}

	merged := MergeEvidence(existing, incoming)

	assert.Len(t, merged, 2)
	assert.Equal(t, "clip_a", merged[0].ClipID)
	assert.Equal(t, "clip_b", merged[1].ClipID)
}

func TestMergeEvidence_PreservesOrder(t *testing.T) {
	existing := []EvidenceRef{ref("clip_c", 5, 6), ref("clip_a", 1, 2)}
	merged := MergeEvidence(existing, []EvidenceRef{ref("clip_b", 3, 4)})

	assert.Equal(t, []string{"clip_c", "clip_a", "clip_b"},
		[]string{merged[0].ClipID, merged[1].ClipID, merged[2].ClipID})
}

// 合并是幂等的：再次合入同一批引用不改变结果
func TestProperty_MergeEvidence_Idempotent(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 10).Draw(rt, "n")
		var refs []EvidenceRef
		for i := 0; i < n; i++ {
			clip := rapid.SampledFrom([]string{"clip_a", "clip_b", "clip_c"}).Draw(rt, "clip")
			start := float64(rapid.IntRange(0, 5).Draw(rt, "start"))
			refs = append(refs, ref(clip, start, start+1))
		}

		once := MergeEvidence(nil, refs)
		twice := MergeEvidence(once, refs)

		assert.Equal(rt, once, twice)
	})
}

func TestGraphEdge_NaturalKeyBucketsTime(t *testing.T) {
	a := GraphEdge{Type: EdgeExits, From: "PER-1", To: "OBJ-1", TStart: 10.2}
	b := GraphEdge{Type: EdgeExits, From: "PER-1", To: "OBJ-1", TStart: 10.9}
	c := GraphEdge{Type: EdgeExits, From: "PER-1", To: "OBJ-1", TStart: 11.1}

	assert.Equal(t, a.NaturalKey(), b.NaturalKey())
	assert.NotEqual(t, a.NaturalKey(), c.NaturalKey())
}

func TestGraphNode_NaturalKey(t *testing.T) {
	node := GraphNode{Type: NodePerson, ID: "PER-1"}
	other := GraphNode{Type: NodeObject, ID: "PER-1"}

	assert.NotEqual(t, node.NaturalKey(), other.NaturalKey())
}
