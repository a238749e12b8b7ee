package pipeline

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/BaSui01/videorag/internal/ident"
	"github.com/BaSui01/videorag/types"
)

// =============================================================================
// 🕸️ 阶段六：图记忆写入
// =============================================================================
// 实体、轨迹、摄像机落为节点，跨实体关系落为带证据的边。写入走
// 自然键幂等合并，重放不产生重复。证据不完整的边被拒绝时只阻断
// 对应关系并记录遮蔽通告，其余写入照常进行。

// stageMemorize 执行图记忆写入
func (e *Engine) stageMemorize(ctx context.Context, st *RunState, mode Mode) error {
	trackByID := make(map[string]types.Tracklet, len(st.GroundedTracks))
	for _, track := range st.GroundedTracks {
		trackByID[track.TrackID] = track
	}
	linkByTrack := make(map[string]types.EntityLink)
	for _, link := range st.EntityLinks {
		for _, trackID := range link.TrackIDs {
			linkByTrack[trackID] = link
		}
	}

	var nodes []types.GraphNode
	for _, link := range st.EntityLinks {
		nodeType := types.NodeObject
		if link.EntityType == types.EntityPerson {
			nodeType = types.NodePerson
		}
		nodes = append(nodes, types.GraphNode{
			Type:  nodeType,
			ID:    link.EntityID,
			Label: link.Label,
			Properties: map[string]any{
				"resolved": link.Resolved,
			},
			Confidence: link.Confidence,
		})
	}
	for _, track := range st.GroundedTracks {
		nodes = append(nodes, types.GraphNode{
			Type:  types.NodeTrack,
			ID:    track.TrackID,
			Label: track.Label,
			Properties: map[string]any{
				"clip_id":   track.ClipID,
				"camera_id": track.CameraID,
			},
			Confidence: track.MedianConfidence,
		})
		nodes = append(nodes, types.GraphNode{
			Type:       types.NodeCamera,
			ID:         track.CameraID,
			Label:      track.CameraID,
			Confidence: 1.0,
		})
	}

	for _, node := range nodes {
		if err := e.graph.UpsertNode(ctx, node); err != nil {
			return types.NewError(types.ErrStoreUnavailable, "graph node upsert failed").
				WithStage(types.StageMemorize).WithCause(err)
		}
	}

	edges := e.buildExitEdges(st, trackByID, linkByTrack)
	edges = append(edges, e.buildMovementEdges(st, trackByID)...)

	var accepted []types.GraphEdge
	for _, edge := range edges {
		if err := e.graph.UpsertEdge(ctx, edge); err != nil {
			if types.GetErrorCode(err) == types.ErrEvidenceIncomplete {
				// 只阻断该关系，不拖垮整个阶段
				st.BlockedClaims = append(st.BlockedClaims, types.RedactionNotice{
					ClaimID: ident.StableID("CLAIM", edge.NaturalKey()),
					Reason:  "edge rejected: " + err.Error(),
				})
				e.logger.Warn("图边缺证据被拒绝",
					zap.String("run_id", st.RunID),
					zap.String("edge", edge.NaturalKey()))
				continue
			}
			return types.NewError(types.ErrStoreUnavailable, "graph edge upsert failed").
				WithStage(types.StageMemorize).WithCause(err)
		}
		accepted = append(accepted, edge)
	}

	storedNodes, err := e.graph.Nodes(ctx)
	if err != nil {
		return types.NewError(types.ErrStoreUnavailable, "graph node read failed").
			WithStage(types.StageMemorize).WithCause(err)
	}
	st.GraphNodes = storedNodes
	st.GraphEdges = accepted

	if mode == ModeDegraded && len(accepted) == 0 {
		st.MarkDegraded(types.StageMemorize)
	}
	e.logger.Info("图记忆写入完成",
		zap.String("run_id", st.RunID),
		zap.Int("nodes", len(storedNodes)),
		zap.Int("edges", len(accepted)))
	return nil
}

// buildExitEdges 从离车区段构造 EXITS 边：人物实体 → 同窗口物体实体
func (e *Engine) buildExitEdges(st *RunState, trackByID map[string]types.Tracklet, linkByTrack map[string]types.EntityLink) []types.GraphEdge {
	var edges []types.GraphEdge
	for _, segment := range st.TemporalSegments {
		personLink, ok := linkByTrack[segment.TrackID]
		if !ok || personLink.EntityType != types.EntityPerson {
			continue
		}
		personTrack, ok := trackByID[segment.TrackID]
		if !ok {
			continue
		}

		var objectLink *types.EntityLink
		for _, track := range st.GroundedTracks {
			if track.ClipID != segment.ClipID || track.WindowID != personTrack.WindowID {
				continue
			}
			if track.EntityType != types.EntityObject {
				continue
			}
			if link, ok := linkByTrack[track.TrackID]; ok {
				objectLink = &link
				break
			}
		}
		if objectLink == nil {
			continue
		}

		evidence := st.Evidence.Collect(segment.TrackID, segment.SegmentID)
		edges = append(edges, types.GraphEdge{
			Type:         types.EdgeExits,
			From:         personLink.EntityID,
			To:           objectLink.EntityID,
			CameraID:     segment.CameraID,
			TStart:       segment.TStart,
			TEnd:         segment.TEnd,
			Confidence:   segment.Confidence,
			EvidenceRefs: evidence,
		})
	}
	return edges
}

// buildMovementEdges 为已解析的人物实体构造跨机位 MOVES_TO 边。
// unresolved 链接不产生移动主张，留给叙述阶段如实陈述不确定性。
func (e *Engine) buildMovementEdges(st *RunState, trackByID map[string]types.Tracklet) []types.GraphEdge {
	var edges []types.GraphEdge
	for _, link := range st.EntityLinks {
		if link.EntityType != types.EntityPerson || !link.Resolved {
			continue
		}

		var linked []types.Tracklet
		for _, trackID := range link.TrackIDs {
			if track, ok := trackByID[trackID]; ok {
				linked = append(linked, track)
			}
		}
		sort.Slice(linked, func(i, j int) bool {
			if linked[i].TStart != linked[j].TStart {
				return linked[i].TStart < linked[j].TStart
			}
			return linked[i].CameraID < linked[j].CameraID
		})

		for i := 1; i < len(linked); i++ {
			prev, curr := linked[i-1], linked[i]
			if prev.CameraID == curr.CameraID {
				continue
			}
			evidence := st.Evidence.Collect(curr.TrackID, link.EntityID)
			edges = append(edges, types.GraphEdge{
				Type:         types.EdgeMovesTo,
				From:         link.EntityID,
				To:           curr.CameraID,
				CameraID:     curr.CameraID,
				TStart:       curr.TStart,
				TEnd:         curr.TEnd,
				Confidence:   0.8,
				EvidenceRefs: evidence,
			})
		}
	}
	return edges
}
