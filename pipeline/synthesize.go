package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/videorag/adapters"
	"github.com/BaSui01/videorag/internal/ident"
	"github.com/BaSui01/videorag/types"
)

// =============================================================================
// 📝 阶段七：证据门禁叙述
// =============================================================================
// 每条主张由一条图边支撑，发布前强制证据门禁：无证据引用或涉及
// 未解析实体的主张被遮蔽成显式通告，绝不静默丢弃。全部被遮蔽时
// 输出保守的 insufficient evidence 答复。

// stageSynthesize 执行叙述合成
func (e *Engine) stageSynthesize(ctx context.Context, st *RunState, mode Mode) error {
	resolvedByID := make(map[string]bool, len(st.EntityLinks))
	for _, link := range st.EntityLinks {
		resolvedByID[link.EntityID] = link.Resolved
	}

	var claims []types.Claim
	redactions := append([]types.RedactionNotice(nil), st.BlockedClaims...)

	for _, edge := range st.GraphEdges {
		claim := claimFromEdge(edge)

		if len(claim.EvidenceRefs) == 0 {
			redactions = append(redactions, types.RedactionNotice{
				ClaimID: claim.ClaimID,
				Reason:  "no evidence reference attached",
			})
			continue
		}
		if blocked, entityID := touchesUnresolved(claim, resolvedByID); blocked {
			redactions = append(redactions, types.RedactionNotice{
				ClaimID: claim.ClaimID,
				Reason:  "entity " + entityID + " is unresolved",
			})
			continue
		}
		claims = append(claims, claim)
	}

	// 未解析的人物连续性作为不确定性通告浮出，而不是被省略
	for _, link := range st.EntityLinks {
		if link.EntityType == types.EntityPerson && !link.Resolved {
			redactions = append(redactions, types.RedactionNotice{
				ClaimID: ident.StableID("CLAIM", "continuity", link.EntityID),
				Reason:  "cross-camera continuity for " + link.Label + " could not be established: " + link.Reason,
			})
		}
	}

	output, _, err := adapters.Invoke(ctx, e.invoker, "synthesizer",
		func(c context.Context) (types.SynthesisOutput, float64, error) {
			return e.bundle.Synthesizer.Synthesize(c, st.Request.QueryText, claims, redactions)
		})
	if err != nil {
		if mode == ModeDegraded {
			st.MarkDegraded(types.StageSynthesize)
			output = types.SynthesisOutput{
				Summary:    "Insufficient verified evidence to answer confidently.",
				Redactions: redactions,
			}
		} else {
			return types.NewError(types.ErrAdapterUnavailable, "synthesis failed").
				WithStage(types.StageSynthesize).WithCause(err)
		}
	}

	st.Synthesis = &output
	st.BlockedClaims = redactions

	if e.collector != nil {
		e.collector.AddClaims(len(claims), len(redactions))
	}
	e.logger.Info("叙述合成完成",
		zap.String("run_id", st.RunID),
		zap.Int("claims", len(claims)),
		zap.Int("redactions", len(redactions)))
	return nil
}

// claimFromEdge 把一条图边翻译成待发布主张
func claimFromEdge(edge types.GraphEdge) types.Claim {
	var text string
	switch edge.Type {
	case types.EdgeExits:
		text = fmt.Sprintf(
			"Person entity %s exited object entity %s at camera %s between %vs and %vs.",
			edge.From, edge.To, edge.CameraID, edge.TStart, edge.TEnd)
	case types.EdgeMovesTo:
		text = fmt.Sprintf(
			"Person entity %s moved to camera %s during %vs to %vs.",
			edge.From, edge.To, edge.TStart, edge.TEnd)
	default:
		text = fmt.Sprintf("Entity %s relates to %s (%s).", edge.From, edge.To, edge.Type)
	}

	return types.Claim{
		ClaimID:      ident.StableID("CLAIM", edge.NaturalKey()),
		Text:         text,
		EntityIDs:    []string{edge.From, edge.To},
		CameraID:     edge.CameraID,
		TStart:       edge.TStart,
		TEnd:         edge.TEnd,
		Confidence:   edge.Confidence,
		EvidenceRefs: edge.EvidenceRefs,
	}
}

// touchesUnresolved 主张涉及的实体中是否存在未解析者
func touchesUnresolved(claim types.Claim, resolvedByID map[string]bool) (bool, string) {
	for _, entityID := range claim.EntityIDs {
		if resolved, known := resolvedByID[entityID]; known && !resolved {
			return true, entityID
		}
	}
	return false, ""
}
