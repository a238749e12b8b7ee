package types

import (
	"fmt"
	"math"
	"strconv"
)

// NodeType 图节点类型（封闭集合）
type NodeType string

const (
	NodeObject NodeType = "Object"
	NodePerson NodeType = "Person"
	NodeCamera NodeType = "Camera"
	NodeTrack  NodeType = "Track"
	NodeZone   NodeType = "Zone"
)

// EdgeType 图边类型（封闭集合）
type EdgeType string

const (
	EdgeExits   EdgeType = "EXITS"
	EdgeMovesTo EdgeType = "MOVES_TO"
)

// GraphNode 图记忆节点。自然键 = 类型 + 身份标识。
type GraphNode struct {
	Type       NodeType       `json:"type"`
	ID         string         `json:"id"`
	Label      string         `json:"label,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
	Confidence float64        `json:"confidence"`
}

// NaturalKey returns the idempotency key for node upserts.
func (n GraphNode) NaturalKey() string {
	return string(n.Type) + "|" + n.ID
}

// GraphEdge 图记忆边。
// 自然键 = 边类型 + 两端自然键 + 时间桶；重复提交同一逻辑事实
// 必须合并（证据并集、置信度取最大），不得产生重复边。
type GraphEdge struct {
	Type         EdgeType      `json:"type"`
	From         string        `json:"from"`
	To           string        `json:"to"`
	CameraID     string        `json:"camera_id,omitempty"`
	TStart       float64       `json:"t_start"`
	TEnd         float64       `json:"t_end"`
	Confidence   float64       `json:"confidence"`
	EvidenceRefs []EvidenceRef `json:"evidence_refs"`
}

// EdgeKeyBucketSeconds is the width of the time bucket used in edge
// natural keys. Two submissions of the same logical fact whose start
// times land in the same bucket merge into one edge.
const EdgeKeyBucketSeconds = 1.0

// NaturalKey returns the idempotency key for edge upserts.
func (e GraphEdge) NaturalKey() string {
	bucket := int64(math.Floor(e.TStart / EdgeKeyBucketSeconds))
	return fmt.Sprintf("%s|%s|%s|%d", e.Type, e.From, e.To, bucket)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
