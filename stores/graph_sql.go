package stores

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/videorag/types"
)

// =============================================================================
// 🗄️ SQLite 图记忆后端
// =============================================================================
// 节点和边各占一张表，自然键做唯一索引。
// 每次 upsert 在单事务内读改写，保证同键合并的原子性。

type graphNodeRow struct {
	NaturalKey string `gorm:"primaryKey;column:natural_key"`
	Type       string `gorm:"column:type;index"`
	NodeID     string `gorm:"column:node_id"`
	Label      string `gorm:"column:label"`
	Properties string `gorm:"column:properties"`
	Confidence float64
	UpdatedAt  time.Time
}

func (graphNodeRow) TableName() string { return "graph_nodes" }

type graphEdgeRow struct {
	NaturalKey string `gorm:"primaryKey;column:natural_key"`
	Type       string `gorm:"column:type;index"`
	FromID     string `gorm:"column:from_id;index"`
	ToID       string `gorm:"column:to_id;index"`
	CameraID   string `gorm:"column:camera_id"`
	TStart     float64
	TEnd       float64
	Confidence float64
	Evidence   string `gorm:"column:evidence"`
	UpdatedAt  time.Time
}

func (graphEdgeRow) TableName() string { return "graph_edges" }

// SQLGraphStore GORM + SQLite 图记忆
type SQLGraphStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewSQLGraphStore 打开（或创建）SQLite 图数据库并迁移表结构
func NewSQLGraphStore(dsn string, logger *zap.Logger) (*SQLGraphStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dsn == "" {
		dsn = "file::memory:?cache=shared"
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, types.NewError(types.ErrStoreUnavailable, "failed to open graph database").WithCause(err)
	}
	if err := db.AutoMigrate(&graphNodeRow{}, &graphEdgeRow{}); err != nil {
		return nil, types.NewError(types.ErrStoreUnavailable, "failed to migrate graph schema").WithCause(err)
	}

	// SQLite 单写者，连接池收紧到 1 避免 SQLITE_BUSY
	if sqlDB, dbErr := db.DB(); dbErr == nil {
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	logger.Info("sqlite graph store initialized", zap.String("dsn", dsn))
	return &SQLGraphStore{
		db:     db,
		logger: logger.With(zap.String("component", "graph_store")),
	}, nil
}

func (s *SQLGraphStore) UpsertNode(ctx context.Context, node types.GraphNode) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row graphNodeRow
		err := tx.Where("natural_key = ?", node.NaturalKey()).First(&row).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			newRow, encErr := encodeNode(node)
			if encErr != nil {
				return encErr
			}
			return tx.Create(&newRow).Error
		case err != nil:
			return err
		}

		existing, decErr := decodeNode(row)
		if decErr != nil {
			return decErr
		}
		merged, encErr := encodeNode(mergeNodes(existing, node))
		if encErr != nil {
			return encErr
		}
		return tx.Save(&merged).Error
	})
}

func (s *SQLGraphStore) UpsertEdge(ctx context.Context, edge types.GraphEdge) error {
	if len(edge.EvidenceRefs) == 0 {
		return types.NewError(types.ErrEvidenceIncomplete,
			"edge "+string(edge.Type)+" "+edge.From+"->"+edge.To+" carries no evidence")
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row graphEdgeRow
		err := tx.Where("natural_key = ?", edge.NaturalKey()).First(&row).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			newRow, encErr := encodeEdge(edge)
			if encErr != nil {
				return encErr
			}
			return tx.Create(&newRow).Error
		case err != nil:
			return err
		}

		existing, decErr := decodeEdge(row)
		if decErr != nil {
			return decErr
		}
		merged, encErr := encodeEdge(mergeEdges(existing, edge))
		if encErr != nil {
			return encErr
		}
		return tx.Save(&merged).Error
	})
}

func (s *SQLGraphStore) Nodes(ctx context.Context) ([]types.GraphNode, error) {
	var rows []graphNodeRow
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]types.GraphNode, 0, len(rows))
	for _, row := range rows {
		node, err := decodeNode(row)
		if err != nil {
			return nil, err
		}
		out = append(out, node)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NaturalKey() < out[j].NaturalKey() })
	return out, nil
}

func (s *SQLGraphStore) Edges(ctx context.Context) ([]types.GraphEdge, error) {
	var rows []graphEdgeRow
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]types.GraphEdge, 0, len(rows))
	for _, row := range rows {
		edge, err := decodeEdge(row)
		if err != nil {
			return nil, err
		}
		out = append(out, edge)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NaturalKey() < out[j].NaturalKey() })
	return out, nil
}

func (s *SQLGraphStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func encodeNode(node types.GraphNode) (graphNodeRow, error) {
	props, err := json.Marshal(node.Properties)
	if err != nil {
		return graphNodeRow{}, err
	}
	return graphNodeRow{
		NaturalKey: node.NaturalKey(),
		Type:       string(node.Type),
		NodeID:     node.ID,
		Label:      node.Label,
		Properties: string(props),
		Confidence: node.Confidence,
		UpdatedAt:  time.Now(),
	}, nil
}

func decodeNode(row graphNodeRow) (types.GraphNode, error) {
	var props map[string]any
	if row.Properties != "" {
		if err := json.Unmarshal([]byte(row.Properties), &props); err != nil {
			return types.GraphNode{}, err
		}
	}
	return types.GraphNode{
		Type:       types.NodeType(row.Type),
		ID:         row.NodeID,
		Label:      row.Label,
		Properties: props,
		Confidence: row.Confidence,
	}, nil
}

func encodeEdge(edge types.GraphEdge) (graphEdgeRow, error) {
	evidence, err := json.Marshal(edge.EvidenceRefs)
	if err != nil {
		return graphEdgeRow{}, err
	}
	return graphEdgeRow{
		NaturalKey: edge.NaturalKey(),
		Type:       string(edge.Type),
		FromID:     edge.From,
		ToID:       edge.To,
		CameraID:   edge.CameraID,
		TStart:     edge.TStart,
		TEnd:       edge.TEnd,
		Confidence: edge.Confidence,
		Evidence:   string(evidence),
		UpdatedAt:  time.Now(),
	}, nil
}

func decodeEdge(row graphEdgeRow) (types.GraphEdge, error) {
	var refs []types.EvidenceRef
	if row.Evidence != "" {
		if err := json.Unmarshal([]byte(row.Evidence), &refs); err != nil {
			return types.GraphEdge{}, err
		}
	}
	return types.GraphEdge{
		Type:         types.EdgeType(row.Type),
		From:         row.FromID,
		To:           row.ToID,
		CameraID:     row.CameraID,
		TStart:       row.TStart,
		TEnd:         row.TEnd,
		Confidence:   row.Confidence,
		EvidenceRefs: refs,
	}, nil
}
