package adapters

import (
	"context"

	"github.com/BaSui01/videorag/types"
)

// FrameEmbedder 帧/文本嵌入能力（SigLIP 类模型边界）
type FrameEmbedder interface {
	// EmbedFrame 为单个关键帧生成嵌入
	EmbedFrame(ctx context.Context, clipID string, timestamp float64, semanticTokens []string) ([]float64, float64, error)

	// EmbedText 为查询文本生成同空间嵌入
	EmbedText(ctx context.Context, text string) ([]float64, float64, error)
}

// FeatureExtractor 窗口级特征抽取能力（视频骨干模型边界）
type FeatureExtractor interface {
	// ExtractWindowFeatures 产出池化向量与每时间步向量序列
	ExtractWindowFeatures(ctx context.Context, window types.Window, clip types.Clip) (types.WindowFeatures, float64, error)
}

// TextAligner 文本对齐头：把动作短语映射进视频特征空间
type TextAligner interface {
	AlignText(ctx context.Context, text string) ([]float64, float64, error)
}

// GroundRequest 空间定位请求
type GroundRequest struct {
	Window types.Window
	Clip   types.Clip
	Prompt string
}

// Grounder 提示词驱动的掩码/轨迹生成能力（SAM 类模型边界）。
// 返回的轨迹是草稿：overlay 物化由调用方（Stage 3）负责。
type Grounder interface {
	Ground(ctx context.Context, req GroundRequest) ([]types.Tracklet, float64, error)
}

// ReIDEmbedder 重识别嵌入能力：掩码加权裁剪 → 身份向量
type ReIDEmbedder interface {
	EmbedTrack(ctx context.Context, track types.Tracklet, clip types.Clip) ([]float64, float64, error)
}

// Synthesizer 多模态综合能力：只允许从证据链叙述
type Synthesizer interface {
	Synthesize(ctx context.Context, queryText string, claims []types.Claim, redactions []types.RedactionNotice) (types.SynthesisOutput, float64, error)
}

// Bundle 一组能力适配器，按模型注册表装配
type Bundle struct {
	Frames           FrameEmbedder
	Features         FeatureExtractor
	Text             TextAligner
	Grounder         Grounder
	FallbackGrounder Grounder
	ReID             ReIDEmbedder
	Synthesizer      Synthesizer
	ModelVersion     string
}
