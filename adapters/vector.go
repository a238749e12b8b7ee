package adapters

import (
	"crypto/sha256"
	"encoding/binary"
	"regexp"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// EmbeddingDim 确定性伪嵌入的维度
const EmbeddingDim = 16

var wordRE = regexp.MustCompile(`[a-z0-9_]+`)

// Tokenize 小写分词，用于简单语义匹配
func Tokenize(text string) []string {
	normalized := strings.ToLower(text)
	normalized = strings.NewReplacer("_", " ", "-", " ").Replace(normalized)
	return wordRE.FindAllString(normalized, -1)
}

// TokenSet returns the sorted unique token set of text.
func TokenSet(tokens []string) map[string]bool {
	set := make(map[string]bool, len(tokens))
	for _, token := range tokens {
		set[token] = true
	}
	return set
}

// OverlapScore token 重叠率，范围 [0,1]
func OverlapScore(queryTokens, semanticTokens []string) float64 {
	if len(queryTokens) == 0 {
		return 0
	}
	query := TokenSet(queryTokens)
	semantic := TokenSet(semanticTokens)
	overlap := 0
	for token := range query {
		if semantic[token] {
			overlap++
		}
	}
	return float64(overlap) / float64(len(query))
}

// DeterministicVector 从文本种子生成确定性单位伪嵌入。
// 同一种子在任何进程、任何平台上产出同一向量。
func DeterministicVector(seed string) []float64 {
	out := make([]float64, 0, EmbeddingDim)
	current := seed
	for len(out) < EmbeddingDim {
		digest := sha256.Sum256([]byte(current))
		for i := 0; i+1 < len(digest) && len(out) < EmbeddingDim; i += 2 {
			value := binary.BigEndian.Uint16(digest[i : i+2])
			// 映射到 [-1, 1]
			out = append(out, float64(value)/32767.5-1.0)
		}
		current += "#"
	}
	norm := floats.Norm(out, 2)
	if norm == 0 {
		norm = 1
	}
	floats.Scale(1/norm, out)
	return out
}

// Cosine 余弦相似度；长度不一致时返回 0
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	normA := floats.Norm(a, 2)
	normB := floats.Norm(b, 2)
	if normA == 0 || normB == 0 {
		return 0
	}
	return floats.Dot(a, b) / (normA * normB)
}

// CosineUnit maps cosine similarity from [-1,1] to [0,1].
func CosineUnit(a, b []float64) float64 {
	return (Cosine(a, b) + 1) / 2
}

// Blend returns the normalized weighted sum wa*a + wb*b.
func Blend(a, b []float64, wa, wb float64) []float64 {
	if len(a) != len(b) {
		return a
	}
	out := make([]float64, len(a))
	for i := range a {
		out[i] = wa*a[i] + wb*b[i]
	}
	norm := floats.Norm(out, 2)
	if norm == 0 {
		norm = 1
	}
	floats.Scale(1/norm, out)
	return out
}
