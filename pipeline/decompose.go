package pipeline

import (
	"strings"

	"github.com/BaSui01/videorag/adapters"
)

// =============================================================================
// ✂️ 查询分解
// =============================================================================
// 复合查询拆成更窄的子查询，供检索与接地门禁失败后重试。
// 首个元素恒为原查询；拆分基于连接词与子句意图的轻量启发。

var clauseSplitters = []string{" and ", " then ", ", ", "; "}

// decomposeQuery 返回查询的重试变体序列
func decomposeQuery(queryText string) []string {
	variants := []string{queryText}

	parts := []string{queryText}
	for _, splitter := range clauseSplitters {
		var next []string
		for _, part := range parts {
			next = append(next, strings.Split(part, splitter)...)
		}
		parts = next
	}

	seen := map[string]bool{strings.TrimSpace(strings.ToLower(queryText)): true}
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" || seen[strings.ToLower(trimmed)] {
			continue
		}
		if len(adapters.Tokenize(trimmed)) < 2 {
			continue
		}
		seen[strings.ToLower(trimmed)] = true
		variants = append(variants, trimmed)
	}
	return variants
}
