// Package ident provides deterministic identifiers for derived
// pipeline entities. Repeated runs over identical input must yield
// identical IDs, so IDs are content hashes rather than random values.
package ident

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
)

// StableID builds a deterministic short identifier from arbitrary parts.
// The result looks like "WIN_3f2a9b01cd".
func StableID(prefix string, parts ...any) string {
	fields := make([]string, len(parts))
	for i, part := range parts {
		fields[i] = fmt.Sprint(part)
	}
	sum := sha1.Sum([]byte(strings.Join(fields, "|")))
	return prefix + "_" + hex.EncodeToString(sum[:])[:10]
}
