// Package types defines the shared data contracts of the VideoRAG
// pipeline: queries, windows, tracklets, entity links, temporal
// segments, evidence references, graph facts, claims, and the
// structured error model used across all stages.
//
// Every derived entity carries a deterministic stable identifier so
// repeated runs over identical input produce identical IDs. Entities
// are published immutably: a stage creates its own entities and
// downstream stages only read them.
package types
