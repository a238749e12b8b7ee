// Package stores provides the persistence surfaces of the query pipeline:
// the tiered feature cache, the keyframe vector index, the artifact store
// for mask overlays, the evidence registry and the idempotent graph memory.
// This package is internal and should not be imported by external projects.
package stores
