// Package adapters defines the capability boundary of the pipeline:
// typed request/response interfaces to embedding, grounding,
// re-identification, and synthesis models. Every adapter returns a
// confidence score in [0,1] alongside its result and fails with
// ADAPTER_UNAVAILABLE or ADAPTER_TIMEOUT.
//
// The package ships deterministic local implementations built on
// content-hash pseudo-embeddings so the whole pipeline runs
// hermetically without model services; real model clients plug in
// behind the same interfaces. A Resilience wrapper adds bounded retry
// with exponential backoff, rate limiting, and timeout mapping.
package adapters
