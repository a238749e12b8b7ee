// Package pipeline implements the seven stage video query state machine:
// ingest, retrieve, ground, resolve, localize, memorize and synthesize.
// Each stage reads and extends a shared RunState, passes an exit gate
// before handing off, and escalates through a bounded retry ladder
// (decompose retry, fallback, degrade) when the gate refuses the handoff.
// This package is internal and should not be imported by external projects.
package pipeline
