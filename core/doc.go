// Package core contains the data model shared across the Argus correlation
// engine: normalized events, correlation rules with typed predicates, alerts
// with their lifecycle state machine, the in-memory event ring buffer and the
// deduplicating alert store.
package core
