// Package adreel is the backend for a metered, rate-limited video-ad
// generation service. It dispatches long-running generation and analysis
// jobs to a Redis-backed broker and reports their status to polling
// callers.
//
// The correctness-critical core is small: an atomic credit ledger and a
// fixed-window rate limiter, both built on optimistic Redis transactions
// (see the ledger, ratelimit and kv packages), and an asynchronous job
// lifecycle with structured failure capture (job, worker, broker).
// Everything else — model invocation, encoding, object storage, payment
// capture — is glue around external collaborators behind small
// interfaces.
//
// # Architecture
//
// A request flows: bearer auth → rate limiter → credit ledger → broker
// submission. A separate worker pool executes the job body through a
// middleware chain and publishes a retrievable result URL before the job
// is ever observable as finished.
//
// This root package holds the process configuration and the sentinel
// errors shared across subsystems.
package adreel
