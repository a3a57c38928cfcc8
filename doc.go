// Package adadisk coordinates the lifecycle of synthetic vector datasets and
// disk-resident approximate nearest neighbor indexes.
//
// Two roles share one data directory. The ingest role (producer) always
// generates a fresh dataset and rebuilds its index. The query role (consumer)
// reuses whatever the namespace already contains, builds only what is missing,
// then loads the index and searches it.
//
// # Packages
//
//   - [github.com/hupe1980/adadisk/dataset]: binary dataset format and generator
//   - [github.com/hupe1980/adadisk/namespace]: path derivation per (role, dataset)
//   - [github.com/hupe1980/adadisk/gate]: idempotency gate and completion manifest
//   - [github.com/hupe1980/adadisk/engine]: engine contract (cli and vamana variants)
//   - [github.com/hupe1980/adadisk/orchestrator]: build invocation and status handling
//   - [github.com/hupe1980/adadisk/handle]: load/search state machine
//   - [github.com/hupe1980/adadisk/agent]: producer and consumer pipelines, artifact mirroring
//   - [github.com/hupe1980/adadisk/blobstore]: mirror backends (local, memory, MinIO, S3)
//   - [github.com/hupe1980/adadisk/config]: YAML configuration
//   - [github.com/hupe1980/adadisk/audit]: SQLite run journal
//   - [github.com/hupe1980/adadisk/metrics]: Prometheus collector
//
// The adadisk command in cmd/adadisk wires them together.
//
// This package holds what all of them share: error kinds and their retry
// classification, the structured [Logger], and the [MetricsCollector] hook.
//
// # Errors
//
// Every error returned by the coordinator matches one of the sentinel kinds
// with errors.Is:
//
//	if errors.Is(err, adadisk.ErrDimensionMismatch) { ... }
//	if adadisk.IsRetryable(err) { ... }
package adadisk
