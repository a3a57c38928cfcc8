// Package agent runs the producer and consumer pipelines.
//
// Both roles are one parameterized Agent. What differs is the Spec:
//
//	producer (ingest): generate (always) -> build (always) -> publish to mirror
//	consumer (query):  restore from mirror? -> generate if missing -> build if missing -> load -> search
//
// The ensure-ready part of a run (everything before load) executes under an
// advisory file lock of the namespace entry, so agents sharing a data
// directory never observe each other's half-written artifacts. WithoutLock
// disables it.
//
// RunAll runs several agents concurrently and collects their reports.
package agent
