// Package gate decides whether the pipeline steps of an agent must run.
//
// The producer policy regenerates and rebuilds unconditionally. The consumer
// policy skips generation when the dataset exists and skips the build when the
// index is complete. Completeness is either the presence of the sentinel
// artifact (SentinelOnly) or a completion manifest that matches the dataset
// and every artifact on disk (VerifyManifest, the default).
package gate
