// Package engine defines the contract between the coordinator and an index
// engine.
//
// An engine builds an index from a dataset file ([Builder]) and loads a built
// index for searching ([Loader]). Two implementations exist:
//
//   - engine/cli drives the DiskANN command line tools (build_disk_index and
//     search_disk_index) as child processes
//   - engine/vamana builds and searches a Vamana graph in process, either
//     disk-resident with PQ-compressed navigation or fully in memory
//
// Both write the same on-disk layout, so a [DiskIndexMeta] read from the
// "_disk.index" header describes either.
package engine
