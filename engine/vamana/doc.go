// Package vamana is an in-process index engine: a Vamana proximity graph with
// product-quantized navigation, in two on-disk variants.
//
// DiskResident (sentinel {prefix}_disk.index) stores full-precision vectors and
// adjacency lists in 4 KiB sectors. A search keeps only PQ codes in memory,
// expands BeamWidth nodes per hop by reading their sectors through a read-only
// mapping, and ranks the expanded nodes by exact distance.
//
// InMemory (sentinel {prefix}) stores the graph in {prefix} and the vectors in
// {prefix}.data and searches entirely in memory with exact distances.
//
// Build parameters follow the DiskANN conventions: R bounds the out-degree, L
// the build candidate list, B (GB) sizes the PQ codes at about B/N bytes per
// point, M (GB) is the admission budget for the build's working set and T is
// the worker count for PQ training and encoding.
package vamana
