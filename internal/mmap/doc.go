// Package mmap maps dataset and index files read-only into memory.
//
// Disk-resident indexes are traversed through [Mapping.ReadAt], which lets the
// kernel page cache serve the sector reads of a beam search without copying
// whole files into the Go heap. On platforms without mmap support the file is
// read into memory instead.
package mmap
