// Package dataset reads and writes the binary vector dataset format shared
// with the index engine, and generates synthetic uniform datasets.
//
// File layout (little-endian):
//
//	offset 0: int32  point count (N)
//	offset 4: int32  dimension   (D)
//	offset 8: N*D    float32 values, row-major, no padding
//
// The total size is always 8 + 4*N*D bytes. The same header convention is used
// for the engine's auxiliary "bin" files (query vectors, result ids and
// distances, PQ codes), which [WriteBin] and [ReadBin] handle for any element type.
package dataset
