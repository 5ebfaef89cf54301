// Package vector implements the in-process vector index used for retrieval.
//
// The index stores embedded document chunks and answers top-k similarity
// queries under a distance metric fixed at construction (cosine or L2).
//
// Concurrency model: readers never block writers and vice versa. The index
// keeps its data in an immutable snapshot published through an atomic
// pointer; Insert builds a new snapshot and swaps it in, so a Query always
// runs against a consistent view. Writers are serialized by a mutex.
//
// Persistence: Save writes a self-describing binary file (dimension, metric,
// chunk count, CRC32 trailer) to a temporary location and renames it into
// place, so a partially-written file is never visible to Load.
package vector
