// Package testutil provides testing utilities for flatvec.
//
// This package is intended for use in tests and benchmarks only.
// It provides helpers for generating random vectors and metadata, and for
// computing exact nearest neighbors independently of the store.
//
// # Random Vector Generation
//
//	rng := testutil.NewRNG(seed)
//	vecs := rng.UnitVectors(1000, 128)
//
// # Exact Search (Ground Truth)
//
//	truth := testutil.ExactTopK(query, ids, vecs, k, distance.Euclidean)
package testutil
