// Package distance provides the vector distance metrics used for scoring.
//
// Every metric follows the same convention: lower scores mean more similar
// vectors. Cosine is reported as a distance (1 - similarity) and dot product
// is negated.
package distance
