package search

import "errors"

var (
	// ErrInvalidQuery rejects a malformed query before any I/O.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrUnavailable means the query could not be embedded. It is distinct
	// from an empty result.
	ErrUnavailable = errors.New("search unavailable")

	// ErrModelMismatch means the corpus holds vectors from other models only.
	ErrModelMismatch = errors.New("embedding model mismatch")
)
