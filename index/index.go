// Package index defines the contract shared by the vector index engines.
package index

import (
	"context"
	"errors"
	"fmt"
)

// ErrInvalidK reports a non-positive k in a search request.
var ErrInvalidK = errors.New("index: k must be positive")

// ErrRebuildInProgress reports a rebuild racing with another rebuild.
var ErrRebuildInProgress = errors.New("index: rebuild already in progress")

// ErrDimensionMismatch is a named error type for dimension mismatch.
type ErrDimensionMismatch struct {
	Expected int // Expected dimensions
	Actual   int // Actual dimensions
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// ErrNodeNotFound is a named error type for a missing internal id.
type ErrNodeNotFound struct {
	ID uint32
}

func (e *ErrNodeNotFound) Error() string {
	return fmt.Sprintf("node not found: %d", e.ID)
}

// ErrDuplicateNode is a named error type for an insert reusing a live id.
type ErrDuplicateNode struct {
	ID uint32
}

func (e *ErrDuplicateNode) Error() string {
	return fmt.Sprintf("duplicate node: %d", e.ID)
}

// Result represents a search result. Distance is the raw metric distance to
// the query, lower is closer.
type Result struct {
	ID       uint32
	Distance float32
}

// SearchOptions tunes a single KNNSearch call. Zero values select
// engine defaults.
type SearchOptions struct {
	// EFSearch is the candidate-list width for graph traversal.
	EFSearch int

	// NProbe is the number of clusters probed by inverted-file search.
	NProbe int

	// Filter restricts results to ids it accepts. A nil filter accepts all.
	Filter func(id uint32) bool
}

// Accept reports whether id passes the optional filter.
func (o SearchOptions) Accept(id uint32) bool {
	return o.Filter == nil || o.Filter(id)
}

// Index is a vector search engine over caller-assigned uint32 ids.
//
// KNNSearch returns up to k results ordered ascending by distance. When the
// context deadline expires mid-search the engine returns its best results so
// far with partial set to true instead of an error.
type Index interface {
	Insert(ctx context.Context, id uint32, vector []float32) error
	Update(ctx context.Context, id uint32, vector []float32) error
	Delete(ctx context.Context, id uint32) error

	KNNSearch(ctx context.Context, query []float32, k int, opts SearchOptions) (results []Result, partial bool, err error)

	// Rebuild reconstructs derived structures from the live vectors. Engines
	// without derived structures treat it as a no-op.
	Rebuild(ctx context.Context) error

	Count() int
	Dimension() int
}

// ValidateVector checks a vector against the index dimension.
func ValidateVector(v []float32, dim int) error {
	if len(v) != dim {
		return &ErrDimensionMismatch{Expected: dim, Actual: len(v)}
	}
	return nil
}

// ValidateK checks the k of a search request.
func ValidateK(k int) error {
	if k <= 0 {
		return ErrInvalidK
	}
	return nil
}
