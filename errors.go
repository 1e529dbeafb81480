package agentdb

import (
	"errors"
	"fmt"

	"github.com/qLeviathan/agentdb/collection"
	"github.com/qLeviathan/agentdb/index"
	"github.com/qLeviathan/agentdb/planner"
)

var (
	// ErrNotFound unifies all record-missing conditions.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateID is returned when inserting an id that already exists.
	ErrDuplicateID = errors.New("duplicate id")

	// ErrUnknownCollection is returned for operations on an unregistered
	// collection name.
	ErrUnknownCollection = errors.New("unknown collection")

	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("k must be positive")

	// ErrBackpressure is returned by reject-mode batch buffers at capacity.
	ErrBackpressure = errors.New("write buffer full")

	// ErrInsufficientCandidates is returned when over-fetch retries cannot
	// satisfy a filtered search.
	ErrInsufficientCandidates = errors.New("insufficient candidates after filtering")

	// ErrRebuildInProgress is returned when a rebuild overlaps another
	// rebuild of the same collection.
	ErrRebuildInProgress = errors.New("rebuild already in progress")

	// ErrNoSnapshotStore is returned when snapshot operations run on a
	// store built without a snapshot backend.
	ErrNoSnapshotStore = errors.New("no snapshot store configured")
)

// ErrDimensionMismatch indicates a vector/query dimensionality mismatch.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
	cause    error
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *ErrDimensionMismatch) Unwrap() error { return e.cause }

// translateError maps internal package errors onto the public sentinels so
// callers only match against this package.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	var cnf *collection.ErrNotFound
	if errors.As(err, &cnf) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	var nnf *index.ErrNodeNotFound
	if errors.As(err, &nnf) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	var dup *collection.ErrDuplicateID
	if errors.As(err, &dup) {
		return fmt.Errorf("%w: %w", ErrDuplicateID, err)
	}
	var unk *collection.ErrUnknownCollection
	if errors.As(err, &unk) {
		return fmt.Errorf("%w: %w", ErrUnknownCollection, err)
	}

	var dm *index.ErrDimensionMismatch
	if errors.As(err, &dm) {
		return &ErrDimensionMismatch{Expected: dm.Expected, Actual: dm.Actual, cause: err}
	}
	if errors.Is(err, index.ErrInvalidK) {
		return fmt.Errorf("%w: %w", ErrInvalidK, err)
	}
	if errors.Is(err, index.ErrRebuildInProgress) {
		return fmt.Errorf("%w: %w", ErrRebuildInProgress, err)
	}
	if errors.Is(err, collection.ErrBackpressure) {
		return fmt.Errorf("%w: %w", ErrBackpressure, err)
	}
	if errors.Is(err, planner.ErrInsufficientCandidates) {
		return fmt.Errorf("%w: %w", ErrInsufficientCandidates, err)
	}

	return err
}
