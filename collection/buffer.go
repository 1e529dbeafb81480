package collection

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/qLeviathan/agentdb/metadata"
)

// ErrBackpressure reports a full write buffer in reject mode.
var ErrBackpressure = errors.New("collection: write buffer full")

// OpKind classifies a buffered write.
type OpKind int

const (
	OpInsert OpKind = iota
	OpUpsert
	OpDelete
)

// Op is one buffered write.
type Op struct {
	Kind      OpKind
	ID        string
	Embedding []float32
	Attrs     metadata.Document
}

// BackpressureMode selects the behaviour of Enqueue on a full buffer.
type BackpressureMode int

const (
	// BlockOnFull blocks the caller until a flush frees capacity or the
	// context ends.
	BlockOnFull BackpressureMode = iota
	// RejectOnFull fails immediately with ErrBackpressure.
	RejectOnFull
)

// BufferOptions contains configuration options for a write buffer.
type BufferOptions struct {
	// MaxBatch is the buffer capacity; Flush applies at most this many ops.
	MaxBatch int

	// Mode selects blocking or rejecting backpressure when full.
	Mode BackpressureMode
}

// DefaultBufferOptions contains the default configuration options for a
// write buffer.
var DefaultBufferOptions = BufferOptions{
	MaxBatch: 256,
	Mode:     BlockOnFull,
}

// Buffer accumulates writes for one collection and applies them as a single
// all-or-nothing batch on Flush.
type Buffer struct {
	col   *Collection
	opts  BufferOptions
	slots chan struct{}

	mu      sync.Mutex
	pending []Op
}

// NewBuffer creates a write buffer over a collection.
func NewBuffer(col *Collection, optFns ...func(o *BufferOptions)) *Buffer {
	opts := DefaultBufferOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxBatch < 1 {
		opts.MaxBatch = 1
	}
	return &Buffer{
		col:   col,
		opts:  opts,
		slots: make(chan struct{}, opts.MaxBatch),
	}
}

// Len returns the number of buffered ops.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Enqueue adds an op to the buffer. On a full buffer it blocks or rejects
// per the configured mode.
func (b *Buffer) Enqueue(ctx context.Context, op Op) error {
	switch b.opts.Mode {
	case RejectOnFull:
		select {
		case b.slots <- struct{}{}:
		default:
			return ErrBackpressure
		}
	default:
		select {
		case b.slots <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	b.mu.Lock()
	b.pending = append(b.pending, op)
	b.mu.Unlock()
	return nil
}

// Flush applies all buffered ops as one batch. Either every op commits or,
// on a validation failure, none do and the batch is discarded with the
// error. Buffer capacity frees in both cases.
func (b *Buffer) Flush(ctx context.Context) error {
	b.mu.Lock()
	ops := b.pending
	b.pending = nil
	b.mu.Unlock()

	if len(ops) == 0 {
		return nil
	}
	defer func() {
		for range ops {
			<-b.slots
		}
	}()

	return b.col.ApplyBatch(ctx, ops)
}

// ApplyBatch validates and applies a batch of writes under a single
// write-lock acquisition. Validation runs over the whole batch first,
// tracking batch-internal creations and deletions, so a failing batch leaves
// the collection untouched.
func (c *Collection) ApplyBatch(ctx context.Context, ops []Op) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	// Validation pass. delta overlays byID with batch-internal effects, and
	// prepared holds the validated, normalized vectors so the apply pass
	// cannot hit a vector rejection after earlier ops committed.
	delta := make(map[string]bool)
	exists := func(id string) bool {
		if v, ok := delta[id]; ok {
			return v
		}
		c.mu.RLock()
		_, ok := c.byID[id]
		c.mu.RUnlock()
		return ok
	}

	prepared := make([][]float32, len(ops))
	for i := range ops {
		op := &ops[i]
		switch op.Kind {
		case OpInsert, OpUpsert:
			vec, err := c.prepareVector(op.Embedding)
			if err != nil {
				return err
			}
			if err := c.opts.Schema.ValidateDocument(op.Attrs); err != nil {
				return err
			}
			prepared[i] = vec
		}

		switch op.Kind {
		case OpInsert:
			if op.ID == "" {
				op.ID = uuid.NewString()
			}
			if exists(op.ID) {
				return &ErrDuplicateID{Collection: c.name, ID: op.ID}
			}
			delta[op.ID] = true
		case OpUpsert:
			if !exists(op.ID) {
				return &ErrNotFound{Collection: c.name, ID: op.ID}
			}
		case OpDelete:
			if !exists(op.ID) {
				return &ErrNotFound{Collection: c.name, ID: op.ID}
			}
			delta[op.ID] = false
		}
	}

	// Apply pass. Validation covered every rejection the engines can raise,
	// and a detached context keeps a mid-batch cancellation from splitting
	// the batch.
	applyCtx := context.WithoutCancel(ctx)
	for i, op := range ops {
		var err error
		switch op.Kind {
		case OpInsert:
			_, err = c.insertLocked(applyCtx, op.ID, prepared[i], op.Attrs)
		case OpUpsert:
			err = c.upsertLocked(applyCtx, op.ID, prepared[i], op.Attrs)
		case OpDelete:
			err = c.deleteLocked(applyCtx, op.ID)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
