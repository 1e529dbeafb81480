// Package flat provides an exact brute-force index.
package flat

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/qLeviathan/agentdb/distance"
	"github.com/qLeviathan/agentdb/index"
	"github.com/qLeviathan/agentdb/internal/queue"
)

// Compile-time check that Flat satisfies the engine interface.
var _ index.Index = (*Flat)(nil)

// checkEvery is how many scanned nodes pass between deadline checks.
const checkEvery = 256

// Options contains configuration options for the flat index.
type Options struct {
	// DistanceFunc computes the distance between two vectors. Lower is
	// closer.
	DistanceFunc distance.Func

	// Store holds the vectors. Defaults to a full-precision dense store.
	Store index.VectorStore
}

// DefaultOptions contains the default configuration options for the flat
// index.
var DefaultOptions = Options{
	DistanceFunc: distance.SquaredL2,
}

// indexState holds the immutable liveness view for lock-free reads.
type indexState struct {
	live  []bool
	count int
}

// Flat is an exact index scanning every live vector per query. Reads are
// lock-free against a copy-on-write state; writes serialize on a mutex.
type Flat struct {
	state   atomic.Pointer[indexState]
	writeMu sync.Mutex
	dim     int
	dist    distance.Func
	store   index.VectorStore
}

// New creates a flat index over vectors of the given dimension.
func New(dim int, optFns ...func(o *Options)) (*Flat, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	if dim <= 0 {
		return nil, &index.ErrDimensionMismatch{Expected: 1, Actual: dim}
	}
	if opts.Store == nil {
		opts.Store = index.NewDenseStore(dim)
	}

	f := &Flat{
		dim:   dim,
		dist:  opts.DistanceFunc,
		store: opts.Store,
	}
	f.state.Store(&indexState{})
	return f, nil
}

func (f *Flat) Dimension() int { return f.dim }

func (f *Flat) Count() int { return f.state.Load().count }

// Contains reports whether id is live.
func (f *Flat) Contains(id uint32) bool {
	st := f.state.Load()
	return int(id) < len(st.live) && st.live[id]
}

func cloneState(st *indexState, minLen int) *indexState {
	live := make([]bool, len(st.live), max(len(st.live), minLen))
	copy(live, st.live)
	for len(live) < minLen {
		live = append(live, false)
	}
	return &indexState{live: live, count: st.count}
}

// Insert adds a vector under a new id.
func (f *Flat) Insert(ctx context.Context, id uint32, v []float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := index.ValidateVector(v, f.dim); err != nil {
		return err
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	st := f.state.Load()
	if int(id) < len(st.live) && st.live[id] {
		return &index.ErrDuplicateNode{ID: id}
	}
	if err := f.store.Set(id, v); err != nil {
		return err
	}

	next := cloneState(st, int(id)+1)
	next.live[id] = true
	next.count++
	f.state.Store(next)
	return nil
}

// Update replaces the vector of a live id.
func (f *Flat) Update(ctx context.Context, id uint32, v []float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := index.ValidateVector(v, f.dim); err != nil {
		return err
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	st := f.state.Load()
	if int(id) >= len(st.live) || !st.live[id] {
		return &index.ErrNodeNotFound{ID: id}
	}
	return f.store.Set(id, v)
}

// Delete removes id from the index.
func (f *Flat) Delete(ctx context.Context, id uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	st := f.state.Load()
	if int(id) >= len(st.live) || !st.live[id] {
		return &index.ErrNodeNotFound{ID: id}
	}

	next := cloneState(st, 0)
	next.live[id] = false
	next.count--
	f.state.Store(next)
	f.store.Delete(id)
	return nil
}

// Rebuild is a no-op; the flat index has no derived structures.
func (f *Flat) Rebuild(ctx context.Context) error {
	return ctx.Err()
}

// KNNSearch scans all live vectors and returns the k closest, ascending by
// distance. On deadline expiry it returns the best results over the portion
// scanned so far with partial set to true.
func (f *Flat) KNNSearch(ctx context.Context, query []float32, k int, opts index.SearchOptions) ([]index.Result, bool, error) {
	if err := index.ValidateK(k); err != nil {
		return nil, false, err
	}
	if err := index.ValidateVector(query, f.dim); err != nil {
		return nil, false, err
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	st := f.state.Load()
	if st.count == 0 {
		return nil, false, nil
	}

	top := queue.NewMax(k)
	partial := false

scan:
	for i := range st.live {
		if i%checkEvery == checkEvery-1 && ctx.Err() != nil {
			partial = true
			break scan
		}
		if !st.live[i] {
			continue
		}
		id := uint32(i)
		if !opts.Accept(id) {
			continue
		}
		vec := f.store.Get(id)
		if vec == nil {
			continue
		}
		top.PushBounded(queue.Item{ID: id, Distance: f.dist(query, vec)}, k)
	}

	items := top.Drain()
	results := make([]index.Result, len(items))
	for i, it := range items {
		results[i] = index.Result{ID: it.ID, Distance: it.Distance}
	}
	return results, partial, nil
}

// DistanceFunc returns the metric the index ranks with.
func (f *Flat) DistanceFunc() distance.Func { return f.dist }
