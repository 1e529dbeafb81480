// Package hnsw provides a hierarchical navigable small world graph index.
package hnsw

import (
	"context"
	"math"
	"math/rand"
	"sync"

	"github.com/qLeviathan/agentdb/distance"
	"github.com/qLeviathan/agentdb/index"
	"github.com/qLeviathan/agentdb/internal/queue"
	"github.com/qLeviathan/agentdb/internal/visited"
)

// Compile-time check that HNSW satisfies the engine interface.
var _ index.Index = (*HNSW)(nil)

// checkEvery is how many candidate expansions pass between deadline checks.
const checkEvery = 64

// Options represents the options for configuring HNSW.
type Options struct {
	// M specifies the number of established connections for every new
	// element during construction. The range M=12-48 works for most use
	// cases; higher M suits high-dimensional data and high recall.
	M int

	// EFConstruction is the size of the dynamic candidate list during
	// insert. Larger values build a better graph at higher insert cost.
	EFConstruction int

	// EFSearch is the default candidate-list size for searches when the
	// request does not override it.
	EFSearch int

	// Heuristic selects the diversity heuristic for neighbour selection
	// instead of plain nearest-M.
	Heuristic bool

	// DistanceFunc computes the distance between two vectors. Lower is
	// closer.
	DistanceFunc distance.Func

	// Store holds the vectors. Defaults to a full-precision dense store.
	Store index.VectorStore

	// RandSeed seeds layer assignment. Zero means a fixed default seed.
	RandSeed int64
}

// DefaultOptions contains the default configuration options for HNSW.
var DefaultOptions = Options{
	M:              16,
	EFConstruction: 200,
	EFSearch:       100,
	Heuristic:      true,
	DistanceFunc:   distance.SquaredL2,
}

// node is one graph element. connections[l] holds the neighbour ids at
// layer l. A deleted node keeps its edges so traversal stays connected.
type node struct {
	layer       int
	connections [][]uint32
	deleted     bool
}

// HNSW is a hierarchical navigable small world graph over caller-assigned
// ids. Deletes tombstone nodes; Rebuild reconstructs the graph without them.
type HNSW struct {
	mu    sync.RWMutex
	dim   int
	mmax  int
	mmax0 int
	ml    float64

	ep       uint32
	hasEp    bool
	maxLayer int

	nodes []*node
	count int

	store index.VectorStore
	dist  distance.Func
	rng   *rand.Rand
	opts  Options

	visitedPool sync.Pool
}

// New creates an HNSW graph over vectors of the given dimension.
func New(dim int, optFns ...func(o *Options)) (*HNSW, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	if dim <= 0 {
		return nil, &index.ErrDimensionMismatch{Expected: 1, Actual: dim}
	}
	if opts.M < 2 {
		// M == 1 would divide by zero in the level normalizer.
		opts.M = 2
	}
	if opts.Store == nil {
		opts.Store = index.NewDenseStore(dim)
	}
	seed := opts.RandSeed
	if seed == 0 {
		seed = 1
	}

	h := &HNSW{
		dim:   dim,
		mmax:  opts.M,
		mmax0: 2 * opts.M,
		ml:    1 / math.Log(float64(opts.M)),
		store: opts.Store,
		dist:  opts.DistanceFunc,
		rng:   rand.New(rand.NewSource(seed)),
		opts:  opts,
	}
	h.visitedPool.New = func() any { return visited.New(1024) }
	return h, nil
}

func (h *HNSW) Dimension() int { return h.dim }

func (h *HNSW) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Contains reports whether id is live.
func (h *HNSW) Contains(id uint32) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.liveLocked(id)
}

func (h *HNSW) liveLocked(id uint32) bool {
	return int(id) < len(h.nodes) && h.nodes[id] != nil && !h.nodes[id].deleted
}

func (h *HNSW) nodeLocked(id uint32) *node {
	if int(id) >= len(h.nodes) {
		return nil
	}
	return h.nodes[id]
}

// Insert adds a vector under a new id.
func (h *HNSW) Insert(ctx context.Context, id uint32, v []float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := index.ValidateVector(v, h.dim); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if n := h.nodeLocked(id); n != nil && !n.deleted {
		return &index.ErrDuplicateNode{ID: id}
	}
	if err := h.store.Set(id, v); err != nil {
		return err
	}

	layer := int(math.Floor(-math.Log(h.rng.Float64()) * h.ml))
	n := &node{
		layer:       layer,
		connections: make([][]uint32, layer+1),
	}
	h.growNodes(id)
	h.nodes[id] = n
	h.count++

	if !h.hasEp {
		h.ep = id
		h.hasEp = true
		h.maxLayer = layer
		return nil
	}

	currID, currDist := h.descendLocked(v, h.ep, h.maxLayer, layer)

	for level := min(layer, h.maxLayer); level >= 0; level-- {
		results := h.searchLayerLocked(nil, v, currID, currDist, h.opts.EFConstruction, level)
		neighbours := h.selectNeighboursLocked(v, results, h.opts.M)

		n.connections[level] = neighbours
		for _, nb := range neighbours {
			h.linkLocked(nb, id, level)
		}

		if len(neighbours) > 0 {
			currID = neighbours[0]
			currDist = h.distToLocked(v, currID)
		}
	}

	if layer > h.maxLayer {
		h.ep = id
		h.maxLayer = layer
	}
	return nil
}

// Update replaces the vector of a live id. Graph edges are kept; they decay
// toward the new position on subsequent inserts or an explicit Rebuild.
func (h *HNSW) Update(ctx context.Context, id uint32, v []float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := index.ValidateVector(v, h.dim); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.liveLocked(id) {
		return &index.ErrNodeNotFound{ID: id}
	}
	return h.store.Set(id, v)
}

// Delete tombstones id. The node keeps its edges so searches can still route
// through it; it no longer appears in results.
func (h *HNSW) Delete(ctx context.Context, id uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.liveLocked(id) {
		return &index.ErrNodeNotFound{ID: id}
	}
	h.nodes[id].deleted = true
	h.count--
	return nil
}

// Rebuild reconstructs the graph from the live vectors, dropping tombstones.
func (h *HNSW) Rebuild(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	type liveVec struct {
		id  uint32
		vec []float32
	}
	var liveVecs []liveVec
	for i, n := range h.nodes {
		if n == nil || n.deleted {
			continue
		}
		vec := h.store.Get(uint32(i))
		if vec == nil {
			continue
		}
		liveVecs = append(liveVecs, liveVec{id: uint32(i), vec: vec})
	}

	h.nodes = nil
	h.count = 0
	h.hasEp = false
	h.maxLayer = 0

	for _, lv := range liveVecs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := h.reinsertLocked(lv.id, lv.vec); err != nil {
			return err
		}
	}
	return nil
}

// reinsertLocked is Insert without locking, duplicate checks or store writes.
func (h *HNSW) reinsertLocked(id uint32, v []float32) error {
	layer := int(math.Floor(-math.Log(h.rng.Float64()) * h.ml))
	n := &node{
		layer:       layer,
		connections: make([][]uint32, layer+1),
	}
	h.growNodes(id)
	h.nodes[id] = n
	h.count++

	if !h.hasEp {
		h.ep = id
		h.hasEp = true
		h.maxLayer = layer
		return nil
	}

	currID, currDist := h.descendLocked(v, h.ep, h.maxLayer, layer)
	for level := min(layer, h.maxLayer); level >= 0; level-- {
		results := h.searchLayerLocked(nil, v, currID, currDist, h.opts.EFConstruction, level)
		neighbours := h.selectNeighboursLocked(v, results, h.opts.M)
		n.connections[level] = neighbours
		for _, nb := range neighbours {
			h.linkLocked(nb, id, level)
		}
		if len(neighbours) > 0 {
			currID = neighbours[0]
			currDist = h.distToLocked(v, currID)
		}
	}

	if layer > h.maxLayer {
		h.ep = id
		h.maxLayer = layer
	}
	return nil
}

// KNNSearch returns the k closest live vectors, ascending by distance. On
// deadline expiry mid-traversal it returns its best results so far with
// partial set to true.
func (h *HNSW) KNNSearch(ctx context.Context, query []float32, k int, opts index.SearchOptions) ([]index.Result, bool, error) {
	if err := index.ValidateK(k); err != nil {
		return nil, false, err
	}
	if err := index.ValidateVector(query, h.dim); err != nil {
		return nil, false, err
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if !h.hasEp || h.count == 0 {
		return nil, false, nil
	}

	ef := opts.EFSearch
	if ef <= 0 {
		ef = h.opts.EFSearch
	}
	if ef < k {
		ef = k
	}

	currID := h.ep
	currDist := h.distToLocked(query, currID)
	partial := false

	for level := h.maxLayer; level > 0; level-- {
		if ctx.Err() != nil {
			partial = true
			break
		}
		currID, currDist = h.greedyLocked(query, currID, currDist, level)
	}

	var results *queue.Heap
	if !partial {
		results = h.searchLayerLocked(ctx, query, currID, currDist, ef, 0)
		if ctx.Err() != nil {
			partial = true
		}
	} else {
		results = queue.NewMax(1)
		results.Push(queue.Item{ID: currID, Distance: currDist})
	}

	items := results.Drain()
	out := make([]index.Result, 0, min(k, len(items)))
	for _, it := range items {
		if len(out) == k {
			break
		}
		n := h.nodeLocked(it.ID)
		if n == nil || n.deleted {
			continue
		}
		if !opts.Accept(it.ID) {
			continue
		}
		out = append(out, index.Result{ID: it.ID, Distance: it.Distance})
	}
	return out, partial, nil
}

// descendLocked walks greedily from ep through layers (fromLayer, toLayer]
// and returns the closest node seen with its distance.
func (h *HNSW) descendLocked(q []float32, ep uint32, fromLayer, toLayer int) (uint32, float32) {
	currID := ep
	currDist := h.distToLocked(q, currID)
	for level := fromLayer; level > toLayer; level-- {
		currID, currDist = h.greedyLocked(q, currID, currDist, level)
	}
	return currID, currDist
}

// greedyLocked moves to the closest neighbour at level until no neighbour
// improves the distance.
func (h *HNSW) greedyLocked(q []float32, currID uint32, currDist float32, level int) (uint32, float32) {
	for changed := true; changed; {
		changed = false
		n := h.nodeLocked(currID)
		if n == nil || level >= len(n.connections) {
			break
		}
		for _, nb := range n.connections[level] {
			d := h.distToLocked(q, nb)
			if d < currDist {
				currID = nb
				currDist = d
				changed = true
			}
		}
	}
	return currID, currDist
}

// searchLayerLocked performs a best-first search in one layer. It returns a
// max-heap of at most ef candidates. A non-nil ctx is checked periodically;
// on expiry the heap holds the best candidates found so far.
func (h *HNSW) searchLayerLocked(ctx context.Context, q []float32, epID uint32, epDist float32, ef, level int) *queue.Heap {
	vis := h.visitedPool.Get().(*visited.Set)
	defer func() {
		vis.Reset()
		h.visitedPool.Put(vis)
	}()
	vis.Visit(epID)

	candidates := queue.NewMin(ef)
	candidates.Push(queue.Item{ID: epID, Distance: epDist})

	results := queue.NewMax(ef)
	results.Push(queue.Item{ID: epID, Distance: epDist})

	steps := 0
	for candidates.Len() > 0 {
		if ctx != nil {
			steps++
			if steps%checkEvery == 0 && ctx.Err() != nil {
				break
			}
		}

		lower, _ := results.Top()
		cand, _ := candidates.Pop()
		if cand.Distance > lower.Distance && results.Len() >= ef {
			break
		}

		n := h.nodeLocked(cand.ID)
		if n == nil || level >= len(n.connections) {
			continue
		}
		for _, nb := range n.connections[level] {
			if vis.Visited(nb) {
				continue
			}
			vis.Visit(nb)

			d := h.distToLocked(q, nb)
			it := queue.Item{ID: nb, Distance: d}
			if results.PushBounded(it, ef) {
				candidates.Push(it)
			}
		}
	}
	return results
}

// linkLocked adds a back-edge id -> target at level, pruning with the
// neighbour heuristic when the fan-out overflows.
func (h *HNSW) linkLocked(id, target uint32, level int) {
	n := h.nodeLocked(id)
	if n == nil {
		return
	}
	if level >= len(n.connections) {
		return
	}

	maxConns := h.mmax
	if level == 0 {
		maxConns = h.mmax0
	}

	n.connections[level] = append(n.connections[level], target)
	if len(n.connections[level]) <= maxConns {
		return
	}

	base := h.store.Get(id)
	if base == nil {
		return
	}

	cands := queue.NewMax(len(n.connections[level]))
	for _, nb := range n.connections[level] {
		cands.Push(queue.Item{ID: nb, Distance: h.distToLocked(base, nb)})
	}
	n.connections[level] = h.selectNeighboursLocked(base, cands, maxConns)
}

// selectNeighboursLocked picks up to m neighbours from the candidate heap,
// closest first. With the heuristic enabled a candidate is kept only when it
// is closer to the base vector than to every already-kept neighbour, which
// spreads edges across directions.
func (h *HNSW) selectNeighboursLocked(base []float32, cands *queue.Heap, m int) []uint32 {
	items := cands.Drain()

	if !h.opts.Heuristic || len(items) <= m {
		n := min(m, len(items))
		out := make([]uint32, n)
		for i := 0; i < n; i++ {
			out[i] = items[i].ID
		}
		return out
	}

	selected := make([]queue.Item, 0, m)
	rejected := make([]queue.Item, 0, len(items))
	for _, it := range items {
		if len(selected) >= m {
			break
		}
		vec := h.store.Get(it.ID)
		if vec == nil {
			continue
		}
		keep := true
		for _, s := range selected {
			sv := h.store.Get(s.ID)
			if sv == nil {
				continue
			}
			if h.dist(vec, sv) < it.Distance {
				keep = false
				break
			}
		}
		if keep {
			selected = append(selected, it)
		} else {
			rejected = append(rejected, it)
		}
	}

	for _, it := range rejected {
		if len(selected) >= m {
			break
		}
		selected = append(selected, it)
	}

	out := make([]uint32, len(selected))
	for i, it := range selected {
		out[i] = it.ID
	}
	return out
}

func (h *HNSW) distToLocked(q []float32, id uint32) float32 {
	vec := h.store.Get(id)
	if vec == nil {
		return math.MaxFloat32
	}
	return h.dist(q, vec)
}

func (h *HNSW) growNodes(id uint32) {
	for int(id) >= len(h.nodes) {
		h.nodes = append(h.nodes, nil)
	}
}

// DistanceFunc returns the metric the index ranks with.
func (h *HNSW) DistanceFunc() distance.Func { return h.dist }
