// Package ivf provides an inverted-file index with k-means clustering.
package ivf

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/qLeviathan/agentdb/distance"
	"github.com/qLeviathan/agentdb/index"
	"github.com/qLeviathan/agentdb/internal/kmeans"
	"github.com/qLeviathan/agentdb/internal/queue"
)

// Compile-time check that IVF satisfies the engine interface.
var _ index.Index = (*IVF)(nil)

// checkEvery is how many scanned members pass between deadline checks.
const checkEvery = 256

// Options contains configuration options for the inverted-file index.
type Options struct {
	// NList is the number of clusters built by Rebuild.
	NList int

	// NProbe is the default number of clusters probed per search when the
	// request does not override it.
	NProbe int

	// MaxIterations caps Lloyd's iterations during clustering.
	MaxIterations int

	// TrainSample caps how many vectors the clustering trains on.
	TrainSample int

	// StaleThreshold is the fraction of post-rebuild churn (inserts,
	// updates, deletes) over the live count after which Stale reports true.
	StaleThreshold float64

	// DistanceFunc computes the distance between two vectors. Lower is
	// closer.
	DistanceFunc distance.Func

	// Store holds the vectors. Defaults to a full-precision dense store.
	Store index.VectorStore

	// RandSeed seeds centroid initialization. Zero means a fixed default
	// seed.
	RandSeed int64
}

// DefaultOptions contains the default configuration options for the
// inverted-file index.
var DefaultOptions = Options{
	NList:          64,
	NProbe:         8,
	MaxIterations:  25,
	TrainSample:    10000,
	StaleThreshold: 0.3,
	DistanceFunc:   distance.SquaredL2,
}

// IVF partitions vectors into clusters around k-means centroids and probes
// only the closest clusters per query. Before the first Rebuild (or when
// fewer vectors than NList exist) it degrades to a single-cluster scan.
type IVF struct {
	mu  sync.RWMutex
	dim int

	centroids []float32  // nlist * dim, nil until trained
	members   [][]uint32 // per-cluster ids; single list when untrained
	assign    map[uint32]int
	count     int
	churn     int

	rebuilding atomic.Bool

	store index.VectorStore
	dist  distance.Func
	rng   *rand.Rand
	opts  Options
}

// New creates an inverted-file index over vectors of the given dimension.
func New(dim int, optFns ...func(o *Options)) (*IVF, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	if dim <= 0 {
		return nil, &index.ErrDimensionMismatch{Expected: 1, Actual: dim}
	}
	if opts.NList < 1 {
		opts.NList = 1
	}
	if opts.NProbe < 1 {
		opts.NProbe = 1
	}
	if opts.Store == nil {
		opts.Store = index.NewDenseStore(dim)
	}
	seed := opts.RandSeed
	if seed == 0 {
		seed = 1
	}

	return &IVF{
		dim:     dim,
		members: [][]uint32{nil},
		assign:  make(map[uint32]int),
		store:   opts.Store,
		dist:    opts.DistanceFunc,
		rng:     rand.New(rand.NewSource(seed)),
		opts:    opts,
	}, nil
}

func (iv *IVF) Dimension() int { return iv.dim }

func (iv *IVF) Count() int {
	iv.mu.RLock()
	defer iv.mu.RUnlock()
	return iv.count
}

// Contains reports whether id is live.
func (iv *IVF) Contains(id uint32) bool {
	iv.mu.RLock()
	defer iv.mu.RUnlock()
	_, ok := iv.assign[id]
	return ok
}

// Trained reports whether centroids exist.
func (iv *IVF) Trained() bool {
	iv.mu.RLock()
	defer iv.mu.RUnlock()
	return iv.centroids != nil
}

// Stale reports whether enough churn accumulated since the last rebuild that
// centroid assignments are likely drifting. Callers treat it as a hint to
// schedule Rebuild.
func (iv *IVF) Stale() bool {
	iv.mu.RLock()
	defer iv.mu.RUnlock()
	if iv.centroids == nil {
		return iv.count > iv.opts.NList
	}
	if iv.count == 0 {
		return false
	}
	return float64(iv.churn) >= iv.opts.StaleThreshold*float64(iv.count)
}

// Insert adds a vector under a new id, assigning it to the nearest centroid.
func (iv *IVF) Insert(ctx context.Context, id uint32, v []float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := index.ValidateVector(v, iv.dim); err != nil {
		return err
	}

	iv.mu.Lock()
	defer iv.mu.Unlock()

	if _, ok := iv.assign[id]; ok {
		return &index.ErrDuplicateNode{ID: id}
	}
	if err := iv.store.Set(id, v); err != nil {
		return err
	}

	cluster := 0
	if iv.centroids != nil {
		cluster = kmeans.Assign(v, iv.centroids, iv.dim, iv.dist)
	}
	iv.members[cluster] = append(iv.members[cluster], id)
	iv.assign[id] = cluster
	iv.count++
	if iv.centroids != nil {
		iv.churn++
	}
	return nil
}

// Update replaces the vector of a live id and moves it to the nearest
// centroid.
func (iv *IVF) Update(ctx context.Context, id uint32, v []float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := index.ValidateVector(v, iv.dim); err != nil {
		return err
	}

	iv.mu.Lock()
	defer iv.mu.Unlock()

	old, ok := iv.assign[id]
	if !ok {
		return &index.ErrNodeNotFound{ID: id}
	}
	if err := iv.store.Set(id, v); err != nil {
		return err
	}

	cluster := 0
	if iv.centroids != nil {
		cluster = kmeans.Assign(v, iv.centroids, iv.dim, iv.dist)
	}
	if cluster != old {
		iv.removeMemberLocked(old, id)
		iv.members[cluster] = append(iv.members[cluster], id)
		iv.assign[id] = cluster
	}
	if iv.centroids != nil {
		iv.churn++
	}
	return nil
}

// Delete removes id from its cluster.
func (iv *IVF) Delete(ctx context.Context, id uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	iv.mu.Lock()
	defer iv.mu.Unlock()

	cluster, ok := iv.assign[id]
	if !ok {
		return &index.ErrNodeNotFound{ID: id}
	}
	iv.removeMemberLocked(cluster, id)
	delete(iv.assign, id)
	iv.store.Delete(id)
	iv.count--
	if iv.centroids != nil {
		iv.churn++
	}
	return nil
}

func (iv *IVF) removeMemberLocked(cluster int, id uint32) {
	list := iv.members[cluster]
	for i, m := range list {
		if m == id {
			list[i] = list[len(list)-1]
			iv.members[cluster] = list[:len(list)-1]
			return
		}
	}
}

// Rebuild retrains centroids with k-means++ seeding and Lloyd's iterations
// over a sample of the live vectors, then reassigns every vector. It takes
// the index exclusively for its duration; concurrent rebuilds are rejected.
func (iv *IVF) Rebuild(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if !iv.rebuilding.CompareAndSwap(false, true) {
		return index.ErrRebuildInProgress
	}
	defer iv.rebuilding.Store(false)

	iv.mu.Lock()
	defer iv.mu.Unlock()

	ids := make([]uint32, 0, iv.count)
	for id := range iv.assign {
		ids = append(ids, id)
	}

	k := iv.opts.NList
	if len(ids) < k {
		// Too few vectors to cluster; stay in single-list mode.
		iv.centroids = nil
		iv.members = [][]uint32{append([]uint32(nil), ids...)}
		for _, id := range ids {
			iv.assign[id] = 0
		}
		iv.churn = 0
		return nil
	}

	sampleIDs := ids
	if len(sampleIDs) > iv.opts.TrainSample {
		iv.rng.Shuffle(len(sampleIDs), func(i, j int) {
			sampleIDs[i], sampleIDs[j] = sampleIDs[j], sampleIDs[i]
		})
		sampleIDs = sampleIDs[:iv.opts.TrainSample]
	}

	sample := make([]float32, 0, len(sampleIDs)*iv.dim)
	for _, id := range sampleIDs {
		vec := iv.store.Get(id)
		if vec == nil {
			continue
		}
		sample = append(sample, vec...)
	}

	centroids := kmeans.Train(sample, iv.dim, k, iv.dist, iv.opts.MaxIterations, iv.rng)
	if centroids == nil {
		return nil
	}

	members := make([][]uint32, k)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		vec := iv.store.Get(id)
		if vec == nil {
			continue
		}
		c := kmeans.Assign(vec, centroids, iv.dim, iv.dist)
		members[c] = append(members[c], id)
		iv.assign[id] = c
	}

	iv.centroids = centroids
	iv.members = members
	iv.churn = 0
	return nil
}

// KNNSearch probes the clusters closest to the query and returns the k
// closest members, ascending by distance. Probes past the first fan out
// concurrently. On deadline expiry it returns the best results over the
// clusters scanned so far with partial set to true.
func (iv *IVF) KNNSearch(ctx context.Context, query []float32, k int, opts index.SearchOptions) ([]index.Result, bool, error) {
	if err := index.ValidateK(k); err != nil {
		return nil, false, err
	}
	if err := index.ValidateVector(query, iv.dim); err != nil {
		return nil, false, err
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	iv.mu.RLock()
	defer iv.mu.RUnlock()

	if iv.count == 0 {
		return nil, false, nil
	}

	var probeLists [][]uint32
	if iv.centroids == nil {
		probeLists = [][]uint32{iv.members[0]}
	} else {
		nprobe := opts.NProbe
		if nprobe <= 0 {
			nprobe = iv.opts.NProbe
		}
		n := len(iv.members)
		if nprobe > n {
			nprobe = n
		}
		for _, c := range kmeans.Nearest(query, iv.centroids, iv.dim, nprobe, iv.dist) {
			probeLists = append(probeLists, iv.members[c])
		}
	}

	heaps := make([]*queue.Heap, len(probeLists))
	partials := make([]bool, len(probeLists))

	g, gctx := errgroup.WithContext(ctx)
	for i, list := range probeLists {
		g.Go(func() error {
			top := queue.NewMax(k)
			for j, id := range list {
				if j%checkEvery == checkEvery-1 && gctx.Err() != nil {
					partials[i] = true
					break
				}
				if !opts.Accept(id) {
					continue
				}
				vec := iv.store.Get(id)
				if vec == nil {
					continue
				}
				top.PushBounded(queue.Item{ID: id, Distance: iv.dist(query, vec)}, k)
			}
			heaps[i] = top
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, false, err
	}

	merged := queue.NewMax(k)
	partial := false
	for i, h := range heaps {
		if partials[i] {
			partial = true
		}
		for _, it := range h.Drain() {
			merged.PushBounded(it, k)
		}
	}

	items := merged.Drain()
	results := make([]index.Result, len(items))
	for i, it := range items {
		results[i] = index.Result{ID: it.ID, Distance: it.Distance}
	}
	return results, partial, nil
}

// DistanceFunc returns the metric the index ranks with.
func (iv *IVF) DistanceFunc() distance.Func { return iv.dist }
