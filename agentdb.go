package agentdb

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/qLeviathan/agentdb/cache"
	"github.com/qLeviathan/agentdb/collection"
	"github.com/qLeviathan/agentdb/config"
	"github.com/qLeviathan/agentdb/distance"
	"github.com/qLeviathan/agentdb/index"
	"github.com/qLeviathan/agentdb/index/flat"
	"github.com/qLeviathan/agentdb/index/hnsw"
	"github.com/qLeviathan/agentdb/index/ivf"
	"github.com/qLeviathan/agentdb/metadata"
	"github.com/qLeviathan/agentdb/planner"
	"github.com/qLeviathan/agentdb/quantization"
	"github.com/qLeviathan/agentdb/snapshot"
)

// SearchResult is one hit of a store-level search.
type SearchResult struct {
	ID       string
	Score    float32 // similarity in [0, 1] for cosine collections
	Distance float32
	Attrs    metadata.Document
}

// SearchOptions tunes a single search request.
type SearchOptions struct {
	// EFSearch overrides the HNSW candidate list size. Zero keeps the
	// engine default.
	EFSearch int

	// NProbe overrides the IVF probe count. Zero keeps the engine default.
	NProbe int
}

// Op re-exports the batch operation type for store-level batch writes.
type Op = collection.Op

// Batch operation kinds.
const (
	OpInsert = collection.OpInsert
	OpUpsert = collection.OpUpsert
	OpDelete = collection.OpDelete
)

// handle bundles everything the store keeps per collection.
type handle struct {
	col     *collection.Collection
	planner *planner.Planner
	buffer  *collection.Buffer
	cache   *cache.QueryCache
	records *cache.RecordCache
	metric  distance.Metric
	cfg     config.Collection
}

// newHandle builds the per-collection machinery: caches, a change hook that
// drops a record's cached copy before any write returns, the planner and
// the write buffer.
func newHandle(col *collection.Collection, cc config.Collection, metric distance.Metric) (*handle, error) {
	qc, err := cache.NewQueryCache(func(o *cache.Options) {
		o.Policy = cache.Policy(cc.Cache.Policy)
		o.Capacity = cc.Cache.Capacity
		o.TTL = cc.Cache.TTL.Std()
	})
	if err != nil {
		return nil, err
	}
	rc, err := cache.NewRecordCache(func(o *cache.Options) {
		o.Policy = cache.Policy(cc.Cache.Policy)
		o.Capacity = cc.Cache.Capacity
		o.TTL = cc.Cache.TTL.Std()
	})
	if err != nil {
		return nil, err
	}
	col.OnChange(func(ch collection.Change) {
		rc.Invalidate(ch.Num)
	})

	mode := collection.BlockOnFull
	if cc.Buffer.Backpressure == "reject" {
		mode = collection.RejectOnFull
	}
	return &handle{
		col: col,
		planner: planner.New(col, func(o *planner.Options) {
			o.Cache = qc
			o.Records = rc
		}),
		buffer: collection.NewBuffer(col, func(o *collection.BufferOptions) {
			o.MaxBatch = cc.Buffer.MaxBatch
			o.Mode = mode
		}),
		cache:   qc,
		records: rc,
		metric:  metric,
		cfg:     cc,
	}, nil
}

// Store is a multi-collection vector database.
type Store struct {
	mu      sync.RWMutex
	reg     *collection.Registry
	handles map[string]*handle

	logger    *Logger
	metrics   MetricsCollector
	snapshots *snapshot.Manager
}

// New creates an empty store.
func New(optFns ...Option) *Store {
	opts := Options{SnapshotCompression: snapshot.CompressionZstd}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = NoopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = NoopMetricsCollector{}
	}

	s := &Store{
		reg:     collection.NewRegistry(),
		handles: make(map[string]*handle),
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}
	if opts.SnapshotStore != nil {
		s.snapshots = snapshot.NewManager(opts.SnapshotStore, func(o *snapshot.Options) {
			o.Compression = opts.SnapshotCompression
		})
	}
	return s
}

// NewFromConfig creates a store and registers every collection in the fleet.
// The snapshot backend from the fleet is used unless an option overrides it.
func NewFromConfig(fleet config.Fleet, optFns ...Option) (*Store, error) {
	store, err := buildSnapshotStore(fleet.Snapshot)
	if err != nil {
		return nil, err
	}
	comp, err := snapshot.ParseCompression(fleet.Snapshot.Compression)
	if err != nil {
		return nil, err
	}

	base := []Option{WithSnapshotCompression(comp)}
	if store != nil {
		base = append(base, WithSnapshotStore(store))
	}
	s := New(append(base, optFns...)...)

	for _, cc := range fleet.Collections {
		if err := s.CreateCollection(cc); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func buildSnapshotStore(sc config.SnapshotConfig) (snapshot.BlobStore, error) {
	var store snapshot.BlobStore
	switch sc.Backend {
	case "", "memory":
		store = snapshot.NewMemoryStore()
	case "local":
		local, err := snapshot.NewLocalStore(sc.Path)
		if err != nil {
			return nil, err
		}
		store = local
	case "s3":
		client, err := newMinIOClient(sc.S3)
		if err != nil {
			return nil, err
		}
		store = snapshot.NewMinIOStore(client, sc.S3.Bucket, "snapshots")
	default:
		return nil, fmt.Errorf("unknown snapshot backend %q", sc.Backend)
	}

	if sc.UploadRate > 0 {
		store = snapshot.NewThrottledStore(store, sc.UploadRate)
	}
	if sc.Retry.MaxAttempts > 1 {
		store = snapshot.NewRetryStore(store, sc.Retry.MaxAttempts, sc.Retry.BaseDelay.Std())
	}
	return store, nil
}

// CreateCollection registers a collection built from its configuration.
func (s *Store) CreateCollection(cc config.Collection) error {
	cc.ApplyDefaults()
	if err := cc.Validate(); err != nil {
		return err
	}

	metric, err := distance.ParseMetric(cc.DistanceMetric)
	if err != nil {
		return err
	}
	engine, err := buildEngine(cc, metric)
	if err != nil {
		return err
	}

	schema, kinds := cc.MetadataSchema()
	col, err := collection.New(cc.Name, engine, func(o *collection.Options) {
		o.Schema = schema
		o.IndexKinds = kinds
		o.Normalize = metric == distance.MetricCosine
	})
	if err != nil {
		return err
	}

	h, err := newHandle(col, cc, metric)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.reg.Register(col); err != nil {
		return err
	}
	s.handles[cc.Name] = h
	return nil
}

func buildEngine(cc config.Collection, metric distance.Metric) (index.Index, error) {
	dist, err := distance.Provider(metric)
	if err != nil {
		return nil, err
	}

	var store index.VectorStore
	if cc.Quantization.Enabled {
		codec, err := quantization.NewScalarCodec(cc.Dimension, cc.Quantization.Bits)
		if err != nil {
			return nil, err
		}
		store = index.NewQuantizedStore(cc.Dimension, codec)
	} else {
		store = index.NewDenseStore(cc.Dimension)
	}

	switch cc.IndexKind {
	case "flat":
		return flat.New(cc.Dimension, func(o *flat.Options) {
			o.DistanceFunc = dist
			o.Store = store
		})
	case "hnsw":
		return hnsw.New(cc.Dimension, func(o *hnsw.Options) {
			o.DistanceFunc = dist
			o.Store = store
			o.M = cc.HNSW.M
			o.EFConstruction = cc.HNSW.EFConstruction
			o.EFSearch = cc.HNSW.EFSearch
		})
	case "ivf":
		return ivf.New(cc.Dimension, func(o *ivf.Options) {
			o.DistanceFunc = dist
			o.Store = store
			o.NList = cc.IVF.NList
			o.NProbe = cc.IVF.NProbe
		})
	default:
		return nil, fmt.Errorf("unknown index kind %q", cc.IndexKind)
	}
}

// DropCollection removes a collection and its caches.
func (s *Store) DropCollection(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.reg.Drop(name); err != nil {
		return translateError(err)
	}
	delete(s.handles, name)
	return nil
}

// Collections returns the registered collection names, sorted.
func (s *Store) Collections() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reg.Names()
}

func (s *Store) handle(name string) (*handle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.handles[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCollection, name)
	}
	return h, nil
}

// Insert adds a record. An empty id gets a generated UUID; the stored id is
// returned.
func (s *Store) Insert(ctx context.Context, coll, id string, embedding []float32, attrs metadata.Document) (string, error) {
	h, err := s.handle(coll)
	if err != nil {
		return "", err
	}
	start := time.Now()
	storedID, err := h.col.Insert(ctx, id, embedding, attrs)
	err = translateError(err)
	s.metrics.RecordWrite(coll, "insert", time.Since(start), err)
	s.logger.LogWrite(ctx, "insert", coll, storedID, err)
	return storedID, err
}

// Upsert replaces an existing record. Upserting a missing id fails with
// ErrNotFound.
func (s *Store) Upsert(ctx context.Context, coll, id string, embedding []float32, attrs metadata.Document) error {
	h, err := s.handle(coll)
	if err != nil {
		return err
	}
	start := time.Now()
	err = translateError(h.col.Upsert(ctx, id, embedding, attrs))
	s.metrics.RecordWrite(coll, "upsert", time.Since(start), err)
	s.logger.LogWrite(ctx, "upsert", coll, id, err)
	return err
}

// Delete removes a record.
func (s *Store) Delete(ctx context.Context, coll, id string) error {
	h, err := s.handle(coll)
	if err != nil {
		return err
	}
	start := time.Now()
	err = translateError(h.col.Delete(ctx, id))
	s.metrics.RecordWrite(coll, "delete", time.Since(start), err)
	s.logger.LogWrite(ctx, "delete", coll, id, err)
	return err
}

// Get fetches a record by id.
func (s *Store) Get(coll, id string) (collection.Record, error) {
	h, err := s.handle(coll)
	if err != nil {
		return collection.Record{}, err
	}
	rec, ok := h.col.Get(id)
	if !ok {
		return collection.Record{}, fmt.Errorf("%w: %s/%s", ErrNotFound, coll, id)
	}
	return rec, nil
}

// Search runs a filtered k-nearest-neighbor query. The returned partial flag
// marks results truncated by the context deadline. Scores map cosine
// distance onto similarity; for euclidean collections the score decays with
// distance.
func (s *Store) Search(ctx context.Context, coll string, query []float32, k int, fs *metadata.FilterSet, optFns ...func(o *SearchOptions)) ([]SearchResult, bool, error) {
	h, err := s.handle(coll)
	if err != nil {
		return nil, false, err
	}

	var opts SearchOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	q := query
	if h.metric == distance.MetricCosine {
		normalized, ok := distance.NormalizeL2Copy(query)
		if !ok {
			return nil, false, &ErrDimensionMismatch{Expected: h.col.Dimension(), Actual: len(query)}
		}
		q = normalized
	}

	before, _ := h.cache.Stats()
	start := time.Now()
	hits, partial, err := h.planner.Search(ctx, q, k, fs, index.SearchOptions{
		EFSearch: opts.EFSearch,
		NProbe:   opts.NProbe,
	})
	err = translateError(err)
	after, _ := h.cache.Stats()

	s.metrics.RecordSearch(coll, k, time.Since(start), partial, err)
	s.metrics.RecordCache(coll, after > before)
	s.logger.LogSearch(ctx, coll, k, len(hits), partial, err)
	if err != nil {
		return nil, partial, err
	}

	results := make([]SearchResult, len(hits))
	for i, hit := range hits {
		results[i] = SearchResult{
			ID:       hit.ID,
			Score:    score(h.metric, hit.Distance),
			Distance: hit.Distance,
			Attrs:    hit.Attrs,
		}
	}
	return results, partial, nil
}

func score(m distance.Metric, dist float32) float32 {
	if m == distance.MetricCosine {
		sc := 1 - dist
		if sc < 0 {
			return 0
		}
		return sc
	}
	return 1 / (1 + dist)
}

// Enqueue adds an operation to the collection's write buffer, applying the
// configured backpressure when full.
func (s *Store) Enqueue(ctx context.Context, coll string, op Op) error {
	h, err := s.handle(coll)
	if err != nil {
		return err
	}
	return translateError(h.buffer.Enqueue(ctx, op))
}

// FlushBatch applies the buffered operations atomically: either every
// operation commits or none do.
func (s *Store) FlushBatch(ctx context.Context, coll string) error {
	h, err := s.handle(coll)
	if err != nil {
		return err
	}
	count := h.buffer.Len()
	start := time.Now()
	err = translateError(h.buffer.Flush(ctx))
	s.metrics.RecordBatch(coll, count, time.Since(start), err)
	s.logger.LogBatch(ctx, coll, count, err)
	return err
}

// ApplyBatch validates and applies ops as one atomic batch, bypassing the
// buffer.
func (s *Store) ApplyBatch(ctx context.Context, coll string, ops []Op) error {
	h, err := s.handle(coll)
	if err != nil {
		return err
	}
	start := time.Now()
	err = translateError(h.col.ApplyBatch(ctx, ops))
	s.metrics.RecordBatch(coll, len(ops), time.Since(start), err)
	s.logger.LogBatch(ctx, coll, len(ops), err)
	return err
}

// Rebuild reconstructs the collection's index: HNSW drops tombstones, IVF
// retrains its clusters.
func (s *Store) Rebuild(ctx context.Context, coll string) error {
	h, err := s.handle(coll)
	if err != nil {
		return err
	}
	err = translateError(h.col.Rebuild(ctx))
	s.logger.LogRebuild(ctx, coll, err)
	return err
}

// Snapshot persists the collection to the configured blob store under
// "<collection>/<name>".
func (s *Store) Snapshot(ctx context.Context, coll, name string) error {
	if s.snapshots == nil {
		return ErrNoSnapshotStore
	}
	h, err := s.handle(coll)
	if err != nil {
		return err
	}
	blob := coll + "/" + name
	err = s.snapshots.Snapshot(ctx, blob, h.col)
	s.logger.LogSnapshot(ctx, "save", coll, blob, err)
	return err
}

// Restore replaces the collection contents from a stored snapshot. A corrupt
// serialized engine is rebuilt from the snapshot's records.
func (s *Store) Restore(ctx context.Context, coll, name string) error {
	if s.snapshots == nil {
		return ErrNoSnapshotStore
	}
	h, err := s.handle(coll)
	if err != nil {
		return err
	}

	// The restored collection must start from an empty engine.
	fresh, err := buildEngine(h.cfg, h.metric)
	if err != nil {
		return err
	}
	schema, kinds := h.cfg.MetadataSchema()
	col, err := collection.New(h.cfg.Name, fresh, func(o *collection.Options) {
		o.Schema = schema
		o.IndexKinds = kinds
		o.Normalize = h.metric == distance.MetricCosine
	})
	if err != nil {
		return err
	}

	blob := coll + "/" + name
	if err := s.snapshots.Restore(ctx, blob, col); err != nil {
		s.logger.LogSnapshot(ctx, "restore", coll, blob, err)
		return err
	}

	nh, err := newHandle(col, h.cfg, h.metric)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.reg.Drop(coll)
	if err := s.reg.Register(col); err != nil {
		return err
	}
	s.handles[coll] = nh
	s.logger.LogSnapshot(ctx, "restore", coll, blob, nil)
	return nil
}

// CollectionStats is a point-in-time view of one collection.
type CollectionStats struct {
	Name          string
	Count         int
	Version       uint64
	CacheHits     uint64
	CacheMisses   uint64
	CachedRecords int
}

// Stats reports counters for one collection.
func (s *Store) Stats(coll string) (CollectionStats, error) {
	h, err := s.handle(coll)
	if err != nil {
		return CollectionStats{}, err
	}
	hits, misses := h.cache.Stats()
	return CollectionStats{
		Name:          coll,
		Count:         h.col.Count(),
		Version:       h.col.Version(),
		CacheHits:     hits,
		CacheMisses:   misses,
		CachedRecords: h.records.Len(),
	}, nil
}
