package agentdb

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qLeviathan/agentdb/config"
	"github.com/qLeviathan/agentdb/index"
	"github.com/qLeviathan/agentdb/metadata"
	"github.com/qLeviathan/agentdb/snapshot"
)

func flatCollection(name string, dim int) config.Collection {
	return config.Collection{Name: name, Dimension: dim, IndexKind: "flat"}
}

func randomVector(rng *rand.Rand, dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = rng.Float32()*2 - 1
	}
	return v
}

func TestStoreSelfRetrieval(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateCollection(config.Collection{
		Name: "docs", Dimension: 16, IndexKind: "hnsw",
	}))

	rng := rand.New(rand.NewSource(42))
	vectors := make(map[string][]float32)
	for i := 0; i < 200; i++ {
		id := fmt.Sprintf("d%d", i)
		vectors[id] = randomVector(rng, 16)
		_, err := s.Insert(ctx, "docs", id, vectors[id], nil)
		require.NoError(t, err)
	}

	// Querying with a stored vector returns that record first with a
	// score close to 1.
	results, partial, err := s.Search(ctx, "docs", vectors["d17"], 1, nil)
	require.NoError(t, err)
	assert.False(t, partial)
	require.Len(t, results, 1)
	assert.Equal(t, "d17", results[0].ID)
	assert.InDelta(t, 1.0, float64(results[0].Score), 1e-4)
}

func TestStoreQuantizedRecall(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateCollection(config.Collection{
		Name: "q", Dimension: 8, IndexKind: "flat",
		Quantization: config.QuantizationConfig{Enabled: true, Bits: 8},
	}))

	rng := rand.New(rand.NewSource(7))
	stored := make([][]float32, 50)
	for i := range stored {
		stored[i] = randomVector(rng, 8)
		_, err := s.Insert(ctx, "q", fmt.Sprintf("v%d", i), stored[i], nil)
		require.NoError(t, err)
	}

	// 8-bit quantization keeps the self-match on top despite rounding.
	results, _, err := s.Search(ctx, "q", stored[13], 1, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "v13", results[0].ID)
}

func TestStoreUpsertAndDelete(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateCollection(flatCollection("c", 2)))

	_, err := s.Insert(ctx, "c", "a", []float32{1, 0}, nil)
	require.NoError(t, err)

	// Upserting a missing id is an error, not an insert.
	err = s.Upsert(ctx, "c", "ghost", []float32{0, 1}, nil)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Upsert(ctx, "c", "a", []float32{0, 1}, nil))
	rec, err := s.Get("c", "a")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, float64(rec.Embedding[1]), 1e-6)

	// Duplicate insert fails.
	_, err = s.Insert(ctx, "c", "a", []float32{1, 1}, nil)
	assert.ErrorIs(t, err, ErrDuplicateID)

	require.NoError(t, s.Delete(ctx, "c", "a"))
	_, err = s.Get("c", "a")
	assert.ErrorIs(t, err, ErrNotFound)

	results, _, err := s.Search(ctx, "c", []float32{0, 1}, 1, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestStoreUnknownCollection(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.Insert(ctx, "nope", "", []float32{1}, nil)
	assert.ErrorIs(t, err, ErrUnknownCollection)
	_, _, err = s.Search(ctx, "nope", []float32{1}, 1, nil)
	assert.ErrorIs(t, err, ErrUnknownCollection)
	assert.ErrorIs(t, s.DropCollection("nope"), ErrUnknownCollection)
}

func TestStoreFilteredSearch(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateCollection(config.Collection{
		Name: "mem", Dimension: 2, IndexKind: "flat",
		Schema: []config.SchemaField{
			{Name: "agent", Type: "string", Index: "set"},
		},
	}))

	for i := 0; i < 20; i++ {
		agent := "alpha"
		if i%2 == 1 {
			agent = "beta"
		}
		_, err := s.Insert(ctx, "mem", "", []float32{float32(i), 1},
			metadata.Document{"agent": metadata.String(agent)})
		require.NoError(t, err)
	}

	results, _, err := s.Search(ctx, "mem", []float32{0, 1}, 5,
		metadata.And(metadata.Eq("agent", metadata.String("beta"))))
	require.NoError(t, err)
	require.Len(t, results, 5)
	for _, r := range results {
		assert.Equal(t, "beta", r.Attrs["agent"].S)
	}
}

func TestStoreBatch(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateCollection(flatCollection("b", 2)))

	require.NoError(t, s.Enqueue(ctx, "b", Op{Kind: OpInsert, ID: "x", Embedding: []float32{1, 0}}))
	require.NoError(t, s.Enqueue(ctx, "b", Op{Kind: OpInsert, ID: "y", Embedding: []float32{0, 1}}))
	require.NoError(t, s.FlushBatch(ctx, "b"))

	st, err := s.Stats("b")
	require.NoError(t, err)
	assert.Equal(t, 2, st.Count)

	// A batch with one invalid op applies nothing.
	err = s.ApplyBatch(ctx, "b", []Op{
		{Kind: OpInsert, ID: "z", Embedding: []float32{1, 1}},
		{Kind: OpInsert, ID: "x", Embedding: []float32{2, 2}}, // duplicate
	})
	assert.ErrorIs(t, err, ErrDuplicateID)
	_, err = s.Get("b", "z")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreCacheStats(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateCollection(flatCollection("c", 2)))
	_, err := s.Insert(ctx, "c", "a", []float32{1, 0}, nil)
	require.NoError(t, err)

	query := []float32{1, 0}
	_, _, err = s.Search(ctx, "c", query, 1, nil)
	require.NoError(t, err)
	_, _, err = s.Search(ctx, "c", query, 1, nil)
	require.NoError(t, err)

	st, err := s.Stats("c")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), st.CacheHits)
}

func TestStoreSnapshotRestore(t *testing.T) {
	ctx := context.Background()
	s := New(WithSnapshotStore(snapshot.NewMemoryStore()))
	require.NoError(t, s.CreateCollection(flatCollection("c", 2)))

	for i := 0; i < 5; i++ {
		_, err := s.Insert(ctx, "c", fmt.Sprintf("r%d", i), []float32{float32(i), 1}, nil)
		require.NoError(t, err)
	}
	require.NoError(t, s.Snapshot(ctx, "c", "v1"))

	// Mutate after the snapshot, then restore back.
	require.NoError(t, s.Delete(ctx, "c", "r0"))
	_, err := s.Insert(ctx, "c", "extra", []float32{9, 9}, nil)
	require.NoError(t, err)

	require.NoError(t, s.Restore(ctx, "c", "v1"))

	st, err := s.Stats("c")
	require.NoError(t, err)
	assert.Equal(t, 5, st.Count)
	_, err = s.Get("c", "r0")
	require.NoError(t, err)
	_, err = s.Get("c", "extra")
	assert.ErrorIs(t, err, ErrNotFound)

	results, _, err := s.Search(ctx, "c", []float32{2, 1}, 1, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "r2", results[0].ID)
}

func TestStoreSnapshotWithoutBackend(t *testing.T) {
	s := New()
	require.NoError(t, s.CreateCollection(flatCollection("c", 2)))
	assert.ErrorIs(t, s.Snapshot(context.Background(), "c", "v1"), ErrNoSnapshotStore)
	assert.ErrorIs(t, s.Restore(context.Background(), "c", "v1"), ErrNoSnapshotStore)
}

func TestNewFromConfig(t *testing.T) {
	ctx := context.Background()
	fleet, err := config.Parse([]byte(`
collections:
  - name: notes
    dimension: 4
    index_kind: hnsw
  - name: euclid
    dimension: 4
    distance_metric: euclidean
`))
	require.NoError(t, err)

	s, err := NewFromConfig(fleet)
	require.NoError(t, err)
	assert.Equal(t, []string{"euclid", "notes"}, s.Collections())

	_, err = s.Insert(ctx, "notes", "n1", []float32{1, 2, 3, 4}, nil)
	require.NoError(t, err)
	results, _, err := s.Search(ctx, "notes", []float32{1, 2, 3, 4}, 1, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "n1", results[0].ID)
}

func TestStoreIVFRecallImprovesWithNProbe(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateCollection(config.Collection{
		Name: "ivf", Dimension: 4, IndexKind: "ivf",
		DistanceMetric: "euclidean",
		IVF:            config.IVFConfig{NList: 16, NProbe: 1},
	}))

	rng := rand.New(rand.NewSource(3))
	vectors := make([][]float32, 400)
	for i := range vectors {
		vectors[i] = randomVector(rng, 4)
		_, err := s.Insert(ctx, "ivf", fmt.Sprintf("v%d", i), vectors[i], nil)
		require.NoError(t, err)
	}
	require.NoError(t, s.Rebuild(ctx, "ivf"))

	recall := func(nprobe int) float64 {
		found := 0
		for i := 0; i < 50; i++ {
			results, _, err := s.Search(ctx, "ivf", vectors[i], 1, nil,
				func(o *SearchOptions) { o.NProbe = nprobe })
			require.NoError(t, err)
			if len(results) > 0 && results[0].ID == fmt.Sprintf("v%d", i) {
				found++
			}
		}
		return float64(found) / 50
	}

	low := recall(1)
	high := recall(16)
	assert.GreaterOrEqual(t, high, low)
	assert.Equal(t, 1.0, high) // probing every list is exact
}

func TestScore(t *testing.T) {
	assert.InDelta(t, 1.0, float64(score(0, 0)), 1e-9)
	assert.Equal(t, float32(0), score(0, 1.5))
	euclid := score(1, 3)
	assert.InDelta(t, 0.25, float64(euclid), 1e-6)
	assert.False(t, math.IsNaN(float64(euclid)))
}

func TestStoreConcurrentWritesAndSearches(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateCollection(config.Collection{
		Name: "live", Dimension: 8, IndexKind: "hnsw",
	}))

	rng := rand.New(rand.NewSource(3))
	seed := make([][]float32, 50)
	for i := range seed {
		seed[i] = randomVector(rng, 8)
		_, err := s.Insert(ctx, "live", fmt.Sprintf("seed%d", i), seed[i], nil)
		require.NoError(t, err)
	}

	// One writer keeps inserting while readers search; searches must stay
	// error-free and every accepted write must land.
	const writes = 200
	var wg sync.WaitGroup
	errs := make(chan error, writes+4)

	wg.Add(1)
	go func() {
		defer wg.Done()
		wrng := rand.New(rand.NewSource(4))
		for i := 0; i < writes; i++ {
			if _, err := s.Insert(ctx, "live", fmt.Sprintf("w%d", i), randomVector(wrng, 8), nil); err != nil {
				errs <- err
				return
			}
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			qrng := rand.New(rand.NewSource(int64(100 + r)))
			for i := 0; i < 50; i++ {
				if _, _, err := s.Search(ctx, "live", randomVector(qrng, 8), 5, nil); err != nil {
					errs <- err
					return
				}
			}
		}(r)
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	stats, err := s.Stats("live")
	require.NoError(t, err)
	assert.Equal(t, len(seed)+writes, stats.Count)
}

func TestTranslateRebuildInProgress(t *testing.T) {
	err := translateError(fmt.Errorf("rebuild: %w", index.ErrRebuildInProgress))
	assert.ErrorIs(t, err, ErrRebuildInProgress)
}

func TestStoreRecordCacheInvalidation(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateCollection(config.Collection{
		Name: "rc", Dimension: 2, IndexKind: "flat",
		Schema: []config.SchemaField{
			{Name: "label", Type: "string"},
		},
	}))

	for i := 0; i < 10; i++ {
		_, err := s.Insert(ctx, "rc", fmt.Sprintf("r%d", i), []float32{float32(i), 1},
			metadata.Document{"label": metadata.String("old")})
		require.NoError(t, err)
	}

	// The search hydrates hits through the record cache.
	results, _, err := s.Search(ctx, "rc", []float32{0, 1}, 3, nil)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "old", results[0].Attrs["label"].S)

	stats, err := s.Stats("rc")
	require.NoError(t, err)
	assert.Greater(t, stats.CachedRecords, 0)

	// The write drops the cached copy, so the next search sees the new
	// attributes instead of the hydrated ones.
	top := results[0].ID
	require.NoError(t, s.Upsert(ctx, "rc", top, []float32{0, 1},
		metadata.Document{"label": metadata.String("new")}))

	results, _, err = s.Search(ctx, "rc", []float32{0, 1}, 3, nil)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, top, results[0].ID)
	assert.Equal(t, "new", results[0].Attrs["label"].S)
}

func TestStoreEmptyResultNotStaleAfterInsert(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateCollection(config.Collection{
		Name: "er", Dimension: 2, IndexKind: "flat",
		Schema: []config.SchemaField{
			{Name: "agent", Type: "string", Index: "set"},
		},
	}))

	_, err := s.Insert(ctx, "er", "a", []float32{1, 0},
		metadata.Document{"agent": metadata.String("alpha")})
	require.NoError(t, err)

	beta := metadata.And(metadata.Eq("agent", metadata.String("beta")))
	results, _, err := s.Search(ctx, "er", []float32{1, 0}, 5, beta)
	require.NoError(t, err)
	assert.Empty(t, results)

	// The cached empty answer must not survive a write that matches it.
	_, err = s.Insert(ctx, "er", "b", []float32{0.9, 0},
		metadata.Document{"agent": metadata.String("beta")})
	require.NoError(t, err)

	results, _, err = s.Search(ctx, "er", []float32{1, 0}, 5, beta)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "b", results[0].ID)
}
