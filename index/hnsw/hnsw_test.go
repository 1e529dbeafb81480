package hnsw

import (
	"context"
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qLeviathan/agentdb/index"
	"github.com/qLeviathan/agentdb/quantization"
)

func newGraph(t *testing.T, dim int, optFns ...func(o *Options)) *HNSW {
	t.Helper()
	h, err := New(dim, optFns...)
	require.NoError(t, err)
	return h
}

func TestHNSWInsertAndSearch(t *testing.T) {
	ctx := context.Background()
	h := newGraph(t, 2)

	require.NoError(t, h.Insert(ctx, 0, []float32{0, 0}))
	require.NoError(t, h.Insert(ctx, 1, []float32{1, 0}))
	require.NoError(t, h.Insert(ctx, 2, []float32{0, 5}))
	require.NoError(t, h.Insert(ctx, 3, []float32{5, 5}))
	assert.Equal(t, 4, h.Count())

	results, partial, err := h.KNNSearch(ctx, []float32{0.2, 0}, 2, index.SearchOptions{})
	require.NoError(t, err)
	assert.False(t, partial)
	require.Len(t, results, 2)
	assert.Equal(t, uint32(0), results[0].ID)
	assert.Equal(t, uint32(1), results[1].ID)
}

func TestHNSWRecall(t *testing.T) {
	ctx := context.Background()
	dim := 8
	n := 500
	h := newGraph(t, dim, func(o *Options) {
		o.M = 16
		o.EFConstruction = 200
	})

	rng := rand.New(rand.NewSource(42))
	vectors := make([][]float32, n)
	for i := 0; i < n; i++ {
		v := make([]float32, dim)
		for j := range v {
			v[j] = rng.Float32()
		}
		vectors[i] = v
		require.NoError(t, h.Insert(ctx, uint32(i), v))
	}

	// Exact nearest by brute force, compared against graph results.
	hits := 0
	queries := 20
	k := 10
	for qi := 0; qi < queries; qi++ {
		q := vectors[rng.Intn(n)]

		type pair struct {
			id   uint32
			dist float32
		}
		exact := make([]pair, n)
		for i, v := range vectors {
			var d float32
			for j := range q {
				diff := q[j] - v[j]
				d += diff * diff
			}
			exact[i] = pair{id: uint32(i), dist: d}
		}
		for i := 0; i < k; i++ {
			minIdx := i
			for j := i + 1; j < n; j++ {
				if exact[j].dist < exact[minIdx].dist {
					minIdx = j
				}
			}
			exact[i], exact[minIdx] = exact[minIdx], exact[i]
		}

		got, _, err := h.KNNSearch(ctx, q, k, index.SearchOptions{EFSearch: 200})
		require.NoError(t, err)

		want := make(map[uint32]bool, k)
		for i := 0; i < k; i++ {
			want[exact[i].id] = true
		}
		for _, r := range got {
			if want[r.ID] {
				hits++
			}
		}
	}

	recall := float64(hits) / float64(queries*k)
	assert.Greater(t, recall, 0.9, "recall %f too low", recall)
}

func TestHNSWResultsAscending(t *testing.T) {
	ctx := context.Background()
	h := newGraph(t, 4)
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 100; i++ {
		v := []float32{rng.Float32(), rng.Float32(), rng.Float32(), rng.Float32()}
		require.NoError(t, h.Insert(ctx, uint32(i), v))
	}

	results, _, err := h.KNNSearch(ctx, []float32{0.5, 0.5, 0.5, 0.5}, 10, index.SearchOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i].Distance, results[i-1].Distance)
	}
}

func TestHNSWDelete(t *testing.T) {
	ctx := context.Background()
	h := newGraph(t, 2)

	for i := 0; i < 20; i++ {
		require.NoError(t, h.Insert(ctx, uint32(i), []float32{float32(i), 0}))
	}
	require.NoError(t, h.Delete(ctx, 0))
	assert.Equal(t, 19, h.Count())
	assert.False(t, h.Contains(0))

	results, _, err := h.KNNSearch(ctx, []float32{0, 0}, 5, index.SearchOptions{})
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, uint32(0), r.ID)
	}

	var nf *index.ErrNodeNotFound
	require.ErrorAs(t, h.Delete(ctx, 0), &nf)
	require.ErrorAs(t, h.Delete(ctx, 99), &nf)
}

func TestHNSWDuplicateInsert(t *testing.T) {
	ctx := context.Background()
	h := newGraph(t, 2)

	require.NoError(t, h.Insert(ctx, 5, []float32{1, 1}))
	var dup *index.ErrDuplicateNode
	require.ErrorAs(t, h.Insert(ctx, 5, []float32{2, 2}), &dup)

	// A tombstoned id can be reused.
	require.NoError(t, h.Delete(ctx, 5))
	require.NoError(t, h.Insert(ctx, 5, []float32{3, 3}))
	assert.True(t, h.Contains(5))
}

func TestHNSWUpdate(t *testing.T) {
	ctx := context.Background()
	h := newGraph(t, 2)

	require.NoError(t, h.Insert(ctx, 0, []float32{0, 0}))
	require.NoError(t, h.Insert(ctx, 1, []float32{10, 10}))
	require.NoError(t, h.Update(ctx, 1, []float32{0.1, 0}))

	results, _, err := h.KNNSearch(ctx, []float32{0.1, 0}, 1, index.SearchOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, uint32(1), results[0].ID)

	var nf *index.ErrNodeNotFound
	require.ErrorAs(t, h.Update(ctx, 42, []float32{1, 1}), &nf)
}

func TestHNSWFilter(t *testing.T) {
	ctx := context.Background()
	h := newGraph(t, 1)

	for i := 0; i < 50; i++ {
		require.NoError(t, h.Insert(ctx, uint32(i), []float32{float32(i)}))
	}

	results, _, err := h.KNNSearch(ctx, []float32{0}, 5, index.SearchOptions{
		EFSearch: 50,
		Filter:   func(id uint32) bool { return id >= 10 },
	})
	require.NoError(t, err)
	for _, r := range results {
		assert.GreaterOrEqual(t, r.ID, uint32(10))
	}
}

func TestHNSWRebuildDropsTombstones(t *testing.T) {
	ctx := context.Background()
	h := newGraph(t, 2)

	for i := 0; i < 30; i++ {
		require.NoError(t, h.Insert(ctx, uint32(i), []float32{float32(i), float32(i)}))
	}
	for i := 0; i < 10; i++ {
		require.NoError(t, h.Delete(ctx, uint32(i)))
	}

	require.NoError(t, h.Rebuild(ctx))
	assert.Equal(t, 20, h.Count())

	results, _, err := h.KNNSearch(ctx, []float32{0, 0}, 5, index.SearchOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, uint32(10), results[0].ID)
}

func TestHNSWQuantizedStore(t *testing.T) {
	ctx := context.Background()
	codec, err := quantization.NewScalarCodec(4, 8)
	require.NoError(t, err)

	h := newGraph(t, 4, func(o *Options) {
		o.Store = index.NewQuantizedStore(4, codec)
	})

	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 100; i++ {
		v := []float32{rng.Float32(), rng.Float32(), rng.Float32(), rng.Float32()}
		require.NoError(t, h.Insert(ctx, uint32(i), v))
	}

	results, _, err := h.KNNSearch(ctx, []float32{0.5, 0.5, 0.5, 0.5}, 5, index.SearchOptions{})
	require.NoError(t, err)
	assert.Len(t, results, 5)
}

func TestHNSWEmptyGraph(t *testing.T) {
	ctx := context.Background()
	h := newGraph(t, 2)

	results, partial, err := h.KNNSearch(ctx, []float32{1, 1}, 3, index.SearchOptions{})
	require.NoError(t, err)
	assert.False(t, partial)
	assert.Empty(t, results)
}

func TestHNSWExpiredDeadline(t *testing.T) {
	ctx := context.Background()
	h := newGraph(t, 2)
	for i := 0; i < 100; i++ {
		require.NoError(t, h.Insert(ctx, uint32(i), []float32{float32(i % 10), float32(i / 10)}))
	}

	expired, cancel := context.WithDeadline(ctx, time.Now().Add(-time.Millisecond))
	defer cancel()

	_, _, err := h.KNNSearch(expired, []float32{0, 0}, 5, index.SearchOptions{})
	assert.Error(t, err)
}

func TestHNSWGobRoundTrip(t *testing.T) {
	ctx := context.Background()
	h := newGraph(t, 2)
	for i := 0; i < 50; i++ {
		require.NoError(t, h.Insert(ctx, uint32(i), []float32{float32(i), 1}))
	}
	require.NoError(t, h.Delete(ctx, 3))

	data, err := h.GobEncode()
	require.NoError(t, err)

	restored := newGraph(t, 2)
	require.NoError(t, restored.GobDecode(data))

	assert.Equal(t, 49, restored.Count())
	assert.False(t, restored.Contains(3))

	results, _, err := restored.KNNSearch(ctx, []float32{0, 1}, 3, index.SearchOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, uint32(0), results[0].ID)
}

func TestHNSWRecallImprovesWithEFSearch(t *testing.T) {
	ctx := context.Background()
	dim := 8
	n := 600
	k := 10
	h := newGraph(t, dim, func(o *Options) {
		o.M = 8
		o.EFConstruction = 80
	})

	rng := rand.New(rand.NewSource(7))
	vectors := make([][]float32, n)
	for i := 0; i < n; i++ {
		v := make([]float32, dim)
		for j := range v {
			v[j] = rng.Float32()
		}
		vectors[i] = v
		require.NoError(t, h.Insert(ctx, uint32(i), v))
	}

	queries := make([][]float32, 20)
	exact := make([]map[uint32]bool, len(queries))
	for qi := range queries {
		q := vectors[rng.Intn(n)]
		queries[qi] = q

		type pair struct {
			id   uint32
			dist float32
		}
		all := make([]pair, n)
		for i, v := range vectors {
			var d float32
			for j := range q {
				diff := q[j] - v[j]
				d += diff * diff
			}
			all[i] = pair{id: uint32(i), dist: d}
		}
		sort.Slice(all, func(a, b int) bool { return all[a].dist < all[b].dist })
		want := make(map[uint32]bool, k)
		for i := 0; i < k; i++ {
			want[all[i].id] = true
		}
		exact[qi] = want
	}

	recallAt := func(efSearch int) float64 {
		hits := 0
		for qi, q := range queries {
			got, _, err := h.KNNSearch(ctx, q, k, index.SearchOptions{EFSearch: efSearch})
			require.NoError(t, err)
			for _, r := range got {
				if exact[qi][r.ID] {
					hits++
				}
			}
		}
		return float64(hits) / float64(len(queries)*k)
	}

	low := recallAt(k)
	high := recallAt(300)
	assert.GreaterOrEqual(t, high, low, "recall fell from %f to %f as efSearch grew", low, high)
	assert.Greater(t, high, 0.9, "recall %f too low at efSearch=300", high)
}
