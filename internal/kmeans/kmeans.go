// Package kmeans implements Lloyd's algorithm with k-means++ seeding for
// IVF centroid training.
package kmeans

import (
	"math"
	"math/rand"

	"github.com/qLeviathan/agentdb/distance"
)

// Train clusters the given flattened vectors (n * dim) into k centroids.
// Seeding uses k-means++ and the iteration count is capped by maxIter.
// Returns flattened centroids (k * dim), or nil if fewer than k vectors
// are available.
func Train(vectors []float32, dim, k int, distFunc distance.Func, maxIter int, rng *rand.Rand) []float32 {
	n := len(vectors) / dim
	if n < k || k <= 0 {
		return nil
	}

	centroids := seedPlusPlus(vectors, dim, k, distFunc, rng)

	assignments := make([]int, n)
	counts := make([]int, k)
	sums := make([]float32, k*dim)

	for iter := 0; iter < maxIter; iter++ {
		changed := false

		for i := 0; i < n; i++ {
			vec := vectors[i*dim : (i+1)*dim]
			best := Assign(vec, centroids, dim, distFunc)
			if assignments[i] != best {
				assignments[i] = best
				changed = true
			}
		}

		if !changed && iter > 0 {
			break
		}

		for i := range sums {
			sums[i] = 0
		}
		for i := range counts {
			counts[i] = 0
		}
		for i := 0; i < n; i++ {
			c := assignments[i]
			vec := vectors[i*dim : (i+1)*dim]
			for d := 0; d < dim; d++ {
				sums[c*dim+d] += vec[d]
			}
			counts[c]++
		}

		for j := 0; j < k; j++ {
			if counts[j] > 0 {
				inv := 1 / float32(counts[j])
				for d := 0; d < dim; d++ {
					centroids[j*dim+d] = sums[j*dim+d] * inv
				}
			} else {
				// Reseed an empty cluster from a random point.
				idx := rng.Intn(n)
				copy(centroids[j*dim:(j+1)*dim], vectors[idx*dim:(idx+1)*dim])
			}
		}
	}

	return centroids
}

// seedPlusPlus picks initial centroids with probability proportional to the
// squared distance from the nearest already-chosen centroid.
func seedPlusPlus(vectors []float32, dim, k int, distFunc distance.Func, rng *rand.Rand) []float32 {
	n := len(vectors) / dim
	centroids := make([]float32, k*dim)

	first := rng.Intn(n)
	copy(centroids[:dim], vectors[first*dim:(first+1)*dim])

	d2 := make([]float64, n)
	for i := 0; i < n; i++ {
		d2[i] = float64(distFunc(vectors[i*dim:(i+1)*dim], centroids[:dim]))
	}

	for c := 1; c < k; c++ {
		var total float64
		for _, d := range d2 {
			total += d
		}

		var idx int
		if total <= 0 {
			idx = rng.Intn(n)
		} else {
			target := rng.Float64() * total
			for i, d := range d2 {
				target -= d
				if target <= 0 {
					idx = i
					break
				}
			}
		}

		copy(centroids[c*dim:(c+1)*dim], vectors[idx*dim:(idx+1)*dim])

		for i := 0; i < n; i++ {
			d := float64(distFunc(vectors[i*dim:(i+1)*dim], centroids[c*dim:(c+1)*dim]))
			if d < d2[i] {
				d2[i] = d
			}
		}
	}

	return centroids
}

// Assign returns the index of the centroid closest to vec.
func Assign(vec []float32, centroids []float32, dim int, distFunc distance.Func) int {
	k := len(centroids) / dim
	best := -1
	min := float32(math.MaxFloat32)
	for j := 0; j < k; j++ {
		d := distFunc(vec, centroids[j*dim:(j+1)*dim])
		if d < min {
			min = d
			best = j
		}
	}
	return best
}

// Nearest returns the indices of the n closest centroids to the query,
// ordered closest first.
func Nearest(query []float32, centroids []float32, dim, n int, distFunc distance.Func) []int {
	k := len(centroids) / dim
	if n > k {
		n = k
	}
	if n <= 0 {
		return nil
	}

	type cd struct {
		id   int
		dist float32
	}
	dists := make([]cd, k)
	for i := 0; i < k; i++ {
		dists[i] = cd{id: i, dist: distFunc(query, centroids[i*dim:(i+1)*dim])}
	}

	// Partial selection sort; n is small (nprobe).
	for i := 0; i < n; i++ {
		min := i
		for j := i + 1; j < k; j++ {
			if dists[j].dist < dists[min].dist {
				min = j
			}
		}
		dists[i], dists[min] = dists[min], dists[i]
	}

	out := make([]int, n)
	for i := 0; i < n; i++ {
		out[i] = dists[i].id
	}
	return out
}
