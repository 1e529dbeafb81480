// Package planner turns search requests into index queries, choosing between
// pre-filtering on the metadata indexes and post-filtering an over-fetched
// ANN result.
package planner

import (
	"context"
	"errors"

	"golang.org/x/sync/singleflight"

	"github.com/qLeviathan/agentdb/cache"
	"github.com/qLeviathan/agentdb/collection"
	"github.com/qLeviathan/agentdb/distance"
	"github.com/qLeviathan/agentdb/index"
	"github.com/qLeviathan/agentdb/internal/queue"
	"github.com/qLeviathan/agentdb/metadata"
)

// ErrInsufficientCandidates reports an over-fetch retry cap exhausted before
// k filtered results were found.
var ErrInsufficientCandidates = errors.New("planner: insufficient candidates after over-fetch retries")

// checkEvery is how many scanned candidates pass between deadline checks.
const checkEvery = 256

// Hit is one ranked search result.
type Hit struct {
	ID       string
	Num      uint32
	Distance float32
	Attrs    metadata.Document
	Version  uint64
}

// Options contains configuration options for the planner.
type Options struct {
	// SelectivityThreshold is the candidate fraction below which the
	// planner pre-filters and searches only the candidate subset.
	SelectivityThreshold float64

	// OverFetchFactor scales k for the first post-filter attempt.
	OverFetchFactor int

	// MaxRetries caps the post-filter attempts; each retry doubles the
	// fetch size.
	MaxRetries int

	// Cache holds query results. Nil disables result caching.
	Cache *cache.QueryCache

	// Records caches resolved records for hit hydration. Nil disables it.
	// Writers must invalidate entries through the collection change hooks.
	Records *cache.RecordCache
}

// DefaultOptions contains the default configuration options for the planner.
var DefaultOptions = Options{
	SelectivityThreshold: 0.05,
	OverFetchFactor:      4,
	MaxRetries:           3,
}

// Planner plans and executes searches over one collection.
type Planner struct {
	col    *collection.Collection
	opts   Options
	omit   singleflight.Group
	engine index.Index
}

// New creates a planner over a collection.
func New(col *collection.Collection, optFns ...func(o *Options)) *Planner {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.OverFetchFactor < 1 {
		opts.OverFetchFactor = 1
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &Planner{col: col, opts: opts, engine: col.Engine()}
}

type searchOutcome struct {
	hits    []Hit
	partial bool
}

// Search returns up to k hits ranked by ascending distance. partial reports
// a deadline-truncated result. With a filter the planner pre-filters when
// the candidate set is small enough and post-filters an over-fetched search
// otherwise.
func (p *Planner) Search(ctx context.Context, query []float32, k int, fs *metadata.FilterSet, opts index.SearchOptions) ([]Hit, bool, error) {
	if err := index.ValidateK(k); err != nil {
		return nil, false, err
	}
	if err := index.ValidateVector(query, p.col.Dimension()); err != nil {
		return nil, false, err
	}

	if p.opts.Cache == nil {
		out, err := p.execute(ctx, query, k, fs, opts)
		if err != nil {
			return nil, false, err
		}
		return out.hits, out.partial, nil
	}

	key := cache.Fingerprint(query, k, fs.Key(), opts.EFSearch, opts.NProbe)
	if v, ok := p.opts.Cache.Get(key, p.col.Version(), p.col.RecordVersion); ok {
		out := v.(searchOutcome)
		return out.hits, out.partial, nil
	}

	// Concurrent identical misses share one execution.
	v, err, _ := p.omit.Do(key, func() (any, error) {
		// Version is read before executing so a write racing the search
		// invalidates the entry rather than hiding behind it.
		fillVersion := p.col.Version()
		out, err := p.execute(ctx, query, k, fs, opts)
		if err != nil {
			return nil, err
		}
		if !out.partial {
			stamps := make([]cache.RecordStamp, len(out.hits))
			for i, h := range out.hits {
				stamps[i] = cache.RecordStamp{Num: h.Num, Version: h.Version}
			}
			p.opts.Cache.Put(key, out, stamps, fillVersion)
		}
		return out, nil
	})
	if err != nil {
		return nil, false, err
	}
	out := v.(searchOutcome)
	return out.hits, out.partial, nil
}

func (p *Planner) execute(ctx context.Context, query []float32, k int, fs *metadata.FilterSet, opts index.SearchOptions) (searchOutcome, error) {
	if fs.Empty() {
		results, partial, err := p.engine.KNNSearch(ctx, query, k, opts)
		if err != nil {
			return searchOutcome{}, err
		}
		return searchOutcome{hits: p.resolve(results), partial: partial}, nil
	}

	candidates, ok := p.col.Candidates(fs)
	if ok {
		total := p.col.Count()
		card := int(candidates.GetCardinality())
		if card == 0 {
			return searchOutcome{}, nil
		}
		if total > 0 && float64(card) <= p.opts.SelectivityThreshold*float64(total) {
			return p.preFilter(ctx, query, k, candidates.ToArray())
		}
		return p.postFilter(ctx, query, k, candidates.Contains, opts)
	}

	// No usable index for some predicate; evaluate documents directly.
	return p.postFilter(ctx, query, k, p.col.Predicate(fs), opts)
}

// preFilter scores the candidate subset exactly, skipping the index.
func (p *Planner) preFilter(ctx context.Context, query []float32, k int, nums []uint32) (searchOutcome, error) {
	dist := p.distanceFunc()
	top := queue.NewMax(k)
	partial := false

	for i, num := range nums {
		if i%checkEvery == checkEvery-1 && ctx.Err() != nil {
			partial = true
			break
		}
		rec, ok := p.record(num)
		if !ok {
			continue
		}
		top.PushBounded(queue.Item{ID: num, Distance: dist(query, rec.Embedding)}, k)
	}

	items := top.Drain()
	results := make([]index.Result, len(items))
	for i, it := range items {
		results[i] = index.Result{ID: it.ID, Distance: it.Distance}
	}
	return searchOutcome{hits: p.resolve(results), partial: partial}, nil
}

// postFilter over-fetches from the index and keeps accepted results,
// doubling the fetch size while too few survive.
func (p *Planner) postFilter(ctx context.Context, query []float32, k int, accept func(uint32) bool, opts index.SearchOptions) (searchOutcome, error) {
	total := p.col.Count()
	fetch := k * p.opts.OverFetchFactor

	for attempt := 0; ; attempt++ {
		results, partial, err := p.engine.KNNSearch(ctx, query, fetch, opts)
		if err != nil {
			return searchOutcome{}, err
		}

		kept := results[:0]
		for _, r := range results {
			if accept(r.ID) {
				kept = append(kept, r)
			}
		}
		if len(kept) > k {
			kept = kept[:k]
		}

		// fetch >= total means the engine saw everything reachable; the
		// survivors are all there is.
		if len(kept) >= k || partial || fetch >= total {
			return searchOutcome{hits: p.resolve(kept), partial: partial}, nil
		}
		if attempt >= p.opts.MaxRetries {
			return searchOutcome{}, ErrInsufficientCandidates
		}
		fetch *= 2
	}
}

// record fetches one record through the record cache when configured.
func (p *Planner) record(num uint32) (collection.Record, bool) {
	if p.opts.Records != nil {
		if v, ok := p.opts.Records.Get(num); ok {
			return v.(collection.Record), true
		}
	}
	rec, ok := p.col.ByNum(num)
	if ok && p.opts.Records != nil {
		p.opts.Records.Put(num, rec)
	}
	return rec, ok
}

// resolve joins engine results with live records. Results whose record has
// vanished since the index snapshot are dropped.
func (p *Planner) resolve(results []index.Result) []Hit {
	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		rec, ok := p.record(r.ID)
		if !ok {
			continue
		}
		hits = append(hits, Hit{
			ID:       rec.ID,
			Num:      r.ID,
			Distance: r.Distance,
			Attrs:    rec.Attrs,
			Version:  rec.Version,
		})
	}
	return hits
}

// distanceFunc recovers the engine's metric so the pre-filter path scores
// with the same convention the index uses.
func (p *Planner) distanceFunc() distance.Func {
	type metricer interface {
		DistanceFunc() distance.Func
	}
	if m, ok := p.engine.(metricer); ok {
		return m.DistanceFunc()
	}
	return distance.SquaredL2
}
