package cache

import (
	"encoding/binary"
	"hash/fnv"
	"math"
	"strconv"
)

// RecordStamp pins a cached result to the version of one constituent record.
type RecordStamp struct {
	Num     uint32
	Version uint64
}

// versioned wraps a query-cache value with the stamps it depends on. An
// entry with no stamps pins to the collection write version instead, so an
// empty result set does not outlive the write that would change it.
type versioned struct {
	value       any
	stamps      []RecordStamp
	collVersion uint64
}

// QueryCache caches search results keyed by a query fingerprint. Entries
// are invalidated lazily: a read re-checks every constituent record version
// against the live collection and treats any advance (or deletion) as a
// miss.
type QueryCache struct {
	inner *Cache
}

// NewQueryCache creates a query-result cache.
func NewQueryCache(optFns ...func(o *Options)) (*QueryCache, error) {
	inner, err := New(optFns...)
	if err != nil {
		return nil, err
	}
	return &QueryCache{inner: inner}, nil
}

// Put stores a result with the record versions it was computed from.
// collVersion is the collection write version at fill time; it guards
// entries whose stamp list is empty.
func (q *QueryCache) Put(key string, value any, stamps []RecordStamp, collVersion uint64) {
	q.inner.Put(key, versioned{value: value, stamps: stamps, collVersion: collVersion})
}

// Get returns the cached result for key when every stamped record still has
// its cached version per liveVersion (0 means deleted). Entries without
// stamps are valid only while collVersion matches the fill-time version.
func (q *QueryCache) Get(key string, collVersion uint64, liveVersion func(num uint32) uint64) (any, bool) {
	raw, ok := q.inner.Get(key)
	if !ok {
		return nil, false
	}
	v := raw.(versioned)
	if len(v.stamps) == 0 {
		if v.collVersion != collVersion {
			q.inner.Remove(key)
			return nil, false
		}
		return v.value, true
	}
	for _, s := range v.stamps {
		if liveVersion(s.Num) != s.Version {
			q.inner.Remove(key)
			return nil, false
		}
	}
	return v.value, true
}

// Purge drops everything.
func (q *QueryCache) Purge() { q.inner.Purge() }

// Len returns the number of live entries.
func (q *QueryCache) Len() int { return q.inner.Len() }

// Stats returns hit and miss counters.
func (q *QueryCache) Stats() (hits, misses uint64) { return q.inner.Stats() }

// RecordCache caches per-record values keyed by internal id. A write to a
// record invalidates its entry immediately via Invalidate.
type RecordCache struct {
	inner *Cache
}

// NewRecordCache creates a record cache.
func NewRecordCache(optFns ...func(o *Options)) (*RecordCache, error) {
	inner, err := New(optFns...)
	if err != nil {
		return nil, err
	}
	return &RecordCache{inner: inner}, nil
}

func recordKey(num uint32) string {
	return strconv.FormatUint(uint64(num), 10)
}

// Put stores a record value.
func (r *RecordCache) Put(num uint32, value any) {
	r.inner.Put(recordKey(num), value)
}

// Get returns the cached value for a record.
func (r *RecordCache) Get(num uint32) (any, bool) {
	return r.inner.Get(recordKey(num))
}

// Invalidate drops the entry for a record.
func (r *RecordCache) Invalidate(num uint32) {
	r.inner.Remove(recordKey(num))
}

// Purge drops everything.
func (r *RecordCache) Purge() { r.inner.Purge() }

// Len returns the number of live entries.
func (r *RecordCache) Len() int { return r.inner.Len() }

// Fingerprint hashes the parts of a search request that determine its
// result into a stable query-cache key.
func Fingerprint(query []float32, k int, filterKey string, knobs ...int) string {
	h := fnv.New64a()
	var buf [8]byte

	for _, f := range query {
		binary.LittleEndian.PutUint32(buf[:4], math.Float32bits(f))
		h.Write(buf[:4])
	}
	binary.LittleEndian.PutUint64(buf[:], uint64(k))
	h.Write(buf[:])
	h.Write([]byte(filterKey))
	for _, knob := range knobs {
		binary.LittleEndian.PutUint64(buf[:], uint64(int64(knob)))
		h.Write(buf[:])
	}
	return strconv.FormatUint(h.Sum64(), 16)
}
