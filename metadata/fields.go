package metadata

import (
	"fmt"
	"math"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/google/btree"
)

// IndexKind selects the secondary-index structure for a field.
type IndexKind string

const (
	// IndexOrdered is a balanced-tree range index for numbers and timestamps.
	IndexOrdered IndexKind = "ordered"
	// IndexSet is an inverted membership index for strings, booleans and
	// string-sets.
	IndexSet IndexKind = "set"
)

// orderedEntry is one (value, id) pair in a range index. Ties on the value
// break on id so entries stay unique.
type orderedEntry struct {
	val float64
	id  uint32
}

func lessOrdered(a, b orderedEntry) bool {
	if a.val != b.val {
		return a.val < b.val
	}
	return a.id < b.id
}

// FieldIndexes maintains the declared secondary indexes of one collection.
// Ordered fields go into btrees, set fields into roaring posting lists.
type FieldIndexes struct {
	mu      sync.RWMutex
	schema  Schema
	ordered map[string]*btree.BTreeG[orderedEntry]
	sets    map[string]map[string]*roaring.Bitmap
}

// NewFieldIndexes creates indexes for the declared fields. Each declaration
// must name a schema field with a compatible type.
func NewFieldIndexes(schema Schema, declarations map[string]IndexKind) (*FieldIndexes, error) {
	fi := &FieldIndexes{
		schema:  schema,
		ordered: make(map[string]*btree.BTreeG[orderedEntry]),
		sets:    make(map[string]map[string]*roaring.Bitmap),
	}

	for field, kind := range declarations {
		ft, ok := schema.Lookup(field)
		if !ok {
			return nil, fmt.Errorf("metadata: secondary index on undeclared field %q", field)
		}
		switch kind {
		case IndexOrdered:
			if !ft.Orderable() {
				return nil, fmt.Errorf("metadata: ordered index on non-orderable field %q (%s)", field, ft)
			}
			fi.ordered[field] = btree.NewG(32, lessOrdered)
		case IndexSet:
			if ft == TypeJSON || ft == TypeVector {
				return nil, fmt.Errorf("metadata: set index unsupported for field %q (%s)", field, ft)
			}
			fi.sets[field] = make(map[string]*roaring.Bitmap)
		default:
			return nil, fmt.Errorf("metadata: unknown index kind %q for field %q", kind, field)
		}
	}

	return fi, nil
}

// Put indexes the document's declared fields for id, replacing any previous
// postings when old is non-nil.
func (fi *FieldIndexes) Put(id uint32, old, doc Document) {
	fi.mu.Lock()
	defer fi.mu.Unlock()
	if old != nil {
		fi.removeLocked(id, old)
	}
	fi.addLocked(id, doc)
}

// Remove drops all postings for id.
func (fi *FieldIndexes) Remove(id uint32, doc Document) {
	fi.mu.Lock()
	defer fi.mu.Unlock()
	fi.removeLocked(id, doc)
}

func (fi *FieldIndexes) addLocked(id uint32, doc Document) {
	for field, v := range doc {
		if v.Kind == KindNull {
			continue
		}
		if tree, ok := fi.ordered[field]; ok && v.IsNumeric() {
			tree.ReplaceOrInsert(orderedEntry{val: v.AsFloat64(), id: id})
		}
		if postings, ok := fi.sets[field]; ok {
			for _, key := range postingKeys(v) {
				bm, ok := postings[key]
				if !ok {
					bm = roaring.New()
					postings[key] = bm
				}
				bm.Add(id)
			}
		}
	}
}

func (fi *FieldIndexes) removeLocked(id uint32, doc Document) {
	for field, v := range doc {
		if v.Kind == KindNull {
			continue
		}
		if tree, ok := fi.ordered[field]; ok && v.IsNumeric() {
			tree.Delete(orderedEntry{val: v.AsFloat64(), id: id})
		}
		if postings, ok := fi.sets[field]; ok {
			for _, key := range postingKeys(v) {
				if bm, ok := postings[key]; ok {
					bm.Remove(id)
					if bm.IsEmpty() {
						delete(postings, key)
					}
				}
			}
		}
	}
}

// postingKeys returns the inverted-index keys a value posts under.
// String-sets post one key per element so ContainsAny/All resolve per element.
func postingKeys(v Value) []string {
	if v.Kind == KindStringSet {
		keys := make([]string, len(v.Set))
		for i, e := range v.Set {
			keys[i] = "e:" + e
		}
		return keys
	}
	return []string{v.Key()}
}

// Candidates resolves a filter set to a bitmap of matching ids using only the
// declared indexes. ok is false when some predicate touches a field without a
// usable index; callers then fall back to scanning.
//
// Per-filter bitmaps are intersected smallest-cardinality first.
func (fi *FieldIndexes) Candidates(fs *FilterSet) (*roaring.Bitmap, bool) {
	if fs.Empty() {
		return nil, false
	}

	fi.mu.RLock()
	defer fi.mu.RUnlock()

	bitmaps := make([]*roaring.Bitmap, 0, len(fs.Filters))
	for _, f := range fs.Filters {
		bm, ok := fi.filterBitmapLocked(f)
		if !ok {
			return nil, false
		}
		if bm.IsEmpty() {
			return roaring.New(), true
		}
		bitmaps = append(bitmaps, bm)
	}

	// Smallest first keeps intersections cheap.
	for i := 1; i < len(bitmaps); i++ {
		for j := i; j > 0 && bitmaps[j].GetCardinality() < bitmaps[j-1].GetCardinality(); j-- {
			bitmaps[j], bitmaps[j-1] = bitmaps[j-1], bitmaps[j]
		}
	}

	result := bitmaps[0].Clone()
	for _, bm := range bitmaps[1:] {
		result.And(bm)
		if result.IsEmpty() {
			return result, true
		}
	}
	return result, true
}

func (fi *FieldIndexes) filterBitmapLocked(f Filter) (*roaring.Bitmap, bool) {
	switch f.Op {
	case OpGreaterThan, OpGreaterEqual, OpLessThan, OpLessEqual, OpRange:
		tree, ok := fi.ordered[f.Field]
		if !ok {
			return nil, false
		}
		return fi.rangeBitmapLocked(tree, f), true

	case OpEqual:
		if tree, ok := fi.ordered[f.Field]; ok && f.Value.IsNumeric() {
			eq := Filter{Field: f.Field, Op: OpRange, Value: f.Value, High: f.Value}
			return fi.rangeBitmapLocked(tree, eq), true
		}
		postings, ok := fi.sets[f.Field]
		if !ok {
			return nil, false
		}
		return unionPostings(postings, postingKeys(f.Value)), true

	case OpContainsAny:
		postings, ok := fi.sets[f.Field]
		if !ok {
			return nil, false
		}
		return unionPostings(postings, postingKeys(f.Value)), true

	case OpContainsAll:
		postings, ok := fi.sets[f.Field]
		if !ok {
			return nil, false
		}
		var result *roaring.Bitmap
		for _, key := range postingKeys(f.Value) {
			bm, ok := postings[key]
			if !ok {
				return roaring.New(), true
			}
			if result == nil {
				result = bm.Clone()
			} else {
				result.And(bm)
			}
			if result.IsEmpty() {
				return result, true
			}
		}
		if result == nil {
			return roaring.New(), true
		}
		return result, true

	default:
		// OpNotEqual needs the full corpus to complement; leave it to the
		// document scan.
		return nil, false
	}
}

func (fi *FieldIndexes) rangeBitmapLocked(tree *btree.BTreeG[orderedEntry], f Filter) *roaring.Bitmap {
	bm := roaring.New()

	lowIncl, highIncl := true, true
	low, high := math.Inf(-1), math.Inf(1)

	switch f.Op {
	case OpGreaterThan:
		low, lowIncl = f.Value.AsFloat64(), false
	case OpGreaterEqual:
		low = f.Value.AsFloat64()
	case OpLessThan:
		high, highIncl = f.Value.AsFloat64(), false
	case OpLessEqual:
		high = f.Value.AsFloat64()
	case OpRange:
		low, high = f.Value.AsFloat64(), f.High.AsFloat64()
	}

	tree.AscendGreaterOrEqual(orderedEntry{val: low, id: 0}, func(e orderedEntry) bool {
		if !lowIncl && e.val == low {
			return true
		}
		if e.val > high || (!highIncl && e.val == high) {
			return false
		}
		bm.Add(e.id)
		return true
	})
	return bm
}

func unionPostings(postings map[string]*roaring.Bitmap, keys []string) *roaring.Bitmap {
	result := roaring.New()
	for _, key := range keys {
		if bm, ok := postings[key]; ok {
			result.Or(bm)
		}
	}
	return result
}
