// Package collection manages the records of one vector collection and the
// registry of all collections.
package collection

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/google/uuid"

	"github.com/qLeviathan/agentdb/distance"
	"github.com/qLeviathan/agentdb/index"
	"github.com/qLeviathan/agentdb/metadata"
)

// ErrDuplicateID is a named error type for an insert reusing a live record id.
type ErrDuplicateID struct {
	Collection string
	ID         string
}

func (e *ErrDuplicateID) Error() string {
	return fmt.Sprintf("duplicate id %q in collection %q", e.ID, e.Collection)
}

// ErrNotFound is a named error type for a missing record id.
type ErrNotFound struct {
	Collection string
	ID         string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("id %q not found in collection %q", e.ID, e.Collection)
}

// Record is one stored item. Version advances on every committed write to
// the record and drives cache invalidation.
type Record struct {
	ID        string
	Num       uint32 // internal dense id used by the index engines
	Embedding []float32
	Attrs     metadata.Document
	Version   uint64
}

// ChangeKind classifies a committed write.
type ChangeKind int

const (
	ChangeInsert ChangeKind = iota
	ChangeUpdate
	ChangeDelete
)

// Change describes one committed write for invalidation hooks.
type Change struct {
	Kind    ChangeKind
	ID      string
	Num     uint32
	Version uint64
}

// ChangeHook observes committed writes. Hooks run synchronously under the
// write lock and must be fast.
type ChangeHook func(Change)

// Options contains configuration options for a collection.
type Options struct {
	// Schema declares the attribute fields. Empty means no attributes.
	Schema metadata.Schema

	// IndexKinds declares secondary indexes per field.
	IndexKinds map[string]metadata.IndexKind

	// Normalize L2-normalizes embeddings on write. Used with cosine.
	Normalize bool
}

// DefaultOptions contains the default configuration options for a collection.
var DefaultOptions = Options{}

// Collection owns the records, the engine and the secondary indexes of one
// named collection. Writes serialize on a single write lock and apply in
// lock-acquisition order.
type Collection struct {
	name   string
	dim    int
	engine index.Index
	fields *metadata.FieldIndexes
	opts   Options

	writeMu sync.Mutex // single-writer ordering

	mu      sync.RWMutex // guards records, byID, allocator
	records map[uint32]*Record
	byID    map[string]uint32
	nextNum uint32
	free    []uint32

	version atomic.Uint64

	hookMu sync.RWMutex
	hooks  []ChangeHook
}

// New creates a collection over the given engine.
func New(name string, engine index.Index, optFns ...func(o *Options)) (*Collection, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	if name == "" {
		return nil, fmt.Errorf("collection: empty name")
	}
	if err := opts.Schema.Validate(); err != nil {
		return nil, err
	}
	fields, err := metadata.NewFieldIndexes(opts.Schema, opts.IndexKinds)
	if err != nil {
		return nil, err
	}

	return &Collection{
		name:    name,
		dim:     engine.Dimension(),
		engine:  engine,
		fields:  fields,
		opts:    opts,
		records: make(map[uint32]*Record),
		byID:    make(map[string]uint32),
	}, nil
}

func (c *Collection) Name() string { return c.name }

func (c *Collection) Dimension() int { return c.dim }

// Engine exposes the underlying index for search planning.
func (c *Collection) Engine() index.Index { return c.engine }

// Schema returns the declared attribute schema.
func (c *Collection) Schema() metadata.Schema { return c.opts.Schema }

// Version returns the collection-wide write counter.
func (c *Collection) Version() uint64 { return c.version.Load() }

func (c *Collection) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

// OnChange registers a hook observing committed writes.
func (c *Collection) OnChange(h ChangeHook) {
	c.hookMu.Lock()
	defer c.hookMu.Unlock()
	c.hooks = append(c.hooks, h)
}

func (c *Collection) fire(ch Change) {
	c.hookMu.RLock()
	hooks := c.hooks
	c.hookMu.RUnlock()
	for _, h := range hooks {
		h(ch)
	}
}

// Insert adds a new record. An empty id gets a generated UUID. The stored id
// is returned; inserting an existing id fails with ErrDuplicateID.
func (c *Collection) Insert(ctx context.Context, id string, embedding []float32, attrs metadata.Document) (string, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if id == "" {
		id = uuid.NewString()
	}
	vec, err := c.prepareVector(embedding)
	if err != nil {
		return "", err
	}
	if err := c.opts.Schema.ValidateDocument(attrs); err != nil {
		return "", err
	}
	return c.insertLocked(ctx, id, vec, attrs)
}

// insertLocked commits a prepared (validated, normalized) vector. Callers
// hold writeMu and have validated id, vector and attributes.
func (c *Collection) insertLocked(ctx context.Context, id string, vec []float32, attrs metadata.Document) (string, error) {
	c.mu.RLock()
	_, exists := c.byID[id]
	c.mu.RUnlock()
	if exists {
		return "", &ErrDuplicateID{Collection: c.name, ID: id}
	}

	num := c.allocNum()
	if err := c.engine.Insert(ctx, num, vec); err != nil {
		c.releaseNum(num)
		return "", err
	}

	version := c.version.Add(1)
	rec := &Record{
		ID:        id,
		Num:       num,
		Embedding: vec,
		Attrs:     attrs.Clone(),
		Version:   version,
	}

	c.mu.Lock()
	c.records[num] = rec
	c.byID[id] = num
	c.mu.Unlock()

	c.fields.Put(num, nil, rec.Attrs)
	c.fire(Change{Kind: ChangeInsert, ID: id, Num: num, Version: version})
	return id, nil
}

// Upsert replaces the embedding and attributes of an existing record and
// advances its version. A missing id fails with ErrNotFound.
func (c *Collection) Upsert(ctx context.Context, id string, embedding []float32, attrs metadata.Document) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	vec, err := c.prepareVector(embedding)
	if err != nil {
		return err
	}
	if err := c.opts.Schema.ValidateDocument(attrs); err != nil {
		return err
	}
	return c.upsertLocked(ctx, id, vec, attrs)
}

// upsertLocked commits a prepared vector to an existing record. Callers hold
// writeMu and have validated the vector and attributes.
func (c *Collection) upsertLocked(ctx context.Context, id string, vec []float32, attrs metadata.Document) error {
	c.mu.RLock()
	num, ok := c.byID[id]
	var old *Record
	if ok {
		old = c.records[num]
	}
	c.mu.RUnlock()
	if !ok {
		return &ErrNotFound{Collection: c.name, ID: id}
	}

	if err := c.engine.Update(ctx, num, vec); err != nil {
		return err
	}

	version := c.version.Add(1)
	rec := &Record{
		ID:        id,
		Num:       num,
		Embedding: vec,
		Attrs:     attrs.Clone(),
		Version:   version,
	}

	c.mu.Lock()
	c.records[num] = rec
	c.mu.Unlock()

	c.fields.Put(num, old.Attrs, rec.Attrs)
	c.fire(Change{Kind: ChangeUpdate, ID: id, Num: num, Version: version})
	return nil
}

// Delete removes a record. A missing id fails with ErrNotFound.
func (c *Collection) Delete(ctx context.Context, id string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.deleteLocked(ctx, id)
}

func (c *Collection) deleteLocked(ctx context.Context, id string) error {
	c.mu.RLock()
	num, ok := c.byID[id]
	var old *Record
	if ok {
		old = c.records[num]
	}
	c.mu.RUnlock()
	if !ok {
		return &ErrNotFound{Collection: c.name, ID: id}
	}

	if err := c.engine.Delete(ctx, num); err != nil {
		return err
	}

	version := c.version.Add(1)

	c.mu.Lock()
	delete(c.records, num)
	delete(c.byID, id)
	c.free = append(c.free, num)
	c.mu.Unlock()

	c.fields.Remove(num, old.Attrs)
	c.fire(Change{Kind: ChangeDelete, ID: id, Num: num, Version: version})
	return nil
}

// Get returns a copy of the record for id.
func (c *Collection) Get(id string) (Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	num, ok := c.byID[id]
	if !ok {
		return Record{}, false
	}
	return *c.records[num], true
}

// ByNum returns a copy of the record at an internal id.
func (c *Collection) ByNum(num uint32) (Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.records[num]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// RecordVersion returns the live version of an internal id, or 0 when gone.
func (c *Collection) RecordVersion(num uint32) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.records[num]
	if !ok {
		return 0
	}
	return rec.Version
}

// ForEach visits a copy of every record until fn returns false. Visit order
// is unspecified.
func (c *Collection) ForEach(fn func(Record) bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, rec := range c.records {
		if !fn(*rec) {
			return
		}
	}
}

// Candidates resolves a filter set against the secondary indexes. ok is
// false when some predicate has no usable index and callers must scan.
func (c *Collection) Candidates(fs *metadata.FilterSet) (*roaring.Bitmap, bool) {
	return c.fields.Candidates(fs)
}

// Predicate returns a per-internal-id filter function evaluating fs against
// the live record attributes.
func (c *Collection) Predicate(fs *metadata.FilterSet) func(uint32) bool {
	return func(num uint32) bool {
		c.mu.RLock()
		rec, ok := c.records[num]
		c.mu.RUnlock()
		if !ok {
			return false
		}
		return fs.Matches(rec.Attrs)
	}
}

// Rebuild reconstructs the engine's derived structures. It is a maintenance
// operation and serializes with writes.
func (c *Collection) Rebuild(ctx context.Context) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.engine.Rebuild(ctx)
}

// prepareVector validates and copies an embedding. Every rejection an engine
// or store could raise later surfaces here, so a vector that passes commits.
func (c *Collection) prepareVector(embedding []float32) ([]float32, error) {
	if err := index.ValidateVector(embedding, c.dim); err != nil {
		return nil, err
	}
	for i, x := range embedding {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return nil, fmt.Errorf("collection %q: non-finite component at index %d", c.name, i)
		}
	}
	if c.opts.Normalize {
		norm, ok := distance.NormalizeL2Copy(embedding)
		if !ok {
			return nil, fmt.Errorf("collection %q: cannot normalize zero vector", c.name)
		}
		return norm, nil
	}
	cp := make([]float32, len(embedding))
	copy(cp, embedding)
	return cp, nil
}

func (c *Collection) allocNum() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n := len(c.free); n > 0 {
		num := c.free[n-1]
		c.free = c.free[:n-1]
		return num
	}
	num := c.nextNum
	c.nextNum++
	return num
}

func (c *Collection) releaseNum(num uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.free = append(c.free, num)
}
