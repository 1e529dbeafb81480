package snapshot

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"

	"github.com/qLeviathan/agentdb/collection"
)

const (
	sectionState  = "state"
	sectionEngine = "engine"
)

// Options configures a Manager.
type Options struct {
	// Compression applies to every section. Defaults to zstd.
	Compression Compression
}

// Manager persists collections to a BlobStore and restores them.
type Manager struct {
	store BlobStore
	opts  Options
}

// NewManager creates a manager over the given store.
func NewManager(store BlobStore, optFns ...func(o *Options)) *Manager {
	opts := Options{Compression: CompressionZstd}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Manager{store: store, opts: opts}
}

// Snapshot captures the collection under the given blob name. The record
// state and the serialized engine are stored as separate sections so a
// damaged engine can later be rebuilt from the records.
func (m *Manager) Snapshot(ctx context.Context, name string, col *collection.Collection) error {
	st := col.ExportState()

	var stateBuf bytes.Buffer
	if err := gob.NewEncoder(&stateBuf).Encode(st); err != nil {
		return fmt.Errorf("snapshot: encode state: %w", err)
	}
	sections := []Section{{Name: sectionState, Data: stateBuf.Bytes()}}

	if enc, ok := col.Engine().(gob.GobEncoder); ok {
		engineData, err := enc.GobEncode()
		if err != nil {
			return fmt.Errorf("snapshot: encode engine: %w", err)
		}
		sections = append(sections, Section{Name: sectionEngine, Data: engineData})
	}

	data, err := Encode(sections, m.opts.Compression)
	if err != nil {
		return err
	}
	return m.store.Put(ctx, name, data)
}

// Restore loads a snapshot into col, which must be freshly constructed with
// an empty engine of the same kind. The serialized engine is preferred; if
// its section is corrupt or fails to decode, the engine is rebuilt by
// re-inserting every record. A corrupt state section cannot be recovered.
func (m *Manager) Restore(ctx context.Context, name string, col *collection.Collection) error {
	data, err := m.store.Get(ctx, name)
	if err != nil {
		return err
	}

	sections, decErr := Decode(data)
	byName := make(map[string][]byte, len(sections))
	for _, s := range sections {
		byName[s.Name] = s.Data
	}

	stateData, ok := byName[sectionState]
	if !ok {
		if decErr != nil {
			return decErr
		}
		return &ErrCorrupt{Section: sectionState, Reason: "missing"}
	}
	var st collection.State
	if err := gob.NewDecoder(bytes.NewReader(stateData)).Decode(&st); err != nil {
		return &ErrCorrupt{Section: sectionState, Reason: err.Error()}
	}

	if engineData, ok := byName[sectionEngine]; ok {
		if dec, decodable := col.Engine().(gob.GobDecoder); decodable {
			if err := dec.GobDecode(engineData); err == nil {
				return col.ImportState(ctx, st, false)
			}
		}
	}

	// Engine section missing, corrupt or undecodable: rebuild from records.
	return col.ImportState(ctx, st, true)
}

// Delete removes a stored snapshot.
func (m *Manager) Delete(ctx context.Context, name string) error {
	return m.store.Delete(ctx, name)
}

// List returns stored snapshot names with the given prefix.
func (m *Manager) List(ctx context.Context, prefix string) ([]string, error) {
	return m.store.List(ctx, prefix)
}
