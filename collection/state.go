package collection

import (
	"context"
	"sort"
)

// State is the point-in-time record inventory of a collection, captured for
// snapshotting. It carries everything needed to reconstruct the collection
// apart from the engine, which serializes separately.
type State struct {
	Name    string
	Records []Record
	NextNum uint32
	Free    []uint32
	Version uint64
}

// ExportState captures the record inventory under the read lock. Records are
// deep-copied so the snapshot stays stable while writes continue.
func (c *Collection) ExportState() State {
	c.mu.RLock()
	defer c.mu.RUnlock()

	st := State{
		Name:    c.name,
		Records: make([]Record, 0, len(c.records)),
		NextNum: c.nextNum,
		Free:    append([]uint32(nil), c.free...),
		Version: c.version.Load(),
	}
	for _, r := range c.records {
		cp := *r
		cp.Embedding = append([]float32(nil), r.Embedding...)
		cp.Attrs = r.Attrs.Clone()
		st.Records = append(st.Records, cp)
	}
	sort.Slice(st.Records, func(i, j int) bool { return st.Records[i].Num < st.Records[j].Num })
	return st
}

// ImportState replaces the collection contents with a captured state. The
// secondary indexes are rebuilt from the records. When feedEngine is true the
// records are also re-inserted into the engine; pass false when the engine
// was restored from its own serialized form.
func (c *Collection) ImportState(ctx context.Context, st State, feedEngine bool) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	records := make(map[uint32]*Record, len(st.Records))
	byID := make(map[string]uint32, len(st.Records))
	for i := range st.Records {
		r := st.Records[i]
		if feedEngine {
			if err := c.engine.Insert(ctx, r.Num, r.Embedding); err != nil {
				return err
			}
		}
		records[r.Num] = &r
		byID[r.ID] = r.Num
	}

	c.mu.Lock()
	old := c.records
	c.records = records
	c.byID = byID
	c.nextNum = st.NextNum
	c.free = append([]uint32(nil), st.Free...)
	c.mu.Unlock()

	for _, r := range old {
		c.fields.Remove(r.Num, r.Attrs)
	}
	for _, r := range records {
		c.fields.Put(r.Num, nil, r.Attrs)
	}
	c.version.Store(st.Version)
	return nil
}
