package hnsw

import (
	"bytes"
	"encoding/gob"
)

type nodeState struct {
	Layer       int
	Connections [][]uint32
	Deleted     bool
	Present     bool
}

type graphState struct {
	Dim      int
	EP       uint32
	HasEP    bool
	MaxLayer int
	Count    int
	Nodes    []nodeState
	Store    []byte
}

// GobEncode serializes the graph and its vector store. The distance function,
// codec and tuning options are not serialized; the decoding side constructs
// the graph with the same options before decoding.
func (h *HNSW) GobEncode() ([]byte, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	storeData, err := h.store.GobEncode()
	if err != nil {
		return nil, err
	}

	st := graphState{
		Dim:      h.dim,
		EP:       h.ep,
		HasEP:    h.hasEp,
		MaxLayer: h.maxLayer,
		Count:    h.count,
		Nodes:    make([]nodeState, len(h.nodes)),
		Store:    storeData,
	}
	for i, n := range h.nodes {
		if n == nil {
			continue
		}
		st.Nodes[i] = nodeState{
			Layer:       n.layer,
			Connections: n.connections,
			Deleted:     n.deleted,
			Present:     true,
		}
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(st); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// GobDecode restores a graph previously serialized with GobEncode into a
// graph constructed with the same options.
func (h *HNSW) GobDecode(data []byte) error {
	var st graphState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&st); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.store.GobDecode(st.Store); err != nil {
		return err
	}

	h.dim = st.Dim
	h.ep = st.EP
	h.hasEp = st.HasEP
	h.maxLayer = st.MaxLayer
	h.count = st.Count
	h.nodes = make([]*node, len(st.Nodes))
	for i, ns := range st.Nodes {
		if !ns.Present {
			continue
		}
		h.nodes[i] = &node{
			layer:       ns.Layer,
			connections: ns.Connections,
			deleted:     ns.Deleted,
		}
	}
	return nil
}
