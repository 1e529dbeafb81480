package ivf

import (
	"bytes"
	"encoding/gob"
)

type ivfState struct {
	Dim       int
	Centroids []float32
	Members   [][]uint32
	Assign    map[uint32]int
	Count     int
	Churn     int
	Store     []byte
}

// GobEncode serializes centroids, cluster membership and the vector store.
func (iv *IVF) GobEncode() ([]byte, error) {
	iv.mu.RLock()
	defer iv.mu.RUnlock()

	storeData, err := iv.store.GobEncode()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	err = gob.NewEncoder(&buf).Encode(ivfState{
		Dim:       iv.dim,
		Centroids: iv.centroids,
		Members:   iv.members,
		Assign:    iv.assign,
		Count:     iv.count,
		Churn:     iv.churn,
		Store:     storeData,
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// GobDecode restores an index previously serialized with GobEncode into an
// index constructed with the same options.
func (iv *IVF) GobDecode(data []byte) error {
	var st ivfState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&st); err != nil {
		return err
	}

	iv.mu.Lock()
	defer iv.mu.Unlock()

	if err := iv.store.GobDecode(st.Store); err != nil {
		return err
	}
	iv.dim = st.Dim
	iv.centroids = st.Centroids
	iv.members = st.Members
	iv.assign = st.Assign
	iv.count = st.Count
	iv.churn = st.Churn
	if iv.assign == nil {
		iv.assign = make(map[uint32]int)
	}
	if len(iv.members) == 0 {
		iv.members = [][]uint32{nil}
	}
	return nil
}
