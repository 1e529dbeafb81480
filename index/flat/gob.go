package flat

import (
	"bytes"
	"encoding/gob"
)

type flatState struct {
	Dim   int
	Live  []bool
	Count int
	Store []byte
}

// GobEncode serializes the liveness view and the vector store.
func (f *Flat) GobEncode() ([]byte, error) {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	storeData, err := f.store.GobEncode()
	if err != nil {
		return nil, err
	}

	st := f.state.Load()
	var buf bytes.Buffer
	err = gob.NewEncoder(&buf).Encode(flatState{
		Dim:   f.dim,
		Live:  st.live,
		Count: st.count,
		Store: storeData,
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// GobDecode restores an index previously serialized with GobEncode into an
// index constructed with the same options.
func (f *Flat) GobDecode(data []byte) error {
	var st flatState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&st); err != nil {
		return err
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	if err := f.store.GobDecode(st.Store); err != nil {
		return err
	}
	f.dim = st.Dim
	f.state.Store(&indexState{live: st.Live, count: st.Count})
	return nil
}
