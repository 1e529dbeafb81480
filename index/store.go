package index

import (
	"bytes"
	"encoding/gob"
	"sync"

	"github.com/qLeviathan/agentdb/quantization"
)

// VectorStore holds the vectors an engine searches over, keyed by internal
// id. Implementations decide the storage representation; Get always returns
// full-precision float32 so distances against a full-precision query come out
// asymmetric when storage is quantized.
type VectorStore interface {
	Set(id uint32, vector []float32) error
	// Get returns the stored vector, or nil when id is absent. The returned
	// slice must not be mutated.
	Get(id uint32) []float32
	Delete(id uint32)
	Dimension() int

	GobEncode() ([]byte, error)
	GobDecode(data []byte) error
}

// DenseStore keeps vectors at full precision.
type DenseStore struct {
	mu      sync.RWMutex
	dim     int
	vectors [][]float32
}

// NewDenseStore creates an empty full-precision store.
func NewDenseStore(dim int) *DenseStore {
	return &DenseStore{dim: dim}
}

func (s *DenseStore) Dimension() int { return s.dim }

func (s *DenseStore) Set(id uint32, vector []float32) error {
	if err := ValidateVector(vector, s.dim); err != nil {
		return err
	}
	cp := make([]float32, len(vector))
	copy(cp, vector)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.grow(id)
	s.vectors[id] = cp
	return nil
}

func (s *DenseStore) Get(id uint32) []float32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if int(id) >= len(s.vectors) {
		return nil
	}
	return s.vectors[id]
}

func (s *DenseStore) Delete(id uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if int(id) < len(s.vectors) {
		s.vectors[id] = nil
	}
}

func (s *DenseStore) grow(id uint32) {
	for int(id) >= len(s.vectors) {
		s.vectors = append(s.vectors, nil)
	}
}

type denseStoreState struct {
	Dim     int
	Vectors [][]float32
}

func (s *DenseStore) GobEncode() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(denseStoreState{Dim: s.dim, Vectors: s.vectors})
	return buf.Bytes(), err
}

func (s *DenseStore) GobDecode(data []byte) error {
	var st denseStoreState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&st); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dim = st.Dim
	s.vectors = st.Vectors
	return nil
}

// QuantizedStore keeps vectors through a quantization codec and decodes on
// read.
type QuantizedStore struct {
	mu      sync.RWMutex
	codec   quantization.Codec
	dim     int
	entries []*quantization.QuantizedVector
}

// NewQuantizedStore creates an empty store backed by codec.
func NewQuantizedStore(dim int, codec quantization.Codec) *QuantizedStore {
	return &QuantizedStore{dim: dim, codec: codec}
}

func (s *QuantizedStore) Dimension() int { return s.dim }

func (s *QuantizedStore) Set(id uint32, vector []float32) error {
	if err := ValidateVector(vector, s.dim); err != nil {
		return err
	}
	qv, err := s.codec.Encode(vector)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for int(id) >= len(s.entries) {
		s.entries = append(s.entries, nil)
	}
	s.entries[id] = &qv
	return nil
}

func (s *QuantizedStore) Get(id uint32) []float32 {
	s.mu.RLock()
	qv := (*quantization.QuantizedVector)(nil)
	if int(id) < len(s.entries) {
		qv = s.entries[id]
	}
	s.mu.RUnlock()

	if qv == nil {
		return nil
	}
	return s.codec.Decode(*qv)
}

func (s *QuantizedStore) Delete(id uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if int(id) < len(s.entries) {
		s.entries[id] = nil
	}
}

type quantizedStoreState struct {
	Dim     int
	Entries []*quantization.QuantizedVector
}

func (s *QuantizedStore) GobEncode() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(quantizedStoreState{Dim: s.dim, Entries: s.entries})
	return buf.Bytes(), err
}

// GobDecode restores entries. The codec is not serialized; the store keeps
// the codec it was constructed with.
func (s *QuantizedStore) GobDecode(data []byte) error {
	var st quantizedStoreState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&st); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dim = st.Dim
	s.entries = st.Entries
	return nil
}
