// Package quantization provides lossy vector compression codecs.
//
// Quantization is modeled as a strategy selected per collection at registration
// time: NoopCodec stores full-precision vectors, ScalarCodec compresses each
// component to 4 or 8 bits using per-vector min/max scaling. Distance
// computation stays asymmetric: queries are never quantized, stored codes are
// decoded before comparison so reconstruction error is bounded on one side only.
package quantization

import (
	"fmt"
	"math"
)

// QuantizedVector is the compressed representation of one embedding.
// It is derived state: recomputed whenever the source embedding changes,
// never mutated independently.
type QuantizedVector struct {
	Min   float32
	Scale float32
	Dim   int
	Codes []byte
}

// Codec encodes and decodes embeddings for storage.
type Codec interface {
	// Encode compresses a vector. The input is not retained.
	Encode(v []float32) (QuantizedVector, error)

	// Decode reconstructs an approximate vector from its codes.
	Decode(qv QuantizedVector) []float32

	// Bits returns the number of bits per component, or 0 for identity.
	Bits() int
}

// ErrNonFinite indicates a vector component that is NaN or infinite.
type ErrNonFinite struct {
	Index int
}

func (e *ErrNonFinite) Error() string {
	return fmt.Sprintf("quantization: non-finite component at index %d", e.Index)
}

// ErrLengthMismatch indicates a vector whose length differs from the codec dimension.
type ErrLengthMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrLengthMismatch) Error() string {
	return fmt.Sprintf("quantization: vector length mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func checkVector(v []float32, dim int) error {
	if len(v) != dim {
		return &ErrLengthMismatch{Expected: dim, Actual: len(v)}
	}
	for i, x := range v {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return &ErrNonFinite{Index: i}
		}
	}
	return nil
}

// NoopCodec is the identity codec used when quantization is disabled.
// Codes hold the raw little-endian float32 components.
type NoopCodec struct {
	dim int
}

// NewNoopCodec creates an identity codec for the given dimension.
func NewNoopCodec(dim int) *NoopCodec {
	return &NoopCodec{dim: dim}
}

func (c *NoopCodec) Bits() int { return 0 }

func (c *NoopCodec) Encode(v []float32) (QuantizedVector, error) {
	if err := checkVector(v, c.dim); err != nil {
		return QuantizedVector{}, err
	}
	codes := make([]byte, 4*len(v))
	for i, x := range v {
		bits := math.Float32bits(x)
		codes[4*i] = byte(bits)
		codes[4*i+1] = byte(bits >> 8)
		codes[4*i+2] = byte(bits >> 16)
		codes[4*i+3] = byte(bits >> 24)
	}
	return QuantizedVector{Dim: c.dim, Codes: codes}, nil
}

func (c *NoopCodec) Decode(qv QuantizedVector) []float32 {
	v := make([]float32, qv.Dim)
	for i := range v {
		bits := uint32(qv.Codes[4*i]) |
			uint32(qv.Codes[4*i+1])<<8 |
			uint32(qv.Codes[4*i+2])<<16 |
			uint32(qv.Codes[4*i+3])<<24
		v[i] = math.Float32frombits(bits)
	}
	return v
}

// ScalarCodec implements per-vector min/max scalar quantization.
//
// For b bits, scale = (max-min)/(2^b - 1) and each component is stored as
// round((x-min)/scale). Reconstruction error is bounded by scale/2 per
// component. 4-bit mode packs two codes per byte, low nibble first.
type ScalarCodec struct {
	dim  int
	bits int
}

// NewScalarCodec creates a scalar quantizer with 4 or 8 bits per component.
func NewScalarCodec(dim, bits int) (*ScalarCodec, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("quantization: invalid dimension %d", dim)
	}
	if bits != 4 && bits != 8 {
		return nil, fmt.Errorf("quantization: unsupported bit width %d (want 4 or 8)", bits)
	}
	return &ScalarCodec{dim: dim, bits: bits}, nil
}

func (c *ScalarCodec) Bits() int { return c.bits }

func (c *ScalarCodec) levels() float32 {
	return float32(int(1)<<c.bits) - 1
}

func (c *ScalarCodec) Encode(v []float32) (QuantizedVector, error) {
	if err := checkVector(v, c.dim); err != nil {
		return QuantizedVector{}, err
	}

	min, max := v[0], v[0]
	for _, x := range v[1:] {
		if x < min {
			min = x
		}
		if x > max {
			max = x
		}
	}

	qv := QuantizedVector{Min: min, Dim: c.dim}
	if max == min {
		// Constant vector: all codes zero, decode reproduces min exactly.
		qv.Codes = make([]byte, c.codeBytes())
		return qv, nil
	}

	scale := (max - min) / c.levels()
	qv.Scale = scale
	qv.Codes = make([]byte, c.codeBytes())

	for i, x := range v {
		code := uint32(math.Round(float64((x - min) / scale)))
		if code > uint32(c.levels()) {
			code = uint32(c.levels())
		}
		if c.bits == 8 {
			qv.Codes[i] = byte(code)
		} else {
			if i%2 == 0 {
				qv.Codes[i/2] |= byte(code)
			} else {
				qv.Codes[i/2] |= byte(code) << 4
			}
		}
	}
	return qv, nil
}

func (c *ScalarCodec) Decode(qv QuantizedVector) []float32 {
	v := make([]float32, qv.Dim)
	for i := range v {
		var code uint32
		if c.bits == 8 {
			code = uint32(qv.Codes[i])
		} else {
			b := qv.Codes[i/2]
			if i%2 == 0 {
				code = uint32(b & 0x0f)
			} else {
				code = uint32(b >> 4)
			}
		}
		v[i] = qv.Min + float32(code)*qv.Scale
	}
	return v
}

func (c *ScalarCodec) codeBytes() int {
	if c.bits == 8 {
		return c.dim
	}
	return (c.dim + 1) / 2
}
