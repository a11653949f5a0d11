package engine

import (
	"fmt"
)

type DType string

const (
	Float32 DType = "float32"
	Float16 DType = "float16"
	UInt8   DType = "uint8"
	Int32   DType = "int32"
)

func ParseDType(s string) (DType, error) {
	switch DType(s) {
	case Float32, Float16, UInt8, Int32:
		return DType(s), nil
	default:
		return "", fmt.Errorf("unknown dtype %q", s)
	}
}

// QuantParams is a per-tensor affine mapping real = (q - ZeroPoint) * Scale.
type QuantParams struct {
	Scale     float32
	ZeroPoint int32
}

// Tensor is a dense row-major tensor. Float32 and Float16 tensors keep their
// values in F32 (Float16 values are already rounded to half precision),
// UInt8 tensors in U8 and Int32 tensors in I32.
type Tensor struct {
	Shape []int
	DType DType
	Quant *QuantParams

	F32 []float32
	U8  []uint8
	I32 []int32
}

func NumElements(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// MaxElements bounds the element count of any tensor a graph may declare.
const MaxElements = 1 << 28

// ElementCount is NumElements for untrusted shapes: every dimension must be
// positive and the product at most MaxElements.
func ElementCount(shape []int) (int, error) {
	n := 1
	for _, d := range shape {
		if d <= 0 {
			return 0, fmt.Errorf("non-positive dimension in %v", shape)
		}
		if n > MaxElements/d {
			return 0, fmt.Errorf("shape %v exceeds %d elements", shape, MaxElements)
		}
		n *= d
	}
	return n, nil
}

// byteWidth is the encoded size of one element.
func byteWidth(dtype DType) (int, bool) {
	switch dtype {
	case Float32, Int32:
		return 4, true
	case Float16:
		return 2, true
	case UInt8:
		return 1, true
	default:
		return 0, false
	}
}

func NewTensor(dtype DType, shape ...int) *Tensor {
	t := &Tensor{Shape: append([]int(nil), shape...), DType: dtype}
	n := NumElements(shape)
	switch dtype {
	case UInt8:
		t.U8 = make([]uint8, n)
	case Int32:
		t.I32 = make([]int32, n)
	default:
		t.F32 = make([]float32, n)
	}
	return t
}

func (t *Tensor) Len() int {
	return NumElements(t.Shape)
}

// check verifies that the shape is sane and the storage matching DType
// holds exactly one value per element.
func (t *Tensor) check() error {
	n, err := ElementCount(t.Shape)
	if err != nil {
		return err
	}
	var have int
	switch t.DType {
	case Float32, Float16:
		have = len(t.F32)
	case UInt8:
		have = len(t.U8)
	case Int32:
		have = len(t.I32)
	default:
		return fmt.Errorf("unknown dtype %q", t.DType)
	}
	if have != n {
		return fmt.Errorf("%s%v holds %d values, want %d", t.DType, t.Shape, have, n)
	}
	return nil
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	c := &Tensor{
		Shape: append([]int(nil), t.Shape...),
		DType: t.DType,
	}
	if t.Quant != nil {
		q := *t.Quant
		c.Quant = &q
	}
	if t.F32 != nil {
		c.F32 = append([]float32(nil), t.F32...)
	}
	if t.U8 != nil {
		c.U8 = append([]uint8(nil), t.U8...)
	}
	if t.I32 != nil {
		c.I32 = append([]int32(nil), t.I32...)
	}
	return c
}

// Reshape returns a view sharing the underlying data.
func (t *Tensor) Reshape(shape ...int) (*Tensor, error) {
	if NumElements(shape) != t.Len() {
		return nil, fmt.Errorf("reshape %v to %v: element count mismatch", t.Shape, shape)
	}
	v := *t
	v.Shape = append([]int(nil), shape...)
	return &v, nil
}

// Float returns element i widened to float32, without dequantization.
func (t *Tensor) Float(i int) float32 {
	switch t.DType {
	case UInt8:
		return float32(t.U8[i])
	case Int32:
		return float32(t.I32[i])
	default:
		return t.F32[i]
	}
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
