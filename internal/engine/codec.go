package engine

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/x448/float16"
	"google.golang.org/protobuf/encoding/protowire"
)

// FormatVersion is written into every encoded model.
const FormatVersion = 1

// Field numbers of the model encoding. Messages are plain protobuf wire
// format so that any protobuf tooling can inspect them.
const (
	fModelVersion    protowire.Number = 1
	fModelName       protowire.Number = 2
	fModelPrecision  protowire.Number = 3
	fModelInput      protowire.Number = 4
	fModelOutputType protowire.Number = 5
	fModelTrunk      protowire.Number = 6
	fModelHead       protowire.Number = 7

	fSpecName  protowire.Number = 1
	fSpecShape protowire.Number = 2
	fSpecDType protowire.Number = 3
	fSpecQuant protowire.Number = 4

	fQuantScale     protowire.Number = 1
	fQuantZeroPoint protowire.Number = 2

	fHeadName  protowire.Number = 1
	fHeadLayer protowire.Number = 2

	fLayerName       protowire.Number = 1
	fLayerOp         protowire.Number = 2
	fLayerActivation protowire.Number = 3
	fLayerStride     protowire.Number = 4
	fLayerPadding    protowire.Number = 5
	fLayerShape      protowire.Number = 6
	fLayerWeights    protowire.Number = 7
	fLayerBias       protowire.Number = 8
	fLayerOutQuant   protowire.Number = 9

	fBlobDType protowire.Number = 1
	fBlobShape protowire.Number = 2
	fBlobData  protowire.Number = 3
	fBlobQuant protowire.Number = 4
)

// Encode serializes g. The output is deterministic for a given graph.
func Encode(g *Graph) []byte {
	var b []byte
	b = appendVarint(b, fModelVersion, FormatVersion)
	b = appendString(b, fModelName, g.Name)
	b = appendString(b, fModelPrecision, g.Precision)
	b = appendMessage(b, fModelInput, encodeSpec(g.Input))
	b = appendString(b, fModelOutputType, string(g.OutputType))
	for _, l := range g.Trunk {
		b = appendMessage(b, fModelTrunk, encodeLayer(l))
	}
	for _, h := range g.Heads {
		var hb []byte
		hb = appendString(hb, fHeadName, h.Name)
		for _, l := range h.Layers {
			hb = appendMessage(hb, fHeadLayer, encodeLayer(l))
		}
		b = appendMessage(b, fModelHead, hb)
	}
	return b
}

// ReadFile decodes and validates the model stored at path.
func ReadFile(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	g, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return g, nil
}

// Decode parses and validates an encoded graph.
func Decode(data []byte) (*Graph, error) {
	fs, err := fields(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGraph, err)
	}

	g := &Graph{}
	var version uint64
	for _, f := range fs {
		switch f.num {
		case fModelVersion:
			version = f.varint
		case fModelName:
			g.Name = string(f.bytes)
		case fModelPrecision:
			g.Precision = string(f.bytes)
		case fModelInput:
			if g.Input, err = decodeSpec(f.bytes); err != nil {
				return nil, err
			}
		case fModelOutputType:
			if g.OutputType, err = ParseDType(string(f.bytes)); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidGraph, err)
			}
		case fModelTrunk:
			l, err := decodeLayer(f.bytes)
			if err != nil {
				return nil, err
			}
			g.Trunk = append(g.Trunk, l)
		case fModelHead:
			h, err := decodeHead(f.bytes)
			if err != nil {
				return nil, err
			}
			g.Heads = append(g.Heads, h)
		}
	}
	if version != FormatVersion {
		return nil, fmt.Errorf("%w: format version %d, want %d", ErrInvalidGraph, version, FormatVersion)
	}
	if _, err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

func encodeSpec(s TensorSpec) []byte {
	var b []byte
	b = appendString(b, fSpecName, s.Name)
	b = appendInts(b, fSpecShape, s.Shape)
	b = appendString(b, fSpecDType, string(s.DType))
	if s.Quant != nil {
		b = appendMessage(b, fSpecQuant, encodeQuant(*s.Quant))
	}
	return b
}

func decodeSpec(data []byte) (TensorSpec, error) {
	var s TensorSpec
	fs, err := fields(data)
	if err != nil {
		return s, fmt.Errorf("%w: input spec: %v", ErrInvalidGraph, err)
	}
	for _, f := range fs {
		switch f.num {
		case fSpecName:
			s.Name = string(f.bytes)
		case fSpecShape:
			if s.Shape, err = consumeInts(f.bytes); err != nil {
				return s, fmt.Errorf("%w: input shape: %v", ErrInvalidGraph, err)
			}
		case fSpecDType:
			if s.DType, err = ParseDType(string(f.bytes)); err != nil {
				return s, fmt.Errorf("%w: %v", ErrInvalidGraph, err)
			}
		case fSpecQuant:
			q, err := decodeQuant(f.bytes)
			if err != nil {
				return s, err
			}
			s.Quant = &q
		}
	}
	return s, nil
}

func encodeQuant(q QuantParams) []byte {
	var b []byte
	b = protowire.AppendTag(b, fQuantScale, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, math.Float32bits(q.Scale))
	b = protowire.AppendTag(b, fQuantZeroPoint, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(q.ZeroPoint)))
	return b
}

func decodeQuant(data []byte) (QuantParams, error) {
	var q QuantParams
	fs, err := fields(data)
	if err != nil {
		return q, fmt.Errorf("%w: quantization: %v", ErrInvalidGraph, err)
	}
	for _, f := range fs {
		switch f.num {
		case fQuantScale:
			q.Scale = math.Float32frombits(f.fixed32)
		case fQuantZeroPoint:
			q.ZeroPoint = int32(protowire.DecodeZigZag(f.varint))
		}
	}
	return q, nil
}

func decodeHead(data []byte) (*Head, error) {
	fs, err := fields(data)
	if err != nil {
		return nil, fmt.Errorf("%w: head: %v", ErrInvalidGraph, err)
	}
	h := &Head{}
	for _, f := range fs {
		switch f.num {
		case fHeadName:
			h.Name = string(f.bytes)
		case fHeadLayer:
			l, err := decodeLayer(f.bytes)
			if err != nil {
				return nil, err
			}
			h.Layers = append(h.Layers, l)
		}
	}
	return h, nil
}

func encodeLayer(l *Layer) []byte {
	var b []byte
	b = appendString(b, fLayerName, l.Name)
	b = appendString(b, fLayerOp, string(l.Op))
	b = appendString(b, fLayerActivation, string(l.Activation))
	b = appendVarint(b, fLayerStride, uint64(l.Stride))
	b = appendString(b, fLayerPadding, string(l.Padding))
	b = appendInts(b, fLayerShape, l.Shape)
	if l.Weights != nil {
		b = appendMessage(b, fLayerWeights, encodeBlob(l.Weights))
	}
	if l.Bias != nil {
		b = appendMessage(b, fLayerBias, encodeBlob(l.Bias))
	}
	if l.OutQuant != nil {
		b = appendMessage(b, fLayerOutQuant, encodeQuant(*l.OutQuant))
	}
	return b
}

func decodeLayer(data []byte) (*Layer, error) {
	fs, err := fields(data)
	if err != nil {
		return nil, fmt.Errorf("%w: layer: %v", ErrInvalidGraph, err)
	}
	l := &Layer{}
	for _, f := range fs {
		switch f.num {
		case fLayerName:
			l.Name = string(f.bytes)
		case fLayerOp:
			l.Op = Op(f.bytes)
		case fLayerActivation:
			l.Activation = Activation(f.bytes)
		case fLayerStride:
			l.Stride = int(f.varint)
		case fLayerPadding:
			l.Padding = Padding(f.bytes)
		case fLayerShape:
			if l.Shape, err = consumeInts(f.bytes); err != nil {
				return nil, fmt.Errorf("%w: layer shape: %v", ErrInvalidGraph, err)
			}
		case fLayerWeights:
			if l.Weights, err = decodeBlob(f.bytes); err != nil {
				return nil, err
			}
		case fLayerBias:
			if l.Bias, err = decodeBlob(f.bytes); err != nil {
				return nil, err
			}
		case fLayerOutQuant:
			q, err := decodeQuant(f.bytes)
			if err != nil {
				return nil, err
			}
			l.OutQuant = &q
		}
	}
	return l, nil
}

func encodeBlob(t *Tensor) []byte {
	var b []byte
	b = appendString(b, fBlobDType, string(t.DType))
	b = appendInts(b, fBlobShape, t.Shape)

	var data []byte
	switch t.DType {
	case Float32:
		data = make([]byte, 4*len(t.F32))
		for i, v := range t.F32 {
			binary.LittleEndian.PutUint32(data[4*i:], math.Float32bits(v))
		}
	case Float16:
		data = make([]byte, 2*len(t.F32))
		for i, v := range t.F32 {
			binary.LittleEndian.PutUint16(data[2*i:], float16.Fromfloat32(v).Bits())
		}
	case UInt8:
		data = t.U8
	case Int32:
		data = make([]byte, 4*len(t.I32))
		for i, v := range t.I32 {
			binary.LittleEndian.PutUint32(data[4*i:], uint32(v))
		}
	}
	b = protowire.AppendTag(b, fBlobData, protowire.BytesType)
	b = protowire.AppendBytes(b, data)
	if t.Quant != nil {
		b = appendMessage(b, fBlobQuant, encodeQuant(*t.Quant))
	}
	return b
}

func decodeBlob(data []byte) (*Tensor, error) {
	fs, err := fields(data)
	if err != nil {
		return nil, fmt.Errorf("%w: tensor: %v", ErrInvalidGraph, err)
	}
	var (
		dtype DType
		shape []int
		raw   []byte
		quant *QuantParams
	)
	for _, f := range fs {
		switch f.num {
		case fBlobDType:
			if dtype, err = ParseDType(string(f.bytes)); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidGraph, err)
			}
		case fBlobShape:
			if shape, err = consumeInts(f.bytes); err != nil {
				return nil, fmt.Errorf("%w: tensor shape: %v", ErrInvalidGraph, err)
			}
		case fBlobData:
			raw = f.bytes
		case fBlobQuant:
			q, err := decodeQuant(f.bytes)
			if err != nil {
				return nil, err
			}
			quant = &q
		}
	}

	width, ok := byteWidth(dtype)
	if !ok {
		return nil, fmt.Errorf("%w: tensor without dtype", ErrInvalidGraph)
	}
	n, err := ElementCount(shape)
	if err != nil {
		return nil, fmt.Errorf("%w: tensor: %v", ErrInvalidGraph, err)
	}
	if len(raw)%width != 0 || len(raw)/width != n {
		return nil, fmt.Errorf("%w: tensor %v %s has %d data bytes", ErrInvalidGraph, shape, dtype, len(raw))
	}

	t := NewTensor(dtype, shape...)
	t.Quant = quant
	switch dtype {
	case Float32:
		for i := range t.F32 {
			t.F32[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
		}
	case Float16:
		for i := range t.F32 {
			t.F32[i] = float16.Frombits(binary.LittleEndian.Uint16(raw[2*i:])).Float32()
		}
	case UInt8:
		copy(t.U8, raw)
	case Int32:
		for i := range t.I32 {
			t.I32[i] = int32(binary.LittleEndian.Uint32(raw[4*i:]))
		}
	}
	return t, nil
}

type field struct {
	num     protowire.Number
	varint  uint64
	fixed32 uint32
	bytes   []byte
}

// fields splits one message into its top-level fields. Unknown wire types
// are skipped.
func fields(b []byte) ([]field, error) {
	var out []field
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]

		f := field{num: num}
		switch typ {
		case protowire.VarintType:
			f.varint, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			f.fixed32, n = protowire.ConsumeFixed32(b)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			f.num = 0
		}
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		if f.num != 0 {
			out = append(out, f)
		}
	}
	return out, nil
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

// appendInts writes a packed repeated varint field.
func appendInts(b []byte, num protowire.Number, vs []int) []byte {
	if len(vs) == 0 {
		return b
	}
	var packed []byte
	for _, v := range vs {
		packed = protowire.AppendVarint(packed, uint64(v))
	}
	return appendMessage(b, num, packed)
}

func consumeInts(b []byte) ([]int, error) {
	var out []int
	for len(b) > 0 {
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		out = append(out, int(v))
		b = b[n:]
	}
	return out, nil
}
