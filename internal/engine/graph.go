package engine

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrInvalidGraph        = errors.New("invalid graph")
	ErrUnsupportedOperator = errors.New("operator not supported")
	ErrShapeMismatch       = errors.New("tensor shape or dtype mismatch")
	ErrNoCalibrationData   = errors.New("calibration produced no samples")
)

type Op string

const (
	OpConv2D          Op = "CONV_2D"
	OpDepthwiseConv2D Op = "DEPTHWISE_CONV_2D"
	OpFullyConnected  Op = "FULLY_CONNECTED"
	OpMean            Op = "MEAN"
	OpReLU6           Op = "RELU6"
	OpLogistic        Op = "LOGISTIC"
	OpSoftmax         Op = "SOFTMAX"
	OpReshape         Op = "RESHAPE"
)

type Activation string

const (
	ActNone  Activation = ""
	ActReLU6 Activation = "RELU6"
)

type Padding string

const (
	PaddingSame  Padding = "SAME"
	PaddingValid Padding = "VALID"
)

// Layer is one operator. Weight layouts:
//
//	CONV_2D            [KH, KW, Cin, Cout]
//	DEPTHWISE_CONV_2D  [KH, KW, C]
//	FULLY_CONNECTED    [In, Out]
//
// Bias has one element per output channel.
type Layer struct {
	Name       string
	Op         Op
	Activation Activation
	Stride     int
	Padding    Padding
	Shape      []int

	Weights *Tensor
	Bias    *Tensor

	// OutQuant is set on every layer of an int8 graph.
	OutQuant *QuantParams
}

type Head struct {
	Name   string
	Layers []*Layer
}

type TensorSpec struct {
	Name  string
	Shape []int
	DType DType
	Quant *QuantParams
}

// Graph is a single-input detector: a shared trunk followed by one or more
// output heads, each producing one output tensor.
type Graph struct {
	Name       string
	Precision  string
	Input      TensorSpec
	OutputType DType
	Trunk      []*Layer
	Heads      []*Head
}

// Validate checks names, dtypes, quantization parameters and shapes and
// returns the per-head output shapes, batch dimension included. A graph with
// a uint8 input is full-integer: every layer carries OutQuant, weights are
// quantized uint8 and biases int32. Any other graph runs in float and keeps
// float32 or float16 parameters.
func (g *Graph) Validate() ([][]int, error) {
	if len(g.Input.Shape) != 4 || g.Input.Shape[0] != 1 {
		return nil, fmt.Errorf("%w: input shape %v, want [1 H W C]", ErrInvalidGraph, g.Input.Shape)
	}
	if _, err := ElementCount(g.Input.Shape); err != nil {
		return nil, fmt.Errorf("%w: input: %v", ErrInvalidGraph, err)
	}
	if err := g.checkInterface(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGraph, err)
	}
	if len(g.Heads) == 0 {
		return nil, fmt.Errorf("%w: no output heads", ErrInvalidGraph)
	}

	quantized := g.Quantized()
	seen := make(map[string]bool)
	shape := append([]int(nil), g.Input.Shape[1:]...)
	var err error
	for _, l := range g.Trunk {
		if shape, err = checkLayer(l, shape, seen, quantized); err != nil {
			return nil, err
		}
	}

	outs := make([][]int, 0, len(g.Heads))
	heads := make(map[string]bool)
	for _, h := range g.Heads {
		if h == nil || h.Name == "" || heads[h.Name] {
			return nil, fmt.Errorf("%w: head name empty or duplicated", ErrInvalidGraph)
		}
		heads[h.Name] = true
		hs := shape
		for _, l := range h.Layers {
			if hs, err = checkLayer(l, hs, seen, quantized); err != nil {
				return nil, err
			}
		}
		outs = append(outs, append([]int{1}, hs...))
	}
	return outs, nil
}

// Quantized reports whether g runs on integer kernels.
func (g *Graph) Quantized() bool {
	return g.Input.DType == UInt8
}

func (g *Graph) checkInterface() error {
	if g.Quantized() {
		if g.Input.Quant == nil {
			return fmt.Errorf("uint8 input %s without quantization", g.Input.Name)
		}
		if err := checkQuant(*g.Input.Quant); err != nil {
			return fmt.Errorf("input %s: %v", g.Input.Name, err)
		}
		if g.OutputType != UInt8 {
			return fmt.Errorf("integer graph with %q outputs", g.OutputType)
		}
		return nil
	}
	if !isFloat(g.Input.DType) {
		return fmt.Errorf("input dtype %q", g.Input.DType)
	}
	if !isFloat(g.OutputType) {
		return fmt.Errorf("float graph with %q outputs", g.OutputType)
	}
	if g.Precision == "int8" {
		return fmt.Errorf("int8 precision with %s input", g.Input.DType)
	}
	return nil
}

func isFloat(d DType) bool {
	return d == Float32 || d == Float16
}

func checkQuant(q QuantParams) error {
	s := float64(q.Scale)
	if math.IsNaN(s) || math.IsInf(s, 0) || s < 0 {
		return fmt.Errorf("bad scale %v", q.Scale)
	}
	return nil
}

// Layers returns every layer in execution order, trunk first.
func (g *Graph) Layers() []*Layer {
	all := append([]*Layer(nil), g.Trunk...)
	for _, h := range g.Heads {
		all = append(all, h.Layers...)
	}
	return all
}

func checkLayer(l *Layer, in []int, seen map[string]bool, quantized bool) ([]int, error) {
	if l == nil || l.Name == "" || seen[l.Name] {
		return nil, fmt.Errorf("%w: layer name empty or duplicated", ErrInvalidGraph)
	}
	seen[l.Name] = true
	if err := checkParams(l, quantized); err != nil {
		return nil, fmt.Errorf("%w: layer %s: %v", ErrInvalidGraph, l.Name, err)
	}
	out, err := outputShape(l, in)
	if err != nil {
		return nil, fmt.Errorf("%w: layer %s: %v", ErrInvalidGraph, l.Name, err)
	}
	if _, err := ElementCount(out); err != nil {
		return nil, fmt.Errorf("%w: layer %s output: %v", ErrInvalidGraph, l.Name, err)
	}
	return out, nil
}

// checkParams matches the layer's tensors against the graph's arithmetic.
func checkParams(l *Layer, quantized bool) error {
	for _, p := range []struct {
		name string
		t    *Tensor
		want DType
	}{{"weights", l.Weights, UInt8}, {"bias", l.Bias, Int32}} {
		if p.t == nil {
			continue
		}
		if err := p.t.check(); err != nil {
			return fmt.Errorf("%s: %v", p.name, err)
		}
		if !quantized {
			if !isFloat(p.t.DType) {
				return fmt.Errorf("%s are %s in a float graph", p.name, p.t.DType)
			}
			continue
		}
		if p.t.DType != p.want {
			return fmt.Errorf("%s are %s, want %s", p.name, p.t.DType, p.want)
		}
		if p.t.Quant == nil {
			return fmt.Errorf("%s without quantization", p.name)
		}
		if err := checkQuant(*p.t.Quant); err != nil {
			return fmt.Errorf("%s: %v", p.name, err)
		}
	}
	if quantized {
		if l.OutQuant == nil {
			return fmt.Errorf("no output quantization")
		}
		if err := checkQuant(*l.OutQuant); err != nil {
			return fmt.Errorf("output: %v", err)
		}
	}
	return nil
}

func outputShape(l *Layer, in []int) ([]int, error) {
	switch l.Op {
	case OpConv2D:
		if len(in) != 3 {
			return nil, fmt.Errorf("want HWC input, got %v", in)
		}
		if l.Weights == nil || len(l.Weights.Shape) != 4 {
			return nil, fmt.Errorf("want [KH KW Cin Cout] weights")
		}
		ws := l.Weights.Shape
		if ws[2] != in[2] {
			return nil, fmt.Errorf("weights expect %d input channels, got %d", ws[2], in[2])
		}
		if err := checkBias(l, ws[3]); err != nil {
			return nil, err
		}
		oh, ow := convOut(in[0], ws[0], l), convOut(in[1], ws[1], l)
		return []int{oh, ow, ws[3]}, nil
	case OpDepthwiseConv2D:
		if len(in) != 3 {
			return nil, fmt.Errorf("want HWC input, got %v", in)
		}
		if l.Weights == nil || len(l.Weights.Shape) != 3 {
			return nil, fmt.Errorf("want [KH KW C] weights")
		}
		ws := l.Weights.Shape
		if ws[2] != in[2] {
			return nil, fmt.Errorf("weights expect %d channels, got %d", ws[2], in[2])
		}
		if err := checkBias(l, ws[2]); err != nil {
			return nil, err
		}
		return []int{convOut(in[0], ws[0], l), convOut(in[1], ws[1], l), in[2]}, nil
	case OpFullyConnected:
		if l.Weights == nil || len(l.Weights.Shape) != 2 {
			return nil, fmt.Errorf("want [In Out] weights")
		}
		if NumElements(in) != l.Weights.Shape[0] {
			return nil, fmt.Errorf("weights expect %d inputs, got %d", l.Weights.Shape[0], NumElements(in))
		}
		if err := checkBias(l, l.Weights.Shape[1]); err != nil {
			return nil, err
		}
		return []int{l.Weights.Shape[1]}, nil
	case OpMean:
		if len(in) != 3 {
			return nil, fmt.Errorf("want HWC input, got %v", in)
		}
		return []int{in[2]}, nil
	case OpReLU6, OpLogistic, OpSoftmax:
		return append([]int(nil), in...), nil
	case OpReshape:
		if NumElements(l.Shape) != NumElements(in) {
			return nil, fmt.Errorf("cannot reshape %v to %v", in, l.Shape)
		}
		return append([]int(nil), l.Shape...), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedOperator, l.Op)
	}
}

func checkBias(l *Layer, n int) error {
	if l.Bias == nil {
		return nil
	}
	if l.Bias.Len() != n {
		return fmt.Errorf("bias has %d elements, want %d", l.Bias.Len(), n)
	}
	return nil
}

func stride(l *Layer) int {
	if l.Stride <= 0 {
		return 1
	}
	return l.Stride
}

func convOut(in, k int, l *Layer) int {
	s := stride(l)
	if l.Padding == PaddingValid {
		return (in-k)/s + 1
	}
	return (in + s - 1) / s
}

// padBefore follows the SAME convention: the extra padding row goes after.
func padBefore(in, k int, l *Layer) int {
	if l.Padding == PaddingValid {
		return 0
	}
	out := convOut(in, k, l)
	total := (out-1)*stride(l) + k - in
	if total < 0 {
		total = 0
	}
	return total / 2
}
