package engine

import (
	"fmt"
	"math"
)

// forwardQuant runs a full-integer graph. in must be a [1 H W C] uint8
// tensor; the graph input parameters are attached to it. Products are
// accumulated in int32 and rescaled with a float multiplier.
func (g *Graph) forwardQuant(in *Tensor) ([]*Tensor, error) {
	x, err := in.Reshape(in.Shape[1:]...)
	if err != nil {
		return nil, err
	}
	if g.Input.Quant == nil {
		return nil, fmt.Errorf("%w: int8 graph without input quantization", ErrInvalidGraph)
	}
	qp := *g.Input.Quant
	x.Quant = &qp

	for _, l := range g.Trunk {
		if x, err = quantLayer(l, x); err != nil {
			return nil, err
		}
	}

	outs := make([]*Tensor, 0, len(g.Heads))
	for _, h := range g.Heads {
		y := x
		for _, l := range h.Layers {
			if y, err = quantLayer(l, y); err != nil {
				return nil, err
			}
		}
		out, err := y.Reshape(append([]int{1}, y.Shape...)...)
		if err != nil {
			return nil, err
		}
		outs = append(outs, out.Clone())
	}
	return outs, nil
}

func quantLayer(l *Layer, x *Tensor) (*Tensor, error) {
	if l.OutQuant == nil {
		return nil, fmt.Errorf("%w: layer %s has no output quantization", ErrInvalidGraph, l.Name)
	}
	switch l.Op {
	case OpConv2D:
		return conv2DQuant(l, x), nil
	case OpDepthwiseConv2D:
		return depthwiseQuant(l, x), nil
	case OpFullyConnected:
		return fullyConnectedQuant(l, x), nil
	case OpMean:
		return meanQuant(l, x), nil
	case OpReLU6:
		return lutQuant(l, x, relu6), nil
	case OpLogistic:
		return lutQuant(l, x, logistic), nil
	case OpReshape:
		y, err := x.Reshape(l.Shape...)
		if err != nil {
			return nil, err
		}
		q := *l.OutQuant
		y.Quant = &q
		return y, nil
	default:
		return nil, fmt.Errorf("%w: %s has no integer kernel", ErrUnsupportedOperator, l.Op)
	}
}

// requant maps an int32 accumulator to the layer output.
type requant struct {
	inScale  float64
	wScale   float64
	bias     []int32
	biasStep float64
	act      Activation
	out      QuantParams
}

func newRequant(l *Layer, x *Tensor) requant {
	r := requant{
		inScale: float64(x.Quant.Scale),
		wScale:  float64(l.Weights.Quant.Scale),
		act:     l.Activation,
		out:     *l.OutQuant,
	}
	if l.Bias != nil {
		r.bias = l.Bias.I32
		r.biasStep = float64(l.Bias.Quant.Scale)
	}
	return r
}

func (r requant) apply(ch int, acc int32) uint8 {
	real := r.inScale * r.wScale * float64(acc)
	if r.bias != nil {
		real += float64(r.bias[ch]) * r.biasStep
	}
	return QuantizeValue(activate(r.act, float32(real)), r.out)
}

func quantOutput(l *Layer, shape ...int) *Tensor {
	out := NewTensor(UInt8, shape...)
	q := *l.OutQuant
	out.Quant = &q
	return out
}

func conv2DQuant(l *Layer, x *Tensor) *Tensor {
	h, w, cin := x.Shape[0], x.Shape[1], x.Shape[2]
	kh, kw, cout := l.Weights.Shape[0], l.Weights.Shape[1], l.Weights.Shape[3]
	oh, ow := convOut(h, kh, l), convOut(w, kw, l)
	ph, pw := padBefore(h, kh, l), padBefore(w, kw, l)
	s := stride(l)
	zi, zw := x.Quant.ZeroPoint, l.Weights.Quant.ZeroPoint
	wt := l.Weights.U8
	rq := newRequant(l, x)

	out := quantOutput(l, oh, ow, cout)
	acc := make([]int32, cout)
	for oy := 0; oy < oh; oy++ {
		for ox := 0; ox < ow; ox++ {
			for co := range acc {
				acc[co] = 0
			}
			for ky := 0; ky < kh; ky++ {
				iy := oy*s + ky - ph
				if iy < 0 || iy >= h {
					continue
				}
				for kx := 0; kx < kw; kx++ {
					ix := ox*s + kx - pw
					if ix < 0 || ix >= w {
						continue
					}
					xb := (iy*w + ix) * cin
					for ci := 0; ci < cin; ci++ {
						xv := int32(x.U8[xb+ci]) - zi
						if xv == 0 {
							continue
						}
						wb := ((ky*kw+kx)*cin + ci) * cout
						for co := 0; co < cout; co++ {
							acc[co] += xv * (int32(wt[wb+co]) - zw)
						}
					}
				}
			}
			ob := (oy*ow + ox) * cout
			for co, a := range acc {
				out.U8[ob+co] = rq.apply(co, a)
			}
		}
	}
	return out
}

func depthwiseQuant(l *Layer, x *Tensor) *Tensor {
	h, w, c := x.Shape[0], x.Shape[1], x.Shape[2]
	kh, kw := l.Weights.Shape[0], l.Weights.Shape[1]
	oh, ow := convOut(h, kh, l), convOut(w, kw, l)
	ph, pw := padBefore(h, kh, l), padBefore(w, kw, l)
	s := stride(l)
	zi, zw := x.Quant.ZeroPoint, l.Weights.Quant.ZeroPoint
	wt := l.Weights.U8
	rq := newRequant(l, x)

	out := quantOutput(l, oh, ow, c)
	for oy := 0; oy < oh; oy++ {
		for ox := 0; ox < ow; ox++ {
			ob := (oy*ow + ox) * c
			for ch := 0; ch < c; ch++ {
				var acc int32
				for ky := 0; ky < kh; ky++ {
					iy := oy*s + ky - ph
					if iy < 0 || iy >= h {
						continue
					}
					for kx := 0; kx < kw; kx++ {
						ix := ox*s + kx - pw
						if ix < 0 || ix >= w {
							continue
						}
						xv := int32(x.U8[(iy*w+ix)*c+ch]) - zi
						acc += xv * (int32(wt[(ky*kw+kx)*c+ch]) - zw)
					}
				}
				out.U8[ob+ch] = rq.apply(ch, acc)
			}
		}
	}
	return out
}

func fullyConnectedQuant(l *Layer, x *Tensor) *Tensor {
	in, n := l.Weights.Shape[0], l.Weights.Shape[1]
	zi, zw := x.Quant.ZeroPoint, l.Weights.Quant.ZeroPoint
	wt := l.Weights.U8
	rq := newRequant(l, x)

	acc := make([]int32, n)
	for i := 0; i < in; i++ {
		xv := int32(x.U8[i]) - zi
		if xv == 0 {
			continue
		}
		wb := i * n
		for o := 0; o < n; o++ {
			acc[o] += xv * (int32(wt[wb+o]) - zw)
		}
	}

	out := quantOutput(l, n)
	for o, a := range acc {
		out.U8[o] = rq.apply(o, a)
	}
	return out
}

func meanQuant(l *Layer, x *Tensor) *Tensor {
	h, w, c := x.Shape[0], x.Shape[1], x.Shape[2]
	sums := make([]int64, c)
	for p := 0; p < h*w; p++ {
		for ch := 0; ch < c; ch++ {
			sums[ch] += int64(x.U8[p*c+ch])
		}
	}

	out := quantOutput(l, c)
	for ch, s := range sums {
		meanQ := float64(s) / float64(h*w)
		real := (meanQ - float64(x.Quant.ZeroPoint)) * float64(x.Quant.Scale)
		out.U8[ch] = QuantizeValue(float32(real), *l.OutQuant)
	}
	return out
}

// lutQuant applies an elementwise function through a 256-entry table.
func lutQuant(l *Layer, x *Tensor, f func(float32) float32) *Tensor {
	var table [256]uint8
	for v := 0; v < 256; v++ {
		table[v] = QuantizeValue(f(DequantizeValue(uint8(v), *x.Quant)), *l.OutQuant)
	}
	out := quantOutput(l, x.Shape...)
	for i, v := range x.U8 {
		out.U8[i] = table[v]
	}
	return out
}

func quantizeBias(b *Tensor, scale float64) *Tensor {
	out := NewTensor(Int32, b.Shape...)
	if scale == 0 {
		var maxAbs float64
		for _, v := range b.F32 {
			maxAbs = math.Max(maxAbs, math.Abs(float64(v)))
		}
		scale = maxAbs / math.MaxInt32
	}
	out.Quant = &QuantParams{Scale: float32(scale)}
	if scale == 0 {
		return out
	}
	// Recompute from the stored float32 step so dequantization matches.
	step := float64(out.Quant.Scale)
	for i, v := range b.F32 {
		q := math.Round(float64(v) / step)
		q = math.Max(math.MinInt32, math.Min(math.MaxInt32, q))
		out.I32[i] = int32(q)
	}
	return out
}
