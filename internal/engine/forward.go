package engine

import (
	"fmt"
	"math"
)

// observer receives every intermediate activation of a float run. The
// input tensor is reported under the graph input name.
type observer func(name string, t *Tensor)

// forwardFloat runs a float32/float16 graph. in must be a [1 H W C] float32
// tensor; outputs carry a leading batch dimension.
func (g *Graph) forwardFloat(in *Tensor, observe observer) ([]*Tensor, error) {
	x, err := in.Reshape(in.Shape[1:]...)
	if err != nil {
		return nil, err
	}
	if observe != nil {
		observe(g.Input.Name, x)
	}

	for _, l := range g.Trunk {
		if x, err = floatLayer(l, x); err != nil {
			return nil, err
		}
		if observe != nil {
			observe(l.Name, x)
		}
	}

	outs := make([]*Tensor, 0, len(g.Heads))
	for _, h := range g.Heads {
		y := x
		for _, l := range h.Layers {
			if y, err = floatLayer(l, y); err != nil {
				return nil, err
			}
			if observe != nil {
				observe(l.Name, y)
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

func floatLayer(l *Layer, x *Tensor) (*Tensor, error) {
	switch l.Op {
	case OpConv2D:
		return conv2DFloat(l, x), nil
	case OpDepthwiseConv2D:
		return depthwiseFloat(l, x), nil
	case OpFullyConnected:
		return fullyConnectedFloat(l, x), nil
	case OpMean:
		return meanFloat(x), nil
	case OpReLU6:
		return mapFloat(x, relu6), nil
	case OpLogistic:
		return mapFloat(x, logistic), nil
	case OpSoftmax:
		return softmaxFloat(x), nil
	case OpReshape:
		return x.Reshape(l.Shape...)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedOperator, l.Op)
	}
}

func activate(a Activation, v float32) float32 {
	if a == ActReLU6 {
		return relu6(v)
	}
	return v
}

func relu6(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 6 {
		return 6
	}
	return v
}

func logistic(v float32) float32 {
	return float32(1 / (1 + math.Exp(-float64(v))))
}

func biasAt(l *Layer, i int) float32 {
	if l.Bias == nil {
		return 0
	}
	return l.Bias.F32[i]
}

func conv2DFloat(l *Layer, x *Tensor) *Tensor {
	h, w, cin := x.Shape[0], x.Shape[1], x.Shape[2]
	kh, kw, cout := l.Weights.Shape[0], l.Weights.Shape[1], l.Weights.Shape[3]
	oh, ow := convOut(h, kh, l), convOut(w, kw, l)
	ph, pw := padBefore(h, kh, l), padBefore(w, kw, l)
	s := stride(l)
	wt := l.Weights.F32

	out := NewTensor(Float32, oh, ow, cout)
	acc := make([]float32, cout)
	for oy := 0; oy < oh; oy++ {
		for ox := 0; ox < ow; ox++ {
			for co := range acc {
				acc[co] = biasAt(l, co)
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
						xv := x.F32[xb+ci]
						if xv == 0 {
							continue
						}
						wb := ((ky*kw+kx)*cin + ci) * cout
						for co := 0; co < cout; co++ {
							acc[co] += xv * wt[wb+co]
						}
					}
				}
			}
			ob := (oy*ow + ox) * cout
			for co, v := range acc {
				out.F32[ob+co] = activate(l.Activation, v)
			}
		}
	}
	return out
}

func depthwiseFloat(l *Layer, x *Tensor) *Tensor {
	h, w, c := x.Shape[0], x.Shape[1], x.Shape[2]
	kh, kw := l.Weights.Shape[0], l.Weights.Shape[1]
	oh, ow := convOut(h, kh, l), convOut(w, kw, l)
	ph, pw := padBefore(h, kh, l), padBefore(w, kw, l)
	s := stride(l)
	wt := l.Weights.F32

	out := NewTensor(Float32, oh, ow, c)
	for oy := 0; oy < oh; oy++ {
		for ox := 0; ox < ow; ox++ {
			ob := (oy*ow + ox) * c
			for ch := 0; ch < c; ch++ {
				sum := biasAt(l, ch)
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
						sum += x.F32[(iy*w+ix)*c+ch] * wt[(ky*kw+kx)*c+ch]
					}
				}
				out.F32[ob+ch] = activate(l.Activation, sum)
			}
		}
	}
	return out
}

func fullyConnectedFloat(l *Layer, x *Tensor) *Tensor {
	in, n := l.Weights.Shape[0], l.Weights.Shape[1]
	wt := l.Weights.F32
	out := NewTensor(Float32, n)
	for o := 0; o < n; o++ {
		out.F32[o] = biasAt(l, o)
	}
	for i := 0; i < in; i++ {
		xv := x.F32[i]
		if xv == 0 {
			continue
		}
		wb := i * n
		for o := 0; o < n; o++ {
			out.F32[o] += xv * wt[wb+o]
		}
	}
	for o := range out.F32 {
		out.F32[o] = activate(l.Activation, out.F32[o])
	}
	return out
}

func meanFloat(x *Tensor) *Tensor {
	h, w, c := x.Shape[0], x.Shape[1], x.Shape[2]
	out := NewTensor(Float32, c)
	sums := make([]float64, c)
	for p := 0; p < h*w; p++ {
		for ch := 0; ch < c; ch++ {
			sums[ch] += float64(x.F32[p*c+ch])
		}
	}
	for ch, s := range sums {
		out.F32[ch] = float32(s / float64(h*w))
	}
	return out
}

func mapFloat(x *Tensor, f func(float32) float32) *Tensor {
	out := NewTensor(Float32, x.Shape...)
	for i, v := range x.F32 {
		out.F32[i] = f(v)
	}
	return out
}

// softmaxFloat normalizes over the last dimension.
func softmaxFloat(x *Tensor) *Tensor {
	out := NewTensor(Float32, x.Shape...)
	n := x.Shape[len(x.Shape)-1]
	for base := 0; base < len(x.F32); base += n {
		row := x.F32[base : base+n]
		hi := float32(math.Inf(-1))
		for _, v := range row {
			if v > hi {
				hi = v
			}
		}
		var sum float64
		for i, v := range row {
			e := math.Exp(float64(v - hi))
			out.F32[base+i] = float32(e)
			sum += e
		}
		for i := range row {
			out.F32[base+i] = float32(float64(out.F32[base+i]) / sum)
		}
	}
	return out
}
