package engine

import (
	"github.com/x448/float16"
)

// Clone deep-copies the graph.
func (g *Graph) Clone() *Graph {
	c := &Graph{
		Name:       g.Name,
		Precision:  g.Precision,
		Input:      cloneSpec(g.Input),
		OutputType: g.OutputType,
		Trunk:      cloneLayers(g.Trunk),
	}
	for _, h := range g.Heads {
		c.Heads = append(c.Heads, &Head{Name: h.Name, Layers: cloneLayers(h.Layers)})
	}
	return c
}

func cloneSpec(s TensorSpec) TensorSpec {
	c := s
	c.Shape = append([]int(nil), s.Shape...)
	if s.Quant != nil {
		q := *s.Quant
		c.Quant = &q
	}
	return c
}

func cloneLayers(ls []*Layer) []*Layer {
	out := make([]*Layer, 0, len(ls))
	for _, l := range ls {
		c := *l
		c.Shape = append([]int(nil), l.Shape...)
		if l.Weights != nil {
			c.Weights = l.Weights.Clone()
		}
		if l.Bias != nil {
			c.Bias = l.Bias.Clone()
		}
		if l.OutQuant != nil {
			q := *l.OutQuant
			c.OutQuant = &q
		}
		out = append(out, &c)
	}
	return out
}

// Optimize returns a copy of g with every RELU6 folded into the
// convolution or fully-connected layer feeding it.
func Optimize(g *Graph) *Graph {
	c := g.Clone()
	c.Trunk = fuseActivations(c.Trunk)
	for _, h := range c.Heads {
		h.Layers = fuseActivations(h.Layers)
	}
	return c
}

func fuseActivations(ls []*Layer) []*Layer {
	out := make([]*Layer, 0, len(ls))
	for i := 0; i < len(ls); i++ {
		l := ls[i]
		if i+1 < len(ls) && ls[i+1].Op == OpReLU6 && l.Activation == ActNone {
			switch l.Op {
			case OpConv2D, OpDepthwiseConv2D, OpFullyConnected:
				l.Activation = ActReLU6
				i++
			}
		}
		out = append(out, l)
	}
	return out
}

// ToFloat16 returns a copy of g whose weights and biases are stored in half
// precision. Activations and the model interface stay float32.
func ToFloat16(g *Graph) *Graph {
	c := g.Clone()
	c.Precision = "float16"
	for _, l := range c.Layers() {
		halve(l.Weights)
		halve(l.Bias)
	}
	return c
}

func halve(t *Tensor) {
	if t == nil || t.DType != Float32 {
		return
	}
	t.DType = Float16
	for i, v := range t.F32 {
		t.F32[i] = float16.Fromfloat32(v).Float32()
	}
}
