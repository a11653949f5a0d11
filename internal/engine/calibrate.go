package engine

import (
	"fmt"
)

// Range is the observed [Min, Max] of one tensor across calibration runs.
type Range struct {
	Min, Max float32
}

// Calibrator records activation ranges of a float graph. Feed it samples
// with Observe, then pass Ranges to QuantizeInt8.
type Calibrator struct {
	g       *Graph
	ranges  map[string]Range
	samples int
}

func NewCalibrator(g *Graph) *Calibrator {
	return &Calibrator{g: g, ranges: make(map[string]Range)}
}

// Observe runs one sample through the graph. uint8 samples are widened to
// float32 without rescaling.
func (c *Calibrator) Observe(sample *Tensor) error {
	in := sample
	if sample.DType == UInt8 {
		in = NewTensor(Float32, sample.Shape...)
		for i, v := range sample.U8 {
			in.F32[i] = float32(v)
		}
	}
	if !sameShape(in.Shape, c.g.Input.Shape) {
		return fmt.Errorf("%w: calibration sample %v, model input %v", ErrShapeMismatch, in.Shape, c.g.Input.Shape)
	}

	_, err := c.g.forwardFloat(in, func(name string, t *Tensor) {
		lo, hi := minMax(t.F32)
		r, ok := c.ranges[name]
		if !ok {
			c.ranges[name] = Range{Min: lo, Max: hi}
			return
		}
		if lo < r.Min {
			r.Min = lo
		}
		if hi > r.Max {
			r.Max = hi
		}
		c.ranges[name] = r
	})
	if err != nil {
		return err
	}
	c.samples++
	return nil
}

func (c *Calibrator) Samples() int {
	return c.samples
}

func (c *Calibrator) Ranges() map[string]Range {
	out := make(map[string]Range, len(c.ranges))
	for k, v := range c.ranges {
		out[k] = v
	}
	return out
}
