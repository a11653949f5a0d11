package engine

import (
	"fmt"
	"strings"
)

var int8Kernels = map[Op]bool{
	OpConv2D:          true,
	OpDepthwiseConv2D: true,
	OpFullyConnected:  true,
	OpMean:            true,
	OpReLU6:           true,
	OpLogistic:        true,
	OpReshape:         true,
}

// CheckInt8 reports every operator of g that has no integer kernel.
func CheckInt8(g *Graph) error {
	var missing []string
	seen := make(map[Op]bool)
	for _, l := range g.Layers() {
		if !int8Kernels[l.Op] && !seen[l.Op] {
			seen[l.Op] = true
			missing = append(missing, string(l.Op))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: no int8 kernel for %s", ErrUnsupportedOperator, strings.Join(missing, ", "))
	}
	return nil
}

// QuantizeInt8 converts a float graph into a full-integer one with uint8
// input and outputs. ranges must come from a Calibrator run over g.
func QuantizeInt8(g *Graph, ranges map[string]Range) (*Graph, error) {
	if err := CheckInt8(g); err != nil {
		return nil, err
	}
	if len(ranges) == 0 {
		return nil, ErrNoCalibrationData
	}

	q := g.Clone()
	q.Precision = "int8"
	q.OutputType = UInt8

	r, ok := ranges[g.Input.Name]
	if !ok {
		return nil, fmt.Errorf("%w: no range for input %s", ErrNoCalibrationData, g.Input.Name)
	}
	inQ := ChooseQuantParams(r.Min, r.Max)
	q.Input.DType = UInt8
	q.Input.Quant = &inQ

	trunkQ, err := quantizeLayers(q.Trunk, inQ, ranges)
	if err != nil {
		return nil, err
	}
	for _, h := range q.Heads {
		if _, err := quantizeLayers(h.Layers, trunkQ, ranges); err != nil {
			return nil, err
		}
	}
	return q, nil
}

func quantizeLayers(ls []*Layer, in QuantParams, ranges map[string]Range) (QuantParams, error) {
	cur := in
	for _, l := range ls {
		if l.Weights != nil {
			lo, hi := minMax(l.Weights.F32)
			wq := ChooseQuantParams(lo, hi)
			if l.Bias != nil {
				l.Bias = quantizeBias(l.Bias, float64(cur.Scale)*float64(wq.Scale))
			}
			l.Weights = Quantize(l.Weights, wq)
		}

		var out QuantParams
		if l.Op == OpReshape {
			out = cur
		} else {
			r, ok := ranges[l.Name]
			if !ok {
				return QuantParams{}, fmt.Errorf("%w: no range for layer %s", ErrNoCalibrationData, l.Name)
			}
			out = ChooseQuantParams(r.Min, r.Max)
		}
		l.OutQuant = &out
		cur = out
	}
	return cur, nil
}
