package engine

import (
	"math"
)

const (
	qmin = 0
	qmax = 255
)

// ChooseQuantParams derives asymmetric uint8 parameters for the observed
// range. The range is widened to include zero so that zero is exactly
// representable. A degenerate range yields Scale 0 and every value maps to
// the zero point.
func ChooseQuantParams(minVal, maxVal float32) QuantParams {
	if minVal > 0 {
		minVal = 0
	}
	if maxVal < 0 {
		maxVal = 0
	}
	if maxVal == minVal {
		return QuantParams{Scale: 0, ZeroPoint: 0}
	}
	scale := (maxVal - minVal) / float32(qmax-qmin)
	zp := math.Round(float64(qmin) - float64(minVal)/float64(scale))
	if zp < qmin {
		zp = qmin
	}
	if zp > qmax {
		zp = qmax
	}
	return QuantParams{Scale: scale, ZeroPoint: int32(zp)}
}

func QuantizeValue(x float32, p QuantParams) uint8 {
	if p.Scale == 0 {
		return clampU8(float64(p.ZeroPoint))
	}
	return clampU8(math.Round(float64(x)/float64(p.Scale)) + float64(p.ZeroPoint))
}

func DequantizeValue(q uint8, p QuantParams) float32 {
	return float32(int32(q)-p.ZeroPoint) * p.Scale
}

// Quantize converts a float tensor to uint8 with the given parameters.
func Quantize(t *Tensor, p QuantParams) *Tensor {
	out := NewTensor(UInt8, t.Shape...)
	qp := p
	out.Quant = &qp
	for i, v := range t.F32 {
		out.U8[i] = QuantizeValue(v, p)
	}
	return out
}

// Dequantize widens a quantized uint8 tensor back to float32.
func Dequantize(t *Tensor) *Tensor {
	out := NewTensor(Float32, t.Shape...)
	if t.Quant == nil {
		for i, v := range t.U8 {
			out.F32[i] = float32(v)
		}
		return out
	}
	for i, v := range t.U8 {
		out.F32[i] = DequantizeValue(v, *t.Quant)
	}
	return out
}

func clampU8(v float64) uint8 {
	if v < qmin {
		return qmin
	}
	if v > qmax {
		return qmax
	}
	return uint8(v)
}

func minMax(vals []float32) (float32, float32) {
	if len(vals) == 0 {
		return 0, 0
	}
	lo, hi := vals[0], vals[0]
	for _, v := range vals[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}
