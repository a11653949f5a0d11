package services

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"

	"detection-quant-bench/internal/engine"
)

const (
	// InputSize is the square resolution every sample is resized to.
	InputSize = 300
	channels  = 3
)

var errEmptyImage = errors.New("preprocess: empty image")

// Preprocessor turns a decoded image into the [H W 3] uint8 tensor both the
// calibration feeder and the evaluator consume.
type Preprocessor struct {
	width, height int
}

func NewPreprocessor() *Preprocessor {
	return &Preprocessor{width: InputSize, height: InputSize}
}

// Preprocess resizes bilinearly, scales to [0,1] in float32 and truncates
// back to uint8. The result only holds 0 and 1, and every artifact in a run
// must see exactly this transform.
func (p *Preprocessor) Preprocess(img image.Image) (*engine.Tensor, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, errEmptyImage
	}
	resized := imaging.Resize(img, p.width, p.height, imaging.Linear)

	out := engine.NewTensor(engine.UInt8, p.height, p.width, channels)
	for y := 0; y < p.height; y++ {
		row := resized.Pix[y*resized.Stride:]
		for x := 0; x < p.width; x++ {
			for c := 0; c < channels; c++ {
				v := float32(row[x*4+c]) / 255
				out.U8[(y*p.width+x)*channels+c] = uint8(v)
			}
		}
	}
	return out, nil
}

// resizeTensor bilinearly resizes an [H W 3] or [1 H W 3] uint8 tensor.
// The batch dimension, if any, is kept.
func resizeTensor(t *engine.Tensor, h, w int) (*engine.Tensor, error) {
	shape := t.Shape
	batched := len(shape) == 4
	if batched {
		shape = shape[1:]
	}
	if len(shape) != 3 || shape[2] != channels || t.DType != engine.UInt8 {
		return nil, fmt.Errorf("resize: want uint8 [H W 3], got %s%v", t.DType, t.Shape)
	}
	if shape[0] == h && shape[1] == w {
		return t, nil
	}

	src := image.NewNRGBA(image.Rect(0, 0, shape[1], shape[0]))
	for y := 0; y < shape[0]; y++ {
		for x := 0; x < shape[1]; x++ {
			i := (y*shape[1] + x) * channels
			src.SetNRGBA(x, y, color.NRGBA{R: t.U8[i], G: t.U8[i+1], B: t.U8[i+2], A: 255})
		}
	}
	dst := imaging.Resize(src, w, h, imaging.Linear)

	outShape := []int{h, w, channels}
	if batched {
		outShape = []int{1, h, w, channels}
	}
	out := engine.NewTensor(engine.UInt8, outShape...)
	for y := 0; y < h; y++ {
		row := dst.Pix[y*dst.Stride:]
		for x := 0; x < w; x++ {
			for c := 0; c < channels; c++ {
				out.U8[(y*w+x)*channels+c] = row[x*4+c]
			}
		}
	}
	return out, nil
}
