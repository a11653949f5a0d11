package services

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"detection-quant-bench/internal/engine"
	"detection-quant-bench/internal/testutil"
)

func uniformImage(w, h int, c color.NRGBA) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func TestPreprocessor_ShapeAndRange(t *testing.T) {
	pre := NewPreprocessor()

	for _, size := range [][2]int{{640, 480}, {300, 300}, {17, 251}} {
		x, err := pre.Preprocess(testutil.SyntheticImage(3, size[0], size[1]))
		require.NoError(t, err)
		assert.Equal(t, []int{InputSize, InputSize, 3}, x.Shape)
		assert.Equal(t, engine.UInt8, x.DType)
		for _, v := range x.U8 {
			require.LessOrEqual(t, v, uint8(1))
		}
	}
}

func TestPreprocessor_Truncates(t *testing.T) {
	pre := NewPreprocessor()

	white, err := pre.Preprocess(uniformImage(40, 30, color.NRGBA{255, 255, 255, 255}))
	require.NoError(t, err)
	for _, v := range white.U8 {
		require.Equal(t, uint8(1), v)
	}

	grey, err := pre.Preprocess(uniformImage(40, 30, color.NRGBA{254, 128, 1, 255}))
	require.NoError(t, err)
	for _, v := range grey.U8 {
		require.Equal(t, uint8(0), v)
	}
}

func TestPreprocessor_Deterministic(t *testing.T) {
	pre := NewPreprocessor()
	img := testutil.SyntheticImage(9, 123, 77)

	a, err := pre.Preprocess(img)
	require.NoError(t, err)
	b, err := pre.Preprocess(img)
	require.NoError(t, err)
	assert.Equal(t, a.U8, b.U8)
}

func TestPreprocessor_EmptyImage(t *testing.T) {
	_, err := NewPreprocessor().Preprocess(image.NewNRGBA(image.Rect(0, 0, 0, 0)))
	assert.Error(t, err)

	_, err = NewPreprocessor().Preprocess(nil)
	assert.Error(t, err)
}

func TestResizeTensor(t *testing.T) {
	x := engine.NewTensor(engine.UInt8, 1, 8, 8, 3)
	for i := range x.U8 {
		x.U8[i] = 200
	}

	same, err := resizeTensor(x, 8, 8)
	require.NoError(t, err)
	assert.Same(t, x, same)

	small, err := resizeTensor(x, 4, 6)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 4, 6, 3}, small.Shape)
	for _, v := range small.U8 {
		assert.Equal(t, uint8(200), v)
	}

	_, err = resizeTensor(engine.NewTensor(engine.Float32, 8, 8, 3), 4, 4)
	assert.Error(t, err)
}
