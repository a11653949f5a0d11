package testutil

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"io"
	"math"
	"math/rand"

	"detection-quant-bench/internal/core/domain"
	ports "detection-quant-bench/internal/core/ports/output"
	"detection-quant-bench/internal/engine"
)

const (
	// DetectorBoxes and DetectorScores are the output names of DetectorGraph.
	DetectorBoxes  = "detection_boxes"
	DetectorScores = "detection_scores"
)

// DetectorGraph builds a small SSD-shaped float32 detector for a size×size
// RGB input with weights drawn from seed.
func DetectorGraph(seed int64, size int) *engine.Graph {
	rng := rand.New(rand.NewSource(seed))
	return &engine.Graph{
		Name:       "tiny_ssd",
		Precision:  domain.ConfigFloat32,
		Input:      engine.TensorSpec{Name: "image", Shape: []int{1, size, size, 3}, DType: engine.Float32},
		OutputType: engine.Float32,
		Trunk: []*engine.Layer{
			conv(rng, "stem", 3, 3, 8, 2),
			{Name: "stem_relu", Op: engine.OpReLU6},
			depthwise(rng, "dw1", 3, 8, 2),
			{Name: "dw1_relu", Op: engine.OpReLU6},
			conv(rng, "pw1", 1, 8, 16, 1),
			{Name: "pw1_relu", Op: engine.OpReLU6},
			conv(rng, "conv2", 3, 16, 16, 2),
			{Name: "pool", Op: engine.OpMean},
		},
		Heads: []*engine.Head{
			{Name: DetectorBoxes, Layers: []*engine.Layer{
				dense(rng, "box_fc", 16, 40),
				{Name: "box_sigmoid", Op: engine.OpLogistic},
				{Name: "box_reshape", Op: engine.OpReshape, Shape: []int{10, 4}},
			}},
			{Name: DetectorScores, Layers: []*engine.Layer{
				dense(rng, "score_fc", 16, 50),
				{Name: "score_sigmoid", Op: engine.OpLogistic},
				{Name: "score_reshape", Op: engine.OpReshape, Shape: []int{10, 5}},
			}},
		},
	}
}

// SoftmaxDetectorGraph is DetectorGraph with a softmax score head, which has
// no integer kernel.
func SoftmaxDetectorGraph(seed int64, size int) *engine.Graph {
	g := DetectorGraph(seed, size)
	g.Heads[1].Layers[1] = &engine.Layer{Name: "score_softmax", Op: engine.OpSoftmax}
	return g
}

func conv(rng *rand.Rand, name string, k, cin, cout, stride int) *engine.Layer {
	return &engine.Layer{
		Name:    name,
		Op:      engine.OpConv2D,
		Stride:  stride,
		Padding: engine.PaddingSame,
		Weights: randomTensor(rng, k*k*cin, k, k, cin, cout),
		Bias:    randomTensor(rng, 16, cout),
	}
}

func depthwise(rng *rand.Rand, name string, k, c, stride int) *engine.Layer {
	return &engine.Layer{
		Name:    name,
		Op:      engine.OpDepthwiseConv2D,
		Stride:  stride,
		Padding: engine.PaddingSame,
		Weights: randomTensor(rng, k*k, k, k, c),
		Bias:    randomTensor(rng, 16, c),
	}
}

func dense(rng *rand.Rand, name string, in, out int) *engine.Layer {
	return &engine.Layer{
		Name:    name,
		Op:      engine.OpFullyConnected,
		Weights: randomTensor(rng, in, in, out),
		Bias:    randomTensor(rng, 16, out),
	}
}

// randomTensor draws He-scaled normal values.
func randomTensor(rng *rand.Rand, fanIn int, shape ...int) *engine.Tensor {
	t := engine.NewTensor(engine.Float32, shape...)
	std := math.Sqrt(2 / float64(fanIn))
	for i := range t.F32 {
		t.F32[i] = float32(rng.NormFloat64() * std)
	}
	return t
}

// SyntheticImage returns a w×h RGB image where roughly a third of the channel
// values are saturated, so that the 0/1 preprocessing keeps some signal.
func SyntheticImage(seed int64, w, h int) image.Image {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			px := color.NRGBA{A: 255}
			for i, v := range []*uint8{&px.R, &px.G, &px.B} {
				if (x/4+y/4+i)%3 == 0 || rng.Intn(3) == 0 {
					*v = 255
				} else {
					*v = uint8(rng.Intn(255))
				}
			}
			img.SetNRGBA(x, y, px)
		}
	}
	return img
}

// SyntheticRecords returns n labelled records with varying image sizes.
func SyntheticRecords(seed int64, n int) []*domain.DatasetRecord {
	out := make([]*domain.DatasetRecord, 0, n)
	for i := 0; i < n; i++ {
		w, h := 64+16*(i%3), 48+8*(i%4)
		out = append(out, &domain.DatasetRecord{
			Index: i,
			Image: SyntheticImage(seed+int64(i), w, h),
			Objects: domain.Objects{
				BBoxes: [][4]float32{{0.1, 0.1, 0.5, 0.6}, {0.2, 0.3, 0.9, 0.8}},
				Labels: []int64{int64(i % 80), int64((i + 1) % 80)},
			},
		})
	}
	return out
}

// MemorySplit is an in-memory ports.Split.
type MemorySplit struct {
	SplitName string
	Records   []*domain.DatasetRecord
	Opens     int
}

func (s *MemorySplit) Name() string {
	return s.SplitName
}

func (s *MemorySplit) Open(ctx context.Context) (ports.RecordIterator, error) {
	s.Opens++
	return &memoryIterator{records: s.Records}, nil
}

type memoryIterator struct {
	records []*domain.DatasetRecord
	pos     int
}

func (it *memoryIterator) Next(ctx context.Context) (*domain.DatasetRecord, error) {
	if it.pos >= len(it.records) {
		return nil, io.EOF
	}
	r := it.records[it.pos]
	it.pos++
	return r, nil
}

func (it *memoryIterator) Close() error {
	return nil
}

// MemoryDataset is an in-memory ports.Dataset keyed by split name.
type MemoryDataset struct {
	DatasetName string
	Splits      map[string]*MemorySplit
}

func NewMemoryDataset(name string, train, test []*domain.DatasetRecord) *MemoryDataset {
	return &MemoryDataset{
		DatasetName: name,
		Splits: map[string]*MemorySplit{
			domain.SplitTrain: {SplitName: domain.SplitTrain, Records: train},
			domain.SplitTest:  {SplitName: domain.SplitTest, Records: test},
		},
	}
}

func (d *MemoryDataset) Name() string {
	return d.DatasetName
}

func (d *MemoryDataset) Split(name string) (ports.Split, error) {
	s, ok := d.Splits[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", domain.ErrSplitNotFound, d.DatasetName, name)
	}
	return s, nil
}

func (d *MemoryDataset) Close() error {
	return nil
}

// SliceSamples is a ports.SampleSource over fixed tensors. Bound, when
// positive, is reported as the limit instead of len(Samples). Served counts
// the tensors handed out across all opens.
type SliceSamples struct {
	Samples []*engine.Tensor
	Bound   int
	Served  int
}

func (s *SliceSamples) Limit() int {
	if s.Bound > 0 {
		return s.Bound
	}
	return len(s.Samples)
}

func (s *SliceSamples) Open(ctx context.Context) (ports.SampleIterator, error) {
	return &sliceSampleIterator{src: s}, nil
}

type sliceSampleIterator struct {
	src *SliceSamples
	pos int
}

func (it *sliceSampleIterator) Next(ctx context.Context) (*engine.Tensor, error) {
	if it.pos >= len(it.src.Samples) {
		return nil, io.EOF
	}
	t := it.src.Samples[it.pos]
	it.pos++
	it.src.Served++
	return t, nil
}

func (it *sliceSampleIterator) Close() error {
	return nil
}

// RandomSamples returns n [1 size size 3] uint8 tensors with 0/1 values,
// matching the output range of the preprocessor.
func RandomSamples(seed int64, n, size int) []*engine.Tensor {
	rng := rand.New(rand.NewSource(seed))
	out := make([]*engine.Tensor, 0, n)
	for i := 0; i < n; i++ {
		t := engine.NewTensor(engine.UInt8, 1, size, size, 3)
		for j := range t.U8 {
			if rng.Intn(3) == 0 {
				t.U8[j] = 1
			}
		}
		out = append(out, t)
	}
	return out
}
