package domain

import (
	"image"
	"time"

	"detection-quant-bench/internal/engine"
)

const (
	SplitTrain = "train"
	SplitTest  = "test"
)

// Objects holds the ground-truth annotations of one image. Boxes are
// normalized (ymin, xmin, ymax, xmax).
type Objects struct {
	BBoxes [][4]float32 `json:"bbox"`
	Labels []int64      `json:"label"`
}

// DatasetRecord is one labelled image as read from a split.
type DatasetRecord struct {
	Index   int
	Image   image.Image
	Objects Objects
}

// EvaluationRecord is the raw result of running one test sample through one
// artifact. Outputs are copied unmodified, one per model output.
type EvaluationRecord struct {
	Index       int
	Latency     time.Duration
	Outputs     []*engine.Tensor
	GroundTruth [][4]float32
	Labels      []int64
}
