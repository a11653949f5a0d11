package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	log "github.com/sirupsen/logrus"

	"detection-quant-bench/internal/core/domain"
	ports "detection-quant-bench/internal/core/ports/output"
	"detection-quant-bench/internal/engine"
)

// DefaultSampleSize bounds the evaluated prefix of the test split.
const DefaultSampleSize = 1500

// Evaluator runs test samples through one artifact at a time and records
// latency and raw outputs. It does not decode detections or score them.
type Evaluator struct {
	pre *Preprocessor
}

func NewEvaluator(pre *Preprocessor) *Evaluator {
	return &Evaluator{pre: pre}
}

// Requantize maps a sample value for a uint8 model input: (x - zp) * scale,
// or x - zp when the scale is zero.
func Requantize(x float32, q domain.QuantParams) float32 {
	if q.Scale != 0 {
		return (x - float32(q.ZeroPoint)) * q.Scale
	}
	return x - float32(q.ZeroPoint)
}

// castU8 clamps to [0, 255] and truncates toward zero.
func castU8(v float32) uint8 {
	if v <= 0 || math.IsNaN(float64(v)) {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v)
}

// Evaluate reads at most limit records from split (DefaultSampleSize when
// limit <= 0). Any sample that does not fit the artifact input aborts the
// whole run.
func (e *Evaluator) Evaluate(ctx context.Context, art *domain.ModelArtifact, split ports.Split, limit int) ([]domain.EvaluationRecord, error) {
	if limit <= 0 {
		limit = DefaultSampleSize
	}

	it, err := engine.LoadInterpreter(art.Path)
	if err != nil {
		return nil, fmt.Errorf("load %s artifact: %w", art.Config, err)
	}
	nOut := len(it.OutputDetails())

	records, err := split.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open %s split: %w", split.Name(), err)
	}
	defer records.Close()

	logger := log.WithField("config", art.Config)
	logger.Info("evaluating model")

	results := make([]domain.EvaluationRecord, 0, limit)
	for len(results) < limit {
		rec, err := records.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read test record: %w", err)
		}

		x, err := e.prepare(rec, art)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", rec.Index, err)
		}
		if err := it.SetInput(x); err != nil {
			return nil, fmt.Errorf("record %d: %w", rec.Index, engineError(err))
		}

		start := time.Now()
		if err := it.Invoke(); err != nil {
			return nil, fmt.Errorf("record %d: invoke: %w", rec.Index, err)
		}
		latency := time.Since(start)

		outs := make([]*engine.Tensor, nOut)
		for i := range outs {
			if outs[i], err = it.Output(i); err != nil {
				return nil, err
			}
		}

		results = append(results, domain.EvaluationRecord{
			Index:       rec.Index,
			Latency:     latency,
			Outputs:     outs,
			GroundTruth: rec.Objects.BBoxes,
			Labels:      rec.Objects.Labels,
		})
		logger.WithFields(log.Fields{
			"index":   rec.Index,
			"latency": latency,
		}).Debug("sample evaluated")
	}

	logger.WithField("samples", len(results)).Info("evaluation complete")
	return results, nil
}

// prepare builds the batched input tensor for one record.
func (e *Evaluator) prepare(rec *domain.DatasetRecord, art *domain.ModelArtifact) (*engine.Tensor, error) {
	x, err := e.pre.Preprocess(rec.Image)
	if err != nil {
		return nil, err
	}
	h, w := art.InputHW()
	if h == 0 || w == 0 {
		return nil, fmt.Errorf("%w: artifact input shape %v", domain.ErrShapeMismatch, art.InputShape)
	}
	if x, err = resizeTensor(x, h, w); err != nil {
		return nil, err
	}

	shape := append([]int{1}, x.Shape...)
	out := engine.NewTensor(art.InputDType, shape...)
	switch art.InputDType {
	case engine.UInt8:
		for i, v := range x.U8 {
			f := float32(v)
			if art.InputQuant != nil {
				f = Requantize(f, *art.InputQuant)
			}
			out.U8[i] = castU8(f)
		}
	case engine.Float32, engine.Float16:
		for i, v := range x.U8 {
			out.F32[i] = float32(v)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported input dtype %s", domain.ErrShapeMismatch, art.InputDType)
	}
	return out, nil
}
