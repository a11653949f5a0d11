package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	log "github.com/sirupsen/logrus"

	"detection-quant-bench/internal/core/domain"
	ports "detection-quant-bench/internal/core/ports/output"
	"detection-quant-bench/internal/engine"
)

// ArtifactExt is the file extension of converted models.
const ArtifactExt = ".lite"

// QuantConfig selects a conversion. The set is closed: Float32Config,
// Float16Config and Int8Config.
type QuantConfig interface {
	Tag() string
	quantConfig()
}

// Float32Config re-exports the base model unchanged.
type Float32Config struct{}

// Float16Config fuses activations and stores weights in half precision.
type Float16Config struct{}

// Int8Config calibrates on Samples and produces a full-integer model with
// uint8 input and outputs.
type Int8Config struct {
	Samples ports.SampleSource
}

func (Float32Config) Tag() string { return domain.ConfigFloat32 }
func (Float16Config) Tag() string { return domain.ConfigFloat16 }
func (Int8Config) Tag() string    { return domain.ConfigInt8 }

func (Float32Config) quantConfig() {}
func (Float16Config) quantConfig() {}
func (Int8Config) quantConfig()    {}

// Converter produces and caches model artifacts under the weights
// directory. An artifact that already exists is never rebuilt.
type Converter struct {
	weightsDir string
	modelName  string
	lockWait   time.Duration
}

func NewConverter(weightsDir, modelName string) *Converter {
	return &Converter{weightsDir: weightsDir, modelName: modelName, lockWait: 100 * time.Millisecond}
}

// ArtifactPath returns <weights>/<model>_<tag>.lite.
func (c *Converter) ArtifactPath(tag string) string {
	return filepath.Join(c.weightsDir, fmt.Sprintf("%s_%s%s", c.modelName, tag, ArtifactExt))
}

func (c *Converter) Convert(ctx context.Context, base *engine.Graph, cfg QuantConfig) (*domain.ModelArtifact, error) {
	if cfg == nil {
		return nil, domain.ErrUnknownConfig
	}
	tag := cfg.Tag()
	path := c.ArtifactPath(tag)

	if err := os.MkdirAll(c.weightsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create weights dir: %w", err)
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLockContext(ctx, c.lockWait)
	if err != nil {
		return nil, fmt.Errorf("lock %s artifact: %w", tag, err)
	}
	if !locked {
		return nil, fmt.Errorf("lock %s artifact: not acquired", tag)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			log.WithError(err).Warn("failed to release artifact lock")
		}
	}()

	if fi, err := os.Stat(path); err == nil && fi.Size() > 0 {
		log.WithFields(log.Fields{"config": tag, "path": path}).Info("reusing cached artifact")
		art, err := Inspect(path, tag)
		if err != nil {
			return nil, err
		}
		art.Reused = true
		return art, nil
	}

	g, err := c.build(ctx, base, cfg)
	if err != nil {
		return nil, err
	}
	if err := writeAtomic(path, engine.Encode(g)); err != nil {
		return nil, fmt.Errorf("write %s artifact: %w", tag, err)
	}
	log.WithFields(log.Fields{"config": tag, "path": path}).Info("artifact written")

	return Inspect(path, tag)
}

func (c *Converter) build(ctx context.Context, base *engine.Graph, cfg QuantConfig) (*engine.Graph, error) {
	switch cfg := cfg.(type) {
	case Float32Config:
		g := base.Clone()
		g.Precision = domain.ConfigFloat32
		return g, nil
	case Float16Config:
		return engine.ToFloat16(engine.Optimize(base)), nil
	case Int8Config:
		return c.buildInt8(ctx, base, cfg.Samples)
	default:
		return nil, fmt.Errorf("%w: %T", domain.ErrUnknownConfig, cfg)
	}
}

func (c *Converter) buildInt8(ctx context.Context, base *engine.Graph, samples ports.SampleSource) (*engine.Graph, error) {
	if samples == nil {
		return nil, domain.ErrEmptyCalibrationSet
	}
	g := engine.Optimize(base)
	if err := engine.CheckInt8(g); err != nil {
		return nil, engineError(err)
	}

	it, err := samples.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open representative dataset: %w", err)
	}
	defer it.Close()

	limit := samples.Limit()
	logger := log.WithField("expected", limit)
	logger.Info("calibrating int8 ranges")

	cal := engine.NewCalibrator(g)
	h, w := g.Input.Shape[1], g.Input.Shape[2]
	for limit <= 0 || cal.Samples() < limit {
		x, err := it.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if x, err = resizeTensor(x, h, w); err != nil {
			return nil, err
		}
		if err := cal.Observe(x); err != nil {
			return nil, engineError(err)
		}
	}
	if cal.Samples() == 0 {
		return nil, domain.ErrEmptyCalibrationSet
	}
	logger.WithField("samples", cal.Samples()).Info("calibration complete")

	q, err := engine.QuantizeInt8(g, cal.Ranges())
	if err != nil {
		return nil, engineError(err)
	}
	return q, nil
}

// Inspect reads an artifact's interface without keeping it loaded.
func Inspect(path, tag string) (*domain.ModelArtifact, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	it, err := engine.LoadInterpreter(path)
	if err != nil {
		return nil, fmt.Errorf("load %s artifact: %w", tag, err)
	}

	in := it.InputDetails()
	art := &domain.ModelArtifact{
		Config:      tag,
		Path:        path,
		SizeBytes:   fi.Size(),
		InputName:   in.Name,
		InputShape:  in.Shape,
		InputDType:  in.DType,
		OutputDType: it.Graph().OutputType,
	}
	if in.Quant != nil {
		art.InputQuant = &domain.QuantParams{Scale: in.Quant.Scale, ZeroPoint: in.Quant.ZeroPoint}
	}
	for _, o := range it.OutputDetails() {
		art.Outputs = append(art.Outputs, domain.OutputSpec{Name: o.Name, Shape: o.Shape, DType: o.DType})
	}
	return art, nil
}

// writeAtomic writes data next to path and renames it into place, so
// readers never observe a partial file.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// engineError attaches the matching domain sentinel to engine errors.
func engineError(err error) error {
	switch {
	case errors.Is(err, engine.ErrUnsupportedOperator):
		return fmt.Errorf("%w: %w", domain.ErrUnsupportedOperator, err)
	case errors.Is(err, engine.ErrShapeMismatch):
		return fmt.Errorf("%w: %w", domain.ErrShapeMismatch, err)
	case errors.Is(err, engine.ErrNoCalibrationData):
		return fmt.Errorf("%w: %w", domain.ErrEmptyCalibrationSet, err)
	default:
		return err
	}
}
