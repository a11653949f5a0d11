package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"detection-quant-bench/internal/core/domain"
	ports "detection-quant-bench/internal/core/ports/output"
)

type PipelineConfig struct {
	ModelName          string
	DatasetName        string
	Seed               int64
	Int8TrainSize      int
	SampleSize         int
	InferenceThreshold float64
	PrecisionThreshold float64
}

// Pipeline is the benchmark entry procedure: provision, convert every
// configuration, evaluate every artifact, then persist a summary. Stages run
// strictly in sequence on the calling goroutine.
type Pipeline struct {
	cfg         PipelineConfig
	provisioner *Provisioner
	converter   *Converter
	evaluator   *Evaluator
	pre         *Preprocessor
	host        ports.HostProbe
	runs        ports.RunRepository
}

func NewPipeline(cfg PipelineConfig, provisioner *Provisioner, converter *Converter, evaluator *Evaluator, pre *Preprocessor, host ports.HostProbe, runs ports.RunRepository) *Pipeline {
	return &Pipeline{
		cfg:         cfg,
		provisioner: provisioner,
		converter:   converter,
		evaluator:   evaluator,
		pre:         pre,
		host:        host,
		runs:        runs,
	}
}

func (p *Pipeline) Run(ctx context.Context) (*domain.BenchmarkRun, error) {
	started := time.Now().UTC()

	assets, err := p.provisioner.Provision(ctx)
	if err != nil {
		return nil, fmt.Errorf("provision: %w", err)
	}
	defer assets.Dataset.Close()

	train, err := assets.Dataset.Split(domain.SplitTrain)
	if err != nil {
		return nil, err
	}
	test, err := assets.Dataset.Split(domain.SplitTest)
	if err != nil {
		return nil, err
	}

	configs := []QuantConfig{
		Float32Config{},
		Float16Config{},
		Int8Config{Samples: NewRepresentativeFeeder(train, p.pre, p.cfg.Int8TrainSize)},
	}

	artifacts := make([]*domain.ModelArtifact, 0, len(configs))
	for _, cfg := range configs {
		art, err := p.converter.Convert(ctx, assets.Model, cfg)
		if err != nil {
			return nil, fmt.Errorf("convert %s: %w", cfg.Tag(), err)
		}
		log.Infof("%s model: %.2f MB", art.Config, art.SizeMB())
		artifacts = append(artifacts, art)
	}

	run := &domain.BenchmarkRun{
		ID:                 uuid.New(),
		ModelName:          p.cfg.ModelName,
		DatasetName:        p.cfg.DatasetName,
		Seed:               p.cfg.Seed,
		InferenceThreshold: p.cfg.InferenceThreshold,
		PrecisionThreshold: p.cfg.PrecisionThreshold,
		BaseModelBytes:     assets.ModelSizeBytes,
		StartedAt:          started,
	}

	for _, art := range artifacts {
		records, err := p.evaluator.Evaluate(ctx, art, test, p.cfg.SampleSize)
		if err != nil {
			return nil, fmt.Errorf("evaluate %s: %w", art.Config, err)
		}
		res := Summarize(art, records)
		log.WithFields(log.Fields{
			"config":  res.Config,
			"samples": res.Samples,
			"mean":    res.MeanLatency,
			"p95":     res.P95Latency,
		}).Info("latency summary")
		run.Results = append(run.Results, res)
	}

	if p.host != nil {
		host, err := p.host.Describe(ctx)
		if err != nil {
			log.WithError(err).Warn("failed to describe host")
		}
		run.Host = host
	}
	run.FinishedAt = time.Now().UTC()

	if p.runs != nil {
		if err := p.runs.Save(ctx, run); err != nil {
			return nil, fmt.Errorf("save run: %w", err)
		}
		log.WithField("run_id", run.ID).Info("benchmark run saved")
	}
	return run, nil
}

// Summarize reduces evaluation records to latency statistics.
func Summarize(art *domain.ModelArtifact, records []domain.EvaluationRecord) domain.ConfigResult {
	res := domain.ConfigResult{
		Config:        art.Config,
		ArtifactPath:  art.Path,
		ArtifactBytes: art.SizeBytes,
		Reused:        art.Reused,
		InputDType:    string(art.InputDType),
		OutputDType:   string(art.OutputDType),
		Samples:       len(records),
	}
	if len(records) == 0 {
		return res
	}

	lat := make([]time.Duration, len(records))
	var total time.Duration
	for i, r := range records {
		lat[i] = r.Latency
		total += r.Latency
	}
	sort.Slice(lat, func(i, j int) bool { return lat[i] < lat[j] })

	res.MeanLatency = total / time.Duration(len(lat))
	res.P50Latency = percentile(lat, 0.50)
	res.P95Latency = percentile(lat, 0.95)
	return res
}

// percentile uses the nearest-rank method on sorted values.
func percentile(sorted []time.Duration, p float64) time.Duration {
	rank := int(math.Ceil(p*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	return sorted[rank]
}
