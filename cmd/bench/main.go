package main

import (
	"context"
	"os/signal"
	"syscall"

	"detection-quant-bench/internal/adapters/secondary/hostinfo"
	"detection-quant-bench/internal/adapters/secondary/sqlite"
	"detection-quant-bench/internal/config"
	"detection-quant-bench/internal/core/services"
	"detection-quant-bench/internal/wiring"

	log "github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	wiring.InitLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Secondary Adapters
	reg, err := wiring.Registry(ctx, cfg)
	if err != nil {
		log.Fatalf("create registry client: %v", err)
	}
	store, err := wiring.OpenRunStore(ctx, cfg)
	if err != nil {
		log.Fatalf("open run store: %v", err)
	}
	defer store.Close()

	catalog := sqlite.NewDatasetCatalog(cfg.Paths.DatasetDir, reg)

	// Core Services
	pre := services.NewPreprocessor()
	provisioner := services.NewProvisioner(services.ProvisionerConfig{
		DataDir:     cfg.Paths.DataDir,
		DatasetDir:  cfg.Paths.DatasetDir,
		WeightsDir:  cfg.Paths.WeightsDir,
		ModelHandle: cfg.Model.Handle,
		ModelDir:    cfg.Model.Dir,
		DatasetName: cfg.Dataset.Name,
	}, reg, catalog)
	converter := services.NewConverter(cfg.Paths.WeightsDir, cfg.Model.Name)
	evaluator := services.NewEvaluator(pre)

	pipeline := services.NewPipeline(services.PipelineConfig{
		ModelName:          cfg.Model.Name,
		DatasetName:        cfg.Dataset.Name,
		Seed:               cfg.Bench.Seed,
		Int8TrainSize:      cfg.Bench.Int8TrainSize,
		SampleSize:         cfg.Bench.SampleSize,
		InferenceThreshold: cfg.Bench.InferenceThreshold,
		PrecisionThreshold: cfg.Bench.PrecisionThreshold,
	}, provisioner, converter, evaluator, pre, hostinfo.NewProbe(), store.Repo)

	run, err := pipeline.Run(ctx)
	if err != nil {
		store.Close()
		log.Fatalf("benchmark failed: %v", err)
	}

	log.WithField("run_id", run.ID).Info("benchmark complete")
	for _, r := range run.Results {
		log.WithFields(log.Fields{
			"config":       r.Config,
			"size_mb":      float64(r.ArtifactBytes) / (1 << 20),
			"samples":      r.Samples,
			"mean_latency": r.MeanLatency,
			"p95_latency":  r.P95Latency,
		}).Info("result")
	}
}
