package dto

import (
	"time"

	"github.com/google/uuid"

	"detection-quant-bench/internal/core/domain"
)

type HostResponse struct {
	OS          string   `json:"os"`
	Arch        string   `json:"arch"`
	CPUModel    string   `json:"cpu_model"`
	LogicalCPUs int      `json:"logical_cpus"`
	TotalMemory uint64   `json:"total_memory"`
	CPUFeatures []string `json:"cpu_features"`
}

type ConfigResultResponse struct {
	Config        string  `json:"config"`
	ArtifactPath  string  `json:"artifact_path"`
	ArtifactBytes int64   `json:"artifact_bytes"`
	ArtifactMB    float64 `json:"artifact_mb"`
	Reused        bool    `json:"reused"`
	InputDType    string  `json:"input_dtype"`
	OutputDType   string  `json:"output_dtype"`
	Samples       int     `json:"samples"`
	MeanLatencyMS float64 `json:"mean_latency_ms"`
	P50LatencyMS  float64 `json:"p50_latency_ms"`
	P95LatencyMS  float64 `json:"p95_latency_ms"`
}

type BenchmarkRunResponse struct {
	ID                 uuid.UUID              `json:"id"`
	ModelName          string                 `json:"model_name"`
	DatasetName        string                 `json:"dataset_name"`
	Seed               int64                  `json:"seed"`
	InferenceThreshold float64                `json:"inference_threshold"`
	PrecisionThreshold float64                `json:"precision_threshold"`
	BaseModelMB        float64                `json:"base_model_mb"`
	Host               HostResponse           `json:"host"`
	Results            []ConfigResultResponse `json:"results"`
	StartedAt          string                 `json:"started_at"`
	FinishedAt         string                 `json:"finished_at"`
	DurationSeconds    float64                `json:"duration_seconds"`
}

type ListBenchmarkRunsResponse struct {
	Items      []BenchmarkRunResponse `json:"items"`
	Total      int                    `json:"total"`
	PageSize   int                    `json:"page_size"`
	NextOffset int                    `json:"next_offset"`
}

func megabytes(n int64) float64 {
	return float64(n) / (1 << 20)
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func ToBenchmarkRunResponse(run *domain.BenchmarkRun) BenchmarkRunResponse {
	results := make([]ConfigResultResponse, 0, len(run.Results))
	for _, r := range run.Results {
		results = append(results, ConfigResultResponse{
			Config:        r.Config,
			ArtifactPath:  r.ArtifactPath,
			ArtifactBytes: r.ArtifactBytes,
			ArtifactMB:    megabytes(r.ArtifactBytes),
			Reused:        r.Reused,
			InputDType:    r.InputDType,
			OutputDType:   r.OutputDType,
			Samples:       r.Samples,
			MeanLatencyMS: millis(r.MeanLatency),
			P50LatencyMS:  millis(r.P50Latency),
			P95LatencyMS:  millis(r.P95Latency),
		})
	}

	features := run.Host.CPUFeatures
	if features == nil {
		features = []string{}
	}

	return BenchmarkRunResponse{
		ID:                 run.ID,
		ModelName:          run.ModelName,
		DatasetName:        run.DatasetName,
		Seed:               run.Seed,
		InferenceThreshold: run.InferenceThreshold,
		PrecisionThreshold: run.PrecisionThreshold,
		BaseModelMB:        megabytes(run.BaseModelBytes),
		Host: HostResponse{
			OS:          run.Host.OS,
			Arch:        run.Host.Arch,
			CPUModel:    run.Host.CPUModel,
			LogicalCPUs: run.Host.LogicalCPUs,
			TotalMemory: run.Host.TotalMemory,
			CPUFeatures: features,
		},
		Results:         results,
		StartedAt:       run.StartedAt.Format(time.RFC3339),
		FinishedAt:      run.FinishedAt.Format(time.RFC3339),
		DurationSeconds: run.FinishedAt.Sub(run.StartedAt).Seconds(),
	}
}
