package domain

import (
	"time"

	"github.com/google/uuid"
)

// BenchmarkRun summarises one pipeline execution.
type BenchmarkRun struct {
	ID                 uuid.UUID      `json:"id"`
	ModelName          string         `json:"model_name"`
	DatasetName        string         `json:"dataset_name"`
	Seed               int64          `json:"seed"`
	InferenceThreshold float64        `json:"inference_threshold"`
	PrecisionThreshold float64        `json:"precision_threshold"`
	BaseModelBytes     int64          `json:"base_model_bytes"`
	Host               HostInfo       `json:"host"`
	Results            []ConfigResult `json:"results"`
	StartedAt          time.Time      `json:"started_at"`
	FinishedAt         time.Time      `json:"finished_at"`
}

// ConfigResult is the per-artifact part of a run.
type ConfigResult struct {
	Config        string        `json:"config"`
	ArtifactPath  string        `json:"artifact_path"`
	ArtifactBytes int64         `json:"artifact_bytes"`
	Reused        bool          `json:"reused"`
	InputDType    string        `json:"input_dtype"`
	OutputDType   string        `json:"output_dtype"`
	Samples       int           `json:"samples"`
	MeanLatency   time.Duration `json:"mean_latency_ns"`
	P50Latency    time.Duration `json:"p50_latency_ns"`
	P95Latency    time.Duration `json:"p95_latency_ns"`
}

type HostInfo struct {
	OS          string   `json:"os"`
	Arch        string   `json:"arch"`
	CPUModel    string   `json:"cpu_model"`
	LogicalCPUs int      `json:"logical_cpus"`
	TotalMemory uint64   `json:"total_memory"`
	CPUFeatures []string `json:"cpu_features"`
}
