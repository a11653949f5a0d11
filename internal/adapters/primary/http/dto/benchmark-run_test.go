package dto

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"detection-quant-bench/internal/core/domain"
)

func TestToBenchmarkRunResponse(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	run := &domain.BenchmarkRun{
		ID:             uuid.New(),
		ModelName:      "mobilenetv2",
		BaseModelBytes: 3 << 20,
		StartedAt:      start,
		FinishedAt:     start.Add(90 * time.Second),
		Results: []domain.ConfigResult{
			{
				Config:        domain.ConfigFloat16,
				ArtifactBytes: 1 << 19,
				Samples:       4,
				MeanLatency:   2500 * time.Microsecond,
				P95Latency:    4 * time.Millisecond,
			},
		},
	}

	resp := ToBenchmarkRunResponse(run)

	assert.Equal(t, run.ID, resp.ID)
	assert.InDelta(t, 3.0, resp.BaseModelMB, 1e-9)
	assert.Equal(t, "2026-03-01T12:00:00Z", resp.StartedAt)
	assert.InDelta(t, 90.0, resp.DurationSeconds, 1e-9)
	assert.NotNil(t, resp.Host.CPUFeatures)

	assert.Len(t, resp.Results, 1)
	r := resp.Results[0]
	assert.Equal(t, domain.ConfigFloat16, r.Config)
	assert.InDelta(t, 0.5, r.ArtifactMB, 1e-9)
	assert.InDelta(t, 2.5, r.MeanLatencyMS, 1e-9)
	assert.InDelta(t, 4.0, r.P95LatencyMS, 1e-9)
}
