package filestore

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"detection-quant-bench/internal/core/domain"
	ports "detection-quant-bench/internal/core/ports/output"
)

func newRun(started time.Time) *domain.BenchmarkRun {
	return &domain.BenchmarkRun{
		ID:          uuid.New(),
		ModelName:   "mobilenetv2",
		DatasetName: "coco/2017",
		Seed:        42,
		StartedAt:   started.UTC(),
		FinishedAt:  started.Add(time.Minute).UTC(),
		Host:        domain.HostInfo{OS: "linux", CPUFeatures: []string{"avx2"}},
		Results: []domain.ConfigResult{
			{Config: domain.ConfigInt8, ArtifactBytes: 1024, Samples: 5, MeanLatency: 3 * time.Millisecond},
		},
	}
}

func TestRunRepo_SaveAndGet(t *testing.T) {
	repo := NewRunRepository(t.TempDir())
	run := newRun(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))

	require.NoError(t, repo.Save(context.Background(), run))

	got, err := repo.GetByID(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, run, got)
}

func TestRunRepo_GetMissing(t *testing.T) {
	repo := NewRunRepository(t.TempDir())
	_, err := repo.GetByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrRunNotFound)
}

func TestRunRepo_List(t *testing.T) {
	repo := NewRunRepository(t.TempDir())

	runs, total, err := repo.List(context.Background(), ports.RunListFilter{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, runs)
	assert.Zero(t, total)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		run := newRun(base.Add(time.Duration(i) * time.Hour))
		ids = append(ids, run.ID)
		require.NoError(t, repo.Save(context.Background(), run))
	}

	runs, total, err = repo.List(context.Background(), ports.RunListFilter{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, runs, 2)
	assert.Equal(t, ids[2], runs[0].ID)
	assert.Equal(t, ids[1], runs[1].ID)

	runs, _, err = repo.List(context.Background(), ports.RunListFilter{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, ids[0], runs[0].ID)

	runs, _, err = repo.List(context.Background(), ports.RunListFilter{Limit: 2, Offset: 5})
	require.NoError(t, err)
	assert.Empty(t, runs)
}
