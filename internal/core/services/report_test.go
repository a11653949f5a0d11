package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"detection-quant-bench/internal/core/domain"
	ports "detection-quant-bench/internal/core/ports/output"
	"detection-quant-bench/internal/testutil"
)

func TestReportService_ListClampsLimit(t *testing.T) {
	repo := new(testutil.MockRunRepo)
	svc := NewReportService(repo)

	repo.On("List", context.Background(), ports.RunListFilter{Limit: 20, Offset: 0}).Return([]*domain.BenchmarkRun{}, 0, nil).Once()
	repo.On("List", context.Background(), ports.RunListFilter{Limit: 100, Offset: 5}).Return([]*domain.BenchmarkRun{}, 0, nil).Once()

	_, _, err := svc.List(context.Background(), ports.RunListFilter{Limit: 0, Offset: -3})
	assert.NoError(t, err)
	_, _, err = svc.List(context.Background(), ports.RunListFilter{Limit: 500, Offset: 5})
	assert.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestReportService_Get(t *testing.T) {
	repo := new(testutil.MockRunRepo)
	svc := NewReportService(repo)
	id := uuid.New()

	repo.On("GetByID", context.Background(), id).Return(nil, domain.ErrRunNotFound)

	_, err := svc.Get(context.Background(), id)
	assert.ErrorIs(t, err, domain.ErrRunNotFound)
}
