package services

import (
	"context"

	"github.com/google/uuid"

	"detection-quant-bench/internal/core/domain"
	ports "detection-quant-bench/internal/core/ports/output"
)

type ReportService struct {
	repo ports.RunRepository
}

func NewReportService(repo ports.RunRepository) *ReportService {
	return &ReportService{repo: repo}
}

func (s *ReportService) Get(ctx context.Context, id uuid.UUID) (*domain.BenchmarkRun, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *ReportService) List(ctx context.Context, filter ports.RunListFilter) ([]*domain.BenchmarkRun, int, error) {
	if filter.Limit <= 0 {
		filter.Limit = 20
	}
	if filter.Limit > 100 {
		filter.Limit = 100
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.repo.List(ctx, filter)
}
