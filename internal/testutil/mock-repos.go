package testutil

import (
	"context"
	"io"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"detection-quant-bench/internal/core/domain"
	ports "detection-quant-bench/internal/core/ports/output"
)

// MockModelRegistry is a mock of ModelRegistry.
type MockModelRegistry struct {
	mock.Mock
}

func (m *MockModelRegistry) Fetch(ctx context.Context, key string) (io.ReadCloser, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.ReadCloser), args.Error(1)
}

// MockDatasetCatalog is a mock of DatasetCatalog.
type MockDatasetCatalog struct {
	mock.Mock
}

func (m *MockDatasetCatalog) Load(ctx context.Context, name string) (ports.Dataset, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(ports.Dataset), args.Error(1)
}

// MockRunRepo is a mock of RunRepository.
type MockRunRepo struct {
	mock.Mock
}

func (m *MockRunRepo) Save(ctx context.Context, run *domain.BenchmarkRun) error {
	args := m.Called(ctx, run)
	return args.Error(0)
}

func (m *MockRunRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.BenchmarkRun, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.BenchmarkRun), args.Error(1)
}

func (m *MockRunRepo) List(ctx context.Context, filter ports.RunListFilter) ([]*domain.BenchmarkRun, int, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]*domain.BenchmarkRun), args.Int(1), args.Error(2)
}

// MockHostProbe is a mock of HostProbe.
type MockHostProbe struct {
	mock.Mock
}

func (m *MockHostProbe) Describe(ctx context.Context) (domain.HostInfo, error) {
	args := m.Called(ctx)
	return args.Get(0).(domain.HostInfo), args.Error(1)
}
