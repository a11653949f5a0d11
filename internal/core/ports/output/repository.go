package ports

import (
	"context"
	"io"

	"github.com/google/uuid"

	"detection-quant-bench/internal/core/domain"
	"detection-quant-bench/internal/engine"
)

// ModelRegistry fetches published blobs (base models, dataset shards) by key.
type ModelRegistry interface {
	Fetch(ctx context.Context, key string) (io.ReadCloser, error)
}

// DatasetCatalog resolves a dataset by name. Implementations own caching.
type DatasetCatalog interface {
	Load(ctx context.Context, name string) (Dataset, error)
}

type Dataset interface {
	Name() string
	Split(name string) (Split, error)
	Close() error
}

// Split is a finite, ordered sequence of records. Every Open starts from the
// first record.
type Split interface {
	Name() string
	Open(ctx context.Context) (RecordIterator, error)
}

// RecordIterator returns io.EOF after the last record.
type RecordIterator interface {
	Next(ctx context.Context) (*domain.DatasetRecord, error)
	Close() error
}

// SampleSource yields preprocessed calibration batches of shape [1 H W C].
// Consumers read at most Limit samples per Open.
type SampleSource interface {
	Limit() int
	Open(ctx context.Context) (SampleIterator, error)
}

// SampleIterator returns io.EOF after the last sample.
type SampleIterator interface {
	Next(ctx context.Context) (*engine.Tensor, error)
	Close() error
}

type RunListFilter struct {
	Limit  int
	Offset int
}

type RunRepository interface {
	Save(ctx context.Context, run *domain.BenchmarkRun) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.BenchmarkRun, error)
	List(ctx context.Context, filter RunListFilter) ([]*domain.BenchmarkRun, int, error)
}

// HostProbe describes the machine the benchmark runs on.
type HostProbe interface {
	Describe(ctx context.Context) (domain.HostInfo, error)
}
