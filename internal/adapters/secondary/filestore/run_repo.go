package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"detection-quant-bench/internal/core/domain"
	ports "detection-quant-bench/internal/core/ports/output"
)

type runRepo struct {
	dir string
}

// NewRunRepository stores each run as <dataDir>/runs/<id>.json.
func NewRunRepository(dataDir string) ports.RunRepository {
	return &runRepo{dir: filepath.Join(dataDir, "runs")}
}

func (r *runRepo) path(id uuid.UUID) string {
	return filepath.Join(r.dir, id.String()+".json")
}

func (r *runRepo) Save(ctx context.Context, run *domain.BenchmarkRun) error {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("create runs dir: %w", err)
	}
	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("encode run: %w", err)
	}

	tmp, err := os.CreateTemp(r.dir, run.ID.String()+".*.tmp")
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("save run: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	if err := os.Rename(tmp.Name(), r.path(run.ID)); err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

func (r *runRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.BenchmarkRun, error) {
	run, err := r.read(r.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, domain.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run by id: %w", err)
	}
	return run, nil
}

// List returns runs newest first.
func (r *runRepo) List(ctx context.Context, filter ports.RunListFilter) ([]*domain.BenchmarkRun, int, error) {
	entries, err := os.ReadDir(r.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []*domain.BenchmarkRun{}, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("list runs: %w", err)
	}

	runs := make([]*domain.BenchmarkRun, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		run, err := r.read(filepath.Join(r.dir, e.Name()))
		if err != nil {
			return nil, 0, fmt.Errorf("list runs: %w", err)
		}
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})

	total := len(runs)
	if filter.Offset >= total {
		return []*domain.BenchmarkRun{}, total, nil
	}
	end := total
	if filter.Limit > 0 && filter.Offset+filter.Limit < total {
		end = filter.Offset + filter.Limit
	}
	return runs[filter.Offset:end], total, nil
}

func (r *runRepo) read(path string) (*domain.BenchmarkRun, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var run domain.BenchmarkRun
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return &run, nil
}
