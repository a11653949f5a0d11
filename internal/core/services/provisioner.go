package services

import (
	"bufio"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"detection-quant-bench/internal/core/domain"
	ports "detection-quant-bench/internal/core/ports/output"
	"detection-quant-bench/internal/engine"
)

// BaseModelFile is the file name of the base model inside its directory.
const BaseModelFile = "saved_model.pb"

type ProvisionerConfig struct {
	DataDir     string
	DatasetDir  string
	WeightsDir  string
	ModelHandle string
	ModelDir    string
	DatasetName string
}

// Assets is everything the conversion and evaluation stages read.
type Assets struct {
	Model          *engine.Graph
	ModelDir       string
	ModelSizeBytes int64
	Dataset        ports.Dataset
}

// Provisioner makes the base model and the dataset available locally.
type Provisioner struct {
	cfg      ProvisionerConfig
	registry ports.ModelRegistry
	catalog  ports.DatasetCatalog
}

func NewProvisioner(cfg ProvisionerConfig, registry ports.ModelRegistry, catalog ports.DatasetCatalog) *Provisioner {
	return &Provisioner{cfg: cfg, registry: registry, catalog: catalog}
}

func (p *Provisioner) ModelDir() string {
	return filepath.Join(p.cfg.WeightsDir, p.cfg.ModelDir)
}

func (p *Provisioner) Provision(ctx context.Context) (*Assets, error) {
	for _, dir := range []string{p.cfg.DataDir, p.cfg.DatasetDir, p.cfg.WeightsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	g, err := p.baseModel(ctx)
	if err != nil {
		return nil, err
	}
	size, err := dirSize(p.ModelDir())
	if err != nil {
		return nil, fmt.Errorf("measure base model: %w", err)
	}
	log.Infof("original model: %.2f MB", float64(size)/(1<<20))

	ds, err := p.catalog.Load(ctx, p.cfg.DatasetName)
	if err != nil {
		return nil, fmt.Errorf("load dataset %s: %w", p.cfg.DatasetName, err)
	}

	return &Assets{
		Model:          g,
		ModelDir:       p.ModelDir(),
		ModelSizeBytes: size,
		Dataset:        ds,
	}, nil
}

func (p *Provisioner) baseModel(ctx context.Context) (*engine.Graph, error) {
	dir := p.ModelDir()
	path := filepath.Join(dir, BaseModelFile)

	entries, err := os.ReadDir(dir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read model dir: %w", err)
	}
	if len(entries) > 0 {
		g, err := engine.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrInvalidModel, err)
		}
		log.WithField("path", path).Info("using cached base model")
		return g, nil
	}

	log.WithField("handle", p.cfg.ModelHandle).Info("downloading base model")
	rc, err := p.registry.Fetch(ctx, p.cfg.ModelHandle)
	if errors.Is(err, domain.ErrBlobNotFound) {
		return nil, fmt.Errorf("%w: %w", domain.ErrModelNotFound, err)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch base model: %w", err)
	}
	defer rc.Close()

	data, err := readMaybeGzip(rc)
	if err != nil {
		return nil, fmt.Errorf("read base model: %w", err)
	}
	g, err := engine.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidModel, err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create model dir: %w", err)
	}
	if err := writeAtomic(path, engine.Encode(g)); err != nil {
		return nil, fmt.Errorf("store base model: %w", err)
	}
	return g, nil
}

// readMaybeGzip reads r fully, transparently inflating gzip streams.
func readMaybeGzip(r io.Reader) ([]byte, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(2)
	if err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return io.ReadAll(zr)
	}
	return io.ReadAll(br)
}

// dirSize sums the sizes of regular files under dir.
func dirSize(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}
