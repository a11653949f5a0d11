package services

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"detection-quant-bench/internal/core/domain"
	"detection-quant-bench/internal/engine"
	"detection-quant-bench/internal/testutil"
)

func provisionerConfig(root string) ProvisionerConfig {
	return ProvisionerConfig{
		DataDir:     filepath.Join(root, "data"),
		DatasetDir:  filepath.Join(root, "datasets"),
		WeightsDir:  filepath.Join(root, "weights"),
		ModelHandle: "models/tiny.pb.gz",
		ModelDir:    "tiny",
		DatasetName: "coco/2017",
	}
}

func gzipped(t *testing.T, data []byte) io.ReadCloser {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return io.NopCloser(&buf)
}

func TestProvisioner_DownloadsMissingModel(t *testing.T) {
	cfg := provisionerConfig(t.TempDir())
	registry := new(testutil.MockModelRegistry)
	catalog := new(testutil.MockDatasetCatalog)
	ds := testutil.NewMemoryDataset("coco/2017", nil, nil)

	g := testutil.DetectorGraph(1, graphSize)
	registry.On("Fetch", mock.Anything, "models/tiny.pb.gz").Return(gzipped(t, engine.Encode(g)), nil).Once()
	catalog.On("Load", mock.Anything, "coco/2017").Return(ds, nil)

	p := NewProvisioner(cfg, registry, catalog)
	assets, err := p.Provision(context.Background())
	require.NoError(t, err)

	for _, dir := range []string{cfg.DataDir, cfg.DatasetDir, cfg.WeightsDir} {
		assert.DirExists(t, dir)
	}
	stored := filepath.Join(cfg.WeightsDir, "tiny", BaseModelFile)
	fi, err := os.Stat(stored)
	require.NoError(t, err)
	assert.Equal(t, fi.Size(), assets.ModelSizeBytes)
	assert.Equal(t, engine.Encode(g), engine.Encode(assets.Model))
	assert.Same(t, ds, assets.Dataset)

	// A second provisioning reads from disk only.
	_, err = p.Provision(context.Background())
	require.NoError(t, err)
	registry.AssertExpectations(t)
	registry.AssertNumberOfCalls(t, "Fetch", 1)
}

func TestProvisioner_AcceptsUncompressedModel(t *testing.T) {
	cfg := provisionerConfig(t.TempDir())
	registry := new(testutil.MockModelRegistry)
	catalog := new(testutil.MockDatasetCatalog)

	data := engine.Encode(testutil.DetectorGraph(2, graphSize))
	registry.On("Fetch", mock.Anything, mock.Anything).Return(io.NopCloser(bytes.NewReader(data)), nil)
	catalog.On("Load", mock.Anything, mock.Anything).Return(testutil.NewMemoryDataset("d", nil, nil), nil)

	assets, err := NewProvisioner(cfg, registry, catalog).Provision(context.Background())
	require.NoError(t, err)
	assert.Equal(t, data, engine.Encode(assets.Model))
}

func TestProvisioner_RegistryError(t *testing.T) {
	registry := new(testutil.MockModelRegistry)
	catalog := new(testutil.MockDatasetCatalog)
	registry.On("Fetch", mock.Anything, mock.Anything).Return(nil, domain.ErrBlobNotFound)

	_, err := NewProvisioner(provisionerConfig(t.TempDir()), registry, catalog).Provision(context.Background())
	assert.ErrorIs(t, err, domain.ErrModelNotFound)
	catalog.AssertNotCalled(t, "Load", mock.Anything, mock.Anything)
}

func TestProvisioner_InvalidModel(t *testing.T) {
	cfg := provisionerConfig(t.TempDir())
	registry := new(testutil.MockModelRegistry)
	registry.On("Fetch", mock.Anything, mock.Anything).Return(io.NopCloser(bytes.NewReader([]byte("not a model"))), nil)

	_, err := NewProvisioner(cfg, registry, new(testutil.MockDatasetCatalog)).Provision(context.Background())
	assert.ErrorIs(t, err, domain.ErrInvalidModel)
	assert.NoFileExists(t, filepath.Join(cfg.WeightsDir, "tiny", BaseModelFile))
}

func TestProvisioner_MalformedWeights(t *testing.T) {
	cfg := provisionerConfig(t.TempDir())
	registry := new(testutil.MockModelRegistry)

	g := testutil.DetectorGraph(1, graphSize)
	g.Trunk[0].Weights = &engine.Tensor{Shape: []int{-1}, DType: engine.Float32}
	registry.On("Fetch", mock.Anything, mock.Anything).Return(gzipped(t, engine.Encode(g)), nil)

	_, err := NewProvisioner(cfg, registry, new(testutil.MockDatasetCatalog)).Provision(context.Background())
	assert.ErrorIs(t, err, domain.ErrInvalidModel)
	assert.NoFileExists(t, filepath.Join(cfg.WeightsDir, "tiny", BaseModelFile))
}

func TestProvisioner_DatasetError(t *testing.T) {
	cfg := provisionerConfig(t.TempDir())
	registry := new(testutil.MockModelRegistry)
	catalog := new(testutil.MockDatasetCatalog)
	registry.On("Fetch", mock.Anything, mock.Anything).Return(gzipped(t, engine.Encode(testutil.DetectorGraph(1, graphSize))), nil)
	catalog.On("Load", mock.Anything, "coco/2017").Return(nil, domain.ErrDatasetNotFound)

	_, err := NewProvisioner(cfg, registry, catalog).Provision(context.Background())
	assert.ErrorIs(t, err, domain.ErrDatasetNotFound)
}
