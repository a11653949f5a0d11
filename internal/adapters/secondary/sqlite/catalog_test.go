package sqlite

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"detection-quant-bench/internal/core/domain"
	ports "detection-quant-bench/internal/core/ports/output"
	"detection-quant-bench/internal/testutil"
)

func body(data []byte) io.ReadCloser {
	return io.NopCloser(bytes.NewReader(data))
}

func splitFile(t *testing.T, records []*domain.DatasetRecord) []byte {
	t.Helper()
	var buf bytes.Buffer
	for i, r := range records {
		var img bytes.Buffer
		format := imaging.PNG
		if i%2 == 1 {
			format = imaging.JPEG
		}
		require.NoError(t, imaging.Encode(&img, r.Image, format))
		line, err := json.Marshal(Line{Image: img.Bytes(), Objects: r.Objects})
		require.NoError(t, err)
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

func readAll(t *testing.T, s ports.Split) []*domain.DatasetRecord {
	t.Helper()
	it, err := s.Open(context.Background())
	require.NoError(t, err)
	defer it.Close()

	var out []*domain.DatasetRecord
	for {
		rec, err := it.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, rec)
	}
}

func TestCatalog_DownloadsAndCaches(t *testing.T) {
	dir := t.TempDir()
	registry := new(testutil.MockModelRegistry)
	records := testutil.SyntheticRecords(5, 4)

	manifest := []byte(`{"name":"coco/2017","splits":["train","test"]}`)
	registry.On("Fetch", mock.Anything, "datasets/coco/2017/manifest.json").Return(body(manifest), nil).Once()
	registry.On("Fetch", mock.Anything, "datasets/coco/2017/test.jsonl").Return(body(splitFile(t, records)), nil).Once()

	ds, err := NewDatasetCatalog(dir, registry).Load(context.Background(), "coco/2017")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "coco_2017.sqlite"))
	assert.Equal(t, "coco/2017", ds.Name())

	test, err := ds.Split(domain.SplitTest)
	require.NoError(t, err)

	got := readAll(t, test)
	require.Len(t, got, 4)
	for i, rec := range got {
		assert.Equal(t, i, rec.Index)
		assert.Equal(t, records[i].Image.Bounds(), rec.Image.Bounds())
		assert.Equal(t, records[i].Objects, rec.Objects)
	}

	// Reopening iterates the same order without downloading again.
	again := readAll(t, test)
	require.Len(t, again, 4)
	assert.Equal(t, got[2].Objects, again[2].Objects)
	require.NoError(t, ds.Close())

	// A fresh catalog over the same directory is served from the cache.
	ds, err = NewDatasetCatalog(dir, registry).Load(context.Background(), "coco/2017")
	require.NoError(t, err)
	defer ds.Close()
	test, err = ds.Split(domain.SplitTest)
	require.NoError(t, err)
	assert.Len(t, readAll(t, test), 4)

	registry.AssertExpectations(t)
}

func TestCatalog_PNGIsLossless(t *testing.T) {
	registry := new(testutil.MockModelRegistry)
	records := testutil.SyntheticRecords(8, 1)
	registry.On("Fetch", mock.Anything, "datasets/d/manifest.json").Return(body([]byte(`{"splits":["train"]}`)), nil)
	registry.On("Fetch", mock.Anything, "datasets/d/train.jsonl").Return(body(splitFile(t, records)), nil)

	ds, err := NewDatasetCatalog(t.TempDir(), registry).Load(context.Background(), "d")
	require.NoError(t, err)
	defer ds.Close()
	train, err := ds.Split(domain.SplitTrain)
	require.NoError(t, err)

	got := readAll(t, train)
	require.Len(t, got, 1)
	want := imaging.Clone(records[0].Image)
	assert.Equal(t, want.Pix, imaging.Clone(got[0].Image).Pix)
}

func TestCatalog_UnknownDataset(t *testing.T) {
	registry := new(testutil.MockModelRegistry)
	registry.On("Fetch", mock.Anything, mock.Anything).Return(nil, domain.ErrBlobNotFound)

	_, err := NewDatasetCatalog(t.TempDir(), registry).Load(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrDatasetNotFound)
}

func TestCatalog_UnknownSplit(t *testing.T) {
	registry := new(testutil.MockModelRegistry)
	registry.On("Fetch", mock.Anything, "datasets/d/manifest.json").Return(body([]byte(`{"splits":["train","test"]}`)), nil)
	registry.On("Fetch", mock.Anything, "datasets/d/test.jsonl").Return(nil, domain.ErrBlobNotFound)

	ds, err := NewDatasetCatalog(t.TempDir(), registry).Load(context.Background(), "d")
	require.NoError(t, err)
	defer ds.Close()

	_, err = ds.Split("validation")
	assert.ErrorIs(t, err, domain.ErrSplitNotFound)

	test, err := ds.Split(domain.SplitTest)
	require.NoError(t, err)
	_, err = test.Open(context.Background())
	assert.ErrorIs(t, err, domain.ErrSplitNotFound)
}

func TestCatalog_BadLineLeavesSplitIncomplete(t *testing.T) {
	dir := t.TempDir()
	registry := new(testutil.MockModelRegistry)
	registry.On("Fetch", mock.Anything, "datasets/d/manifest.json").Return(body([]byte(`{"splits":["train"]}`)), nil)
	registry.On("Fetch", mock.Anything, "datasets/d/train.jsonl").Return(body([]byte("{not json}\n")), nil).Once()

	ds, err := NewDatasetCatalog(dir, registry).Load(context.Background(), "d")
	require.NoError(t, err)
	defer ds.Close()
	train, err := ds.Split(domain.SplitTrain)
	require.NoError(t, err)

	_, err = train.Open(context.Background())
	assert.Error(t, err)

	registry.On("Fetch", mock.Anything, "datasets/d/train.jsonl").Return(body(splitFile(t, testutil.SyntheticRecords(1, 2))), nil).Once()
	assert.Len(t, readAll(t, train), 2)

	_, err = os.Stat(filepath.Join(dir, "d.sqlite"))
	assert.NoError(t, err)
}
