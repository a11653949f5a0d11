package services

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ports "detection-quant-bench/internal/core/ports/output"
	"detection-quant-bench/internal/engine"
	"detection-quant-bench/internal/testutil"
)

func drain(t *testing.T, src ports.SampleSource) []*engine.Tensor {
	t.Helper()
	it, err := src.Open(context.Background())
	require.NoError(t, err)
	defer it.Close()

	var out []*engine.Tensor
	for {
		x, err := it.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, x)
	}
}

func TestRepresentativeFeeder_Limit(t *testing.T) {
	split := &testutil.MemorySplit{SplitName: "train", Records: testutil.SyntheticRecords(1, 6)}
	feeder := NewRepresentativeFeeder(split, NewPreprocessor(), 4)

	assert.Equal(t, 4, feeder.Limit())
	samples := drain(t, feeder)
	require.Len(t, samples, 4)
	for _, s := range samples {
		assert.Equal(t, []int{1, InputSize, InputSize, 3}, s.Shape)
		assert.Equal(t, engine.UInt8, s.DType)
	}
}

func TestRepresentativeFeeder_ShortSplit(t *testing.T) {
	split := &testutil.MemorySplit{SplitName: "train", Records: testutil.SyntheticRecords(1, 2)}
	feeder := NewRepresentativeFeeder(split, NewPreprocessor(), 0)

	assert.Equal(t, DefaultInt8TrainSize, feeder.Limit())
	assert.Len(t, drain(t, feeder), 2)
}

func TestRepresentativeFeeder_RestartsOnOpen(t *testing.T) {
	split := &testutil.MemorySplit{SplitName: "train", Records: testutil.SyntheticRecords(4, 3)}
	feeder := NewRepresentativeFeeder(split, NewPreprocessor(), 3)

	first := drain(t, feeder)
	second := drain(t, feeder)
	require.Len(t, second, 3)
	assert.Equal(t, first[0].U8, second[0].U8)
	assert.Equal(t, 2, split.Opens)
}
