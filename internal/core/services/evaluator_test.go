package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"detection-quant-bench/internal/core/domain"
	"detection-quant-bench/internal/engine"
	"detection-quant-bench/internal/testutil"
)

func TestRequantize(t *testing.T) {
	assert.InDelta(t, 0.0, Requantize(128, domain.QuantParams{Scale: 0.0078, ZeroPoint: 128}), 1e-9)
	assert.InDelta(t, 40.0, Requantize(50, domain.QuantParams{Scale: 0, ZeroPoint: 10}), 1e-9)
	assert.InDelta(t, 0.0078, Requantize(129, domain.QuantParams{Scale: 0.0078, ZeroPoint: 128}), 1e-6)
}

func TestCastU8(t *testing.T) {
	assert.Equal(t, uint8(0), castU8(-3))
	assert.Equal(t, uint8(0), castU8(0.99))
	assert.Equal(t, uint8(1), castU8(1.7))
	assert.Equal(t, uint8(255), castU8(300))
}

func convertAll(t *testing.T, g *engine.Graph) []*domain.ModelArtifact {
	t.Helper()
	c := NewConverter(t.TempDir(), "tiny")
	var arts []*domain.ModelArtifact
	for _, cfg := range []QuantConfig{Float32Config{}, Float16Config{}, int8Config(3, 4)} {
		art, err := c.Convert(context.Background(), g, cfg)
		require.NoError(t, err)
		arts = append(arts, art)
	}
	return arts
}

func TestEvaluator_AllArtifacts(t *testing.T) {
	arts := convertAll(t, testutil.DetectorGraph(1, graphSize))
	split := &testutil.MemorySplit{SplitName: "test", Records: testutil.SyntheticRecords(7, 8)}
	ev := NewEvaluator(NewPreprocessor())

	for _, art := range arts {
		records, err := ev.Evaluate(context.Background(), art, split, 5)
		require.NoError(t, err, art.Config)
		require.Len(t, records, 5, art.Config)

		for i, r := range records {
			assert.Equal(t, i, r.Index)
			assert.Positive(t, int64(r.Latency))
			require.Len(t, r.Outputs, len(art.Outputs))
			for j, out := range r.Outputs {
				assert.Equal(t, art.Outputs[j].Shape, out.Shape)
				assert.Equal(t, art.OutputDType, out.DType)
			}
			assert.Equal(t, split.Records[i].Objects.BBoxes, r.GroundTruth)
			assert.Equal(t, split.Records[i].Objects.Labels, r.Labels)
		}
	}
}

func TestEvaluator_StopsAtEndOfSplit(t *testing.T) {
	arts := convertAll(t, testutil.DetectorGraph(1, graphSize))
	split := &testutil.MemorySplit{SplitName: "test", Records: testutil.SyntheticRecords(7, 3)}

	records, err := NewEvaluator(NewPreprocessor()).Evaluate(context.Background(), arts[0], split, 0)
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestEvaluator_ShapeMismatchAborts(t *testing.T) {
	art := convertAll(t, testutil.DetectorGraph(1, graphSize))[0]
	art.InputShape = []int{1, 16, 16, 3}
	split := &testutil.MemorySplit{SplitName: "test", Records: testutil.SyntheticRecords(7, 3)}

	records, err := NewEvaluator(NewPreprocessor()).Evaluate(context.Background(), art, split, 3)
	assert.ErrorIs(t, err, domain.ErrShapeMismatch)
	assert.Nil(t, records)
}

func TestEvaluator_MissingArtifact(t *testing.T) {
	art := &domain.ModelArtifact{Config: domain.ConfigFloat32, Path: "/nonexistent/model.lite"}
	split := &testutil.MemorySplit{SplitName: "test"}

	_, err := NewEvaluator(NewPreprocessor()).Evaluate(context.Background(), art, split, 1)
	assert.Error(t, err)
	assert.False(t, errors.Is(err, domain.ErrShapeMismatch))
}

func TestEvaluator_Int8InputRequantized(t *testing.T) {
	arts := convertAll(t, testutil.DetectorGraph(1, graphSize))
	q := arts[2]
	require.NotNil(t, q.InputQuant)

	rec := testutil.SyntheticRecords(7, 1)[0]
	x, err := NewEvaluator(NewPreprocessor()).prepare(rec, q)
	require.NoError(t, err)
	assert.Equal(t, []int{1, graphSize, graphSize, 3}, x.Shape)
	assert.Equal(t, engine.UInt8, x.DType)

	// With the calibrated input range [0, 1] every requantized value
	// truncates to zero.
	for _, v := range x.U8 {
		require.Equal(t, uint8(0), v)
	}
}
