package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "./data", cfg.Paths.DataDir)
	assert.Equal(t, "./datasets", cfg.Paths.DatasetDir)
	assert.Equal(t, "./weights", cfg.Paths.WeightsDir)
	assert.Equal(t, int64(42), cfg.Bench.Seed)
	assert.Equal(t, 100, cfg.Bench.Int8TrainSize)
	assert.Equal(t, 1500, cfg.Bench.SampleSize)
	assert.Equal(t, 0.5, cfg.Bench.InferenceThreshold)
	assert.Equal(t, 0.5, cfg.Bench.PrecisionThreshold)
	assert.Equal(t, "coco/2017", cfg.Dataset.Name)
	assert.Equal(t, "http", cfg.Registry.Kind)
	assert.Equal(t, 5*time.Minute, cfg.Registry.Timeout)
	assert.False(t, cfg.Database.Enabled)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("WEIGHTS_DIR", "/tmp/w")
	t.Setenv("SAMPLE_SIZE", "20")
	t.Setenv("REGISTRY_KIND", "s3")
	t.Setenv("REGISTRY_TIMEOUT", "not-a-duration")
	t.Setenv("DB_ENABLED", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/tmp/w", cfg.Paths.WeightsDir)
	assert.Equal(t, 20, cfg.Bench.SampleSize)
	assert.Equal(t, "s3", cfg.Registry.Kind)
	assert.Equal(t, 5*time.Minute, cfg.Registry.Timeout)
	assert.True(t, cfg.Database.Enabled)
}

func TestLoad_RejectsUnknownRegistry(t *testing.T) {
	t.Setenv("REGISTRY_KIND", "ftp")

	_, err := Load()
	assert.Error(t, err)
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := DatabaseConfig{User: "u", Password: "p", Host: "db", Port: 5432, Name: "bench", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@db:5432/bench?sslmode=disable", d.DSN())
}
