package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Paths    PathsConfig
	Model    ModelConfig
	Dataset  DatasetConfig
	Bench    BenchConfig
	Registry RegistryConfig
	Database DatabaseConfig
	Server   ServerConfig
	Logger   LoggerConfig
}

// PathsConfig holds the three working directories. They are resolved once
// here and passed explicitly to every component.
type PathsConfig struct {
	DataDir    string
	DatasetDir string
	WeightsDir string
}

type ModelConfig struct {
	Name   string
	Handle string
	Dir    string
}

type DatasetConfig struct {
	Name string
}

type BenchConfig struct {
	Seed               int64
	Int8TrainSize      int
	SampleSize         int
	InferenceThreshold float64
	PrecisionThreshold float64
}

type RegistryConfig struct {
	Kind    string
	URL     string
	Timeout time.Duration
	Prefix  string
	S3      S3Config
}

type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

type DatabaseConfig struct {
	Enabled         bool
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

type ServerConfig struct {
	Host string
	Port int
}

type LoggerConfig struct {
	Level  string
	Format string
}

// Load reads an optional .env file, then defaults overlaid by the process
// environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()

	// Defaults
	v.SetDefault("DATA_DIR", "./data")
	v.SetDefault("DATASET_DIR", "./datasets")
	v.SetDefault("WEIGHTS_DIR", "./weights")

	v.SetDefault("MODEL_NAME", "mobilenetv2")
	v.SetDefault("MODEL_HANDLE", "models/ssd_mobilenet_v2.pb.gz")
	v.SetDefault("MODEL_DIR", "ssd_mobilenet_v2")
	v.SetDefault("DATASET_NAME", "coco/2017")

	v.SetDefault("SEED", 42)
	v.SetDefault("INT8_TRAIN_SIZE", 100)
	v.SetDefault("SAMPLE_SIZE", 1500)
	v.SetDefault("INFERENCE_THRESHOLD", 0.5)
	v.SetDefault("PRECISION_THRESHOLD", 0.5)

	v.SetDefault("REGISTRY_KIND", "http")
	v.SetDefault("REGISTRY_URL", "http://localhost:8085")
	v.SetDefault("REGISTRY_TIMEOUT", "5m")
	v.SetDefault("REGISTRY_PREFIX", "")
	v.SetDefault("S3_BUCKET", "model-registry")
	v.SetDefault("S3_REGION", "us-east-1")
	v.SetDefault("S3_ENDPOINT", "")
	v.SetDefault("S3_ACCESS_KEY_ID", "")
	v.SetDefault("S3_SECRET_ACCESS_KEY", "")

	v.SetDefault("DB_ENABLED", false)
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "quant_bench")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 2)
	v.SetDefault("DB_CONN_MAX_LIFETIME", "30m")

	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", 8080)
	v.SetDefault("LOGGER_LEVEL", "info")
	v.SetDefault("LOGGER_FORMAT", "json")

	// Env
	v.AutomaticEnv()

	timeout, err := time.ParseDuration(v.GetString("REGISTRY_TIMEOUT"))
	if err != nil {
		timeout = 5 * time.Minute
	}
	lifetime, err := time.ParseDuration(v.GetString("DB_CONN_MAX_LIFETIME"))
	if err != nil {
		lifetime = 30 * time.Minute
	}

	cfg := &Config{
		Paths: PathsConfig{
			DataDir:    v.GetString("DATA_DIR"),
			DatasetDir: v.GetString("DATASET_DIR"),
			WeightsDir: v.GetString("WEIGHTS_DIR"),
		},
		Model: ModelConfig{
			Name:   v.GetString("MODEL_NAME"),
			Handle: v.GetString("MODEL_HANDLE"),
			Dir:    v.GetString("MODEL_DIR"),
		},
		Dataset: DatasetConfig{
			Name: v.GetString("DATASET_NAME"),
		},
		Bench: BenchConfig{
			Seed:               v.GetInt64("SEED"),
			Int8TrainSize:      v.GetInt("INT8_TRAIN_SIZE"),
			SampleSize:         v.GetInt("SAMPLE_SIZE"),
			InferenceThreshold: v.GetFloat64("INFERENCE_THRESHOLD"),
			PrecisionThreshold: v.GetFloat64("PRECISION_THRESHOLD"),
		},
		Registry: RegistryConfig{
			Kind:    v.GetString("REGISTRY_KIND"),
			URL:     v.GetString("REGISTRY_URL"),
			Timeout: timeout,
			Prefix:  v.GetString("REGISTRY_PREFIX"),
			S3: S3Config{
				Bucket:          v.GetString("S3_BUCKET"),
				Region:          v.GetString("S3_REGION"),
				Endpoint:        v.GetString("S3_ENDPOINT"),
				AccessKeyID:     v.GetString("S3_ACCESS_KEY_ID"),
				SecretAccessKey: v.GetString("S3_SECRET_ACCESS_KEY"),
			},
		},
		Database: DatabaseConfig{
			Enabled:         v.GetBool("DB_ENABLED"),
			Host:            v.GetString("DB_HOST"),
			Port:            v.GetInt("DB_PORT"),
			User:            v.GetString("DB_USER"),
			Password:        v.GetString("DB_PASSWORD"),
			Name:            v.GetString("DB_NAME"),
			SSLMode:         v.GetString("DB_SSLMODE"),
			MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
			MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
			ConnMaxLifetime: lifetime,
		},
		Server: ServerConfig{
			Host: v.GetString("SERVER_HOST"),
			Port: v.GetInt("SERVER_PORT"),
		},
		Logger: LoggerConfig{
			Level:  v.GetString("LOGGER_LEVEL"),
			Format: v.GetString("LOGGER_FORMAT"),
		},
	}

	if cfg.Registry.Kind != "http" && cfg.Registry.Kind != "s3" {
		return nil, fmt.Errorf("REGISTRY_KIND must be http or s3, got %q", cfg.Registry.Kind)
	}

	return cfg, nil
}
