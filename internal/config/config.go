package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/xxxsen/common/logger"
)

type Config struct {
	DBDsn          string           `json:"db_dsn"`
	Port           int              `json:"port"`
	JWTSecret      string           `json:"jwt_secret"`
	MigrationsDir  string           `json:"migrations_dir"`
	CORSOrigins    []string         `json:"cors_origins"`
	UploadWindowMs int              `json:"upload_window_ms"`
	LogConfig      logger.LogConfig `json:"log_config"`
	FileStore      FileStoreConfig  `json:"file_store"`
	AI             AIConfig         `json:"ai"`
	Ingest         IngestConfig     `json:"ingest"`
	Cache          CacheConfig      `json:"cache"`
	Vector         VectorConfig     `json:"vector"`
	Schedule       ScheduleConfig   `json:"schedule"`
}

type FileStoreConfig struct {
	Type string   `json:"type"`
	Dir  string   `json:"dir"`
	S3   S3Config `json:"s3"`
}

type S3Config struct {
	Region    string `json:"region"`
	Bucket    string `json:"bucket"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	Prefix    string `json:"prefix"`
}

type AIConfig struct {
	Provider string      `json:"provider"`
	Model    string      `json:"model"`
	Data     interface{} `json:"data"`
}

type IngestConfig struct {
	Workers         int `json:"workers"`
	QueueSize       int `json:"queue_size"`
	BatchSize       int `json:"batch_size"`
	MaxRetries      int `json:"max_retries"`
	BaseDelayMs     int `json:"base_delay_ms"`
	TaskTimeoutSec  int `json:"task_timeout_sec"`
	DrainTimeoutSec int `json:"drain_timeout_sec"`
}

type CacheConfig struct {
	SegmentLRUSize int `json:"segment_lru_size"`
	VectorLRUSize  int `json:"vector_lru_size"`
}

type VectorConfig struct {
	Dimension int `json:"dimension"`
}

// ScheduleConfig holds the cron jobs. Empty specs disable a job; nothing
// runs unless the operator configures it.
type ScheduleConfig struct {
	TaskCleanupSpec   string `json:"task_cleanup_spec"`
	TaskRetentionDays int    `json:"task_retention_days"`
	IngestRetrySpec   string `json:"ingest_retry_spec"`
	IngestRetryBatch  int    `json:"ingest_retry_batch"`
}

func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.DBDsn == "" {
		return nil, fmt.Errorf("db_dsn is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("jwt_secret is required")
	}
	if cfg.Port == 0 {
		return nil, fmt.Errorf("port is required")
	}
	if cfg.MigrationsDir == "" {
		cfg.MigrationsDir = "migrations"
	}
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	if cfg.AI.Provider == "" {
		return nil, fmt.Errorf("ai.provider is required")
	}
	if cfg.AI.Model == "" {
		return nil, fmt.Errorf("ai.model is required")
	}
	switch cfg.FileStore.Type {
	case "", "local":
		cfg.FileStore.Type = "local"
		if cfg.FileStore.Dir == "" {
			return nil, fmt.Errorf("file_store.dir is required for local store")
		}
	case "s3":
		if cfg.FileStore.S3.Region == "" || cfg.FileStore.S3.Bucket == "" {
			return nil, fmt.Errorf("file_store.s3 region/bucket are required for s3 store")
		}
	default:
		return nil, fmt.Errorf("file_store.type must be local or s3")
	}
	if cfg.Ingest.Workers <= 0 {
		cfg.Ingest.Workers = 4
	}
	if cfg.Ingest.QueueSize <= 0 {
		cfg.Ingest.QueueSize = 64
	}
	if cfg.Ingest.BatchSize <= 0 {
		cfg.Ingest.BatchSize = 16
	}
	if cfg.Ingest.MaxRetries <= 0 {
		cfg.Ingest.MaxRetries = 3
	}
	if cfg.Ingest.BaseDelayMs <= 0 {
		cfg.Ingest.BaseDelayMs = 200
	}
	if cfg.Ingest.DrainTimeoutSec <= 0 {
		cfg.Ingest.DrainTimeoutSec = 30
	}
	if cfg.Cache.SegmentLRUSize <= 0 {
		cfg.Cache.SegmentLRUSize = 1024
	}
	if cfg.Cache.VectorLRUSize <= 0 {
		cfg.Cache.VectorLRUSize = 8192
	}
	if cfg.Vector.Dimension <= 0 {
		cfg.Vector.Dimension = 768
	}
	if cfg.Schedule.TaskCleanupSpec != "" && cfg.Schedule.TaskRetentionDays <= 0 {
		cfg.Schedule.TaskRetentionDays = 7
	}
	if cfg.Schedule.IngestRetrySpec != "" && cfg.Schedule.IngestRetryBatch <= 0 {
		cfg.Schedule.IngestRetryBatch = 20
	}
	return &cfg, nil
}
