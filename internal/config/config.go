package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"newsletter-indexer/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// ErrInvalidConfig is returned when a required setting is missing or out of range
var ErrInvalidConfig = errors.New("invalid configuration")

const (
	DefaultLabel          = "_News/AIML"
	DefaultRefreshTime    = 6 * time.Hour
	DefaultRecordsFile    = "data/newsletter_records.json"
	DefaultErrorsFile     = "data/errors.json"
	DefaultVectorAddr     = "localhost:6334"
	DefaultCollection     = "Newsletter"
	DefaultBatchSize      = 20
	DefaultWorkers        = 8
	DefaultPageSize       = 10000
	DefaultMaxPages       = 100
	DefaultMaxRetries     = 3
	DefaultRetryDelay     = time.Second
	DefaultEmbeddingModel = "text-embedding-3-small"
)

// Load reads the configuration from the specified YAML file, applies environment
// overrides and defaults, and validates the result
func Load(filepath string) (*models.Config, error) {
	// .env is optional
	_ = godotenv.Load()

	configFile, err := os.ReadFile(filepath)
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := yaml.Unmarshal(configFile, &config); err != nil {
		return nil, err
	}

	applyEnv(&config)
	applyDefaults(&config)

	if err := Validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func applyEnv(cfg *models.Config) {
	overrides := []struct {
		name   string
		target *string
	}{
		{"EMAIL_ADDRESS", &cfg.Email.Login},
		{"EMAIL_PASSWORD", &cfg.Email.Password},
		{"EMAIL_LABEL", &cfg.Email.Label},
		{"QDRANT_ADDR", &cfg.Vector.Addr},
		{"QDRANT_API_KEY", &cfg.Vector.APIKey},
		{"OPENAI_API_KEY", &cfg.Embedding.APIKey},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.name); v != "" {
			*o.target = v
		}
	}
}

func applyDefaults(cfg *models.Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Email.Label == "" {
		cfg.Email.Label = DefaultLabel
	}
	if cfg.Email.RefreshTime == 0 {
		cfg.Email.RefreshTime = DefaultRefreshTime
	}
	if cfg.Storage.RecordsFile == "" {
		cfg.Storage.RecordsFile = DefaultRecordsFile
	}
	if cfg.Storage.ErrorsFile == "" {
		cfg.Storage.ErrorsFile = DefaultErrorsFile
	}
	if cfg.Vector.Addr == "" {
		cfg.Vector.Addr = DefaultVectorAddr
	}
	if cfg.Vector.Collection == "" {
		cfg.Vector.Collection = DefaultCollection
	}
	if cfg.Vector.BatchSize == 0 {
		cfg.Vector.BatchSize = DefaultBatchSize
	}
	if cfg.Vector.Workers == 0 {
		cfg.Vector.Workers = DefaultWorkers
	}
	if cfg.Vector.PageSize == 0 {
		cfg.Vector.PageSize = DefaultPageSize
	}
	if cfg.Vector.MaxPages == 0 {
		cfg.Vector.MaxPages = DefaultMaxPages
	}
	if cfg.Vector.MaxRetries == 0 {
		cfg.Vector.MaxRetries = DefaultMaxRetries
	}
	if cfg.Vector.RetryDelay == 0 {
		cfg.Vector.RetryDelay = DefaultRetryDelay
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = DefaultEmbeddingModel
	}
}

// Validate checks the settings the pipeline cannot run without
func Validate(cfg *models.Config) error {
	switch {
	case cfg.Email.Imap == "":
		return fmt.Errorf("%w: email.imap is required", ErrInvalidConfig)
	case cfg.Email.Login == "":
		return fmt.Errorf("%w: email.login is required", ErrInvalidConfig)
	case cfg.Email.Label == "":
		return fmt.Errorf("%w: email.label is required", ErrInvalidConfig)
	case cfg.Email.RefreshTime < 0:
		return fmt.Errorf("%w: email.refreshTime must be positive", ErrInvalidConfig)
	case cfg.Vector.BatchSize < 1:
		return fmt.Errorf("%w: vector.batchSize must be at least 1", ErrInvalidConfig)
	case cfg.Vector.Workers < 1:
		return fmt.Errorf("%w: vector.workers must be at least 1", ErrInvalidConfig)
	case cfg.Vector.PageSize < 1:
		return fmt.Errorf("%w: vector.pageSize must be at least 1", ErrInvalidConfig)
	}
	return nil
}
