package models

import "time"

// Config represents the application configuration
type Config struct {
	LogLevel  string          `yaml:"logLevel"`
	Email     EmailConfig     `yaml:"email"`
	Storage   StorageConfig   `yaml:"storage"`
	Vector    VectorConfig    `yaml:"vector"`
	Embedding EmbeddingConfig `yaml:"embedding"`
}

// EmailConfig represents IMAP email configuration
type EmailConfig struct {
	Imap        string        `yaml:"imap"`
	Login       string        `yaml:"login"`
	Password    string        `yaml:"password"`
	Label       string        `yaml:"label"`
	RefreshTime time.Duration `yaml:"refreshTime"`
}

// StorageConfig locates the local record file and error ledger
type StorageConfig struct {
	RecordsFile string `yaml:"recordsFile"`
	ErrorsFile  string `yaml:"errorsFile"`
}

// VectorConfig represents the Qdrant connection and loader tuning
type VectorConfig struct {
	Addr       string        `yaml:"addr"`
	APIKey     string        `yaml:"apiKey"`
	UseTLS     bool          `yaml:"useTLS"`
	Collection string        `yaml:"collection"`
	BatchSize  int           `yaml:"batchSize"`
	Workers    int           `yaml:"workers"`
	PageSize   int           `yaml:"pageSize"`
	MaxPages   int           `yaml:"maxPages"`
	MaxRetries int           `yaml:"maxRetries"`
	RetryDelay time.Duration `yaml:"retryDelay"`
}

// EmbeddingConfig represents the embedding provider
type EmbeddingConfig struct {
	APIKey  string `yaml:"apiKey"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"baseURL"`
}
