package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override secrets in the YAML file.
const (
	EnvTranscriptionAPIKey = "TRANSCRIPTION_API_KEY"
	EnvOpenAIAPIKey        = "OPENAI_API_KEY"
	EnvObjectSigningKey    = "OBJECT_SIGNING_KEY"
)

// Config represents the complete service configuration
type Config struct {
	HTTP          HTTPConfig          `yaml:"http"`
	Audio         AudioConfig         `yaml:"audio"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Minutes       MinutesConfig       `yaml:"minutes"`
	Storage       StorageConfig       `yaml:"storage"`
	Jobs          JobsConfig          `yaml:"jobs"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port           int    `yaml:"port"`
	Address        string `yaml:"address"`
	ReadTimeout    int    `yaml:"read_timeout"`  // seconds
	WriteTimeout   int    `yaml:"write_timeout"` // seconds
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
}

// AudioConfig contains chunked transcription parameters
type AudioConfig struct {
	SizeThresholdBytes int64   `yaml:"size_threshold_bytes"`
	TargetChunkBytes   int64   `yaml:"target_chunk_bytes"`
	MinChunkDuration   float64 `yaml:"min_chunk_duration"` // seconds
	MaxChunkDuration   float64 `yaml:"max_chunk_duration"` // seconds
}

// TranscriptionConfig contains transcription API configuration
type TranscriptionConfig struct {
	Provider      string `yaml:"provider"` // "http" or "openai"
	Endpoint      string `yaml:"endpoint"`
	BaseURL       string `yaml:"base_url"`
	APIKey        string `yaml:"api_key"`
	Model         string `yaml:"model"`
	Language      string `yaml:"language"`
	Timeout       int    `yaml:"timeout"` // seconds, 0 waits indefinitely
	MaxRetries    int    `yaml:"max_retries"`
	RetryBackoff  int    `yaml:"retry_backoff"`  // milliseconds
	MaxConcurrent int    `yaml:"max_concurrent"` // 0 sizes the pool from jobs and batch size
	BatchSize     int    `yaml:"batch_size"`
	OutputFormat  string `yaml:"output_format"`
}

// MinutesConfig contains chat-completion configuration for minutes generation
type MinutesConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
	Timeout int    `yaml:"timeout"` // seconds
}

// StorageConfig contains record and object store configuration
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	ObjectPath   string `yaml:"object_path"`
	SigningKey   string `yaml:"signing_key"`
	SignedURLTTL int    `yaml:"signed_url_ttl"` // seconds
}

// JobsConfig contains background job configuration
type JobsConfig struct {
	MaxConcurrent   int `yaml:"max_concurrent"`
	Retention       int `yaml:"retention"`        // seconds
	CleanupInterval int `yaml:"cleanup_interval"` // seconds
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns a configuration with every optional field populated
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Port:           8080,
			Address:        "0.0.0.0",
			ReadTimeout:    60,
			WriteTimeout:   60,
			MaxUploadBytes: 512 * 1024 * 1024,
		},
		Audio: AudioConfig{
			SizeThresholdBytes: 25 * 1024 * 1024,
			TargetChunkBytes:   20 * 1024 * 1024,
			MinChunkDuration:   30,
			MaxChunkDuration:   600,
		},
		Transcription: TranscriptionConfig{
			Provider:      "http",
			Model:         "whisper-1",
			Timeout:       0,
			MaxRetries:    0,
			RetryBackoff:  1000,
			MaxConcurrent: 0,
			BatchSize:     10,
			OutputFormat:  "json",
		},
		Minutes: MinutesConfig{
			Enabled: true,
			Model:   "gpt-4o-mini",
			Timeout: 120,
		},
		Storage: StorageConfig{
			DatabasePath: "./data/memos.db",
			ObjectPath:   "./data/objects",
			SignedURLTTL: 900,
		},
		Jobs: JobsConfig{
			MaxConcurrent:   4,
			Retention:       3600,
			CleanupInterval: 60,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// Load reads and parses the configuration file. Fields missing from the file
// keep their defaults, and a .env file in the working directory is loaded
// before secrets are taken from the environment.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config.ApplyEnv(os.Getenv)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// ApplyEnv overrides secrets with non-empty environment values
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv(EnvTranscriptionAPIKey); v != "" {
		c.Transcription.APIKey = v
	}

	if v := getenv(EnvOpenAIAPIKey); v != "" {
		c.Minutes.APIKey = v
		if c.Transcription.Provider == "openai" && c.Transcription.APIKey == "" {
			c.Transcription.APIKey = v
		}
	}

	if v := getenv(EnvObjectSigningKey); v != "" {
		c.Storage.SigningKey = v
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if err := c.Minutes.Validate(); err != nil {
		return fmt.Errorf("minutes config: %w", err)
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage config: %w", err)
	}

	if err := c.Jobs.Validate(); err != nil {
		return fmt.Errorf("jobs config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Port < 1 || h.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", h.Port)
	}

	if h.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	if h.ReadTimeout < 0 || h.WriteTimeout < 0 {
		return fmt.Errorf("timeouts cannot be negative")
	}

	if h.MaxUploadBytes < 1 {
		return fmt.Errorf("max_upload_bytes must be positive, got %d", h.MaxUploadBytes)
	}

	return nil
}

// Validate validates audio chunking configuration
func (a *AudioConfig) Validate() error {
	if a.SizeThresholdBytes < 1 {
		return fmt.Errorf("size_threshold_bytes must be positive, got %d", a.SizeThresholdBytes)
	}

	if a.TargetChunkBytes < 1 {
		return fmt.Errorf("target_chunk_bytes must be positive, got %d", a.TargetChunkBytes)
	}

	if a.MinChunkDuration <= 0 {
		return fmt.Errorf("min_chunk_duration must be positive, got %f", a.MinChunkDuration)
	}

	if a.MaxChunkDuration < a.MinChunkDuration {
		return fmt.Errorf("max_chunk_duration (%f) cannot be less than min_chunk_duration (%f)",
			a.MaxChunkDuration, a.MinChunkDuration)
	}

	return nil
}

// Validate validates transcription configuration
func (t *TranscriptionConfig) Validate() error {
	switch t.Provider {
	case "http":
		if t.Endpoint == "" {
			return fmt.Errorf("endpoint cannot be empty for the http provider")
		}
	case "openai":
	default:
		return fmt.Errorf("provider must be 'http' or 'openai', got '%s'", t.Provider)
	}

	if t.APIKey == "" {
		return fmt.Errorf("api_key cannot be empty (set it in the file or %s)", EnvTranscriptionAPIKey)
	}

	if t.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative, got %d", t.Timeout)
	}

	if t.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", t.MaxRetries)
	}

	if t.RetryBackoff < 0 {
		return fmt.Errorf("retry_backoff cannot be negative, got %d", t.RetryBackoff)
	}

	if t.MaxConcurrent < 0 {
		return fmt.Errorf("max_concurrent cannot be negative, got %d", t.MaxConcurrent)
	}

	if t.BatchSize < 1 {
		return fmt.Errorf("batch_size must be at least 1, got %d", t.BatchSize)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[t.OutputFormat] {
		return fmt.Errorf("output_format must be 'json' or 'text', got '%s'", t.OutputFormat)
	}

	return nil
}

// Validate validates minutes configuration
func (m *MinutesConfig) Validate() error {
	if !m.Enabled {
		return nil
	}

	if m.APIKey == "" {
		return fmt.Errorf("api_key cannot be empty when minutes are enabled (set it in the file or %s)", EnvOpenAIAPIKey)
	}

	if m.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}

	if m.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative, got %d", m.Timeout)
	}

	return nil
}

// Validate validates storage configuration
func (s *StorageConfig) Validate() error {
	if s.DatabasePath == "" {
		return fmt.Errorf("database_path cannot be empty")
	}

	if s.ObjectPath == "" {
		return fmt.Errorf("object_path cannot be empty")
	}

	if len(s.SigningKey) < 16 {
		return fmt.Errorf("signing_key must be at least 16 characters (set it in the file or %s)", EnvObjectSigningKey)
	}

	if s.SignedURLTTL < 1 {
		return fmt.Errorf("signed_url_ttl must be at least 1 second, got %d", s.SignedURLTTL)
	}

	return nil
}

// Validate validates jobs configuration
func (j *JobsConfig) Validate() error {
	if j.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", j.MaxConcurrent)
	}

	if j.Retention < 1 {
		return fmt.Errorf("retention must be at least 1 second, got %d", j.Retention)
	}

	if j.CleanupInterval < 1 {
		return fmt.Errorf("cleanup_interval must be at least 1 second, got %d", j.CleanupInterval)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// any other output is treated as a file path
	return nil
}

// GetReadTimeout returns the HTTP read timeout as a time.Duration
func (h *HTTPConfig) GetReadTimeout() time.Duration {
	return time.Duration(h.ReadTimeout) * time.Second
}

// GetWriteTimeout returns the HTTP write timeout as a time.Duration
func (h *HTTPConfig) GetWriteTimeout() time.Duration {
	return time.Duration(h.WriteTimeout) * time.Second
}

// GetTimeoutDuration returns the per-request transcription timeout as a time.Duration
func (t *TranscriptionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

// GetRetryBackoff returns the first retry backoff step as a time.Duration
func (t *TranscriptionConfig) GetRetryBackoff() time.Duration {
	return time.Duration(t.RetryBackoff) * time.Millisecond
}

// TranscriptionConcurrency returns the size of the shared request pool of the
// transcription client. An explicit transcription.max_concurrent is a global
// upstream cap; 0 lets every running job keep a full batch in flight.
func (c *Config) TranscriptionConcurrency() int {
	if c.Transcription.MaxConcurrent > 0 {
		return c.Transcription.MaxConcurrent
	}
	return max(c.Jobs.MaxConcurrent, 1) * max(c.Transcription.BatchSize, 1)
}

// GetTimeoutDuration returns the minutes request timeout as a time.Duration
func (m *MinutesConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(m.Timeout) * time.Second
}

// GetSignedURLTTL returns the signed URL lifetime as a time.Duration
func (s *StorageConfig) GetSignedURLTTL() time.Duration {
	return time.Duration(s.SignedURLTTL) * time.Second
}

// GetRetention returns how long finished jobs are kept as a time.Duration
func (j *JobsConfig) GetRetention() time.Duration {
	return time.Duration(j.Retention) * time.Second
}

// GetCleanupInterval returns the job cleanup interval as a time.Duration
func (j *JobsConfig) GetCleanupInterval() time.Duration {
	return time.Duration(j.CleanupInterval) * time.Second
}

// Sanitized returns a copy of the configuration with secrets masked
func (c *Config) Sanitized() Config {
	sanitized := *c
	sanitized.Transcription.APIKey = mask(c.Transcription.APIKey)
	sanitized.Minutes.APIKey = mask(c.Minutes.APIKey)
	sanitized.Storage.SigningKey = mask(c.Storage.SigningKey)
	return sanitized
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "***"
}
