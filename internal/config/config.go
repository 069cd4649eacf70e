// Package config loads assistkb configuration from YAML files and the
// environment.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ProjectFileName is the per-directory configuration file.
const ProjectFileName = ".assistkb.yaml"

// Config represents the complete assistkb configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Paths      PathsConfig      `yaml:"paths" json:"paths"`
	Chunking   ChunkingConfig   `yaml:"chunking" json:"chunking"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Ingest     IngestConfig     `yaml:"ingest" json:"ingest"`
	Watcher    WatcherConfig    `yaml:"watcher" json:"watcher"`
	Store      StoreConfig      `yaml:"store" json:"store"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

// PathsConfig locates the home root that bounds every ingested path and the
// directory holding indexes and the metadata store.
type PathsConfig struct {
	HomeRoot string `yaml:"home_root" json:"home_root"`
	DataDir  string `yaml:"data_dir" json:"data_dir"`
}

// ChunkingConfig sizes chunk windows in runes.
type ChunkingConfig struct {
	Size    int `yaml:"size" json:"size"`
	Overlap int `yaml:"overlap" json:"overlap"`
}

// EmbeddingsConfig configures the embedding provider and its guards.
type EmbeddingsConfig struct {
	// Provider is "static" (offline, hash based) or "ollama".
	Provider   string `yaml:"provider" json:"provider"`
	Model      string `yaml:"model" json:"model"`
	Dimensions int    `yaml:"dimensions" json:"dimensions"`
	OllamaHost string `yaml:"ollama_host" json:"ollama_host"`
	BatchSize  int    `yaml:"batch_size" json:"batch_size"`

	// Timeout bounds each provider call. A timed out chunk is indexed keyword-only.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// CacheSize is the number of cached embeddings (0 disables the cache).
	CacheSize int `yaml:"cache_size" json:"cache_size"`

	// RequestsPerSecond throttles provider calls (0 = unlimited).
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`

	// MaxFailures opens the provider circuit breaker.
	MaxFailures int `yaml:"max_failures" json:"max_failures"`
}

// SearchConfig configures hybrid search and rank fusion.
// Weights are tunable via:
//  1. User config (~/.config/assistkb/config.yaml)
//  2. Project config (.assistkb.yaml)
//  3. Env vars (ASSISTKB_VECTOR_WEIGHT, ASSISTKB_KEYWORD_WEIGHT, ASSISTKB_RRF_CONSTANT)
type SearchConfig struct {
	// VectorWeight and KeywordWeight must sum to 1.0.
	VectorWeight  float64 `yaml:"vector_weight" json:"vector_weight"`
	KeywordWeight float64 `yaml:"keyword_weight" json:"keyword_weight"`

	// RRFConstant is the rank smoothing constant k.
	RRFConstant int `yaml:"rrf_constant" json:"rrf_constant"`

	// PartialCap caps the normalized score of a chunk found by only one index.
	PartialCap float64 `yaml:"partial_cap" json:"partial_cap"`

	// TopK is the candidate count fetched from each index.
	TopK       int     `yaml:"top_k" json:"top_k"`
	MaxResults int     `yaml:"max_results" json:"max_results"`
	MinScore   float64 `yaml:"min_score" json:"min_score"`

	// BM25Backend is "sqlite" (FTS5, default) or "bleve".
	BM25Backend string `yaml:"bm25_backend" json:"bm25_backend"`
}

// IngestConfig configures disk and URL ingestion.
type IngestConfig struct {
	Workers        int           `yaml:"workers" json:"workers"`
	MaxFileSize    int64         `yaml:"max_file_size" json:"max_file_size"`
	ExtractTimeout time.Duration `yaml:"extract_timeout" json:"extract_timeout"`
	FetchTimeout   time.Duration `yaml:"fetch_timeout" json:"fetch_timeout"`
	FetchRate      float64       `yaml:"fetch_rate" json:"fetch_rate"`
	Exclude        []string      `yaml:"exclude" json:"exclude"`
	// Sources lists source definition files loaded by `assistkb ingest`.
	Sources []string `yaml:"sources" json:"sources"`
}

// WatcherConfig configures the filesystem watcher.
type WatcherConfig struct {
	Debounce              time.Duration `yaml:"debounce" json:"debounce"`
	PollInterval          time.Duration `yaml:"poll_interval" json:"poll_interval"`
	ForcePolling          bool          `yaml:"force_polling" json:"force_polling"`
	ResubscribeBackoff    time.Duration `yaml:"resubscribe_backoff" json:"resubscribe_backoff"`
	ResubscribeMaxBackoff time.Duration `yaml:"resubscribe_max_backoff" json:"resubscribe_max_backoff"`
}

// StoreConfig configures the encrypted metadata store.
type StoreConfig struct {
	// FileName is relative to Paths.DataDir.
	FileName string `yaml:"file_name" json:"file_name"`
	// KDFMemoryKB and KDFTime tune Argon2id key derivation.
	KDFMemoryKB uint32 `yaml:"kdf_memory_kb" json:"kdf_memory_kb"`
	KDFTime     uint32 `yaml:"kdf_time" json:"kdf_time"`
	KDFThreads  uint8  `yaml:"kdf_threads" json:"kdf_threads"`
	// SecretsBackend is where the master secret lives: "keyring" (OS
	// keychain), "file" (SecretsFile) or "auto" (keychain when reachable,
	// else the file).
	SecretsBackend string `yaml:"secrets_backend" json:"secrets_backend"`
	// SecretsFile holds the master secret when the file backend is used.
	// Relative paths are resolved against the parent of Paths.DataDir.
	SecretsFile string `yaml:"secrets_file" json:"secrets_file"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level     string `yaml:"level" json:"level"`
	MaxSizeMB int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" json:"max_files"`
}

// defaultExcludePatterns are always excluded from disk ingestion.
var defaultExcludePatterns = []string{
	".git/",
	"node_modules/",
	"__pycache__/",
	".DS_Store",
	"*.lock",
	"*.min.js",
	"*.min.css",
}

// NewConfig creates a new Config with defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Paths: PathsConfig{
			HomeRoot: defaultHomeRoot(),
			DataDir:  DefaultDataDir(),
		},
		Chunking: ChunkingConfig{
			Size:    1200,
			Overlap: 150,
		},
		Embeddings: EmbeddingsConfig{
			Provider:          "static",
			Model:             "nomic-embed-text",
			Dimensions:        256,
			BatchSize:         16,
			Timeout:           30 * time.Second,
			CacheSize:         2048,
			RequestsPerSecond: 0,
			MaxFailures:       5,
		},
		Search: SearchConfig{
			VectorWeight:  0.6,
			KeywordWeight: 0.4,
			RRFConstant:   60,
			PartialCap:    0.5,
			TopK:          50,
			MaxResults:    10,
			MinScore:      0,
			BM25Backend:   "sqlite",
		},
		Ingest: IngestConfig{
			Workers:        runtime.NumCPU(),
			MaxFileSize:    10 * 1024 * 1024,
			ExtractTimeout: 20 * time.Second,
			FetchTimeout:   15 * time.Second,
			FetchRate:      2,
			Exclude:        append([]string(nil), defaultExcludePatterns...),
		},
		Watcher: WatcherConfig{
			Debounce:              500 * time.Millisecond,
			PollInterval:          2 * time.Second,
			ResubscribeBackoff:    time.Second,
			ResubscribeMaxBackoff: 30 * time.Second,
		},
		Store: StoreConfig{
			FileName:       "metadata.db",
			KDFMemoryKB:    64 * 1024,
			KDFTime:        1,
			KDFThreads:     4,
			SecretsBackend: "auto",
			SecretsFile:    "secrets.json",
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
	}
}

func defaultHomeRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return os.TempDir()
	}
	return home
}

// DefaultDataDir returns ~/.assistkb/data.
func DefaultDataDir() string {
	return filepath.Join(defaultHomeRoot(), ".assistkb", "data")
}

// StorePath returns the metadata store file path.
func (c *Config) StorePath() string {
	return filepath.Join(c.Paths.DataDir, c.Store.FileName)
}

// SecretsPath returns the secrets file path.
func (c *Config) SecretsPath() string {
	if filepath.IsAbs(c.Store.SecretsFile) {
		return c.Store.SecretsFile
	}
	return filepath.Join(filepath.Dir(c.Paths.DataDir), c.Store.SecretsFile)
}

// LockPath returns the file guarding the data directory against a second
// writer process.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, ".lock")
}

// GetUserConfigPath returns the user configuration file path:
//   - $XDG_CONFIG_HOME/assistkb/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/assistkb/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "assistkb", "config.yaml")
	}
	return filepath.Join(defaultHomeRoot(), ".config", "assistkb", "config.yaml")
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// LoadUserConfig loads the user configuration file.
// Returns nil config and nil error if the file doesn't exist.
func LoadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()
	if !fileExists(configPath) {
		return nil, nil
	}

	var parsed Config
	if err := readYAML(configPath, &parsed); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}
	return &parsed, nil
}

// Load loads configuration with increasing precedence:
//  1. Defaults
//  2. User config (~/.config/assistkb/config.yaml)
//  3. Project config (.assistkb.yaml or .assistkb.yml in dir)
//  4. Environment variables (ASSISTKB_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	userCfg, err := LoadUserConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	}
	if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if dir != "" {
		if err := cfg.loadFromDir(dir); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFromDir(dir string) error {
	for _, name := range []string{ProjectFileName, ".assistkb.yml"} {
		path := filepath.Join(dir, name)
		if !fileExists(path) {
			continue
		}
		var parsed Config
		if err := readYAML(path, &parsed); err != nil {
			return err
		}
		c.mergeWith(&parsed)
		return nil
	}
	return nil
}

func readYAML(path string, into *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, into); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	setString(&c.Paths.HomeRoot, other.Paths.HomeRoot)
	setString(&c.Paths.DataDir, other.Paths.DataDir)

	setInt(&c.Chunking.Size, other.Chunking.Size)
	setInt(&c.Chunking.Overlap, other.Chunking.Overlap)

	setString(&c.Embeddings.Provider, other.Embeddings.Provider)
	setString(&c.Embeddings.Model, other.Embeddings.Model)
	setInt(&c.Embeddings.Dimensions, other.Embeddings.Dimensions)
	setString(&c.Embeddings.OllamaHost, other.Embeddings.OllamaHost)
	setInt(&c.Embeddings.BatchSize, other.Embeddings.BatchSize)
	setDuration(&c.Embeddings.Timeout, other.Embeddings.Timeout)
	setInt(&c.Embeddings.CacheSize, other.Embeddings.CacheSize)
	setFloat(&c.Embeddings.RequestsPerSecond, other.Embeddings.RequestsPerSecond)
	setInt(&c.Embeddings.MaxFailures, other.Embeddings.MaxFailures)

	// 0 is not a practical weight, so only non-zero values merge.
	// Env vars can still set an explicit zero.
	setFloat(&c.Search.VectorWeight, other.Search.VectorWeight)
	setFloat(&c.Search.KeywordWeight, other.Search.KeywordWeight)
	setInt(&c.Search.RRFConstant, other.Search.RRFConstant)
	setFloat(&c.Search.PartialCap, other.Search.PartialCap)
	setInt(&c.Search.TopK, other.Search.TopK)
	setInt(&c.Search.MaxResults, other.Search.MaxResults)
	setFloat(&c.Search.MinScore, other.Search.MinScore)
	setString(&c.Search.BM25Backend, other.Search.BM25Backend)

	setInt(&c.Ingest.Workers, other.Ingest.Workers)
	if other.Ingest.MaxFileSize != 0 {
		c.Ingest.MaxFileSize = other.Ingest.MaxFileSize
	}
	setDuration(&c.Ingest.ExtractTimeout, other.Ingest.ExtractTimeout)
	setDuration(&c.Ingest.FetchTimeout, other.Ingest.FetchTimeout)
	setFloat(&c.Ingest.FetchRate, other.Ingest.FetchRate)
	if len(other.Ingest.Exclude) > 0 {
		// Appended so the built-in excludes always apply.
		c.Ingest.Exclude = append(c.Ingest.Exclude, other.Ingest.Exclude...)
	}
	if len(other.Ingest.Sources) > 0 {
		c.Ingest.Sources = other.Ingest.Sources
	}

	setDuration(&c.Watcher.Debounce, other.Watcher.Debounce)
	setDuration(&c.Watcher.PollInterval, other.Watcher.PollInterval)
	setDuration(&c.Watcher.ResubscribeBackoff, other.Watcher.ResubscribeBackoff)
	setDuration(&c.Watcher.ResubscribeMaxBackoff, other.Watcher.ResubscribeMaxBackoff)
	if other.Watcher.ForcePolling {
		c.Watcher.ForcePolling = true
	}

	setString(&c.Store.FileName, other.Store.FileName)
	if other.Store.KDFMemoryKB != 0 {
		c.Store.KDFMemoryKB = other.Store.KDFMemoryKB
	}
	if other.Store.KDFTime != 0 {
		c.Store.KDFTime = other.Store.KDFTime
	}
	if other.Store.KDFThreads != 0 {
		c.Store.KDFThreads = other.Store.KDFThreads
	}
	setString(&c.Store.SecretsBackend, other.Store.SecretsBackend)
	setString(&c.Store.SecretsFile, other.Store.SecretsFile)

	setString(&c.Logging.Level, other.Logging.Level)
	setInt(&c.Logging.MaxSizeMB, other.Logging.MaxSizeMB)
	setInt(&c.Logging.MaxFiles, other.Logging.MaxFiles)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setFloat(dst *float64, v float64) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v != 0 {
		*dst = v
	}
}

// applyEnvOverrides applies ASSISTKB_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("ASSISTKB_HOME_ROOT"); v != "" {
		c.Paths.HomeRoot = v
	}
	if v := os.Getenv("ASSISTKB_DATA_DIR"); v != "" {
		c.Paths.DataDir = v
	}
	if v := os.Getenv("ASSISTKB_SECRETS_BACKEND"); v != "" {
		c.Store.SecretsBackend = v
	}

	// Explicit zero weights are allowed here.
	if v := os.Getenv("ASSISTKB_VECTOR_WEIGHT"); v != "" {
		if w, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && w >= 0 && w <= 1 {
			c.Search.VectorWeight = w
		}
	}
	if v := os.Getenv("ASSISTKB_KEYWORD_WEIGHT"); v != "" {
		if w, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && w >= 0 && w <= 1 {
			c.Search.KeywordWeight = w
		}
	}
	if v := os.Getenv("ASSISTKB_RRF_CONSTANT"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Search.RRFConstant = k
		}
	}
	if v := os.Getenv("ASSISTKB_BM25_BACKEND"); v != "" {
		c.Search.BM25Backend = v
	}

	if v := os.Getenv("ASSISTKB_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("ASSISTKB_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("ASSISTKB_OLLAMA_HOST"); v != "" {
		c.Embeddings.OllamaHost = v
	}
	if v := os.Getenv("ASSISTKB_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("ASSISTKB_WATCH_POLLING"); v != "" {
		c.Watcher.ForcePolling = strings.EqualFold(v, "true") || v == "1"
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.Paths.HomeRoot == "" {
		return fmt.Errorf("paths.home_root must be set")
	}
	if c.Paths.DataDir == "" {
		return fmt.Errorf("paths.data_dir must be set")
	}

	if c.Chunking.Size <= 0 {
		return fmt.Errorf("chunking.size must be positive, got %d", c.Chunking.Size)
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		return fmt.Errorf("chunking.overlap must be in [0, size), got %d", c.Chunking.Overlap)
	}

	if c.Search.VectorWeight < 0 || c.Search.VectorWeight > 1 {
		return fmt.Errorf("vector_weight must be between 0 and 1, got %f", c.Search.VectorWeight)
	}
	if c.Search.KeywordWeight < 0 || c.Search.KeywordWeight > 1 {
		return fmt.Errorf("keyword_weight must be between 0 and 1, got %f", c.Search.KeywordWeight)
	}
	if sum := c.Search.VectorWeight + c.Search.KeywordWeight; math.Abs(sum-1.0) > 0.01 {
		return fmt.Errorf("vector_weight + keyword_weight must equal 1.0, got %.2f", sum)
	}
	if c.Search.PartialCap <= 0 || c.Search.PartialCap > 1 {
		return fmt.Errorf("partial_cap must be in (0, 1], got %f", c.Search.PartialCap)
	}
	if c.Search.RRFConstant <= 0 {
		return fmt.Errorf("rrf_constant must be positive, got %d", c.Search.RRFConstant)
	}
	if c.Search.TopK <= 0 || c.Search.MaxResults < 0 {
		return fmt.Errorf("top_k must be positive and max_results non-negative")
	}
	switch strings.ToLower(c.Search.BM25Backend) {
	case "sqlite", "bleve":
	default:
		return fmt.Errorf("search.bm25_backend must be 'sqlite' or 'bleve', got %s", c.Search.BM25Backend)
	}

	switch strings.ToLower(c.Embeddings.Provider) {
	case "static", "ollama":
	default:
		return fmt.Errorf("embeddings.provider must be 'static' or 'ollama', got %s", c.Embeddings.Provider)
	}
	if c.Embeddings.Timeout <= 0 {
		return fmt.Errorf("embeddings.timeout must be positive")
	}

	if c.Ingest.Workers < 0 {
		return fmt.Errorf("ingest.workers must be non-negative, got %d", c.Ingest.Workers)
	}

	switch strings.ToLower(c.Store.SecretsBackend) {
	case "auto", "keyring", "file":
	default:
		return fmt.Errorf("store.secrets_backend must be 'auto', 'keyring' or 'file', got %s", c.Store.SecretsBackend)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level)
	}

	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
