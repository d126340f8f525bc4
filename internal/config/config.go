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

// Config represents the complete oc-memory configuration.
// It mirrors the knobs named in the engine facade contract (fusion
// weights, half-life, HNSW/BM25 parameters, backpressure threshold).
type Config struct {
	Version     int               `yaml:"version" json:"version"`
	Paths       PathsConfig       `yaml:"paths" json:"paths"`
	Fusion      FusionConfig      `yaml:"fusion" json:"fusion"`
	Vector      VectorConfig      `yaml:"vector" json:"vector"`
	Lexical     LexicalConfig     `yaml:"lexical" json:"lexical"`
	Store       StoreConfig       `yaml:"store" json:"store"`
	Embeddings  EmbeddingsConfig  `yaml:"embeddings" json:"embeddings"`
	Performance PerformanceConfig `yaml:"performance" json:"performance"`
	Server      ServerConfig      `yaml:"server" json:"server"`
	Janitor     JanitorConfig     `yaml:"janitor" json:"janitor"`
}

// PathsConfig configures where the engine keeps its on-disk state.
type PathsConfig struct {
	// DataDir is the root directory for the record store, vector index
	// and lexical index files.
	DataDir string `yaml:"data_dir" json:"data_dir"`
	// WatchDir, if non-empty, is observed by the filesystem watcher for
	// memory files to ingest.
	WatchDir string `yaml:"watch_dir" json:"watch_dir"`
}

// FusionConfig configures the hybrid scoring formula.
//
//	score = SemanticWeight*semantic + KeywordWeight*keyword +
//	        RecencyWeight*recency + ImportanceWeight*importance
//
// The four weights must sum to 1.0.
type FusionConfig struct {
	SemanticWeight      float64 `yaml:"semantic_weight" json:"semantic_weight"`
	KeywordWeight       float64 `yaml:"keyword_weight" json:"keyword_weight"`
	RecencyWeight       float64 `yaml:"recency_weight" json:"recency_weight"`
	ImportanceWeight    float64 `yaml:"importance_weight" json:"importance_weight"`
	RecencyHalfLifeDays float64 `yaml:"recency_half_life_days" json:"recency_half_life_days"`
}

// VectorConfig configures the HNSW vector index.
type VectorConfig struct {
	M              int `yaml:"m" json:"m"`
	EfConstruction int `yaml:"ef_construction" json:"ef_construction"`
	EfSearch       int `yaml:"ef_search" json:"ef_search"`
}

// LexicalConfig configures the BM25 lexical index.
type LexicalConfig struct {
	K1            float64 `yaml:"k1" json:"k1"`
	B             float64 `yaml:"b" json:"b"`
	TitleWeight   float64 `yaml:"title_weight" json:"title_weight"`
	ContentWeight float64 `yaml:"content_weight" json:"content_weight"`
	TagsWeight    float64 `yaml:"tags_weight" json:"tags_weight"`
}

// StoreConfig selects the record store backend.
type StoreConfig struct {
	// Backend is "sqlite" (default) or "badger".
	Backend string `yaml:"backend" json:"backend"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	Provider   string `yaml:"provider" json:"provider"`
	Dimensions int    `yaml:"dimensions" json:"dimensions"`
	CacheSize  int    `yaml:"cache_size" json:"cache_size"`
	Timeout    string `yaml:"timeout" json:"timeout"`
}

// PerformanceConfig configures performance tuning and backpressure.
type PerformanceConfig struct {
	IndexWorkers           int `yaml:"index_workers" json:"index_workers"`
	BackpressureThreshold  int `yaml:"backpressure_threshold" json:"backpressure_threshold"`
	SQLiteCacheMB          int `yaml:"sqlite_cache_mb" json:"sqlite_cache_mb"`
}

// ServerConfig configures the transport layers.
type ServerConfig struct {
	Transport string `yaml:"transport" json:"transport"` // "stdio" or "rest"
	Host      string `yaml:"host" json:"host"`
	Port      int    `yaml:"port" json:"port"`
	LogLevel  string `yaml:"log_level" json:"log_level"`
}

// JanitorConfig configures the consistency reconciliation loop.
type JanitorConfig struct {
	Interval          string `yaml:"interval" json:"interval"`
	TombstoneSweep    string `yaml:"tombstone_sweep" json:"tombstone_sweep"`
	TombstoneRetainFor string `yaml:"tombstone_retain_for" json:"tombstone_retain_for"`
}

// NewConfig creates a new Config with sensible defaults matching the
// scoring constants named in the engine facade contract.
func NewConfig() *Config {
	home, err := os.UserHomeDir()
	dataDir := filepath.Join(os.TempDir(), "oc-memory")
	if err == nil {
		dataDir = filepath.Join(home, ".oc-memory", "data")
	}

	return &Config{
		Version: 1,
		Paths: PathsConfig{
			DataDir: dataDir,
		},
		Fusion: FusionConfig{
			SemanticWeight:      0.60,
			KeywordWeight:       0.15,
			RecencyWeight:       0.15,
			ImportanceWeight:    0.10,
			RecencyHalfLifeDays: 30,
		},
		Vector: VectorConfig{
			M:              16,
			EfConstruction: 200,
			EfSearch:       64,
		},
		Lexical: LexicalConfig{
			K1:            1.2,
			B:             0.75,
			TitleWeight:   2.0,
			ContentWeight: 1.0,
			TagsWeight:    1.5,
		},
		Store: StoreConfig{
			Backend: "sqlite",
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "static",
			Dimensions: 0, // 0 falls back to embed.StaticDimensions
			CacheSize:  4096,
			Timeout:    "5s",
		},
		Performance: PerformanceConfig{
			IndexWorkers:          runtime.NumCPU(),
			BackpressureThreshold: 1024,
			SQLiteCacheMB:         64,
		},
		Server: ServerConfig{
			Transport: "stdio",
			Host:      "127.0.0.1",
			Port:      8765,
			LogLevel:  "info",
		},
		Janitor: JanitorConfig{
			Interval:           "60s",
			TombstoneSweep:     "5m",
			TombstoneRetainFor: "5m",
		},
	}
}

// GetUserConfigPath returns the path to the user/global configuration
// file, following the XDG Base Directory specification.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "oc-memory", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "oc-memory", "config.yaml")
	}
	return filepath.Join(home, ".config", "oc-memory", "config.yaml")
}

// loadUserConfig loads the user/global configuration file if it exists.
func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()
	if !fileExists(configPath) {
		return nil, nil
	}

	cfg := NewConfig()
	if err := cfg.loadYAML(configPath); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}
	return cfg, nil
}

// Load loads configuration from the specified directory, applying
// layers in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/oc-memory/config.yaml)
//  3. Project config (.oc-memory.yaml in dir)
//  4. Environment variables (OCMEMORY_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFromFile(dir string) error {
	yamlPath := filepath.Join(dir, ".oc-memory.yaml")
	if fileExists(yamlPath) {
		return c.loadYAML(yamlPath)
	}
	ymlPath := filepath.Join(dir, ".oc-memory.yml")
	if fileExists(ymlPath) {
		return c.loadYAML(ymlPath)
	}
	return nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}
	if other.Paths.DataDir != "" {
		c.Paths.DataDir = other.Paths.DataDir
	}
	if other.Paths.WatchDir != "" {
		c.Paths.WatchDir = other.Paths.WatchDir
	}

	if other.Fusion.SemanticWeight != 0 {
		c.Fusion.SemanticWeight = other.Fusion.SemanticWeight
	}
	if other.Fusion.KeywordWeight != 0 {
		c.Fusion.KeywordWeight = other.Fusion.KeywordWeight
	}
	if other.Fusion.RecencyWeight != 0 {
		c.Fusion.RecencyWeight = other.Fusion.RecencyWeight
	}
	if other.Fusion.ImportanceWeight != 0 {
		c.Fusion.ImportanceWeight = other.Fusion.ImportanceWeight
	}
	if other.Fusion.RecencyHalfLifeDays != 0 {
		c.Fusion.RecencyHalfLifeDays = other.Fusion.RecencyHalfLifeDays
	}

	if other.Vector.M != 0 {
		c.Vector.M = other.Vector.M
	}
	if other.Vector.EfConstruction != 0 {
		c.Vector.EfConstruction = other.Vector.EfConstruction
	}
	if other.Vector.EfSearch != 0 {
		c.Vector.EfSearch = other.Vector.EfSearch
	}

	if other.Lexical.K1 != 0 {
		c.Lexical.K1 = other.Lexical.K1
	}
	if other.Lexical.B != 0 {
		c.Lexical.B = other.Lexical.B
	}
	if other.Lexical.TitleWeight != 0 {
		c.Lexical.TitleWeight = other.Lexical.TitleWeight
	}
	if other.Lexical.ContentWeight != 0 {
		c.Lexical.ContentWeight = other.Lexical.ContentWeight
	}
	if other.Lexical.TagsWeight != 0 {
		c.Lexical.TagsWeight = other.Lexical.TagsWeight
	}

	if other.Store.Backend != "" {
		c.Store.Backend = other.Store.Backend
	}

	if other.Embeddings.Provider != "" {
		c.Embeddings.Provider = other.Embeddings.Provider
	}
	if other.Embeddings.Dimensions != 0 {
		c.Embeddings.Dimensions = other.Embeddings.Dimensions
	}
	if other.Embeddings.CacheSize != 0 {
		c.Embeddings.CacheSize = other.Embeddings.CacheSize
	}
	if other.Embeddings.Timeout != "" {
		c.Embeddings.Timeout = other.Embeddings.Timeout
	}

	if other.Performance.IndexWorkers != 0 {
		c.Performance.IndexWorkers = other.Performance.IndexWorkers
	}
	if other.Performance.BackpressureThreshold != 0 {
		c.Performance.BackpressureThreshold = other.Performance.BackpressureThreshold
	}
	if other.Performance.SQLiteCacheMB != 0 {
		c.Performance.SQLiteCacheMB = other.Performance.SQLiteCacheMB
	}

	if other.Server.Transport != "" {
		c.Server.Transport = other.Server.Transport
	}
	if other.Server.Host != "" {
		c.Server.Host = other.Server.Host
	}
	if other.Server.Port != 0 {
		c.Server.Port = other.Server.Port
	}
	if other.Server.LogLevel != "" {
		c.Server.LogLevel = other.Server.LogLevel
	}

	if other.Janitor.Interval != "" {
		c.Janitor.Interval = other.Janitor.Interval
	}
	if other.Janitor.TombstoneSweep != "" {
		c.Janitor.TombstoneSweep = other.Janitor.TombstoneSweep
	}
	if other.Janitor.TombstoneRetainFor != "" {
		c.Janitor.TombstoneRetainFor = other.Janitor.TombstoneRetainFor
	}
}

// applyEnvOverrides applies OCMEMORY_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("OCMEMORY_DATA_DIR"); v != "" {
		c.Paths.DataDir = v
	}
	if v := os.Getenv("OCMEMORY_SEMANTIC_WEIGHT"); v != "" {
		if w, err := parseFloat64(v); err == nil {
			c.Fusion.SemanticWeight = w
		}
	}
	if v := os.Getenv("OCMEMORY_KEYWORD_WEIGHT"); v != "" {
		if w, err := parseFloat64(v); err == nil {
			c.Fusion.KeywordWeight = w
		}
	}
	if v := os.Getenv("OCMEMORY_RECENCY_WEIGHT"); v != "" {
		if w, err := parseFloat64(v); err == nil {
			c.Fusion.RecencyWeight = w
		}
	}
	if v := os.Getenv("OCMEMORY_IMPORTANCE_WEIGHT"); v != "" {
		if w, err := parseFloat64(v); err == nil {
			c.Fusion.ImportanceWeight = w
		}
	}
	if v := os.Getenv("OCMEMORY_STORE_BACKEND"); v != "" {
		c.Store.Backend = v
	}
	if v := os.Getenv("OCMEMORY_EMBEDDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("OCMEMORY_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
	if v := os.Getenv("OCMEMORY_TRANSPORT"); v != "" {
		c.Server.Transport = v
	}
	if v := os.Getenv("OCMEMORY_BACKPRESSURE_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Performance.BackpressureThreshold = n
		}
	}
}

func parseFloat64(s string) (float64, error) {
	var f float64
	_, err := fmt.Sscanf(strings.TrimSpace(s), "%f", &f)
	return f, err
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	sum := c.Fusion.SemanticWeight + c.Fusion.KeywordWeight + c.Fusion.RecencyWeight + c.Fusion.ImportanceWeight
	if math.Abs(sum-1.0) > 0.01 {
		return fmt.Errorf("fusion weights must sum to 1.0, got %.2f", sum)
	}

	for name, w := range map[string]float64{
		"semantic_weight":   c.Fusion.SemanticWeight,
		"keyword_weight":    c.Fusion.KeywordWeight,
		"recency_weight":    c.Fusion.RecencyWeight,
		"importance_weight": c.Fusion.ImportanceWeight,
	} {
		if w < 0 || w > 1 {
			return fmt.Errorf("fusion.%s must be between 0 and 1, got %f", name, w)
		}
	}

	if c.Fusion.RecencyHalfLifeDays <= 0 {
		return fmt.Errorf("fusion.recency_half_life_days must be positive, got %f", c.Fusion.RecencyHalfLifeDays)
	}

	validBackends := map[string]bool{"sqlite": true, "badger": true}
	if !validBackends[strings.ToLower(c.Store.Backend)] {
		return fmt.Errorf("store.backend must be 'sqlite' or 'badger', got %s", c.Store.Backend)
	}

	validTransports := map[string]bool{"stdio": true, "rest": true}
	if !validTransports[strings.ToLower(c.Server.Transport)] {
		return fmt.Errorf("server.transport must be 'stdio' or 'rest', got %s", c.Server.Transport)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return fmt.Errorf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel)
	}

	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// LoadUserConfig loads the user configuration file.
func LoadUserConfig() (*Config, error) {
	return loadUserConfig()
}

// JanitorDurations parses the janitor interval strings into durations,
// falling back to the package defaults on parse failure.
func (c *Config) JanitorDurations() (tick, sweep, retain time.Duration) {
	tick, err := time.ParseDuration(c.Janitor.Interval)
	if err != nil {
		tick = 60 * time.Second
	}
	sweep, err = time.ParseDuration(c.Janitor.TombstoneSweep)
	if err != nil {
		sweep = 5 * time.Minute
	}
	retain, err = time.ParseDuration(c.Janitor.TombstoneRetainFor)
	if err != nil {
		retain = 5 * time.Minute
	}
	return tick, sweep, retain
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
