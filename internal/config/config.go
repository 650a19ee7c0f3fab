package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds the application configuration.
type Config struct {
	Detector DetectorConfig `json:"detector"`
	Fetch    FetchConfig    `json:"fetch"`
	Cache    CacheConfig    `json:"cache"`
	Output   OutputConfig   `json:"output"`

	// TaxonomyPath points at the category -> labels YAML declaration. An
	// absent file yields an empty taxonomy.
	TaxonomyPath string `json:"taxonomy_path"`
}

// DetectorConfig selects and configures the detection backend.
type DetectorConfig struct {
	Backend         string `json:"backend"` // gvision | ollama
	CredentialsFile string `json:"credentials_file"`
	OllamaURL       string `json:"ollama_url"`
	OllamaModel     string `json:"ollama_model"`
}

// FetchConfig bounds image acquisition.
type FetchConfig struct {
	MaxBytes       int64 `json:"max_bytes"`
	TimeoutSeconds int   `json:"timeout_seconds"`
}

// CacheConfig controls result memoization.
type CacheConfig struct {
	Enabled      bool   `json:"enabled"`
	Path         string `json:"path"`
	SingleFlight bool   `json:"single_flight"`
}

// OutputConfig controls where rendered artifacts go and how they are exposed.
type OutputConfig struct {
	Dir     string `json:"dir"`
	BaseURL string `json:"base_url"`
}

// Default returns a configuration with default values.
func Default() *Config {
	return &Config{
		Detector: DetectorConfig{
			Backend:     "gvision",
			OllamaURL:   "http://localhost:11434",
			OllamaModel: "llama3.2-vision",
		},
		Fetch: FetchConfig{
			MaxBytes:       10 << 20,
			TimeoutSeconds: 30,
		},
		Cache: CacheConfig{
			Enabled:      true,
			Path:         "./lens-cache.db",
			SingleFlight: true,
		},
		Output: OutputConfig{
			Dir: "./output",
		},
		TaxonomyPath: "./taxonomy.yaml",
	}
}

// Load builds the configuration from defaults, an optional JSON file, and
// environment overrides (a .env file is honored when present).
func Load(filename string) (*Config, error) {
	cfg := Default()

	if filename != "" {
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// .env is optional; ignore the error when it does not exist.
	_ = godotenv.Load()
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("LENS_BACKEND"); v != "" {
		c.Detector.Backend = v
	}
	if v := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); v != "" && c.Detector.CredentialsFile == "" {
		c.Detector.CredentialsFile = v
	}
	if v := os.Getenv("LENS_OLLAMA_URL"); v != "" {
		c.Detector.OllamaURL = v
	}
	if v := os.Getenv("LENS_OLLAMA_MODEL"); v != "" {
		c.Detector.OllamaModel = v
	}
	if v := os.Getenv("LENS_TAXONOMY"); v != "" {
		c.TaxonomyPath = v
	}
	if v := os.Getenv("LENS_OUTPUT_DIR"); v != "" {
		c.Output.Dir = v
	}
	if v := os.Getenv("LENS_BASE_URL"); v != "" {
		c.Output.BaseURL = v
	}
	if v := os.Getenv("LENS_CACHE_PATH"); v != "" {
		c.Cache.Path = v
	}
	if v := os.Getenv("LENS_CACHE_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Cache.Enabled = b
		}
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	switch c.Detector.Backend {
	case "gvision", "ollama":
	default:
		return fmt.Errorf("detector.backend must be gvision or ollama")
	}

	if c.Fetch.MaxBytes < 1 {
		return fmt.Errorf("fetch.max_bytes must be positive")
	}
	if c.Fetch.TimeoutSeconds < 1 {
		return fmt.Errorf("fetch.timeout_seconds must be positive")
	}
	if c.Output.Dir == "" {
		return fmt.Errorf("output.dir cannot be empty")
	}
	if c.Cache.Enabled && c.Cache.Path == "" {
		return fmt.Errorf("cache.path cannot be empty when caching is enabled")
	}
	return nil
}

// SaveToFile saves configuration to a JSON file.
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
