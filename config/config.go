// Package config loads the settings that govern a single SEFS instance:
// the monitored root, the clustering/chunking parameters, and provider
// credentials. Settings come from an optional TOML file with environment
// variables overriding secrets, following the teacher's `.sift.toml`
// loading convention.
package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Config holds every tunable named in the specification's Config section.
// ChunkSize and ChunkOverlap are validated but not passed on: the chunk
// index always windows text with chunker.DefaultOptions (400 words,
// 50 overlap).
type Config struct {
	MonitorRoot       string  `toml:"monitor_root"`
	ModelDir          string  `toml:"model_dir"`
	OrtLib            string  `toml:"ort_lib"`
	ClusterEps        float64 `toml:"cluster_eps"`
	ClusterMinSamples int     `toml:"cluster_min_samples"`
	ChunkSize         int     `toml:"chunk_size"`
	ChunkOverlap      int     `toml:"chunk_overlap"`
	TopKChunks        int     `toml:"top_k_chunks"`
	MetadataDirName   string  `toml:"metadata_dir_name"`
	ListenAddr        string  `toml:"listen_addr"`
	AnthropicModel    string  `toml:"anthropic_model"`

	// AnthropicAPIKey is never read from the TOML file; it is populated
	// exclusively from the ANTHROPIC_API_KEY environment variable so a
	// secret never lands in a checked-in config file.
	AnthropicAPIKey string `toml:"-"`
}

// Defaults returns the constants named in the specification's Config
// section (§6), matching original_source/backend/config.py.
func Defaults() Config {
	return Config{
		ModelDir:          "models",
		ClusterEps:        0.6,
		ClusterMinSamples: 1,
		ChunkSize:         400,
		ChunkOverlap:      50,
		TopKChunks:        5,
		MetadataDirName:   ".sefs_metadata",
		ListenAddr:        ":8420",
		AnthropicModel:    "claude-3-5-haiku-latest",
	}
}

// Load reads path (if it exists; a missing file is not an error) as TOML
// into Defaults(), then applies the ANTHROPIC_API_KEY environment override.
// Mirrors the teacher's "best-effort read, ignore if absent" idiom for
// .sift.toml in cmd/sift/main.go.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if b, err := os.ReadFile(path); err == nil {
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config %q: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("reading config %q: %w", path, err)
	}

	cfg.AnthropicAPIKey = os.Getenv("ANTHROPIC_API_KEY")

	return cfg, cfg.Validate()
}

// Validate rejects a config with a missing monitor root or nonsensical
// clustering/chunking parameters.
func (c Config) Validate() error {
	if c.MonitorRoot == "" {
		return fmt.Errorf("monitor_root is required")
	}
	if c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("chunk_overlap (%d) must be less than chunk_size (%d)", c.ChunkOverlap, c.ChunkSize)
	}
	if c.ClusterMinSamples < 1 {
		return fmt.Errorf("cluster_min_samples must be >= 1")
	}
	return nil
}
