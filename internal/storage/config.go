package storage

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the tunables needed to construct a BufferPool and its
// DeadlockDetector, loadable from a YAML file rather than flags or
// environment variables.
type Config struct {
	PageSize         int    `yaml:"page_size"`
	BufferPoolPages  int    `yaml:"buffer_pool_pages"`
	DetectorInterval string `yaml:"detector_interval"`
}

// DefaultConfig returns the values the demo uses and LoadConfig falls
// back to for anything a YAML file leaves unset.
func DefaultConfig() Config {
	return Config{
		PageSize:         4096,
		BufferPoolPages:  64,
		DetectorInterval: DefaultDetectorInterval,
	}
}

// LoadConfig reads and parses a YAML config file at path, filling in
// DefaultConfig's values for anything the file leaves zero.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("storage: reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("storage: parsing config %s: %w", path, err)
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultConfig().PageSize
	}
	if cfg.BufferPoolPages <= 0 {
		cfg.BufferPoolPages = DefaultConfig().BufferPoolPages
	}
	if cfg.DetectorInterval == "" {
		cfg.DetectorInterval = DefaultDetectorInterval
	}
	return cfg, nil
}

// NewBufferPoolFromConfig wires a Config into a running BufferPool and
// DeadlockDetector pair, starting the detector's sweep.
func NewBufferPoolFromConfig(cfg Config) (*BufferPool, *DeadlockDetector, error) {
	detector := NewDeadlockDetector(cfg.DetectorInterval)
	if err := detector.Start(); err != nil {
		return nil, nil, err
	}
	pool := NewBufferPool(cfg.BufferPoolPages, detector)
	return pool, detector, nil
}
