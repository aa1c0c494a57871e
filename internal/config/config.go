package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	// DefaultPollInterval is how often the sync engine polls the snapshot
	// when the config does not say otherwise.
	DefaultPollInterval = 5 * time.Second

	// DefaultBatchSize caps the number of source rows read per poll.
	DefaultBatchSize = 100
)

// Config represents the global ~/.imsgd/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session"`

	// SnapshotPath points at the read-only chat.db snapshot maintained by
	// the external copier. Empty means the session-local default.
	SnapshotPath string `toml:"snapshot_path"`

	// ContactsPath points at the contacts directory file used for handle
	// resolution. Empty means no directory (every unknown participant gets
	// a synthesized identity).
	ContactsPath string `toml:"contacts_path"`

	PollInterval Duration `toml:"poll_interval"`
	BatchSize    int      `toml:"batch_size"`
}

// Duration is a time.Duration that TOML-decodes from strings like "5s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", text, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler for TOML encoding.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Load reads config from the given path and applies defaults.
// Returns an error if the file is missing or malformed.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills zero-valued tunables with their defaults.
func (c *Config) ApplyDefaults() {
	if c.PollInterval.Duration <= 0 {
		c.PollInterval.Duration = DefaultPollInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
