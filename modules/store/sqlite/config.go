package sqlite

import (
	"fmt"
	"time"
)

const (
	defaultBusyTimeout = 5 * time.Second
	defaultDBFile      = "sessions.db"
)

// Config holds the SQLite snapshot store configuration.
type Config struct {
	// Path is the database file path. Defaults to {DataDir}/sessions.db.
	Path string `yaml:"path"`

	// WAL enables WAL journal mode for concurrent reads. Defaults to true.
	WAL *bool `yaml:"wal"`

	// BusyTimeout is how long to wait on a busy lock. Defaults to 5s.
	BusyTimeout time.Duration `yaml:"busyTimeout"`

	// Retention drops hibernated snapshots older than this on each save.
	// Saving a session refreshes its age. Zero keeps snapshots forever.
	Retention time.Duration `yaml:"retention"`
}

func (c *Config) defaults() {
	if c.WAL == nil {
		t := true
		c.WAL = &t
	}
	if c.BusyTimeout == 0 {
		c.BusyTimeout = defaultBusyTimeout
	}
}

func (c *Config) walEnabled() bool {
	return c.WAL == nil || *c.WAL
}

func (c *Config) validate() error {
	if c.BusyTimeout < 0 {
		return fmt.Errorf("sqlite: busyTimeout must be non-negative, got %s", c.BusyTimeout)
	}
	if c.Retention < 0 {
		return fmt.Errorf("sqlite: retention must be non-negative, got %s", c.Retention)
	}
	return nil
}
