package config

import (
	"fmt"
	"time"
)

// ConnectorsConfig holds scheduler-wide connector settings. Per-connector
// credentials live on search_source_connectors rows, encrypted.
type ConnectorsConfig struct {
	// BatchSize is the number of documents committed per transaction
	// during a connector run.
	BatchSize int `yaml:"batch_size"`
	// HeartbeatInterval is how often long scans report task-log heartbeats.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	// LookbackDays caps how far back a resumed window may reach.
	LookbackDays int `yaml:"lookback_days"`
	// PageTimeout bounds a single upstream page fetch.
	PageTimeout time.Duration `yaml:"page_timeout"`
}

func (c *ConnectorsConfig) SetDefaults() {
	if c.BatchSize == 0 {
		c.BatchSize = 10
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.LookbackDays == 0 {
		c.LookbackDays = 365
	}
	if c.PageTimeout == 0 {
		c.PageTimeout = 60 * time.Second
	}
}

func (c *ConnectorsConfig) Validate() error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive")
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat_interval must be positive")
	}
	if c.LookbackDays <= 0 {
		return fmt.Errorf("lookback_days must be positive")
	}
	return nil
}
