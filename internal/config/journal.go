package config

import (
	"fmt"
	"path/filepath"
	"time"
)

// JournalConfig holds configuration for the event journal and its retention cleanup
type JournalConfig struct {
	// Enabled controls whether monitor events are written to the journal
	// Default: true
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Path is the SQLite database file
	// Default: .vigil/journal.db
	Path string `yaml:"path" json:"path"`

	// RetentionDays is the retention period for regular events (in days)
	// Default: 30, Range: 1-365
	RetentionDays int `yaml:"retention_days" json:"retention_days"`

	// RetentionCriticalDays is the retention period for error/critical events (in days)
	// Must be >= RetentionDays
	// Default: 90, Range: 1-730
	RetentionCriticalDays int `yaml:"retention_critical_days" json:"retention_critical_days"`

	// GlobalLimitEvents is the maximum total number of events to keep
	// Default: 100000, Range: 1000-1000000
	GlobalLimitEvents int `yaml:"global_limit_events" json:"global_limit_events"`

	// CleanupInterval is how often retention cleanup runs
	// Default: 1 hour, Range: 1m-168h
	CleanupInterval time.Duration `yaml:"cleanup_interval" json:"cleanup_interval"`

	// CleanupBatchSize is the number of events to delete per transaction
	// Default: 1000, Range: 100-10000
	CleanupBatchSize int `yaml:"cleanup_batch_size" json:"cleanup_batch_size"`
}

// DefaultJournalConfig returns the default journal configuration
//
// A monitor emits a handful of events per cycle, so at the default 30s
// interval 100k events covers roughly a week of dense history.
func DefaultJournalConfig() JournalConfig {
	return JournalConfig{
		Enabled:               true,
		Path:                  filepath.Join(".vigil", "journal.db"),
		RetentionDays:         30,
		RetentionCriticalDays: 90,
		GlobalLimitEvents:     100000,
		CleanupInterval:       time.Hour,
		CleanupBatchSize:      1000,
	}
}

// Validate checks if the configuration has valid values
func (c JournalConfig) Validate() error {
	if c.Enabled && c.Path == "" {
		return fmt.Errorf("path is required when the journal is enabled")
	}

	if c.RetentionDays < 1 || c.RetentionDays > 365 {
		return fmt.Errorf("retention_days must be between 1 and 365 (got %d)", c.RetentionDays)
	}

	if c.RetentionCriticalDays < 1 || c.RetentionCriticalDays > 730 {
		return fmt.Errorf("retention_critical_days must be between 1 and 730 (got %d)",
			c.RetentionCriticalDays)
	}
	if c.RetentionCriticalDays < c.RetentionDays {
		return fmt.Errorf("retention_critical_days (%d) must be >= retention_days (%d)",
			c.RetentionCriticalDays, c.RetentionDays)
	}

	if c.GlobalLimitEvents < 1000 || c.GlobalLimitEvents > 1000000 {
		return fmt.Errorf("global_limit_events must be between 1000 and 1000000 (got %d)",
			c.GlobalLimitEvents)
	}

	if c.CleanupInterval < time.Minute || c.CleanupInterval > 168*time.Hour {
		return fmt.Errorf("cleanup_interval must be between 1m and 168h (got %v)", c.CleanupInterval)
	}

	if c.CleanupBatchSize < 100 || c.CleanupBatchSize > 10000 {
		return fmt.Errorf("cleanup_batch_size must be between 100 and 10000 (got %d)",
			c.CleanupBatchSize)
	}

	return nil
}

// Retention returns the age thresholds as durations
func (c JournalConfig) Retention() (regular, critical time.Duration) {
	return time.Duration(c.RetentionDays) * 24 * time.Hour,
		time.Duration(c.RetentionCriticalDays) * 24 * time.Hour
}
