package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// EnvPrefix is prepended to every environment override
const EnvPrefix = "VIGIL_"

// ApplyEnv overrides cfg from environment variables
//
// Environment variables:
//   - VIGIL_MINIMUM_THRESHOLD, VIGIL_WARNING_THRESHOLD, VIGIL_CRITICAL_THRESHOLD
//   - VIGIL_ROUTINE_INTERVAL, VIGIL_DETAILED_INTERVAL, VIGIL_MAX_RECOVERY_DURATION (Go durations)
//   - VIGIL_HISTORY_CAPACITY
//   - VIGIL_COLLECT_TIMEOUT, VIGIL_MISSING_READING_DEFAULT
//   - VIGIL_RECOVERY_CONCURRENT, VIGIL_RECOVERY_MAX_RETRIES
//   - VIGIL_JOURNAL_ENABLED, VIGIL_JOURNAL_PATH
//   - VIGIL_SOCKET_PATH
//   - VIGIL_API_ENABLED, VIGIL_API_ADDR, VIGIL_API_TOKEN
//   - VIGIL_TRACING
//
// Returns an error if any variable has an unparseable value. The result is
// not validated; callers validate once all sources are applied.
func ApplyEnv(cfg *Configuration) error {
	floats := []struct {
		key  string
		dest *float64
	}{
		{"MINIMUM_THRESHOLD", &cfg.MinimumThreshold},
		{"WARNING_THRESHOLD", &cfg.WarningThreshold},
		{"CRITICAL_THRESHOLD", &cfg.CriticalThreshold},
		{"MISSING_READING_DEFAULT", &cfg.Collector.MissingReadingDefault},
	}
	for _, f := range floats {
		if err := parseEnvFloat(EnvPrefix+f.key, f.dest); err != nil {
			return err
		}
	}

	durations := []struct {
		key  string
		dest *time.Duration
	}{
		{"ROUTINE_INTERVAL", &cfg.RoutineInterval},
		{"DETAILED_INTERVAL", &cfg.DetailedInterval},
		{"MAX_RECOVERY_DURATION", &cfg.MaxRecoveryDuration},
		{"COLLECT_TIMEOUT", &cfg.Collector.Timeout},
	}
	for _, d := range durations {
		if err := parseEnvDuration(EnvPrefix+d.key, d.dest); err != nil {
			return err
		}
	}

	if err := parseEnvInt(EnvPrefix+"HISTORY_CAPACITY", &cfg.HistoryCapacity); err != nil {
		return err
	}
	if err := parseEnvInt(EnvPrefix+"RECOVERY_MAX_RETRIES", &cfg.Recovery.MaxRetries); err != nil {
		return err
	}
	if err := parseEnvBool(EnvPrefix+"RECOVERY_CONCURRENT", &cfg.Recovery.Concurrent); err != nil {
		return err
	}
	if err := parseEnvBool(EnvPrefix+"JOURNAL_ENABLED", &cfg.Journal.Enabled); err != nil {
		return err
	}
	if err := parseEnvBool(EnvPrefix+"API_ENABLED", &cfg.API.Enabled); err != nil {
		return err
	}
	if err := parseEnvBool(EnvPrefix+"TRACING", &cfg.Telemetry.Tracing); err != nil {
		return err
	}

	parseEnvString(EnvPrefix+"JOURNAL_PATH", &cfg.Journal.Path)
	parseEnvString(EnvPrefix+"SOCKET_PATH", &cfg.Control.SocketPath)
	parseEnvString(EnvPrefix+"API_ADDR", &cfg.API.Addr)
	parseEnvString(EnvPrefix+"API_TOKEN", &cfg.API.Token)

	return nil
}

// parseEnvInt parses an int from an environment variable
func parseEnvInt(key string, dest *int) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

// parseEnvFloat parses a float from an environment variable
func parseEnvFloat(key string, dest *float64) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

// parseEnvDuration parses a Go duration from an environment variable
func parseEnvDuration(key string, dest *time.Duration) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

// parseEnvBool parses a bool from an environment variable
func parseEnvBool(key string, dest *bool) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

func parseEnvString(key string, dest *string) {
	if value := os.Getenv(key); value != "" {
		*dest = value
	}
}
