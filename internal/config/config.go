// Package config defines the monitor configuration: thresholds, cycle
// intervals, the dimension table and the settings of every supporting
// component. A Configuration is immutable once handed to the monitor;
// runtime changes replace it whole after validation.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/steveyegge/vigil/internal/types"
)

// ErrInvalidConfig is wrapped by every validation failure
var ErrInvalidConfig = errors.New("invalid configuration")

// weightTolerance is how far the dimension weights may drift from 1.0
const weightTolerance = 0.01

var validate = validator.New()

// Configuration holds the complete monitor configuration
type Configuration struct {
	// MinimumThreshold is the score below which a dimension raises a challenge
	// Default: 0.75
	MinimumThreshold float64 `yaml:"minimum_threshold" json:"minimum_threshold" validate:"gte=0,lte=1"`

	// WarningThreshold is the lower bound of the "good" band
	// Default: 0.85
	WarningThreshold float64 `yaml:"warning_threshold" json:"warning_threshold" validate:"gte=0,lte=1"`

	// CriticalThreshold is the score below which a challenge is critical
	// Default: 0.60
	CriticalThreshold float64 `yaml:"critical_threshold" json:"critical_threshold" validate:"gte=0,lte=1"`

	// RoutineInterval is the time between monitoring cycles
	// Default: 30 seconds
	RoutineInterval time.Duration `yaml:"routine_interval" json:"routine_interval" validate:"gte=100ms,lte=1h"`

	// DetailedInterval is how often a cycle also records trend analysis
	// Default: 5 minutes
	DetailedInterval time.Duration `yaml:"detailed_interval" json:"detailed_interval" validate:"gte=100ms,lte=24h"`

	// MaxRecoveryDuration bounds a single recovery action
	// Default: 2 minutes
	MaxRecoveryDuration time.Duration `yaml:"max_recovery_duration" json:"max_recovery_duration" validate:"gte=10ms,lte=1h"`

	// HistoryCapacity is the number of composite states kept in memory
	// Default: 1000
	HistoryCapacity int `yaml:"history_capacity" json:"history_capacity" validate:"gte=1,lte=100000"`

	// Dimensions is the table of monitored dimensions
	Dimensions []Dimension `yaml:"dimensions" json:"dimensions" validate:"required,min=1,dive"`

	Collector CollectorConfig `yaml:"collector" json:"collector"`
	Recovery  RecoveryConfig  `yaml:"recovery" json:"recovery"`
	Journal   JournalConfig   `yaml:"journal" json:"journal"`
	Control   ControlConfig   `yaml:"control" json:"control"`
	API       APIConfig       `yaml:"api" json:"api"`
	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry"`
}

// Dimension is one row of the dimension table
type Dimension struct {
	// Name identifies the dimension in scores, challenges and metrics
	Name string `yaml:"name" json:"name" validate:"required"`

	// Weight is the dimension's share of the composite score
	Weight float64 `yaml:"weight" json:"weight" validate:"gte=0,lte=1"`

	// Source names the collector source that reports this dimension
	Source string `yaml:"source" json:"source" validate:"required"`

	// Key is the field read from the source snapshot. Defaults to Name.
	Key string `yaml:"key,omitempty" json:"key,omitempty"`

	// StabilityWeight blends the direct reading with history stability.
	// 0 disables blending, 0.4 gives a 60/40 split.
	StabilityWeight float64 `yaml:"stability_weight,omitempty" json:"stability_weight,omitempty" validate:"gte=0,lt=1"`

	// StabilityWindow is how many recent scores feed the stability term
	// Default: 5
	StabilityWindow int `yaml:"stability_window,omitempty" json:"stability_window,omitempty" validate:"omitempty,gte=2,lte=100"`

	// Actions are the recovery action types proposed when this dimension degrades.
	// Empty means the default action for the challenge kind.
	Actions []string `yaml:"actions,omitempty" json:"actions,omitempty"`
}

// ReadingKey returns the snapshot field holding this dimension's reading
func (d Dimension) ReadingKey() string {
	if d.Key != "" {
		return d.Key
	}
	return d.Name
}

// Window returns the stability window, applying the default
func (d Dimension) Window() int {
	if d.StabilityWindow <= 0 {
		return 5
	}
	return d.StabilityWindow
}

// CollectorConfig controls snapshot collection
type CollectorConfig struct {
	// Timeout bounds each source call
	// Default: 5 seconds
	Timeout time.Duration `yaml:"timeout" json:"timeout" validate:"gte=1ms,lte=5m"`

	// MissingReadingDefault is substituted for failed or missing readings.
	// 1.0 treats an unreachable subsystem as healthy.
	// Default: 1.0
	MissingReadingDefault float64 `yaml:"missing_reading_default" json:"missing_reading_default" validate:"gte=0,lte=1"`

	// MaxConcurrency limits how many sources are queried at once
	// Default: 8
	MaxConcurrency int `yaml:"max_concurrency" json:"max_concurrency" validate:"gte=1,lte=256"`
}

// RecoveryConfig controls recovery dispatch
type RecoveryConfig struct {
	// Concurrent runs the actions of one cycle in parallel
	// Default: false (sequential, in priority order)
	Concurrent bool `yaml:"concurrent" json:"concurrent"`

	// MaxRetries is how many times a failed action is retried
	// Default: 0
	MaxRetries int `yaml:"max_retries" json:"max_retries" validate:"gte=0,lte=10"`

	// RetryBackoff is the delay before the first retry, doubled each attempt
	// Default: 1 second
	RetryBackoff time.Duration `yaml:"retry_backoff" json:"retry_backoff" validate:"gte=0,lte=5m"`

	// RateLimit caps action starts per second. 0 disables limiting.
	// Default: 5
	RateLimit float64 `yaml:"rate_limit" json:"rate_limit" validate:"gte=0"`

	// RateBurst is the token bucket size
	// Default: 10
	RateBurst int `yaml:"rate_burst" json:"rate_burst" validate:"gte=1"`

	// BreakerThreshold is the consecutive failures that open an action's circuit
	// Default: 5
	BreakerThreshold int `yaml:"breaker_threshold" json:"breaker_threshold" validate:"gte=1,lte=1000"`

	// BreakerOpenTimeout is how long an open circuit escalates before probing again
	// Default: 5 minutes
	BreakerOpenTimeout time.Duration `yaml:"breaker_open_timeout" json:"breaker_open_timeout" validate:"gte=1ms"`

	// DefaultDuration is the estimated duration of an action with no entry in ActionDurations
	// Default: 30 seconds
	DefaultDuration time.Duration `yaml:"default_duration" json:"default_duration" validate:"gte=0"`

	// ActionDurations maps action types to their estimated duration
	ActionDurations map[string]time.Duration `yaml:"action_durations,omitempty" json:"action_durations,omitempty"`

	// Webhooks maps action types to URLs that receive the action as a JSON POST
	Webhooks map[string]string `yaml:"webhooks,omitempty" json:"webhooks,omitempty" validate:"dive,keys,required,endkeys,url"`

	// ProcessHistory is the number of finished recovery processes kept in memory
	// Default: 500
	ProcessHistory int `yaml:"process_history" json:"process_history" validate:"gte=1,lte=100000"`
}

// ControlConfig controls the local control socket
type ControlConfig struct {
	// Enabled controls whether the socket server starts with the monitor
	// Default: true
	Enabled bool `yaml:"enabled" json:"enabled"`

	// SocketPath is the unix socket location
	// Default: .vigil/vigil.sock
	SocketPath string `yaml:"socket_path" json:"socket_path" validate:"required_if=Enabled true"`
}

// APIConfig controls the HTTP API
type APIConfig struct {
	// Enabled controls whether the HTTP server starts with the monitor
	// Default: false
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Addr is the listen address
	// Default: 127.0.0.1:8787
	Addr string `yaml:"addr" json:"addr" validate:"required_if=Enabled true"`

	// Token authorizes configuration changes. Empty disables the check.
	Token string `yaml:"token,omitempty" json:"-"`
}

// TelemetryConfig controls metrics and tracing
type TelemetryConfig struct {
	// Tracing exports cycle spans to stdout
	// Default: false
	Tracing bool `yaml:"tracing" json:"tracing"`

	// ServiceName is reported on spans
	// Default: vigil
	ServiceName string `yaml:"service_name" json:"service_name"`
}

// Default returns the configuration used when nothing else is supplied.
// Dimensions read host headroom through the "host" source.
func Default() *Configuration {
	return &Configuration{
		MinimumThreshold:    0.75,
		WarningThreshold:    0.85,
		CriticalThreshold:   0.60,
		RoutineInterval:     30 * time.Second,
		DetailedInterval:    5 * time.Minute,
		MaxRecoveryDuration: 2 * time.Minute,
		HistoryCapacity:     1000,
		Dimensions: []Dimension{
			{Name: "cpu", Weight: 0.25, Source: "host", StabilityWeight: 0.4, StabilityWindow: 5},
			{Name: "memory", Weight: 0.25, Source: "host"},
			{Name: "disk", Weight: 0.20, Source: "host"},
			{Name: "load", Weight: 0.15, Source: "host", StabilityWeight: 0.3, StabilityWindow: 3},
			{Name: "swap", Weight: 0.15, Source: "host"},
		},
		Collector: CollectorConfig{
			Timeout:               5 * time.Second,
			MissingReadingDefault: 1.0,
			MaxConcurrency:        8,
		},
		Recovery: RecoveryConfig{
			Concurrent:         false,
			MaxRetries:         0,
			RetryBackoff:       time.Second,
			RateLimit:          5,
			RateBurst:          10,
			BreakerThreshold:   5,
			BreakerOpenTimeout: 5 * time.Minute,
			DefaultDuration:    30 * time.Second,
			ProcessHistory:     500,
		},
		Journal: DefaultJournalConfig(),
		Control: ControlConfig{
			Enabled:    true,
			SocketPath: filepath.Join(".vigil", "vigil.sock"),
		},
		API: APIConfig{
			Enabled: false,
			Addr:    "127.0.0.1:8787",
		},
		Telemetry: TelemetryConfig{
			Tracing:     false,
			ServiceName: "vigil",
		},
	}
}

// Validate checks the struct tags and the cross-field invariants:
// 0 <= critical < minimum < warning <= 1, unique dimension names and
// weights summing to 1.0.
func (c *Configuration) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if !(c.CriticalThreshold < c.MinimumThreshold && c.MinimumThreshold < c.WarningThreshold) {
		return fmt.Errorf("%w: thresholds must satisfy critical < minimum < warning (got %.2f, %.2f, %.2f)",
			ErrInvalidConfig, c.CriticalThreshold, c.MinimumThreshold, c.WarningThreshold)
	}

	if c.DetailedInterval < c.RoutineInterval {
		return fmt.Errorf("%w: detailed_interval (%v) must be >= routine_interval (%v)",
			ErrInvalidConfig, c.DetailedInterval, c.RoutineInterval)
	}

	seen := make(map[string]bool, len(c.Dimensions))
	sum := 0.0
	for _, d := range c.Dimensions {
		if seen[d.Name] {
			return fmt.Errorf("%w: duplicate dimension %q", ErrInvalidConfig, d.Name)
		}
		seen[d.Name] = true
		sum += d.Weight
	}
	if math.Abs(sum-1.0) > weightTolerance {
		return fmt.Errorf("%w: dimension weights must sum to 1.0, got %.3f", ErrInvalidConfig, sum)
	}

	if err := c.Journal.Validate(); err != nil {
		return fmt.Errorf("%w: journal: %v", ErrInvalidConfig, err)
	}

	return nil
}

// Weights returns the dimension weight table
func (c *Configuration) Weights() map[string]float64 {
	weights := make(map[string]float64, len(c.Dimensions))
	for _, d := range c.Dimensions {
		weights[d.Name] = d.Weight
	}
	return weights
}

// Dimension returns the table row for name
func (c *Configuration) Dimension(name string) (Dimension, bool) {
	for _, d := range c.Dimensions {
		if d.Name == name {
			return d, true
		}
	}
	return Dimension{}, false
}

// ActionDuration returns the estimated duration of an action type
func (c *Configuration) ActionDuration(actionType string) time.Duration {
	if d, ok := c.Recovery.ActionDurations[actionType]; ok {
		return d
	}
	return c.Recovery.DefaultDuration
}

// Thresholds returns the band boundaries in the order scoring.Classify takes them
func (c *Configuration) Thresholds() (warning, minimum, critical float64) {
	return c.WarningThreshold, c.MinimumThreshold, c.CriticalThreshold
}

// SeverityFor returns the challenge severity of a dimension score, or
// false when the score does not warrant a challenge
func (c *Configuration) SeverityFor(score float64) (types.Severity, bool) {
	switch {
	case score < c.CriticalThreshold:
		return types.SeverityCritical, true
	case score < c.MinimumThreshold:
		return types.SeveritySignificant, true
	default:
		return "", false
	}
}

// Clone creates a deep copy of the configuration
func (c *Configuration) Clone() *Configuration {
	out := *c

	out.Dimensions = make([]Dimension, len(c.Dimensions))
	for i, d := range c.Dimensions {
		out.Dimensions[i] = d
		if d.Actions != nil {
			out.Dimensions[i].Actions = append([]string(nil), d.Actions...)
		}
	}

	if c.Recovery.ActionDurations != nil {
		out.Recovery.ActionDurations = make(map[string]time.Duration, len(c.Recovery.ActionDurations))
		for k, v := range c.Recovery.ActionDurations {
			out.Recovery.ActionDurations[k] = v
		}
	}
	if c.Recovery.Webhooks != nil {
		out.Recovery.Webhooks = make(map[string]string, len(c.Recovery.Webhooks))
		for k, v := range c.Recovery.Webhooks {
			out.Recovery.Webhooks[k] = v
		}
	}

	return &out
}

// Parse decodes a YAML (or JSON) document on top of the defaults.
// Fields absent from the document keep their default values.
func Parse(data []byte) (*Configuration, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// Marshal encodes the configuration as YAML
func (c *Configuration) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// LoadFromFile loads configuration from a YAML file.
// Returns the defaults if the file doesn't exist.
// Returns an error if the file exists but is unreadable or invalid.
func LoadFromFile(path string) (*Configuration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads the file at path (if any), applies VIGIL_ environment
// overrides and validates the result
func Load(path string) (*Configuration, error) {
	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveToFile writes the configuration as YAML, creating parent directories
func (c *Configuration) SaveToFile(path string) error {
	data, err := c.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
