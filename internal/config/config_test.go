package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/steveyegge/vigil/internal/types"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}

	if cfg.RoutineInterval != 30*time.Second {
		t.Errorf("expected routine interval 30s, got %v", cfg.RoutineInterval)
	}
	if cfg.HistoryCapacity != 1000 {
		t.Errorf("expected history capacity 1000, got %d", cfg.HistoryCapacity)
	}
	if cfg.Collector.MissingReadingDefault != 1.0 {
		t.Errorf("expected missing reading default 1.0, got %v", cfg.Collector.MissingReadingDefault)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Configuration)
		wantErr bool
	}{
		{
			name:    "defaults",
			mutate:  func(c *Configuration) {},
			wantErr: false,
		},
		{
			name:    "critical above minimum",
			mutate:  func(c *Configuration) { c.CriticalThreshold = 0.8 },
			wantErr: true,
		},
		{
			name:    "minimum equals warning",
			mutate:  func(c *Configuration) { c.MinimumThreshold = 0.85 },
			wantErr: true,
		},
		{
			name:    "warning above one",
			mutate:  func(c *Configuration) { c.WarningThreshold = 1.2 },
			wantErr: true,
		},
		{
			name:    "negative critical",
			mutate:  func(c *Configuration) { c.CriticalThreshold = -0.1 },
			wantErr: true,
		},
		{
			name:    "weights do not sum to one",
			mutate:  func(c *Configuration) { c.Dimensions[0].Weight = 0.5 },
			wantErr: true,
		},
		{
			name: "weights within tolerance",
			mutate: func(c *Configuration) {
				c.Dimensions[0].Weight += 0.005
			},
			wantErr: false,
		},
		{
			name:    "duplicate dimension",
			mutate:  func(c *Configuration) { c.Dimensions[1].Name = c.Dimensions[0].Name },
			wantErr: true,
		},
		{
			name:    "dimension without source",
			mutate:  func(c *Configuration) { c.Dimensions[0].Source = "" },
			wantErr: true,
		},
		{
			name:    "no dimensions",
			mutate:  func(c *Configuration) { c.Dimensions = nil },
			wantErr: true,
		},
		{
			name:    "stability weight of one",
			mutate:  func(c *Configuration) { c.Dimensions[0].StabilityWeight = 1.0 },
			wantErr: true,
		},
		{
			name:    "detailed faster than routine",
			mutate:  func(c *Configuration) { c.DetailedInterval = time.Second },
			wantErr: true,
		},
		{
			name:    "zero routine interval",
			mutate:  func(c *Configuration) { c.RoutineInterval = 0 },
			wantErr: true,
		},
		{
			name:    "zero history capacity",
			mutate:  func(c *Configuration) { c.HistoryCapacity = 0 },
			wantErr: true,
		},
		{
			name:    "invalid webhook url",
			mutate:  func(c *Configuration) { c.Recovery.Webhooks = map[string]string{"restart": "not a url"} },
			wantErr: true,
		},
		{
			name:    "api enabled without address",
			mutate:  func(c *Configuration) { c.API.Enabled = true; c.API.Addr = "" },
			wantErr: true,
		},
		{
			name:    "journal retention inverted",
			mutate:  func(c *Configuration) { c.Journal.RetentionCriticalDays = 7 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestSeverityFor(t *testing.T) {
	cfg := Default() // minimum 0.75, critical 0.60

	sev, ok := cfg.SeverityFor(0.50)
	assert.True(t, ok)
	assert.Equal(t, types.SeverityCritical, sev)

	sev, ok = cfg.SeverityFor(0.70)
	assert.True(t, ok)
	assert.Equal(t, types.SeveritySignificant, sev)

	_, ok = cfg.SeverityFor(0.75)
	assert.False(t, ok)
}

func TestWeightsAndLookup(t *testing.T) {
	cfg := Default()
	weights := cfg.Weights()
	assert.Len(t, weights, len(cfg.Dimensions))
	assert.Equal(t, 0.25, weights["cpu"])

	dim, ok := cfg.Dimension("load")
	require.True(t, ok)
	assert.Equal(t, "load", dim.ReadingKey())
	assert.Equal(t, 3, dim.Window())

	_, ok = cfg.Dimension("nope")
	assert.False(t, ok)

	assert.Equal(t, 5, Dimension{}.Window())
	assert.Equal(t, "raw", Dimension{Name: "x", Key: "raw"}.ReadingKey())
}

func TestActionDuration(t *testing.T) {
	cfg := Default()
	cfg.Recovery.ActionDurations = map[string]time.Duration{"restart": 45 * time.Second}

	assert.Equal(t, 45*time.Second, cfg.ActionDuration("restart"))
	assert.Equal(t, 30*time.Second, cfg.ActionDuration("other"))
}

func TestCloneIsIndependent(t *testing.T) {
	cfg := Default()
	cfg.Dimensions[0].Actions = []string{"restart"}
	cfg.Recovery.Webhooks = map[string]string{"restart": "http://localhost/hook"}

	clone := cfg.Clone()
	clone.Dimensions[0].Weight = 0.9
	clone.Dimensions[0].Actions[0] = "changed"
	clone.Recovery.Webhooks["restart"] = "changed"

	assert.Equal(t, 0.25, cfg.Dimensions[0].Weight)
	assert.Equal(t, "restart", cfg.Dimensions[0].Actions[0])
	assert.Equal(t, "http://localhost/hook", cfg.Recovery.Webhooks["restart"])
}

const sampleYAML = `
minimum_threshold: 0.7
routine_interval: 10s
dimensions:
  - name: a
    weight: 0.5
    source: static
  - name: b
    weight: 0.5
    source: static
    stability_weight: 0.3
    stability_window: 4
    actions: [restart_b]
recovery:
  max_retries: 2
  action_durations:
    restart_b: 45s
`

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file uses defaults", func(t *testing.T) {
		cfg, err := LoadFromFile(filepath.Join(dir, "absent.yaml"))
		require.NoError(t, err)
		assert.Equal(t, Default().MinimumThreshold, cfg.MinimumThreshold)
	})

	t.Run("yaml overlays defaults", func(t *testing.T) {
		path := filepath.Join(dir, "vigil.yaml")
		require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))

		cfg, err := LoadFromFile(path)
		require.NoError(t, err)
		assert.Equal(t, 0.7, cfg.MinimumThreshold)
		assert.Equal(t, 0.85, cfg.WarningThreshold)
		assert.Equal(t, 10*time.Second, cfg.RoutineInterval)
		assert.Equal(t, 5*time.Minute, cfg.DetailedInterval)
		require.Len(t, cfg.Dimensions, 2)
		assert.Equal(t, []string{"restart_b"}, cfg.Dimensions[1].Actions)
		assert.Equal(t, 4, cfg.Dimensions[1].StabilityWindow)
		assert.Equal(t, 2, cfg.Recovery.MaxRetries)
		assert.Equal(t, 45*time.Second, cfg.ActionDuration("restart_b"))
	})

	t.Run("invalid values rejected", func(t *testing.T) {
		path := filepath.Join(dir, "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("critical_threshold: 0.9\n"), 0o644))

		_, err := LoadFromFile(path)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("malformed yaml rejected", func(t *testing.T) {
		path := filepath.Join(dir, "broken.yaml")
		require.NoError(t, os.WriteFile(path, []byte("dimensions: [\n"), 0o644))

		_, err := LoadFromFile(path)
		assert.Error(t, err)
	})
}

func TestSaveToFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "vigil.yaml")
	cfg := Default()
	cfg.RoutineInterval = 15 * time.Second

	require.NoError(t, cfg.SaveToFile(path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, loaded.RoutineInterval)
	assert.Equal(t, cfg.Dimensions, loaded.Dimensions)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("VIGIL_MINIMUM_THRESHOLD", "0.7")
	t.Setenv("VIGIL_ROUTINE_INTERVAL", "5s")
	t.Setenv("VIGIL_HISTORY_CAPACITY", "50")
	t.Setenv("VIGIL_RECOVERY_CONCURRENT", "true")
	t.Setenv("VIGIL_API_TOKEN", "secret")

	cfg := Default()
	require.NoError(t, ApplyEnv(cfg))
	assert.Equal(t, 0.7, cfg.MinimumThreshold)
	assert.Equal(t, 5*time.Second, cfg.RoutineInterval)
	assert.Equal(t, 50, cfg.HistoryCapacity)
	assert.True(t, cfg.Recovery.Concurrent)
	assert.Equal(t, "secret", cfg.API.Token)
}

func TestApplyEnvRejectsGarbage(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"VIGIL_WARNING_THRESHOLD", "high"},
		{"VIGIL_DETAILED_INTERVAL", "5 minutes"},
		{"VIGIL_HISTORY_CAPACITY", "lots"},
		{"VIGIL_TRACING", "maybe"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if err := ApplyEnv(Default()); err == nil {
				t.Errorf("expected error for %s=%q", tt.key, tt.value)
			}
		})
	}
}

func TestLoadValidatesEnvOverrides(t *testing.T) {
	t.Setenv("VIGIL_CRITICAL_THRESHOLD", "0.95")
	_, err := Load("")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestJournalConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *JournalConfig)
		wantErr bool
	}{
		{"defaults", func(c *JournalConfig) {}, false},
		{"zero retention", func(c *JournalConfig) { c.RetentionDays = 0 }, true},
		{"global limit too small", func(c *JournalConfig) { c.GlobalLimitEvents = 10 }, true},
		{"cleanup too frequent", func(c *JournalConfig) { c.CleanupInterval = time.Second }, true},
		{"batch too large", func(c *JournalConfig) { c.CleanupBatchSize = 50000 }, true},
		{"enabled without path", func(c *JournalConfig) { c.Path = "" }, true},
		{"disabled without path", func(c *JournalConfig) { c.Enabled = false; c.Path = "" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultJournalConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	regular, critical := DefaultJournalConfig().Retention()
	assert.Equal(t, 30*24*time.Hour, regular)
	assert.Equal(t, 90*24*time.Hour, critical)
}

func TestWatcherReloadsValidChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vigil.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))

	changes := make(chan *Configuration, 4)
	w, err := NewWatcher(path, func(c *Configuration) { changes <- c }, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// give the watcher time to register the directory
	time.Sleep(100 * time.Millisecond)

	// invalid change is ignored
	require.NoError(t, os.WriteFile(path, []byte("critical_threshold: 0.99\n"), 0o644))
	time.Sleep(500 * time.Millisecond)
	select {
	case c := <-changes:
		t.Fatalf("invalid config should not be delivered, got %+v", c)
	default:
	}

	updated := sampleYAML + "history_capacity: 42\n"
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	select {
	case c := <-changes:
		assert.Equal(t, 42, c.HistoryCapacity)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}

	cancel()
	require.NoError(t, <-done)
}

func TestNewWatcherRequiresArguments(t *testing.T) {
	_, err := NewWatcher("", func(*Configuration) {}, nil)
	assert.Error(t, err)
	_, err = NewWatcher("x.yaml", nil, nil)
	assert.Error(t, err)
}
