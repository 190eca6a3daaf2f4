// Package collector fetches dimension readings from the subsystems a
// monitor watches. Sources are queried concurrently and a failing source
// never fails a cycle: its dimensions receive a default reading instead.
package collector

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/steveyegge/vigil/internal/config"
	"github.com/steveyegge/vigil/internal/scoring"
)

// Source is a subsystem that reports named readings in [0,1]
type Source interface {
	// Name identifies the source in the dimension table
	Name() string
	// Snapshot returns the current readings keyed by field name
	Snapshot(ctx context.Context) (map[string]float64, error)
}

// SourceResult records how one source call went
type SourceResult struct {
	Source    string `json:"source"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
}

// Result is the outcome of one collection pass
type Result struct {
	// Scores holds one reading per configured dimension
	Scores map[string]float64
	// Sources reports every queried source, sorted by name
	Sources []SourceResult
	// Substituted lists dimensions that received the default reading
	Substituted []string
}

// Failed returns the names of sources whose call failed
func (r *Result) Failed() []string {
	var failed []string
	for _, s := range r.Sources {
		if !s.OK {
			failed = append(failed, s.Source)
		}
	}
	return failed
}

// Collector holds the registered sources
type Collector struct {
	mu      sync.RWMutex
	sources map[string]Source
	logger  *zap.Logger
}

// New creates an empty collector
func New(logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{
		sources: make(map[string]Source),
		logger:  logger.Named("collector"),
	}
}

// Register adds a source. Names must be unique.
func (c *Collector) Register(src Source) error {
	if src == nil {
		return fmt.Errorf("source is required")
	}
	name := src.Name()
	if name == "" {
		return fmt.Errorf("source name is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.sources[name]; exists {
		return fmt.Errorf("source %q already registered", name)
	}
	c.sources[name] = src
	return nil
}

// Sources returns the registered source names, sorted
func (c *Collector) Sources() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.sources))
	for name := range c.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Collect queries every source referenced by dims and maps the readings
// onto dimensions. Timeouts, errors, panics, missing fields and non-finite
// readings all yield opts.MissingReadingDefault for the affected dimensions.
// Only cancellation of ctx makes Collect fail.
func (c *Collector) Collect(ctx context.Context, dims []config.Dimension, opts config.CollectorConfig) (*Result, error) {
	needed := make(map[string]bool)
	for _, d := range dims {
		needed[d.Source] = true
	}

	names := make([]string, 0, len(needed))
	for name := range needed {
		names = append(names, name)
	}
	sort.Strings(names)

	snapshots := make([]map[string]float64, len(names))
	results := make([]SourceResult, len(names))

	concurrency := opts.MaxConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	sem := semaphore.NewWeighted(int64(concurrency))
	g, gCtx := errgroup.WithContext(ctx)

	c.mu.RLock()
	for i, name := range names {
		i, name := i, name
		src, ok := c.sources[name]

		g.Go(func() error {
			if !ok {
				results[i] = SourceResult{Source: name, Error: "source not registered"}
				return nil
			}
			if err := sem.Acquire(gCtx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			start := time.Now()
			snap, err := fetch(gCtx, src, opts.Timeout)
			results[i] = SourceResult{
				Source:    name,
				OK:        err == nil,
				LatencyMs: time.Since(start).Milliseconds(),
			}
			if err != nil {
				results[i].Error = err.Error()
				return nil // a failed source is substituted, never fatal
			}
			snapshots[i] = snap
			return nil
		})
	}
	c.mu.RUnlock()

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("collection cancelled: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("collection cancelled: %w", err)
	}

	bySource := make(map[string]map[string]float64, len(names))
	for i, name := range names {
		if !results[i].OK {
			c.logger.Warn("source unavailable, substituting default readings",
				zap.String("source", name),
				zap.String("error", results[i].Error),
				zap.Float64("default", opts.MissingReadingDefault))
			continue
		}
		bySource[name] = snapshots[i]
	}

	out := &Result{
		Scores:  make(map[string]float64, len(dims)),
		Sources: results,
	}
	for _, d := range dims {
		v, ok := bySource[d.Source][d.ReadingKey()]
		if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
			out.Scores[d.Name] = opts.MissingReadingDefault
			out.Substituted = append(out.Substituted, d.Name)
			continue
		}
		out.Scores[d.Name] = scoring.Clamp(v)
		c.logger.Debug("reading", zap.String("dimension", d.Name), zap.Float64("value", v))
	}

	return out, nil
}

// fetch calls one source with a deadline. The call runs in its own
// goroutine so a source that ignores its context still cannot stall the cycle.
func fetch(ctx context.Context, src Source, timeout time.Duration) (map[string]float64, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type reply struct {
		snap map[string]float64
		err  error
	}
	ch := make(chan reply, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- reply{err: fmt.Errorf("source panicked: %v", r)}
			}
		}()
		snap, err := src.Snapshot(ctx)
		ch <- reply{snap: snap, err: err}
	}()

	select {
	case r := <-ch:
		return r.snap, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("snapshot timed out after %v: %w", timeout, ctx.Err())
	}
}
