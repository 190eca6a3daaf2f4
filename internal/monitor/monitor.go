// Package monitor runs the periodic health cycle: collect readings, score
// them, classify the composite, detect challenges and dispatch recovery.
// A failed cycle publishes a fixed emergency state instead of stopping.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/steveyegge/vigil/internal/collector"
	"github.com/steveyegge/vigil/internal/config"
	"github.com/steveyegge/vigil/internal/detect"
	"github.com/steveyegge/vigil/internal/events"
	"github.com/steveyegge/vigil/internal/history"
	"github.com/steveyegge/vigil/internal/recovery"
	"github.com/steveyegge/vigil/internal/scoring"
	"github.com/steveyegge/vigil/internal/types"
)

// ErrPipeline marks a cycle that could not produce a state and fell back
// to the emergency state
var ErrPipeline = errors.New("pipeline failure")

// FallbackScore is the value of every dimension and of the composite in
// the emergency state
const FallbackScore = 0.5

// Metric names returned by Monitor.Metrics
const (
	MetricLastCycleDurationMs = "last_cycle_duration_ms"
	MetricLastCompositeScore  = "last_composite_score"
	MetricChallengeCount      = "challenge_count"
	MetricCyclesTotal         = "cycles_total"
	MetricPipelineFailures    = "pipeline_failures_total"
	MetricRecoveryFailures    = "recovery_failures_total"
	MetricHistorySize         = "history_size"
)

// Monitor owns the current state, the configuration and the history.
// Each sits behind its own lock; cycles are serialised by cycleMu.
type Monitor struct {
	stateMu sync.RWMutex
	current *types.CompositeState

	cfgMu sync.RWMutex
	cfg   *config.Configuration

	history *history.History

	collector  *collector.Collector
	dispatcher *recovery.Dispatcher
	stabilizer Stabilizer
	sink       events.Sink
	logger     *zap.Logger
	tracer     trace.Tracer

	// cycleMu serialises cycles so a manual cycle never overlaps the loop
	cycleMu      sync.Mutex
	lastDetailed time.Time

	statsMu sync.RWMutex
	stats   stats

	paused atomic.Bool

	// Control
	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	// done is closed when the loop goroutine returns, including when the
	// parent context of Start ends without Stop
	done chan struct{}
	wg   sync.WaitGroup
}

type stats struct {
	lastDuration     time.Duration
	lastComposite    float64
	challengeCount   int
	cycles           int64
	pipelineFailures int64
	recoveryFailures int64
}

// Deps holds the collaborators of a Monitor
type Deps struct {
	// Config is the initial configuration (defaults when nil)
	Config *config.Configuration
	// Collector is required
	Collector *collector.Collector
	// Dispatcher is built from Config when nil
	Dispatcher *recovery.Dispatcher
	// Stabilizer defaults to dispatching the emergency actions
	Stabilizer Stabilizer
	// Sink receives every monitor event
	Sink   events.Sink
	Logger *zap.Logger
}

// New creates a monitor. The configuration is validated before use.
func New(deps Deps) (*Monitor, error) {
	if deps.Collector == nil {
		return nil, fmt.Errorf("collector is required")
	}

	cfg := deps.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid initial configuration: %w", err)
	}
	cfg = cfg.Clone()

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sink := deps.Sink
	if sink == nil {
		sink = events.Nop{}
	}

	dispatcher := deps.Dispatcher
	if dispatcher == nil {
		dispatcher = recovery.NewDispatcher(cfg.Recovery, cfg.MaxRecoveryDuration, sink, logger)
	}
	stabilizer := deps.Stabilizer
	if stabilizer == nil {
		stabilizer = NewDispatchStabilizer(dispatcher)
	}

	return &Monitor{
		cfg:        cfg,
		history:    history.New(cfg.HistoryCapacity),
		collector:  deps.Collector,
		dispatcher: dispatcher,
		stabilizer: stabilizer,
		sink:       sink,
		logger:     logger.Named("monitor"),
		tracer:     otel.Tracer("github.com/steveyegge/vigil/internal/monitor"),
	}, nil
}

// Start launches the monitoring loop. Calling Start on a running monitor
// does nothing. The first cycle runs immediately. A loop that ended
// because its parent context was cancelled can be started again.
func (m *Monitor) Start(ctx context.Context) {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.loopAliveLocked() {
		return
	}
	if m.running {
		// parent context ended; release the old loop before restarting
		m.cancel()
		m.wg.Wait()
	}

	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true

	m.wg.Add(1)
	go m.loop(loopCtx, m.done)

	m.logger.Info("monitor started", zap.Duration("routine_interval", m.Configuration().RoutineInterval))
	m.emit(ctx, events.NewEvent(events.EventTypeMonitorStarted, events.SeverityInfo, "monitor started", nil))
}

// Stop ends the loop after the in-flight cycle completes. Calling Stop on
// a stopped monitor does nothing.
func (m *Monitor) Stop() {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if !m.running {
		return
	}

	m.cancel()
	m.wg.Wait()
	m.running = false

	m.logger.Info("monitor stopped")
	m.emit(context.Background(), events.NewEvent(events.EventTypeMonitorStopped, events.SeverityInfo, "monitor stopped", nil))
}

// IsRunning reports whether the loop is active
func (m *Monitor) IsRunning() bool {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	return m.loopAliveLocked()
}

// loopAliveLocked reports whether the loop goroutine is still running.
// Caller must hold runMu.
func (m *Monitor) loopAliveLocked() bool {
	if !m.running {
		return false
	}
	select {
	case <-m.done:
		return false
	default:
		return true
	}
}

// loop runs cycles until ctx is cancelled. The interval is re-read from
// the configuration after every cycle.
func (m *Monitor) loop(ctx context.Context, done chan struct{}) {
	defer m.wg.Done()
	defer close(done)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-timer.C:
			if !m.paused.Load() {
				// a cycle is never interrupted by Stop
				if _, err := m.RunCycle(context.WithoutCancel(ctx)); err != nil {
					m.logger.Error("cycle failed, emergency state published", zap.Error(err))
				}
			}
			timer.Reset(m.Configuration().RoutineInterval)
		}
	}
}

// Pause makes the loop skip cycles until Resume
func (m *Monitor) Pause() {
	if m.paused.CompareAndSwap(false, true) {
		m.logger.Info("monitor paused")
		m.emit(context.Background(), events.NewEvent(events.EventTypeMonitorPaused, events.SeverityWarning, "monitor paused", nil))
	}
}

// Resume undoes Pause
func (m *Monitor) Resume() {
	if m.paused.CompareAndSwap(true, false) {
		m.logger.Info("monitor resumed")
		m.emit(context.Background(), events.NewEvent(events.EventTypeMonitorResumed, events.SeverityInfo, "monitor resumed", nil))
	}
}

// IsPaused reports whether cycles are being skipped
func (m *Monitor) IsPaused() bool {
	return m.paused.Load()
}

// RunCycle runs one cycle synchronously and returns the published state.
// On pipeline failure the returned state is the emergency state and the
// error wraps ErrPipeline.
func (m *Monitor) RunCycle(ctx context.Context) (*types.CompositeState, error) {
	m.cycleMu.Lock()
	defer m.cycleMu.Unlock()

	cfg := m.Configuration()
	start := time.Now()

	ctx, span := m.tracer.Start(ctx, "monitor.cycle")
	defer span.End()

	state, result, err := m.evaluate(ctx, cfg, start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "pipeline failure")
		return m.fallback(ctx, cfg, err), err
	}

	if state.Cycle == types.CycleDetailed {
		m.lastDetailed = start
	}

	m.publish(state)

	if len(state.Challenges) > 0 {
		dctx, dspan := m.tracer.Start(ctx, "monitor.dispatch")
		processes := m.dispatcher.Dispatch(dctx, detect.Actions(state.Challenges))
		dspan.SetAttributes(attribute.Int("processes", len(processes)))
		dspan.End()

		state.Processes = processes
		m.attachProcesses(state.ID, processes)
		m.countRecoveryFailures(processes)
	}

	duration := time.Since(start)
	m.statsMu.Lock()
	m.stats.cycles++
	m.stats.lastDuration = duration
	m.stats.lastComposite = state.Composite
	m.stats.challengeCount = len(state.Challenges)
	m.statsMu.Unlock()

	span.SetAttributes(
		attribute.String("state.id", state.ID),
		attribute.Float64("composite", state.Composite),
		attribute.String("status", state.Status.String()),
		attribute.Int("challenges", len(state.Challenges)),
	)

	m.logger.Info("cycle completed",
		zap.String("cycle", string(state.Cycle)),
		zap.Float64("composite", state.Composite),
		zap.String("status", state.Status.String()),
		zap.Int("challenges", len(state.Challenges)),
		zap.Duration("duration", duration))

	m.emitCycle(ctx, state, result, duration)
	return state.Clone(), nil
}

// evaluate runs collection, scoring, classification and detection.
// Panics are converted into ErrPipeline errors.
func (m *Monitor) evaluate(ctx context.Context, cfg *config.Configuration, now time.Time) (state *types.CompositeState, result *collector.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("cycle panicked", zap.Any("panic", r), zap.Stack("stack"))
			state, result, err = nil, nil, fmt.Errorf("%w: panic: %v", ErrPipeline, r)
		}
	}()

	cctx, cspan := m.tracer.Start(ctx, "monitor.collect")
	result, err = m.collector.Collect(cctx, cfg.Dimensions, cfg.Collector)
	cspan.End()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrPipeline, err)
	}

	detailed := m.lastDetailed.IsZero() || now.Sub(m.lastDetailed) >= cfg.DetailedInterval
	stateContext := map[string]interface{}{
		"sources": result.Sources,
	}
	if len(result.Substituted) > 0 {
		stateContext["substituted"] = result.Substituted
	}

	scores := make(map[string]float64, len(cfg.Dimensions))
	for _, d := range cfg.Dimensions {
		direct := result.Scores[d.Name]
		score := direct

		var series []float64
		if d.StabilityWeight > 0 || detailed {
			series = append(m.history.DimensionSeries(d.Name, d.Window()-1), direct)
		}
		if d.StabilityWeight > 0 {
			score = scoring.Blend(direct, scoring.Stability(series), d.StabilityWeight)
		}
		if math.IsNaN(score) || math.IsInf(score, 0) {
			return nil, nil, fmt.Errorf("%w: non-finite score for dimension %s", ErrPipeline, d.Name)
		}
		scores[d.Name] = score

		if detailed {
			stateContext["trend."+d.Name] = map[string]float64{
				"stddev": scoring.StandardDeviation(series),
				"slope":  scoring.Trend(series),
			}
		}
	}

	composite := scoring.Aggregate(scores, cfg.Weights())
	if math.IsNaN(composite) || math.IsInf(composite, 0) {
		return nil, nil, fmt.Errorf("%w: non-finite composite score", ErrPipeline)
	}

	warning, minimum, critical := cfg.Thresholds()
	kind := types.CycleRoutine
	if detailed {
		kind = types.CycleDetailed
		composites := append(m.history.CompositeSeries(cfg.HistoryCapacity), composite)
		stateContext["trend.composite"] = map[string]float64{
			"stddev": scoring.StandardDeviation(composites),
			"slope":  scoring.Trend(composites),
		}
	}

	return &types.CompositeState{
		ID:         uuid.New().String(),
		Timestamp:  now,
		Dimensions: scores,
		Composite:  composite,
		Status:     scoring.Classify(composite, warning, minimum, critical),
		Challenges: detect.Detect(scores, cfg, now),
		Context:    stateContext,
		Cycle:      kind,
	}, result, nil
}

// fallback publishes the emergency state and asks the stabilizer to act on it
func (m *Monitor) fallback(ctx context.Context, cfg *config.Configuration, cause error) *types.CompositeState {
	now := time.Now()
	warning, minimum, critical := cfg.Thresholds()

	dims := make(map[string]float64, len(cfg.Dimensions))
	for _, d := range cfg.Dimensions {
		dims[d.Name] = FallbackScore
	}

	state := &types.CompositeState{
		ID:         uuid.New().String(),
		Timestamp:  now,
		Dimensions: dims,
		Composite:  FallbackScore,
		Status:     scoring.Classify(FallbackScore, warning, minimum, critical),
		Challenges: []types.Challenge{detect.Desync(cause, cfg, now)},
		Context:    map[string]interface{}{"error": cause.Error()},
		Cycle:      types.CycleRoutine,
		Emergency:  true,
	}

	m.publish(state)

	m.statsMu.Lock()
	m.stats.cycles++
	m.stats.pipelineFailures++
	m.stats.lastComposite = FallbackScore
	m.stats.challengeCount = 1
	m.stats.lastDuration = 0
	m.statsMu.Unlock()

	data := events.FallbackData{Cause: cause.Error()}
	processes, err := m.stabilizer.Stabilize(context.WithoutCancel(ctx), state.Clone())
	if err != nil {
		data.StabilizerError = err.Error()
		m.logger.Error("emergency stabilization failed", zap.Error(err))
	}
	if len(processes) > 0 {
		state.Processes = processes
		m.attachProcesses(state.ID, processes)
		m.countRecoveryFailures(processes)
	}

	if event, err := events.NewFallbackEvent(state.ID, data); err == nil {
		m.emit(ctx, event)
	}
	return state.Clone()
}

// publish replaces the current state and appends it to the history
func (m *Monitor) publish(state *types.CompositeState) {
	m.stateMu.Lock()
	m.current = state.Clone()
	m.stateMu.Unlock()

	m.history.Push(state)
}

// attachProcesses records recovery processes on the history entry of the
// state that produced them, and on the current state if it still is that state
func (m *Monitor) attachProcesses(stateID string, processes []types.RecoveryProcess) {
	m.history.AttachProcesses(stateID, processes)

	m.stateMu.Lock()
	defer m.stateMu.Unlock()

	if m.current == nil || m.current.ID != stateID {
		return
	}
	m.current.Processes = make([]types.RecoveryProcess, len(processes))
	for i, p := range processes {
		m.current.Processes[i] = p.Clone()
	}
}

func (m *Monitor) countRecoveryFailures(processes []types.RecoveryProcess) {
	var failed int64
	for _, p := range processes {
		if p.Status == types.ProcessRecoveryFailed || p.Status == types.ProcessRequiresEscalation {
			failed++
		}
	}
	if failed == 0 {
		return
	}
	m.statsMu.Lock()
	m.stats.recoveryFailures += failed
	m.statsMu.Unlock()
}

func (m *Monitor) emitCycle(ctx context.Context, state *types.CompositeState, result *collector.Result, duration time.Duration) {
	failed := result.Failed()
	for _, src := range result.Sources {
		if src.OK {
			continue
		}
		m.emit(ctx, events.NewEvent(events.EventTypeSourceFailed, events.SeverityWarning,
			fmt.Sprintf("source %s failed: %s", src.Source, src.Error),
			map[string]interface{}{"source": src.Source, "error": src.Error, "latency_ms": src.LatencyMs}))
	}

	for _, c := range state.Challenges {
		event, err := events.NewChallengeEvent(state.ID, c)
		if err != nil {
			m.logger.Warn("failed to build challenge event", zap.Error(err))
			continue
		}
		m.emit(ctx, event)
	}

	event, err := events.NewCycleCompletedEvent(state, duration, result.Substituted, failed)
	if err != nil {
		m.logger.Warn("failed to build cycle event", zap.Error(err))
		return
	}
	m.emit(ctx, event)
}

func (m *Monitor) emit(ctx context.Context, event *events.Event) {
	if err := m.sink.Emit(ctx, event); err != nil {
		m.logger.Warn("failed to emit event", zap.String("type", string(event.Type)), zap.Error(err))
	}
}

// CurrentState returns a copy of the latest published state, or nil
// before the first cycle
func (m *Monitor) CurrentState() *types.CompositeState {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	if m.current == nil {
		return nil
	}
	return m.current.Clone()
}

// Metrics returns the cycle counters keyed by the Metric* names
func (m *Monitor) Metrics() map[string]float64 {
	m.statsMu.RLock()
	s := m.stats
	m.statsMu.RUnlock()

	return map[string]float64{
		MetricLastCycleDurationMs: float64(s.lastDuration) / float64(time.Millisecond),
		MetricLastCompositeScore:  s.lastComposite,
		MetricChallengeCount:      float64(s.challengeCount),
		MetricCyclesTotal:         float64(s.cycles),
		MetricPipelineFailures:    float64(s.pipelineFailures),
		MetricRecoveryFailures:    float64(s.recoveryFailures),
		MetricHistorySize:         float64(m.history.Len()),
	}
}

// History returns the last n states, oldest first (all when n <= 0)
func (m *Monitor) History(n int) []*types.CompositeState {
	return m.history.Recent(n)
}

// Processes returns active and recent recovery processes
func (m *Monitor) Processes() []types.RecoveryProcess {
	return m.dispatcher.Processes()
}

// Dispatcher exposes the recovery dispatcher so callers can register handlers
func (m *Monitor) Dispatcher() *recovery.Dispatcher {
	return m.dispatcher
}

// Configuration returns a copy of the configuration in effect
func (m *Monitor) Configuration() *config.Configuration {
	m.cfgMu.RLock()
	defer m.cfgMu.RUnlock()
	return m.cfg.Clone()
}

// UpdateConfiguration validates cfg and swaps it in as a whole. A rejected
// configuration leaves the previous one in effect. origin names the
// caller in the emitted event (api, socket, file).
func (m *Monitor) UpdateConfiguration(cfg *config.Configuration, origin string) error {
	if cfg == nil {
		err := fmt.Errorf("%w: configuration is nil", config.ErrInvalidConfig)
		m.emit(context.Background(), events.NewConfigEvent(origin, err))
		return err
	}

	next := cfg.Clone()
	if err := next.Validate(); err != nil {
		m.logger.Warn("configuration rejected", zap.String("origin", origin), zap.Error(err))
		m.emit(context.Background(), events.NewConfigEvent(origin, err))
		return err
	}

	m.cfgMu.Lock()
	m.cfg = next
	m.cfgMu.Unlock()

	m.history.Resize(next.HistoryCapacity)
	m.dispatcher.Configure(next.Recovery, next.MaxRecoveryDuration)

	m.logger.Info("configuration updated",
		zap.String("origin", origin),
		zap.Int("dimensions", len(next.Dimensions)),
		zap.Duration("routine_interval", next.RoutineInterval))
	m.emit(context.Background(), events.NewConfigEvent(origin, nil))
	return nil
}
