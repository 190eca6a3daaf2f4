// Package recovery executes the actions proposed for challenges. Every
// action becomes a RecoveryProcess that moves from Initiated through
// InProgress to exactly one terminal status.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/steveyegge/vigil/internal/config"
	"github.com/steveyegge/vigil/internal/events"
	"github.com/steveyegge/vigil/internal/types"
)

// Dispatcher maps action types to handlers and runs them
type Dispatcher struct {
	mu sync.RWMutex

	handlers map[string]Handler
	// webhooks is rebuilt from the configuration on every Configure and
	// takes precedence over registered handlers
	webhooks map[string]Handler
	fallback Handler
	breakers map[string]*CircuitBreaker
	limiter  *rate.Limiter

	cfg         config.RecoveryConfig
	maxDuration time.Duration

	// active holds processes that have not reached a terminal status
	active map[string]*types.RecoveryProcess
	// finished holds recent terminal processes (bounded by cfg.ProcessHistory)
	finished []types.RecoveryProcess

	sink   events.Sink
	logger *zap.Logger
}

// NewDispatcher creates a dispatcher. Unknown action types run the
// comprehensive recovery handler, which logs until replaced via Register.
func NewDispatcher(cfg config.RecoveryConfig, maxDuration time.Duration, sink events.Sink, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sink == nil {
		sink = events.Nop{}
	}
	logger = logger.Named("recovery")

	d := &Dispatcher{
		handlers: make(map[string]Handler),
		breakers: make(map[string]*CircuitBreaker),
		active:   make(map[string]*types.RecoveryProcess),
		sink:     sink,
		logger:   logger,
	}
	d.fallback = NewLogHandler(logger)
	d.handlers[types.ActionComprehensiveRecovery] = d.fallback
	d.handlers[types.ActionEmergencyStabilization] = d.fallback
	d.Configure(cfg, maxDuration)
	return d
}

// Register binds a handler to an action type, replacing any previous one
func (d *Dispatcher) Register(actionType string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[actionType] = h
}

// Configure applies new recovery settings. Breaker state is kept.
// The webhook table is replaced by the one in cfg; handlers added with
// Register are untouched.
func (d *Dispatcher) Configure(cfg config.RecoveryConfig, maxDuration time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.cfg = cfg
	d.maxDuration = maxDuration

	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	} else {
		d.limiter = nil
	}

	for _, b := range d.breakers {
		b.Reconfigure(cfg.BreakerThreshold, cfg.BreakerOpenTimeout)
	}

	webhooks := make(map[string]Handler, len(cfg.Webhooks))
	for actionType, url := range cfg.Webhooks {
		webhooks[actionType] = NewWebhookHandler(url, maxDuration)
	}
	d.webhooks = webhooks

	d.trimLocked()
}

// handlerFor resolves the handler of an action type: configured webhook,
// then registered handler, then the same lookup for comprehensive recovery
func (d *Dispatcher) handlerFor(actionType string) Handler {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, t := range []string{actionType, types.ActionComprehensiveRecovery} {
		if h, ok := d.webhooks[t]; ok {
			return h
		}
		if h, ok := d.handlers[t]; ok {
			return h
		}
	}
	return d.fallback
}

func (d *Dispatcher) breakerFor(actionType string) *CircuitBreaker {
	d.mu.Lock()
	defer d.mu.Unlock()

	b, ok := d.breakers[actionType]
	if !ok {
		b = NewCircuitBreaker(actionType, d.cfg.BreakerThreshold, d.cfg.BreakerOpenTimeout, d.logger)
		d.breakers[actionType] = b
	}
	return b
}

// BreakerState reports the circuit state of an action type
func (d *Dispatcher) BreakerState(actionType string) CircuitState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if b, ok := d.breakers[actionType]; ok {
		return b.State()
	}
	return CircuitClosed
}

// Dispatch runs every action and returns one terminal process per action,
// in the order given. A failing action never stops the others.
// Actions run sequentially unless the configuration enables concurrency.
func (d *Dispatcher) Dispatch(ctx context.Context, actions []types.RecoveryAction) []types.RecoveryProcess {
	if len(actions) == 0 {
		return nil
	}

	d.mu.RLock()
	concurrent := d.cfg.Concurrent
	d.mu.RUnlock()

	results := make([]types.RecoveryProcess, len(actions))

	if !concurrent {
		for i, a := range actions {
			results[i] = d.run(ctx, a)
		}
		return results
	}

	var g errgroup.Group
	for i, a := range actions {
		i, a := i, a
		g.Go(func() error {
			results[i] = d.run(ctx, a)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// run drives one action through the process lifecycle
func (d *Dispatcher) run(ctx context.Context, action types.RecoveryAction) types.RecoveryProcess {
	proc := &types.RecoveryProcess{
		ID:          uuid.New().String(),
		ActionID:    action.ID,
		ActionType:  action.Type,
		ChallengeID: action.ChallengeID,
		Dimension:   action.Dimension,
		Status:      types.ProcessInitiated,
		StartedAt:   time.Now(),
	}
	d.track(proc)
	d.emit(ctx, *proc)

	d.mu.RLock()
	limiter := d.limiter
	maxRetries := d.cfg.MaxRetries
	backoff := d.cfg.RetryBackoff
	maxDuration := d.maxDuration
	d.mu.RUnlock()

	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return d.finish(ctx, proc, types.ProcessRecoveryFailed, 0, fmt.Errorf("rate limiter: %w", err))
		}
	}

	breaker := d.breakerFor(action.Type)
	if err := breaker.Allow(); err != nil {
		return d.finish(ctx, proc, types.ProcessRequiresEscalation, 0, err)
	}

	d.update(proc, func(p *types.RecoveryProcess) { p.Status = types.ProcessInProgress })
	handler := d.handlerFor(action.Type)

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		d.update(proc, func(p *types.RecoveryProcess) { p.Attempts = attempt + 1 })

		err := execute(ctx, handler, action, maxDuration)
		if err == nil {
			breaker.RecordSuccess()
			return d.finish(ctx, proc, types.ProcessCompleted, 1.0, nil)
		}

		var partial *PartialError
		if errors.As(err, &partial) {
			breaker.RecordSuccess()
			return d.finish(ctx, proc, types.ProcessPartialRecovery, partial.Progress, err)
		}

		lastErr = err
		breaker.RecordFailure()

		if attempt == maxRetries {
			break
		}
		if breaker.Allow() != nil {
			return d.finish(ctx, proc, types.ProcessRequiresEscalation, 0,
				fmt.Errorf("%w after %d attempt(s): %v", ErrCircuitOpen, attempt+1, err))
		}

		d.logger.Info("recovery action failed, retrying",
			zap.String("action_type", action.Type),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return d.finish(ctx, proc, types.ProcessRecoveryFailed, 0,
				fmt.Errorf("cancelled during backoff: %w", ctx.Err()))
		}
	}

	return d.finish(ctx, proc, types.ProcessRecoveryFailed, 0, lastErr)
}

// execute calls the handler under the recovery deadline, converting panics
// into errors. A handler that ignores its context is abandoned at the deadline.
func execute(ctx context.Context, h Handler, action types.RecoveryAction, maxDuration time.Duration) error {
	if maxDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, maxDuration)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("handler panicked: %v", r)
			}
		}()
		done <- h.Execute(ctx, action)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("exceeded max recovery duration %v: %w", maxDuration, ctx.Err())
	}
}

func (d *Dispatcher) track(proc *types.RecoveryProcess) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.active[proc.ID] = proc
}

func (d *Dispatcher) update(proc *types.RecoveryProcess, fn func(p *types.RecoveryProcess)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(proc)
}

// finish moves a process to its terminal status and into the bounded history
func (d *Dispatcher) finish(ctx context.Context, proc *types.RecoveryProcess, status types.ProcessStatus, progress float64, err error) types.RecoveryProcess {
	now := time.Now()

	d.mu.Lock()
	proc.Status = status
	proc.Progress = progress
	proc.FinishedAt = &now
	if err != nil {
		proc.Error = err.Error()
	}
	delete(d.active, proc.ID)
	d.finished = append(d.finished, proc.Clone())
	d.trimLocked()
	out := proc.Clone()
	d.mu.Unlock()

	switch status {
	case types.ProcessRecoveryFailed:
		d.logger.Warn("recovery action failed",
			zap.String("action_type", out.ActionType),
			zap.String("dimension", out.Dimension),
			zap.Int("attempts", out.Attempts),
			zap.String("error", out.Error))
	case types.ProcessRequiresEscalation:
		d.logger.Error("recovery action requires escalation",
			zap.String("action_type", out.ActionType),
			zap.String("dimension", out.Dimension),
			zap.String("error", out.Error))
	default:
		d.logger.Debug("recovery action finished",
			zap.String("action_type", out.ActionType),
			zap.String("status", string(out.Status)),
			zap.Float64("progress", out.Progress))
	}

	d.emit(ctx, out)
	return out
}

// trimLocked enforces the process history bound. Caller must hold d.mu.
func (d *Dispatcher) trimLocked() {
	max := d.cfg.ProcessHistory
	if max <= 0 {
		max = 500
	}
	if len(d.finished) > max {
		copy(d.finished, d.finished[len(d.finished)-max:])
		d.finished = d.finished[:max]
	}
}

func (d *Dispatcher) emit(ctx context.Context, p types.RecoveryProcess) {
	event, err := events.NewRecoveryEvent(p)
	if err != nil {
		d.logger.Warn("failed to build recovery event", zap.Error(err))
		return
	}
	if err := d.sink.Emit(ctx, event); err != nil {
		d.logger.Warn("failed to emit recovery event", zap.Error(err))
	}
}

// Processes returns active processes followed by recent finished ones,
// newest first
func (d *Dispatcher) Processes() []types.RecoveryProcess {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]types.RecoveryProcess, 0, len(d.active)+len(d.finished))
	active := make([]types.RecoveryProcess, 0, len(d.active))
	for _, p := range d.active {
		active = append(active, p.Clone())
	}
	sort.Slice(active, func(i, j int) bool { return active[i].StartedAt.After(active[j].StartedAt) })
	out = append(out, active...)
	for i := len(d.finished) - 1; i >= 0; i-- {
		out = append(out, d.finished[i].Clone())
	}
	return out
}

// ActiveCount returns the number of processes still running
func (d *Dispatcher) ActiveCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.active)
}
