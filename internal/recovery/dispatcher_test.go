package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/vigil/internal/config"
	"github.com/steveyegge/vigil/internal/events"
	"github.com/steveyegge/vigil/internal/types"
)

func testRecoveryConfig() config.RecoveryConfig {
	cfg := config.Default().Recovery
	cfg.RateLimit = 0
	cfg.RetryBackoff = time.Millisecond
	return cfg
}

func action(actionType string) types.RecoveryAction {
	return types.RecoveryAction{ID: actionType + "-id", Type: actionType, Dimension: "cpu", ChallengeID: "c1"}
}

func TestDispatchSuccess(t *testing.T) {
	rec := &events.Recorder{}
	d := NewDispatcher(testRecoveryConfig(), time.Second, rec, nil)

	var got types.RecoveryAction
	d.Register("restart", HandlerFunc(func(ctx context.Context, a types.RecoveryAction) error {
		got = a
		return nil
	}))

	procs := d.Dispatch(context.Background(), []types.RecoveryAction{action("restart")})
	require.Len(t, procs, 1)

	p := procs[0]
	assert.Equal(t, types.ProcessCompleted, p.Status)
	assert.Equal(t, 1.0, p.Progress)
	assert.Equal(t, 1, p.Attempts)
	assert.Equal(t, "restart-id", p.ActionID)
	assert.Equal(t, "c1", p.ChallengeID)
	assert.NotNil(t, p.FinishedAt)
	assert.Equal(t, "restart", got.Type)

	assert.Len(t, rec.OfType(events.EventTypeRecoveryStarted), 1)
	assert.Len(t, rec.OfType(events.EventTypeRecoveryCompleted), 1)
	assert.Equal(t, 0, d.ActiveCount())
}

func TestDispatchUnknownTypeFallsBackToComprehensive(t *testing.T) {
	d := NewDispatcher(testRecoveryConfig(), time.Second, nil, nil)

	var calls int32
	d.Register(types.ActionComprehensiveRecovery, HandlerFunc(func(ctx context.Context, a types.RecoveryAction) error {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "never_registered", a.Type)
		return nil
	}))

	procs := d.Dispatch(context.Background(), []types.RecoveryAction{action("never_registered")})
	require.Len(t, procs, 1)
	assert.Equal(t, types.ProcessCompleted, procs[0].Status)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestDispatchFailureDoesNotStopBatch(t *testing.T) {
	rec := &events.Recorder{}
	d := NewDispatcher(testRecoveryConfig(), time.Second, rec, nil)
	d.Register("broken", HandlerFunc(func(ctx context.Context, a types.RecoveryAction) error {
		return errors.New("service unreachable")
	}))
	d.Register("ok", HandlerFunc(func(ctx context.Context, a types.RecoveryAction) error { return nil }))

	procs := d.Dispatch(context.Background(), []types.RecoveryAction{action("broken"), action("ok")})
	require.Len(t, procs, 2)

	assert.Equal(t, types.ProcessRecoveryFailed, procs[0].Status)
	assert.Contains(t, procs[0].Error, "service unreachable")
	assert.Equal(t, types.ProcessCompleted, procs[1].Status)
	assert.Len(t, rec.OfType(events.EventTypeRecoveryFailed), 1)
}

func TestDispatchPartialRecovery(t *testing.T) {
	d := NewDispatcher(testRecoveryConfig(), time.Second, nil, nil)
	d.Register("drain", HandlerFunc(func(ctx context.Context, a types.RecoveryAction) error {
		return Partial(0.4, "2 of 5 queues drained")
	}))

	procs := d.Dispatch(context.Background(), []types.RecoveryAction{action("drain")})
	require.Len(t, procs, 1)
	assert.Equal(t, types.ProcessPartialRecovery, procs[0].Status)
	assert.Equal(t, 0.4, procs[0].Progress)
}

func TestDispatchTimeout(t *testing.T) {
	d := NewDispatcher(testRecoveryConfig(), 50*time.Millisecond, nil, nil)
	d.Register("slow", HandlerFunc(func(ctx context.Context, a types.RecoveryAction) error {
		time.Sleep(time.Second)
		return nil
	}))

	start := time.Now()
	procs := d.Dispatch(context.Background(), []types.RecoveryAction{action("slow")})
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, types.ProcessRecoveryFailed, procs[0].Status)
	assert.Contains(t, procs[0].Error, "exceeded max recovery duration")
}

func TestDispatchHandlerPanic(t *testing.T) {
	d := NewDispatcher(testRecoveryConfig(), time.Second, nil, nil)
	d.Register("explode", HandlerFunc(func(ctx context.Context, a types.RecoveryAction) error {
		panic("kaboom")
	}))

	procs := d.Dispatch(context.Background(), []types.RecoveryAction{action("explode")})
	assert.Equal(t, types.ProcessRecoveryFailed, procs[0].Status)
	assert.Contains(t, procs[0].Error, "kaboom")
}

func TestDispatchRetries(t *testing.T) {
	cfg := testRecoveryConfig()
	cfg.MaxRetries = 2
	d := NewDispatcher(cfg, time.Second, nil, nil)

	var calls int32
	d.Register("flaky", HandlerFunc(func(ctx context.Context, a types.RecoveryAction) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return errors.New("transient")
		}
		return nil
	}))

	procs := d.Dispatch(context.Background(), []types.RecoveryAction{action("flaky")})
	assert.Equal(t, types.ProcessCompleted, procs[0].Status)
	assert.Equal(t, 3, procs[0].Attempts)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestDispatchBreakerEscalates(t *testing.T) {
	cfg := testRecoveryConfig()
	cfg.BreakerThreshold = 2
	cfg.BreakerOpenTimeout = time.Hour
	rec := &events.Recorder{}
	d := NewDispatcher(cfg, time.Second, rec, nil)

	var calls int32
	d.Register("doomed", HandlerFunc(func(ctx context.Context, a types.RecoveryAction) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("nope")
	}))

	batch := []types.RecoveryAction{action("doomed"), action("doomed"), action("doomed")}
	procs := d.Dispatch(context.Background(), batch)

	assert.Equal(t, types.ProcessRecoveryFailed, procs[0].Status)
	assert.Equal(t, types.ProcessRecoveryFailed, procs[1].Status)
	assert.Equal(t, types.ProcessRequiresEscalation, procs[2].Status)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "an open circuit must not call the handler")
	assert.Equal(t, CircuitOpen, d.BreakerState("doomed"))
	assert.Len(t, rec.OfType(events.EventTypeRecoveryEscalated), 1)
}

func TestDispatchConcurrent(t *testing.T) {
	cfg := testRecoveryConfig()
	cfg.Concurrent = true
	d := NewDispatcher(cfg, time.Second, nil, nil)

	var inFlight, peak int32
	d.Register("parallel", HandlerFunc(func(ctx context.Context, a types.RecoveryAction) error {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return nil
	}))

	batch := []types.RecoveryAction{action("parallel"), action("parallel"), action("parallel")}
	procs := d.Dispatch(context.Background(), batch)

	require.Len(t, procs, 3)
	for _, p := range procs {
		assert.Equal(t, types.ProcessCompleted, p.Status)
	}
	assert.Greater(t, atomic.LoadInt32(&peak), int32(1))
}

func TestProcessHistoryBounded(t *testing.T) {
	cfg := testRecoveryConfig()
	cfg.ProcessHistory = 3
	d := NewDispatcher(cfg, time.Second, nil, nil)

	for i := 0; i < 5; i++ {
		d.Dispatch(context.Background(), []types.RecoveryAction{action(types.ActionComprehensiveRecovery)})
	}

	procs := d.Processes()
	assert.Len(t, procs, 3)
	assert.True(t, procs[0].StartedAt.After(procs[2].StartedAt) || procs[0].StartedAt.Equal(procs[2].StartedAt))
}

func TestDispatchEmpty(t *testing.T) {
	d := NewDispatcher(testRecoveryConfig(), time.Second, nil, nil)
	assert.Nil(t, d.Dispatch(context.Background(), nil))
}

func TestWebhookHandler(t *testing.T) {
	var received webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		switch received.Action.Type {
		case "partial":
			w.WriteHeader(http.StatusPartialContent)
		case "fail":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer srv.Close()

	cfg := testRecoveryConfig()
	cfg.Webhooks = map[string]string{"restart": srv.URL, "partial": srv.URL, "fail": srv.URL}
	d := NewDispatcher(cfg, time.Second, nil, nil)

	procs := d.Dispatch(context.Background(), []types.RecoveryAction{action("restart"), action("partial"), action("fail")})
	require.Len(t, procs, 3)
	assert.Equal(t, types.ProcessCompleted, procs[0].Status)
	assert.Equal(t, types.ProcessPartialRecovery, procs[1].Status)
	assert.Equal(t, 0.5, procs[1].Progress)
	assert.Equal(t, types.ProcessRecoveryFailed, procs[2].Status)
	assert.Contains(t, procs[2].Error, "status 500")
	assert.Equal(t, "vigil", received.Source)

	assert.Error(t, NewWebhookHandler("", 0).Execute(context.Background(), action("x")))
}

func TestConfigureReplacesWebhooks(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	cfg := testRecoveryConfig()
	cfg.Webhooks = map[string]string{"restart": srv.URL}
	d := NewDispatcher(cfg, time.Second, nil, nil)

	var local int32
	d.Register("restart", HandlerFunc(func(ctx context.Context, a types.RecoveryAction) error {
		atomic.AddInt32(&local, 1)
		return nil
	}))

	// the configured webhook wins over the registered handler
	procs := d.Dispatch(context.Background(), []types.RecoveryAction{action("restart")})
	require.Len(t, procs, 1)
	assert.Equal(t, types.ProcessCompleted, procs[0].Status)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
	assert.Equal(t, int32(0), atomic.LoadInt32(&local))

	cfg.Webhooks = nil
	d.Configure(cfg, time.Second)

	procs = d.Dispatch(context.Background(), []types.RecoveryAction{action("restart")})
	require.Len(t, procs, 1)
	assert.Equal(t, types.ProcessCompleted, procs[0].Status)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "removed webhook must not be called")
	assert.Equal(t, int32(1), atomic.LoadInt32(&local), "registered handler is restored")
}

func TestCircuitBreakerLifecycle(t *testing.T) {
	cb := NewCircuitBreaker("restart", 2, 20*time.Millisecond, nil)
	assert.NoError(t, cb.Allow())

	cb.RecordFailure()
	assert.Equal(t, CircuitClosed, cb.State())
	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)

	time.Sleep(30 * time.Millisecond)
	assert.NoError(t, cb.Allow(), "a trial call is allowed after the open timeout")
	assert.Equal(t, CircuitHalfOpen, cb.State())
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen, "only one trial call at a time")

	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, cb.Allow())
	cb.RecordSuccess()
	assert.Equal(t, CircuitClosed, cb.State())
	assert.Equal(t, "half_open", CircuitHalfOpen.String())
}
