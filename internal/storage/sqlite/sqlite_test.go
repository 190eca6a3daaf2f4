package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/vigil/internal/config"
	"github.com/steveyegge/vigil/internal/events"
	"github.com/steveyegge/vigil/internal/types"
)

func newJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func event(id string, sev events.EventSeverity, age time.Duration) *events.Event {
	return &events.Event{
		ID:        id,
		Type:      events.EventTypeCycleCompleted,
		Timestamp: time.Now().Add(-age),
		StateID:   "state-" + id,
		Severity:  sev,
		Message:   "cycle " + id,
	}
}

func TestJournalRoundTrip(t *testing.T) {
	j := newJournal(t)
	ctx := context.Background()

	state := &types.CompositeState{
		ID:         "s1",
		Timestamp:  time.Now(),
		Dimensions: map[string]float64{"cpu": 0.9},
		Composite:  0.9,
		Status:     types.StatusGood,
		Cycle:      types.CycleRoutine,
	}
	cycle, err := events.NewCycleCompletedEvent(state, 15*time.Millisecond, nil, nil)
	require.NoError(t, err)
	require.NoError(t, j.Emit(ctx, cycle))

	challenge, err := events.NewChallengeEvent("s1", types.Challenge{
		ID:         "c1",
		Kind:       types.KindDimensionDegraded,
		Dimensions: []string{"memory"},
		Severity:   types.SeverityCritical,
		DetectedAt: time.Now().Add(time.Millisecond),
		Score:      0.3,
		Threshold:  0.6,
	})
	require.NoError(t, err)
	require.NoError(t, j.Emit(ctx, challenge))

	all, err := j.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, challenge.ID, all[0].ID, "most recent first")

	got, err := j.Query(ctx, EventFilter{Type: events.EventTypeCycleCompleted})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "s1", got[0].StateID)
	data, err := got[0].GetCycleCompletedData()
	require.NoError(t, err)
	assert.Equal(t, 0.9, data.Composite)
	assert.Equal(t, "good", data.Status)

	got, err = j.Query(ctx, EventFilter{Dimension: "memory", Severity: events.SeverityCritical})
	require.NoError(t, err)
	require.Len(t, got, 1)
	cdata, err := got[0].GetChallengeData()
	require.NoError(t, err)
	assert.Equal(t, 0.3, cdata.Score)

	got, err = j.Query(ctx, EventFilter{StateID: "missing"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestJournalDuplicateID(t *testing.T) {
	j := newJournal(t)
	ctx := context.Background()

	e := event("dup", events.SeverityInfo, 0)
	require.NoError(t, j.Emit(ctx, e))
	assert.Error(t, j.Emit(ctx, e))
}

func TestQueryTimeWindow(t *testing.T) {
	j := newJournal(t)
	ctx := context.Background()

	require.NoError(t, j.Emit(ctx, event("old", events.SeverityInfo, 2*time.Hour)))
	require.NoError(t, j.Emit(ctx, event("new", events.SeverityInfo, time.Minute)))

	got, err := j.Query(ctx, EventFilter{AfterTime: time.Now().Add(-time.Hour)})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].ID)

	got, err = j.Query(ctx, EventFilter{BeforeTime: time.Now().Add(-time.Hour)})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "old", got[0].ID)
}

func TestCleanupByAgeKeepsCriticalLonger(t *testing.T) {
	j := newJournal(t)
	ctx := context.Background()
	day := 24 * time.Hour

	fixtures := []*events.Event{
		event("info-recent", events.SeverityInfo, day),
		event("info-old", events.SeverityInfo, 40*day),
		event("warning-old", events.SeverityWarning, 40*day),
		event("critical-mid", events.SeverityCritical, 40*day),
		event("error-ancient", events.SeverityError, 100*day),
	}
	for _, e := range fixtures {
		require.NoError(t, j.Emit(ctx, e))
	}

	deleted, err := j.CleanupByAge(ctx, 30*day, 90*day, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)

	remaining, err := j.Recent(ctx, 0)
	require.NoError(t, err)
	var ids []string
	for _, e := range remaining {
		ids = append(ids, e.ID)
	}
	assert.ElementsMatch(t, []string{"info-recent", "critical-mid"}, ids)
}

func TestCleanupByAgeRejectsBadArguments(t *testing.T) {
	j := newJournal(t)
	_, err := j.CleanupByAge(context.Background(), -time.Hour, time.Hour, 10)
	assert.Error(t, err)
	_, err = j.CleanupByAge(context.Background(), time.Hour, time.Hour, 0)
	assert.Error(t, err)
}

func TestCleanupByGlobalLimit(t *testing.T) {
	j := newJournal(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, j.Emit(ctx, event(fmt.Sprintf("info-%02d", i), events.SeverityInfo, time.Duration(20-i)*time.Minute)))
	}
	for i := 0; i < 3; i++ {
		require.NoError(t, j.Emit(ctx, event(fmt.Sprintf("crit-%d", i), events.SeverityCritical, time.Hour)))
	}

	deleted, err := j.CleanupByGlobalLimit(ctx, 8, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, deleted)

	counts, err := j.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 8, counts.TotalEvents)
	assert.Equal(t, 3, counts.EventsBySeverity["critical"])
	assert.Equal(t, 8, counts.EventsByType[string(events.EventTypeCycleCompleted)])

	// the oldest regular events went first
	got, err := j.Query(ctx, EventFilter{Severity: events.SeverityInfo})
	require.NoError(t, err)
	require.Len(t, got, 5)
	assert.Equal(t, "info-05", got[len(got)-1].ID)

	// critical events alone may exceed the limit
	deleted, err = j.CleanupByGlobalLimit(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 5, deleted)
	counts, err = j.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, counts.TotalEvents)
}

func TestRunCleanup(t *testing.T) {
	j := newJournal(t)
	ctx := context.Background()

	require.NoError(t, j.Emit(ctx, event("stale", events.SeverityInfo, 45*24*time.Hour)))
	require.NoError(t, j.Emit(ctx, event("fresh", events.SeverityInfo, time.Minute)))

	data, err := j.RunCleanup(ctx, config.DefaultJournalConfig())
	require.NoError(t, err)
	assert.True(t, data.Success)
	assert.Equal(t, 1, data.TimeBasedDeleted)
	assert.Equal(t, 1, data.EventsDeleted)
	assert.Equal(t, 1, data.EventsRemaining)
}

func TestCleanupLoopReportsPasses(t *testing.T) {
	j := newJournal(t)
	rec := &events.Recorder{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		j.CleanupLoop(ctx, config.DefaultJournalConfig(), rec, nil)
	}()

	require.Eventually(t, func() bool {
		return len(rec.OfType(events.EventTypeJournalCleanupCompleted)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("cleanup loop did not stop")
	}
}

func TestNewOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "journal.db")
	j, err := New(path)
	require.NoError(t, err)
	require.NoError(t, j.Emit(context.Background(), event("e1", events.SeverityInfo, 0)))
	require.NoError(t, j.Close())

	j, err = New(path)
	require.NoError(t, err)
	defer func() { _ = j.Close() }()
	got, err := j.Recent(context.Background(), 5)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
