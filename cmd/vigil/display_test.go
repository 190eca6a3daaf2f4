package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/vigil/internal/events"
	"github.com/steveyegge/vigil/internal/types"
)

func init() {
	color.NoColor = true
}

func TestTruncateString(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"exactly ten", 11, "exactly ten"},
		{"this is too long", 10, "this is..."},
		{"tiny", 3, "tiny"},
		{"ünïcödé strings", 8, "ünïcö..."},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, truncateString(tt.in, tt.max), tt.in)
	}
}

func TestBar(t *testing.T) {
	assert.Equal(t, "██████████", bar(1.0, 10))
	assert.Equal(t, "░░░░░░░░░░", bar(0, 10))
	assert.Equal(t, "█████░░░░░", bar(0.5, 10))
	assert.Equal(t, "██████████", bar(1.7, 10))
	assert.Equal(t, "░░░░", bar(-1, 4))
}

func TestSortedKeys(t *testing.T) {
	assert.Equal(t, []string{"cpu", "disk", "memory"}, sortedKeys(map[string]float64{"memory": 1, "cpu": 2, "disk": 3}))
}

func TestHealthy(t *testing.T) {
	assert.False(t, healthy(nil))
	assert.True(t, healthy(&types.CompositeState{Status: types.StatusAdequate}))
	assert.True(t, healthy(&types.CompositeState{Status: types.StatusOptimal}))
	assert.False(t, healthy(&types.CompositeState{Status: types.StatusChallenged}))
	assert.False(t, healthy(&types.CompositeState{Status: types.StatusGood, Emergency: true}))
}

func TestPrintState(t *testing.T) {
	var buf bytes.Buffer
	printState(&buf, nil)
	assert.Contains(t, buf.String(), "No cycle has completed yet")

	buf.Reset()
	printState(&buf, &types.CompositeState{
		ID:         "state-1",
		Timestamp:  time.Now(),
		Composite:  0.895,
		Status:     types.StatusGood,
		Cycle:      types.CycleRoutine,
		Dimensions: map[string]float64{"memory": 0.3, "cpu": 1.0},
		Challenges: []types.Challenge{{Severity: types.SeverityCritical, Description: "memory below critical threshold"}},
		Processes:  []types.RecoveryProcess{{ActionType: types.ActionComprehensiveRecovery, Status: types.ProcessCompleted, Progress: 1}},
	})

	out := buf.String()
	assert.Contains(t, out, "0.895 good")
	assert.Contains(t, out, "[critical] memory below critical threshold")
	assert.Contains(t, out, "comprehensive_recovery")
	assert.Contains(t, out, "100%")
	assert.NotContains(t, out, "EMERGENCY")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("cpu")), bytes.Index(buf.Bytes(), []byte("memory ")))
}

func TestPrintStateEmergency(t *testing.T) {
	var buf bytes.Buffer
	printState(&buf, &types.CompositeState{ID: "fb", Composite: 0.5, Status: types.StatusCompromised, Emergency: true})
	assert.Contains(t, buf.String(), "EMERGENCY FALLBACK")
}

func TestDisplayEvent(t *testing.T) {
	state := &types.CompositeState{
		ID:         "abcdef0123456789",
		Composite:  0.8,
		Status:     types.StatusAdequate,
		Cycle:      types.CycleRoutine,
		Dimensions: map[string]float64{"cpu": 0.8},
	}
	event, err := events.NewCycleCompletedEvent(state, 12*time.Millisecond, nil, nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	displayEvent(&buf, event)
	out := buf.String()

	assert.Contains(t, out, "cycle_completed")
	assert.Contains(t, out, "state=abcdef012...")
	assert.Contains(t, out, "composite=0.800")
	assert.Contains(t, out, "status=adequate")
	assert.Contains(t, out, "12ms")
}

func TestGetEventIconFallsBackToSeverity(t *testing.T) {
	assert.Equal(t, "‼", getEventIcon(&events.Event{Type: events.EventTypeEmergencyFallback}))
	assert.Equal(t, "!", getEventIcon(&events.Event{Type: events.EventTypeSourceFailed, Severity: events.SeverityWarning}))
	assert.Equal(t, "•", getEventIcon(&events.Event{Type: events.EventTypeMonitorStarted, Severity: events.SeverityInfo}))
}
