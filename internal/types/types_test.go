package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusOrdering(t *testing.T) {
	ordered := []Status{
		StatusCriticalFailure,
		StatusCompromised,
		StatusChallenged,
		StatusAdequate,
		StatusGood,
		StatusOptimal,
	}
	for i := 1; i < len(ordered); i++ {
		if ordered[i] <= ordered[i-1] {
			t.Errorf("%s should rank above %s", ordered[i], ordered[i-1])
		}
	}
}

func TestStatusJSONUsesNames(t *testing.T) {
	state := CompositeState{ID: "s1", Status: StatusAdequate}

	data, err := json.Marshal(state)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"status":"adequate"`)

	var decoded CompositeState
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, StatusAdequate, decoded.Status)
}

func TestParseStatusRejectsUnknown(t *testing.T) {
	_, err := ParseStatus("splendid")
	assert.Error(t, err)

	_, err = Status(42).MarshalText()
	assert.Error(t, err)
	assert.Equal(t, "status(42)", Status(42).String())
}

func TestSeverityAtLeast(t *testing.T) {
	tests := []struct {
		name     string
		severity Severity
		min      Severity
		want     bool
	}{
		{"critical meets significant", SeverityCritical, SeveritySignificant, true},
		{"significant meets significant", SeveritySignificant, SeveritySignificant, true},
		{"moderate below significant", SeverityModerate, SeveritySignificant, false},
		{"minor meets minor", SeverityMinor, SeverityMinor, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.severity.AtLeast(tt.min); got != tt.want {
				t.Errorf("AtLeast() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestProcessStatusIsTerminal(t *testing.T) {
	assert.False(t, ProcessInitiated.IsTerminal())
	assert.False(t, ProcessInProgress.IsTerminal())
	assert.True(t, ProcessCompleted.IsTerminal())
	assert.True(t, ProcessPartialRecovery.IsTerminal())
	assert.True(t, ProcessRecoveryFailed.IsTerminal())
	assert.True(t, ProcessRequiresEscalation.IsTerminal())
}

func TestCompositeStateCloneIsIndependent(t *testing.T) {
	finished := time.Now()
	orig := &CompositeState{
		ID:         "s1",
		Dimensions: map[string]float64{"cpu": 0.9},
		Challenges: []Challenge{{
			ID:         "c1",
			Dimensions: []string{"cpu"},
			Severity:   SeverityCritical,
			Actions: []RecoveryAction{{
				ID:         "a1",
				Parameters: map[string]interface{}{"dimension": "cpu"},
			}},
		}},
		Processes: []RecoveryProcess{{ID: "p1", FinishedAt: &finished}},
		Context:   map[string]interface{}{"k": "v"},
	}

	clone := orig.Clone()
	clone.Dimensions["cpu"] = 0.1
	clone.Challenges[0].Dimensions[0] = "memory"
	clone.Challenges[0].Actions[0].Parameters["dimension"] = "memory"
	*clone.Processes[0].FinishedAt = finished.Add(time.Hour)
	clone.Context["k"] = "changed"

	assert.Equal(t, 0.9, orig.Dimensions["cpu"])
	assert.Equal(t, "cpu", orig.Challenges[0].Dimensions[0])
	assert.Equal(t, "cpu", orig.Challenges[0].Actions[0].Parameters["dimension"])
	assert.True(t, orig.Processes[0].FinishedAt.Equal(finished))
	assert.Equal(t, "v", orig.Context["k"])

	var nilState *CompositeState
	assert.Nil(t, nilState.Clone())
}

func TestCriticalCount(t *testing.T) {
	s := &CompositeState{Challenges: []Challenge{
		{Severity: SeverityCritical},
		{Severity: SeveritySignificant},
		{Severity: SeverityCritical},
	}}
	assert.Equal(t, 2, s.CriticalCount())
}
