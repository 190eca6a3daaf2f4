package types

import (
	"fmt"
	"time"
)

// Status classifies a composite score. Values are ordered from worst to best
// so they can be compared directly (StatusGood > StatusAdequate).
type Status int

const (
	StatusCriticalFailure Status = iota
	StatusCompromised
	StatusChallenged
	StatusAdequate
	StatusGood
	StatusOptimal
)

var statusNames = map[Status]string{
	StatusCriticalFailure: "critical_failure",
	StatusCompromised:     "compromised",
	StatusChallenged:      "challenged",
	StatusAdequate:        "adequate",
	StatusGood:            "good",
	StatusOptimal:         "optimal",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// IsValid checks if the status value is one of the defined bands
func (s Status) IsValid() bool {
	_, ok := statusNames[s]
	return ok
}

// MarshalText encodes the status by name so JSON and YAML stay readable
func (s Status) MarshalText() ([]byte, error) {
	if !s.IsValid() {
		return nil, fmt.Errorf("invalid status: %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name produced by MarshalText
func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseStatus converts a status name back to its value
func ParseStatus(name string) (Status, error) {
	for status, n := range statusNames {
		if n == name {
			return status, nil
		}
	}
	return 0, fmt.Errorf("invalid status: %q", name)
}

// Severity rates how serious a challenge is
type Severity string

const (
	SeverityMinor       Severity = "minor"
	SeverityModerate    Severity = "moderate"
	SeveritySignificant Severity = "significant" // below the minimum threshold
	SeverityCritical    Severity = "critical"    // below the critical threshold
)

var severityRank = map[Severity]int{
	SeverityMinor:       0,
	SeverityModerate:    1,
	SeveritySignificant: 2,
	SeverityCritical:    3,
}

// IsValid checks if the severity value is valid
func (s Severity) IsValid() bool {
	_, ok := severityRank[s]
	return ok
}

// AtLeast reports whether s is as severe as min or more
func (s Severity) AtLeast(min Severity) bool {
	return severityRank[s] >= severityRank[min]
}

// ChallengeKind tags what a challenge is about
type ChallengeKind string

const (
	// KindDimensionDegraded means one dimension fell below the minimum threshold
	KindDimensionDegraded ChallengeKind = "dimension_degraded"
	// KindStateDesync means the monitoring pipeline itself failed and the
	// published state is a fallback, not a measurement
	KindStateDesync ChallengeKind = "state_desynchronization"
)

// Well-known recovery action types
const (
	ActionComprehensiveRecovery  = "comprehensive_recovery"
	ActionEmergencyStabilization = "emergency_stabilization"
)

// Challenge is a detected degradation together with the actions proposed to fix it
type Challenge struct {
	ID          string           `json:"id"`
	Kind        ChallengeKind    `json:"kind"`
	Dimensions  []string         `json:"dimensions"`
	Severity    Severity         `json:"severity"`
	Description string           `json:"description"`
	DetectedAt  time.Time        `json:"detected_at"`
	Score       float64          `json:"score"`
	Threshold   float64          `json:"threshold"`
	Actions     []RecoveryAction `json:"actions,omitempty"`
}

// RecoveryAction is one step proposed to remedy a challenge
type RecoveryAction struct {
	ID                string                 `json:"id"`
	Type              string                 `json:"type"`
	Description       string                 `json:"description"`
	Priority          int                    `json:"priority"` // 0 is most urgent
	EstimatedDuration time.Duration          `json:"estimated_duration"`
	Dimension         string                 `json:"dimension,omitempty"`
	ChallengeID       string                 `json:"challenge_id,omitempty"`
	Parameters        map[string]interface{} `json:"parameters,omitempty"`
}

// ProcessStatus is the lifecycle state of a recovery process
type ProcessStatus string

const (
	ProcessInitiated          ProcessStatus = "initiated"
	ProcessInProgress         ProcessStatus = "in_progress"
	ProcessCompleted          ProcessStatus = "completed"
	ProcessPartialRecovery    ProcessStatus = "partial_recovery"
	ProcessRecoveryFailed     ProcessStatus = "recovery_failed"
	ProcessRequiresEscalation ProcessStatus = "requires_escalation"
)

// IsTerminal reports whether the process has finished, successfully or not
func (s ProcessStatus) IsTerminal() bool {
	switch s {
	case ProcessCompleted, ProcessPartialRecovery, ProcessRecoveryFailed, ProcessRequiresEscalation:
		return true
	}
	return false
}

// RecoveryProcess tracks the execution of a single RecoveryAction
type RecoveryProcess struct {
	ID          string        `json:"id"`
	ActionID    string        `json:"action_id"`
	ActionType  string        `json:"action_type"`
	ChallengeID string        `json:"challenge_id,omitempty"`
	Dimension   string        `json:"dimension,omitempty"`
	Status      ProcessStatus `json:"status"`
	Progress    float64       `json:"progress"`
	Attempts    int           `json:"attempts"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  *time.Time    `json:"finished_at,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// CycleKind distinguishes routine cycles from detailed ones
type CycleKind string

const (
	CycleRoutine  CycleKind = "routine"
	CycleDetailed CycleKind = "detailed"
)

// CompositeState is one snapshot of system health produced by a monitoring cycle
type CompositeState struct {
	ID         string                 `json:"id"`
	Timestamp  time.Time              `json:"timestamp"`
	Dimensions map[string]float64     `json:"dimensions"`
	Composite  float64                `json:"composite"`
	Status     Status                 `json:"status"`
	Challenges []Challenge            `json:"challenges"`
	Processes  []RecoveryProcess      `json:"processes"`
	Context    map[string]interface{} `json:"context,omitempty"`
	Cycle      CycleKind              `json:"cycle"`
	Emergency  bool                   `json:"emergency,omitempty"` // fallback state, not a measurement
}

// CriticalCount returns the number of critical challenges in the state
func (s *CompositeState) CriticalCount() int {
	n := 0
	for _, c := range s.Challenges {
		if c.Severity == SeverityCritical {
			n++
		}
	}
	return n
}

// Clone returns a deep copy of the state.
// Context values are copied shallowly.
func (s *CompositeState) Clone() *CompositeState {
	if s == nil {
		return nil
	}
	out := *s

	if s.Dimensions != nil {
		out.Dimensions = make(map[string]float64, len(s.Dimensions))
		for k, v := range s.Dimensions {
			out.Dimensions[k] = v
		}
	}

	if s.Challenges != nil {
		out.Challenges = make([]Challenge, len(s.Challenges))
		for i, c := range s.Challenges {
			out.Challenges[i] = c.Clone()
		}
	}

	if s.Processes != nil {
		out.Processes = make([]RecoveryProcess, len(s.Processes))
		for i, p := range s.Processes {
			out.Processes[i] = p.Clone()
		}
	}

	if s.Context != nil {
		out.Context = make(map[string]interface{}, len(s.Context))
		for k, v := range s.Context {
			out.Context[k] = v
		}
	}

	return &out
}

// Clone returns a deep copy of the challenge
func (c Challenge) Clone() Challenge {
	out := c
	if c.Dimensions != nil {
		out.Dimensions = append([]string(nil), c.Dimensions...)
	}
	if c.Actions != nil {
		out.Actions = make([]RecoveryAction, len(c.Actions))
		for i, a := range c.Actions {
			out.Actions[i] = a.Clone()
		}
	}
	return out
}

// Clone returns a copy of the action with its own parameter map
func (a RecoveryAction) Clone() RecoveryAction {
	out := a
	if a.Parameters != nil {
		out.Parameters = make(map[string]interface{}, len(a.Parameters))
		for k, v := range a.Parameters {
			out.Parameters[k] = v
		}
	}
	return out
}

// Clone returns a copy of the process
func (p RecoveryProcess) Clone() RecoveryProcess {
	out := p
	if p.FinishedAt != nil {
		t := *p.FinishedAt
		out.FinishedAt = &t
	}
	return out
}
