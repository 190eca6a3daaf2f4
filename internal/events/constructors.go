package events

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/steveyegge/vigil/internal/types"
)

// NewEvent creates an event with no specific data structure.
func NewEvent(eventType EventType, severity EventSeverity, message string, data map[string]interface{}) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now(),
		Severity:  severity,
		Message:   message,
		Data:      data,
	}
}

// NewCycleCompletedEvent creates an event for a published composite state.
func NewCycleCompletedEvent(state *types.CompositeState, duration time.Duration, substituted, failedSources []string) (*Event, error) {
	severity := SeverityInfo
	switch {
	case state.Status <= types.StatusCompromised:
		severity = SeverityError
	case state.Status == types.StatusChallenged:
		severity = SeverityWarning
	}

	event := &Event{
		ID:        uuid.New().String(),
		Type:      EventTypeCycleCompleted,
		Timestamp: state.Timestamp,
		StateID:   state.ID,
		Severity:  severity,
		Message: fmt.Sprintf("%s cycle: composite %.3f (%s), %d challenge(s)",
			state.Cycle, state.Composite, state.Status, len(state.Challenges)),
	}
	err := event.setData("CycleCompletedData", CycleCompletedData{
		Composite:    state.Composite,
		Status:       state.Status.String(),
		Cycle:        string(state.Cycle),
		Dimensions:   state.Dimensions,
		Challenges:   len(state.Challenges),
		DurationMs:   duration.Milliseconds(),
		Substituted:  substituted,
		FailedSource: failedSources,
	})
	if err != nil {
		return nil, err
	}
	return event, nil
}

// NewChallengeEvent creates an event for a detected challenge.
func NewChallengeEvent(stateID string, c types.Challenge) (*Event, error) {
	severity := SeverityWarning
	if c.Severity == types.SeverityCritical {
		severity = SeverityCritical
	}

	actions := make([]string, 0, len(c.Actions))
	for _, a := range c.Actions {
		actions = append(actions, a.Type)
	}

	event := &Event{
		ID:        uuid.New().String(),
		Type:      EventTypeChallengeDetected,
		Timestamp: c.DetectedAt,
		StateID:   stateID,
		Severity:  severity,
		Message:   c.Description,
	}
	if len(c.Dimensions) > 0 {
		event.Dimension = c.Dimensions[0]
	}
	err := event.setData("ChallengeData", ChallengeData{
		ChallengeID: c.ID,
		Kind:        string(c.Kind),
		Severity:    string(c.Severity),
		Score:       c.Score,
		Threshold:   c.Threshold,
		Actions:     actions,
	})
	if err != nil {
		return nil, err
	}
	return event, nil
}

// recoveryEventTypes maps a process status to the event reporting it
var recoveryEventTypes = map[types.ProcessStatus]struct {
	eventType EventType
	severity  EventSeverity
}{
	types.ProcessInitiated:          {EventTypeRecoveryStarted, SeverityInfo},
	types.ProcessInProgress:         {EventTypeRecoveryStarted, SeverityInfo},
	types.ProcessCompleted:          {EventTypeRecoveryCompleted, SeverityInfo},
	types.ProcessPartialRecovery:    {EventTypeRecoveryPartial, SeverityWarning},
	types.ProcessRecoveryFailed:     {EventTypeRecoveryFailed, SeverityError},
	types.ProcessRequiresEscalation: {EventTypeRecoveryEscalated, SeverityCritical},
}

// NewRecoveryEvent creates an event describing a recovery process in its current status.
func NewRecoveryEvent(p types.RecoveryProcess) (*Event, error) {
	kind, ok := recoveryEventTypes[p.Status]
	if !ok {
		return nil, fmt.Errorf("unknown process status: %s", p.Status)
	}

	var duration time.Duration
	if p.FinishedAt != nil {
		duration = p.FinishedAt.Sub(p.StartedAt)
	}

	msg := fmt.Sprintf("recovery %s %s", p.ActionType, p.Status)
	if p.Error != "" {
		msg = fmt.Sprintf("%s: %s", msg, p.Error)
	}

	event := &Event{
		ID:        uuid.New().String(),
		Type:      kind.eventType,
		Timestamp: time.Now(),
		Dimension: p.Dimension,
		Severity:  kind.severity,
		Message:   msg,
	}
	err := event.setData("RecoveryData", RecoveryData{
		ProcessID:   p.ID,
		ActionID:    p.ActionID,
		ActionType:  p.ActionType,
		ChallengeID: p.ChallengeID,
		Status:      string(p.Status),
		Progress:    p.Progress,
		Attempts:    p.Attempts,
		DurationMs:  duration.Milliseconds(),
		Error:       p.Error,
	})
	if err != nil {
		return nil, err
	}
	return event, nil
}

// NewFallbackEvent creates an event for an emergency fallback.
func NewFallbackEvent(stateID string, data FallbackData) (*Event, error) {
	event := &Event{
		ID:        uuid.New().String(),
		Type:      EventTypeEmergencyFallback,
		Timestamp: time.Now(),
		StateID:   stateID,
		Severity:  SeverityCritical,
		Message:   fmt.Sprintf("pipeline failed, published fallback state: %s", data.Cause),
	}
	if err := event.setData("FallbackData", data); err != nil {
		return nil, err
	}
	return event, nil
}

// NewConfigEvent creates an event for an accepted or rejected configuration change.
func NewConfigEvent(origin string, err error) *Event {
	if err != nil {
		return NewEvent(EventTypeConfigRejected, SeverityWarning,
			fmt.Sprintf("configuration from %s rejected: %v", origin, err),
			map[string]interface{}{"origin": origin, "error": err.Error()})
	}
	return NewEvent(EventTypeConfigUpdated, SeverityInfo,
		fmt.Sprintf("configuration updated from %s", origin),
		map[string]interface{}{"origin": origin})
}

// NewJournalCleanupEvent creates an event for a finished journal retention pass.
func NewJournalCleanupEvent(data JournalCleanupData) (*Event, error) {
	severity := SeverityInfo
	if !data.Success {
		severity = SeverityError
	}
	event := &Event{
		ID:        uuid.New().String(),
		Type:      EventTypeJournalCleanupCompleted,
		Timestamp: time.Now(),
		Severity:  severity,
		Message:   fmt.Sprintf("journal cleanup deleted %d event(s)", data.EventsDeleted),
	}
	if err := event.setData("JournalCleanupData", data); err != nil {
		return nil, err
	}
	return event, nil
}
