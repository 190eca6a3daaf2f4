package events

import (
	"context"
	"time"
)

// EventType represents the type of event emitted by the monitor.
type EventType string

const (
	// Lifecycle events
	// EventTypeMonitorStarted indicates the monitoring loop started
	EventTypeMonitorStarted EventType = "monitor_started"
	// EventTypeMonitorStopped indicates the monitoring loop stopped
	EventTypeMonitorStopped EventType = "monitor_stopped"
	// EventTypeMonitorPaused indicates cycles are being skipped
	EventTypeMonitorPaused EventType = "monitor_paused"
	// EventTypeMonitorResumed indicates cycles run again after a pause
	EventTypeMonitorResumed EventType = "monitor_resumed"

	// Cycle events
	// EventTypeCycleCompleted indicates a monitoring cycle published a new state
	EventTypeCycleCompleted EventType = "cycle_completed"
	// EventTypeChallengeDetected indicates a dimension fell below the minimum threshold
	EventTypeChallengeDetected EventType = "challenge_detected"
	// EventTypeSourceFailed indicates a source failed and its dimensions got default readings
	EventTypeSourceFailed EventType = "source_failed"
	// EventTypeEmergencyFallback indicates the pipeline failed and the fallback state was published
	EventTypeEmergencyFallback EventType = "emergency_fallback"

	// Recovery events
	// EventTypeRecoveryStarted indicates a recovery process was initiated
	EventTypeRecoveryStarted EventType = "recovery_started"
	// EventTypeRecoveryCompleted indicates a recovery process completed
	EventTypeRecoveryCompleted EventType = "recovery_completed"
	// EventTypeRecoveryPartial indicates a recovery process made partial progress
	EventTypeRecoveryPartial EventType = "recovery_partial"
	// EventTypeRecoveryFailed indicates a recovery process failed
	EventTypeRecoveryFailed EventType = "recovery_failed"
	// EventTypeRecoveryEscalated indicates a recovery process needs a human
	EventTypeRecoveryEscalated EventType = "recovery_escalated"

	// Configuration events
	// EventTypeConfigUpdated indicates a new configuration took effect
	EventTypeConfigUpdated EventType = "config_updated"
	// EventTypeConfigRejected indicates a configuration update failed validation
	EventTypeConfigRejected EventType = "config_rejected"

	// EventTypeJournalCleanupCompleted indicates a journal retention pass finished
	EventTypeJournalCleanupCompleted EventType = "journal_cleanup_completed"
)

// EventSeverity represents the severity level of an event.
type EventSeverity string

const (
	// SeverityInfo is for informational events
	SeverityInfo EventSeverity = "info"
	// SeverityWarning is for warning events
	SeverityWarning EventSeverity = "warning"
	// SeverityError is for error events
	SeverityError EventSeverity = "error"
	// SeverityCritical is for critical events that require attention
	SeverityCritical EventSeverity = "critical"
)

// Event is one structured record of something the monitor did.
type Event struct {
	// ID is the unique identifier for this event
	ID string `json:"id"`
	// Type categorizes the event
	Type EventType `json:"type"`
	// Timestamp is when the event occurred
	Timestamp time.Time `json:"timestamp"`
	// StateID is the composite state this event belongs to, if any
	StateID string `json:"state_id,omitempty"`
	// Dimension is the dimension this event concerns, if any
	Dimension string `json:"dimension,omitempty"`
	// Severity indicates the importance level
	Severity EventSeverity `json:"severity"`
	// Message is a human-readable description
	Message string `json:"message"`
	// Data holds event-specific structured data
	Data map[string]interface{} `json:"data,omitempty"`
}

// Sink receives monitor events. Emit must not block for long; sinks that
// do I/O should bound it with ctx.
type Sink interface {
	Emit(ctx context.Context, event *Event) error
}

// CycleCompletedData contains structured data for cycle completion events.
type CycleCompletedData struct {
	Composite    float64            `json:"composite"`
	Status       string             `json:"status"`
	Cycle        string             `json:"cycle"`
	Dimensions   map[string]float64 `json:"dimensions"`
	Challenges   int                `json:"challenges"`
	DurationMs   int64              `json:"duration_ms"`
	Substituted  []string           `json:"substituted,omitempty"`
	FailedSource []string           `json:"failed_sources,omitempty"`
}

// ChallengeData contains structured data for challenge detection events.
type ChallengeData struct {
	ChallengeID string   `json:"challenge_id"`
	Kind        string   `json:"kind"`
	Severity    string   `json:"severity"`
	Score       float64  `json:"score"`
	Threshold   float64  `json:"threshold"`
	Actions     []string `json:"actions"`
}

// RecoveryData contains structured data for recovery process events.
type RecoveryData struct {
	ProcessID   string  `json:"process_id"`
	ActionID    string  `json:"action_id"`
	ActionType  string  `json:"action_type"`
	ChallengeID string  `json:"challenge_id,omitempty"`
	Status      string  `json:"status"`
	Progress    float64 `json:"progress"`
	Attempts    int     `json:"attempts"`
	DurationMs  int64   `json:"duration_ms,omitempty"`
	Error       string  `json:"error,omitempty"`
}

// FallbackData contains structured data for emergency fallback events.
type FallbackData struct {
	Cause           string `json:"cause"`
	Panic           bool   `json:"panic"`
	StabilizerError string `json:"stabilizer_error,omitempty"`
}

// ConfigChangeData contains structured data for configuration events.
type ConfigChangeData struct {
	Origin string `json:"origin"` // api, socket, file
	Error  string `json:"error,omitempty"`
}

// JournalCleanupData contains structured data for journal cleanup events.
type JournalCleanupData struct {
	EventsDeleted      int    `json:"events_deleted"`
	TimeBasedDeleted   int    `json:"time_based_deleted"`
	GlobalLimitDeleted int    `json:"global_limit_deleted"`
	EventsRemaining    int    `json:"events_remaining"`
	ProcessingTimeMs   int64  `json:"processing_time_ms"`
	Success            bool   `json:"success"`
	Error              string `json:"error,omitempty"`
}
