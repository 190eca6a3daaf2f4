package events

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// MultiSink fans events out to several sinks. A failing sink does not
// stop delivery to the others; their errors are joined.
type MultiSink struct {
	mu    sync.RWMutex
	sinks []Sink
}

// NewMultiSink creates a fan-out sink
func NewMultiSink(sinks ...Sink) *MultiSink {
	m := &MultiSink{}
	for _, s := range sinks {
		m.Add(s)
	}
	return m
}

// Add registers another sink. Nil sinks are ignored.
func (m *MultiSink) Add(s Sink) {
	if s == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sinks = append(m.sinks, s)
}

func (m *MultiSink) Emit(ctx context.Context, event *Event) error {
	m.mu.RLock()
	sinks := append([]Sink(nil), m.sinks...)
	m.mu.RUnlock()

	var errs []error
	for _, s := range sinks {
		if err := s.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink mirrors events to a zap logger at a level matching their severity
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a sink writing to logger
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("events")}
}

func (s *LogSink) Emit(ctx context.Context, event *Event) error {
	fields := []zap.Field{
		zap.String("event_type", string(event.Type)),
		zap.String("event_id", event.ID),
	}
	if event.StateID != "" {
		fields = append(fields, zap.String("state_id", event.StateID))
	}
	if event.Dimension != "" {
		fields = append(fields, zap.String("dimension", event.Dimension))
	}
	s.logger.Log(levelFor(event.Severity), event.Message, fields...)
	return nil
}

func levelFor(sev EventSeverity) zapcore.Level {
	switch sev {
	case SeverityWarning:
		return zapcore.WarnLevel
	case SeverityError, SeverityCritical:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Recorder keeps every emitted event in memory
type Recorder struct {
	mu     sync.Mutex
	events []*Event
}

func (r *Recorder) Emit(ctx context.Context, event *Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Events returns the recorded events in emission order
func (r *Recorder) Events() []*Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Event(nil), r.events...)
}

// OfType returns the recorded events of one type
func (r *Recorder) OfType(t EventType) []*Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Nop discards events
type Nop struct{}

func (Nop) Emit(context.Context, *Event) error { return nil }
