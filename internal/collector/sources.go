package collector

import (
	"context"
	"fmt"
	"sync"
)

// FuncSource adapts a function to the Source interface
type FuncSource struct {
	SourceName string
	Fn         func(ctx context.Context) (map[string]float64, error)
}

// NewFuncSource creates a source backed by fn
func NewFuncSource(name string, fn func(ctx context.Context) (map[string]float64, error)) *FuncSource {
	return &FuncSource{SourceName: name, Fn: fn}
}

func (s *FuncSource) Name() string { return s.SourceName }

func (s *FuncSource) Snapshot(ctx context.Context) (map[string]float64, error) {
	if s.Fn == nil {
		return nil, fmt.Errorf("source %s has no snapshot function", s.SourceName)
	}
	return s.Fn(ctx)
}

// StaticSource reports fixed readings that can be changed at runtime
type StaticSource struct {
	mu       sync.RWMutex
	name     string
	readings map[string]float64
}

// NewStaticSource creates a static source with initial readings
func NewStaticSource(name string, readings map[string]float64) *StaticSource {
	s := &StaticSource{name: name, readings: make(map[string]float64, len(readings))}
	for k, v := range readings {
		s.readings[k] = v
	}
	return s
}

func (s *StaticSource) Name() string { return s.name }

// Set changes one reading
func (s *StaticSource) Set(key string, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readings[key] = value
}

func (s *StaticSource) Snapshot(ctx context.Context) (map[string]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]float64, len(s.readings))
	for k, v := range s.readings {
		out[k] = v
	}
	return out, nil
}
