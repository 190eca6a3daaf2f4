package monitor

import (
	"context"
	"fmt"

	"github.com/steveyegge/vigil/internal/detect"
	"github.com/steveyegge/vigil/internal/recovery"
	"github.com/steveyegge/vigil/internal/types"
)

// Stabilizer is told when the monitor falls back to the emergency state
type Stabilizer interface {
	Stabilize(ctx context.Context, state *types.CompositeState) ([]types.RecoveryProcess, error)
}

// DispatchStabilizer runs the emergency state's actions through the
// recovery dispatcher, so a webhook registered for emergency_stabilization
// receives them
type DispatchStabilizer struct {
	dispatcher *recovery.Dispatcher
}

// NewDispatchStabilizer creates a stabilizer backed by d
func NewDispatchStabilizer(d *recovery.Dispatcher) *DispatchStabilizer {
	return &DispatchStabilizer{dispatcher: d}
}

// Stabilize dispatches every action of the state's challenges. It fails
// when any process did not at least partially recover.
func (s *DispatchStabilizer) Stabilize(ctx context.Context, state *types.CompositeState) ([]types.RecoveryProcess, error) {
	processes := s.dispatcher.Dispatch(ctx, detect.Actions(state.Challenges))
	for _, p := range processes {
		switch p.Status {
		case types.ProcessCompleted, types.ProcessPartialRecovery:
		default:
			return processes, fmt.Errorf("emergency stabilization %s: %s", p.Status, p.Error)
		}
	}
	return processes, nil
}
