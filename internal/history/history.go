// Package history keeps a bounded, in-memory window of composite states
// for trend analysis. Nothing is persisted across restarts.
package history

import (
	"sync"

	"github.com/steveyegge/vigil/internal/types"
)

// DefaultCapacity is used when a non-positive capacity is requested
const DefaultCapacity = 1000

// History is a FIFO of composite states bounded by capacity.
// When full, pushing a new state evicts the oldest one.
type History struct {
	mu sync.RWMutex

	// states holds recent states, oldest first (bounded by capacity)
	states   []*types.CompositeState
	capacity int
}

// New creates a history holding at most capacity states
func New(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &History{
		states:   make([]*types.CompositeState, 0, min(capacity, 64)),
		capacity: capacity,
	}
}

// Push appends a copy of state, evicting the oldest entries beyond capacity
func (h *History) Push(state *types.CompositeState) {
	if state == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.states = append(h.states, state.Clone())
	h.trimLocked()
}

// trimLocked enforces the capacity. Caller must hold h.mu.
func (h *History) trimLocked() {
	if len(h.states) <= h.capacity {
		return
	}
	drop := len(h.states) - h.capacity
	copy(h.states, h.states[drop:])
	for i := h.capacity; i < len(h.states); i++ {
		h.states[i] = nil
	}
	h.states = h.states[:h.capacity]
}

// Resize changes the capacity, evicting the oldest states if it shrank
func (h *History) Resize(capacity int) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.capacity = capacity
	h.trimLocked()
}

// AttachProcesses records recovery processes on the stored state with the
// given id. It reports false when that state was already evicted.
func (h *History) AttachProcesses(id string, processes []types.RecoveryProcess) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i := len(h.states) - 1; i >= 0; i-- {
		if h.states[i].ID != id {
			continue
		}
		h.states[i].Processes = make([]types.RecoveryProcess, len(processes))
		for j, p := range processes {
			h.states[i].Processes[j] = p.Clone()
		}
		return true
	}
	return false
}

// Len returns the number of stored states
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.states)
}

// Capacity returns the maximum number of stored states
func (h *History) Capacity() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.capacity
}

// Latest returns a copy of the newest state, or nil when empty
func (h *History) Latest() *types.CompositeState {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.states) == 0 {
		return nil
	}
	return h.states[len(h.states)-1].Clone()
}

// Recent returns copies of the last n states, oldest first.
// n <= 0 returns every stored state.
func (h *History) Recent(n int) []*types.CompositeState {
	h.mu.RLock()
	defer h.mu.RUnlock()

	start := 0
	if n > 0 && n < len(h.states) {
		start = len(h.states) - n
	}

	result := make([]*types.CompositeState, 0, len(h.states)-start)
	for _, s := range h.states[start:] {
		result = append(result, s.Clone())
	}
	return result
}

// DimensionSeries returns the last n recorded scores of one dimension,
// oldest first. States that lack the dimension are skipped.
func (h *History) DimensionSeries(dimension string, n int) []float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var series []float64
	for i := len(h.states) - 1; i >= 0 && (n <= 0 || len(series) < n); i-- {
		if h.states[i].Emergency {
			continue
		}
		if v, ok := h.states[i].Dimensions[dimension]; ok {
			series = append(series, v)
		}
	}
	reverse(series)
	return series
}

// CompositeSeries returns the last n composite scores, oldest first
func (h *History) CompositeSeries(n int) []float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	start := 0
	if n > 0 && n < len(h.states) {
		start = len(h.states) - n
	}
	series := make([]float64, 0, len(h.states)-start)
	for _, s := range h.states[start:] {
		series = append(series, s.Composite)
	}
	return series
}

func reverse(values []float64) {
	for i, j := 0, len(values)-1; i < j; i, j = i+1, j-1 {
		values[i], values[j] = values[j], values[i]
	}
}
