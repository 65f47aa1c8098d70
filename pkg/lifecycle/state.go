package lifecycle

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// NodeState represents the progress of a component within a single pass
type NodeState string

const (
	// NodeStatePending indicates no hook of the component has run yet
	NodeStatePending NodeState = "Pending"

	// NodeStateRunning indicates the component has entered the pass and is
	// waiting for, or running, its remaining phases
	NodeStateRunning NodeState = "Running"

	// NodeStateDone indicates every phase of the component completed
	NodeStateDone NodeState = "Done"

	// NodeStateFailed indicates a hook of the component returned an error or panicked
	NodeStateFailed NodeState = "Failed"

	// NodeStateSkipped indicates the pass stopped before the component finished
	NodeStateSkipped NodeState = "Skipped"
)

// NodeStatus contains the pass status of a single component
type NodeStatus struct {
	// State is the current state of the component
	State NodeState

	// Phase is the last phase entered by the component
	Phase Phase

	// Error contains the error message if State is NodeStateFailed
	Error string

	// StartTime is when the component's first hook started
	StartTime *time.Time

	// EndTime is when the component reached a terminal state
	EndTime *time.Time
}

// PassState tracks the state of every component during one pass
type PassState[K comparable] struct {
	mu sync.RWMutex

	// order is the order the pass walks components in
	order []K

	// nodeStates maps component key to its current status
	nodeStates map[K]*NodeStatus

	// startTime is when the pass started
	startTime time.Time

	// endTime is when the pass completed (or failed)
	endTime *time.Time
}

// NewPassState creates a tracker with every key pending
func NewPassState[K comparable](keys []K) *PassState[K] {
	states := make(map[K]*NodeStatus, len(keys))
	for _, key := range keys {
		states[key] = &NodeStatus{
			State: NodeStatePending,
		}
	}

	order := make([]K, len(keys))
	copy(order, keys)

	return &PassState[K]{
		order:      order,
		nodeStates: states,
		startTime:  time.Now(),
	}
}

// Keys returns the keys in pass order
func (ps *PassState[K]) Keys() []K {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	keys := make([]K, len(ps.order))
	copy(keys, ps.order)
	return keys
}

// GetState returns the current state of a component
func (ps *PassState[K]) GetState(key K) (NodeState, error) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	status, found := ps.nodeStates[key]
	if !found {
		return "", fmt.Errorf("node %v not found", key)
	}
	return status.State, nil
}

// GetStatus returns the full status of a component
func (ps *PassState[K]) GetStatus(key K) (*NodeStatus, error) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	status, found := ps.nodeStates[key]
	if !found {
		return nil, fmt.Errorf("node %v not found", key)
	}

	// Return a copy to prevent external modification
	statusCopy := *status
	return &statusCopy, nil
}

// SetState updates the state of a component with validation
func (ps *PassState[K]) SetState(key K, newState NodeState) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	status, found := ps.nodeStates[key]
	if !found {
		return fmt.Errorf("node %v not found", key)
	}

	if err := validateStateTransition(status.State, newState); err != nil {
		return fmt.Errorf("invalid state transition for node %v: %w", key, err)
	}

	status.State = newState

	now := time.Now()
	switch newState {
	case NodeStateRunning:
		if status.StartTime == nil {
			status.StartTime = &now
		}
	case NodeStateDone, NodeStateSkipped:
		status.EndTime = &now
	}

	return nil
}

// SetPhase records the phase a component has entered
func (ps *PassState[K]) SetPhase(key K, phase Phase) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	status, found := ps.nodeStates[key]
	if !found {
		return fmt.Errorf("node %v not found", key)
	}
	status.Phase = phase
	return nil
}

// SetError sets a component to failed state with an error message
func (ps *PassState[K]) SetError(key K, err error) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	status, found := ps.nodeStates[key]
	if !found {
		return fmt.Errorf("node %v not found", key)
	}

	now := time.Now()
	status.State = NodeStateFailed
	status.Error = err.Error()
	status.EndTime = &now

	return nil
}

// SkipRemaining marks every component that has not reached a terminal state
// as skipped
func (ps *PassState[K]) SkipRemaining() {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	now := time.Now()
	for _, status := range ps.nodeStates {
		if status.State == NodeStatePending || status.State == NodeStateRunning {
			status.State = NodeStateSkipped
			status.EndTime = &now
		}
	}
}

// GetNodesInState returns, in pass order, all keys in a given state
func (ps *PassState[K]) GetNodesInState(state NodeState) []K {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	var keys []K
	for _, key := range ps.order {
		if ps.nodeStates[key].State == state {
			keys = append(keys, key)
		}
	}
	return keys
}

// GetAllStates returns a copy of all component states
func (ps *PassState[K]) GetAllStates() map[K]NodeState {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	states := make(map[K]NodeState, len(ps.nodeStates))
	for key, status := range ps.nodeStates {
		states[key] = status.State
	}
	return states
}

// IsComplete returns true if all components are in a terminal state
func (ps *PassState[K]) IsComplete() bool {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	for _, status := range ps.nodeStates {
		if !status.State.terminal() {
			return false
		}
	}
	return true
}

// HasErrors returns true if any component failed
func (ps *PassState[K]) HasErrors() bool {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	for _, status := range ps.nodeStates {
		if status.State == NodeStateFailed {
			return true
		}
	}
	return false
}

// Err joins the errors of every failed component in pass order, or returns
// nil when nothing failed
func (ps *PassState[K]) Err() error {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	var errs []error
	for _, key := range ps.order {
		status := ps.nodeStates[key]
		if status.State == NodeStateFailed {
			errs = append(errs, fmt.Errorf("component %v: %s", key, status.Error))
		}
	}
	return errors.Join(errs...)
}

// GetSummary returns a summary of the pass
func (ps *PassState[K]) GetSummary() PassSummary {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	summary := PassSummary{
		Total:     len(ps.nodeStates),
		StartTime: ps.startTime,
		EndTime:   ps.endTime,
	}

	for _, status := range ps.nodeStates {
		switch status.State {
		case NodeStatePending:
			summary.Pending++
		case NodeStateRunning:
			summary.Running++
		case NodeStateDone:
			summary.Done++
		case NodeStateFailed:
			summary.Failed++
		case NodeStateSkipped:
			summary.Skipped++
		}
	}

	return summary
}

// MarkComplete marks the pass as complete
func (ps *PassState[K]) MarkComplete() {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	now := time.Now()
	ps.endTime = &now
}

// PassSummary provides a summary of a pass
type PassSummary struct {
	Total     int
	Pending   int
	Running   int
	Done      int
	Failed    int
	Skipped   int
	StartTime time.Time
	EndTime   *time.Time
}

func (s NodeState) terminal() bool {
	return s == NodeStateDone || s == NodeStateFailed || s == NodeStateSkipped
}

// validateStateTransition checks if a state transition is valid
func validateStateTransition(from, to NodeState) error {
	validTransitions := map[NodeState][]NodeState{
		NodeStatePending: {
			NodeStateRunning,
			NodeStateFailed,
			NodeStateSkipped,
		},
		NodeStateRunning: {
			NodeStateDone,
			NodeStateFailed,
			NodeStateSkipped,
		},
		NodeStateDone:    {},
		NodeStateFailed:  {},
		NodeStateSkipped: {},
	}

	allowed, found := validTransitions[from]
	if !found {
		return fmt.Errorf("unknown state: %s", from)
	}

	for _, allowedState := range allowed {
		if allowedState == to {
			return nil
		}
	}

	return fmt.Errorf("cannot transition from %s to %s", from, to)
}
