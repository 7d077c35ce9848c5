package workflows

import (
	"fmt"
	"sync"
)

// InvalidTransitionError is returned when a move is not in the table.
type InvalidTransitionError[S comparable] struct {
	From S
	To   S
}

func (e *InvalidTransitionError[S]) Error() string {
	return fmt.Sprintf("invalid transition from %v to %v", e.From, e.To)
}

// StateMachine enforces transitions between a fixed set of states
type StateMachine[S comparable] struct {
	allowedTransitions map[S][]S
}

// NewStateMachine creates a new state machine with allowed transitions
func NewStateMachine[S comparable](allowed map[S][]S) *StateMachine[S] {
	copied := make(map[S][]S, len(allowed))
	for from, to := range allowed {
		copied[from] = append([]S(nil), to...)
	}
	return &StateMachine[S]{allowedTransitions: copied}
}

// CanTransition checks if a status transition is allowed
func (sm *StateMachine[S]) CanTransition(from, to S) bool {
	allowed, exists := sm.allowedTransitions[from]
	if !exists {
		return false
	}
	for _, allowedTo := range allowed {
		if allowedTo == to {
			return true
		}
	}
	return false
}

// GetAllowedTransitions returns the allowed next statuses for a given status
func (sm *StateMachine[S]) GetAllowedTransitions(from S) []S {
	allowed, exists := sm.allowedTransitions[from]
	if !exists {
		return []S{}
	}
	return append([]S(nil), allowed...)
}

// IsTerminal reports whether no transition leaves from.
func (sm *StateMachine[S]) IsTerminal(from S) bool {
	return len(sm.allowedTransitions[from]) == 0
}

// Tracker holds the current state of one entity and only moves it along
// allowed transitions.
type Tracker[S comparable] struct {
	mu      sync.RWMutex
	sm      *StateMachine[S]
	current S
}

func NewTracker[S comparable](sm *StateMachine[S], initial S) *Tracker[S] {
	return &Tracker[S]{sm: sm, current: initial}
}

// Current returns the tracked state.
func (t *Tracker[S]) Current() S {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current
}

// Transition moves to the given state if allowed.
func (t *Tracker[S]) Transition(to S) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.sm.CanTransition(t.current, to) {
		return &InvalidTransitionError[S]{From: t.current, To: to}
	}
	t.current = to
	return nil
}

// CompareAndTransition moves from -> to only if the tracker is still at from.
func (t *Tracker[S]) CompareAndTransition(from, to S) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current != from || !t.sm.CanTransition(from, to) {
		return false
	}
	t.current = to
	return true
}
