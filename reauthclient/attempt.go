package reauthclient

import (
	"encoding/json"
	"sync"
)

// State is the lifecycle position of one Attempt.
type State int

const (
	StateIdle State = iota
	StateAwaitingProof
	StateResolvedSuccess
	StateResolvedCancelled
	StateResolvedTimeout
	StateResolvedFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingProof:
		return "awaiting_proof"
	case StateResolvedSuccess:
		return "resolved_success"
	case StateResolvedCancelled:
		return "resolved_cancelled"
	case StateResolvedTimeout:
		return "resolved_timeout"
	case StateResolvedFailed:
		return "resolved_failed"
	default:
		return "unknown"
	}
}

// Resolved reports whether s is terminal.
func (s State) Resolved() bool {
	return s >= StateResolvedSuccess
}

// Attempt tracks one Run. It resolves exactly once.
type Attempt struct {
	action PendingAction
	done   chan struct{}

	mu     sync.Mutex
	state  State
	result json.RawMessage
	err    error
}

func newAttempt(action PendingAction) *Attempt {
	return &Attempt{action: action, done: make(chan struct{})}
}

// Action returns the action this attempt runs.
func (a *Attempt) Action() PendingAction { return a.action }

// Done is closed once the attempt resolves.
func (a *Attempt) Done() <-chan struct{} { return a.done }

// Result returns the action's response data and error. Before Done is
// closed both are nil.
func (a *Attempt) Result() (json.RawMessage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.result, a.err
}

func (a *Attempt) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Attempt) await() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state.Resolved() {
		return false
	}
	a.state = StateAwaitingProof
	return true
}

// resolve sets the terminal state. Only the first call wins.
func (a *Attempt) resolve(state State, result json.RawMessage, err error) bool {
	a.mu.Lock()
	if a.state.Resolved() {
		a.mu.Unlock()
		return false
	}
	a.state = state
	a.result = result
	a.err = err
	a.mu.Unlock()
	close(a.done)
	return true
}
