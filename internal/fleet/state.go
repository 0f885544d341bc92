package fleet

import (
	"context"
	"sync"
)

// ConnectionState tracks where one camera identity sits in the
// connect/reconnect lifecycle. Exactly one state is current at a time;
// WaitForState accepts a set so callers can wait for any of several
// terminal states.
type ConnectionState int

const (
	// StateUnknown is the initial state for a freshly seen identity.
	StateUnknown ConnectionState = iota

	// StateScheduling means a reconnect attempt has been accepted by the
	// scheduler but its backoff has not started yet.
	StateScheduling

	// StateSleeping means a reconnect attempt is waiting out its backoff.
	StateSleeping

	// StateAttempting means a connection attempt is in flight.
	StateAttempting

	// StateConnected means a live device session exists.
	StateConnected

	// StateFailed means the last attempt or session ended in failure.
	StateFailed
)

func (s ConnectionState) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StateScheduling:
		return "scheduling"
	case StateSleeping:
		return "sleeping"
	case StateAttempting:
		return "attempting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return "invalid"
	}
}

// RemovalReason classifies why a camera left the fleet. It decides whether
// the scheduler retries: only ReasonTimeout is retried automatically.
type RemovalReason int

const (
	ReasonUnknown RemovalReason = iota

	// ReasonOffline means discovery reported the camera gone from the
	// network. Not retried until rediscovered.
	ReasonOffline

	// ReasonTimeout means the transport failed mid-session. Retried with
	// backoff up to the attempt cap.
	ReasonTimeout

	// ReasonAuth means the camera rejected the credentials. Never retried
	// automatically.
	ReasonAuth

	// ReasonShutdown means the engine itself is closing.
	ReasonShutdown
)

func (r RemovalReason) String() string {
	switch r {
	case ReasonUnknown:
		return "unknown"
	case ReasonOffline:
		return "offline"
	case ReasonTimeout:
		return "timeout"
	case ReasonAuth:
		return "auth"
	case ReasonShutdown:
		return "shutdown"
	default:
		return "invalid"
	}
}

// ReconnectStatus is the per-identity coordination record shared by every
// engine code path that can start or veto a connection attempt. Its state
// field is the single source of truth for "is an attempt underway" - all
// entry points check and update it atomically through this type.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type ReconnectStatus struct {
	mu         sync.Mutex
	state      ConnectionState
	lastReason RemovalReason
	attempts   int
	pending    bool

	// changed is closed and replaced on every state transition, waking
	// WaitForState callers.
	changed chan struct{}
}

func newReconnectStatus() *ReconnectStatus {
	return &ReconnectStatus{
		state:   StateUnknown,
		changed: make(chan struct{}),
	}
}

// State returns the current connection state.
func (r *ReconnectStatus) State() ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// SetState transitions unconditionally.
func (r *ReconnectStatus) SetState(s ConnectionState) {
	r.mu.Lock()
	r.transition(s)
	r.mu.Unlock()
}

// CompareAndSwap transitions to next only if the current state is old.
// Reports whether the swap happened. This is the guard every attempt entry
// point uses to win or lose the race for an identity.
func (r *ReconnectStatus) CompareAndSwap(old, next ConnectionState) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != old {
		return false
	}
	r.transition(next)
	return true
}

// transition must be called with the lock held.
func (r *ReconnectStatus) transition(s ConnectionState) {
	if r.state == s {
		return
	}
	r.state = s
	close(r.changed)
	r.changed = make(chan struct{})
}

// WaitForState blocks until the current state is one of the given states,
// returning it, or until the context is done.
func (r *ReconnectStatus) WaitForState(ctx context.Context, states ...ConnectionState) (ConnectionState, error) {
	for {
		r.mu.Lock()
		current := r.state
		for _, s := range states {
			if current == s {
				r.mu.Unlock()
				return current, nil
			}
		}
		changed := r.changed
		r.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return current, ctx.Err()
		}
	}
}

// LastReason returns the most recent removal reason.
func (r *ReconnectStatus) LastReason() RemovalReason {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastReason
}

// SetLastReason records why the identity last left the fleet.
func (r *ReconnectStatus) SetLastReason(reason RemovalReason) {
	r.mu.Lock()
	r.lastReason = reason
	r.mu.Unlock()
}

// Attempts returns the reconnect attempt count since the last reset.
func (r *ReconnectStatus) Attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts
}

// IncrementAttempts bumps the attempt counter and returns the new value.
func (r *ReconnectStatus) IncrementAttempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts++
	return r.attempts
}

// ResetAttempts zeroes the counter. Called on successful connection and on
// fresh discovery, so a camera that reappears gets a full retry budget.
func (r *ReconnectStatus) ResetAttempts() {
	r.mu.Lock()
	r.attempts = 0
	r.mu.Unlock()
}

// Pending reports whether a reconnect task is outstanding for this
// identity.
func (r *ReconnectStatus) Pending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending
}

// SetPendingIfClear marks a reconnect task outstanding unless one already
// is. Reports whether the mark was taken. Enforces at most one reconnect
// task per identity.
func (r *ReconnectStatus) SetPendingIfClear() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending {
		return false
	}
	r.pending = true
	return true
}

// ClearPending marks the outstanding reconnect task finished.
func (r *ReconnectStatus) ClearPending() {
	r.mu.Lock()
	r.pending = false
	r.mu.Unlock()
}
