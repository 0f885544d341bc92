package fleet

import (
	"context"
	"testing"
	"time"
)

func TestReconnectStatus_CompareAndSwap(t *testing.T) {
	st := newReconnectStatus()

	if !st.CompareAndSwap(StateUnknown, StateAttempting) {
		t.Fatal("CAS from the current state failed")
	}
	if st.CompareAndSwap(StateUnknown, StateConnected) {
		t.Fatal("CAS from a stale state succeeded")
	}
	if got := st.State(); got != StateAttempting {
		t.Errorf("State() = %v, want attempting", got)
	}
}

func TestReconnectStatus_WaitForState(t *testing.T) {
	st := newReconnectStatus()

	result := make(chan ConnectionState, 1)
	go func() {
		s, err := st.WaitForState(context.Background(), StateConnected, StateFailed)
		if err != nil {
			t.Errorf("WaitForState() error = %v", err)
		}
		result <- s
	}()

	// Intermediate transitions must not wake the waiter with a wrong state.
	st.SetState(StateAttempting)
	st.SetState(StateConnected)

	select {
	case s := <-result:
		if s != StateConnected {
			t.Errorf("WaitForState() = %v, want connected", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForState() never returned after transition")
	}
}

func TestReconnectStatus_WaitForStateImmediate(t *testing.T) {
	st := newReconnectStatus()
	st.SetState(StateFailed)

	s, err := st.WaitForState(context.Background(), StateConnected, StateFailed)
	if err != nil || s != StateFailed {
		t.Fatalf("WaitForState() = (%v, %v), want (failed, nil)", s, err)
	}
}

func TestReconnectStatus_WaitForStateContext(t *testing.T) {
	st := newReconnectStatus()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := st.WaitForState(ctx, StateConnected); err == nil {
		t.Fatal("WaitForState() returned nil error on expired context")
	}
}

func TestReconnectStatus_Pending(t *testing.T) {
	st := newReconnectStatus()

	if !st.SetPendingIfClear() {
		t.Fatal("first SetPendingIfClear() = false")
	}
	if st.SetPendingIfClear() {
		t.Fatal("second SetPendingIfClear() = true, want at-most-one task")
	}
	st.ClearPending()
	if !st.SetPendingIfClear() {
		t.Fatal("SetPendingIfClear() after clear = false")
	}
}

func TestReconnectStatus_Attempts(t *testing.T) {
	st := newReconnectStatus()

	if got := st.IncrementAttempts(); got != 1 {
		t.Errorf("IncrementAttempts() = %d, want 1", got)
	}
	st.IncrementAttempts()
	st.ResetAttempts()
	if got := st.Attempts(); got != 0 {
		t.Errorf("Attempts() after reset = %d, want 0", got)
	}
}

func TestConnectionState_String(t *testing.T) {
	tests := []struct {
		state ConnectionState
		want  string
	}{
		{StateUnknown, "unknown"},
		{StateScheduling, "scheduling"},
		{StateSleeping, "sleeping"},
		{StateAttempting, "attempting"},
		{StateConnected, "connected"},
		{StateFailed, "failed"},
		{ConnectionState(99), "invalid"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestRemovalReason_String(t *testing.T) {
	tests := []struct {
		reason RemovalReason
		want   string
	}{
		{ReasonUnknown, "unknown"},
		{ReasonOffline, "offline"},
		{ReasonTimeout, "timeout"},
		{ReasonAuth, "auth"},
		{ReasonShutdown, "shutdown"},
		{RemovalReason(99), "invalid"},
	}
	for _, tt := range tests {
		if got := tt.reason.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.reason, got, tt.want)
		}
	}
}
