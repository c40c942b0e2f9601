package strategy

import (
	"time"

	"github.com/web3guy0/qqqbot/types"
)

// NeutralState is the debounce state reported for each signal
type NeutralState string

const (
	NeutralNone      NeutralState = "NONE"
	NeutralPending   NeutralState = "PENDING"
	NeutralConfirmed NeutralState = "CONFIRMED"
)

// NeutralTimer debounces NEUTRAL: it must persist for wait before it is
// actionable. Any other signal resets it.
type NeutralTimer struct {
	wait  time.Duration
	start *time.Time
}

func NewNeutralTimer(wait time.Duration) *NeutralTimer {
	return &NeutralTimer{wait: wait}
}

// Observe feeds one signal and returns the resulting state
func (n *NeutralTimer) Observe(sig types.Signal, now time.Time) NeutralState {
	if sig != types.SignalNeutral {
		n.start = nil
		return NeutralNone
	}
	if n.start == nil {
		t := now
		n.start = &t
		return NeutralPending
	}
	if now.Sub(*n.start) >= n.wait {
		return NeutralConfirmed
	}
	return NeutralPending
}

// PendingSince returns when the current NEUTRAL run began, nil if none
func (n *NeutralTimer) PendingSince() *time.Time {
	if n.start == nil {
		return nil
	}
	t := *n.start
	return &t
}

// Reset clears any pending timer
func (n *NeutralTimer) Reset() { n.start = nil }
