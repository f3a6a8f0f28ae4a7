package transport

import "time"

// stopTimer is a one-shot timer whose cancellation is synchronous and
// idempotent. Expiry can still race a Cancel, so every callback scheduled
// through it must re-check its owner's active flag before acting.
type stopTimer struct {
	t *time.Timer
}

func afterFunc(d time.Duration, fn func()) *stopTimer {
	return &stopTimer{t: time.AfterFunc(d, fn)}
}

// Cancel stops the timer if it has not fired. Safe on nil.
func (s *stopTimer) Cancel() {
	if s != nil && s.t != nil {
		s.t.Stop()
	}
}
