package sync

import "time"

// HeaderSync tracks the in-flight header-chain download: it requests
// headers from a peer up to header_head and re-selects a peer if
// header_sync_initial_timeout elapses without progress (spec.md §5
// "Cancellation/timeouts").
type HeaderSync struct {
	initialTimeout time.Duration
	requestedAt    time.Time
	lastHeight     uint64
}

// NewHeaderSync builds a HeaderSync with the configured initial timeout.
func NewHeaderSync(initialTimeout time.Duration) *HeaderSync {
	return &HeaderSync{initialTimeout: initialTimeout}
}

// RequestSent records that a header batch was just requested from a peer.
func (h *HeaderSync) RequestSent(now time.Time, fromHeight uint64) {
	h.requestedAt = now
	h.lastHeight = fromHeight
}

// Expired reports whether the current request should be abandoned in favor
// of re-selecting a peer.
func (h *HeaderSync) Expired(now time.Time) bool {
	return !h.requestedAt.IsZero() && now.Sub(h.requestedAt) > h.initialTimeout
}

// Progressed records that headers advanced past the last requested height,
// clearing the expiry clock.
func (h *HeaderSync) Progressed(height uint64) {
	if height > h.lastHeight {
		h.lastHeight = height
		h.requestedAt = time.Time{}
	}
}
