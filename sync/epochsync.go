package sync

import (
	"time"

	"github.com/shardline/shardline/params"
)

// EpochSync fetches a compressed proof of an entire epoch's worth of
// validator-set transitions, used to bootstrap a node far behind the
// network without downloading every intervening header (spec.md §2 "Sync
// (... EpochSync ...)"). The proof format itself belongs to the consensus
// layer this spec does not re-specify (spec.md §1 Non-goals); this type
// only tracks the request/timeout bookkeeping the Client drives.
type EpochSync struct {
	requestedAt time.Time
	pending     bool
}

// RequestSent records that an epoch-sync proof request was just issued.
func (e *EpochSync) RequestSent(now time.Time) {
	e.requestedAt = now
	e.pending = true
}

// Expired reports whether the in-flight request has exceeded
// params.EpochSyncRequestTimeout and should be retried against another peer.
func (e *EpochSync) Expired(now time.Time) bool {
	return e.pending && now.Sub(e.requestedAt) > params.EpochSyncRequestTimeout
}

// Resolved marks the outstanding request as satisfied.
func (e *EpochSync) Resolved() { e.pending = false }
