// Package sync implements the stateful sub-FSMs the Client drives when the
// shard layout or the operator's tracked set changes across an epoch
// boundary: per-shard state sync plus the block catch-up state machine that
// replays chunks on the newly-tracked shards once their state has landed
// (spec.md §2 "Sync", §4.4 "Catchup"). HeaderSync/BlockSync/EpochSync are
// the other named sub-FSMs (spec.md §2); StateSync and the catchup block
// walk are where this module's engineering weight actually lives, so they
// get the fullest treatment.
package sync

import (
	"github.com/shardline/shardline/types"
)

// ShardSyncStatus is one phase of a single shard's state-sync pipeline
// (spec.md §4.4 "Phases (per shard)").
type ShardSyncStatus int

const (
	StateDownloadHeader ShardSyncStatus = iota
	StateDownloadParts
	StateSplitScheduling
	StateApplyScheduling
	StateApplying
	StateSplitApplying
	StateDone
)

func (s ShardSyncStatus) String() string {
	switch s {
	case StateDownloadHeader:
		return "StateDownloadHeader"
	case StateDownloadParts:
		return "StateDownloadParts"
	case StateSplitScheduling:
		return "StateSplitScheduling"
	case StateApplyScheduling:
		return "StateApplyScheduling"
	case StateApplying:
		return "StateApplying"
	case StateSplitApplying:
		return "StateSplitApplying"
	case StateDone:
		return "StateDone"
	default:
		return "unknown"
	}
}

// ShardSyncDownload tracks one shard's progress through the state-sync
// phases, plus the part-download bookkeeping HeaderSync/the part fetcher
// consult to decide what to request next.
type ShardSyncDownload struct {
	Status           ShardSyncStatus
	Error            error
	NumPartsTotal    uint64
	PartsReceived    map[uint64]bool
	HeaderDownloaded bool
}

// NeedsParts reports whether shard has received every state part it was
// told to expect.
func (d *ShardSyncDownload) NeedsParts() bool {
	return uint64(len(d.PartsReceived)) < d.NumPartsTotal
}

// BlocksCatchUpState is per-sync-hash bookkeeping for the "apply pending
// chunks on the shards that just finished state sync" phase: a queue of
// blocks between the sync point and the current head, each applied via
// catchup_blocks_step once every shard its chunks touch has finished
// syncing (spec.md §4.4).
type BlocksCatchUpState struct {
	SyncHash types.Hash
	Pending  []types.Hash
	done     map[types.Hash]bool
}

// NewBlocksCatchUpState seeds the queue with every block between syncHash
// (exclusive) and head (inclusive), oldest first.
func NewBlocksCatchUpState(syncHash types.Hash, pending []types.Hash) *BlocksCatchUpState {
	return &BlocksCatchUpState{SyncHash: syncHash, Pending: pending, done: make(map[types.Hash]bool)}
}

// MarkDone records that hash's chunks have been applied on the catching-up
// shards.
func (b *BlocksCatchUpState) MarkDone(hash types.Hash) {
	if b.done == nil {
		b.done = make(map[types.Hash]bool)
	}
	b.done[hash] = true
}

// IsFinished reports whether every pending block has been caught up
// (spec.md §4.4: "when BlocksCatchUpState.is_finished()").
func (b *BlocksCatchUpState) IsFinished() bool {
	for _, h := range b.Pending {
		if !b.done[h] {
			return false
		}
	}
	return true
}

// Remaining returns every pending block not yet marked done, in order.
func (b *BlocksCatchUpState) Remaining() []types.Hash {
	var out []types.Hash
	for _, h := range b.Pending {
		if !b.done[h] {
			out = append(out, h)
		}
	}
	return out
}

// CatchupState is the per-sync-hash state the Client keeps while a shard
// layout or tracked-set change is in flight: `(StateSync, map<shard_id,
// ShardSyncDownload>, BlocksCatchUpState)` (spec.md §4.4).
type CatchupState struct {
	SyncHash  types.Hash
	ShardSync map[types.ShardID]*ShardSyncDownload
	Blocks    *BlocksCatchUpState
}

// NewCatchupState seeds one shard entry per shard we will track in the next
// epoch, starting at StateSplitScheduling if the shard layout itself is
// about to change, or StateDownloadHeader otherwise (spec.md §4.4: "If
// will_shard_layout_change_next_epoch(prev_hash) is true, any shard we will
// track starts at StateSplitScheduling; otherwise at StateDownloadHeader").
func NewCatchupState(syncHash types.Hash, shardsToTrack []types.ShardID, layoutWillChange bool) *CatchupState {
	shardSync := make(map[types.ShardID]*ShardSyncDownload, len(shardsToTrack))
	start := StateDownloadHeader
	if layoutWillChange {
		start = StateSplitScheduling
	}
	for _, shard := range shardsToTrack {
		shardSync[shard] = &ShardSyncDownload{Status: start, PartsReceived: make(map[uint64]bool)}
	}
	return &CatchupState{SyncHash: syncHash, ShardSync: shardSync}
}

// AllShardsDone reports whether every tracked shard has reached StateDone,
// the precondition for starting the block catch-up walk (spec.md §4.4:
// "When all shards finish, catchup steps through blocks...").
func (c *CatchupState) AllShardsDone() bool {
	for _, d := range c.ShardSync {
		if d.Status != StateDone {
			return false
		}
	}
	return true
}
