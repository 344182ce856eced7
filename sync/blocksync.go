package sync

import (
	"time"

	"github.com/shardline/shardline/types"
)

// BlockSync requests full block bodies for the range between our head and
// header_head once headers are caught up, bounded by block_fetch_horizon so
// it never asks for more than a manageable window at once (spec.md §6
// "block_fetch_horizon").
type BlockSync struct {
	fetchHorizon uint64
	requested    map[types.Hash]time.Time
}

// NewBlockSync builds a BlockSync bounded to fetchHorizon blocks in flight.
func NewBlockSync(fetchHorizon uint64) *BlockSync {
	return &BlockSync{fetchHorizon: fetchHorizon, requested: make(map[types.Hash]time.Time)}
}

// NextBatch returns up to fetchHorizon block hashes from the caller-supplied
// candidate list (oldest-missing-first) that are not already in flight.
func (b *BlockSync) NextBatch(now time.Time, candidates []types.Hash, timeout time.Duration) []types.Hash {
	var out []types.Hash
	for _, h := range candidates {
		if len(out) >= int(b.fetchHorizon) {
			break
		}
		if t, inFlight := b.requested[h]; inFlight && now.Sub(t) < timeout {
			continue
		}
		b.requested[h] = now
		out = append(out, h)
	}
	return out
}

// Received marks hash as no longer in flight once its block has arrived.
func (b *BlockSync) Received(hash types.Hash) { delete(b.requested, hash) }
