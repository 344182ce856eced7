package client

import (
	"github.com/shardline/shardline/sync"
	"github.com/shardline/shardline/types"
	"github.com/shardline/shardline/util/sliceutil"
)

// MaybeStartCatchup checks whether the set of shards this node cares about
// is about to change across the epoch boundary at prevHash, and if so seeds
// a CatchupState for the new epoch's shards (spec.md §4.4 "Catchup").
// Returns false if no catchup was needed.
func (c *Client) MaybeStartCatchup(prevHash types.Hash) (bool, error) {
	isEpochStart, err := c.runtime.IsNextBlockEpochStart(prevHash)
	if err != nil {
		return false, err
	}
	if !isEpochStart || c.signer == nil {
		return false, nil
	}

	epochID, err := c.runtime.GetEpochIDFromPrevBlock(prevHash)
	if err != nil {
		return false, err
	}
	numShards, err := c.runtime.NumShards(epochID)
	if err != nil {
		return false, err
	}

	var currentlyTracked, nextTracked []uint64
	for shard := types.ShardID(0); shard < types.ShardID(numShards); shard++ {
		if c.runtime.CaresAboutShard(c.signer.AccountID(), prevHash, shard, false) {
			currentlyTracked = append(currentlyTracked, uint64(shard))
		}
		if c.runtime.CaresAboutShard(c.signer.AccountID(), prevHash, shard, true) {
			nextTracked = append(nextTracked, uint64(shard))
		}
	}

	newlyTracked := sliceutil.NotUint64(currentlyTracked, nextTracked)
	if len(newlyTracked) == 0 {
		return false, nil
	}

	shardsToSync := make([]types.ShardID, len(newlyTracked))
	for i, s := range newlyTracked {
		shardsToSync[i] = types.ShardID(s)
	}

	layoutWillChange, err := c.runtime.WillShardLayoutChangeNextEpoch(prevHash)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	c.catchup[prevHash] = sync.NewCatchupState(prevHash, shardsToSync, layoutWillChange)
	c.mu.Unlock()

	log.WithField("sync_hash", prevHash.Hex()).
		WithField("shards", newlyTracked).
		Info("starting catchup for newly tracked shards")
	return true, nil
}

// IsShardAlreadyTracked reports whether shard is among currentlyTracked,
// used by ShardsManager wiring to decide whether an incoming chunk part
// belongs to a shard this node was already following before the epoch
// boundary (spec.md §4.4).
func IsShardAlreadyTracked(shard types.ShardID, currentlyTracked []types.ShardID) bool {
	asUint := make([]uint64, len(currentlyTracked))
	for i, s := range currentlyTracked {
		asUint[i] = uint64(s)
	}
	return sliceutil.IsInUint64(uint64(shard), asUint)
}
