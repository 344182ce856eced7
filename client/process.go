package client

import (
	"time"

	"go.opencensus.io/trace"

	"github.com/shardline/shardline/chain"
	"github.com/shardline/shardline/types"
)

// ProcessBlock wraps chain.ProcessBlock with the orchestration
// on_block_accepted performs for every block the chain pipeline actually
// accepted: Doomslug tip bookkeeping, ShardsManager pruning, mempool
// reconciliation and triggering the next height's chunk production
// (spec.md §4.2 "process_block" / "on_block_accepted").
func (c *Client) ProcessBlock(block *types.Block, bodies map[types.ShardID][]*types.SignedTransaction, provenance types.Provenance) (*chain.ProcessBlockResult, error) {
	_, result, err := c.chain.ProcessBlock(block, bodies, provenance)
	if err != nil {
		return result, err
	}

	for _, challenge := range result.Challenges {
		c.network.SendChallenge(challenge)
	}

	for _, b := range result.MissingChunks {
		c.requestChunkParts(b)
	}
	for _, b := range result.Orphans {
		c.requestChunkParts(b)
	}

	for _, hash := range result.Accepted {
		status := result.Statuses[hash]
		prevHead := result.PrevHeads[hash]
		blockProvenance := result.Provenances[hash]
		accepted, err := c.chain.GetBlock(hash)
		if err != nil {
			continue
		}
		c.onBlockAccepted(accepted, status, prevHead, blockProvenance)
	}

	return result, nil
}

// requestChunkParts asks ShardsManager to fetch every shard chunk of a
// parked block (one whose parent is unknown or whose chunk bodies haven't
// fully arrived), deduplicating against any already in-flight request, and
// remembers the block so OnChunkPartsReceived can re-submit it once every
// chunk completes (spec.md §4.2 "Orphan & missing-chunk handling": "Client
// requests parts via ShardsManager ... the parent block is re-checked").
func (c *Client) requestChunkParts(block *types.Block) {
	hash, err := block.Hash()
	if err != nil {
		return
	}

	awaiting := make(map[types.Hash]bool, len(block.Chunks))
	for i := range block.Chunks {
		chunkHash, err := block.Chunks[i].Hash()
		if err != nil {
			continue
		}
		awaiting[chunkHash] = true
		c.shards.RequestMissingParts(chunkHash, block.Header.PrevHash, c.network.RequestChunkParts)
	}

	c.pendingBlocksMu.Lock()
	c.pendingBlocks[hash] = &pendingBlock{block: block, awaiting: awaiting}
	c.pendingBlocksMu.Unlock()
}

// OnChunkPartsReceived records one erasure-coded part arriving for
// chunkHash and, once every chunk a parked block was waiting on has
// assembled, resubmits that block through the normal process_block pipeline
// (spec.md §4.2 "Orphan & missing-chunk handling").
func (c *Client) OnChunkPartsReceived(chunkHash, parent types.Hash, partIndex uint64, txs []*types.SignedTransaction) {
	complete := c.shards.OnChunkPartReceived(chunkHash, partIndex, txs)
	if !complete {
		return
	}
	c.shards.NotifyPartsResolved(chunkHash, parent)

	c.pendingBlocksMu.Lock()
	var ready []*pendingBlock
	for hash, pb := range c.pendingBlocks {
		if !pb.awaiting[chunkHash] {
			continue
		}
		delete(pb.awaiting, chunkHash)
		if len(pb.awaiting) == 0 {
			ready = append(ready, pb)
			delete(c.pendingBlocks, hash)
		}
	}
	c.pendingBlocksMu.Unlock()

	for _, pb := range ready {
		bodies := pb.bodies
		if bodies == nil {
			bodies = make(map[types.ShardID][]*types.SignedTransaction, len(pb.block.Chunks))
		}
		for _, chunk := range pb.block.Chunks {
			if ch, err := chunk.Hash(); err == nil {
				if body, ok := c.shards.AssembledBody(ch); ok {
					bodies[chunk.ShardID] = body
				}
			}
		}
		c.SubmitBlock(pb.block, bodies, types.ProvenanceSync)
	}
}

// onBlockAccepted runs the bookkeeping a single newly-accepted block
// triggers: moving Doomslug's tip onto a new head, advancing the watchdog's
// progress clock, reconciling the shard
// mempools against the reorg (if any), pruning stale incomplete-chunk
// tracking, draining approvals that were parked waiting on this block, and
// kicking off the next height's chunk production (spec.md §4.2 step 2, 4).
func (c *Client) onBlockAccepted(block *types.Block, status types.BlockStatus, prevHead types.Hash, provenance types.Provenance) {
	_, span := trace.StartSpan(c.ctx, "client.onBlockAccepted")
	defer span.End()
	span.AddAttributes(
		trace.Int64Attribute("height", int64(block.Header.Height)),
		trace.StringAttribute("status", status.String()),
	)

	hash, err := block.Hash()
	if err != nil {
		log.WithError(err).Warn("failed to hash accepted block")
		return
	}

	if provenance == types.ProvenanceNone {
		c.DrainPendingApprovals(types.EndorsementInner(hash))
		c.DrainPendingApprovals(types.SkipInner(block.Header.Height))
	}

	c.shards.SetLargestSeenHeight(block.Header.Height)

	if status.IsNewHead() {
		c.markHeadProgress()
		c.rebroadcastedBlocks.Remove(hash)

		finalHead, err := c.chain.FinalHead()
		if err == nil {
			c.doomslug.SetTip(time.Now(), hash, block.Header.Height, finalHead.Height)
			c.shards.PruneIncompleteChunksBelow(finalHead.Height, c.chain.HeightOf)
		}
	}

	switch status {
	case types.StatusNext:
		c.reconcileMempoolForward(block)
	case types.StatusReorg:
		c.reconcileMempoolReorg(block, prevHead)
	}

	if status.IsNewHead() {
		c.network.SendBlock(block)
		if _, err := c.MaybeStartCatchup(hash); err != nil {
			log.WithError(err).Warn("failed to evaluate catchup at epoch boundary")
		}
		c.triggerChunkProduction(hash, block.Header.Height+1)
	}
}

// reconcileMempoolForward drops every transaction block included from its
// shards' mempools, the StatusNext case where no reorg bookkeeping is
// needed (spec.md §4.2 step 4).
func (c *Client) reconcileMempoolForward(block *types.Block) {
	for i := range block.Chunks {
		chunk := &block.Chunks[i]
		if len(chunk.IncludedTxs) == 0 {
			continue
		}
		c.shards.RemoveTransactions(chunk.ShardID, chunk.IncludedTxs)
	}
}

// reconcileMempoolReorg re-admits the abandoned chain's transactions and
// removes the newly adopted chain's, the StatusReorg case (spec.md §8
// "Mempool reorg round-trip"). prevHead is the head hash this reorg
// displaced, captured by fork_choice.updateHead before the same commit that
// accepted newHead moved HEAD onto the new chain — by the time this method
// runs, c.chain.Head() already returns newHead, so that hash must be passed
// in rather than re-read here.
func (c *Client) reconcileMempoolReorg(newHead *types.Block, prevHead types.Hash) {
	newHash, err := newHead.Hash()
	if err != nil {
		return
	}
	abandoned, adopted, err := c.chain.ReorgBlocks(prevHead, newHash)
	if err != nil {
		log.WithError(err).Warn("failed to compute reorg block sets")
		return
	}
	for _, b := range abandoned {
		for i := range b.Chunks {
			chunk := &b.Chunks[i]
			if len(chunk.IncludedTxs) > 0 {
				c.shards.ReintroduceTransactions(chunk.ShardID, chunk.IncludedTxs)
			}
		}
	}
	for _, b := range adopted {
		for i := range b.Chunks {
			chunk := &b.Chunks[i]
			if len(chunk.IncludedTxs) > 0 {
				c.shards.RemoveTransactions(chunk.ShardID, chunk.IncludedTxs)
			}
		}
	}
}

// triggerChunkProduction asks ProduceChunk to attempt every shard this node
// cares about at nextHeight, on top of parentHash, queuing any header it
// produces for the next ProduceBlock call (spec.md §4.2 step 3 "Trigger
// chunk production for next_height").
func (c *Client) triggerChunkProduction(parentHash types.Hash, nextHeight uint64) {
	if c.signer == nil {
		return
	}
	epochID, err := c.runtime.GetEpochIDFromPrevBlock(parentHash)
	if err != nil {
		return
	}
	numShards, err := c.runtime.NumShards(epochID)
	if err != nil {
		return
	}
	for shard := types.ShardID(0); shard < types.ShardID(numShards); shard++ {
		if !c.runtime.CaresAboutShard(c.signer.AccountID(), parentHash, shard, true) {
			continue
		}
		if _, err := c.ProduceChunk(parentHash, epochID, nextHeight, shard); err != nil {
			log.WithError(err).WithField("shard", shard).Warn("chunk production failed")
		}
	}
}

// markHeadProgress records that head advanced just now, resetting the
// watchdog's stall timer (SPEC_FULL §4.2 "check_head_progress_stalled").
func (c *Client) markHeadProgress() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastTimeHeadProgressMade = time.Now()
}
