package chain

import (
	"github.com/shardline/shardline/chain/errkind"
	"github.com/shardline/shardline/store/kv"
	"github.com/shardline/shardline/trie"
	"github.com/shardline/shardline/types"
)

// receiveBlock validates and durably applies one block: every shard chunk
// is executed against its parent's post-state, the results are committed
// in one store transaction, and fork choice decides the resulting
// BlockStatus. It is the low-level step process_block's pipeline wraps with
// orphan/missing-chunk bookkeeping (spec.md §4.2 "process_block"). The
// returned hash is the head that was current immediately before this call
// (the `prev_head` a StatusReorg result displaced), read inside updateHead
// before this same commit moves HEAD — callers must capture it here rather
// than reading Chain.Head() afterwards, which would already return the new
// head (spec.md §4.2 step 4 "Reorg(prev_head)").
func (c *Chain) receiveBlock(block *types.Block, bodies map[types.ShardID][]*types.SignedTransaction) (types.BlockStatus, types.Hash, error) {
	hash, err := block.Hash()
	if err != nil {
		return 0, types.Hash{}, err
	}
	if c.store.HasBlock(hash) {
		return 0, types.Hash{}, errkind.New(errkind.BlockKnown, nil)
	}

	isGenesis := block.Header.PrevHash == (types.Hash{}) && block.Header.Height == 0
	if !isGenesis && !c.store.HasBlock(block.Header.PrevHash) {
		return 0, types.Hash{}, errkind.New(errkind.Orphan, nil)
	}

	update := c.store.NewUpdate()
	for i := range block.Chunks {
		chunk := &block.Chunks[i]
		if err := c.applyChunk(update, block, chunk, bodies[chunk.ShardID]); err != nil {
			return 0, types.Hash{}, err
		}
	}

	if err := update.SaveBlock(block); err != nil {
		return 0, types.Hash{}, err
	}
	if err := c.saveBlockMerkleTree(update, hash, &block.Header, isGenesis); err != nil {
		return 0, types.Hash{}, err
	}
	if !isGenesis {
		update.IncBlockRefcount(block.Header.PrevHash)
	}

	status, prevHead, err := c.updateHead(update, block)
	if err != nil {
		return 0, types.Hash{}, err
	}
	update.SetHeightProcessed(block.Header.Height)

	if err := update.Commit(); err != nil {
		return 0, types.Hash{}, err
	}
	logBlockAccepted(hash, status, types.ProvenanceNone)
	if status.IsNewHead() {
		c.acceptedBlockFeed.Send(hash)
	}
	return status, prevHead, nil
}

// applyChunk executes one shard's transactions against its parent's
// post-state and queues the resulting ChunkExtra and TrieChanges.
func (c *Chain) applyChunk(update *kv.Update, block *types.Block, chunk *types.ShardChunkHeader, txs []*types.SignedTransaction) error {
	hash, err := block.Hash()
	if err != nil {
		return err
	}
	shardUID := types.ShardUID{Version: 0, ShardID: chunk.ShardID}

	isGenesis := block.Header.PrevHash == (types.Hash{}) && block.Header.Height == 0
	prevRoot := chunk.PrevStateRoot
	if !isGenesis {
		prevExtra, err := c.store.GetChunkExtra(block.Header.PrevHash, shardUID)
		if err != nil {
			return errkind.New(errkind.ChunkMissing, err)
		}
		if prevExtra.StateRoot != chunk.PrevStateRoot {
			return errkind.New(errkind.InvalidChunkState, nil)
		}
		prevRoot = prevExtra.StateRoot
	}

	result, err := c.runtime.ApplyTransactions(chunk.ShardID, prevRoot, txs)
	if err != nil {
		return errkind.New(errkind.InvalidChunk, err)
	}

	trie.ApplyInsertions(result.TrieChanges, shardUID, update)

	extra := &types.ChunkExtra{
		StateRoot:          result.TrieChanges.NewRoot,
		ValidatorProposals: result.ValidatorProposals,
		GasUsed:            result.GasUsed,
		BalanceBurnt:       result.BalanceBurnt,
	}
	if err := update.SaveChunkExtra(hash, shardUID, extra); err != nil {
		return err
	}
	if err := update.SaveTrieChanges(hash, shardUID, result.TrieChanges); err != nil {
		return err
	}
	chunk.IncludedTxs = txs
	return update.SaveChunkHeader(chunk)
}
