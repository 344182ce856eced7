package client

import (
	"time"

	"github.com/shardline/shardline/types"
)

// ProduceChunk assembles a new chunk for shard on top of prevBlockHash, if
// this node is that shard's chunk producer at nextHeight (spec.md §4.2
// "produce_chunk"). A nil, nil return means production was correctly
// skipped, not an error.
func (c *Client) ProduceChunk(prevBlockHash types.Hash, epochID types.EpochID, nextHeight uint64, shard types.ShardID) (*types.ShardChunkHeader, error) {
	if c.signer == nil {
		return nil, nil
	}
	producer, err := c.runtime.GetChunkProducer(epochID, nextHeight, shard)
	if err != nil {
		return nil, err
	}
	if producer != c.signer.AccountID() {
		return nil, nil
	}

	shardUID := types.ShardUID{ShardID: shard}
	prevExtra, err := c.chain.GetChunkExtra(prevBlockHash, shardUID)
	if err != nil {
		return nil, err
	}

	gasLimit := prevExtra.GasLimit
	if gasLimit == 0 {
		gasLimit = c.cfg.GasLimit
	}
	pending := c.shards.PendingTransactions(shard)
	prepared, err := c.runtime.PrepareTransactions(prevExtra.StateRoot, gasLimit, pending)
	if err != nil {
		return nil, err
	}

	txRoot, err := types.ComputeTxRoot(prepared)
	if err != nil {
		return nil, err
	}

	header := types.ShardChunkHeader{
		ShardID:       shard,
		HeightCreated: nextHeight,
		PrevStateRoot: prevExtra.StateRoot,
		TxRoot:        txRoot,
		GasLimit:      gasLimit,
	}
	sig, err := c.signer.SignChunk(&header)
	if err != nil {
		return nil, err
	}
	header.Signature = sig

	c.chunksMu.Lock()
	c.pendingChunks[pendingChunkKey{Parent: prevBlockHash, Shard: shard}] = producedChunk{header: header, txs: prepared}
	c.chunksMu.Unlock()

	log.WithField("shard", shard).WithField("height", nextHeight).Debug("produced chunk")
	return &header, nil
}

// ProduceBlock assembles and signs the block for nextHeight if this node is
// its producer, collecting whatever chunks were produced on top of the
// current head (spec.md §4.2 "produce_block"). A nil, nil return means
// production was correctly skipped.
func (c *Client) ProduceBlock(nextHeight uint64) (*types.Block, error) {
	if c.signer == nil {
		return nil, nil
	}

	latestKnown, err := c.store.GetLatestKnown()
	if err != nil {
		return nil, err
	}
	if nextHeight <= latestKnown.Height {
		return nil, nil
	}

	head, err := c.chain.Head()
	if err != nil {
		return nil, err
	}

	epochID, err := c.runtime.GetEpochIDFromPrevBlock(head.LastBlockHash)
	if err != nil {
		return nil, err
	}
	producer, err := c.runtime.GetBlockProducer(epochID, nextHeight)
	if err != nil {
		return nil, err
	}
	if producer != c.signer.AccountID() {
		return nil, nil
	}

	isEpochStart, err := c.runtime.IsNextBlockEpochStart(head.LastBlockHash)
	if err != nil {
		return nil, err
	}
	if isEpochStart && !c.prevBlockIsCaughtUp() {
		return nil, nil
	}

	finalHead, err := c.chain.FinalHead()
	if err != nil {
		return nil, err
	}
	c.doomslug.SetTip(time.Now(), head.LastBlockHash, head.Height, finalHead.Height)

	numShards, err := c.runtime.NumShards(epochID)
	if err != nil {
		return nil, err
	}
	chunks := make([]types.ShardChunkHeader, 0, numShards)
	chunkMask := make([]bool, numShards)
	bodies := make(map[types.ShardID][]*types.SignedTransaction, numShards)
	c.chunksMu.Lock()
	for shard := types.ShardID(0); shard < types.ShardID(numShards); shard++ {
		key := pendingChunkKey{Parent: head.LastBlockHash, Shard: shard}
		if pc, ok := c.pendingChunks[key]; ok {
			chunks = append(chunks, pc.header)
			chunkMask[shard] = true
			bodies[shard] = pc.txs
			delete(c.pendingChunks, key)
		} else {
			chunks = append(chunks, types.ShardChunkHeader{ShardID: shard, HeightCreated: head.Height})
		}
	}
	c.chunksMu.Unlock()
	c.lastProducedBodies = bodies

	if !c.cfg.ProduceEmptyBlocks && !anyTrue(chunkMask) {
		return nil, nil
	}

	approvers, err := c.runtime.GetEpochBlockApproversOrdered(head.LastBlockHash)
	if err != nil {
		return nil, err
	}
	inner := types.EndorsementInner(head.LastBlockHash)
	approvals := c.doomslug.CollectApprovals(inner, approvers)
	c.doomslug.RemoveWitness(inner)

	blockMerkleRoot, blockOrdinal, err := c.chain.NextBlockMerkleInfo(head.LastBlockHash)
	if err != nil {
		return nil, err
	}

	header := types.BlockHeader{
		Height:          nextHeight,
		PrevHash:        head.LastBlockHash,
		EpochID:         epochID,
		LastFinalBlock:  finalHead.LastBlockHash,
		BlockMerkleRoot: blockMerkleRoot,
		BlockOrdinal:    blockOrdinal,
		ChunkMask:       chunkMask,
		RawTimestamp:    uint64(time.Now().UnixNano()),
		Approvals:       approvals,
		Proposer:        c.signer.AccountID(),
	}
	if isEpochStart {
		nextEpochID, err := c.runtime.GetEpochIDFromPrevBlock(head.LastBlockHash)
		if err != nil {
			return nil, err
		}
		header.NextEpochID = nextEpochID
	} else {
		header.NextEpochID = head.NextEpochID
	}

	sig, err := c.signer.SignBlock(&header)
	if err != nil {
		return nil, err
	}
	header.Signature = sig

	block := &types.Block{Header: header, Chunks: chunks}

	update := c.store.NewUpdate()
	if err := update.SetLatestKnown(types.LatestKnown{Height: nextHeight, Seen: uint64(time.Now().UnixNano())}); err != nil {
		return nil, err
	}
	if err := update.Commit(); err != nil {
		return nil, err
	}

	log.WithField("height", nextHeight).Info("produced block")
	return block, nil
}

// prevBlockIsCaughtUp reports whether every in-flight catchup has finished,
// the condition produce_block requires before producing the first block of
// a new epoch (spec.md §4.2 step 1 "At epoch boundary only").
func (c *Client) prevBlockIsCaughtUp() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, st := range c.catchup {
		if !st.AllShardsDone() {
			return false
		}
		if st.Blocks != nil && !st.Blocks.IsFinished() {
			return false
		}
	}
	return true
}

func anyTrue(bs []bool) bool {
	for _, b := range bs {
		if b {
			return true
		}
	}
	return false
}
