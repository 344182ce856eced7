package client

import (
	"github.com/shardline/shardline/params"
	"github.com/shardline/shardline/types"
)

// ProcessTx validates tx and either pools it (if this node cares about its
// shard) or forwards it to a validator that will (spec.md §4.2 "process_tx").
func (c *Client) ProcessTx(tx *types.SignedTransaction, isForwarded bool) TxResponse {
	head, err := c.chain.Head()
	if err != nil {
		return TxResponse{Kind: ResponseNoResponse, Reason: err.Error()}
	}
	if tx.ValidUntil != 0 && tx.ValidUntil < head.Height {
		return TxResponse{Kind: ResponseInvalidTx, Reason: "transaction validity period elapsed"}
	}

	epochID, err := c.runtime.GetEpochIDFromPrevBlock(head.LastBlockHash)
	if err != nil {
		return TxResponse{Kind: ResponseNoResponse, Reason: err.Error()}
	}

	shard, err := c.runtime.AccountIDToShardID(tx.SignerID, epochID)
	if err != nil {
		return TxResponse{Kind: ResponseNoResponse, Reason: err.Error()}
	}

	var stateRoot types.Hash
	if extra, err := c.chain.GetChunkExtra(head.LastBlockHash, types.ShardUID{ShardID: shard}); err == nil {
		stateRoot = extra.StateRoot
	}
	if err := c.runtime.ValidateTx(tx, stateRoot); err != nil {
		return TxResponse{Kind: ResponseInvalidTx, Reason: err.Error()}
	}

	if c.signer != nil && c.runtime.CaresAboutShard(c.signer.AccountID(), head.LastBlockHash, shard, false) {
		if c.shards.HasTransaction(shard, tx.Hash) {
			return TxResponse{Kind: ResponseValidTx}
		}
		c.shards.AddTransaction(shard, tx)
		return TxResponse{Kind: ResponseValidTx}
	}

	if isForwarded {
		// Already forwarded once; don't forward a forwarded tx again.
		return TxResponse{Kind: ResponseDoesNotTrackShard}
	}

	return c.forwardTx(tx, shard, head.Height, epochID)
}

// forwardTx routes tx to a chunk producer of shard within
// TxRoutingHeightHorizon upcoming heights, the validator-forwarding fallback
// for transactions this node doesn't pool itself (spec.md §4.2 step 4).
func (c *Client) forwardTx(tx *types.SignedTransaction, shard types.ShardID, currentHeight uint64, epochID types.EpochID) TxResponse {
	for h := currentHeight + 1; h <= currentHeight+params.TxRoutingHeightHorizon; h++ {
		producer, err := c.runtime.GetChunkProducer(epochID, h, shard)
		if err != nil {
			continue
		}
		c.network.ForwardTx(producer, tx)
		return TxResponse{Kind: ResponseRequestRouted}
	}
	return TxResponse{Kind: ResponseDoesNotTrackShard}
}
