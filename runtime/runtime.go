// Package runtime defines RuntimeAdapter, the external epoch-manager and
// transaction-executor boundary the Client core consumes but never
// implements itself (spec.md §2, §6).
package runtime

import (
	"github.com/shardline/shardline/types"
)

// ApplyResult is what apply_transactions returns for one shard's chunk. The
// embedded TrieChanges record is the refcount-delta unit chain persists per
// (block, shard) and chain GC later replays backward (spec.md §3).
type ApplyResult struct {
	TrieChanges        *types.TrieChanges
	Outcomes           []TxOutcome
	OutgoingReceipts   [][]byte
	ValidatorProposals []types.ValidatorProposal
	GasUsed            uint64
	BalanceBurnt       uint64
	Proof              []byte
}

// TxOutcome is the execution result of one transaction.
type TxOutcome struct {
	TxHash  types.Hash
	Success bool
	GasUsed uint64
}

// Adapter is the epoch manager + executor boundary: everything about
// validator sets, shard assignment, and transaction execution that the
// Client core treats as opaque (spec.md §2 "RuntimeAdapter").
type Adapter interface {
	GetEpochIDFromPrevBlock(prevHash types.Hash) (types.EpochID, error)
	// GetNextEpochID returns the epoch immediately following epoch, so
	// collect_block_approval can retry a peer approval's signature check one
	// epoch further out when the approver isn't a validator in the block's
	// own next epoch (spec.md §4.3 step 3).
	GetNextEpochID(epoch types.EpochID) (types.EpochID, error)
	GetBlockProducer(epoch types.EpochID, height uint64) (types.AccountID, error)
	GetChunkProducer(epoch types.EpochID, height uint64, shard types.ShardID) (types.AccountID, error)
	IsNextBlockEpochStart(prevHash types.Hash) (bool, error)
	GetShardLayout(epoch types.EpochID) (ShardLayout, error)
	WillShardLayoutChangeNextEpoch(prevHash types.Hash) (bool, error)
	NumShards(epoch types.EpochID) (uint64, error)
	AccountIDToShardID(account types.AccountID, epoch types.EpochID) (types.ShardID, error)
	CaresAboutShard(account types.AccountID, prevHash types.Hash, shard types.ShardID, isNext bool) bool
	GetEpochBlockApproversOrdered(prevHash types.Hash) ([]types.AccountID, error)
	ValidateTx(tx *types.SignedTransaction, stateRoot types.Hash) error
	PrepareTransactions(stateRoot types.Hash, gasLimit uint64, pending []*types.SignedTransaction) ([]*types.SignedTransaction, error)
	ApplyTransactions(shard types.ShardID, prevStateRoot types.Hash, txs []*types.SignedTransaction) (*ApplyResult, error)
}

// ShardLayout describes how accounts map to shards for one epoch.
type ShardLayout struct {
	Version   uint32
	NumShards uint64
}
