package main

import (
	"fmt"

	"github.com/shardline/shardline/chain"
	"github.com/shardline/shardline/runtime"
	"github.com/shardline/shardline/store/kv"
	"github.com/shardline/shardline/trie"
	"github.com/shardline/shardline/types"
)

// devRuntime is runtime.KeyValueRuntime's production-facing sibling: the
// same fixed validator rotation, trivial shard assignment and `sender ->
// nonce` trie writes, but epoch-boundary decisions are resolved against the
// real header index (chain.Chain.HeightOf) instead of a height encoded into
// a synthetic test hash. A real executor is out of this binary's scope
// (spec.md §1 Non-goals), so this plays the same stand-in role nearcore's
// own KeyValueRuntime plays in its testnet tooling.
type devRuntime struct {
	chain       *chain.Chain
	validators  []types.AccountID
	epochLength uint64
	numShards   uint64
	tries       *trie.ShardTries
}

// newDevRuntime builds a devRuntime with no chain reference yet: chain.New
// requires a runtime.Adapter at construction time, but this adapter needs
// the chain it backs to resolve heights, so callers must finish the cycle
// with SetChain once chain.New returns.
func newDevRuntime(store *kv.Store, validators []types.AccountID, epochLength, numShards uint64) *devRuntime {
	return &devRuntime{
		validators:  validators,
		epochLength: epochLength,
		numShards:   numShards,
		tries:       trie.NewShardTries(store),
	}
}

// SetChain closes the construction cycle described in newDevRuntime.
func (r *devRuntime) SetChain(c *chain.Chain) { r.chain = c }

// heightOfPrevBlock resolves prevHash's height, treating the zero hash (the
// parent of genesis) as height-before-zero so genesis itself lands on
// epoch 0.
func (r *devRuntime) heightOfPrevBlock(prevHash types.Hash) uint64 {
	if prevHash == (types.Hash{}) {
		return 0
	}
	h, ok := r.chain.HeightOf(prevHash)
	if !ok {
		return 0
	}
	return h
}

func (r *devRuntime) epochFromHeight(height uint64) types.EpochID {
	var e types.EpochID
	e[0] = byte(height / r.epochLength)
	return e
}

func (r *devRuntime) GetEpochIDFromPrevBlock(prevHash types.Hash) (types.EpochID, error) {
	return r.epochFromHeight(r.heightOfPrevBlock(prevHash) + 1), nil
}

func (r *devRuntime) GetNextEpochID(epoch types.EpochID) (types.EpochID, error) {
	next := epoch
	next[0]++
	return next, nil
}

func (r *devRuntime) GetBlockProducer(epoch types.EpochID, height uint64) (types.AccountID, error) {
	if len(r.validators) == 0 {
		return "", fmt.Errorf("devRuntime: no validators configured")
	}
	return r.validators[height%uint64(len(r.validators))], nil
}

func (r *devRuntime) GetChunkProducer(epoch types.EpochID, height uint64, shard types.ShardID) (types.AccountID, error) {
	if len(r.validators) == 0 {
		return "", fmt.Errorf("devRuntime: no validators configured")
	}
	idx := (height + uint64(shard)) % uint64(len(r.validators))
	return r.validators[idx], nil
}

func (r *devRuntime) IsNextBlockEpochStart(prevHash types.Hash) (bool, error) {
	h := r.heightOfPrevBlock(prevHash)
	return (h+1)%r.epochLength == 0, nil
}

func (r *devRuntime) GetShardLayout(epoch types.EpochID) (runtime.ShardLayout, error) {
	return runtime.ShardLayout{Version: 0, NumShards: r.numShards}, nil
}

func (r *devRuntime) WillShardLayoutChangeNextEpoch(prevHash types.Hash) (bool, error) {
	return false, nil
}

func (r *devRuntime) NumShards(epoch types.EpochID) (uint64, error) { return r.numShards, nil }

func (r *devRuntime) AccountIDToShardID(account types.AccountID, epoch types.EpochID) (types.ShardID, error) {
	h := uint64(0)
	for _, c := range []byte(account) {
		h = h*31 + uint64(c)
	}
	return types.ShardID(h % r.numShards), nil
}

func (r *devRuntime) CaresAboutShard(account types.AccountID, prevHash types.Hash, shard types.ShardID, isNext bool) bool {
	return true
}

func (r *devRuntime) GetEpochBlockApproversOrdered(prevHash types.Hash) ([]types.AccountID, error) {
	return r.validators, nil
}

func (r *devRuntime) ValidateTx(tx *types.SignedTransaction, stateRoot types.Hash) error {
	return nil
}

func (r *devRuntime) PrepareTransactions(stateRoot types.Hash, gasLimit uint64, pending []*types.SignedTransaction) ([]*types.SignedTransaction, error) {
	var gasUsed uint64
	const gasPerTx = 1000
	out := make([]*types.SignedTransaction, 0, len(pending))
	for _, tx := range pending {
		if gasUsed+gasPerTx > gasLimit {
			break
		}
		gasUsed += gasPerTx
		out = append(out, tx)
	}
	return out, nil
}

func (r *devRuntime) ApplyTransactions(shard types.ShardID, prevStateRoot types.Hash, txs []*types.SignedTransaction) (*runtime.ApplyResult, error) {
	shardUID := types.ShardUID{Version: 0, ShardID: shard}
	t := r.tries.GetTrieForShard(shardUID)

	changes := make([]trie.KVChange, 0, len(txs))
	outcomes := make([]runtime.TxOutcome, 0, len(txs))
	var gasUsed uint64
	for _, tx := range txs {
		changes = append(changes, trie.KVChange{
			Key:   []byte(tx.SignerID),
			Value: nonceBytes(tx.Nonce),
		})
		outcomes = append(outcomes, runtime.TxOutcome{TxHash: tx.Hash, Success: true, GasUsed: 1000})
		gasUsed += 1000
	}
	tc, err := t.Update(prevStateRoot, changes)
	if err != nil {
		return nil, err
	}
	return &runtime.ApplyResult{
		TrieChanges: tc,
		Outcomes:    outcomes,
		GasUsed:     gasUsed,
	}, nil
}

func nonceBytes(n uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[7-i] = byte(n >> (8 * i))
	}
	return b
}
