package runtime

import (
	"fmt"

	"github.com/shardline/shardline/store/kv"
	"github.com/shardline/shardline/trie"
	"github.com/shardline/shardline/types"
)

// KeyValueRuntime is a deterministic Adapter for tests: a fixed validator
// set, one epoch boundary every epochLength heights, every tracked account
// hashing into a shard by a trivial modulus, and apply_transactions that
// folds each transaction into the shard trie as a `sender -> nonce` write.
// It mirrors the role nearcore's own KeyValueRuntime test harness plays for
// exercising Chain/Client/GC without a real executor.
//
// Height lookups go through an explicit hash->height index rather than
// decoding height out of the hash bytes: block hashes are real Keccak256
// digests (types.BlockHeader.Hash), so nothing about their bit pattern
// encodes height. Callers building synthetic chains call NoteBlockHeight
// right after computing each header's hash, the same way a real
// EpochManager learns heights from the block index as it is built.
type KeyValueRuntime struct {
	validators  []types.AccountID
	epochLength uint64
	numShards   uint64
	tries       *trie.ShardTries
	heights     map[types.Hash]uint64
}

// NewKeyValueRuntime builds a KeyValueRuntime with a fixed validator
// rotation and shard count, backed by store for ApplyTransactions' trie
// writes.
func NewKeyValueRuntime(store *kv.Store, validators []types.AccountID, epochLength, numShards uint64) *KeyValueRuntime {
	return &KeyValueRuntime{
		validators:  validators,
		epochLength: epochLength,
		numShards:   numShards,
		tries:       trie.NewShardTries(store),
		heights:     map[types.Hash]uint64{{}: 0},
	}
}

// NoteBlockHeight records hash's height so later GetEpochIDFromPrevBlock /
// IsNextBlockEpochStart calls naming it as a parent resolve correctly.
func (r *KeyValueRuntime) NoteBlockHeight(hash types.Hash, height uint64) {
	r.heights[hash] = height
}

func (r *KeyValueRuntime) heightOf(hash types.Hash) uint64 {
	return r.heights[hash]
}

func (r *KeyValueRuntime) epochFromHeight(height uint64) types.EpochID {
	var e types.EpochID
	e[0] = byte(height / r.epochLength)
	return e
}

// GetEpochIDFromPrevBlock derives the epoch a block built on prevHash
// belongs to, from prevHash's noted height (see NoteBlockHeight).
func (r *KeyValueRuntime) GetEpochIDFromPrevBlock(prevHash types.Hash) (types.EpochID, error) {
	return r.epochFromHeight(r.heightOf(prevHash)), nil
}

// GetNextEpochID returns epoch+1, consistent with epochFromHeight's
// height/epochLength encoding.
func (r *KeyValueRuntime) GetNextEpochID(epoch types.EpochID) (types.EpochID, error) {
	next := epoch
	next[0]++
	return next, nil
}

func (r *KeyValueRuntime) GetBlockProducer(epoch types.EpochID, height uint64) (types.AccountID, error) {
	if len(r.validators) == 0 {
		return "", fmt.Errorf("keyvalue runtime: no validators configured")
	}
	return r.validators[height%uint64(len(r.validators))], nil
}

func (r *KeyValueRuntime) GetChunkProducer(epoch types.EpochID, height uint64, shard types.ShardID) (types.AccountID, error) {
	if len(r.validators) == 0 {
		return "", fmt.Errorf("keyvalue runtime: no validators configured")
	}
	idx := (height + uint64(shard)) % uint64(len(r.validators))
	return r.validators[idx], nil
}

func (r *KeyValueRuntime) IsNextBlockEpochStart(prevHash types.Hash) (bool, error) {
	h := r.heightOf(prevHash)
	return (h+1)%r.epochLength == 0, nil
}

func (r *KeyValueRuntime) GetShardLayout(epoch types.EpochID) (ShardLayout, error) {
	return ShardLayout{Version: 0, NumShards: r.numShards}, nil
}

func (r *KeyValueRuntime) WillShardLayoutChangeNextEpoch(prevHash types.Hash) (bool, error) {
	return false, nil
}

func (r *KeyValueRuntime) NumShards(epoch types.EpochID) (uint64, error) { return r.numShards, nil }

func (r *KeyValueRuntime) AccountIDToShardID(account types.AccountID, epoch types.EpochID) (types.ShardID, error) {
	h := uint64(0)
	for _, c := range []byte(account) {
		h = h*31 + uint64(c)
	}
	return types.ShardID(h % r.numShards), nil
}

func (r *KeyValueRuntime) CaresAboutShard(account types.AccountID, prevHash types.Hash, shard types.ShardID, isNext bool) bool {
	return true
}

func (r *KeyValueRuntime) GetEpochBlockApproversOrdered(prevHash types.Hash) ([]types.AccountID, error) {
	return r.validators, nil
}

func (r *KeyValueRuntime) ValidateTx(tx *types.SignedTransaction, stateRoot types.Hash) error {
	return nil
}

func (r *KeyValueRuntime) PrepareTransactions(stateRoot types.Hash, gasLimit uint64, pending []*types.SignedTransaction) ([]*types.SignedTransaction, error) {
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

// ApplyTransactions writes `sender -> nonce` for every tx into the shard's
// trie and returns the new root plus a trivial outcome per tx.
func (r *KeyValueRuntime) ApplyTransactions(shard types.ShardID, prevStateRoot types.Hash, txs []*types.SignedTransaction) (*ApplyResult, error) {
	shardUID := types.ShardUID{Version: 0, ShardID: shard}
	t := r.tries.GetTrieForShard(shardUID)

	changes := make([]trie.KVChange, 0, len(txs))
	outcomes := make([]TxOutcome, 0, len(txs))
	var gasUsed uint64
	for _, tx := range txs {
		changes = append(changes, trie.KVChange{
			Key:   []byte(tx.SignerID),
			Value: nonceBytes(tx.Nonce),
		})
		outcomes = append(outcomes, TxOutcome{TxHash: tx.Hash, Success: true, GasUsed: 1000})
		gasUsed += 1000
	}
	tc, err := t.Update(prevStateRoot, changes)
	if err != nil {
		return nil, err
	}
	// The caller owns the store transaction boundary and is responsible for
	// calling trie.ApplyInsertions(result.TrieChanges, shardUID, update).
	return &ApplyResult{
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
