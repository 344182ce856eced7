package shardsmgr

import "github.com/shardline/shardline/types"

// AddTransaction inserts tx into shard's mempool, deduplicating by hash.
func (m *ShardsManager) AddTransaction(shard types.ShardID, tx *types.SignedTransaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byHash, ok := m.mempool[shard]
	if !ok {
		byHash = make(map[types.Hash]*types.SignedTransaction)
		m.mempool[shard] = byHash
	}
	byHash[tx.Hash] = tx
}

// HasTransaction reports whether shard's mempool already holds a tx by hash.
func (m *ShardsManager) HasTransaction(shard types.ShardID, hash types.Hash) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.mempool[shard][hash]
	return ok
}

// PendingTransactions returns every transaction currently pooled for shard,
// the raw candidate list produce_chunk hands to runtime.PrepareTransactions
// for gas-bounding and validation (spec.md §4.2 "produce_chunk" step 2).
func (m *ShardsManager) PendingTransactions(shard types.ShardID) []*types.SignedTransaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	byHash := m.mempool[shard]
	out := make([]*types.SignedTransaction, 0, len(byHash))
	for _, tx := range byHash {
		out = append(out, tx)
	}
	return out
}

// RemoveTransactions deletes every tx in txs from shard's mempool, called
// when a block that included them becomes the new head
// (spec.md §4.2 step 4, BlockStatus == Next).
func (m *ShardsManager) RemoveTransactions(shard types.ShardID, txs []*types.SignedTransaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byHash := m.mempool[shard]
	if byHash == nil {
		return
	}
	for _, tx := range txs {
		delete(byHash, tx.Hash)
	}
}

// ReintroduceTransactions adds back every tx in txs to shard's mempool,
// called for the abandoned side of a reorg (spec.md §4.2 step 4, §8
// "Mempool reorg round-trip").
func (m *ShardsManager) ReintroduceTransactions(shard types.ShardID, txs []*types.SignedTransaction) {
	for _, tx := range txs {
		m.AddTransaction(shard, tx)
	}
}
