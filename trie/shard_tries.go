package trie

import (
	"github.com/shardline/shardline/store/kv"
	"github.com/shardline/shardline/types"
)

// ShardTries is the entry point chain, client and GC hold onto: one Store,
// many shards, each a cheap *Trie view (spec.md §2 "Trie/ShardTries").
type ShardTries struct {
	store *kv.Store
}

// NewShardTries wraps store for trie access across every shard.
func NewShardTries(store *kv.Store) *ShardTries { return &ShardTries{store: store} }

// GetTrieForShard returns a read/update view into shard's state.
func (st *ShardTries) GetTrieForShard(shard types.ShardUID) *Trie {
	return New(st.store, shard)
}

// ApplyInsertions queues incrementing the refcount of every node tc.Insertions
// names (creating the row on first reference) and decrementing every node
// tc.Deletions names, into update. This is the forward direction: applying a
// block's state transition.
func ApplyInsertions(tc *types.TrieChanges, shard types.ShardUID, update *kv.Update) {
	for _, ins := range tc.Insertions {
		update.IncRefState(shard, ins.Hash, ins.Value)
	}
	for _, del := range tc.Deletions {
		update.DecRefState(shard, del.Hash)
	}
}

// ApplyDeletions queues the reverse of ApplyInsertions: decrementing every
// node tc.Insertions names and incrementing every node tc.Deletions names.
// Chain GC calls this when a block leaves the retained window, undoing the
// refcount contribution that block's chunk application made without
// touching any other block's references to the same nodes (spec.md §4.1
// step 3: "apply_deletions ... decrements refcounts ... frees nodes whose
// refcount reaches 0").
func ApplyDeletions(tc *types.TrieChanges, shard types.ShardUID, update *kv.Update) {
	for _, ins := range tc.Insertions {
		update.DecRefState(shard, ins.Hash)
	}
	for _, del := range tc.Deletions {
		update.IncRefState(shard, del.Hash, del.Value)
	}
}

// ApplyAll is ApplyInsertions; kept as a distinct name because callers that
// are not doing incremental GC bookkeeping reach for the whole-changeset
// verb nearcore's trie API uses for the same operation.
func ApplyAll(tc *types.TrieChanges, shard types.ShardUID, update *kv.Update) {
	ApplyInsertions(tc, shard, update)
}
