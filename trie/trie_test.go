package trie_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shardline/shardline/store/kv"
	"github.com/shardline/shardline/trie"
	"github.com/shardline/shardline/types"
)

func testShard() types.ShardUID { return types.ShardUID{Version: 0, ShardID: 0} }

func newStore(t *testing.T) *kv.Store {
	t.Helper()
	s, err := kv.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s
}

func TestUpdateGetRoundTrip(t *testing.T) {
	store := newStore(t)
	shard := testShard()
	tries := trie.NewShardTries(store)
	tr := tries.GetTrieForShard(shard)

	changes := []trie.KVChange{
		{Key: []byte("alice"), Value: []byte("100")},
		{Key: []byte("bob"), Value: []byte("50")},
		{Key: []byte("carol"), Value: []byte("25")},
	}
	tc, err := tr.Update(types.Hash{}, changes)
	require.NoError(t, err)
	require.NotEqual(t, types.Hash{}, tc.NewRoot)

	update := store.NewUpdate()
	trie.ApplyInsertions(tc, shard, update)
	require.NoError(t, update.Commit())

	for _, c := range changes {
		v, ok, err := tr.Get(tc.NewRoot, c.Key)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, c.Value, v)
	}

	_, ok, err := tr.Get(tc.NewRoot, []byte("dave"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestIterYieldsKeysInOrder(t *testing.T) {
	store := newStore(t)
	shard := testShard()
	tries := trie.NewShardTries(store)
	tr := tries.GetTrieForShard(shard)

	changes := []trie.KVChange{
		{Key: []byte("zebra"), Value: []byte("1")},
		{Key: []byte("apple"), Value: []byte("2")},
		{Key: []byte("mango"), Value: []byte("3")},
	}
	tc, err := tr.Update(types.Hash{}, changes)
	require.NoError(t, err)

	update := store.NewUpdate()
	trie.ApplyInsertions(tc, shard, update)
	require.NoError(t, update.Commit())

	var got []string
	require.NoError(t, tr.Iter(tc.NewRoot, func(key, value []byte) error {
		got = append(got, string(key))
		return nil
	}))
	require.Equal(t, []string{"apple", "mango", "zebra"}, got)
}

// TestApplyDeletionsReversesApplyInsertions is the observational-equivalence
// property chain GC depends on: undoing a block's trie changes must free
// every node it alone was keeping alive, and must leave alone every node a
// surviving root still references.
func TestApplyDeletionsReversesApplyInsertions(t *testing.T) {
	store := newStore(t)
	shard := testShard()
	tries := trie.NewShardTries(store)
	tr := tries.GetTrieForShard(shard)

	base, err := tr.Update(types.Hash{}, []trie.KVChange{{Key: []byte("k1"), Value: []byte("v1")}})
	require.NoError(t, err)
	update := store.NewUpdate()
	trie.ApplyInsertions(base, shard, update)
	require.NoError(t, update.Commit())

	next, err := tr.Update(base.NewRoot, []trie.KVChange{{Key: []byte("k2"), Value: []byte("v2")}})
	require.NoError(t, err)
	update = store.NewUpdate()
	trie.ApplyInsertions(next, shard, update)
	require.NoError(t, update.Commit())

	// Undo `next`: k1's node, shared with base.NewRoot, must survive; the
	// nodes only next.NewRoot uses (k2's leaf and the rewritten k1 root,
	// the last node Update created and the one checked below) must be freed.
	update = store.NewUpdate()
	trie.ApplyDeletions(next, shard, update)
	require.NoError(t, update.Commit())

	v, ok, err := tr.Get(base.NewRoot, []byte("k1"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v1"), v)

	_, _, stillThere, err := store.GetState(shard, next.Insertions[len(next.Insertions)-1].Hash)
	require.NoError(t, err)
	require.False(t, stillThere)
}
