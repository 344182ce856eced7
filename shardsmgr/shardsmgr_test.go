package shardsmgr

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shardline/shardline/types"
)

func TestMempoolReintroduceRoundTrip(t *testing.T) {
	m := New()
	shard := types.ShardID(0)
	t1 := &types.SignedTransaction{Hash: types.Hash{1}}
	t2 := &types.SignedTransaction{Hash: types.Hash{2}}
	t3 := &types.SignedTransaction{Hash: types.Hash{3}}

	m.AddTransaction(shard, t1)
	m.AddTransaction(shard, t2)
	m.AddTransaction(shard, t3)

	m.RemoveTransactions(shard, []*types.SignedTransaction{t3})
	require.False(t, m.HasTransaction(shard, t3.Hash))
	require.True(t, m.HasTransaction(shard, t1.Hash))
	require.True(t, m.HasTransaction(shard, t2.Hash))

	require.Len(t, m.PendingTransactions(shard), 2)
}

func TestChunkAssemblyCompletesOnAllParts(t *testing.T) {
	m := New()
	header := types.ShardChunkHeader{ShardID: 0, HeightCreated: 1}
	hash, err := m.TrackIncompleteChunk(header, types.Hash{9}, 2)
	require.NoError(t, err)
	require.True(t, m.IsChunkIncomplete(hash))

	complete := m.OnChunkPartReceived(hash, 0, []*types.SignedTransaction{{Hash: types.Hash{1}}})
	require.False(t, complete)

	complete = m.OnChunkPartReceived(hash, 1, []*types.SignedTransaction{{Hash: types.Hash{2}}})
	require.True(t, complete)
	require.False(t, m.IsChunkIncomplete(hash))

	body, ok := m.AssembledBody(hash)
	require.True(t, ok)
	require.Len(t, body, 2)
}
