// reorg_test.go exercises spec.md §8 scenario 6 ("Mempool reorg round-trip")
// against a real chain.Chain/store.Store/runtime.KeyValueRuntime stack, the
// same way chain/gc_test.go drives the GC scenarios — built in-package so it
// can sit alongside the other core packages' tests rather than a bare root
// tests/ directory.
package client

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shardline/shardline/chain"
	"github.com/shardline/shardline/client/networktest"
	"github.com/shardline/shardline/doomslug"
	"github.com/shardline/shardline/params"
	"github.com/shardline/shardline/runtime"
	"github.com/shardline/shardline/shardsmgr"
	"github.com/shardline/shardline/store/kv"
	"github.com/shardline/shardline/types"
)

var reorgShard = types.ShardUID{Version: 0, ShardID: 0}

// reorgHarness wires a real Client over a real store/chain/runtime, with no
// signing key (Signer: nil) since this test only drives acceptance through
// Client.ProcessBlock, never production.
type reorgHarness struct {
	store   *kv.Store
	chain   *chain.Chain
	shards  *shardsmgr.ShardsManager
	rt      *runtime.KeyValueRuntime
	client  *Client
	genesis types.Hash
}

func newReorgHarness(t *testing.T) *reorgHarness {
	t.Helper()
	st, err := kv.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, st.Close()) })

	validators := []types.AccountID{"alice", "bob", "carol"}
	// A long epoch keeps every block in this test inside one epoch, so
	// fork-choice/GC behavior isn't entangled with epoch-boundary catchup.
	rt := runtime.NewKeyValueRuntime(st, validators, 1000, 1)

	genesis := params.Genesis{EpochLength: 1000, NumBlockProducerSeats: len(validators), NumShards: 1}
	cfg := params.DefaultConfig()

	c := chain.New(context.Background(), &chain.Config{Store: st, Runtime: rt, Genesis: genesis, Params: cfg})

	gBlock := &types.Block{
		Header: types.BlockHeader{Height: 0, ChunkMask: []bool{true}},
		Chunks: []types.ShardChunkHeader{{ShardID: 0, GasLimit: 1_000_000}},
	}
	require.NoError(t, c.Bootstrap(gBlock))
	gHash, err := gBlock.Hash()
	require.NoError(t, err)
	rt.NoteBlockHeight(gHash, 0)

	shards := shardsmgr.New()
	net := networktest.New()

	cl, err := New(&Config{
		Store:    st,
		Chain:    c,
		Doomslug: doomslug.New(0, 0),
		Shards:   shards,
		Runtime:  rt,
		Network:  net,
		Signer:   nil,
		Verifier: networktest.FakeVerifier{},
		Params:   cfg,
		Genesis:  genesis,
	})
	require.NoError(t, err)

	return &reorgHarness{store: st, chain: c, shards: shards, rt: rt, client: cl, genesis: gHash}
}

// extend builds, submits and accepts one block at height on top of prevHash,
// with txs (may be empty) included as the shard-0 chunk body.
func (h *reorgHarness) extend(t *testing.T, prevHash types.Hash, height uint64, txs []*types.SignedTransaction) types.Hash {
	t.Helper()
	prevExtra, err := h.chain.GetChunkExtra(prevHash, reorgShard)
	require.NoError(t, err)

	block := &types.Block{
		Header: types.BlockHeader{Height: height, PrevHash: prevHash},
		Chunks: []types.ShardChunkHeader{{
			ShardID:        0,
			HeightCreated:  height,
			HeightIncluded: height,
			PrevStateRoot:  prevExtra.StateRoot,
			GasLimit:       1_000_000,
		}},
	}
	bodies := map[types.ShardID][]*types.SignedTransaction{0: txs}
	_, err = h.client.ProcessBlock(block, bodies, types.ProvenanceNone)
	require.NoError(t, err)

	hash, err := block.Hash()
	require.NoError(t, err)
	h.rt.NoteBlockHeight(hash, height)
	return hash
}

func tx(signer types.AccountID, nonce uint64) *types.SignedTransaction {
	return &types.SignedTransaction{
		Hash:     types.Hash{byte(nonce), byte(nonce >> 8), 1},
		SignerID: signer,
		Nonce:    nonce,
	}
}

// TestReorgReintroducesAbandonedAndRemovesAdoptedTransactions is spec.md §8
// scenario 6: a tip at height 10 (chain A) included {t1, t2}; a competing
// chain reusing the height-7 ancestor and carrying {t3} overtakes it. Since
// fork-choice here is strictly "highest height wins" (chain/fork_choice.go),
// the competing chain must reach height 11, one higher than A's tip at
// height 10, to actually displace it — the same mechanism the spec's
// "longer chain wins" reorg describes, adapted to a concrete height.
func TestReorgReintroducesAbandonedAndRemovesAdoptedTransactions(t *testing.T) {
	h := newReorgHarness(t)

	t1 := tx("t1-signer", 1)
	t2 := tx("t2-signer", 1)
	t3 := tx("t3-signer", 1)
	t4 := tx("t4-signer", 1)

	// Common prefix, heights 1..7.
	ancestor := h.genesis
	for height := uint64(1); height <= 7; height++ {
		ancestor = h.extend(t, ancestor, height, nil)
	}

	// t4 is an unrelated pending transaction that must survive the reorg
	// untouched; t3 is pre-seeded to prove eviction actually runs (rather
	// than the assertion trivially holding because t3 was never added).
	h.shards.AddTransaction(0, t4)
	h.shards.AddTransaction(0, t3)

	// Chain A: heights 8-10, including t1 then t2. This becomes head.
	a8 := h.extend(t, ancestor, 8, []*types.SignedTransaction{t1})
	a9 := h.extend(t, a8, 9, []*types.SignedTransaction{t2})
	_ = h.extend(t, a9, 10, nil)

	require.False(t, h.shards.HasTransaction(0, t1.Hash))
	require.False(t, h.shards.HasTransaction(0, t2.Hash))
	require.True(t, h.shards.HasTransaction(0, t3.Hash))
	require.True(t, h.shards.HasTransaction(0, t4.Hash))

	// Chain B: heights 8-11 off the same ancestor, including t3 at height 8.
	// Heights 8-10 stay forks (height <= current head height 10); height 11
	// exceeds it and triggers the reorg.
	b8 := h.extend(t, ancestor, 8, []*types.SignedTransaction{t3})
	b9 := h.extend(t, b8, 9, nil)
	b10 := h.extend(t, b9, 10, nil)
	b11 := h.extend(t, b10, 11, nil)

	head, err := h.chain.Head()
	require.NoError(t, err)
	require.Equal(t, b11, head.LastBlockHash)

	// t1, t2 (abandoned chain A's transactions) must be reintroduced.
	require.True(t, h.shards.HasTransaction(0, t1.Hash))
	require.True(t, h.shards.HasTransaction(0, t2.Hash))
	// t3 (now on-chain on the adopted side) must be evicted.
	require.False(t, h.shards.HasTransaction(0, t3.Hash))
	// t4 (never touched by either chain) must be untouched.
	require.True(t, h.shards.HasTransaction(0, t4.Hash))
}
