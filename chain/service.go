// Package chain owns the block/header index, per-shard chunk extras, tips
// and GC: the single piece of mutable on-disk chain state every other
// subsystem reads through (spec.md §2 "Chain").
package chain

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/event"

	"github.com/shardline/shardline/chain/errkind"
	"github.com/shardline/shardline/params"
	"github.com/shardline/shardline/runtime"
	"github.com/shardline/shardline/store/kv"
	"github.com/shardline/shardline/trie"
	"github.com/shardline/shardline/types"
)

// Chain is the store-backed block/header index plus the GC and
// fork-choice logic that keep it within its invariants.
type Chain struct {
	ctx    context.Context
	cancel context.CancelFunc

	store   *kv.Store
	tries   *trie.ShardTries
	runtime runtime.Adapter
	genesis params.Genesis
	cfg     params.Config

	acceptedBlockFeed event.Feed

	mu            sync.Mutex
	orphans       map[types.Hash][]orphanEntry
	missingChunks map[types.Hash]missingChunksEntry
}

// orphanEntry is a block parked because its parent is unknown, along with
// the per-shard transaction bodies ShardsManager had already assembled.
type orphanEntry struct {
	block  *types.Block
	bodies map[types.ShardID][]*types.SignedTransaction
}

// missingChunksEntry is a block parked because one of its shard chunks'
// starting state could not be resolved.
type missingChunksEntry struct {
	block  *types.Block
	bodies map[types.ShardID][]*types.SignedTransaction
}

// Config bundles the collaborators Chain needs at construction.
type Config struct {
	Store   *kv.Store
	Runtime runtime.Adapter
	Genesis params.Genesis
	Params  params.Config
}

// New wires a Chain over an already-open store.
func New(ctx context.Context, cfg *Config) *Chain {
	ctx, cancel := context.WithCancel(ctx)
	return &Chain{
		ctx:           ctx,
		cancel:        cancel,
		store:         cfg.Store,
		tries:         trie.NewShardTries(cfg.Store),
		runtime:       cfg.Runtime,
		genesis:       cfg.Genesis,
		cfg:           cfg.Params,
		orphans:       make(map[types.Hash][]orphanEntry),
		missingChunks: make(map[types.Hash]missingChunksEntry),
	}
}

// SubscribeAcceptedBlocks registers ch to receive every block hash that
// becomes a new head (ShardsManager and the network layer both subscribe).
func (c *Chain) SubscribeAcceptedBlocks(ch chan<- types.Hash) event.Subscription {
	return c.acceptedBlockFeed.Subscribe(ch)
}

// Bootstrap initializes an empty store with a genesis block: its parent is
// the zero hash (NextBlockHashes maps the zero hash to it), it is canonical
// by definition, and every well-known tip points at it.
func (c *Chain) Bootstrap(genesisBlock *types.Block) error {
	if _, found, _ := c.store.GetGenesisHash(); found {
		return nil
	}
	hash, err := genesisBlock.Hash()
	if err != nil {
		return err
	}
	tip, err := types.TipFromHeader(&genesisBlock.Header)
	if err != nil {
		return err
	}

	update := c.store.NewUpdate()
	if err := update.SaveBlock(genesisBlock); err != nil {
		return err
	}
	if err := c.saveBlockMerkleTree(update, hash, &genesisBlock.Header, true); err != nil {
		return err
	}
	// Every shard's ChunkExtra must exist for genesis too (spec.md §3
	// invariant 4), or the first real block's applyChunk lookup of its
	// parent's post-state would fail with ChunkMissing.
	for i := range genesisBlock.Chunks {
		chunk := &genesisBlock.Chunks[i]
		shardUID := types.ShardUID{Version: 0, ShardID: chunk.ShardID}
		extra := &types.ChunkExtra{StateRoot: chunk.PrevStateRoot, GasLimit: chunk.GasLimit}
		if err := update.SaveChunkExtra(hash, shardUID, extra); err != nil {
			return err
		}
	}
	update.SetGenesisHash(hash)
	update.SetTail(hash)
	update.SetChunkTail(hash)
	update.SetForkTail(hash)
	if err := update.SetHead(&tip); err != nil {
		return err
	}
	if err := update.SetHeaderHead(&tip); err != nil {
		return err
	}
	if err := update.SetFinalHead(&tip); err != nil {
		return err
	}
	update.SetNextBlockHash(genesisBlock.Header.PrevHash, hash)
	update.SetHeightProcessed(genesisBlock.Header.Height)
	return update.Commit()
}

// Stop cancels the chain's context; no background goroutines run today, but
// Sync and the head-progress watchdog hold this context too.
func (c *Chain) Stop() error {
	c.cancel()
	return nil
}

func (c *Chain) errDBNotFound(cause error) error { return errkind.New(errkind.DBNotFound, cause) }
