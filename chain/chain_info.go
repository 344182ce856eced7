package chain

import "github.com/shardline/shardline/types"

// Head returns the current canonical chain tip.
func (c *Chain) Head() (*types.Tip, error) { return c.store.GetHead() }

// HeaderHead returns the head of the best known header chain, which may
// run ahead of Head during header sync.
func (c *Chain) HeaderHead() (*types.Tip, error) { return c.store.GetHeaderHead() }

// FinalHead returns the last block Doomslug has finalized.
func (c *Chain) FinalHead() (*types.Tip, error) { return c.store.GetFinalHead() }

// GetBlock retrieves a block by hash.
func (c *Chain) GetBlock(hash types.Hash) (*types.Block, error) { return c.store.GetBlock(hash) }

// GetHeader retrieves a header by hash.
func (c *Chain) GetHeader(hash types.Hash) (*types.BlockHeader, error) {
	return c.store.GetHeader(hash)
}

// GetChunkExtra retrieves the post-apply summary for (blockHash, shard),
// the starting state produce_chunk reads (spec.md §4.2 "produce_chunk"
// step 1).
func (c *Chain) GetChunkExtra(blockHash types.Hash, shard types.ShardUID) (*types.ChunkExtra, error) {
	return c.store.GetChunkExtra(blockHash, shard)
}

// HeightOf looks up a known block's height, used by ShardsManager's
// incomplete-chunk pruning (spec.md §4.2 step 3).
func (c *Chain) HeightOf(hash types.Hash) (uint64, bool) {
	h, err := c.store.GetHeader(hash)
	if err != nil {
		return 0, false
	}
	return h.Height, true
}

// Tail returns the hash of the lowest block whose full body is still retained.
func (c *Chain) Tail() (types.Hash, bool, error) { return c.store.GetTail() }

// GetCanonicalHeaderAtHeight finds the one canonical header at height, if
// any is known, by filtering the competing-hash index (spec.md §4.3 step 1:
// resolving a Skip(height) approval's parent_hash).
func (c *Chain) GetCanonicalHeaderAtHeight(height uint64) (*types.BlockHeader, bool, error) {
	hashes, err := c.store.GetHeaderHashesAtHeight(height)
	if err != nil {
		return nil, false, err
	}
	for _, h := range hashes {
		canonical, err := c.IsCanonical(h)
		if err != nil {
			return nil, false, err
		}
		if canonical {
			header, err := c.store.GetHeader(h)
			if err != nil {
				return nil, false, err
			}
			return header, true, nil
		}
	}
	return nil, false, nil
}

// IsCanonical reports whether hash is the canonical block at its height:
// either it is the current head, or NextBlockHashes records it as the
// successor of its own parent (spec.md §4.1 "Canonical detection").
func (c *Chain) IsCanonical(hash types.Hash) (bool, error) {
	head, err := c.store.GetHead()
	if err != nil {
		return false, err
	}
	if head != nil && hash == head.LastBlockHash {
		return true, nil
	}
	header, err := c.store.GetHeader(hash)
	if err != nil {
		return false, err
	}
	next, found, err := c.store.GetNextBlockHash(header.PrevHash)
	if err != nil {
		return false, err
	}
	return found && next == hash, nil
}
