// gc.go is the central hard piece: the two disjoint GC regimes that keep
// on-disk state bounded while preserving every invariant in spec.md §3 —
// canonical tail GC (advance `tail` forward, bounded by gc_blocks_limit) and
// fork tail GC (sweep `fork_tail` backward by GCForkCleanStep per call,
// restarted at every epoch boundary). Grounded in nearcore's chain/gc.rs
// (read in original_source/) and its test harness's gc_height derivation.
package chain

import (
	"go.opencensus.io/trace"

	"github.com/shardline/shardline/params"
	"github.com/shardline/shardline/store/kv"
	"github.com/shardline/shardline/trie"
	"github.com/shardline/shardline/types"
)

// RunGC drives whichever GC regime applies after a new-head acceptance
// (spec.md §4.2 step 3: "Run GC (§4.1) with gc_blocks_limit").
func (c *Chain) RunGC() error {
	_, span := trace.StartSpan(c.ctx, "chain.RunGC")
	defer span.End()
	span.AddAttributes(trace.BoolAttribute("archive", c.cfg.Archive))

	if c.cfg.Archive {
		return c.clearArchiveData()
	}
	if err := c.clearData(); err != nil {
		return err
	}
	return c.clearForkTail()
}

// clearData is canonical tail GC: it advances `tail` forward by erasing
// canonical blocks at height == tail (and every fork block at that height)
// until gc_blocks_limit blocks are erased, or tail would cross
// GC_STOP_HEIGHT below final_head (spec.md §4.1).
func (c *Chain) clearData() error {
	finalHead, err := c.store.GetFinalHead()
	if err != nil {
		return err
	}
	stopDistance := params.GCStopHeight(c.genesis, c.cfg.GCNumEpochsToKeep)
	if finalHead.Height <= stopDistance {
		return nil // not enough confirmed history yet to GC anything
	}
	maxTailHeight := finalHead.Height - stopDistance

	update := c.store.NewUpdate()
	pendingDec := map[types.Hash]int{}
	deleted := map[types.Hash]bool{}
	erased := 0

	tailHash, ok, err := c.store.GetTail()
	if !ok || err != nil {
		return err
	}
	for erased < int(c.cfg.GCBlocksLimit) {
		tailHeader, err := c.store.GetHeader(tailHash)
		if err != nil {
			return err
		}
		if tailHeader.Height >= maxTailHeight {
			break
		}
		nextTailHash, found, err := c.store.GetNextBlockHash(tailHash)
		if err != nil {
			return err
		}
		if !found {
			break // canonical successor not yet known; nothing more to advance
		}

		hashesAtHeight, err := c.store.GetHeaderHashesAtHeight(tailHeader.Height)
		if err != nil {
			return err
		}
		queue := append([]types.Hash(nil), hashesAtHeight...)
		for len(queue) > 0 {
			h := queue[0]
			queue = queue[1:]
			if deleted[h] {
				continue
			}
			deleted[h] = true
			if err := c.deleteBlock(update, h, tailHeader.Height, pendingDec, &queue); err != nil {
				return err
			}
			erased++
		}
		update.DeleteHeightProcessed(tailHeader.Height)
		update.SetTail(nextTailHash)
		update.SetChunkTail(nextTailHash)
		tailHash = nextTailHash
	}

	logGCRun("canonical", erased, 0, 0)
	return update.Commit()
}

// clearForkTail is fork tail GC: on an epoch boundary it resets fork_tail to
// the current head height, then sweeps it downward by at most
// GCForkCleanStep heights per call, erasing every non-canonical block
// encountered (spec.md §4.1).
func (c *Chain) clearForkTail() error {
	head, err := c.store.GetHead()
	if err != nil {
		return err
	}
	isEpochStart, err := c.runtime.IsNextBlockEpochStart(head.PrevBlockHash)
	if err != nil {
		return err
	}
	if isEpochStart {
		reset := c.store.NewUpdate()
		reset.SetForkTail(head.LastBlockHash)
		if err := reset.Commit(); err != nil {
			return err
		}
	}

	forkTailHash, ok, err := c.store.GetForkTail()
	if !ok || err != nil {
		return err
	}
	forkTailHeader, err := c.store.GetHeader(forkTailHash)
	if err != nil {
		return err
	}
	tailHash, _, err := c.store.GetTail()
	if err != nil {
		return err
	}
	tailHeader, err := c.store.GetHeader(tailHash)
	if err != nil {
		return err
	}

	update := c.store.NewUpdate()
	pendingDec := map[types.Hash]int{}
	deleted := map[types.Hash]bool{}
	erased := 0

	height := forkTailHeader.Height
	swept := uint64(0)
	for swept < params.GCForkCleanStep && height >= tailHeader.Height {
		hashesAtHeight, err := c.store.GetHeaderHashesAtHeight(height)
		if err != nil {
			return err
		}
		queue := make([]types.Hash, 0, len(hashesAtHeight))
		for _, h := range hashesAtHeight {
			canonical, err := c.IsCanonical(h)
			if err != nil {
				return err
			}
			if !canonical {
				queue = append(queue, h)
			}
		}
		for len(queue) > 0 {
			h := queue[0]
			queue = queue[1:]
			if deleted[h] {
				continue
			}
			deleted[h] = true
			if err := c.deleteBlock(update, h, tailHeader.Height, pendingDec, &queue); err != nil {
				return err
			}
			erased++
		}
		if height == 0 {
			break
		}
		height--
		swept++
	}

	if height < tailHeader.Height {
		update.SetForkTail(tailHash)
	} else {
		hashesAtNewHeight, err := c.store.GetHeaderHashesAtHeight(height)
		if err == nil && len(hashesAtNewHeight) > 0 {
			update.SetForkTail(hashesAtNewHeight[0])
		}
	}

	logGCRun("fork", erased, tailHeader.Height, height)
	return update.Commit()
}

// clearArchiveData is the archival-mode GC path: Block, BlockHeader, Chunk
// and receipt columns are kept indefinitely; only trie state older than
// tail is freed, plus chunk_tail advancement (spec.md §4.1 "Archive mode").
func (c *Chain) clearArchiveData() error {
	tailHash, ok, err := c.store.GetTail()
	if !ok || err != nil {
		return err
	}
	tailHeader, err := c.store.GetHeader(tailHash)
	if err != nil {
		return err
	}
	if tailHeader.Height == 0 {
		return nil
	}

	update := c.store.NewUpdate()
	prevHeight := tailHeader.Height - 1
	hashesAtPrevHeight, err := c.store.GetHeaderHashesAtHeight(prevHeight)
	if err != nil {
		return err
	}
	for _, h := range hashesAtPrevHeight {
		block, err := c.store.GetBlock(h)
		if err == kv.ErrNotFound {
			continue
		}
		if err != nil {
			return err
		}
		for _, chunk := range block.Chunks {
			shardUID := types.ShardUID{Version: 0, ShardID: chunk.ShardID}
			tc, err := c.store.GetTrieChanges(h, shardUID)
			if err == kv.ErrNotFound {
				continue
			}
			if err != nil {
				return err
			}
			trie.ApplyDeletions(tc, shardUID, update)
			update.DeleteTrieChanges(h, shardUID)
		}
	}
	update.SetChunkTail(tailHash)
	return update.Commit()
}

// deleteBlock is the per-candidate deletion algorithm (spec.md §4.1,
// "Block deletion algorithm" steps 1-8). pendingDec tracks how many
// DecBlockRefcount calls have already been queued this invocation for a
// hash, since the queued decrements haven't committed yet and store reads
// still see the pre-GC value. Newly-orphaned fork leaves (refcount reaches
// zero, non-canonical, above tail) are appended to queue for the caller to
// drain within the same invocation.
func (c *Chain) deleteBlock(update *kv.Update, hash types.Hash, tailHeight uint64, pendingDec map[types.Hash]int, queue *[]types.Hash) error {
	block, err := c.store.GetBlock(hash)
	if err == kv.ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	header := block.Header
	isGenesis := header.PrevHash == (types.Hash{}) && header.Height == 0

	if !isGenesis {
		parent := header.PrevHash
		pendingDec[parent]++
		update.DecBlockRefcount(parent)

		cur, err := c.store.GetBlockRefcount(parent)
		if err != nil {
			return err
		}
		if int64(cur)-int64(pendingDec[parent]) <= 0 {
			// The parent may have already been erased by an earlier GC pass
			// (e.g. canonical tail GC ran before a fork sharing that parent
			// got swept); nothing left to queue in that case.
			parentHeader, herr := c.store.GetHeader(parent)
			if herr != nil && herr != kv.ErrNotFound {
				return herr
			}
			if herr == nil {
				canonical, err := c.IsCanonical(parent)
				if err != nil {
					return err
				}
				if !canonical && parentHeader.Height > tailHeight {
					*queue = append(*queue, parent)
				}
			}
		}
	}

	for _, chunk := range block.Chunks {
		shardUID := types.ShardUID{Version: 0, ShardID: chunk.ShardID}
		if tc, terr := c.store.GetTrieChanges(hash, shardUID); terr == nil {
			trie.ApplyDeletions(tc, shardUID, update)
			update.DeleteTrieChanges(hash, shardUID)
		} else if terr != kv.ErrNotFound {
			return terr
		}

		update.DeleteChunkExtra(hash, shardUID)

		if chunk.HeightIncluded == header.Height && !c.cfg.Archive {
			if chunkHash, cherr := chunk.Hash(); cherr == nil {
				update.DeleteChunkHeader(chunkHash)
			}
		}
	}

	update.DeleteBlock(hash)
	update.DeleteBlockMerkleTree(hash)
	update.RemoveHeaderHashAtHeight(header.Height, hash)
	update.DeleteBlockRefcountRow(hash)

	if _, found, _ := c.store.GetNextBlockHash(hash); found {
		update.DeleteNextBlockHash(hash)
	}
	if prevNext, pfound, _ := c.store.GetNextBlockHash(header.PrevHash); pfound && prevNext == hash {
		update.DeleteNextBlockHash(header.PrevHash)
	}

	return nil
}
