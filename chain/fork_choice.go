package chain

import (
	"github.com/shardline/shardline/store/kv"
	"github.com/shardline/shardline/types"
)

// updateHead decides how block relates to the current head and, if it
// becomes the new head, rewrites NextBlockHashes along its canonical path
// back to the common ancestor with the previous head (spec.md §4.1
// "Canonical detection" / §4.2 step 3's BlockStatus values). It also returns
// the hash of the head that was current *before* this call, so a StatusReorg
// result carries the `prev_head` the spec's `Reorg(prev_head)` names
// (spec.md §4.2 step 4) instead of forcing the caller to re-read a HEAD that
// this same call already overwrote.
//
// Fork choice itself (consensus-proof weight comparison) is explicitly out
// of this spec's scope; this uses the simplest rule consistent with the
// invariants GC and NextBlockHashes depend on: highest height wins.
func (c *Chain) updateHead(update *kv.Update, block *types.Block) (types.BlockStatus, types.Hash, error) {
	hash, err := block.Hash()
	if err != nil {
		return 0, types.Hash{}, err
	}
	head, err := c.store.GetHead()
	if err != nil {
		return 0, types.Hash{}, err
	}
	var prevHead types.Hash
	if head != nil {
		prevHead = head.LastBlockHash
	}

	if head == nil || block.Header.PrevHash == head.LastBlockHash {
		update.SetNextBlockHash(block.Header.PrevHash, hash)
		tip, err := types.TipFromHeader(&block.Header)
		if err != nil {
			return 0, types.Hash{}, err
		}
		if err := update.SetHead(&tip); err != nil {
			return 0, types.Hash{}, err
		}
		if err := update.SetHeaderHead(&tip); err != nil {
			return 0, types.Hash{}, err
		}
		return types.StatusNext, prevHead, nil
	}

	if block.Header.Height <= head.Height {
		return types.StatusFork, prevHead, nil
	}

	// block itself is not committed yet, so the path is rewritten up to its
	// (stored) parent and block is then linked onto that parent.
	if err := c.rewriteCanonicalPath(update, head.LastBlockHash, block.Header.PrevHash); err != nil {
		return 0, types.Hash{}, err
	}
	update.SetNextBlockHash(block.Header.PrevHash, hash)
	tip, err := types.TipFromHeader(&block.Header)
	if err != nil {
		return 0, types.Hash{}, err
	}
	if err := update.SetHead(&tip); err != nil {
		return 0, types.Hash{}, err
	}
	if err := update.SetHeaderHead(&tip); err != nil {
		return 0, types.Hash{}, err
	}
	return types.StatusReorg, prevHead, nil
}

// rewriteCanonicalPath finds the common ancestor of oldHead and newHead and
// repoints NextBlockHashes so newHead's ancestry becomes canonical.
func (c *Chain) rewriteCanonicalPath(update *kv.Update, oldHead, newHead types.Hash) error {
	ancestor, newPath, err := c.commonAncestor(oldHead, newHead)
	if err != nil {
		return err
	}
	prev := ancestor
	for i := len(newPath) - 1; i >= 0; i-- {
		update.SetNextBlockHash(prev, newPath[i])
		prev = newPath[i]
	}
	return nil
}

// ReorgBlocks returns the blocks abandoned by a reorg from oldHead to
// newHead (the old chain's blocks above their common ancestor) and the
// blocks newly adopted (newHead's chain above the same ancestor), both
// ordered oldest-first. Client.onBlockAccepted walks these to reintroduce
// and evict mempool transactions (spec.md §4.2 step 4 "Reorg(prev_head)").
func (c *Chain) ReorgBlocks(oldHead, newHead types.Hash) (abandoned, adopted []*types.Block, err error) {
	ancestor, newPath, err := c.commonAncestor(oldHead, newHead)
	if err != nil {
		return nil, nil, err
	}

	cur := oldHead
	for cur != ancestor {
		b, err := c.store.GetBlock(cur)
		if err != nil {
			return nil, nil, err
		}
		abandoned = append(abandoned, b)
		cur = b.Header.PrevHash
	}
	// abandoned was collected newest-first; reverse to oldest-first.
	for i, j := 0, len(abandoned)-1; i < j; i, j = i+1, j-1 {
		abandoned[i], abandoned[j] = abandoned[j], abandoned[i]
	}

	for i := len(newPath) - 1; i >= 0; i-- {
		b, err := c.store.GetBlock(newPath[i])
		if err != nil {
			return nil, nil, err
		}
		adopted = append(adopted, b)
	}
	return abandoned, adopted, nil
}

// commonAncestor walks both chains back by height until they meet,
// returning the ancestor hash and newHead's path from (just after) the
// ancestor to newHead, ordered closest-to-newHead first.
func (c *Chain) commonAncestor(oldHead, newHead types.Hash) (types.Hash, []types.Hash, error) {
	oldHdr, err := c.store.GetHeader(oldHead)
	if err != nil {
		return types.Hash{}, nil, err
	}
	newHdr, err := c.store.GetHeader(newHead)
	if err != nil {
		return types.Hash{}, nil, err
	}

	a, b := oldHead, newHead
	ah, bh := oldHdr, newHdr
	var newPath []types.Hash
	for ah.Height > bh.Height {
		a = ah.PrevHash
		ah, err = c.store.GetHeader(a)
		if err != nil {
			return types.Hash{}, nil, err
		}
	}
	for bh.Height > ah.Height {
		newPath = append(newPath, b)
		b = bh.PrevHash
		bh, err = c.store.GetHeader(b)
		if err != nil {
			return types.Hash{}, nil, err
		}
	}
	for a != b {
		newPath = append(newPath, b)
		a = ah.PrevHash
		b = bh.PrevHash
		ah, err = c.store.GetHeader(a)
		if err != nil {
			return types.Hash{}, nil, err
		}
		bh, err = c.store.GetHeader(b)
		if err != nil {
			return types.Hash{}, nil, err
		}
	}
	return a, newPath, nil
}
