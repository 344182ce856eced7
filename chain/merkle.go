package chain

import (
	"github.com/shardline/shardline/store/kv"
	"github.com/shardline/shardline/types"
	"github.com/shardline/shardline/util/hashutil"
)

// MerkleTree is the append-only commitment to the canonical block sequence:
// one insertion per accepted block, producing a root any later block can
// cheaply prove membership against (spec.md §3 "Block-merkle tree"). It is
// a Merkle Mountain Range: a list of complete-binary-subtree peaks, so
// Insert never needs to rebalance more than O(log n) hashes. Defined as a
// named conversion of types.MerkleTree so the serializable store form and
// the behavior live in the packages that own each concern.
type MerkleTree types.MerkleTree

// Insert appends hash as the next leaf, returning the updated tree. Two
// equal-height peaks combine into their parent, carrying upward exactly as
// a binary counter increment does.
func (m MerkleTree) Insert(hash types.Hash) MerkleTree {
	peaks := append([]types.Hash(nil), m.Peaks...)
	carry := hash
	size := m.Size
	for size&1 == 1 {
		sibling := peaks[len(peaks)-1]
		peaks = peaks[:len(peaks)-1]
		carry = combine(sibling, carry)
		size >>= 1
	}
	peaks = append(peaks, carry)
	return MerkleTree{Peaks: peaks, Size: m.Size + 1}
}

// Root folds every peak into a single commitment, largest (oldest) subtree
// first, Peaks[0] onward, so
// the root changes deterministically as peaks merge on subsequent inserts.
func (m MerkleTree) Root() types.Hash {
	if len(m.Peaks) == 0 {
		return types.Hash{}
	}
	acc := m.Peaks[0]
	for _, p := range m.Peaks[1:] {
		acc = combine(acc, p)
	}
	return acc
}

func combine(a, b types.Hash) types.Hash {
	return hashutil.NodeHash(a[:], b[:])
}

// GetBlockMerkleTree returns the block-merkle-tree state as of hash.
func (c *Chain) GetBlockMerkleTree(hash types.Hash) (MerkleTree, error) {
	mt, found, err := c.store.GetBlockMerkleTree(hash)
	if err != nil {
		return MerkleTree{}, err
	}
	if !found {
		return MerkleTree{}, nil
	}
	return MerkleTree(*mt), nil
}

// saveBlockMerkleTree computes and persists the block-merkle-tree state for
// a newly-accepted block: the genesis block starts an empty tree; every
// other block's tree is its parent's tree with the parent's own hash
// inserted (spec.md §4.2 step 7: "block_merkle_root (by inserting prev_hash
// into prev's merkle tree)").
func (c *Chain) saveBlockMerkleTree(update *kv.Update, hash types.Hash, header *types.BlockHeader, isGenesis bool) error {
	tree := MerkleTree{}
	if !isGenesis {
		parentTree, err := c.GetBlockMerkleTree(header.PrevHash)
		if err != nil {
			return err
		}
		tree = parentTree.Insert(header.PrevHash)
	}
	out := types.MerkleTree(tree)
	return update.SaveBlockMerkleTree(hash, &out)
}

// NextBlockMerkleInfo computes the (block_merkle_root, block_ordinal) pair
// the next block built on prevHash would carry, per the same formula
// saveBlockMerkleTree applies (spec.md §4.2 step 7).
func (c *Chain) NextBlockMerkleInfo(prevHash types.Hash) (root types.Hash, ordinal uint64, err error) {
	prevTree, err := c.GetBlockMerkleTree(prevHash)
	if err != nil {
		return types.Hash{}, 0, err
	}
	next := prevTree.Insert(prevHash)
	return next.Root(), next.Size, nil
}
