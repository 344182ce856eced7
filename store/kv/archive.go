// archive.go holds the well-known single-row pointers that locate a node on
// its chain: HEAD, HEADER_HEAD, FINAL_HEAD, TAIL, CHUNK_TAIL, FORK_TAIL,
// LATEST_KNOWN and the genesis hash (spec.md §3).
package kv

import (
	"github.com/ethereum/go-ethereum/rlp"
	"go.etcd.io/bbolt"

	"github.com/shardline/shardline/types"
)

func (s *Store) getTip(key []byte) (*types.Tip, error) {
	var tip *types.Tip
	err := s.db.View(func(tx *bbolt.Tx) error {
		enc := tx.Bucket(metaBucket).Get(key)
		if enc == nil {
			return ErrNotFound
		}
		dec, err := types.DecodeTip(enc)
		if err != nil {
			return err
		}
		tip = dec
		return nil
	})
	return tip, err
}

func (u *Update) setTip(key []byte, tip *types.Tip) error {
	enc, err := tip.Encode()
	if err != nil {
		return err
	}
	u.queue(func(tx *bbolt.Tx) error {
		return tx.Bucket(metaBucket).Put(key, enc)
	})
	return nil
}

// GetHead returns the current canonical chain head.
func (s *Store) GetHead() (*types.Tip, error) { return s.getTip(headKey) }

// SetHead queues updating HEAD.
func (u *Update) SetHead(tip *types.Tip) error { return u.setTip(headKey, tip) }

// GetHeaderHead returns the head of the best known header chain, which may
// run ahead of HEAD during header sync.
func (s *Store) GetHeaderHead() (*types.Tip, error) { return s.getTip(headerHeadKey) }

// SetHeaderHead queues updating HEADER_HEAD.
func (u *Update) SetHeaderHead(tip *types.Tip) error { return u.setTip(headerHeadKey, tip) }

// GetFinalHead returns the last block Doomslug has finalized.
func (s *Store) GetFinalHead() (*types.Tip, error) { return s.getTip(finalHeadKey) }

// SetFinalHead queues updating FINAL_HEAD.
func (u *Update) SetFinalHead(tip *types.Tip) error { return u.setTip(finalHeadKey, tip) }

func (s *Store) getHash(key []byte) (types.Hash, bool, error) {
	var h types.Hash
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(metaBucket).Get(key)
		if v == nil {
			return nil
		}
		copy(h[:], v)
		found = true
		return nil
	})
	return h, found, err
}

func (u *Update) setHash(key []byte, h types.Hash) {
	u.queue(func(tx *bbolt.Tx) error {
		return tx.Bucket(metaBucket).Put(key, h[:])
	})
}

// GetTail returns the hash of the lowest block whose full body is still
// retained; canonical-tail GC advances it forward (spec.md §4.1).
func (s *Store) GetTail() (types.Hash, bool, error) { return s.getHash(tailKey) }

// SetTail queues updating TAIL.
func (u *Update) SetTail(h types.Hash) { u.setHash(tailKey, h) }

// GetChunkTail returns the hash of the lowest block whose chunk bodies (as
// opposed to just its block body) are retained.
func (s *Store) GetChunkTail() (types.Hash, bool, error) { return s.getHash(chunkTailKey) }

// SetChunkTail queues updating CHUNK_TAIL.
func (u *Update) SetChunkTail(h types.Hash) { u.setHash(chunkTailKey, h) }

// GetForkTail returns the hash of the block at the height fork-tail GC has
// swept down to.
func (s *Store) GetForkTail() (types.Hash, bool, error) { return s.getHash(forkTailKey) }

// SetForkTail queues updating FORK_TAIL.
func (u *Update) SetForkTail(h types.Hash) { u.setHash(forkTailKey, h) }

// GetGenesisHash returns the hash of the genesis block.
func (s *Store) GetGenesisHash() (types.Hash, bool, error) { return s.getHash(genesisKey) }

// SetGenesisHash queues recording the genesis block's hash; written once, at
// chain bootstrap.
func (u *Update) SetGenesisHash(h types.Hash) { u.setHash(genesisKey, h) }

// GetLatestKnown returns the highest height/timestamp this node has
// produced or seen, guarding against re-producing an already-attempted
// height after a restart (spec.md §4.2 step 8).
func (s *Store) GetLatestKnown() (types.LatestKnown, error) {
	var lk types.LatestKnown
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(metaBucket).Get(latestKnownKey)
		if v == nil {
			return nil
		}
		return rlp.DecodeBytes(v, &lk)
	})
	return lk, err
}

// SetLatestKnown queues updating LATEST_KNOWN.
func (u *Update) SetLatestKnown(lk types.LatestKnown) error {
	enc, err := rlp.EncodeToBytes(&lk)
	if err != nil {
		return err
	}
	u.queue(func(tx *bbolt.Tx) error {
		return tx.Bucket(metaBucket).Put(latestKnownKey, enc)
	})
	return nil
}

// GetBlockMerkleTree returns the block-merkle-tree state as of hash, i.e.
// after inserting hash's own prev_hash (spec.md §3 "BlockMerkleTree").
func (s *Store) GetBlockMerkleTree(hash types.Hash) (*types.MerkleTree, bool, error) {
	var mt *types.MerkleTree
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(blockMerkleBkt).Get(hash[:])
		if v == nil {
			return nil
		}
		dec, err := types.DecodeMerkleTree(v)
		if err != nil {
			return err
		}
		mt = dec
		found = true
		return nil
	})
	return mt, found, err
}

// SaveBlockMerkleTree queues storing the block-merkle-tree state as of hash.
func (u *Update) SaveBlockMerkleTree(hash types.Hash, mt *types.MerkleTree) error {
	enc, err := mt.Encode()
	if err != nil {
		return err
	}
	u.queue(func(tx *bbolt.Tx) error {
		return tx.Bucket(blockMerkleBkt).Put(hash[:], enc)
	})
	return nil
}

// DeleteBlockMerkleTree queues removing hash's block-merkle-tree entry, one
// of the per-block columns Chain GC frees (spec.md §4.1 step 6).
func (u *Update) DeleteBlockMerkleTree(hash types.Hash) {
	u.queue(func(tx *bbolt.Tx) error {
		return tx.Bucket(blockMerkleBkt).Delete(hash[:])
	})
}
