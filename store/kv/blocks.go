package kv

import (
	"go.etcd.io/bbolt"

	"github.com/shardline/shardline/types"
)

// GetBlock retrieves a block by hash, consulting the ristretto cache first.
func (s *Store) GetBlock(hash types.Hash) (*types.Block, error) {
	if v, ok := s.blockCache.Get(hash); ok {
		return v.(*types.Block), nil
	}
	var block *types.Block
	err := s.db.View(func(tx *bbolt.Tx) error {
		enc := tx.Bucket(blocksBucket).Get(hash[:])
		if enc == nil {
			return ErrNotFound
		}
		b, err := types.DecodeBlock(enc)
		if err != nil {
			return err
		}
		block = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.blockCache.Set(hash, block, int64(len(hash)+1))
	return block, nil
}

// HasBlock reports whether a block by hash exists.
func (s *Store) HasBlock(hash types.Hash) bool {
	exists := false
	// #nosec G104 -- db.View on an in-process bbolt handle never errors here.
	s.db.View(func(tx *bbolt.Tx) error {
		exists = tx.Bucket(blocksBucket).Get(hash[:]) != nil
		return nil
	})
	return exists
}

// GetHeader retrieves a header by hash.
func (s *Store) GetHeader(hash types.Hash) (*types.BlockHeader, error) {
	var h *types.BlockHeader
	err := s.db.View(func(tx *bbolt.Tx) error {
		enc := tx.Bucket(headersBucket).Get(hash[:])
		if enc == nil {
			return ErrNotFound
		}
		dec, err := types.DecodeBlockHeader(enc)
		if err != nil {
			return err
		}
		h = dec
		return nil
	})
	return h, err
}

// SaveBlock queues storing a block, its header, and the height-index row
// that lets the chain list competing headers at a height (spec.md §3).
// NextBlockHashes rows are not written here; SetNextBlockHash queues those.
func (u *Update) SaveBlock(block *types.Block) error {
	hash, err := block.Hash()
	if err != nil {
		return err
	}
	enc, err := block.Encode()
	if err != nil {
		return err
	}
	hdrEnc, err := block.Header.Encode()
	if err != nil {
		return err
	}
	u.queue(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(blocksBucket).Put(hash[:], enc); err != nil {
			return err
		}
		if err := tx.Bucket(headersBucket).Put(hash[:], hdrEnc); err != nil {
			return err
		}
		return addHeaderHashAtHeight(tx, block.Header.Height, hash)
	})
	return nil
}

// DeleteBlock queues removing a block and its header. Callers are
// responsible for having already decremented its refcount to zero and
// cleared it from any height index (spec.md §4.1 GC step 3).
func (u *Update) DeleteBlock(hash types.Hash) {
	u.queue(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(blocksBucket).Delete(hash[:]); err != nil {
			return err
		}
		return tx.Bucket(headersBucket).Delete(hash[:])
	})
}

// GetNextBlockHash returns the canonical successor of prevHash, if any.
func (s *Store) GetNextBlockHash(prevHash types.Hash) (types.Hash, bool, error) {
	var out types.Hash
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(nextBlockHashesBkt).Get(prevHash[:])
		if v == nil {
			return nil
		}
		copy(out[:], v)
		found = true
		return nil
	})
	return out, found, err
}

// SetNextBlockHash queues (prevHash -> nextHash) in the canonical-chain
// successor index, maintained as the chain extends or reorgs.
func (u *Update) SetNextBlockHash(prevHash, nextHash types.Hash) {
	u.queue(func(tx *bbolt.Tx) error {
		return tx.Bucket(nextBlockHashesBkt).Put(prevHash[:], nextHash[:])
	})
}

// DeleteNextBlockHash queues removing prevHash's canonical successor entry.
func (u *Update) DeleteNextBlockHash(prevHash types.Hash) {
	u.queue(func(tx *bbolt.Tx) error {
		return tx.Bucket(nextBlockHashesBkt).Delete(prevHash[:])
	})
}

// GetBlockRefcount returns how many children reference hash as their
// PrevHash, the count Chain GC drains to zero before deleting a block
// (spec.md §4.1 "fork tail GC").
func (s *Store) GetBlockRefcount(hash types.Hash) (uint64, error) {
	var rc uint64
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(blockRefcountBkt).Get(hash[:])
		if v == nil {
			return nil
		}
		rc = bytesToUint64(v)
		return nil
	})
	return rc, err
}

// IncBlockRefcount queues incrementing hash's refcount by one.
func (u *Update) IncBlockRefcount(hash types.Hash) {
	u.queue(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket(blockRefcountBkt)
		rc := bytesToUint64(bkt.Get(hash[:])) + 1
		return bkt.Put(hash[:], uint64ToBytes(rc))
	})
}

// DecBlockRefcount queues decrementing hash's refcount by one, deleting the
// row once it reaches zero rather than leaving a stray zero entry behind.
func (u *Update) DecBlockRefcount(hash types.Hash) {
	u.queue(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket(blockRefcountBkt)
		rc := bytesToUint64(bkt.Get(hash[:]))
		if rc <= 1 {
			return bkt.Delete(hash[:])
		}
		return bkt.Put(hash[:], uint64ToBytes(rc-1))
	})
}

// DeleteBlockRefcountRow queues forcibly removing hash's own refcount row
// (as opposed to decrementing it), used when hash itself is deleted.
func (u *Update) DeleteBlockRefcountRow(hash types.Hash) {
	u.queue(func(tx *bbolt.Tx) error {
		return tx.Bucket(blockRefcountBkt).Delete(hash[:])
	})
}

// GetHeaderHashesAtHeight lists every header hash known at height, i.e. the
// canonical block plus any competing forks, used by fork-tail GC to decide
// whether a height is still contested (spec.md §4.1).
func (s *Store) GetHeaderHashesAtHeight(height uint64) ([]types.Hash, error) {
	var out []types.Hash
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(heightHeadersBkt).Get(uint64Key(height))
		out = decodeHashList(v)
		return nil
	})
	return out, err
}

func addHeaderHashAtHeight(tx *bbolt.Tx, height uint64, hash types.Hash) error {
	bkt := tx.Bucket(heightHeadersBkt)
	key := uint64Key(height)
	list := decodeHashList(bkt.Get(key))
	for _, h := range list {
		if h == hash {
			return nil
		}
	}
	list = append(list, hash)
	return bkt.Put(key, encodeHashList(list))
}

// RemoveHeaderHashAtHeight queues dropping hash from height's competing-hash
// list, deleting the row entirely once the list empties.
func (u *Update) RemoveHeaderHashAtHeight(height uint64, hash types.Hash) {
	u.queue(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket(heightHeadersBkt)
		key := uint64Key(height)
		list := decodeHashList(bkt.Get(key))
		out := list[:0]
		for _, h := range list {
			if h != hash {
				out = append(out, h)
			}
		}
		if len(out) == 0 {
			return bkt.Delete(key)
		}
		return bkt.Put(key, encodeHashList(out))
	})
}

func decodeHashList(v []byte) []types.Hash {
	n := len(v) / 32
	out := make([]types.Hash, 0, n)
	for i := 0; i < n; i++ {
		var h types.Hash
		copy(h[:], v[i*32:(i+1)*32])
		out = append(out, h)
	}
	return out
}

func encodeHashList(hashes []types.Hash) []byte {
	out := make([]byte, 0, 32*len(hashes))
	for _, h := range hashes {
		out = append(out, h[:]...)
	}
	return out
}

// GetChunkExtra retrieves the post-apply summary for (blockHash, shard).
func (s *Store) GetChunkExtra(blockHash types.Hash, shard types.ShardUID) (*types.ChunkExtra, error) {
	var ce *types.ChunkExtra
	err := s.db.View(func(tx *bbolt.Tx) error {
		enc := tx.Bucket(chunkExtraBucket).Get(chunkExtraKey(blockHash, shard))
		if enc == nil {
			return ErrNotFound
		}
		dec, err := types.DecodeChunkExtra(enc)
		if err != nil {
			return err
		}
		ce = dec
		return nil
	})
	return ce, err
}

// SaveChunkExtra queues storing the post-apply summary for (blockHash, shard).
func (u *Update) SaveChunkExtra(blockHash types.Hash, shard types.ShardUID, ce *types.ChunkExtra) error {
	enc, err := ce.Encode()
	if err != nil {
		return err
	}
	u.queue(func(tx *bbolt.Tx) error {
		return tx.Bucket(chunkExtraBucket).Put(chunkExtraKey(blockHash, shard), enc)
	})
	return nil
}

// DeleteChunkExtra queues removing (blockHash, shard)'s summary.
func (u *Update) DeleteChunkExtra(blockHash types.Hash, shard types.ShardUID) {
	u.queue(func(tx *bbolt.Tx) error {
		return tx.Bucket(chunkExtraBucket).Delete(chunkExtraKey(blockHash, shard))
	})
}

func chunkExtraKey(blockHash types.Hash, shard types.ShardUID) []byte {
	out := make([]byte, 0, 32+12)
	out = append(out, blockHash[:]...)
	out = append(out, shardPrefix(shard)...)
	return out
}

// GetTrieChanges retrieves the refcount-delta record a block's chunk
// application produced for shard, the unit chain GC replays in reverse.
func (s *Store) GetTrieChanges(blockHash types.Hash, shard types.ShardUID) (*types.TrieChanges, error) {
	var tc *types.TrieChanges
	err := s.db.View(func(tx *bbolt.Tx) error {
		enc := tx.Bucket(trieChangesBucket).Get(chunkExtraKey(blockHash, shard))
		if enc == nil {
			return ErrNotFound
		}
		dec, err := types.DecodeTrieChanges(enc)
		if err != nil {
			return err
		}
		tc = dec
		return nil
	})
	return tc, err
}

// SaveTrieChanges queues persisting trieChanges for (blockHash, shard).
func (u *Update) SaveTrieChanges(blockHash types.Hash, shard types.ShardUID, tc *types.TrieChanges) error {
	enc, err := tc.Encode()
	if err != nil {
		return err
	}
	u.queue(func(tx *bbolt.Tx) error {
		return tx.Bucket(trieChangesBucket).Put(chunkExtraKey(blockHash, shard), enc)
	})
	return nil
}

// DeleteTrieChanges queues removing (blockHash, shard)'s trie-changes
// record once GC has replayed and reversed it.
func (u *Update) DeleteTrieChanges(blockHash types.Hash, shard types.ShardUID) {
	u.queue(func(tx *bbolt.Tx) error {
		return tx.Bucket(trieChangesBucket).Delete(chunkExtraKey(blockHash, shard))
	})
}

// IsHeightProcessed reports whether height already has an accepted block,
// used by fork-tail GC to recognize "hole" heights (spec.md §8, gc.rs).
func (s *Store) IsHeightProcessed(height uint64) (bool, error) {
	var ok bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		ok = tx.Bucket(processedHeightBkt).Get(uint64Key(height)) != nil
		return nil
	})
	return ok, err
}

// SetHeightProcessed queues marking height as having an accepted block.
func (u *Update) SetHeightProcessed(height uint64) {
	u.queue(func(tx *bbolt.Tx) error {
		return tx.Bucket(processedHeightBkt).Put(uint64Key(height), []byte{1})
	})
}

// DeleteHeightProcessed queues clearing height's processed marker, once
// canonical-tail GC has passed beyond it.
func (u *Update) DeleteHeightProcessed(height uint64) {
	u.queue(func(tx *bbolt.Tx) error {
		return tx.Bucket(processedHeightBkt).Delete(uint64Key(height))
	})
}

func uint64ToBytes(v uint64) []byte { return uint64Key(v) }

func bytesToUint64(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v
}
