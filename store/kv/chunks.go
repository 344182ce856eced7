package kv

import (
	"go.etcd.io/bbolt"

	"github.com/shardline/shardline/types"
)

// GetChunkHeader retrieves a shard chunk header by its own hash.
func (s *Store) GetChunkHeader(hash types.Hash) (*types.ShardChunkHeader, error) {
	var c *types.ShardChunkHeader
	err := s.db.View(func(tx *bbolt.Tx) error {
		enc := tx.Bucket(chunksBucket).Get(hash[:])
		if enc == nil {
			return ErrNotFound
		}
		dec, err := types.DecodeShardChunkHeader(enc)
		if err != nil {
			return err
		}
		c = dec
		return nil
	})
	return c, err
}

// SaveChunkHeader queues storing a shard chunk header, keyed by its own
// hash so it can be looked up independent of which block(s) reference it.
func (u *Update) SaveChunkHeader(c *types.ShardChunkHeader) error {
	hash, err := c.Hash()
	if err != nil {
		return err
	}
	enc, err := c.Encode()
	if err != nil {
		return err
	}
	u.queue(func(tx *bbolt.Tx) error {
		return tx.Bucket(chunksBucket).Put(hash[:], enc)
	})
	return nil
}

// DeleteChunkHeader queues removing a chunk header, once no retained block
// references it (spec.md §4.1 "also collects orphaned chunks").
func (u *Update) DeleteChunkHeader(hash types.Hash) {
	u.queue(func(tx *bbolt.Tx) error {
		return tx.Bucket(chunksBucket).Delete(hash[:])
	})
}
