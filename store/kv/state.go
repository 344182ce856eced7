package kv

import (
	"go.etcd.io/bbolt"

	"github.com/shardline/shardline/types"
)

// State stores refcounted trie nodes: one row per (shard, node hash), value
// is a 4-byte big-endian refcount followed by the node's encoded bytes. This
// is the column trie.ShardTries reads and writes; chain GC drives its
// refcount to zero indirectly by replaying a block's TrieChanges backwards.

// GetState returns a node's payload and current refcount. ok is false (and
// payload nil) once the refcount has reached zero and the row was removed.
func (s *Store) GetState(shard types.ShardUID, hash types.Hash) (payload []byte, refcount uint32, ok bool, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(stateBucket).Get(stateKey(shard, hash))
		if v == nil {
			return nil
		}
		refcount = bytesToUint32(v[:4])
		payload = append([]byte(nil), v[4:]...)
		ok = true
		return nil
	})
	return payload, refcount, ok, err
}

// IncRefState queues incrementing (shard, hash)'s refcount by one, writing
// payload the first time the row is created. Every later increment reuses
// the stored payload and ignores the one passed in, matching a
// content-addressed store where all writers of the same hash agree on value.
func (u *Update) IncRefState(shard types.ShardUID, hash types.Hash, payload []byte) {
	u.queue(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket(stateBucket)
		key := stateKey(shard, hash)
		v := bkt.Get(key)
		var rc uint32
		var stored []byte
		if v != nil {
			rc = bytesToUint32(v[:4])
			stored = v[4:]
		} else {
			stored = payload
		}
		rc++
		return bkt.Put(key, append(uint32ToBytes(rc), stored...))
	})
}

// DecRefState queues decrementing (shard, hash)'s refcount by one, deleting
// the row once it reaches zero. This is how chain GC frees trie nodes: it
// calls DecRefState once per insertion recorded in a block's TrieChanges.
func (u *Update) DecRefState(shard types.ShardUID, hash types.Hash) {
	u.queue(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket(stateBucket)
		key := stateKey(shard, hash)
		v := bkt.Get(key)
		if v == nil {
			return nil
		}
		rc := bytesToUint32(v[:4])
		if rc <= 1 {
			return bkt.Delete(key)
		}
		rc--
		stored := v[4:]
		return bkt.Put(key, append(uint32ToBytes(rc), stored...))
	})
}

func stateKey(shard types.ShardUID, hash types.Hash) []byte {
	out := make([]byte, 0, 16+32)
	out = append(out, shardPrefix(shard)...)
	out = append(out, hash[:]...)
	return out
}

func uint32ToBytes(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

func bytesToUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
