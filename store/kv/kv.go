// Package kv is the BoltDB-backed persistent store chain, client and trie
// build on: blocks, headers, chunks, trie nodes and the well-known head
// pointers all live in one bbolt file, one bucket per column family,
// following the teacher's per-concern bucket layout.
package kv

import (
	"os"
	"path"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/pkg/errors"
	"go.etcd.io/bbolt"

	"github.com/shardline/shardline/types"
)

const databaseFileName = "shardline.db"

// BlockCacheSize caps the ristretto block/header cache cost budget.
var BlockCacheSize = int64(1 << 21)

// Column family buckets. State is further keyed by ShardUID so that
// different shards' trie nodes never collide in one bucket.
var (
	metaBucket         = []byte("meta")
	blocksBucket       = []byte("blocks")
	headersBucket      = []byte("headers")
	chunksBucket       = []byte("chunks")
	chunkExtraBucket   = []byte("chunk_extra")
	trieChangesBucket  = []byte("trie_changes")
	blockRefcountBkt   = []byte("block_refcount")
	nextBlockHashesBkt = []byte("next_block_hashes")
	heightHeadersBkt   = []byte("height_headers")
	processedHeightBkt = []byte("processed_heights")
	stateBucket        = []byte("state")
	blockMerkleBkt     = []byte("block_merkle_tree")
)

// Well-known keys living in metaBucket (spec.md §3 "well-known keys" table).
var (
	headKey        = []byte("HEAD")
	headerHeadKey  = []byte("HEADER_HEAD")
	finalHeadKey   = []byte("FINAL_HEAD")
	tailKey        = []byte("TAIL")
	chunkTailKey   = []byte("CHUNK_TAIL")
	forkTailKey    = []byte("FORK_TAIL")
	latestKnownKey = []byte("LATEST_KNOWN")
	genesisKey     = []byte("GENESIS_HASH")
)

// ErrNotFound is returned by Get* accessors when a key is absent.
var ErrNotFound = errors.New("kv: not found")

// Store is the single persistent database a node runs against.
type Store struct {
	db           *bbolt.DB
	databasePath string
	blockCache   *ristretto.Cache
}

// New opens (creating if absent) a Store at dirPath and provisions buckets.
func New(dirPath string) (*Store, error) {
	if err := os.MkdirAll(dirPath, 0700); err != nil {
		return nil, err
	}
	datafile := path.Join(dirPath, databaseFileName)
	db, err := bbolt.Open(datafile, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		if err == bbolt.ErrTimeout {
			return nil, errors.New("cannot obtain database lock, database may be in use by another process")
		}
		return nil, err
	}

	blockCache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10000,
		MaxCost:     BlockCacheSize,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}

	s := &Store{db: db, databasePath: dirPath, blockCache: blockCache}

	if err := db.Update(func(tx *bbolt.Tx) error {
		return createBuckets(tx,
			metaBucket, blocksBucket, headersBucket, chunksBucket, chunkExtraBucket,
			trieChangesBucket, blockRefcountBkt, nextBlockHashesBkt, heightHeadersBkt,
			processedHeightBkt, stateBucket, blockMerkleBkt,
		)
	}); err != nil {
		return nil, err
	}
	return s, nil
}

func createBuckets(tx *bbolt.Tx, buckets ...[]byte) error {
	for _, b := range buckets {
		if _, err := tx.CreateBucketIfNotExists(b); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying bbolt database.
func (s *Store) Close() error { return s.db.Close() }

// DatabasePath is the directory this store writes files under.
func (s *Store) DatabasePath() string { return s.databasePath }

// ClearDB removes the on-disk database file. Used by test harnesses only.
func (s *Store) ClearDB() error {
	if _, err := os.Stat(s.databasePath); os.IsNotExist(err) {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return err
	}
	return os.Remove(path.Join(s.databasePath, databaseFileName))
}

func uint64Key(h uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[7-i] = byte(h >> (8 * i))
	}
	return b
}

// shardPrefix builds the (version,shardID) prefix State rows are keyed
// under, so GetState/IncRefState for one shard never touch another's rows.
func shardPrefix(shard types.ShardUID) []byte {
	out := make([]byte, 0, 16)
	out = append(out, uint64Key(uint64(shard.Version))...)
	out = append(out, uint64Key(uint64(shard.ShardID))...)
	return out
}
