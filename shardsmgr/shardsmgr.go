// Package shardsmgr implements the per-shard chunk assembly and
// transaction-mempool bookkeeping the Client drives (spec.md §2
// "ShardsManager"). It owns: a mempool per shard, an incomplete-chunk
// tracker for chunks whose parts/receipts haven't all arrived, and a
// forwarded-chunk cache so the same assembled chunk isn't reassembled twice.
// Grounded in the teacher's small mutex-protected-cache packages
// (beacon-chain/operations/attestations): a handful of named operations over
// a couple of maps, not a generic store.
package shardsmgr

import (
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"

	partcache "github.com/shardline/shardline/cache"
	"github.com/shardline/shardline/types"
)

var log = logrus.WithField("prefix", "shardsmgr")

const forwardedChunkCacheSize = 1024

// ShardsManager tracks per-shard mempools and in-flight chunk assembly.
type ShardsManager struct {
	mu sync.Mutex

	mempool map[types.ShardID]map[types.Hash]*types.SignedTransaction

	incomplete map[types.Hash]*incompleteChunk
	assembled  *lru.Cache // chunk hash -> []*types.SignedTransaction

	// requests deduplicates concurrent RequestChunkParts calls for the same
	// (chunk, parent) so a block re-checked twice while parts are in flight
	// doesn't issue the network request twice (spec.md §4.2 "Orphan &
	// missing-chunk handling": "Client requests parts via ShardsManager").
	requests *partcache.ChunkPartsCache

	largestSeenHeight uint64
}

// incompleteChunk tracks a chunk header whose body hasn't fully arrived yet:
// the parts we still need, keyed by part index.
type incompleteChunk struct {
	header       types.ShardChunkHeader
	parent       types.Hash
	missingParts map[uint64]bool
	received     []*types.SignedTransaction
}

// New builds an empty ShardsManager.
func New() *ShardsManager {
	cache, err := lru.New(forwardedChunkCacheSize)
	if err != nil {
		panic(err) // only fails for a non-positive size, which forwardedChunkCacheSize never is
	}
	return &ShardsManager{
		mempool:    make(map[types.ShardID]map[types.Hash]*types.SignedTransaction),
		incomplete: make(map[types.Hash]*incompleteChunk),
		assembled:  cache,
		requests:   partcache.NewChunkPartsCache(),
	}
}

// SetLargestSeenHeight records the highest block height observed, used to
// decide how far behind an incomplete chunk request has fallen
// (spec.md §4.2 step 3: "Update ShardsManager largest-seen-height").
func (m *ShardsManager) SetLargestSeenHeight(height uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if height > m.largestSeenHeight {
		m.largestSeenHeight = height
	}
}

// LargestSeenHeight returns the highest block height observed so far.
func (m *ShardsManager) LargestSeenHeight() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.largestSeenHeight
}

// PruneIncompleteChunksBelow drops any chunk tracked as incomplete whose
// parent is at or below finalHeight, mirroring Client's
// "prune blocks-with-missing-chunks below last_final_height" step
// (spec.md §4.2 step 3), parameterized by a height lookup the caller
// supplies (Chain.HeightOf) rather than importing chain here.
func (m *ShardsManager) PruneIncompleteChunksBelow(finalHeight uint64, heightOf func(types.Hash) (uint64, bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for chunkHash, ic := range m.incomplete {
		h, ok := heightOf(ic.parent)
		if ok && h <= finalHeight {
			delete(m.incomplete, chunkHash)
			log.WithField("chunk", chunkHash.Hex()).Debug("pruned stale incomplete chunk")
		}
	}
}
