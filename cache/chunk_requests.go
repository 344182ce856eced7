// Package cache implements small in-memory dedup caches the sync layer
// consults before issuing a network request, mirrored from the teacher's
// request/response caches (beacon-chain/cache): a polling Get that waits out
// an in-flight call rather than issuing a second one.
package cache

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/shardline/shardline/types"
)

const maxCacheSize = 512

var (
	minDelay    = float64(10)        // 10 nanoseconds
	maxDelay    = float64(100000000) // 0.1 second
	delayFactor = 1.1

	chunkPartsCacheMiss = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chunk_parts_cache_miss",
		Help: "The number of chunk-parts requests that aren't present in the cache.",
	})
	chunkPartsCacheHit = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chunk_parts_cache_hit",
		Help: "The number of chunk-parts requests that are present in the cache.",
	})
	chunkPartsCacheSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chunk_parts_cache_size",
		Help: "The number of chunk-parts responses held in the cache.",
	})
)

// ChunkPartsRequest identifies one RequestChunkParts call: the chunk being
// assembled and the block it descends from.
type ChunkPartsRequest struct {
	ChunkHash types.Hash
	Parent    types.Hash
}

func (r ChunkPartsRequest) key() string {
	return fmt.Sprintf("%s-%s", r.ChunkHash.Hex(), r.Parent.Hex())
}

// ChunkPartsCache deduplicates concurrent RequestChunkParts calls for the
// same chunk: a second caller blocks on Get while the first's request is
// marked in progress, until MarkNotInProgress releases it (or context
// cancellation), rather than re-issuing the network request
// (spec.md §3 "Chunk... encoded as erasure-coded parts").
type ChunkPartsCache struct {
	mu         sync.RWMutex
	entries    map[string][]byte
	order      []string
	inProgress map[string]bool
}

// NewChunkPartsCache builds an empty ChunkPartsCache.
func NewChunkPartsCache() *ChunkPartsCache {
	return &ChunkPartsCache{
		entries:    make(map[string][]byte),
		inProgress: make(map[string]bool),
	}
}

// Get waits for any in-progress fetch of req to complete, then returns the
// cached parts payload if one landed.
func (c *ChunkPartsCache) Get(ctx context.Context, req ChunkPartsRequest) ([]byte, error) {
	key := req.key()
	delay := minDelay
	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.mu.RLock()
		inProgress := c.inProgress[key]
		c.mu.RUnlock()
		if !inProgress {
			break
		}
		time.Sleep(time.Duration(delay) * time.Nanosecond)
		delay *= delayFactor
		delay = math.Min(delay, maxDelay)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if data, ok := c.entries[key]; ok {
		chunkPartsCacheHit.Inc()
		return data, nil
	}
	chunkPartsCacheMiss.Inc()
	return nil, nil
}

// MarkInProgress records that req is being fetched, so concurrent Get calls
// for the same chunk wait instead of triggering a duplicate network request.
func (c *ChunkPartsCache) MarkInProgress(req ChunkPartsRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := req.key()
	if c.inProgress[key] {
		return errors.New("chunk parts request already in progress")
	}
	c.inProgress[key] = true
	return nil
}

// MarkNotInProgress releases the in-flight marker for req; call after Put
// (or on failure, so a later retry isn't blocked forever).
func (c *ChunkPartsCache) MarkNotInProgress(req ChunkPartsRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inProgress, req.key())
}

// Put stores the assembled parts payload for req, evicting the oldest entry
// once the cache exceeds maxCacheSize (FIFO, matching the teacher's
// eviction policy).
func (c *ChunkPartsCache) Put(req ChunkPartsRequest, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := req.key()
	if _, exists := c.entries[key]; !exists {
		c.order = append(c.order, key)
	}
	c.entries[key] = data
	for len(c.order) > maxCacheSize {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	chunkPartsCacheSize.Set(float64(len(c.entries)))
}
