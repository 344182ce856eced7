package shardsmgr

import (
	partcache "github.com/shardline/shardline/cache"
	"github.com/shardline/shardline/types"
)

func chunkPartsRequest(chunkHash, parent types.Hash) partcache.ChunkPartsRequest {
	return partcache.ChunkPartsRequest{ChunkHash: chunkHash, Parent: parent}
}

// RequestMissingParts asks requestFn (the network layer's RequestChunkParts)
// to fetch chunkHash's parts from parent's producers, unless a request for
// the same (chunk, parent) is already in flight. Caller must call
// NotifyPartsResolved once the chunk completes or the request fails, so a
// later retry isn't blocked forever (spec.md §4.2 "Orphan & missing-chunk
// handling").
func (m *ShardsManager) RequestMissingParts(chunkHash, parent types.Hash, requestFn func(chunkHash, parent types.Hash)) {
	req := chunkPartsRequest(chunkHash, parent)
	if err := m.requests.MarkInProgress(req); err != nil {
		return // already requested; wait for the in-flight fetch
	}
	requestFn(chunkHash, parent)
}

// NotifyPartsResolved releases the in-flight marker RequestMissingParts set,
// called once OnChunkPartReceived completes the chunk or a caller gives up.
func (m *ShardsManager) NotifyPartsResolved(chunkHash, parent types.Hash) {
	m.requests.MarkNotInProgress(chunkPartsRequest(chunkHash, parent))
}

// TrackIncompleteChunk registers a chunk header whose body has not fully
// arrived: numParts data+parity parts are expected before the chunk is
// usable (spec.md §3 "Chunk... encoded as erasure-coded parts").
func (m *ShardsManager) TrackIncompleteChunk(header types.ShardChunkHeader, parent types.Hash, numParts uint64) (types.Hash, error) {
	hash, err := header.Hash()
	if err != nil {
		return types.Hash{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	missing := make(map[uint64]bool, numParts)
	for i := uint64(0); i < numParts; i++ {
		missing[i] = true
	}
	m.incomplete[hash] = &incompleteChunk{header: header, parent: parent, missingParts: missing}
	return hash, nil
}

// OnChunkPartReceived records one erasure-coded part (carrying the
// transactions it covers) and reports whether the chunk is now complete.
func (m *ShardsManager) OnChunkPartReceived(chunkHash types.Hash, partIndex uint64, txs []*types.SignedTransaction) (complete bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ic, ok := m.incomplete[chunkHash]
	if !ok {
		return false
	}
	delete(ic.missingParts, partIndex)
	ic.received = append(ic.received, txs...)
	if len(ic.missingParts) > 0 {
		return false
	}
	delete(m.incomplete, chunkHash)
	m.assembled.Add(chunkHash, ic.received)
	m.requests.MarkNotInProgress(chunkPartsRequest(chunkHash, ic.parent))
	log.WithField("chunk", chunkHash.Hex()).Debug("chunk assembly complete")
	return true
}

// IsChunkIncomplete reports whether chunkHash is still waiting on parts.
func (m *ShardsManager) IsChunkIncomplete(chunkHash types.Hash) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.incomplete[chunkHash]
	return ok
}

// IncompleteChunksForParent returns every chunk hash still incomplete whose
// parent is parentHash, the set Client re-checks once new parts arrive
// (spec.md §4.2 "Orphan & missing-chunk handling").
func (m *ShardsManager) IncompleteChunksForParent(parentHash types.Hash) []types.Hash {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Hash
	for hash, ic := range m.incomplete {
		if ic.parent == parentHash {
			out = append(out, hash)
		}
	}
	return out
}

// AssembledBody returns the transaction body for an assembled chunk, if the
// forwarded-chunk cache still holds it.
func (m *ShardsManager) AssembledBody(chunkHash types.Hash) ([]*types.SignedTransaction, bool) {
	v, ok := m.assembled.Get(chunkHash)
	if !ok {
		return nil, false
	}
	return v.([]*types.SignedTransaction), true
}
