package chain

import (
	"go.opencensus.io/trace"

	"github.com/shardline/shardline/chain/errkind"
	"github.com/shardline/shardline/types"
)

// ProcessBlockResult collects everything one ProcessBlock call (and the
// orphan/missing-chunk resolutions it may recursively trigger) produced, for
// the Client to act on (spec.md §4.2 "process_block").
type ProcessBlockResult struct {
	Accepted      []types.Hash
	Statuses      map[types.Hash]types.BlockStatus
	// PrevHeads carries, for every StatusReorg entry in Statuses, the head
	// hash that block displaced — the `prev_head` of spec.md §4.2 step 4's
	// `Reorg(prev_head)`, captured inside updateHead before this same
	// acceptance commits the new HEAD (chain/fork_choice.go).
	PrevHeads     map[types.Hash]types.Hash
	Provenances   map[types.Hash]types.Provenance
	MissingChunks []*types.Block
	Orphans       []*types.Block
	Challenges    []types.Challenge
}

func (r *ProcessBlockResult) merge(other *ProcessBlockResult) {
	r.Accepted = append(r.Accepted, other.Accepted...)
	for h, s := range other.Statuses {
		if r.Statuses == nil {
			r.Statuses = make(map[types.Hash]types.BlockStatus)
		}
		r.Statuses[h] = s
	}
	for h, p := range other.PrevHeads {
		if r.PrevHeads == nil {
			r.PrevHeads = make(map[types.Hash]types.Hash)
		}
		r.PrevHeads[h] = p
	}
	for h, p := range other.Provenances {
		if r.Provenances == nil {
			r.Provenances = make(map[types.Hash]types.Provenance)
		}
		r.Provenances[h] = p
	}
	r.MissingChunks = append(r.MissingChunks, other.MissingChunks...)
	r.Orphans = append(r.Orphans, other.Orphans...)
	r.Challenges = append(r.Challenges, other.Challenges...)
}

// ProcessBlock is the pipeline Client.process_block drives: it wraps
// receiveBlock with closures that route Orphan/ChunkMissing/BlockKnown into
// their pools instead of surfacing them as failures, and
// InvalidChunkProofs/InvalidChunkState into a broadcastable Challenge
// (spec.md §7 propagation policy).
func (c *Chain) ProcessBlock(block *types.Block, bodies map[types.ShardID][]*types.SignedTransaction, provenance types.Provenance) (types.BlockStatus, *ProcessBlockResult, error) {
	_, span := trace.StartSpan(c.ctx, "chain.ProcessBlock")
	defer span.End()
	span.AddAttributes(trace.StringAttribute("provenance", provenance.String()))

	result := &ProcessBlockResult{}
	hash, err := block.Hash()
	if err != nil {
		return 0, result, err
	}

	status, prevHead, err := c.receiveBlock(block, bodies)
	if err != nil {
		switch {
		case errkind.Is(err, errkind.BlockKnown):
			return status, result, nil
		case errkind.Is(err, errkind.Orphan):
			c.parkOrphan(block.Header.PrevHash, block, bodies)
			result.Orphans = append(result.Orphans, block)
			return status, result, nil
		case errkind.Is(err, errkind.ChunkMissing):
			c.parkMissingChunks(block.Header.PrevHash, block, bodies)
			result.MissingChunks = append(result.MissingChunks, block)
			return status, result, nil
		case errkind.Is(err, errkind.InvalidChunkProofs), errkind.Is(err, errkind.InvalidChunkState):
			result.Challenges = append(result.Challenges, types.Challenge{
				BlockHash: hash,
				Reason:    err.Error(),
			})
			return status, result, nil
		default:
			return status, result, err
		}
	}

	result.Accepted = append(result.Accepted, hash)
	if result.Statuses == nil {
		result.Statuses = make(map[types.Hash]types.BlockStatus)
	}
	result.Statuses[hash] = status
	if result.Provenances == nil {
		result.Provenances = make(map[types.Hash]types.Provenance)
	}
	result.Provenances[hash] = provenance
	if status == types.StatusReorg {
		if result.PrevHeads == nil {
			result.PrevHeads = make(map[types.Hash]types.Hash)
		}
		result.PrevHeads[hash] = prevHead
	}
	if status.IsNewHead() {
		if err := c.RunGC(); err != nil {
			log.WithError(err).Warn("GC run failed")
		}
	}
	c.resolveDependents(hash, result)
	return status, result, nil
}

func (c *Chain) parkOrphan(parent types.Hash, block *types.Block, bodies map[types.ShardID][]*types.SignedTransaction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.orphans[parent] = append(c.orphans[parent], orphanEntry{block: block, bodies: bodies})
}

func (c *Chain) parkMissingChunks(key types.Hash, block *types.Block, bodies map[types.ShardID][]*types.SignedTransaction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.missingChunks[key] = missingChunksEntry{block: block, bodies: bodies}
}

// resolveDependents re-enters ProcessBlock for every block that was parked
// waiting on hash, which may in turn unblock further descendants.
func (c *Chain) resolveDependents(hash types.Hash, result *ProcessBlockResult) {
	c.mu.Lock()
	waiting := c.orphans[hash]
	delete(c.orphans, hash)
	entry, hadMissing := c.missingChunks[hash]
	if hadMissing {
		delete(c.missingChunks, hash)
	}
	c.mu.Unlock()

	for _, e := range waiting {
		if _, sub, err := c.ProcessBlock(e.block, e.bodies, types.ProvenanceSync); err == nil {
			result.merge(sub)
		}
	}
	if hadMissing {
		if _, sub, err := c.ProcessBlock(entry.block, entry.bodies, types.ProvenanceSync); err == nil {
			result.merge(sub)
		}
	}
}
