// Package client implements the top-level orchestrator: the single-threaded
// state machine combining Chain, Doomslug, ShardsManager and RuntimeAdapter
// into produce_block, produce_chunk, process_block, on_block_accepted and
// process_tx (spec.md §2 "Client", §4.2). Layout follows the teacher's
// one-file-per-concern split (chain/receive_block.go, chain/fork_choice.go):
// client.go holds construction, produce.go/process.go/tx.go/approvals.go the
// named operations, loop.go the actor-style event loop, watchdog.go the
// head-progress rebroadcast.
package client

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"github.com/shardline/shardline/chain"
	"github.com/shardline/shardline/doomslug"
	"github.com/shardline/shardline/params"
	"github.com/shardline/shardline/runtime"
	"github.com/shardline/shardline/shardsmgr"
	"github.com/shardline/shardline/store/kv"
	"github.com/shardline/shardline/sync"
	"github.com/shardline/shardline/types"
)

var log = logrus.WithField("prefix", "client")

// defaultPendingApprovalsSize bounds the pending_approvals LRU only when the
// genesis config carries no num_block_producer_seats value; otherwise New
// sizes it at num_block_producer_seats, matching nearcore's own sizing
// (spec.md §4.3 "pending_approvals").
const defaultPendingApprovalsSize = 128

// Client is the single-threaded orchestrator. Every exported method here
// runs to completion on the caller's goroutine (spec.md §5): callers are
// expected to be the actor loop in loop.go, never multiple goroutines at
// once.
type Client struct {
	// ctx is set by Run and scopes the trace spans onBlockAccepted and its
	// callees start; before Run is called it is context.Background().
	ctx context.Context

	store    *kv.Store
	chain    *chain.Chain
	doomslug *doomslug.Doomslug
	shards   *shardsmgr.ShardsManager
	runtime  runtime.Adapter
	network  NetworkAdapter
	signer   Signer
	verifier SignatureVerifier
	cfg      params.Config
	genesis  params.Genesis

	// pendingApprovals parks approvals whose parent_hash/epoch couldn't yet
	// be resolved (spec.md §4.3 "pending_approvals", §9 Resolution sum type).
	pendingApprovals *lru.Cache

	// rebroadcastedBlocks remembers which recently-accepted blocks the
	// watchdog has already rebroadcast, capped at NumRebroadcastBlocks
	// (SPEC_FULL §4.2 supplemented feature).
	rebroadcastedBlocks *lru.Cache

	mu                       sync.Mutex
	lastTimeHeadProgressMade time.Time
	lastKnownHeight          atomic.Uint64

	catchup map[types.Hash]*sync.CatchupState

	// pendingChunks holds chunk headers this node has produced for a given
	// (parent, shard) but that have not yet been folded into a produced
	// block, keyed so produce_block can collect exactly the chunks built on
	// its own parent (spec.md §4.2 "produce_block" step 4).
	chunksMu      sync.Mutex
	pendingChunks map[pendingChunkKey]producedChunk

	// lastProducedBodies holds the transaction bodies for the most recent
	// ProduceBlock call, consumed once by the actor loop when it submits the
	// produced block back through the normal process_block pipeline.
	lastProducedBodies map[types.ShardID][]*types.SignedTransaction

	// pendingBlocksMu guards pendingBlocks, the blocks parked waiting on
	// chunk parts so OnChunkPartsReceived can re-submit the exact block once
	// every chunk completes (spec.md §4.2 "Orphan & missing-chunk handling":
	// "the parent block is re-checked ... re-enters process_block").
	pendingBlocksMu sync.Mutex
	pendingBlocks   map[types.Hash]*pendingBlock

	blockCh     chan blockMsg
	approvalCh  chan approvalMsg
	txCh        chan txMsg
	chunkPartCh chan chunkPartMsg
}

// chunkPartMsg carries one erasure-coded chunk part arriving from the
// network through the actor loop to OnChunkPartsReceived (spec.md §4.2
// "Orphan & missing-chunk handling").
type chunkPartMsg struct {
	chunkHash types.Hash
	parent    types.Hash
	partIndex uint64
	txs       []*types.SignedTransaction
}

// blockMsg carries one inbound or produced block through the actor loop,
// together with its per-shard transaction bodies and why it's being
// processed (spec.md §4.2 "process_block").
type blockMsg struct {
	block      *types.Block
	bodies     map[types.ShardID][]*types.SignedTransaction
	provenance types.Provenance
}

// approvalMsg carries one inbound or locally-cast approval through the
// actor loop (spec.md §4.3).
type approvalMsg struct {
	approval *types.Approval
	source   types.ApprovalSource
}

// txMsg carries one transaction submission through the actor loop, with a
// reply channel so the caller (network layer or RPC) can observe the
// outcome (spec.md §4.2 "process_tx").
type txMsg struct {
	tx         *types.SignedTransaction
	forwarded  bool
	resp       chan TxResponse
}

const inboundQueueSize = 1024

type pendingChunkKey struct {
	Parent types.Hash
	Shard  types.ShardID
}

type producedChunk struct {
	header types.ShardChunkHeader
	txs    []*types.SignedTransaction
}

// pendingBlock is a block parked on incomplete chunk parts, along with how
// many of its chunks are still outstanding.
type pendingBlock struct {
	block    *types.Block
	bodies   map[types.ShardID][]*types.SignedTransaction
	awaiting map[types.Hash]bool
}

// Config bundles the collaborators a Client is constructed over.
type Config struct {
	Store    *kv.Store
	Chain    *chain.Chain
	Doomslug *doomslug.Doomslug
	Shards   *shardsmgr.ShardsManager
	Runtime  runtime.Adapter
	Network  NetworkAdapter
	Signer   Signer // nil for a non-validating (follower) node
	Verifier SignatureVerifier
	Params   params.Config
	Genesis  params.Genesis
}

// New wires a Client over already-constructed collaborators.
func New(cfg *Config) (*Client, error) {
	pendingSize := cfg.Genesis.NumBlockProducerSeats
	if pendingSize <= 0 {
		pendingSize = defaultPendingApprovalsSize
	}
	pending, err := lru.New(pendingSize)
	if err != nil {
		return nil, err
	}
	rebroadcast, err := lru.New(params.NumRebroadcastBlocks)
	if err != nil {
		return nil, err
	}
	return &Client{
		ctx:                      context.Background(),
		store:                    cfg.Store,
		chain:                    cfg.Chain,
		doomslug:                 cfg.Doomslug,
		shards:                   cfg.Shards,
		runtime:                  cfg.Runtime,
		network:                  cfg.Network,
		signer:                   cfg.Signer,
		verifier:                 cfg.Verifier,
		cfg:                      cfg.Params,
		genesis:                  cfg.Genesis,
		pendingApprovals:         pending,
		rebroadcastedBlocks:      rebroadcast,
		lastTimeHeadProgressMade: time.Now(),
		catchup:                  make(map[types.Hash]*sync.CatchupState),
		pendingChunks:            make(map[pendingChunkKey]producedChunk),
		pendingBlocks:            make(map[types.Hash]*pendingBlock),
		blockCh:                  make(chan blockMsg, inboundQueueSize),
		approvalCh:               make(chan approvalMsg, inboundQueueSize),
		txCh:                     make(chan txMsg, inboundQueueSize),
		chunkPartCh:              make(chan chunkPartMsg, inboundQueueSize),
	}, nil
}

// IsValidator reports whether this node holds a validator signing key.
func (c *Client) IsValidator() bool { return c.signer != nil }
