// Package types defines the wire-level data model shared by chain, store,
// trie, doomslug, shardsmgr and client: blocks, headers, chunks, tips and
// the refcounted trie-change records that Chain GC operates on.
package types

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Hash is a content hash: a block hash, a chunk hash, or a trie node hash.
type Hash = common.Hash

// AccountID identifies a validator/signer. Kept as a string (bech32-ish in a
// real deployment) rather than a fixed-width type since RuntimeAdapter is the
// only thing that interprets it.
type AccountID string

// ShardID identifies one shard out of the current epoch's shard layout.
type ShardID uint64

// EpochID identifies a validator-set epoch. It is the hash of the last block
// of the previous epoch, mirroring nearcore's EpochId.
type EpochID Hash

// ShardUID disambiguates a shard across shard-layout changes (a shard split
// produces new ShardUIDs even though the logical shard persists).
type ShardUID struct {
	Version uint32
	ShardID ShardID
}

func (s ShardUID) String() string {
	return fmt.Sprintf("s%d.%d", s.Version, s.ShardID)
}

// BlockHeader is the signed envelope every Block carries. Hash() is the
// identity of the block: H(header).
type BlockHeader struct {
	Height          uint64
	PrevHash        Hash
	EpochID         EpochID
	NextEpochID     EpochID
	LastFinalBlock  Hash
	NextBPHash      Hash
	BlockMerkleRoot Hash
	BlockOrdinal    uint64
	ChunkMask       []bool // which shards produced a new chunk at this height
	RawTimestamp    uint64
	Approvals       [][]byte // one signature (or nil) per approver, ordered
	ValidatorProposals []ValidatorProposal

	// MintedAmount and EpochSyncDataHash are only meaningful on the first
	// block of an epoch; zero otherwise (spec.md §4.2 step 7).
	MintedAmount      uint64
	EpochSyncDataHash Hash

	Signature       []byte
	Proposer        AccountID
}

// Hash returns the block's identity hash over the RLP-canonical encoding of
// the header (signature included, as in nearcore: the signature signs
// everything but itself via a separate pre-image).
func (h *BlockHeader) Hash() (Hash, error) {
	return hashEncodable(h)
}

// ValidatorProposal is a stake-change proposal emitted by a chunk's runtime
// application, folded into the next block header.
type ValidatorProposal struct {
	AccountID AccountID
	Stake     uint64
}

// Block is a header plus per-shard chunk headers and attached challenges.
type Block struct {
	Header     BlockHeader
	Chunks     []ShardChunkHeader
	Challenges []Challenge
}

// Hash is a convenience wrapper for Header.Hash.
func (b *Block) Hash() (Hash, error) { return b.Header.Hash() }

// Challenge is a fraud proof against an invalid chunk, broadcast and
// discarded rather than stored (spec.md §7: InvalidChunkProofs/State).
type Challenge struct {
	BlockHash Hash
	ShardID   ShardID
	Reason    string
}

// ShardChunkHeader is the per-shard payload summary carried inside a Block.
type ShardChunkHeader struct {
	ShardID              ShardID
	HeightCreated         uint64
	HeightIncluded        uint64
	PrevStateRoot         Hash
	TxRoot                Hash
	ReceiptsRoot          Hash
	OutgoingReceiptsRoot  Hash
	GasUsed               uint64
	GasLimit              uint64
	ValidatorProposals    []ValidatorProposal
	Signature             []byte

	// IncludedTxs is the chunk's own transaction body: the transactions
	// runtime.ApplyTransactions actually executed. Carried inline (rather
	// than addressed separately by TxRoot, the way a full erasure-coded
	// chunk would be) so mempool reconciliation on reorgs (spec.md §4.2
	// step 4, §8 "Mempool reorg round-trip") can recover exactly which
	// transactions a retained block included without a separate body store.
	IncludedTxs []*SignedTransaction
}

// Hash identifies a chunk independent of the block(s) that reference it.
func (c *ShardChunkHeader) Hash() (Hash, error) { return hashEncodable(c) }

// ChunkExtra is the post-apply summary for (block_hash, shard) pairs, one of
// the store columns spec.md §3 enumerates.
type ChunkExtra struct {
	StateRoot          Hash
	OutcomeRoot         Hash
	ValidatorProposals  []ValidatorProposal
	GasUsed             uint64
	GasLimit            uint64
	BalanceBurnt        uint64
}

// Tip identifies a position on some chain: HEAD, HEADER_HEAD or FINAL_HEAD.
type Tip struct {
	Height        uint64
	LastBlockHash Hash
	PrevBlockHash Hash
	EpochID       EpochID
	NextEpochID   EpochID
}

// TipFromHeader builds a Tip describing the block a header identifies.
func TipFromHeader(h *BlockHeader) (Tip, error) {
	hash, err := h.Hash()
	if err != nil {
		return Tip{}, err
	}
	return Tip{
		Height:        h.Height,
		LastBlockHash: hash,
		PrevBlockHash: h.PrevHash,
		EpochID:       h.EpochID,
		NextEpochID:   h.NextEpochID,
	}, nil
}

// MerkleTree is the serializable state of the append-only block-merkle
// commitment: a Merkle Mountain Range of peak hashes plus the leaf count
// (spec.md §3 "block-merkle tree"). The chain package wraps this in a
// local named type to attach Insert/Root behavior.
type MerkleTree struct {
	Peaks []Hash
	Size  uint64
}

// TrieChanges is the refcount-delta record produced by applying a shard's
// transactions for one block: the unit of GC for trie state (spec.md §3).
type TrieChanges struct {
	OldRoot    Hash
	NewRoot    Hash
	Insertions []TrieOp
	Deletions  []TrieOp
}

// TrieOp is one refcounted node insertion or deletion.
type TrieOp struct {
	Hash  Hash
	Value []byte
	RC    int32
}

// LatestKnown tracks the highest height and wall-clock time this node has
// seen, used to prevent double production under retry (spec.md §4.2 step 8).
type LatestKnown struct {
	Height    uint64
	Seen      uint64 // unix nanos
}

// Provenance records why a block is being processed, used to decide
// mempool reconciliation and approval replay (spec.md §4.2 step 2, 4).
type Provenance int

const (
	ProvenanceNone Provenance = iota
	ProvenanceNetwork
	ProvenanceProduced
	ProvenanceSync
)

func (p Provenance) String() string {
	switch p {
	case ProvenanceNone:
		return "none"
	case ProvenanceNetwork:
		return "network"
	case ProvenanceProduced:
		return "produced"
	case ProvenanceSync:
		return "sync"
	default:
		return "unknown"
	}
}

// BlockStatus classifies how a newly-accepted block relates to the previous
// head, driving mempool reconciliation in Client.onBlockAccepted.
type BlockStatus int

const (
	// StatusNext means the block extends the previous head directly.
	StatusNext BlockStatus = iota
	// StatusFork means the block does not become the new head.
	StatusFork
	// StatusReorg means the block becomes head but its chain diverges from
	// the previous head above some common ancestor.
	StatusReorg
)

// IsNewHead reports whether accepting this block changed HEAD.
func (s BlockStatus) IsNewHead() bool { return s == StatusNext || s == StatusReorg }

func (s BlockStatus) String() string {
	switch s {
	case StatusNext:
		return "next"
	case StatusFork:
		return "fork"
	case StatusReorg:
		return "reorg"
	default:
		return "unknown"
	}
}

// ApprovalInner is the payload an Approval signs over: either an
// endorsement of a specific parent block, or a skip past a given height
// (spec.md §4.3, GLOSSARY "Approval"). Used as a map key, so it must stay
// comparable (no slices/maps inside).
type ApprovalInner struct {
	IsSkip       bool
	ParentHash   Hash   // valid when IsSkip == false
	ParentHeight uint64 // valid when IsSkip == true
}

// EndorsementInner builds the ApprovalInner for endorsing parentHash directly.
func EndorsementInner(parentHash Hash) ApprovalInner {
	return ApprovalInner{ParentHash: parentHash}
}

// SkipInner builds the ApprovalInner for skipping past parentHeight.
func SkipInner(parentHeight uint64) ApprovalInner {
	return ApprovalInner{IsSkip: true, ParentHeight: parentHeight}
}

// ApprovalSource distinguishes approvals produced locally (never re-verified)
// from ones received over the network (signature must be checked against the
// claimed account's key in the target epoch, spec.md §4.3 step 3).
type ApprovalSource int

const (
	SourceOwnVote ApprovalSource = iota
	SourcePeerApproval
)

// Approval is a signed finality vote: an endorsement of a parent block or a
// skip of a parent height, at some target_height (spec.md §4.3, GLOSSARY).
type Approval struct {
	Inner        ApprovalInner
	TargetHeight uint64
	AccountID    AccountID
	Signature    []byte
}

// SignedTransaction is the unit routed, validated and included in chunks.
// Only the fields the core needs to route/evict/include are modeled; the
// runtime adapter is responsible for everything about execution semantics.
type SignedTransaction struct {
	Hash       Hash
	SignerID   AccountID
	ReceiverID AccountID
	Nonce      uint64
	ValidUntil uint64 // block height after which the tx can no longer be included
	Payload    []byte
	Signature  []byte
}
