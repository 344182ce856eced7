package client

import "github.com/shardline/shardline/types"

// NetworkAdapter is the P2P layer boundary (spec.md §6 "To the network
// layer"): out of scope per spec.md §1, consumed only through this
// interface. client/networktest provides an in-memory double for tests.
type NetworkAdapter interface {
	SendBlock(block *types.Block)
	SendApproval(approval *types.Approval)
	ForwardTx(validator types.AccountID, tx *types.SignedTransaction)
	SendChallenge(challenge types.Challenge)
	RequestChunkParts(chunkHash, parent types.Hash)
}

// TxResponseKind enumerates NetworkClientResponses (spec.md §6).
type TxResponseKind int

const (
	ResponseValidTx TxResponseKind = iota
	ResponseInvalidTx
	ResponseRequestRouted
	ResponseDoesNotTrackShard
	ResponseNoResponse
)

// TxResponse is what process_tx returns to its caller.
type TxResponse struct {
	Kind   TxResponseKind
	Reason string
}

// SignatureVerifier checks a peer approval's signature against accountID's
// registered key for the given epoch. Cryptographic signatures are an
// external collaborator (spec.md §1), consumed only through this interface.
type SignatureVerifier interface {
	VerifyApproval(accountID types.AccountID, epoch types.EpochID, signingBytes, signature []byte) error
}

// Signer produces our own validator signatures over block headers and
// approvals, the other half of the out-of-scope cryptographic boundary.
type Signer interface {
	AccountID() types.AccountID
	SignBlock(header *types.BlockHeader) ([]byte, error)
	SignApproval(inner types.ApprovalInner, targetHeight uint64) ([]byte, error)
	SignChunk(header *types.ShardChunkHeader) ([]byte, error)
}
