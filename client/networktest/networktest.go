// Package networktest provides an in-memory client.NetworkAdapter double for
// tests that need to observe or drive what a Client would send to its peers,
// the same role the teacher's inmemory p2p test doubles play for
// beacon-chain's sync services.
package networktest

import (
	"sync"

	"github.com/shardline/shardline/types"
)

// Network records every outbound call a Client makes, and lets a test
// synchronously deliver inbound messages by holding a direct reference to
// the Client under test (wired by the caller, not by this package, to avoid
// an import cycle).
type Network struct {
	mu sync.Mutex

	Blocks     []*types.Block
	Approvals  []*types.Approval
	Forwarded  []ForwardedTx
	Challenges []types.Challenge
	Requests   []PartRequest
}

// ForwardedTx records one ForwardTx call.
type ForwardedTx struct {
	Validator types.AccountID
	Tx        *types.SignedTransaction
}

// PartRequest records one RequestChunkParts call.
type PartRequest struct {
	ChunkHash, Parent types.Hash
}

// New builds an empty Network double.
func New() *Network { return &Network{} }

func (n *Network) SendBlock(block *types.Block) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Blocks = append(n.Blocks, block)
}

func (n *Network) SendApproval(approval *types.Approval) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Approvals = append(n.Approvals, approval)
}

func (n *Network) ForwardTx(validator types.AccountID, tx *types.SignedTransaction) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Forwarded = append(n.Forwarded, ForwardedTx{Validator: validator, Tx: tx})
}

func (n *Network) SendChallenge(challenge types.Challenge) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Challenges = append(n.Challenges, challenge)
}

func (n *Network) RequestChunkParts(chunkHash, parent types.Hash) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Requests = append(n.Requests, PartRequest{ChunkHash: chunkHash, Parent: parent})
}

// LastBlock returns the most recently sent block, or nil if none.
func (n *Network) LastBlock() *types.Block {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.Blocks) == 0 {
		return nil
	}
	return n.Blocks[len(n.Blocks)-1]
}

// FakeSigner is an unsigned Signer double: it "signs" by returning a
// deterministic marker rather than a real signature, since cryptographic
// signing is an external collaborator this module never implements
// (spec.md §1 Non-goals).
type FakeSigner struct {
	Account types.AccountID
}

func (s *FakeSigner) AccountID() types.AccountID { return s.Account }

func (s *FakeSigner) SignBlock(header *types.BlockHeader) ([]byte, error) {
	return []byte("fake-block-sig:" + string(s.Account)), nil
}

func (s *FakeSigner) SignApproval(inner types.ApprovalInner, targetHeight uint64) ([]byte, error) {
	return []byte("fake-approval-sig:" + string(s.Account)), nil
}

func (s *FakeSigner) SignChunk(header *types.ShardChunkHeader) ([]byte, error) {
	return []byte("fake-chunk-sig:" + string(s.Account)), nil
}

// FakeVerifier accepts every signature, since this module never implements
// real cryptographic verification either (spec.md §1 Non-goals).
type FakeVerifier struct{}

func (FakeVerifier) VerifyApproval(accountID types.AccountID, epoch types.EpochID, signingBytes, signature []byte) error {
	return nil
}
