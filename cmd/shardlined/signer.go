package main

import (
	"crypto/ecdsa"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/shardline/shardline/types"
)

// devSigner signs with a real secp256k1 key (go-ethereum/crypto), the same
// primitive the examples pack uses for account keys; it stands in for a real
// validator's key-management service, which is out of this module's scope
// (spec.md §1 Non-goals).
type devSigner struct {
	account types.AccountID
	key     *ecdsa.PrivateKey
}

func newDevSigner(account types.AccountID) (*devSigner, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return &devSigner{account: account, key: key}, nil
}

func (s *devSigner) AccountID() types.AccountID { return s.account }

func (s *devSigner) SignBlock(header *types.BlockHeader) ([]byte, error) {
	msg, err := types.BlockSigningBytes(header)
	if err != nil {
		return nil, err
	}
	return crypto.Sign(crypto.Keccak256(msg), s.key)
}

func (s *devSigner) SignApproval(inner types.ApprovalInner, targetHeight uint64) ([]byte, error) {
	msg, err := types.ApprovalSigningBytes(inner, targetHeight)
	if err != nil {
		return nil, err
	}
	return crypto.Sign(crypto.Keccak256(msg), s.key)
}

func (s *devSigner) SignChunk(header *types.ShardChunkHeader) ([]byte, error) {
	msg, err := types.ChunkSigningBytes(header)
	if err != nil {
		return nil, err
	}
	return crypto.Sign(crypto.Keccak256(msg), s.key)
}

// PublicKey returns the uncompressed public key bytes to register with
// peers' devVerifier (out-of-band, in a real deployment; wired directly
// here since key exchange is also out of scope).
func (s *devSigner) PublicKey() []byte {
	return crypto.FromECDSAPub(&s.key.PublicKey)
}

// devVerifier checks peer approval signatures against a registered public
// key per AccountID, the counterpart devSigner plays on the sending side.
type devVerifier struct {
	mu   sync.RWMutex
	keys map[types.AccountID][]byte
}

func newDevVerifier() *devVerifier {
	return &devVerifier{keys: make(map[types.AccountID][]byte)}
}

func (v *devVerifier) Register(account types.AccountID, pubkey []byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.keys[account] = pubkey
}

func (v *devVerifier) VerifyApproval(accountID types.AccountID, epoch types.EpochID, signingBytes, signature []byte) error {
	v.mu.RLock()
	pubkey, ok := v.keys[accountID]
	v.mu.RUnlock()
	if !ok {
		return fmt.Errorf("devVerifier: no registered key for %s", accountID)
	}
	if len(signature) < 64 {
		return fmt.Errorf("devVerifier: malformed signature")
	}
	if !crypto.VerifySignature(pubkey, crypto.Keccak256(signingBytes), signature[:64]) {
		return fmt.Errorf("devVerifier: signature mismatch for %s", accountID)
	}
	return nil
}
