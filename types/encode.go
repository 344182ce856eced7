package types

import (
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// hashEncodable RLP-encodes v and returns its Keccak-256 hash. This plays
// the role the teacher's protobuf Marshal + sha256 pipeline plays for
// ssz.SigningRoot: a canonical byte encoding feeding a single hash function.
// No protoc toolchain runs in this exercise, so RLP (already a dependency of
// the go-ethereum-derived examples in this pack) stands in for it.
func hashEncodable(v interface{}) (Hash, error) {
	enc, err := rlp.EncodeToBytes(v)
	if err != nil {
		return Hash{}, err
	}
	return crypto.Keccak256Hash(enc), nil
}

// Encode RLP-encodes a block for store persistence.
func (b *Block) Encode() ([]byte, error) { return rlp.EncodeToBytes(b) }

// DecodeBlock reverses Block.Encode.
func DecodeBlock(enc []byte) (*Block, error) {
	b := &Block{}
	if err := rlp.DecodeBytes(enc, b); err != nil {
		return nil, err
	}
	return b, nil
}

// Encode RLP-encodes a header for store persistence.
func (h *BlockHeader) Encode() ([]byte, error) { return rlp.EncodeToBytes(h) }

// DecodeBlockHeader reverses BlockHeader.Encode.
func DecodeBlockHeader(enc []byte) (*BlockHeader, error) {
	h := &BlockHeader{}
	if err := rlp.DecodeBytes(enc, h); err != nil {
		return nil, err
	}
	return h, nil
}

// Encode RLP-encodes a chunk header.
func (c *ShardChunkHeader) Encode() ([]byte, error) { return rlp.EncodeToBytes(c) }

// DecodeShardChunkHeader reverses ShardChunkHeader.Encode.
func DecodeShardChunkHeader(enc []byte) (*ShardChunkHeader, error) {
	c := &ShardChunkHeader{}
	if err := rlp.DecodeBytes(enc, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Encode RLP-encodes a ChunkExtra.
func (c *ChunkExtra) Encode() ([]byte, error) { return rlp.EncodeToBytes(c) }

// DecodeChunkExtra reverses ChunkExtra.Encode.
func DecodeChunkExtra(enc []byte) (*ChunkExtra, error) {
	c := &ChunkExtra{}
	if err := rlp.DecodeBytes(enc, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Encode RLP-encodes a Tip.
func (t *Tip) Encode() ([]byte, error) { return rlp.EncodeToBytes(t) }

// DecodeTip reverses Tip.Encode.
func DecodeTip(enc []byte) (*Tip, error) {
	t := &Tip{}
	if err := rlp.DecodeBytes(enc, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Encode RLP-encodes a MerkleTree for the BlockMerkleTree store column.
func (m *MerkleTree) Encode() ([]byte, error) { return rlp.EncodeToBytes(m) }

// DecodeMerkleTree reverses MerkleTree.Encode.
func DecodeMerkleTree(enc []byte) (*MerkleTree, error) {
	m := &MerkleTree{}
	if err := rlp.DecodeBytes(enc, m); err != nil {
		return nil, err
	}
	return m, nil
}

// ComputeTxRoot hashes the ordered list of transaction hashes a chunk
// carries, the commitment produce_chunk stores in ShardChunkHeader.TxRoot
// (spec.md §4.2 "produce_chunk" step 2).
func ComputeTxRoot(txs []*SignedTransaction) (Hash, error) {
	hashes := make([]Hash, len(txs))
	for i, tx := range txs {
		hashes[i] = tx.Hash
	}
	return hashEncodable(hashes)
}

// ChunkSigningBytes returns the canonical encoding a chunk producer's
// signature covers: everything in the header except the signature itself.
func ChunkSigningBytes(c *ShardChunkHeader) ([]byte, error) {
	unsigned := *c
	unsigned.Signature = nil
	return rlp.EncodeToBytes(&unsigned)
}

// BlockSigningBytes returns the canonical encoding a block producer's
// signature covers: everything in the header except the signature itself.
func BlockSigningBytes(h *BlockHeader) ([]byte, error) {
	unsigned := *h
	unsigned.Signature = nil
	return rlp.EncodeToBytes(&unsigned)
}

// ApprovalSigningBytes returns the canonical `approval.inner || target_height`
// encoding an Approval's signature is computed over (spec.md §4.3 step 3).
func ApprovalSigningBytes(inner ApprovalInner, targetHeight uint64) ([]byte, error) {
	return rlp.EncodeToBytes(&struct {
		Inner        ApprovalInner
		TargetHeight uint64
	}{inner, targetHeight})
}

// Encode RLP-encodes TrieChanges for the per-(block,shard) TrieChanges column.
func (tc *TrieChanges) Encode() ([]byte, error) { return rlp.EncodeToBytes(tc) }

// DecodeTrieChanges reverses TrieChanges.Encode.
func DecodeTrieChanges(enc []byte) (*TrieChanges, error) {
	tc := &TrieChanges{}
	if err := rlp.DecodeBytes(enc, tc); err != nil {
		return nil, err
	}
	return tc, nil
}
