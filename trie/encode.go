package trie

import "github.com/ethereum/go-ethereum/rlp"

func encodeNode(n *node) ([]byte, error) { return rlp.EncodeToBytes(n) }

func decodeNode(enc []byte) (*node, error) {
	n := &node{}
	if err := rlp.DecodeBytes(enc, n); err != nil {
		return nil, err
	}
	return n, nil
}
