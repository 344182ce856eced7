package main

import (
	"github.com/shardline/shardline/types"
)

// devNetwork is the NetworkAdapter this binary runs with: a single-process
// devnet has no peers to gossip to, so every outbound call is just logged
// rather than sent anywhere. A real deployment swaps this for a libp2p (or
// equivalent) transport behind the same interface; wiring one is out of this
// module's scope (spec.md §1 Non-goals).
type devNetwork struct{}

func newDevNetwork() *devNetwork { return &devNetwork{} }

func (n *devNetwork) SendBlock(block *types.Block) {
	hash, err := block.Hash()
	if err != nil {
		return
	}
	log.WithField("height", block.Header.Height).WithField("hash", hash.Hex()).Debug("would broadcast block")
}

func (n *devNetwork) SendApproval(approval *types.Approval) {
	log.WithField("target_height", approval.TargetHeight).WithField("account", approval.AccountID).Debug("would broadcast approval")
}

func (n *devNetwork) ForwardTx(validator types.AccountID, tx *types.SignedTransaction) {
	log.WithField("validator", validator).WithField("tx", tx.Hash.Hex()).Debug("would forward tx")
}

func (n *devNetwork) SendChallenge(challenge types.Challenge) {
	log.WithField("block", challenge.BlockHash.Hex()).Warn("would broadcast challenge")
}

func (n *devNetwork) RequestChunkParts(chunkHash, parent types.Hash) {
	log.WithField("chunk", chunkHash.Hex()).Debug("would request chunk parts")
}
