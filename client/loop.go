package client

import (
	"context"
	"time"

	"github.com/shardline/shardline/types"
)

// SubmitBlock enqueues a block received from the network (or recovered from
// sync) for the actor loop to process. Never blocks on Client-internal
// state; only on a full inbound queue, which back-pressures the network
// layer.
func (c *Client) SubmitBlock(block *types.Block, bodies map[types.ShardID][]*types.SignedTransaction, provenance types.Provenance) {
	c.blockCh <- blockMsg{block: block, bodies: bodies, provenance: provenance}
}

// SubmitApproval enqueues an approval received from the network or cast by
// this node's own Doomslug vote.
func (c *Client) SubmitApproval(approval *types.Approval, source types.ApprovalSource) {
	c.approvalCh <- approvalMsg{approval: approval, source: source}
}

// SubmitTx enqueues a transaction and blocks until process_tx has resolved
// it, mirroring the teacher's synchronous RPC-handler pattern.
func (c *Client) SubmitTx(tx *types.SignedTransaction, forwarded bool) TxResponse {
	resp := make(chan TxResponse, 1)
	c.txCh <- txMsg{tx: tx, forwarded: forwarded, resp: resp}
	return <-resp
}

// SubmitChunkPart enqueues one erasure-coded chunk part received from the
// network, letting OnChunkPartsReceived run on the actor goroutine alongside
// every other state mutation (spec.md §4.2 "Orphan & missing-chunk
// handling").
func (c *Client) SubmitChunkPart(chunkHash, parent types.Hash, partIndex uint64, txs []*types.SignedTransaction) {
	c.chunkPartCh <- chunkPartMsg{chunkHash: chunkHash, parent: parent, partIndex: partIndex, txs: txs}
}

// Run is the single-threaded actor loop: every state-mutating operation the
// Client performs runs on this one goroutine, so Chain/Doomslug/ShardsManager
// never need their own locking against Client (spec.md §5 "Suspension
// points: none inside the Client"). It returns when ctx is cancelled.
func (c *Client) Run(ctx context.Context) {
	c.ctx = ctx
	produceTicker := time.NewTicker(c.cfg.MinBlockProductionDelay)
	defer produceTicker.Stop()
	watchdogTicker := time.NewTicker(time.Second)
	defer watchdogTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case msg := <-c.blockCh:
			if _, err := c.ProcessBlock(msg.block, msg.bodies, msg.provenance); err != nil {
				log.WithError(err).Warn("process_block failed")
			}

		case msg := <-c.approvalCh:
			c.CollectApproval(msg.approval, msg.source)

		case msg := <-c.txCh:
			msg.resp <- c.ProcessTx(msg.tx, msg.forwarded)

		case msg := <-c.chunkPartCh:
			c.OnChunkPartsReceived(msg.chunkHash, msg.parent, msg.partIndex, msg.txs)

		case <-produceTicker.C:
			c.tryProduceNextBlock()

		case <-watchdogTicker.C:
			c.MaybeRebroadcastHead(time.Now())
		}
	}
}

// tryProduceNextBlock attempts to produce the block for head height + 1,
// submitting it to itself through the same pipeline an inbound network
// block would take (spec.md §4.2 step 8: process our own produced block
// exactly like a received one).
func (c *Client) tryProduceNextBlock() {
	head, err := c.chain.Head()
	if err != nil {
		return
	}
	block, err := c.ProduceBlock(head.Height + 1)
	if err != nil {
		log.WithError(err).Warn("produce_block failed")
		return
	}
	if block == nil {
		return
	}

	c.SubmitBlock(block, c.lastProducedBodies, types.ProvenanceProduced)
}
