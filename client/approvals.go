package client

import (
	"time"

	"github.com/shardline/shardline/chain/errkind"
	"github.com/shardline/shardline/types"
)

// Resolution is the explicit control-flow sum type collect_block_approval
// resolves to, replacing the teacher's error-as-control-flow pattern for the
// DBNotFound/park case (spec.md §7 REDESIGN FLAGS "Error-as-control-flow for
// pending_approvals").
type Resolution int

const (
	// ResolutionReady means the approval was resolved and handed to
	// Doomslug's witness.
	ResolutionReady Resolution = iota
	// ResolutionParked means parent_hash/epoch could not yet be resolved
	// (e.g. a Skip(height) whose header we haven't seen) and the approval
	// was parked in pendingApprovals.
	ResolutionParked
	// ResolutionDropped means the approval failed validation and was
	// discarded outright.
	ResolutionDropped
)

// CollectApproval resolves one approval's parent_hash, verifies its
// signature (for peer approvals; our own votes are trusted unconditionally),
// and either folds it into Doomslug's witness or parks/drops it
// (spec.md §4.3, grounded in nearcore's client.rs collect_block_approval).
func (c *Client) CollectApproval(approval *types.Approval, source types.ApprovalSource) Resolution {
	parentHash, ok := c.resolveApprovalParent(approval.Inner)
	if !ok {
		if source == types.SourcePeerApproval {
			c.pendingApprovals.Add(approval.Inner, approval)
		}
		return ResolutionParked
	}

	nextEpochID, err := c.runtime.GetEpochIDFromPrevBlock(parentHash)
	if err != nil {
		if source == types.SourcePeerApproval {
			c.pendingApprovals.Add(approval.Inner, approval)
		}
		return ResolutionParked
	}

	if source == types.SourcePeerApproval {
		signingBytes, err := types.ApprovalSigningBytes(approval.Inner, approval.TargetHeight)
		if err != nil {
			return ResolutionDropped
		}
		if err := c.verifyApprovalAcrossEpochs(approval, nextEpochID, signingBytes); err != nil {
			return ResolutionDropped
		}
	}

	if c.signer != nil {
		producer, err := c.runtime.GetBlockProducer(nextEpochID, approval.TargetHeight)
		if err != nil || producer != c.signer.AccountID() {
			// Not ours to collect: either we're not producing this height,
			// or parent_hash will never be built on.
			if _, err := c.chain.GetHeader(parentHash); err == nil {
				// We know parent_hash's header, so this vote will never be
				// useful to us: harmless to drop.
				return ResolutionDropped
			}
			// parent_hash isn't known yet; park in case it turns out we do
			// end up needing this vote once it resolves.
			c.pendingApprovals.Add(approval.Inner, approval)
			return ResolutionParked
		}
	}

	approvers, err := c.runtime.GetEpochBlockApproversOrdered(parentHash)
	if err != nil {
		return ResolutionDropped
	}
	c.doomslug.OnApprovalMessage(time.Now(), approval, approvers)
	return ResolutionReady
}

// verifyApprovalAcrossEpochs checks a peer approval's signature against
// firstEpoch (the block's own next epoch); if the approver isn't a
// validator there, it retries once against the epoch after, since an
// approval can arrive slightly ahead of the epoch boundary it will actually
// be counted in (spec.md §4.3 step 3).
func (c *Client) verifyApprovalAcrossEpochs(approval *types.Approval, firstEpoch types.EpochID, signingBytes []byte) error {
	err := c.verifier.VerifyApproval(approval.AccountID, firstEpoch, signingBytes, approval.Signature)
	if err == nil || !errkind.Is(err, errkind.NotAValidator) {
		return err
	}
	nextEpoch, epochErr := c.runtime.GetNextEpochID(firstEpoch)
	if epochErr != nil {
		return err
	}
	return c.verifier.VerifyApproval(approval.AccountID, nextEpoch, signingBytes, approval.Signature)
}

// resolveApprovalParent maps an ApprovalInner to the concrete parent_hash it
// votes relative to: direct for Endorsement, a canonical-height lookup for
// Skip (spec.md §4.3 step 1).
func (c *Client) resolveApprovalParent(inner types.ApprovalInner) (types.Hash, bool) {
	if !inner.IsSkip {
		return inner.ParentHash, true
	}
	header, found, err := c.chain.GetCanonicalHeaderAtHeight(inner.ParentHeight)
	if err != nil || !found {
		return types.Hash{}, false
	}
	hash, err := header.Hash()
	if err != nil {
		return types.Hash{}, false
	}
	return hash, true
}

// DrainPendingApprovals retries the approval parked under resolvedInner, if
// any (pendingApprovals keeps one approval per inner key), called once the
// block at that height/hash becomes known (spec.md §4.3 "pending_approvals").
func (c *Client) DrainPendingApprovals(resolvedInner types.ApprovalInner) {
	v, ok := c.pendingApprovals.Get(resolvedInner)
	if !ok {
		return
	}
	c.pendingApprovals.Remove(resolvedInner)
	approval, ok := v.(*types.Approval)
	if !ok {
		return
	}
	c.CollectApproval(approval, types.SourcePeerApproval)
}
