// Package doomslug implements the finality gadget the Client drives: it
// collects endorsement/skip approvals into a witness keyed by ApprovalInner,
// advances a target-height timer, and tracks the tip the Client is voting
// relative to (spec.md §4.3). Grounded in the teacher's attestation-pool
// layout (beacon-chain/operations/attestations): a small mutex-protected
// cache exposed as a handful of named operations, not a generic map API.
package doomslug

import (
	"sync"
	"time"

	"github.com/shardline/shardline/types"
)

// witnessEntry is one validator's vote for a given ApprovalInner.
type witnessEntry struct {
	approval *types.Approval
	source   types.ApprovalSource
}

// Doomslug tracks the finality-voting state the Client consults when
// producing a block's approvals list and when deciding to advance
// final_head.
type Doomslug struct {
	mu sync.Mutex

	tipHash         types.Hash
	tipHeight       uint64
	lastFinalHeight uint64

	targetHeight    uint64
	timerStart      time.Time
	timerHeight     uint64
	minDelay        time.Duration
	maxDelay        time.Duration

	witness map[types.ApprovalInner]map[types.AccountID]witnessEntry
}

// New builds a Doomslug with the block-production delay bounds the Client's
// produce_block loop is configured with (spec.md §6 "min/max_block_production_delay").
func New(minDelay, maxDelay time.Duration) *Doomslug {
	return &Doomslug{
		minDelay: minDelay,
		maxDelay: maxDelay,
		witness:  make(map[types.ApprovalInner]map[types.AccountID]witnessEntry),
	}
}

// SetTip records the block Doomslug is now voting relative to, restarting
// the target-height timer at tipHeight+1.
func (d *Doomslug) SetTip(now time.Time, tipHash types.Hash, tipHeight, lastFinalHeight uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tipHash = tipHash
	d.tipHeight = tipHeight
	d.lastFinalHeight = lastFinalHeight
	d.targetHeight = tipHeight + 1
	d.timerHeight = d.targetHeight
	d.timerStart = now
}

// GetTip returns the block Doomslug currently votes relative to.
func (d *Doomslug) GetTip() (hash types.Hash, height, lastFinalHeight uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tipHash, d.tipHeight, d.lastFinalHeight
}

// TargetHeight is the height Doomslug is currently trying to produce or
// collect approvals for.
func (d *Doomslug) TargetHeight() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.targetHeight
}

// OnApprovalMessage records approval in the witness for its ApprovalInner,
// keyed by the voting account so a repeat vote from the same account simply
// overwrites rather than double-counts (spec.md §8 "Approval idempotence").
// approvers is the ordered set eligible to vote for parent_hash; once every
// approver has voted (or target_height's timer has elapsed), the caller may
// advance the target height.
func (d *Doomslug) OnApprovalMessage(now time.Time, approval *types.Approval, approvers []types.AccountID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	byAccount, ok := d.witness[approval.Inner]
	if !ok {
		byAccount = make(map[types.AccountID]witnessEntry)
		d.witness[approval.Inner] = byAccount
	}
	byAccount[approval.AccountID] = witnessEntry{approval: approval, source: types.SourcePeerApproval}

	if approval.TargetHeight > d.targetHeight && len(byAccount) > len(approvers)/2 {
		d.targetHeight = approval.TargetHeight
		d.timerHeight = approval.TargetHeight
		d.timerStart = now
	}
}

// RemoveWitness drops every vote collected for inner, called once a block at
// the corresponding height has been produced and the witness has served its
// purpose (spec.md §4.2 step 6: "Assert the witness is fully drained").
func (d *Doomslug) RemoveWitness(inner types.ApprovalInner) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.witness, inner)
}

// CollectApprovals returns, for each of approvers (in order), the signature
// of their vote for inner at the current target height if one is present in
// the witness, or nil otherwise (spec.md §4.2 step 6).
func (d *Doomslug) CollectApprovals(inner types.ApprovalInner, approvers []types.AccountID) [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([][]byte, len(approvers))
	byAccount := d.witness[inner]
	for i, acc := range approvers {
		if e, ok := byAccount[acc]; ok {
			out[i] = e.approval.Signature
		}
	}
	return out
}

// TimerExpired reports whether the delay since the timer was last (re)set
// for the current target height has passed maxDelay, the signal
// produce_block uses to stop waiting on further approvals.
func (d *Doomslug) TimerExpired(now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return now.Sub(d.timerStart) >= d.maxDelay
}

// WitnessCount reports how many distinct accounts have voted for inner,
// used by tests asserting idempotence and by produce_block's readiness
// check.
func (d *Doomslug) WitnessCount(inner types.ApprovalInner) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.witness[inner])
}
