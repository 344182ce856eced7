package client

import "time"

// headStalledThreshold is how long without head progress before the
// watchdog starts rebroadcasting the current head block (no approval is
// resent), mirrored from nearcore's client_actor doomslug timer cadence.
const headStalledThreshold = 4 * time.Second

// CheckHeadProgressStalled reports whether head has not advanced for longer
// than headStalledThreshold, the trigger for MaybeRebroadcastHead to resend
// the current head block; no vote is cast again (SPEC_FULL §4.2
// "check_head_progress_stalled").
func (c *Client) CheckHeadProgressStalled(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return now.Sub(c.lastTimeHeadProgressMade) > headStalledThreshold
}

// MaybeRebroadcastHead resends the current head block over the network if
// progress has stalled and it has not already been rebroadcast, bounded by
// rebroadcastedBlocks so a long stall doesn't turn into a resend storm
// (SPEC_FULL §4.2 supplemented feature, params.NumRebroadcastBlocks).
func (c *Client) MaybeRebroadcastHead(now time.Time) {
	if !c.CheckHeadProgressStalled(now) {
		return
	}
	head, err := c.chain.Head()
	if err != nil {
		return
	}
	if _, already := c.rebroadcastedBlocks.Get(head.LastBlockHash); already {
		return
	}
	block, err := c.chain.GetBlock(head.LastBlockHash)
	if err != nil {
		return
	}
	c.network.SendBlock(block)
	c.rebroadcastedBlocks.Add(head.LastBlockHash, now)
}
