package doomslug

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shardline/shardline/types"
)

func TestApprovalIdempotence(t *testing.T) {
	d := New(100*time.Millisecond, time.Second)
	now := time.Now()
	d.SetTip(now, types.Hash{1}, 10, 9)

	inner := types.EndorsementInner(types.Hash{1})
	approval := &types.Approval{
		Inner:        inner,
		TargetHeight: 11,
		AccountID:    "alice",
		Signature:    []byte("sig"),
	}
	approvers := []types.AccountID{"alice", "bob"}

	d.OnApprovalMessage(now, approval, approvers)
	require.Equal(t, 1, d.WitnessCount(inner))

	d.OnApprovalMessage(now, approval, approvers)
	require.Equal(t, 1, d.WitnessCount(inner), "feeding the same approval twice must not double-count")
}

func TestCollectApprovalsOrderedWithGaps(t *testing.T) {
	d := New(100*time.Millisecond, time.Second)
	now := time.Now()
	d.SetTip(now, types.Hash{1}, 10, 9)

	inner := types.EndorsementInner(types.Hash{1})
	d.OnApprovalMessage(now, &types.Approval{Inner: inner, TargetHeight: 11, AccountID: "bob", Signature: []byte("b")}, []types.AccountID{"alice", "bob"})

	sigs := d.CollectApprovals(inner, []types.AccountID{"alice", "bob"})
	require.Nil(t, sigs[0])
	require.Equal(t, []byte("b"), sigs[1])
}

func TestRemoveWitnessDrains(t *testing.T) {
	d := New(100*time.Millisecond, time.Second)
	now := time.Now()
	inner := types.EndorsementInner(types.Hash{1})
	d.OnApprovalMessage(now, &types.Approval{Inner: inner, TargetHeight: 1, AccountID: "alice"}, []types.AccountID{"alice"})
	require.Equal(t, 1, d.WitnessCount(inner))

	d.RemoveWitness(inner)
	require.Equal(t, 0, d.WitnessCount(inner))
}

func TestTimerExpired(t *testing.T) {
	d := New(10*time.Millisecond, 20*time.Millisecond)
	now := time.Now()
	d.SetTip(now, types.Hash{1}, 5, 4)
	require.False(t, d.TimerExpired(now))
	require.True(t, d.TimerExpired(now.Add(30*time.Millisecond)))
}
