package validator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"attestchain/core/types"
)

type failingDecider struct{}

func (failingDecider) Decide(ctx context.Context, block *types.Block) (Decision, error) {
	return Decision{}, errors.New("backend down")
}

type hangingDecider struct{}

func (hangingDecider) Decide(ctx context.Context, block *types.Block) (Decision, error) {
	<-ctx.Done()
	return Decision{}, ctx.Err()
}

func TestRegisterAndMembership(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register("val-1", "Aurelia", ApproveAll(0.9, "ok")))
	require.NoError(t, r.Register("val-2", "Brutus", ApproveAll(0.9, "ok")))
	require.ErrorIs(t, r.Register("val-1", "Dup", ApproveAll(1, "")), ErrAlreadyRegistered)

	require.Equal(t, []string{"val-1", "val-2"}, r.ActiveIDs())
	require.Equal(t, 2, r.ActiveCount())

	require.NoError(t, r.Deactivate("val-2"))
	require.Equal(t, []string{"val-1"}, r.ActiveIDs())
	require.ErrorIs(t, r.Deactivate("ghost"), ErrUnknownValidator)

	require.NoError(t, r.Activate("val-2"))
	require.Equal(t, 2, r.ActiveCount())
}

func TestDecideDegradesToAbstain(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register("broken", "Broken", failingDecider{}))

	d := r.Decide(context.Background(), "broken", nil)
	require.Equal(t, types.VoteAbstain, d.Action)

	d = r.Decide(context.Background(), "missing", nil)
	require.Equal(t, types.VoteAbstain, d.Action)
}

func TestDecideHonorsContextDeadline(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register("slow", "Slow", hangingDecider{}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	d := r.Decide(ctx, "slow", nil)
	require.Equal(t, types.VoteAbstain, d.Action)
	require.Less(t, time.Since(start), time.Second, "decide must return promptly after the deadline")
}

func TestDecideClampsConfidence(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register("eager", "Eager", &StaticDecider{Decision: Decision{
		Action:     types.VoteApprove,
		Confidence: 3.5,
	}}))
	d := r.Decide(context.Background(), "eager", nil)
	require.Equal(t, types.VoteApprove, d.Action)
	require.Equal(t, 1.0, d.Confidence)
}

func TestReputationTracksAccuracy(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register("sharp", "Sharp", ApproveAll(1, "")))
	require.NoError(t, r.Register("coin", "Coin", ApproveAll(1, "")))
	require.NoError(t, r.Register("idle", "Idle", ApproveAll(1, "")))

	now := time.Now()
	for i := 0; i < 10; i++ {
		r.RecordVote("sharp", true, now)
		r.RecordVote("coin", i%2 == 0, now)
	}
	r.UpdateReputation(now)

	sharp, err := r.Info("sharp")
	require.NoError(t, err)
	require.InDelta(t, MaxReputation, sharp.Reputation, 0.001)
	require.Equal(t, uint64(10), sharp.TotalVotes)

	coin, err := r.Info("coin")
	require.NoError(t, err)
	require.InDelta(t, 100.0, coin.Reputation, 0.001)

	idle, err := r.Info("idle")
	require.NoError(t, err)
	require.InDelta(t, InitialReputation, idle.Reputation, 0.001)
}

func TestReputationDecaysWithInactivity(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register("dormant", "Dormant", ApproveAll(1, "")))

	voted := time.Now().Add(-10 * 24 * time.Hour)
	r.RecordVote("dormant", true, voted)

	r.UpdateReputation(time.Now())
	info, err := r.Info("dormant")
	require.NoError(t, err)
	require.Less(t, info.Reputation, MaxReputation)
	require.Greater(t, info.Reputation, 0.0)

	// Far enough in the future the reputation bottoms out at zero.
	r.UpdateReputation(time.Now().Add(100 * 24 * time.Hour))
	info, err = r.Info("dormant")
	require.NoError(t, err)
	require.Equal(t, 0.0, info.Reputation)
}

func TestScriptedDeciderReplaysThenAbstains(t *testing.T) {
	d := NewScriptedDecider(
		Decision{Action: types.VoteApprove, Confidence: 1},
		Decision{Action: types.VoteReject, Confidence: 1},
	)
	ctx := context.Background()

	first, err := d.Decide(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, types.VoteApprove, first.Action)

	second, err := d.Decide(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, types.VoteReject, second.Action)

	third, err := d.Decide(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, types.VoteAbstain, third.Action)
}
