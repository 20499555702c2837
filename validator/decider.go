// Package validator tracks the fixed committee: identity, liveness and
// reputation bookkeeping, plus the abstract decision capability each member
// exposes. The decision backend itself (in production a language-model
// client) lives outside this module; the core only consumes the Decider
// contract.
package validator

import (
	"context"
	"sync"

	"attestchain/core/types"
)

// Decision is a validator's verdict on a proposed block.
type Decision struct {
	Action     types.VoteChoice
	Confidence float64 // 0.0 .. 1.0
	Rationale  string
}

// Decider is the external decision capability. Implementations may be slow
// and may fail; callers bound every invocation with a context deadline and
// treat errors as an abstention.
type Decider interface {
	Decide(ctx context.Context, block *types.Block) (Decision, error)
}

// Abstain is the conservative fallback verdict used when a decider is
// unreachable, errors out or returns garbage.
func Abstain(rationale string) Decision {
	return Decision{Action: types.VoteAbstain, Confidence: 0, Rationale: rationale}
}

// StaticDecider always returns the same decision. Used for offline operation
// and as a test double.
type StaticDecider struct {
	Decision Decision
}

func (d *StaticDecider) Decide(ctx context.Context, block *types.Block) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}
	return d.Decision, nil
}

// ApproveAll returns a decider that approves every block with the given
// confidence.
func ApproveAll(confidence float64, rationale string) *StaticDecider {
	return &StaticDecider{Decision: Decision{
		Action:     types.VoteApprove,
		Confidence: confidence,
		Rationale:  rationale,
	}}
}

// ScriptedDecider replays a fixed sequence of decisions, then abstains. Test
// double for multi-round scenarios.
type ScriptedDecider struct {
	mu    sync.Mutex
	queue []Decision
}

func NewScriptedDecider(decisions ...Decision) *ScriptedDecider {
	return &ScriptedDecider{queue: decisions}
}

func (d *ScriptedDecider) Decide(ctx context.Context, block *types.Block) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 {
		return Abstain("script exhausted"), nil
	}
	next := d.queue[0]
	d.queue = d.queue[1:]
	return next, nil
}
