// Package consensus runs the voting layer: one round at a time, a fan-out of
// decision requests to the committee, a tally under a timeout, and a typed
// outcome the driver consumes over a channel.
package consensus

import (
	"time"

	"attestchain/core/types"
)

// Status is the lifecycle state of a consensus round.
type Status uint8

const (
	StatusPending Status = iota
	StatusApproved
	StatusRejected
	StatusTimedOut
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusApproved:
		return "approved"
	case StatusRejected:
		return "rejected"
	case StatusTimedOut:
		return "timedOut"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status is one of the three end states.
func (s Status) Terminal() bool {
	return s != StatusPending
}

// RoundOutcome is the typed result published when a round reaches a terminal
// state. TimedOut is treated identically to Rejected by the driver: the block
// is discarded and the pool keeps its transactions.
type RoundOutcome struct {
	RoundID     string
	BlockHash   []byte
	Status      Status
	Approvals   int
	Rejections  int
	Abstentions int
	Votes       []*types.Vote
	Duration    time.Duration
}

// Approved reports whether the block may be committed.
func (o RoundOutcome) Approved() bool {
	return o.Status == StatusApproved
}

// Round is one voting round over a single candidate block. The immutable
// identity fields are public; all tallying state belongs to the coordinator.
type Round struct {
	ID        string
	BlockHash []byte
	Proposer  string
	StartTime time.Time

	// Owned by the coordinator; guarded by its mutex.
	block     *types.Block
	committee map[string]bool
	votes     map[string]*types.Vote
	status    Status
	timer     *time.Timer
	outcome   chan RoundOutcome
}

// Outcome returns the channel the round's terminal result is delivered on.
// Exactly one value is ever sent.
func (r *Round) Outcome() <-chan RoundOutcome {
	return r.outcome
}
