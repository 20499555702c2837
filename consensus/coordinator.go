package consensus

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"attestchain/core/types"
	"attestchain/observability/metrics"
	"attestchain/validator"
)

// ErrRoundInProgress is returned by ProposeRound while another round is still
// pending. Exactly one round may be pending system-wide.
var ErrRoundInProgress = errors.New("a consensus round is already in progress")

// Config tunes the coordinator.
type Config struct {
	// Quorum is the number of matching approve (or reject) votes that
	// finalizes a round early.
	Quorum int
	// RoundTimeout bounds the whole round; a pending round is forced to
	// TimedOut when it fires.
	RoundTimeout time.Duration
	// DeciderTimeout bounds each individual decision request. A missing
	// response is an abstention.
	DeciderTimeout time.Duration
	// HistoryLimit bounds the archived round ring buffer.
	HistoryLimit int
}

// DefaultConfig returns the coordinator tuning used when a field is unset.
func DefaultConfig() Config {
	return Config{
		Quorum:         4,
		RoundTimeout:   10 * time.Second,
		DeciderTimeout: 3 * time.Second,
		HistoryLimit:   64,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Quorum <= 0 {
		c.Quorum = d.Quorum
	}
	if c.RoundTimeout <= 0 {
		c.RoundTimeout = d.RoundTimeout
	}
	if c.DeciderTimeout <= 0 {
		c.DeciderTimeout = d.DeciderTimeout
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = d.HistoryLimit
	}
	return c
}

// Coordinator runs the round state machine:
// Idle -> Proposed -> {Approved, Rejected, TimedOut} -> Idle.
// It is the single writer for round state; vote arrival is concurrent and
// serialized through its mutex.
type Coordinator struct {
	mu       sync.Mutex
	cfg      Config
	registry *validator.Registry
	active   *Round
	history  []RoundOutcome
	log      *slog.Logger
	metrics  *metrics.ConsensusMetrics
}

// NewCoordinator wires the coordinator to the committee registry it solicits
// votes from.
func NewCoordinator(cfg Config, registry *validator.Registry, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		cfg:      cfg.withDefaults(),
		registry: registry,
		log:      logger.With("component", "consensus"),
		metrics:  metrics.Consensus(),
	}
}

// ProposeRound opens a round for the candidate block and fans decision
// requests out to every active validator. It fails with ErrRoundInProgress
// while another round is pending; the check-and-set is atomic.
func (c *Coordinator) ProposeRound(ctx context.Context, block *types.Block, proposer string) (*Round, error) {
	if block == nil || block.Header == nil {
		return nil, errors.New("cannot propose a nil block")
	}
	hash, err := block.Hash()
	if err != nil {
		return nil, err
	}

	committee := c.registry.ActiveIDs()
	if len(committee) == 0 {
		return nil, errors.New("no active validators to solicit")
	}

	c.mu.Lock()
	if c.active != nil && c.active.status == StatusPending {
		c.mu.Unlock()
		return nil, ErrRoundInProgress
	}

	round := &Round{
		ID:        uuid.NewString(),
		BlockHash: hash,
		Proposer:  proposer,
		StartTime: time.Now(),
		block:     block,
		committee: make(map[string]bool, len(committee)),
		votes:     make(map[string]*types.Vote, len(committee)),
		status:    StatusPending,
		outcome:   make(chan RoundOutcome, 1),
	}
	for _, id := range committee {
		round.committee[id] = true
	}
	roundID := round.ID
	round.timer = time.AfterFunc(c.cfg.RoundTimeout, func() {
		c.expire(roundID)
	})
	c.active = round
	c.mu.Unlock()

	c.log.Info("round proposed", "round", round.ID,
		"block", hex.EncodeToString(hash), "height", block.Header.Height,
		"committee", len(committee), "quorum", c.cfg.Quorum)

	for _, id := range committee {
		go c.solicit(ctx, id, round)
	}
	return round, nil
}

// solicit asks one validator for its verdict and feeds the vote back into the
// tally. The decision call is bounded; failures arrive as abstentions.
func (c *Coordinator) solicit(ctx context.Context, id string, round *Round) {
	dctx, cancel := context.WithTimeout(ctx, c.cfg.DeciderTimeout)
	defer cancel()

	decision := c.registry.Decide(dctx, id, round.block)
	c.RecordVote(&types.Vote{
		BlockHash:  round.BlockHash,
		Validator:  id,
		Choice:     decision.Action,
		Confidence: decision.Confidence,
		Rationale:  decision.Rationale,
		Timestamp:  time.Now().Unix(),
	})
}

// RecordVote feeds one vote into the active round. Votes that are late, for
// the wrong block, from outside the committee, malformed, or duplicated are
// dropped with a log line; the caller never sees an error for them.
func (c *Coordinator) RecordVote(vote *types.Vote) {
	if vote == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	round := c.active
	switch {
	case round == nil || round.status != StatusPending:
		c.dropLocked(vote, "no pending round")
		return
	case !bytes.Equal(vote.BlockHash, round.BlockHash):
		c.dropLocked(vote, "block hash mismatch")
		return
	case !round.committee[vote.Validator]:
		c.dropLocked(vote, "not in committee")
		return
	case !vote.Choice.Valid():
		c.dropLocked(vote, "invalid choice")
		return
	}
	if _, voted := round.votes[vote.Validator]; voted {
		c.dropLocked(vote, "duplicate vote")
		return
	}

	round.votes[vote.Validator] = vote
	c.metrics.ObserveVote(vote.Choice.String())
	c.log.Info("vote recorded", "round", round.ID, "validator", vote.Validator,
		"choice", vote.Choice.String(), "confidence", vote.Confidence)

	c.tallyLocked(round)
}

func (c *Coordinator) dropLocked(vote *types.Vote, reason string) {
	c.metrics.ObserveDroppedVote()
	c.log.Debug("vote dropped", "validator", vote.Validator, "reason", reason)
}

// tallyLocked evaluates the tally rule after every accepted vote: quorum of
// approvals approves, quorum of rejections rejects, and once the whole
// committee has voted without quorum the round resolves by simple plurality
// (ties reject). One validator, one vote; reputation never weights the tally.
func (c *Coordinator) tallyLocked(round *Round) {
	approvals, rejections := 0, 0
	for _, v := range round.votes {
		switch v.Choice {
		case types.VoteApprove:
			approvals++
		case types.VoteReject:
			rejections++
		}
	}

	switch {
	case approvals >= c.cfg.Quorum:
		c.finalizeLocked(round, StatusApproved)
	case rejections >= c.cfg.Quorum:
		c.finalizeLocked(round, StatusRejected)
	case len(round.votes) == len(round.committee):
		if approvals > rejections {
			c.finalizeLocked(round, StatusApproved)
		} else {
			c.finalizeLocked(round, StatusRejected)
		}
	}
}

// expire is the timer callback. The round id guards against a stale timer
// firing after its round already terminated and a new one started.
func (c *Coordinator) expire(roundID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	round := c.active
	if round == nil || round.ID != roundID || round.status != StatusPending {
		return
	}
	c.log.Warn("round timed out", "round", round.ID, "votes", len(round.votes))
	c.finalizeLocked(round, StatusTimedOut)
}

// finalizeLocked moves the round to a terminal state, cancels the timer,
// publishes the outcome, archives it and books per-validator accuracy. A
// second terminal transition on the same round is an internal contract
// violation and panics.
func (c *Coordinator) finalizeLocked(round *Round, status Status) {
	if round.status != StatusPending {
		panic(fmt.Sprintf("consensus: round %s finalized twice (%s then %s)",
			round.ID, round.status, status))
	}
	if !status.Terminal() {
		panic(fmt.Sprintf("consensus: finalize with non-terminal status %s", status))
	}
	round.status = status
	round.timer.Stop()

	outcome := RoundOutcome{
		RoundID:   round.ID,
		BlockHash: round.BlockHash,
		Status:    status,
		Duration:  time.Since(round.StartTime),
	}
	now := time.Now()
	for _, v := range round.votes {
		outcome.Votes = append(outcome.Votes, v)
		correct := false
		switch v.Choice {
		case types.VoteApprove:
			outcome.Approvals++
			correct = status == StatusApproved
		case types.VoteReject:
			outcome.Rejections++
			correct = status == StatusRejected || status == StatusTimedOut
		case types.VoteAbstain:
			outcome.Abstentions++
		}
		c.registry.RecordVote(v.Validator, correct, now)
	}

	c.history = append(c.history, outcome)
	if len(c.history) > c.cfg.HistoryLimit {
		c.history = c.history[len(c.history)-c.cfg.HistoryLimit:]
	}
	c.active = nil

	c.metrics.ObserveRound(status.String(), outcome.Duration.Seconds())
	c.log.Info("round finished", "round", round.ID, "status", status.String(),
		"approvals", outcome.Approvals, "rejections", outcome.Rejections,
		"abstentions", outcome.Abstentions, "duration", outcome.Duration)

	round.outcome <- outcome
}

// ActiveRound returns the pending round's identity, if any.
func (c *Coordinator) ActiveRound() (id string, blockHash []byte, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil || c.active.status != StatusPending {
		return "", nil, false
	}
	return c.active.ID, c.active.BlockHash, true
}

// History returns a copy of the archived outcomes, oldest first.
func (c *Coordinator) History() []RoundOutcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]RoundOutcome, len(c.history))
	copy(out, c.history)
	return out
}

// Stats summarizes the archived rounds.
type Stats struct {
	Rounds        int
	Approved      int
	Rejected      int
	TimedOut      int
	ApprovalRate  float64
	AvgDuration   time.Duration
	Participation map[string]int
}

// Stats aggregates approval rate, mean round duration and per-validator
// participation over the retained history.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := Stats{Participation: make(map[string]int)}
	var total time.Duration
	for _, outcome := range c.history {
		stats.Rounds++
		total += outcome.Duration
		switch outcome.Status {
		case StatusApproved:
			stats.Approved++
		case StatusRejected:
			stats.Rejected++
		case StatusTimedOut:
			stats.TimedOut++
		}
		for _, v := range outcome.Votes {
			stats.Participation[v.Validator]++
		}
	}
	if stats.Rounds > 0 {
		stats.ApprovalRate = float64(stats.Approved) / float64(stats.Rounds)
		stats.AvgDuration = total / time.Duration(stats.Rounds)
	}
	return stats
}
