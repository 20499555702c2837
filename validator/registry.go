package validator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"attestchain/core/types"
)

// Reputation bounds and tuning. Reputation is informational: it never weights
// a vote. One validator, one vote.
const (
	InitialReputation = 100.0
	MaxReputation     = 200.0

	// reputationDecayPerDay is the fraction of reputation lost per full day
	// without a recorded vote.
	reputationDecayPerDay = 0.02
)

var (
	ErrAlreadyRegistered = errors.New("validator already registered")
	ErrUnknownValidator  = errors.New("unknown validator")
)

// Info is the externally visible bookkeeping for one committee member.
type Info struct {
	ID           string
	DisplayName  string
	Active       bool
	Reputation   float64 // percent, 0..200
	TotalVotes   uint64
	CorrectVotes uint64
	LastActive   time.Time
}

type member struct {
	info    Info
	decider Decider
}

// Registry holds the fixed committee. It is an explicit, constructed value
// passed by reference to the coordinator; there is no ambient global
// registry.
type Registry struct {
	mu      sync.RWMutex
	members map[string]*member
	log     *slog.Logger
}

// NewRegistry returns an empty committee registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		members: make(map[string]*member),
		log:     logger.With("component", "validators"),
	}
}

// Register adds a committee member with its decision backend. Members start
// active with a neutral reputation.
func (r *Registry) Register(id, displayName string, decider Decider) error {
	if id == "" {
		return errors.New("validator id must not be empty")
	}
	if decider == nil {
		return errors.New("validator requires a decider")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.members[id]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, id)
	}
	r.members[id] = &member{
		info: Info{
			ID:          id,
			DisplayName: displayName,
			Active:      true,
			Reputation:  InitialReputation,
			LastActive:  time.Now(),
		},
		decider: decider,
	}
	r.log.Info("validator registered", "id", id, "name", displayName)
	return nil
}

// Deactivate removes a member from the active committee without losing its
// history.
func (r *Registry) Deactivate(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownValidator, id)
	}
	m.info.Active = false
	r.log.Info("validator deactivated", "id", id)
	return nil
}

// Activate restores a deactivated member to the committee.
func (r *Registry) Activate(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownValidator, id)
	}
	m.info.Active = true
	return nil
}

// ActiveIDs returns the ids of all active members, sorted for deterministic
// fan-out order.
func (r *Registry) ActiveIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.members))
	for id, m := range r.members {
		if m.info.Active {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// ActiveCount returns the size of the active committee.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, m := range r.members {
		if m.info.Active {
			count++
		}
	}
	return count
}

// Decide invokes the member's decision backend under the caller's context.
// Any failure mode — unknown member, backend error, cancelled context,
// out-of-range verdict — degrades to an abstention; the consensus tally
// never sees an error from here.
func (r *Registry) Decide(ctx context.Context, id string, block *types.Block) Decision {
	r.mu.RLock()
	m, ok := r.members[id]
	r.mu.RUnlock()
	if !ok {
		return Abstain("unknown validator")
	}

	decision, err := m.decider.Decide(ctx, block)
	if err != nil {
		r.log.Warn("decider failed, treating as abstain", "id", id, "err", err)
		return Abstain(fmt.Sprintf("decider unavailable: %v", err))
	}
	if !decision.Action.Valid() {
		r.log.Warn("decider returned invalid action, treating as abstain", "id", id)
		return Abstain("invalid decision action")
	}
	if decision.Confidence < 0 {
		decision.Confidence = 0
	}
	if decision.Confidence > 1 {
		decision.Confidence = 1
	}
	return decision
}

// RecordVote books one finished vote for the member: whether it sided with
// the round's final outcome, and when.
func (r *Registry) RecordVote(id string, correct bool, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[id]
	if !ok {
		return
	}
	m.info.TotalVotes++
	if correct {
		m.info.CorrectVotes++
	}
	m.info.LastActive = at
}

// UpdateReputation recomputes every member's reputation from its
// vote-accuracy history and applies inactivity decay: accuracy maps linearly
// onto 0..200%, then shrinks by a fixed fraction per full day since the last
// recorded vote. Members with no history keep the neutral baseline (before
// decay).
func (r *Registry) UpdateReputation(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.members {
		rep := InitialReputation
		if m.info.TotalVotes > 0 {
			accuracy := float64(m.info.CorrectVotes) / float64(m.info.TotalVotes)
			rep = accuracy * MaxReputation
		}

		idleDays := now.Sub(m.info.LastActive).Hours() / 24
		if idleDays > 1 {
			factor := 1 - reputationDecayPerDay*idleDays
			if factor < 0 {
				factor = 0
			}
			rep *= factor
		}

		if rep > MaxReputation {
			rep = MaxReputation
		}
		if rep < 0 {
			rep = 0
		}
		m.info.Reputation = rep
	}
}

// Info returns a copy of one member's bookkeeping.
func (r *Registry) Info(id string) (Info, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.members[id]
	if !ok {
		return Info{}, fmt.Errorf("%w: %s", ErrUnknownValidator, id)
	}
	return m.info, nil
}

// Infos returns a copy of the full committee bookkeeping, sorted by id.
func (r *Registry) Infos() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]Info, 0, len(r.members))
	for _, m := range r.members {
		infos = append(infos, m.info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}
