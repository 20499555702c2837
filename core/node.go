package core

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"attestchain/consensus"
	"attestchain/core/state"
	"attestchain/core/types"
	"attestchain/crypto"
	"attestchain/mempool"
	"attestchain/observability/metrics"
	"attestchain/storage"
)

// ErrTxRejected wraps every submission-time rejection reason.
var ErrTxRejected = errors.New("transaction rejected")

// NodeConfig tunes block production.
type NodeConfig struct {
	// BlockInterval is the production cadence.
	BlockInterval time.Duration
	// MaxBlockTxs caps how many transactions one candidate drains from the
	// pool.
	MaxBlockTxs int
	// BlockGasLimit caps the gas budget of one block.
	BlockGasLimit uint64
}

// DefaultNodeConfig returns the production tuning used when a field is unset.
func DefaultNodeConfig() NodeConfig {
	return NodeConfig{
		BlockInterval: 5 * time.Second,
		MaxBlockTxs:   200,
		BlockGasLimit: GenesisGasLimit,
	}
}

func (c NodeConfig) withDefaults() NodeConfig {
	d := DefaultNodeConfig()
	if c.BlockInterval <= 0 {
		c.BlockInterval = d.BlockInterval
	}
	if c.MaxBlockTxs <= 0 {
		c.MaxBlockTxs = d.MaxBlockTxs
	}
	if c.BlockGasLimit == 0 {
		c.BlockGasLimit = d.BlockGasLimit
	}
	return c
}

// Node wires the state store, ledger, pool and coordinator into the single
// commit pipeline, drives block production on a fixed cadence and exposes the
// submission interface consumed by external API layers.
type Node struct {
	cfg     NodeConfig
	log     *slog.Logger
	key     *crypto.PrivateKey
	state   *state.Manager
	ledger  *Ledger
	pool    *mempool.Pool
	coord   *consensus.Coordinator
	metrics *metrics.ConsensusMetrics

	// commitMu serializes the snapshot -> speculative apply -> vote ->
	// commit-or-rollback pipeline. Reads and pool admission stay
	// concurrent.
	commitMu sync.Mutex
}

// NewNode opens (or seeds) the chain in db and rebuilds the account state.
// For a fresh database the genesis allocation is credited; for an existing
// one every committed block is replayed on top of it.
func NewNode(cfg NodeConfig, db storage.Database, key *crypto.PrivateKey,
	pool *mempool.Pool, coord *consensus.Coordinator, logger *slog.Logger) (*Node, error) {
	if key == nil {
		return nil, errors.New("node requires a proposer key")
	}
	if logger == nil {
		logger = slog.Default()
	}

	st := state.NewManager()
	if err := SeedGenesisState(st); err != nil {
		return nil, err
	}
	ledger, err := NewLedger(db, GenesisBlock(st), logger)
	if err != nil {
		return nil, err
	}
	if err := replayChain(ledger, st); err != nil {
		return nil, err
	}

	return &Node{
		cfg:     cfg.withDefaults(),
		log:     logger.With("component", "node"),
		key:     key,
		state:   st,
		ledger:  ledger,
		pool:    pool,
		coord:   coord,
		metrics: metrics.Consensus(),
	}, nil
}

// replayChain re-applies every committed block to rebuild the account state
// after a restart. A failure here means the database is corrupt.
func replayChain(ledger *Ledger, st *state.Manager) error {
	for height := uint64(1); height <= ledger.Height(); height++ {
		block, err := ledger.BlockByHeight(height)
		if err != nil {
			return err
		}
		for i, tx := range block.Transactions {
			if err := st.Apply(tx); err != nil {
				return fmt.Errorf("replay block %d tx %d: %w", height, i, err)
			}
		}
	}
	return nil
}

// --- Submission interface ---

// SubmitTransaction validates and admits a transaction into the pool.
func (n *Node) SubmitTransaction(tx *types.Transaction) error {
	if tx == nil {
		return fmt.Errorf("%w: nil transaction", ErrTxRejected)
	}
	if err := tx.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrTxRejected, err)
	}
	if !n.pool.Admit(tx) {
		return fmt.Errorf("%w: not admitted by pool", ErrTxRejected)
	}
	n.metrics.SetPendingTxs(n.pool.Len())
	return nil
}

// GetBalance returns the committed balance for addr.
func (n *Node) GetBalance(addr []byte) *types.Account {
	return n.state.GetAccount(addr)
}

// GetNonce returns the next expected nonce for addr, preferring the pool's
// pending view so submitters avoid nonce collisions.
func (n *Node) GetNonce(addr []byte) uint64 {
	if pending, ok := n.pool.PendingNonce(addr); ok {
		return pending
	}
	return n.state.GetNonce(addr)
}

// GetBlockByHeight returns a committed block by height.
func (n *Node) GetBlockByHeight(height uint64) (*types.Block, error) {
	return n.ledger.BlockByHeight(height)
}

// GetBlockByHash returns a committed block by header hash.
func (n *Node) GetBlockByHash(hash []byte) (*types.Block, error) {
	return n.ledger.BlockByHash(hash)
}

// ChainHeight returns the current committed height.
func (n *Node) ChainHeight() uint64 {
	return n.ledger.Height()
}

// PendingCount returns the number of pool transactions.
func (n *Node) PendingCount() int {
	return n.pool.Len()
}

// Ledger exposes read access to the chain.
func (n *Node) Ledger() *Ledger {
	return n.ledger
}

// --- Block production ---

// Run produces blocks on the configured cadence until ctx is cancelled.
func (n *Node) Run(ctx context.Context) error {
	ticker := time.NewTicker(n.cfg.BlockInterval)
	defer ticker.Stop()
	n.log.Info("block producer started", "interval", n.cfg.BlockInterval)

	for {
		select {
		case <-ctx.Done():
			n.log.Info("block producer stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := n.ProduceBlock(ctx); err != nil {
				n.log.Error("block production failed", "err", err)
			}
		}
	}
}

// ProduceBlock runs one production cycle: drain the pool, apply the
// candidate speculatively against a snapshot, put it to a vote, then commit
// on approval or roll back on rejection/timeout. Returns nil without error
// when there is nothing to propose.
func (n *Node) ProduceBlock(ctx context.Context) (*consensus.RoundOutcome, error) {
	n.commitMu.Lock()
	defer n.commitMu.Unlock()

	selected := n.pool.SelectForBlock(n.cfg.MaxBlockTxs)
	if len(selected) == 0 {
		return nil, nil
	}

	// Snapshot before any speculative mutation. Everything after this point
	// either commits or restores.
	snapshot := n.state.Snapshot()

	included := make([]*types.Transaction, 0, len(selected))
	var stale [][]byte
	var gasUsed uint64
	for _, tx := range selected {
		// gasUsed never exceeds the budget, so the subtraction cannot
		// underflow; the additive form would wrap on huge gas limits.
		if tx.GasLimit > n.cfg.BlockGasLimit-gasUsed {
			continue
		}
		if err := n.state.Apply(tx); err != nil {
			var mismatch *state.NonceMismatchError
			if errors.As(err, &mismatch) && mismatch.Stale() {
				// Consumed nonce: the transaction can never apply again.
				if hash, hashErr := tx.Hash(); hashErr == nil {
					stale = append(stale, hash)
				}
			}
			n.log.Debug("transaction skipped in candidate", "err", err)
			continue
		}
		included = append(included, tx)
		gasUsed += tx.GasLimit
	}
	if len(stale) > 0 {
		n.pool.Evict(stale)
	}
	if len(included) == 0 {
		n.state.Restore(snapshot)
		return nil, nil
	}

	txRoot, err := ComputeTxRoot(included)
	if err != nil {
		n.state.Restore(snapshot)
		return nil, err
	}
	proposer := n.key.PubKey().Address()
	block := types.NewBlock(&types.BlockHeader{
		Height:    n.ledger.Height() + 1,
		Timestamp: time.Now().Unix(),
		PrevHash:  n.ledger.Tip(),
		StateRoot: n.state.StateRoot(),
		TxRoot:    txRoot,
		Proposer:  proposer.Bytes(),
		GasLimit:  n.cfg.BlockGasLimit,
		GasUsed:   gasUsed,
	}, included)

	round, err := n.coord.ProposeRound(ctx, block, proposer.String())
	if err != nil {
		n.state.Restore(snapshot)
		return nil, err
	}

	// The round is bounded by the coordinator's timeout, so this receive
	// cannot block indefinitely.
	outcome := <-round.Outcome()

	if !outcome.Approved() {
		// Rejected or timed out: discard the block, keep the pool intact.
		n.state.Restore(snapshot)
		n.log.Info("candidate discarded", "status", outcome.Status.String(),
			"height", block.Header.Height)
		return &outcome, nil
	}

	block.Votes = outcome.Votes
	parent, err := n.ledger.Latest()
	if err != nil {
		n.state.Restore(snapshot)
		return nil, err
	}
	if err := n.ledger.ValidateBlock(block, parent); err != nil {
		n.state.Restore(snapshot)
		return nil, err
	}
	if err := n.ledger.Append(block); err != nil {
		n.state.Restore(snapshot)
		return nil, err
	}

	hashes := make([][]byte, 0, len(included))
	for _, tx := range included {
		if hash, err := tx.Hash(); err == nil {
			hashes = append(hashes, hash)
		}
	}
	n.pool.Evict(hashes)
	n.metrics.ObserveCommit()
	n.metrics.SetPendingTxs(n.pool.Len())

	hash, _ := block.Hash()
	n.log.Info("block committed", "height", block.Header.Height,
		"hash", hex.EncodeToString(hash), "txs", len(included), "gasUsed", gasUsed)
	return &outcome, nil
}
