// Package mempool holds unconfirmed transactions under admission control and
// a fee-priority eviction policy.
package mempool

import (
	"bytes"
	"encoding/hex"
	"log/slog"
	"sort"
	"sync"

	"attestchain/core/types"
)

// DefaultMaxSize bounds the pool when no explicit limit is configured.
const DefaultMaxSize = 4096

// evictDivisor selects the share of entries dropped when the pool overflows:
// the lowest-priced tenth.
const evictDivisor = 10

type entry struct {
	tx     *types.Transaction
	hash   []byte
	sender []byte
}

// Pool is a bounded holding area for unconfirmed transactions. Admission is
// independent of consensus and may run concurrently with an in-flight round.
type Pool struct {
	mu      sync.RWMutex
	maxSize int
	entries map[string]*entry
	log     *slog.Logger
}

// New creates a pool bounded to maxSize entries.
func New(maxSize int, logger *slog.Logger) *Pool {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		maxSize: maxSize,
		entries: make(map[string]*entry),
		log:     logger.With("component", "mempool"),
	}
}

// Admit validates and inserts a transaction. Structurally invalid
// transactions and exact duplicates are rejected. When the pool would exceed
// its bound, the lowest-gas-price tenth of entries is evicted; the eviction
// order is deterministic (price ascending, hash as tie-break) for a given
// entry set.
func (p *Pool) Admit(tx *types.Transaction) bool {
	if tx == nil {
		return false
	}
	if err := tx.Validate(); err != nil {
		p.log.Debug("transaction rejected", "reason", err)
		return false
	}
	sender, err := tx.From()
	if err != nil {
		p.log.Debug("transaction rejected", "reason", err)
		return false
	}
	hash, err := tx.Hash()
	if err != nil {
		p.log.Debug("transaction rejected", "reason", err)
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	key := string(hash)
	if _, exists := p.entries[key]; exists {
		return false
	}
	p.entries[key] = &entry{tx: tx, hash: hash, sender: sender}

	if len(p.entries) > p.maxSize {
		p.evictLowestLocked()
	}
	// The new transaction itself may have been the cheapest and gone again.
	_, kept := p.entries[key]
	return kept
}

// evictLowestLocked drops the lowest-priced tenth of current entries.
func (p *Pool) evictLowestLocked() {
	n := len(p.entries) / evictDivisor
	if n < 1 {
		n = 1
	}

	all := make([]*entry, 0, len(p.entries))
	for _, e := range p.entries {
		all = append(all, e)
	}
	sort.Slice(all, func(i, j int) bool {
		if c := all[i].tx.GasPrice.Cmp(all[j].tx.GasPrice); c != 0 {
			return c < 0
		}
		return bytes.Compare(all[i].hash, all[j].hash) < 0
	})

	for _, e := range all[:n] {
		delete(p.entries, string(e.hash))
		p.log.Debug("transaction evicted by fee pressure",
			"hash", hex.EncodeToString(e.hash), "gasPrice", e.tx.GasPrice)
	}
}

// SelectForBlock returns at most limit transactions ordered by descending
// gas price, ties broken by ascending nonce and then hash. The pool is not
// mutated.
func (p *Pool) SelectForBlock(limit int) []*types.Transaction {
	p.mu.RLock()
	defer p.mu.RUnlock()

	all := make([]*entry, 0, len(p.entries))
	for _, e := range p.entries {
		all = append(all, e)
	}
	sort.Slice(all, func(i, j int) bool {
		if c := all[i].tx.GasPrice.Cmp(all[j].tx.GasPrice); c != 0 {
			return c > 0
		}
		if all[i].tx.Nonce != all[j].tx.Nonce {
			return all[i].tx.Nonce < all[j].tx.Nonce
		}
		return bytes.Compare(all[i].hash, all[j].hash) < 0
	})

	if limit <= 0 || limit > len(all) {
		limit = len(all)
	}
	txs := make([]*types.Transaction, 0, limit)
	for _, e := range all[:limit] {
		txs = append(txs, e.tx)
	}
	return txs
}

// Evict removes the given transaction hashes, typically after their block
// committed. Unknown hashes are ignored.
func (p *Pool) Evict(hashes [][]byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, h := range hashes {
		delete(p.entries, string(h))
	}
}

// PendingNonce returns one past the highest nonce among addr's pending
// transactions, and false when the address has nothing pending.
func (p *Pool) PendingNonce(addr []byte) (uint64, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var highest uint64
	found := false
	for _, e := range p.entries {
		if !bytes.Equal(e.sender, addr) {
			continue
		}
		if !found || e.tx.Nonce > highest {
			highest = e.tx.Nonce
		}
		found = true
	}
	if !found {
		return 0, false
	}
	return highest + 1, true
}

// Contains reports whether the transaction hash is pending.
func (p *Pool) Contains(hash []byte) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.entries[string(hash)]
	return ok
}

// Len returns the number of pending transactions.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}
