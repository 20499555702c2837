// Package state implements the account state store: the address to
// (balance, nonce) mapping, atomic transaction application and the Merkle
// commitment over the full account set.
package state

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/holiman/uint256"

	"attestchain/core/merkle"
	"attestchain/core/types"
)

type entry struct {
	balance uint256.Int
	nonce   uint64
}

func (e *entry) copy() *entry {
	cp := &entry{nonce: e.nonce}
	cp.balance.Set(&e.balance)
	return cp
}

// Manager owns every account. Mutation happens only through Apply, Transfer
// and Credit, and is serialized by the commit pipeline; reads are safe while
// a consensus round is in flight.
type Manager struct {
	mu       sync.RWMutex
	accounts map[string]*entry
}

// NewManager returns an empty state store.
func NewManager() *Manager {
	return &Manager{accounts: make(map[string]*entry)}
}

// GetBalance returns the balance for addr, zero for unknown addresses. The
// lookup never creates an account.
func (m *Manager) GetBalance(addr []byte) *big.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if acc, ok := m.accounts[string(addr)]; ok {
		return acc.balance.ToBig()
	}
	return big.NewInt(0)
}

// GetNonce returns the next expected nonce for addr, zero for unknown
// addresses.
func (m *Manager) GetNonce(addr []byte) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if acc, ok := m.accounts[string(addr)]; ok {
		return acc.nonce
	}
	return 0
}

// GetAccount returns a copy of the account stored under addr.
func (m *Manager) GetAccount(addr []byte) *types.Account {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acc := types.NewAccount()
	if stored, ok := m.accounts[string(addr)]; ok {
		acc.Nonce = stored.nonce
		acc.Balance = stored.balance.ToBig()
	}
	return acc
}

// Apply validates and executes a single transaction. Checks run in a fixed
// order: nonce first, then funds. On success the sender is debited
// value + gasLimit*gasPrice, the recipient credited value (no credit for
// contract creation) and the sender nonce incremented by exactly one. On any
// error no account is touched.
func (m *Manager) Apply(tx *types.Transaction) error {
	sender, err := tx.From()
	if err != nil {
		return err
	}
	cost, overflow := uint256.FromBig(tx.Cost())
	if overflow {
		return errors.New("transaction cost exceeds 256 bits")
	}
	value, overflow := uint256.FromBig(tx.Value)
	if overflow {
		return errors.New("transaction value exceeds 256 bits")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	senderAcc, ok := m.accounts[string(sender)]
	if !ok {
		senderAcc = &entry{}
	}
	if senderAcc.nonce != tx.Nonce {
		return &NonceMismatchError{Want: senderAcc.nonce, Got: tx.Nonce}
	}
	if senderAcc.balance.Lt(cost) {
		return fmt.Errorf("%w: balance %s, need %s", ErrInsufficientFunds,
			senderAcc.balance.Dec(), cost.Dec())
	}

	senderAcc.balance.Sub(&senderAcc.balance, cost)
	senderAcc.nonce++
	m.accounts[string(sender)] = senderAcc

	if !tx.IsContractCreation() {
		recipient, ok := m.accounts[string(tx.To)]
		if !ok {
			recipient = &entry{}
			m.accounts[string(tx.To)] = recipient
		}
		recipient.balance.Add(&recipient.balance, value)
	}
	return nil
}

// Transfer moves amount between two accounts without touching nonces. It is
// used for internal settlements that are not transactions.
func (m *Manager) Transfer(from, to []byte, amount *big.Int) error {
	value, overflow := uint256.FromBig(amount)
	if overflow {
		return errors.New("transfer amount exceeds 256 bits")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	sender, ok := m.accounts[string(from)]
	if !ok || sender.balance.Lt(value) {
		return fmt.Errorf("%w: transfer of %s from %x", ErrInsufficientFunds, amount, from)
	}
	sender.balance.Sub(&sender.balance, value)

	recipient, ok := m.accounts[string(to)]
	if !ok {
		recipient = &entry{}
		m.accounts[string(to)] = recipient
	}
	recipient.balance.Add(&recipient.balance, value)
	return nil
}

// Credit mints amount into addr. Only genesis allocation uses it; everything
// after block zero moves value through Apply or Transfer.
func (m *Manager) Credit(addr []byte, amount *big.Int) error {
	value, overflow := uint256.FromBig(amount)
	if overflow {
		return errors.New("credit amount exceeds 256 bits")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[string(addr)]
	if !ok {
		acc = &entry{}
		m.accounts[string(addr)] = acc
	}
	acc.balance.Add(&acc.balance, value)
	return nil
}

// StateRoot computes the Merkle commitment over the full account set.
// Accounts are sorted by address before hashing so the root is independent
// of insertion order.
func (m *Manager) StateRoot() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()

	addrs := make([]string, 0, len(m.accounts))
	for addr := range m.accounts {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)

	leaves := make([][]byte, 0, len(addrs))
	for _, addr := range addrs {
		acc := m.accounts[addr]
		leaf := make([]byte, 0, len(addr)+32+8)
		leaf = append(leaf, addr...)
		balance := acc.balance.Bytes32()
		leaf = append(leaf, balance[:]...)
		leaf = binary.BigEndian.AppendUint64(leaf, acc.nonce)
		leaves = append(leaves, leaf)
	}
	return merkle.Root(leaves)
}

// Len returns the number of accounts with state.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.accounts)
}

// Snapshot captures the full account set for a later Restore. Taken before a
// candidate block is applied speculatively; discarded once the block commits.
type Snapshot struct {
	accounts map[string]*entry
}

// Snapshot returns a deep copy of the current account set.
func (m *Manager) Snapshot() *Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp := make(map[string]*entry, len(m.accounts))
	for addr, acc := range m.accounts {
		cp[addr] = acc.copy()
	}
	return &Snapshot{accounts: cp}
}

// Restore rolls the account set back to the snapshot. Used when a
// speculatively applied block is rejected or times out.
func (m *Manager) Restore(snap *Snapshot) {
	if snap == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts = make(map[string]*entry, len(snap.accounts))
	for addr, acc := range snap.accounts {
		m.accounts[addr] = acc.copy()
	}
}
