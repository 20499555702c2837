package core

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"attestchain/core/types"
	"attestchain/storage"
)

var (
	// ErrInvalidBlock wraps every structural validation failure.
	ErrInvalidBlock = errors.New("invalid block")

	// ErrBlockExists is returned when a hash is appended a second time.
	// Append is never a silent overwrite.
	ErrBlockExists = errors.New("block already appended")

	// ErrBlockNotFound is returned by lookups for unknown blocks.
	ErrBlockNotFound = errors.New("block not found")

	// ErrNotSupported marks operations this single-authority chain refuses
	// by design, such as reorganizations.
	ErrNotSupported = errors.New("not supported on a single-authority chain")
)

var (
	keyTip     = []byte("tip")
	keyHeight  = []byte("height")
	keyGenesis = []byte("genesis")
)

func blockKey(hash []byte) []byte {
	return append([]byte("b:"), hash...)
}

func heightKey(height uint64) []byte {
	key := make([]byte, 2, 10)
	copy(key, "h:")
	return binary.BigEndian.AppendUint64(key, height)
}

// Ledger is the append-only sequence of committed blocks, indexed by hash and
// height and persisted through a storage.Database. It has a single logical
// writer: the commit pipeline.
type Ledger struct {
	mu     sync.RWMutex
	db     storage.Database
	tip    []byte
	height uint64
	log    *slog.Logger
}

// NewLedger opens the chain in db, seeding it with genesis when empty. When
// the database already holds a chain, its genesis hash must match the one
// derived from the hard-coded allocation.
func NewLedger(db storage.Database, genesis *types.Block, logger *slog.Logger) (*Ledger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Ledger{db: db, log: logger.With("component", "ledger")}

	genesisHash, err := genesis.Hash()
	if err != nil {
		return nil, err
	}

	stored, err := db.Get(keyGenesis)
	switch {
	case errors.Is(err, storage.ErrKeyNotFound):
		if err := l.seed(genesis, genesisHash); err != nil {
			return nil, err
		}
		l.log.Info("seeded new chain", "genesis", fmt.Sprintf("%x", genesisHash))
	case err != nil:
		return nil, err
	default:
		if !bytes.Equal(stored, genesisHash) {
			return nil, fmt.Errorf("database belongs to a different chain: genesis %x != %x", stored, genesisHash)
		}
		if err := l.reload(); err != nil {
			return nil, err
		}
		l.log.Info("reloaded chain", "height", l.height)
	}
	return l, nil
}

func (l *Ledger) seed(genesis *types.Block, genesisHash []byte) error {
	blockBytes, err := json.Marshal(genesis)
	if err != nil {
		return err
	}
	if err := l.db.Put(blockKey(genesisHash), blockBytes); err != nil {
		return err
	}
	if err := l.db.Put(heightKey(0), genesisHash); err != nil {
		return err
	}
	if err := l.db.Put(keyGenesis, genesisHash); err != nil {
		return err
	}
	if err := l.db.Put(keyTip, genesisHash); err != nil {
		return err
	}
	if err := l.db.Put(keyHeight, binary.BigEndian.AppendUint64(nil, 0)); err != nil {
		return err
	}
	l.tip = genesisHash
	l.height = 0
	return nil
}

func (l *Ledger) reload() error {
	tip, err := l.db.Get(keyTip)
	if err != nil {
		return fmt.Errorf("load chain tip: %w", err)
	}
	heightBytes, err := l.db.Get(keyHeight)
	if err != nil {
		return fmt.Errorf("load chain height: %w", err)
	}
	if len(heightBytes) != 8 {
		return fmt.Errorf("corrupt height record, %d bytes", len(heightBytes))
	}
	l.tip = tip
	l.height = binary.BigEndian.Uint64(heightBytes)
	return nil
}

// ValidateBlock runs the structural and sequencing checks against the given
// parent, in a fixed order: parent linkage, height, gas accounting, per-
// transaction structure, then the transaction-root commitment (tamper
// evidence for the body against the header).
func (l *Ledger) ValidateBlock(block, parent *types.Block) error {
	if block == nil || block.Header == nil {
		return fmt.Errorf("%w: missing header", ErrInvalidBlock)
	}
	if parent == nil || parent.Header == nil {
		return fmt.Errorf("%w: missing parent", ErrInvalidBlock)
	}

	parentHash, err := parent.Hash()
	if err != nil {
		return err
	}
	if !bytes.Equal(block.Header.PrevHash, parentHash) {
		return fmt.Errorf("%w: prevHash %x does not match parent %x",
			ErrInvalidBlock, block.Header.PrevHash, parentHash)
	}
	if block.Header.Height != parent.Header.Height+1 {
		return fmt.Errorf("%w: height %d does not follow parent height %d",
			ErrInvalidBlock, block.Header.Height, parent.Header.Height)
	}
	if block.Header.GasUsed > block.Header.GasLimit {
		return fmt.Errorf("%w: gasUsed %d exceeds gasLimit %d",
			ErrInvalidBlock, block.Header.GasUsed, block.Header.GasLimit)
	}
	for i, tx := range block.Transactions {
		if err := tx.Validate(); err != nil {
			return fmt.Errorf("%w: transaction %d: %v", ErrInvalidBlock, i, err)
		}
	}
	txRoot, err := ComputeTxRoot(block.Transactions)
	if err != nil {
		return err
	}
	if !bytes.Equal(txRoot, block.Header.TxRoot) {
		return fmt.Errorf("%w: txRoot mismatch, header %x, computed %x",
			ErrInvalidBlock, block.Header.TxRoot, txRoot)
	}
	return nil
}

// Append commits a validated, quorum-approved block at the tip. Appending the
// same hash twice is an error, not an overwrite.
func (l *Ledger) Append(block *types.Block) error {
	hash, err := block.Hash()
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	exists, err := l.db.Has(blockKey(hash))
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %x", ErrBlockExists, hash)
	}
	if !bytes.Equal(block.Header.PrevHash, l.tip) {
		return fmt.Errorf("%w: block does not extend the tip", ErrInvalidBlock)
	}
	if block.Header.Height != l.height+1 {
		return fmt.Errorf("%w: height %d at tip height %d", ErrInvalidBlock, block.Header.Height, l.height)
	}

	blockBytes, err := json.Marshal(block)
	if err != nil {
		return err
	}
	if err := l.db.Put(blockKey(hash), blockBytes); err != nil {
		return err
	}
	if err := l.db.Put(heightKey(block.Header.Height), hash); err != nil {
		return err
	}
	if err := l.db.Put(keyTip, hash); err != nil {
		return err
	}
	if err := l.db.Put(keyHeight, binary.BigEndian.AppendUint64(nil, block.Header.Height)); err != nil {
		return err
	}

	l.tip = hash
	l.height = block.Header.Height
	l.log.Info("block appended", "height", l.height, "hash", fmt.Sprintf("%x", hash),
		"txs", len(block.Transactions))
	return nil
}

// Reorg always refuses: this chain is single-authority and never forks. The
// explicit error exists so a caller cannot mistake "did nothing" for success.
func (l *Ledger) Reorg(newTip []byte) error {
	return fmt.Errorf("reorg to %x: %w", newTip, ErrNotSupported)
}

// BlockByHash returns the committed block with the given header hash.
func (l *Ledger) BlockByHash(hash []byte) (*types.Block, error) {
	blockBytes, err := l.db.Get(blockKey(hash))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: hash %x", ErrBlockNotFound, hash)
	}
	if err != nil {
		return nil, err
	}
	var block types.Block
	if err := json.Unmarshal(blockBytes, &block); err != nil {
		return nil, err
	}
	return &block, nil
}

// BlockByHeight returns the committed block at the given height.
func (l *Ledger) BlockByHeight(height uint64) (*types.Block, error) {
	hash, err := l.db.Get(heightKey(height))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: height %d", ErrBlockNotFound, height)
	}
	if err != nil {
		return nil, err
	}
	return l.BlockByHash(hash)
}

// Latest returns the block at the tip.
func (l *Ledger) Latest() (*types.Block, error) {
	l.mu.RLock()
	tip := l.tip
	l.mu.RUnlock()
	return l.BlockByHash(tip)
}

// Height returns the current chain height.
func (l *Ledger) Height() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.height
}

// Tip returns the hash of the latest committed block.
func (l *Ledger) Tip() []byte {
	l.mu.RLock()
	defer l.mu.RUnlock()
	tip := make([]byte, len(l.tip))
	copy(tip, l.tip)
	return tip
}
