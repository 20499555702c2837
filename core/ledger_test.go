package core

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"attestchain/core/merkle"
	"attestchain/core/state"
	"attestchain/core/types"
	"attestchain/storage"
)

func newTestLedger(t *testing.T, db storage.Database) *Ledger {
	t.Helper()
	st := state.NewManager()
	if err := SeedGenesisState(st); err != nil {
		t.Fatalf("seed genesis state: %v", err)
	}
	ledger, err := NewLedger(db, GenesisBlock(st), nil)
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	return ledger
}

// emptyChild builds a structurally valid, transaction-free block on top of
// parent.
func emptyChild(t *testing.T, parent *types.Block) *types.Block {
	t.Helper()
	parentHash, err := parent.Hash()
	if err != nil {
		t.Fatalf("parent hash: %v", err)
	}
	header := &types.BlockHeader{
		Height:    parent.Header.Height + 1,
		Timestamp: time.Now().Unix(),
		PrevHash:  parentHash,
		StateRoot: parent.Header.StateRoot,
		TxRoot:    merkle.EmptyRoot(),
		Proposer:  bytes.Repeat([]byte{0x01}, 20),
		GasLimit:  GenesisGasLimit,
	}
	return types.NewBlock(header, []*types.Transaction{})
}

func TestGenesisInvariant(t *testing.T) {
	ledger := newTestLedger(t, storage.NewMemDB())

	latest, err := ledger.Latest()
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.Header.Height != 0 {
		t.Fatalf("genesis height = %d, want 0", latest.Header.Height)
	}
	if len(latest.Transactions) != 0 {
		t.Fatalf("genesis carries %d transactions, want 0", len(latest.Transactions))
	}
	if ledger.Height() != 0 {
		t.Fatalf("chain height = %d, want 0", ledger.Height())
	}
}

func TestGenesisIsDeterministic(t *testing.T) {
	first := newTestLedger(t, storage.NewMemDB())
	second := newTestLedger(t, storage.NewMemDB())

	if !bytes.Equal(first.Tip(), second.Tip()) {
		t.Fatalf("independent initializations derived different genesis hashes: %x != %x",
			first.Tip(), second.Tip())
	}
}

func TestValidateBlockRejectsBadHeight(t *testing.T) {
	ledger := newTestLedger(t, storage.NewMemDB())
	parent, err := ledger.Latest()
	if err != nil {
		t.Fatalf("latest: %v", err)
	}

	// Everything valid except the height.
	block := emptyChild(t, parent)
	block.Header.Height = parent.Header.Height + 2
	if err := ledger.ValidateBlock(block, parent); !errors.Is(err, ErrInvalidBlock) {
		t.Fatalf("expected invalid block for bad height, got %v", err)
	}
}

func TestValidateBlockRejectsBadParentHash(t *testing.T) {
	ledger := newTestLedger(t, storage.NewMemDB())
	parent, err := ledger.Latest()
	if err != nil {
		t.Fatalf("latest: %v", err)
	}

	block := emptyChild(t, parent)
	block.Header.PrevHash = bytes.Repeat([]byte{0xff}, 32)
	if err := ledger.ValidateBlock(block, parent); !errors.Is(err, ErrInvalidBlock) {
		t.Fatalf("expected invalid block for bad parent hash, got %v", err)
	}
}

func TestValidateBlockRejectsGasOverrun(t *testing.T) {
	ledger := newTestLedger(t, storage.NewMemDB())
	parent, err := ledger.Latest()
	if err != nil {
		t.Fatalf("latest: %v", err)
	}

	block := emptyChild(t, parent)
	block.Header.GasUsed = block.Header.GasLimit + 1
	if err := ledger.ValidateBlock(block, parent); !errors.Is(err, ErrInvalidBlock) {
		t.Fatalf("expected invalid block for gas overrun, got %v", err)
	}
}

func TestValidateBlockRejectsTxRootTamper(t *testing.T) {
	ledger := newTestLedger(t, storage.NewMemDB())
	parent, err := ledger.Latest()
	if err != nil {
		t.Fatalf("latest: %v", err)
	}

	block := emptyChild(t, parent)
	block.Header.TxRoot = bytes.Repeat([]byte{0xaa}, 32)
	if err := ledger.ValidateBlock(block, parent); !errors.Is(err, ErrInvalidBlock) {
		t.Fatalf("expected invalid block for txRoot mismatch, got %v", err)
	}
}

func TestAppendAndLookups(t *testing.T) {
	ledger := newTestLedger(t, storage.NewMemDB())
	parent, err := ledger.Latest()
	if err != nil {
		t.Fatalf("latest: %v", err)
	}

	block := emptyChild(t, parent)
	if err := ledger.ValidateBlock(block, parent); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if err := ledger.Append(block); err != nil {
		t.Fatalf("append: %v", err)
	}

	if ledger.Height() != 1 {
		t.Fatalf("height = %d, want 1", ledger.Height())
	}
	hash, _ := block.Hash()
	byHash, err := ledger.BlockByHash(hash)
	if err != nil {
		t.Fatalf("by hash: %v", err)
	}
	byHeight, err := ledger.BlockByHeight(1)
	if err != nil {
		t.Fatalf("by height: %v", err)
	}
	if byHash.Header.Height != byHeight.Header.Height {
		t.Fatalf("index mismatch between hash and height lookups")
	}

	if _, err := ledger.BlockByHeight(99); !errors.Is(err, ErrBlockNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAppendRefusesDuplicateHash(t *testing.T) {
	ledger := newTestLedger(t, storage.NewMemDB())
	parent, err := ledger.Latest()
	if err != nil {
		t.Fatalf("latest: %v", err)
	}

	block := emptyChild(t, parent)
	if err := ledger.Append(block); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := ledger.Append(block); !errors.Is(err, ErrBlockExists) {
		t.Fatalf("expected duplicate append error, got %v", err)
	}
}

func TestReorgIsRefused(t *testing.T) {
	ledger := newTestLedger(t, storage.NewMemDB())
	if err := ledger.Reorg(bytes.Repeat([]byte{0x01}, 32)); !errors.Is(err, ErrNotSupported) {
		t.Fatalf("expected ErrNotSupported, got %v", err)
	}
}

func TestLedgerReloadsFromDatabase(t *testing.T) {
	db := storage.NewMemDB()
	ledger := newTestLedger(t, db)
	parent, err := ledger.Latest()
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	block := emptyChild(t, parent)
	if err := ledger.Append(block); err != nil {
		t.Fatalf("append: %v", err)
	}

	reopened := newTestLedger(t, db)
	if reopened.Height() != 1 {
		t.Fatalf("reloaded height = %d, want 1", reopened.Height())
	}
	if !bytes.Equal(reopened.Tip(), ledger.Tip()) {
		t.Fatalf("reloaded tip differs")
	}
}
