package core

import (
	"bytes"
	"encoding/hex"
	"testing"

	"attestchain/core/state"
)

func TestGenesisStateRootIsStable(t *testing.T) {
	first := state.NewManager()
	if err := SeedGenesisState(first); err != nil {
		t.Fatalf("seed: %v", err)
	}
	second := state.NewManager()
	if err := SeedGenesisState(second); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if !bytes.Equal(first.StateRoot(), second.StateRoot()) {
		t.Fatalf("genesis state root is not deterministic")
	}
}

func TestSeedGenesisRequiresEmptyState(t *testing.T) {
	st := state.NewManager()
	if err := SeedGenesisState(st); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := SeedGenesisState(st); err == nil {
		t.Fatalf("second seed must fail")
	}
}

func TestGenesisAllocFundsFaucet(t *testing.T) {
	st := state.NewManager()
	if err := SeedGenesisState(st); err != nil {
		t.Fatalf("seed: %v", err)
	}

	faucet := DevFaucetKey().PubKey().Address().Bytes()
	if st.GetBalance(faucet).Sign() <= 0 {
		t.Fatalf("faucet account is not funded")
	}

	for _, alloc := range GenesisAlloc() {
		addr, err := hex.DecodeString(alloc.Address)
		if err != nil {
			t.Fatalf("alloc address %q: %v", alloc.Address, err)
		}
		if got := st.GetBalance(addr); got.Cmp(alloc.Balance) != 0 {
			t.Fatalf("alloc %s balance = %s, want %s", alloc.Address, got, alloc.Balance)
		}
	}
}
