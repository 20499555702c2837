package core

import (
	"encoding/hex"
	"fmt"
	"math/big"

	"attestchain/core/merkle"
	"attestchain/core/state"
	"attestchain/core/types"
	"attestchain/crypto"
)

// Genesis parameters. These are fixed constants: every node must derive a
// byte-identical genesis block or refuse to start against an existing chain.
const (
	GenesisTimestamp = int64(1735689600) // 2025-01-01T00:00:00Z
	GenesisGasLimit  = uint64(10_000_000)
)

// GenesisAccount is one pre-funded entry in the hard-coded allocation.
type GenesisAccount struct {
	Address string // hex, 20 bytes
	Balance *big.Int
}

// devFaucetKeyHex is the published private key behind the faucet allocation.
// It exists so local networks and tests can move funds; any deployment with
// real value must start from a different allocation.
const devFaucetKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

// DevFaucetKey returns the well-known faucet key for local networks.
func DevFaucetKey() *crypto.PrivateKey {
	raw, err := hex.DecodeString(devFaucetKeyHex)
	if err != nil {
		panic(err)
	}
	key, err := crypto.PrivateKeyFromBytes(raw)
	if err != nil {
		panic(err)
	}
	return key
}

// GenesisAlloc returns the fixed pre-funded account set. Order is fixed for
// readability only; the state root is insertion-order independent.
func GenesisAlloc() []GenesisAccount {
	faucet := DevFaucetKey().PubKey().Address()
	return []GenesisAccount{
		{Address: "1000000000000000000000000000000000000001", Balance: mustBig("1000000000000000000000000")},
		{Address: "2000000000000000000000000000000000000002", Balance: mustBig("500000000000000000000000")},
		{Address: "3000000000000000000000000000000000000003", Balance: mustBig("250000000000000000000000")},
		{Address: hex.EncodeToString(faucet.Bytes()), Balance: mustBig("1000000000000000000000000")},
	}
}

func mustBig(dec string) *big.Int {
	v, ok := new(big.Int).SetString(dec, 10)
	if !ok {
		panic("malformed genesis balance: " + dec)
	}
	return v
}

// SeedGenesisState credits the hard-coded allocation into an empty state
// manager. It must only ever run against a fresh manager.
func SeedGenesisState(st *state.Manager) error {
	if st.Len() != 0 {
		return fmt.Errorf("genesis allocation requires an empty state, have %d accounts", st.Len())
	}
	for _, alloc := range GenesisAlloc() {
		addr, err := hex.DecodeString(alloc.Address)
		if err != nil {
			return fmt.Errorf("malformed genesis address %q: %w", alloc.Address, err)
		}
		if err := st.Credit(addr, alloc.Balance); err != nil {
			return err
		}
	}
	return nil
}

// GenesisBlock builds the height-zero block over the seeded state. The block
// carries no transactions and no votes.
func GenesisBlock(st *state.Manager) *types.Block {
	header := &types.BlockHeader{
		Height:    0,
		Timestamp: GenesisTimestamp,
		PrevHash:  []byte{},
		StateRoot: st.StateRoot(),
		TxRoot:    merkle.EmptyRoot(),
		Proposer:  []byte{},
		GasLimit:  GenesisGasLimit,
		GasUsed:   0,
	}
	return types.NewBlock(header, []*types.Transaction{})
}
