package types

import "math/big"

// Account is the balance and replay-protection state tracked per address.
// The state manager owns every Account; nothing else mutates one.
type Account struct {
	Nonce   uint64   `json:"nonce"`
	Balance *big.Int `json:"balance"`
}

// NewAccount returns an account with a zero balance and nonce.
func NewAccount() *Account {
	return &Account{Balance: big.NewInt(0)}
}

// Copy returns a deep copy of the account.
func (a *Account) Copy() *Account {
	if a == nil {
		return nil
	}
	balance := big.NewInt(0)
	if a.Balance != nil {
		balance = new(big.Int).Set(a.Balance)
	}
	return &Account{Nonce: a.Nonce, Balance: balance}
}
