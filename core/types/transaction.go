package types

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
)

// AddressLength is the size in bytes of a ledger address.
const AddressLength = 20

var (
	// ErrMissingSignature is returned when sender recovery is attempted on an
	// unsigned transaction.
	ErrMissingSignature = errors.New("transaction is not signed")
)

// Transaction is a signed transfer of value between two accounts. A nil To
// marks a contract-creation transaction; the core carries it but executes no
// code, so the value is simply burned from the sender's perspective.
type Transaction struct {
	Nonce    uint64   `json:"nonce"`
	To       []byte   `json:"to,omitempty"`
	Value    *big.Int `json:"value"`
	Data     []byte   `json:"data,omitempty"`
	GasLimit uint64   `json:"gasLimit"`
	GasPrice *big.Int `json:"gasPrice"`

	// secp256k1 signature over the transaction hash.
	R *big.Int `json:"r"`
	S *big.Int `json:"s"`
	V *big.Int `json:"v"`

	from []byte
}

// Hash returns the SHA-256 digest identifying the transaction. The signature
// fields are excluded so the identity is stable across signing.
func (tx *Transaction) Hash() ([]byte, error) {
	txData := struct {
		Nonce    uint64   `json:"nonce"`
		To       []byte   `json:"to,omitempty"`
		Value    *big.Int `json:"value"`
		Data     []byte   `json:"data,omitempty"`
		GasLimit uint64   `json:"gasLimit"`
		GasPrice *big.Int `json:"gasPrice"`
	}{tx.Nonce, tx.To, tx.Value, tx.Data, tx.GasLimit, tx.GasPrice}

	b, err := json.Marshal(txData)
	if err != nil {
		return nil, err
	}
	hash := sha256.Sum256(b)
	return hash[:], nil
}

// Sign signs the transaction hash with the provided key and stores the
// signature in R, S, V.
func (tx *Transaction) Sign(privKey *ecdsa.PrivateKey) error {
	hash, err := tx.Hash()
	if err != nil {
		return err
	}
	sig, err := crypto.Sign(hash, privKey)
	if err != nil {
		return err
	}
	tx.R = new(big.Int).SetBytes(sig[:32])
	tx.S = new(big.Int).SetBytes(sig[32:64])
	tx.V = new(big.Int).SetBytes([]byte{sig[64] + 27})
	tx.from = nil
	return nil
}

// From recovers the sender address from the signature. The result is cached;
// a transaction is immutable once signed.
func (tx *Transaction) From() ([]byte, error) {
	if tx.from != nil {
		return tx.from, nil
	}
	if tx.R == nil || tx.S == nil || tx.V == nil {
		return nil, ErrMissingSignature
	}
	hash, err := tx.Hash()
	if err != nil {
		return nil, err
	}
	sig := make([]byte, 65)
	rBytes := tx.R.Bytes()
	sBytes := tx.S.Bytes()
	copy(sig[32-len(rBytes):32], rBytes)
	copy(sig[64-len(sBytes):64], sBytes)
	sig[64] = byte(tx.V.Uint64() - 27)
	pubKey, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return nil, fmt.Errorf("recover sender: %w", err)
	}
	tx.from = crypto.PubkeyToAddress(*pubKey).Bytes()
	return tx.from, nil
}

// Validate performs the structural checks every transaction must pass before
// it is considered for the pool or a block. State-dependent checks (nonce,
// balance) belong to the state manager.
func (tx *Transaction) Validate() error {
	if tx.GasLimit == 0 {
		return errors.New("gas limit must be positive")
	}
	if tx.GasPrice == nil || tx.GasPrice.Sign() < 0 {
		return errors.New("gas price must be non-negative")
	}
	if tx.Value == nil || tx.Value.Sign() < 0 {
		return errors.New("value must be non-negative")
	}
	if tx.To != nil && len(tx.To) != AddressLength {
		return fmt.Errorf("recipient must be %d bytes, got %d", AddressLength, len(tx.To))
	}
	if tx.R == nil || tx.S == nil || tx.V == nil {
		return ErrMissingSignature
	}
	return nil
}

// Cost returns value + gasLimit*gasPrice, the total the sender must be able
// to cover for the transaction to apply.
func (tx *Transaction) Cost() *big.Int {
	gas := new(big.Int).Mul(tx.GasPrice, new(big.Int).SetUint64(tx.GasLimit))
	return gas.Add(gas, tx.Value)
}

// IsContractCreation reports whether the transaction has no recipient.
func (tx *Transaction) IsContractCreation() bool {
	return tx.To == nil
}
