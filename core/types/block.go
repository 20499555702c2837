package types

import (
	"crypto/sha256"
	"encoding/json"
)

// BlockHeader carries the metadata and commitments for one block.
type BlockHeader struct {
	Height    uint64 `json:"height"`
	Timestamp int64  `json:"timestamp"`
	PrevHash  []byte `json:"prevHash"`
	StateRoot []byte `json:"stateRoot"`
	TxRoot    []byte `json:"txRoot"`
	Proposer  []byte `json:"proposer"`
	GasLimit  uint64 `json:"gasLimit"`
	GasUsed   uint64 `json:"gasUsed"`
}

// Block is a header plus its ordered transactions and, once a consensus round
// has finished, the votes that decided it.
type Block struct {
	Header       *BlockHeader   `json:"header"`
	Transactions []*Transaction `json:"transactions"`
	Votes        []*Vote        `json:"votes,omitempty"`
}

// NewBlock assembles a block from a header and an ordered transaction list.
func NewBlock(header *BlockHeader, txs []*Transaction) *Block {
	return &Block{Header: header, Transactions: txs}
}

// Hash returns the SHA-256 digest of the canonical JSON encoding of the
// header. It is the block's identity and must be recomputed, never trusted,
// during structural validation.
func (h *BlockHeader) Hash() ([]byte, error) {
	b, err := json.Marshal(h)
	if err != nil {
		return nil, err
	}
	hash := sha256.Sum256(b)
	return hash[:], nil
}

// Hash returns the block's identifying digest, i.e. its header hash.
func (b *Block) Hash() ([]byte, error) {
	return b.Header.Hash()
}
