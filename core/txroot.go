package core

import (
	"attestchain/core/merkle"
	"attestchain/core/types"
)

// ComputeTxRoot builds the Merkle commitment over the ordered transaction
// list. Leaves are the transaction hashes, so the root pins both content and
// order.
func ComputeTxRoot(txs []*types.Transaction) ([]byte, error) {
	leaves := make([][]byte, 0, len(txs))
	for _, tx := range txs {
		hash, err := tx.Hash()
		if err != nil {
			return nil, err
		}
		leaves = append(leaves, hash)
	}
	return merkle.Root(leaves), nil
}
