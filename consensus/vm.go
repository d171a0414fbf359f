package consensus

import (
	"github.com/mosaicnetworks/consilium/cell"
	"github.com/mosaicnetworks/consilium/pki"
)

// Result is the per-transaction outcome of executing one transaction
// against a State, either a value or an error.
type Result struct {
	Value cell.Cell
	Err   error
}

// VM is the external, embedder-supplied interface that evaluates a
// transaction's program against a State (spec.md section 6, "VM
// interface"), deliberately out of scope for this core: execution
// semantics, the form language, and account model all live on the other
// side of this boundary. Implementations must be deterministic: the same
// (form, address, state) always yields the same (newState, result).
type VM interface {
	Execute(form cell.Cell, address pki.AccountKey, state *State) (*State, Result)
}

// BlockResult is the outcome of executing every transaction in a Block
// in order against a State (spec.md section 4.3, step 4).
type BlockResult struct {
	Block        *Block
	PostState    *State
	TxResults    []Result
	TxHashes     []cell.Hash
}

// ExecuteBlock runs every transaction in block sequentially against
// preState via vm, producing the post-state and one Result per
// transaction. No signature is checked here: signatures are verified at
// admission (spec.md section 4.5, TRANSACT), so every transaction in the
// block is passed to the VM, with the block's proposer as the address.
func ExecuteBlock(vm VM, block *Block, preState *State, res cell.Resolver) (*BlockResult, error) {
	proposer, err := block.Proposer(res)
	if err != nil {
		return nil, err
	}
	txs, err := block.Transactions(res)
	if err != nil {
		return nil, err
	}
	state := preState
	results := make([]Result, 0, txs.Length())
	hashes := make([]cell.Hash, 0, txs.Length())
	for i := int64(0); i < txs.Length(); i++ {
		signed, err := block.TransactionAt(i, res)
		if err != nil {
			return nil, err
		}
		payload, err := signed.Value().Value(res)
		if err != nil {
			return nil, err
		}
		var result Result
		state, result = vm.Execute(payload, proposer, state)
		results = append(results, result)
		hashes = append(hashes, signed.Value().Hash())
	}
	return &BlockResult{Block: block, PostState: state, TxResults: results, TxHashes: hashes}, nil
}
