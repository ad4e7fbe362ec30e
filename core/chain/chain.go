// Copyright 2024 The execore Authors
// This file is part of execore.
//
// execore is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package chain defines the capability interface the block synchroniser,
// the consensus engines, and the transaction pool consume to reach the
// persistent chain database and the (out-of-scope) execution pipeline. No
// concrete implementation lives here: the trie / KV store and the EVM are
// external collaborators.
package chain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/execore-project/execore/consensus"
)

// Reader is the read side of the chain database interface.
// It also satisfies consensus.ChainHeaderReader so the same handle can be
// passed directly into a consensus.Engine.
type Reader interface {
	consensus.ChainHeaderReader

	// BlockBody returns the body (transactions + uncles) for a block hash,
	// or nil if unknown.
	BlockBody(hash common.Hash) *types.Body

	// GetAncestorsHashes returns up to k ancestor hashes of the given
	// block, closest first.
	GetAncestorsHashes(k int, hash common.Hash) []common.Hash
}

// TxPosition locates a committed transaction for reorg bookkeeping.
type TxPosition struct {
	BlockHash   common.Hash
	BlockNumber uint64
	TxHash      common.Hash
}

// Writer is the write side of the chain database interface:
// strictly in-order block persistence plus uncle persistence, each wrapped
// by transactional begin/commit/rollback semantics.
type Writer interface {
	// PersistBlocks commits a contiguous run of headers+bodies. It must be
	// idempotent when reapplied to an already-committed range (testable
	// property #5).
	PersistBlocks(headers []*types.Header, bodies []*types.Body) error

	// PersistUncles commits an uncle list not itself part of the canonical
	// chain and returns its aggregate hash.
	PersistUncles(uncles []*types.Header) (common.Hash, error)

	// Begin opens a transactional scope around a unit of work (typically
	// one block's execution). ApplyDeletes controls whether self-destructed
	// accounts are actually removed from the backing store or only marked.
	Begin(applyDeletes bool) (Tx, error)
}

// Tx is a scoped transaction over the persistent state DB; a block
// execution opens one, runs, and either commits or rolls back on any
// validation failure.
type Tx interface {
	Commit() error
	Rollback() error
}

// ExecutionResult is what a block execution (out of CORE scope: the EVM
// itself) reports back to the caller for header verification and reward
// accounting.
type ExecutionResult struct {
	Receipts    []*types.Receipt
	GasUsed     uint64
	StateRoot   common.Hash
	ReceiptRoot common.Hash
	Bloom       types.Bloom
}

// ExecutionBackend is the external collaborator that actually runs
// transactions against the EVM atop a forked state DB. Both the block-
// persistence pipeline and the pool's packer consume it.
type ExecutionBackend interface {
	// Prepare opens a savepoint atop parent's post-state, ready to execute
	// transactions against header.
	Prepare(parent *types.Header, header *types.Header) (StateHandle, error)
}

// StateHandle is a single forked-state execution scope: each transaction
// gets its own nested savepoint so the packer can roll one back without
// discarding the whole block.
type StateHandle interface {
	// ExecuteTx applies one transaction, returning its receipt, gas used,
	// and the effective tip paid to the coinbase.
	ExecuteTx(tx *types.Transaction, sender common.Address) (*types.Receipt, uint64, *big.Int, error)

	// Savepoint/RevertToSavepoint bound a single transaction's execution so
	// it can be undone without discarding prior transactions in the block.
	Savepoint() int
	RevertToSavepoint(id int)

	// ApplyReward credits a block/uncle reward computed by a
	// consensus.Rewarder to an account's balance. It runs outside any
	// transaction savepoint: a reward, once computed from a header that has
	// already passed consensus verification, is never rolled back.
	ApplyReward(addr common.Address, amount *big.Int)

	// Finalize computes the post-state root, applying self-destruct/
	// EIP-158 empty-account cleanup, and returns it with the accumulated
	// receipts.
	Finalize() (ExecutionResult, error)
}

// HeadEvent is published on head movement.
type HeadEvent struct {
	OldHead *types.Header
	NewHead *types.Header
}
