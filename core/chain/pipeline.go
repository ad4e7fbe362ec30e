// Copyright 2024 The execore Authors
// This file is part of execore.
//
// execore is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package chain

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/core/types"
)

// Errors the pipeline reports after a consensus-verified header fails to
// reproduce the result its fields claim. Per spec.md §7 these are "internal
// invariant violation" class failures when they follow a header that already
// passed consensus.Engine.VerifyHeader -- a state-root mismatch here signals
// VM/chain desynchronisation, not a malicious peer, so the caller (not this
// package) decides whether that is fatal.
var (
	ErrGasUsedMismatch     = errors.New("execution gas used does not match header")
	ErrStateRootMismatch   = errors.New("execution state root does not match header")
	ErrReceiptRootMismatch = errors.New("execution receipt root does not match header")
	ErrBloomMismatch       = errors.New("execution bloom does not match header")
)

// Pipeline is the block-execution glue spec.md §2's data-flow paragraph
// describes: "Persistence invokes the execution pipeline, which applies
// transactions via the VM, computes receipts, computes reward, verifies
// header fields against the result, and commits the state." It owns no
// consensus logic and no storage engine of its own; it only sequences calls
// across the ExecutionBackend, Rewarder, and Writer collaborators that are
// the real EVM/trie/KV-store external to this module (spec.md §1).
type Pipeline struct {
	backend  ExecutionBackend
	rewarder Rewarder
	writer   Writer
}

// NewPipeline wires an execution backend, a reward calculator, and the
// persistent-chain writer into one orchestrator. Callers typically construct
// one Rewarder per consensus engine (consensus/ethash.Rewarder for PoW
// chains, a no-op for clique) and pass it in here rather than letting the
// pipeline guess which consensus mode is active.
func NewPipeline(backend ExecutionBackend, rewarder Rewarder, writer Writer) *Pipeline {
	return &Pipeline{backend: backend, rewarder: rewarder, writer: writer}
}

// Process executes block against parent's post-state, verifies the result
// against the fields the header itself claims, and -- only on a full match --
// commits both the execution transaction and the block's header+body via the
// Writer. Any mismatch rolls back the execution transaction and leaves the
// chain DB untouched; the caller (the sync orchestrator's in-order commit
// step) is responsible for reverting the work item to Initial and
// disconnecting the delivering peer, exactly as it already does for a
// transport failure.
func (p *Pipeline) Process(parent, header *types.Header, body *types.Body, signer types.Signer) (ExecutionResult, error) {
	tx, err := p.writer.Begin(true)
	if err != nil {
		return ExecutionResult{}, fmt.Errorf("begin execution tx: %w", err)
	}

	result, err := p.run(parent, header, body, signer)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return ExecutionResult{}, fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return ExecutionResult{}, err
	}

	if err := p.writer.PersistBlocks([]*types.Header{header}, []*types.Body{body}); err != nil {
		_ = tx.Rollback()
		return ExecutionResult{}, fmt.Errorf("persist block: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return ExecutionResult{}, fmt.Errorf("commit execution tx: %w", err)
	}
	return result, nil
}

// run does the actual apply-verify sequence without touching the Writer's
// transactional scope; split out so Process's single rollback/commit path
// stays the only place that decides the transaction's fate.
func (p *Pipeline) run(parent, header *types.Header, body *types.Body, signer types.Signer) (ExecutionResult, error) {
	state, err := p.backend.Prepare(parent, header)
	if err != nil {
		return ExecutionResult{}, fmt.Errorf("prepare execution state: %w", err)
	}

	var (
		receipts []*types.Receipt
		gasUsed  uint64
	)
	for _, tx := range body.Transactions {
		sender, err := types.Sender(signer, tx)
		if err != nil {
			return ExecutionResult{}, fmt.Errorf("recover sender: %w", err)
		}
		receipt, used, _, err := state.ExecuteTx(tx, sender)
		if err != nil {
			return ExecutionResult{}, fmt.Errorf("execute tx %s: %w", tx.Hash(), err)
		}
		gasUsed += used
		receipts = append(receipts, receipt)
	}

	if p.rewarder != nil {
		for _, r := range p.rewarder.AccumulateRewards(header, body.Uncles) {
			state.ApplyReward(r.Address, r.Amount)
		}
	}

	result, err := state.Finalize()
	if err != nil {
		return ExecutionResult{}, fmt.Errorf("finalize execution state: %w", err)
	}
	result.Receipts = receipts
	result.GasUsed = gasUsed

	if result.GasUsed != header.GasUsed {
		return ExecutionResult{}, fmt.Errorf("%w: got %d want %d", ErrGasUsedMismatch, result.GasUsed, header.GasUsed)
	}
	if result.StateRoot != header.Root {
		return ExecutionResult{}, fmt.Errorf("%w: got %s want %s", ErrStateRootMismatch, result.StateRoot, header.Root)
	}
	if result.ReceiptRoot != header.ReceiptHash {
		return ExecutionResult{}, fmt.Errorf("%w: got %s want %s", ErrReceiptRootMismatch, result.ReceiptRoot, header.ReceiptHash)
	}
	if result.Bloom != header.Bloom {
		return ExecutionResult{}, ErrBloomMismatch
	}
	return result, nil
}
