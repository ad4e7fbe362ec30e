// Copyright 2024 The execore Authors
// This file is part of execore.

package txpool

import (
	"bytes"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/trie"

	"github.com/execore-project/execore/core/chain"
)

// Candidate is the packer's output: a ready-to-seal next block built from
// the pool's Staged bucket.
type Candidate struct {
	Header   *types.Header
	Txs      []*types.Transaction
	Receipts []*types.Receipt
	Reward   *big.Int
}

// PackPolicy decides when to stop packing. It is deliberately pluggable (see
// DESIGN.md), so the policy closes over the pool's own config rather than
// hardcoding one answer.
type PackPolicy struct {
	targetGasLimit uint64
	hardCap        bool
	tryHarder      bool // try_harder: keep scanning other senders even under a hard cap
}

// shouldPack reports whether the packer may keep this item's effect in the
// block (it fits under the target).
func (pp PackPolicy) shouldPack(totalGas, used uint64) bool {
	return totalGas+used <= pp.targetGasLimit
}

// shouldContinue reports whether the packer should move on to the next
// sender after an item was rejected by shouldPack, instead of stopping
// entirely. Under a hard cap there is normally no room for a later, cheaper
// item from another sender once one item overflows, unless TryHarder is set,
// in which case the packer keeps scanning on the chance a smaller item from
// another sender still fits; with a soft target the packer always keeps
// trying other senders since an individual large item simply didn't fit, not
// because the block is full.
func (pp PackPolicy) shouldContinue(totalGas, used uint64) bool {
	if pp.hardCap {
		return pp.tryHarder && totalGas < pp.targetGasLimit
	}
	return totalGas < pp.targetGasLimit
}

// Pack rebuilds the Packed bucket by running Staged transactions through
// the execution backend atop a forked state DB.
// Sweep order is descending-account (for determinism across runs given a
// fixed account ordering), ascending-nonce within an account.
func (p *Pool) Pack(parent, header *types.Header, backend chain.ExecutionBackend) (*Candidate, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	state, err := backend.Prepare(parent, header)
	if err != nil {
		return nil, err
	}

	policy := PackPolicy{
		targetGasLimit: p.chain.GasLimit(),
		hardCap:        !p.config.TrgGasLimitMaxEnabled,
		tryHarder:      p.config.TryHarder,
	}
	if p.config.TrgGasLimitMaxEnabled {
		policy.targetGasLimit = p.config.TargetGasLimitMax
	}

	senders := p.descendingSenders()

	var (
		candTxs  []*types.Transaction
		receipts []*types.Receipt
		totalGas uint64
		reward   = new(big.Int)
	)

	for _, sender := range senders {
		l := p.bySender[sender]
		staged := l.itemsInStatus(Staged)

		for _, item := range staged {
			sp := state.Savepoint()
			receipt, used, tip, err := state.ExecuteTx(item.Tx, item.Sender)
			if err != nil {
				state.RevertToSavepoint(sp)
				break // this sender's subsequent (higher-nonce) items can't execute either
			}
			if !policy.shouldPack(totalGas, used) {
				state.RevertToSavepoint(sp)
				if policy.shouldContinue(totalGas, used) {
					break // move on to the next sender
				}
				goto finalize
			}

			totalGas += used
			reward.Add(reward, tip)
			candTxs = append(candTxs, item.Tx)
			receipts = append(receipts, receipt)

			item.Status = Packed
		}
	}

finalize:
	result, err := state.Finalize()
	if err != nil {
		return nil, err
	}

	out := &types.Header{
		ParentHash:  parent.Hash(),
		Coinbase:    header.Coinbase,
		Root:        result.StateRoot,
		TxHash:      types.DeriveSha(types.Transactions(candTxs), trie.NewStackTrie(nil)),
		ReceiptHash: result.ReceiptRoot,
		Bloom:       result.Bloom,
		Difficulty:  header.Difficulty,
		Number:      header.Number,
		GasLimit:    header.GasLimit,
		GasUsed:     totalGas,
		Time:        header.Time,
		Extra:       header.Extra,
		BaseFee:     header.BaseFee,
	}

	cand := &Candidate{Header: out, Txs: candTxs, Receipts: receipts, Reward: reward}
	p.lastCandidate = cand
	p.feed.Send(cand)
	return cand, nil
}

// descendingSenders orders the pool's sender set in descending address
// order, a fixed deterministic sweep order for the packer.
func (p *Pool) descendingSenders() []common.Address {
	out := make([]common.Address, 0, len(p.bySender))
	for s := range p.bySender {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i][:], out[j][:]) > 0
	})
	return out
}

