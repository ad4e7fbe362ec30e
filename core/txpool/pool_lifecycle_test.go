// Copyright 2024 The execore Authors
// This file is part of execore.

package txpool

import (
	"crypto/ecdsa"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/execore-project/execore/core/chain"
)

// TestAdjustHeadReinjectsOldBranchOnly exercises: a reorg where the old
// branch carried one transaction the new branch never mined. AdjustHead
// must re-admit it rather than drop it: it enters as Pending and, with the
// account nonce unchanged, the reorg promotes it to Staged.
func TestAdjustHeadReinjectsOldBranchOnly(t *testing.T) {
	pool, key, addr := newFundedPool(t, 0)

	orphaned := signedTx(t, key, 0, big.NewInt(10))
	pool.AdjustHead([]*types.Transaction{orphaned}, nil)

	status := pool.Status(addr)
	require.ElementsMatch(t, []uint64{0}, status[Staged])
}

// TestAdjustHeadDropsNewBranchOnlyTransaction exercises: a transaction that
// was speculatively admitted and then mined on the new branch must be
// removed from the pool's indices without re-classification error.
func TestAdjustHeadDropsNewBranchOnlyTransaction(t *testing.T) {
	pool, key, addr := newFundedPool(t, 0)

	mined := signedTx(t, key, 0, big.NewInt(10))
	require.NoError(t, pool.Add(mined))

	pool.AdjustHead(nil, []*types.Transaction{mined})

	_, ok := pool.Get(mined.Hash())
	require.False(t, ok)
	require.Empty(t, pool.Status(addr)[Staged])
}

// TestAdjustHeadEvictsNonceSlotClash exercises: a speculative item occupies
// a sender's nonce slot; a reorg reinjects an old-branch transaction for the
// same (sender, nonce) under a different hash. The speculative item must be
// evicted to the waste basket with ReasonSenderNonceIndexClash, and the
// reinjected transaction takes the slot.
func TestAdjustHeadEvictsNonceSlotClash(t *testing.T) {
	pool, key, addr := newFundedPool(t, 0)

	speculative := signedTx(t, key, 0, big.NewInt(10))
	require.NoError(t, pool.Add(speculative))

	canonical := signedTx(t, key, 0, big.NewInt(20))
	pool.AdjustHead([]*types.Transaction{canonical}, nil)

	item, ok := pool.Get(speculative.Hash())
	require.True(t, ok)
	require.Equal(t, ReasonSenderNonceIndexClash, item.RejectReason)

	_, ok = pool.Get(canonical.Hash())
	require.True(t, ok)
	require.Contains(t, pool.Status(addr)[Staged], uint64(0))
}

// TestExpireEvictsStaleSiblingChain exercises: a sender has nonces 0 (stale)
// and 1 (fresh); Expire must evict both once the cutoff passes nonce 0's
// receipt time, since every higher-nonce sibling of an expired item is
// evicted alongside it.
func TestExpireEvictsStaleSiblingChain(t *testing.T) {
	pool, key, addr := newFundedPool(t, 0)

	stale := signedTx(t, key, 0, big.NewInt(10))
	require.NoError(t, pool.Add(stale))

	fresh := signedTx(t, key, 1, big.NewInt(10))
	require.NoError(t, pool.Add(fresh))

	item, ok := pool.Get(stale.Hash())
	require.True(t, ok)
	item.ReceivedAt = time.Now().Add(-2 * pool.config.Lifetime)

	pool.Expire(time.Now())

	require.Empty(t, pool.Status(addr)[Staged])
	require.Empty(t, pool.Status(addr)[Pending])

	evicted, ok := pool.Get(stale.Hash())
	require.True(t, ok)
	require.Equal(t, ReasonExpired, evicted.RejectReason)

	evictedSibling, ok := pool.Get(fresh.Hash())
	require.True(t, ok)
	require.Equal(t, ReasonExpired, evictedSibling.RejectReason)
}

// TestExpireSparesPackedUnlessAutoEvict exercises: a Packed item older than
// the lifetime cutoff survives Expire by default, and is only evicted once
// AutoEvictPacked is set.
func TestExpireSparesPackedUnlessAutoEvict(t *testing.T) {
	pool, key, addr := newFundedPool(t, 0)

	tx := signedTx(t, key, 0, big.NewInt(10))
	require.NoError(t, pool.Add(tx))

	item, ok := pool.Get(tx.Hash())
	require.True(t, ok)
	item.Status = Packed
	item.ReceivedAt = time.Now().Add(-2 * pool.config.Lifetime)

	pool.Expire(time.Now())
	_, ok = pool.Get(tx.Hash())
	require.True(t, ok)
	require.Contains(t, pool.Status(addr)[Packed], uint64(0))

	pool.config.AutoEvictPacked = true
	pool.Expire(time.Now())

	evicted, ok := pool.Get(tx.Hash())
	require.True(t, ok)
	require.Equal(t, ReasonExpired, evicted.RejectReason)
}

// stubExecutionBackend executes every transaction successfully, returning a
// per-sender gas cost so a sweep can mix items that fit the target with ones
// that don't, just enough to drive the packer's sweep and stop-condition
// logic without a real EVM.
type stubExecutionBackend struct {
	gasPerTx uint64
	gasFor   map[common.Address]uint64
	tip      *big.Int
}

func (b *stubExecutionBackend) Prepare(parent, header *types.Header) (chain.StateHandle, error) {
	return &stubStateHandle{backend: b}, nil
}

type stubStateHandle struct {
	backend    *stubExecutionBackend
	savepoints int
}

func (h *stubStateHandle) ExecuteTx(tx *types.Transaction, sender common.Address) (*types.Receipt, uint64, *big.Int, error) {
	used := h.backend.gasPerTx
	if h.backend.gasFor != nil {
		if g, ok := h.backend.gasFor[sender]; ok {
			used = g
		}
	}
	return &types.Receipt{TxHash: tx.Hash(), Status: types.ReceiptStatusSuccessful}, used, h.backend.tip, nil
}

func (h *stubStateHandle) Savepoint() int           { h.savepoints++; return h.savepoints }
func (h *stubStateHandle) RevertToSavepoint(id int) {}
func (h *stubStateHandle) ApplyReward(common.Address, *big.Int)           {}

func (h *stubStateHandle) Finalize() (chain.ExecutionResult, error) {
	return chain.ExecutionResult{}, nil
}

// TestPackStopsAtHardCap exercises: three Staged transactions from the same
// sender, each costing 21000 gas, under a hard cap low enough to admit only
// two; Pack must stop and finalize rather than attempt the third.
func TestPackStopsAtHardCap(t *testing.T) {
	pool, key, addr := newFundedPool(t, 0)

	for n := uint64(0); n < 3; n++ {
		require.NoError(t, pool.Add(signedTx(t, key, n, big.NewInt(10))))
	}
	require.ElementsMatch(t, []uint64{0, 1, 2}, pool.Status(addr)[Staged])

	backend := &stubExecutionBackend{gasPerTx: 21000, tip: big.NewInt(1)}
	mc := pool.chain.(*mockChain)
	mc.gasLimit = 42000 // room for exactly two 21000-gas transactions

	parent := &types.Header{Number: big.NewInt(1)}
	header := &types.Header{Number: big.NewInt(2), GasLimit: mc.gasLimit}

	cand, err := pool.Pack(parent, header, backend)
	require.NoError(t, err)
	require.Len(t, cand.Txs, 2)
	require.Equal(t, uint64(42000), cand.Header.GasUsed)
}

// TestPackTryHarderSkipsOverflowingSender exercises: three senders A, B, C
// with gas costs 21000, 30000, 21000 under a 42000 target. Without
// TryHarder, B's overflow ends the pack at A only; with TryHarder, the
// packer skips B and still picks up C, since C alone still fits alongside A.
func TestPackTryHarderSkipsOverflowingSender(t *testing.T) {
	addrs, keys := newSenderTrio(t)

	pool := newMultiSenderPool(t, addrs)
	require.NoError(t, pool.Add(signedTx(t, keys[0], 0, big.NewInt(10))))
	require.NoError(t, pool.Add(signedTx(t, keys[1], 0, big.NewInt(10))))
	require.NoError(t, pool.Add(signedTx(t, keys[2], 0, big.NewInt(10))))

	mc := pool.chain.(*mockChain)
	mc.gasLimit = 42000

	// descendingSenders defines the real sweep order; assign costs relative
	// to that order (first=21000, second=30000 — the one that must be
	// skipped, third=21000) so the scenario holds regardless of the random
	// address values newSenderTrio happened to generate.
	order := pool.descendingSenders()
	require.Len(t, order, 3)
	backend := &stubExecutionBackend{
		gasFor: map[common.Address]uint64{order[0]: 21000, order[1]: 30000, order[2]: 21000},
		tip:    big.NewInt(1),
	}
	parent := &types.Header{Number: big.NewInt(1)}
	header := &types.Header{Number: big.NewInt(2), GasLimit: mc.gasLimit}

	pool.config.TryHarder = false
	candNoTryHarder, err := pool.Pack(parent, header, backend)
	require.NoError(t, err)
	require.Len(t, candNoTryHarder.Txs, 1)

	for _, it := range pool.byID {
		it.Status = Staged // reset for the second run
	}

	pool.config.TryHarder = true
	candTryHarder, err := pool.Pack(parent, header, backend)
	require.NoError(t, err)
	require.Len(t, candTryHarder.Txs, 2)
	require.Equal(t, uint64(42000), candTryHarder.Header.GasUsed)
}

// newSenderTrio returns three funded account keys; their relative address
// order is whatever key generation happens to produce, which is why callers
// read back descendingSenders() instead of assuming an order.
func newSenderTrio(t *testing.T) ([3]common.Address, [3]*ecdsa.PrivateKey) {
	t.Helper()
	var addrs [3]common.Address
	var keys [3]*ecdsa.PrivateKey
	for i := range keys {
		key, err := crypto.GenerateKey()
		require.NoError(t, err)
		keys[i] = key
		addrs[i] = crypto.PubkeyToAddress(key.PublicKey)
	}
	return addrs, keys
}

func newMultiSenderPool(t *testing.T, addrs [3]common.Address) *Pool {
	t.Helper()
	mc := newMockChain()
	for _, a := range addrs {
		mc.nonces[a] = 0
		mc.balances[a] = big.NewInt(1_000_000_000_000_000_000)
	}
	cfg := DefaultConfig
	cfg.PreLondonMinPrice = big.NewInt(1)
	return New(cfg, mc)
}
