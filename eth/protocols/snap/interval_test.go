// Copyright 2024 The execore Authors
// This file is part of execore.

package snap

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestIntervalAcquireClipsToMaxLen(t *testing.T) {
	s := NewIntervalSet(common.Hash{}, maxHash())

	lo, hi, ok := s.Acquire(big.NewInt(16))
	require.True(t, ok)
	require.Equal(t, common.Hash{}, lo)
	require.Equal(t, common.BytesToHash([]byte{0x0f}), hi)
}

func TestIntervalInsertCoalescesAdjacent(t *testing.T) {
	lo := common.BigToHash(big.NewInt(0))
	hi := common.BigToHash(big.NewInt(99))
	s := NewIntervalSet(lo, hi)

	// Drain the whole range via two acquires of half the length each.
	half := new(big.Int).Div(new(big.Int).Add(new(big.Int).Sub(hi.Big(), lo.Big()), big.NewInt(1)), big.NewInt(2))
	a1, a2, ok := s.Acquire(half)
	require.True(t, ok)
	b1, b2, ok := s.Acquire(half)
	require.True(t, ok)
	require.True(t, s.Empty())

	// Reinserting both halves, in either order, must coalesce back into
	// the single original interval.
	s.Insert(b1, b2)
	s.Insert(a1, a2)
	require.False(t, s.Empty())

	got := s.snapshot()
	require.Len(t, got, 1)
	require.Equal(t, lo.Big(), got[0].Lo)
	require.Equal(t, hi.Big(), got[0].Hi)
}

// TestIntervalInsertRemoveInsertNoOp checks that insert+remove+insert of the
// same range is a no-op.
func TestIntervalInsertRemoveInsertNoOp(t *testing.T) {
	full := NewIntervalSet(common.Hash{}, maxHash())
	before := full.snapshot()

	mid := common.BigToHash(big.NewInt(1000))
	hi := common.BigToHash(big.NewInt(2000))

	full.Insert(mid, hi)
	full.Remove(mid, hi)
	full.Insert(mid, hi)

	after := full.snapshot()
	require.Equal(t, len(before), len(after))
	for i := range before {
		require.Equal(t, 0, before[i].Lo.Cmp(after[i].Lo))
		require.Equal(t, 0, before[i].Hi.Cmp(after[i].Hi))
	}
}

func TestIntervalRemoveSplitsInterval(t *testing.T) {
	s := NewIntervalSet(common.BigToHash(big.NewInt(0)), common.BigToHash(big.NewInt(100)))
	s.Remove(common.BigToHash(big.NewInt(40)), common.BigToHash(big.NewInt(60)))

	got := s.snapshot()
	require.Len(t, got, 2)
	require.Equal(t, 0, big.NewInt(0).Cmp(got[0].Lo))
	require.Equal(t, big.NewInt(39), got[0].Hi)
	require.Equal(t, big.NewInt(61), got[1].Lo)
	require.Equal(t, big.NewInt(100), got[1].Hi)
}
