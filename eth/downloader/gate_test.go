// Copyright 2024 The execore Authors
// This file is part of execore.

package downloader

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

func TestGateProvisionalAdmitUnderTwo(t *testing.T) {
	prober := newStaticProber()
	gate := NewGate(3, prober, 1)

	ok, evicted, err := gate.Admit("p1", headerAt(100))
	require.NoError(t, err)
	require.True(t, ok)
	require.Empty(t, evicted)

	ok, evicted, err = gate.Admit("p2", headerAt(100))
	require.NoError(t, err)
	require.True(t, ok)
	require.Empty(t, evicted)
	require.False(t, gate.Syncing())
}

func TestGateAdmitsCorroboratedCandidate(t *testing.T) {
	prober := newStaticProber()
	gate := NewGate(3, prober, 1)

	best := headerAt(100)
	gate.Admit("p1", best)
	gate.Admit("p2", best)

	// p3 claims the same header p1/p2 already hold; whichever reference
	// peer the gate samples, prober reports the same header back.
	prober.set("p1", 100, best)
	prober.set("p2", 100, best)

	ok, evicted, err := gate.Admit("p3", best)
	require.NoError(t, err)
	require.True(t, ok)
	require.Empty(t, evicted)
	require.True(t, gate.Syncing())
}

func TestGateRejectsUncorroboratedCandidate(t *testing.T) {
	prober := newStaticProber()
	gate := NewGate(3, prober, 1)

	agreed := headerAt(100)
	gate.Admit("p1", agreed)
	gate.Admit("p2", agreed)

	// Both existing trusted peers, when asked, report the agreed header —
	// disagreeing with the candidate's forked claim — so no replacement is
	// permitted.
	prober.set("p1", 100, agreed)
	prober.set("p2", 100, agreed)

	forked := &types.Header{Number: new(big.Int).SetUint64(100), Extra: []byte{0x01}}
	ok, _, err := gate.Admit("p3", forked)
	require.ErrorIs(t, err, ErrPeerDisagrees)
	require.False(t, ok)
}

// TestGateReplacesDisagreeingPeer covers the "candidate may replace exactly
// one disagreeing trusted peer if all others agreed" branch. Which of the
// two existing peers is sampled as the reference is randomised by the
// gate, so this only asserts what holds regardless of that draw: the
// candidate is admitted, and the peer that actually agrees with it (p2) is
// never evicted.
func TestGateReplacesDisagreeingPeer(t *testing.T) {
	prober := newStaticProber()
	gate := NewGate(3, prober, 7)

	stale := headerAt(100)
	agreed := &types.Header{Number: new(big.Int).SetUint64(100), Extra: []byte{0x02}}
	gate.Admit("p1", stale)
	gate.Admit("p2", stale)

	prober.set("p1", 100, stale)  // disagrees with the candidate
	prober.set("p2", 100, agreed) // agrees with the candidate

	ok, _, err := gate.Admit("p3", agreed)
	require.NoError(t, err)
	require.True(t, ok)
	require.Contains(t, gate.TrustedPeers(), "p2")
	require.Contains(t, gate.TrustedPeers(), "p3")
}
