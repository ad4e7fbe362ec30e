// Copyright 2024 The execore Authors
// This file is part of execore.

package ethash

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
)

// TestAccumulateRewardsNoUncles checks the fork-scaled static reward with no
// uncle bonus applied.
func TestAccumulateRewardsNoUncles(t *testing.T) {
	r := NewRewarder(&params.ChainConfig{})
	header := &types.Header{Number: big.NewInt(100), Coinbase: common.Address{0x1}}

	rewards := r.AccumulateRewards(header, nil)
	if len(rewards) != 1 {
		t.Fatalf("expected exactly one reward entry, got %d", len(rewards))
	}
	if rewards[0].Address != header.Coinbase {
		t.Fatalf("expected reward to go to coinbase")
	}
	if rewards[0].Amount.Cmp(frontierBlockReward) != 0 {
		t.Fatalf("expected frontier block reward, got %s", rewards[0].Amount)
	}
}

// TestAccumulateRewardsWithUncle checks the miner gets its static reward
// plus a 1/32 bonus, and the uncle's own miner gets a depth-scaled share.
func TestAccumulateRewardsWithUncle(t *testing.T) {
	r := NewRewarder(&params.ChainConfig{})
	header := &types.Header{Number: big.NewInt(10), Coinbase: common.Address{0x1}}
	uncle := &types.Header{Number: big.NewInt(9), Coinbase: common.Address{0x2}}

	rewards := r.AccumulateRewards(header, []*types.Header{uncle})
	if len(rewards) != 2 {
		t.Fatalf("expected an uncle reward and a miner reward, got %d", len(rewards))
	}

	uncleReward := rewards[0]
	if uncleReward.Address != uncle.Coinbase {
		t.Fatalf("expected first reward entry to be the uncle's")
	}
	// (9 + 8 - 10) * blockReward / 8 == 7/8 of the block reward.
	want := new(big.Int).Mul(frontierBlockReward, big.NewInt(7))
	want.Div(want, big8)
	if uncleReward.Amount.Cmp(want) != 0 {
		t.Fatalf("expected uncle reward %s, got %s", want, uncleReward.Amount)
	}

	minerReward := rewards[1]
	if minerReward.Address != header.Coinbase {
		t.Fatalf("expected second reward entry to be the miner's")
	}
	wantMiner := new(big.Int).Add(frontierBlockReward, new(big.Int).Div(frontierBlockReward, big32))
	if minerReward.Amount.Cmp(wantMiner) != 0 {
		t.Fatalf("expected miner reward %s, got %s", wantMiner, minerReward.Amount)
	}
}
