// Copyright 2024 The execore Authors
// This file is part of execore.
//
// execore is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package ethash

import (
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"

	"github.com/execore-project/execore/core/chain"
)

// Fork-scaled static block rewards, unchanged since Byzantium/Constantinople:
// Frontier pays 5 ether, Byzantium drops it to 3, Constantinople to 2.
var (
	frontierBlockReward       = big.NewInt(5e+18)
	byzantiumBlockReward      = big.NewInt(3e+18)
	constantinopleBlockReward = big.NewInt(2e+18)

	big8  = big.NewInt(8)
	big32 = big.NewInt(32)
)

// Rewarder implements chain.Rewarder for PoW chains: the miner receives the
// fork-scaled static reward plus 1/32 of it per included uncle; each uncle's
// own miner receives a reward scaled down by how stale the uncle is
// (uncle.Number+8-header.Number, eighths of the block reward).
type Rewarder struct {
	config *params.ChainConfig
}

// NewRewarder builds a PoW reward calculator bound to a chain's fork
// schedule, since the static reward amount itself changes at Byzantium and
// Constantinople.
func NewRewarder(config *params.ChainConfig) *Rewarder {
	return &Rewarder{config: config}
}

// AccumulateRewards implements chain.Rewarder.
func (r *Rewarder) AccumulateRewards(header *types.Header, uncles []*types.Header) []chain.AccountReward {
	blockReward := frontierBlockReward
	switch {
	case r.config.IsConstantinople(header.Number):
		blockReward = constantinopleBlockReward
	case r.config.IsByzantium(header.Number):
		blockReward = byzantiumBlockReward
	}

	reward := new(big.Int).Set(blockReward)
	out := make([]chain.AccountReward, 0, len(uncles)+1)

	// Per included uncle: the uncle's own miner gets a stale-depth-scaled
	// share of the block reward, and the including miner gets a flat 1/32
	// bonus on top of the static reward.
	minerBonus := new(big.Int).Div(blockReward, big32)
	for _, uncle := range uncles {
		uncleReward := new(big.Int).Add(uncle.Number, big8)
		uncleReward.Sub(uncleReward, header.Number)
		uncleReward.Mul(uncleReward, blockReward)
		uncleReward.Div(uncleReward, big8)
		out = append(out, chain.AccountReward{Address: uncle.Coinbase, Amount: uncleReward})

		reward.Add(reward, minerBonus)
	}
	out = append(out, chain.AccountReward{Address: header.Coinbase, Amount: reward})
	return out
}

var _ chain.Rewarder = (*Rewarder)(nil)
