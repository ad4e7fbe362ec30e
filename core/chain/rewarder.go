// Copyright 2024 The execore Authors
// This file is part of execore.
//
// execore is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package chain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// AccountReward is one address/amount credit the pipeline applies atop the
// post-transaction state, before computing the final state root.
type AccountReward struct {
	Address common.Address
	Amount  *big.Int
}

// Rewarder computes the block (and, where applicable, uncle) reward for a
// header that has already passed consensus.Engine.VerifyHeader/VerifyUncles.
// Reward computation is consensus-engine-specific (ethash pays a fork-scaled
// block reward plus uncle-inclusion rewards; clique pays nothing) but is not
// itself part of the consensus.Engine interface: it is a pipeline
// collaborator consulted only during execution, never during header
// verification. consensus/ethash and consensus/clique each supply one.
type Rewarder interface {
	AccumulateRewards(header *types.Header, uncles []*types.Header) []AccountReward
}
