// Copyright 2024 The execore Authors
// This file is part of execore.
//
// execore is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package clique

import (
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/execore-project/execore/core/chain"
)

// Rewarder implements chain.Rewarder for clique chains: there is no block
// subsidy under proof-of-authority, matching real geth's clique engine,
// whose Finalize never calls an accumulateRewards equivalent. Signers are
// compensated out-of-band (transaction fees only), which the pipeline
// already credits via StateHandle.ExecuteTx's effective-tip accounting.
type Rewarder struct{}

// AccumulateRewards implements chain.Rewarder.
func (Rewarder) AccumulateRewards(*types.Header, []*types.Header) []chain.AccountReward {
	return nil
}

var _ chain.Rewarder = Rewarder{}
