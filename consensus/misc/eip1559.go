// Copyright 2024 The execore Authors
// This file is part of execore.
//
// execore is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package misc implements the small, stateless consensus helpers shared by
// both the PoW and PoA engines: EIP-1559 base fee arithmetic and the DAO
// fork extra-data check.
package misc

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"

	"github.com/execore-project/execore/consensus"
)

// VerifyEip1559Header verifies that the header conforms to the London gas
// limit and base fee rules.
func VerifyEip1559Header(config *params.ChainConfig, parent, header *types.Header) error {
	// At the fork block the effective parent gas limit doubles, since the
	// elasticity multiplier permits twice the pre-London target per block.
	parentGasLimit := parent.GasLimit
	if !config.IsLondon(parent.Number) {
		parentGasLimit = parent.GasLimit * config.ElasticityMultiplier()
	}
	if err := VerifyGasLimit(parentGasLimit, header.GasLimit); err != nil {
		return err
	}
	if header.BaseFee == nil {
		return fmt.Errorf("%w: header is missing baseFee", consensus.ErrInvalidBaseFee)
	}
	expectedBaseFee := CalcBaseFee(config, parent)
	if header.BaseFee.Cmp(expectedBaseFee) != 0 {
		return fmt.Errorf("%w: have %s, want %s, parent.baseFee %s, parent.gasUsed %d",
			consensus.ErrInvalidBaseFee, header.BaseFee, expectedBaseFee, parent.BaseFee, parent.GasUsed)
	}
	// EIP-1559 elasticity: a block may never consume more than
	// elasticityMultiplier times its own gas target.
	parentGasTarget := header.GasLimit / config.ElasticityMultiplier()
	if header.GasUsed > parentGasTarget*config.ElasticityMultiplier() {
		return fmt.Errorf("%w: exceeded elasticity multiplier: gasUsed %d, gasTarget*elasticityMultiplier %d",
			consensus.ErrInvalidGasLimit, header.GasUsed, parentGasTarget*config.ElasticityMultiplier())
	}
	return nil
}

// VerifyGasLimit checks the pre-London |delta| < limit/1024 rule against an
// already fork-adjusted parent limit.
func VerifyGasLimit(parentGasLimit, gasLimit uint64) error {
	var limit uint64
	if parentGasLimit > gasLimit {
		limit = parentGasLimit - gasLimit
	} else {
		limit = gasLimit - parentGasLimit
	}
	if limit >= parentGasLimit/params.GasLimitBoundDivisor {
		return fmt.Errorf("%w: have %d, want %d += %d", consensus.ErrInvalidGasLimit, gasLimit, parentGasLimit, limit)
	}
	if gasLimit < params.MinGasLimit {
		return fmt.Errorf("%w: %d below %d", consensus.ErrGasLimitTooLow, gasLimit, params.MinGasLimit)
	}
	return nil
}

// CalcBaseFee calculates the basefee of the header following the parent
// header's gas usage, as specified by EIP-1559. It is pure and reused by
// both the header validator (verification) and the transaction pool's
// classifier (computing next_base_fee ahead of the next block).
func CalcBaseFee(config *params.ChainConfig, parent *types.Header) *big.Int {
	// A pre-London parent carries no base fee to adjust from: the fork
	// block's base fee is the protocol's initial constant.
	if !config.IsLondon(parent.Number) {
		return new(big.Int).SetUint64(params.InitialBaseFee)
	}

	// If the parent gasUsed is the same as the target, the baseFee remains
	// unchanged.
	parentGasTarget := parent.GasLimit / config.ElasticityMultiplier()
	if parentGasTarget == 0 {
		return new(big.Int).Set(parent.BaseFee)
	}
	if parent.GasUsed == parentGasTarget {
		return new(big.Int).Set(parent.BaseFee)
	}

	var (
		num   = new(big.Int)
		denom = new(big.Int)
	)

	if parent.GasUsed > parentGasTarget {
		// baseFee * gasUsedDelta / gasTarget / baseFeeChangeDenominator
		num.SetUint64(parent.GasUsed - parentGasTarget)
		num.Mul(num, parent.BaseFee)
		num.Div(num, denom.SetUint64(parentGasTarget))
		num.Div(num, denom.SetUint64(config.BaseFeeChangeDenominator()))
		baseFeeDelta := bigMax(num, common1)

		return num.Add(parent.BaseFee, baseFeeDelta)
	}
	// Otherwise gasUsed < gasTarget, the base fee should decrease.
	num.SetUint64(parentGasTarget - parent.GasUsed)
	num.Mul(num, parent.BaseFee)
	num.Div(num, denom.SetUint64(parentGasTarget))
	num.Div(num, denom.SetUint64(config.BaseFeeChangeDenominator()))

	baseFee := num.Sub(parent.BaseFee, num)
	return bigMax(baseFee, common0)
}

var (
	common0 = big.NewInt(0)
	common1 = big.NewInt(1)
)

func bigMax(a, b *big.Int) *big.Int {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}
