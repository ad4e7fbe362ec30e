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
)

// Difficulty adjustment constants, matching the real homestead/ice-age
// formula geth implements; CORE only needs the formula, not mining, so no
// DAG-size companion tables are included.
var (
	expDiffPeriod = big.NewInt(100000)
	big1          = big.NewInt(1)
	big2          = big.NewInt(2)
	big9          = big.NewInt(9)
	big10         = big.NewInt(10)
	bigMinus99    = big.NewInt(-99)
	minDifficulty = params.MinimumDifficulty
)

// calcDifficultyHomestead implements the Homestead difficulty formula:
// y = max(1-(t-pt)/10, -99), bounded, plus the ice-age term computed against
// the real block number (no bomb delay).
func calcDifficultyHomestead(time uint64, parent *types.Header) *big.Int {
	bigTime := new(big.Int).SetUint64(time)
	bigParentTime := new(big.Int).SetUint64(parent.Time)

	x := new(big.Int).Sub(bigTime, bigParentTime)
	x.Div(x, big10)
	x.Sub(big1, x)
	if x.Cmp(bigMinus99) < 0 {
		x.Set(bigMinus99)
	}
	y := new(big.Int).Div(parent.Difficulty, params.DifficultyBoundDivisor)
	x.Mul(y, x)
	x.Add(parent.Difficulty, x)

	if x.Cmp(minDifficulty) < 0 {
		x.Set(minDifficulty)
	}
	return addIceAge(x, parent.Number, 0)
}

func calcDifficultyEIP3554(time uint64, parent *types.Header) *big.Int {
	return calcDifficultyWithDelay(time, parent, 9700000)
}

func calcDifficultyEIP4345(time uint64, parent *types.Header) *big.Int {
	return calcDifficultyWithDelay(time, parent, 10700000)
}

func calcDifficultyEIP5133(time uint64, parent *types.Header) *big.Int {
	return calcDifficultyWithDelay(time, parent, 11400000)
}

// calcDifficultyWithDelay implements the EIP-2384/3554/4345/5133-style
// difficulty-bomb-delay formula: y = max(1-(t-pt)/9, -99), bounded, plus an
// ice-age term computed against a "fake" block number shifted back by
// delayBlocks.
func calcDifficultyWithDelay(time uint64, parent *types.Header, delayBlocks uint64) *big.Int {
	bigTime := new(big.Int).SetUint64(time)
	bigParentTime := new(big.Int).SetUint64(parent.Time)

	x := new(big.Int).Sub(bigTime, bigParentTime)
	x.Div(x, big9)
	x.Sub(big1, x)
	if x.Cmp(bigMinus99) < 0 {
		x.Set(bigMinus99)
	}
	y := new(big.Int).Div(parent.Difficulty, params.DifficultyBoundDivisor)
	x.Mul(y, x)
	x.Add(parent.Difficulty, x)

	if x.Cmp(minDifficulty) < 0 {
		x.Set(minDifficulty)
	}
	return addIceAge(x, parent.Number, delayBlocks)
}

// addIceAge folds in the exponential difficulty bomb: 2^((fakeBlockNumber/
// expDiffPeriod)-2), where fakeBlockNumber = parent.Number+1-delayBlocks
// (floored at 0).
func addIceAge(diff *big.Int, parentNumber *big.Int, delayBlocks uint64) *big.Int {
	fakeNumber := new(big.Int).Sub(new(big.Int).Add(parentNumber, big1), new(big.Int).SetUint64(delayBlocks))
	if fakeNumber.Sign() < 0 {
		fakeNumber.SetUint64(0)
	}
	periodCount := new(big.Int).Div(fakeNumber, expDiffPeriod)
	if periodCount.Cmp(big1) > 0 {
		exp := new(big.Int).Sub(periodCount, big2)
		bomb := new(big.Int).Exp(big2, exp, nil)
		diff.Add(diff, bomb)
	}
	if diff.Cmp(minDifficulty) < 0 {
		diff.Set(minDifficulty)
	}
	return diff
}
