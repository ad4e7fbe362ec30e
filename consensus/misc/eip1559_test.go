// Copyright 2024 The execore Authors
// This file is part of execore.

package misc

import (
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
)

func TestBlockElasticity(t *testing.T) {
	config := params.TestChainConfig
	initial := new(big.Int).SetUint64(params.InitialBaseFee)
	parent := &types.Header{
		Number:   big.NewInt(31),
		GasUsed:  10000000,
		GasLimit: 20000000,
		BaseFee:  initial,
	}
	header := &types.Header{
		Number:   big.NewInt(32),
		GasUsed:  20000000,
		GasLimit: 20000000,
		BaseFee:  initial,
	}
	if err := VerifyEip1559Header(config, parent, header); err != nil {
		t.Errorf("expected valid header: %s", err)
	}
	header.GasUsed++
	expected := fmt.Sprintf("invalid gas limit adjustment: exceeded elasticity multiplier: gasUsed %d, gasTarget*elasticityMultiplier %d",
		header.GasUsed, header.GasLimit/config.ElasticityMultiplier()*config.ElasticityMultiplier())
	if err := VerifyEip1559Header(config, parent, header); fmt.Sprint(err) != expected {
		t.Errorf("expected invalid header, got %v", err)
	}
}

func TestCalcBaseFee(t *testing.T) {
	tests := []struct {
		parentBaseFee   *big.Int
		parentGasLimit  uint64
		parentGasUsed   uint64
		expectedBaseFee *big.Int
	}{
		// unchanged when gasUsed == gasTarget.
		{
			new(big.Int).SetUint64(params.InitialBaseFee),
			20000000,
			10000000,
			new(big.Int).SetUint64(params.InitialBaseFee),
		},
		// decreases when gasUsed is below target.
		{
			new(big.Int).SetUint64(params.InitialBaseFee),
			20000000,
			9000000,
			new(big.Int).SetUint64(987500000),
		},
		// increases when gasUsed is above target.
		{
			new(big.Int).SetUint64(params.InitialBaseFee),
			20000000,
			11000000,
			new(big.Int).SetUint64(1012500000),
		},
	}
	for i, test := range tests {
		parent := &types.Header{
			Number:   big.NewInt(31),
			GasLimit: test.parentGasLimit,
			GasUsed:  test.parentGasUsed,
			BaseFee:  test.parentBaseFee,
		}
		baseFee := CalcBaseFee(params.TestChainConfig, parent)
		if baseFee.Cmp(test.expectedBaseFee) != 0 {
			t.Errorf("test %d: expected %d, got %d", i+1, test.expectedBaseFee.Int64(), baseFee.Int64())
		}
	}
}

// TestCalcBaseFeeAtForkBlock: a pre-London parent has no base fee at all;
// the fork block's base fee is the initial constant, not a value adjusted
// from the (nil) parent fee.
func TestCalcBaseFeeAtForkBlock(t *testing.T) {
	config := &params.ChainConfig{LondonBlock: big.NewInt(5)}
	parent := &types.Header{
		Number:   big.NewInt(4),
		GasLimit: 10000000,
		GasUsed:  10000000,
	}
	baseFee := CalcBaseFee(config, parent)
	if baseFee.Uint64() != params.InitialBaseFee {
		t.Errorf("expected initial base fee %d at the fork block, got %d", params.InitialBaseFee, baseFee)
	}
}

// TestVerifyEip1559HeaderAtForkBlock: across the transition the effective
// parent gas limit doubles and the header's base fee must equal the initial
// constant.
func TestVerifyEip1559HeaderAtForkBlock(t *testing.T) {
	config := &params.ChainConfig{LondonBlock: big.NewInt(5)}
	parent := &types.Header{
		Number:   big.NewInt(4),
		GasLimit: 10000000,
		GasUsed:  10000000,
	}
	header := &types.Header{
		Number:   big.NewInt(5),
		GasLimit: 20000000,
		GasUsed:  10000000,
		BaseFee:  new(big.Int).SetUint64(params.InitialBaseFee),
	}
	if err := VerifyEip1559Header(config, parent, header); err != nil {
		t.Errorf("expected valid fork-block header, got %v", err)
	}

	header.BaseFee = big.NewInt(2_000_000_000)
	if err := VerifyEip1559Header(config, parent, header); err == nil {
		t.Errorf("expected non-initial base fee at the fork block to be rejected")
	}
}

func TestVerifyGasLimit(t *testing.T) {
	if err := VerifyGasLimit(20000000, 20019530); err != nil {
		t.Errorf("expected valid gas limit delta, got %v", err)
	}
	if err := VerifyGasLimit(20000000, 20019531); err == nil {
		t.Errorf("expected invalid gas limit delta to be rejected")
	}
	if err := VerifyGasLimit(20000000, 4999); err == nil {
		t.Errorf("expected gas limit below the minimum to be rejected")
	}
}

func TestVerifyDAOHeaderExtraData(t *testing.T) {
	config := &params.ChainConfig{
		DAOForkBlock:   big.NewInt(1920000),
		DAOForkSupport: true,
	}

	outside := &types.Header{Number: big.NewInt(1919999), Extra: []byte("anything")}
	if err := VerifyDAOHeaderExtraData(config, outside); err != nil {
		t.Errorf("expected no-op outside the fork window, got %v", err)
	}

	inside := &types.Header{Number: big.NewInt(1920000), Extra: DAOForkBlockExtra}
	if err := VerifyDAOHeaderExtraData(config, inside); err != nil {
		t.Errorf("expected matching extra-data to pass, got %v", err)
	}

	wrong := &types.Header{Number: big.NewInt(1920005), Extra: []byte("not the marker")}
	if err := VerifyDAOHeaderExtraData(config, wrong); err == nil {
		t.Errorf("expected mismatched extra-data inside the fork window to fail")
	}

	noFork := &params.ChainConfig{}
	anyHeader := &types.Header{Number: big.NewInt(1920000), Extra: []byte("irrelevant")}
	if err := VerifyDAOHeaderExtraData(noFork, anyHeader); err != nil {
		t.Errorf("expected no-op when the chain has no configured DAO fork, got %v", err)
	}
}
