// Copyright 2024 The execore Authors
// This file is part of execore.
//
// execore is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package txpool

import (
	"math/big"
	"time"
)

// Config tunes admission, classification, and packing policy.
type Config struct {
	PriceBump uint64 // minimum percentage price bump to replace an existing item

	PreLondonMinPrice *big.Int // pre_london_min_price floor
	MinTip1559        *big.Int // min_tip_1559 floor
	MinFee1559        *big.Int // min_fee_1559 floor

	TargetGasLimitMax uint64 // soft packing target used instead of the chain gas limit when TrgGasLimitMaxEnabled
	TryHarder         bool   // try_harder: keep scanning other senders in the packer after a should_continue=false stop

	// AutoEvictPacked controls whether Packed items are subject to
	// lifetime-based expiry like every other bucket. Off by default: a
	// packed item represents work already chosen for the next block, and
	// expiring it mid-assembly would invalidate an otherwise-valid candidate.
	AutoEvictPacked bool

	// TrgGasLimitMaxEnabled, when true, allows the packer to use
	// TargetGasLimitMax as a soft target instead of treating the chain's
	// own gas limit as a hard cap.
	TrgGasLimitMaxEnabled bool

	// GlobalSlots caps the number of live items across all buckets. Once
	// full, a new admission evicts the cheapest-by-effective-tip resident
	// (and its higher-nonce siblings), or is itself rejected as underpriced
	// if nothing cheaper exists.
	GlobalSlots uint64

	// WasteRetention caps the waste basket: beyond this many entries the
	// oldest rejection records are dropped in insertion order.
	WasteRetention int

	Lifetime time.Duration // waste-basket eviction age
}

// DefaultConfig mirrors the values real geth's legacypool ships, adapted to
// this package's field names.
var DefaultConfig = Config{
	PriceBump:         10,
	PreLondonMinPrice: big.NewInt(1),
	MinTip1559:        big.NewInt(1),
	MinFee1559:        big.NewInt(0),
	TargetGasLimitMax: 30_000_000,
	GlobalSlots:       4096,
	WasteRetention:    1024,
	Lifetime:          3 * time.Hour,
}

func (c Config) sanitize() Config {
	cpy := c
	if cpy.PriceBump == 0 {
		cpy.PriceBump = DefaultConfig.PriceBump
	}
	if cpy.PreLondonMinPrice == nil {
		cpy.PreLondonMinPrice = new(big.Int).Set(DefaultConfig.PreLondonMinPrice)
	}
	if cpy.MinTip1559 == nil {
		cpy.MinTip1559 = new(big.Int).Set(DefaultConfig.MinTip1559)
	}
	if cpy.MinFee1559 == nil {
		cpy.MinFee1559 = new(big.Int).Set(DefaultConfig.MinFee1559)
	}
	if cpy.TargetGasLimitMax == 0 {
		cpy.TargetGasLimitMax = DefaultConfig.TargetGasLimitMax
	}
	if cpy.GlobalSlots == 0 {
		cpy.GlobalSlots = DefaultConfig.GlobalSlots
	}
	if cpy.WasteRetention == 0 {
		cpy.WasteRetention = DefaultConfig.WasteRetention
	}
	if cpy.Lifetime == 0 {
		cpy.Lifetime = DefaultConfig.Lifetime
	}
	return cpy
}
