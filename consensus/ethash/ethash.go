// Copyright 2024 The execore Authors
// This file is part of execore.
//
// execore is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package ethash implements the proof-of-work consensus verifier: header,
// uncle, and seal validation, backed by a per-epoch light-cache.
package ethash

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"

	"github.com/execore-project/execore/consensus"
	"github.com/execore-project/execore/consensus/misc"
)

// MaxUncles is the maximum number of uncles a PoW block may reference.
const MaxUncles = 2

// MaxUncleDepth is the maximum number of ancestors an uncle's non-ancestor
// parent may be found within.
const MaxUncleDepth = 7

var (
	// ErrInvalidMixDigest / ErrInvalidPoW reuse the shared taxonomy.
	errTooManyUncles   = errors.New("too many uncles")
	errDuplicateUncle  = errors.New("duplicate uncle")
	errUncleIsAncestor = errors.New("uncle is ancestor")
	errDanglingUncle   = errors.New("uncle's parent is not ancestor")
)

// Config tunes the PoW engine.
type Config struct {
	CacheEpochs int // epoch-cache capacity; defaults to 10
}

// Engine is the proof-of-work consensus.Engine implementation.
type Engine struct {
	config Config
	caches *cacheSet
	log    log.Logger
}

// New creates a PoW verifier with its own epoch-cache instance (never a
// package-level singleton).
func New(config Config) *Engine {
	return &Engine{
		config: config,
		caches: newCacheSet(config.CacheEpochs),
		log:    log.New("engine", "ethash"),
	}
}

// Author returns the header's coinbase: under PoW the block reward goes to
// whoever set it, there is no signature to recover.
func (e *Engine) Author(header *types.Header) (common.Address, error) {
	return header.Coinbase, nil
}

// Close releases engine resources. The epoch cache has no background
// threads so this is a no-op, kept to satisfy consensus.Engine.
func (e *Engine) Close() error { return nil }

// VerifyHeader runs the ordered header checks. Checks are independent and
// fail fast in a fixed order, so a header rejected at one rule is also
// rejected at every later rule: later checks are simply unreachable once an
// earlier one returns.
func (e *Engine) VerifyHeader(chain consensus.ChainHeaderReader, header *types.Header) error {
	return e.verifyHeader(chain, header, true)
}

// VerifyHeaders verifies a batch of headers concurrently with the caller.
// The returned quit channel aborts the walk between two headers; results are
// delivered in input order, one per header, until abort or exhaustion.
func (e *Engine) VerifyHeaders(chain consensus.ChainHeaderReader, headers []*types.Header, seals []bool) (chan<- struct{}, <-chan error) {
	abort := make(chan struct{})
	results := make(chan error, len(headers))
	go func() {
		for i, header := range headers {
			seal := true
			if i < len(seals) {
				seal = seals[i]
			}
			err := e.verifyHeader(chain, header, seal)
			select {
			case <-abort:
				return
			case results <- err:
			}
		}
	}()
	return abort, results
}

func (e *Engine) verifyHeader(chain consensus.ChainHeaderReader, header *types.Header, seal bool) error {
	if header.Number == nil {
		return consensus.ErrInvalidNumber
	}
	if len(header.Extra) > 32 {
		return consensus.ErrExtraDataTooLong
	}
	if header.GasUsed == 0 && header.TxHash != types.EmptyRootHash {
		return consensus.ErrGasUsedWithoutTx
	}
	if header.GasUsed > header.GasLimit {
		return consensus.ErrGasUsedExceedsLimit
	}
	if header.GasLimit < params.MinGasLimit {
		return consensus.ErrGasLimitTooLow
	}

	parent := chain.GetHeader(header.ParentHash, header.Number.Uint64()-1)
	if parent == nil {
		return consensus.ErrUnknownAncestor
	}
	if header.Number.Uint64() != parent.Number.Uint64()+1 {
		return consensus.ErrInvalidNumber
	}
	if header.Time <= parent.Time {
		return consensus.ErrTimestampTooOld
	}

	config := chain.Config()
	if err := misc.VerifyDAOHeaderExtraData(config, header); err != nil {
		return err
	}

	expected := CalcDifficulty(config, header.Time, parent)
	if header.Difficulty == nil || header.Difficulty.Cmp(expected) != 0 {
		return consensus.ErrInvalidDifficulty
	}

	london := config.IsLondon(header.Number)
	if london {
		if err := misc.VerifyEip1559Header(config, parent, header); err != nil {
			return err
		}
	} else {
		if err := misc.VerifyGasLimit(parent.GasLimit, header.GasLimit); err != nil {
			return err
		}
	}

	if !seal {
		return nil
	}
	return e.VerifySeal(header)
}

// VerifyUncles checks the ommer set of a block.
func (e *Engine) VerifyUncles(chain consensus.ChainHeaderReader, block *types.Block) error {
	uncles := block.Uncles()
	if len(uncles) > MaxUncles {
		return errTooManyUncles
	}
	if len(uncles) == 0 {
		return nil
	}

	seen := make(map[common.Hash]bool)
	ancestors := make(map[common.Hash]*types.Header)

	number, parent := block.NumberU64()-1, block.ParentHash()
	for i := 0; i < MaxUncleDepth; i++ {
		ancestorHeader := chain.GetHeader(parent, number)
		if ancestorHeader == nil {
			break
		}
		ancestors[parent] = ancestorHeader
		parent, number = ancestorHeader.ParentHash, number-1
	}
	ancestors[block.Hash()] = block.Header()
	seen[block.Hash()] = true

	for _, uncle := range uncles {
		uncleHash := uncle.Hash()
		if seen[uncleHash] {
			return errDuplicateUncle
		}
		seen[uncleHash] = true

		if ancestors[uncleHash] != nil {
			return errUncleIsAncestor
		}
		if ancestors[uncle.ParentHash] == nil || uncle.ParentHash == block.ParentHash() {
			return errDanglingUncle
		}
		if err := e.VerifyHeader(chain, uncle); err != nil {
			return err
		}
	}
	return nil
}

// VerifySeal verifies that the header's nonce/mix-digest satisfy the PoW
// target.
func (e *Engine) VerifySeal(header *types.Header) error {
	if header.Difficulty.Sign() <= 0 {
		return consensus.ErrInvalidDifficulty
	}
	c := e.caches.get(epoch(header.Number.Uint64()))

	digest, result := hashimotoLight(c, sealHash(header).Bytes(), header.Nonce.Uint64())
	if !bytesEqual(digest, header.MixDigest.Bytes()) {
		e.log.Debug("invalid mix digest on seal check", "number", header.Number, "cacheEpoch", c.epoch)
		return consensus.ErrInvalidMixDigest
	}

	target := new(uint256.Int).Div(uint256Max(), uint256.MustFromBig(header.Difficulty))
	if new(uint256.Int).SetBytes(result).Cmp(target) > 0 {
		return consensus.ErrInvalidPoW
	}
	return nil
}

func uint256Max() *uint256.Int {
	return new(uint256.Int).Not(uint256.NewInt(0))
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// sealHash returns the hash of a header prior to it being sealed, i.e. with
// the mix digest and nonce stripped -- the value actually fed through
// hashimoto.
func sealHash(header *types.Header) (hash common.Hash) {
	cpy := types.CopyHeader(header)
	cpy.MixDigest = common.Hash{}
	cpy.Nonce = types.BlockNonce{}
	return cpy.Hash()
}

// CalcDifficulty implements the difficulty adjustment used by the PoW
// engine; homestead-style adjustment with the bomb delay schedule collapsed
// to the fork-dependent constant deltas actual geth versions apply.
func CalcDifficulty(config *params.ChainConfig, time uint64, parent *types.Header) *big.Int {
	next := new(big.Int).Add(parent.Number, big.NewInt(1))
	switch {
	case config.IsGrayGlacier(next):
		return calcDifficultyEIP5133(time, parent)
	case config.IsArrowGlacier(next):
		return calcDifficultyEIP4345(time, parent)
	case config.IsLondon(next):
		return calcDifficultyEIP3554(time, parent)
	default:
		return calcDifficultyHomestead(time, parent)
	}
}
