// Copyright 2024 The execore Authors
// This file is part of execore.
//
// execore is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// execore is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with execore. If not, see <http://www.gnu.org/licenses/>.

// Package consensus defines the interfaces the header/seal validation engine
// and the sync orchestrator share, plus the closed-set error taxonomy of
// validation failures.
package consensus

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
)

// ChainHeaderReader is the subset of the chain database a consensus
// engine needs to validate headers: random access by hash or number plus the
// current head. It is implemented by core/chain.Reader; the engine never
// holds a concrete chain type.
type ChainHeaderReader interface {
	// Config returns the chain configuration (fork-block schedule, dao-fork,
	// clique/ethash parameters).
	Config() *params.ChainConfig

	// CurrentHeader retrieves the current head header.
	CurrentHeader() *types.Header

	// GetHeader retrieves a header both by hash and number.
	GetHeader(hash common.Hash, number uint64) *types.Header

	// GetHeaderByNumber retrieves a header by its number, disregarding hash.
	GetHeaderByNumber(number uint64) *types.Header

	// GetHeaderByHash retrieves a header by its hash, disregarding number.
	GetHeaderByHash(hash common.Hash) *types.Header

	// GetTd returns the total difficulty of a local block.
	GetTd(hash common.Hash, number uint64) *big.Int
}

// Engine is the consensus verifier interface. It is implemented by
// consensus/ethash.Engine (proof-of-work) and consensus/clique.Engine
// (proof-of-authority). Block production (Prepare/Finalize/Seal producing a
// new sealed header) is out of scope: those methods are not part of this
// interface, only verification.
type Engine interface {
	// Author retrieves the address of the account that minted the given
	// block. For ethash this is the header's coinbase; for clique it is
	// recovered from the seal signature.
	Author(header *types.Header) (common.Address, error)

	// VerifyHeader checks whether a header conforms to the consensus rules
	// of the engine. It may consult the parent chain for ancestor lookups.
	VerifyHeader(chain ChainHeaderReader, header *types.Header) error

	// VerifyHeaders is similar to VerifyHeader, but verifies a batch of
	// headers concurrently with the caller. The method returns a quit channel
	// to abort the operation between two headers and a results channel to
	// retrieve the verification errors, delivered in input order. seals[i]
	// may be set false to skip the (expensive) seal check for a header whose
	// seal the caller trusts already.
	VerifyHeaders(chain ChainHeaderReader, headers []*types.Header, seals []bool) (chan<- struct{}, <-chan error)

	// VerifyUncles verifies the uncle block headers conform to the
	// consensus rules. Clique has no uncles: its header's uncle hash must
	// equal the empty-uncle hash, and its VerifyUncles rejects any block that
	// carries uncles.
	VerifyUncles(chain ChainHeaderReader, block *types.Block) error

	// Close terminates any background threads maintained by the engine.
	Close() error
}
