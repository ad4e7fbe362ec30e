// Copyright 2024 The execore Authors
// This file is part of execore.
//
// execore is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package clique implements the clique proof-of-authority consensus
// verifier: header rules, the rolling authority snapshot, and vote tallying.
package clique

import (
	"bytes"
	"errors"
	"math/big"
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/execore-project/execore/consensus"
	"github.com/execore-project/execore/consensus/misc"
)

const (
	checkpointInterval = 1024 // blocks after which a snapshot is force-persisted to disk
	inmemorySnapshots  = 128  // number of recent snapshots kept in memory
	inmemorySignatures = 4096 // number of recent block signatures kept in memory

	extraVanity = 32 // fixed number of extra-data prefix bytes reserved for signer vanity
	extraSeal   = 65 // fixed number of extra-data suffix bytes reserved for signer seal
)

var (
	// diffInTurn / diffNoTurn are the difficulty values the in-turn and
	// not-in-turn signer must use.
	diffInTurn = big.NewInt(2)
	diffNoTurn = big.NewInt(1)

	nonceAuthVote = hexNonce("0xffffffffffffffff")
	nonceDropVote = hexNonce("0x0000000000000000")

	emptyUncleHash = types.CalcUncleHash(nil)

	errInvalidVotingChain = errors.New("invalid voting chain")
)

func hexNonce(s string) []byte {
	b := common.FromHex(s)
	out := make([]byte, 8)
	copy(out[8-len(b):], b)
	return out
}

// Config tunes the clique engine.
type Config struct {
	Period uint64 // minimum difference between two consecutive block timestamps
	Epoch  uint64 // number of blocks after which a checkpoint must be created
}

func (c *Config) withDefaults() *Config {
	cpy := *c
	if cpy.Epoch == 0 {
		cpy.Epoch = 30000
	}
	return &cpy
}

// Engine is the proof-of-authority consensus.Engine implementation.
type Engine struct {
	config *Config
	db     ethdb.Database

	recents    *lru.ARCCache // snapshots cache (block hash -> *Snapshot)
	signatures *lru.ARCCache // ecrecover cache (header hash -> signer)

	// signer is the address this engine would seal with, set via Authorize.
	// lock serialises access to it: a single-owner token around the signer
	// fields, held for the duration of any read or update.
	signer common.Address
	lock   sync.Mutex

	log log.Logger

	// failMu guards lastRejected, which records the reason the most recent
	// VerifyHeader/VerifyHeaders batch failed and at which header, so a
	// caller can surface it.
	failMu       sync.Mutex
	lastRejected error
}

// New creates a Clique proof-of-authority consensus engine.
func New(config *Config, db ethdb.Database) *Engine {
	config = config.withDefaults()
	recents, _ := lru.NewARC(inmemorySnapshots)
	signatures, _ := lru.NewARC(inmemorySignatures)
	return &Engine{
		config:     config,
		db:         db,
		recents:    recents,
		signatures: signatures,
		log:        log.New("engine", "clique"),
	}
}

// Close implements consensus.Engine; clique keeps no background goroutines.
func (c *Engine) Close() error { return nil }

// LastError returns the reason the most recent header batch was rejected
// for, or nil. Cleared the next time VerifyHeader succeeds.
func (c *Engine) LastError() error {
	c.failMu.Lock()
	defer c.failMu.Unlock()
	return c.lastRejected
}

func (c *Engine) setLastError(err error) {
	c.failMu.Lock()
	c.lastRejected = err
	c.failMu.Unlock()
}

// Authorize injects the signing address this engine seals on behalf of.
// Sealing itself (authoring the signature) is not implemented; the engine
// only records the identity so in-turn scheduling and operator tooling can
// ask which signer is active.
func (c *Engine) Authorize(signer common.Address) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.signer = signer
}

// ActiveSigner returns the address set via Authorize, or the zero address.
func (c *Engine) ActiveSigner() common.Address {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.signer
}

// Author implements consensus.Engine, returning the header's validated
// signer, recovered from its seal.
func (c *Engine) Author(header *types.Header) (common.Address, error) {
	return ecrecover(header, c.signatures)
}

// VerifyUncles implements consensus.Engine. Clique blocks must have no
// uncles, so it only needs to check the block has an empty uncle list.
func (c *Engine) VerifyUncles(chain consensus.ChainHeaderReader, block *types.Block) error {
	if len(block.Uncles()) > 0 {
		return errInvalidUncleHash
	}
	return nil
}

// VerifyHeader checks whether a header conforms to the consensus rules of
// the clique engine. On failure the reason is both returned and retained
// via lastRejected.
func (c *Engine) VerifyHeader(chain consensus.ChainHeaderReader, header *types.Header) error {
	if err := c.verifyHeader(chain, header, nil); err != nil {
		c.setLastError(err)
		return err
	}
	c.setLastError(nil)
	return nil
}

// VerifyHeaders is the batch form used by the sync orchestrator: an
// ascending run of headers shares one snapshot walk instead of each header
// hitting the database. Verification runs concurrently with the caller; the
// returned quit channel aborts it between two headers, and results are
// delivered per header in input order. The seals argument is accepted for
// interface symmetry but ignored: a clique header's seal is its signature,
// which the snapshot walk has to recover anyway. The first failing header's
// reason is retained on the engine for LastError.
func (c *Engine) VerifyHeaders(chain consensus.ChainHeaderReader, headers []*types.Header, seals []bool) (chan<- struct{}, <-chan error) {
	abort := make(chan struct{})
	results := make(chan error, len(headers))
	go func() {
		var failed error
		for i, header := range headers {
			err := c.verifyHeader(chain, header, headers[:i])
			if err != nil && failed == nil {
				failed = err
			}
			select {
			case <-abort:
				c.setLastError(failed)
				return
			case results <- err:
			}
		}
		c.setLastError(failed)
	}()
	return abort, results
}

func (c *Engine) verifyHeader(chain consensus.ChainHeaderReader, header *types.Header, parents []*types.Header) error {
	if header.Number == nil {
		return consensus.ErrInvalidNumber
	}
	number := header.Number.Uint64()

	checkpoint := number%c.config.Epoch == 0

	if checkpoint && header.Coinbase != (common.Address{}) {
		return errInvalidCheckpointBeneficiary
	}

	if !bytes.Equal(header.Nonce[:], nonceAuthVote) && !bytes.Equal(header.Nonce[:], nonceDropVote) {
		return errInvalidVote
	}
	if checkpoint && !bytes.Equal(header.Nonce[:], nonceDropVote) {
		return errInvalidCheckpointVote
	}

	if len(header.Extra) < extraVanity {
		return errMissingVanity
	}
	if len(header.Extra) < extraVanity+extraSeal {
		return errMissingSignature
	}
	signersBytes := len(header.Extra) - extraVanity - extraSeal
	if !checkpoint && signersBytes != 0 {
		return errExtraValidators
	}
	if checkpoint && signersBytes%common.AddressLength != 0 {
		return errInvalidCheckpointSigners
	}

	if header.MixDigest != (common.Hash{}) {
		return errInvalidMixDigest
	}
	if header.UncleHash != emptyUncleHash {
		return errInvalidUncleHash
	}
	if number > 0 {
		if header.Difficulty == nil || (header.Difficulty.Cmp(diffInTurn) != 0 && header.Difficulty.Cmp(diffNoTurn) != 0) {
			return errInvalidDifficulty
		}
	}

	if parent := parentOf(chain, header, parents); parent == nil {
		return consensus.ErrUnknownAncestor
	} else {
		if parent.Number.Uint64()+1 != number {
			return consensus.ErrInvalidNumber
		}
		if parent.Time+c.config.Period > header.Time {
			return errInvalidTimestamp
		}
		if err := misc.VerifyGasLimit(parent.GasLimit, header.GasLimit); err != nil {
			return err
		}
	}

	return c.verifySeal(chain, header, parents)
}

func parentOf(chain consensus.ChainHeaderReader, header *types.Header, parents []*types.Header) *types.Header {
	number := header.Number.Uint64()
	if len(parents) > 0 {
		if p := parents[len(parents)-1]; p.Number.Uint64() == number-1 && p.Hash() == header.ParentHash {
			return p
		}
	}
	return chain.GetHeader(header.ParentHash, number-1)
}

// verifySeal checks whether the signature contained in the header satisfies
// the consensus protocol requirements: the signer is authorised and hasn't
// signed recently, and the difficulty matches in-turn/not-in-turn rotation.
func (c *Engine) verifySeal(chain consensus.ChainHeaderReader, header *types.Header, parents []*types.Header) error {
	number := header.Number.Uint64()

	snap, err := c.snapshot(chain, number-1, header.ParentHash, parents)
	if err != nil {
		return err
	}
	signer, err := ecrecover(header, c.signatures)
	if err != nil {
		return err
	}
	if _, ok := snap.Signers[signer]; !ok {
		return errUnauthorizedSigner
	}
	for seen, recent := range snap.Recents {
		if recent == signer {
			if limit := uint64(len(snap.Signers)/2 + 1); seen > number-limit {
				return errRecentlySigned
			}
		}
	}
	inturn := snap.inturn(number, signer)
	if inturn && header.Difficulty.Cmp(diffInTurn) != 0 {
		return errWrongDifficulty
	}
	if !inturn && header.Difficulty.Cmp(diffNoTurn) != 0 {
		return errWrongDifficulty
	}

	if number%c.config.Epoch == 0 {
		wantSigners := snap.signers()
		wantExtra := make([]byte, 0, len(wantSigners)*common.AddressLength)
		for _, s := range wantSigners {
			wantExtra = append(wantExtra, s[:]...)
		}
		have := header.Extra[extraVanity : len(header.Extra)-extraSeal]
		if !bytes.Equal(have, wantExtra) {
			return errMismatchingCheckpointSigners
		}
	}
	return nil
}

// snapshot retrieves the authorization snapshot at a given point in time by
// walking back through checkpoints, then replaying headers forward.
func (c *Engine) snapshot(chain consensus.ChainHeaderReader, number uint64, hash common.Hash, parents []*types.Header) (*Snapshot, error) {
	var (
		headers []*types.Header
		snap    *Snapshot
	)

	for snap == nil {
		if s, ok := c.recents.Get(hash); ok {
			snap = s.(*Snapshot)
			break
		}
		if number%checkpointInterval == 0 {
			if s, err := loadSnapshot(c.config, c.signatures, c.db, hash); err == nil {
				c.log.Debug("loaded voting snapshot from disk", "number", number, "hash", hash)
				snap = s
				break
			}
		}
		if number == 0 {
			genesis := chain.GetHeaderByNumber(0)
			if genesis == nil {
				return nil, errUnknownBlock
			}
			signers := make([]common.Address, (len(genesis.Extra)-extraVanity-extraSeal)/common.AddressLength)
			for i := range signers {
				copy(signers[i][:], genesis.Extra[extraVanity+i*common.AddressLength:])
			}
			snap = newSnapshot(c.config, c.signatures, 0, genesis.Hash(), signers)
			if err := snap.store(c.db); err != nil {
				return nil, err
			}
			break
		}

		var header *types.Header
		if len(parents) > 0 {
			header = parents[len(parents)-1]
			if header.Hash() != hash || header.Number.Uint64() != number {
				return nil, consensus.ErrUnknownAncestor
			}
			parents = parents[:len(parents)-1]
		} else {
			header = chain.GetHeader(hash, number)
			if header == nil {
				return nil, consensus.ErrUnknownAncestor
			}
		}
		headers = append(headers, header)
		number, hash = number-1, header.ParentHash
	}

	for i, j := 0, len(headers)-1; i < j; i, j = i+1, j-1 {
		headers[i], headers[j] = headers[j], headers[i]
	}
	snap, err := snap.apply(headers)
	if err != nil {
		return nil, err
	}
	c.recents.Add(snap.Hash, snap)

	if snap.Number%checkpointInterval == 0 && len(headers) > 0 {
		if err := snap.store(c.db); err != nil {
			return nil, err
		}
		c.log.Trace("stored voting snapshot to disk", "number", snap.Number, "hash", snap.Hash)
	}
	return snap, nil
}

// SnapshotAt exposes the (possibly cached) snapshot at a block for
// read-only callers (e.g. the sync orchestrator inspecting authority state).
func (c *Engine) SnapshotAt(chain consensus.ChainHeaderReader, number uint64, hash common.Hash) (*Snapshot, error) {
	return c.snapshot(chain, number, hash, nil)
}

// SignersSorted returns the sorted signer list of a snapshot.
func (s *Snapshot) SignersSorted() []common.Address { return s.signers() }

// Proposals returns the current outstanding proposals at a snapshot: every
// address with a live tally, mapped to whether the proposal is to authorize
// (true) or kick (false) it.
func (s *Snapshot) Proposals() map[common.Address]bool {
	out := make(map[common.Address]bool, len(s.Tally))
	for addr, tally := range s.Tally {
		out[addr] = tally.Authorize
	}
	return out
}

// SealHash returns the hash of a header prior to it being sealed, the value
// that is actually signed over.
func SealHash(header *types.Header) common.Hash {
	cpy := types.CopyHeader(header)
	cpy.Extra = cpy.Extra[:len(cpy.Extra)-extraSeal]
	hash, err := rlpHash(encodingHeader(cpy))
	if err != nil {
		panic(err)
	}
	return hash
}

// ecrecover extracts the Ethereum account address from a signed header.
func ecrecover(header *types.Header, sigcache *lru.ARCCache) (common.Address, error) {
	hash := header.Hash()
	if address, known := sigcache.Get(hash); known {
		return address.(common.Address), nil
	}
	if len(header.Extra) < extraSeal {
		return common.Address{}, errMissingSignature
	}
	signature := header.Extra[len(header.Extra)-extraSeal:]

	pubkey, err := crypto.Ecrecover(SealHash(header).Bytes(), signature)
	if err != nil {
		return common.Address{}, err
	}
	var signer common.Address
	copy(signer[:], crypto.Keccak256(pubkey[1:])[12:])

	sigcache.Add(hash, signer)
	return signer, nil
}

func rlpHash(v interface{}) (h common.Hash, err error) {
	b, err := rlp.EncodeToBytes(v)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(b), nil
}

// encodingHeader is the RLP-encodable projection of a header used for the
// seal hash: same field order as types.Header but always omitting the seal
// (extra already has it stripped by the caller).
func encodingHeader(h *types.Header) interface{} {
	enc := []interface{}{
		h.ParentHash,
		h.UncleHash,
		h.Coinbase,
		h.Root,
		h.TxHash,
		h.ReceiptHash,
		h.Bloom,
		h.Difficulty,
		h.Number,
		h.GasLimit,
		h.GasUsed,
		h.Time,
		h.Extra,
		h.MixDigest,
		h.Nonce,
	}
	if h.BaseFee != nil {
		enc = append(enc, h.BaseFee)
	}
	return enc
}
