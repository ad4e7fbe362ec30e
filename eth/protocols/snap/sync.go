// Copyright 2024 The execore Authors
// This file is part of execore.
//
// execore is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package snap

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// AccountRangeReply is a peer's answer to GetAccountRange.
type AccountRangeReply struct {
	Accounts []AccountData
	Proof    [][]byte
}

// StorageRangeReply is a peer's answer to GetStorageRanges: one slot list
// per requested account, plus a proof for the last account's range (or all
// accounts' ranges if the reply had to stop early on size).
type StorageRangeReply struct {
	Slots [][]AccountData
	Proof [][]byte
}

// PeerFetcher is the transport-layer collaborator used to request account
// ranges from a specific peer. GetStorageRanges, GetByteCodes, and
// GetTrieNodes carry the same request/reply shape as GetAccountRange over
// the snap/1 wire protocol; the core specified here never calls them (no
// storage healer or byte-code walker is implemented — see Non-goals), but
// the interface exposes them so a transport implementation has a single
// collaborator boundary to satisfy for the whole snap/1 surface.
type PeerFetcher interface {
	GetAccountRange(peer string, root common.Hash, lo, hi common.Hash, replyBytesCap uint64) (AccountRangeReply, error)
	// MarkExhausted records that a peer has no further accounts beyond a
	// point in hash space for this sync.
	MarkExhausted(peer string)

	// GetStorageRanges requests the storage slots of one or more accounts
	// under root, each bounded to [lo, hi] within that account's own
	// storage trie. Not called by this module's Syncer.
	GetStorageRanges(peer string, root common.Hash, accounts []common.Hash, lo, hi common.Hash, replyBytesCap uint64) (StorageRangeReply, error)

	// GetByteCodes requests contract bytecode by code hash. Not called by
	// this module's Syncer.
	GetByteCodes(peer string, hashes []common.Hash, replyBytesCap uint64) ([][]byte, error)

	// GetTrieNodes requests raw trie nodes by (account path, node path)
	// pairs, used by a storage healer this module does not implement. Not
	// called by this module's Syncer.
	GetTrieNodes(peer string, root common.Hash, paths [][][]byte, replyBytesCap uint64) ([][]byte, error)
}

func maxHash() common.Hash {
	var h common.Hash
	for i := range h {
		h[i] = 0xff
	}
	return h
}

// Syncer drives the account-range fetch loop against a single state root.
// Many peer loops may call FetchOnce concurrently; all shared state (the
// interval set, the proof DB) is synchronised internally.
type Syncer struct {
	mu sync.Mutex

	root           common.Hash
	intervals      *IntervalSet
	proofDB        *ProofDB
	fetcher        PeerFetcher
	maxIntervalLen *big.Int
	replyBytesCap  uint64
}

// NewSyncer creates a syncer for the full account-hash space under root.
func NewSyncer(root common.Hash, fetcher PeerFetcher, maxIntervalLen *big.Int, replyBytesCap uint64) *Syncer {
	return &Syncer{
		root:           root,
		intervals:      NewIntervalSet(common.Hash{}, maxHash()),
		proofDB:        NewProofDB(),
		fetcher:        fetcher,
		maxIntervalLen: maxIntervalLen,
		replyBytesCap:  replyBytesCap,
	}
}

// Done reports whether every account-hash interval has been fetched.
func (s *Syncer) Done() bool { return s.intervals.Empty() }

// FetchOnce runs one iteration of a peer's loop. Returns ErrNoWork-equivalent
// nil with ok=false when nothing remains to fetch.
func (s *Syncer) FetchOnce(peer string) (ok bool, err error) {
	lo, hi, got := s.intervals.Acquire(s.maxIntervalLen)
	if !got {
		return false, nil
	}

	reply, err := s.fetcher.GetAccountRange(peer, s.root, lo, hi, s.replyBytesCap)
	if err != nil {
		s.intervals.Insert(lo, hi) // nothing consumed; return the interval
		return true, err
	}
	return true, s.handleReply(peer, lo, hi, reply)
}

// Run drives one peer's fetch loop: acquire an interval, request it, apply
// the reply, repeat until the account space is exhausted or ctx is
// cancelled. Transport errors back off for retry before the next attempt;
// protocol violations and a missing state root end the loop with the error
// so the caller can disconnect the peer. Request timeouts are the fetcher's
// concern and surface here as transport errors.
func (s *Syncer) Run(ctx context.Context, peer string, retry time.Duration) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		ok, err := s.FetchOnce(peer)
		if !ok {
			return nil
		}
		switch {
		case err == nil:
		case errors.Is(err, ErrNoAccountsForStateRoot),
			errors.Is(err, ErrMissingProof),
			errors.Is(err, ErrOutOfRange),
			errors.Is(err, ErrUnorderedAccounts),
			errors.Is(err, ErrInvalidProof):
			return err
		default:
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retry):
			}
		}
	}
}

// handleReply validates and applies one GetAccountRange reply. It holds the
// syncer lock for the whole merge so concurrent peer loops never interleave
// partial node sets into the shared proof DB.
func (s *Syncer) handleReply(peer string, lo, hi common.Hash, reply AccountRangeReply) error {
	if len(reply.Accounts) == 0 {
		if len(reply.Proof) == 0 {
			s.intervals.Insert(lo, hi)
			return ErrNoAccountsForStateRoot
		}
		// Terminal signal: no further accounts exist beyond lo. The
		// acquired [lo, hi] interval was already removed by Acquire and
		// is not reinserted; the peer has nothing more to offer.
		s.fetcher.MarkExhausted(peer)
		return nil
	}

	zero := common.Hash{}
	if lo != zero && len(reply.Proof) == 0 {
		s.intervals.Insert(lo, hi)
		return ErrMissingProof
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	merge := s.proofDB.NewMerge()
	for _, node := range reply.Proof {
		merge.AddNode(node)
	}
	for _, acc := range reply.Accounts {
		merge.AddAccount(acc.Hash, acc.Body)
	}

	if err := merge.Validate(s.root, lo); err != nil {
		merge.Rollback()
		s.intervals.Insert(lo, hi)
		return err
	}

	first := reply.Accounts[0].Hash
	last := reply.Accounts[len(reply.Accounts)-1].Hash
	if first.Big().Cmp(lo.Big()) < 0 {
		merge.Rollback()
		s.intervals.Insert(lo, hi)
		return ErrOutOfRange
	}

	overshoot := last.Big().Cmp(hi.Big()) > 0
	if overshoot {
		// At most one trailing account beyond hi is permitted.
		if len(reply.Accounts) < 2 || reply.Accounts[len(reply.Accounts)-2].Hash.Big().Cmp(hi.Big()) > 0 {
			merge.Rollback()
			s.intervals.Insert(lo, hi)
			return ErrOutOfRange
		}
	}

	// Consumed prefix = last_hash - lo + 1; any unconsumed suffix of [lo,
	// hi] is returned to the interval set.
	consumedEnd := last
	if overshoot {
		consumedEnd = hi // this interval is fully consumed; the overshoot
		// account belongs to whatever interval follows hi.
	}
	if consumedEnd.Big().Cmp(hi.Big()) < 0 {
		suffixLo := new(big.Int).Add(consumedEnd.Big(), big.NewInt(1))
		s.intervals.Insert(intToHash(suffixLo), hi)
	}
	return nil
}
