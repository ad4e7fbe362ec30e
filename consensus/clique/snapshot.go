// Copyright 2024 The execore Authors
// This file is part of execore.
//
// execore is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package clique

import (
	"bytes"
	"encoding/json"
	"sort"

	lru "github.com/hashicorp/golang-lru"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethdb"
)

// Vote represents a single vote an authorized signer made to modify the
// list of authorisations.
type Vote struct {
	Signer    common.Address `json:"signer"`    // authorized signer that cast this vote
	Block     uint64         `json:"block"`     // block number the vote was cast in
	Address   common.Address `json:"address"`   // account being voted on
	Authorize bool           `json:"authorize"` // whether it was a proposal to authorize or deauthorize
}

// Tally is the accumulated statistics for a single address's voting.
type Tally struct {
	Authorize bool `json:"authorize"` // whether the vote is about authorizing or kicking someone
	Votes     int  `json:"votes"`     // number of votes until now
}

// Snapshot is the state of the authorization voting at a given point in
// time. It is immutable: apply() always returns a new value.
type Snapshot struct {
	config   *Config       // consensus engine parameters to fine tune behaviour
	sigcache *lru.ARCCache // cache of recent block signatures to speed up ecrecover

	Number  uint64                      `json:"number"`  // block number where the snapshot was created
	Hash    common.Hash                 `json:"hash"`    // block hash where the snapshot was created
	Signers map[common.Address]struct{} `json:"signers"` // set of authorized signers at this moment
	Recents map[uint64]common.Address   `json:"recents"` // set of recent signers for spam protection
	Votes   []*Vote                     `json:"votes"`   // list of votes cast in chronological order
	Tally   map[common.Address]Tally    `json:"tally"`   // current vote tally to avoid recalculating
}

// signersAscending implements sort.Interface so signer sets can be rendered
// into the deterministic (address-ascending) order the checkpoint extra-data
// encoding and in-turn rotation both depend on.
type signersAscending []common.Address

func (s signersAscending) Len() int           { return len(s) }
func (s signersAscending) Less(i, j int) bool { return bytes.Compare(s[i][:], s[j][:]) < 0 }
func (s signersAscending) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }

// newSnapshot creates a new snapshot with the specified startup parameters.
// It does not populate any recent-signer or vote history, so it must only be
// used for the genesis block or a checkpoint.
func newSnapshot(config *Config, sigcache *lru.ARCCache, number uint64, hash common.Hash, signers []common.Address) *Snapshot {
	snap := &Snapshot{
		config:   config,
		sigcache: sigcache,
		Number:   number,
		Hash:     hash,
		Signers:  make(map[common.Address]struct{}),
		Recents:  make(map[uint64]common.Address),
		Tally:    make(map[common.Address]Tally),
	}
	for _, signer := range signers {
		snap.Signers[signer] = struct{}{}
	}
	return snap
}

// loadSnapshot loads an existing snapshot from the database.
func loadSnapshot(config *Config, sigcache *lru.ARCCache, db ethdb.Database, hash common.Hash) (*Snapshot, error) {
	blob, err := db.Get(append([]byte("clique-"), hash[:]...))
	if err != nil {
		return nil, err
	}
	snap := new(Snapshot)
	if err := json.Unmarshal(blob, snap); err != nil {
		return nil, err
	}
	snap.config = config
	snap.sigcache = sigcache
	return snap, nil
}

// store inserts the snapshot into the database.
func (s *Snapshot) store(db ethdb.Database) error {
	blob, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return db.Put(append([]byte("clique-"), s.Hash[:]...), blob)
}

// copy creates a deep copy of the snapshot, though not the individual votes.
func (s *Snapshot) copy() *Snapshot {
	cpy := &Snapshot{
		config:   s.config,
		sigcache: s.sigcache,
		Number:   s.Number,
		Hash:     s.Hash,
		Signers:  make(map[common.Address]struct{}),
		Recents:  make(map[uint64]common.Address),
		Votes:    make([]*Vote, len(s.Votes)),
		Tally:    make(map[common.Address]Tally),
	}
	for signer := range s.Signers {
		cpy.Signers[signer] = struct{}{}
	}
	for block, signer := range s.Recents {
		cpy.Recents[block] = signer
	}
	for address, tally := range s.Tally {
		cpy.Tally[address] = tally
	}
	copy(cpy.Votes, s.Votes)
	return cpy
}

// validVote returns whether it makes sense to cast the specified vote in
// the given snapshot context (e.g. don't try to add an already authorized
// signer, or remove a non-authorized one).
func (s *Snapshot) validVote(address common.Address, authorize bool) bool {
	_, signer := s.Signers[address]
	return (signer && !authorize) || (!signer && authorize)
}

// cast adds a new vote into the tally.
func (s *Snapshot) cast(address common.Address, authorize bool) bool {
	if !s.validVote(address, authorize) {
		return false
	}
	if old, ok := s.Tally[address]; ok {
		old.Votes++
		s.Tally[address] = old
	} else {
		s.Tally[address] = Tally{Authorize: authorize, Votes: 1}
	}
	return true
}

// uncast removes a previously cast vote from the tally.
func (s *Snapshot) uncast(address common.Address, authorize bool) bool {
	tally, ok := s.Tally[address]
	if !ok {
		return false
	}
	if tally.Authorize != authorize {
		return false
	}
	if tally.Votes <= 1 {
		delete(s.Tally, address)
	} else {
		tally.Votes--
		s.Tally[address] = tally
	}
	return true
}

// apply creates a new authorization snapshot by applying the given headers
// to the original one. Headers must be contiguous and in ascending order
// starting one past s.Number.
func (s *Snapshot) apply(headers []*types.Header) (*Snapshot, error) {
	if len(headers) == 0 {
		return s, nil
	}
	for i := 0; i < len(headers)-1; i++ {
		if headers[i+1].Number.Uint64() != headers[i].Number.Uint64()+1 {
			return nil, errInvalidVotingChain
		}
	}
	if headers[0].Number.Uint64() != s.Number+1 {
		return nil, errInvalidVotingChain
	}

	snap := s.copy()

	for _, header := range headers {
		number := header.Number.Uint64()

		// Remove any votes on checkpoint blocks: they always carry the
		// canonical list and never any in-progress voting.
		if number%snap.config.Epoch == 0 {
			snap.Votes = nil
			snap.Tally = make(map[common.Address]Tally)
		}

		// Delete the oldest signer from the recent list to allow it signing
		// again. This runs before the authorisation check, so the check sees
		// at most the previous |signers|/2 signers; once this header's signer
		// is recorded, Recents holds at most |signers|/2+1 entries.
		if limit := uint64(len(snap.Signers)/2 + 1); number >= limit {
			delete(snap.Recents, number-limit)
		}

		signer, err := ecrecover(header, s.sigcache)
		if err != nil {
			return nil, err
		}
		if _, ok := snap.Signers[signer]; !ok {
			return nil, errUnauthorizedSigner
		}
		for _, recent := range snap.Recents {
			if recent == signer {
				return nil, errRecentlySigned
			}
		}
		snap.Recents[number] = signer

		// Header difficulty must match whether the signer was in-turn.
		inturn := snap.inturn(number, signer)
		if inturn && header.Difficulty.Cmp(diffInTurn) != 0 {
			return nil, errWrongDifficulty
		}
		if !inturn && header.Difficulty.Cmp(diffNoTurn) != 0 {
			return nil, errWrongDifficulty
		}

		// Tally up any new vote from the signer, purging any previous vote
		// of theirs against the same target address first.
		for i, vote := range snap.Votes {
			if vote.Signer == signer && vote.Address == header.Coinbase {
				snap.uncast(vote.Address, vote.Authorize)
				snap.Votes = append(snap.Votes[:i], snap.Votes[i+1:]...)
				break
			}
		}
		var authorize bool
		switch {
		case bytes.Equal(header.Nonce[:], nonceAuthVote):
			authorize = true
		case bytes.Equal(header.Nonce[:], nonceDropVote):
			authorize = false
		default:
			return nil, errInvalidVote
		}
		if header.Coinbase != (common.Address{}) {
			if snap.cast(header.Coinbase, authorize) {
				snap.Votes = append(snap.Votes, &Vote{
					Signer:    signer,
					Block:     number,
					Address:   header.Coinbase,
					Authorize: authorize,
				})
			}
			// If the vote passed, update the list of signers: commit the change
			// (add or remove the target), purge the target's votes, rebalance recent.
			if tally := snap.Tally[header.Coinbase]; tally.Votes > len(snap.Signers)/2 {
				if tally.Authorize {
					snap.Signers[header.Coinbase] = struct{}{}
				} else {
					delete(snap.Signers, header.Coinbase)

					// Reduce the recent-signer window to reflect the smaller
					// signer set and purge a now-stale entry if present.
					if limit := uint64(len(snap.Signers)/2 + 1); number >= limit {
						delete(snap.Recents, number-limit)
					}
					// Discard any previous votes the deauthorized signer cast.
					for i := 0; i < len(snap.Votes); i++ {
						if snap.Votes[i].Signer == header.Coinbase {
							snap.uncast(snap.Votes[i].Address, snap.Votes[i].Authorize)
							snap.Votes = append(snap.Votes[:i], snap.Votes[i+1:]...)
							i--
						}
					}
				}
				// Discard any pending votes for the now-resolved address.
				for i := 0; i < len(snap.Votes); i++ {
					if snap.Votes[i].Address == header.Coinbase {
						snap.Votes = append(snap.Votes[:i], snap.Votes[i+1:]...)
						i--
					}
				}
				delete(snap.Tally, header.Coinbase)
			}
		}
	}
	snap.Number += uint64(len(headers))
	snap.Hash = headers[len(headers)-1].Hash()
	return snap, nil
}

// signers retrieves the list of authorized signers in ascending order.
func (s *Snapshot) signers() []common.Address {
	signers := make([]common.Address, 0, len(s.Signers))
	for signer := range s.Signers {
		signers = append(signers, signer)
	}
	sort.Sort(signersAscending(signers))
	return signers
}

// inturn returns whether a signer at a given block height is in-turn or not.
func (s *Snapshot) inturn(number uint64, signer common.Address) bool {
	signers, offset := s.signers(), 0
	for offset < len(signers) && signers[offset] != signer {
		offset++
	}
	return (number % uint64(len(signers))) == uint64(offset)
}
