// Copyright 2024 The execore Authors
// This file is part of execore.
//
// execore is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package downloader

import (
	"errors"
	"math/rand"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/core/types"
)

// errUnknownHeader is returned by staticProber when asked about a
// (peer, number) pair it was never seeded with.
var errUnknownHeader = errors.New("downloader: no header on record for peer at that number")

// HeaderProber asks a specific peer for the header it claims at a given
// block number, within one round-trip.
type HeaderProber interface {
	HeaderByNumber(peer string, number uint64) (*types.Header, error)
}

// Gate is the trusted-peer admission gate. A newly connected peer is accepted
// provisionally until the trusted set reaches two members, after which every
// new candidate must be corroborated against the existing set.
type Gate struct {
	mu        sync.Mutex
	trusted   mapset.Set[string]
	claims    map[string]*types.Header // peer id -> best header it last claimed
	threshold int
	prober    HeaderProber
	rng       *rand.Rand
}

// NewGate creates a gate that declares syncing ready once the trusted set
// reaches threshold members.
func NewGate(threshold int, prober HeaderProber, seed int64) *Gate {
	return &Gate{
		trusted:   mapset.NewSet[string](),
		claims:    make(map[string]*types.Header),
		threshold: threshold,
		prober:    prober,
		rng:       rand.New(rand.NewSource(seed)),
	}
}

// Admit evaluates a candidate peer's claimed best header against the
// trusted set. It returns whether the candidate was admitted, and if a
// prior trusted peer was evicted to make room, its id.
func (g *Gate) Admit(candidate string, best *types.Header) (admitted bool, evicted string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.trusted.Cardinality() < 2 {
		g.trusted.Add(candidate)
		g.claims[candidate] = best
		return true, "", nil
	}

	others := g.trusted.ToSlice()
	ref := others[g.rng.Intn(len(others))]

	refHeader, err := g.prober.HeaderByNumber(ref, best.Number.Uint64())
	if err != nil {
		return false, "", err
	}
	if refHeader.Hash() == best.Hash() {
		g.trusted.Add(candidate)
		g.claims[candidate] = best
		return true, "", nil
	}

	// ref disagrees with the candidate: the candidate may replace ref only
	// if every other trusted peer agrees with the candidate instead.
	for _, id := range others {
		if id == ref {
			continue
		}
		h, err := g.prober.HeaderByNumber(id, best.Number.Uint64())
		if err != nil || h.Hash() != best.Hash() {
			return false, "", ErrPeerDisagrees
		}
	}

	g.trusted.Remove(ref)
	delete(g.claims, ref)
	g.trusted.Add(candidate)
	g.claims[candidate] = best
	return true, ref, nil
}

// Syncing reports whether the trusted set has reached the size threshold
// at which synchronisation may begin.
func (g *Gate) Syncing() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.trusted.Cardinality() >= g.threshold
}

// TrustedPeers returns the current trusted peer ids.
func (g *Gate) TrustedPeers() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.trusted.ToSlice()
}

// staticProber is a HeaderProber backed by a fixed peer->header map, used
// by tests and by single-process deployments where peer headers are known
// upfront rather than fetched live.
type staticProber struct {
	headers map[string]map[uint64]*types.Header
}

func newStaticProber() *staticProber {
	return &staticProber{headers: make(map[string]map[uint64]*types.Header)}
}

func (s *staticProber) set(peer string, number uint64, h *types.Header) {
	if s.headers[peer] == nil {
		s.headers[peer] = make(map[uint64]*types.Header)
	}
	s.headers[peer][number] = h
}

func (s *staticProber) HeaderByNumber(peer string, number uint64) (*types.Header, error) {
	h, ok := s.headers[peer][number]
	if !ok {
		return nil, errUnknownHeader
	}
	return h, nil
}
