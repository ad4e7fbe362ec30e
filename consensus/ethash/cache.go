// Copyright 2024 The execore Authors
// This file is part of execore.
//
// execore is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package ethash

import (
	"encoding/binary"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"
)

const (
	// epochLength is the number of blocks per epoch.
	epochLength = 30000

	// cacheSizeWords is the number of 32-bit words in the light cache. Real
	// ethash grows this per epoch; CORE uses a fixed, smaller size since the
	// DAG itself (and full verification) are out of scope — only the cache
	// shape and its eviction policy are CORE.
	cacheSizeWords = 1 << 14

	// maxEpochsCached is the default eviction cap.
	maxEpochsCached = 10
)

// epoch returns the epoch number a block belongs to.
func epoch(blockNumber uint64) uint64 {
	return blockNumber / epochLength
}

// seedHash computes the seed for a given epoch by repeated keccak256 hashing
// of a 32-byte zero seed, exactly the way real ethash derives seeds.
func seedHash(ep uint64) []byte {
	seed := make([]byte, 32)
	for i := uint64(0); i < ep; i++ {
		seed = crypto.Keccak256(seed)
	}
	return seed
}

// cache wraps the light verification cache for one epoch: a keccak512-seeded
// byte blob big enough to run hashimotoLight against.
type cache struct {
	epoch uint64
	seed  []byte
	words []uint32 // derived pseudo-random cache words
}

// generateCache derives the per-epoch cache deterministically from the seed,
// analogous to real ethash's mkcache but sized down for CORE verification
// purposes.
func generateCache(ep uint64) *cache {
	seed := seedHash(ep)
	c := &cache{epoch: ep, seed: seed, words: make([]uint32, cacheSizeWords)}

	// Seed the first 16 words (512 bits) directly from keccak512(seed),
	// then expand by repeated hashing into 512-bit digests.
	digest := crypto.Keccak512(seed)
	for round := 0; round*16 < cacheSizeWords; round++ {
		for w := 0; w < 16 && round*16+w < cacheSizeWords; w++ {
			c.words[round*16+w] = binary.LittleEndian.Uint32(digest[w*4 : w*4+4])
		}
		digest = crypto.Keccak512(digest)
	}
	return c
}

// cacheSet is the epoch cache: a fixed-capacity, insertion-order-evicted set
// of per-epoch caches, owned by the Engine instance (not a package-level
// singleton).
type cacheSet struct {
	mu      sync.Mutex
	cap     int
	order   []uint64
	entries map[uint64]*cache
}

func newCacheSet(cap int) *cacheSet {
	if cap <= 0 {
		cap = maxEpochsCached
	}
	return &cacheSet{cap: cap, entries: make(map[uint64]*cache)}
}

// get returns the cache for the given epoch, generating and inserting it (and
// evicting the oldest entry in insertion order if at capacity) on a miss.
func (cs *cacheSet) get(ep uint64) *cache {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if c, ok := cs.entries[ep]; ok {
		return c
	}
	c := generateCache(ep)
	cs.entries[ep] = c
	cs.order = append(cs.order, ep)
	if len(cs.order) > cs.cap {
		oldest := cs.order[0]
		cs.order = cs.order[1:]
		delete(cs.entries, oldest)
	}
	return c
}

// len reports how many epoch caches are currently resident, for tests.
func (cs *cacheSet) len() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return len(cs.entries)
}
