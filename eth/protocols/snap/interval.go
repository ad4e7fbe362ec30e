// Copyright 2024 The execore Authors
// This file is part of execore.
//
// execore is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package snap implements the snap-sync account fetcher: a
// path-interval set over the 256-bit account-hash space, a per-peer
// GetAccountRange fetch loop, and proof-backed range verification.
package snap

import (
	"math/big"
	"sync"

	"github.com/emirpasic/gods/trees/redblacktree"
	"github.com/ethereum/go-ethereum/common"
)

// bigIntComparator orders two *big.Int keys, as required by redblacktree.NewWith.
func bigIntComparator(a, b interface{}) int {
	return a.(*big.Int).Cmp(b.(*big.Int))
}

// interval is a closed range [Lo, Hi] of the 256-bit account-hash space.
type interval struct {
	Lo *big.Int
	Hi *big.Int
}

// IntervalSet tracks the unfetched portions of account-hash space. It is backed
// by a red-black tree keyed on each interval's lower bound, which keeps the
// intervals in ascending order. Acquire, Remove and Insert each take an
// in-order snapshot of the whole tree and rebuild it, so they cost O(n) in
// the number of intervals.
type IntervalSet struct {
	mu   sync.Mutex
	tree *redblacktree.Tree // key: Lo (*big.Int), value: Hi (*big.Int)
}

// NewIntervalSet creates a set containing exactly [lo, hi].
func NewIntervalSet(lo, hi common.Hash) *IntervalSet {
	s := &IntervalSet{tree: redblacktree.NewWith(bigIntComparator)}
	s.tree.Put(hashToInt(lo), hashToInt(hi))
	return s
}

func hashToInt(h common.Hash) *big.Int { return new(big.Int).SetBytes(h.Bytes()) }

func intToHash(i *big.Int) common.Hash {
	var h common.Hash
	b := i.Bytes()
	copy(h[32-len(b):], b)
	return h
}

// snapshot returns every interval in ascending order by Lo. redblacktree's
// in-order iterator already walks keys ascending, so no sort is needed.
func (s *IntervalSet) snapshot() []interval {
	var out []interval
	it := s.tree.Iterator()
	for it.Next() {
		out = append(out, interval{Lo: it.Key().(*big.Int), Hi: it.Value().(*big.Int)})
	}
	return out
}

func (s *IntervalSet) rebuild(ivals []interval) {
	s.tree.Clear()
	for _, iv := range ivals {
		s.tree.Put(iv.Lo, iv.Hi)
	}
}

// Empty reports whether the set has no remaining intervals.
func (s *IntervalSet) Empty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Size() == 0
}

// Acquire takes the leftmost interval, clipped to at most maxLen hashes,
// and removes the acquired portion from the set.
func (s *IntervalSet) Acquire(maxLen *big.Int) (lo, hi common.Hash, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ivals := s.snapshot()
	if len(ivals) == 0 {
		return common.Hash{}, common.Hash{}, false
	}
	first := ivals[0]

	length := new(big.Int).Sub(first.Hi, first.Lo)
	length.Add(length, big.NewInt(1))

	end := new(big.Int).Set(first.Hi)
	if length.Cmp(maxLen) > 0 {
		end = new(big.Int).Add(first.Lo, maxLen)
		end.Sub(end, big.NewInt(1))
	}

	s.removeLocked(first.Lo, end)
	return intToHash(first.Lo), intToHash(end), true
}

// Remove deletes [lo, hi] from the set, splitting any interval it
// partially overlaps.
func (s *IntervalSet) Remove(lo, hi common.Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(hashToInt(lo), hashToInt(hi))
}

func (s *IntervalSet) removeLocked(lo, hi *big.Int) {
	ivals := s.snapshot()
	var out []interval
	one := big.NewInt(1)
	for _, iv := range ivals {
		if hi.Cmp(iv.Lo) < 0 || lo.Cmp(iv.Hi) > 0 {
			out = append(out, iv) // no overlap
			continue
		}
		if lo.Cmp(iv.Lo) > 0 {
			out = append(out, interval{Lo: iv.Lo, Hi: new(big.Int).Sub(lo, one)})
		}
		if hi.Cmp(iv.Hi) < 0 {
			out = append(out, interval{Lo: new(big.Int).Add(hi, one), Hi: iv.Hi})
		}
	}
	s.rebuild(out)
}

// Insert adds [lo, hi] back to the set (e.g. an unconsumed suffix returned
// by the fetch loop), coalescing it with any adjacent or overlapping
// interval.
func (s *IntervalSet) Insert(lo, hi common.Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ivals := s.snapshot()
	ivals = append(ivals, interval{Lo: hashToInt(lo), Hi: hashToInt(hi)})

	for i := 1; i < len(ivals); i++ {
		for j := i; j > 0 && ivals[j-1].Lo.Cmp(ivals[j].Lo) > 0; j-- {
			ivals[j-1], ivals[j] = ivals[j], ivals[j-1]
		}
	}

	one := big.NewInt(1)
	merged := ivals[:0:0]
	for _, iv := range ivals {
		if n := len(merged); n > 0 {
			last := &merged[n-1]
			gapless := new(big.Int).Add(last.Hi, one)
			if iv.Lo.Cmp(gapless) <= 0 {
				if iv.Hi.Cmp(last.Hi) > 0 {
					last.Hi = iv.Hi
				}
				continue
			}
		}
		merged = append(merged, iv)
	}
	s.rebuild(merged)
}
