// Copyright 2024 The execore Authors
// This file is part of execore.
//
// execore is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package txpool

import (
	"container/heap"
	"math/big"
)

// tipHeap is a min-heap of pool items ordered by effective tip against the
// heap's base fee, cheapest at the root. Ties break on receipt time, oldest
// first, so the longest-resident of two equally priced items is the one a
// capacity eviction reaches for.
type tipHeap struct {
	items   []*Item
	baseFee *big.Int
}

func (h *tipHeap) Len() int { return len(h.items) }

func (h *tipHeap) Less(i, j int) bool {
	ti := effectiveTip(h.items[i], h.baseFee)
	tj := effectiveTip(h.items[j], h.baseFee)
	if c := ti.Cmp(tj); c != 0 {
		return c < 0
	}
	return h.items[i].ReceivedAt.Before(h.items[j].ReceivedAt)
}

func (h *tipHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *tipHeap) Push(x interface{}) { h.items = append(h.items, x.(*Item)) }

func (h *tipHeap) Pop() interface{} {
	old := h.items
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	h.items = old[:n-1]
	return it
}

// effectiveTip is the miner-visible price of an item: for typed transactions
// min(max_priority_fee, max_fee - base_fee), for legacy gas_price - base_fee,
// floored at zero when the item cannot currently cover the base fee at all.
func effectiveTip(item *Item, baseFee *big.Int) *big.Int {
	tip, err := item.Tx.EffectiveGasTip(baseFee)
	if err != nil || tip.Sign() < 0 {
		return new(big.Int)
	}
	return tip
}

// pricedIndex is the pool's third index (alongside (sender, nonce) and id):
// every live item ordered by effective tip. Removal is lazy — a stale entry
// stays in the heap until it surfaces at the root and is found to no longer
// be the live item for its id — so bucket churn never pays a heap fix-up.
type pricedIndex struct {
	heap   tipHeap
	stales int
}

func newPricedIndex(baseFee *big.Int) *pricedIndex {
	return &pricedIndex{heap: tipHeap{baseFee: new(big.Int).Set(baseFee)}}
}

// Put adds a freshly admitted item to the index.
func (p *pricedIndex) Put(item *Item) {
	heap.Push(&p.heap, item)
}

// Removed notes that count items left the pool; once stale entries exceed a
// quarter of the heap it is rebuilt from the live set the caller supplies.
func (p *pricedIndex) Removed(count int, live func() []*Item) {
	p.stales += count
	if p.stales <= len(p.heap.items)/4 {
		return
	}
	p.reheap(live())
}

// Cheapest returns the live item with the lowest effective tip, popping any
// stale entries it finds on the way, or nil when the pool is empty. isLive
// reports whether an entry still is the pool's item for its id.
func (p *pricedIndex) Cheapest(isLive func(*Item) bool) *Item {
	for len(p.heap.items) > 0 {
		it := p.heap.items[0]
		if isLive(it) {
			return it
		}
		heap.Pop(&p.heap)
		if p.stales > 0 {
			p.stales--
		}
	}
	return nil
}

// Pop removes and returns the cheapest live item.
func (p *pricedIndex) Pop(isLive func(*Item) bool) *Item {
	it := p.Cheapest(isLive)
	if it != nil {
		heap.Pop(&p.heap)
	}
	return it
}

// SetBaseFee re-sorts the index against a new base fee: effective tips are
// relative, so a head movement that changes next_base_fee reorders the heap.
func (p *pricedIndex) SetBaseFee(baseFee *big.Int, live []*Item) {
	p.heap.baseFee = new(big.Int).Set(baseFee)
	p.reheap(live)
}

func (p *pricedIndex) reheap(live []*Item) {
	p.heap.items = append(p.heap.items[:0], live...)
	p.stales = 0
	heap.Init(&p.heap)
}
