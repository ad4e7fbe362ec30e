// Copyright 2024 The execore Authors
// This file is part of execore.
//
// execore is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package txpool

import "sort"

// list is the per-sender nonce-keyed index of every item the pool currently
// holds for that account, across all three buckets: a nonce-indexed map plus
// a cached sorted key slice, generalised to the bucket model.
type list struct {
	items map[uint64]*Item
	cache []uint64 // cached ascending nonce order; invalidated on mutation
	stale bool
}

func newList() *list {
	return &list{items: make(map[uint64]*Item)}
}

func (l *list) get(nonce uint64) *Item {
	return l.items[nonce]
}

func (l *list) put(item *Item) {
	l.items[item.Nonce] = item
	l.stale = true
}

func (l *list) remove(nonce uint64) {
	delete(l.items, nonce)
	l.stale = true
}

func (l *list) len() int { return len(l.items) }

// nonces returns every nonce held for this sender in ascending order.
func (l *list) nonces() []uint64 {
	if !l.stale && l.cache != nil {
		return l.cache
	}
	out := make([]uint64, 0, len(l.items))
	for n := range l.items {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	l.cache = out
	l.stale = false
	return out
}

// itemsInStatus returns the subset of items in the given status, ascending
// by nonce.
func (l *list) itemsInStatus(status Status) []*Item {
	var out []*Item
	for _, n := range l.nonces() {
		if it := l.items[n]; it.Status == status {
			out = append(out, it)
		}
	}
	return out
}
