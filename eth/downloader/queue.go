// Copyright 2024 The execore Authors
// This file is part of execore.
//
// execore is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package downloader implements the block synchroniser: a
// trusted-peer gate, a work-queue over block-number ranges, and strictly
// in-order commit of completed ranges to the chain database.
package downloader

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// SlotStatus is a work item's position in its lifecycle.
type SlotStatus int

const (
	// Initial holds a slot never requested, or reset after a failure.
	Initial SlotStatus = iota
	// Requested holds a slot with an in-flight header or body fetch.
	Requested
	// Received holds a slot whose headers and bodies are both complete
	// but not yet persisted (possibly out-of-order).
	Received
	// Persisted holds a slot committed to the chain database.
	Persisted
)

func (s SlotStatus) String() string {
	switch s {
	case Initial:
		return "initial"
	case Requested:
		return "requested"
	case Received:
		return "received"
	case Persisted:
		return "persisted"
	default:
		return "unknown"
	}
}

// WorkItem covers a contiguous run of block numbers [Start, Start+Count).
type WorkItem struct {
	Start   uint64
	Count   int
	Status  SlotStatus
	Peer    string
	Headers []*types.Header
	Bodies  []*types.Body
}

// End returns the last block number this item covers.
func (w *WorkItem) End() uint64 { return w.Start + uint64(w.Count) - 1 }

func (w *WorkItem) reset() {
	w.Status = Initial
	w.Peer = ""
	w.Headers = nil
	w.Bodies = nil
}

// complete reports whether every header and body for this item has arrived.
func (w *WorkItem) complete() bool {
	if len(w.Headers) != w.Count {
		return false
	}
	for _, b := range w.Bodies {
		if b == nil {
			return false
		}
	}
	return true
}

// Queue is the orchestrator's work queue.
type Queue struct {
	mu sync.Mutex

	items         []*WorkItem
	maxPendingEnd uint64 // highest block number covered by any slot so far
	lastPersisted uint64 // highest block number committed in order
	knownEnd      uint64 // best known chain head, advances as peers report headers

	maxHeadersPerRequest uint64
}

// NewQueue creates a queue that resumes after lastPersisted, targeting a
// known chain head of knownEnd, requesting at most maxHeadersPerRequest
// headers per slot.
func NewQueue(lastPersisted, knownEnd, maxHeadersPerRequest uint64) *Queue {
	return &Queue{
		lastPersisted:        lastPersisted,
		maxPendingEnd:        lastPersisted,
		knownEnd:             knownEnd,
		maxHeadersPerRequest: maxHeadersPerRequest,
	}
}

// SetKnownEnd raises the queue's known chain head if the peer's claimed
// best block is higher than what's currently known.
func (q *Queue) SetKnownEnd(n uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n > q.knownEnd {
		q.knownEnd = n
	}
}

// LastPersisted returns the highest block number committed so far.
func (q *Queue) LastPersisted() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lastPersisted
}

// SelectItem picks the next work item for a requesting peer: any Initial slot
// has priority; otherwise a Persisted slot is recycled for a new range;
// otherwise a new slot is appended, capped at maxHeadersPerRequest. Fails only
// when every block up to the known end is already covered.
func (q *Queue) SelectItem(peer string) (*WorkItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, it := range q.items {
		if it.Status == Initial {
			it.Status = Requested
			it.Peer = peer
			return it, nil
		}
	}

	for _, it := range q.items {
		if it.Status != Persisted {
			continue
		}
		if next, end, ok := q.nextRange(); ok {
			it.Start, it.Count = next, int(end-next+1)
			it.Status = Requested
			it.Peer = peer
			it.Headers, it.Bodies = nil, nil
			q.maxPendingEnd = end
			return it, nil
		}
		break
	}

	next, end, ok := q.nextRange()
	if !ok {
		return nil, ErrNoWork
	}
	item := &WorkItem{Start: next, Count: int(end - next + 1), Status: Requested, Peer: peer}
	q.items = append(q.items, item)
	q.maxPendingEnd = end
	return item, nil
}

// nextRange computes the next uncovered range, if any remains below the
// known chain head.
func (q *Queue) nextRange() (start, end uint64, ok bool) {
	if q.maxPendingEnd >= q.knownEnd {
		return 0, 0, false
	}
	start = q.maxPendingEnd + 1
	end = q.knownEnd
	if capped := q.maxPendingEnd + q.maxHeadersPerRequest; capped < end {
		end = capped
	}
	return start, end, true
}

// DeliverHeaders validates and attaches a header reply.
func (q *Queue) DeliverHeaders(item *WorkItem, headers []*types.Header) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(headers) != item.Count {
		return ErrHeaderCount
	}
	for i, h := range headers {
		if h.Number.Uint64() != item.Start+uint64(i) {
			return ErrHeaderSequence
		}
	}
	item.Headers = headers
	item.Bodies = make([]*types.Body, item.Count)
	if item.complete() {
		item.Status = Received
	}
	return nil
}

// PendingBodyHashes returns the block hashes still awaiting a body,
// ascending, for use in the next max_bodies_per_request chunk.
func (q *Queue) PendingBodyHashes(item *WorkItem, max int) []common.Hash {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []common.Hash
	for i, b := range item.Bodies {
		if b != nil {
			continue
		}
		out = append(out, item.Headers[i].Hash())
		if len(out) == max {
			break
		}
	}
	return out
}

// DeliverBodies fills the next run of missing body slots with a reply.
func (q *Queue) DeliverBodies(item *WorkItem, bodies []*types.Body) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if item.Headers == nil {
		return ErrNoHeaders
	}
	if len(bodies) == 0 {
		return ErrZeroBodies
	}

	filled := 0
	for i := range item.Bodies {
		if item.Bodies[i] != nil {
			continue
		}
		if filled >= len(bodies) {
			break
		}
		item.Bodies[i] = bodies[filled]
		filled++
	}
	if filled != len(bodies) {
		return ErrExcessBodies
	}
	if item.complete() {
		item.Status = Received
	}
	return nil
}

// Fail reverts an item to Initial after a transport error, timeout, or
// invalid reply.
func (q *Queue) Fail(item *WorkItem) {
	q.mu.Lock()
	defer q.mu.Unlock()
	item.reset()
}

// TryCommit attempts to persist a Received item and, transitively, every
// contiguous Received item that follows it. persistFn is invoked once per
// item of that run, in order; a false return means persistence failed: that
// item reverts to Initial and the walk stops, commits made so far stay
// Persisted, and later Received items are left as they are.
func (q *Queue) TryCommit(item *WorkItem, persistFn func(*WorkItem) bool) []*WorkItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	if item.Status != Received || item.Start != q.lastPersisted+1 {
		return nil // not next in line: stays Received, marked out-of-order
	}

	var committed []*WorkItem
	cur := item
	for cur != nil {
		if !persistFn(cur) {
			cur.reset()
			return committed
		}
		cur.Status = Persisted
		q.lastPersisted = cur.End()
		committed = append(committed, cur)
		cur = q.receivedAt(q.lastPersisted + 1)
	}
	return committed
}

func (q *Queue) receivedAt(start uint64) *WorkItem {
	for _, it := range q.items {
		if it.Status == Received && it.Start == start {
			return it
		}
	}
	return nil
}
