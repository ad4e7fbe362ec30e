// Copyright 2024 The execore Authors
// This file is part of execore.
//
// execore is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package downloader

import "errors"

var (
	// ErrNoWork is returned by the queue when every block up to the known
	// chain head has already been covered by a slot.
	ErrNoWork = errors.New("downloader: no work available")

	// ErrHeaderSequence is returned when a header reply is not a strict
	// +1 run of block numbers starting at the requested slot.
	ErrHeaderSequence = errors.New("downloader: non-sequential header reply")

	// ErrHeaderCount is returned when a header reply's length does not
	// match the requested slot size.
	ErrHeaderCount = errors.New("downloader: header count mismatch")

	// ErrNoHeaders is returned when bodies are delivered for a slot that
	// has not yet received its headers.
	ErrNoHeaders = errors.New("downloader: bodies delivered before headers")

	// ErrZeroBodies is returned for an empty body reply against an item
	// still missing bodies.
	ErrZeroBodies = errors.New("downloader: empty body reply")

	// ErrExcessBodies is returned when a reply contains more bodies than
	// the slot has remaining hashes for.
	ErrExcessBodies = errors.New("downloader: excess body reply")

	// ErrPeerDisagrees is returned by the trusted-peer gate when a
	// candidate peer could not be admitted.
	ErrPeerDisagrees = errors.New("downloader: candidate peer disagrees with trusted set")
)
