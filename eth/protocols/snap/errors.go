// Copyright 2024 The execore Authors
// This file is part of execore.
//
// execore is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package snap

import "errors"

var (
	// ErrNoAccountsForStateRoot is returned when a peer replies with no
	// accounts and no proof, meaning the requested root is unavailable on
	// that peer.
	ErrNoAccountsForStateRoot = errors.New("snap: state unavailable for requested root")

	// ErrMissingProof is returned when a non-empty account reply for a
	// range starting above zero omits the accompanying proof.
	ErrMissingProof = errors.New("snap: missing proof for non-zero range start")

	// ErrOutOfRange is returned when a delivered account hash falls
	// outside the requested [lo, hi] bound, beyond the one permitted
	// trailing overshoot account.
	ErrOutOfRange = errors.New("snap: account hash outside requested range")

	// ErrUnorderedAccounts is returned when delivered account hashes are
	// not strictly increasing.
	ErrUnorderedAccounts = errors.New("snap: account hashes not strictly increasing")

	// ErrInvalidProof is returned when the delivered range fails trie
	// proof verification against the requested state root.
	ErrInvalidProof = errors.New("snap: range proof verification failed")

	// errNotImplemented marks PeerFetcher methods this module's Syncer
	// never calls (storage ranges, byte codes, trie nodes); only test
	// stubs return it.
	errNotImplemented = errors.New("snap: not implemented by this syncer")
)
