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
	"hash/crc32"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// ErrForkIDRejected is returned by ValidateForkID when a peer's announced
// fork identity is provably incompatible with the local chain.
var ErrForkIDRejected = errors.New("downloader: remote fork id rejected")

// ForkID identifies a chain's fork history as a 4-byte rolling checksum of
// every activated fork block plus the next fork block still ahead, the way
// the real eth/NN handshake does it (EIP-2124).
type ForkID struct {
	Hash [4]byte
	Next uint64
}

// NewForkID computes the fork identity for a chain at head, given the
// ascending list of block numbers at which a fork activates (duplicates and
// unsorted input are tolerated).
func NewForkID(genesis common.Hash, forks []uint64, head uint64) ForkID {
	checksums := forkChecksums(genesis, forks)

	sorted := sortedUnique(forks)
	for i, fork := range sorted {
		if fork > head {
			return ForkID{Hash: checksums[i], Next: fork}
		}
	}
	return ForkID{Hash: checksums[len(sorted)], Next: 0}
}

// forkChecksums returns the rolling checksum after each prefix of sorted
// forks, forkChecksums[0] being the genesis-only checksum and
// forkChecksums[i] including sorted[:i].
func forkChecksums(genesis common.Hash, forks []uint64) [][4]byte {
	sorted := sortedUnique(forks)
	out := make([][4]byte, len(sorted)+1)

	hash := crc32.ChecksumIEEE(genesis.Bytes())
	out[0] = checksumToBytes(hash)
	for i, fork := range sorted {
		hash = checksumUpdate(hash, fork)
		out[i+1] = checksumToBytes(hash)
	}
	return out
}

func sortedUnique(forks []uint64) []uint64 {
	seen := make(map[uint64]bool, len(forks))
	out := make([]uint64, 0, len(forks))
	for _, f := range forks {
		if f == 0 || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func checksumUpdate(hash uint32, fork uint64) uint32 {
	var blob [8]byte
	for i := range blob {
		blob[7-i] = byte(fork >> (8 * i))
	}
	return crc32.Update(hash, crc32.IEEETable, blob[:])
}

func checksumToBytes(hash uint32) [4]byte {
	var blob [4]byte
	blob[0] = byte(hash >> 24)
	blob[1] = byte(hash >> 16)
	blob[2] = byte(hash >> 8)
	blob[3] = byte(hash)
	return blob
}

// ValidateForkID checks whether a remote peer's announced fork id is
// compatible with the local chain (EIP-2124's compatibility matrix): a
// remote on the same fork history, whether ahead, behind, or exactly level
// with the local node, is accepted; a remote whose checksum cannot be
// reached from any prefix of the local fork list is rejected outright.
func ValidateForkID(local ForkID, remote ForkID, genesis common.Hash, forks []uint64) error {
	checksums := forkChecksums(genesis, forks)
	sorted := sortedUnique(forks)

	for i, sum := range checksums {
		if sum != remote.Hash {
			continue
		}
		// Remote's history matches our prefix sorted[:i]. It is compatible
		// unless it claims a non-zero Next fork block other than the one
		// that follows this prefix in our own list (i.e. it's lying about
		// already knowing a fork we'd place elsewhere, or skipping one we
		// haven't).
		if i == len(sorted) {
			// Remote's checksum covers every fork we know: it must not
			// claim any further Next (we have nothing more to agree on).
			if remote.Next != 0 {
				return ErrForkIDRejected
			}
			return nil
		}
		if remote.Next != 0 && remote.Next != sorted[i] {
			return ErrForkIDRejected
		}
		return nil
	}
	return ErrForkIDRejected
}
