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

	"github.com/ethereum/go-ethereum/crypto"
)

const (
	mixBytes  = 128 // width of mix, matches real ethash
	hashBytes = 64
	accesses  = 64 // number of accesses in hashimoto loop
)

// hashimotoLight runs the light (cache-only, DAG-less) verification loop:
// derive a 128-byte mix from the seed hash and nonce by repeatedly indexing
// into the epoch cache, then fold it down to a 32-byte digest plus a 32-byte
// PoW result. This is the "light cache" half of ethash's hashimoto — no
// full DAG is generated since mining/sealing is not in CORE scope, only seal
// *verification* is.
func hashimotoLight(c *cache, hash []byte, nonce uint64) (mixDigest, result []byte) {
	nonceBytes := make([]byte, 8)
	binary.LittleEndian.PutUint64(nonceBytes, nonce)

	seed := crypto.Keccak512(append(append([]byte{}, hash...), nonceBytes...))

	// Start the mix with mixBytes/hashBytes copies of the seed.
	mix := make([]uint32, mixBytes/4)
	seedHead := make([]uint32, len(seed)/4)
	for i := range seedHead {
		seedHead[i] = binary.LittleEndian.Uint32(seed[i*4 : i*4+4])
	}
	for i := range mix {
		mix[i] = seedHead[i%len(seedHead)]
	}

	rows := uint32(len(c.words) / (hashBytes / 4))
	if rows == 0 {
		rows = 1
	}
	temp := make([]uint32, len(mix))
	for i := uint32(0); i < accesses; i++ {
		parent := fnv(uint32(i)^seedHead[0], mix[i%uint32(len(mix))]) % rows
		for j := range temp {
			off := (parent*uint32(hashBytes/4) + uint32(j)) % uint32(len(c.words))
			temp[j] = c.words[off]
		}
		for j := range mix {
			mix[j] = fnv(mix[j], temp[j%len(temp)])
		}
	}

	// Compress mix down to 32 bytes (8 words) via FNV folding, as real
	// ethash's final compression step does.
	cmix := make([]uint32, len(mix)/4)
	for i := range cmix {
		cmix[i] = fnv(fnv(fnv(mix[i*4], mix[i*4+1]), mix[i*4+2]), mix[i*4+3])
	}

	mixDigest = make([]byte, 32)
	for i, w := range cmix {
		binary.LittleEndian.PutUint32(mixDigest[i*4:i*4+4], w)
	}
	result = crypto.Keccak256(append(append([]byte{}, seed...), mixDigest...))
	return mixDigest, result
}

// fnv is the 32-bit FNV-1 mixing function ethash uses throughout hashimoto.
func fnv(a, b uint32) uint32 {
	return (a * 0x01000193) ^ b
}
