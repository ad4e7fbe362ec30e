// Copyright 2024 The execore Authors
// This file is part of execore.
//
// execore is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package snap

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// ProofDB stores trie nodes received as range-proof material, keyed by the
// keccak256 of their RLP encoding.
type ProofDB struct {
	nodes map[common.Hash][]byte
}

// NewProofDB creates an empty proof node store.
func NewProofDB() *ProofDB {
	return &ProofDB{nodes: make(map[common.Hash][]byte)}
}

func (db *ProofDB) get(h common.Hash) ([]byte, bool) {
	n, ok := db.nodes[h]
	return n, ok
}

// ProofMerge is a rollback-capable accumulation of one reply's proof nodes
// and account rows against a backing ProofDB.
type ProofMerge struct {
	db         *ProofDB
	addedNodes []common.Hash
	referenced map[common.Hash]bool
	Accounts   []AccountData
}

// NewMerge starts a new merge against this proof DB.
func (db *ProofDB) NewMerge() *ProofMerge {
	return &ProofMerge{db: db, referenced: make(map[common.Hash]bool)}
}

// AddNode records one proof node, keccak-keyed, and notes any child
// references it implies so Validate can check every inserted node is
// reachable.
func (m *ProofMerge) AddNode(node []byte) common.Hash {
	h := crypto.Keccak256Hash(node)
	if _, ok := m.db.nodes[h]; !ok {
		m.db.nodes[h] = node
		m.addedNodes = append(m.addedNodes, h)
	}
	for _, ref := range referencedHashes(node) {
		m.referenced[ref] = true
	}
	return h
}

// AddAccount records one delivered account row.
func (m *ProofMerge) AddAccount(hash common.Hash, body []byte) {
	m.Accounts = append(m.Accounts, AccountData{Hash: hash, Body: body})
}

// Rollback discards every node this merge inserted, restoring the backing
// ProofDB to its pre-merge state.
func (m *ProofMerge) Rollback() {
	for _, h := range m.addedNodes {
		delete(m.db.nodes, h)
	}
	m.addedNodes = nil
	m.Accounts = nil
}

// Validate checks the merge's invariants: every newly inserted node is
// referenced from the new set or is the root itself; account hashes in the
// batch are strictly increasing and bounded below by base; the last
// account's body verifies by walking the trie from root.
func (m *ProofMerge) Validate(root, base common.Hash) error {
	for _, h := range m.addedNodes {
		if h == root || m.referenced[h] {
			continue
		}
		return fmt.Errorf("%w: node %x unreferenced by root or any new node", ErrInvalidProof, h)
	}

	prev := base
	for i, acc := range m.Accounts {
		switch {
		case i == 0:
			if acc.Hash.Big().Cmp(base.Big()) < 0 {
				return ErrOutOfRange
			}
		case acc.Hash.Big().Cmp(prev.Big()) <= 0:
			return ErrUnorderedAccounts
		}
		prev = acc.Hash
	}

	if len(m.Accounts) == 0 {
		return nil
	}
	last := m.Accounts[len(m.Accounts)-1]
	got, err := m.db.walk(root, last.Hash)
	if err != nil {
		return err
	}
	if !bytes.Equal(got, last.Body) {
		return ErrInvalidProof
	}
	return nil
}

// walk descends a Merkle-Patricia trie rooted at root looking up key,
// using only nodes already present in the proof DB.
func (db *ProofDB) walk(root, key common.Hash) ([]byte, error) {
	path := keybytesToHex(key.Bytes())
	node := root

	for {
		raw, ok := db.get(node)
		if !ok {
			return nil, fmt.Errorf("%w: missing proof node %x", ErrInvalidProof, node)
		}
		var items []rlp.RawValue
		if err := rlp.DecodeBytes(raw, &items); err != nil {
			return nil, fmt.Errorf("%w: malformed proof node: %v", ErrInvalidProof, err)
		}

		switch len(items) {
		case 17:
			if len(path) == 0 {
				return decodeRLPBytes(items[16])
			}
			child := items[path[0]]
			h, ok := asHashRef(child)
			if !ok {
				return nil, fmt.Errorf("%w: unsupported embedded branch child", ErrInvalidProof)
			}
			node = h
			path = path[1:]

		case 2:
			keyRaw, err := decodeRLPBytes(items[0])
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidProof, err)
			}
			nibbles, isLeaf := decodeHexPrefix(keyRaw)
			if !hasPrefix(path, nibbles) {
				return nil, nil // key provably absent from this subtree
			}
			path = path[len(nibbles):]
			if isLeaf {
				if len(path) != 0 {
					return nil, nil
				}
				return decodeRLPBytes(items[1])
			}
			h, ok := asHashRef(items[1])
			if !ok {
				return nil, fmt.Errorf("%w: unsupported embedded extension child", ErrInvalidProof)
			}
			node = h

		default:
			return nil, fmt.Errorf("%w: node has %d items, want 2 or 17", ErrInvalidProof, len(items))
		}
	}
}

// referencedHashes extracts every 32-byte child-hash reference a decoded
// proof node implies, distinguishing branches (17 items) from leaves and
// extensions by the first-nibble tag of their key item.
func referencedHashes(node []byte) []common.Hash {
	var items []rlp.RawValue
	if err := rlp.DecodeBytes(node, &items); err != nil {
		return nil
	}

	var refs []common.Hash
	switch len(items) {
	case 17:
		for i := 0; i < 16; i++ {
			if h, ok := asHashRef(items[i]); ok {
				refs = append(refs, h)
			}
		}
	case 2:
		keyRaw, err := decodeRLPBytes(items[0])
		if err != nil || len(keyRaw) == 0 {
			return nil
		}
		if nibble := keyRaw[0] >> 4; nibble == 0 || nibble == 1 { // extension node
			if h, ok := asHashRef(items[1]); ok {
				refs = append(refs, h)
			}
		}
	}
	return refs
}

func decodeRLPBytes(raw rlp.RawValue) ([]byte, error) {
	var b []byte
	if err := rlp.DecodeBytes(raw, &b); err != nil {
		return nil, err
	}
	return b, nil
}

func asHashRef(raw rlp.RawValue) (common.Hash, bool) {
	b, err := decodeRLPBytes(raw)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, false
	}
	return common.BytesToHash(b), true
}

// keybytesToHex expands a byte key into its nibble representation (no
// terminator: callers track remaining length explicitly).
func keybytesToHex(key []byte) []byte {
	out := make([]byte, 0, len(key)*2)
	for _, b := range key {
		out = append(out, b>>4, b&0x0f)
	}
	return out
}

// decodeHexPrefix decodes a compact (hex-prefix) encoded key as carried by
// leaf and extension nodes, per the standard Merkle-Patricia trie
// encoding: the high nibble of the first byte flags leaf-vs-extension and
// odd-vs-even length.
func decodeHexPrefix(compact []byte) (nibbles []byte, isLeaf bool) {
	if len(compact) == 0 {
		return nil, false
	}
	flag := compact[0] >> 4
	isLeaf = flag == 2 || flag == 3
	odd := flag == 1 || flag == 3

	if odd {
		nibbles = append(nibbles, compact[0]&0x0f)
	}
	for _, b := range compact[1:] {
		nibbles = append(nibbles, b>>4, b&0x0f)
	}
	return nibbles, isLeaf
}

func hasPrefix(path, prefix []byte) bool {
	if len(path) < len(prefix) {
		return false
	}
	for i := range prefix {
		if path[i] != prefix[i] {
			return false
		}
	}
	return true
}
