// Copyright 2024 The execore Authors
// This file is part of execore.
//
// execore is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package snap

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"
)

// AccountData is one row of an account-range reply: the account's hash key
// plus its RLP-encoded, space-saving ("slim") body.
type AccountData struct {
	Hash common.Hash
	Body []byte
}

// slimAccount is the wire representation of an account body. Both Root and
// CodeHash are omitted (zero-length) when they equal the well-known empty
// values, rather than spelling out 32 zero-looking-different bytes on the
// wire every time.
type slimAccount struct {
	Nonce    uint64
	Balance  *big.Int
	Root     []byte
	CodeHash []byte
}

// EncodeSlimAccount produces the wire body for an account record.
func EncodeSlimAccount(nonce uint64, balance *big.Int, root, codeHash common.Hash) ([]byte, error) {
	acc := slimAccount{Nonce: nonce, Balance: balance}
	if root != types.EmptyRootHash {
		acc.Root = root.Bytes()
	}
	if codeHash != types.EmptyCodeHash {
		acc.CodeHash = codeHash.Bytes()
	}
	return rlp.EncodeToBytes(&acc)
}

// DecodeSlimAccount restores an account body from the wire, filling back in
// the canonical empty root/code hash where the wire form omitted them.
func DecodeSlimAccount(data []byte) (nonce uint64, balance *big.Int, root, codeHash common.Hash, err error) {
	var acc slimAccount
	if err = rlp.DecodeBytes(data, &acc); err != nil {
		return
	}
	nonce = acc.Nonce
	balance = acc.Balance
	if len(acc.Root) == 0 {
		root = types.EmptyRootHash
	} else {
		root = common.BytesToHash(acc.Root)
	}
	if len(acc.CodeHash) == 0 {
		codeHash = types.EmptyCodeHash
	} else {
		codeHash = common.BytesToHash(acc.CodeHash)
	}
	return
}
