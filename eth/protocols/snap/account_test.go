// Copyright 2024 The execore Authors
// This file is part of execore.

package snap

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/stretchr/testify/require"
)

// TestSlimAccountElidesEmptyRootAndCode: the canonical empty storage root
// and code hash encode as zero-length strings on the wire and are restored
// on decode.
func TestSlimAccountElidesEmptyRootAndCode(t *testing.T) {
	enc, err := EncodeSlimAccount(7, big.NewInt(1000), types.EmptyRootHash, types.EmptyCodeHash)
	require.NoError(t, err)

	var raw slimAccount
	require.NoError(t, rlp.DecodeBytes(enc, &raw))
	require.Empty(t, raw.Root)
	require.Empty(t, raw.CodeHash)

	nonce, balance, root, codeHash, err := DecodeSlimAccount(enc)
	require.NoError(t, err)
	require.Equal(t, uint64(7), nonce)
	require.Equal(t, int64(1000), balance.Int64())
	require.Equal(t, types.EmptyRootHash, root)
	require.Equal(t, types.EmptyCodeHash, codeHash)
}

// TestSlimAccountKeepsNonEmptyRootAndCode: a contract account's real root
// and code hash survive the round trip untouched.
func TestSlimAccountKeepsNonEmptyRootAndCode(t *testing.T) {
	storageRoot := common.HexToHash("0x11")
	codeHash := common.HexToHash("0x22")

	enc, err := EncodeSlimAccount(1, big.NewInt(5), storageRoot, codeHash)
	require.NoError(t, err)

	_, _, gotRoot, gotCode, err := DecodeSlimAccount(enc)
	require.NoError(t, err)
	require.Equal(t, storageRoot, gotRoot)
	require.Equal(t, codeHash, gotCode)
}
