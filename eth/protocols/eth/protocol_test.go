// Copyright 2024 The execore Authors
// This file is part of execore.
//
// execore is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package eth

import (
	"bytes"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
)

func TestHashOrNumberEncodeHash(t *testing.T) {
	hn := &HashOrNumber{Hash: common.HexToHash("0x01")}

	var buf bytes.Buffer
	if err := rlp.Encode(&buf, hn); err != nil {
		t.Fatalf("encode: %v", err)
	}

	var decoded HashOrNumber
	if err := rlp.Decode(&buf, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Hash != hn.Hash {
		t.Fatalf("hash mismatch: got %x want %x", decoded.Hash, hn.Hash)
	}
	if decoded.Number != 0 {
		t.Fatalf("expected zero number, got %d", decoded.Number)
	}
}

func TestHashOrNumberEncodeNumber(t *testing.T) {
	hn := &HashOrNumber{Number: 314159}

	var buf bytes.Buffer
	if err := rlp.Encode(&buf, hn); err != nil {
		t.Fatalf("encode: %v", err)
	}

	var decoded HashOrNumber
	if err := rlp.Decode(&buf, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Number != hn.Number {
		t.Fatalf("number mismatch: got %d want %d", decoded.Number, hn.Number)
	}
	if decoded.Hash != (common.Hash{}) {
		t.Fatalf("expected zero hash, got %x", decoded.Hash)
	}
}

func TestHashOrNumberRejectsBothSet(t *testing.T) {
	hn := &HashOrNumber{Hash: common.HexToHash("0x01"), Number: 1}

	var buf bytes.Buffer
	if err := rlp.Encode(&buf, hn); err != errInvalidHashOrNumber {
		t.Fatalf("expected errInvalidHashOrNumber, got %v", err)
	}
}

func TestGetBlockHeadersPacketRoundTrip(t *testing.T) {
	req := &GetBlockHeadersPacket{
		Origin:  HashOrNumber{Number: 1000},
		Amount:  MaxHeadersFetch,
		Skip:    0,
		Reverse: true,
	}

	enc, err := rlp.EncodeToBytes(req)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var decoded GetBlockHeadersPacket
	if err := rlp.DecodeBytes(enc, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Amount != req.Amount || decoded.Skip != req.Skip || decoded.Reverse != req.Reverse {
		t.Fatalf("field mismatch: got %+v want %+v", decoded, req)
	}
	if decoded.Origin.Number != req.Origin.Number {
		t.Fatalf("origin mismatch: got %d want %d", decoded.Origin.Number, req.Origin.Number)
	}
}

func TestNewPooledTransactionHashesPacket68Shape(t *testing.T) {
	packet := NewPooledTransactionHashesPacket68{
		Types:  []byte{0x0, 0x2},
		Sizes:  []uint32{100, 200},
		Hashes: []common.Hash{common.HexToHash("0x1"), common.HexToHash("0x2")},
	}
	if len(packet.Types) != len(packet.Sizes) || len(packet.Sizes) != len(packet.Hashes) {
		t.Fatalf("eth/68 announcement arrays must be parallel: %+v", packet)
	}
}
