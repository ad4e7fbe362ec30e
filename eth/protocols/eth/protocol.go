// Copyright 2024 The execore Authors
// This file is part of execore.
//
// execore is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package eth defines the wire message shapes of the eth/66..68 peer
// protocol that the CORE (block synchroniser, transaction pool) consumes
// as an external collaborator: request/response packet structs, message
// codes, and the handshake's compatibility checks. The RLPx transport and
// the actual message framing/dispatch loop are out of scope (spec.md §1);
// this package only gives the core something concrete to type its peer
// interfaces (eth/downloader.PeerFetcher, core/txpool gossip surface)
// against instead of bare byte slices.
package eth

import (
	"errors"
	"io"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/execore-project/execore/eth/downloader"
)

// Protocol version numbers the core negotiates at handshake.
const (
	ETH66 = 66
	ETH67 = 67
	ETH68 = 68
)

// Message codes, stable across eth/66..68 (eth/68 adds no new codes, only
// widens NewPooledTransactionHashes with a type+size prefix per hash).
const (
	StatusMsg                     = 0x00
	NewBlockHashesMsg             = 0x01
	TransactionsMsg               = 0x02
	GetBlockHeadersMsg            = 0x03
	BlockHeadersMsg               = 0x04
	GetBlockBodiesMsg             = 0x05
	BlockBodiesMsg                = 0x06
	NewBlockMsg                   = 0x07
	NewPooledTransactionHashesMsg = 0x08
	GetPooledTransactionsMsg      = 0x09
	PooledTransactionsMsg         = 0x0a
	GetNodeDataMsg                = 0x0d // eth/66 only; dropped in eth/67
	NodeDataMsg                   = 0x0e
	GetReceiptsMsg                = 0x0f
	ReceiptsMsg                   = 0x10
)

// Request caps per spec.md §6: the core never issues (and the protocol
// never accepts) a request larger than these.
const (
	MaxHeadersFetch  = 192
	MaxBodiesFetch   = 128
	MaxReceiptsFetch = 256
	MaxNodeDataFetch = 384
)

// HashOrNumber is a combined field for specifying an origin block for
// header and body fetches: either by hash or by number, never both. It has
// a custom RLP encoding matching the wire union-field format real eth/66
// uses: whichever field is set, encoded directly with no enclosing list.
type HashOrNumber struct {
	Hash   common.Hash
	Number uint64
}

// EncodeRLP implements rlp.Encoder, placing either the hash or the number
// directly into the stream.
func (hn *HashOrNumber) EncodeRLP(w io.Writer) error {
	if hn.Hash == (common.Hash{}) {
		return rlp.Encode(w, hn.Number)
	}
	if hn.Number != 0 {
		return errInvalidHashOrNumber
	}
	return rlp.Encode(w, hn.Hash)
}

// DecodeRLP implements rlp.Decoder, reconstructing whichever field the
// stream actually carried.
func (hn *HashOrNumber) DecodeRLP(s *rlp.Stream) error {
	_, size, err := s.Kind()
	switch {
	case err != nil:
		return err
	case size == 32:
		hn.Number = 0
		return s.Decode(&hn.Hash)
	default:
		hn.Hash = common.Hash{}
		return s.Decode(&hn.Number)
	}
}

// GetBlockHeadersPacket requests a run of headers ascending or descending
// from Origin, skipping Skip headers between each.
type GetBlockHeadersPacket struct {
	Origin  HashOrNumber
	Amount  uint64
	Skip    uint64
	Reverse bool
}

// BlockHeadersPacket is the reply to GetBlockHeadersPacket.
type BlockHeadersPacket []*types.Header

// GetBlockBodiesPacket requests bodies by block hash.
type GetBlockBodiesPacket []common.Hash

// BlockBodiesPacket is the reply to GetBlockBodiesPacket: one body (or nil,
// for an unknown hash) per requested hash, order-preserving.
type BlockBodiesPacket []*types.Body

// GetReceiptsPacket requests receipts by block hash.
type GetReceiptsPacket []common.Hash

// ReceiptsPacket is the reply to GetReceiptsPacket: one receipt list per
// requested block hash.
type ReceiptsPacket [][]*types.Receipt

// GetNodeDataPacket requests raw trie/contract-code node bytes by hash
// (eth/66 only; superseded by snap/1 range fetches in later protocols, but
// still named in spec.md §6 as an external interface the core exposes).
type GetNodeDataPacket []common.Hash

// NodeDataPacket is the reply to GetNodeDataPacket.
type NodeDataPacket [][]byte

// NewBlockHashesPacket announces new block hashes without their bodies.
type NewBlockHashesPacket []struct {
	Hash   common.Hash
	Number uint64
}

// TransactionsPacket gossips full transactions.
type TransactionsPacket []*types.Transaction

// NewPooledTransactionHashesPacket66 announces pooled transaction hashes
// only (eth/66, eth/67): the receiver decides whether to fetch the body via
// GetPooledTransactionsPacket.
type NewPooledTransactionHashesPacket66 []common.Hash

// NewPooledTransactionHashesPacket68 is the eth/68 widened announcement:
// each hash is now paired with its type and encoded size, letting the
// receiver prioritise fetches without a round trip.
type NewPooledTransactionHashesPacket68 struct {
	Types  []byte
	Sizes  []uint32
	Hashes []common.Hash
}

// GetPooledTransactionsPacket requests full transactions by hash from the
// sender's local pool.
type GetPooledTransactionsPacket []common.Hash

// PooledTransactionsPacket is the reply to GetPooledTransactionsPacket.
type PooledTransactionsPacket []*types.Transaction

// NewBlockPacket announces a freshly mined/sealed block together with the
// total difficulty of the chain it extends.
type NewBlockPacket struct {
	Block *types.Block
	TD    *big.Int
}

// StatusPacket is the handshake packet exchanged once per connection, the
// only packet the peer protocol must deliver before any other message.
type StatusPacket struct {
	ProtocolVersion uint32
	NetworkID       uint64
	TD              *big.Int
	Head            common.Hash
	Genesis         common.Hash
	ForkID          downloader.ForkID
}

var errInvalidHashOrNumber = errors.New("eth/protocols/eth: HashOrNumber carries both a hash and a non-zero number")
