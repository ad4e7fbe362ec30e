// Copyright 2024 The execore Authors
// This file is part of execore.
//
// execore is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package txpool implements the transaction pool: item lifecycle across
// four buckets (pending, staged, packed, waste), head-movement reorg, and
// the VM-execution packer.
package txpool

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Status is the bucket a transaction item currently lives in.
type Status int

const (
	// Pending holds any non-contiguous-nonce or presently-unaffordable item.
	Pending Status = iota
	// Staged holds nonce-contiguous, affordable, classifier-passing items.
	Staged
	// Packed holds items chosen for the next candidate block.
	Packed
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Staged:
		return "staged"
	case Packed:
		return "packed"
	default:
		return "unknown"
	}
}

// RejectReason enumerates why an item landed in the waste basket.
type RejectReason int

const (
	ReasonNone RejectReason = iota
	ReasonAlreadyKnown
	ReasonInvalidSender
	ReasonNonceTooLow
	ReasonReplaceUnderpriced
	ReasonInsufficientFunds
	ReasonBasicValidationFailed
	ReasonSenderNonceIndexClash
	ReasonUnderpriced
	ReasonExpired
	ReasonEvicted
)

func (r RejectReason) String() string {
	switch r {
	case ReasonAlreadyKnown:
		return "AlreadyKnown"
	case ReasonInvalidSender:
		return "InvalidSender"
	case ReasonNonceTooLow:
		return "NonceGap"
	case ReasonReplaceUnderpriced:
		return "ReplaceUnderpriced"
	case ReasonInsufficientFunds:
		return "InsufficientFunds"
	case ReasonBasicValidationFailed:
		return "BasicValidationFailed"
	case ReasonSenderNonceIndexClash:
		return "SenderNonceIndexClash"
	case ReasonUnderpriced:
		return "Underpriced"
	case ReasonExpired:
		return "Expired"
	case ReasonEvicted:
		return "Evicted"
	default:
		return "None"
	}
}

// Item is a transaction item tracked by the pool. Id, Sender and Nonce are
// immutable once admitted; Status and RejectReason evolve as the reorg
// algorithm and expiry run.
type Item struct {
	ID         common.Hash
	Tx         *types.Transaction
	Sender     common.Address
	Status     Status
	Nonce      uint64
	ReceivedAt time.Time

	RejectReason RejectReason // only meaningful once moved to the waste basket
}
