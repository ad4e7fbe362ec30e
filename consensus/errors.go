// Copyright 2024 The execore Authors
// This file is part of execore.
//
// execore is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package consensus

import "errors"

// Header validation failures, one per validator rule. A header rejected at
// rule N must never be evaluated against rule M>N
// (testable property #4): callers return at the first matching error.
var (
	ErrUnknownAncestor     = errors.New("unknown ancestor")
	ErrInvalidNumber       = errors.New("invalid block number")
	ErrExtraDataTooLong    = errors.New("extra-data too long")
	ErrGasUsedWithoutTx    = errors.New("gas used without transactions")
	ErrGasUsedExceedsLimit = errors.New("gas used exceeds gas limit")
	ErrGasLimitTooLow      = errors.New("gas limit below minimum")
	ErrTimestampTooOld     = errors.New("timestamp older than or equal to parent")
	ErrInvalidDAOExtra     = errors.New("dao fork extra-data mismatch")
	ErrInvalidDifficulty   = errors.New("non-positive or unexpected difficulty")
	ErrInvalidMixDigest    = errors.New("invalid mix digest")
	ErrInvalidPoW          = errors.New("invalid proof-of-work")
	ErrInvalidGasLimit     = errors.New("invalid gas limit adjustment")
	ErrInvalidBaseFee      = errors.New("invalid base fee")
)
