// Copyright 2024 The execore Authors
// This file is part of execore.
//
// execore is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package txpool

import "errors"

// Admission-time errors, checked in order so the
// first matching condition determines the rejection reason.
var (
	ErrAlreadyKnown          = errors.New("already known")
	ErrInvalidSender         = errors.New("invalid sender")
	ErrBasicValidationFailed = errors.New("basic validation failed")
	ErrNonceTooLow           = errors.New("nonce too low")
	ErrInsufficientFunds     = errors.New("insufficient funds for gas * price + value")
	ErrReplaceUnderpriced    = errors.New("replacement transaction underpriced")

	// ErrUnderpriced rejects an admission into a full pool whose cheapest
	// resident already pays at least as much.
	ErrUnderpriced = errors.New("transaction underpriced")
)
