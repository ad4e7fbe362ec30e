// Copyright 2024 The execore Authors
// This file is part of execore.
//
// execore is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package eth

import (
	"errors"

	"github.com/execore-project/execore/eth/downloader"
)

// Handshake rejection reasons, named after the teacher's own
// eth/protocols/eth handshake error set: a peer advertising an
// incompatible protocol version, network, genesis, or fork schedule is
// disconnected as useless rather than admitted and later starved.
var (
	errNoStatusMsg             = errors.New("first message must be a status message")
	errProtocolVersionMismatch = errors.New("protocol version mismatch")
	errNetworkIDMismatch       = errors.New("network ID mismatch")
	errGenesisMismatch         = errors.New("genesis block mismatch")
	errForkIDRejected          = errors.New("fork ID rejected")
)

// ValidateStatus checks a freshly received StatusPacket against the
// locally known chain identity, returning one of the sentinel errors above
// on the first mismatch it finds and nil once the peer is fully
// compatible. forks is the local chain's ordered list of fork-activation
// block numbers, passed straight into downloader.ValidateForkID.
func ValidateStatus(local, remote *StatusPacket, forks []uint64) error {
	if remote == nil {
		return errNoStatusMsg
	}
	if remote.ProtocolVersion != local.ProtocolVersion {
		return errProtocolVersionMismatch
	}
	if remote.NetworkID != local.NetworkID {
		return errNetworkIDMismatch
	}
	if remote.Genesis != local.Genesis {
		return errGenesisMismatch
	}
	if err := downloader.ValidateForkID(local.ForkID, remote.ForkID, local.Genesis, forks); err != nil {
		return errForkIDRejected
	}
	return nil
}
