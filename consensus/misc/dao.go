// Copyright 2024 The execore Authors
// This file is part of execore.
//
// execore is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package misc

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"

	"github.com/execore-project/execore/consensus"
)

// DAOForkBlockExtraRange is the number of blocks after the DAO fork block
// for which the fork extra-data marker is required.
const DAOForkBlockExtraRange = 10

// DAOForkBlockExtra is the block header extra-data field to set for the DAO
// fork point and a range of subsequent blocks to mark the network split.
var DAOForkBlockExtra = []byte("dao-hard-fork")

// VerifyDAOHeaderExtraData validates the DAO fork marker exactly when the
// header number falls in [dao_fork_block, dao_fork_block+10). Outside that
// window it is a no-op: this check is independent of every other header
// rule per testable property #4.
func VerifyDAOHeaderExtraData(config *params.ChainConfig, header *types.Header) error {
	if config.DAOForkBlock == nil {
		return nil
	}
	limit := new(big.Int).Add(config.DAOForkBlock, big.NewInt(DAOForkBlockExtraRange))
	if header.Number.Cmp(config.DAOForkBlock) < 0 || header.Number.Cmp(limit) >= 0 {
		return nil
	}
	if !config.DAOForkSupport {
		return fmt.Errorf("%w: unsupported DAO fork", consensus.ErrInvalidDAOExtra)
	}
	if !bytes.Equal(header.Extra, DAOForkBlockExtra) {
		return fmt.Errorf("%w: have %x, want %x", consensus.ErrInvalidDAOExtra, header.Extra, DAOForkBlockExtra)
	}
	return nil
}
