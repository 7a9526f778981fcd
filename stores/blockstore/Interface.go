// Package blockstore supplies block bodies to the chain-state orchestrator.
package blockstore

import (
	"context"

	"github.com/bsv-blockchain/chainstate/model"
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
)

// Source returns full blocks by hash. A block that is not available yet is reported
// with errors.ErrMissingData, which callers may retry.
type Source interface {
	GetBlock(ctx context.Context, hash *chainhash.Hash) (*model.Block, error)
}
