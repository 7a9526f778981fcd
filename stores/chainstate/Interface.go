// Package chainstate defines the persisted chain-state cursor: the active chain's headers,
// the UTXO set and the rollback record of every block on the chain.
package chainstate

import (
	"context"

	"github.com/bsv-blockchain/chainstate/model"
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
)

// Cursor is the persisted chain state. All mutations go through a Tx so that a block is
// either fully applied or not applied at all.
type Cursor interface {
	Begin(ctx context.Context) (Tx, error)

	// ReadChain returns the stored headers, genesis first.
	ReadChain(ctx context.Context) ([]*model.BlockHeader, error)

	// GetUnspentTx returns errors.ErrTxNotFound when the hash has no unspent outputs.
	GetUnspentTx(ctx context.Context, hash chainhash.Hash) (*model.UnspentTx, error)
	ForEachUnspentTx(ctx context.Context, fn func(utx *model.UnspentTx) error) error

	// GetRollbackRecord returns errors.ErrMissingData when no record is stored for the block.
	GetRollbackRecord(ctx context.Context, blockHash chainhash.Hash) (*model.RollbackRecord, error)

	Close() error
}

// Tx collects mutations until Commit. Reads observe the transaction's own writes.
// A Tx is not safe for concurrent use and must be finished with Commit or Rollback.
type Tx interface {
	AddHeader(height uint32, header *model.BlockHeader) error
	RemoveHeader(height uint32) error

	PutUnspentTx(utx *model.UnspentTx) error
	DeleteUnspentTx(hash chainhash.Hash) error
	GetUnspentTx(hash chainhash.Hash) (*model.UnspentTx, bool, error)

	PutRollbackRecord(record *model.RollbackRecord) error
	DeleteRollbackRecord(blockHash chainhash.Hash) error

	Commit() error
	Rollback() error
}
