// Package tests holds the behaviour every chainstate.Cursor implementation must share.
package tests

import (
	"context"
	"testing"

	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/chainstate/model"
	chainstatestore "github.com/bsv-blockchain/chainstate/stores/chainstate"
	"github.com/bsv-blockchain/go-bt/v2"
	"github.com/bsv-blockchain/go-bt/v2/bscript"
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	Hash  = chainhash.HashH([]byte("chainstate-test-tx-1"))
	Hash2 = chainhash.HashH([]byte("chainstate-test-tx-2"))
)

// Headers returns count linked headers starting with a genesis header.
func Headers(count int) []*model.BlockHeader {
	headers := make([]*model.BlockHeader, 0, count)
	prev := &chainhash.Hash{}

	for i := 0; i < count; i++ {
		header := &model.BlockHeader{
			Version:        1,
			HashPrevBlock:  prev,
			HashMerkleRoot: &chainhash.Hash{},
			Timestamp:      uint32(1296688602 + i), //nolint:gosec // test
			Bits:           model.NewNBitFromUint32(0x207fffff),
			Nonce:          uint32(i), //nolint:gosec // test
		}

		headers = append(headers, header)
		prev = header.Hash()
	}

	return headers
}

func Chain(t *testing.T, db chainstatestore.Cursor) {
	ctx := context.Background()
	headers := Headers(4)

	chain, err := db.ReadChain(ctx)
	require.NoError(t, err)
	require.Empty(t, chain)

	tx, err := db.Begin(ctx)
	require.NoError(t, err)

	for i, header := range headers {
		require.NoError(t, tx.AddHeader(uint32(i), header)) //nolint:gosec // test
	}

	require.NoError(t, tx.Commit())

	chain, err = db.ReadChain(ctx)
	require.NoError(t, err)
	require.Len(t, chain, 4)

	for i := range headers {
		assert.Equal(t, headers[i].Hash(), chain[i].Hash())
	}

	// remove the tip and replace it in one transaction
	replacement := *headers[3]
	replacement.Nonce = 99

	tx, err = db.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.RemoveHeader(3))
	require.NoError(t, tx.AddHeader(3, &replacement))
	require.NoError(t, tx.Commit())

	chain, err = db.ReadChain(ctx)
	require.NoError(t, err)
	require.Len(t, chain, 4)
	assert.Equal(t, replacement.Hash(), chain[3].Hash())

	tx, err = db.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.RemoveHeader(3))
	require.NoError(t, tx.RemoveHeader(2))
	require.NoError(t, tx.Commit())

	chain, err = db.ReadChain(ctx)
	require.NoError(t, err)
	require.Len(t, chain, 2)
}

func UnspentTx(t *testing.T, db chainstatestore.Cursor) {
	ctx := context.Background()

	utx := model.NewUnspentTx(Hash, 7, 1, 3)
	utx.OutputStates.SetSpent(1)

	tx, err := db.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.PutUnspentTx(utx))
	require.NoError(t, tx.PutUnspentTx(model.NewUnspentTx(Hash2, 8, 0, 1)))

	// reads inside the transaction see its writes
	got, ok, err := tx.GetUnspentTx(Hash)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, utx.Equal(got))

	// nothing is visible before commit
	_, err = db.GetUnspentTx(ctx, Hash)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrTxNotFound))

	require.NoError(t, tx.Commit())

	got, err = db.GetUnspentTx(ctx, Hash)
	require.NoError(t, err)
	assert.True(t, utx.Equal(got))

	count := 0
	err = db.ForEachUnspentTx(ctx, func(_ *model.UnspentTx) error {
		count++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	tx, err = db.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.DeleteUnspentTx(Hash))

	_, ok, err = tx.GetUnspentTx(Hash)
	require.NoError(t, err)
	require.False(t, ok)

	got, ok, err = tx.GetUnspentTx(Hash2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(8), got.BlockHeight)

	require.NoError(t, tx.Commit())

	_, err = db.GetUnspentTx(ctx, Hash)
	require.Error(t, err)
}

func RollbackRecord(t *testing.T, db chainstatestore.Cursor) {
	ctx := context.Background()
	blockHash := chainhash.HashH([]byte("block"))

	_, err := db.GetRollbackRecord(ctx, blockHash)
	require.Error(t, err)
	assert.True(t, errors.IsMissingDataError(err))

	record := model.NewRollbackRecord(blockHash)
	record.Removed[Hash] = model.NewUnspentTx(Hash, 1, 0, 1)
	record.SpentOutputs = append(record.SpentOutputs, &bt.Output{Satoshis: 42, LockingScript: bscript.NewFromBytes([]byte{0x51})})

	tx, err := db.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.PutRollbackRecord(record))
	require.NoError(t, tx.Commit())

	got, err := db.GetRollbackRecord(ctx, blockHash)
	require.NoError(t, err)
	assert.Equal(t, record.Bytes(), got.Bytes())

	tx, err = db.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.DeleteRollbackRecord(blockHash))
	require.NoError(t, tx.Commit())

	_, err = db.GetRollbackRecord(ctx, blockHash)
	require.Error(t, err)
}

// Atomicity checks that nothing written by a rolled back transaction is visible.
func Atomicity(t *testing.T, db chainstatestore.Cursor) {
	ctx := context.Background()

	tx, err := db.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.AddHeader(0, Headers(1)[0]))
	require.NoError(t, tx.PutUnspentTx(model.NewUnspentTx(Hash, 1, 0, 1)))
	require.NoError(t, tx.PutRollbackRecord(model.NewRollbackRecord(Hash2)))
	require.NoError(t, tx.Rollback())

	chain, err := db.ReadChain(ctx)
	require.NoError(t, err)
	require.Empty(t, chain)

	_, err = db.GetUnspentTx(ctx, Hash)
	require.Error(t, err)

	_, err = db.GetRollbackRecord(ctx, Hash2)
	require.Error(t, err)

	// a finished transaction can not be reused
	require.Error(t, tx.Commit())
	require.Error(t, tx.Rollback())
	require.Error(t, tx.PutUnspentTx(model.NewUnspentTx(Hash, 1, 0, 1)))

	canceledCtx, cancel := context.WithCancel(ctx)
	cancel()

	_, err = db.Begin(canceledCtx)
	require.Error(t, err)
}
