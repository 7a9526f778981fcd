// Package tests holds the behaviour every utxo.Builder implementation must share.
package tests

import (
	"fmt"
	"testing"

	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/chainstate/model"
	utxostore "github.com/bsv-blockchain/chainstate/stores/utxo"
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	Hash  = chainhash.HashH([]byte("utxo-test-tx-1"))
	Hash2 = chainhash.HashH([]byte("utxo-test-tx-2"))
)

func key(hash chainhash.Hash, index uint32) model.TxOutputKey {
	return model.NewTxOutputKey(hash, index)
}

func Mint(t *testing.T, db utxostore.Builder) {
	overwritten, err := db.Mint(Hash, 10, 1, 3)
	require.NoError(t, err)
	require.Nil(t, overwritten)
	require.Equal(t, 1, db.Count())

	utx, ok := db.Get(Hash)
	require.True(t, ok)
	assert.Equal(t, uint32(10), utx.BlockHeight)
	assert.Equal(t, uint32(1), utx.TxIndex)
	assert.Equal(t, uint32(3), utx.OutputStates.UnspentCount())

	_, err = db.Mint(Hash2, 10, 2, 0)
	require.Error(t, err)
	require.Equal(t, 1, db.Count())
}

func CanSpend(t *testing.T, db utxostore.Builder) {
	_, err := db.Mint(Hash, 10, 1, 2)
	require.NoError(t, err)

	assert.True(t, db.CanSpend(key(Hash, 0)))
	assert.True(t, db.CanSpend(key(Hash, 1)))
	assert.False(t, db.CanSpend(key(Hash, 2)))
	assert.False(t, db.CanSpend(key(Hash, model.MaxOutputIndex)))
	assert.False(t, db.CanSpend(key(Hash2, 0)))

	_, err = db.Spend(key(Hash, 1))
	require.NoError(t, err)
	assert.False(t, db.CanSpend(key(Hash, 1)))
}

func Spend(t *testing.T, db utxostore.Builder) {
	_, err := db.Mint(Hash, 10, 1, 3)
	require.NoError(t, err)

	// every output can be spent exactly once
	for i := uint32(0); i < 3; i++ {
		removed, err := db.Spend(key(Hash, i))
		require.NoError(t, err)

		_, err = db.Spend(key(Hash, i))
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrSpent) || errors.Is(err, errors.ErrUtxoNotFound))
		assert.True(t, errors.IsValidationError(err))

		if i < 2 {
			require.Nil(t, removed)
			require.Equal(t, 1, db.Count())
		} else {
			require.NotNil(t, removed)
			assert.Equal(t, Hash, removed.TxHash)
			assert.True(t, removed.OutputStates.AllSpent())
		}
	}

	_, ok := db.Get(Hash)
	require.False(t, ok)
	require.Equal(t, 0, db.Count())

	_, err = db.Spend(key(Hash2, 0))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrUtxoNotFound))

	_, err = db.Mint(Hash2, 10, 2, 1)
	require.NoError(t, err)

	_, err = db.Spend(key(Hash2, 1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrUtxoOutOfRange))

	var data *errors.UtxoErrData
	require.True(t, errors.AsData(err, &data))
	assert.Equal(t, key(Hash2, 1), model.NewTxOutputKey(data.TxHash, data.OutputIndex))

	_, err = db.Spend(key(Hash2, model.MaxOutputIndex))
	require.Error(t, err)
}

func Rollback(t *testing.T, db utxostore.Builder) {
	_, err := db.Mint(Hash, 10, 1, 2)
	require.NoError(t, err)

	before := db.ToImmutable()

	// spend both outputs of Hash and mint Hash2, then revert in reverse order
	_, err = db.Spend(key(Hash, 0))
	require.NoError(t, err)

	removed, err := db.Spend(key(Hash, 1))
	require.NoError(t, err)
	require.NotNil(t, removed)

	overwritten, err := db.Mint(Hash2, 11, 1, 4)
	require.NoError(t, err)
	require.Nil(t, overwritten)

	require.NoError(t, db.Unmint(Hash2, 4, overwritten))
	require.NoError(t, db.Unspend(key(Hash, 1), removed))
	require.NoError(t, db.Unspend(key(Hash, 0), nil))

	assertSameSet(t, before, db)

	t.Run("unspend without removed entry", func(t *testing.T) {
		require.Error(t, db.Unspend(key(Hash2, 0), nil))
	})

	t.Run("unspend unspent output", func(t *testing.T) {
		require.Error(t, db.Unspend(key(Hash, 0), nil))
	})

	t.Run("unmint spent outputs", func(t *testing.T) {
		_, err := db.Spend(key(Hash, 0))
		require.NoError(t, err)

		require.Error(t, db.Unmint(Hash, 2, nil))
		require.NoError(t, db.Unspend(key(Hash, 0), nil))
	})
}

func Overwrite(t *testing.T, db utxostore.Builder) {
	_, err := db.Mint(Hash, 10, 0, 1)
	require.NoError(t, err)

	// a duplicate coinbase replaces the earlier, still unspent entry
	overwritten, err := db.Mint(Hash, 20, 0, 1)
	require.NoError(t, err)
	require.NotNil(t, overwritten)
	assert.Equal(t, uint32(10), overwritten.BlockHeight)
	require.Equal(t, 1, db.Count())

	utx, _ := db.Get(Hash)
	assert.Equal(t, uint32(20), utx.BlockHeight)

	require.NoError(t, db.Unmint(Hash, 1, overwritten))

	utx, ok := db.Get(Hash)
	require.True(t, ok)
	assert.Equal(t, uint32(10), utx.BlockHeight)
	require.Equal(t, 1, db.Count())
}

func SnapshotIsolation(t *testing.T, db utxostore.Builder) {
	_, err := db.Mint(Hash, 10, 1, 2)
	require.NoError(t, err)

	snapshot := db.ToImmutable()

	_, err = db.Spend(key(Hash, 0))
	require.NoError(t, err)
	_, err = db.Spend(key(Hash, 1))
	require.NoError(t, err)
	_, err = db.Mint(Hash2, 11, 1, 1)
	require.NoError(t, err)

	assert.True(t, snapshot.CanSpend(key(Hash, 0)))
	assert.True(t, snapshot.CanSpend(key(Hash, 1)))
	assert.False(t, snapshot.CanSpend(key(Hash2, 0)))
	assert.Equal(t, 1, snapshot.Count())

	after := db.ToImmutable()
	assert.False(t, after.CanSpend(key(Hash, 0)))
	assert.True(t, after.CanSpend(key(Hash2, 0)))
	assert.Equal(t, 1, after.Count())

	// a builder from the old snapshot does not see later changes
	fork := snapshot.NewBuilder()
	_, err = fork.Spend(key(Hash, 1))
	require.NoError(t, err)
	assert.True(t, snapshot.CanSpend(key(Hash, 1)))
	assert.False(t, after.CanSpend(key(Hash, 1)))
}

func Changes(t *testing.T, db utxostore.Builder) {
	_, err := db.Mint(Hash, 10, 1, 2)
	require.NoError(t, err)

	db.ToImmutable()

	_, err = db.Spend(key(Hash, 0))
	require.NoError(t, err)
	_, err = db.Mint(Hash2, 11, 1, 1)
	require.NoError(t, err)

	changes := map[chainhash.Hash]*model.UnspentTx{}
	db.Changes(func(hash chainhash.Hash, utx *model.UnspentTx) {
		changes[hash] = utx
	})

	require.Len(t, changes, 2)
	assert.False(t, changes[Hash].OutputStates.IsUnspent(0))
	assert.Equal(t, uint32(11), changes[Hash2].BlockHeight)

	db.ToImmutable()

	_, err = db.Spend(key(Hash, 1))
	require.NoError(t, err)

	changes = map[chainhash.Hash]*model.UnspentTx{}
	db.Changes(func(hash chainhash.Hash, utx *model.UnspentTx) {
		changes[hash] = utx
	})

	require.Len(t, changes, 1)
	v, ok := changes[Hash]
	require.True(t, ok)
	require.Nil(t, v)
}

// Sanity freezes the set many times so implementations exercise their compaction.
func Sanity(t *testing.T, db utxostore.Builder) {
	const rounds = 100

	hashes := make([]chainhash.Hash, 0, rounds)
	snapshots := make([]utxostore.Snapshot, 0, rounds)

	for i := 0; i < rounds; i++ {
		hash := chainhash.HashH([]byte(fmt.Sprintf("sanity-%d", i)))
		hashes = append(hashes, hash)

		_, err := db.Mint(hash, uint32(i), 0, 2) //nolint:gosec // test
		require.NoError(t, err)

		if i > 0 {
			_, err = db.Spend(key(hashes[i-1], 0))
			require.NoError(t, err)
		}

		snapshots = append(snapshots, db.ToImmutable())
	}

	require.Equal(t, rounds, db.Count())

	for i, snapshot := range snapshots {
		require.Equal(t, i+1, snapshot.Count())
		require.True(t, snapshot.CanSpend(key(hashes[i], 0)), "snapshot %d", i)

		if i > 0 {
			require.False(t, snapshot.CanSpend(key(hashes[i-1], 0)), "snapshot %d", i)
		}

		if i+1 < rounds {
			require.False(t, snapshot.CanSpend(key(hashes[i+1], 0)), "snapshot %d", i)
		}

		visited := 0
		snapshot.ForEach(func(_ *model.UnspentTx) bool {
			visited++
			return true
		})
		require.Equal(t, i+1, visited)
	}

	visited := 0
	db.ForEach(func(_ *model.UnspentTx) bool {
		visited++
		return visited < 10
	})
	require.Equal(t, 10, visited)
}

func assertSameSet(t *testing.T, expected, actual utxostore.Reader) {
	t.Helper()

	require.Equal(t, expected.Count(), actual.Count())

	expected.ForEach(func(utx *model.UnspentTx) bool {
		other, ok := actual.Get(utx.TxHash)
		require.True(t, ok, "missing %s", utx.TxHash)
		require.True(t, utx.Equal(other), "%s != %s", utx, other)

		return true
	})
}
