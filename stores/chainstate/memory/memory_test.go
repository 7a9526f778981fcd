package memory

import (
	"context"
	"testing"

	"github.com/bsv-blockchain/chainstate/stores/chainstate/tests"
	"github.com/bsv-blockchain/chainstate/ulogger"
	"github.com/stretchr/testify/require"
)

func TestMemory(t *testing.T) {
	t.Run("memory chain", func(t *testing.T) {
		tests.Chain(t, New(ulogger.TestLogger{}))
	})

	t.Run("memory unspent tx", func(t *testing.T) {
		tests.UnspentTx(t, New(ulogger.TestLogger{}))
	})

	t.Run("memory rollback record", func(t *testing.T) {
		tests.RollbackRecord(t, New(ulogger.TestLogger{}))
	})

	t.Run("memory atomicity", func(t *testing.T) {
		tests.Atomicity(t, New(ulogger.TestLogger{}))
	})
}

func TestMemory_HeaderGap(t *testing.T) {
	ctx := context.Background()
	db := New(ulogger.TestLogger{})

	tx, err := db.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.AddHeader(1, tests.Headers(2)[1]))
	require.Error(t, tx.Commit())

	chain, err := db.ReadChain(ctx)
	require.NoError(t, err)
	require.Empty(t, chain)
}
