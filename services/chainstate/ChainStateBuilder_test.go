package chainstate

import (
	"bytes"
	"context"
	"encoding/hex"
	"testing"
	"time"

	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/chainstate/model"
	"github.com/bsv-blockchain/chainstate/services/blockchain"
	"github.com/bsv-blockchain/chainstate/settings"
	blockstorememory "github.com/bsv-blockchain/chainstate/stores/blockstore/memory"
	chainstatestore "github.com/bsv-blockchain/chainstate/stores/chainstate"
	chainstatememory "github.com/bsv-blockchain/chainstate/stores/chainstate/memory"
	utxostore "github.com/bsv-blockchain/chainstate/stores/utxo"
	"github.com/bsv-blockchain/chainstate/ulogger"
	"github.com/bsv-blockchain/chainstate/util/test"
	"github.com/bsv-blockchain/chainstate/util/test/blockgen"
	"github.com/bsv-blockchain/go-bt/v2"
	"github.com/bsv-blockchain/go-bt/v2/bscript"
	bec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	t         *testing.T
	tSettings *settings.Settings
	logger    ulogger.Logger
	gen       *blockgen.Generator
	genesis   *model.ChainedHeader
	blocks    *blockstorememory.Memory
	headers   *blockchain.HeaderIndex
	cursor    chainstatestore.Cursor
	builder   *ChainStateBuilder
}

type harnessOption func(h *harness)

func withLogger(logger ulogger.Logger) harnessOption {
	return func(h *harness) {
		h.logger = logger
	}
}

func withCursor(cursor chainstatestore.Cursor) harnessOption {
	return func(h *harness) {
		h.cursor = cursor
	}
}

func withSettings(fn func(tSettings *settings.Settings)) harnessOption {
	return func(h *harness) {
		fn(h.tSettings)
	}
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	tSettings := test.CreateBaseTestSettings(t)

	key, _ := bec.PrivateKeyFromBytes(bytes.Repeat([]byte{0x07}, 32))

	gen, err := blockgen.New(tSettings.ChainCfgParams, key)
	require.NoError(t, err)

	h := &harness{
		t:         t,
		tSettings: tSettings,
		logger:    ulogger.TestLogger{},
		gen:       gen,
		genesis:   tSettings.ChainCfgParams.GenesisChainedHeader(),
		blocks:    blockstorememory.New(),
		headers:   blockchain.NewHeaderIndex(),
	}

	for _, opt := range opts {
		opt(h)
	}

	if h.cursor == nil {
		h.cursor = chainstatememory.New(h.logger)
	}

	h.builder = h.newBuilder()

	return h
}

func (h *harness) newBuilder() *ChainStateBuilder {
	h.t.Helper()

	b, err := New(context.Background(), h.logger, h.tSettings, h.cursor, h.blocks, h.headers)
	require.NoError(h.t, err)

	h.t.Cleanup(b.Close)

	return b
}

// mine builds a block on prev and makes it known to the block and header sources.
func (h *harness) mine(prev *model.ChainedHeader, txs ...*bt.Tx) (*model.Block, *model.ChainedHeader) {
	h.t.Helper()

	block, header, err := h.gen.NewBlock(prev, txs...)
	require.NoError(h.t, err)

	h.blocks.Put(block)
	h.headers.Add(header)

	return block, header
}

func (h *harness) extend(prev *model.ChainedHeader, count int) []*model.ChainedHeader {
	h.t.Helper()

	blocks, headers, err := h.gen.Extend(prev, count)
	require.NoError(h.t, err)

	h.blocks.Put(blocks...)
	h.headers.Add(headers...)

	return headers
}

func (h *harness) spend(fee uint64, outputs int, coins ...blockgen.Coin) *bt.Tx {
	h.t.Helper()

	tx, err := h.gen.Spend(fee, outputs, coins...)
	require.NoError(h.t, err)

	return tx
}

func (h *harness) applyTo(header *model.ChainedHeader) error {
	return h.builder.ApplyTowards(context.Background(), FixedTarget(header), nil, nil)
}

func coinbase(block *model.Block) blockgen.Coin {
	return blockgen.Coin{Tx: block.Transactions[0], Index: 0}
}

// utxoSet renders a UTXO set for comparison.
func utxoSet(r utxostore.Reader) map[string]string {
	set := make(map[string]string, r.Count())

	r.ForEach(func(utx *model.UnspentTx) bool {
		set[utx.TxHash.String()] = hex.EncodeToString(utx.Bytes())
		return true
	})

	return set
}

func storedUtxoSet(t *testing.T, cursor chainstatestore.Cursor) map[string]string {
	t.Helper()

	set := make(map[string]string)

	require.NoError(t, cursor.ForEachUnspentTx(context.Background(), func(utx *model.UnspentTx) error {
		set[utx.TxHash.String()] = hex.EncodeToString(utx.Bytes())
		return nil
	}))

	return set
}

func storedHeight(t *testing.T, cursor chainstatestore.Cursor) int {
	t.Helper()

	headers, err := cursor.ReadChain(context.Background())
	require.NoError(t, err)

	return len(headers) - 1
}

func TestApplyTowards_Advance(t *testing.T) {
	h := newHarness(t)

	headers := h.extend(h.genesis, 3)

	require.NoError(t, h.applyTo(headers[2]))

	snapshot := h.builder.Snapshot()
	assert.Equal(t, uint32(3), snapshot.Chain.Height())
	assert.True(t, snapshot.Chain.Tip().Equal(headers[2]))

	// the genesis coinbase is never minted
	assert.Equal(t, 3, snapshot.UTXO.Count())
	assert.Equal(t, 3, storedHeight(t, h.cursor))
	assert.Equal(t, utxoSet(snapshot.UTXO), storedUtxoSet(t, h.cursor))
	assert.True(t, h.builder.IsConsistent())

	stats := h.builder.Stats()
	assert.Equal(t, uint64(3), stats.BlocksAdvanced)
	assert.Equal(t, uint64(3), stats.OutputsMinted)
	assert.Equal(t, uint64(0), stats.FailedSteps)

	t.Run("already at target", func(t *testing.T) {
		require.NoError(t, h.applyTo(headers[2]))
		assert.Equal(t, uint64(3), h.builder.Stats().BlocksAdvanced)
	})
}

func TestApplyTowards_Spends(t *testing.T) {
	h := newHarness(t)

	block1, header1 := h.mine(h.genesis)

	parent := h.spend(1000, 2, coinbase(block1))
	child := h.spend(500, 1, blockgen.Coin{Tx: parent, Index: 1})

	_, header2 := h.mine(header1, parent, child)

	require.NoError(t, h.applyTo(header2))

	utxos := h.builder.Snapshot().UTXO

	_, ok := utxos.Get(*block1.Transactions[0].TxIDChainHash())
	assert.False(t, ok, "fully spent coinbase is removed")

	assert.True(t, utxos.CanSpend(model.NewTxOutputKey(*parent.TxIDChainHash(), 0)))
	assert.False(t, utxos.CanSpend(model.NewTxOutputKey(*parent.TxIDChainHash(), 1)))
	assert.True(t, utxos.CanSpend(model.NewTxOutputKey(*child.TxIDChainHash(), 0)))
	assert.Equal(t, 3, utxos.Count())

	record, err := h.cursor.GetRollbackRecord(context.Background(), *header2.Hash)
	require.NoError(t, err)

	require.Len(t, record.SpentOutputs, 2)
	assert.Equal(t, block1.Transactions[0].Outputs[0].Satoshis, record.SpentOutputs[0].Satoshis)
	assert.Equal(t, parent.Outputs[1].Satoshis, record.SpentOutputs[1].Satoshis)
	assert.Contains(t, record.Removed, *block1.Transactions[0].TxIDChainHash())

	stats := h.builder.Stats()
	assert.Equal(t, uint64(2), stats.InputsSpent)
	assert.Equal(t, uint64(4), stats.Transactions)
	assert.Equal(t, uint64(5), stats.OutputsMinted)
}

func TestApplyTowards_Reorg(t *testing.T) {
	h := newHarness(t)

	block1, header1 := h.mine(h.genesis)

	// chain A spends the first coinbase one way
	_, headerA2 := h.mine(header1, h.spend(1000, 1, coinbase(block1)))
	headerA3 := h.extend(headerA2, 1)[0]

	// chain B spends it another way and is longer
	_, headerB2 := h.mine(header1, h.spend(2000, 3, coinbase(block1)))
	headersB := h.extend(headerB2, 2)

	require.NoError(t, h.applyTo(headerA3))
	setA := utxoSet(h.builder.Snapshot().UTXO)

	require.NoError(t, h.applyTo(headersB[1]))
	assert.True(t, h.builder.Snapshot().Chain.Tip().Equal(headersB[1]))

	stats := h.builder.Stats()
	assert.Equal(t, uint64(2), stats.BlocksRewound)
	assert.Equal(t, uint64(6), stats.BlocksAdvanced)

	// the state after the reorg equals applying chain B from scratch
	fresh := newHarness(t)
	fresh.blocks = h.blocks
	fresh.headers = h.headers
	fresh.builder = fresh.newBuilder()

	require.NoError(t, fresh.applyTo(headersB[1]))
	assert.Equal(t, utxoSet(fresh.builder.Snapshot().UTXO), utxoSet(h.builder.Snapshot().UTXO))
	assert.Equal(t, utxoSet(h.builder.Snapshot().UTXO), storedUtxoSet(t, h.cursor))

	// and back again
	require.NoError(t, h.applyTo(headerA3))
	assert.Equal(t, setA, utxoSet(h.builder.Snapshot().UTXO))
	assert.Equal(t, setA, storedUtxoSet(t, h.cursor))
	assert.Equal(t, 3, storedHeight(t, h.cursor))
}

func TestApplyTowards_RollbackRoundTrip(t *testing.T) {
	h := newHarness(t)

	block1, header1 := h.mine(h.genesis)
	block2, header2 := h.mine(header1)

	require.NoError(t, h.applyTo(header2))

	before := utxoSet(h.builder.Snapshot().UTXO)
	storedBefore := storedUtxoSet(t, h.cursor)

	tx1 := h.spend(100, 4, coinbase(block1))
	tx2 := h.spend(100, 2, blockgen.Coin{Tx: tx1, Index: 0}, blockgen.Coin{Tx: tx1, Index: 3}, coinbase(block2))
	block3, header3 := h.mine(header2, tx1, tx2)

	tx3 := h.spend(100, 1, blockgen.Coin{Tx: tx2, Index: 0}, blockgen.Coin{Tx: tx1, Index: 1})
	_, header4 := h.mine(header3, tx3, h.spend(0, 1, coinbase(block3)))

	require.NoError(t, h.applyTo(header4))
	assert.NotEqual(t, before, utxoSet(h.builder.Snapshot().UTXO))

	require.NoError(t, h.applyTo(header2))

	assert.Equal(t, before, utxoSet(h.builder.Snapshot().UTXO))
	assert.Equal(t, storedBefore, storedUtxoSet(t, h.cursor))
	assert.Equal(t, 2, storedHeight(t, h.cursor))

	for _, header := range []*model.ChainedHeader{header3, header4} {
		_, err := h.cursor.GetRollbackRecord(context.Background(), *header.Hash)
		assert.True(t, errors.Is(err, errors.ErrMissingData), "rollback record of %s is deleted", header)
	}

	stats := h.builder.Stats()
	assert.Equal(t, stats.InputsSpent, stats.InputsUnspent)
	assert.Equal(t, stats.OutputsMinted-2, stats.OutputsUnminted)
}

func TestApplyTowards_LongRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("long chain")
	}

	const length = 2000

	h := newHarness(t)

	// every block spends the coinbase of its parent and the change carried along the chain
	headers := make([]*model.ChainedHeader, 0, length)

	prevBlock, header := h.mine(h.genesis)
	headers = append(headers, header)

	tx := h.spend(0, 2, coinbase(prevBlock))
	prevBlock, header = h.mine(header, tx)
	headers = append(headers, header)

	for len(headers) < length {
		tx = h.spend(0, 2, coinbase(prevBlock), blockgen.Coin{Tx: tx, Index: 1})
		prevBlock, header = h.mine(header, tx)
		headers = append(headers, header)
	}

	mid := headers[length/2-1]

	require.NoError(t, h.applyTo(mid))
	atMid := utxoSet(h.builder.Snapshot().UTXO)

	// readers see a complete state while the chain moves under them
	stop := make(chan struct{})
	readerDone := make(chan struct{})

	go func() {
		defer close(readerDone)

		for {
			select {
			case <-stop:
				return
			default:
			}

			utxos := h.builder.Snapshot().UTXO
			count := 0

			utxos.ForEach(func(*model.UnspentTx) bool {
				count++
				return true
			})

			if count != utxos.Count() {
				t.Errorf("snapshot holds %d unspent txs but counts %d", count, utxos.Count())
				return
			}
		}
	}()

	require.NoError(t, h.applyTo(headers[length-1]))
	assert.Equal(t, uint32(length), h.builder.Snapshot().Chain.Height())

	require.NoError(t, h.applyTo(mid))
	assert.Equal(t, atMid, utxoSet(h.builder.Snapshot().UTXO))
	assert.Equal(t, atMid, storedUtxoSet(t, h.cursor))

	require.NoError(t, h.applyTo(h.genesis))

	close(stop)
	<-readerDone

	assert.Equal(t, 0, h.builder.Snapshot().UTXO.Count())
	assert.Empty(t, storedUtxoSet(t, h.cursor))
	assert.Equal(t, 0, storedHeight(t, h.cursor))
	assert.True(t, h.builder.IsConsistent())

	stats := h.builder.Stats()
	assert.Equal(t, stats.InputsSpent, stats.InputsUnspent)
	assert.Equal(t, stats.OutputsMinted, stats.OutputsUnminted)
	assert.Equal(t, uint64(0), stats.FailedSteps)
}

func TestApplyTowards_DoubleSpend(t *testing.T) {
	h := newHarness(t)

	block1, header1 := h.mine(h.genesis)
	require.NoError(t, h.applyTo(header1))

	before := utxoSet(h.builder.Snapshot().UTXO)

	t.Run("within one block", func(t *testing.T) {
		first := h.spend(100, 1, coinbase(block1))
		second := h.spend(200, 1, coinbase(block1))

		_, header := h.mine(header1, first, second)

		err := h.applyTo(header)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrBlockInvalid))
		assert.True(t, errors.Is(err, errors.ErrSpent))
		assert.True(t, errors.IsValidationError(err))

		assert.True(t, h.builder.IsConsistent())
		assert.True(t, h.builder.Snapshot().Chain.Tip().Equal(header1))
		assert.Equal(t, before, utxoSet(h.builder.Snapshot().UTXO))
		assert.Equal(t, before, storedUtxoSet(t, h.cursor))
		assert.Equal(t, 1, storedHeight(t, h.cursor))
	})

	spent := h.spend(100, 1, coinbase(block1))
	_, header2 := h.mine(header1, spent)

	t.Run("across blocks stops at the last valid block", func(t *testing.T) {
		_, header3 := h.mine(header2, h.spend(300, 1, coinbase(block1)))

		err := h.applyTo(header3)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrSpent))

		assert.True(t, h.builder.Snapshot().Chain.Tip().Equal(header2))
		assert.Equal(t, 2, storedHeight(t, h.cursor))
	})

	t.Run("output never created", func(t *testing.T) {
		unmined := h.spend(100, 1, blockgen.Coin{Tx: spent, Index: 0})
		_, header3 := h.mine(header2, h.spend(100, 1, blockgen.Coin{Tx: unmined, Index: 0}))

		err := h.applyTo(header3)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrUtxoNotFound))
		assert.True(t, errors.IsValidationError(err))
		assert.True(t, h.builder.Snapshot().Chain.Tip().Equal(header2))
	})

	assert.Equal(t, uint64(3), h.builder.Stats().FailedSteps)
}

func TestApplyTowards_BadSignature(t *testing.T) {
	h := newHarness(t)

	block1, header1 := h.mine(h.genesis)

	tx := h.spend(100, 1, coinbase(block1))

	script := append([]byte{}, *tx.Inputs[0].UnlockingScript...)
	script[10] ^= 0xff
	tx.Inputs[0].UnlockingScript = bscript.NewFromBytes(script)

	_, header2 := h.mine(header1, tx)

	err := h.applyTo(header2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrScriptInvalid))
	assert.True(t, h.builder.Snapshot().Chain.Tip().Equal(header1))

	t.Run("accepted when signatures are ignored", func(t *testing.T) {
		trusting := newHarness(t, withSettings(func(tSettings *settings.Settings) {
			tSettings.ChainState.IgnoreSignatures = true
		}))
		trusting.blocks = h.blocks
		trusting.headers = h.headers
		trusting.builder = trusting.newBuilder()

		require.NoError(t, trusting.applyTo(header2))
	})
}

func TestApplyTowards_MissingData(t *testing.T) {
	h := newHarness(t)

	headers := h.extend(h.genesis, 2)

	block3, header3, err := h.gen.NewBlock(headers[1])
	require.NoError(t, err)

	h.headers.Add(header3)

	err = h.applyTo(header3)
	require.Error(t, err)
	assert.True(t, errors.IsMissingDataError(err))
	assert.True(t, errors.IsRetryableError(err))
	assert.False(t, errors.IsValidationError(err))
	assert.Contains(t, err.Error(), header3.Hash.String())

	// the blocks before the missing one are applied
	assert.True(t, h.builder.Snapshot().Chain.Tip().Equal(headers[1]))

	h.blocks.Put(block3)

	require.NoError(t, h.applyTo(header3))
	assert.True(t, h.builder.Snapshot().Chain.Tip().Equal(header3))
}

func TestApplyTowards_Cancellation(t *testing.T) {
	t.Run("shutdown before the first step", func(t *testing.T) {
		h := newHarness(t)
		headers := h.extend(h.genesis, 2)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := h.builder.ApplyTowards(ctx, FixedTarget(headers[1]), nil, nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrContextCanceled))
		assert.Equal(t, uint32(0), h.builder.Snapshot().Chain.Height())
	})

	t.Run("shutdown between steps", func(t *testing.T) {
		h := newHarness(t)
		headers := h.extend(h.genesis, 4)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		err := h.builder.ApplyTowards(ctx, FixedTarget(headers[3]), nil, func(progress Progress) {
			if progress.Step == 2 {
				cancel()
			}
		})
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrContextCanceled))
		assert.False(t, errors.Is(err, errors.ErrTargetSuperseded))

		assert.True(t, h.builder.Snapshot().Chain.Tip().Equal(headers[1]))
		assert.Equal(t, 2, storedHeight(t, h.cursor))
		assert.True(t, h.builder.IsConsistent())
	})

	t.Run("target superseded between steps", func(t *testing.T) {
		h := newHarness(t)
		headers := h.extend(h.genesis, 4)

		superseded := make(chan struct{})

		err := h.builder.ApplyTowards(context.Background(), FixedTarget(headers[3]), superseded, func(progress Progress) {
			if progress.Step == 3 {
				close(superseded)
			}
		})
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrTargetSuperseded))
		assert.True(t, h.builder.Snapshot().Chain.Tip().Equal(headers[2]))

		// a later call reads the target again and finishes
		require.NoError(t, h.applyTo(headers[3]))
	})

	t.Run("target is read on every call", func(t *testing.T) {
		h := newHarness(t)
		headers := h.extend(h.genesis, 3)

		target := headers[0]
		provider := TargetProviderFunc(func(context.Context) (*model.ChainedHeader, error) {
			return target, nil
		})

		require.NoError(t, h.builder.ApplyTowards(context.Background(), provider, nil, nil))
		assert.Equal(t, uint32(1), h.builder.Snapshot().Chain.Height())

		target = headers[2]

		require.NoError(t, h.builder.ApplyTowards(context.Background(), provider, nil, nil))
		assert.Equal(t, uint32(3), h.builder.Snapshot().Chain.Height())
	})

	t.Run("target error", func(t *testing.T) {
		h := newHarness(t)

		err := h.builder.ApplyTowards(context.Background(), TargetProviderFunc(func(context.Context) (*model.ChainedHeader, error) {
			return nil, errors.NewNotFoundError("no best header")
		}), nil, nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrNotFound))
	})
}

func TestApplyTowards_Progress(t *testing.T) {
	h := newHarness(t)
	headers := h.extend(h.genesis, 3)

	var reports []Progress

	require.NoError(t, h.builder.ApplyTowards(context.Background(), FixedTarget(headers[2]), nil, func(progress Progress) {
		reports = append(reports, progress)
	}))

	require.Len(t, reports, 3)

	for i, progress := range reports {
		assert.Equal(t, i+1, progress.Step)
		assert.Equal(t, 3, progress.Steps)
		assert.Equal(t, uint32(i+1), progress.Height) //nolint:gosec // test
		assert.Equal(t, blockchain.Advance, progress.Direction)
		assert.Equal(t, uint64(i+1), progress.Stats.BlocksAdvanced) //nolint:gosec // test
	}

	t.Run("throttled to the last step", func(t *testing.T) {
		h := newHarness(t, withSettings(func(tSettings *settings.Settings) {
			tSettings.ChainState.ProgressInterval = time.Hour
		}))
		headers := h.extend(h.genesis, 3)

		var steps []int

		// the first report is never throttled
		require.NoError(t, h.builder.ApplyTowards(context.Background(), FixedTarget(headers[2]), nil, func(progress Progress) {
			steps = append(steps, progress.Step)
		}))

		assert.Equal(t, []int{1, 3}, steps)
	})
}

func TestApplyTowards_SnapshotInterval(t *testing.T) {
	h := newHarness(t, withSettings(func(tSettings *settings.Settings) {
		tSettings.ChainState.SnapshotInterval = 2
	}))
	headers := h.extend(h.genesis, 5)

	var published []uint32

	require.NoError(t, h.builder.ApplyTowards(context.Background(), FixedTarget(headers[4]), nil, func(Progress) {
		published = append(published, h.builder.Snapshot().Chain.Height())
	}))

	assert.Equal(t, []uint32{0, 2, 2, 4, 4}, published)
	assert.Equal(t, uint32(5), h.builder.Snapshot().Chain.Height())
}

func TestApplyStep_UnknownDirection(t *testing.T) {
	h := newHarness(t)
	headers := h.extend(h.genesis, 1)

	block, err := h.blocks.GetBlock(context.Background(), headers[0].Hash)
	require.NoError(t, err)

	assert.Panics(t, func() {
		_ = h.builder.applyStep(context.Background(), fetchedStep{
			step:  blockchain.PathStep{Direction: 0, Header: headers[0]},
			block: block,
		})
	})

	assert.True(t, h.builder.IsConsistent())
}

func TestStats_ReturnsCopy(t *testing.T) {
	h := newHarness(t)
	headers := h.extend(h.genesis, 1)

	require.NoError(t, h.applyTo(headers[0]))

	stats := h.builder.Stats()
	stats.BlocksAdvanced = 100

	assert.Equal(t, uint64(1), h.builder.Stats().BlocksAdvanced)
	assert.Positive(t, h.builder.Stats().AdvanceDuration)
}
