package blockchain

import (
	"bytes"
	"context"
	"math/rand"
	"testing"

	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/chainstate/model"
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGenesis(t *testing.T, nonce uint32) *model.ChainedHeader {
	t.Helper()

	genesis, err := model.NewGenesisChainedHeader(&model.BlockHeader{
		Version:        1,
		HashPrevBlock:  &chainhash.Hash{},
		HashMerkleRoot: &chainhash.Hash{},
		Timestamp:      1296688602,
		Bits:           model.NewNBitFromUint32(0x207fffff),
		Nonce:          nonce,
	})
	require.NoError(t, err)

	return genesis
}

func branch(t *testing.T, idx *HeaderIndex, prev *model.ChainedHeader, count int, nonce uint32) []*model.ChainedHeader {
	t.Helper()

	headers := make([]*model.ChainedHeader, 0, count)

	for i := 0; i < count; i++ {
		next, err := idx.AddHeader(context.Background(), &model.BlockHeader{
			Version:        1,
			HashPrevBlock:  prev.Hash,
			HashMerkleRoot: &chainhash.Hash{},
			Timestamp:      prev.Header.Timestamp + 1,
			Bits:           prev.Header.Bits,
			Nonce:          nonce,
		})
		require.NoError(t, err)

		headers = append(headers, next)
		prev = next
	}

	return headers
}

func TestGetPath(t *testing.T) {
	ctx := context.Background()

	genesis := newGenesis(t, 2)
	idx := NewHeaderIndex(genesis)

	// G - A1 - A2 - A3 - A4
	//       \
	//        B2 - B3
	a := branch(t, idx, genesis, 4, 0)
	b := branch(t, idx, a[0], 2, 1)

	t.Run("reorg", func(t *testing.T) {
		path, err := GetPath(ctx, a[3], b[1], idx)
		require.NoError(t, err)

		assert.Equal(t, a[0], path.LastCommonBlock)
		assert.Equal(t, []*model.ChainedHeader{a[3], a[2], a[1]}, path.RewindBlocks)
		assert.Equal(t, []*model.ChainedHeader{b[0], b[1]}, path.AdvanceBlocks)

		steps := path.Steps()
		require.Len(t, steps, 5)
		assert.Equal(t, Rewind, steps[0].Direction)
		assert.Equal(t, a[3], steps[0].Header)
		assert.Equal(t, Advance, steps[4].Direction)
		assert.Equal(t, b[1], steps[4].Header)
	})

	t.Run("reorg back", func(t *testing.T) {
		path, err := GetPath(ctx, b[1], a[3], idx)
		require.NoError(t, err)

		assert.Equal(t, a[0], path.LastCommonBlock)
		assert.Equal(t, []*model.ChainedHeader{b[1], b[0]}, path.RewindBlocks)
		assert.Equal(t, []*model.ChainedHeader{a[1], a[2], a[3]}, path.AdvanceBlocks)
	})

	t.Run("same tip", func(t *testing.T) {
		path, err := GetPath(ctx, a[2], a[2], idx)
		require.NoError(t, err)

		assert.True(t, path.IsEmpty())
		assert.Empty(t, path.Steps())
		assert.Equal(t, a[2], path.LastCommonBlock)
		assert.Equal(t, path.FromBlock, path.ToBlock)
	})

	t.Run("advance only", func(t *testing.T) {
		path, err := GetPath(ctx, genesis, a[3], idx)
		require.NoError(t, err)

		assert.Empty(t, path.RewindBlocks)
		assert.Equal(t, a, path.AdvanceBlocks)
		assert.Equal(t, genesis, path.LastCommonBlock)
	})

	t.Run("rewind only", func(t *testing.T) {
		path, err := GetPath(ctx, b[1], a[0], idx)
		require.NoError(t, err)

		assert.Empty(t, path.AdvanceBlocks)
		assert.Equal(t, []*model.ChainedHeader{b[1], b[0]}, path.RewindBlocks)
		assert.Equal(t, a[0], path.LastCommonBlock)
	})

	t.Run("different genesis", func(t *testing.T) {
		otherGenesis := newGenesis(t, 3)
		idx.Add(otherGenesis)
		other := branch(t, idx, otherGenesis, 2, 0)

		_, err := GetPath(ctx, a[3], other[1], idx)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrChainMismatch))
		assert.True(t, errors.IsValidationError(err))
	})

	t.Run("missing header", func(t *testing.T) {
		orphanIdx := NewHeaderIndex(a[3], b[1])

		_, err := GetPath(ctx, a[3], b[1], orphanIdx)
		require.Error(t, err)
		assert.True(t, errors.IsMissingDataError(err))
	})

	t.Run("canceled", func(t *testing.T) {
		canceledCtx, cancel := context.WithCancel(ctx)
		cancel()

		_, err := GetPath(canceledCtx, a[3], b[1], idx)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrContextCanceled))
	})
}

func TestHeaderIndex(t *testing.T) {
	ctx := context.Background()

	genesis := newGenesis(t, 2)
	idx := NewHeaderIndex(genesis)

	header, err := idx.GetHeader(ctx, genesis.Hash)
	require.NoError(t, err)
	assert.Equal(t, genesis, header)

	_, err = idx.GetHeader(ctx, &chainhash.Hash{1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrBlockNotFound))

	_, err = idx.GetHeader(ctx, nil)
	require.Error(t, err)

	_, err = idx.AddHeader(ctx, &model.BlockHeader{HashPrevBlock: &chainhash.Hash{1}})
	require.Error(t, err)

	branch(t, idx, genesis, 3, 0)
	assert.Equal(t, 4, idx.Len())

	assert.Equal(t, "rewind", Rewind.String())
	assert.Equal(t, "Direction(0)", Direction(0).String())
}

func TestHeaderIndex_Link(t *testing.T) {
	ctx := context.Background()

	genesis := newGenesis(t, 2)

	source := NewHeaderIndex(genesis)
	a := branch(t, source, genesis, 3, 0)
	b := branch(t, source, a[0], 1, 1)

	orphan := &model.BlockHeader{HashPrevBlock: &chainhash.Hash{9}, Bits: genesis.Header.Bits}

	// children before parents
	idx := NewHeaderIndex(genesis)
	orphans, err := idx.Link(ctx, []*model.BlockHeader{a[2].Header, b[0].Header, orphan, a[1].Header, a[0].Header})
	require.NoError(t, err)

	require.Len(t, orphans, 1)
	assert.Equal(t, orphan, orphans[0])
	assert.Equal(t, 5, idx.Len())

	linked, err := idx.GetHeader(ctx, a[2].Hash)
	require.NoError(t, err)
	assert.True(t, linked.Equal(a[2]))
	assert.Equal(t, uint32(3), linked.Height)

	t.Run("best is the most work", func(t *testing.T) {
		assert.True(t, idx.Best().Equal(a[2]))
	})

	t.Run("ties go to the lower hash", func(t *testing.T) {
		tie := NewHeaderIndex(a[0], b[0], a[1])

		expected := a[1]
		if bytes.Compare(b[0].Hash[:], a[1].Hash[:]) < 0 {
			expected = b[0]
		}

		assert.True(t, tie.Best().Equal(expected))
	})

	assert.Nil(t, NewHeaderIndex().Best())
}

func TestHeaderIndex_LinkShuffled(t *testing.T) {
	ctx := context.Background()

	genesis := newGenesis(t, 2)
	chain := branch(t, NewHeaderIndex(genesis), genesis, 5000, 0)

	headers := make([]*model.BlockHeader, len(chain))
	for i, header := range chain {
		headers[i] = header.Header
	}

	rand.New(rand.NewSource(1)).Shuffle(len(headers), func(i, j int) {
		headers[i], headers[j] = headers[j], headers[i]
	})

	idx := NewHeaderIndex(genesis)

	orphans, err := idx.Link(ctx, headers)
	require.NoError(t, err)
	assert.Empty(t, orphans)
	assert.Equal(t, len(chain)+1, idx.Len())
	assert.True(t, idx.Best().Equal(chain[len(chain)-1]))

	t.Run("canceled", func(t *testing.T) {
		canceled, cancel := context.WithCancel(ctx)
		cancel()

		_, err := NewHeaderIndex(genesis).Link(canceled, headers)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrContextCanceled))
	})
}

func TestHeaderIndex_MarkInvalid(t *testing.T) {
	genesis := newGenesis(t, 2)
	idx := NewHeaderIndex(genesis)

	// G - A1 - A2 - A3
	//       \
	//        B2
	a := branch(t, idx, genesis, 3, 0)
	b := branch(t, idx, a[0], 1, 1)

	require.True(t, idx.Best().Equal(a[2]))

	idx.MarkInvalid(a[1].Hash)

	assert.True(t, idx.IsInvalid(a[1].Hash))
	assert.True(t, idx.IsInvalid(a[2].Hash))
	assert.False(t, idx.IsInvalid(a[0].Hash))
	assert.True(t, idx.Best().Equal(b[0]))

	// still resolvable, only excluded from Best
	_, err := idx.GetHeader(context.Background(), a[2].Hash)
	require.NoError(t, err)

	t.Run("descendants added later are invalid", func(t *testing.T) {
		a4 := branch(t, idx, a[2], 2, 0)

		assert.True(t, idx.IsInvalid(a4[1].Hash))
		assert.True(t, idx.Best().Equal(b[0]))
	})

	t.Run("marked before it is indexed", func(t *testing.T) {
		other := NewHeaderIndex(genesis)
		other.MarkInvalid(a[0].Hash)

		other.Add(a[0], a[1])
		assert.True(t, other.Best().Equal(genesis))
	})

	t.Run("a non-best header leaves best alone", func(t *testing.T) {
		idx.MarkInvalid(b[0].Hash)
		assert.True(t, idx.Best().Equal(a[0]))
	})
}
