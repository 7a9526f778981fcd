package memory

import (
	"context"
	"sync"

	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/chainstate/model"
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
)

// Memory is a block source fed by the caller, e.g. as blocks arrive from peers.
type Memory struct {
	mu     sync.RWMutex
	blocks map[chainhash.Hash]*model.Block
}

func New(blocks ...*model.Block) *Memory {
	m := &Memory{
		blocks: make(map[chainhash.Hash]*model.Block, len(blocks)),
	}

	m.Put(blocks...)

	return m
}

func (m *Memory) Put(blocks ...*model.Block) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, block := range blocks {
		m.blocks[*block.Hash()] = block
	}
}

func (m *Memory) Delete(hash *chainhash.Hash) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.blocks, *hash)
}

func (m *Memory) GetBlock(ctx context.Context, hash *chainhash.Hash) (*model.Block, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewContextCanceledError("[Memory][GetBlock] context done", err)
	}

	m.mu.RLock()
	block, ok := m.blocks[*hash]
	m.mu.RUnlock()

	if !ok {
		return nil, errors.NewMissingDataError("[Memory][GetBlock] block %s not available", hash)
	}

	return block, nil
}
