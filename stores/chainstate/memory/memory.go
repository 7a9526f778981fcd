package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/chainstate/model"
	chainstatestore "github.com/bsv-blockchain/chainstate/stores/chainstate"
	"github.com/bsv-blockchain/chainstate/ulogger"
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
)

// Memory is a chainstate.Cursor held in maps. Values are stored encoded so callers never
// share memory with the store.
type Memory struct {
	mu        sync.RWMutex
	logger    ulogger.Logger
	headers   [][]byte
	utxos     map[chainhash.Hash][]byte
	rollbacks map[chainhash.Hash][]byte
}

func New(logger ulogger.Logger) *Memory {
	return &Memory{
		logger:    logger,
		utxos:     make(map[chainhash.Hash][]byte),
		rollbacks: make(map[chainhash.Hash][]byte),
	}
}

func (m *Memory) Begin(ctx context.Context) (chainstatestore.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewContextCanceledError("[Memory][Begin] context done", err)
	}

	return &tx{
		m:         m,
		headers:   make(map[uint32][]byte),
		utxos:     make(map[chainhash.Hash][]byte),
		rollbacks: make(map[chainhash.Hash][]byte),
	}, nil
}

func (m *Memory) ReadChain(_ context.Context) ([]*model.BlockHeader, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	headers := make([]*model.BlockHeader, 0, len(m.headers))

	for height, b := range m.headers {
		header, err := model.NewBlockHeaderFromBytes(b)
		if err != nil {
			return nil, errors.NewStorageError("[Memory][ReadChain] header at height %d is corrupt", height, err)
		}

		headers = append(headers, header)
	}

	return headers, nil
}

func (m *Memory) GetUnspentTx(_ context.Context, hash chainhash.Hash) (*model.UnspentTx, error) {
	m.mu.RLock()
	b, ok := m.utxos[hash]
	m.mu.RUnlock()

	if !ok {
		return nil, errors.NewTxNotFoundError("[Memory][GetUnspentTx] %s not found", hash)
	}

	return model.NewUnspentTxFromBytes(hash, b)
}

func (m *Memory) ForEachUnspentTx(ctx context.Context, fn func(utx *model.UnspentTx) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for hash, b := range m.utxos {
		if err := ctx.Err(); err != nil {
			return errors.NewContextCanceledError("[Memory][ForEachUnspentTx] context done", err)
		}

		utx, err := model.NewUnspentTxFromBytes(hash, b)
		if err != nil {
			return errors.NewStorageError("[Memory][ForEachUnspentTx] entry %s is corrupt", hash, err)
		}

		if err = fn(utx); err != nil {
			return err
		}
	}

	return nil
}

func (m *Memory) GetRollbackRecord(_ context.Context, blockHash chainhash.Hash) (*model.RollbackRecord, error) {
	m.mu.RLock()
	b, ok := m.rollbacks[blockHash]
	m.mu.RUnlock()

	if !ok {
		return nil, errors.NewMissingDataError("[Memory][GetRollbackRecord] no rollback record for block %s", blockHash)
	}

	return model.NewRollbackRecordFromBytes(b)
}

func (m *Memory) Close() error {
	return nil
}

// tx buffers writes; a nil value marks a delete.
type tx struct {
	m         *Memory
	headers   map[uint32][]byte
	utxos     map[chainhash.Hash][]byte
	rollbacks map[chainhash.Hash][]byte
	closed    bool
}

func (t *tx) AddHeader(height uint32, header *model.BlockHeader) error {
	if t.closed {
		return errors.NewStorageError("[Memory][AddHeader] transaction is closed")
	}

	t.headers[height] = header.Bytes()

	return nil
}

func (t *tx) RemoveHeader(height uint32) error {
	if t.closed {
		return errors.NewStorageError("[Memory][RemoveHeader] transaction is closed")
	}

	t.headers[height] = nil

	return nil
}

func (t *tx) PutUnspentTx(utx *model.UnspentTx) error {
	if t.closed {
		return errors.NewStorageError("[Memory][PutUnspentTx] transaction is closed")
	}

	t.utxos[utx.TxHash] = utx.Bytes()

	return nil
}

func (t *tx) DeleteUnspentTx(hash chainhash.Hash) error {
	if t.closed {
		return errors.NewStorageError("[Memory][DeleteUnspentTx] transaction is closed")
	}

	t.utxos[hash] = nil

	return nil
}

func (t *tx) GetUnspentTx(hash chainhash.Hash) (*model.UnspentTx, bool, error) {
	if t.closed {
		return nil, false, errors.NewStorageError("[Memory][GetUnspentTx] transaction is closed")
	}

	b, pending := t.utxos[hash]
	if !pending {
		t.m.mu.RLock()
		b = t.m.utxos[hash]
		t.m.mu.RUnlock()
	}

	if b == nil {
		return nil, false, nil
	}

	utx, err := model.NewUnspentTxFromBytes(hash, b)
	if err != nil {
		return nil, false, err
	}

	return utx, true, nil
}

func (t *tx) PutRollbackRecord(record *model.RollbackRecord) error {
	if t.closed {
		return errors.NewStorageError("[Memory][PutRollbackRecord] transaction is closed")
	}

	t.rollbacks[record.BlockHash] = record.Bytes()

	return nil
}

func (t *tx) DeleteRollbackRecord(blockHash chainhash.Hash) error {
	if t.closed {
		return errors.NewStorageError("[Memory][DeleteRollbackRecord] transaction is closed")
	}

	t.rollbacks[blockHash] = nil

	return nil
}

// Commit applies header removals from the top before additions, so a reorg step that
// removes and adds in one transaction keeps the chain contiguous.
func (t *tx) Commit() error {
	if t.closed {
		return errors.NewStorageError("[Memory][Commit] transaction is closed")
	}

	t.closed = true

	m := t.m

	m.mu.Lock()
	defer m.mu.Unlock()

	headers := slices.Clone(m.headers)

	for {
		top := len(headers) - 1
		if top < 0 {
			break
		}

		b, pending := t.headers[uint32(top)] //nolint:gosec // height fits uint32
		if !pending || b != nil {
			break
		}

		headers = headers[:top]
	}

	for height := uint32(len(headers)); ; height++ { //nolint:gosec // height fits uint32
		b, pending := t.headers[height]
		if !pending || b == nil {
			break
		}

		headers = append(headers, b)
	}

	for height, b := range t.headers {
		if b != nil && int(height) < len(headers) {
			headers[height] = b
		} else if b == nil && int(height) < len(headers) || b != nil && int(height) >= len(headers) {
			return errors.NewStorageError("[Memory][Commit] header change at height %d leaves a gap in the chain of %d headers", height, len(headers))
		}
	}

	m.headers = headers

	for hash, b := range t.utxos {
		if b == nil {
			delete(m.utxos, hash)
		} else {
			m.utxos[hash] = b
		}
	}

	for hash, b := range t.rollbacks {
		if b == nil {
			delete(m.rollbacks, hash)
		} else {
			m.rollbacks[hash] = b
		}
	}

	return nil
}

func (t *tx) Rollback() error {
	if t.closed {
		return errors.NewStorageError("[Memory][Rollback] transaction is closed")
	}

	t.closed = true

	return nil
}
