// Package leveldb implements chainstate.Cursor on goleveldb.
//
// Keys:
//
//	'h' | height (4, big-endian)  -> 80 byte block header
//	'u' | tx hash                 -> model.UnspentTx bytes
//	'r' | block hash              -> model.RollbackRecord bytes
package leveldb

import (
	"context"
	"encoding/binary"

	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/chainstate/model"
	chainstatestore "github.com/bsv-blockchain/chainstate/stores/chainstate"
	"github.com/bsv-blockchain/chainstate/ulogger"
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/btcsuite/goleveldb/leveldb"
	ldberrors "github.com/btcsuite/goleveldb/leveldb/errors"
	"github.com/btcsuite/goleveldb/leveldb/opt"
	"github.com/btcsuite/goleveldb/leveldb/storage"
	"github.com/btcsuite/goleveldb/leveldb/util"
	"github.com/ordishs/go-utils"
)

const (
	headerPrefix   = 'h'
	utxoPrefix     = 'u'
	rollbackPrefix = 'r'
)

type LevelDB struct {
	logger ulogger.Logger
	ldb    *leveldb.DB
}

// New opens the database at path, creating it when it does not exist. An empty path
// opens a database held in memory.
func New(logger ulogger.Logger, path string) (*LevelDB, error) {
	opts := &opt.Options{
		Compression: opt.NoCompression,
	}

	var (
		ldb *leveldb.DB
		err error
	)

	if path == "" {
		ldb, err = leveldb.Open(storage.NewMemStorage(), opts)
	} else {
		ldb, err = leveldb.OpenFile(path, opts)

		// If the database is corrupted, attempt to recover.
		if _, corrupted := err.(*ldberrors.ErrCorrupted); corrupted {
			logger.Warnf("[LevelDB] corruption detected for path %s: %v", path, err)

			ldb, err = leveldb.RecoverFile(path, opts)
			if err == nil {
				logger.Warnf("[LevelDB] recovered from corruption for path %s", path)
			}
		}
	}

	if err != nil {
		return nil, errors.NewStorageUnavailableError("[LevelDB] failed to open %q", path, err)
	}

	return &LevelDB{
		logger: logger,
		ldb:    ldb,
	}, nil
}

func headerKey(height uint32) []byte {
	key := make([]byte, 5)
	key[0] = headerPrefix
	binary.BigEndian.PutUint32(key[1:], height)

	return key
}

func hashKey(prefix byte, hash chainhash.Hash) []byte {
	key := make([]byte, 1+chainhash.HashSize)
	key[0] = prefix
	copy(key[1:], hash[:])

	return key
}

func (db *LevelDB) Begin(ctx context.Context) (chainstatestore.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewContextCanceledError("[LevelDB][Begin] context done", err)
	}

	snapshot, err := db.ldb.GetSnapshot()
	if err != nil {
		return nil, errors.NewStorageError("[LevelDB][Begin] failed to get snapshot", err)
	}

	return &transaction{
		db:       db,
		snapshot: snapshot,
		batch:    new(leveldb.Batch),
		pending:  make(map[string][]byte),
	}, nil
}

func (db *LevelDB) ReadChain(_ context.Context) ([]*model.BlockHeader, error) {
	iter := db.ldb.NewIterator(util.BytesPrefix([]byte{headerPrefix}), nil)
	defer iter.Release()

	var headers []*model.BlockHeader

	for iter.Next() {
		height := binary.BigEndian.Uint32(iter.Key()[1:])
		if int(height) != len(headers) {
			return nil, errors.NewStorageError("[LevelDB][ReadChain] expected header at height %d, found %d", len(headers), height)
		}

		header, err := model.NewBlockHeaderFromBytes(iter.Value())
		if err != nil {
			return nil, errors.NewStorageError("[LevelDB][ReadChain] header at height %d is corrupt", height, err)
		}

		headers = append(headers, header)
	}

	if err := iter.Error(); err != nil {
		return nil, errors.NewStorageError("[LevelDB][ReadChain] iterator failed", err)
	}

	return headers, nil
}

func (db *LevelDB) GetUnspentTx(_ context.Context, hash chainhash.Hash) (*model.UnspentTx, error) {
	b, err := db.ldb.Get(hashKey(utxoPrefix, hash), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, errors.NewTxNotFoundError("[LevelDB][GetUnspentTx] %s not found", hash)
		}

		return nil, errors.NewStorageError("[LevelDB][GetUnspentTx] failed to read %s", hash, err)
	}

	return model.NewUnspentTxFromBytes(hash, b)
}

func (db *LevelDB) ForEachUnspentTx(ctx context.Context, fn func(utx *model.UnspentTx) error) error {
	iter := db.ldb.NewIterator(util.BytesPrefix([]byte{utxoPrefix}), nil)
	defer iter.Release()

	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return errors.NewContextCanceledError("[LevelDB][ForEachUnspentTx] context done", err)
		}

		hash, err := chainhash.NewHash(iter.Key()[1:])
		if err != nil {
			return errors.NewStorageError("[LevelDB][ForEachUnspentTx] invalid key %s", utils.ReverseAndHexEncodeSlice(iter.Key()[1:]), err)
		}

		// the iterator reuses its buffers
		utx, err := model.NewUnspentTxFromBytes(*hash, iter.Value())
		if err != nil {
			return errors.NewStorageError("[LevelDB][ForEachUnspentTx] entry %s is corrupt", hash, err)
		}

		if err = fn(utx); err != nil {
			return err
		}
	}

	if err := iter.Error(); err != nil {
		return errors.NewStorageError("[LevelDB][ForEachUnspentTx] iterator failed", err)
	}

	return nil
}

func (db *LevelDB) GetRollbackRecord(_ context.Context, blockHash chainhash.Hash) (*model.RollbackRecord, error) {
	b, err := db.ldb.Get(hashKey(rollbackPrefix, blockHash), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, errors.NewMissingDataError("[LevelDB][GetRollbackRecord] no rollback record for block %s", blockHash)
		}

		return nil, errors.NewStorageError("[LevelDB][GetRollbackRecord] failed to read record of block %s", blockHash, err)
	}

	return model.NewRollbackRecordFromBytes(b)
}

func (db *LevelDB) Close() error {
	return db.ldb.Close()
}

// transaction reads from a snapshot taken at Begin and writes to a batch. pending mirrors
// the batch so the transaction sees its own writes; a nil value marks a delete.
type transaction struct {
	db       *LevelDB
	snapshot *leveldb.Snapshot
	batch    *leveldb.Batch
	pending  map[string][]byte
	isClosed bool
}

func (tx *transaction) put(key, value []byte) error {
	if tx.isClosed {
		return errors.NewStorageError("[LevelDB] cannot put into a closed transaction")
	}

	tx.batch.Put(key, value)
	tx.pending[string(key)] = value

	return nil
}

func (tx *transaction) delete(key []byte) error {
	if tx.isClosed {
		return errors.NewStorageError("[LevelDB] cannot delete from a closed transaction")
	}

	tx.batch.Delete(key)
	tx.pending[string(key)] = nil

	return nil
}

func (tx *transaction) AddHeader(height uint32, header *model.BlockHeader) error {
	return tx.put(headerKey(height), header.Bytes())
}

func (tx *transaction) RemoveHeader(height uint32) error {
	return tx.delete(headerKey(height))
}

func (tx *transaction) PutUnspentTx(utx *model.UnspentTx) error {
	return tx.put(hashKey(utxoPrefix, utx.TxHash), utx.Bytes())
}

func (tx *transaction) DeleteUnspentTx(hash chainhash.Hash) error {
	return tx.delete(hashKey(utxoPrefix, hash))
}

func (tx *transaction) GetUnspentTx(hash chainhash.Hash) (*model.UnspentTx, bool, error) {
	if tx.isClosed {
		return nil, false, errors.NewStorageError("[LevelDB] cannot get from a closed transaction")
	}

	key := hashKey(utxoPrefix, hash)

	b, pending := tx.pending[string(key)]
	if !pending {
		var err error

		b, err = tx.snapshot.Get(key, nil)
		if err != nil {
			if errors.Is(err, leveldb.ErrNotFound) {
				return nil, false, nil
			}

			return nil, false, errors.NewStorageError("[LevelDB][GetUnspentTx] failed to read %s", hash, err)
		}
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

func (tx *transaction) PutRollbackRecord(record *model.RollbackRecord) error {
	return tx.put(hashKey(rollbackPrefix, record.BlockHash), record.Bytes())
}

func (tx *transaction) DeleteRollbackRecord(blockHash chainhash.Hash) error {
	return tx.delete(hashKey(rollbackPrefix, blockHash))
}

func (tx *transaction) Commit() error {
	if tx.isClosed {
		return errors.NewStorageError("[LevelDB] cannot commit a closed transaction")
	}

	tx.isClosed = true
	tx.snapshot.Release()

	if err := tx.db.ldb.Write(tx.batch, &opt.WriteOptions{Sync: true}); err != nil {
		return errors.NewStorageError("[LevelDB][Commit] failed to write %d changes", tx.batch.Len(), err)
	}

	tx.db.logger.Debugf("[LevelDB][Commit] wrote %d changes", tx.batch.Len())

	return nil
}

func (tx *transaction) Rollback() error {
	if tx.isClosed {
		return errors.NewStorageError("[LevelDB] cannot rollback a closed transaction")
	}

	tx.isClosed = true
	tx.snapshot.Release()
	tx.batch.Reset()

	return nil
}
