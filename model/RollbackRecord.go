package model

import (
	"bytes"
	"encoding/binary"
	"io"
	"sort"

	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/go-bt/v2"
	"github.com/bsv-blockchain/go-bt/v2/bscript"
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
)

// RollbackRecord holds what applying a block destroyed and the block body alone can not
// restore: UTXO entries removed when their last output was spent, entries replaced by a
// duplicate transaction hash, and the outputs the block spent.
type RollbackRecord struct {
	BlockHash chainhash.Hash

	Removed     map[chainhash.Hash]*UnspentTx
	Overwritten map[chainhash.Hash]*UnspentTx

	// SpentOutputs are the previous outputs of every non-coinbase input, in block order.
	SpentOutputs []*bt.Output
}

func NewRollbackRecord(blockHash chainhash.Hash) *RollbackRecord {
	return &RollbackRecord{
		BlockHash:   blockHash,
		Removed:     make(map[chainhash.Hash]*UnspentTx),
		Overwritten: make(map[chainhash.Hash]*UnspentTx),
	}
}

func (r *RollbackRecord) Bytes() []byte {
	buf := bytes.NewBuffer(make([]byte, 0, chainhash.HashSize+64*len(r.SpentOutputs)))

	buf.Write(r.BlockHash[:])
	writeUnspentTxs(buf, r.Removed)
	writeUnspentTxs(buf, r.Overwritten)

	buf.Write(bt.VarInt(uint64(len(r.SpentOutputs))).Bytes())

	for _, output := range r.SpentOutputs {
		var satoshis [8]byte
		binary.LittleEndian.PutUint64(satoshis[:], output.Satoshis)
		buf.Write(satoshis[:])

		var script []byte
		if output.LockingScript != nil {
			script = *output.LockingScript
		}

		buf.Write(bt.VarInt(uint64(len(script))).Bytes())
		buf.Write(script)
	}

	return buf.Bytes()
}

// writeUnspentTxs sorts by hash so equal records encode to equal bytes.
func writeUnspentTxs(buf *bytes.Buffer, utxs map[chainhash.Hash]*UnspentTx) {
	hashes := make([]chainhash.Hash, 0, len(utxs))
	for hash := range utxs {
		hashes = append(hashes, hash)
	}

	sort.Slice(hashes, func(i, j int) bool {
		return bytes.Compare(hashes[i][:], hashes[j][:]) < 0
	})

	buf.Write(bt.VarInt(uint64(len(hashes))).Bytes())

	for _, hash := range hashes {
		b := utxs[hash].Bytes()

		buf.Write(hash[:])
		buf.Write(bt.VarInt(uint64(len(b))).Bytes())
		buf.Write(b)
	}
}

func NewRollbackRecordFromBytes(b []byte) (*RollbackRecord, error) {
	r := bytes.NewReader(b)

	record := &RollbackRecord{}

	if _, err := io.ReadFull(r, record.BlockHash[:]); err != nil {
		return nil, errors.NewProcessingError("[NewRollbackRecordFromBytes] failed to read block hash", err)
	}

	var err error

	if record.Removed, err = readUnspentTxs(r); err != nil {
		return nil, errors.NewProcessingError("[NewRollbackRecordFromBytes] failed to read removed entries of block %s", record.BlockHash, err)
	}

	if record.Overwritten, err = readUnspentTxs(r); err != nil {
		return nil, errors.NewProcessingError("[NewRollbackRecordFromBytes] failed to read overwritten entries of block %s", record.BlockHash, err)
	}

	var count bt.VarInt
	if _, err = count.ReadFrom(r); err != nil {
		return nil, errors.NewProcessingError("[NewRollbackRecordFromBytes] failed to read spent output count of block %s", record.BlockHash, err)
	}

	if uint64(count) > uint64(r.Len()) {
		return nil, errors.NewProcessingError("[NewRollbackRecordFromBytes] spent output count %d of block %s exceeds record size", uint64(count), record.BlockHash)
	}

	record.SpentOutputs = make([]*bt.Output, 0, count)

	for i := uint64(0); i < uint64(count); i++ {
		var satoshis [8]byte
		if _, err = io.ReadFull(r, satoshis[:]); err != nil {
			return nil, errors.NewProcessingError("[NewRollbackRecordFromBytes] failed to read spent output %d of block %s", i, record.BlockHash, err)
		}

		script, err := readVarBytes(r)
		if err != nil {
			return nil, errors.NewProcessingError("[NewRollbackRecordFromBytes] failed to read spent output %d script of block %s", i, record.BlockHash, err)
		}

		record.SpentOutputs = append(record.SpentOutputs, &bt.Output{
			Satoshis:      binary.LittleEndian.Uint64(satoshis[:]),
			LockingScript: bscript.NewFromBytes(script),
		})
	}

	if r.Len() != 0 {
		return nil, errors.NewProcessingError("[NewRollbackRecordFromBytes] %d trailing bytes in record of block %s", r.Len(), record.BlockHash)
	}

	return record, nil
}

func readUnspentTxs(r *bytes.Reader) (map[chainhash.Hash]*UnspentTx, error) {
	var count bt.VarInt
	if _, err := count.ReadFrom(r); err != nil {
		return nil, err
	}

	if uint64(count) > uint64(r.Len()) {
		return nil, errors.NewProcessingError("entry count %d exceeds record size", uint64(count))
	}

	utxs := make(map[chainhash.Hash]*UnspentTx, count)

	for i := uint64(0); i < uint64(count); i++ {
		var hash chainhash.Hash
		if _, err := io.ReadFull(r, hash[:]); err != nil {
			return nil, err
		}

		b, err := readVarBytes(r)
		if err != nil {
			return nil, err
		}

		utx, err := NewUnspentTxFromBytes(hash, b)
		if err != nil {
			return nil, err
		}

		utxs[hash] = utx
	}

	return utxs, nil
}

func readVarBytes(r *bytes.Reader) ([]byte, error) {
	var length bt.VarInt
	if _, err := length.ReadFrom(r); err != nil {
		return nil, err
	}

	if uint64(length) > uint64(r.Len()) {
		return nil, errors.NewProcessingError("length %d exceeds remaining %d bytes", uint64(length), r.Len())
	}

	b := make([]byte, length)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}

	return b, nil
}
