package model

import (
	"bytes"
	"sync"

	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/chainstate/util"
	"github.com/bsv-blockchain/go-bt/v2"
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
)

// Block is a header together with its full, ordered transaction list. The first
// transaction is the coinbase.
type Block struct {
	Header       *BlockHeader
	Transactions []*bt.Tx

	// local
	hash         *chainhash.Hash
	txHashesOnce sync.Once
	txHashes     []chainhash.Hash
}

func NewBlock(header *BlockHeader, transactions []*bt.Tx) *Block {
	return &Block{
		Header:       header,
		Transactions: transactions,
	}
}

// NewBlockFromBytes reads the wire encoding: 80 byte header, varint tx count, transactions.
func NewBlockFromBytes(blockBytes []byte) (*Block, error) {
	if len(blockBytes) < BlockHeaderSize {
		return nil, errors.NewInvalidArgumentError("block should be at least %d bytes long, got %d", BlockHeaderSize, len(blockBytes))
	}

	header, err := NewBlockHeaderFromBytes(blockBytes[:BlockHeaderSize])
	if err != nil {
		return nil, err
	}

	buf := bytes.NewReader(blockBytes[BlockHeaderSize:])

	var txCount bt.VarInt
	if _, err = txCount.ReadFrom(buf); err != nil {
		return nil, errors.NewProcessingError("[NewBlockFromBytes] failed to read transaction count", err)
	}

	transactions := make([]*bt.Tx, 0, txCount)

	for i := uint64(0); i < uint64(txCount); i++ {
		tx := &bt.Tx{}
		if _, err = tx.ReadFrom(buf); err != nil {
			return nil, errors.NewProcessingError("[NewBlockFromBytes] failed to read transaction %d", i, err)
		}

		transactions = append(transactions, tx)
	}

	if buf.Len() != 0 {
		return nil, errors.NewProcessingError("[NewBlockFromBytes] %d trailing bytes after transactions", buf.Len())
	}

	return NewBlock(header, transactions), nil
}

func (b *Block) Hash() *chainhash.Hash {
	if b.hash != nil {
		return b.hash
	}

	b.hash = b.Header.Hash()

	return b.hash
}

func (b *Block) String() string {
	return b.Hash().String()
}

func (b *Block) CoinbaseTx() *bt.Tx {
	if len(b.Transactions) == 0 {
		return nil
	}

	return b.Transactions[0]
}

// TxHashes returns the transaction hashes in block order. They are computed once.
func (b *Block) TxHashes() []chainhash.Hash {
	b.txHashesOnce.Do(func() {
		b.txHashes = make([]chainhash.Hash, len(b.Transactions))
		for i, tx := range b.Transactions {
			b.txHashes[i] = *tx.TxIDChainHash()
		}
	})

	return b.txHashes
}

func (b *Block) CalculateMerkleRoot() chainhash.Hash {
	return util.BuildMerkleRoot(b.TxHashes())
}

func (b *Block) CheckMerkleRoot() error {
	if len(b.Transactions) == 0 {
		return errors.NewBlockInvalidError("[CheckMerkleRoot] block %s has no transactions", b.Hash())
	}

	calculated := b.CalculateMerkleRoot()
	if b.Header.HashMerkleRoot == nil || !calculated.IsEqual(b.Header.HashMerkleRoot) {
		return errors.NewBlockInvalidError("[CheckMerkleRoot] merkle root mismatch for block %s: header %s, calculated %s", b.Hash(), b.Header.HashMerkleRoot, calculated)
	}

	return nil
}

func (b *Block) Bytes() []byte {
	buf := bytes.NewBuffer(b.Header.Bytes())
	buf.Write(bt.VarInt(uint64(len(b.Transactions))).Bytes())

	for _, tx := range b.Transactions {
		buf.Write(tx.Bytes())
	}

	return buf.Bytes()
}
