package model

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/bits"

	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/go-bt/v2"
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
)

// MaxOutputIndex is the output index coinbase inputs refer to. It is never spendable.
const MaxOutputIndex = math.MaxUint32

// OutputStates is a bitmap with one bit per transaction output, set while the output is unspent.
type OutputStates struct {
	count uint32
	bits  []byte
}

// NewOutputStates returns count outputs, all unspent.
func NewOutputStates(count uint32) *OutputStates {
	s := &OutputStates{
		count: count,
		bits:  make([]byte, (uint64(count)+7)/8),
	}

	for i := range s.bits {
		s.bits[i] = 0xff
	}

	if rem := count % 8; rem != 0 {
		s.bits[len(s.bits)-1] = byte(1<<rem) - 1
	}

	return s
}

// NewOutputStatesFromBytes restores a bitmap produced by Bytes.
func NewOutputStatesFromBytes(count uint32, b []byte) (*OutputStates, error) {
	if uint64(len(b)) != (uint64(count)+7)/8 {
		return nil, errors.NewProcessingError("output states for %d outputs need %d bytes, got %d", count, (uint64(count)+7)/8, len(b))
	}

	s := &OutputStates{count: count, bits: make([]byte, len(b))}
	copy(s.bits, b)

	return s, nil
}

func (s *OutputStates) Len() uint32 {
	return s.count
}

// IsUnspent is false for any index outside the bitmap.
func (s *OutputStates) IsUnspent(index uint32) bool {
	if index >= s.count {
		return false
	}

	return s.bits[index/8]&(1<<(index%8)) != 0
}

func (s *OutputStates) SetSpent(index uint32) {
	s.bits[index/8] &^= 1 << (index % 8)
}

func (s *OutputStates) SetUnspent(index uint32) {
	s.bits[index/8] |= 1 << (index % 8)
}

func (s *OutputStates) UnspentCount() uint32 {
	var n int
	for _, b := range s.bits {
		n += bits.OnesCount8(b)
	}

	return uint32(n) //nolint:gosec // bounded by count
}

func (s *OutputStates) AllSpent() bool {
	for _, b := range s.bits {
		if b != 0 {
			return false
		}
	}

	return true
}

func (s *OutputStates) Clone() *OutputStates {
	c := &OutputStates{count: s.count, bits: make([]byte, len(s.bits))}
	copy(c.bits, s.bits)

	return c
}

func (s *OutputStates) Bytes() []byte {
	b := make([]byte, len(s.bits))
	copy(b, s.bits)

	return b
}

func (s *OutputStates) Equal(other *OutputStates) bool {
	if s.count != other.count {
		return false
	}

	for i := range s.bits {
		if s.bits[i] != other.bits[i] {
			return false
		}
	}

	return true
}

// UnspentTx is the UTXO set entry of one transaction. It is removed from the set once
// every output is spent.
type UnspentTx struct {
	TxHash       chainhash.Hash
	BlockHeight  uint32
	TxIndex      uint32
	OutputStates *OutputStates
}

func NewUnspentTx(txHash chainhash.Hash, blockHeight, txIndex, outputCount uint32) *UnspentTx {
	return &UnspentTx{
		TxHash:       txHash,
		BlockHeight:  blockHeight,
		TxIndex:      txIndex,
		OutputStates: NewOutputStates(outputCount),
	}
}

func (u *UnspentTx) Clone() *UnspentTx {
	return &UnspentTx{
		TxHash:       u.TxHash,
		BlockHeight:  u.BlockHeight,
		TxIndex:      u.TxIndex,
		OutputStates: u.OutputStates.Clone(),
	}
}

func (u *UnspentTx) Equal(other *UnspentTx) bool {
	if u == nil || other == nil {
		return u == other
	}

	return u.TxHash == other.TxHash &&
		u.BlockHeight == other.BlockHeight &&
		u.TxIndex == other.TxIndex &&
		u.OutputStates.Equal(other.OutputStates)
}

func (u *UnspentTx) String() string {
	return fmt.Sprintf("%s (height %d, index %d, %d/%d unspent)", u.TxHash, u.BlockHeight, u.TxIndex, u.OutputStates.UnspentCount(), u.OutputStates.Len())
}

// Bytes encodes everything except the hash, which is the storage key:
// height (4) | tx index (4) | output count (4) | bitmap.
func (u *UnspentTx) Bytes() []byte {
	b := make([]byte, 12, 12+len(u.OutputStates.bits))

	binary.LittleEndian.PutUint32(b[0:4], u.BlockHeight)
	binary.LittleEndian.PutUint32(b[4:8], u.TxIndex)
	binary.LittleEndian.PutUint32(b[8:12], u.OutputStates.count)

	return append(b, u.OutputStates.bits...)
}

func NewUnspentTxFromBytes(txHash chainhash.Hash, b []byte) (*UnspentTx, error) {
	if len(b) < 12 {
		return nil, errors.NewProcessingError("unspent tx %s record too short: %d bytes", txHash, len(b))
	}

	states, err := NewOutputStatesFromBytes(binary.LittleEndian.Uint32(b[8:12]), b[12:])
	if err != nil {
		return nil, errors.NewProcessingError("unspent tx %s record is corrupt", txHash, err)
	}

	return &UnspentTx{
		TxHash:       txHash,
		BlockHeight:  binary.LittleEndian.Uint32(b[0:4]),
		TxIndex:      binary.LittleEndian.Uint32(b[4:8]),
		OutputStates: states,
	}, nil
}

// TxOutputKey references one output of one transaction.
type TxOutputKey struct {
	TxHash      chainhash.Hash
	OutputIndex uint32
}

func NewTxOutputKey(txHash chainhash.Hash, outputIndex uint32) TxOutputKey {
	return TxOutputKey{TxHash: txHash, OutputIndex: outputIndex}
}

// NewTxOutputKeyFromInput returns the output an input spends.
func NewTxOutputKeyFromInput(input *bt.Input) TxOutputKey {
	return TxOutputKey{
		TxHash:      *input.PreviousTxIDChainHash(),
		OutputIndex: input.PreviousTxOutIndex,
	}
}

func (k TxOutputKey) String() string {
	return fmt.Sprintf("%s:%d", k.TxHash, k.OutputIndex)
}

// ChainPosition locates a UTXO mutation for visitors. It is a plain value.
type ChainPosition struct {
	BlockHash   chainhash.Hash
	Height      uint32
	TxHash      chainhash.Hash
	TxIndex     uint32
	InputIndex  uint32
	OutputIndex uint32
}

func (p ChainPosition) String() string {
	return fmt.Sprintf("block %s (height %d) tx %s [%d] in %d out %d", p.BlockHash, p.Height, p.TxHash, p.TxIndex, p.InputIndex, p.OutputIndex)
}
