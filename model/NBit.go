package model

import (
	"encoding/binary"
	"encoding/hex"
	"math/big"

	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/go-bt/v2"
)

var (
	bigOne = big.NewInt(1)

	// oneLsh256 is 2^256, the numerator of the work formula
	oneLsh256 = new(big.Int).Lsh(bigOne, 256)

	// difficultyOneTarget is the target encoded by bits 0x1d00ffff
	difficultyOneTarget = compactToBig(0x1d00ffff)
)

// NBit is the compact target of a block header, stored in wire (little-endian) order.
type NBit [4]byte

func NewNBitFromSlice(nBits []byte) (*NBit, error) {
	if len(nBits) != 4 {
		return nil, errors.NewInvalidArgumentError("nBits should be 4 bytes long, got %d", len(nBits))
	}

	nBit := NBit{}
	copy(nBit[:], nBits)

	return &nBit, nil
}

// NewNBitFromString parses the big-endian hex form, e.g. "1d00ffff".
func NewNBitFromString(nBits string) (*NBit, error) {
	b, err := hex.DecodeString(nBits)
	if err != nil {
		return nil, errors.NewInvalidArgumentError("invalid nBits hex %q", nBits, err)
	}

	return NewNBitFromSlice(bt.ReverseBytes(b))
}

func NewNBitFromUint32(bits uint32) NBit {
	nBit := NBit{}
	binary.LittleEndian.PutUint32(nBit[:], bits)

	return nBit
}

func (b NBit) Uint32() uint32 {
	return binary.LittleEndian.Uint32(b[:])
}

func (b NBit) String() string {
	return hex.EncodeToString(bt.ReverseBytes(b.CloneBytes()))
}

func (b NBit) CloneBytes() []byte {
	c := make([]byte, 4)
	copy(c, b[:])

	return c
}

// CalculateTarget expands the compact form into the full 256 bit target.
func (b NBit) CalculateTarget() *big.Int {
	return compactToBig(b.Uint32())
}

// CalculateDifficulty returns the difficulty relative to the 0x1d00ffff target.
func (b NBit) CalculateDifficulty() *big.Float {
	target := b.CalculateTarget()
	if target.Sign() <= 0 {
		return new(big.Float)
	}

	return new(big.Float).Quo(new(big.Float).SetInt(difficultyOneTarget), new(big.Float).SetInt(target))
}

// CalculateWork returns the expected number of hashes needed to meet the target,
// 2^256 / (target+1). Zero and negative targets carry no work.
func (b NBit) CalculateWork() *big.Int {
	target := b.CalculateTarget()
	if target.Sign() <= 0 {
		return big.NewInt(0)
	}

	return new(big.Int).Div(oneLsh256, new(big.Int).Add(target, bigOne))
}

// compactToBig decodes the exponent/sign/mantissa encoding used by bitcoind:
//
//	N = (-1^sign) * mantissa * 256^(exponent-3)
func compactToBig(compact uint32) *big.Int {
	mantissa := compact & 0x007fffff
	isNegative := compact&0x00800000 != 0
	exponent := uint(compact >> 24)

	var bn *big.Int

	if exponent <= 3 {
		mantissa >>= 8 * (3 - exponent)
		bn = big.NewInt(int64(mantissa))
	} else {
		bn = big.NewInt(int64(mantissa))
		bn.Lsh(bn, 8*(exponent-3))
	}

	if isNegative {
		bn = bn.Neg(bn)
	}

	return bn
}
