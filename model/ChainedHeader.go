package model

import (
	"fmt"
	"math/big"

	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
)

// ChainedHeader is a block header placed in a chain: its hash, height and the
// cumulative work of every block up to and including it.
type ChainedHeader struct {
	Header    *BlockHeader
	Hash      *chainhash.Hash
	Height    uint32
	TotalWork *big.Int
}

// NewChainedHeader links header on top of prev.
func NewChainedHeader(prev *ChainedHeader, header *BlockHeader) (*ChainedHeader, error) {
	if prev == nil {
		return nil, errors.NewInvalidArgumentError("[NewChainedHeader] previous header is nil")
	}

	if header.HashPrevBlock == nil || !header.HashPrevBlock.IsEqual(prev.Hash) {
		return nil, errors.NewBlockInvalidError("[NewChainedHeader] block %s does not build on %s (previous hash %s)", header.Hash(), prev.Hash, header.HashPrevBlock)
	}

	return &ChainedHeader{
		Header:    header,
		Hash:      header.Hash(),
		Height:    prev.Height + 1,
		TotalWork: new(big.Int).Add(prev.TotalWork, header.Bits.CalculateWork()),
	}, nil
}

// NewGenesisChainedHeader places header at height 0. Its previous hash must be the zero hash.
func NewGenesisChainedHeader(header *BlockHeader) (*ChainedHeader, error) {
	if header.HashPrevBlock != nil && !header.HashPrevBlock.IsEqual(&chainhash.Hash{}) {
		return nil, errors.NewBlockInvalidError("[NewGenesisChainedHeader] genesis block %s has a previous hash %s", header.Hash(), header.HashPrevBlock)
	}

	return &ChainedHeader{
		Header:    header,
		Hash:      header.Hash(),
		Height:    0,
		TotalWork: header.Bits.CalculateWork(),
	}, nil
}

func (ch *ChainedHeader) PreviousHash() *chainhash.Hash {
	if ch.Header.HashPrevBlock == nil {
		return &chainhash.Hash{}
	}

	return ch.Header.HashPrevBlock
}

func (ch *ChainedHeader) IsGenesis() bool {
	return ch.Height == 0
}

// Equal compares by block hash only; the other fields are derived from it.
func (ch *ChainedHeader) Equal(other *ChainedHeader) bool {
	if ch == nil || other == nil {
		return ch == other
	}

	return ch.Hash.IsEqual(other.Hash)
}

func (ch *ChainedHeader) String() string {
	return fmt.Sprintf("%s (height %d)", ch.Hash, ch.Height)
}
