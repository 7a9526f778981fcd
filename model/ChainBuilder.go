package model

import (
	"github.com/bsv-blockchain/chainstate/errors"
)

// ChainBuilder is the mutable side of a Chain. Snapshots taken with ToImmutable share the
// builder's backing array; a slot that any snapshot can see is never written again, the
// builder copies the array first.
type ChainBuilder struct {
	headers []*ChainedHeader

	// frozen is the number of leading slots visible to at least one snapshot
	frozen int
}

func NewChainBuilder(chain *Chain) *ChainBuilder {
	return &ChainBuilder{
		headers: chain.headers,
		frozen:  len(chain.headers),
	}
}

func (b *ChainBuilder) Tip() *ChainedHeader {
	return b.headers[len(b.headers)-1]
}

func (b *ChainBuilder) Height() uint32 {
	return b.Tip().Height
}

func (b *ChainBuilder) BlockAt(height uint32) *ChainedHeader {
	if int64(height) >= int64(len(b.headers)) {
		return nil
	}

	return b.headers[height]
}

// AddBlock appends header. It must build on the current tip at the next height.
func (b *ChainBuilder) AddBlock(header *ChainedHeader) error {
	tip := b.Tip()

	if !header.PreviousHash().IsEqual(tip.Hash) || header.Height != tip.Height+1 {
		return errors.NewBlockInvalidError("[AddBlock] block %s at height %d does not extend tip %s at height %d", header.Hash, header.Height, tip.Hash, tip.Height)
	}

	if len(b.headers) < b.frozen {
		b.unshare()
	}

	b.headers = append(b.headers, header)

	return nil
}

// RemoveBlock pops header, which must be the current tip. Genesis can not be removed.
func (b *ChainBuilder) RemoveBlock(header *ChainedHeader) error {
	tip := b.Tip()

	if !tip.Equal(header) {
		return errors.NewInvalidArgumentError("[RemoveBlock] block %s is not the tip %s", header.Hash, tip.Hash)
	}

	if tip.IsGenesis() {
		return errors.NewInvalidArgumentError("[RemoveBlock] can not remove the genesis block %s", tip.Hash)
	}

	last := len(b.headers) - 1
	if last >= b.frozen {
		b.headers[last] = nil
	}

	b.headers = b.headers[:last]

	return nil
}

// ToImmutable freezes the current state. It does not copy.
func (b *ChainBuilder) ToImmutable() *Chain {
	n := len(b.headers)
	if n > b.frozen {
		b.frozen = n
	}

	return &Chain{headers: b.headers[:n:n]}
}

func (b *ChainBuilder) unshare() {
	headers := make([]*ChainedHeader, len(b.headers), cap(b.headers)+1)
	copy(headers, b.headers)

	b.headers = headers
	b.frozen = 0
}
