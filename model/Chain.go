package model

import (
	"slices"

	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
)

// Chain is an immutable, contiguous list of headers. Index 0 is the genesis block and
// the index of every header equals its height.
type Chain struct {
	headers []*ChainedHeader
}

func NewChain(genesis *ChainedHeader) (*Chain, error) {
	if genesis == nil || genesis.Height != 0 {
		return nil, errors.NewInvalidArgumentError("[NewChain] chain must start with a genesis header")
	}

	return &Chain{headers: []*ChainedHeader{genesis}}, nil
}

// NewChainFromHeaders validates contiguity and builds a chain from headers ordered by height.
func NewChainFromHeaders(headers []*ChainedHeader) (*Chain, error) {
	if len(headers) == 0 || headers[0].Height != 0 {
		return nil, errors.NewInvalidArgumentError("[NewChainFromHeaders] chain must start with a genesis header")
	}

	for i := 1; i < len(headers); i++ {
		if int(headers[i].Height) != i || !headers[i].PreviousHash().IsEqual(headers[i-1].Hash) {
			return nil, errors.NewBlockInvalidError("[NewChainFromHeaders] header %s is not contiguous at index %d", headers[i].Hash, i)
		}
	}

	headers = slices.Clone(headers)

	return &Chain{headers: headers[:len(headers):len(headers)]}, nil
}

func (c *Chain) Height() uint32 {
	return c.Tip().Height
}

func (c *Chain) Len() int {
	return len(c.headers)
}

func (c *Chain) Tip() *ChainedHeader {
	return c.headers[len(c.headers)-1]
}

func (c *Chain) Genesis() *ChainedHeader {
	return c.headers[0]
}

// BlockAt returns the header at height, or nil when the chain is shorter.
func (c *Chain) BlockAt(height uint32) *ChainedHeader {
	if int64(height) >= int64(len(c.headers)) {
		return nil
	}

	return c.headers[height]
}

// Blocks returns a copy of the headers, genesis first.
func (c *Chain) Blocks() []*ChainedHeader {
	return slices.Clone(c.headers)
}

// Contains reports whether the chain holds header at its height.
func (c *Chain) Contains(header *ChainedHeader) bool {
	if header == nil {
		return false
	}

	return c.ContainsHash(header.Hash, header.Height)
}

func (c *Chain) ContainsHash(hash *chainhash.Hash, height uint32) bool {
	at := c.BlockAt(height)

	return at != nil && at.Hash.IsEqual(hash)
}
