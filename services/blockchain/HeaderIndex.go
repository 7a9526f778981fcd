package blockchain

import (
	"bytes"
	"context"
	"sync"

	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/chainstate/model"
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/dolthub/swiss"
)

const initialIndexSize = 1024

// HeaderSource resolves block hashes to chained headers.
type HeaderSource interface {
	GetHeader(ctx context.Context, hash *chainhash.Hash) (*model.ChainedHeader, error)
}

// HeaderIndex is an in-memory HeaderSource. Headers from any fork may be added. Headers
// marked invalid, and everything built on them, are never returned by Best.
type HeaderIndex struct {
	mu       sync.RWMutex
	headers  *swiss.Map[chainhash.Hash, *model.ChainedHeader]
	children *swiss.Map[chainhash.Hash, []*model.ChainedHeader]
	invalid  *swiss.Map[chainhash.Hash, struct{}]
	best     *model.ChainedHeader
}

func NewHeaderIndex(headers ...*model.ChainedHeader) *HeaderIndex {
	idx := &HeaderIndex{
		headers:  swiss.NewMap[chainhash.Hash, *model.ChainedHeader](initialIndexSize),
		children: swiss.NewMap[chainhash.Hash, []*model.ChainedHeader](initialIndexSize),
		invalid:  swiss.NewMap[chainhash.Hash, struct{}](16),
	}

	idx.Add(headers...)

	return idx
}

func (idx *HeaderIndex) Add(headers ...*model.ChainedHeader) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for _, header := range headers {
		idx.add(header)
	}
}

func (idx *HeaderIndex) add(header *model.ChainedHeader) {
	if idx.headers.Has(*header.Hash) {
		return
	}

	idx.headers.Put(*header.Hash, header)

	prev := *header.PreviousHash()
	siblings, _ := idx.children.Get(prev)
	idx.children.Put(prev, append(siblings, header))

	if idx.invalid.Has(prev) {
		idx.invalid.Put(*header.Hash, struct{}{})
	}

	if idx.invalid.Has(*header.Hash) {
		return
	}

	if moreWork(header, idx.best) {
		idx.best = header
	}
}

// moreWork orders headers by cumulative work, ties going to the lower hash.
func moreWork(header, than *model.ChainedHeader) bool {
	if than == nil {
		return true
	}

	switch cmp := header.TotalWork.Cmp(than.TotalWork); {
	case cmp > 0:
		return true
	case cmp == 0:
		return bytes.Compare(header.Hash[:], than.Hash[:]) < 0
	default:
		return false
	}
}

// AddHeader links header on top of its parent, which must already be indexed.
func (idx *HeaderIndex) AddHeader(ctx context.Context, header *model.BlockHeader) (*model.ChainedHeader, error) {
	prev, err := idx.GetHeader(ctx, header.HashPrevBlock)
	if err != nil {
		return nil, err
	}

	chained, err := model.NewChainedHeader(prev, header)
	if err != nil {
		return nil, err
	}

	idx.Add(chained)

	return chained, nil
}

func (idx *HeaderIndex) GetHeader(_ context.Context, hash *chainhash.Hash) (*model.ChainedHeader, error) {
	if hash == nil {
		return nil, errors.NewInvalidArgumentError("[GetHeader] hash is nil")
	}

	idx.mu.RLock()
	header, ok := idx.headers.Get(*hash)
	idx.mu.RUnlock()

	if !ok {
		return nil, errors.NewBlockNotFoundError("[GetHeader] header %s not found", hash)
	}

	return header, nil
}

func (idx *HeaderIndex) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return idx.headers.Count()
}

// Link adds headers given in any order. Each header is linked once its parent is indexed,
// walking outwards from the headers already known. Headers whose parent never shows up
// are returned.
func (idx *HeaderIndex) Link(ctx context.Context, headers []*model.BlockHeader) ([]*model.BlockHeader, error) {
	waiting := swiss.NewMap[chainhash.Hash, []*model.BlockHeader](uint32(len(headers)) + 1) //nolint:gosec // bounded by memory
	queue := make([]*model.BlockHeader, 0, len(headers))

	idx.mu.RLock()

	for _, header := range headers {
		if header.HashPrevBlock != nil && idx.headers.Has(*header.HashPrevBlock) {
			queue = append(queue, header)
			continue
		}

		var prev chainhash.Hash
		if header.HashPrevBlock != nil {
			prev = *header.HashPrevBlock
		}

		pending, _ := waiting.Get(prev)
		waiting.Put(prev, append(pending, header))
	}

	idx.mu.RUnlock()

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, errors.NewContextCanceledError("[Link] context done", err)
		}

		header := queue[0]
		queue = queue[1:]

		chained, err := idx.AddHeader(ctx, header)
		if err != nil {
			return nil, err
		}

		if next, ok := waiting.Get(*chained.Hash); ok {
			queue = append(queue, next...)
			waiting.Delete(*chained.Hash)
		}
	}

	var orphans []*model.BlockHeader

	waiting.Iter(func(_ chainhash.Hash, pending []*model.BlockHeader) bool {
		orphans = append(orphans, pending...)
		return false
	})

	return orphans, nil
}

// MarkInvalid excludes hash and every header built on it from Best. Headers added later on
// top of an invalid header are invalid too.
func (idx *HeaderIndex) MarkInvalid(hash *chainhash.Hash) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	queue := []chainhash.Hash{*hash}
	bestInvalidated := false

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		idx.invalid.Put(current, struct{}{})

		if idx.best != nil && idx.best.Hash.IsEqual(&current) {
			bestInvalidated = true
		}

		children, _ := idx.children.Get(current)
		for _, child := range children {
			if !idx.invalid.Has(*child.Hash) {
				queue = append(queue, *child.Hash)
			}
		}
	}

	if !bestInvalidated {
		return
	}

	idx.best = nil

	idx.headers.Iter(func(hash chainhash.Hash, header *model.ChainedHeader) bool {
		if !idx.invalid.Has(hash) && moreWork(header, idx.best) {
			idx.best = header
		}

		return false
	})
}

func (idx *HeaderIndex) IsInvalid(hash *chainhash.Hash) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return idx.invalid.Has(*hash)
}

// Best returns the valid header with the most cumulative work. Ties go to the lower hash.
func (idx *HeaderIndex) Best() *model.ChainedHeader {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return idx.best
}
