package blockchain

import (
	"context"
	"fmt"
	"slices"

	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/chainstate/model"
)

// Direction of a single reorg step.
type Direction int

const (
	Rewind  Direction = -1
	Advance Direction = 1
)

func (d Direction) String() string {
	switch d {
	case Rewind:
		return "rewind"
	case Advance:
		return "advance"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// PathStep is one block to remove from or add to the chain.
type PathStep struct {
	Direction Direction
	Header    *model.ChainedHeader
}

// ForkPath describes how to move a chain tip from FromBlock to ToBlock.
//
// RewindBlocks are ordered by descending height starting with FromBlock, AdvanceBlocks by
// ascending height ending with ToBlock. Neither contains LastCommonBlock.
type ForkPath struct {
	FromBlock       *model.ChainedHeader
	ToBlock         *model.ChainedHeader
	LastCommonBlock *model.ChainedHeader
	RewindBlocks    []*model.ChainedHeader
	AdvanceBlocks   []*model.ChainedHeader
}

// Steps flattens the path into the order it must be applied: all rewinds, then all advances.
func (p *ForkPath) Steps() []PathStep {
	steps := make([]PathStep, 0, len(p.RewindBlocks)+len(p.AdvanceBlocks))

	for _, header := range p.RewindBlocks {
		steps = append(steps, PathStep{Direction: Rewind, Header: header})
	}

	for _, header := range p.AdvanceBlocks {
		steps = append(steps, PathStep{Direction: Advance, Header: header})
	}

	return steps
}

func (p *ForkPath) IsEmpty() bool {
	return len(p.RewindBlocks) == 0 && len(p.AdvanceBlocks) == 0
}

func (p *ForkPath) String() string {
	return fmt.Sprintf("%s -> %s via %s (rewind %d, advance %d)", p.FromBlock, p.ToBlock, p.LastCommonBlock, len(p.RewindBlocks), len(p.AdvanceBlocks))
}

// GetPath finds the last common block of fromTip and toTip by walking both back through
// headers. Whichever cursor is higher steps back first, both step back at equal heights.
func GetPath(ctx context.Context, fromTip, toTip *model.ChainedHeader, headers HeaderSource) (*ForkPath, error) {
	if fromTip == nil || toTip == nil {
		return nil, errors.NewInvalidArgumentError("[GetPath] from and to tips are required")
	}

	path := &ForkPath{
		FromBlock: fromTip,
		ToBlock:   toTip,
	}

	from, to := fromTip, toTip

	var err error

	for !from.Equal(to) {
		if err = ctx.Err(); err != nil {
			return nil, errors.NewContextCanceledError("[GetPath] walk from %s to %s canceled", fromTip, toTip, err)
		}

		if from.IsGenesis() && to.IsGenesis() {
			return nil, errors.NewChainMismatchError("[GetPath] %s and %s descend from different genesis blocks %s and %s", fromTip, toTip, from.Hash, to.Hash)
		}

		fromHeight, toHeight := from.Height, to.Height

		if fromHeight >= toHeight {
			path.RewindBlocks = append(path.RewindBlocks, from)

			if from, err = previous(ctx, from, headers); err != nil {
				return nil, err
			}
		}

		if toHeight >= fromHeight {
			path.AdvanceBlocks = append(path.AdvanceBlocks, to)

			if to, err = previous(ctx, to, headers); err != nil {
				return nil, err
			}
		}
	}

	slices.Reverse(path.AdvanceBlocks)
	path.LastCommonBlock = from

	return path, nil
}

func previous(ctx context.Context, header *model.ChainedHeader, headers HeaderSource) (*model.ChainedHeader, error) {
	prev, err := headers.GetHeader(ctx, header.PreviousHash())
	if err != nil {
		return nil, errors.NewMissingDataError("[GetPath] previous header %s of %s not found", header.PreviousHash(), header, err)
	}

	if prev.Height+1 != header.Height {
		return nil, errors.NewBlockInvalidError("[GetPath] header %s at height %d has previous header %s at height %d", header.Hash, header.Height, prev.Hash, prev.Height)
	}

	return prev, nil
}
