package chainstate

import (
	"context"
	"time"

	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/chainstate/model"
	"github.com/bsv-blockchain/chainstate/services/blockvalidation"
	chainstatestore "github.com/bsv-blockchain/chainstate/stores/chainstate"
	"github.com/bsv-blockchain/go-bt/v2"
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	safeconversion "github.com/bsv-blockchain/go-safe-conversion"
)

// advance adds block on top of the chain. The validation session is always joined, also
// when a transaction fails, so no script work of the block outlives the step.
func (b *ChainStateBuilder) advance(ctx context.Context, tx chainstatestore.Tx, ev events, step *stepStats, header *model.ChainedHeader, block *model.Block) error {
	if err := b.chain.AddBlock(header); err != nil {
		return err
	}

	session, err := b.rules.ValidateBlock(ctx, block, header)
	if err != nil {
		return err
	}

	record := model.NewRollbackRecord(*header.Hash)

	err = b.addTransactions(ctx, ev, step, header, block, session, record)

	waitStart := time.Now()
	waitErr := session.Wait()
	step.scripts += time.Since(waitStart)

	if err != nil {
		return err
	}

	if waitErr != nil {
		return waitErr
	}

	if err = tx.AddHeader(header.Height, header.Header); err != nil {
		return errors.NewStorageError("[advance] failed to add header %s", header, err)
	}

	if err = tx.PutRollbackRecord(record); err != nil {
		return errors.NewStorageError("[advance] failed to store rollback record of block %s", header, err)
	}

	return nil
}

func (b *ChainStateBuilder) addTransactions(ctx context.Context, ev events, step *stepStats, header *model.ChainedHeader,
	block *model.Block, session blockvalidation.Session, record *model.RollbackRecord) error {
	// transactions of this block minted so far, their outputs are not in any stored block yet
	minted := make(map[chainhash.Hash]*bt.Tx, len(block.Transactions))

	for txIndex, t := range block.Transactions {
		txHash := t.TxIDChainHash()

		txIndexU32, err := safeconversion.IntToUint32(txIndex)
		if err != nil {
			return errors.NewBlockInvalidError("[advance] block %s has too many transactions", header, err)
		}

		position := model.ChainPosition{
			BlockHash: *header.Hash,
			Height:    header.Height,
			TxHash:    *txHash,
			TxIndex:   txIndexU32,
		}

		ev.beforeAddTransaction(position, t)

		step.transactions++

		var prevOutputs []*bt.Output

		if txIndex == 0 {
			for i, input := range t.Inputs {
				p := position
				p.InputIndex = uint32(i) //nolint:gosec // bounded by tx size
				p.OutputIndex = input.PreviousTxOutIndex

				ev.coinbaseInput(p, input)
			}
		} else {
			prevOutputs = make([]*bt.Output, len(t.Inputs))

			for i, input := range t.Inputs {
				key := model.NewTxOutputKeyFromInput(input)

				p := position
				p.InputIndex = uint32(i) //nolint:gosec // bounded by tx size
				p.OutputIndex = key.OutputIndex

				prevOutput, err := b.spend(ctx, p, key, minted, record)
				if err != nil {
					return err
				}

				prevOutputs[i] = prevOutput

				ev.spendOutput(p, input, prevOutput)

				step.inputsSpent++
			}
		}

		if err = session.ValidateTransaction(txIndex, t, prevOutputs); err != nil {
			return err
		}

		// the genesis coinbase is not spendable
		if txIndex > 0 || header.Height > 0 {
			if err = b.mint(ev, step, position, t, record); err != nil {
				return err
			}

			minted[*txHash] = t
		}

		ev.afterAddTransaction(position, t)
	}

	return nil
}

// spend marks key spent and returns the output it refers to.
func (b *ChainStateBuilder) spend(ctx context.Context, position model.ChainPosition, key model.TxOutputKey,
	minted map[chainhash.Hash]*bt.Tx, record *model.RollbackRecord) (*bt.Output, error) {
	var prevOutput *bt.Output

	// the output must be resolved before Spend, which may remove its entry
	if b.utxos.CanSpend(key) {
		var err error
		if prevOutput, err = b.previousOutput(ctx, key, minted); err != nil {
			return nil, err
		}
	}

	removed, err := b.utxos.Spend(key)
	if err != nil {
		return nil, errors.NewBlockInvalidError("[advance] %s can not spend %s", position, key, err)
	}

	if removed != nil {
		if _, exists := record.Removed[key.TxHash]; !exists {
			record.Removed[key.TxHash] = removed
		}
	}

	record.SpentOutputs = append(record.SpentOutputs, prevOutput)

	return prevOutput, nil
}

// previousOutput looks the output up in the block that created it.
func (b *ChainStateBuilder) previousOutput(ctx context.Context, key model.TxOutputKey, minted map[chainhash.Hash]*bt.Tx) (*bt.Output, error) {
	if t, ok := minted[key.TxHash]; ok {
		return t.Outputs[key.OutputIndex], nil
	}

	utx, ok := b.utxos.Get(key.TxHash)
	if !ok {
		return nil, errors.NewProcessingError("[previousOutput] %s is spendable but has no utxo entry", key)
	}

	header := b.chain.BlockAt(utx.BlockHeight)
	if header == nil {
		return nil, errors.NewProcessingError("[previousOutput] %s was created at height %d, beyond the chain", key, utx.BlockHeight)
	}

	block, err := b.blocks.GetBlock(ctx, header.Hash)
	if err != nil {
		if errors.IsMissingDataError(err) {
			return nil, errors.NewMissingDataError("[previousOutput] block %s holding %s is not available", header.Hash, key, err)
		}

		return nil, errors.NewProcessingError("[previousOutput] failed to get block %s holding %s", header.Hash, key, err)
	}

	if int64(utx.TxIndex) >= int64(len(block.Transactions)) {
		return nil, errors.NewProcessingError("[previousOutput] block %s has no tx at index %d for %s", header.Hash, utx.TxIndex, key)
	}

	parent := block.Transactions[utx.TxIndex]
	if !parent.TxIDChainHash().IsEqual(&key.TxHash) || int64(key.OutputIndex) >= int64(len(parent.Outputs)) {
		return nil, errors.NewProcessingError("[previousOutput] tx %d of block %s is not the creator of %s", utx.TxIndex, header.Hash, key)
	}

	return parent.Outputs[key.OutputIndex], nil
}

func (b *ChainStateBuilder) mint(ev events, step *stepStats, position model.ChainPosition, t *bt.Tx, record *model.RollbackRecord) error {
	outputCount, err := safeconversion.IntToUint32(len(t.Outputs))
	if err != nil {
		return errors.NewBlockInvalidError("[advance] %s has too many outputs", position, err)
	}

	overwritten, err := b.utxos.Mint(position.TxHash, position.Height, position.TxIndex, outputCount)
	if err != nil {
		return errors.NewBlockInvalidError("[advance] %s can not be minted", position, err)
	}

	if overwritten != nil {
		b.logger.Warnf("[advance] %s replaces an unspent tx with the same hash from height %d", position, overwritten.BlockHeight)

		if _, exists := record.Overwritten[position.TxHash]; !exists {
			record.Overwritten[position.TxHash] = overwritten
		}
	}

	for i, output := range t.Outputs {
		p := position
		p.OutputIndex = uint32(i) //nolint:gosec // bounded by outputCount

		ev.mintOutput(p, output)

		step.outputsMinted++
	}

	return nil
}
