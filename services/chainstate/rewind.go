package chainstate

import (
	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/chainstate/model"
	chainstatestore "github.com/bsv-blockchain/chainstate/stores/chainstate"
	safeconversion "github.com/bsv-blockchain/go-safe-conversion"
)

// rewind removes block, the chain tip, undoing its transactions from last to first with
// the help of its rollback record.
func (b *ChainStateBuilder) rewind(tx chainstatestore.Tx, ev events, step *stepStats, header *model.ChainedHeader,
	block *model.Block, record *model.RollbackRecord) error {
	if !block.Hash().IsEqual(header.Hash) {
		return errors.NewProcessingError("[rewind] got block %s for header %s", block.Hash(), header)
	}

	if len(block.Transactions) == 0 {
		return errors.NewProcessingError("[rewind] block %s has no transactions", header)
	}

	if record == nil || !record.BlockHash.IsEqual(header.Hash) {
		return errors.NewMissingDataError("[rewind] no rollback record for block %s", header)
	}

	var inputs int
	for _, t := range block.Transactions[1:] {
		inputs += len(t.Inputs)
	}

	if len(record.SpentOutputs) != inputs {
		return errors.NewProcessingError("[rewind] rollback record of block %s holds %d spent outputs, the block has %d inputs", header, len(record.SpentOutputs), inputs)
	}

	if err := b.chain.RemoveBlock(header); err != nil {
		return err
	}

	next := len(record.SpentOutputs)

	for txIndex := len(block.Transactions) - 1; txIndex >= 0; txIndex-- {
		t := block.Transactions[txIndex]
		txHash := t.TxIDChainHash()

		txIndexU32, err := safeconversion.IntToUint32(txIndex)
		if err != nil {
			return errors.NewProcessingError("[rewind] block %s has too many transactions", header, err)
		}

		position := model.ChainPosition{
			BlockHash: *header.Hash,
			Height:    header.Height,
			TxHash:    *txHash,
			TxIndex:   txIndexU32,
		}

		ev.beforeRemoveTransaction(position, t)

		step.transactions++

		if txIndex > 0 || header.Height > 0 {
			outputCount, err := safeconversion.IntToUint32(len(t.Outputs))
			if err != nil {
				return errors.NewProcessingError("[rewind] %s has too many outputs", position, err)
			}

			if err = b.utxos.Unmint(*txHash, outputCount, record.Overwritten[*txHash]); err != nil {
				return errors.NewProcessingError("[rewind] failed to unmint %s", position, err)
			}

			for i, output := range t.Outputs {
				p := position
				p.OutputIndex = uint32(i) //nolint:gosec // bounded by outputCount

				ev.unmintOutput(p, output)

				step.outputsUnminted++
			}
		}

		if txIndex > 0 {
			for i := len(t.Inputs) - 1; i >= 0; i-- {
				next--

				input := t.Inputs[i]
				key := model.NewTxOutputKeyFromInput(input)

				p := position
				p.InputIndex = uint32(i) //nolint:gosec // bounded by tx size
				p.OutputIndex = key.OutputIndex

				if err = b.utxos.Unspend(key, record.Removed[key.TxHash]); err != nil {
					return errors.NewProcessingError("[rewind] failed to unspend %s", p, err)
				}

				ev.unspendOutput(p, input, record.SpentOutputs[next])

				step.inputsUnspent++
			}
		}

		ev.afterRemoveTransaction(position, t)
	}

	if err := tx.RemoveHeader(header.Height); err != nil {
		return errors.NewStorageError("[rewind] failed to remove header %s", header, err)
	}

	if err := tx.DeleteRollbackRecord(*header.Hash); err != nil {
		return errors.NewStorageError("[rewind] failed to delete rollback record of block %s", header, err)
	}

	return nil
}
