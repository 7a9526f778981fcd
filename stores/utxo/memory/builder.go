package memory

import (
	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/chainstate/model"
	utxostore "github.com/bsv-blockchain/chainstate/stores/utxo"
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/dolthub/swiss"
)

// Builder is the mutable UTXO set. Every entry in delta was created or cloned by this
// builder since the last ToImmutable and may be modified in place.
type Builder struct {
	base  *Snapshot
	delta *layer
	count int
}

func (b *Builder) Get(hash chainhash.Hash) (*model.UnspentTx, bool) {
	if utx, ok := b.delta.Get(hash); ok {
		return utx, utx != nil
	}

	return b.base.Get(hash)
}

func (b *Builder) CanSpend(key model.TxOutputKey) bool {
	utx, ok := b.Get(key.TxHash)

	return ok && utx.OutputStates.IsUnspent(key.OutputIndex)
}

func (b *Builder) Count() int {
	return b.count
}

func (b *Builder) ForEach(fn func(utx *model.UnspentTx) bool) {
	forEach(append(b.base.layers[:len(b.base.layers):len(b.base.layers)], b.delta), fn)
}

func (b *Builder) Spend(key model.TxOutputKey) (*model.UnspentTx, error) {
	utx, ok := b.Get(key.TxHash)
	if !ok {
		return nil, errors.WithData(errors.NewUtxoNotFoundError("[Spend] %s: transaction not in the utxo set", key), spendData(key))
	}

	if key.OutputIndex >= utx.OutputStates.Len() {
		return nil, errors.WithData(errors.NewUtxoOutOfRangeError("[Spend] %s: transaction has %d outputs", key, utx.OutputStates.Len()), spendData(key))
	}

	if !utx.OutputStates.IsUnspent(key.OutputIndex) {
		return nil, errors.WithData(errors.NewSpentError("[Spend] %s: output already spent", key), spendData(key))
	}

	own := b.own(utx)
	own.OutputStates.SetSpent(key.OutputIndex)

	if !own.OutputStates.AllSpent() {
		return nil, nil
	}

	b.remove(key.TxHash)

	return own, nil
}

func (b *Builder) Mint(txHash chainhash.Hash, blockHeight, txIndex, outputCount uint32) (*model.UnspentTx, error) {
	if outputCount == 0 {
		return nil, errors.NewTxInvalidError("[Mint] transaction %s has no outputs", txHash)
	}

	overwritten, exists := b.Get(txHash)

	b.delta.Put(txHash, model.NewUnspentTx(txHash, blockHeight, txIndex, outputCount))

	if !exists {
		b.count++
		return nil, nil
	}

	return overwritten, nil
}

func (b *Builder) Unspend(key model.TxOutputKey, removed *model.UnspentTx) error {
	utx, ok := b.Get(key.TxHash)
	if !ok {
		if removed == nil || removed.TxHash != key.TxHash {
			return errors.NewProcessingError("[Unspend] %s: transaction not in the utxo set and no removed entry given", key)
		}

		if key.OutputIndex >= removed.OutputStates.Len() {
			return errors.NewUtxoOutOfRangeError("[Unspend] %s: removed entry has %d outputs", key, removed.OutputStates.Len())
		}

		restored := removed.Clone()
		restored.OutputStates.SetUnspent(key.OutputIndex)

		b.delta.Put(key.TxHash, restored)
		b.count++

		return nil
	}

	if key.OutputIndex >= utx.OutputStates.Len() {
		return errors.NewUtxoOutOfRangeError("[Unspend] %s: transaction has %d outputs", key, utx.OutputStates.Len())
	}

	if utx.OutputStates.IsUnspent(key.OutputIndex) {
		return errors.NewProcessingError("[Unspend] %s: output is not spent", key)
	}

	b.own(utx).OutputStates.SetUnspent(key.OutputIndex)

	return nil
}

func (b *Builder) Unmint(txHash chainhash.Hash, outputCount uint32, overwritten *model.UnspentTx) error {
	utx, ok := b.Get(txHash)
	if !ok {
		return errors.NewProcessingError("[Unmint] transaction %s not in the utxo set", txHash)
	}

	if utx.OutputStates.Len() != outputCount || utx.OutputStates.UnspentCount() != outputCount {
		return errors.NewProcessingError("[Unmint] transaction %s has %d of %d outputs unspent, expected all %d", txHash, utx.OutputStates.UnspentCount(), utx.OutputStates.Len(), outputCount)
	}

	if overwritten != nil {
		b.delta.Put(txHash, overwritten.Clone())
		return nil
	}

	b.remove(txHash)

	return nil
}

func (b *Builder) ToImmutable() utxostore.Snapshot {
	if b.delta.Count() == 0 {
		return b.base
	}

	layers := make([]*layer, 0, len(b.base.layers)+1)
	layers = append(layers, b.base.layers...)
	layers = append(layers, b.delta)

	b.base = &Snapshot{
		layers: compact(layers),
		count:  b.count,
	}
	b.delta = swiss.NewMap[chainhash.Hash, *model.UnspentTx](initialDeltaSize)

	return b.base
}

func (b *Builder) Changes(fn func(txHash chainhash.Hash, utx *model.UnspentTx)) {
	b.delta.Iter(func(hash chainhash.Hash, utx *model.UnspentTx) bool {
		fn(hash, utx)
		return false
	})
}

// own returns a copy of utx that lives in the delta.
func (b *Builder) own(utx *model.UnspentTx) *model.UnspentTx {
	if owned, ok := b.delta.Get(utx.TxHash); ok && owned == utx {
		return owned
	}

	owned := utx.Clone()
	b.delta.Put(utx.TxHash, owned)

	return owned
}

func (b *Builder) remove(txHash chainhash.Hash) {
	if _, inBase := b.base.Get(txHash); inBase {
		b.delta.Put(txHash, nil)
	} else {
		b.delta.Delete(txHash)
	}

	b.count--
}

func spendData(key model.TxOutputKey) errors.ErrDataI {
	return errors.NewUtxoErrData(key.TxHash, key.OutputIndex)
}
