// Package memory implements a persistent UTXO set on layered swiss maps.
//
// A Snapshot is a stack of frozen layers, oldest first. A nil value in a layer removes the
// entry from every layer below it. A Builder collects its changes in a private delta that
// becomes the newest layer on ToImmutable, so freezing does not copy.
package memory

import (
	"github.com/bsv-blockchain/chainstate/model"
	utxostore "github.com/bsv-blockchain/chainstate/stores/utxo"
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/dolthub/swiss"
)

const (
	// maxLayers bounds lookup cost; beyond it the overlay layers are merged
	maxLayers = 16

	initialDeltaSize = 1024
)

type layer = swiss.Map[chainhash.Hash, *model.UnspentTx]

type Snapshot struct {
	layers []*layer
	count  int
}

// New returns an empty UTXO set.
func New() *Snapshot {
	return &Snapshot{
		layers: []*layer{swiss.NewMap[chainhash.Hash, *model.UnspentTx](initialDeltaSize)},
	}
}

// NewFromEntries returns a snapshot holding entries, e.g. as loaded from a chain-state cursor.
func NewFromEntries(entries []*model.UnspentTx) *Snapshot {
	base := swiss.NewMap[chainhash.Hash, *model.UnspentTx](uint32(max(len(entries), initialDeltaSize))) //nolint:gosec // bounded by memory

	for _, utx := range entries {
		base.Put(utx.TxHash, utx)
	}

	return &Snapshot{layers: []*layer{base}, count: base.Count()}
}

func (s *Snapshot) Get(hash chainhash.Hash) (*model.UnspentTx, bool) {
	for i := len(s.layers) - 1; i >= 0; i-- {
		if utx, ok := s.layers[i].Get(hash); ok {
			return utx, utx != nil
		}
	}

	return nil, false
}

func (s *Snapshot) CanSpend(key model.TxOutputKey) bool {
	utx, ok := s.Get(key.TxHash)

	return ok && utx.OutputStates.IsUnspent(key.OutputIndex)
}

func (s *Snapshot) Count() int {
	return s.count
}

func (s *Snapshot) ForEach(fn func(utx *model.UnspentTx) bool) {
	forEach(s.layers, fn)
}

func (s *Snapshot) NewBuilder() utxostore.Builder {
	return &Builder{
		base:  s,
		delta: swiss.NewMap[chainhash.Hash, *model.UnspentTx](initialDeltaSize),
		count: s.count,
	}
}

// Layers is the number of frozen layers a lookup may visit.
func (s *Snapshot) Layers() int {
	return len(s.layers)
}

func forEach(layers []*layer, fn func(utx *model.UnspentTx) bool) {
	if len(layers) == 1 {
		layers[0].Iter(func(_ chainhash.Hash, utx *model.UnspentTx) bool {
			return utx != nil && !fn(utx)
		})

		return
	}

	seen := swiss.NewMap[chainhash.Hash, struct{}](initialDeltaSize)
	stopped := false

	for i := len(layers) - 1; i >= 0 && !stopped; i-- {
		oldest := i == 0

		layers[i].Iter(func(hash chainhash.Hash, utx *model.UnspentTx) bool {
			if seen.Has(hash) {
				return false
			}

			if !oldest {
				seen.Put(hash, struct{}{})
			}

			if utx != nil && !fn(utx) {
				stopped = true
			}

			return stopped
		})
	}
}

// compact merges the overlay layers into one. When the merged overlay grows to half the
// size of the base everything is folded into a new base. Shared maps are never written.
func compact(layers []*layer) []*layer {
	if len(layers) <= maxLayers {
		return layers
	}

	base := layers[0]

	overlay := swiss.NewMap[chainhash.Hash, *model.UnspentTx](initialDeltaSize)
	for _, l := range layers[1:] {
		l.Iter(func(hash chainhash.Hash, utx *model.UnspentTx) bool {
			overlay.Put(hash, utx)
			return false
		})
	}

	if overlay.Count() < base.Count()/2 {
		return []*layer{base, overlay}
	}

	merged := swiss.NewMap[chainhash.Hash, *model.UnspentTx](uint32(base.Count() + overlay.Count())) //nolint:gosec // bounded by memory

	base.Iter(func(hash chainhash.Hash, utx *model.UnspentTx) bool {
		merged.Put(hash, utx)
		return false
	})

	overlay.Iter(func(hash chainhash.Hash, utx *model.UnspentTx) bool {
		if utx == nil {
			merged.Delete(hash)
		} else {
			merged.Put(hash, utx)
		}

		return false
	})

	return []*layer{merged}
}
