package utxo

import (
	"github.com/bsv-blockchain/chainstate/model"
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
)

// Reader is the read side of a UTXO set. Returned entries are shared with the set and
// must not be modified.
type Reader interface {
	Get(hash chainhash.Hash) (*model.UnspentTx, bool)
	// CanSpend never fails: unknown transactions, out of range indexes and spent
	// outputs all report false.
	CanSpend(key model.TxOutputKey) bool
	Count() int
	// ForEach visits every entry in no particular order until fn returns false.
	ForEach(fn func(utx *model.UnspentTx) bool)
}

// Snapshot is an immutable UTXO set. It is safe for concurrent readers.
type Snapshot interface {
	Reader
	NewBuilder() Builder
}

// Builder mutates a UTXO set on top of a snapshot. It is not safe for concurrent use.
type Builder interface {
	Reader

	// Spend marks the output spent. It fails when the transaction is unknown, the index is
	// out of range or the output is already spent. When the last unspent output of a
	// transaction is spent the entry is removed from the set and returned.
	Spend(key model.TxOutputKey) (removed *model.UnspentTx, err error)

	// Mint adds an entry with all outputCount outputs unspent. An existing entry with the
	// same hash is replaced and returned.
	Mint(txHash chainhash.Hash, blockHeight, txIndex, outputCount uint32) (overwritten *model.UnspentTx, err error)

	// Unspend reverts Spend. removed is the entry Spend returned, if any.
	Unspend(key model.TxOutputKey, removed *model.UnspentTx) error

	// Unmint reverts Mint. overwritten is the entry Mint returned, if any.
	Unmint(txHash chainhash.Hash, outputCount uint32, overwritten *model.UnspentTx) error

	// ToImmutable freezes the current state. The builder stays usable.
	ToImmutable() Snapshot

	// Changes visits every entry modified since the last ToImmutable. utx is nil for
	// removed entries.
	Changes(fn func(txHash chainhash.Hash, utx *model.UnspentTx))
}
