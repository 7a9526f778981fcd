/*
Package validator authorises spends: it builds signature hashes, checks ECDSA signatures
and runs input scripts, either one at a time or fanned out over a worker pool while a
block is applied.

Only SIGHASH_ALL signatures are accepted. Every other hash type, including the ForkID
variant, verifies as false.
*/
package validator

import (
	"encoding/binary"

	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/go-bt/v2"
	"github.com/bsv-blockchain/go-bt/v2/bscript"
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/bsv-blockchain/go-bt/v2/sighash"
)

// TxSignature returns the hash a signature of input inputIndex commits to: the transaction
// with every signature script blanked, except the input being verified which carries
// prevScript, followed by the 4-byte little-endian hash type, double SHA-256 hashed.
func TxSignature(tx *bt.Tx, inputIndex int, prevScript *bscript.Script, hashType sighash.Flag) (*chainhash.Hash, error) {
	if inputIndex < 0 || inputIndex >= len(tx.Inputs) {
		return nil, errors.NewInvalidArgumentError("[TxSignature] input %d out of range, tx %s has %d inputs", inputIndex, tx.TxID(), len(tx.Inputs))
	}

	variant := &bt.Tx{
		Version:  tx.Version,
		LockTime: tx.LockTime,
		Inputs:   make([]*bt.Input, len(tx.Inputs)),
		Outputs:  tx.Outputs,
	}

	for i, input := range tx.Inputs {
		blanked := *input

		if i == inputIndex && prevScript != nil {
			blanked.UnlockingScript = prevScript
		} else {
			blanked.UnlockingScript = &bscript.Script{}
		}

		variant.Inputs[i] = &blanked
	}

	b := variant.Bytes()
	b = binary.LittleEndian.AppendUint32(b, uint32(hashType))

	hash := chainhash.DoubleHashH(b)

	return &hash, nil
}
