package errors

import (
	"encoding/binary"
	"fmt"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
)

// ErrDataI is structured context attached to an Error.
type ErrDataI interface {
	EncodeErrorData() []byte
	Error() string
}

// UtxoErrData names the output a UTXO error is about.
type UtxoErrData struct {
	TxHash      chainhash.Hash
	OutputIndex uint32
}

func NewUtxoErrData(txHash chainhash.Hash, outputIndex uint32) *UtxoErrData {
	return &UtxoErrData{TxHash: txHash, OutputIndex: outputIndex}
}

func (d *UtxoErrData) Error() string {
	return fmt.Sprintf("output %s:%d", d.TxHash, d.OutputIndex)
}

// EncodeErrorData returns the tx hash followed by the little endian output index.
func (d *UtxoErrData) EncodeErrorData() []byte {
	b := make([]byte, 0, chainhash.HashSize+4)
	b = append(b, d.TxHash[:]...)

	return binary.LittleEndian.AppendUint32(b, d.OutputIndex)
}

// GetErrorData decodes data produced by EncodeErrorData for an error with code.
func GetErrorData(code ERR, dataBytes []byte) (ErrDataI, error) {
	switch code {
	case ERR_SPENT, ERR_UTXO_NOT_FOUND, ERR_UTXO_OUT_OF_RANGE:
		if len(dataBytes) != chainhash.HashSize+4 {
			return nil, NewProcessingError("utxo error data must be %d bytes, got %d", chainhash.HashSize+4, len(dataBytes))
		}

		data := &UtxoErrData{OutputIndex: binary.LittleEndian.Uint32(dataBytes[chainhash.HashSize:])}
		copy(data.TxHash[:], dataBytes[:chainhash.HashSize])

		return data, nil
	default:
		return nil, NewInvalidArgumentError("no error data for %s", code.Enum())
	}
}

// WithData attaches data to err when it is an *Error and returns err.
func WithData(err error, data ErrDataI) error {
	var e *Error
	if As(err, &e) {
		e.data = data
	}

	return err
}
