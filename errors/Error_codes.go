package errors

import "fmt"

// ERR is the numeric code carried by every *Error. Codes are grouped in ranges of ten
// per category, see GetErrorCategory.
type ERR int32

//nolint:revive,stylecheck // names mirror the wire-level enum used across services
const (
	ERR_UNKNOWN          ERR = 0
	ERR_INVALID_ARGUMENT ERR = 1
	ERR_NOT_FOUND        ERR = 2
	ERR_PROCESSING       ERR = 3
	ERR_CONFIGURATION    ERR = 4
	ERR_CONTEXT          ERR = 5
	ERR_CONTEXT_CANCELED ERR = 6
	ERR_ERROR            ERR = 9

	ERR_BLOCK_NOT_FOUND   ERR = 10
	ERR_BLOCK_INVALID     ERR = 11
	ERR_BLOCK_EXISTS      ERR = 12
	ERR_CHAIN_MISMATCH    ERR = 13
	ERR_TARGET_SUPERSEDED ERR = 14

	ERR_TX_NOT_FOUND            ERR = 30
	ERR_TX_INVALID              ERR = 31
	ERR_TX_INVALID_DOUBLE_SPEND ERR = 32
	ERR_TX_ALREADY_EXISTS       ERR = 33
	ERR_TX_ERROR                ERR = 34

	ERR_SCRIPT_INVALID ERR = 40
	ERR_SCRIPT_FATAL   ERR = 41

	ERR_STORAGE_UNAVAILABLE ERR = 60
	ERR_STORAGE_ERROR       ERR = 61
	ERR_MISSING_DATA        ERR = 62

	ERR_SPENT             ERR = 70
	ERR_UTXO_NOT_FOUND    ERR = 71
	ERR_UTXO_OUT_OF_RANGE ERR = 72
)

var ERR_name = map[int32]string{
	0:  "UNKNOWN",
	1:  "INVALID_ARGUMENT",
	2:  "NOT_FOUND",
	3:  "PROCESSING",
	4:  "CONFIGURATION",
	5:  "CONTEXT",
	6:  "CONTEXT_CANCELED",
	9:  "ERROR",
	10: "BLOCK_NOT_FOUND",
	11: "BLOCK_INVALID",
	12: "BLOCK_EXISTS",
	13: "CHAIN_MISMATCH",
	14: "TARGET_SUPERSEDED",
	30: "TX_NOT_FOUND",
	31: "TX_INVALID",
	32: "TX_INVALID_DOUBLE_SPEND",
	33: "TX_ALREADY_EXISTS",
	34: "TX_ERROR",
	40: "SCRIPT_INVALID",
	41: "SCRIPT_FATAL",
	60: "STORAGE_UNAVAILABLE",
	61: "STORAGE_ERROR",
	62: "MISSING_DATA",
	70: "SPENT",
	71: "UTXO_NOT_FOUND",
	72: "UTXO_OUT_OF_RANGE",
}

// Enum returns the symbolic name of the code.
func (c ERR) Enum() string {
	if name, ok := ERR_name[int32(c)]; ok {
		return name
	}

	return fmt.Sprintf("ERR(%d)", int32(c))
}

func (c ERR) String() string {
	return c.Enum()
}
