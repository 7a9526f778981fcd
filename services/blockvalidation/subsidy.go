package blockvalidation

import (
	"github.com/bsv-blockchain/chainstate/chaincfg"
)

// MaxSatoshis is the most currency that can ever exist, 21 million coins.
const MaxSatoshis = 21_000_000 * 100_000_000

// BlockSubsidy returns the newly created currency a coinbase at height may claim. It halves
// every SubsidyReductionInterval blocks and reaches zero after 64 halvings.
func BlockSubsidy(height uint32, params *chaincfg.Params) uint64 {
	if params.SubsidyReductionInterval == 0 {
		return params.BaseSubsidy
	}

	halvings := height / params.SubsidyReductionInterval
	if halvings >= 64 {
		return 0
	}

	return params.BaseSubsidy >> halvings
}
