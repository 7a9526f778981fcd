package test

import (
	"testing"

	"github.com/bsv-blockchain/chainstate/chaincfg"
	"github.com/bsv-blockchain/chainstate/settings"
)

// CreateBaseTestSettings returns regtest settings with a small script verifier pool and a
// snapshot published after every step.
func CreateBaseTestSettings(t *testing.T) *settings.Settings {
	t.Helper()

	tSettings := settings.NewSettings()
	tSettings.ChainCfgParams = &chaincfg.RegressionNetParams
	tSettings.ChainState.ScriptVerifierWorkers = 2
	tSettings.ChainState.IgnoreSignatures = false
	tSettings.ChainState.SnapshotInterval = 1
	tSettings.ChainState.ProgressInterval = 0

	return tSettings
}
