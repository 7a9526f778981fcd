package settings

import (
	"runtime"
	"time"

	"github.com/bsv-blockchain/chainstate/chaincfg"
)

func NewSettings() *Settings {
	params, err := chaincfg.GetChainParams(getString("network", "mainnet"))
	if err != nil {
		panic(err)
	}

	return &Settings{
		ChainCfgParams: params,
		LogLevel:       getString("logLevel", "INFO"),
		LoggerType:     getString("logger", "zerolog"),
		ChainState: ChainStateSettings{
			ScriptVerifierWorkers: getInt("chainstate_scriptVerifierWorkers", runtime.NumCPU()),
			IgnoreSignatures:      getBool("chainstate_ignoreSignatures", false),
			SnapshotInterval:      getInt("chainstate_snapshotInterval", 100),
			BlockCacheTTL:         getDuration("chainstate_blockCacheTTL", 10*time.Minute),
			BlockCacheSize:        getInt("chainstate_blockCacheSize", 16),
			StoreURL:              getURL("chainstate_storeURL", "memory://"),
			ProgressInterval:      getDuration("chainstate_progressInterval", 5*time.Second),
			BlockStoreURL:         getURL("chainstate_blockStoreURL", "file://./data/blocks"),
			PollInterval:          getDuration("chainstate_pollInterval", 0),
			HTTPListenAddress:     getString("chainstate_httpListenAddress", ""),
			PrometheusEndpoint:    getString("prometheusEndpoint", "/metrics"),
		},
	}
}
