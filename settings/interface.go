package settings

import (
	"net/url"
	"time"

	"github.com/bsv-blockchain/chainstate/chaincfg"
)

type ChainStateSettings struct {
	// ScriptVerifierWorkers is the number of goroutines verifying input scripts
	ScriptVerifierWorkers int
	IgnoreSignatures      bool
	// SnapshotInterval is the number of applied steps between published snapshots
	SnapshotInterval int
	BlockCacheTTL    time.Duration
	BlockCacheSize   int
	// StoreURL selects the cursor backend: memory:// or leveldb:///path
	StoreURL         *url.URL
	ProgressInterval time.Duration
	// BlockStoreURL is the directory of raw blocks read by the daemon: file:///path?checksum=true
	BlockStoreURL *url.URL
	// PollInterval is how often the daemon looks for new blocks, 0 applies once and exits
	PollInterval       time.Duration
	HTTPListenAddress  string
	PrometheusEndpoint string
}

type Settings struct {
	ChainCfgParams *chaincfg.Params
	LogLevel       string
	// LoggerType is zerolog or gocore
	LoggerType string
	ChainState ChainStateSettings
}
