// Package factory opens a chainstate.Cursor from a store URL.
//
// Supported URLs:
//
//	memory://                  maps, nothing is persisted
//	leveldb:///path/to/dir     goleveldb database in dir
//	leveldb://                 goleveldb on in-memory storage
package factory

import (
	"context"
	"net/url"

	"github.com/bsv-blockchain/chainstate/errors"
	chainstatestore "github.com/bsv-blockchain/chainstate/stores/chainstate"
	"github.com/bsv-blockchain/chainstate/stores/chainstate/leveldb"
	"github.com/bsv-blockchain/chainstate/stores/chainstate/memory"
	"github.com/bsv-blockchain/chainstate/ulogger"
)

var availableDatabases = map[string]func(ctx context.Context, logger ulogger.Logger, storeURL *url.URL) (chainstatestore.Cursor, error){
	"memory": func(_ context.Context, logger ulogger.Logger, _ *url.URL) (chainstatestore.Cursor, error) {
		return memory.New(logger), nil
	},
	"leveldb": func(_ context.Context, logger ulogger.Logger, storeURL *url.URL) (chainstatestore.Cursor, error) {
		return leveldb.New(logger, storeURL.Path)
	},
}

func NewStore(ctx context.Context, logger ulogger.Logger, storeURL *url.URL) (chainstatestore.Cursor, error) {
	if storeURL == nil {
		return nil, errors.NewConfigurationError("[ChainStateStore] no store url configured")
	}

	dbInit, ok := availableDatabases[storeURL.Scheme]
	if !ok {
		return nil, errors.NewConfigurationError("[ChainStateStore] unknown scheme: %s", storeURL.Scheme)
	}

	logger.Infof("[ChainStateStore] opening %s store %s", storeURL.Scheme, storeURL.Path)

	return dbInit(ctx, logger, storeURL)
}
