package chainstate

import (
	"context"

	"github.com/bsv-blockchain/chainstate/chaincfg"
	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/chainstate/model"
	"github.com/bsv-blockchain/chainstate/services/blockchain"
	"github.com/bsv-blockchain/chainstate/services/blockvalidation"
	"github.com/bsv-blockchain/chainstate/services/validator"
	"github.com/bsv-blockchain/chainstate/settings"
	"github.com/bsv-blockchain/chainstate/stores/blockstore"
	chainstatestore "github.com/bsv-blockchain/chainstate/stores/chainstate"
	"github.com/bsv-blockchain/chainstate/stores/utxo/memory"
	"github.com/bsv-blockchain/chainstate/ulogger"
)

// LoadChainState reads the chain and UTXO set held by cursor. An empty store is
// initialized with the genesis header of params and an empty UTXO set.
func LoadChainState(ctx context.Context, logger ulogger.Logger, cursor chainstatestore.Cursor, params *chaincfg.Params) (*State, error) {
	genesis := params.GenesisChainedHeader()

	stored, err := cursor.ReadChain(ctx)
	if err != nil {
		return nil, errors.NewStorageError("[LoadChainState] failed to read chain", err)
	}

	if len(stored) == 0 {
		logger.Infof("[LoadChainState] empty store, starting at %s genesis %s", params.Name, genesis.Hash)

		if err = initialize(ctx, cursor, genesis); err != nil {
			return nil, err
		}

		chain, err := model.NewChain(genesis)
		if err != nil {
			return nil, err
		}

		return &State{Chain: chain, UTXO: memory.New()}, nil
	}

	if !stored[0].Hash().IsEqual(genesis.Hash) {
		return nil, errors.NewChainMismatchError("[LoadChainState] store starts at %s, %s genesis is %s", stored[0].Hash(), params.Name, genesis.Hash)
	}

	headers := make([]*model.ChainedHeader, 1, len(stored))
	headers[0] = genesis

	for _, header := range stored[1:] {
		chained, err := model.NewChainedHeader(headers[len(headers)-1], header)
		if err != nil {
			return nil, errors.NewStorageError("[LoadChainState] stored chain is broken at height %d", len(headers), err)
		}

		headers = append(headers, chained)
	}

	chain, err := model.NewChainFromHeaders(headers)
	if err != nil {
		return nil, err
	}

	var entries []*model.UnspentTx

	if err = cursor.ForEachUnspentTx(ctx, func(utx *model.UnspentTx) error {
		entries = append(entries, utx)
		return nil
	}); err != nil {
		return nil, errors.NewStorageError("[LoadChainState] failed to read unspent txs", err)
	}

	logger.Infof("[LoadChainState] loaded chain at %s with %d unspent txs", chain.Tip(), len(entries))

	return &State{Chain: chain, UTXO: memory.NewFromEntries(entries)}, nil
}

func initialize(ctx context.Context, cursor chainstatestore.Cursor, genesis *model.ChainedHeader) error {
	tx, err := cursor.Begin(ctx)
	if err != nil {
		return errors.NewStorageError("[LoadChainState] failed to begin transaction", err)
	}

	if err = tx.AddHeader(0, genesis.Header); err != nil {
		_ = tx.Rollback()
		return errors.NewStorageError("[LoadChainState] failed to add genesis header", err)
	}

	if err = tx.Commit(); err != nil {
		return errors.NewStorageError("[LoadChainState] failed to commit genesis header", err)
	}

	return nil
}

// New wires a ChainStateBuilder from settings: the consensus rules with their script
// verifier pool, a cached block source and the state loaded from cursor. The active chain
// is added to headers. Close releases the pool and the block cache.
func New(ctx context.Context, logger ulogger.Logger, tSettings *settings.Settings, cursor chainstatestore.Cursor,
	blocks blockstore.Source, headers *blockchain.HeaderIndex) (*ChainStateBuilder, error) {
	params := tSettings.ChainCfgParams

	state, err := LoadChainState(ctx, logger, cursor, params)
	if err != nil {
		return nil, err
	}

	headers.Add(state.Chain.Blocks()...)

	pool := validator.NewScriptVerifierPool(
		logger.New("scripts"),
		validator.NewScriptVerifier(tSettings.ChainState.IgnoreSignatures),
		tSettings.ChainState.ScriptVerifierWorkers,
	)

	cached := blockstore.NewCachedSource(blocks, tSettings.ChainState.BlockCacheTTL, tSettings.ChainState.BlockCacheSize)

	rules := blockvalidation.NewConsensusRules(logger, params, pool)

	b := NewChainStateBuilder(logger, tSettings, state, cursor, cached, headers, rules)
	b.closers = append(b.closers, pool.Close, cached.Stop)

	return b, nil
}

// Close releases what New created. It does not close the cursor.
func (b *ChainStateBuilder) Close() {
	b.applyMu.Lock()
	defer b.applyMu.Unlock()

	for _, closeFn := range b.closers {
		closeFn()
	}

	b.closers = nil
}
