package main

import (
	"context"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/chainstate/model"
	"github.com/bsv-blockchain/chainstate/services/blockchain"
	"github.com/bsv-blockchain/chainstate/services/chainstate"
	"github.com/bsv-blockchain/chainstate/settings"
	"github.com/bsv-blockchain/chainstate/stores/blockstore/file"
	chainstatestore "github.com/bsv-blockchain/chainstate/stores/chainstate"
	"github.com/bsv-blockchain/chainstate/stores/chainstate/factory"
	"github.com/bsv-blockchain/chainstate/ulogger"
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
)

// syncer keeps the chain state at the best block found in a block directory.
type syncer struct {
	logger       ulogger.Logger
	blocks       *file.File
	headers      *blockchain.HeaderIndex
	cursor       chainstatestore.Cursor
	builder      *chainstate.ChainStateBuilder
	target       *chainhash.Hash
	pollInterval time.Duration
	failed       *failedStep
}

// failedStep remembers the block of the last step that was rolled back.
type failedStep struct {
	chainstate.NoopVisitor
	header atomic.Pointer[model.ChainedHeader]
}

func (f *failedStep) RollbackBlock(header *model.ChainedHeader, _ blockchain.Direction, _ error) {
	f.header.Store(header)
}

func newSyncer(ctx context.Context, logger ulogger.Logger, tSettings *settings.Settings, blockStoreURL, targetHash string) (*syncer, error) {
	s := &syncer{
		logger:       logger,
		headers:      blockchain.NewHeaderIndex(),
		pollInterval: tSettings.ChainState.PollInterval,
		failed:       &failedStep{},
	}

	if targetHash != "" {
		hash, err := chainhash.NewHashFromStr(targetHash)
		if err != nil {
			return nil, errors.NewInvalidArgumentError("invalid target hash %q", targetHash, err)
		}

		s.target = hash
		s.pollInterval = 0
	}

	storeURL, err := url.Parse(blockStoreURL)
	if err != nil {
		return nil, errors.NewConfigurationError("invalid block store url %q", blockStoreURL, err)
	}

	if s.blocks, err = file.New(logger, storeURL); err != nil {
		return nil, err
	}

	if s.cursor, err = factory.NewStore(ctx, logger, tSettings.ChainState.StoreURL); err != nil {
		return nil, err
	}

	if s.builder, err = chainstate.New(ctx, logger, tSettings, s.cursor, s.blocks, s.headers); err != nil {
		_ = s.cursor.Close()
		return nil, err
	}

	s.builder.Subscribe(s.failed)

	return s, nil
}

func (s *syncer) close() {
	s.builder.Close()

	if err := s.cursor.Close(); err != nil {
		s.logger.Errorf("failed to close chain state store: %v", err)
	}
}

// scan links the headers of every stored block into the index.
func (s *syncer) scan(ctx context.Context) error {
	stored, err := s.blocks.Headers(ctx)
	if err != nil {
		return err
	}

	orphans, err := s.headers.Link(ctx, stored)
	if err != nil {
		return err
	}

	if len(orphans) > 0 {
		s.logger.Debugf("%d stored blocks do not connect to the chain yet", len(orphans))
	}

	return nil
}

func (s *syncer) targetHeader(ctx context.Context) (*model.ChainedHeader, error) {
	if s.target == nil {
		return s.headers.Best(), nil
	}

	return s.headers.GetHeader(ctx, s.target)
}

// run applies towards the target until ctx is done. Without a poll interval it applies once.
// Following the best block, a block that fails validation is marked invalid together with its
// descendants and the next best block is tried.
func (s *syncer) run(ctx context.Context) error {
	for {
		if err := s.scan(ctx); err != nil {
			return err
		}

		s.failed.header.Store(nil)

		superseded, err := s.apply(ctx)

		switch {
		case errors.Is(err, errors.ErrContextCanceled), ctx.Err() != nil:
			return nil
		case err != nil && errors.IsValidationError(err) && s.target == nil:
			rejected := s.failed.header.Load()
			if rejected == nil {
				return err
			}

			s.logger.Errorf("rejecting block %s and its descendants: %v", rejected, err)
			s.headers.MarkInvalid(rejected.Hash)

			continue
		case err != nil && errors.IsMissingDataError(err) && s.pollInterval > 0:
			s.logger.Warnf("waiting for blocks: %v", err)
		case err != nil:
			return err
		}

		if s.pollInterval == 0 && !superseded {
			return nil
		}

		if superseded {
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.pollInterval):
		}
	}
}

// apply moves the chain state to the current target. While applying, the block directory
// is rescanned every poll interval and a better block supersedes the target.
func (s *syncer) apply(ctx context.Context) (bool, error) {
	target, err := s.targetHeader(ctx)
	if err != nil {
		return false, err
	}

	if target.Equal(s.builder.Snapshot().Chain.Tip()) {
		return false, nil
	}

	superseded := make(chan struct{})

	watchCtx, stopWatching := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		s.watch(watchCtx, target, superseded)
	}()

	err = s.builder.ApplyTowards(ctx, chainstate.FixedTarget(target), superseded, s.progress)

	stopWatching()
	<-done

	if errors.Is(err, errors.ErrTargetSuperseded) {
		s.logger.Infof("target %s superseded", target)
		return true, nil
	}

	return false, err
}

func (s *syncer) watch(ctx context.Context, target *model.ChainedHeader, superseded chan<- struct{}) {
	if s.pollInterval == 0 || s.target != nil {
		return
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.scan(ctx); err != nil {
				s.logger.Warnf("failed to scan blocks: %v", err)
				continue
			}

			if best := s.headers.Best(); !best.Equal(target) {
				close(superseded)
				return
			}
		}
	}
}

func (s *syncer) progress(p chainstate.Progress) {
	s.logger.Infof("%s to height %d (%d/%d), %d txs, %d inputs spent, %d outputs minted",
		p.Direction, p.Height, p.Step, p.Steps, p.Stats.Transactions, p.Stats.InputsSpent, p.Stats.OutputsMinted)
}
