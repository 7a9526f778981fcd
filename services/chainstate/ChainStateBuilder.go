// Package chainstate moves the active chain and its UTXO set from one tip to another,
// rewinding and advancing block by block, and commits every step to the chain-state store.
package chainstate

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/chainstate/model"
	"github.com/bsv-blockchain/chainstate/services/blockchain"
	"github.com/bsv-blockchain/chainstate/services/blockvalidation"
	"github.com/bsv-blockchain/chainstate/settings"
	"github.com/bsv-blockchain/chainstate/stores/blockstore"
	chainstatestore "github.com/bsv-blockchain/chainstate/stores/chainstate"
	utxostore "github.com/bsv-blockchain/chainstate/stores/utxo"
	utxologger "github.com/bsv-blockchain/chainstate/stores/utxo/logger"
	"github.com/bsv-blockchain/chainstate/ulogger"
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/looplab/fsm"
	"github.com/ordishs/gocore"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// TargetProvider returns the tip the chain state should move to. It is read once per
// ApplyTowards call.
type TargetProvider interface {
	Target(ctx context.Context) (*model.ChainedHeader, error)
}

type TargetProviderFunc func(ctx context.Context) (*model.ChainedHeader, error)

func (f TargetProviderFunc) Target(ctx context.Context) (*model.ChainedHeader, error) {
	return f(ctx)
}

// FixedTarget always returns header.
func FixedTarget(header *model.ChainedHeader) TargetProvider {
	return TargetProviderFunc(func(context.Context) (*model.ChainedHeader, error) {
		return header, nil
	})
}

// State is an immutable chain and the UTXO set at its tip. It is safe for concurrent readers.
type State struct {
	Chain *model.Chain
	UTXO  utxostore.Snapshot
}

// ChainStateBuilder owns one chain state. ApplyTowards is the only writer, readers use
// Snapshot.
type ChainStateBuilder struct {
	logger   ulogger.Logger
	settings *settings.Settings
	rules    blockvalidation.Rules
	cursor   chainstatestore.Cursor
	blocks   blockstore.Source
	headers  blockchain.HeaderSource

	applyMu sync.Mutex
	fsm     *fsm.FSM
	chain   *model.ChainBuilder
	utxos   utxostore.Builder

	// committed is the state after the last committed step
	committed    *State
	published    atomic.Pointer[State]
	sincePublish int
	visitors     *registry
	statsMu      sync.Mutex
	stats        BuilderStats
	progress     *rate.Limiter
	closers      []func()
}

// NewChainStateBuilder continues from state, which must match what cursor holds. headers
// must resolve every block of the active chain and of the targets.
func NewChainStateBuilder(logger ulogger.Logger, tSettings *settings.Settings, state *State, cursor chainstatestore.Cursor,
	blocks blockstore.Source, headers blockchain.HeaderSource, rules blockvalidation.Rules) *ChainStateBuilder {
	initPrometheusMetrics()

	b := &ChainStateBuilder{
		logger:    logger,
		settings:  tSettings,
		rules:     rules,
		cursor:    cursor,
		blocks:    blocks,
		headers:   headers,
		fsm:       newStepStateMachine(),
		committed: state,
		visitors:  newRegistry(logger),
		progress:  rate.NewLimiter(rate.Every(tSettings.ChainState.ProgressInterval), 1),
	}

	b.restore()
	b.publish()

	return b
}

// restore resets the builders to the last committed state.
func (b *ChainStateBuilder) restore() {
	b.chain = model.NewChainBuilder(b.committed.Chain)

	utxos := b.committed.UTXO.NewBuilder()
	if b.logger.LogLevel() == int(gocore.DEBUG) {
		utxos = utxologger.New(b.logger, utxos)
	}

	b.utxos = utxos
}

// commit freezes the builders after a step was persisted.
func (b *ChainStateBuilder) commit() {
	b.committed = &State{
		Chain: b.chain.ToImmutable(),
		UTXO:  b.utxos.ToImmutable(),
	}

	b.sincePublish++
	if b.sincePublish >= b.settings.ChainState.SnapshotInterval {
		b.publish()
	}
}

func (b *ChainStateBuilder) publish() {
	b.published.Store(b.committed)
	b.sincePublish = 0

	prometheusChainStateSnapshots.Inc()
	prometheusChainStateHeight.Set(float64(b.committed.Chain.Height()))
	prometheusChainStateUtxoCount.Set(float64(b.committed.UTXO.Count()))
}

// Snapshot returns the last published state. It lags the builder by at most the
// configured snapshot interval while ApplyTowards runs and is current once it returns.
func (b *ChainStateBuilder) Snapshot() *State {
	return b.published.Load()
}

// Subscribe registers v for the events of every following step.
func (b *ChainStateBuilder) Subscribe(v Visitor) *Subscription {
	return b.visitors.add(v)
}

type fetchedStep struct {
	step  blockchain.PathStep
	block *model.Block

	// record is only fetched for rewinds
	record *model.RollbackRecord
}

// ApplyTowards moves the chain state to the tip target returns. Every step is committed
// on its own; on error the state stays at the last committed step, which may be anywhere
// between the old tip and the target. It stops at a step boundary with
// ERR_CONTEXT_CANCELED when ctx is done and with ERR_TARGET_SUPERSEDED when superseded
// is closed or receives.
func (b *ChainStateBuilder) ApplyTowards(ctx context.Context, target TargetProvider, superseded <-chan struct{}, onProgress ProgressFunc) error {
	b.applyMu.Lock()
	defer b.applyMu.Unlock()

	defer b.publish()

	toTip, err := target.Target(ctx)
	if err != nil {
		return errors.NewProcessingError("[ApplyTowards] failed to read target", err)
	}

	path, err := blockchain.GetPath(ctx, b.chain.Tip(), toTip, b.headers)
	if err != nil {
		return err
	}

	if path.IsEmpty() {
		return nil
	}

	b.logger.Infof("[ApplyTowards] %s", path)

	steps := path.Steps()

	fetchCtx, cancelFetch := context.WithCancel(ctx)
	defer cancelFetch()

	g, gCtx := errgroup.WithContext(fetchCtx)
	bodies := make(chan fetchedStep)

	g.Go(func() error {
		return b.prefetch(gCtx, steps, bodies)
	})

	err = b.applySteps(ctx, steps, bodies, g, superseded, onProgress)

	cancelFetch()
	_ = g.Wait()

	if err != nil {
		b.logger.Warnf("[ApplyTowards] stopped at %s: %v", b.chain.Tip(), err)
		return err
	}

	b.logger.Infof("[ApplyTowards] chain state at %s", b.chain.Tip())

	return nil
}

func (b *ChainStateBuilder) applySteps(ctx context.Context, steps []blockchain.PathStep, bodies <-chan fetchedStep,
	g *errgroup.Group, superseded <-chan struct{}, onProgress ProgressFunc) error {
	for i := range steps {
		if err := b.stopRequested(ctx, superseded); err != nil {
			return err
		}

		waitStart := time.Now()

		fetched, ok := <-bodies

		prometheusChainStateBlockFetchWait.Observe(time.Since(waitStart).Seconds())

		if !ok {
			if err := b.stopRequested(ctx, superseded); err != nil {
				return err
			}

			if err := g.Wait(); err != nil {
				return err
			}

			return errors.NewProcessingError("[ApplyTowards] block prefetch ended after %d of %d steps", i, len(steps))
		}

		if err := b.applyStep(ctx, fetched); err != nil {
			return err
		}

		b.reportProgress(onProgress, fetched.step, i+1, len(steps))
	}

	return nil
}

func (b *ChainStateBuilder) stopRequested(ctx context.Context, superseded <-chan struct{}) error {
	select {
	case <-ctx.Done():
		return errors.NewContextCanceledError("[ApplyTowards] shutdown at %s", b.chain.Tip(), ctx.Err())
	default:
	}

	select {
	case <-superseded:
		return errors.NewTargetSupersededError("[ApplyTowards] target superseded at %s", b.chain.Tip())
	default:
	}

	return nil
}

func (b *ChainStateBuilder) reportProgress(onProgress ProgressFunc, step blockchain.PathStep, done, total int) {
	if onProgress == nil {
		return
	}

	// the last step is always reported
	if done < total && !b.progress.Allow() {
		return
	}

	onProgress(Progress{
		Height:    step.Header.Height,
		Direction: step.Direction,
		Step:      done,
		Steps:     total,
		Stats:     b.Stats(),
	})
}

// prefetch fetches the bodies in step order. The unbuffered channel keeps it one block
// ahead of applySteps.
func (b *ChainStateBuilder) prefetch(ctx context.Context, steps []blockchain.PathStep, out chan<- fetchedStep) error {
	defer close(out)

	for _, step := range steps {
		fetched := fetchedStep{step: step}

		block, err := b.blocks.GetBlock(ctx, step.Header.Hash)
		if err != nil {
			if errors.IsMissingDataError(err) {
				return errors.NewMissingDataError("[prefetch] block %s at height %d is not available", step.Header.Hash, step.Header.Height, err)
			}

			return errors.NewProcessingError("[prefetch] failed to get block %s at height %d", step.Header.Hash, step.Header.Height, err)
		}

		fetched.block = block

		if step.Direction == blockchain.Rewind {
			if fetched.record, err = b.cursor.GetRollbackRecord(ctx, *step.Header.Hash); err != nil {
				return errors.NewMissingDataError("[prefetch] rollback record of block %s at height %d is not available", step.Header.Hash, step.Header.Height, err)
			}
		}

		select {
		case out <- fetched:
		case <-ctx.Done():
			return nil
		}
	}

	return nil
}

// applyStep applies or rewinds one block and commits it. On error nothing of the step
// remains, neither in the builders nor in the store.
func (b *ChainStateBuilder) applyStep(ctx context.Context, fetched fetchedStep) error {
	header := fetched.step.Header
	direction := fetched.step.Direction

	if direction != blockchain.Advance && direction != blockchain.Rewind {
		panic(errors.NewProcessingError("[applyStep] unknown direction %d for block %s", direction, header))
	}

	start := time.Now()

	if err := b.beginStep(ctx); err != nil {
		return err
	}
	defer b.endStep()

	ev := b.visitors.begin()
	ev.beginBlock(header, direction)

	step := &stepStats{}

	err := b.applyAndPersist(ctx, ev, step, fetched)
	if err != nil {
		b.restore()

		b.statsMu.Lock()
		b.stats.FailedSteps++
		b.statsMu.Unlock()

		prometheusChainStateFailedSteps.Inc()

		ev.rollbackBlock(header, direction, err)

		return err
	}

	b.commit()

	elapsed := time.Since(start)

	b.statsMu.Lock()
	b.stats.add(direction, step, elapsed)
	b.statsMu.Unlock()

	if direction == blockchain.Advance {
		prometheusChainStateAdvance.Observe(elapsed.Seconds())
	} else {
		prometheusChainStateRewind.Observe(elapsed.Seconds())
	}

	ev.commitBlock(header, direction)

	b.logger.Debugf("[applyStep] %s block %s in %s", direction, header, elapsed)

	return nil
}

func (b *ChainStateBuilder) applyAndPersist(ctx context.Context, ev events, step *stepStats, fetched fetchedStep) error {
	tx, err := b.cursor.Begin(ctx)
	if err != nil {
		return errors.NewStorageError("[applyStep] failed to begin chain state transaction", err)
	}

	if fetched.step.Direction == blockchain.Advance {
		err = b.advance(ctx, tx, ev, step, fetched.step.Header, fetched.block)
	} else {
		err = b.rewind(tx, ev, step, fetched.step.Header, fetched.block, fetched.record)
	}

	if err == nil {
		err = b.persist(tx, step)
	}

	if err != nil {
		if rollbackErr := tx.Rollback(); rollbackErr != nil {
			b.logger.Errorf("[applyStep] failed to roll back chain state transaction for block %s: %v", fetched.step.Header, rollbackErr)
		}

		return err
	}

	return nil
}

// persist writes the UTXO changes of the step and commits tx.
func (b *ChainStateBuilder) persist(tx chainstatestore.Tx, step *stepStats) error {
	start := time.Now()

	defer func() {
		step.persist += time.Since(start)
		prometheusChainStatePersist.Observe(time.Since(start).Seconds())
	}()

	var err error

	b.utxos.Changes(func(hash chainhash.Hash, utx *model.UnspentTx) {
		if err != nil {
			return
		}

		if utx == nil {
			err = tx.DeleteUnspentTx(hash)
		} else {
			err = tx.PutUnspentTx(utx)
		}
	})

	if err != nil {
		return errors.NewStorageError("[persist] failed to write utxo changes", err)
	}

	if err = tx.Commit(); err != nil {
		return errors.NewStorageError("[persist] failed to commit chain state transaction", err)
	}

	return nil
}
