package validator

import (
	"sync"
	"time"

	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/chainstate/model"
	"github.com/bsv-blockchain/chainstate/ulogger"
	"github.com/bsv-blockchain/go-bt/v2"
)

// WorkItem is one input to verify. Items are independent of each other and can be
// verified in any order.
type WorkItem struct {
	Position   model.ChainPosition
	Header     *model.ChainedHeader
	Tx         *bt.Tx
	InputIndex int
	PrevOutput *bt.Output
}

type job struct {
	batch *Batch
	item  WorkItem
}

// ScriptVerifierPool verifies inputs on a fixed number of workers.
type ScriptVerifierPool struct {
	logger    ulogger.Logger
	verifier  Verifier
	workers   int
	jobs      chan job
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewScriptVerifierPool starts workers goroutines. Close must be called to stop them.
func NewScriptVerifierPool(logger ulogger.Logger, verifier Verifier, workers int) *ScriptVerifierPool {
	initPrometheusMetrics()

	if workers < 1 {
		workers = 1
	}

	p := &ScriptVerifierPool{
		logger:   logger,
		verifier: verifier,
		workers:  workers,
		jobs:     make(chan job, workers*4),
	}

	p.wg.Add(workers)

	for i := 0; i < workers; i++ {
		go p.worker()
	}

	return p
}

func (p *ScriptVerifierPool) Workers() int {
	return p.workers
}

// Close stops the workers once every submitted item has been verified. Submitting after
// Close panics.
func (p *ScriptVerifierPool) Close() {
	p.closeOnce.Do(func() {
		close(p.jobs)
		p.wg.Wait()
	})
}

func (p *ScriptVerifierPool) worker() {
	defer p.wg.Done()

	for j := range p.jobs {
		start := time.Now()

		if err := p.verify(j.item); err != nil {
			prometheusScriptVerificationFailures.Inc()
			j.batch.addError(err)
		}

		prometheusScriptVerifications.Inc()
		prometheusScriptVerify.Observe(time.Since(start).Seconds())

		j.batch.wg.Done()
	}
}

func (p *ScriptVerifierPool) verify(item WorkItem) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.NewProcessingError("[ScriptVerifierPool] panic verifying %s: %v", item.Position, r)
		}
	}()

	if err = p.verifier.VerifyScript(item.Tx, item.InputIndex, item.PrevOutput); err != nil {
		return errors.NewScriptInvalidError("[ScriptVerifierPool] %s", item.Position, err)
	}

	return nil
}

// NewBatch starts collecting the inputs of one block.
func (p *ScriptVerifierPool) NewBatch() *Batch {
	return &Batch{pool: p}
}

// Batch collects failures of the items submitted to it. Failures are never returned
// from Submit, only from Wait.
type Batch struct {
	pool *ScriptVerifierPool
	wg   sync.WaitGroup

	mu     sync.Mutex
	errs   []error
	header *model.ChainedHeader
	count  int
}

// Submit queues item. It blocks while the pool's queue is full.
func (b *Batch) Submit(item WorkItem) {
	b.mu.Lock()
	if b.header == nil {
		b.header = item.Header
	}
	b.count++
	b.mu.Unlock()

	b.wg.Add(1)
	b.pool.jobs <- job{batch: b, item: item}
}

func (b *Batch) addError(err error) {
	b.mu.Lock()
	b.errs = append(b.errs, err)
	b.mu.Unlock()
}

// Wait blocks until every submitted item is verified and returns one ERR_BLOCK_INVALID
// error joining all failures, or nil.
func (b *Batch) Wait() error {
	start := time.Now()

	b.wg.Wait()

	prometheusScriptBatchWait.Observe(time.Since(start).Seconds())

	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.errs) == 0 {
		return nil
	}

	block := "unknown block"
	if b.header != nil {
		block = b.header.String()
	}

	b.pool.logger.Warnf("[ScriptVerifierPool] %d of %d inputs in block %s failed script verification", len(b.errs), b.count, block)

	return errors.NewBlockInvalidError("[ScriptVerifierPool] %d of %d inputs in block %s failed script verification", len(b.errs), b.count, block, errors.Join(b.errs...))
}

// Len returns the number of items submitted so far.
func (b *Batch) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.count
}
