package chainstate

import (
	"sync"
	"sync/atomic"

	"github.com/bsv-blockchain/chainstate/model"
	"github.com/bsv-blockchain/chainstate/services/blockchain"
	"github.com/bsv-blockchain/chainstate/ulogger"
	"github.com/bsv-blockchain/go-bt/v2"
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
)

// Visitor receives the UTXO mutations of every block step, in order:
//
//	BeginBlock
//	  advance: BeforeAddTransaction, CoinbaseInput | SpendOutput..., MintOutput..., AfterAddTransaction
//	  rewind:  BeforeRemoveTransaction, UnmintOutput..., UnspendOutput..., AfterRemoveTransaction
//	CommitBlock | RollbackBlock
//
// Transactions are visited in block order when advancing and in reverse when rewinding.
// RollbackBlock means the step failed and none of its events took effect. Callbacks run on
// the applying goroutine and must not call back into the builder.
type Visitor interface {
	BeginBlock(header *model.ChainedHeader, direction blockchain.Direction)

	BeforeAddTransaction(position model.ChainPosition, tx *bt.Tx)
	CoinbaseInput(position model.ChainPosition, input *bt.Input)
	SpendOutput(position model.ChainPosition, input *bt.Input, prevOutput *bt.Output, prevScriptHash chainhash.Hash)
	MintOutput(position model.ChainPosition, output *bt.Output, scriptHash chainhash.Hash)
	AfterAddTransaction(position model.ChainPosition, tx *bt.Tx)

	BeforeRemoveTransaction(position model.ChainPosition, tx *bt.Tx)
	UnmintOutput(position model.ChainPosition, output *bt.Output, scriptHash chainhash.Hash)
	UnspendOutput(position model.ChainPosition, input *bt.Input, prevOutput *bt.Output, prevScriptHash chainhash.Hash)
	AfterRemoveTransaction(position model.ChainPosition, tx *bt.Tx)

	CommitBlock(header *model.ChainedHeader, direction blockchain.Direction)
	RollbackBlock(header *model.ChainedHeader, direction blockchain.Direction, err error)
}

// NoopVisitor implements every Visitor callback as a no-op, embed it to handle only some.
type NoopVisitor struct{}

func (NoopVisitor) BeginBlock(*model.ChainedHeader, blockchain.Direction)                    {}
func (NoopVisitor) BeforeAddTransaction(model.ChainPosition, *bt.Tx)                         {}
func (NoopVisitor) CoinbaseInput(model.ChainPosition, *bt.Input)                             {}
func (NoopVisitor) SpendOutput(model.ChainPosition, *bt.Input, *bt.Output, chainhash.Hash)   {}
func (NoopVisitor) MintOutput(model.ChainPosition, *bt.Output, chainhash.Hash)               {}
func (NoopVisitor) AfterAddTransaction(model.ChainPosition, *bt.Tx)                          {}
func (NoopVisitor) BeforeRemoveTransaction(model.ChainPosition, *bt.Tx)                      {}
func (NoopVisitor) UnmintOutput(model.ChainPosition, *bt.Output, chainhash.Hash)             {}
func (NoopVisitor) UnspendOutput(model.ChainPosition, *bt.Input, *bt.Output, chainhash.Hash) {}
func (NoopVisitor) AfterRemoveTransaction(model.ChainPosition, *bt.Tx)                       {}
func (NoopVisitor) CommitBlock(*model.ChainedHeader, blockchain.Direction)                   {}
func (NoopVisitor) RollbackBlock(*model.ChainedHeader, blockchain.Direction, error)          {}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	registry *registry
	visitor  Visitor
	once     sync.Once
	dropped  atomic.Bool
}

// Unsubscribe stops delivery to the visitor from the next step on. The step being applied
// delivers its remaining events. It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.registry.remove(s)
	})
}

// registry holds the subscribers as an immutable slice, replaced on every change, so a
// step iterates a stable list while others subscribe or unsubscribe.
type registry struct {
	logger ulogger.Logger
	mu     sync.Mutex
	subs   atomic.Pointer[[]*Subscription]
}

func newRegistry(logger ulogger.Logger) *registry {
	r := &registry{logger: logger}
	r.subs.Store(&[]*Subscription{})

	return r
}

func (r *registry) add(v Visitor) *Subscription {
	sub := &Subscription{registry: r, visitor: v}

	r.mu.Lock()
	defer r.mu.Unlock()

	current := *r.subs.Load()
	next := make([]*Subscription, 0, len(current)+1)
	next = append(next, current...)
	next = append(next, sub)
	r.subs.Store(&next)

	return sub
}

func (r *registry) remove(sub *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := *r.subs.Load()
	next := make([]*Subscription, 0, len(current))

	for _, s := range current {
		if s != sub {
			next = append(next, s)
		}
	}

	r.subs.Store(&next)
}

func (r *registry) len() int {
	return len(*r.subs.Load())
}

func (r *registry) snapshot() []*Subscription {
	return *r.subs.Load()
}

// notify calls fn for every subscriber of the step. A subscriber that panics is logged and
// dropped at once, the others and the step carry on.
func (r *registry) notify(subs []*Subscription, event string, fn func(v Visitor)) {
	for _, sub := range subs {
		if !sub.dropped.Load() {
			r.deliver(sub, event, fn)
		}
	}
}

func (r *registry) deliver(sub *Subscription, event string, fn func(v Visitor)) {
	defer func() {
		if p := recover(); p != nil {
			prometheusChainStateVisitorPanics.Inc()
			r.logger.Errorf("[Visitor] subscriber %T panicked in %s and was unsubscribed: %v", sub.visitor, event, p)
			sub.dropped.Store(true)
			sub.Unsubscribe()
		}
	}()

	fn(sub.visitor)
}

// events are the notifications of one step, delivered to the subscribers present when the
// step began. Nothing is built when nobody listens.
type events struct {
	registry *registry
	subs     []*Subscription
	active   bool
}

func (r *registry) begin() events {
	subs := r.snapshot()

	return events{registry: r, subs: subs, active: len(subs) > 0}
}

func scriptHash(output *bt.Output) chainhash.Hash {
	if output == nil || output.LockingScript == nil {
		return chainhash.HashH(nil)
	}

	return chainhash.HashH(*output.LockingScript)
}

func (e events) beginBlock(header *model.ChainedHeader, direction blockchain.Direction) {
	if e.active {
		e.registry.notify(e.subs, "BeginBlock", func(v Visitor) { v.BeginBlock(header, direction) })
	}
}

func (e events) beforeAddTransaction(position model.ChainPosition, tx *bt.Tx) {
	if e.active {
		e.registry.notify(e.subs, "BeforeAddTransaction", func(v Visitor) { v.BeforeAddTransaction(position, tx) })
	}
}

func (e events) coinbaseInput(position model.ChainPosition, input *bt.Input) {
	if e.active {
		e.registry.notify(e.subs, "CoinbaseInput", func(v Visitor) { v.CoinbaseInput(position, input) })
	}
}

func (e events) spendOutput(position model.ChainPosition, input *bt.Input, prevOutput *bt.Output) {
	if e.active {
		hash := scriptHash(prevOutput)
		e.registry.notify(e.subs, "SpendOutput", func(v Visitor) { v.SpendOutput(position, input, prevOutput, hash) })
	}
}

func (e events) mintOutput(position model.ChainPosition, output *bt.Output) {
	if e.active {
		hash := scriptHash(output)
		e.registry.notify(e.subs, "MintOutput", func(v Visitor) { v.MintOutput(position, output, hash) })
	}
}

func (e events) afterAddTransaction(position model.ChainPosition, tx *bt.Tx) {
	if e.active {
		e.registry.notify(e.subs, "AfterAddTransaction", func(v Visitor) { v.AfterAddTransaction(position, tx) })
	}
}

func (e events) beforeRemoveTransaction(position model.ChainPosition, tx *bt.Tx) {
	if e.active {
		e.registry.notify(e.subs, "BeforeRemoveTransaction", func(v Visitor) { v.BeforeRemoveTransaction(position, tx) })
	}
}

func (e events) unmintOutput(position model.ChainPosition, output *bt.Output) {
	if e.active {
		hash := scriptHash(output)
		e.registry.notify(e.subs, "UnmintOutput", func(v Visitor) { v.UnmintOutput(position, output, hash) })
	}
}

func (e events) unspendOutput(position model.ChainPosition, input *bt.Input, prevOutput *bt.Output) {
	if e.active {
		hash := scriptHash(prevOutput)
		e.registry.notify(e.subs, "UnspendOutput", func(v Visitor) { v.UnspendOutput(position, input, prevOutput, hash) })
	}
}

func (e events) afterRemoveTransaction(position model.ChainPosition, tx *bt.Tx) {
	if e.active {
		e.registry.notify(e.subs, "AfterRemoveTransaction", func(v Visitor) { v.AfterRemoveTransaction(position, tx) })
	}
}

func (e events) commitBlock(header *model.ChainedHeader, direction blockchain.Direction) {
	if e.active {
		e.registry.notify(e.subs, "CommitBlock", func(v Visitor) { v.CommitBlock(header, direction) })
	}
}

func (e events) rollbackBlock(header *model.ChainedHeader, direction blockchain.Direction, err error) {
	if e.active {
		e.registry.notify(e.subs, "RollbackBlock", func(v Visitor) { v.RollbackBlock(header, direction, err) })
	}
}
