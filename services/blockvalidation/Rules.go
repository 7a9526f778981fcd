// Package blockvalidation holds the consensus rules a block must satisfy before the
// chain-state orchestrator accepts it: proof of work, merkle root, coinbase placement,
// value conservation, script validity and the coinbase reward.
package blockvalidation

import (
	"context"
	"math/big"
	"time"

	"github.com/bsv-blockchain/chainstate/chaincfg"
	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/chainstate/model"
	"github.com/bsv-blockchain/chainstate/services/validator"
	"github.com/bsv-blockchain/chainstate/ulogger"
	"github.com/bsv-blockchain/go-bt/v2"
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/dolthub/swiss"
)

// maxFutureBlockTime is how far ahead of the local clock a block timestamp may be.
const maxFutureBlockTime = 2 * time.Hour

// Rules is the consensus rules provider the orchestrator validates blocks with.
type Rules interface {
	GenesisHeader() *model.BlockHeader
	HighestTarget() *big.Int

	// ValidateBlock runs the checks that only need the block itself. The returned session
	// validates the transactions as the orchestrator spends their inputs.
	ValidateBlock(ctx context.Context, block *model.Block, header *model.ChainedHeader) (Session, error)
}

// Session validates the transactions of one block. It is used by a single goroutine.
type Session interface {
	// ValidateTransaction checks value conservation of the transaction at txIndex and queues
	// its scripts. prevOutputs holds the output spent by each input, in input order.
	ValidateTransaction(txIndex int, tx *bt.Tx, prevOutputs []*bt.Output) error

	// Wait joins the queued script checks and validates the coinbase value. It must be
	// called once, also when the block is abandoned, so no verification work is left behind.
	Wait() error
}

// ConsensusRules implements Rules for a network.
type ConsensusRules struct {
	logger ulogger.Logger
	params *chaincfg.Params
	pool   *validator.ScriptVerifierPool
	now    func() time.Time
}

func NewConsensusRules(logger ulogger.Logger, params *chaincfg.Params, pool *validator.ScriptVerifierPool) *ConsensusRules {
	initPrometheusMetrics()

	return &ConsensusRules{
		logger: logger,
		params: params,
		pool:   pool,
		now:    time.Now,
	}
}

func (r *ConsensusRules) Params() *chaincfg.Params {
	return r.params
}

func (r *ConsensusRules) GenesisHeader() *model.BlockHeader {
	return r.params.GenesisBlock.Header
}

func (r *ConsensusRules) HighestTarget() *big.Int {
	return r.params.PowLimit
}

func (r *ConsensusRules) ValidateBlock(ctx context.Context, block *model.Block, header *model.ChainedHeader) (Session, error) {
	start := time.Now()
	defer func() {
		prometheusBlockValidationValidateBlock.Observe(time.Since(start).Seconds())
	}()

	if err := r.validateBlock(ctx, block, header); err != nil {
		prometheusBlockValidationInvalidBlocks.Inc()
		return nil, err
	}

	return &blockSession{
		rules:  r,
		block:  block,
		header: header,
		batch:  r.pool.NewBatch(),
	}, nil
}

func (r *ConsensusRules) validateBlock(ctx context.Context, block *model.Block, header *model.ChainedHeader) error {
	if err := ctx.Err(); err != nil {
		return errors.NewContextCanceledError("[ValidateBlock] validation of block %s canceled", header, err)
	}

	// 1. The body must belong to the header being applied.
	if !block.Hash().IsEqual(header.Hash) {
		return errors.NewBlockInvalidError("[ValidateBlock] block %s does not match header %s", block.Hash(), header)
	}

	// 2. The target must be positive and not easier than the network allows.
	target := block.Header.Bits.CalculateTarget()
	if target.Sign() <= 0 || target.Cmp(r.HighestTarget()) > 0 {
		return errors.NewBlockInvalidError("[ValidateBlock] block %s target %064x is outside the allowed range", header, target)
	}

	// 3. The header hash must meet its target.
	if ok, err := block.Header.HasMetTargetDifficulty(); !ok {
		return errors.NewBlockInvalidError("[ValidateBlock] block %s does not meet its target", header, err)
	}

	// 4. The timestamp must not be more than two hours in the future.
	if int64(block.Header.Timestamp) > r.now().Add(maxFutureBlockTime).Unix() {
		return errors.NewBlockInvalidError("[ValidateBlock] block %s timestamp %d is too far in the future", header, block.Header.Timestamp)
	}

	// 5. The first transaction, and only the first, is a coinbase.
	if len(block.Transactions) == 0 || !block.Transactions[0].IsCoinbase() {
		return errors.NewBlockInvalidError("[ValidateBlock] block %s does not start with a coinbase tx", header)
	}

	for i, tx := range block.Transactions[1:] {
		if tx.IsCoinbase() {
			return errors.NewBlockInvalidError("[ValidateBlock] block %s has a second coinbase tx at index %d", header, i+1)
		}
	}

	// 6. The merkle root must commit to the transactions.
	if err := block.CheckMerkleRoot(); err != nil {
		return err
	}

	// 7. No transaction may appear twice.
	return checkDuplicateTransactions(block)
}

func checkDuplicateTransactions(block *model.Block) error {
	hashes := block.TxHashes()
	seen := swiss.NewMap[chainhash.Hash, int](uint32(len(hashes))) //nolint:gosec // bounded by block size

	for i, hash := range hashes {
		if first, ok := seen.Get(hash); ok {
			return errors.NewBlockInvalidError("[ValidateBlock] block %s contains tx %s at index %d and %d", block.Hash(), hash, first, i)
		}

		seen.Put(hash, i)
	}

	return nil
}

type blockSession struct {
	rules           *ConsensusRules
	block           *model.Block
	header          *model.ChainedHeader
	batch           *validator.Batch
	fees            uint64
	coinbaseOutputs uint64
	waited          bool
}

func (s *blockSession) ValidateTransaction(txIndex int, tx *bt.Tx, prevOutputs []*bt.Output) error {
	txHash := tx.TxIDChainHash()

	outputTotal, err := sumOutputs(tx.Outputs)
	if err != nil {
		return errors.NewTxInvalidError("[ValidateTransaction] tx %s in block %s", txHash, s.header, err)
	}

	if txIndex == 0 {
		s.coinbaseOutputs = outputTotal
		return nil
	}

	if len(tx.Inputs) == 0 || len(tx.Outputs) == 0 {
		return errors.NewTxInvalidError("[ValidateTransaction] tx %s in block %s has %d inputs and %d outputs", txHash, s.header, len(tx.Inputs), len(tx.Outputs))
	}

	if len(prevOutputs) != len(tx.Inputs) {
		return errors.NewInvalidArgumentError("[ValidateTransaction] tx %s has %d inputs but %d previous outputs were supplied", txHash, len(tx.Inputs), len(prevOutputs))
	}

	inputTotal, err := sumOutputs(prevOutputs)
	if err != nil {
		return errors.NewTxInvalidError("[ValidateTransaction] tx %s in block %s spends", txHash, s.header, err)
	}

	if inputTotal < outputTotal {
		return errors.NewTxInvalidError("[ValidateTransaction] tx %s in block %s creates %d satoshis from %d", txHash, s.header, outputTotal, inputTotal)
	}

	s.fees += inputTotal - outputTotal

	for i, input := range tx.Inputs {
		s.batch.Submit(validator.WorkItem{
			Position: model.ChainPosition{
				BlockHash:   *s.header.Hash,
				Height:      s.header.Height,
				TxHash:      *txHash,
				TxIndex:     uint32(txIndex), //nolint:gosec // bounded by block size
				InputIndex:  uint32(i),       //nolint:gosec // bounded by tx size
				OutputIndex: input.PreviousTxOutIndex,
			},
			Header:     s.header,
			Tx:         tx,
			InputIndex: i,
			PrevOutput: prevOutputs[i],
		})
	}

	return nil
}

func (s *blockSession) Wait() error {
	if s.waited {
		return errors.NewProcessingError("[Wait] session for block %s already joined", s.header)
	}

	s.waited = true

	if err := s.batch.Wait(); err != nil {
		prometheusBlockValidationInvalidBlocks.Inc()
		return err
	}

	// The coinbase may claim the subsidy plus the fees of the block, less is allowed.
	allowed := BlockSubsidy(s.header.Height, s.rules.params) + s.fees
	if s.coinbaseOutputs > allowed {
		prometheusBlockValidationInvalidBlocks.Inc()
		return errors.NewBlockInvalidError("[Wait] coinbase of block %s pays %d satoshis, at most %d allowed", s.header, s.coinbaseOutputs, allowed)
	}

	return nil
}

func sumOutputs(outputs []*bt.Output) (uint64, error) {
	var total uint64

	for i, output := range outputs {
		if output == nil {
			return 0, errors.NewTxInvalidError("output %d is missing", i)
		}

		if output.Satoshis > MaxSatoshis {
			return 0, errors.NewTxInvalidError("output %d value %d exceeds the money supply", i, output.Satoshis)
		}

		total += output.Satoshis
		if total > MaxSatoshis {
			return 0, errors.NewTxInvalidError("total value %d exceeds the money supply", total)
		}
	}

	return total, nil
}
