// Package blockgen mines regtest blocks with real P2PKH signatures for tests.
package blockgen

import (
	"encoding/binary"

	"github.com/bsv-blockchain/chainstate/chaincfg"
	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/chainstate/model"
	"github.com/bsv-blockchain/chainstate/services/blockvalidation"
	"github.com/bsv-blockchain/chainstate/services/validator"
	"github.com/bsv-blockchain/go-bt/v2"
	"github.com/bsv-blockchain/go-bt/v2/bscript"
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	bec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"golang.org/x/sync/errgroup"
)

// Coin is a spendable output.
type Coin struct {
	Tx    *bt.Tx
	Index uint32
}

func (c Coin) Output() *bt.Output {
	return c.Tx.Outputs[c.Index]
}

func (c Coin) Key() model.TxOutputKey {
	return model.NewTxOutputKey(*c.Tx.TxIDChainHash(), c.Index)
}

// Generator builds blocks on top of any header it is given. It is not safe for concurrent use.
type Generator struct {
	params        *chaincfg.Params
	key           *bec.PrivateKey
	lockingScript *bscript.Script
	timestamp     uint32
	sequence      uint32

	// txs remembers every transaction built here, to compute fees
	txs map[chainhash.Hash]*bt.Tx
}

func New(params *chaincfg.Params, key *bec.PrivateKey) (*Generator, error) {
	lockingScript, err := validator.PayToPubKeyHashScript(key.PubKey())
	if err != nil {
		return nil, err
	}

	return &Generator{
		params:        params,
		key:           key,
		lockingScript: lockingScript,
		timestamp:     params.GenesisBlock.Header.Timestamp,
		txs:           make(map[chainhash.Hash]*bt.Tx),
	}, nil
}

func (g *Generator) LockingScript() *bscript.Script {
	return g.lockingScript
}

// Coinbase returns a coinbase for height paying value to the generator key. A sequence
// number in the signature script keeps every coinbase unique.
func (g *Generator) Coinbase(height uint32, value uint64) *bt.Tx {
	g.sequence++

	data := make([]byte, 0, 10)
	data = append(data, 0x04)
	data = binary.LittleEndian.AppendUint32(data, height)
	data = append(data, 0x04)
	data = binary.LittleEndian.AppendUint32(data, g.sequence)

	input := &bt.Input{
		PreviousTxOutIndex: model.MaxOutputIndex,
		SequenceNumber:     0xffffffff,
		UnlockingScript:    bscript.NewFromBytes(data),
	}
	_ = input.PreviousTxIDAdd(&chainhash.Hash{})

	tx := bt.NewTx()
	tx.Inputs = append(tx.Inputs, input)
	tx.AddOutput(&bt.Output{Satoshis: value, LockingScript: g.lockingScript})

	g.txs[*tx.TxIDChainHash()] = tx

	return tx
}

// Spend returns a signed transaction spending coins and paying their value, less fee,
// to the generator key split over outputs outputs.
func (g *Generator) Spend(fee uint64, outputs int, coins ...Coin) (*bt.Tx, error) {
	if outputs < 1 || len(coins) == 0 {
		return nil, errors.NewInvalidArgumentError("[Spend] need at least one coin and one output")
	}

	var total uint64

	tx := bt.NewTx()

	for _, coin := range coins {
		input := &bt.Input{
			PreviousTxOutIndex: coin.Index,
			SequenceNumber:     0xffffffff,
			UnlockingScript:    &bscript.Script{},
		}

		if err := input.PreviousTxIDAdd(coin.Tx.TxIDChainHash()); err != nil {
			return nil, errors.NewProcessingError("[Spend] failed to add input", err)
		}

		tx.Inputs = append(tx.Inputs, input)
		total += coin.Output().Satoshis
	}

	if total < fee+uint64(outputs) {
		return nil, errors.NewInvalidArgumentError("[Spend] %d satoshis do not cover a fee of %d and %d outputs", total, fee, outputs)
	}

	value := (total - fee) / uint64(outputs)
	for i := 0; i < outputs; i++ {
		amount := value
		if i == 0 {
			amount += (total - fee) % uint64(outputs)
		}

		tx.AddOutput(&bt.Output{Satoshis: amount, LockingScript: g.lockingScript})
	}

	if err := g.sign(tx, coins); err != nil {
		return nil, err
	}

	g.txs[*tx.TxIDChainHash()] = tx

	return tx, nil
}

// sign computes every signature script before setting any, TxSignature reads all inputs.
func (g *Generator) sign(tx *bt.Tx, coins []Coin) error {
	scripts := make([]*bscript.Script, len(tx.Inputs))

	eg := errgroup.Group{}

	for i := range tx.Inputs {
		eg.Go(func() error {
			s, err := validator.SignatureScriptP2PKH(tx, i, coins[i].Output().LockingScript, g.key)
			if err != nil {
				return err
			}

			scripts[i] = s

			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return errors.NewProcessingError("[sign] failed to sign tx", err)
	}

	for i, s := range scripts {
		tx.Inputs[i].UnlockingScript = s
	}

	return nil
}

// Fee is the fee paid by tx, as far as its parents were built by this generator.
func (g *Generator) Fee(tx *bt.Tx) uint64 {
	var in, out uint64

	for _, input := range tx.Inputs {
		parent, ok := g.txs[*input.PreviousTxIDChainHash()]
		if !ok || int(input.PreviousTxOutIndex) >= len(parent.Outputs) {
			return 0
		}

		in += parent.Outputs[input.PreviousTxOutIndex].Satoshis
	}

	for _, output := range tx.Outputs {
		out += output.Satoshis
	}

	if in < out {
		return 0
	}

	return in - out
}

// NewBlock mines a block on prev with a coinbase claiming the subsidy and the fees of txs.
func (g *Generator) NewBlock(prev *model.ChainedHeader, txs ...*bt.Tx) (*model.Block, *model.ChainedHeader, error) {
	var fees uint64
	for _, tx := range txs {
		fees += g.Fee(tx)
	}

	height := prev.Height + 1
	coinbase := g.Coinbase(height, blockvalidation.BlockSubsidy(height, g.params)+fees)

	return g.NewBlockWithCoinbase(prev, coinbase, txs...)
}

// NewBlockWithCoinbase mines a block on prev with the given transactions, coinbase first.
func (g *Generator) NewBlockWithCoinbase(prev *model.ChainedHeader, coinbase *bt.Tx, txs ...*bt.Tx) (*model.Block, *model.ChainedHeader, error) {
	g.timestamp++

	header := &model.BlockHeader{
		Version:       1,
		HashPrevBlock: prev.Hash,
		Timestamp:     g.timestamp,
		Bits:          model.NewNBitFromUint32(g.params.PowLimitBits),
	}

	block := model.NewBlock(header, append([]*bt.Tx{coinbase}, txs...))

	root := block.CalculateMerkleRoot()
	header.HashMerkleRoot = &root

	if err := Mine(header); err != nil {
		return nil, nil, err
	}

	chained, err := model.NewChainedHeader(prev, header)
	if err != nil {
		return nil, nil, err
	}

	return model.NewBlock(header, block.Transactions), chained, nil
}

// Mine searches for a nonce meeting the header's target.
func Mine(header *model.BlockHeader) error {
	for nonce := uint32(0); ; nonce++ {
		header.Nonce = nonce

		if ok, _ := header.HasMetTargetDifficulty(); ok {
			return nil
		}

		if nonce == ^uint32(0) {
			return errors.NewProcessingError("[Mine] no nonce meets target %s", header.Bits)
		}
	}
}

// Extend mines count coinbase-only blocks on prev.
func (g *Generator) Extend(prev *model.ChainedHeader, count int) ([]*model.Block, []*model.ChainedHeader, error) {
	blocks := make([]*model.Block, 0, count)
	headers := make([]*model.ChainedHeader, 0, count)

	for i := 0; i < count; i++ {
		block, header, err := g.NewBlock(prev)
		if err != nil {
			return nil, nil, err
		}

		blocks = append(blocks, block)
		headers = append(headers, header)
		prev = header
	}

	return blocks, headers, nil
}
