// Package logger wraps a utxo.Builder and logs every mutation together with its callers.
package logger

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/bsv-blockchain/chainstate/model"
	utxostore "github.com/bsv-blockchain/chainstate/stores/utxo"
	"github.com/bsv-blockchain/chainstate/ulogger"
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
)

type Builder struct {
	logger  ulogger.Logger
	builder utxostore.Builder
}

func New(logger ulogger.Logger, builder utxostore.Builder) utxostore.Builder {
	return &Builder{
		logger:  logger,
		builder: builder,
	}
}

func caller() string {
	var callers []string

	depth := 3

	for i := 0; i < depth; i++ {
		pc, file, line, ok := runtime.Caller(2 + i)
		if !ok {
			break
		}

		// keep the path relative to the module
		folders := strings.Split(file, string(filepath.Separator))
		for j, folder := range folders {
			if folder == "chainstate" {
				folders = folders[j+1:]
				break
			}
		}

		file = filepath.Join(folders...)

		funcName := runtime.FuncForPC(pc).Name()
		funcPaths := strings.Split(funcName, "/")
		funcName = funcPaths[len(funcPaths)-1]

		callers = append(callers, fmt.Sprintf("called from %s: %s:%d", funcName, file, line))
	}

	return strings.Join(callers, ",")
}

func (s *Builder) Get(hash chainhash.Hash) (*model.UnspentTx, bool) {
	return s.builder.Get(hash)
}

func (s *Builder) CanSpend(key model.TxOutputKey) bool {
	return s.builder.CanSpend(key)
}

func (s *Builder) Count() int {
	return s.builder.Count()
}

func (s *Builder) ForEach(fn func(utx *model.UnspentTx) bool) {
	s.builder.ForEach(fn)
}

func (s *Builder) Spend(key model.TxOutputKey) (*model.UnspentTx, error) {
	removed, err := s.builder.Spend(key)
	s.logger.Debugf("[UTXOStore][logger][Spend] %s removed %v err %v : %s", key, removed != nil, err, caller())

	return removed, err
}

func (s *Builder) Mint(txHash chainhash.Hash, blockHeight, txIndex, outputCount uint32) (*model.UnspentTx, error) {
	overwritten, err := s.builder.Mint(txHash, blockHeight, txIndex, outputCount)
	s.logger.Debugf("[UTXOStore][logger][Mint] tx %s, blockHeight %d, txIndex %d, outputs %d, overwritten %v, err %v : %s",
		txHash, blockHeight, txIndex, outputCount, overwritten != nil, err, caller())

	return overwritten, err
}

func (s *Builder) Unspend(key model.TxOutputKey, removed *model.UnspentTx) error {
	err := s.builder.Unspend(key, removed)
	s.logger.Debugf("[UTXOStore][logger][Unspend] %s restored %v err %v : %s", key, removed != nil, err, caller())

	return err
}

func (s *Builder) Unmint(txHash chainhash.Hash, outputCount uint32, overwritten *model.UnspentTx) error {
	err := s.builder.Unmint(txHash, outputCount, overwritten)
	s.logger.Debugf("[UTXOStore][logger][Unmint] tx %s, outputs %d, overwritten %v, err %v : %s", txHash, outputCount, overwritten != nil, err, caller())

	return err
}

func (s *Builder) ToImmutable() utxostore.Snapshot {
	snapshot := s.builder.ToImmutable()
	s.logger.Debugf("[UTXOStore][logger][ToImmutable] count %d : %s", snapshot.Count(), caller())

	return snapshot
}

func (s *Builder) Changes(fn func(txHash chainhash.Hash, utx *model.UnspentTx)) {
	s.builder.Changes(fn)
}
