package chainstate

import (
	"time"

	"github.com/bsv-blockchain/chainstate/services/blockchain"
)

// BuilderStats are cumulative over the lifetime of a ChainStateBuilder. Only committed
// steps are counted.
type BuilderStats struct {
	BlocksAdvanced  uint64
	BlocksRewound   uint64
	FailedSteps     uint64
	Transactions    uint64
	InputsSpent     uint64
	OutputsMinted   uint64
	InputsUnspent   uint64
	OutputsUnminted uint64

	AdvanceDuration time.Duration
	RewindDuration  time.Duration
	ScriptsDuration time.Duration
	PersistDuration time.Duration
}

// stepStats are the counters of the step in flight, merged into BuilderStats on commit.
type stepStats struct {
	transactions    uint64
	inputsSpent     uint64
	outputsMinted   uint64
	inputsUnspent   uint64
	outputsUnminted uint64
	scripts         time.Duration
	persist         time.Duration
}

func (s *BuilderStats) add(direction blockchain.Direction, step *stepStats, elapsed time.Duration) {
	switch direction {
	case blockchain.Advance:
		s.BlocksAdvanced++
		s.AdvanceDuration += elapsed
	case blockchain.Rewind:
		s.BlocksRewound++
		s.RewindDuration += elapsed
	}

	s.Transactions += step.transactions
	s.InputsSpent += step.inputsSpent
	s.OutputsMinted += step.outputsMinted
	s.InputsUnspent += step.inputsUnspent
	s.OutputsUnminted += step.outputsUnminted
	s.ScriptsDuration += step.scripts
	s.PersistDuration += step.persist
}

// Stats returns a copy of the builder's counters.
func (b *ChainStateBuilder) Stats() BuilderStats {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()

	return b.stats
}

// Progress is passed to the ProgressFunc of ApplyTowards.
type Progress struct {
	Height    uint32
	Direction blockchain.Direction
	Step      int
	Steps     int
	Stats     BuilderStats
}

type ProgressFunc func(progress Progress)
