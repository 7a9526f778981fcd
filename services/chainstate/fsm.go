package chainstate

import (
	"context"

	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/looplab/fsm"
)

const (
	StateConsistent = "CONSISTENT"
	StateApplying   = "APPLYING"

	eventBeginStep = "BEGIN_STEP"
	eventEndStep   = "END_STEP"
)

// newStepStateMachine tracks whether a step is partially applied.
// The machine has the following states:
// - CONSISTENT: between steps, the builders match the persisted state
// - APPLYING: a step is being applied or rolled back
// The machine has the following events:
// - BEGIN_STEP
// - END_STEP
func newStepStateMachine() *fsm.FSM {
	return fsm.NewFSM(
		StateConsistent,
		fsm.Events{
			{
				Name: eventBeginStep,
				Src:  []string{StateConsistent},
				Dst:  StateApplying,
			},
			{
				Name: eventEndStep,
				Src:  []string{StateApplying},
				Dst:  StateConsistent,
			},
		},
		fsm.Callbacks{},
	)
}

func (b *ChainStateBuilder) beginStep(ctx context.Context) error {
	if err := b.fsm.Event(ctx, eventBeginStep); err != nil {
		return errors.NewProcessingError("[ChainStateBuilder] can not begin step in state %s", b.fsm.Current(), err)
	}

	return nil
}

// endStep returns to CONSISTENT. It does not take the caller's context, a canceled
// context must not leave the machine in APPLYING.
func (b *ChainStateBuilder) endStep() {
	if err := b.fsm.Event(context.Background(), eventEndStep); err != nil {
		panic(errors.NewProcessingError("[ChainStateBuilder] can not end step in state %s", b.fsm.Current(), err))
	}
}

// IsConsistent is false only while a step is partially applied.
func (b *ChainStateBuilder) IsConsistent() bool {
	return b.fsm.Current() == StateConsistent
}
