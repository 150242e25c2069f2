// Package pipeline drives one thought through the eleven stages of a
// processing round.
//
// The stage order is fixed. The only branch is the recursive pair
// (RECURSIVE_SELECTION, RECURSIVE_CONSCIENCE) that follows a conscience
// veto, and it runs at most once: a second veto finalizes DEFER. Exempt
// actions skip the conscience stages, and a round that cannot produce a
// trustworthy selection jumps straight to FINALIZE_ACTION with DEFER.
package pipeline

import (
	"errors"
	"fmt"
	"slices"
)

// Stage is one step of a round.
type Stage string

const (
	StageStartRound          Stage = "START_ROUND"
	StageGatherContext       Stage = "GATHER_CONTEXT"
	StagePerformDMAs         Stage = "PERFORM_DMAS"
	StagePerformSelection    Stage = "PERFORM_SELECTION"
	StageConscience          Stage = "CONSCIENCE"
	StageRecursiveSelection  Stage = "RECURSIVE_SELECTION"
	StageRecursiveConscience Stage = "RECURSIVE_CONSCIENCE"
	StageFinalizeAction      Stage = "FINALIZE_ACTION"
	StagePerformAction       Stage = "PERFORM_ACTION"
	StageActionComplete      Stage = "ACTION_COMPLETE"
	StageRoundComplete       Stage = "ROUND_COMPLETE"
)

// AllStages returns every stage in execution order.
func AllStages() []Stage {
	return []Stage{
		StageStartRound, StageGatherContext, StagePerformDMAs, StagePerformSelection,
		StageConscience, StageRecursiveSelection, StageRecursiveConscience,
		StageFinalizeAction, StagePerformAction, StageActionComplete, StageRoundComplete,
	}
}

// ErrInvalidTransition is returned when a round tries to leave the fixed
// stage order.
var ErrInvalidTransition = errors.New("invalid stage transition")

// transitions lists the legal successors of every stage. The direct edges
// to FINALIZE_ACTION are the exempt skip and the degrade-to-DEFER path.
var transitions = map[Stage][]Stage{
	StageStartRound:          {StageGatherContext},
	StageGatherContext:       {StagePerformDMAs, StageFinalizeAction},
	StagePerformDMAs:         {StagePerformSelection, StageFinalizeAction},
	StagePerformSelection:    {StageConscience, StageFinalizeAction},
	StageConscience:          {StageRecursiveSelection, StageFinalizeAction},
	StageRecursiveSelection:  {StageRecursiveConscience, StageFinalizeAction},
	StageRecursiveConscience: {StageFinalizeAction},
	StageFinalizeAction:      {StagePerformAction},
	StagePerformAction:       {StageActionComplete},
	StageActionComplete:      {StageRoundComplete},
}

// CanTransition reports whether to may follow s.
func (s Stage) CanTransition(to Stage) bool {
	return slices.Contains(transitions[s], to)
}

// Terminal reports whether s ends the round.
func (s Stage) Terminal() bool { return s == StageRoundComplete }

func (s Stage) String() string { return string(s) }

func checkTransition(from, to Stage) error {
	if from == "" {
		if to != StageStartRound {
			return fmt.Errorf("%w: round must begin at %s, not %s", ErrInvalidTransition, StageStartRound, to)
		}
		return nil
	}
	if !from.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
