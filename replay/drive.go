package replay

import (
	"context"
	"encoding/json"

	"github.com/QualityUnit/pyworkflow/internal/id"
	"github.com/QualityUnit/pyworkflow/internal/kinderr"
	"github.com/QualityUnit/pyworkflow/wfevent"
)

// Drive re-runs body from the top against events, letting each
// operation resolve to its recorded outcome or raise a suspension. It
// never mutates storage itself — the caller (package runtime) is
// responsible for durably appending Outcome.NewEvents and acting on
// Outcome.Intents.
func Drive(goCtx context.Context, runID id.RunID, events []*wfevent.Event, body Func, input json.RawMessage) (outcome Outcome) {
	c := NewContext(goCtx, runID, events)

	defer func() {
		outcome.NewEvents = c.newEvents
		outcome.Intents = c.intents

		r := recover()
		if r == nil {
			return
		}

		switch sig := r.(type) {
		case suspendSignal:
			outcome.Kind = OutcomeSuspended
		case cancelSignal:
			outcome.Kind = OutcomeCancelled
			outcome.CancelReason = sig.reason
		case continueAsNewSignal:
			outcome.Kind = OutcomeContinuedAsNew
			outcome.ContinueAsNewInput = sig.input
		case error:
			outcome.Kind = OutcomeFailed
			outcome.Err = sig
		default:
			outcome.Kind = OutcomeFailed
			outcome.Err = kinderr.Newf(kinderr.Fatal, "workflow body panicked: %v", sig)
		}
	}()

	result, err := body(c, input)
	if err != nil {
		outcome.Kind = OutcomeFailed
		outcome.Err = err
		return outcome
	}

	outcome.Kind = OutcomeCompleted
	outcome.Result = result
	return outcome
}
