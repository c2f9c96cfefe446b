package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/QualityUnit/pyworkflow/internal/id"
	"github.com/QualityUnit/pyworkflow/internal/kinderr"
	"github.com/QualityUnit/pyworkflow/step"
	"github.com/QualityUnit/pyworkflow/wfevent"
)

// suspendSignal unwinds the workflow body back to Drive when an
// operation has no terminal event yet. It is never surfaced to callers
// (spec §7: Suspension is "internal control-flow signal, not an error").
type suspendSignal struct{}

// cancelSignal unwinds the workflow body when cancellation reaches an
// unshielded checkpoint. Workflow code may recover it inside a Shield
// region to run compensating steps, mirroring how spec §4.6 lets
// in-flight work finish before the cancellation exception is observed.
type cancelSignal struct{ reason string }

// Func is the shape of a registered workflow body.
type Func func(ctx *Context, input json.RawMessage) (json.RawMessage, error)

// StepFunc is the shape of a registered step body, executed by the
// runtime's step-task lifecycle, never inline during replay (spec §4.2:
// steps run as separate broker tasks, not as closures captured in the
// workflow body, since they may execute on a different worker).
type StepFunc func(ctx context.Context, input json.RawMessage) (json.RawMessage, error)

// Context is threaded through a workflow body for the duration of one
// Drive call. It resolves each operation against the event log supplied
// at construction and records first-encounter operations as new events
// and intents.
type Context struct {
	goCtx context.Context
	runID id.RunID

	// Indexes built once from the run's event log.
	stepStarted    map[id.Deterministic]*wfevent.Event
	stepTerminal   map[id.Deterministic]*wfevent.Event
	sleepStarted   map[id.Deterministic]*wfevent.Event
	sleepTerminal  map[id.Deterministic]*wfevent.Event
	hookByID       map[id.Deterministic]*wfevent.Event // hook.created
	hookTerminal   map[id.Deterministic]*wfevent.Event
	childStarted   map[id.RunID]*wfevent.Event
	childTerminal  map[id.RunID]*wfevent.Event
	childByIndex   map[int]id.RunID
	cancelRequested bool
	cancelReason    string

	// Encounter counters, incremented as the body issues operations.
	stepCounter  int
	sleepCounter int
	childCounter int
	hookCounter  map[string]int

	shieldDepth     int
	cancelDelivered bool

	newEvents []*wfevent.Event
	intents   []Intent
}

// NewContext builds a replay Context from a run's ordered event log.
// events must be sorted by Sequence ascending.
func NewContext(goCtx context.Context, runID id.RunID, events []*wfevent.Event) *Context {
	c := &Context{
		goCtx:         goCtx,
		runID:         runID,
		stepStarted:   make(map[id.Deterministic]*wfevent.Event),
		stepTerminal:  make(map[id.Deterministic]*wfevent.Event),
		sleepStarted:  make(map[id.Deterministic]*wfevent.Event),
		sleepTerminal: make(map[id.Deterministic]*wfevent.Event),
		hookByID:      make(map[id.Deterministic]*wfevent.Event),
		hookTerminal:  make(map[id.Deterministic]*wfevent.Event),
		childStarted:  make(map[id.RunID]*wfevent.Event),
		childTerminal: make(map[id.RunID]*wfevent.Event),
		childByIndex:  make(map[int]id.RunID),
		hookCounter:   make(map[string]int),
	}

	for _, ev := range events {
		switch ev.Type {
		case wfevent.TypeStepStarted:
			c.stepStarted[deterministicField(ev, wfevent.FieldStepID)] = ev
		case wfevent.TypeStepCompleted, wfevent.TypeStepFailed, wfevent.TypeStepCancelled:
			c.stepTerminal[deterministicField(ev, wfevent.FieldStepID)] = ev
		case wfevent.TypeSleepStarted:
			c.sleepStarted[deterministicField(ev, wfevent.FieldSleepID)] = ev
		case wfevent.TypeSleepCompleted:
			c.sleepTerminal[deterministicField(ev, wfevent.FieldSleepID)] = ev
		case wfevent.TypeHookCreated:
			hookID := deterministicField(ev, wfevent.FieldHookID)
			c.hookByID[hookID] = ev
			if idx, ok := intField(ev, wfevent.FieldCallIndex); ok {
				name, _ := ev.Data[wfevent.FieldHookName].(string)
				if idx >= c.hookCounter[name] {
					c.hookCounter[name] = idx + 1
				}
			}
		case wfevent.TypeHookReceived, wfevent.TypeHookExpired, wfevent.TypeHookDisposed:
			c.hookTerminal[deterministicField(ev, wfevent.FieldHookID)] = ev
		case wfevent.TypeChildWorkflowStarted:
			runIDStr, _ := ev.Data[wfevent.FieldChildRunID].(string)
			childID, err := id.ParseRunID(runIDStr)
			if err == nil {
				c.childStarted[childID] = ev
				if idx, ok := intField(ev, wfevent.FieldCallIndex); ok {
					c.childByIndex[idx] = childID
				}
			}
		case wfevent.TypeChildWorkflowCompleted, wfevent.TypeChildWorkflowFailed, wfevent.TypeChildWorkflowCancelled:
			runIDStr, _ := ev.Data[wfevent.FieldChildRunID].(string)
			childID, err := id.ParseRunID(runIDStr)
			if err == nil {
				c.childTerminal[childID] = ev
			}
		case wfevent.TypeCancellationRequested:
			c.cancelRequested = true
			c.cancelReason, _ = ev.Data[wfevent.FieldReason].(string)
		}
	}

	return c
}

// Go returns the ambient context.Context, for step deadline derivation
// and cancellation-aware I/O outside the replay body itself.
func (c *Context) Go() context.Context { return c.goCtx }

// RunID returns the run this Context replays.
func (c *Context) RunID() id.RunID { return c.runID }

// NewEvents returns the events emitted so far this tick.
func (c *Context) NewEvents() []*wfevent.Event { return c.newEvents }

// Intents returns the first-encounter operation intents recorded so far
// this tick.
func (c *Context) Intents() []Intent { return c.intents }

func (c *Context) emit(ev *wfevent.Event) *wfevent.Event {
	c.newEvents = append(c.newEvents, ev)
	return ev
}

// checkpoint raises cancelSignal exactly once, the first time it is
// reached outside a shielded region after cancellation was requested
// (spec §4.6 step 3, §4.2 "Checkpoints").
func (c *Context) checkpoint() {
	if c.shieldDepth == 0 && c.cancelRequested && !c.cancelDelivered {
		c.cancelDelivered = true
		panic(cancelSignal{reason: c.cancelReason})
	}
}

// Shield defers cancellation checkpoints until fn returns, letting
// compensating steps run to completion once cancellation has already
// been requested (spec §4.3 "shield regions").
func (c *Context) Shield(fn func()) {
	c.shieldDepth++
	defer func() { c.shieldDepth-- }()
	fn()
}

// Step resolves the n-th step call in encounter order. On first
// encounter it emits step.started, records a step-task intent, and
// suspends; on a later tick, once the step task has written a terminal
// event, it returns the recorded outcome.
func (c *Context) Step(name string, input any, opts ...step.Option) (json.RawMessage, error) {
	c.checkpoint()

	idx := c.stepCounter
	c.stepCounter++
	stepID := id.DeriveStepID(c.runID, name, idx)

	if ev, ok := c.stepTerminal[stepID]; ok {
		return terminalStepResult(ev)
	}

	if _, ok := c.stepStarted[stepID]; ok {
		c.suspend()
	}

	inputBytes, err := json.Marshal(input)
	if err != nil {
		return nil, kinderr.New(kinderr.Validation, fmt.Errorf("marshal step %q input: %w", name, err))
	}

	cfg := step.DefaultConfig()
	for _, o := range opts {
		o(&cfg)
	}

	c.emit(wfevent.New(c.runID, wfevent.TypeStepStarted, wfevent.Data{
		wfevent.FieldStepID:    stepID.String(),
		wfevent.FieldStepName:  name,
		wfevent.FieldCallIndex: idx,
		wfevent.FieldInput:     json.RawMessage(inputBytes),
	}))

	c.intents = append(c.intents, Intent{
		Kind:      IntentStepTask,
		StepID:    stepID,
		StepName:  name,
		StepInput: inputBytes,
		CallIndex: idx,
		StepCfg:   cfg,
	})

	c.suspend()
	panic("unreachable")
}

// Sleep resolves the n-th sleep call in encounter order.
func (c *Context) Sleep(d time.Duration) {
	c.checkpoint()

	idx := c.sleepCounter
	c.sleepCounter++
	sleepID := id.DeriveSleepID(c.runID, idx)

	if _, ok := c.sleepTerminal[sleepID]; ok {
		return
	}

	if _, ok := c.sleepStarted[sleepID]; ok {
		c.suspend()
	}

	wakeAt := time.Now().UTC().Add(d)
	c.emit(wfevent.New(c.runID, wfevent.TypeSleepStarted, wfevent.Data{
		wfevent.FieldSleepID:   sleepID.String(),
		wfevent.FieldCallIndex: idx,
		wfevent.FieldWakeAt:    wakeAt,
	}))

	c.intents = append(c.intents, Intent{
		Kind:    IntentSleepTimer,
		SleepID: sleepID,
		WakeAt:  wakeAt,
	})

	c.suspend()
}

// WaitForHook resolves the n-th await of a hook with this name in
// encounter order, returning the delivered payload once RECEIVED.
func (c *Context) WaitForHook(name string, expiresAt *time.Time) (json.RawMessage, error) {
	c.checkpoint()

	idx := c.hookCounter[name]
	c.hookCounter[name]++
	hookID := id.DeriveHookID(c.runID, name, idx)

	if ev, ok := c.hookTerminal[hookID]; ok {
		switch ev.Type {
		case wfevent.TypeHookReceived:
			payload, _ := ev.Data[wfevent.FieldPayload].(json.RawMessage)
			return payload, nil
		case wfevent.TypeHookExpired:
			return nil, kinderr.Newf(kinderr.Fatal, "hook %q expired before delivery", name)
		case wfevent.TypeHookDisposed:
			return nil, kinderr.Newf(kinderr.Cancellation, "hook %q disposed", name)
		}
	}

	if _, ok := c.hookByID[hookID]; ok {
		c.suspend()
	}

	c.emit(wfevent.New(c.runID, wfevent.TypeHookCreated, wfevent.Data{
		wfevent.FieldHookID:    hookID.String(),
		wfevent.FieldHookName:  name,
		wfevent.FieldCallIndex: idx,
	}))

	c.intents = append(c.intents, Intent{
		Kind:      IntentHookWait,
		HookID:    hookID,
		HookName:  name,
		CallIndex: idx,
		ExpiresAt: expiresAt,
	})

	c.suspend()
	panic("unreachable")
}

// ChildOptions configures a child workflow start.
type ChildOptions struct {
	Wait   bool
	Policy ChildCancelPolicy
}

// StartChildWorkflow resolves the n-th child-workflow start in encounter
// order.
func (c *Context) StartChildWorkflow(name string, input any, opts ChildOptions) (json.RawMessage, error) {
	c.checkpoint()

	idx := c.childCounter
	c.childCounter++

	if opts.Policy == "" {
		opts.Policy = DefaultChildCancelPolicy
	}

	if childID, ok := c.childByIndex[idx]; ok {
		if ev, ok := c.childTerminal[childID]; ok {
			return terminalChildResult(ev)
		}
		if !opts.Wait {
			return nil, nil
		}
		c.suspend()
	}

	inputBytes, err := json.Marshal(input)
	if err != nil {
		return nil, kinderr.New(kinderr.Validation, fmt.Errorf("marshal child %q input: %w", name, err))
	}

	childID := id.NewRunID()
	c.emit(wfevent.New(c.runID, wfevent.TypeChildWorkflowStarted, wfevent.Data{
		wfevent.FieldChildRunID:   childID.String(),
		wfevent.FieldWorkflowName: name,
		wfevent.FieldCallIndex:    idx,
		wfevent.FieldInput:        json.RawMessage(inputBytes),
	}))

	c.intents = append(c.intents, Intent{
		Kind:        IntentChildStart,
		ChildRunID:  childID,
		ChildWFName: name,
		ChildInput:  inputBytes,
		ChildWait:   opts.Wait,
		ChildPolicy: opts.Policy,
	})

	if !opts.Wait {
		return nil, nil
	}
	c.suspend()
	panic("unreachable")
}

// continueAsNewSignal unwinds the body when ContinueAsNew is called
// (spec §4.1, §4.8): the current run finalizes and a successor starts
// fresh.
type continueAsNewSignal struct{ input json.RawMessage }

// ContinueAsNew finalizes the current run and starts a successor with
// newInput once the tick completes. Never returns.
func (c *Context) ContinueAsNew(newInput any) {
	data, err := json.Marshal(newInput)
	if err != nil {
		panic(kinderr.New(kinderr.Validation, fmt.Errorf("marshal continue_as_new input: %w", err)))
	}
	panic(continueAsNewSignal{input: data})
}

func (c *Context) suspend() { panic(suspendSignal{}) }

func deterministicField(ev *wfevent.Event, key string) id.Deterministic {
	s, _ := ev.Data[key].(string)
	return id.Deterministic(s)
}

func intField(ev *wfevent.Event, key string) (int, bool) {
	switch v := ev.Data[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

func terminalStepResult(ev *wfevent.Event) (json.RawMessage, error) {
	switch ev.Type {
	case wfevent.TypeStepCompleted:
		result, _ := ev.Data[wfevent.FieldResult].(json.RawMessage)
		return result, nil
	case wfevent.TypeStepFailed:
		msg, _ := ev.Data[wfevent.FieldError].(string)
		return nil, kinderr.New(kinderr.Fatal, fmt.Errorf("%s", msg))
	case wfevent.TypeStepCancelled:
		return nil, kinderr.New(kinderr.Cancellation, fmt.Errorf("step cancelled"))
	default:
		return nil, fmt.Errorf("replay: unexpected terminal step event type %q", ev.Type)
	}
}

func terminalChildResult(ev *wfevent.Event) (json.RawMessage, error) {
	switch ev.Type {
	case wfevent.TypeChildWorkflowCompleted:
		result, _ := ev.Data[wfevent.FieldResult].(json.RawMessage)
		return result, nil
	case wfevent.TypeChildWorkflowFailed:
		msg, _ := ev.Data[wfevent.FieldError].(string)
		return nil, kinderr.New(kinderr.Fatal, fmt.Errorf("%s", msg))
	case wfevent.TypeChildWorkflowCancelled:
		return nil, kinderr.New(kinderr.Cancellation, fmt.Errorf("child workflow cancelled"))
	default:
		return nil, fmt.Errorf("replay: unexpected terminal child event type %q", ev.Type)
	}
}
