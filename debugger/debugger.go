package debugger

import (
	"context"
	"fmt"

	"github.com/kunitoki/etch/vm"
)

// StoppedReason is the DAP-facing reason the debuggee most recently
// stopped, mirrored on stoppedEventBody.Reason by the dap package.
type StoppedReason string

const (
	ReasonBreakpoint StoppedReason = "breakpoint"
	ReasonStep       StoppedReason = "step"
	ReasonPause      StoppedReason = "pause"
	ReasonEntry      StoppedReason = "entry"
)

// Event is emitted by the debugger loop for the DAP server to translate
// into a protocol event (StoppedEvent, TerminatedEvent, OutputEvent, ...).
type Event struct {
	Kind     string // "stopped", "terminated", "output"
	Reason   StoppedReason
	Text     string
	ExitCode int
}

// Debugger coordinates a single vm.VM's execution with breakpoints,
// stepping, and variable inspection. It owns the VM's instruction
// callback; callers never install their own.
//
// Lock ordering: Debugger has no internal mutex of its own beyond what
// BreakpointManager and ScopeTable already guard; every exported method
// except the ones explicitly documented as safe from another goroutine
// (Continue, StepOver, StepIn, StepOutOf, RequestPause) must be called
// from the same goroutine driving Loop.
type Debugger struct {
	vm          *vm.VM
	breakpoints *BreakpointManager
	scopes      *ScopeTable

	step           stepState
	lastFile       string
	lastLine       int
	pauseRequested bool
	resuming       bool

	resumeCh chan struct{}
	events   chan Event
}

// New creates a Debugger wired to machine, installing its instruction
// callback immediately.
func New(machine *vm.VM) *Debugger {
	d := &Debugger{
		vm:          machine,
		breakpoints: NewBreakpointManager(),
		scopes:      newScopeTable(),
		resumeCh:    make(chan struct{}, 1),
		events:      make(chan Event, 16),
	}
	machine.SetCallback(d.onStep)
	return d
}

// Breakpoints returns the breakpoint manager, for the DAP server's
// setBreakpoints request handler.
func (d *Debugger) Breakpoints() *BreakpointManager { return d.breakpoints }

// Events returns the channel events are published on. The DAP server reads
// from this continuously and translates each Event into a protocol event.
func (d *Debugger) Events() <-chan Event { return d.events }

// onStep is the vm.InstructionCallback installed on the VM. It never blocks:
// pausing happens by returning vm.ActionPause, after which the VM's Run
// loop returns control to Loop.
//
// Because the VM now stops before the flagged instruction ever runs (see
// vm.VM.Step), resuming re-invokes this callback for that exact same
// instruction. The resuming flag recognizes that one re-invocation and lets
// it through unconditionally, so the instruction finally executes instead of
// re-triggering the same breakpoint/pause forever.
func (d *Debugger) onStep(event vm.StepEvent) vm.Action {
	if d.resuming {
		d.resuming = false
		d.lastFile = event.File
		d.lastLine = event.Line
		return vm.ActionContinue
	}

	d.lastFile = event.File
	d.lastLine = event.Line

	if d.pauseRequested {
		d.pauseRequested = false
		d.step.mode = StepNone
		d.scopes.Reset()
		d.publish(Event{Kind: "stopped", Reason: ReasonPause})
		d.resuming = true
		return vm.ActionPause
	}

	stop, reason := d.shouldBreak(event.FrameDepth, event.File, event.Line, event.StmtID)
	if !stop {
		return vm.ActionContinue
	}
	d.scopes.Reset()
	d.publish(Event{Kind: "stopped", Reason: StoppedReason(reasonOrStep(reason))})
	d.resuming = true
	return vm.ActionPause
}

func reasonOrStep(reason string) string {
	if reason == "breakpoint" {
		return "breakpoint"
	}
	return "step"
}

func (d *Debugger) publish(ev Event) {
	select {
	case d.events <- ev:
	default:
		// The DAP server must keep up with events; a full channel here
		// means it has fallen behind and a stop notification would be
		// lost. Drop the oldest rather than blocking the debuggee forever.
		<-d.events
		d.events <- ev
	}
}

// Loop drives the VM to completion, alternating between running and
// waiting for a resume signal each time the VM pauses. It returns when the
// VM terminates or ctx is cancelled.
func (d *Debugger) Loop(ctx context.Context) error {
	for {
		if err := d.vm.Run(ctx); err != nil {
			return err
		}
		switch d.vm.State() {
		case vm.StateTerminated:
			d.publish(Event{Kind: "terminated", ExitCode: d.vm.ExitCode()})
			return d.vm.LastError()
		case vm.StatePaused:
			select {
			case <-d.resumeCh:
			case <-ctx.Done():
				return ctx.Err()
			}
		default:
			return fmt.Errorf("debugger: unexpected vm state %s after Run", d.vm.State())
		}
	}
}

// resume signals Loop to re-enter vm.Run. Safe to call from any goroutine.
func (d *Debugger) resume() {
	select {
	case d.resumeCh <- struct{}{}:
	default:
	}
}

// RequestPause asks the debuggee to stop at the next instruction boundary.
// Safe to call from any goroutine.
func (d *Debugger) RequestPause() {
	d.pauseRequested = true
}

// VM exposes the underlying VM for stack-trace/scopes/variables reads that
// don't belong in the debugger package itself.
func (d *Debugger) VM() *vm.VM { return d.vm }
