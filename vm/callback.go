package vm

// StepEvent describes the state of the VM immediately before one
// instruction executes. It is the sole coupling point between the VM and
// the debugger: the debugger never reaches into VM internals directly, it
// only observes StepEvents and issues Actions.
type StepEvent struct {
	PC         int
	FuncIndex  int
	File       string
	Line       int
	StmtID     int32
	FrameDepth int
}

// Action is returned by an InstructionCallback to tell the VM how to
// proceed after the current StepEvent.
type Action uint8

const (
	// ActionContinue executes the instruction and keeps running.
	ActionContinue Action = iota
	// ActionPause stops the VM before the flagged instruction runs, returning
	// control to the caller of Run/Step without fetching or executing it.
	// Used by the debugger to implement Pause and breakpoint hits.
	ActionPause
)

// InstructionCallback is invoked once before every instruction. A VM
// running without a debugger attached uses a no-op callback that always
// returns ActionContinue, so the dispatch loop has exactly one code path
// regardless of whether a debugger is present (matching the always-present
// instruction hook contract this VM exposes).
type InstructionCallback func(event StepEvent) Action

// continueAlways is the default callback installed by New.
func continueAlways(StepEvent) Action { return ActionContinue }

// SetCallback installs cb as the VM's instruction callback. Passing nil
// restores the no-op default.
func (vm *VM) SetCallback(cb InstructionCallback) {
	if cb == nil {
		cb = continueAlways
	}
	vm.callback = cb
}
