package debugger

// StepMode is the debugger's current stepping intent, consulted by
// shouldBreak on every VM instruction callback.
type StepMode int

const (
	StepNone StepMode = iota
	StepSingle
	StepOver
	StepOut
)

// stepState tracks the call-stack depth and statement id a step-over or
// step-out is waiting to return to. Etch steps by statement, not by
// instruction: a single source statement can span many bytecode
// instructions (e.g. a short-circuiting boolean expression), so stepping
// must also recognize "still on the same statement" and keep running.
type stepState struct {
	mode           StepMode
	startDepth     int
	startStmtID    int32
	startFile      string
	startLine      int
	justStepped    bool
	stopFile       string
	stopLine       int
}

// shouldBreak is called from the VM's instruction callback (see Debugger.
// onStep) with the event's frame depth, file, line, and statement id. It
// returns true (and a human-readable reason) when execution should pause
// before this instruction.
func (d *Debugger) shouldBreak(depth int, file string, line int, stmtID int32) (bool, string) {
	switch d.step.mode {
	case StepSingle:
		if stmtID == d.step.startStmtID && depth == d.step.startDepth && line == d.step.startLine {
			return false, ""
		}
		d.step.mode = StepNone
		d.step.justStepped = true
		d.step.stopFile, d.step.stopLine = file, line
		return true, "step"

	case StepOver:
		if depth > d.step.startDepth {
			// Still inside a call made from the stepped-over statement.
			return false, ""
		}
		if depth == d.step.startDepth && stmtID == d.step.startStmtID {
			return false, ""
		}
		d.step.mode = StepNone
		d.step.justStepped = true
		d.step.stopFile, d.step.stopLine = file, line
		return true, "step"

	case StepOut:
		if depth >= d.step.startDepth {
			return false, ""
		}
		d.step.mode = StepNone
		d.step.justStepped = true
		d.step.stopFile, d.step.stopLine = file, line
		return true, "step"
	}

	// Not stepping: only breakpoints (and conditions) can stop us. The
	// justStepped flag suppresses breakpoints on the line a step just stopped
	// on until execution leaves that line, so a single step onto a
	// breakpoint line isn't reported twice.
	if d.step.justStepped {
		if line == d.step.stopLine && file == d.step.stopFile {
			return false, ""
		}
		d.step.justStepped = false
	}

	bp := d.breakpoints.At(file, line)
	if bp == nil || !bp.Enabled {
		return false, ""
	}
	if bp.Condition != "" {
		ok, err := d.evalCondition(bp.Condition, depth)
		if err != nil || !ok {
			return false, ""
		}
	}
	d.breakpoints.ProcessHit(file, line)
	return true, "breakpoint"
}

// StepOver arms a step that stops at the next statement at the same or
// shallower call depth.
func (d *Debugger) StepOver() {
	d.arm(StepOver)
}

// StepIn arms a step that stops at the very next statement, regardless of
// call depth (entering any call made from the current statement).
func (d *Debugger) StepIn() {
	d.arm(StepSingle)
}

// StepOutOf arms a step that stops once the current frame returns to a
// shallower depth than it started at. If the current frame is the
// outermost frame, the run simply continues to completion ("terminated"
// rather than stopping on a phantom caller).
func (d *Debugger) StepOutOf() {
	d.arm(StepOut)
}

// Continue clears any pending step and lets the program run freely until a
// breakpoint, pause request, or termination.
func (d *Debugger) Continue() {
	d.step.mode = StepNone
	d.resume()
}

func (d *Debugger) arm(mode StepMode) {
	frame := d.vm.CurrentFrame()
	d.step = stepState{
		mode:        mode,
		startDepth:  d.vm.CallDepth(),
		startStmtID: frame.StmtID,
		startFile:   d.lastFile,
		startLine:   frame.Line,
	}
	d.resume()
}
