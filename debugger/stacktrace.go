package debugger

// StackFrame is one row of the DAP "stackTrace" response.
type StackFrame struct {
	ID       int // DAP frameId: 0 = innermost
	Name     string
	File     string
	Line     int
}

// StackTrace returns the current call stack, innermost frame first.
func (d *Debugger) StackTrace() []StackFrame {
	depth := d.vm.CallDepth()
	frames := make([]StackFrame, depth)
	for dapID := 0; dapID < depth; dapID++ {
		f := d.vm.FrameAt(d.frameIndex(dapID))
		file := d.lastFile
		if dapID != 0 {
			// Caller frames report the line of their pending call, not the
			// innermost frame's current line.
			file = d.sourceFileForFunc(f.FuncIndex)
		}
		frames[dapID] = StackFrame{
			ID:   dapID,
			Name: d.FunctionDisplayName(f.FuncIndex),
			File: file,
			Line: f.Line,
		}
	}
	return frames
}

func (d *Debugger) sourceFileForFunc(funcIndex int) string {
	fn := d.vm.Program.Functions[funcIndex]
	if fn.StartPC >= len(d.vm.Program.DebugInfo) {
		return d.lastFile
	}
	dbg := d.vm.Program.DebugAt(fn.StartPC)
	return d.vm.Program.SourceFile(dbg.FileID)
}
