package debugger

import "strings"

// mangleSeparator joins a function's source name from its parameter-type
// signature in the bytecode's MangledName field, e.g. "add$i64$i64$i64"
// for an overload of add taking two i64s and returning an i64.
const mangleSeparator = "$"

// demangle strips a mangled function name down to its source-level display
// name: everything from the first mangleSeparator onward is dropped,
// leaving just the identifier the user wrote. The synthetic global
// initializer is always displayed as "<global>" regardless of how it was
// mangled.
func demangle(mangled string) string {
	if mangled == "" {
		return "<unknown>"
	}
	if idx := strings.Index(mangled, mangleSeparator); idx >= 0 {
		return mangled[:idx]
	}
	return mangled
}

// DemangleFunctionName applies the same display-name rule
// FunctionDisplayName uses, for callers (e.g. replay) that only have a
// mangled name string rather than a live Debugger.
func DemangleFunctionName(mangled string) string {
	if mangled == "<global>" {
		return "<global>"
	}
	return demangle(mangled)
}

// FunctionDisplayName returns the demangled, user-facing name for a
// function index, used by the debugger's stack-trace surface.
func (d *Debugger) FunctionDisplayName(funcIndex int) string {
	if funcIndex < 0 || funcIndex >= len(d.vm.Program.Functions) {
		return "<unknown>"
	}
	return DemangleFunctionName(d.vm.Program.Functions[funcIndex].MangledName)
}
