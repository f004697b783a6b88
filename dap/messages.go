// Package dap implements the Debug Adapter Protocol surface over a
// newline-delimited JSON transport (console or TCP), translating protocol
// requests into calls against a debugger.Debugger.
package dap

import (
	"encoding/json"

	godap "github.com/google/go-dap"
)

// envelope mirrors godap.ProtocolMessage just enough to sniff "type" and
// "command" before fully decoding into a typed request.
type envelope struct {
	Seq     int    `json:"seq"`
	Type    string `json:"type"`
	Command string `json:"command"`
}

// requestEnvelope carries the raw arguments payload alongside the base
// godap.Request fields, since go-dap's per-command Request types are not
// load-bearing here: arguments are decoded into our own argument structs
// below, keeping the wire format DAP-compliant without depending on every
// exact upstream struct shape.
type requestEnvelope struct {
	godap.Request
	Arguments json.RawMessage `json:"arguments"`
}

// Argument shapes, one per request this server handles.

type initializeArguments struct {
	ClientID       string `json:"clientID"`
	AdapterID      string `json:"adapterID"`
	LinesStartAt1  bool   `json:"linesStartAt1"`
	ColumnsStartAt1 bool  `json:"columnsStartAt1"`
}

type launchArguments struct {
	Program string `json:"program"`
	StopOnEntry bool `json:"stopOnEntry"`
}

type setBreakpointsArguments struct {
	Source struct {
		Path string `json:"path"`
		Name string `json:"name"`
	} `json:"source"`
	Breakpoints []struct {
		Line      int    `json:"line"`
		Condition string `json:"condition"`
	} `json:"breakpoints"`
}

type continueArguments struct {
	ThreadID int `json:"threadId"`
}

type stepArguments struct {
	ThreadID int `json:"threadId"`
}

type scopesArguments struct {
	FrameID int `json:"frameId"`
}

type variablesArguments struct {
	VariablesReference int `json:"variablesReference"`
}

type setVariableArguments struct {
	VariablesReference int    `json:"variablesReference"`
	Name                string `json:"name"`
	Value               string `json:"value"`
}

type stackTraceArguments struct {
	ThreadID int `json:"threadId"`
}

// Response/event body shapes, one per message this server emits.

type capabilities struct {
	SupportsConfigurationDoneRequest bool `json:"supportsConfigurationDoneRequest"`
	SupportsConditionalBreakpoints   bool `json:"supportsConditionalBreakpoints"`
	SupportsSetVariable              bool `json:"supportsSetVariable"`
}

type stoppedEventBody struct {
	Reason   string `json:"reason"`
	ThreadID int    `json:"threadId"`
}

type terminatedEventBody struct{}

type outputEventBody struct {
	Category string `json:"category"`
	Output   string `json:"output"`
}

type thread struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type threadsResponseBody struct {
	Threads []thread `json:"threads"`
}

type source struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

type stackFrame struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Source source `json:"source"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
}

type stackTraceResponseBody struct {
	StackFrames []stackFrame `json:"stackFrames"`
	TotalFrames int          `json:"totalFrames"`
}

type scope struct {
	Name               string `json:"name"`
	VariablesReference int    `json:"variablesReference"`
	Expensive          bool   `json:"expensive"`
}

type scopesResponseBody struct {
	Scopes []scope `json:"scopes"`
}

type variable struct {
	Name               string `json:"name"`
	Value              string `json:"value"`
	Type               string `json:"type,omitempty"`
	VariablesReference int    `json:"variablesReference"`
}

type variablesResponseBody struct {
	Variables []variable `json:"variables"`
}

type setVariableResponseBody struct {
	Value string `json:"value"`
	Type  string `json:"type,omitempty"`
}

type breakpoint struct {
	ID       int    `json:"id"`
	Verified bool   `json:"verified"`
	Line     int    `json:"line"`
}

type setBreakpointsResponseBody struct {
	Breakpoints []breakpoint `json:"breakpoints"`
}
