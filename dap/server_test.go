package dap

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kunitoki/etch/bytecode"
	"github.com/kunitoki/etch/vm"
	"github.com/kunitoki/etch/vmvalue"
)

// tinyProgram is a one-instruction global frame, just enough to give a
// Server a loaded VM to inspect without exercising the run loop.
func tinyProgram() *bytecode.Program {
	return &bytecode.Program{
		Version: bytecode.FormatVersion,
		Functions: []bytecode.FunctionEntry{
			{MangledName: bytecode.GlobalFunctionName, StartPC: 0, EndPC: 1, NumRegs: 1},
		},
		Instructions: []bytecode.Instruction{
			{Op: bytecode.OpReturn, A: 0, B: 0},
		},
		DebugInfo: []bytecode.DebugLine{
			{FileID: 0, Line: 1, StmtID: 1},
		},
		SourceFiles: []string{"main.etch"},
		EntryPoint:  0,
	}
}

// requestLine renders one DAP request as a newline-delimited JSON line.
func requestLine(seq int, command string, args any) string {
	body := struct {
		Seq       int    `json:"seq"`
		Type      string `json:"type"`
		Command   string `json:"command"`
		Arguments any    `json:"arguments,omitempty"`
	}{Seq: seq, Type: "request", Command: command, Arguments: args}
	data, err := json.Marshal(body)
	if err != nil {
		panic(err)
	}
	return string(data) + "\n"
}

// runRequests feeds the given request lines through a Server wired to
// machine, and returns every response/event message it wrote, in order.
func runRequests(t *testing.T, machine *vm.VM, lines ...string) []map[string]any {
	t.Helper()
	in := strings.NewReader(strings.Join(lines, ""))
	var out bytes.Buffer

	srv := NewServer(in, &out, machine, nil)
	err := srv.Serve(t.Context())
	require.NoError(t, err)

	var msgs []map[string]any
	scanner := bufio.NewScanner(&out)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal(line, &m))
		msgs = append(msgs, m)
	}
	require.NoError(t, scanner.Err())
	return msgs
}

func findResponse(msgs []map[string]any, command string) map[string]any {
	for _, m := range msgs {
		if m["type"] == "response" && m["command"] == command {
			return m
		}
	}
	return nil
}

func TestDispatchInitializeAdvertisesCapabilities(t *testing.T) {
	machine := vm.New()
	require.NoError(t, machine.Load(tinyProgram()))

	msgs := runRequests(t, machine,
		requestLine(1, "initialize", initializeArguments{AdapterID: "etch"}),
		requestLine(2, "disconnect", nil),
	)

	resp := findResponse(msgs, "initialize")
	require.NotNil(t, resp)
	assert.Equal(t, true, resp["success"])
	body := resp["body"].(map[string]any)
	assert.Equal(t, true, body["supportsConfigurationDoneRequest"])
	assert.Equal(t, true, body["supportsConditionalBreakpoints"])
	assert.Equal(t, true, body["supportsSetVariable"])

	var sawInitialized bool
	for _, m := range msgs {
		if m["type"] == "event" && m["event"] == "initialized" {
			sawInitialized = true
		}
	}
	assert.True(t, sawInitialized, "expected an initialized event after initialize")
}

func TestDispatchLaunchMissingProgramFails(t *testing.T) {
	machine := vm.New()

	msgs := runRequests(t, machine,
		requestLine(1, "launch", launchArguments{}),
		requestLine(2, "disconnect", nil),
	)

	resp := findResponse(msgs, "launch")
	require.NotNil(t, resp)
	assert.Equal(t, false, resp["success"])
	assert.Contains(t, resp["message"], "missing program path")
}

func TestDispatchSetBreakpointsReplacesForFile(t *testing.T) {
	machine := vm.New()
	require.NoError(t, machine.Load(tinyProgram()))

	args := setBreakpointsArguments{}
	args.Source.Path = "main.etch"
	args.Breakpoints = []struct {
		Line      int    `json:"line"`
		Condition string `json:"condition"`
	}{{Line: 3, Condition: ""}, {Line: 5, Condition: "i == 2"}}

	msgs := runRequests(t, machine,
		requestLine(1, "setBreakpoints", args),
		requestLine(2, "disconnect", nil),
	)

	resp := findResponse(msgs, "setBreakpoints")
	require.NotNil(t, resp)
	assert.Equal(t, true, resp["success"])
	body := resp["body"].(map[string]any)
	bps := body["breakpoints"].([]any)
	require.Len(t, bps, 2)
	assert.Equal(t, true, bps[0].(map[string]any)["verified"])
}

func TestDispatchThreadsReportsSingleMainThread(t *testing.T) {
	machine := vm.New()
	require.NoError(t, machine.Load(tinyProgram()))

	msgs := runRequests(t, machine,
		requestLine(1, "threads", nil),
		requestLine(2, "disconnect", nil),
	)

	resp := findResponse(msgs, "threads")
	require.NotNil(t, resp)
	body := resp["body"].(map[string]any)
	threads := body["threads"].([]any)
	require.Len(t, threads, 1)
	assert.Equal(t, "main", threads[0].(map[string]any)["name"])
	assert.EqualValues(t, mainThreadID, threads[0].(map[string]any)["id"])
}

func TestDispatchStackTraceAndScopesAndVariables(t *testing.T) {
	machine := vm.New()
	require.NoError(t, machine.Load(tinyProgram()))
	machine.Globals["answer"] = vmvalue.NewInt(42)

	msgs := runRequests(t, machine,
		requestLine(1, "stackTrace", stackTraceArguments{ThreadID: mainThreadID}),
		requestLine(2, "scopes", scopesArguments{FrameID: 0}),
		requestLine(3, "disconnect", nil),
	)

	stResp := findResponse(msgs, "stackTrace")
	require.NotNil(t, stResp)
	stBody := stResp["body"].(map[string]any)
	frames := stBody["stackFrames"].([]any)
	require.Len(t, frames, 1)
	assert.Equal(t, "<global>", frames[0].(map[string]any)["name"])

	scResp := findResponse(msgs, "scopes")
	require.NotNil(t, scResp)
	scBody := scResp["body"].(map[string]any)
	scopes := scBody["scopes"].([]any)
	require.Len(t, scopes, 3)

	var globalsRef float64
	for _, s := range scopes {
		sm := s.(map[string]any)
		if sm["name"] == "Globals" {
			globalsRef = sm["variablesReference"].(float64)
		}
	}
	require.NotZero(t, globalsRef)

	varMsgs := runRequests(t, machine,
		requestLine(1, "scopes", scopesArguments{FrameID: 0}),
		requestLine(2, "variables", variablesArguments{VariablesReference: int(globalsRef)}),
		requestLine(3, "disconnect", nil),
	)
	varResp := findResponse(varMsgs, "variables")
	require.NotNil(t, varResp)
	varBody := varResp["body"].(map[string]any)
	vars := varBody["variables"].([]any)
	require.Len(t, vars, 1)
	assert.Equal(t, "answer", vars[0].(map[string]any)["name"])
}

func TestDispatchSetVariableOnGlobal(t *testing.T) {
	machine := vm.New()
	require.NoError(t, machine.Load(tinyProgram()))
	machine.Globals["answer"] = vmvalue.NewInt(1)

	msgs := runRequests(t, machine,
		requestLine(1, "scopes", scopesArguments{FrameID: 0}),
		requestLine(2, "disconnect", nil),
	)
	scResp := findResponse(msgs, "scopes")
	scopes := scResp["body"].(map[string]any)["scopes"].([]any)
	var globalsRef float64
	for _, s := range scopes {
		sm := s.(map[string]any)
		if sm["name"] == "Globals" {
			globalsRef = sm["variablesReference"].(float64)
		}
	}

	setMsgs := runRequests(t, machine,
		requestLine(1, "scopes", scopesArguments{FrameID: 0}),
		requestLine(2, "setVariable", setVariableArguments{VariablesReference: int(globalsRef), Name: "answer", Value: "42"}),
		requestLine(3, "disconnect", nil),
	)
	setResp := findResponse(setMsgs, "setVariable")
	require.NotNil(t, setResp)
	assert.Equal(t, true, setResp["success"])
	assert.Equal(t, "42", setResp["body"].(map[string]any)["value"])
	assert.Equal(t, int64(42), machine.Globals["answer"].Int)
}

func TestDispatchUnsupportedCommandFails(t *testing.T) {
	machine := vm.New()
	require.NoError(t, machine.Load(tinyProgram()))

	msgs := runRequests(t, machine,
		requestLine(1, "evaluate", nil),
		requestLine(2, "disconnect", nil),
	)

	resp := findResponse(msgs, "evaluate")
	require.NotNil(t, resp)
	assert.Equal(t, false, resp["success"])
	assert.Contains(t, resp["message"], "unsupported command")
}

func TestDispatchDisconnectEndsSession(t *testing.T) {
	machine := vm.New()
	require.NoError(t, machine.Load(tinyProgram()))

	msgs := runRequests(t, machine,
		requestLine(1, "disconnect", nil),
	)
	resp := findResponse(msgs, "disconnect")
	require.NotNil(t, resp)
	assert.Equal(t, true, resp["success"])
}
