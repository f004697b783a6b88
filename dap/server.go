package dap

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sync"

	godap "github.com/google/go-dap"

	"github.com/kunitoki/etch/bytecode"
	"github.com/kunitoki/etch/debugger"
	"github.com/kunitoki/etch/vm"
)

// mainThreadID is the only thread this single-goroutine VM ever reports;
// Etch has no concurrent execution to multiplex across DAP threads.
const mainThreadID = 1

// runGuard starts a Debugger's run loop exactly once no matter how many
// Server instances dispatch against it. The TCP transport shares one guard
// across every accepted connection on a Debugger, so a client reattaching
// after disconnect never spawns a second concurrent vm.Run.
type runGuard struct {
	once sync.Once
}

func (g *runGuard) start(ctx context.Context, dbg *debugger.Debugger) {
	g.once.Do(func() {
		go dbg.Loop(ctx)
	})
}

// Server dispatches DAP requests against one debugger.Debugger instance and
// forwards its events back to the client. Create one per client session
// (console invocation, or one per accepted TCP connection); several Servers
// may share the same Debugger and runGuard when a long-lived session
// outlives any single connection.
type Server struct {
	transport *lineTransport
	dbg       *debugger.Debugger
	machine   *vm.VM
	seq       int
	logger    *log.Logger
	guard     *runGuard
	loopCtx   context.Context

	programPath string
}

// NewServer creates a Server reading requests from r and writing
// responses/events to w, owning a fresh Debugger over machine. Use this for
// a single-session console transport. machine must already have a program
// loaded, or launch will load one from the request's "program" argument.
func NewServer(r io.Reader, w io.Writer, machine *vm.VM, logger *log.Logger) *Server {
	return NewServerWithDebugger(r, w, debugger.New(machine), machine, logger, nil, nil)
}

// NewServerWithDebugger wires a Server to an already-constructed Debugger.
// The TCP transport uses this to hand a newly accepted connection the same
// long-lived Debugger/VM pair a previous connection was using, so
// breakpoints and run state survive a client disconnecting and a new one
// attaching. loopCtx and guard may be nil, in which case Serve falls back
// to owning its own single-connection run loop, matching NewServer.
func NewServerWithDebugger(r io.Reader, w io.Writer, dbg *debugger.Debugger, machine *vm.VM, logger *log.Logger, loopCtx context.Context, guard *runGuard) *Server {
	if guard == nil {
		guard = &runGuard{}
	}
	return &Server{
		transport: newLineTransport(r, w),
		dbg:       dbg,
		machine:   machine,
		logger:    logger,
		guard:     guard,
		loopCtx:   loopCtx,
	}
}

// Serve processes requests until the transport is closed, ctx is
// cancelled, or a disconnect request is handled. It starts the shared
// Debugger's run loop (at most once, even across reconnects) and forwards
// its events to this connection's transport for the connection's duration.
func (s *Server) Serve(ctx context.Context) error {
	connCtx, cancelConn := context.WithCancel(ctx)
	defer cancelConn()

	runCtx := s.loopCtx
	if runCtx == nil {
		runCtx = connCtx
	}

	eventsDone := make(chan struct{})
	eventsStarted := false
	startEvents := func() {
		s.guard.start(runCtx, s.dbg)
		if eventsStarted {
			return
		}
		eventsStarted = true
		go func() {
			defer close(eventsDone)
			s.forwardEvents(connCtx)
		}()
	}
	waitEvents := func() {
		if eventsStarted {
			<-eventsDone
		}
	}

	for {
		raw, err := s.transport.ReadMessage()
		if err != nil {
			cancelConn()
			waitEvents()
			if err == io.EOF {
				return nil
			}
			return err
		}

		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			s.logf("malformed message: %v", err)
			continue
		}
		if env.Type != "request" {
			continue
		}

		var req requestEnvelope
		if err := json.Unmarshal(raw, &req); err != nil {
			s.logf("malformed request: %v", err)
			continue
		}

		done, err := s.dispatch(req, startEvents)
		if err != nil {
			s.logf("dispatch %s: %v", req.Command, err)
		}
		if done {
			cancelConn()
			waitEvents()
			return nil
		}
	}
}

func (s *Server) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

// forwardEvents relays debugger.Event values as DAP events to this
// connection's transport until ctx is cancelled or the debuggee
// terminates. It does not drive the debugger's run loop itself: that is
// started at most once, by runGuard, and may outlive this one connection.
func (s *Server) forwardEvents(ctx context.Context) {
	for {
		select {
		case ev := <-s.dbg.Events():
			s.emit(ev)
			if ev.Kind == "terminated" {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) emit(ev debugger.Event) {
	switch ev.Kind {
	case "stopped":
		s.sendEvent("stopped", stoppedEventBody{Reason: string(ev.Reason), ThreadID: mainThreadID})
	case "terminated":
		s.sendEvent("terminated", terminatedEventBody{})
	case "output":
		s.sendEvent("output", outputEventBody{Category: "stdout", Output: ev.Text})
	}
}

func (s *Server) nextSeq() int {
	s.seq++
	return s.seq
}

func (s *Server) sendEvent(event string, body any) {
	msg := struct {
		godap.Event
		Body any `json:"body"`
	}{
		Event: godap.Event{
			ProtocolMessage: godap.ProtocolMessage{Seq: s.nextSeq(), Type: "event"},
			Event:           event,
		},
		Body: body,
	}
	if err := s.transport.WriteMessage(msg); err != nil {
		s.logf("send event %s: %v", event, err)
	}
}

func (s *Server) sendResponse(req requestEnvelope, success bool, message string, body any) {
	msg := struct {
		godap.Response
		Body any `json:"body"`
	}{
		Response: godap.Response{
			ProtocolMessage: godap.ProtocolMessage{Seq: s.nextSeq(), Type: "response"},
			RequestSeq:      req.Seq,
			Success:         success,
			Command:         req.Command,
			Message:         message,
		},
		Body: body,
	}
	if err := s.transport.WriteMessage(msg); err != nil {
		s.logf("send response %s: %v", req.Command, err)
	}
}

// dispatch handles one request, returning done=true once the session
// should end (a "disconnect" request). startEvents is called on
// "configurationDone", starting the debugger's run loop only once the
// client has finished its setup requests.
func (s *Server) dispatch(req requestEnvelope, startEvents func()) (bool, error) {
	switch req.Command {
	case "initialize":
		s.sendResponse(req, true, "", capabilities{
			SupportsConfigurationDoneRequest: true,
			SupportsConditionalBreakpoints:   true,
			SupportsSetVariable:              true,
		})
		s.sendEvent("initialized", nil)
		return false, nil

	case "launch":
		var args launchArguments
		if err := json.Unmarshal(req.Arguments, &args); err != nil {
			s.sendResponse(req, false, err.Error(), nil)
			return false, err
		}
		if err := s.launch(args); err != nil {
			s.sendResponse(req, false, err.Error(), nil)
			return false, err
		}
		s.sendResponse(req, true, "", nil)
		if args.StopOnEntry {
			s.dbg.RequestPause()
		}
		return false, nil

	case "attach":
		// Remote transport only: the program is already loaded by ListenTCP
		// before any client ever connects, so attach never reloads bytecode,
		// unlike launch.
		if s.machine.Program == nil {
			err := fmt.Errorf("attach: no program loaded")
			s.sendResponse(req, false, err.Error(), nil)
			return false, err
		}
		s.sendResponse(req, true, "", nil)
		return false, nil

	case "configurationDone":
		s.sendResponse(req, true, "", nil)
		startEvents()
		return false, nil

	case "setBreakpoints":
		var args setBreakpointsArguments
		if err := json.Unmarshal(req.Arguments, &args); err != nil {
			s.sendResponse(req, false, err.Error(), nil)
			return false, err
		}
		lines := make([]int, len(args.Breakpoints))
		conditions := make([]string, len(args.Breakpoints))
		for i, b := range args.Breakpoints {
			lines[i] = b.Line
			conditions[i] = b.Condition
		}
		installed := s.dbg.Breakpoints().ReplaceForFile(args.Source.Path, lines, conditions)
		out := make([]breakpoint, len(installed))
		for i, bp := range installed {
			out[i] = breakpoint{ID: bp.ID, Verified: true, Line: bp.Line}
		}
		s.sendResponse(req, true, "", setBreakpointsResponseBody{Breakpoints: out})
		return false, nil

	case "threads":
		s.sendResponse(req, true, "", threadsResponseBody{Threads: []thread{{ID: mainThreadID, Name: "main"}}})
		return false, nil

	case "stackTrace":
		frames := s.dbg.StackTrace()
		out := make([]stackFrame, len(frames))
		for i, f := range frames {
			out[i] = stackFrame{ID: f.ID, Name: f.Name, Source: source{Path: f.File, Name: f.File}, Line: f.Line}
		}
		s.sendResponse(req, true, "", stackTraceResponseBody{StackFrames: out, TotalFrames: len(out)})
		return false, nil

	case "scopes":
		var args scopesArguments
		if err := json.Unmarshal(req.Arguments, &args); err != nil {
			s.sendResponse(req, false, err.Error(), nil)
			return false, err
		}
		refs := s.dbg.Scopes(args.FrameID)
		out := []scope{
			{Name: "Locals", VariablesReference: refs[debugger.ScopeLocals]},
			{Name: "Globals", VariablesReference: refs[debugger.ScopeGlobals]},
			{Name: "Registers", VariablesReference: refs[debugger.ScopeRegisters], Expensive: true},
		}
		s.sendResponse(req, true, "", scopesResponseBody{Scopes: out})
		return false, nil

	case "variables":
		var args variablesArguments
		if err := json.Unmarshal(req.Arguments, &args); err != nil {
			s.sendResponse(req, false, err.Error(), nil)
			return false, err
		}
		vars, err := s.dbg.Variables(args.VariablesReference)
		if err != nil {
			s.sendResponse(req, false, err.Error(), nil)
			return false, err
		}
		out := make([]variable, len(vars))
		for i, v := range vars {
			out[i] = variable{Name: v.Name, Value: v.Value, Type: v.Kind.String(), VariablesReference: v.VariablesReference}
		}
		s.sendResponse(req, true, "", variablesResponseBody{Variables: out})
		return false, nil

	case "setVariable":
		var args setVariableArguments
		if err := json.Unmarshal(req.Arguments, &args); err != nil {
			s.sendResponse(req, false, err.Error(), nil)
			return false, err
		}
		v, err := s.dbg.SetVariable(args.VariablesReference, args.Name, args.Value)
		if err != nil {
			s.sendResponse(req, false, err.Error(), nil)
			return false, err
		}
		s.sendResponse(req, true, "", setVariableResponseBody{Value: v.Value, Type: v.Kind.String()})
		return false, nil

	case "continue":
		s.dbg.Continue()
		s.sendResponse(req, true, "", nil)
		return false, nil

	case "next":
		s.dbg.StepOver()
		s.sendResponse(req, true, "", nil)
		return false, nil

	case "stepIn":
		s.dbg.StepIn()
		s.sendResponse(req, true, "", nil)
		return false, nil

	case "stepOut":
		s.dbg.StepOutOf()
		s.sendResponse(req, true, "", nil)
		return false, nil

	case "pause":
		s.dbg.RequestPause()
		s.sendResponse(req, true, "", nil)
		return false, nil

	case "disconnect":
		s.sendResponse(req, true, "", nil)
		return true, nil

	default:
		s.sendResponse(req, false, fmt.Sprintf("unsupported command %q", req.Command), nil)
		return false, nil
	}
}

func (s *Server) launch(args launchArguments) error {
	if args.Program == "" {
		return fmt.Errorf("launch: missing program path")
	}
	prog, err := bytecode.Load(args.Program)
	if err != nil {
		return fmt.Errorf("launch: %w", err)
	}
	s.programPath = args.Program
	return s.machine.Load(prog)
}
