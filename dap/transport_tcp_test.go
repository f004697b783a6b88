package dap

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kunitoki/etch/bytecode"
	"github.com/kunitoki/etch/vm"
)

// writeTempProgram saves prog as a ".etcx" file under t.TempDir and returns
// its path, for ListenTCP (which loads a program from disk rather than
// accepting an already-loaded VM).
func writeTempProgram(t *testing.T, prog *bytecode.Program) string {
	t.Helper()
	path := t.TempDir() + "/main.etcx"
	require.NoError(t, bytecode.Save(path, prog))
	return path
}

// dapClient is a minimal synchronous client over one TCP connection, used
// to drive a TCPServer the way a real DAP front end would: one request at a
// time, reading line-delimited JSON responses/events back.
type dapClient struct {
	t    *testing.T
	conn net.Conn
	in   *bufio.Scanner
	seq  int
}

func dialClient(t *testing.T, addr net.Addr) *dapClient {
	t.Helper()
	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	return &dapClient{t: t, conn: conn, in: sc}
}

func (c *dapClient) send(command string, args any) {
	c.seq++
	require.NoError(c.t, json.NewEncoder(c.conn).Encode(struct {
		Seq       int    `json:"seq"`
		Type      string `json:"type"`
		Command   string `json:"command"`
		Arguments any    `json:"arguments,omitempty"`
	}{Seq: c.seq, Type: "request", Command: command, Arguments: args}))
}

// recvUntil reads messages until one matching keep returns true, skipping
// (and returning) everything else seen along the way.
func (c *dapClient) recvUntil(keep func(map[string]any) bool) map[string]any {
	c.t.Helper()
	for c.in.Scan() {
		line := c.in.Bytes()
		if len(line) == 0 {
			continue
		}
		var m map[string]any
		require.NoError(c.t, json.Unmarshal(line, &m))
		if keep(m) {
			return m
		}
	}
	c.t.Fatalf("connection closed before a matching message arrived")
	return nil
}

func isResponseTo(command string) func(map[string]any) bool {
	return func(m map[string]any) bool {
		return m["type"] == "response" && m["command"] == command
	}
}

func TestTCPServerPersistsBreakpointsAcrossReconnect(t *testing.T) {
	path := writeTempProgram(t, tinyProgram())
	machine := vm.New()
	srv, err := ListenTCP("127.0.0.1:0", path, machine, 0, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go srv.Serve(ctx)

	// First client attaches, sets a breakpoint, then disconnects.
	bpArgs := setBreakpointsArguments{}
	bpArgs.Source.Path = "main.etch"
	bpArgs.Breakpoints = []struct {
		Line      int    `json:"line"`
		Condition string `json:"condition"`
	}{{Line: 1, Condition: ""}}

	c1 := dialClient(t, srv.Addr())
	c1.send("setBreakpoints", bpArgs)
	resp := c1.recvUntil(isResponseTo("setBreakpoints"))
	assert.Equal(t, true, resp["success"])

	c1.send("disconnect", nil)
	c1.recvUntil(isResponseTo("disconnect"))
	c1.conn.Close()

	// A second client reattaches to the same underlying Debugger. The
	// breakpoint set by the first client must still be there, proving the
	// session (and its Debugger) survived the first client's departure.
	c2 := dialClient(t, srv.Addr())
	c2.send("threads", nil)
	threadsResp := c2.recvUntil(isResponseTo("threads"))
	assert.Equal(t, true, threadsResp["success"])

	bp := srv.dbg.Breakpoints().At("main.etch", 1)
	require.NotNil(t, bp)
	assert.True(t, bp.Enabled)

	c2.send("disconnect", nil)
	c2.recvUntil(isResponseTo("disconnect"))
}

func TestTCPServerRunsLoopAtMostOnceAcrossReconnects(t *testing.T) {
	path := writeTempProgram(t, tinyProgram())
	machine := vm.New()
	srv, err := ListenTCP("127.0.0.1:0", path, machine, 0, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go srv.Serve(ctx)

	c1 := dialClient(t, srv.Addr())
	c1.send("configurationDone", nil)
	c1.recvUntil(isResponseTo("configurationDone"))
	c1.send("disconnect", nil)
	c1.recvUntil(isResponseTo("disconnect"))
	c1.conn.Close()

	// A second connection also calling configurationDone must not start a
	// second concurrent run loop: runGuard.start is a sync.Once, shared via
	// the TCPServer's single guard field across every accepted connection.
	c2 := dialClient(t, srv.Addr())
	c2.send("configurationDone", nil)
	c2.recvUntil(isResponseTo("configurationDone"))
	c2.send("disconnect", nil)
	c2.recvUntil(isResponseTo("disconnect"))

	// tinyProgram's single instruction returns immediately, so by now the
	// shared VM should have reached Terminated exactly once rather than
	// erroring from a second concurrent Run call racing the first.
	assert.Eventually(t, func() bool {
		return machine.State() == vm.StateTerminated
	}, time.Second, 10*time.Millisecond)
}
