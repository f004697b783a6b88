package dap

import (
	"context"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/kunitoki/etch/bytecode"
	"github.com/kunitoki/etch/debugger"
	"github.com/kunitoki/etch/vm"
)

// TCPServer is the long-lived remote debug transport: it loads bytecode
// once, binds loopback TCP, and accepts clients one at a time for the rest
// of the process's life. Disconnecting a client never tears the server (or
// the VM's run loop) down; a later client reattaches to the same Debugger
// and sees whatever breakpoints and run state the previous client left.
type TCPServer struct {
	listener *net.Listener
	machine  *vm.VM
	dbg      *debugger.Debugger
	guard    *runGuard
	logger   *log.Logger

	attachTimeout time.Duration
}

// ListenTCP loads prog into machine and binds addr (expected to be a
// loopback address per the non-goal against network-facing debug). The
// instruction callback is installed before Serve is called, so breakpoints
// set before any client attaches are still honored once execution starts.
func ListenTCP(addr string, programPath string, machine *vm.VM, attachTimeout time.Duration, logger *log.Logger) (*TCPServer, error) {
	prog, err := bytecode.Load(programPath)
	if err != nil {
		return nil, fmt.Errorf("dap: tcp listen: %w", err)
	}
	if err := machine.Load(prog); err != nil {
		return nil, fmt.Errorf("dap: tcp listen: %w", err)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dap: tcp listen: %w", err)
	}

	return &TCPServer{
		listener:      &ln,
		machine:       machine,
		dbg:           debugger.New(machine),
		guard:         &runGuard{},
		logger:        logger,
		attachTimeout: attachTimeout,
	}, nil
}

// Addr returns the bound address, useful when addr was passed as ":0".
func (s *TCPServer) Addr() net.Addr { return (*s.listener).Addr() }

// Serve accepts connections until ctx is cancelled or the listener is
// closed, handling one client at a time. Each accepted connection gets its
// own Server sharing this TCPServer's Debugger and runGuard, so the
// underlying session survives across reconnects.
func (s *TCPServer) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		(*s.listener).Close()
	}()

	// A zero timeout means wait indefinitely for a client to drive
	// configurationDone before running; a positive timeout proceeds
	// without one, so a headless host isn't blocked on an attach that
	// never comes.
	if s.attachTimeout > 0 {
		go func() {
			select {
			case <-time.After(s.attachTimeout):
				s.guard.start(ctx, s.dbg)
			case <-ctx.Done():
			}
		}()
	}

	for {
		conn, err := (*s.listener).Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("dap: tcp accept: %w", err)
			}
		}

		sessionID := uuid.New().String()
		s.logf("session %s: client attached from %s", sessionID, conn.RemoteAddr())

		srv := NewServerWithDebugger(conn, conn, s.dbg, s.machine, s.logger, ctx, s.guard)
		if err := srv.Serve(ctx); err != nil {
			s.logf("session %s: %v", sessionID, err)
		}
		s.logf("session %s: client detached", sessionID)
		conn.Close()
	}
}

func (s *TCPServer) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}
