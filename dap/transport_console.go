package dap

import (
	"context"
	"io"
	"log"

	"github.com/kunitoki/etch/vm"
)

// ServeConsole runs a single DAP session reading requests from r and
// writing responses/events to w, newline-delimited, until the reader is
// closed or a disconnect request arrives. This is the transport the
// `debug-server` CLI subcommand wires to stdin/stdout.
func ServeConsole(ctx context.Context, r io.Reader, w io.Writer, machine *vm.VM, logger *log.Logger) error {
	return NewServer(r, w, machine, logger).Serve(ctx)
}
