package dap

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// lineTransport reads and writes one JSON message per line. This is
// deliberately not go-dap's own Content-Length-framed reader/writer: the
// console and TCP transports here both speak newline-delimited JSON, so
// only go-dap's message *types* are reused, not its wire framing.
type lineTransport struct {
	scanner *bufio.Scanner
	writer  io.Writer
	writeMu sync.Mutex
}

func newLineTransport(r io.Reader, w io.Writer) *lineTransport {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &lineTransport{scanner: scanner, writer: w}
}

// ReadMessage reads the next line and returns its raw JSON bytes. Blank
// lines are skipped.
func (t *lineTransport) ReadMessage() (json.RawMessage, error) {
	for t.scanner.Scan() {
		line := t.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		out := make(json.RawMessage, len(line))
		copy(out, line)
		return out, nil
	}
	if err := t.scanner.Err(); err != nil {
		return nil, fmt.Errorf("dap transport: read: %w", err)
	}
	return nil, io.EOF
}

// WriteMessage marshals v as one line of JSON. Safe for concurrent use:
// request/response writes and asynchronous event writes share one
// transport.
func (t *lineTransport) WriteMessage(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("dap transport: marshal: %w", err)
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := t.writer.Write(data); err != nil {
		return fmt.Errorf("dap transport: write: %w", err)
	}
	_, err = t.writer.Write([]byte{'\n'})
	return err
}
