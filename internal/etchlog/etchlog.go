// Package etchlog provides the process-wide debug logger shared by vm/,
// heap/, and dap/. Logging is off by default and enabled by setting
// ETCH_DEBUG_LOG, matching the teacher's service/debugger_service.go
// pattern of a package-level *log.Logger constructed in init().
package etchlog

import (
	"io"
	"log"
	"os"
	"path/filepath"
)

// Logger is written to unconditionally by callers; when ETCH_DEBUG_LOG is
// unset it discards everything, so the cost of a disabled log line is one
// io.Discard write.
var Logger *log.Logger

func init() {
	if os.Getenv("ETCH_DEBUG_LOG") == "" {
		Logger = log.New(io.Discard, "", 0)
		return
	}

	logPath := filepath.Join(os.TempDir(), "etch-debug.log")
	f, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0600) // #nosec G304 -- fixed filename in temp dir
	if err != nil {
		Logger = log.New(os.Stderr, "etch: ", log.Ltime|log.Lmicroseconds|log.Lshortfile)
		return
	}
	// File handle intentionally left open for the process lifetime; the OS
	// reclaims it on exit.
	Logger = log.New(f, "etch: ", log.Ltime|log.Lmicroseconds|log.Lshortfile)
}
