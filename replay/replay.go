package replay

import (
	"fmt"
	"strconv"
	"strings"
)

// Session wraps a loaded Recording for `replay --step <spec>` queries.
type Session struct {
	rec *Recording
}

// Open loads a ".replay" file and returns a Session for stepping through it.
func Open(path string) (*Session, error) {
	rec, err := Load(path)
	if err != nil {
		return nil, fmt.Errorf("replay: open: %w", err)
	}
	return &Session{rec: rec}, nil
}

// Len returns the number of recorded statements.
func (s *Session) Len() int { return len(s.rec.Statements) }

// ExitCode returns the exit code the recorded run terminated with.
func (s *Session) ExitCode() int { return int(s.rec.ExitCode) }

// At returns the snapshot for 1-based statement number n.
func (s *Session) At(n int) (StatementSnapshot, error) {
	if n < 1 || n > len(s.rec.Statements) {
		return StatementSnapshot{}, fmt.Errorf("replay: statement %d out of range (recording has %d statements)", n, len(s.rec.Statements))
	}
	return s.rec.Statements[n-1], nil
}

// Step resolves a comma-separated step spec (statement numbers, "S" for
// the first recorded statement, "E" for the last) into the matching
// snapshots, in spec order. An out-of-range token produces a warning in
// the returned warnings slice and is skipped; other tokens in the same
// spec still resolve, matching spec.md §7's replay error-propagation rule.
func (s *Session) Step(spec string) (snapshots []StatementSnapshot, warnings []string) {
	for _, tok := range strings.Split(spec, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}

		var n int
		switch strings.ToUpper(tok) {
		case "S":
			n = 1
		case "E":
			n = len(s.rec.Statements)
		default:
			v, err := strconv.Atoi(tok)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("invalid step token %q: %v", tok, err))
				continue
			}
			n = v
		}

		snap, err := s.At(n)
		if err != nil {
			warnings = append(warnings, err.Error())
			continue
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, warnings
}
