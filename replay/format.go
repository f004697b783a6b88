// Package replay implements the ".replay" record/step format: a recorded
// execution capturing one register snapshot per source statement, so a
// later `replay --step <spec>` invocation can inspect past program state
// without re-running the program.
package replay

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/kunitoki/etch/vmvalue"
)

// Magic identifies a ".replay" file, distinct from bytecode's "ETCX" magic
// so the two formats are never confused by a misnamed file.
var Magic = [4]byte{'E', 'T', 'R', 'P'}

// FormatVersion is bumped whenever the on-disk shape changes. Only the
// current version is loaded, mirroring bytecode's format-version policy.
const FormatVersion = 1

// value tag bytes, mirroring bytecode's constant-pool encoding: a replay
// snapshot's registers are scalars plus heap references (Kind + HeapID),
// never aggregate contents, so replay never needs to walk the heap.
const (
	tagNil byte = iota
	tagBool
	tagInt
	tagFloat
	tagChar
	tagString
	tagHeapRef
)

// StatementSnapshot is the register state recorded at one source
// statement boundary. StmtID is 1-based and monotonically increasing
// across the whole recording, matching `replay --step`'s addressing.
type StatementSnapshot struct {
	StmtID       int32
	FunctionName string // demangled display name, e.g. "<global>" or "main"
	Line         int32
	FrameDepth   int32
	Registers    []vmvalue.Value
}

// Recording is a full ".replay" file: an ordered list of statement
// snapshots plus the exit code the recorded run terminated with.
type Recording struct {
	Version    byte
	Statements []StatementSnapshot
	ExitCode   int32
}

// Load reads a ".replay" file from disk.
func Load(path string) (*Recording, error) {
	f, err := os.Open(path) // #nosec G304 -- caller-specified replay file path
	if err != nil {
		return nil, fmt.Errorf("open replay file: %w", err)
	}
	defer f.Close()
	return Decode(bufio.NewReader(f))
}

// Save writes a Recording to disk in the ".replay" format.
func Save(path string, rec *Recording) error {
	f, err := os.Create(path) // #nosec G304 -- caller-specified replay file path
	if err != nil {
		return fmt.Errorf("create replay file: %w", err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	if err := Encode(w, rec); err != nil {
		return err
	}
	return w.Flush()
}

// Decode reads a Recording from r, rejecting anything but the current
// format version.
func Decode(r io.Reader) (*Recording, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("read magic: %w", err)
	}
	if magic != Magic {
		return nil, fmt.Errorf("not a replay file: bad magic %q", magic)
	}

	version, err := readByte(r)
	if err != nil {
		return nil, fmt.Errorf("read format version: %w", err)
	}
	if version != FormatVersion {
		return nil, fmt.Errorf("unsupported replay format version %d (only %d is loaded)", version, FormatVersion)
	}

	rec := &Recording{Version: version}
	if rec.Statements, err = readStatements(r); err != nil {
		return nil, fmt.Errorf("read statements: %w", err)
	}
	exitCode, err := readInt32(r)
	if err != nil {
		return nil, fmt.Errorf("read exit code: %w", err)
	}
	rec.ExitCode = exitCode

	return rec, nil
}

// Encode writes rec to w in the ".replay" format.
func Encode(w io.Writer, rec *Recording) error {
	if _, err := w.Write(Magic[:]); err != nil {
		return err
	}
	if _, err := w.Write([]byte{FormatVersion}); err != nil {
		return err
	}
	if err := writeStatements(w, rec.Statements); err != nil {
		return fmt.Errorf("write statements: %w", err)
	}
	return binary.Write(w, binary.LittleEndian, rec.ExitCode)
}

func readByte(r io.Reader) (byte, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func readUint32(r io.Reader) (uint32, error) {
	var v uint32
	err := binary.Read(r, binary.LittleEndian, &v)
	return v, err
}

func readInt32(r io.Reader) (int32, error) {
	var v int32
	err := binary.Read(r, binary.LittleEndian, &v)
	return v, err
}

func readString(r io.Reader) (string, error) {
	n, err := readUint32(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil { // #nosec G115
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readValue(r io.Reader) (vmvalue.Value, error) {
	tag, err := readByte(r)
	if err != nil {
		return vmvalue.Nil, err
	}
	switch tag {
	case tagNil:
		return vmvalue.Nil, nil
	case tagBool:
		b, err := readByte(r)
		if err != nil {
			return vmvalue.Nil, err
		}
		return vmvalue.NewBool(b != 0), nil
	case tagInt:
		var v int64
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return vmvalue.Nil, err
		}
		return vmvalue.NewInt(v), nil
	case tagFloat:
		var v uint64
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return vmvalue.Nil, err
		}
		return vmvalue.NewFloat(math.Float64frombits(v)), nil
	case tagChar:
		v, err := readUint32(r)
		if err != nil {
			return vmvalue.Nil, err
		}
		return vmvalue.NewChar(rune(v)), nil
	case tagString:
		s, err := readString(r)
		if err != nil {
			return vmvalue.Nil, err
		}
		return vmvalue.NewString(s), nil
	case tagHeapRef:
		kind, err := readByte(r)
		if err != nil {
			return vmvalue.Nil, err
		}
		var id int64
		if err := binary.Read(r, binary.LittleEndian, &id); err != nil {
			return vmvalue.Nil, err
		}
		return vmvalue.Value{Kind: vmvalue.Kind(kind), HeapID: id}, nil
	default:
		return vmvalue.Nil, fmt.Errorf("unknown replay value tag %d", tag)
	}
}

func writeValue(w io.Writer, v vmvalue.Value) error {
	if v.IsHeapRef() {
		if _, err := w.Write([]byte{tagHeapRef, byte(v.Kind)}); err != nil {
			return err
		}
		return binary.Write(w, binary.LittleEndian, v.HeapID)
	}
	switch v.Kind {
	case vmvalue.KindNil:
		_, err := w.Write([]byte{tagNil})
		return err
	case vmvalue.KindBool:
		b := byte(0)
		if v.Bool {
			b = 1
		}
		_, err := w.Write([]byte{tagBool, b})
		return err
	case vmvalue.KindInt:
		if _, err := w.Write([]byte{tagInt}); err != nil {
			return err
		}
		return binary.Write(w, binary.LittleEndian, v.Int)
	case vmvalue.KindFloat:
		if _, err := w.Write([]byte{tagFloat}); err != nil {
			return err
		}
		return binary.Write(w, binary.LittleEndian, math.Float64bits(v.Float))
	case vmvalue.KindChar:
		if _, err := w.Write([]byte{tagChar}); err != nil {
			return err
		}
		return binary.Write(w, binary.LittleEndian, uint32(v.Char)) // #nosec G115
	case vmvalue.KindString:
		if _, err := w.Write([]byte{tagString}); err != nil {
			return err
		}
		s := ""
		if v.Str != nil {
			s = *v.Str
		}
		return writeString(w, s)
	default:
		return fmt.Errorf("replay snapshot values must be scalar or heap refs, got %s", v.Kind)
	}
}

func readStatements(r io.Reader) ([]StatementSnapshot, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	out := make([]StatementSnapshot, n)
	for i := range out {
		stmtID, err := readInt32(r)
		if err != nil {
			return nil, err
		}
		name, err := readString(r)
		if err != nil {
			return nil, err
		}
		line, err := readInt32(r)
		if err != nil {
			return nil, err
		}
		depth, err := readInt32(r)
		if err != nil {
			return nil, err
		}
		numRegs, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		regs := make([]vmvalue.Value, numRegs)
		for j := range regs {
			if regs[j], err = readValue(r); err != nil {
				return nil, err
			}
		}
		out[i] = StatementSnapshot{StmtID: stmtID, FunctionName: name, Line: line, FrameDepth: depth, Registers: regs}
	}
	return out, nil
}

func writeStatements(w io.Writer, stmts []StatementSnapshot) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(stmts))); err != nil { // #nosec G115
		return err
	}
	for _, s := range stmts {
		if err := binary.Write(w, binary.LittleEndian, s.StmtID); err != nil {
			return err
		}
		if err := writeString(w, s.FunctionName); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, s.Line); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, s.FrameDepth); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(len(s.Registers))); err != nil { // #nosec G115
			return err
		}
		for _, v := range s.Registers {
			if err := writeValue(w, v); err != nil {
				return err
			}
		}
	}
	return nil
}
