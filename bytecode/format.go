package bytecode

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/kunitoki/etch/vmvalue"
)

// value tag bytes used in the constant pool encoding.
const (
	tagNil byte = iota
	tagBool
	tagInt
	tagFloat
	tagChar
	tagString
)

// Load reads a ".etcx" file from disk and returns its decoded Program.
func Load(path string) (*Program, error) {
	f, err := os.Open(path) // #nosec G304 -- caller-specified bytecode artifact path
	if err != nil {
		return nil, fmt.Errorf("open bytecode file: %w", err)
	}
	defer f.Close()
	return Decode(bufio.NewReader(f))
}

// Save writes a Program to disk in the ".etcx" format.
func Save(path string, prog *Program) error {
	f, err := os.Create(path) // #nosec G304 -- caller-specified bytecode artifact path
	if err != nil {
		return fmt.Errorf("create bytecode file: %w", err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	if err := Encode(w, prog); err != nil {
		return err
	}
	return w.Flush()
}

// Decode reads a Program from r, validating the magic header and format
// version. Only FormatVersion is accepted; any other version (older or
// newer) is rejected with a clear error rather than guessed at.
func Decode(r io.Reader) (*Program, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("read magic: %w", err)
	}
	if magic != Magic {
		return nil, fmt.Errorf("not an etcx file: bad magic %q", magic)
	}

	version, err := readByte(r)
	if err != nil {
		return nil, fmt.Errorf("read format version: %w", err)
	}
	if version != FormatVersion {
		return nil, fmt.Errorf("unsupported bytecode format version %d (only %d is loaded)", version, FormatVersion)
	}

	prog := &Program{Version: version}

	if prog.Constants, err = readConstants(r); err != nil {
		return nil, fmt.Errorf("read constant pool: %w", err)
	}
	if prog.Functions, err = readFunctions(r); err != nil {
		return nil, fmt.Errorf("read function table: %w", err)
	}
	if prog.Instructions, err = readInstructions(r); err != nil {
		return nil, fmt.Errorf("read instructions: %w", err)
	}
	if prog.DebugInfo, err = readDebugInfo(r); err != nil {
		return nil, fmt.Errorf("read debug info: %w", err)
	}
	if prog.SourceFiles, err = readSourceFiles(r); err != nil {
		return nil, fmt.Errorf("read source file table: %w", err)
	}

	var entry uint32
	if err := binary.Read(r, binary.LittleEndian, &entry); err != nil {
		return nil, fmt.Errorf("read entry point: %w", err)
	}
	prog.EntryPoint = int(entry)

	return prog, nil
}

// Encode writes prog to w in the ".etcx" format. Encode(Decode(x)) is
// byte-for-byte equal to x for any program that round-trips through this
// encoder (the round-trip invariant from spec.md §8).
func Encode(w io.Writer, prog *Program) error {
	if _, err := w.Write(Magic[:]); err != nil {
		return err
	}
	if _, err := w.Write([]byte{FormatVersion}); err != nil {
		return err
	}
	if err := writeConstants(w, prog.Constants); err != nil {
		return fmt.Errorf("write constant pool: %w", err)
	}
	if err := writeFunctions(w, prog.Functions); err != nil {
		return fmt.Errorf("write function table: %w", err)
	}
	if err := writeInstructions(w, prog.Instructions); err != nil {
		return fmt.Errorf("write instructions: %w", err)
	}
	if err := writeDebugInfo(w, prog.DebugInfo); err != nil {
		return fmt.Errorf("write debug info: %w", err)
	}
	if err := writeSourceFiles(w, prog.SourceFiles); err != nil {
		return fmt.Errorf("write source file table: %w", err)
	}
	return binary.Write(w, binary.LittleEndian, uint32(prog.EntryPoint)) // #nosec G115 -- entry point bounded by instruction count
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
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil { // #nosec G115 -- string lengths are bounded by available memory
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readConstants(r io.Reader) ([]vmvalue.Value, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	out := make([]vmvalue.Value, n)
	for i := range out {
		tag, err := readByte(r)
		if err != nil {
			return nil, err
		}
		switch tag {
		case tagNil:
			out[i] = vmvalue.Nil
		case tagBool:
			b, err := readByte(r)
			if err != nil {
				return nil, err
			}
			out[i] = vmvalue.NewBool(b != 0)
		case tagInt:
			var v int64
			if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
				return nil, err
			}
			out[i] = vmvalue.NewInt(v)
		case tagFloat:
			var v uint64
			if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
				return nil, err
			}
			out[i] = vmvalue.NewFloat(math.Float64frombits(v))
		case tagChar:
			v, err := readUint32(r)
			if err != nil {
				return nil, err
			}
			out[i] = vmvalue.NewChar(rune(v))
		case tagString:
			s, err := readString(r)
			if err != nil {
				return nil, err
			}
			out[i] = vmvalue.NewString(s)
		default:
			return nil, fmt.Errorf("unknown constant tag %d at index %d", tag, i)
		}
	}
	return out, nil
}

func writeConstants(w io.Writer, consts []vmvalue.Value) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(consts))); err != nil { // #nosec G115
		return err
	}
	for _, v := range consts {
		switch v.Kind {
		case vmvalue.KindNil:
			if _, err := w.Write([]byte{tagNil}); err != nil {
				return err
			}
		case vmvalue.KindBool:
			b := byte(0)
			if v.Bool {
				b = 1
			}
			if _, err := w.Write([]byte{tagBool, b}); err != nil {
				return err
			}
		case vmvalue.KindInt:
			if _, err := w.Write([]byte{tagInt}); err != nil {
				return err
			}
			if err := binary.Write(w, binary.LittleEndian, v.Int); err != nil {
				return err
			}
		case vmvalue.KindFloat:
			if _, err := w.Write([]byte{tagFloat}); err != nil {
				return err
			}
			if err := binary.Write(w, binary.LittleEndian, math.Float64bits(v.Float)); err != nil {
				return err
			}
		case vmvalue.KindChar:
			if _, err := w.Write([]byte{tagChar}); err != nil {
				return err
			}
			if err := binary.Write(w, binary.LittleEndian, uint32(v.Char)); err != nil { // #nosec G115
				return err
			}
		case vmvalue.KindString:
			if _, err := w.Write([]byte{tagString}); err != nil {
				return err
			}
			if err := writeString(w, *v.Str); err != nil {
				return err
			}
		default:
			return fmt.Errorf("constant pool entries must be scalar, got %s", v.Kind)
		}
	}
	return nil
}

func readFunctions(r io.Reader) ([]FunctionEntry, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	out := make([]FunctionEntry, n)
	for i := range out {
		name, err := readString(r)
		if err != nil {
			return nil, err
		}
		start, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		end, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		regs, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		locals, err := readLocals(r)
		if err != nil {
			return nil, err
		}
		out[i] = FunctionEntry{MangledName: name, StartPC: int(start), EndPC: int(end), NumRegs: int(regs), Locals: locals}
	}
	return out, nil
}

func readLocals(r io.Reader) ([]LocalVar, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]LocalVar, n)
	for i := range out {
		name, err := readString(r)
		if err != nil {
			return nil, err
		}
		reg, err := readInt32(r)
		if err != nil {
			return nil, err
		}
		start, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		end, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		out[i] = LocalVar{Name: name, Reg: reg, StartPC: int(start), EndPC: int(end)}
	}
	return out, nil
}

func writeLocals(w io.Writer, locals []LocalVar) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(locals))); err != nil { // #nosec G115
		return err
	}
	for _, l := range locals {
		if err := writeString(w, l.Name); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, l.Reg); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(l.StartPC)); err != nil { // #nosec G115
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(l.EndPC)); err != nil { // #nosec G115
			return err
		}
	}
	return nil
}

func writeFunctions(w io.Writer, fns []FunctionEntry) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(fns))); err != nil { // #nosec G115
		return err
	}
	for _, fn := range fns {
		if err := writeString(w, fn.MangledName); err != nil {
			return err
		}
		for _, v := range []int{fn.StartPC, fn.EndPC, fn.NumRegs} {
			if err := binary.Write(w, binary.LittleEndian, uint32(v)); err != nil { // #nosec G115 -- positions bounded by instruction stream length
				return err
			}
		}
		if err := writeLocals(w, fn.Locals); err != nil {
			return err
		}
	}
	return nil
}

func readInstructions(r io.Reader) ([]Instruction, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	out := make([]Instruction, n)
	for i := range out {
		opByte, err := readByte(r)
		if err != nil {
			return nil, err
		}
		op := Opcode(opByte)
		inst := Instruction{Op: op}
		switch op.Shape() {
		case ShapeAB:
			if inst.A, err = readInt32(r); err != nil {
				return nil, err
			}
			if inst.B, err = readInt32(r); err != nil {
				return nil, err
			}
		case ShapeABx:
			if inst.A, err = readInt32(r); err != nil {
				return nil, err
			}
			if inst.B, err = readInt32(r); err != nil {
				return nil, err
			}
		case ShapeCall:
			if inst.FuncIndex, err = readInt32(r); err != nil {
				return nil, err
			}
			if inst.NumArgs, err = readInt32(r); err != nil {
				return nil, err
			}
			if inst.NumResults, err = readInt32(r); err != nil {
				return nil, err
			}
			if inst.FirstArg, err = readInt32(r); err != nil {
				return nil, err
			}
			if inst.FirstRes, err = readInt32(r); err != nil {
				return nil, err
			}
		case ShapeInitGlobal:
			if inst.A, err = readInt32(r); err != nil {
				return nil, err
			}
			if inst.B, err = readInt32(r); err != nil {
				return nil, err
			}
		default: // ShapeABC
			if inst.A, err = readInt32(r); err != nil {
				return nil, err
			}
			if inst.B, err = readInt32(r); err != nil {
				return nil, err
			}
			if inst.C, err = readInt32(r); err != nil {
				return nil, err
			}
		}
		out[i] = inst
	}
	return out, nil
}

func writeInstructions(w io.Writer, insts []Instruction) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(insts))); err != nil { // #nosec G115
		return err
	}
	for _, inst := range insts {
		if _, err := w.Write([]byte{byte(inst.Op)}); err != nil {
			return err
		}
		switch inst.Op.Shape() {
		case ShapeAB, ShapeABx, ShapeInitGlobal:
			if err := binary.Write(w, binary.LittleEndian, inst.A); err != nil {
				return err
			}
			if err := binary.Write(w, binary.LittleEndian, inst.B); err != nil {
				return err
			}
		case ShapeCall:
			for _, v := range []int32{inst.FuncIndex, inst.NumArgs, inst.NumResults, inst.FirstArg, inst.FirstRes} {
				if err := binary.Write(w, binary.LittleEndian, v); err != nil {
					return err
				}
			}
		default:
			for _, v := range []int32{inst.A, inst.B, inst.C} {
				if err := binary.Write(w, binary.LittleEndian, v); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func readDebugInfo(r io.Reader) ([]DebugLine, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	out := make([]DebugLine, n)
	for i := range out {
		if out[i].FileID, err = readInt32(r); err != nil {
			return nil, err
		}
		if out[i].Line, err = readInt32(r); err != nil {
			return nil, err
		}
		if out[i].Column, err = readInt32(r); err != nil {
			return nil, err
		}
		if out[i].StmtID, err = readInt32(r); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func writeDebugInfo(w io.Writer, lines []DebugLine) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(lines))); err != nil { // #nosec G115
		return err
	}
	for _, l := range lines {
		for _, v := range []int32{l.FileID, l.Line, l.Column, l.StmtID} {
			if err := binary.Write(w, binary.LittleEndian, v); err != nil {
				return err
			}
		}
	}
	return nil
}

func readSourceFiles(r io.Reader) ([]string, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	out := make([]string, n)
	for i := range out {
		if out[i], err = readString(r); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func writeSourceFiles(w io.Writer, files []string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(files))); err != nil { // #nosec G115
		return err
	}
	for _, f := range files {
		if err := writeString(w, f); err != nil {
			return err
		}
	}
	return nil
}
