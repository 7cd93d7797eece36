package isa

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// A Segment is a block of bytes placed at an address.
type Segment struct {
	Addr uint64
	Data []byte
}

// End returns the address after the last byte of the segment.
func (s Segment) End() uint64 {
	return s.Addr + uint64(len(s.Data))
}

// Program is an assembled memory image with an entry point.
type Program struct {
	Entry    uint64
	Segments []Segment
	Symbols  map[string]uint64
}

// Load writes every segment into the memory.
func (p *Program) Load(m Memory) error {
	for _, s := range p.Segments {
		if err := m.Write(s.Addr, s.Data); err != nil {
			return fmt.Errorf("loading segment at 0x%x: %w", s.Addr, err)
		}
	}

	return nil
}

// Size returns the number of bytes in all the segments.
func (p *Program) Size() uint64 {
	var n uint64
	for _, s := range p.Segments {
		n += uint64(len(s.Data))
	}

	return n
}

// AsmError reports a line that could not be assembled.
type AsmError struct {
	Line int
	Msg  string
}

func (e *AsmError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

type asmLine struct {
	num      int
	addr     uint64
	mnemonic string
	operands []string
}

type assembler struct {
	lines    []asmLine
	symbols  map[string]uint64
	segments []Segment
	entry    string
	loc      uint64
}

// Assemble translates assembly source into a program.
//
// Lines hold an optional label ("name:"), then a directive or an
// instruction. Comments start with '#' or ';'. The directives are .org ADDR,
// .word V[, V...] (8 bytes each), .space N, and .entry SYMBOL. The pseudo
// instructions li, mv, j, and ret expand to addi, addi, jal, and jr. The
// entry defaults to the _start label, or else the first segment.
func Assemble(src string) (*Program, error) {
	a := &assembler{symbols: make(map[string]uint64)}

	if err := a.layout(src); err != nil {
		return nil, err
	}

	if err := a.emit(); err != nil {
		return nil, err
	}

	return a.program()
}

// MustAssemble is Assemble for sources known to be valid. It panics on error.
func MustAssemble(src string) *Program {
	p, err := Assemble(src)
	if err != nil {
		panic(err)
	}

	return p
}

func (a *assembler) layout(src string) error {
	for i, raw := range strings.Split(src, "\n") {
		num := i + 1
		text := stripComment(raw)

		for {
			colon := strings.Index(text, ":")
			if colon < 0 {
				break
			}

			label := strings.TrimSpace(text[:colon])
			if !isIdent(label) {
				return &AsmError{num, fmt.Sprintf("bad label %q", label)}
			}

			if _, dup := a.symbols[label]; dup {
				return &AsmError{num, fmt.Sprintf("label %q redefined", label)}
			}

			a.symbols[label] = a.loc
			text = text[colon+1:]
		}

		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}

		mnemonic, rest := text, ""
		if i := strings.IndexAny(text, " \t"); i >= 0 {
			mnemonic, rest = text[:i], text[i+1:]
		}

		mnemonic = strings.ToLower(mnemonic)
		operands := splitOperands(rest)

		if err := a.place(num, mnemonic, operands); err != nil {
			return err
		}
	}

	return nil
}

func (a *assembler) place(num int, mnemonic string, operands []string) error {
	line := asmLine{
		num:      num,
		addr:     a.loc,
		mnemonic: mnemonic,
		operands: operands,
	}

	switch mnemonic {
	case ".org":
		if len(operands) != 1 {
			return &AsmError{num, ".org needs one address"}
		}

		addr, err := parseNumber(operands[0])
		if err != nil {
			return &AsmError{num, err.Error()}
		}

		a.loc = uint64(addr)

		return nil
	case ".entry":
		if len(operands) != 1 {
			return &AsmError{num, ".entry needs one symbol"}
		}

		a.entry = operands[0]

		return nil
	case ".word":
		if len(operands) == 0 {
			return &AsmError{num, ".word needs a value"}
		}

		a.loc += uint64(len(operands)) * WordBytes
	case ".space":
		n, err := parseNumber(strings.Join(operands, ""))
		if err != nil || n < 0 {
			return &AsmError{num, ".space needs a byte count"}
		}

		a.loc += uint64(n)
	default:
		if a.loc%InstBytes != 0 {
			return &AsmError{num, fmt.Sprintf(
				"instruction at unaligned address 0x%x", a.loc)}
		}

		a.loc += InstBytes
	}

	a.lines = append(a.lines, line)

	return nil
}

func (a *assembler) emit() error {
	for _, l := range a.lines {
		var data []byte

		switch l.mnemonic {
		case ".word":
			for _, op := range l.operands {
				v, err := a.value(op)
				if err != nil {
					return &AsmError{l.num, err.Error()}
				}

				word := make([]byte, WordBytes)
				binary.LittleEndian.PutUint64(word, uint64(v))
				data = append(data, word...)
			}
		case ".space":
			n, _ := parseNumber(strings.Join(l.operands, ""))
			data = make([]byte, n)
		default:
			inst, err := a.encode(l)
			if err != nil {
				return &AsmError{l.num, err.Error()}
			}

			data = inst.Encode()
		}

		a.append(l.addr, data)
	}

	return nil
}

func (a *assembler) append(addr uint64, data []byte) {
	n := len(a.segments)
	if n > 0 && a.segments[n-1].End() == addr {
		a.segments[n-1].Data = append(a.segments[n-1].Data, data...)
		return
	}

	a.segments = append(a.segments, Segment{
		Addr: addr,
		Data: append([]byte{}, data...),
	})
}

func (a *assembler) program() (*Program, error) {
	segs := append([]Segment{}, a.segments...)
	sort.Slice(segs, func(i, j int) bool { return segs[i].Addr < segs[j].Addr })

	for i := 1; i < len(segs); i++ {
		if segs[i].Addr < segs[i-1].End() {
			return nil, fmt.Errorf("segments at 0x%x and 0x%x overlap",
				segs[i-1].Addr, segs[i].Addr)
		}
	}

	p := &Program{Segments: segs, Symbols: a.symbols}

	switch {
	case a.entry != "":
		v, err := a.value(a.entry)
		if err != nil {
			return nil, fmt.Errorf("entry: %w", err)
		}

		p.Entry = uint64(v)
	case hasSymbol(a.symbols, "_start"):
		p.Entry = a.symbols["_start"]
	case len(a.segments) > 0:
		p.Entry = a.segments[0].Addr
	}

	return p, nil
}

func hasSymbol(symbols map[string]uint64, name string) bool {
	_, ok := symbols[name]
	return ok
}

func (a *assembler) encode(l asmLine) (Inst, error) {
	mnemonic, ops := expandPseudo(l.mnemonic, l.operands)

	op, ok := LookupOpcode(mnemonic)
	if !ok {
		return Inst{}, fmt.Errorf("unknown instruction %q", l.mnemonic)
	}

	inst := Inst{Op: op}

	var err error

	switch op {
	case OpNop, OpHalt, OpIret:
		err = wantOperands(ops, 0)
	case OpAdd, OpSub, OpAnd, OpOr, OpXor, OpSlt, OpMul:
		err = a.operands(ops, &inst.Rd, &inst.Rs1, &inst.Rs2)
	case OpAddi:
		if err = wantOperands(ops, 3); err == nil {
			err = a.operands(ops[:2], &inst.Rd, &inst.Rs1)
		}

		if err == nil {
			inst.Imm, err = a.immediate(ops[2])
		}
	case OpLd:
		if err = wantOperands(ops, 2); err == nil {
			err = a.operands(ops[:1], &inst.Rd)
		}

		if err == nil {
			inst.Imm, inst.Rs1, err = a.memOperand(ops[1])
		}
	case OpSt:
		if err = wantOperands(ops, 2); err == nil {
			err = a.operands(ops[:1], &inst.Rs2)
		}

		if err == nil {
			inst.Imm, inst.Rs1, err = a.memOperand(ops[1])
		}
	case OpBeq, OpBne, OpBlt:
		if err = wantOperands(ops, 3); err == nil {
			err = a.operands(ops[:2], &inst.Rs1, &inst.Rs2)
		}

		if err == nil {
			inst.Imm, err = a.offset(ops[2], l.addr)
		}
	case OpJal:
		target := ""

		switch len(ops) {
		case 1:
			inst.Rd = LinkReg
			target = ops[0]
		case 2:
			err = a.operands(ops[:1], &inst.Rd)
			target = ops[1]
		default:
			err = fmt.Errorf("jal needs a target")
		}

		if err == nil {
			inst.Imm, err = a.offset(target, l.addr)
		}
	case OpJr:
		err = a.operands(ops, &inst.Rs1)
	}

	return inst, err
}

func expandPseudo(mnemonic string, ops []string) (string, []string) {
	switch mnemonic {
	case "li":
		if len(ops) == 2 {
			return "addi", []string{ops[0], "r0", ops[1]}
		}
	case "mv":
		if len(ops) == 2 {
			return "addi", []string{ops[0], ops[1], "0"}
		}
	case "j":
		return "jal", append([]string{"r0"}, ops...)
	case "ret":
		return "jr", []string{"r31"}
	}

	return mnemonic, ops
}

func wantOperands(ops []string, n int) error {
	if len(ops) != n {
		return fmt.Errorf("expected %d operands, got %d", n, len(ops))
	}

	return nil
}

func (a *assembler) operands(ops []string, regs ...*uint8) error {
	if err := wantOperands(ops, len(regs)); err != nil {
		return err
	}

	for i, op := range ops {
		r, err := parseReg(op)
		if err != nil {
			return err
		}

		*regs[i] = r
	}

	return nil
}

// memOperand parses "imm(rN)", "(rN)", or "label".
func (a *assembler) memOperand(op string) (int32, uint8, error) {
	open := strings.Index(op, "(")
	if open < 0 {
		imm, err := a.immediate(op)
		return imm, 0, err
	}

	if !strings.HasSuffix(op, ")") {
		return 0, 0, fmt.Errorf("bad memory operand %q", op)
	}

	reg, err := parseReg(op[open+1 : len(op)-1])
	if err != nil {
		return 0, 0, err
	}

	var imm int32
	if disp := strings.TrimSpace(op[:open]); disp != "" {
		imm, err = a.immediate(disp)
	}

	return imm, reg, err
}

func (a *assembler) immediate(op string) (int32, error) {
	v, err := a.value(op)
	if err != nil {
		return 0, err
	}

	return fitImm(v)
}

func fitImm(v int64) (int32, error) {
	if v < math.MinInt32 || v > math.MaxInt32 {
		return 0, fmt.Errorf("immediate %d does not fit in 32 bits", v)
	}

	return int32(v), nil
}

// offset resolves a branch target. Labels become pc-relative offsets;
// numbers are taken as offsets already.
func (a *assembler) offset(op string, pc uint64) (int32, error) {
	if addr, ok := a.symbols[op]; ok {
		return fitImm(int64(addr - pc))
	}

	return a.immediate(op)
}

func (a *assembler) value(op string) (int64, error) {
	if addr, ok := a.symbols[op]; ok {
		return int64(addr), nil
	}

	if isIdent(op) {
		return 0, fmt.Errorf("undefined symbol %q", op)
	}

	return parseNumber(op)
}

func parseNumber(s string) (int64, error) {
	s = strings.TrimSpace(s)

	if v, err := strconv.ParseInt(s, 0, 64); err == nil {
		return v, nil
	}

	u, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("bad number %q", s)
	}

	return int64(u), nil
}

func parseReg(s string) (uint8, error) {
	s = strings.ToLower(strings.TrimSpace(s))

	switch s {
	case "zero":
		return 0, nil
	case "ra":
		return LinkReg, nil
	}

	if !strings.HasPrefix(s, "r") {
		return 0, fmt.Errorf("bad register %q", s)
	}

	n, err := strconv.Atoi(s[1:])
	if err != nil || n < 0 || n >= NumRegs {
		return 0, fmt.Errorf("bad register %q", s)
	}

	return uint8(n), nil
}

func stripComment(s string) string {
	if i := strings.IndexAny(s, "#;"); i >= 0 {
		return s[:i]
	}

	return s
}

func splitOperands(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	return parts
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}

	for i, c := range s {
		switch {
		case c == '_', c == '.' && i > 0,
			c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}

	return true
}
