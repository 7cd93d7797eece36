package isa

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// WordBytes is the size of the data that ld and st move.
const WordBytes = 8

// Outcome is the result of executing an instruction on its operands.
type Outcome struct {
	// Value is the result written to rd. For st it is the data to store.
	Value uint64

	// Addr is the effective address of ld and st.
	Addr uint64

	// Taken tells if a branch leaves the fall-through path.
	Taken bool

	// NextPC is the address of the next instruction in program order.
	NextPC uint64
}

// Execute computes the outcome of an instruction at pc whose source
// registers hold a (rs1) and b (rs2). Loads only get their address; the
// value comes from memory.
func Execute(inst Inst, pc, a, b uint64) Outcome {
	out := Outcome{NextPC: pc + InstBytes}
	imm := uint64(int64(inst.Imm))

	switch inst.Op {
	case OpAdd:
		out.Value = a + b
	case OpSub:
		out.Value = a - b
	case OpAnd:
		out.Value = a & b
	case OpOr:
		out.Value = a | b
	case OpXor:
		out.Value = a ^ b
	case OpSlt:
		if int64(a) < int64(b) {
			out.Value = 1
		}
	case OpMul:
		out.Value = a * b
	case OpAddi:
		out.Value = a + imm
	case OpLd:
		out.Addr = a + imm
	case OpSt:
		out.Addr = a + imm
		out.Value = b
	case OpBeq:
		out.Taken = a == b
	case OpBne:
		out.Taken = a != b
	case OpBlt:
		out.Taken = int64(a) < int64(b)
	case OpJal:
		out.Value = pc + InstBytes
		out.Taken = true
	case OpJr:
		out.Taken = true
		out.NextPC = a + imm

		return out
	}

	if out.Taken {
		out.NextPC = pc + imm
	}

	return out
}

// Memory is the byte-addressed storage that a Machine runs on.
type Memory interface {
	Read(addr, size uint64) ([]byte, error)
	Write(addr uint64, data []byte) error
}

// ErrHalted is returned when stepping a machine that executed halt.
var ErrHalted = errors.New("machine halted")

// Machine executes a program one instruction at a time, without timing. It
// is the reference that timing models are checked against.
type Machine struct {
	Regs   [NumRegs]uint64
	PC     uint64
	Mem    Memory
	Halted bool

	// Retired counts the executed instructions.
	Retired uint64
}

// Step executes the instruction at PC.
func (m *Machine) Step() error {
	if m.Halted {
		return ErrHalted
	}

	raw, err := m.Mem.Read(m.PC, InstBytes)
	if err != nil {
		return fmt.Errorf("fetch at 0x%x: %w", m.PC, err)
	}

	inst, err := Decode(raw)
	if err != nil {
		return fmt.Errorf("decode at 0x%x: %w", m.PC, err)
	}

	out := Execute(inst, m.PC, m.Regs[inst.Rs1], m.Regs[inst.Rs2])

	switch inst.Op {
	case OpHalt:
		m.Halted = true
		m.Retired++

		return nil
	case OpIret:
		return fmt.Errorf("iret at 0x%x outside an interrupt handler", m.PC)
	case OpLd:
		data, err := m.Mem.Read(out.Addr, WordBytes)
		if err != nil {
			return fmt.Errorf("load at 0x%x: %w", m.PC, err)
		}

		out.Value = binary.LittleEndian.Uint64(data)
	case OpSt:
		data := make([]byte, WordBytes)
		binary.LittleEndian.PutUint64(data, out.Value)

		if err := m.Mem.Write(out.Addr, data); err != nil {
			return fmt.Errorf("store at 0x%x: %w", m.PC, err)
		}
	}

	if inst.WritesRd() {
		m.Regs[inst.Rd] = out.Value
	}

	m.PC = out.NextPC
	m.Retired++

	return nil
}

// Run steps until halt or until maxSteps instructions have executed.
func (m *Machine) Run(maxSteps uint64) error {
	for i := uint64(0); i < maxSteps; i++ {
		if err := m.Step(); err != nil {
			return err
		}

		if m.Halted {
			return nil
		}
	}

	return fmt.Errorf("no halt within %d instructions", maxSteps)
}
