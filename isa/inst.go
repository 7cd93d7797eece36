// Package isa defines a small 64-bit RISC instruction set: fixed 8-byte
// instructions, 32 registers with r0 wired to zero, and an assembler.
package isa

import (
	"encoding/binary"
	"fmt"
)

// InstBytes is the size of every encoded instruction.
const InstBytes = 8

// NumRegs is the number of architectural registers.
const NumRegs = 32

// LinkReg is the register that jal writes when no destination is named.
const LinkReg = 31

// Opcode identifies an operation.
type Opcode uint8

// The operations.
const (
	OpNop Opcode = iota
	OpAdd
	OpSub
	OpAnd
	OpOr
	OpXor
	OpSlt
	OpMul
	OpAddi
	OpLd
	OpSt
	OpBeq
	OpBne
	OpBlt
	OpJal
	OpJr
	OpHalt
	OpIret
	numOps
)

var opNames = [numOps]string{
	"nop", "add", "sub", "and", "or", "xor", "slt", "mul", "addi",
	"ld", "st", "beq", "bne", "blt", "jal", "jr", "halt", "iret",
}

func (op Opcode) String() string {
	if op >= numOps {
		return fmt.Sprintf("op%d", uint8(op))
	}

	return opNames[op]
}

// LookupOpcode finds an operation by its mnemonic.
func LookupOpcode(name string) (Opcode, bool) {
	for i, n := range opNames {
		if n == name {
			return Opcode(i), true
		}
	}

	return 0, false
}

// Inst is a decoded instruction.
type Inst struct {
	Op  Opcode
	Rd  uint8
	Rs1 uint8
	Rs2 uint8
	Imm int32
}

// Encode packs the instruction as op, rd, rs1, rs2, and a little-endian
// 32-bit immediate.
func (i Inst) Encode() []byte {
	buf := make([]byte, InstBytes)
	buf[0] = byte(i.Op)
	buf[1] = i.Rd
	buf[2] = i.Rs1
	buf[3] = i.Rs2
	binary.LittleEndian.PutUint32(buf[4:], uint32(i.Imm))

	return buf
}

// Decode unpacks an instruction.
func Decode(buf []byte) (Inst, error) {
	if len(buf) < InstBytes {
		return Inst{}, fmt.Errorf("instruction needs %d bytes, got %d",
			InstBytes, len(buf))
	}

	inst := Inst{
		Op:  Opcode(buf[0]),
		Rd:  buf[1],
		Rs1: buf[2],
		Rs2: buf[3],
		Imm: int32(binary.LittleEndian.Uint32(buf[4:])),
	}

	if inst.Op >= numOps {
		return Inst{}, fmt.Errorf("unknown opcode %d", buf[0])
	}

	if inst.Rd >= NumRegs || inst.Rs1 >= NumRegs || inst.Rs2 >= NumRegs {
		return Inst{}, fmt.Errorf("register out of range in %v", inst)
	}

	return inst, nil
}

// IsBranch tells if the instruction may change the control flow.
func (i Inst) IsBranch() bool {
	switch i.Op {
	case OpBeq, OpBne, OpBlt, OpJal, OpJr:
		return true
	}

	return false
}

// IsConditional tells if the instruction is a conditional branch.
func (i Inst) IsConditional() bool {
	return i.Op == OpBeq || i.Op == OpBne || i.Op == OpBlt
}

// IsLoad tells if the instruction reads memory.
func (i Inst) IsLoad() bool {
	return i.Op == OpLd
}

// IsStore tells if the instruction writes memory.
func (i Inst) IsStore() bool {
	return i.Op == OpSt
}

// IsMem tells if the instruction accesses memory.
func (i Inst) IsMem() bool {
	return i.IsLoad() || i.IsStore()
}

// IsSerializing tells if the instruction must be the oldest in flight before
// it executes.
func (i Inst) IsSerializing() bool {
	return i.Op == OpHalt || i.Op == OpIret
}

// WritesRd tells if the instruction produces a register value.
func (i Inst) WritesRd() bool {
	switch i.Op {
	case OpAdd, OpSub, OpAnd, OpOr, OpXor, OpSlt, OpMul, OpAddi, OpLd, OpJal:
		return i.Rd != 0
	}

	return false
}

// SrcRegs returns the registers that the instruction reads.
func (i Inst) SrcRegs() []uint8 {
	switch i.Op {
	case OpAdd, OpSub, OpAnd, OpOr, OpXor, OpSlt, OpMul,
		OpSt, OpBeq, OpBne, OpBlt:
		return []uint8{i.Rs1, i.Rs2}
	case OpAddi, OpLd, OpJr:
		return []uint8{i.Rs1}
	}

	return nil
}

// Latency returns the execution cycles of non-memory instructions.
func (i Inst) Latency() int {
	if i.Op == OpMul {
		return 3
	}

	return 1
}

func (i Inst) String() string {
	switch i.Op {
	case OpNop, OpHalt, OpIret:
		return i.Op.String()
	case OpAddi:
		return fmt.Sprintf("addi r%d, r%d, %d", i.Rd, i.Rs1, i.Imm)
	case OpLd:
		return fmt.Sprintf("ld r%d, %d(r%d)", i.Rd, i.Imm, i.Rs1)
	case OpSt:
		return fmt.Sprintf("st r%d, %d(r%d)", i.Rs2, i.Imm, i.Rs1)
	case OpBeq, OpBne, OpBlt:
		return fmt.Sprintf("%s r%d, r%d, %d", i.Op, i.Rs1, i.Rs2, i.Imm)
	case OpJal:
		return fmt.Sprintf("jal r%d, %d", i.Rd, i.Imm)
	case OpJr:
		return fmt.Sprintf("jr r%d", i.Rs1)
	default:
		return fmt.Sprintf("%s r%d, r%d, r%d", i.Op, i.Rd, i.Rs1, i.Rs2)
	}
}
