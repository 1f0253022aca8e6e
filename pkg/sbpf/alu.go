package sbpf

import (
	"math"
	"math/bits"
)

// aluFunc computes dst' from the destination register and the second
// operand of an ALU instruction.
type aluFunc func(a, b uint64) (uint64, error)

// condFunc decides whether a conditional jump is taken.
type condFunc func(a, b uint64) bool

// Opcode-indexed semantics shared by both execution strategies.
// A nil entry means the opcode is not an ALU op or jump respectively.
var (
	aluTable  [256]aluFunc
	condTable [256]condFunc
)

func init() {
	for op, fn := range pureAlu {
		aluTable[op] = pure(fn)
		aluTable[op|SrcX] = pure(fn)
	}
	errAlu := map[uint8]aluFunc{
		OpDiv32Imm:  div32,
		OpMod32Imm:  mod32,
		OpSdiv32Imm: sdiv32,
		OpDiv64Imm:  div64,
		OpMod64Imm:  mod64,
		OpSdiv64Imm: sdiv64,
	}
	for op, fn := range errAlu {
		aluTable[op] = fn
		aluTable[op|SrcX] = fn
	}
	aluTable[OpNeg32] = pure(func(a, _ uint64) uint64 { return uint64(uint32(-int32(a))) })
	aluTable[OpNeg64] = pure(func(a, _ uint64) uint64 { return uint64(-int64(a)) })
	aluTable[OpLe] = toLittleEndian
	aluTable[OpBe] = toBigEndian

	for _, op := range []uint8{
		OpJeqImm, OpJgtImm, OpJgeImm, OpJltImm, OpJleImm, OpJsetImm,
		OpJneImm, OpJsgtImm, OpJsgeImm, OpJsltImm, OpJsleImm,
	} {
		condTable[op] = jumpCondition(op)
		condTable[op|SrcX] = condTable[op]
	}
}

func pure(fn func(a, b uint64) uint64) aluFunc {
	return func(a, b uint64) (uint64, error) {
		return fn(a, b), nil
	}
}

// readsSrc reports whether the second operand of op is the source register.
// Byte swaps carry the SrcX bit to select big endian, not a register.
func readsSrc(op uint8) bool {
	return op&SrcX != 0 && op != OpBe
}

// immOperand returns the immediate operand of ins as seen by its opcode.
// 32-bit ALU ops take it zero-extended, everything else sign-extended.
func immOperand(ins Slot) uint64 {
	if ins.Op()&0x07 == ClassAlu {
		return uint64(ins.Uimm())
	}
	return uint64(ins.Imm())
}

func operand(ins Slot, r *[11]uint64) uint64 {
	if readsSrc(ins.Op()) {
		return r[ins.Src()]
	}
	return immOperand(ins)
}

// pureAlu maps the immediate form of each infallible two-operand ALU opcode
// to its semantics. 32-bit forms receive b zero-extended, which is why
// add/sub/mul truncate b before sign extending.
var pureAlu = map[uint8]func(a, b uint64) uint64{
	OpAdd32Imm:  func(a, b uint64) uint64 { return uint64(int32(a) + int32(b)) },
	OpSub32Imm:  func(a, b uint64) uint64 { return uint64(int32(a) - int32(b)) },
	OpMul32Imm:  func(a, b uint64) uint64 { return uint64(int32(a) * int32(b)) },
	OpOr32Imm:   func(a, b uint64) uint64 { return uint64(uint32(a) | uint32(b)) },
	OpAnd32Imm:  func(a, b uint64) uint64 { return uint64(uint32(a) & uint32(b)) },
	OpXor32Imm:  func(a, b uint64) uint64 { return uint64(uint32(a) ^ uint32(b)) },
	OpLsh32Imm:  func(a, b uint64) uint64 { return uint64(uint32(a) << (uint32(b) & 0x1f)) },
	OpRsh32Imm:  func(a, b uint64) uint64 { return uint64(uint32(a) >> (uint32(b) & 0x1f)) },
	OpArsh32Imm: func(a, b uint64) uint64 { return uint64(uint32(int32(a) >> (uint32(b) & 0x1f))) },
	OpMov32Imm:  func(_, b uint64) uint64 { return uint64(uint32(b)) },

	OpAdd64Imm:  func(a, b uint64) uint64 { return a + b },
	OpSub64Imm:  func(a, b uint64) uint64 { return a - b },
	OpMul64Imm:  func(a, b uint64) uint64 { return a * b },
	OpOr64Imm:   func(a, b uint64) uint64 { return a | b },
	OpAnd64Imm:  func(a, b uint64) uint64 { return a & b },
	OpXor64Imm:  func(a, b uint64) uint64 { return a ^ b },
	OpLsh64Imm:  func(a, b uint64) uint64 { return a << (b & 0x3f) },
	OpRsh64Imm:  func(a, b uint64) uint64 { return a >> (b & 0x3f) },
	OpArsh64Imm: func(a, b uint64) uint64 { return uint64(int64(a) >> (b & 0x3f)) },
	OpMov64Imm:  func(_, b uint64) uint64 { return b },
}

func div32(a, b uint64) (uint64, error) {
	if uint32(b) == 0 {
		return 0, ExcDivideByZero
	}
	return uint64(uint32(a) / uint32(b)), nil
}

func mod32(a, b uint64) (uint64, error) {
	if uint32(b) == 0 {
		return 0, ExcDivideByZero
	}
	return uint64(uint32(a) % uint32(b)), nil
}

func div64(a, b uint64) (uint64, error) {
	if b == 0 {
		return 0, ExcDivideByZero
	}
	return a / b, nil
}

func mod64(a, b uint64) (uint64, error) {
	if b == 0 {
		return 0, ExcDivideByZero
	}
	return a % b, nil
}

func sdiv32(a, b uint64) (uint64, error) {
	x, y := int32(a), int32(b)
	if y == 0 {
		return 0, ExcDivideByZero
	}
	if x == math.MinInt32 && y == -1 {
		return 0, ExcDivideOverflow
	}
	return uint64(x / y), nil
}

func sdiv64(a, b uint64) (uint64, error) {
	x, y := int64(a), int64(b)
	if y == 0 {
		return 0, ExcDivideByZero
	}
	if x == math.MinInt64 && y == -1 {
		return 0, ExcDivideOverflow
	}
	return uint64(x / y), nil
}

// toLittleEndian truncates a to the bit width in b. Host order is little
// endian already.
func toLittleEndian(a, width uint64) (uint64, error) {
	switch width {
	case 16:
		return a & math.MaxUint16, nil
	case 32:
		return a & math.MaxUint32, nil
	case 64:
		return a, nil
	}
	return 0, ExcInvalidInstruction
}

func toBigEndian(a, width uint64) (uint64, error) {
	switch width {
	case 16:
		return uint64(bits.ReverseBytes16(uint16(a))), nil
	case 32:
		return uint64(bits.ReverseBytes32(uint32(a))), nil
	case 64:
		return bits.ReverseBytes64(a), nil
	}
	return 0, ExcInvalidInstruction
}

func jumpCondition(op uint8) condFunc {
	switch op &^ SrcX {
	case OpJeqImm:
		return func(a, b uint64) bool { return a == b }
	case OpJgtImm:
		return func(a, b uint64) bool { return a > b }
	case OpJgeImm:
		return func(a, b uint64) bool { return a >= b }
	case OpJltImm:
		return func(a, b uint64) bool { return a < b }
	case OpJleImm:
		return func(a, b uint64) bool { return a <= b }
	case OpJsetImm:
		return func(a, b uint64) bool { return a&b != 0 }
	case OpJneImm:
		return func(a, b uint64) bool { return a != b }
	case OpJsgtImm:
		return func(a, b uint64) bool { return int64(a) > int64(b) }
	case OpJsgeImm:
		return func(a, b uint64) bool { return int64(a) >= int64(b) }
	case OpJsltImm:
		return func(a, b uint64) bool { return int64(a) < int64(b) }
	case OpJsleImm:
		return func(a, b uint64) bool { return int64(a) <= int64(b) }
	}
	return nil
}
