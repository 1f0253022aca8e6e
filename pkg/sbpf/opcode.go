package sbpf

// Instruction classes
const (
	ClassLd    = 0x00
	ClassLdx   = 0x01
	ClassSt    = 0x02
	ClassStx   = 0x03
	ClassAlu   = 0x04
	ClassJmp   = 0x05
	ClassAlu64 = 0x07
)

// Size modifiers
const (
	SizeW  = 0x00
	SizeH  = 0x08
	SizeB  = 0x10
	SizeDw = 0x18
)

// Mode modifiers
const (
	ModeImm = 0x00
	ModeMem = 0x60
)

// Source modifiers
const (
	SrcK = 0x00
	SrcX = 0x08
)

// ALU operations
const (
	AluAdd  = 0x00
	AluSub  = 0x10
	AluMul  = 0x20
	AluDiv  = 0x30
	AluOr   = 0x40
	AluAnd  = 0x50
	AluLsh  = 0x60
	AluRsh  = 0x70
	AluNeg  = 0x80
	AluMod  = 0x90
	AluXor  = 0xa0
	AluMov  = 0xb0
	AluArsh = 0xc0
	AluEnd  = 0xd0
	AluSdiv = 0xe0
)

// Jump operations
const (
	JmpJa   = 0x00
	JmpJeq  = 0x10
	JmpJgt  = 0x20
	JmpJge  = 0x30
	JmpJset = 0x40
	JmpJne  = 0x50
	JmpJsgt = 0x60
	JmpJsge = 0x70
	JmpCall = 0x80
	JmpExit = 0x90
	JmpJlt  = 0xa0
	JmpJle  = 0xb0
	JmpJslt = 0xc0
	JmpJsle = 0xd0
)

// Opcodes
const (
	OpLddw = ClassLd | ModeImm | SizeDw

	OpLdxb  = ClassLdx | ModeMem | SizeB
	OpLdxh  = ClassLdx | ModeMem | SizeH
	OpLdxw  = ClassLdx | ModeMem | SizeW
	OpLdxdw = ClassLdx | ModeMem | SizeDw
	OpStb   = ClassSt | ModeMem | SizeB
	OpSth   = ClassSt | ModeMem | SizeH
	OpStw   = ClassSt | ModeMem | SizeW
	OpStdw  = ClassSt | ModeMem | SizeDw
	OpStxb  = ClassStx | ModeMem | SizeB
	OpStxh  = ClassStx | ModeMem | SizeH
	OpStxw  = ClassStx | ModeMem | SizeW
	OpStxdw = ClassStx | ModeMem | SizeDw

	OpAdd32Imm  = ClassAlu | SrcK | AluAdd
	OpAdd32Reg  = ClassAlu | SrcX | AluAdd
	OpSub32Imm  = ClassAlu | SrcK | AluSub
	OpSub32Reg  = ClassAlu | SrcX | AluSub
	OpMul32Imm  = ClassAlu | SrcK | AluMul
	OpMul32Reg  = ClassAlu | SrcX | AluMul
	OpDiv32Imm  = ClassAlu | SrcK | AluDiv
	OpDiv32Reg  = ClassAlu | SrcX | AluDiv
	OpOr32Imm   = ClassAlu | SrcK | AluOr
	OpOr32Reg   = ClassAlu | SrcX | AluOr
	OpAnd32Imm  = ClassAlu | SrcK | AluAnd
	OpAnd32Reg  = ClassAlu | SrcX | AluAnd
	OpLsh32Imm  = ClassAlu | SrcK | AluLsh
	OpLsh32Reg  = ClassAlu | SrcX | AluLsh
	OpRsh32Imm  = ClassAlu | SrcK | AluRsh
	OpRsh32Reg  = ClassAlu | SrcX | AluRsh
	OpNeg32     = ClassAlu | AluNeg
	OpMod32Imm  = ClassAlu | SrcK | AluMod
	OpMod32Reg  = ClassAlu | SrcX | AluMod
	OpXor32Imm  = ClassAlu | SrcK | AluXor
	OpXor32Reg  = ClassAlu | SrcX | AluXor
	OpMov32Imm  = ClassAlu | SrcK | AluMov
	OpMov32Reg  = ClassAlu | SrcX | AluMov
	OpArsh32Imm = ClassAlu | SrcK | AluArsh
	OpArsh32Reg = ClassAlu | SrcX | AluArsh
	OpLe        = ClassAlu | SrcK | AluEnd
	OpBe        = ClassAlu | SrcX | AluEnd
	OpSdiv32Imm = ClassAlu | SrcK | AluSdiv
	OpSdiv32Reg = ClassAlu | SrcX | AluSdiv

	OpAdd64Imm  = ClassAlu64 | SrcK | AluAdd
	OpAdd64Reg  = ClassAlu64 | SrcX | AluAdd
	OpSub64Imm  = ClassAlu64 | SrcK | AluSub
	OpSub64Reg  = ClassAlu64 | SrcX | AluSub
	OpMul64Imm  = ClassAlu64 | SrcK | AluMul
	OpMul64Reg  = ClassAlu64 | SrcX | AluMul
	OpDiv64Imm  = ClassAlu64 | SrcK | AluDiv
	OpDiv64Reg  = ClassAlu64 | SrcX | AluDiv
	OpOr64Imm   = ClassAlu64 | SrcK | AluOr
	OpOr64Reg   = ClassAlu64 | SrcX | AluOr
	OpAnd64Imm  = ClassAlu64 | SrcK | AluAnd
	OpAnd64Reg  = ClassAlu64 | SrcX | AluAnd
	OpLsh64Imm  = ClassAlu64 | SrcK | AluLsh
	OpLsh64Reg  = ClassAlu64 | SrcX | AluLsh
	OpRsh64Imm  = ClassAlu64 | SrcK | AluRsh
	OpRsh64Reg  = ClassAlu64 | SrcX | AluRsh
	OpNeg64     = ClassAlu64 | AluNeg
	OpMod64Imm  = ClassAlu64 | SrcK | AluMod
	OpMod64Reg  = ClassAlu64 | SrcX | AluMod
	OpXor64Imm  = ClassAlu64 | SrcK | AluXor
	OpXor64Reg  = ClassAlu64 | SrcX | AluXor
	OpMov64Imm  = ClassAlu64 | SrcK | AluMov
	OpMov64Reg  = ClassAlu64 | SrcX | AluMov
	OpArsh64Imm = ClassAlu64 | SrcK | AluArsh
	OpArsh64Reg = ClassAlu64 | SrcX | AluArsh
	OpSdiv64Imm = ClassAlu64 | SrcK | AluSdiv
	OpSdiv64Reg = ClassAlu64 | SrcX | AluSdiv

	OpJa      = ClassJmp | JmpJa
	OpJeqImm  = ClassJmp | SrcK | JmpJeq
	OpJeqReg  = ClassJmp | SrcX | JmpJeq
	OpJgtImm  = ClassJmp | SrcK | JmpJgt
	OpJgtReg  = ClassJmp | SrcX | JmpJgt
	OpJgeImm  = ClassJmp | SrcK | JmpJge
	OpJgeReg  = ClassJmp | SrcX | JmpJge
	OpJltImm  = ClassJmp | SrcK | JmpJlt
	OpJltReg  = ClassJmp | SrcX | JmpJlt
	OpJleImm  = ClassJmp | SrcK | JmpJle
	OpJleReg  = ClassJmp | SrcX | JmpJle
	OpJsetImm = ClassJmp | SrcK | JmpJset
	OpJsetReg = ClassJmp | SrcX | JmpJset
	OpJneImm  = ClassJmp | SrcK | JmpJne
	OpJneReg  = ClassJmp | SrcX | JmpJne
	OpJsgtImm = ClassJmp | SrcK | JmpJsgt
	OpJsgtReg = ClassJmp | SrcX | JmpJsgt
	OpJsgeImm = ClassJmp | SrcK | JmpJsge
	OpJsgeReg = ClassJmp | SrcX | JmpJsge
	OpJsltImm = ClassJmp | SrcK | JmpJslt
	OpJsltReg = ClassJmp | SrcX | JmpJslt
	OpJsleImm = ClassJmp | SrcK | JmpJsle
	OpJsleReg = ClassJmp | SrcX | JmpJsle
	OpCall    = ClassJmp | SrcK | JmpCall
	OpCallx   = ClassJmp | SrcX | JmpCall
	OpExit    = ClassJmp | JmpExit
)

var mnemonics = map[uint8]string{
	OpLddw:  "lddw",
	OpLdxb:  "ldxb",
	OpLdxh:  "ldxh",
	OpLdxw:  "ldxw",
	OpLdxdw: "ldxdw",
	OpStb:   "stb",
	OpSth:   "sth",
	OpStw:   "stw",
	OpStdw:  "stdw",
	OpStxb:  "stxb",
	OpStxh:  "stxh",
	OpStxw:  "stxw",
	OpStxdw: "stxdw",

	OpAdd32Imm: "add32", OpAdd32Reg: "add32",
	OpSub32Imm: "sub32", OpSub32Reg: "sub32",
	OpMul32Imm: "mul32", OpMul32Reg: "mul32",
	OpDiv32Imm: "div32", OpDiv32Reg: "div32",
	OpOr32Imm: "or32", OpOr32Reg: "or32",
	OpAnd32Imm: "and32", OpAnd32Reg: "and32",
	OpLsh32Imm: "lsh32", OpLsh32Reg: "lsh32",
	OpRsh32Imm: "rsh32", OpRsh32Reg: "rsh32",
	OpNeg32:    "neg32",
	OpMod32Imm: "mod32", OpMod32Reg: "mod32",
	OpXor32Imm: "xor32", OpXor32Reg: "xor32",
	OpMov32Imm: "mov32", OpMov32Reg: "mov32",
	OpArsh32Imm: "arsh32", OpArsh32Reg: "arsh32",
	OpLe: "le", OpBe: "be",
	OpSdiv32Imm: "sdiv32", OpSdiv32Reg: "sdiv32",

	OpAdd64Imm: "add64", OpAdd64Reg: "add64",
	OpSub64Imm: "sub64", OpSub64Reg: "sub64",
	OpMul64Imm: "mul64", OpMul64Reg: "mul64",
	OpDiv64Imm: "div64", OpDiv64Reg: "div64",
	OpOr64Imm: "or64", OpOr64Reg: "or64",
	OpAnd64Imm: "and64", OpAnd64Reg: "and64",
	OpLsh64Imm: "lsh64", OpLsh64Reg: "lsh64",
	OpRsh64Imm: "rsh64", OpRsh64Reg: "rsh64",
	OpNeg64:    "neg64",
	OpMod64Imm: "mod64", OpMod64Reg: "mod64",
	OpXor64Imm: "xor64", OpXor64Reg: "xor64",
	OpMov64Imm: "mov64", OpMov64Reg: "mov64",
	OpArsh64Imm: "arsh64", OpArsh64Reg: "arsh64",
	OpSdiv64Imm: "sdiv64", OpSdiv64Reg: "sdiv64",

	OpJa:      "ja",
	OpJeqImm:  "jeq", OpJeqReg: "jeq",
	OpJgtImm:  "jgt", OpJgtReg: "jgt",
	OpJgeImm:  "jge", OpJgeReg: "jge",
	OpJltImm:  "jlt", OpJltReg: "jlt",
	OpJleImm:  "jle", OpJleReg: "jle",
	OpJsetImm: "jset", OpJsetReg: "jset",
	OpJneImm:  "jne", OpJneReg: "jne",
	OpJsgtImm: "jsgt", OpJsgtReg: "jsgt",
	OpJsgeImm: "jsge", OpJsgeReg: "jsge",
	OpJsltImm: "jslt", OpJsltReg: "jslt",
	OpJsleImm: "jsle", OpJsleReg: "jsle",
	OpCall:    "call",
	OpCallx:   "callx",
	OpExit:    "exit",
}

// IsValidOpcode reports whether op is part of the supported instruction set.
func IsValidOpcode(op uint8) bool {
	_, ok := mnemonics[op]
	return ok
}

// IsLongIns returns true if op occupies two slots.
func IsLongIns(op uint8) bool {
	return op == OpLddw
}

// IsBranch reports whether op ends a straight-line instruction sequence.
func IsBranch(op uint8) bool {
	return op&0x07 == ClassJmp
}

func isConditionalJump(op uint8) bool {
	return IsBranch(op) && op != OpJa && op != OpCall && op != OpCallx && op != OpExit
}
