package sbpf

import "encoding/binary"

// SlotSize is the size of one instruction slot in bytes.
const SlotSize = 8

// Slot holds the content of one sBPF instruction slot.
type Slot uint64

// GetSlot reads an instruction slot from the start of buf.
func GetSlot(buf []byte) Slot {
	return Slot(binary.LittleEndian.Uint64(buf))
}

// NewSlot encodes an instruction.
func NewSlot(op uint8, dst uint8, src uint8, off int16, imm int32) Slot {
	return Slot(uint64(op) |
		uint64(dst&0xf)<<8 |
		uint64(src&0xf)<<12 |
		uint64(uint16(off))<<16 |
		uint64(uint32(imm))<<32)
}

// Op returns the opcode field.
func (s Slot) Op() uint8 {
	return uint8(s)
}

// Dst returns the destination register field.
func (s Slot) Dst() uint8 {
	return uint8(s>>8) & 0xf
}

// Src returns the source register field.
func (s Slot) Src() uint8 {
	return uint8(s>>12) & 0xf
}

// Off returns the offset field.
func (s Slot) Off() int16 {
	return int16(s >> 16)
}

// Imm returns the immediate field.
func (s Slot) Imm() int32 {
	return int32(s >> 32)
}

// Uimm returns the immediate field as unsigned.
func (s Slot) Uimm() uint32 {
	return uint32(s >> 32)
}

// Bytes returns the little-endian encoding of the slot.
func (s Slot) Bytes() []byte {
	var b [SlotSize]byte
	binary.LittleEndian.PutUint64(b[:], uint64(s))
	return b[:]
}
