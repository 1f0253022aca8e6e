package sealevel

import (
	"encoding/binary"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

type Instruction struct {
	ProgramId solana.PublicKey
	Accounts  []AccountMeta
	Data      []byte
}

const AccountMetaSize = 34

type AccountMeta struct {
	Pubkey     solana.PublicKey
	IsSigner   bool
	IsWritable bool
}

type InstructionAccount struct {
	IndexInTransaction uint64
	IndexInCaller      uint64
	IndexInCallee      uint64
	IsSigner           bool
	IsWritable         bool
}

func (accountMeta *AccountMeta) UnmarshalWithDecoder(decoder *bin.Decoder) error {
	pk, err := decoder.ReadBytes(solana.PublicKeyLength)
	if err != nil {
		return err
	}
	copy(accountMeta.Pubkey[:], pk)

	accountMeta.IsSigner, err = readBool(decoder)
	if err != nil {
		return err
	}
	accountMeta.IsWritable, err = readBool(decoder)
	return err
}

func (accountMeta *AccountMeta) Marshal() []byte {
	var out [AccountMetaSize]byte
	copy(out[:], accountMeta.Pubkey[:])
	if accountMeta.IsSigner {
		out[32] = 1
	}
	if accountMeta.IsWritable {
		out[33] = 1
	}
	return out[:]
}

func readBool(decoder *bin.Decoder) (bool, error) {
	b, err := decoder.ReadByte()
	if err != nil {
		return false, err
	}
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, SyscallErrMalformedBool
	}
}

// C ABI

const SolInstructionStructSize = 40

type SolInstruction struct {
	ProgramIdAddr uint64
	AccountsAddr  uint64
	AccountsLen   uint64
	DataAddr      uint64
	DataLen       uint64
}

func (solInstr *SolInstruction) UnmarshalWithDecoder(decoder *bin.Decoder) (err error) {
	if solInstr.ProgramIdAddr, err = decoder.ReadUint64(bin.LE); err != nil {
		return
	}
	if solInstr.AccountsAddr, err = decoder.ReadUint64(bin.LE); err != nil {
		return
	}
	if solInstr.AccountsLen, err = decoder.ReadUint64(bin.LE); err != nil {
		return
	}
	if solInstr.DataAddr, err = decoder.ReadUint64(bin.LE); err != nil {
		return
	}
	solInstr.DataLen, err = decoder.ReadUint64(bin.LE)
	return
}

const SolAccountMetaCSize = 16

type SolAccountMeta struct {
	PubkeyAddr uint64
	IsWritable byte
	IsSigner   byte
}

func (accountMeta *SolAccountMeta) UnmarshalWithDecoder(decoder *bin.Decoder) (err error) {
	if accountMeta.PubkeyAddr, err = decoder.ReadUint64(bin.LE); err != nil {
		return
	}
	if accountMeta.IsWritable, err = decoder.ReadByte(); err != nil {
		return
	}
	if accountMeta.IsSigner, err = decoder.ReadByte(); err != nil {
		return
	}
	_, err = decoder.ReadBytes(6)
	return
}

const SolAccountInfoCSize = 56

type SolAccountInfoC struct {
	KeyAddr      uint64
	LamportsAddr uint64
	DataLen      uint64
	DataAddr     uint64
	OwnerAddr    uint64
	RentEpoch    uint64
	IsSigner     byte
	IsWritable   byte
	Executable   byte
}

func (info *SolAccountInfoC) UnmarshalWithDecoder(decoder *bin.Decoder) (err error) {
	if info.KeyAddr, err = decoder.ReadUint64(bin.LE); err != nil {
		return
	}
	if info.LamportsAddr, err = decoder.ReadUint64(bin.LE); err != nil {
		return
	}
	if info.DataLen, err = decoder.ReadUint64(bin.LE); err != nil {
		return
	}
	if info.DataAddr, err = decoder.ReadUint64(bin.LE); err != nil {
		return
	}
	if info.OwnerAddr, err = decoder.ReadUint64(bin.LE); err != nil {
		return
	}
	if info.RentEpoch, err = decoder.ReadUint64(bin.LE); err != nil {
		return
	}
	if info.IsSigner, err = decoder.ReadByte(); err != nil {
		return
	}
	if info.IsWritable, err = decoder.ReadByte(); err != nil {
		return
	}
	if info.Executable, err = decoder.ReadByte(); err != nil {
		return
	}
	_, err = decoder.ReadBytes(5)
	return
}

const SolSignerSeedsCSize = 16

type VectorDescrC struct {
	Addr uint64
	Len  uint64
}

func (vectorDescr *VectorDescrC) UnmarshalWithDecoder(decoder *bin.Decoder) (err error) {
	if vectorDescr.Addr, err = decoder.ReadUint64(bin.LE); err != nil {
		return
	}
	vectorDescr.Len, err = decoder.ReadUint64(bin.LE)
	return
}

// Rust ABI

const StableInstructionSize = 80

type StableVec struct {
	Addr uint64
	Cap  uint64
	Len  uint64
}

func (vec *StableVec) UnmarshalWithDecoder(decoder *bin.Decoder) (err error) {
	if vec.Addr, err = decoder.ReadUint64(bin.LE); err != nil {
		return
	}
	if vec.Cap, err = decoder.ReadUint64(bin.LE); err != nil {
		return
	}
	vec.Len, err = decoder.ReadUint64(bin.LE)
	return
}

type StableInstruction struct {
	Accounts  StableVec
	Data      StableVec
	ProgramId solana.PublicKey
}

func (ix *StableInstruction) UnmarshalWithDecoder(decoder *bin.Decoder) error {
	if err := ix.Accounts.UnmarshalWithDecoder(decoder); err != nil {
		return err
	}
	if err := ix.Data.UnmarshalWithDecoder(decoder); err != nil {
		return err
	}
	pk, err := decoder.ReadBytes(solana.PublicKeyLength)
	if err != nil {
		return err
	}
	copy(ix.ProgramId[:], pk)
	return nil
}

const AccountInfoRustSize = 48

// AccountInfoRust is the in-memory layout of an AccountInfo. Lamports and
// data live behind Rc<RefCell<..>> boxes whose payload starts at offset 24.
type AccountInfoRust struct {
	KeyAddr      uint64
	LamportsAddr uint64
	DataAddr     uint64
	OwnerAddr    uint64
	RentEpoch    uint64
	IsSigner     byte
	IsWritable   byte
	Executable   byte
}

const RefCellRcPayloadOffset = 24

func (info *AccountInfoRust) UnmarshalWithDecoder(decoder *bin.Decoder) (err error) {
	if info.KeyAddr, err = decoder.ReadUint64(bin.LE); err != nil {
		return
	}
	if info.LamportsAddr, err = decoder.ReadUint64(bin.LE); err != nil {
		return
	}
	if info.DataAddr, err = decoder.ReadUint64(bin.LE); err != nil {
		return
	}
	if info.OwnerAddr, err = decoder.ReadUint64(bin.LE); err != nil {
		return
	}
	if info.RentEpoch, err = decoder.ReadUint64(bin.LE); err != nil {
		return
	}
	if info.IsSigner, err = decoder.ReadByte(); err != nil {
		return
	}
	if info.IsWritable, err = decoder.ReadByte(); err != nil {
		return
	}
	if info.Executable, err = decoder.ReadByte(); err != nil {
		return
	}
	_, err = decoder.ReadBytes(5)
	return
}

const ProcessedSiblingInstructionSize = 16

type ProcessedSiblingInstruction struct {
	DataLen     uint64
	AccountsLen uint64
}

func (psi *ProcessedSiblingInstruction) UnmarshalWithDecoder(decoder *bin.Decoder) (err error) {
	if psi.DataLen, err = decoder.ReadUint64(bin.LE); err != nil {
		return
	}
	psi.AccountsLen, err = decoder.ReadUint64(bin.LE)
	return
}

func (psi *ProcessedSiblingInstruction) Marshal() []byte {
	out := make([]byte, ProcessedSiblingInstructionSize)
	binary.LittleEndian.PutUint64(out[0:8], psi.DataLen)
	binary.LittleEndian.PutUint64(out[8:16], psi.AccountsLen)
	return out
}
