package sealevel

import (
	"encoding/binary"

	"github.com/Overclock-Validator/quartz/pkg/accounts"
	"github.com/Overclock-Validator/quartz/pkg/base58"
	"github.com/gagliardetto/solana-go"
)

const SysvarInstructionsAddrStr = "Sysvar1nstructions1111111111111111111111111"

var SysvarInstructionsAddr = solana.PublicKey(base58.MustDecodeFromString(SysvarInstructionsAddrStr))

const (
	instructionSysvarAcctMetaIsSigner   = byte(0b00000001)
	instructionSysvarAcctMetaIsWritable = byte(0b00000010)
)

func instructionsMarshaledSize(instructions []Instruction) uint64 {
	var marshaledSize uint64

	marshaledSize += 2                             // num_instructions
	marshaledSize += uint64(2 * len(instructions)) // instruction offsets

	for _, instr := range instructions {
		marshaledSize += 2                                                          // num_accounts
		marshaledSize += uint64(len(instr.Accounts) * (1 + solana.PublicKeyLength)) // flags + pubkey
		marshaledSize += uint64(solana.PublicKeyLength + 2 + len(instr.Data))        // program_id, data_len, data
	}

	marshaledSize += 2 // current_instr_idx

	return marshaledSize
}

// marshalInstructions serializes the top level instructions of a
// transaction in the instructions sysvar layout.
func marshalInstructions(instructions []Instruction, currentIdx uint16) []byte {
	data := make([]byte, instructionsMarshaledSize(instructions))

	var offset uint64

	binary.LittleEndian.PutUint16(data[offset:], uint16(len(instructions)))
	offset += 2

	serializedInstrOffset := offset
	offset += 2 * uint64(len(instructions))

	for _, instr := range instructions {
		binary.LittleEndian.PutUint16(data[serializedInstrOffset:], uint16(offset))
		serializedInstrOffset += 2

		binary.LittleEndian.PutUint16(data[offset:], uint16(len(instr.Accounts)))
		offset += 2

		for _, acctMeta := range instr.Accounts {
			var flags byte
			if acctMeta.IsSigner {
				flags |= instructionSysvarAcctMetaIsSigner
			}
			if acctMeta.IsWritable {
				flags |= instructionSysvarAcctMetaIsWritable
			}
			data[offset] = flags
			offset++

			copy(data[offset:], acctMeta.Pubkey[:])
			offset += solana.PublicKeyLength
		}

		copy(data[offset:], instr.ProgramId[:])
		offset += solana.PublicKeyLength

		binary.LittleEndian.PutUint16(data[offset:], uint16(len(instr.Data)))
		offset += 2

		copy(data[offset:], instr.Data)
		offset += uint64(len(instr.Data))
	}

	binary.LittleEndian.PutUint16(data[offset:], currentIdx)

	return data
}

// LoadInstructionAt decodes the instruction at index idx from instructions
// sysvar data.
func LoadInstructionAt(data []byte, idx uint16) (Instruction, error) {
	if len(data) < 2 {
		return Instruction{}, InstrErrInvalidAccountData
	}
	numInstrs := binary.LittleEndian.Uint16(data)
	if idx >= numInstrs || len(data) < 2+2*int(numInstrs) {
		return Instruction{}, InstrErrInvalidArgument
	}

	offset := int(binary.LittleEndian.Uint16(data[2+2*int(idx):]))
	read := func(n int) ([]byte, error) {
		if offset+n > len(data) {
			return nil, InstrErrInvalidAccountData
		}
		b := data[offset : offset+n]
		offset += n
		return b, nil
	}

	b, err := read(2)
	if err != nil {
		return Instruction{}, err
	}
	numAccts := int(binary.LittleEndian.Uint16(b))

	var instr Instruction
	for i := 0; i < numAccts; i++ {
		b, err = read(1 + solana.PublicKeyLength)
		if err != nil {
			return Instruction{}, err
		}
		instr.Accounts = append(instr.Accounts, AccountMeta{
			Pubkey:     solana.PublicKeyFromBytes(b[1:]),
			IsSigner:   b[0]&instructionSysvarAcctMetaIsSigner != 0,
			IsWritable: b[0]&instructionSysvarAcctMetaIsWritable != 0,
		})
	}

	if b, err = read(solana.PublicKeyLength); err != nil {
		return Instruction{}, err
	}
	instr.ProgramId = solana.PublicKeyFromBytes(b)

	if b, err = read(2); err != nil {
		return Instruction{}, err
	}
	if b, err = read(int(binary.LittleEndian.Uint16(b))); err != nil {
		return Instruction{}, err
	}
	instr.Data = append([]byte(nil), b...)
	return instr, nil
}

func newInstructionsSysvarAccount(instructions []Instruction, currentIdx uint16) *accounts.Account {
	return &accounts.Account{
		Key:      SysvarInstructionsAddr,
		Lamports: 1,
		Data:     marshalInstructions(instructions, currentIdx),
		Owner:    SysvarOwnerAddr,
	}
}

// checkInstructionsSysvarReadonly rejects instructions that mark the
// instructions sysvar writable.
func checkInstructionsSysvarReadonly(txCtx *TransactionCtx, instrAccts []InstructionAccount) error {
	for _, ia := range instrAccts {
		if !ia.IsWritable {
			continue
		}
		key, err := txCtx.KeyOfAccountAtIndex(ia.IndexInTransaction)
		if err != nil {
			return err
		}
		if key == SysvarInstructionsAddr {
			return InstrErrInvalidAccountIndex
		}
	}
	return nil
}
