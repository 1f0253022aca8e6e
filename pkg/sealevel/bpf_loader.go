package sealevel

import (
	"bytes"
	"encoding/base64"

	"github.com/Overclock-Validator/quartz/pkg/accounts"
	"github.com/Overclock-Validator/quartz/pkg/metrics"
	"github.com/Overclock-Validator/quartz/pkg/safemath"
	"github.com/Overclock-Validator/quartz/pkg/sbpf"
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"k8s.io/klog/v2"
)

const (
	UpgradeableLoaderStateTypeUninitialized = iota
	UpgradeableLoaderStateTypeBuffer
	UpgradeableLoaderStateTypeProgram
	UpgradeableLoaderStateTypeProgramData
)

// upgradeable loader account states
type UpgradeableLoaderStateBuffer struct {
	AuthorityAddress *solana.PublicKey
}

type UpgradeableLoaderStateProgram struct {
	ProgramDataAddress solana.PublicKey
}

type UpgradeableLoaderStateProgramData struct {
	Slot                    uint64
	UpgradeAuthorityAddress *solana.PublicKey
}

type UpgradeableLoaderState struct {
	Type        uint32
	Buffer      UpgradeableLoaderStateBuffer
	Program     UpgradeableLoaderStateProgram
	ProgramData UpgradeableLoaderStateProgramData
}

const upgradeableLoaderSizeOfProgram = 36
const upgradeableLoaderSizeOfProgramDataMetaData = 45

func readOptionalPubkey(decoder *bin.Decoder) (*solana.PublicKey, error) {
	tag, err := decoder.ReadByte()
	if err != nil {
		return nil, err
	}
	switch tag {
	case 0:
		return nil, nil
	case 1:
		pkBytes, err := decoder.ReadBytes(solana.PublicKeyLength)
		if err != nil {
			return nil, err
		}
		pk := solana.PublicKeyFromBytes(pkBytes)
		return pk.ToPointer(), nil
	}
	return nil, InstrErrInvalidAccountData
}

func writeOptionalPubkey(encoder *bin.Encoder, pk *solana.PublicKey) error {
	if pk == nil {
		return encoder.WriteBool(false)
	}
	if err := encoder.WriteBool(true); err != nil {
		return err
	}
	return encoder.WriteBytes(pk[:], false)
}

func (buffer *UpgradeableLoaderStateBuffer) UnmarshalWithDecoder(decoder *bin.Decoder) (err error) {
	buffer.AuthorityAddress, err = readOptionalPubkey(decoder)
	return
}

func (buffer *UpgradeableLoaderStateBuffer) MarshalWithEncoder(encoder *bin.Encoder) error {
	return writeOptionalPubkey(encoder, buffer.AuthorityAddress)
}

func (program *UpgradeableLoaderStateProgram) UnmarshalWithDecoder(decoder *bin.Decoder) error {
	pkBytes, err := decoder.ReadBytes(solana.PublicKeyLength)
	if err != nil {
		return err
	}
	copy(program.ProgramDataAddress[:], pkBytes)
	return nil
}

func (program *UpgradeableLoaderStateProgram) MarshalWithEncoder(encoder *bin.Encoder) error {
	return encoder.WriteBytes(program.ProgramDataAddress[:], false)
}

func (programData *UpgradeableLoaderStateProgramData) UnmarshalWithDecoder(decoder *bin.Decoder) error {
	var err error
	programData.Slot, err = decoder.ReadUint64(bin.LE)
	if err != nil {
		return err
	}
	programData.UpgradeAuthorityAddress, err = readOptionalPubkey(decoder)
	return err
}

func (programData *UpgradeableLoaderStateProgramData) MarshalWithEncoder(encoder *bin.Encoder) error {
	if err := encoder.WriteUint64(programData.Slot, bin.LE); err != nil {
		return err
	}
	return writeOptionalPubkey(encoder, programData.UpgradeAuthorityAddress)
}

func (state *UpgradeableLoaderState) UnmarshalWithDecoder(decoder *bin.Decoder) error {
	var err error
	state.Type, err = decoder.ReadUint32(bin.LE)
	if err != nil {
		return err
	}

	switch state.Type {
	case UpgradeableLoaderStateTypeUninitialized:
	case UpgradeableLoaderStateTypeBuffer:
		err = state.Buffer.UnmarshalWithDecoder(decoder)
	case UpgradeableLoaderStateTypeProgram:
		err = state.Program.UnmarshalWithDecoder(decoder)
	case UpgradeableLoaderStateTypeProgramData:
		err = state.ProgramData.UnmarshalWithDecoder(decoder)
	default:
		err = InstrErrInvalidAccountData
	}
	return err
}

func (state *UpgradeableLoaderState) MarshalWithEncoder(encoder *bin.Encoder) error {
	err := encoder.WriteUint32(state.Type, bin.LE)
	if err != nil {
		return err
	}

	switch state.Type {
	case UpgradeableLoaderStateTypeUninitialized:
	case UpgradeableLoaderStateTypeBuffer:
		err = state.Buffer.MarshalWithEncoder(encoder)
	case UpgradeableLoaderStateTypeProgram:
		err = state.Program.MarshalWithEncoder(encoder)
	case UpgradeableLoaderStateTypeProgramData:
		err = state.ProgramData.MarshalWithEncoder(encoder)
	default:
		panic("attempting to serialize up invalid upgradeable loader state - programming error")
	}
	return err
}

func unmarshalUpgradeableLoaderState(data []byte) (*UpgradeableLoaderState, error) {
	state := new(UpgradeableLoaderState)
	if err := state.UnmarshalWithDecoder(bin.NewBinDecoder(data)); err != nil {
		return nil, InstrErrInvalidAccountData
	}
	return state, nil
}

func marshalUpgradeableLoaderState(state *UpgradeableLoaderState) ([]byte, error) {
	buffer := new(bytes.Buffer)
	if err := state.MarshalWithEncoder(bin.NewBinEncoder(buffer)); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

// NewUpgradeableProgramAccounts lays out a deployed upgradeable program: a
// program account pointing at a programdata account that holds the ELF
// deployed at slot.
func NewUpgradeableProgramAccounts(programId, programDataId solana.PublicKey, elf []byte, slot uint64, authority *solana.PublicKey) (program, programData accounts.Account, err error) {
	programState, err := marshalUpgradeableLoaderState(&UpgradeableLoaderState{
		Type:    UpgradeableLoaderStateTypeProgram,
		Program: UpgradeableLoaderStateProgram{ProgramDataAddress: programDataId},
	})
	if err != nil {
		return
	}
	dataState, err := marshalUpgradeableLoaderState(&UpgradeableLoaderState{
		Type:        UpgradeableLoaderStateTypeProgramData,
		ProgramData: UpgradeableLoaderStateProgramData{Slot: slot, UpgradeAuthorityAddress: authority},
	})
	if err != nil {
		return
	}

	data := make([]byte, upgradeableLoaderSizeOfProgramDataMetaData+len(elf))
	copy(data, dataState)
	copy(data[upgradeableLoaderSizeOfProgramDataMetaData:], elf)

	rent := DefaultRent()
	program = accounts.Account{
		Key:        programId,
		Lamports:   rent.MinimumBalance(upgradeableLoaderSizeOfProgram),
		Data:       programState,
		Owner:      BpfLoaderUpgradeableAddr,
		Executable: true,
	}
	programData = accounts.Account{
		Key:      programDataId,
		Lamports: rent.MinimumBalance(uint64(len(data))),
		Data:     data,
		Owner:    BpfLoaderUpgradeableAddr,
	}
	return
}

// calculateHeapCost charges heapCost for every 32 KiB page beyond the
// first.
func calculateHeapCost(heapSize uint32, heapCost uint64) uint64 {
	const pageSize = uint64(32 * 1024)
	pages := (uint64(heapSize) + pageSize - 1) / pageSize
	return safemath.SaturatingMulU64(safemath.SaturatingSubU64(pages, 1), heapCost)
}

// BpfLoaderProgramExecute runs the program of the current frame. Programs
// owned by the native loader are the loaders themselves; their management
// instructions are not supported.
func BpfLoaderProgramExecute(execCtx *ExecutionCtx) error {
	txCtx := execCtx.TransactionContext
	instrCtx, err := txCtx.CurrentInstructionCtx()
	if err != nil {
		return err
	}

	programAcct, err := instrCtx.BorrowLastProgramAccount(txCtx)
	if err != nil {
		return err
	}
	defer programAcct.Drop()

	programId := programAcct.Key()

	if programAcct.Owner() == NativeLoaderAddr {
		var cost uint64
		switch programId {
		case BpfLoaderUpgradeableAddr:
			cost = CUUpgradeableLoaderComputeUnits
		case BpfLoader2Addr:
			cost = CUDefaultLoaderComputeUnits
		case BpfLoaderDeprecatedAddr:
			cost = CUDeprecatedLoaderComputeUnits
		}
		if err = execCtx.ComputeMeter.Consume(cost); err != nil {
			return err
		}
		logf(execCtx.Log, "Program management instructions are not supported")
		return InstrErrUnsupportedProgramId
	}

	if !programAcct.IsExecutable() {
		klog.V(2).Infof("program %s is not executable", programId)
		return InstrErrUnsupportedProgramId
	}

	program, err := execCtx.loadProgram(programAcct)
	if err != nil {
		logf(execCtx.Log, "Program %s failed to load: %s", programId, err)
		return err
	}
	programAcct.Drop()

	return executeProgram(execCtx, programId, program)
}

// loadProgram resolves the module of a program account. Preloaded modules
// take precedence over account data.
func (execCtx *ExecutionCtx) loadProgram(programAcct *BorrowedAccount) (*sbpf.Program, error) {
	if program, ok := execCtx.programs[programAcct.Key()]; ok {
		return program, nil
	}

	var elf []byte
	switch programAcct.Owner() {
	case BpfLoader2Addr, BpfLoaderDeprecatedAddr:
		elf = programAcct.Data()

	case BpfLoaderUpgradeableAddr:
		programState, err := unmarshalUpgradeableLoaderState(programAcct.Data())
		if err != nil {
			return nil, err
		}
		if programState.Type != UpgradeableLoaderStateTypeProgram {
			return nil, InstrErrInvalidAccountData
		}

		txCtx := execCtx.TransactionContext
		idx, err := txCtx.IndexOfAccount(programState.Program.ProgramDataAddress)
		if err != nil {
			return nil, err
		}
		programDataAcct, err := txCtx.AccountAtIndex(idx)
		if err != nil {
			return nil, err
		}
		if programDataAcct.Owner != BpfLoaderUpgradeableAddr {
			return nil, InstrErrInvalidAccountData
		}
		dataState, err := unmarshalUpgradeableLoaderState(programDataAcct.Data)
		if err != nil {
			return nil, err
		}
		if dataState.Type != UpgradeableLoaderStateTypeProgramData {
			return nil, InstrErrInvalidAccountData
		}

		// programs deployed in the current slot are not yet visible
		clock, err := execCtx.SysvarCache.GetClock()
		if err != nil {
			return nil, err
		}
		if dataState.ProgramData.Slot >= clock.Slot {
			return nil, InstrErrInvalidAccountData
		}
		elf = programDataAcct.Data[upgradeableLoaderSizeOfProgramDataMetaData:]

	default:
		return nil, InstrErrUnsupportedProgramId
	}

	return execCtx.cache.Load(elf, execCtx.syscalls)
}

func executeProgram(execCtx *ExecutionCtx, programId solana.PublicKey, program *sbpf.Program) error {
	txCtx := execCtx.TransactionContext
	meter := execCtx.ComputeMeter
	remainingBefore := meter.Remaining()

	if err := meter.Consume(calculateHeapCost(txCtx.HeapSize, CUHeapCostDefault)); err != nil {
		return err
	}

	parameterBytes, preLens, err := serializeParametersAligned(execCtx)
	if err != nil {
		return err
	}

	opts := &sbpf.VMOpts{
		Strategy:     execCtx.Config.Strategy,
		HeapMax:      int(txCtx.HeapSize),
		MaxCallDepth: execCtx.Config.MaxCallDepth,
		Syscalls:     execCtx.syscalls,
		Context:      execCtx,
		ComputeMeter: meter,
		Input:        parameterBytes,
		Tracer:       execCtx.Tracer,
	}

	ret, _, runErr := sbpf.NewExecutor(program, opts).Run()

	consumed := remainingBefore - meter.Remaining()
	logf(execCtx.Log, "Program %s consumed %d of %d compute units", programId, consumed, remainingBefore)

	strategy := execCtx.Config.Strategy.String()
	metrics.ComputeUnits.WithLabelValues(strategy).Observe(float64(consumed))

	returnDataProgramId, returnData := txCtx.ReturnData()
	if len(returnData) != 0 {
		logf(execCtx.Log, "Program return: %s %s", returnDataProgramId, base64.StdEncoding.EncodeToString(returnData))
	}

	if runErr == nil {
		runErr = DecodeProgramReturn(ret)
	}
	if runErr != nil {
		metrics.Executions.WithLabelValues(strategy, "failed").Inc()
		klog.V(2).Infof("program %s returned error: %s", programId, runErr)
		return runErr
	}
	metrics.Executions.WithLabelValues(strategy, "success").Inc()

	if err = deserializeParametersAligned(execCtx, parameterBytes, preLens); err != nil {
		klog.V(2).Infof("failed to deserialize, %s", err)
		return err
	}
	return nil
}
