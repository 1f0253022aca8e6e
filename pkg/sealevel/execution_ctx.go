package sealevel

import (
	"github.com/Overclock-Validator/quartz/pkg/cu"
	"github.com/Overclock-Validator/quartz/pkg/features"
	"github.com/Overclock-Validator/quartz/pkg/metrics"
	"github.com/Overclock-Validator/quartz/pkg/sbpf"
	"github.com/Overclock-Validator/quartz/pkg/sbpf/loader"
	"github.com/gagliardetto/solana-go"
	"k8s.io/klog/v2"
)

// ExecutionCtx is the invoke context shared by every frame of one
// top-level instruction. Syscalls reach it through sbpf.VM.VMContext.
type ExecutionCtx struct {
	Log                Logger
	TransactionContext *TransactionCtx
	Features           *features.Features
	SysvarCache        *SysvarCache
	Config             Config
	Tracer             sbpf.Tracer

	// ComputeMeter is the meter of the executing frame.
	ComputeMeter *cu.ComputeMeter
	rootMeter    *cu.ComputeMeter

	syscalls sbpf.SyscallRegistry
	programs map[solana.PublicKey]*sbpf.Program
	cache    *loader.Cache

	invocations []InvokeRecord
	frames      []int
}

// InvokeRecord describes one processed instruction, top level or CPI.
type InvokeRecord struct {
	StackHeight uint64
	Parent      int // index of the invoking record, -1 for the top level
	Instruction Instruction
	Signers     []solana.PublicKey
	Writable    []solana.PublicKey
	Consumed    uint64
	Err         error
}

func (execCtx *ExecutionCtx) PrepareInstruction(ix Instruction, signers []solana.PublicKey) ([]InstructionAccount, []uint64, error) {
	txCtx := execCtx.TransactionContext

	ixCtx, err := txCtx.CurrentInstructionCtx()
	if err != nil {
		return nil, nil, err
	}

	dedupInstructionAccounts := make([]InstructionAccount, 0, len(ix.Accounts))
	duplicateIndices := make([]uint64, 0, len(ix.Accounts))

	for instructionAcctIndex, accountMeta := range ix.Accounts {
		indexInTx, err := txCtx.IndexOfAccount(accountMeta.Pubkey)
		if err != nil {
			klog.V(2).Infof("instruction references unknown account %s", accountMeta.Pubkey)
			return nil, nil, InstrErrMissingAccount
		}

		duplicateIndex := -1
		for index, instrAcct := range dedupInstructionAccounts {
			if instrAcct.IndexInTransaction == indexInTx {
				duplicateIndex = index
				break
			}
		}

		if duplicateIndex != -1 {
			duplicateIndices = append(duplicateIndices, uint64(duplicateIndex))
			dedupInstructionAccounts[duplicateIndex].IsSigner = dedupInstructionAccounts[duplicateIndex].IsSigner || accountMeta.IsSigner
			dedupInstructionAccounts[duplicateIndex].IsWritable = dedupInstructionAccounts[duplicateIndex].IsWritable || accountMeta.IsWritable
		} else {
			indexInCaller, err := ixCtx.IndexOfInstructionAccount(txCtx, accountMeta.Pubkey)
			if err != nil {
				klog.V(2).Infof("instruction references account %s not held by caller", accountMeta.Pubkey)
				return nil, nil, InstrErrMissingAccount
			}
			duplicateIndices = append(duplicateIndices, uint64(len(dedupInstructionAccounts)))

			dedupInstructionAccounts = append(dedupInstructionAccounts, InstructionAccount{
				IndexInTransaction: indexInTx,
				IndexInCaller:      indexInCaller,
				IndexInCallee:      uint64(instructionAcctIndex),
				IsSigner:           accountMeta.IsSigner,
				IsWritable:         accountMeta.IsWritable,
			})
		}
	}

	for _, instructionAcct := range dedupInstructionAccounts {
		key, err := txCtx.KeyOfAccountAtIndex(instructionAcct.IndexInTransaction)
		if err != nil {
			return nil, nil, err
		}

		// Read-only in caller cannot become writable in callee
		if instructionAcct.IsWritable && !ixCtx.IsWritable(instructionAcct.IndexInTransaction) {
			klog.V(2).Infof("%s's writable privilege escalated", key)
			return nil, nil, InstrErrPrivilegeEscalation
		}

		// To be signed in the callee, it must be either signed in the
		// caller or by the program
		if instructionAcct.IsSigner && !ixCtx.IsSigner(instructionAcct.IndexInTransaction) {
			presentInSigners := false
			for _, addr := range signers {
				if addr == key {
					presentInSigners = true
					break
				}
			}
			if !presentInSigners {
				klog.V(2).Infof("%s's signer privilege escalated", key)
				return nil, nil, InstrErrPrivilegeEscalation
			}
		}
	}

	instructionAccounts := make([]InstructionAccount, 0, len(duplicateIndices))
	for _, duplicateIndex := range duplicateIndices {
		if duplicateIndex >= uint64(len(dedupInstructionAccounts)) {
			return nil, nil, InstrErrNotEnoughAccountKeys
		}
		instructionAccounts = append(instructionAccounts, dedupInstructionAccounts[duplicateIndex])
	}

	// Find and validate executables / program accounts
	calleeProgramId := ix.ProgramId
	programAcctIdx, err := ixCtx.IndexOfInstructionAccount(txCtx, calleeProgramId)
	if err != nil {
		klog.V(2).Infof("unknown program %s", calleeProgramId)
		return nil, nil, InstrErrMissingAccount
	}

	borrowedProgramAcct, err := ixCtx.BorrowInstructionAccount(txCtx, programAcctIdx)
	if err != nil {
		return nil, nil, err
	}
	defer borrowedProgramAcct.Drop()

	if !borrowedProgramAcct.IsExecutable() {
		klog.V(2).Infof("account %s is not executable", calleeProgramId)
		return nil, nil, InstrErrAccountNotExecutable
	}

	return instructionAccounts, []uint64{borrowedProgramAcct.IndexInTransaction}, nil
}

func (execCtx *ExecutionCtx) ProcessInstruction(instrData []byte, instructionAccts []InstructionAccount, programIndices []uint64) error {
	txCtx := execCtx.TransactionContext

	if err := checkInstructionsSysvarReadonly(txCtx, instructionAccts); err != nil {
		return err
	}

	nextInstrCtx, err := txCtx.NextInstructionCtx()
	if err != nil {
		return err
	}
	nextInstrCtx.Configure(programIndices, instructionAccts, instrData)

	err = execCtx.Push()
	if err != nil {
		return err
	}

	err1 := execCtx.ExecuteInstruction()
	err2 := execCtx.Pop(err1)

	if err1 != nil {
		return err1
	}
	return err2
}

func (execCtx *ExecutionCtx) ExecuteInstruction() error {
	txCtx := execCtx.TransactionContext
	instrCtx, err := txCtx.CurrentInstructionCtx()
	if err != nil {
		return err
	}

	borrowedRootAccount, err := instrCtx.BorrowProgramAccount(txCtx, 0)
	if err != nil {
		return InstrErrUnsupportedProgramId
	}
	programId := borrowedRootAccount.Key()
	ownerId := borrowedRootAccount.Owner()
	borrowedRootAccount.Drop()

	var builtinId solana.PublicKey
	if ownerId == NativeLoaderAddr {
		builtinId = programId
	} else {
		builtinId = ownerId
	}

	nativeProgramFn, err := resolveNativeProgramById(builtinId)
	if err != nil {
		logf(execCtx.Log, "Program %s failed: %s", programId, err)
		return err
	}

	klog.V(4).Infof("calling %s for program %s", builtinId, programId)
	err = nativeProgramFn(execCtx)
	if err != nil {
		logf(execCtx.Log, "Program %s failed: %s", programId, err)
	} else {
		logf(execCtx.Log, "Program %s success", programId)
	}
	return err
}

func (execCtx *ExecutionCtx) Push() error {
	txCtx := execCtx.TransactionContext

	instrCtx, err := txCtx.NextInstructionCtx()
	if err != nil {
		return err
	}

	programId, err := instrCtx.LastProgramKey(txCtx)
	if err != nil {
		return InstrErrUnsupportedProgramId
	}

	stackHeight := txCtx.InstructionCtxStackHeight()
	if stackHeight >= uint64(execCtx.Config.MaxInvokeDepth) {
		return InstrErrCallDepth
	}

	if stackHeight != 0 {
		var contains bool
		for level := uint64(0); level < stackHeight; level++ {
			ic, err := txCtx.InstructionCtxAtNestingLevel(level)
			if err != nil {
				continue
			}
			key, err := ic.LastProgramKey(txCtx)
			if err == nil && key == programId {
				contains = true
				break
			}
		}

		var isLast bool
		ic, err := txCtx.CurrentInstructionCtx()
		if err != nil {
			return err
		}
		if key, err := ic.LastProgramKey(txCtx); err == nil && key == programId {
			isLast = true
		}

		if contains && !isLast {
			return InstrErrReentrancyNotAllowed
		}
	}

	parentMeter := execCtx.ComputeMeter
	allotment := execCtx.Config.InvocationComputeLimit
	if allotment == 0 {
		allotment = parentMeter.Remaining()
	}
	instrCtx.ComputeMeter = parentMeter.Child(allotment)

	if err = txCtx.Push(); err != nil {
		return err
	}
	execCtx.ComputeMeter = &instrCtx.ComputeMeter

	parent := -1
	if len(execCtx.frames) > 0 {
		parent = execCtx.frames[len(execCtx.frames)-1]
	}
	execCtx.invocations = append(execCtx.invocations, InvokeRecord{
		StackHeight: instrCtx.StackHeight(),
		Parent:      parent,
		Instruction: instrCtx.Instruction(txCtx),
		Signers:     instrCtx.Signers(txCtx),
		Writable:    instrCtx.WritableKeys(txCtx),
	})
	execCtx.frames = append(execCtx.frames, len(execCtx.invocations)-1)

	if stackHeight == 0 {
		metrics.Invocations.WithLabelValues("top_level").Inc()
	} else {
		metrics.Invocations.WithLabelValues("cpi").Inc()
	}

	logf(execCtx.Log, "Program %s invoke [%d]", programId, stackHeight+1)
	return nil
}

// Pop removes the executing frame and charges its consumption to the
// parent meter. instrErr is the outcome recorded for the frame.
func (execCtx *ExecutionCtx) Pop(instrErr error) error {
	txCtx := execCtx.TransactionContext

	instrCtx, err := txCtx.CurrentInstructionCtx()
	if err != nil {
		return err
	}

	popErr := txCtx.Pop()

	parentMeter := execCtx.rootMeter
	if txCtx.InstructionCtxStackHeight() > 0 {
		parent, err := txCtx.CurrentInstructionCtx()
		if err != nil {
			return err
		}
		parentMeter = &parent.ComputeMeter
	}
	absorbErr := parentMeter.Absorb(&instrCtx.ComputeMeter)
	execCtx.ComputeMeter = parentMeter

	if n := len(execCtx.frames); n > 0 {
		record := &execCtx.invocations[execCtx.frames[n-1]]
		record.Consumed = instrCtx.ComputeMeter.Used()
		record.Err = instrErr
		if record.Err == nil {
			record.Err = popErr
		}
		execCtx.frames = execCtx.frames[:n-1]
	}

	if popErr != nil {
		return popErr
	}
	return absorbErr
}

func (execCtx *ExecutionCtx) StackHeight() uint64 {
	return execCtx.TransactionContext.InstructionCtxStackHeight()
}

func (execCtx *ExecutionCtx) NativeInvoke(instruction Instruction, signers []solana.PublicKey) error {
	instrAccts, programIndices, err := execCtx.PrepareInstruction(instruction, signers)
	if err != nil {
		return err
	}
	return execCtx.ProcessInstruction(instruction.Data, instrAccts, programIndices)
}

// CheckAligned reports whether the executing program expects aligned
// host pointers. Programs owned by the deprecated loader do not.
func (execCtx *ExecutionCtx) CheckAligned() bool {
	txCtx := execCtx.TransactionContext
	instrCtx, err := txCtx.CurrentInstructionCtx()
	if err != nil {
		return true
	}

	programKey, err := instrCtx.LastProgramKey(txCtx)
	if err != nil {
		return true
	}
	idx, err := txCtx.IndexOfAccount(programKey)
	if err != nil {
		return true
	}
	programAcct, err := txCtx.AccountAtIndex(idx)
	if err != nil {
		return true
	}
	return programAcct.Owner != BpfLoaderDeprecatedAddr
}
