// Package sealevel runs sBPF programs against accounts: it serializes the
// program input, drives the VM, services syscalls and cross-program
// invocations, and validates every account change the program makes.
package sealevel

import (
	"context"
	"fmt"

	"github.com/Overclock-Validator/quartz/pkg/accounts"
	"github.com/Overclock-Validator/quartz/pkg/cu"
	"github.com/Overclock-Validator/quartz/pkg/features"
	"github.com/Overclock-Validator/quartz/pkg/metrics"
	"github.com/Overclock-Validator/quartz/pkg/sbpf"
	"github.com/Overclock-Validator/quartz/pkg/sbpf/loader"
	"github.com/gagliardetto/solana-go"
	"k8s.io/klog/v2"
)

const (
	DefaultMaxInvokeDepth = 5
	DefaultHeapSize       = sbpf.DefaultHeapSize
)

// Config holds execution limits. Zero fields take their defaults.
type Config struct {
	// MaxInvokeDepth bounds the instruction stack height, counting the
	// top level instruction.
	MaxInvokeDepth int `yaml:"max_invoke_depth"`
	// ComputeBudget is the compute available to the whole instruction.
	ComputeBudget uint64 `yaml:"compute_budget"`
	// InvocationComputeLimit caps what a single frame may consume.
	InvocationComputeLimit uint64 `yaml:"invocation_compute_limit"`
	HeapSize               uint32 `yaml:"heap_size"`
	// MaxCallDepth bounds internal function calls within one program.
	MaxCallDepth int           `yaml:"max_call_depth"`
	Strategy     sbpf.Strategy `yaml:"strategy"`
	Slot         uint64        `yaml:"slot"`
	LogLimit     int           `yaml:"log_limit"`
}

func DefaultConfig() Config {
	return Config{}.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.MaxInvokeDepth <= 0 {
		c.MaxInvokeDepth = DefaultMaxInvokeDepth
	}
	if c.ComputeBudget == 0 {
		c.ComputeBudget = cu.DefaultComputeUnitLimit
	}
	if c.HeapSize == 0 {
		c.HeapSize = DefaultHeapSize
	}
	if c.MaxCallDepth <= 0 {
		c.MaxCallDepth = sbpf.StackDepth
	}
	if c.LogLimit <= 0 {
		c.LogLimit = LogCollectorLimit
	}
	return c
}

func (c Config) Validate() error {
	if c.HeapSize%1024 != 0 || c.HeapSize < sbpf.DefaultHeapSize || c.HeapSize > sbpf.MaxHeapSize {
		return fmt.Errorf("invalid heap size %d", c.HeapSize)
	}
	if c.MaxInvokeDepth > MaxInstructionTraceLength {
		return fmt.Errorf("max invoke depth %d above trace limit %d", c.MaxInvokeDepth, MaxInstructionTraceLength)
	}
	return nil
}

// ExecuteParams describes one top level instruction.
type ExecuteParams struct {
	ProgramID solana.PublicKey
	// Program, if set, is run in place of the program stored in the
	// ProgramID account.
	Program *sbpf.Program
	// Programs maps program ids to preloaded modules used for any frame.
	Programs map[solana.PublicKey]*sbpf.Program

	Accounts []accounts.Account
	Metas    []AccountMeta
	Data     []byte

	Config   Config
	Features *features.Features
	Sysvars  *SysvarCache
	Cache    *loader.Cache
	Tracer   sbpf.Tracer
}

type ReturnData struct {
	ProgramId solana.PublicKey
	Data      []byte
}

// Result is the outcome of Execute. On failure Accounts holds the
// pre-execution state.
type Result struct {
	ExitCode    uint64
	Consumed    uint64
	Accounts    []*accounts.Account
	Logs        []string
	Invocations []InvokeRecord
	ReturnData  ReturnData
	Err         error
	Kind        ErrorKind
}

func (r *Result) Success() bool {
	return r.Err == nil
}

// Account returns the post-execution state of key.
func (r *Result) Account(key solana.PublicKey) *accounts.Account {
	for _, acct := range r.Accounts {
		if acct.Key == key {
			return acct
		}
	}
	return nil
}

// Execute processes a single top level instruction. Instruction failures
// are reported through Result.Err; the returned error is set only when
// params cannot be executed at all.
func Execute(ctx context.Context, params ExecuteParams) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg := params.Config.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	f := params.Features
	if f == nil {
		f = features.NewFeaturesDefault()
	}

	sysvars := params.Sysvars
	if sysvars == nil {
		sysvars = NewSysvarCacheDefault(cfg.Slot)
	}

	cache := params.Cache
	if cache == nil {
		var err error
		if cache, err = loader.NewCache(0); err != nil {
			return nil, err
		}
	}

	programs := make(map[solana.PublicKey]*sbpf.Program, len(params.Programs)+1)
	for id, p := range params.Programs {
		programs[id] = p
	}
	if params.Program != nil {
		programs[params.ProgramID] = params.Program
	}

	accts, err := buildTransactionAccounts(params, programs)
	if err != nil {
		return nil, err
	}

	txCtx := NewTransactionCtx(accts, MaxInstructionTraceLength)
	txCtx.HeapSize = cfg.HeapSize

	rootMeter := cu.NewComputeMeter(cfg.ComputeBudget)
	log := NewLimitedLogRecorder(cfg.LogLimit)

	execCtx := &ExecutionCtx{
		Log:                log,
		TransactionContext: txCtx,
		Features:           f,
		SysvarCache:        sysvars,
		Config:             cfg,
		Tracer:             params.Tracer,
		ComputeMeter:       &rootMeter,
		rootMeter:          &rootMeter,
		syscalls:           Syscalls(f, false),
		programs:           programs,
		cache:              cache,
	}

	snapshot := txCtx.Snapshot()
	execErr := execCtx.processTopLevel(params)
	if execErr != nil {
		txCtx.Restore(snapshot)
	}

	res := &Result{
		Consumed:    rootMeter.Used(),
		Accounts:    txCtx.Snapshot(),
		Logs:        log.Messages(),
		Invocations: execCtx.invocations,
		Err:         execErr,
		Kind:        ClassifyError(execErr),
		ExitCode:    EncodeError(execErr),
	}
	res.ReturnData.ProgramId, res.ReturnData.Data = txCtx.ReturnData()

	if execErr != nil {
		metrics.Failures.WithLabelValues(res.Kind.String()).Inc()
		klog.V(2).Infof("instruction for %s failed (%s): %s", params.ProgramID, res.Kind, execErr)
	}
	return res, nil
}

// buildTransactionAccounts clones the caller's accounts into a new arena,
// adding program accounts for preloaded modules and the instructions
// sysvar when referenced.
func buildTransactionAccounts(params ExecuteParams, programs map[solana.PublicKey]*sbpf.Program) ([]*accounts.Account, error) {
	accts := make([]*accounts.Account, 0, len(params.Accounts)+len(programs)+1)
	seen := make(map[solana.PublicKey]int, cap(accts))

	for i := range params.Accounts {
		acct := params.Accounts[i].Clone()
		if _, dup := seen[acct.Key]; dup {
			return nil, fmt.Errorf("account %s supplied more than once", acct.Key)
		}
		seen[acct.Key] = len(accts)
		accts = append(accts, acct)
	}

	for id := range programs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = len(accts)
		accts = append(accts, &accounts.Account{
			Key:        id,
			Lamports:   1,
			Owner:      BpfLoader2Addr,
			Executable: true,
		})
	}

	for _, meta := range params.Metas {
		if meta.Pubkey != SysvarInstructionsAddr {
			continue
		}
		topLevel := Instruction{ProgramId: params.ProgramID, Accounts: params.Metas, Data: params.Data}
		sysvarAcct := newInstructionsSysvarAccount([]Instruction{topLevel}, 0)
		if idx, ok := seen[SysvarInstructionsAddr]; ok {
			accts[idx].Data = sysvarAcct.Data
		} else {
			seen[SysvarInstructionsAddr] = len(accts)
			accts = append(accts, sysvarAcct)
		}
		break
	}

	return accts, nil
}

// processTopLevel derives root frame privileges exactly from the account
// metas and processes the instruction.
func (execCtx *ExecutionCtx) processTopLevel(params ExecuteParams) error {
	txCtx := execCtx.TransactionContext

	programIdx, err := txCtx.IndexOfAccount(params.ProgramID)
	if err != nil {
		return InstrErrMissingAccount
	}
	programAcct, err := txCtx.AccountAtIndex(programIdx)
	if err != nil {
		return err
	}
	if !programAcct.Executable {
		return InstrErrAccountNotExecutable
	}

	if len(params.Metas) > MaxInstructionAccounts {
		return InstrErrMaxAccountsExceeded
	}

	instrAccts := make([]InstructionAccount, 0, len(params.Metas))
	for instrAcctIdx, meta := range params.Metas {
		idxInTx, err := txCtx.IndexOfAccount(meta.Pubkey)
		if err != nil {
			return InstrErrMissingAccount
		}

		idxInCallee := uint64(instrAcctIdx)
		for i, prev := range instrAccts {
			if prev.IndexInTransaction == idxInTx {
				idxInCallee = uint64(i)
				break
			}
		}

		instrAccts = append(instrAccts, InstructionAccount{
			IndexInTransaction: idxInTx,
			IndexInCaller:      idxInTx,
			IndexInCallee:      idxInCallee,
			IsSigner:           meta.IsSigner,
			IsWritable:         meta.IsWritable,
		})
	}

	// a key's privileges are the union over all of its metas
	for i := range instrAccts {
		first := instrAccts[i].IndexInCallee
		instrAccts[first].IsSigner = instrAccts[first].IsSigner || instrAccts[i].IsSigner
		instrAccts[first].IsWritable = instrAccts[first].IsWritable || instrAccts[i].IsWritable
	}
	for i := range instrAccts {
		first := instrAccts[i].IndexInCallee
		instrAccts[i].IsSigner = instrAccts[first].IsSigner
		instrAccts[i].IsWritable = instrAccts[first].IsWritable
	}

	return execCtx.ProcessInstruction(params.Data, instrAccts, []uint64{programIdx})
}

func executionCtx(vm sbpf.VM) *ExecutionCtx {
	return vm.VMContext().(*ExecutionCtx)
}

func transactionCtx(vm sbpf.VM) *TransactionCtx {
	return executionCtx(vm).TransactionContext
}

func getFeatures(vm sbpf.VM) *features.Features {
	return executionCtx(vm).Features
}
