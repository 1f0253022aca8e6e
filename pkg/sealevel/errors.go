package sealevel

import (
	"errors"
	"fmt"

	"github.com/Overclock-Validator/quartz/pkg/cu"
	"github.com/Overclock-Validator/quartz/pkg/sbpf"
	"github.com/Overclock-Validator/quartz/pkg/sbpf/loader"
)

// instruction errors
var (
	InstrErrGenericError                       = errors.New("InstrErrGenericError")
	InstrErrInvalidArgument                    = errors.New("InstrErrInvalidArgument")
	InstrErrInvalidInstructionData             = errors.New("InstrErrInvalidInstructionData")
	InstrErrInvalidAccountData                 = errors.New("InstrErrInvalidAccountData")
	InstrErrAccountDataTooSmall                = errors.New("InstrErrAccountDataTooSmall")
	InstrErrInsufficientFunds                  = errors.New("InstrErrInsufficientFunds")
	InstrErrIncorrectProgramId                 = errors.New("InstrErrIncorrectProgramId")
	InstrErrMissingRequiredSignature           = errors.New("InstrErrMissingRequiredSignature")
	InstrErrAccountAlreadyInitialized          = errors.New("InstrErrAccountAlreadyInitialized")
	InstrErrUninitializedAccount               = errors.New("InstrErrUninitializedAccount")
	InstrErrUnbalancedInstruction              = errors.New("InstrErrUnbalancedInstruction")
	InstrErrModifiedProgramId                  = errors.New("InstrErrModifiedProgramId")
	InstrErrExternalAccountLamportSpend        = errors.New("InstrErrExternalAccountLamportSpend")
	InstrErrExternalAccountDataModified        = errors.New("InstrErrExternalAccountDataModified")
	InstrErrReadonlyLamportChange              = errors.New("InstrErrReadonlyLamportChange")
	InstrErrReadonlyDataModified               = errors.New("InstrErrReadonlyDataModified")
	InstrErrDuplicateAccountIndex              = errors.New("InstrErrDuplicateAccountIndex")
	InstrErrExecutableModified                 = errors.New("InstrErrExecutableModified")
	InstrErrNotEnoughAccountKeys               = errors.New("InstrErrNotEnoughAccountKeys")
	InstrErrAccountDataSizeChanged             = errors.New("InstrErrAccountDataSizeChanged")
	InstrErrAccountNotExecutable               = errors.New("InstrErrAccountNotExecutable")
	InstrErrAccountBorrowFailed                = errors.New("InstrErrAccountBorrowFailed")
	InstrErrAccountBorrowOutstanding           = errors.New("InstrErrAccountBorrowOutstanding")
	InstrErrExecutableDataModified             = errors.New("InstrErrExecutableDataModified")
	InstrErrExecutableLamportChange            = errors.New("InstrErrExecutableLamportChange")
	InstrErrUnsupportedProgramId               = errors.New("InstrErrUnsupportedProgramId")
	InstrErrCallDepth                          = errors.New("InstrErrCallDepth")
	InstrErrMissingAccount                     = errors.New("InstrErrMissingAccount")
	InstrErrReentrancyNotAllowed               = errors.New("InstrErrReentrancyNotAllowed")
	InstrErrMaxSeedLengthExceeded              = errors.New("InstrErrMaxSeedLengthExceeded")
	InstrErrInvalidSeeds                       = errors.New("InstrErrInvalidSeeds")
	InstrErrInvalidRealloc                     = errors.New("InstrErrInvalidRealloc")
	InstrErrComputationalBudgetExceeded        = errors.New("InstrErrComputationalBudgetExceeded")
	InstrErrPrivilegeEscalation                = errors.New("InstrErrPrivilegeEscalation")
	InstrErrProgramEnvironmentSetupFailure     = errors.New("InstrErrProgramEnvironmentSetupFailure")
	InstrErrProgramFailedToComplete            = errors.New("InstrErrProgramFailedToComplete")
	InstrErrProgramFailedToCompile             = errors.New("InstrErrProgramFailedToCompile")
	InstrErrImmutable                          = errors.New("InstrErrImmutable")
	InstrErrIncorrectAuthority                 = errors.New("InstrErrIncorrectAuthority")
	InstrErrAccountNotRentExempt               = errors.New("InstrErrAccountNotRentExempt")
	InstrErrInvalidAccountOwner                = errors.New("InstrErrInvalidAccountOwner")
	InstrErrArithmeticOverflow                 = errors.New("InstrErrArithmeticOverflow")
	InstrErrUnsupportedSysvar                  = errors.New("InstrErrUnsupportedSysvar")
	InstrErrMaxAccountsDataAllocationsExceeded = errors.New("InstrErrMaxAccountsDataAllocationsExceeded")
	InstrErrMaxAccountsExceeded                = errors.New("InstrErrMaxAccountsExceeded")
	InstrErrMaxInstructionTraceLengthExceeded  = errors.New("InstrErrMaxInstructionTraceLengthExceeded")
	InstrErrInvalidAccountIndex                = errors.New("InstrErrInvalidAccountIndex")
)

// syscall errors
var (
	SyscallErrInvalidString                      = errors.New("SyscallErrInvalidString")
	SyscallErrAbort                              = errors.New("SyscallErrAbort")
	SyscallErrPanic                              = errors.New("SyscallErrPanic")
	SyscallErrInvokeContextBorrowFailed          = errors.New("SyscallErrInvokeContextBorrowFailed")
	SyscallErrMalformedSignerSeed                = errors.New("SyscallErrMalformedSignerSeed")
	SyscallErrBadSeeds                           = errors.New("SyscallErrBadSeeds")
	SyscallErrProgramNotSupported                = errors.New("SyscallErrProgramNotSupported")
	SyscallErrUnalignedPointer                   = errors.New("SyscallErrUnalignedPointer")
	SyscallErrTooManySigners                     = errors.New("SyscallErrTooManySigners")
	SyscallErrInstructionTooLarge                = errors.New("SyscallErrInstructionTooLarge")
	SyscallErrTooManyAccounts                    = errors.New("SyscallErrTooManyAccounts")
	SyscallErrCopyOverlapping                    = errors.New("SyscallErrCopyOverlapping")
	SyscallErrReturnDataTooLarge                 = errors.New("SyscallErrReturnDataTooLarge")
	SyscallErrTooManySlices                      = errors.New("SyscallErrTooManySlices")
	SyscallErrInvalidLength                      = errors.New("SyscallErrInvalidLength")
	SyscallErrMaxInstructionDataLenExceeded      = errors.New("SyscallErrMaxInstructionDataLenExceeded")
	SyscallErrMaxInstructionAccountsExceeded     = errors.New("SyscallErrMaxInstructionAccountsExceeded")
	SyscallErrMaxInstructionAccountInfosExceeded = errors.New("SyscallErrMaxInstructionAccountInfosExceeded")
	SyscallErrInvalidAttribute                   = errors.New("SyscallErrInvalidAttribute")
	SyscallErrInvalidPointer                     = errors.New("SyscallErrInvalidPointer")
	SyscallErrArithmeticOverflow                 = errors.New("SyscallErrArithmeticOverflow")
	SyscallErrMaxSeedLengthExceeded              = errors.New("SyscallErrMaxSeedLengthExceeded")
	SyscallErrMalformedBool                      = errors.New("SyscallErrMalformedBool")
)

// instruction errors - numerical error codes
const (
	InstrErrCodeSuccess                                = 0
	InstrErrCodeGenericError                           = 1
	InstrErrCodeInvalidArgument                        = 2
	InstrErrCodeInvalidInstructionData                 = 3
	InstrErrCodeInvalidAccountData                     = 4
	InstrErrCodeAccountDataTooSmall                    = 5
	InstrErrCodeInsufficientFunds                      = 6
	InstrErrCodeIncorrectProgramId                     = 7
	InstrErrCodeMissingRequiredSignature               = 8
	InstrErrCodeAccountAlreadyInitialized              = 9
	InstrErrCodeUninitializedAccount                   = 10
	InstrErrCodeUnbalancedInstruction                  = 11
	InstrErrCodeModifiedProgramId                      = 12
	InstrErrCodeExternalAccountLamportSpend            = 13
	InstrErrCodeExternalAccountDataModified            = 14
	InstrErrCodeReadonlyLamportChange                  = 15
	InstrErrCodeReadonlyDataModified                   = 16
	InstrErrCodeDuplicateAccountIndex                  = 17
	InstrErrCodeExecutableModified                     = 18
	InstrErrCodeNotEnoughAccountKeys                   = 20
	InstrErrCodeAccountDataSizeChanged                 = 21
	InstrErrCodeAccountNotExecutable                   = 22
	InstrErrCodeAccountBorrowFailed                    = 23
	InstrErrCodeAccountBorrowOutstanding               = 24
	InstrErrCodeExecutableDataModified                 = 28
	InstrErrCodeExecutableLamportChange                = 29
	InstrErrCodeUnsupportedProgramId                   = 31
	InstrErrCodeCallDepth                              = 32
	InstrErrCodeMissingAccount                         = 33
	InstrErrCodeReentrancyNotAllowed                   = 34
	InstrErrCodeMaxSeedLengthExceeded                  = 35
	InstrErrCodeInvalidSeeds                           = 36
	InstrErrCodeInvalidRealloc                         = 37
	InstrErrCodeComputationalBudgetExceeded            = 38
	InstrErrCodePrivilegeEscalation                    = 39
	InstrErrCodeProgramEnvironmentSetupFailure         = 40
	InstrErrCodeProgramFailedToComplete                = 41
	InstrErrCodeProgramFailedToCompile                 = 42
	InstrErrCodeImmutable                              = 43
	InstrErrCodeIncorrectAuthority                     = 44
	InstrErrCodeAccountNotRentExempt                   = 46
	InstrErrCodeInvalidAccountOwner                    = 47
	InstrErrCodeArithmeticOverflow                     = 48
	InstrErrCodeUnsupportedSysvar                      = 49
	InstrErrCodeMaxAccountsDataAllocationsExceeded     = 51
	InstrErrCodeMaxAccountsExceeded                    = 52
	InstrErrCodeMaxInstructionTraceLengthExceeded      = 53
	InstrErrCodeInvalidAccountIndex                    = 55
	instrErrCodeSyscallBase                            = 0x100
	instrErrCodeVMBase                                 = 0x200
	instrErrCodeLoadError                              = 0x300
	instrErrCodeUnknown                                = 0xffff
)

// instrErrCodes is ordered so that an error wrapping several sentinels
// encodes as the first one listed.
var instrErrCodes = []struct {
	err  error
	code uint32
}{
	{InstrErrGenericError, InstrErrCodeGenericError},
	{InstrErrInvalidArgument, InstrErrCodeInvalidArgument},
	{InstrErrInvalidInstructionData, InstrErrCodeInvalidInstructionData},
	{InstrErrInvalidAccountData, InstrErrCodeInvalidAccountData},
	{InstrErrAccountDataTooSmall, InstrErrCodeAccountDataTooSmall},
	{InstrErrInsufficientFunds, InstrErrCodeInsufficientFunds},
	{InstrErrIncorrectProgramId, InstrErrCodeIncorrectProgramId},
	{InstrErrMissingRequiredSignature, InstrErrCodeMissingRequiredSignature},
	{InstrErrAccountAlreadyInitialized, InstrErrCodeAccountAlreadyInitialized},
	{InstrErrUninitializedAccount, InstrErrCodeUninitializedAccount},
	{InstrErrUnbalancedInstruction, InstrErrCodeUnbalancedInstruction},
	{InstrErrModifiedProgramId, InstrErrCodeModifiedProgramId},
	{InstrErrExternalAccountLamportSpend, InstrErrCodeExternalAccountLamportSpend},
	{InstrErrExternalAccountDataModified, InstrErrCodeExternalAccountDataModified},
	{InstrErrReadonlyLamportChange, InstrErrCodeReadonlyLamportChange},
	{InstrErrReadonlyDataModified, InstrErrCodeReadonlyDataModified},
	{InstrErrDuplicateAccountIndex, InstrErrCodeDuplicateAccountIndex},
	{InstrErrExecutableModified, InstrErrCodeExecutableModified},
	{InstrErrNotEnoughAccountKeys, InstrErrCodeNotEnoughAccountKeys},
	{InstrErrAccountDataSizeChanged, InstrErrCodeAccountDataSizeChanged},
	{InstrErrAccountNotExecutable, InstrErrCodeAccountNotExecutable},
	{InstrErrAccountBorrowFailed, InstrErrCodeAccountBorrowFailed},
	{InstrErrAccountBorrowOutstanding, InstrErrCodeAccountBorrowOutstanding},
	{InstrErrExecutableDataModified, InstrErrCodeExecutableDataModified},
	{InstrErrExecutableLamportChange, InstrErrCodeExecutableLamportChange},
	{InstrErrUnsupportedProgramId, InstrErrCodeUnsupportedProgramId},
	{InstrErrCallDepth, InstrErrCodeCallDepth},
	{InstrErrMissingAccount, InstrErrCodeMissingAccount},
	{InstrErrReentrancyNotAllowed, InstrErrCodeReentrancyNotAllowed},
	{InstrErrMaxSeedLengthExceeded, InstrErrCodeMaxSeedLengthExceeded},
	{InstrErrInvalidSeeds, InstrErrCodeInvalidSeeds},
	{InstrErrInvalidRealloc, InstrErrCodeInvalidRealloc},
	{InstrErrComputationalBudgetExceeded, InstrErrCodeComputationalBudgetExceeded},
	{InstrErrPrivilegeEscalation, InstrErrCodePrivilegeEscalation},
	{InstrErrProgramEnvironmentSetupFailure, InstrErrCodeProgramEnvironmentSetupFailure},
	{InstrErrProgramFailedToComplete, InstrErrCodeProgramFailedToComplete},
	{InstrErrProgramFailedToCompile, InstrErrCodeProgramFailedToCompile},
	{InstrErrImmutable, InstrErrCodeImmutable},
	{InstrErrIncorrectAuthority, InstrErrCodeIncorrectAuthority},
	{InstrErrAccountNotRentExempt, InstrErrCodeAccountNotRentExempt},
	{InstrErrInvalidAccountOwner, InstrErrCodeInvalidAccountOwner},
	{InstrErrArithmeticOverflow, InstrErrCodeArithmeticOverflow},
	{InstrErrUnsupportedSysvar, InstrErrCodeUnsupportedSysvar},
	{InstrErrMaxAccountsDataAllocationsExceeded, InstrErrCodeMaxAccountsDataAllocationsExceeded},
	{InstrErrMaxAccountsExceeded, InstrErrCodeMaxAccountsExceeded},
	{InstrErrMaxInstructionTraceLengthExceeded, InstrErrCodeMaxInstructionTraceLengthExceeded},
	{InstrErrInvalidAccountIndex, InstrErrCodeInvalidAccountIndex},
}

var instrErrsByCode = func() map[uint32]error {
	m := make(map[uint32]error, len(instrErrCodes))
	for _, e := range instrErrCodes {
		m[e.code] = e.err
	}
	return m
}()

var syscallErrList = []error{
	SyscallErrInvalidString,
	SyscallErrAbort,
	SyscallErrPanic,
	SyscallErrInvokeContextBorrowFailed,
	SyscallErrMalformedSignerSeed,
	SyscallErrBadSeeds,
	SyscallErrProgramNotSupported,
	SyscallErrUnalignedPointer,
	SyscallErrTooManySigners,
	SyscallErrInstructionTooLarge,
	SyscallErrTooManyAccounts,
	SyscallErrCopyOverlapping,
	SyscallErrReturnDataTooLarge,
	SyscallErrTooManySlices,
	SyscallErrInvalidLength,
	SyscallErrMaxInstructionDataLenExceeded,
	SyscallErrMaxInstructionAccountsExceeded,
	SyscallErrMaxInstructionAccountInfosExceeded,
	SyscallErrInvalidAttribute,
	SyscallErrInvalidPointer,
	SyscallErrArithmeticOverflow,
	SyscallErrMaxSeedLengthExceeded,
	SyscallErrMalformedBool,
}

var vmErrList = []error{
	sbpf.ExcDivideByZero,
	sbpf.ExcDivideOverflow,
	sbpf.ExcCallDepth,
	sbpf.ExcOutOfCU,
	sbpf.ExcExecutionOverrun,
	sbpf.ExcInvalidInstruction,
}

// CustomError is a program-defined error code returned in r0.
type CustomError struct {
	Code uint32
}

func (e *CustomError) Error() string {
	return fmt.Sprintf("custom program error: %#x", e.Code)
}

// ErrorKind is the failure class an instruction result is reported under.
type ErrorKind uint32

const (
	KindSuccess ErrorKind = iota
	KindLoadError
	KindResourceExhausted
	KindCallDepthExceeded
	KindPrivilegeEscalation
	KindOwnershipSpoofing
	KindAccountNotExecutable
	KindMissingAccount
	KindInvalidAccountIndex
	KindBorrowConflict
	KindCustom
	KindProgramFailure
)

var errorKindNames = [...]string{
	KindSuccess:              "Success",
	KindLoadError:            "LoadError",
	KindResourceExhausted:    "ResourceExhausted",
	KindCallDepthExceeded:    "CallDepthExceeded",
	KindPrivilegeEscalation:  "PrivilegeEscalation",
	KindOwnershipSpoofing:    "OwnershipSpoofing",
	KindAccountNotExecutable: "AccountNotExecutable",
	KindMissingAccount:       "MissingAccount",
	KindInvalidAccountIndex:  "InvalidAccountIndex",
	KindBorrowConflict:       "BorrowConflict",
	KindCustom:               "Custom",
	KindProgramFailure:       "ProgramFailure",
}

func (k ErrorKind) String() string {
	if int(k) < len(errorKindNames) {
		return errorKindNames[k]
	}
	return fmt.Sprintf("ErrorKind(%d)", uint32(k))
}

// ClassifyError maps an instruction error to exactly one kind.
func ClassifyError(err error) ErrorKind {
	if err == nil {
		return KindSuccess
	}

	var custom *CustomError
	if errors.As(err, &custom) {
		return KindCustom
	}
	var loadErr *loader.LoadError
	if errors.As(err, &loadErr) {
		return KindLoadError
	}

	switch {
	case errors.Is(err, cu.ErrComputeExceeded),
		errors.Is(err, sbpf.ExcOutOfCU),
		errors.Is(err, InstrErrComputationalBudgetExceeded),
		errors.Is(err, InstrErrInvalidRealloc),
		errors.Is(err, InstrErrMaxAccountsDataAllocationsExceeded),
		errors.Is(err, InstrErrMaxAccountsExceeded),
		errors.Is(err, InstrErrMaxInstructionTraceLengthExceeded):
		return KindResourceExhausted

	case errors.Is(err, InstrErrCallDepth),
		errors.Is(err, sbpf.ExcCallDepth):
		return KindCallDepthExceeded

	case errors.Is(err, InstrErrPrivilegeEscalation),
		errors.Is(err, InstrErrMissingRequiredSignature),
		errors.Is(err, InstrErrReadonlyDataModified),
		errors.Is(err, InstrErrReadonlyLamportChange):
		return KindPrivilegeEscalation

	case errors.Is(err, InstrErrModifiedProgramId),
		errors.Is(err, InstrErrExternalAccountLamportSpend),
		errors.Is(err, InstrErrExternalAccountDataModified),
		errors.Is(err, InstrErrExecutableModified),
		errors.Is(err, InstrErrExecutableDataModified),
		errors.Is(err, InstrErrExecutableLamportChange):
		return KindOwnershipSpoofing

	case errors.Is(err, InstrErrAccountNotExecutable),
		errors.Is(err, InstrErrUnsupportedProgramId),
		errors.Is(err, SyscallErrProgramNotSupported):
		return KindAccountNotExecutable

	case errors.Is(err, InstrErrMissingAccount),
		errors.Is(err, InstrErrNotEnoughAccountKeys):
		return KindMissingAccount

	case errors.Is(err, InstrErrInvalidAccountIndex):
		return KindInvalidAccountIndex

	case errors.Is(err, InstrErrAccountBorrowFailed),
		errors.Is(err, InstrErrAccountBorrowOutstanding),
		errors.Is(err, SyscallErrInvokeContextBorrowFailed):
		return KindBorrowConflict
	}

	return KindProgramFailure
}

// errorCode returns the code of err within its kind.
func errorCode(err error) uint32 {
	for _, e := range instrErrCodes {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	for i, sentinel := range syscallErrList {
		if errors.Is(err, sentinel) {
			return instrErrCodeSyscallBase + uint32(i)
		}
	}
	for i, sentinel := range vmErrList {
		if errors.Is(err, sentinel) {
			return instrErrCodeVMBase + uint32(i)
		}
	}
	var badAccess sbpf.ExcBadAccess
	if errors.As(err, &badAccess) {
		return instrErrCodeVMBase + uint32(len(vmErrList))
	}
	var loadErr *loader.LoadError
	if errors.As(err, &loadErr) {
		return instrErrCodeLoadError
	}
	if errors.Is(err, cu.ErrComputeExceeded) {
		return InstrErrCodeComputationalBudgetExceeded
	}
	return instrErrCodeUnknown
}

// EncodeError flattens an instruction error into a stable integer.
// Custom errors encode to their code with the upper half zero, except
// custom code 0 which encodes as KindCustom<<32. Builtin errors encode as
// kind<<32 | code.
func EncodeError(err error) uint64 {
	if err == nil {
		return 0
	}
	var custom *CustomError
	if errors.As(err, &custom) {
		if custom.Code == 0 {
			return uint64(KindCustom) << 32
		}
		return uint64(custom.Code)
	}
	return uint64(ClassifyError(err))<<32 | uint64(errorCode(err))
}

// DecodeProgramReturn converts a program's r0 into an instruction error.
// Zero is success.
func DecodeProgramReturn(r0 uint64) error {
	if r0 == 0 {
		return nil
	}
	kind := ErrorKind(r0 >> 32)
	code := uint32(r0)
	if kind == 0 || kind == KindCustom {
		return &CustomError{Code: code}
	}
	if err, ok := instrErrsByCode[code]; ok {
		return err
	}
	switch {
	case code >= instrErrCodeSyscallBase && code < instrErrCodeSyscallBase+uint32(len(syscallErrList)):
		return syscallErrList[code-instrErrCodeSyscallBase]
	case code >= instrErrCodeVMBase && code < instrErrCodeVMBase+uint32(len(vmErrList)):
		return vmErrList[code-instrErrCodeVMBase]
	}
	return fmt.Errorf("%w: %s error %#x", InstrErrProgramFailedToComplete, kind, code)
}
