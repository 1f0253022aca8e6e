package sealevel

const (
	CUSyscallBaseCost                  = 100
	CULog64Units                       = 100
	CULogPubkeyUnits                   = 100
	CUMemOpBaseCost                    = 10
	CUCpiBytesPerUnit                  = 250
	CUSha256BaseCost                   = 85
	CUSha256ByteCost                   = 1
	CUSha256MaxSlices                  = 20000
	CUCreateProgramAddressUnits        = 1500
	CUSecP256k1RecoverCost             = 25000
	CUInvokeUnits                      = 1000
	CUSystemProgramDefaultComputeUnits = 150
	CUMaxCpiInstructionSize            = 1280
	CUUpgradeableLoaderComputeUnits    = 2370
	CUDeprecatedLoaderComputeUnits     = 1140
	CUDefaultLoaderComputeUnits        = 570
	CUHeapCostDefault                  = 8
)
