package common

import "time"

// On-chain job status values of orchestrator::Job.status
const (
	JobStatusPending   uint8 = 0
	JobStatusCompleted uint8 = 1
)

// Move module, struct and entry function names of the orchestrator contract
const (
	OrchestratorModule = "orchestrator"
	ManagerStruct      = "ComretonManager"
	JobStruct          = "Job"

	EntrySubmitResult     = "submit_result"
	EntryInitialize       = "initialize"
	EntryRegisterModel    = "register_model"
	EntryRegisterExecutor = "register_executor"
	EntryRequestInference = "request_inference"

	JobTableKeyType = "u64"
)

const (
	DefaultNodeURL         = "https://fullnode.devnet.aptoslabs.com"
	DefaultExecutorPoll    = 10 * time.Second
	DefaultIndexerPoll     = 5 * time.Second
	DefaultRequestTimeout  = 15 * time.Second
	DefaultConfirmTimeout  = 60 * time.Second
	DefaultProverTimeout   = 10 * time.Minute
	DefaultEventPageLimit  = 100
	DefaultMaxGasAmount    = 200000
	DefaultGasUnitPrice    = 100
	DefaultTxExpirySeconds = 600
)

// ScalingFactor is the fixed-point factor applied to every weight, bias and
// activation fed to the inference circuit.
const ScalingFactor = 1000
