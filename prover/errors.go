package prover

import (
	"errors"
	"fmt"
)

// Stage names the pipeline step that failed
type Stage string

const (
	StageCompile           Stage = "Compile"
	StageSetup             Stage = "Setup"
	StageWitnessGeneration Stage = "WitnessGeneration"
	StageProving           Stage = "Proving"
	StageVerification      Stage = "Verification"
)

// ErrSetupMissing means the trusted setup artifacts are absent. It is a
// configuration error: the runner never regenerates them on its own.
var ErrSetupMissing = errors.New("trusted setup artifact missing")

// ErrVerificationFailed is returned when a freshly generated proof does not
// pass local verification. Such a proof is never submitted.
var ErrVerificationFailed = errors.New("proof failed local verification")

type PipelineError struct {
	Stage  Stage
	Detail string
	Err    error
}

func (e *PipelineError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("pipeline %s: %s", e.Stage, e.Detail)
	}
	return fmt.Sprintf("pipeline %s: %s: %s", e.Stage, e.Detail, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the stage was cut short by its deadline, which is
// retryable like any transient error.
func (e *PipelineError) Timeout() bool {
	return errors.Is(e.Err, errTimeout)
}

// Fatal reports configuration problems no retry can fix
func (e *PipelineError) Fatal() bool {
	return errors.Is(e.Err, ErrSetupMissing)
}

var errTimeout = errors.New("deadline exceeded")

func stageErr(stage Stage, err error, format string, args ...any) *PipelineError {
	return &PipelineError{Stage: stage, Detail: fmt.Sprintf(format, args...), Err: err}
}

// StageOf returns the failing stage of err, or "" when err is not a
// pipeline error.
func StageOf(err error) Stage {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Stage
	}
	return ""
}
