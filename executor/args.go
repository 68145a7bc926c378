package executor

import (
	"fmt"
	"strconv"

	"github.com/comreton-network/comreton-node/codec"
	"github.com/comreton-network/comreton-node/common/utils"
	"github.com/comreton-network/comreton-node/prover"
)

// SubmitArgs encodes an artifact into the arguments of
// submit_result(job_id, output, pi_a, pi_b, pi_c, public_signals). Byte
// vectors travel as 0x-prefixed hex, the u64 job id as a decimal string.
func SubmitArgs(jobID uint64, a *prover.Artifact) ([]any, error) {
	output, err := a.Output()
	if err != nil {
		return nil, err
	}
	out, err := codec.Encode(output)
	if err != nil {
		return nil, fmt.Errorf("output: %w", err)
	}
	piA, err := codec.Encode(a.Proof.PiA)
	if err != nil {
		return nil, fmt.Errorf("pi_a: %w", err)
	}
	piB, err := codec.Encode(a.Proof.PiB)
	if err != nil {
		return nil, fmt.Errorf("pi_b: %w", err)
	}
	piC, err := codec.Encode(a.Proof.PiC)
	if err != nil {
		return nil, fmt.Errorf("pi_c: %w", err)
	}
	signals, err := codec.EncodeAll(a.PublicSignals)
	if err != nil {
		return nil, fmt.Errorf("public_signals: %w", err)
	}
	return []any{
		strconv.FormatUint(jobID, 10),
		utils.Bytes2Hex0x(out),
		utils.Bytes2Hex0x(piA),
		utils.Bytes2Hex0x(piB),
		utils.Bytes2Hex0x(piC),
		utils.ArrayBytes2Hex0x(signals),
	}, nil
}
