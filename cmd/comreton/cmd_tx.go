package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/comreton-network/comreton-node/common"
	"github.com/comreton-network/comreton-node/common/utils"
	"github.com/comreton-network/comreton-node/executor"
	"github.com/comreton-network/comreton-node/ledger"
	"github.com/comreton-network/comreton-node/prover"
)

// send signs fn(args) with the configured key and waits for confirmation
func (a *app) send(ctx context.Context, entry string, args ...any) error {
	d, err := a.dialer()
	if err != nil {
		return err
	}
	sub, err := a.submitter(d)
	if err != nil {
		return err
	}
	if args == nil {
		args = []any{}
	}
	hash, err := sub.SubmitAndWait(ctx, a.cfg.Contract().Function(entry), args)
	if err != nil {
		return fmt.Errorf("%s err: %w", entry, err)
	}
	fmt.Fprintf(a.stdout, "%s confirmed: %s\n", entry, hash)
	return nil
}

func newInitializeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "initialize",
		Short: "Create the orchestrator manager resource",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.send(cmd.Context(), common.EntryInitialize)
		},
	}
}

func newRegisterModelCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "register-model <cid> <fee>",
		Short: "Register a model by content id with its inference fee",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := strconv.ParseUint(args[1], 10, 64); err != nil {
				return fmt.Errorf("invalid fee %q: %w", args[1], err)
			}
			return a.send(cmd.Context(), common.EntryRegisterModel, args[0], args[1])
		},
	}
}

func newRegisterExecutorCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "register-executor [address]",
		Short: "Authorize an executor account, the signer's by default",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var addr string
			if len(args) == 1 {
				addr = utils.NormalizeAddress(args[0])
			} else {
				signer, err := a.cfg.Signer()
				if err != nil {
					return err
				}
				addr = signer.Address()
			}
			return a.send(cmd.Context(), common.EntryRegisterExecutor, addr)
		},
	}
}

func newRequestInferenceCmd(a *app) *cobra.Command {
	var input []int64
	cmd := &cobra.Command{
		Use:   "request-inference <model-id>",
		Short: "Create an inference job for a model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := strconv.ParseUint(args[0], 10, 64); err != nil {
				return fmt.Errorf("invalid model id %q: %w", args[0], err)
			}
			if len(input) != prover.InputSize {
				return fmt.Errorf("--input needs %d values, got %d", prover.InputSize, len(input))
			}
			payload, err := json.Marshal(input)
			if err != nil {
				return err
			}
			return a.send(cmd.Context(), common.EntryRequestInference, args[0], utils.Bytes2Hex0x(payload))
		},
	}
	cmd.Flags().Int64SliceVar(&input, "input", nil, "Scaled model input, e.g. --input 1500,-2000")
	return cmd
}

func newSubmitCmd(a *app) *cobra.Command {
	var artifactDir string
	cmd := &cobra.Command{
		Use:   "submit <job-id>",
		Short: "Prove one job, or load a snarkjs artifact, and submit its result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid job id %q: %w", args[0], err)
			}
			var artifact *prover.Artifact
			if artifactDir != "" {
				artifact, err = prover.LoadArtifact(artifactDir)
			} else {
				artifact, err = a.proveJob(ctx, id)
			}
			if err != nil {
				return err
			}
			submitArgs, err := executor.SubmitArgs(id, artifact)
			if err != nil {
				return err
			}
			return a.send(ctx, common.EntrySubmitResult, submitArgs...)
		},
	}
	cmd.Flags().StringVar(&artifactDir, "artifact-dir", "", "Directory holding proof.json and public.json")
	return cmd
}

func (a *app) proveJob(ctx context.Context, id uint64) (*prover.Artifact, error) {
	if err := a.cfg.ValidateExecutor(); err != nil {
		return nil, err
	}
	d, err := a.dialer()
	if err != nil {
		return nil, err
	}
	job, err := a.readJob(ctx, d, id)
	if err != nil {
		return nil, err
	}
	if job.Status == common.JobStatusCompleted {
		return nil, fmt.Errorf("job %d is already completed", id)
	}
	p, err := a.pipeline(ctx, nil)
	if err != nil {
		return nil, err
	}
	return p.Run(ctx, prover.JobInputs{JobID: id, ModelID: job.ModelID.Uint64(), Payload: job.InputData})
}

func (a *app) readJob(ctx context.Context, c ledger.Connector, id uint64) (*ledger.Job, error) {
	sess, err := c.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer sess.Release()
	contract := a.cfg.Contract()
	m, err := contract.Manager(ctx, sess)
	if err != nil {
		return nil, fmt.Errorf("read manager err: %w", err)
	}
	if id >= m.JobCounter.Uint64() {
		return nil, fmt.Errorf("job %d does not exist, job_counter=%d", id, m.JobCounter.Uint64())
	}
	return contract.Job(ctx, sess, m.Jobs.Handle, id)
}
