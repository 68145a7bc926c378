package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/comreton-network/comreton-node/codec"
	"github.com/comreton-network/comreton-node/common"
	"github.com/comreton-network/comreton-node/config"
	"github.com/comreton-network/comreton-node/common/utils"
	"github.com/comreton-network/comreton-node/prover"
)

func statusName(s uint8) string {
	switch s {
	case common.JobStatusPending:
		return "pending"
	case common.JobStatusCompleted:
		return "completed"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

func newJobsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "jobs",
		Short: "List every job of the orchestrator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			d, err := a.dialer()
			if err != nil {
				return err
			}
			sess, err := d.Acquire(ctx)
			if err != nil {
				return err
			}
			defer sess.Release()
			contract := a.cfg.Contract()
			m, err := contract.Manager(ctx, sess)
			if err != nil {
				return fmt.Errorf("read manager err: %w", err)
			}

			t := table.NewWriter()
			t.SetStyle(table.StyleLight)
			t.SetOutputMirror(a.stdout)
			t.AppendHeader(table.Row{"#", "model", "requester", "status", "result"})
			for id := uint64(0); id < m.JobCounter.Uint64(); id++ {
				job, err := contract.Job(ctx, sess, m.Jobs.Handle, id)
				if err != nil {
					t.AppendRow(table.Row{id, "", "", "read err: " + err.Error(), ""})
					continue
				}
				result := ""
				if len(job.Result) > 0 {
					result = utils.Bytes2Hex0x(job.Result)
				}
				t.AppendRow(table.Row{id, job.ModelID.Uint64(), job.Requester, statusName(job.Status), result})
			}
			t.Render()
			return nil
		},
	}
}

func newEncodeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "encode [json]",
		Short: "Encode a hex value or nested list as the ledger expects it",
		Long:  "Reads a JSON hex string or nested array of hex strings from the argument or stdin and prints its byte encoding.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var raw []byte
			if len(args) == 1 {
				raw = []byte(args[0])
			} else {
				var err error
				if raw, err = io.ReadAll(cmd.InOrStdin()); err != nil {
					return err
				}
			}
			var v codec.HexValue
			if err := json.Unmarshal([]byte(strings.TrimSpace(string(raw))), &v); err != nil {
				return fmt.Errorf("parse hex value: %w", err)
			}
			out, err := codec.EncodeForDisplay(v)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, out)
			return nil
		},
	}
}

func newSetupCmd(a *app) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Compile the inference circuit and generate gnark proving keys",
		Long:  "Runs a local groth16 setup. The keys are only fit for development; production deployments use keys from a ceremony.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.Prover.Backend != "" && a.cfg.Prover.Backend != config.BackendGnark {
				return fmt.Errorf("setup only serves the gnark backend, configured %q", a.cfg.Prover.Backend)
			}
			keys, err := prover.NewSetupManager(a.cfg.Prover.SetupDir).Generate(force)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "keys ready in %s, circuit digest 0x%x\n", a.cfg.Prover.SetupDir, keys.Digest)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Regenerate keys even if they exist")
	return cmd
}

func newVersionCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(*cobra.Command, []string) {
			fmt.Fprintf(stdout, "comreton %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
