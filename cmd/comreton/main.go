// comreton runs the off-chain side of the orchestrator: it indexes new
// inference jobs, proves them and submits the results.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/comreton-network/comreton-node/config"
)

// Version metadata injected via ldflags.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// errExit signals a non-zero exit after the command already reported the error
var errExit = errors.New("exit")

func run(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	if args == nil {
		args = []string{}
	}
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.Execute(); err != nil {
		if !errors.Is(err, errExit) {
			fmt.Fprintf(stderr, "comreton: %v\n", err)
		}
		return 1
	}
	return 0
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{v: config.NewViper(), stdout: stdout, stderr: stderr}
	root := &cobra.Command{
		Use:           "comreton",
		Short:         "Off-chain prover and executor for the orchestrator contract",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			path, _ := cmd.Flags().GetString("config")
			return a.load(path)
		},
	}
	flags := root.PersistentFlags()
	flags.String("config", "", "Config file (yaml, toml or json)")
	flags.String("node-url", "", "Ledger REST endpoint")
	flags.String("contract", "", "Orchestrator contract address")
	flags.String("log-level", "", "Log level: debug, info, warn, error")
	bindFlags(a.v, flags, map[string]string{
		"node_url":         "node-url",
		"contract_address": "contract",
		"log.level":        "log-level",
	})

	root.AddCommand(
		newServeCmd(a),
		newIndexCmd(a),
		newExecuteCmd(a),
		newJobsCmd(a),
		newEncodeCmd(a),
		newSetupCmd(a),
		newSubmitCmd(a),
		newInitializeCmd(a),
		newRegisterModelCmd(a),
		newRegisterExecutorCmd(a),
		newRequestInferenceCmd(a),
		newVersionCmd(stdout),
	)
	return root
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		_ = v.BindPFlag(key, flags.Lookup(name))
	}
}
