package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/celer-network/goutils/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/comreton-network/comreton-node/indexer"
	"github.com/comreton-network/comreton-node/metrics"
)

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func (a *app) indexerConfig() indexer.Config {
	return indexer.Config{
		PollInterval: a.cfg.Indexer.PollInterval,
		PageLimit:    a.cfg.Indexer.PageLimit,
	}
}

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the indexer, the executor and the status server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			n, err := a.buildNode(ctx)
			if err != nil {
				return err
			}
			defer n.Close()

			ix := indexer.New(n.dialer, a.cfg.Contract(), indexer.LogHandler{Waker: n.executor}, n.store, a.indexerConfig())
			srv := metrics.NewServer(a.cfg.Metrics.Addr,
				func() any { return n.executor.Tracker().Snapshot() },
				func() any { return n.recent.Snapshot() })

			g, gctx := errgroup.WithContext(ctx)
			g.Go(srv.Start)
			g.Go(func() error {
				<-gctx.Done()
				shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if serr := srv.Stop(shutdown); serr != nil {
					log.Warnf("stop status server err: %s", serr)
				}
				return nil
			})
			g.Go(func() error { return ix.Run(gctx) })
			g.Go(func() error { return n.executor.Run(gctx) })
			err = g.Wait()

			if errors.Is(err, context.Canceled) {
				err = nil
			}
			log.Infoln("shutdown complete")
			return err
		},
	}
}

func newIndexCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "index",
		Short: "Follow JobCreated events and log each new job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			d, err := a.dialer()
			if err != nil {
				return err
			}
			if err = a.checkChain(ctx, d); err != nil {
				return err
			}
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			ix := indexer.New(d, a.cfg.Contract(), indexer.LogHandler{}, st, a.indexerConfig())
			err = ix.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}

func newExecuteCmd(a *app) *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "execute",
		Short: "Prove and submit results for pending jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			n, err := a.buildNode(ctx)
			if err != nil {
				return err
			}
			defer n.Close()

			if once {
				return n.executor.RunCycle(ctx)
			}
			return n.executor.Run(ctx)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "Run a single cycle and exit")
	return cmd
}
