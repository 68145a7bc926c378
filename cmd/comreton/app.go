package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/celer-network/goutils/log"
	"github.com/philippgille/gokv"
	"github.com/spf13/viper"

	"github.com/comreton-network/comreton-node/alarm"
	"github.com/comreton-network/comreton-node/config"
	"github.com/comreton-network/comreton-node/executor"
	"github.com/comreton-network/comreton-node/ledger"
	"github.com/comreton-network/comreton-node/prover"
	"github.com/comreton-network/comreton-node/store"
)

// app carries the loaded configuration shared by all commands
type app struct {
	v      *viper.Viper
	cfg    *config.Config
	stdout io.Writer
	stderr io.Writer
}

func (a *app) load(path string) error {
	cfg, err := config.Load(a.v, path)
	if err != nil {
		return err
	}
	if cfg.Log.Level != "" {
		log.SetLevelByName(cfg.Log.Level)
	}
	a.cfg = cfg
	return nil
}

func (a *app) dialer() (*ledger.Dialer, error) {
	if err := a.cfg.Validate(); err != nil {
		return nil, err
	}
	return ledger.NewDialer(a.cfg.DialerConfig())
}

func (a *app) submitter(d *ledger.Dialer) (*ledger.Submitter, error) {
	signer, err := a.cfg.Signer()
	if err != nil {
		return nil, err
	}
	return ledger.NewSubmitter(d, signer, a.cfg.SubmitterConfig()), nil
}

// checkChain refuses to run against a node of another chain
func (a *app) checkChain(ctx context.Context, c ledger.Connector) error {
	if a.cfg.ChainID == 0 {
		return nil
	}
	sess, err := c.Acquire(ctx)
	if err != nil {
		return err
	}
	defer sess.Release()
	info, err := sess.GetLedgerInfo(ctx)
	if err != nil {
		return fmt.Errorf("read ledger info err: %w", err)
	}
	if info.ChainID != a.cfg.ChainID {
		return fmt.Errorf("node reports chain id %d, configured %d", info.ChainID, a.cfg.ChainID)
	}
	return nil
}

func (a *app) openStore() (gokv.Store, error) {
	return store.InitStore(a.cfg.Store.Type, a.cfg.Store.Options)
}

// pipeline builds the configured proving backend and checks its trusted
// setup. A missing setup is returned as a fatal error.
func (a *app) pipeline(ctx context.Context, st gokv.Store) (*prover.Pipeline, error) {
	pc := a.cfg.Prover
	catalog, err := prover.NewCatalog(pc.Models)
	if err != nil {
		return nil, err
	}
	var backend prover.Prover
	switch pc.Backend {
	case config.BackendSnarkjs:
		backend = prover.NewSnarkjsRunner(prover.SnarkjsConfig{
			CircuitPath: pc.Circuit,
			PtauFile:    pc.PtauFile,
			BuildDir:    pc.SetupDir,
			WorkDir:     pc.WorkDir,
			IncludeDir:  pc.IncludeDir,
			CircomBin:   pc.CircomBin,
			SnarkjsBin:  pc.SnarkjsBin,
		})
	default:
		backend = prover.NewGnarkRunner(prover.NewSetupManager(pc.SetupDir))
	}
	if pc.Cache && st != nil {
		backend = prover.NewCachedProver(backend, st)
	}
	p := prover.NewPipeline(catalog, backend, pc.Timeout)
	if err := p.Prepare(ctx); err != nil {
		if errors.Is(err, prover.ErrSetupMissing) {
			return nil, fmt.Errorf("trusted setup missing, run `comreton setup` or provide the ceremony files: %w", err)
		}
		return nil, err
	}
	return p, nil
}

// alarms returns the configured alarm sinks and a flush function. rec keeps
// recent alarms for the status server.
func (a *app) alarms(rec *alarm.Recorder) (alarm.Alarm, func(), error) {
	sinks := alarm.Multi{alarm.Log{}, rec}
	if a.cfg.Sentry.DSN == "" {
		return sinks, func() {}, nil
	}
	s, err := alarm.NewSentry(a.cfg.Sentry.DSN, a.cfg.Sentry.Environment)
	if err != nil {
		return nil, nil, err
	}
	return append(sinks, s), func() { s.Flush(2 * time.Second) }, nil
}

// node wires the executor with everything it needs
// number of alarms kept for /alarms
const recentAlarms = 100

type node struct {
	dialer   *ledger.Dialer
	store    gokv.Store
	executor *executor.Executor
	recent   *alarm.Recorder
	flush    func()
}

func (n *node) Close() {
	n.flush()
	if err := n.store.Close(); err != nil {
		log.Warnf("close store err: %s", err)
	}
}

func (a *app) buildNode(ctx context.Context) (*node, error) {
	if err := a.cfg.ValidateExecutor(); err != nil {
		return nil, err
	}
	d, err := a.dialer()
	if err != nil {
		return nil, err
	}
	if err = a.checkChain(ctx, d); err != nil {
		return nil, err
	}
	sub, err := a.submitter(d)
	if err != nil {
		return nil, err
	}
	st, err := a.openStore()
	if err != nil {
		return nil, err
	}
	p, err := a.pipeline(ctx, st)
	if err != nil {
		st.Close()
		return nil, err
	}
	recent := alarm.NewRecorder(recentAlarms)
	alarms, flush, err := a.alarms(recent)
	if err != nil {
		st.Close()
		return nil, err
	}
	ec := a.cfg.Executor
	exec := executor.New(d, a.cfg.Contract(), p, sub, alarms, executor.Config{
		PollInterval: ec.PollInterval,
		Retry: executor.RetryConfig{
			InitialInterval: ec.BackoffInitial,
			MaxInterval:     ec.BackoffMax,
			AlarmThreshold:  ec.MaxAttemptsAlarm,
		},
	})
	log.Infof("executor account %s, prover backend %s", sub.Sender(), a.cfg.Prover.Backend)
	return &node{dialer: d, store: st, executor: exec, recent: recent, flush: flush}, nil
}
