// Package executor polls the ledger for pending jobs, proves them and
// submits the results.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/celer-network/goutils/log"

	"github.com/comreton-network/comreton-node/alarm"
	"github.com/comreton-network/comreton-node/codec"
	"github.com/comreton-network/comreton-node/common"
	"github.com/comreton-network/comreton-node/ledger"
	"github.com/comreton-network/comreton-node/metrics"
	"github.com/comreton-network/comreton-node/prover"
)

// Stage names used in logs and alarms besides the prover's own stages
const (
	StageReadJob = "ReadJob"
	StageEncode  = "Encode"
	StageSubmit  = "Submit"
	StageConfirm = "Confirm"
)

type Submitter interface {
	SubmitAndWait(ctx context.Context, function string, args []any) (ledger.TxHash, error)
}

type Config struct {
	PollInterval time.Duration
	Retry        RetryConfig
}

type Executor struct {
	connector ledger.Connector
	contract  ledger.Contract
	runner    prover.Runner
	submitter Submitter
	alarm     alarm.Alarm
	config    Config

	tracker *Tracker
	retry   *retryPolicy
	wake    chan struct{}
	now     func() time.Time
}

func New(
	connector ledger.Connector,
	contract ledger.Contract,
	runner prover.Runner,
	submitter Submitter,
	alarms alarm.Alarm,
	config Config,
) *Executor {
	if config.PollInterval <= 0 {
		config.PollInterval = common.DefaultExecutorPoll
	}
	return &Executor{
		connector: connector,
		contract:  contract,
		runner:    runner,
		submitter: submitter,
		alarm:     alarms,
		config:    config,
		tracker:   NewTracker(),
		retry:     newRetryPolicy(config.Retry),
		wake:      make(chan struct{}, 1),
		now:       time.Now,
	}
}

func (e *Executor) Tracker() *Tracker {
	return e.tracker
}

// Wake starts the next cycle early. It never blocks.
func (e *Executor) Wake() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Run polls until ctx is done. Cycle errors are logged and retried on the
// next tick.
func (e *Executor) Run(ctx context.Context) error {
	log.Infof("executor started, contract=%s poll=%s", e.contract.Address, e.config.PollInterval)
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Infoln("executor stopped")
			return nil
		case <-timer.C:
		case <-e.wake:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}
		if err := e.RunCycle(ctx); err != nil && ctx.Err() == nil {
			log.Warnf("executor cycle err: %s", err)
		}
		timer.Reset(e.config.PollInterval)
	}
}

// RunCycle scans every job once. Only failures to reach the manager resource
// abort the cycle; per-job failures are recorded and the scan continues.
func (e *Executor) RunCycle(ctx context.Context) error {
	session, err := e.connector.Acquire(ctx)
	if err != nil {
		metrics.ExecutorCycleErrors.Inc()
		return fmt.Errorf("acquire session err: %w", err)
	}
	defer session.Release()

	manager, err := e.contract.Manager(ctx, session)
	if err != nil {
		metrics.ExecutorCycleErrors.Inc()
		return fmt.Errorf("read manager err: %w", err)
	}
	counter := manager.JobCounter.Uint64()
	log.Debugf("executor cycle, job_counter=%d", counter)

	pending := 0
	for id := uint64(0); id < counter; id++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if e.processJob(ctx, session, manager.Jobs.Handle, id) {
			pending++
		}
	}
	metrics.PendingJobs.Set(float64(pending))
	metrics.ExecutorCycles.Inc()
	return nil
}

// processJob handles one job and reports whether it was pending
func (e *Executor) processJob(ctx context.Context, r ledger.Reader, handle string, id uint64) bool {
	job, err := e.contract.Job(ctx, r, handle, id)
	if err != nil {
		log.Warnf("read job failed, job=%d stage=%s err=%s", id, StageReadJob, err)
		return false
	}
	e.tracker.Discover(id)

	if job.Status == common.JobStatusCompleted {
		if rec, _ := e.tracker.Get(id); rec.State != StateConfirmed {
			e.transition(e.tracker.Confirm(id, rec.TxHash))
			e.retry.reset(id)
		}
		metrics.JobAttempts.WithLabelValues(metrics.OutcomeSkipped).Inc()
		return false
	}
	if job.Status != common.JobStatusPending {
		log.Warnf("unknown job status, job=%d status=%d", id, job.Status)
		return false
	}
	if !e.retry.eligible(id, e.now()) {
		log.Debugf("job waiting for retry, job=%d", id)
		return true
	}

	if err := e.attempt(ctx, r, handle, job); err != nil {
		e.fail(ctx, id, err)
		return true
	}
	return true
}

// stageError tags an attempt failure with the step it happened in
type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string { return e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

func (e *Executor) attempt(ctx context.Context, r ledger.Reader, handle string, job *ledger.Job) error {
	id := job.ID.Uint64()
	e.transition(e.tracker.Transition(id, StateProvingInProgress))

	inputs := prover.JobInputs{JobID: id, ModelID: job.ModelID.Uint64(), Payload: job.InputData}
	start := time.Now()
	artifact, err := e.runner.Run(ctx, inputs)
	if err != nil {
		return &stageError{stage: string(prover.StageOf(err)), err: err}
	}
	metrics.ProvingSeconds.Observe(time.Since(start).Seconds())
	e.transition(e.tracker.Transition(id, StateProofReady))

	args, err := SubmitArgs(id, artifact)
	if err != nil {
		e.invalidate(ctx, inputs)
		return &stageError{stage: StageEncode, err: err}
	}
	e.transition(e.tracker.Transition(id, StateSubmitted))

	hash, err := e.submitter.SubmitAndWait(ctx, e.contract.Function(common.EntrySubmitResult), args)
	if hash != "" {
		e.tracker.SetTxHash(id, string(hash))
	}
	if err != nil {
		if ledger.IsRejected(err) {
			e.invalidate(ctx, inputs)
		}
		return &stageError{stage: StageSubmit, err: err}
	}

	// confirmed on-chain; trust only the job's own status
	after, err := e.contract.Job(ctx, r, handle, id)
	if err != nil {
		return &stageError{stage: StageConfirm, err: err}
	}
	if after.Status != common.JobStatusCompleted {
		return &stageError{stage: StageConfirm, err: fmt.Errorf("tx %s confirmed but job status is %d", hash, after.Status)}
	}
	e.transition(e.tracker.Confirm(id, string(hash)))
	e.retry.reset(id)
	metrics.JobAttempts.WithLabelValues(metrics.OutcomeConfirmed).Inc()
	log.Infof("job confirmed, job=%d tx=%s", id, hash)
	return nil
}

// invalidator is implemented by runners that keep proofs between attempts
type invalidator interface {
	Invalidate(ctx context.Context, job prover.JobInputs) error
}

// invalidate drops a stored proof the ledger would not accept
func (e *Executor) invalidate(ctx context.Context, job prover.JobInputs) {
	inv, ok := e.runner.(invalidator)
	if !ok {
		return
	}
	if err := inv.Invalidate(ctx, job); err != nil {
		log.Warnf("drop cached proof failed, job=%d err=%s", job.JobID, err)
	}
}

func (e *Executor) fail(ctx context.Context, id uint64, err error) {
	stage := StageSubmit
	var se *stageError
	if errors.As(err, &se) {
		stage = se.stage
		err = se.err
	}
	next, crossed, failures := e.retry.failure(id, e.now())
	e.transition(e.tracker.Fail(id, stage, err, next))
	metrics.JobAttempts.WithLabelValues(metrics.OutcomeFailed).Inc()
	metrics.StageFailures.WithLabelValues(stage).Inc()
	log.Errorf("job failed, job=%d stage=%s attempts=%d err=%s", id, stage, failures, err)

	ev := alarm.Event{JobID: id, Attempts: failures, Stage: stage, Err: err}
	var encErr *codec.EncodingInvariantError
	switch {
	case errors.As(err, &encErr):
		ev.Kind = alarm.KindEncodingInvariant
	case ledger.IsRejected(err):
		ev.Kind = alarm.KindSubmissionRejected
	case crossed:
		ev.Kind = alarm.KindRetryThreshold
	default:
		return
	}
	metrics.Alarms.WithLabelValues(string(ev.Kind)).Inc()
	e.alarm.Raise(ctx, ev)
}

func (e *Executor) transition(err error) {
	if err != nil {
		log.Errorln(err)
	}
}
