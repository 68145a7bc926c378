package executor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/comreton-network/comreton-node/alarm"
	"github.com/comreton-network/comreton-node/codec"
	"github.com/comreton-network/comreton-node/common"
	"github.com/comreton-network/comreton-node/ledger"
	"github.com/comreton-network/comreton-node/ledger/ledgertest"
	"github.com/comreton-network/comreton-node/prover"
	"github.com/comreton-network/comreton-node/store"
)

const testContract = "0xc0de"

type fakeRunner struct {
	mu    sync.Mutex
	calls []uint64
	err   error
	// overrides the output signal when set
	output      string
	invalidated []uint64
}

func (r *fakeRunner) Invalidate(_ context.Context, job prover.JobInputs) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invalidated = append(r.invalidated, job.JobID)
	return nil
}

func (r *fakeRunner) Invalidated() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint64(nil), r.invalidated...)
}

func (r *fakeRunner) Run(ctx context.Context, job prover.JobInputs) (*prover.Artifact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, job.JobID)
	if r.err != nil {
		return nil, r.err
	}
	out := "0x2a"
	if r.output != "" {
		out = r.output
	}
	return &prover.Artifact{
		Proof: prover.Proof{
			PiA: codec.Strings("0x1", "0x2", "0x1"),
			PiB: codec.List(codec.Strings("0x3", "0x4"), codec.Strings("0x5", "0x6"), codec.Strings("0x1", "0x0")),
			PiC: codec.Strings("0x7", "0x8", "0x1"),
		},
		PublicSignals: []codec.HexValue{codec.Hex(out)},
	}, nil
}

func (r *fakeRunner) Calls() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint64(nil), r.calls...)
}

type harness struct {
	node     *ledgertest.Node
	contract ledger.Contract
	runner   *fakeRunner
	alarms   *alarm.Recorder
	dialer   *ledger.Dialer
	sub      *ledger.Submitter
}

func newHarness(t *testing.T) *harness {
	contract := ledger.NewContract(testContract, "")
	node := ledgertest.NewNode(t, contract)
	dialer, err := ledger.NewDialer(ledger.DialerConfig{NodeURL: node.URL, RequestTimeout: 2 * time.Second})
	require.NoError(t, err)
	signer, err := ledger.ParsePrivateKey(ledgertest.TestKey)
	require.NoError(t, err)
	sub := ledger.NewSubmitter(dialer, signer, ledger.SubmitterConfig{
		ConfirmTimeout: 2 * time.Second,
		ConfirmPoll:    10 * time.Millisecond,
	})
	return &harness{
		node:     node,
		contract: contract,
		runner:   &fakeRunner{},
		alarms:   alarm.NewRecorder(0),
		dialer:   dialer,
		sub:      sub,
	}
}

func (h *harness) executor(retry RetryConfig) *Executor {
	return New(h.dialer, h.contract, h.runner, h.sub, h.alarms, Config{PollInterval: time.Hour, Retry: retry})
}

func submittedJobs(node *ledgertest.Node) []string {
	var ids []string
	for _, s := range node.Submissions() {
		ids = append(ids, s.Payload.Arguments[0].(string))
	}
	return ids
}

func TestOnlyPendingJobIsSubmitted(t *testing.T) {
	h := newHarness(t)
	h.node.AddJob(0, common.JobStatusCompleted, nil)
	h.node.AddJob(0, common.JobStatusCompleted, nil)
	h.node.AddJob(0, common.JobStatusPending, nil)
	e := h.executor(RetryConfig{})

	require.NoError(t, e.RunCycle(context.Background()))
	require.Equal(t, []uint64{2}, h.runner.Calls())
	require.Equal(t, []string{"2"}, submittedJobs(h.node))
	require.Equal(t, common.JobStatusCompleted, h.node.Job(2).Status)
	require.Equal(t, []byte{0x2a}, []byte(h.node.Job(2).Result))

	rec, ok := e.Tracker().Get(2)
	require.True(t, ok)
	require.Equal(t, StateConfirmed, rec.State)
	require.NotEmpty(t, rec.TxHash)
	require.Equal(t, 1, rec.Attempts)

	rec, _ = e.Tracker().Get(0)
	require.Equal(t, StateConfirmed, rec.State)
	require.Empty(t, rec.TxHash)
	require.Empty(t, h.alarms.Events())
}

func TestCompletedJobsNeverResubmitted(t *testing.T) {
	h := newHarness(t)
	h.node.AddJob(0, common.JobStatusPending, nil)
	e := h.executor(RetryConfig{})
	require.NoError(t, e.RunCycle(context.Background()))
	require.NoError(t, e.RunCycle(context.Background()))

	// a restarted process has no local state and relies on the ledger
	restarted := h.executor(RetryConfig{})
	require.NoError(t, restarted.RunCycle(context.Background()))

	require.Equal(t, []string{"0"}, submittedJobs(h.node))
	require.Equal(t, []uint64{0}, h.runner.Calls())
}

func TestVerificationFailureSubmitsNothing(t *testing.T) {
	h := newHarness(t)
	h.node.AddJob(0, common.JobStatusPending, nil)
	h.runner.err = &prover.PipelineError{Stage: prover.StageVerification, Detail: "groth16.Verify", Err: prover.ErrVerificationFailed}
	e := h.executor(RetryConfig{})

	require.NoError(t, e.RunCycle(context.Background()))
	require.Empty(t, h.node.Submissions())
	for _, req := range h.node.Requests() {
		require.False(t, strings.HasPrefix(req, "POST /transactions"), req)
	}
	rec, _ := e.Tracker().Get(0)
	require.Equal(t, StateFailed, rec.State)
	require.Equal(t, string(prover.StageVerification), rec.LastStage)
	require.Equal(t, common.JobStatusPending, h.node.Job(0).Status)
}

func TestReadErrorIsolatedToOneJob(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 3; i++ {
		h.node.AddJob(0, common.JobStatusPending, nil)
	}
	h.node.FailJobReads(1, 1)
	e := h.executor(RetryConfig{})

	require.NoError(t, e.RunCycle(context.Background()))
	require.Equal(t, []uint64{0, 2}, h.runner.Calls())
	require.Equal(t, []string{"0", "2"}, submittedJobs(h.node))
	require.Equal(t, common.JobStatusPending, h.node.Job(1).Status)

	require.NoError(t, e.RunCycle(context.Background()))
	require.Equal(t, []string{"0", "2", "1"}, submittedJobs(h.node))
}

func TestRejectedSubmissionRaisesAlarm(t *testing.T) {
	h := newHarness(t)
	h.node.AddJob(0, common.JobStatusPending, nil)
	h.node.RejectNextSubmission("Move abort: E_NOT_EXECUTOR")
	e := h.executor(RetryConfig{AlarmThreshold: 5})

	require.NoError(t, e.RunCycle(context.Background()))
	events := h.alarms.Events()
	require.Len(t, events, 1)
	require.Equal(t, alarm.KindSubmissionRejected, events[0].Kind)
	require.Equal(t, StageSubmit, events[0].Stage)
	rec, _ := e.Tracker().Get(0)
	require.Equal(t, StateFailed, rec.State)
	require.NotEmpty(t, rec.TxHash)
	require.Equal(t, []uint64{0}, h.runner.Invalidated())

	// the job stays eligible and succeeds once the ledger accepts it
	require.NoError(t, e.RunCycle(context.Background()))
	rec, _ = e.Tracker().Get(0)
	require.Equal(t, StateConfirmed, rec.State)
	require.Equal(t, 2, rec.Attempts)
	require.Equal(t, []uint64{0}, h.runner.Invalidated())
}

type countingProver struct {
	mu    sync.Mutex
	calls int
}

func (p *countingProver) Prepare(context.Context) error { return nil }

func (p *countingProver) Prove(_ context.Context, in *prover.CircuitInputs) (*prover.Artifact, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return (&fakeRunner{}).Run(context.Background(), prover.JobInputs{})
}

func (p *countingProver) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func TestRejectedSubmissionDropsCachedProof(t *testing.T) {
	h := newHarness(t)
	h.node.AddJob(0, common.JobStatusPending, []byte("[1500,-2000]"))
	h.node.RejectNextSubmission("Move abort: E_INVALID_PROOF")

	kv, err := store.InitStore(store.TypeSyncMap, "")
	require.NoError(t, err)
	inner := &countingProver{}
	catalog, err := prover.NewCatalog(nil)
	require.NoError(t, err)
	pipeline := prover.NewPipeline(catalog, prover.NewCachedProver(inner, kv), time.Minute)
	e := New(h.dialer, h.contract, pipeline, h.sub, h.alarms, Config{PollInterval: time.Hour})

	require.NoError(t, e.RunCycle(context.Background()))
	require.Equal(t, 1, inner.Calls())
	require.NoError(t, e.RunCycle(context.Background()))
	require.Equal(t, 2, inner.Calls())
	rec, _ := e.Tracker().Get(0)
	require.Equal(t, StateConfirmed, rec.State)
}

func TestEncodingInvariantRaisesAlarm(t *testing.T) {
	h := newHarness(t)
	h.node.AddJob(0, common.JobStatusPending, nil)
	h.runner.output = "0xzz"
	e := h.executor(RetryConfig{})

	require.NoError(t, e.RunCycle(context.Background()))
	require.Empty(t, h.node.Submissions())
	events := h.alarms.Events()
	require.Len(t, events, 1)
	require.Equal(t, alarm.KindEncodingInvariant, events[0].Kind)
	require.Equal(t, StageEncode, events[0].Stage)
}

func TestRetryBackoffAndThreshold(t *testing.T) {
	h := newHarness(t)
	h.node.AddJob(0, common.JobStatusPending, nil)
	h.runner.err = &prover.PipelineError{Stage: prover.StageWitnessGeneration, Detail: "fullprove", Err: errors.New("exit status 1")}
	e := h.executor(RetryConfig{InitialInterval: time.Hour, MaxInterval: 2 * time.Hour, AlarmThreshold: 2})
	now := time.Unix(1_700_000_000, 0)
	e.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, e.RunCycle(ctx))
	require.Len(t, h.runner.Calls(), 1)
	rec, _ := e.Tracker().Get(0)
	require.True(t, rec.NextAttempt.After(now))

	require.NoError(t, e.RunCycle(ctx))
	require.Len(t, h.runner.Calls(), 1, "job retried before its backoff elapsed")
	require.Empty(t, h.alarms.Events())

	now = now.Add(3 * time.Hour)
	require.NoError(t, e.RunCycle(ctx))
	require.Len(t, h.runner.Calls(), 2)
	events := h.alarms.Events()
	require.Len(t, events, 1)
	require.Equal(t, alarm.KindRetryThreshold, events[0].Kind)
	require.Equal(t, 2, events[0].Attempts)

	now = now.Add(10 * time.Hour)
	require.NoError(t, e.RunCycle(ctx))
	require.Len(t, h.runner.Calls(), 3)
	require.Len(t, h.alarms.Events(), 1)

	// success clears the retry state
	h.runner.mu.Lock()
	h.runner.err = nil
	h.runner.mu.Unlock()
	now = now.Add(10 * time.Hour)
	require.NoError(t, e.RunCycle(ctx))
	rec, _ = e.Tracker().Get(0)
	require.Equal(t, StateConfirmed, rec.State)
	require.Equal(t, 4, rec.Attempts)
}

func TestMissingManagerAbortsCycle(t *testing.T) {
	h := newHarness(t)
	h.node.AddJob(0, common.JobStatusPending, nil)
	h.node.HideManager(true)
	e := h.executor(RetryConfig{})
	err := e.RunCycle(context.Background())
	require.Error(t, err)
	require.True(t, ledger.IsNotFound(err))
	require.Empty(t, h.runner.Calls())
}

func TestRunWakesOnDemand(t *testing.T) {
	h := newHarness(t)
	h.node.AddJob(0, common.JobStatusPending, nil)
	e := h.executor(RetryConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	require.Eventually(t, func() bool {
		return h.node.Job(0).Status == common.JobStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	h.node.AddJob(0, common.JobStatusPending, nil)
	e.Wake()
	require.Eventually(t, func() bool {
		return h.node.Job(1).Status == common.JobStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("executor did not stop")
	}
}

func TestSubmitArgs(t *testing.T) {
	a := &prover.Artifact{
		Proof: prover.Proof{
			PiA: codec.Strings("0x1", "23"),
			PiB: codec.List(codec.Strings("0xab"), codec.Strings("c")),
			PiC: codec.Strings("0x0"),
		},
		PublicSignals: []codec.HexValue{codec.Hex("0x32"), codec.Hex("7")},
	}
	args, err := SubmitArgs(9, a)
	require.NoError(t, err)
	require.Equal(t, []any{"9", "0x32", "0x0123", "0xab0c", "0x00", []string{"0x32", "0x07"}}, args)

	_, err = SubmitArgs(9, &prover.Artifact{Proof: a.Proof})
	require.Error(t, err)

	a.Proof.PiC = codec.Strings("0xg")
	_, err = SubmitArgs(9, a)
	var encErr *codec.EncodingInvariantError
	require.ErrorAs(t, err, &encErr)
}
