package prover

import (
	"context"
	"errors"
	"time"

	"github.com/celer-network/goutils/log"
)

// Runner turns a job into a locally verified proof artifact
type Runner interface {
	Run(ctx context.Context, job JobInputs) (*Artifact, error)
}

// Prover is a proving backend. Prepare checks that the trusted setup is in
// place and fails with ErrSetupMissing otherwise.
type Prover interface {
	Prepare(ctx context.Context) error
	Prove(ctx context.Context, in *CircuitInputs) (*Artifact, error)
}

// KeyedProver binds its proofs to a verifying key. KeyID changes whenever
// the keys do and is valid after Prepare.
type KeyedProver interface {
	Prover
	KeyID() string
}

// Invalidator forgets any stored proof for the given inputs
type Invalidator interface {
	Invalidate(ctx context.Context, in *CircuitInputs) error
}

// Pipeline resolves job inputs through the model catalog and hands them to a
// proving backend under a deadline.
type Pipeline struct {
	catalog *Catalog
	prover  Prover
	timeout time.Duration
}

func NewPipeline(catalog *Catalog, prover Prover, timeout time.Duration) *Pipeline {
	return &Pipeline{catalog: catalog, prover: prover, timeout: timeout}
}

func (p *Pipeline) Prepare(ctx context.Context) error {
	return p.prover.Prepare(ctx)
}

func (p *Pipeline) Run(ctx context.Context, job JobInputs) (*Artifact, error) {
	in, err := p.catalog.BuildInputs(job)
	if err != nil {
		return nil, err
	}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	start := time.Now()
	artifact, err := p.prover.Prove(ctx, in)
	if err != nil {
		return nil, err
	}
	log.Infof("proof ready, job=%d model=%d output=%s took=%s", job.JobID, job.ModelID, in.ModelOutput, time.Since(start))
	return artifact, nil
}

// Invalidate drops a cached proof of the job so the next Run proves again.
// It is a no-op for backends without a cache.
func (p *Pipeline) Invalidate(ctx context.Context, job JobInputs) error {
	inv, ok := p.prover.(Invalidator)
	if !ok {
		return nil
	}
	in, err := p.catalog.BuildInputs(job)
	if err != nil {
		return err
	}
	return inv.Invalidate(ctx, in)
}

// await runs f and gives up when ctx is done. f keeps running in the
// background in that case and its result is dropped.
func await[T any](ctx context.Context, stage Stage, f func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := f()
		done <- result{v, err}
	}()
	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctxErr(ctx, stage)
	}
}

func ctxErr(ctx context.Context, stage Stage) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return stageErr(stage, errTimeout, "stage timed out")
	}
	return stageErr(stage, ctx.Err(), "stage cancelled")
}
