package prover

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/comreton-network/comreton-node/codec"
	"github.com/comreton-network/comreton-node/store"
)

type countingProver struct {
	calls atomic.Int32
	err   error
	keyID string
}

func (p *countingProver) Prepare(ctx context.Context) error { return nil }

func (p *countingProver) KeyID() string { return p.keyID }

func (p *countingProver) Prove(ctx context.Context, in *CircuitInputs) (*Artifact, error) {
	p.calls.Add(1)
	if p.err != nil {
		return nil, p.err
	}
	return &Artifact{
		Proof: Proof{
			PiA: codec.Strings("0x1", "0x2", "0x1"),
			PiB: codec.List(codec.Strings("0x3", "0x4"), codec.Strings("0x5", "0x6"), codec.Strings("0x1", "0x0")),
			PiC: codec.Strings("0x7", "0x8", "0x1"),
		},
		PublicSignals: []codec.HexValue{codec.Hex("0x" + in.ModelOutput)},
	}, nil
}

func TestCachedProver(t *testing.T) {
	for _, options := range []string{"", `{"codec":"gob"}`} {
		s, err := store.InitStore(store.TypeSyncMap, options)
		require.NoError(t, err)

		inner := &countingProver{}
		c := NewCachedProver(inner, s)
		first, err := c.Prove(context.Background(), inputs(t))
		require.NoError(t, err)
		second, err := c.Prove(context.Background(), inputs(t))
		require.NoError(t, err)
		require.Equal(t, int32(1), inner.calls.Load())
		require.Equal(t, first.Proof.PiB.Flatten(), second.Proof.PiB.Flatten())
		require.Equal(t, "0x50", second.PublicSignals[0].Leaf())

		other, err := DefaultModel().Inputs([]int64{2000, 1000})
		require.NoError(t, err)
		_, err = c.Prove(context.Background(), other)
		require.NoError(t, err)
		require.Equal(t, int32(2), inner.calls.Load())
	}
}

func TestCachedProverSkipsFailures(t *testing.T) {
	s, err := store.InitStore("", "")
	require.NoError(t, err)
	inner := &countingProver{err: stageErr(StageVerification, ErrVerificationFailed, "x")}
	c := NewCachedProver(inner, s)
	_, err = c.Prove(context.Background(), inputs(t))
	require.Error(t, err)
	_, err = c.Prove(context.Background(), inputs(t))
	require.Error(t, err)
	require.Equal(t, int32(2), inner.calls.Load())
}

func TestCacheKeyIgnoresDerivedFields(t *testing.T) {
	a := inputs(t)
	b := inputs(t)
	b.Remainder = "0"
	ka, err := CacheKey(a, "k")
	require.NoError(t, err)
	kb, err := CacheKey(b, "k")
	require.NoError(t, err)
	require.Equal(t, ka, kb)

	b.ModelInput = []int64{1, 2}
	kb, err = CacheKey(b, "k")
	require.NoError(t, err)
	require.NotEqual(t, ka, kb)

	kc, err := CacheKey(a, "other")
	require.NoError(t, err)
	require.NotEqual(t, ka, kc)
}

func TestCachedProverKeyChangeProvesAgain(t *testing.T) {
	s, err := store.InitStore("", "")
	require.NoError(t, err)
	inner := &countingProver{keyID: "gnark:0x01"}
	c := NewCachedProver(inner, s)
	ctx := context.Background()

	_, err = c.Prove(ctx, inputs(t))
	require.NoError(t, err)
	_, err = c.Prove(ctx, inputs(t))
	require.NoError(t, err)
	require.Equal(t, int32(1), inner.calls.Load())

	inner.keyID = "gnark:0x02"
	require.Equal(t, "gnark:0x02", c.KeyID())
	_, err = c.Prove(ctx, inputs(t))
	require.NoError(t, err)
	require.Equal(t, int32(2), inner.calls.Load())
}

func TestCachedProverInvalidate(t *testing.T) {
	s, err := store.InitStore("", "")
	require.NoError(t, err)
	inner := &countingProver{keyID: "k"}
	catalog, err := NewCatalog(nil)
	require.NoError(t, err)
	p := NewPipeline(catalog, NewCachedProver(inner, s), time.Minute)
	ctx := context.Background()
	job := JobInputs{JobID: 3, Payload: []byte("[1500,-2000]")}

	_, err = p.Run(ctx, job)
	require.NoError(t, err)
	_, err = p.Run(ctx, job)
	require.NoError(t, err)
	require.Equal(t, int32(1), inner.calls.Load())

	require.NoError(t, p.Invalidate(ctx, job))
	_, err = p.Run(ctx, job)
	require.NoError(t, err)
	require.Equal(t, int32(2), inner.calls.Load())

	// backends without a cache ignore it
	require.NoError(t, NewPipeline(catalog, inner, 0).Invalidate(ctx, job))
}

type blockingProver struct{}

func (blockingProver) Prepare(ctx context.Context) error { return nil }

func (blockingProver) Prove(ctx context.Context, in *CircuitInputs) (*Artifact, error) {
	return await(ctx, StageProving, func() (*Artifact, error) {
		time.Sleep(time.Second)
		return nil, nil
	})
}

func TestPipelineTimeout(t *testing.T) {
	c, err := NewCatalog(nil)
	require.NoError(t, err)
	p := NewPipeline(c, blockingProver{}, 50*time.Millisecond)
	_, err = p.Run(context.Background(), JobInputs{})
	var pe *PipelineError
	require.ErrorAs(t, err, &pe)
	require.True(t, pe.Timeout())

	_, err = p.Run(context.Background(), JobInputs{Payload: []byte("{")})
	require.Equal(t, StageWitnessGeneration, StageOf(err))
}
