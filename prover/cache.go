package prover

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/celer-network/goutils/log"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gowebpki/jcs"
	"github.com/philippgille/gokv"
)

// CachedProver remembers verified artifacts by the canonical digest of their
// inputs and the backend's verifying key, so a job whose submission failed is
// not proven again on retry while a key change always forces a new proof.
type CachedProver struct {
	inner Prover
	store gokv.Store
}

var (
	_ KeyedProver = (*CachedProver)(nil)
	_ Invalidator = (*CachedProver)(nil)
)

func NewCachedProver(inner Prover, store gokv.Store) *CachedProver {
	return &CachedProver{inner: inner, store: store}
}

func (c *CachedProver) Prepare(ctx context.Context) error {
	return c.inner.Prepare(ctx)
}

func (c *CachedProver) KeyID() string {
	if k, ok := c.inner.(KeyedProver); ok {
		return k.KeyID()
	}
	return ""
}

func (c *CachedProver) Prove(ctx context.Context, in *CircuitInputs) (*Artifact, error) {
	key, err := CacheKey(in, c.KeyID())
	if err != nil {
		return nil, stageErr(StageWitnessGeneration, err, "cache key")
	}
	var cached Artifact
	found, err := c.store.Get(key, &cached)
	if err != nil {
		log.Warnf("proof cache read failed, key=%s err=%s", key, err)
	} else if found {
		log.Debugf("proof cache hit, key=%s", key)
		return &cached, nil
	}

	artifact, err := c.inner.Prove(ctx, in)
	if err != nil {
		return nil, err
	}
	if err = c.store.Set(key, artifact); err != nil {
		log.Warnf("proof cache write failed, key=%s err=%s", key, err)
	}
	return artifact, nil
}

// Invalidate deletes the cached artifact for in under the current key
func (c *CachedProver) Invalidate(_ context.Context, in *CircuitInputs) error {
	key, err := CacheKey(in, c.KeyID())
	if err != nil {
		return err
	}
	if err = c.store.Delete(key); err != nil {
		return fmt.Errorf("delete %s err: %w", key, err)
	}
	log.Infof("proof cache entry dropped, key=%s", key)
	return nil
}

// CacheKey is "proof:" + keccak256(keyID || RFC 8785 form of the inputs)
func CacheKey(in *CircuitInputs, keyID string) (string, error) {
	raw, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("json.Marshal err: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("jcs.Transform err: %w", err)
	}
	return fmt.Sprintf("proof:0x%x", crypto.Keccak256([]byte(keyID), canonical)), nil
}
