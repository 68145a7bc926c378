package prover

import (
	"context"
	"fmt"
	"sync"

	"github.com/celer-network/goutils/log"
	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254/fp"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark/backend/groth16"
	groth16bn254 "github.com/consensys/gnark/backend/groth16/bn254"
	"github.com/consensys/gnark/backend/witness"
	"github.com/consensys/gnark/frontend"

	"github.com/comreton-network/comreton-node/codec"
	"github.com/comreton-network/comreton-node/common/utils"
)

// GnarkRunner proves in process with Groth16 over BN254
type GnarkRunner struct {
	setup *SetupManager

	mu   sync.Mutex
	keys *Keys
}

func NewGnarkRunner(setup *SetupManager) *GnarkRunner {
	return &GnarkRunner{setup: setup}
}

func (r *GnarkRunner) Prepare(ctx context.Context) error {
	_, err := r.loadKeys()
	return err
}

// KeyID identifies the loaded verifying key, empty before Prepare
func (r *GnarkRunner) KeyID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.keys == nil {
		return ""
	}
	return fmt.Sprintf("gnark:0x%x", r.keys.VKDigest)
}

func (r *GnarkRunner) loadKeys() (*Keys, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.keys != nil {
		return r.keys, nil
	}
	if _, _, err := r.setup.Compile(); err != nil {
		return nil, stageErr(StageCompile, err, "compile inference circuit")
	}
	keys, err := r.setup.Load()
	if err != nil {
		return nil, stageErr(StageSetup, err, "load proving keys")
	}
	r.keys = keys
	return keys, nil
}

func (r *GnarkRunner) Prove(ctx context.Context, in *CircuitInputs) (*Artifact, error) {
	keys, err := r.loadKeys()
	if err != nil {
		return nil, err
	}

	assignment, err := Assign(in)
	if err != nil {
		return nil, stageErr(StageWitnessGeneration, err, "assign circuit")
	}
	full, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, stageErr(StageWitnessGeneration, err, "frontend.NewWitness")
	}
	public, err := full.Public()
	if err != nil {
		return nil, stageErr(StageWitnessGeneration, err, "public witness")
	}

	proof, err := await(ctx, StageProving, func() (groth16.Proof, error) {
		return groth16.Prove(keys.CCS, keys.PK, full)
	})
	if err != nil {
		if StageOf(err) != "" {
			return nil, err
		}
		return nil, stageErr(StageProving, err, "groth16.Prove")
	}

	if err = groth16.Verify(proof, keys.VK, public); err != nil {
		log.Warnf("local proof verification failed, output=%s err=%s", in.ModelOutput, err)
		return nil, stageErr(StageVerification, fmt.Errorf("%w: %s", ErrVerificationFailed, err.Error()), "groth16.Verify")
	}

	artifact, err := gnarkArtifact(proof, public)
	if err != nil {
		return nil, stageErr(StageVerification, err, "convert proof")
	}
	return artifact, nil
}

func fpHex(e fp.Element) string {
	b := e.Bytes()
	return utils.Bytes2Hex0x(b[:])
}

func frHex(e fr.Element) string {
	b := e.Bytes()
	return utils.Bytes2Hex0x(b[:])
}

// gnarkArtifact lays out a gnark proof like snarkjs does: projective points
// with z = 1 and G2 coordinates as [c0, c1] pairs.
func gnarkArtifact(proof groth16.Proof, public witness.Witness) (*Artifact, error) {
	p, ok := proof.(*groth16bn254.Proof)
	if !ok {
		return nil, fmt.Errorf("unexpected proof type %T", proof)
	}
	vec, ok := public.Vector().(fr.Vector)
	if !ok {
		return nil, fmt.Errorf("unexpected witness vector %T", public.Vector())
	}
	a := &Artifact{
		Proof: Proof{
			PiA: codec.Strings(fpHex(p.Ar.X), fpHex(p.Ar.Y), "0x1"),
			PiB: codec.List(
				codec.Strings(fpHex(p.Bs.X.A0), fpHex(p.Bs.X.A1)),
				codec.Strings(fpHex(p.Bs.Y.A0), fpHex(p.Bs.Y.A1)),
				codec.Strings("0x1", "0x0"),
			),
			PiC: codec.Strings(fpHex(p.Krs.X), fpHex(p.Krs.Y), "0x1"),
		},
	}
	for _, e := range vec {
		a.PublicSignals = append(a.PublicSignals, codec.Hex(frHex(e)))
	}
	return a, nil
}
