package prover

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/comreton-network/comreton-node/codec"
	"github.com/comreton-network/comreton-node/common/utils"
)

// Proof holds the three Groth16 proof points as nested hex strings, laid out
// like a snarkjs proof.json.
type Proof struct {
	PiA codec.HexValue `json:"pi_a"`
	PiB codec.HexValue `json:"pi_b"`
	PiC codec.HexValue `json:"pi_c"`
}

// Artifact is the output of a successful, locally verified proving run
type Artifact struct {
	Proof         Proof            `json:"proof"`
	PublicSignals []codec.HexValue `json:"public_signals"`
}

// Output returns the first public signal, which carries the model output
func (a *Artifact) Output() (codec.HexValue, error) {
	if len(a.PublicSignals) == 0 {
		return codec.HexValue{}, fmt.Errorf("artifact has no public signals")
	}
	return a.PublicSignals[0], nil
}

// Normalize rewrites every decimal leaf into 0x-prefixed hex
func (a *Artifact) Normalize() (*Artifact, error) {
	var out Artifact
	var err error
	if out.Proof.PiA, err = a.Proof.PiA.Map(utils.Dec2Hex0x); err != nil {
		return nil, fmt.Errorf("pi_a: %w", err)
	}
	if out.Proof.PiB, err = a.Proof.PiB.Map(utils.Dec2Hex0x); err != nil {
		return nil, fmt.Errorf("pi_b: %w", err)
	}
	if out.Proof.PiC, err = a.Proof.PiC.Map(utils.Dec2Hex0x); err != nil {
		return nil, fmt.Errorf("pi_c: %w", err)
	}
	out.PublicSignals = make([]codec.HexValue, len(a.PublicSignals))
	for i, sig := range a.PublicSignals {
		if out.PublicSignals[i], err = sig.Map(utils.Dec2Hex0x); err != nil {
			return nil, fmt.Errorf("public signal %d: %w", i, err)
		}
	}
	return &out, nil
}

const (
	proofFile  = "proof.json"
	publicFile = "public.json"
)

// LoadArtifact reads proof.json and public.json from dir and converts their
// decimal field elements to hex.
func LoadArtifact(dir string) (*Artifact, error) {
	var a Artifact
	if err := readJSON(filepath.Join(dir, proofFile), &a.Proof); err != nil {
		return nil, err
	}
	if err := readJSON(filepath.Join(dir, publicFile), &a.PublicSignals); err != nil {
		return nil, err
	}
	if !a.Proof.PiA.IsList() || !a.Proof.PiB.IsList() || !a.Proof.PiC.IsList() {
		return nil, fmt.Errorf("%s is missing proof points", filepath.Join(dir, proofFile))
	}
	return a.Normalize()
}

func readJSON(path string, out any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
