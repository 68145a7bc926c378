package prover

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/celer-network/goutils/log"
	"github.com/ethereum/go-ethereum/crypto"
)

type SnarkjsConfig struct {
	CircuitPath string // circom source, e.g. mlp.circom
	PtauFile    string // pre-downloaded powers of tau
	BuildDir    string // r1cs, wasm, zkey and verification key
	WorkDir     string // per job directories
	IncludeDir  string // circom -l, usually node_modules
	CircomBin   string
	SnarkjsBin  string
	KeepWorkDir bool
}

// SnarkjsRunner drives the circom compiler and snarkjs as subprocesses
type SnarkjsRunner struct {
	config SnarkjsConfig
	name   string

	mu       sync.Mutex
	prepared bool
	keyID    string
	seq      atomic.Uint64
}

var _ KeyedProver = (*SnarkjsRunner)(nil)

// NewSnarkjsRunner resolves every configured path against the current
// directory, since the tools run inside the build and work directories.
// Binaries given as bare names are looked up in PATH.
func NewSnarkjsRunner(config SnarkjsConfig) *SnarkjsRunner {
	config.CircuitPath = absPath(config.CircuitPath)
	config.PtauFile = absPath(config.PtauFile)
	config.BuildDir = absPath(config.BuildDir)
	config.WorkDir = absPath(config.WorkDir)
	config.IncludeDir = absPath(config.IncludeDir)
	if config.CircomBin == "" {
		config.CircomBin = "circom"
	}
	if config.SnarkjsBin == "" {
		config.SnarkjsBin = "snarkjs"
	}
	config.CircomBin = binPath(config.CircomBin)
	config.SnarkjsBin = binPath(config.SnarkjsBin)
	name := strings.TrimSuffix(filepath.Base(config.CircuitPath), filepath.Ext(config.CircuitPath))
	return &SnarkjsRunner{config: config, name: name}
}

func absPath(p string) string {
	p = os.ExpandEnv(p)
	if p == "" {
		return ""
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return p
	}
	return abs
}

func binPath(bin string) string {
	if !strings.ContainsRune(bin, filepath.Separator) {
		return bin
	}
	return absPath(bin)
}

// KeyID identifies the verification key, empty before Prepare
func (r *SnarkjsRunner) KeyID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.keyID
}

func (r *SnarkjsRunner) r1csPath() string { return filepath.Join(r.config.BuildDir, r.name+".r1cs") }
func (r *SnarkjsRunner) zkeyPath() string { return filepath.Join(r.config.BuildDir, r.name+".zkey") }
func (r *SnarkjsRunner) vkeyPath() string { return filepath.Join(r.config.BuildDir, "verification_key.json") }

func (r *SnarkjsRunner) wasmPath() string {
	return filepath.Join(r.config.BuildDir, r.name+"_js", r.name+".wasm")
}

// Prepare compiles the circuit and derives the proving key from the ptau
// file. An existing zkey is reused. A missing ptau file is fatal.
func (r *SnarkjsRunner) Prepare(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.prepared {
		return nil
	}
	if !exists(r.config.PtauFile) {
		return stageErr(StageSetup, fmt.Errorf("%s: %w", r.config.PtauFile, ErrSetupMissing), "powers of tau")
	}
	if err := os.MkdirAll(r.config.BuildDir, 0o755); err != nil {
		return stageErr(StageCompile, err, "create build dir")
	}

	if !exists(r.r1csPath()) || !exists(r.wasmPath()) {
		args := []string{r.config.CircuitPath, "--r1cs", "--wasm", "--sym", "-o", r.config.BuildDir}
		if r.config.IncludeDir != "" {
			args = append(args, "-l", r.config.IncludeDir)
		}
		if err := r.exec(ctx, StageCompile, r.config.BuildDir, r.config.CircomBin, args...); err != nil {
			return err
		}
	}

	if !exists(r.zkeyPath()) {
		if err := r.exec(ctx, StageSetup, r.config.BuildDir, r.config.SnarkjsBin,
			"groth16", "setup", r.r1csPath(), r.config.PtauFile, r.zkeyPath()); err != nil {
			return err
		}
	}
	if !exists(r.vkeyPath()) {
		if err := r.exec(ctx, StageSetup, r.config.BuildDir, r.config.SnarkjsBin,
			"zkey", "export", "verificationkey", r.zkeyPath(), r.vkeyPath()); err != nil {
			return err
		}
	}
	vkey, err := os.ReadFile(r.vkeyPath())
	if err != nil {
		return stageErr(StageSetup, err, "read verification key")
	}
	r.keyID = fmt.Sprintf("snarkjs:0x%x", crypto.Keccak256(vkey))
	r.prepared = true
	return nil
}

func (r *SnarkjsRunner) Prove(ctx context.Context, in *CircuitInputs) (*Artifact, error) {
	if err := r.Prepare(ctx); err != nil {
		return nil, err
	}

	dir := filepath.Join(r.config.WorkDir, fmt.Sprintf("run-%d-%d", time.Now().UnixNano(), r.seq.Add(1)))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, stageErr(StageWitnessGeneration, err, "create work dir")
	}
	if !r.config.KeepWorkDir {
		defer os.RemoveAll(dir)
	}

	raw, err := json.Marshal(in)
	if err != nil {
		return nil, stageErr(StageWitnessGeneration, err, "encode input")
	}
	if err = os.WriteFile(filepath.Join(dir, "input.json"), raw, 0o644); err != nil {
		return nil, stageErr(StageWitnessGeneration, err, "write input")
	}

	if err = r.exec(ctx, StageWitnessGeneration, dir, r.config.SnarkjsBin,
		"groth16", "fullprove", "input.json", r.wasmPath(), r.zkeyPath(), proofFile, publicFile); err != nil {
		return nil, err
	}

	if err = r.exec(ctx, StageVerification, dir, r.config.SnarkjsBin,
		"groth16", "verify", r.vkeyPath(), publicFile, proofFile); err != nil {
		var pe *PipelineError
		if errors.As(err, &pe) && !pe.Timeout() {
			pe.Err = fmt.Errorf("%w: %s", ErrVerificationFailed, pe.Err)
		}
		return nil, err
	}

	artifact, err := LoadArtifact(dir)
	if err != nil {
		return nil, stageErr(StageVerification, err, "load artifact")
	}
	return artifact, nil
}

func (r *SnarkjsRunner) exec(ctx context.Context, stage Stage, dir, name string, args ...string) error {
	log.Debugf("exec %s %s", name, strings.Join(args, " "))
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.WaitDelay = time.Second
	out, err := cmd.CombinedOutput()
	if ctx.Err() != nil {
		return ctxErr(ctx, stage)
	}
	if err != nil {
		return stageErr(stage, err, "%s %s: %s", filepath.Base(name), args[0], strings.TrimSpace(string(out)))
	}
	return nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, fs.ErrNotExist)
}
