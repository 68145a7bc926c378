package prover

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const fakeCircom = `#!/bin/sh
out=""
while [ $# -gt 0 ]; do
  if [ "$1" = "-o" ]; then out="$2"; fi
  shift
done
touch "$out/mlp.r1cs"
mkdir -p "$out/mlp_js" && touch "$out/mlp_js/mlp.wasm"
echo "circom" >> "$(dirname "$0")/calls.log"
`

const fakeSnarkjs = `#!/bin/sh
echo "$1 $2" >> "$(dirname "$0")/calls.log"
case "$1 $2" in
"groth16 setup") touch "$5" ;;
"zkey export") echo '{}' > "$5" ;;
"groth16 fullprove")
  [ -f "$3" ] || exit 1
  if [ -n "$FAKE_SNARKJS_SLOW" ]; then exec sleep 5; fi
  printf '{"pi_a":["1","2","1"],"pi_b":[["3","4"],["5","6"],["1","0"]],"pi_c":["7","8","1"]}' > "$6"
  printf '["50"]' > "$7" ;;
"groth16 verify")
  if [ -n "$FAKE_SNARKJS_REJECT" ]; then echo "[ERROR] snarkJS: Invalid proof"; exit 1; fi
  echo "[INFO]  snarkJS: OK!" ;;
*) exit 2 ;;
esac
`

type snarkjsFixture struct {
	binDir string
	config SnarkjsConfig
}

func newSnarkjsFixture(t *testing.T) *snarkjsFixture {
	root := t.TempDir()
	bin := filepath.Join(root, "bin")
	require.NoError(t, os.MkdirAll(bin, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(bin, "circom"), []byte(fakeCircom), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(bin, "snarkjs"), []byte(fakeSnarkjs), 0o755))
	ptau := filepath.Join(root, "pot12_final.ptau")
	require.NoError(t, os.WriteFile(ptau, []byte("ptau"), 0o644))
	return &snarkjsFixture{
		binDir: bin,
		config: SnarkjsConfig{
			CircuitPath: filepath.Join(root, "circuits", "mlp.circom"),
			PtauFile:    ptau,
			BuildDir:    filepath.Join(root, "build"),
			WorkDir:     filepath.Join(root, "work"),
			CircomBin:   filepath.Join(bin, "circom"),
			SnarkjsBin:  filepath.Join(bin, "snarkjs"),
		},
	}
}

func (f *snarkjsFixture) calls(t *testing.T) []string {
	raw, err := os.ReadFile(filepath.Join(f.binDir, "calls.log"))
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(raw)), "\n")
}

func inputs(t *testing.T) *CircuitInputs {
	in, err := DefaultModel().Inputs([]int64{1500, -2000})
	require.NoError(t, err)
	return in
}

func TestSnarkjsRunnerMissingPtau(t *testing.T) {
	f := newSnarkjsFixture(t)
	f.config.PtauFile = filepath.Join(t.TempDir(), "missing.ptau")
	err := NewSnarkjsRunner(f.config).Prepare(context.Background())
	require.Equal(t, StageSetup, StageOf(err))
	require.ErrorIs(t, err, ErrSetupMissing)
}

func TestSnarkjsRunnerProve(t *testing.T) {
	f := newSnarkjsFixture(t)
	r := NewSnarkjsRunner(f.config)

	a, err := r.Prove(context.Background(), inputs(t))
	require.NoError(t, err)
	require.Equal(t, []string{"0x1", "0x2", "0x1"}, a.Proof.PiA.Flatten())
	require.Equal(t, []string{"0x3", "0x4", "0x5", "0x6", "0x1", "0x0"}, a.Proof.PiB.Flatten())
	require.Equal(t, "0x32", a.PublicSignals[0].Leaf())

	_, err = r.Prove(context.Background(), inputs(t))
	require.NoError(t, err)
	require.Equal(t, []string{
		"circom",
		"groth16 setup",
		"zkey export",
		"groth16 fullprove",
		"groth16 verify",
		"groth16 fullprove",
		"groth16 verify",
	}, f.calls(t))

	entries, err := os.ReadDir(f.config.WorkDir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestSnarkjsRunnerReusesZkey(t *testing.T) {
	f := newSnarkjsFixture(t)
	r := NewSnarkjsRunner(f.config)
	require.NoError(t, os.MkdirAll(f.config.BuildDir, 0o755))
	require.NoError(t, os.WriteFile(r.zkeyPath(), []byte("zkey"), 0o644))
	require.NoError(t, os.WriteFile(r.vkeyPath(), []byte("{}"), 0o644))

	require.NoError(t, r.Prepare(context.Background()))
	require.Equal(t, []string{"circom"}, f.calls(t))
}

func TestSnarkjsRunnerVerificationFailure(t *testing.T) {
	t.Setenv("FAKE_SNARKJS_REJECT", "1")
	f := newSnarkjsFixture(t)
	_, err := NewSnarkjsRunner(f.config).Prove(context.Background(), inputs(t))
	require.Equal(t, StageVerification, StageOf(err))
	require.ErrorIs(t, err, ErrVerificationFailed)
	require.Contains(t, err.Error(), "Invalid proof")
}

func TestSnarkjsRunnerTimeout(t *testing.T) {
	t.Setenv("FAKE_SNARKJS_SLOW", "1")
	f := newSnarkjsFixture(t)
	r := NewSnarkjsRunner(f.config)
	require.NoError(t, r.Prepare(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err := r.Prove(ctx, inputs(t))
	var pe *PipelineError
	require.True(t, errors.As(err, &pe))
	require.Equal(t, StageWitnessGeneration, pe.Stage)
	require.True(t, pe.Timeout())
}

func TestSnarkjsRunnerCompileFailure(t *testing.T) {
	f := newSnarkjsFixture(t)
	f.config.CircomBin = filepath.Join(f.binDir, "does-not-exist")
	err := NewSnarkjsRunner(f.config).Prepare(context.Background())
	require.Equal(t, StageCompile, StageOf(err))
}

func TestSnarkjsRelativePaths(t *testing.T) {
	f := newSnarkjsFixture(t)
	root := filepath.Dir(f.binDir)
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(root))
	t.Cleanup(func() { require.NoError(t, os.Chdir(wd)) })

	r := NewSnarkjsRunner(SnarkjsConfig{
		CircuitPath: filepath.Join("circuits", "mlp.circom"),
		PtauFile:    "pot12_final.ptau",
		BuildDir:    "build",
		WorkDir:     "work",
		CircomBin:   "./" + filepath.Join("bin", "circom"),
		SnarkjsBin:  "./" + filepath.Join("bin", "snarkjs"),
	})
	require.True(t, filepath.IsAbs(r.config.BuildDir))
	require.True(t, filepath.IsAbs(r.config.SnarkjsBin))

	a, err := r.Prove(context.Background(), inputs(t))
	require.NoError(t, err)
	require.Equal(t, "0x32", a.PublicSignals[0].Leaf())
	require.FileExists(t, filepath.Join(root, "build", "mlp.zkey"))
	require.FileExists(t, filepath.Join(root, "build", "verification_key.json"))
}

func TestSnarkjsKeyIDFollowsVerificationKey(t *testing.T) {
	f := newSnarkjsFixture(t)
	r := NewSnarkjsRunner(f.config)
	require.Empty(t, r.KeyID())
	require.NoError(t, r.Prepare(context.Background()))
	first := r.KeyID()
	require.NotEmpty(t, first)

	vkey := filepath.Join(f.config.BuildDir, "verification_key.json")
	require.NoError(t, os.WriteFile(vkey, []byte(`{"protocol":"groth16"}`), 0o644))
	r = NewSnarkjsRunner(f.config)
	require.NoError(t, r.Prepare(context.Background()))
	require.NotEqual(t, first, r.KeyID())

	require.Equal(t, "circom", binPath("circom"))
}
