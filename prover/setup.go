package prover

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/celer-network/goutils/log"
	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/ethereum/go-ethereum/crypto"
)

// Keys bundles a compiled circuit with its Groth16 keys
type Keys struct {
	CCS    constraint.ConstraintSystem
	PK     groth16.ProvingKey
	VK     groth16.VerifyingKey
	Digest []byte
	// VKDigest is keccak256 of the serialized verifying key
	VKDigest []byte
}

func vkDigest(vk groth16.VerifyingKey) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := vk.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("vk.WriteTo err: %w", err)
	}
	return crypto.Keccak256(buf.Bytes()), nil
}

// SetupManager locates the keys of the inference circuit. Keys live under
// <setupDir>/0x<keccak(ccs)>/{pk,vk} so a circuit change never picks up
// stale keys.
type SetupManager struct {
	setupDir string

	once   sync.Once
	ccs    constraint.ConstraintSystem
	digest []byte
	err    error
}

func NewSetupManager(setupDir string) *SetupManager {
	return &SetupManager{setupDir: os.ExpandEnv(setupDir)}
}

// Compile compiles the circuit once and returns it with its digest
func (m *SetupManager) Compile() (constraint.ConstraintSystem, []byte, error) {
	m.once.Do(func() {
		log.Debugln("compiling inference circuit")
		ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &MLPCircuit{})
		if err != nil {
			m.err = fmt.Errorf("frontend.Compile err: %w", err)
			return
		}
		var buf bytes.Buffer
		if _, err = ccs.WriteTo(&buf); err != nil {
			m.err = fmt.Errorf("ccs.WriteTo err: %w", err)
			return
		}
		m.ccs = ccs
		m.digest = crypto.Keccak256(buf.Bytes())
		log.Infof("inference circuit compiled, constraints=%d digest=0x%x", ccs.GetNbConstraints(), m.digest)
	})
	return m.ccs, m.digest, m.err
}

func (m *SetupManager) keyPaths(digest []byte) (pkPath, vkPath string) {
	dir := filepath.Join(m.setupDir, fmt.Sprintf("0x%x", digest))
	return filepath.Join(dir, "pk"), filepath.Join(dir, "vk")
}

// Load reads existing keys. Missing keys yield an error wrapping
// ErrSetupMissing; Load never runs a setup.
func (m *SetupManager) Load() (*Keys, error) {
	ccs, digest, err := m.Compile()
	if err != nil {
		return nil, err
	}
	pkPath, vkPath := m.keyPaths(digest)
	pk, err := readProvingKey(pkPath)
	if err != nil {
		return nil, err
	}
	vk, err := readVerifyingKey(vkPath)
	if err != nil {
		return nil, err
	}
	vkd, err := vkDigest(vk)
	if err != nil {
		return nil, err
	}
	return &Keys{CCS: ccs, PK: pk, VK: vk, Digest: digest, VKDigest: vkd}, nil
}

// Generate runs a local Groth16 setup and writes the keys. Existing keys are
// kept unless force is set. Only meant for development networks, production
// keys come from a ceremony.
func (m *SetupManager) Generate(force bool) (*Keys, error) {
	if !force {
		keys, err := m.Load()
		if err == nil {
			log.Infof("keys already present for digest 0x%x", keys.Digest)
			return keys, nil
		}
		if !errors.Is(err, ErrSetupMissing) {
			return nil, err
		}
	}
	ccs, digest, err := m.Compile()
	if err != nil {
		return nil, err
	}
	log.Infoln("running groth16 setup")
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return nil, fmt.Errorf("groth16.Setup err: %w", err)
	}
	pkPath, vkPath := m.keyPaths(digest)
	if err = writeTo(pkPath, pk); err != nil {
		return nil, err
	}
	if err = writeTo(vkPath, vk); err != nil {
		return nil, err
	}
	vkd, err := vkDigest(vk)
	if err != nil {
		return nil, err
	}
	log.Infof("keys written to %s, vk digest 0x%x", filepath.Dir(pkPath), vkd)
	return &Keys{CCS: ccs, PK: pk, VK: vk, Digest: digest, VKDigest: vkd}, nil
}
