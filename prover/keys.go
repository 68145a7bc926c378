package prover

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
)

func writeTo(path string, w io.WriterTo) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("os.MkdirAll err: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("os.Create err: %w", err)
	}
	defer f.Close()
	bw := bufio.NewWriter(f)
	if _, err = w.WriteTo(bw); err != nil {
		return fmt.Errorf("write %s err: %w", path, err)
	}
	if err = bw.Flush(); err != nil {
		return fmt.Errorf("flush %s err: %w", path, err)
	}
	return nil
}

type unsafeReader interface {
	UnsafeReadFrom(r io.Reader) (int64, error)
}

func readFrom(path string, r unsafeReader) error {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s: %w", path, ErrSetupMissing)
	}
	if err != nil {
		return fmt.Errorf("os.Open err: %w", err)
	}
	defer f.Close()
	if _, err = r.UnsafeReadFrom(bufio.NewReader(f)); err != nil {
		return fmt.Errorf("cannot read %s: %w", path, err)
	}
	return nil
}

func readProvingKey(path string) (groth16.ProvingKey, error) {
	pk := groth16.NewProvingKey(ecc.BN254)
	if err := readFrom(path, pk); err != nil {
		return nil, err
	}
	return pk, nil
}

func readVerifyingKey(path string) (groth16.VerifyingKey, error) {
	vk := groth16.NewVerifyingKey(ecc.BN254)
	if err := readFrom(path, vk); err != nil {
		return nil, err
	}
	return vk, nil
}
