package ledger

import (
	"crypto/ed25519"
	"fmt"
	"os"
	"strings"

	"github.com/comreton-network/comreton-node/common/utils"
	"golang.org/x/crypto/sha3"
)

const (
	ed25519KeyPrefix = "ed25519-priv-"
	ed25519Scheme    = byte(0x00)
)

// Signer is the process-wide signing identity. It is created once at
// startup and only read afterwards.
type Signer struct {
	priv    ed25519.PrivateKey
	pub     ed25519.PublicKey
	address string
}

// ParsePrivateKey accepts "ed25519-priv-0x<hex>", "0x<hex>" or bare hex of a
// 32 byte seed.
func ParsePrivateKey(key string) (*Signer, error) {
	key = strings.TrimSpace(key)
	key = strings.TrimPrefix(key, ed25519KeyPrefix)
	if key == "" {
		return nil, fmt.Errorf("empty private key")
	}
	seed, err := utils.Hex2Bytes(key)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("invalid private key length %d, want %d", len(seed), ed25519.SeedSize)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return &Signer{priv: priv, pub: pub, address: AuthKeyAddress(pub)}, nil
}

// LoadPrivateKeyFile reads key material from a file, e.g. a mounted secret
func LoadPrivateKeyFile(path string) (*Signer, error) {
	raw, err := os.ReadFile(os.ExpandEnv(path))
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	return ParsePrivateKey(string(raw))
}

// AuthKeyAddress derives the account address of a single-key ed25519
// account: sha3-256(pubkey || 0x00).
func AuthKeyAddress(pub ed25519.PublicKey) string {
	h := sha3.New256()
	h.Write(pub)
	h.Write([]byte{ed25519Scheme})
	return utils.Bytes2Hex0x(h.Sum(nil))
}

func (s *Signer) Address() string {
	return s.address
}

func (s *Signer) PublicKeyHex() string {
	return utils.Bytes2Hex0x(s.pub)
}

func (s *Signer) Sign(message []byte) []byte {
	return ed25519.Sign(s.priv, message)
}

func (s *Signer) signature(message []byte) TxSignature {
	return TxSignature{
		Type:      "ed25519_signature",
		PublicKey: s.PublicKeyHex(),
		Signature: utils.Bytes2Hex0x(s.Sign(message)),
	}
}
