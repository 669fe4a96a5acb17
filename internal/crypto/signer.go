package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"p2p-overlay/internal/errs"
	"p2p-overlay/internal/proto"
)

var (
	ErrNoPrivateKey = errors.New("crypto: key pair is verify-only")
	ErrBadKeyLength = errors.New("crypto: bad key length")
	ErrBadSigLength = errors.New("crypto: signature must be 64 bytes")
)

// Signer signs and verifies byte strings.
type Signer interface {
	Sign(data []byte) ([]byte, error)
	Verify(data, sig []byte) (bool, error)
	PublicKey() []byte
}

// KeyPair is an ed25519 key pair. A pair built from a public key alone can
// only verify.
type KeyPair struct {
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey // nil when verify-only
}

func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errs.E(errs.KindCrypto, "generate", err)
	}
	return &KeyPair{pub: pub, priv: priv}, nil
}

// KeyPairFromSeed rebuilds a pair from its 32-byte private seed.
func KeyPairFromSeed(seed []byte) (*KeyPair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, errs.E(errs.KindCrypto, "from seed", fmt.Errorf("%w: %d", ErrBadKeyLength, len(seed)))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &KeyPair{pub: priv.Public().(ed25519.PublicKey), priv: priv}, nil
}

// KeyPairFromPublicKey returns a verify-only pair.
func KeyPairFromPublicKey(pub []byte) (*KeyPair, error) {
	if len(pub) != ed25519.PublicKeySize {
		return nil, errs.E(errs.KindCrypto, "from public key", fmt.Errorf("%w: %d", ErrBadKeyLength, len(pub)))
	}
	return &KeyPair{pub: append(ed25519.PublicKey(nil), pub...)}, nil
}

func (k *KeyPair) PublicKey() []byte { return append([]byte(nil), k.pub...) }

func (k *KeyPair) CanSign() bool { return k.priv != nil }

// Seed returns the 32-byte private seed, or nil for a verify-only pair.
func (k *KeyPair) Seed() []byte {
	if k.priv == nil {
		return nil
	}
	return k.priv.Seed()
}

func (k *KeyPair) Sign(data []byte) ([]byte, error) {
	if k.priv == nil {
		return nil, errs.E(errs.KindCrypto, "sign", ErrNoPrivateKey)
	}
	return ed25519.Sign(k.priv, data), nil
}

// Verify reports false on a signature mismatch; only a malformed signature
// is an error.
func (k *KeyPair) Verify(data, sig []byte) (bool, error) {
	if len(sig) != ed25519.SignatureSize {
		return false, errs.E(errs.KindCrypto, "verify", ErrBadSigLength)
	}
	return ed25519.Verify(k.pub, data, sig), nil
}

// NodeID derives the overlay id from the public key.
func (k *KeyPair) NodeID() proto.NodeID {
	return proto.NodeID(Blake3Sum256(k.pub))
}

// SaveKeyFile writes the seed as hex, readable by the owner only.
func SaveKeyFile(path string, k *KeyPair) error {
	if !k.CanSign() {
		return errs.E(errs.KindCrypto, "save key", ErrNoPrivateKey)
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(k.Seed())+"\n"), 0o600); err != nil {
		return errs.E(errs.KindCrypto, "save key", err)
	}
	return nil
}

func LoadKeyFile(path string) (*KeyPair, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.E(errs.KindCrypto, "load key", err)
	}
	seed, err := hex.DecodeString(strings.TrimSpace(string(b)))
	if err != nil {
		return nil, errs.E(errs.KindCrypto, "load key", err)
	}
	return KeyPairFromSeed(seed)
}

// LoadOrCreateKeyFile loads path, generating and saving a new pair when the
// file does not exist yet.
func LoadOrCreateKeyFile(path string) (*KeyPair, bool, error) {
	k, err := LoadKeyFile(path)
	if err == nil {
		return k, false, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, false, err
	}
	k, err = GenerateKeyPair()
	if err != nil {
		return nil, false, err
	}
	if err := SaveKeyFile(path, k); err != nil {
		return nil, false, err
	}
	return k, true, nil
}
