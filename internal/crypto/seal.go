package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"

	"p2p-overlay/internal/errs"
)

var ErrSealedTooShort = errors.New("crypto: sealed value too short")

// SealKey is a 32-byte symmetric key for XChaCha20-Poly1305.
type SealKey [32]byte

func NewSealKey() (SealKey, error) {
	var k SealKey
	if _, err := io.ReadFull(rand.Reader, k[:]); err != nil {
		return SealKey{}, errs.E(errs.KindCrypto, "new seal key", err)
	}
	return k, nil
}

func (k SealKey) Hex() string { return hex.EncodeToString(k[:]) }

func ParseSealKeyHex(s string) (SealKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return SealKey{}, errs.E(errs.KindCrypto, "parse seal key", err)
	}
	if len(b) != 32 {
		return SealKey{}, errs.E(errs.KindCrypto, "parse seal key", fmt.Errorf("%w: %d", ErrBadKeyLength, len(b)))
	}
	var k SealKey
	copy(k[:], b)
	return k, nil
}

// Seal encrypts plaintext and returns nonce||ciphertext. ad is bound to the
// result but not stored in it.
func Seal(key SealKey, plaintext, ad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, errs.E(errs.KindCrypto, "seal", err)
	}
	out := make([]byte, chacha20poly1305.NonceSizeX, chacha20poly1305.NonceSizeX+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, out); err != nil {
		return nil, errs.E(errs.KindCrypto, "seal", err)
	}
	return aead.Seal(out, out, plaintext, ad), nil
}

func Open(key SealKey, sealed, ad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, errs.E(errs.KindCrypto, "open", err)
	}
	if len(sealed) < chacha20poly1305.NonceSizeX+aead.Overhead() {
		return nil, errs.E(errs.KindCrypto, "open", ErrSealedTooShort)
	}
	nonce, ct := sealed[:chacha20poly1305.NonceSizeX], sealed[chacha20poly1305.NonceSizeX:]
	pt, err := aead.Open(nil, nonce, ct, ad)
	if err != nil {
		return nil, errs.E(errs.KindCrypto, "open", err)
	}
	return pt, nil
}
