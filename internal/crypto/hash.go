package crypto

import (
	"crypto/sha256"

	"golang.org/x/crypto/blake2b"
	"lukechampine.com/blake3"
)

func SHA256(data []byte) [32]byte { return sha256.Sum256(data) }

func Blake3Sum256(data []byte) [32]byte { return blake3.Sum256(data) }

func Blake2b256(data []byte) [32]byte { return blake2b.Sum256(data) }
