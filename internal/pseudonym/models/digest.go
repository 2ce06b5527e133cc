package models

import (
	"encoding/hex"
	"fmt"
)

// DigestSize is the width in bytes of a keyed identifier digest.
const DigestSize = 32

// Digest is the keyed hash of an identifier. It is the only form of an
// identifier that ever leaves the process, and it is the storage key of
// the identifier's record.
type Digest [DigestSize]byte

// Hex returns the lowercase hex form used as the storage key.
func (d Digest) Hex() string {
	return hex.EncodeToString(d[:])
}

// Short returns the first 12 hex characters, for log lines.
func (d Digest) Short() string {
	return hex.EncodeToString(d[:6])
}

func (d Digest) String() string {
	return d.Hex()
}

// ParseDigest parses a 64-character hex string into a Digest.
func ParseDigest(hexString string) (Digest, error) {
	var digest Digest
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return digest, fmt.Errorf("parsing digest: %w", err)
	}
	if len(decoded) != DigestSize {
		return digest, fmt.Errorf("digest is %d bytes, want %d", len(decoded), DigestSize)
	}
	copy(digest[:], decoded)
	return digest, nil
}
