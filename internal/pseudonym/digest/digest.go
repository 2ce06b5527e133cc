// Package digest computes the keyed hash of an identifier. The digest is
// the storage key of a pseudonym record and the only source of entropy for
// index derivation.
package digest

import (
	"fmt"
	"hash"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/blake2b"

	"pseudonym/internal/pseudonym/models"
)

// KeySize is the required secret key length in bytes.
const KeySize = 32

// Algorithm selects the keyed hash primitive. Changing the algorithm of an
// existing population invalidates every stored record.
type Algorithm string

const (
	// AlgorithmBLAKE3 is BLAKE3 in keyed mode.
	AlgorithmBLAKE3 Algorithm = "blake3"
	// AlgorithmBLAKE2b is keyed BLAKE2b with a 256-bit output.
	AlgorithmBLAKE2b Algorithm = "blake2b-256"
)

// Hasher computes keyed digests. It holds a private copy of the key and is
// safe for concurrent use.
type Hasher struct {
	key       [KeySize]byte
	algorithm Algorithm
}

// Option configures a Hasher.
type Option func(*Hasher)

// WithAlgorithm selects the keyed hash primitive. An empty value keeps BLAKE3.
func WithAlgorithm(algorithm Algorithm) Option {
	return func(h *Hasher) {
		if algorithm != "" {
			h.algorithm = algorithm
		}
	}
}

// New validates the key and returns a Hasher bound to it.
func New(key []byte, opts ...Option) (*Hasher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("secret key is %d bytes, want %d: %w", len(key), KeySize, models.ErrInvalidConfiguration)
	}
	h := &Hasher{algorithm: AlgorithmBLAKE3}
	copy(h.key[:], key)
	for _, opt := range opts {
		opt(h)
	}
	switch h.algorithm {
	case AlgorithmBLAKE3, AlgorithmBLAKE2b:
	default:
		return nil, fmt.Errorf("unknown digest algorithm %q: %w", h.algorithm, models.ErrInvalidConfiguration)
	}
	return h, nil
}

// Algorithm reports the configured primitive.
func (h *Hasher) Algorithm() Algorithm {
	return h.algorithm
}

// Sum returns the keyed digest of identifier.
func (h *Hasher) Sum(identifier []byte) models.Digest {
	hasher := h.newHash()
	hasher.Write(identifier)
	var digest models.Digest
	copy(digest[:], hasher.Sum(nil))
	return digest
}

func (h *Hasher) newHash() hash.Hash {
	// Both constructors only fail on a bad key length, which New already rejected.
	switch h.algorithm {
	case AlgorithmBLAKE2b:
		hasher, err := blake2b.New256(h.key[:])
		if err != nil {
			panic("digest: BLAKE2b keyed hash initialization failed: " + err.Error())
		}
		return hasher
	default:
		hasher, err := blake3.NewKeyed(h.key[:])
		if err != nil {
			panic("digest: BLAKE3 keyed hash initialization failed: " + err.Error())
		}
		return hasher
	}
}
