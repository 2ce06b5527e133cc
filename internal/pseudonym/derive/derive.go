// Package derive turns a digest into one word index per tier.
//
// Each tier reads its own 64-bit window of the digest (bytes 0-7, 8-15 and
// 16-23). Windows are reduced to a table index without modulo bias; a window
// that the reduction rejects is replaced by the next window of a BLAKE3
// extendable output stream seeded with the digest and the tier.
//
// The middle tier is reduced against a partition of the middle table whose
// size follows the declared population size (see MiddleSlots).
package derive

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"math/bits"

	"github.com/zeebo/blake3"

	"pseudonym/internal/pseudonym/models"
)

// DefaultSpreadFactor is the ratio of usable middle slots to declared
// population. With a factor f the expected share of identifiers that share
// their middle word with another one stays below 1/f while the table is
// large enough.
const DefaultSpreadFactor = 4.0

// Reduction selects how a 64-bit window becomes an index below a bound.
type Reduction string

const (
	// ReductionWideMultiply maps a window with a 128-bit multiply and
	// rejects the small biased remainder (Lemire).
	ReductionWideMultiply Reduction = "wide-multiply"
	// ReductionRejection masks a window to the next power of two and
	// rejects values at or above the bound.
	ReductionRejection Reduction = "rejection"
)

// expansionContext separates the window expansion stream from any other
// BLAKE3 use. Changing it changes every derived index that needed expansion.
const expansionContext = "pseudonym tier window expansion v1"

// Deriver maps digests to indices for fixed table sizes and population.
// It is immutable and safe for concurrent use.
type Deriver struct {
	sizes       models.TableSizes
	middleSlots int
	spread      float64
	reduction   Reduction
}

// Option configures a Deriver.
type Option func(*Deriver)

// WithSpreadFactor overrides DefaultSpreadFactor. Zero keeps the default.
func WithSpreadFactor(factor float64) Option {
	return func(d *Deriver) {
		if factor != 0 {
			d.spread = factor
		}
	}
}

// WithReduction selects the reduction strategy. Empty keeps the default.
func WithReduction(reduction Reduction) Option {
	return func(d *Deriver) {
		if reduction != "" {
			d.reduction = reduction
		}
	}
}

// New validates sizes and population and precomputes the middle partition.
func New(sizes models.TableSizes, populationSize int, opts ...Option) (*Deriver, error) {
	for _, tier := range models.Tiers {
		size := sizes.Get(tier)
		if size <= 0 {
			return nil, fmt.Errorf("%s table size %d: %w", tier, size, models.ErrInvalidConfiguration)
		}
		if int64(size) > math.MaxUint32 {
			return nil, fmt.Errorf("%s table size %d exceeds index range: %w", tier, size, models.ErrInvalidConfiguration)
		}
	}
	if populationSize <= 0 {
		return nil, fmt.Errorf("population size %d must be positive: %w", populationSize, models.ErrInvalidConfiguration)
	}

	d := &Deriver{
		sizes:     sizes,
		spread:    DefaultSpreadFactor,
		reduction: ReductionWideMultiply,
	}
	for _, opt := range opts {
		opt(d)
	}
	if !(d.spread > 1) || math.IsInf(d.spread, 0) {
		return nil, fmt.Errorf("spread factor %v must be a finite value above 1: %w", d.spread, models.ErrInvalidConfiguration)
	}
	switch d.reduction {
	case ReductionWideMultiply, ReductionRejection:
	default:
		return nil, fmt.Errorf("unknown reduction %q: %w", d.reduction, models.ErrInvalidConfiguration)
	}

	d.middleSlots = MiddleSlots(sizes.Middle, populationSize, d.spread)
	return d, nil
}

// MiddleSlots returns max(1, min(middleSize, ceil(populationSize*spread))).
// When it equals middleSize and that is still below populationSize*spread the
// population is larger than the table supports and middle words repeat more
// often than the spread factor promises.
func MiddleSlots(middleSize, populationSize int, spread float64) int {
	want := math.Ceil(float64(populationSize) * spread)
	if want >= float64(middleSize) {
		return max(1, middleSize)
	}
	return max(1, int(want))
}

// MiddleSlots reports how many middle words this deriver assigns.
func (d *Deriver) MiddleSlots() int {
	return d.middleSlots
}

// Saturated reports whether the declared population exceeds what the
// middle table can spread at the configured factor.
func (d *Deriver) Saturated(populationSize int) bool {
	return float64(d.middleSlots) < float64(populationSize)*d.spread
}

// Derive returns the word indices for digest.
func (d *Deriver) Derive(digest models.Digest) models.Indices {
	return models.Indices{
		First:  d.index(digest, models.TierFirst, uint64(d.sizes.First)),
		Middle: d.index(digest, models.TierMiddle, uint64(d.middleSlots)),
		Last:   d.index(digest, models.TierLast, uint64(d.sizes.Last)),
	}
}

func (d *Deriver) index(digest models.Digest, tier models.Tier, bound uint64) uint32 {
	offset := int(tier) * 8
	window := binary.BigEndian.Uint64(digest[offset : offset+8])
	if idx, ok := d.reduce(window, bound); ok {
		return uint32(idx)
	}

	stream := expansion(digest, tier)
	var buf [8]byte
	for {
		// The XOF never runs dry; ReadFull cannot fail.
		_, _ = io.ReadFull(stream, buf[:])
		if idx, ok := d.reduce(binary.BigEndian.Uint64(buf[:]), bound); ok {
			return uint32(idx)
		}
	}
}

func (d *Deriver) reduce(window, bound uint64) (uint64, bool) {
	if d.reduction == ReductionRejection {
		return reduceMasked(window, bound)
	}
	return reduceWide(window, bound)
}

// reduceWide maps window into [0, bound) as the high word of window*bound.
// The low word identifies the few windows that would over-represent some
// indices; those are rejected.
func reduceWide(window, bound uint64) (uint64, bool) {
	hi, lo := bits.Mul64(window, bound)
	if lo < bound {
		threshold := -bound % bound
		if lo < threshold {
			return 0, false
		}
	}
	return hi, true
}

// reduceMasked keeps the low ceil(log2(bound)) bits of window and rejects
// values at or above bound.
func reduceMasked(window, bound uint64) (uint64, bool) {
	mask := uint64(1)<<bits.Len64(bound-1) - 1
	v := window & mask
	if v >= bound {
		return 0, false
	}
	return v, true
}

func expansion(digest models.Digest, tier models.Tier) io.Reader {
	h := blake3.NewDeriveKey(expansionContext)
	h.Write(digest[:])
	h.Write([]byte{byte(tier)})
	return h.Digest()
}
