package models

// Tier is one of the three word positions of a pseudonym.
type Tier int

const (
	TierFirst Tier = iota
	TierMiddle
	TierLast
)

// Tiers lists every tier in render order.
var Tiers = [...]Tier{TierFirst, TierMiddle, TierLast}

func (t Tier) String() string {
	switch t {
	case TierFirst:
		return "first"
	case TierMiddle:
		return "middle"
	case TierLast:
		return "last"
	default:
		return "unknown"
	}
}

// Indices holds one word index per tier.
type Indices struct {
	First  uint32
	Middle uint32
	Last   uint32
}

// Get returns the index for a tier.
func (i Indices) Get(t Tier) uint32 {
	switch t {
	case TierFirst:
		return i.First
	case TierMiddle:
		return i.Middle
	default:
		return i.Last
	}
}

// TableSizes holds the number of words available per tier.
type TableSizes struct {
	First  int
	Middle int
	Last   int
}

// Get returns the size for a tier.
func (s TableSizes) Get(t Tier) int {
	switch t {
	case TierFirst:
		return s.First
	case TierMiddle:
		return s.Middle
	default:
		return s.Last
	}
}
