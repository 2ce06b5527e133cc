package models

import (
	"fmt"
	"strings"
)

// WordTable is an ordered, immutable list of words for one tier.
// Tables are prepared ahead of time; the engine only indexes into them.
type WordTable []string

// Tables bundles the word table of every tier.
type Tables struct {
	First  WordTable
	Middle WordTable
	Last   WordTable
}

// Table returns the table for a tier.
func (t Tables) Table(tier Tier) WordTable {
	switch tier {
	case TierFirst:
		return t.First
	case TierMiddle:
		return t.Middle
	default:
		return t.Last
	}
}

// Sizes reports the length of every table.
func (t Tables) Sizes() TableSizes {
	return TableSizes{First: len(t.First), Middle: len(t.Middle), Last: len(t.Last)}
}

// Validate rejects empty tables and words that would break rendering.
func (t Tables) Validate() error {
	for _, tier := range Tiers {
		table := t.Table(tier)
		if len(table) == 0 {
			return fmt.Errorf("%s word table is empty: %w", tier, ErrInvalidConfiguration)
		}
		for i, word := range table {
			if word == "" || strings.ContainsAny(word, "- \t\n") {
				return fmt.Errorf("%s word table entry %d is not a single word: %w", tier, i, ErrInvalidConfiguration)
			}
		}
	}
	return nil
}

// InRange reports whether every index addresses a word of its table.
func (t Tables) InRange(indices Indices) bool {
	sizes := t.Sizes()
	for _, tier := range Tiers {
		if int64(indices.Get(tier)) >= int64(sizes.Get(tier)) {
			return false
		}
	}
	return true
}

// Render looks up the words addressed by indices. Callers must check
// InRange first.
func (t Tables) Render(indices Indices) Pseudonym {
	return Pseudonym{
		First:  t.First[indices.First],
		Middle: t.Middle[indices.Middle],
		Last:   t.Last[indices.Last],
	}
}
