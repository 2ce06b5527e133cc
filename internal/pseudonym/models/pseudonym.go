package models

// Pseudonym is the three-word name assigned to an identifier.
type Pseudonym struct {
	First  string
	Middle string
	Last   string
}

// String renders the pseudonym as first-middle-last.
func (p Pseudonym) String() string {
	return p.First + "-" + p.Middle + "-" + p.Last
}

// IsZero reports whether no words are set.
func (p Pseudonym) IsZero() bool {
	return p == Pseudonym{}
}

// Record is the persisted unit: the tier indices assigned to a digest.
// Records are created once and never mutated.
type Record struct {
	Digest  Digest
	Indices Indices
}
