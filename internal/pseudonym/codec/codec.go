// Package codec encodes pseudonym records as constant-width text lines.
//
// Every record is exactly RecordWidth bytes:
//
//	p1 <64 hex digest> <8 hex first> <8 hex middle> <8 hex last>\n
//
// Fixed width keeps record length from revealing anything about the indices
// and lets line-oriented backends address record n at offset n*RecordWidth.
// The layout is a compatibility surface: changing it invalidates stored
// records.
package codec

import (
	"encoding/hex"
	"errors"
	"fmt"

	"pseudonym/internal/pseudonym/models"
)

const (
	// Version prefixes every line so a future layout can coexist.
	Version = "p1"

	indexWidth  = 8
	digestWidth = models.DigestSize * 2

	digestOffset = len(Version) + 1
	firstOffset  = digestOffset + digestWidth + 1
	middleOffset = firstOffset + indexWidth + 1
	lastOffset   = middleOffset + indexWidth + 1

	// RecordWidth is the byte length of every encoded record, newline included.
	RecordWidth = lastOffset + indexWidth + 1
)

// ErrMalformedRecord is returned for any line that is not a valid record.
var ErrMalformedRecord = errors.New("malformed record")

const hexDigits = "0123456789abcdef"

// Encode renders r as a RecordWidth-byte line.
func Encode(r models.Record) []byte {
	line := make([]byte, RecordWidth)
	copy(line, Version)
	line[digestOffset-1] = ' '
	hex.Encode(line[digestOffset:digestOffset+digestWidth], r.Digest[:])
	line[firstOffset-1] = ' '
	putIndex(line[firstOffset:], r.Indices.First)
	line[middleOffset-1] = ' '
	putIndex(line[middleOffset:], r.Indices.Middle)
	line[lastOffset-1] = ' '
	putIndex(line[lastOffset:], r.Indices.Last)
	line[RecordWidth-1] = '\n'
	return line
}

// Decode parses a line produced by Encode. Lines of any other width, with
// uppercase hex or with misplaced separators are rejected.
func Decode(line []byte) (models.Record, error) {
	var r models.Record
	if len(line) != RecordWidth {
		return r, fmt.Errorf("record is %d bytes, want %d: %w", len(line), RecordWidth, ErrMalformedRecord)
	}
	if string(line[:len(Version)]) != Version {
		return r, fmt.Errorf("unknown record version %q: %w", line[:len(Version)], ErrMalformedRecord)
	}
	for _, sep := range []int{digestOffset - 1, firstOffset - 1, middleOffset - 1, lastOffset - 1} {
		if line[sep] != ' ' {
			return r, fmt.Errorf("missing separator at byte %d: %w", sep, ErrMalformedRecord)
		}
	}
	if line[RecordWidth-1] != '\n' {
		return r, fmt.Errorf("missing line terminator: %w", ErrMalformedRecord)
	}

	digestHex := line[digestOffset : digestOffset+digestWidth]
	if !isLowerHex(digestHex) {
		return r, fmt.Errorf("digest is not lowercase hex: %w", ErrMalformedRecord)
	}
	if _, err := hex.Decode(r.Digest[:], digestHex); err != nil {
		return r, fmt.Errorf("decode digest: %w", ErrMalformedRecord)
	}

	var err error
	if r.Indices.First, err = parseIndex(line[firstOffset:]); err != nil {
		return models.Record{}, fmt.Errorf("first index: %w", err)
	}
	if r.Indices.Middle, err = parseIndex(line[middleOffset:]); err != nil {
		return models.Record{}, fmt.Errorf("middle index: %w", err)
	}
	if r.Indices.Last, err = parseIndex(line[lastOffset:]); err != nil {
		return models.Record{}, fmt.Errorf("last index: %w", err)
	}
	return r, nil
}

// DigestField returns the raw hex digest field of a line, or nil if the line
// is too short. Hex fields sort in digest byte order.
func DigestField(line []byte) []byte {
	if len(line) < digestOffset+digestWidth {
		return nil
	}
	return line[digestOffset : digestOffset+digestWidth]
}

// DigestOf returns the digest field of a line without decoding the rest.
// Used by backends that index lines by digest.
func DigestOf(line []byte) (models.Digest, error) {
	var d models.Digest
	if len(line) < digestOffset+digestWidth {
		return d, fmt.Errorf("record is %d bytes: %w", len(line), ErrMalformedRecord)
	}
	field := line[digestOffset : digestOffset+digestWidth]
	if !isLowerHex(field) {
		return d, fmt.Errorf("digest is not lowercase hex: %w", ErrMalformedRecord)
	}
	if _, err := hex.Decode(d[:], field); err != nil {
		return d, fmt.Errorf("decode digest: %w", ErrMalformedRecord)
	}
	return d, nil
}

func putIndex(dst []byte, v uint32) {
	for i := indexWidth - 1; i >= 0; i-- {
		dst[i] = hexDigits[v&0xf]
		v >>= 4
	}
}

func parseIndex(src []byte) (uint32, error) {
	var v uint32
	for _, c := range src[:indexWidth] {
		var nibble byte
		switch {
		case c >= '0' && c <= '9':
			nibble = c - '0'
		case c >= 'a' && c <= 'f':
			nibble = c - 'a' + 10
		default:
			return 0, fmt.Errorf("byte %q is not lowercase hex: %w", c, ErrMalformedRecord)
		}
		v = v<<4 | uint32(nibble)
	}
	return v, nil
}

func isLowerHex(b []byte) bool {
	for _, c := range b {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
