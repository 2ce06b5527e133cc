// Package wordlist loads and prepares the word tables a population renders
// pseudonyms from.
package wordlist

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"strings"

	"pseudonym/internal/pseudonym/models"
	strutil "pseudonym/pkg/platform/strings"
)

var (
	// ErrInvalidWord is returned for words that are not lowercase ASCII letters.
	ErrInvalidWord = errors.New("invalid word")
	// ErrDuplicateWord is returned when a list repeats a word.
	ErrDuplicateWord = errors.New("duplicate word")
	// ErrInsufficientWords is returned when tables cannot name a population.
	ErrInsufficientWords = errors.New("insufficient words")
)

// Read parses one word per line. Blank lines and lines starting with '#'
// are skipped; surrounding whitespace is trimmed.
func Read(r io.Reader) (models.WordTable, error) {
	var words models.WordTable
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		words = append(words, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read word list: %w", err)
	}
	return words, nil
}

// Load reads and validates the word list at path.
func Load(path string) (models.WordTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open word list: %w", err)
	}
	defer f.Close()

	words, err := Read(f)
	if err != nil {
		return nil, err
	}
	if err := Validate(words); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return words, nil
}

// LoadTables loads the three tier word lists.
func LoadTables(first, middle, last string) (models.Tables, error) {
	var tables models.Tables
	var err error
	if tables.First, err = Load(first); err != nil {
		return models.Tables{}, err
	}
	if tables.Middle, err = Load(middle); err != nil {
		return models.Tables{}, err
	}
	if tables.Last, err = Load(last); err != nil {
		return models.Tables{}, err
	}
	return tables, nil
}

// Validate requires a non-empty list of unique lowercase ASCII words.
func Validate(words []string) error {
	if len(words) == 0 {
		return fmt.Errorf("word list is empty: %w", models.ErrInvalidConfiguration)
	}
	for i, w := range words {
		if w == "" {
			return fmt.Errorf("line %d is empty: %w", i+1, ErrInvalidWord)
		}
		for _, c := range w {
			if c < 'a' || c > 'z' {
				return fmt.Errorf("word %q: %w", w, ErrInvalidWord)
			}
		}
	}
	if dups := strutil.Duplicates(words); len(dups) > 0 {
		return fmt.Errorf("%q: %w", dups, ErrDuplicateWord)
	}
	return nil
}

// Shuffle returns a copy of words in an order fixed by seed. The same seed
// and input always give the same output, so a shuffled table can be
// regenerated instead of stored.
func Shuffle(words []string, seed uint64) []string {
	var key [32]byte
	binary.LittleEndian.PutUint64(key[:8], seed)
	rng := rand.New(rand.NewChaCha8(key))

	out := append([]string(nil), words...)
	rng.Shuffle(len(out), func(i, j int) {
		out[i], out[j] = out[j], out[i]
	})
	return out
}

// CheckCapacity fails when tables cannot give every member of a population
// of size n a distinct name.
func CheckCapacity(tables models.Tables, n int) error {
	sizes := tables.Sizes()
	capacity := uint64(sizes.First) * uint64(sizes.Middle) * uint64(sizes.Last)
	if uint64(n) > capacity {
		return fmt.Errorf("%d combinations available, %d needed: %w", capacity, n, ErrInsufficientWords)
	}
	return nil
}
