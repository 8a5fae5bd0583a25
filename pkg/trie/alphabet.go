package trie

import "fmt"

const invalidIndex = 0xff

// Alphabet maps key bytes onto dense child indices.
type Alphabet struct {
	name  string
	chars string
	index [256]uint8
}

func newAlphabet(name, chars string, foldLower bool) *Alphabet {
	alphabet := &Alphabet{name: name, chars: chars}

	for idx := range alphabet.index {
		alphabet.index[idx] = invalidIndex
	}

	for idx := range len(chars) {
		alphabet.index[chars[idx]] = uint8(idx)

		if foldLower && chars[idx] >= 'A' && chars[idx] <= 'Z' {
			alphabet.index[chars[idx]+'a'-'A'] = uint8(idx)
		}
	}

	return alphabet
}

func printable() string {
	buf := make([]byte, 0, '~'-' '+1)
	for c := byte(' '); c <= '~'; c++ {
		buf = append(buf, c)
	}

	return string(buf)
}

var (
	// ASCII covers the 95 printable characters, space through tilde.
	ASCII = newAlphabet("ascii", printable(), false)
	// IUPAC covers the 16 nucleotide codes in 4-bit code order. Lower-case
	// letters are accepted and folded to upper case.
	IUPAC = newAlphabet("iupac", "=ACMGRSVTWYHKDBN", true)
)

// Name returns the alphabet name.
func (a *Alphabet) Name() string { return a.name }

// Size returns the number of symbols.
func (a *Alphabet) Size() int { return len(a.chars) }

// Index returns the child index of c.
func (a *Alphabet) Index(c byte) (int, bool) {
	idx := a.index[c]

	return int(idx), idx != invalidIndex
}

// Char returns the canonical character of index idx.
func (a *Alphabet) Char(idx int) byte { return a.chars[idx] }

// Check reports the first byte of key outside the alphabet.
func (a *Alphabet) Check(key string) error {
	for pos := range len(key) {
		if a.index[key[pos]] == invalidIndex {
			return fmt.Errorf("%w: %q at offset %d for %s alphabet", ErrInvalidKeyCharacter, key[pos], pos, a.name)
		}
	}

	return nil
}

// Canonical returns key with every byte replaced by its canonical character.
func (a *Alphabet) Canonical(key string) (string, error) {
	err := a.Check(key)
	if err != nil {
		return "", err
	}

	buf := []byte(key)
	for pos, c := range buf {
		buf[pos] = a.chars[a.index[c]]
	}

	return string(buf), nil
}
