package voucher

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
)

// DefaultAlphabet omits I, O, 0 and 1 so printed codes can be typed back
// without ambiguity.
const DefaultAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	DefaultCodeLength  = 8
	DefaultMaxAttempts = 16
)

// ExistsFunc reports whether a candidate code is already taken.
type ExistsFunc func(code string) (bool, error)

// CodeGenerator mints random voucher codes from a fixed alphabet.
type CodeGenerator struct {
	alphabet    string
	length      int
	maxAttempts int
	random      io.Reader
}

// NewCodeGenerator validates the alphabet and returns a generator reading
// randomness from random. A nil random uses crypto/rand.
func NewCodeGenerator(alphabet string, length, maxAttempts int, random io.Reader) (*CodeGenerator, error) {
	if alphabet == "" {
		alphabet = DefaultAlphabet
	}
	alphabet = strings.ToUpper(alphabet)
	if len(alphabet) < 2 || len(alphabet) > 256 {
		return nil, fmt.Errorf("code alphabet must have 2-256 symbols, got %d", len(alphabet))
	}
	seen := make(map[rune]bool, len(alphabet))
	for _, r := range alphabet {
		if r > 127 {
			return nil, fmt.Errorf("code alphabet must be ASCII, got %q", r)
		}
		if seen[r] {
			return nil, fmt.Errorf("code alphabet has duplicate symbol %q", r)
		}
		seen[r] = true
	}
	if length < 4 {
		return nil, fmt.Errorf("code length must be at least 4, got %d", length)
	}
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	if random == nil {
		random = rand.Reader
	}
	return &CodeGenerator{alphabet: alphabet, length: length, maxAttempts: maxAttempts, random: random}, nil
}

// Generate returns count distinct codes that exists reports as free. Each
// slot gets maxAttempts tries; when one runs out, the codes minted so far
// are returned together with a ConflictError.
func (g *CodeGenerator) Generate(count int, exists ExistsFunc) ([]string, error) {
	codes := make([]string, 0, count)
	minted := make(map[string]bool, count)

	for len(codes) < count {
		var code string
		for attempt := 1; ; attempt++ {
			if attempt > g.maxAttempts {
				return codes, &ConflictError{Requested: count, Minted: len(codes), Attempts: g.maxAttempts}
			}

			candidate, err := g.next()
			if err != nil {
				return codes, err
			}
			if minted[candidate] {
				continue
			}
			taken, err := exists(candidate)
			if err != nil {
				return codes, err
			}
			if !taken {
				code = candidate
				break
			}
		}
		minted[code] = true
		codes = append(codes, code)
	}
	return codes, nil
}

// next draws one code using rejection sampling so every symbol is equally
// likely regardless of alphabet size.
func (g *CodeGenerator) next() (string, error) {
	n := len(g.alphabet)
	limit := 256 - 256%n

	out := make([]byte, 0, g.length)
	buf := make([]byte, g.length*2)
	for len(out) < g.length {
		if _, err := io.ReadFull(g.random, buf); err != nil {
			return "", fmt.Errorf("failed to read randomness: %w", err)
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, g.alphabet[int(b)%n])
			if len(out) == g.length {
				break
			}
		}
	}
	return string(out), nil
}
