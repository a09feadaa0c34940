package voucher

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCodeGenerator_Validation(t *testing.T) {
	tests := []struct {
		name     string
		alphabet string
		length   int
		wantErr  bool
	}{
		{"defaults", "", 8, false},
		{"binary", "AB", 4, false},
		{"single symbol", "A", 8, true},
		{"duplicate symbol", "ABCA", 8, true},
		{"non ascii", "ABCÉ", 8, true},
		{"too short", DefaultAlphabet, 3, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCodeGenerator(tt.alphabet, tt.length, 0, nil)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestGenerate_DistinctCodesFromAlphabet(t *testing.T) {
	g, err := NewCodeGenerator(DefaultAlphabet, DefaultCodeLength, 0, nil)
	require.NoError(t, err)

	codes, err := g.Generate(500, func(string) (bool, error) { return false, nil })
	require.NoError(t, err)
	require.Len(t, codes, 500)

	seen := map[string]bool{}
	for _, c := range codes {
		assert.Len(t, c, DefaultCodeLength)
		for _, r := range c {
			assert.True(t, strings.ContainsRune(DefaultAlphabet, r), "unexpected symbol %q", r)
		}
		assert.False(t, seen[c], "duplicate code %s", c)
		seen[c] = true
	}
}

func TestGenerate_SkipsTakenCodes(t *testing.T) {
	// GIVEN: A generator fed constant bytes, so the first candidate is always "AAAA"
	random := bytes.NewReader(append(bytes.Repeat([]byte{0}, 8), bytes.Repeat([]byte{1}, 8)...))
	g, err := NewCodeGenerator("AB", 4, 4, random)
	require.NoError(t, err)

	// WHEN: "AAAA" is already taken
	codes, err := g.Generate(1, func(c string) (bool, error) { return c == "AAAA", nil })

	// THEN: The next candidate is used
	require.NoError(t, err)
	assert.Equal(t, []string{"BBBB"}, codes)
}

func TestGenerate_CodeSpaceExhausted(t *testing.T) {
	// GIVEN: An alphabet of 2 symbols and length 4: 16 possible codes
	g, err := NewCodeGenerator("AB", 4, 64, nil)
	require.NoError(t, err)

	// WHEN: 20 codes are requested
	codes, err := g.Generate(20, func(string) (bool, error) { return false, nil })

	// THEN: A ConflictError carries the codes minted so far
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.ErrorIs(t, err, ErrCodeSpaceExhausted)
	assert.Equal(t, 20, conflict.Requested)
	assert.Equal(t, len(codes), conflict.Minted)
	assert.LessOrEqual(t, len(codes), 16)
}

func TestGenerate_ExistsErrorAborts(t *testing.T) {
	g, err := NewCodeGenerator("", 8, 0, nil)
	require.NoError(t, err)

	boom := errors.New("db down")
	codes, err := g.Generate(3, func(string) (bool, error) { return false, boom })
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, codes)
}
