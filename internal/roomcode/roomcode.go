// Package roomcode produces and validates the short shareable identifiers
// that name a room. Codes are not a security boundary and carry no
// uniqueness guarantee; collision handling belongs to the registry.
package roomcode

import (
	"math/rand/v2"
	"strings"
)

// Length is the fixed size of every room code.
const Length = 6

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

type Config struct {
	// IntN returns a uniform value in [0, n). Defaults to math/rand/v2.
	IntN func(n int) int
}

type Generator struct {
	intN func(n int) int
}

func NewGenerator(c Config) *Generator {
	g := &Generator{intN: c.IntN}
	if g.intN == nil {
		g.intN = rand.IntN
	}
	return g
}

// Generate returns a fresh 6-character code, each character sampled
// uniformly from [A-Z0-9]. It never fails and has no side effects.
func (g *Generator) Generate() string {
	var b strings.Builder
	b.Grow(Length)

	for range Length {
		b.WriteByte(alphabet[g.intN(len(alphabet))])
	}

	return b.String()
}

// Normalize maps a user-supplied code to its canonical form. Codes are
// compared case-insensitively, so every lookup and every stored key goes
// through here.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Valid reports whether code (after normalization) is a well-formed room
// code: exactly Length characters, all from the generator alphabet.
func Valid(code string) bool {
	code = Normalize(code)
	if len(code) != Length {
		return false
	}

	for i := 0; i < len(code); i++ {
		if !strings.ContainsRune(alphabet, rune(code[i])) {
			return false
		}
	}

	return true
}
