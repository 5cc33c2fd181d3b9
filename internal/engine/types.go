package engine

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// SeedSize is the width of a race seed and of every digest the engine produces.
const SeedSize = 32

var (
	ErrInvalidBound = errors.New("roll bound must be positive")
	ErrInvalidSeed  = errors.New("invalid seed")
)

// Seed is the opaque 32-byte value a race is derived from.
type Seed [SeedSize]byte

// ParseSeed decodes a 64 character hex string, with or without a 0x prefix.
func ParseSeed(s string) (Seed, error) {
	var seed Seed
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	if len(s) != SeedSize*2 {
		return seed, fmt.Errorf("%w: expected %d hex chars, got %d", ErrInvalidSeed, SeedSize*2, len(s))
	}
	if _, err := hex.Decode(seed[:], []byte(s)); err != nil {
		return seed, fmt.Errorf("%w: %v", ErrInvalidSeed, err)
	}
	return seed, nil
}

// MustParseSeed is ParseSeed for constants and tests.
func MustParseSeed(s string) Seed {
	seed, err := ParseSeed(s)
	if err != nil {
		panic(err)
	}
	return seed
}

// Hex returns the lowercase hex encoding without prefix.
func (s Seed) Hex() string {
	return hex.EncodeToString(s[:])
}

func (s Seed) String() string {
	return "0x" + s.Hex()
}

func (s Seed) IsZero() bool {
	return s == Seed{}
}

func (s Seed) MarshalText() ([]byte, error) {
	return []byte(s.Hex()), nil
}

func (s *Seed) UnmarshalText(text []byte) error {
	parsed, err := ParseSeed(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
