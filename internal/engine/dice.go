package engine

import (
	"fmt"
	"math"
	"math/bits"
)

const nibblesPerDigest = SeedSize * 2

// Dice turns a seed into an unbounded stream of unbiased integers.
//
// The stream reads the current digest four bits at a time, high nibble
// first. Once all 64 nibbles are spent the digest is replaced by its own
// Keccak-256 hash and reading restarts at offset 0.
//
// A Dice must not be copied after the first roll: two copies share a past
// but advance independently, which silently forks the race.
type Dice struct {
	digest   Seed
	offset   int
	rehashes uint64
}

// NewDice creates a stream whose first digest is the seed itself.
func NewDice(seed Seed) *Dice {
	return &Dice{digest: seed}
}

// Cursor reports the current digest, nibble offset and how many times the
// digest has been rehashed.
func (d *Dice) Cursor() (Seed, int, uint64) {
	return d.digest, d.offset, d.rehashes
}

func (d *Dice) nextNibble() uint64 {
	if d.offset >= nibblesPerDigest {
		d.digest = Keccak256(d.digest[:])
		d.offset = 0
		d.rehashes++
	}
	b := d.digest[d.offset/2]
	d.offset++
	if d.offset%2 == 1 {
		return uint64(b >> 4)
	}
	return uint64(b & 0x0f)
}

// NibblesFor returns how many nibbles a draw below bound consumes:
// ceil(log2(bound)/4), at least one.
func NibblesFor(bound uint64) int {
	if bound <= 1 {
		return 1
	}
	return (bits.Len64(bound-1) + 3) / 4
}

// acceptLimit returns the exclusive upper bound for accepted candidates of
// the given width. all is true when every candidate is accepted.
func acceptLimit(bound uint64, nibbles int) (limit uint64, all bool) {
	if nibbles < 16 {
		span := uint64(1) << (4 * nibbles)
		return span - span%bound, false
	}
	// span is 2^64
	waste := (math.MaxUint64%bound + 1) % bound
	if waste == 0 {
		return 0, true
	}
	return -waste, false
}

// Roll returns a uniform value in [0, bound). A zero bound is rejected
// without consuming entropy.
func (d *Dice) Roll(bound uint64) (uint64, error) {
	if bound == 0 {
		return 0, ErrInvalidBound
	}

	n := NibblesFor(bound)
	limit, all := acceptLimit(bound, n)
	for {
		var candidate uint64
		for i := 0; i < n; i++ {
			candidate = candidate<<4 | d.nextNibble()
		}
		if all || candidate < limit {
			return candidate % bound, nil
		}
	}
}

// MustRoll is Roll for callers that have already validated the bound.
func (d *Dice) MustRoll(bound uint64) uint64 {
	v, err := d.Roll(bound)
	if err != nil {
		panic(fmt.Errorf("dice: %w (bound=%d)", err, bound))
	}
	return v
}

// Rolls draws one value per bound, in order. No entropy is consumed if any
// bound is invalid.
func (d *Dice) Rolls(bounds []uint64) ([]uint64, error) {
	for i, b := range bounds {
		if b == 0 {
			return nil, fmt.Errorf("bound %d: %w", i, ErrInvalidBound)
		}
	}
	out := make([]uint64, len(bounds))
	for i, b := range bounds {
		out[i] = d.MustRoll(b)
	}
	return out, nil
}

// Rolls creates a fresh stream for seed and draws one value per bound.
func Rolls(seed Seed, bounds []uint64) ([]uint64, error) {
	return NewDice(seed).Rolls(bounds)
}
