package odds

import (
	"errors"
	"fmt"
	"time"

	"github.com/MJE43/race-pf-replay-go/internal/engine"
	"github.com/MJE43/race-pf-replay-go/internal/race"
)

var (
	ErrLineupNotFinalized  = errors.New("lineup not finalized")
	ErrLineupFinalized     = errors.New("lineup already finalized")
	ErrRaceSettled         = errors.New("race already settled")
	ErrOddsAlreadySet      = errors.New("odds already set")
	ErrOddsNotSet          = errors.New("odds not set")
	ErrSeedMismatch        = errors.New("seed does not match the book's commitment")
	ErrBettingClosed       = errors.New("betting window closed")
	ErrBettingOpen         = errors.New("betting window still open")
	ErrLaneCountMismatch   = errors.New("lane count mismatch")
	ErrInvalidBettingClose = errors.New("betting close must be after betting open")
)

// Status is the lifecycle stage of a Book.
type Status string

const (
	StatusOpen            Status = "open"
	StatusLineupFinalized Status = "lineup_finalized"
	StatusOddsSet         Status = "odds_set"
	StatusSettled         Status = "settled"
)

// Course holds the race parameters fixed when a book opens. The lineup's
// scores complete them at finalization.
type Course struct {
	MaxTicks    int    `json:"max_ticks"`
	SpeedRange  uint64 `json:"speed_range"`
	TrackLength uint64 `json:"track_length"`
}

// Book is the administrative record of one race: the commitment to its
// seed, its course, its lineup, its fixed odds and, eventually, its settled
// result.
type Book struct {
	ID              string            `json:"id"`
	Lanes           int               `json:"lanes"`
	SeedCommitment  engine.Seed       `json:"seed_commitment"`
	Course          Course            `json:"course"`
	Scores          []int             `json:"scores,omitempty"`
	BettingOpensAt  time.Time         `json:"betting_opens_at"`
	BettingClosesAt time.Time         `json:"betting_closes_at"`
	LineupFinalized bool              `json:"lineup_finalized"`
	Odds            []uint64          `json:"odds,omitempty"`
	HouseEdgeBps    uint32            `json:"house_edge_bps"`
	OddsSetAt       *time.Time        `json:"odds_set_at,omitempty"`
	Settled         bool              `json:"settled"`
	SettledAt       *time.Time        `json:"settled_at,omitempty"`
	RaceID          string            `json:"race_id,omitempty"`
	Winners         []int             `json:"winners,omitempty"`
	FinishOrder     *race.FinishOrder `json:"finish_order,omitempty"`
}

// NewBook creates a book whose betting window is [opensAt, closesAt). The
// race seed stays secret until settlement; only its commitment is known.
func NewBook(id string, lanes int, commitment engine.Seed, course Course, opensAt, closesAt time.Time) (*Book, error) {
	if lanes <= 0 {
		return nil, fmt.Errorf("%w: book needs at least one lane", ErrLaneCountMismatch)
	}
	if !closesAt.After(opensAt) {
		return nil, ErrInvalidBettingClose
	}
	return &Book{
		ID:              id,
		Lanes:           lanes,
		SeedCommitment:  commitment,
		Course:          course,
		BettingOpensAt:  opensAt.UTC(),
		BettingClosesAt: closesAt.UTC(),
	}, nil
}

// Status derives the lifecycle stage from the book's flags.
func (b *Book) Status() Status {
	switch {
	case b.Settled:
		return StatusSettled
	case b.Odds != nil:
		return StatusOddsSet
	case b.LineupFinalized:
		return StatusLineupFinalized
	default:
		return StatusOpen
	}
}

// RaceConfig is the configuration the book's race runs under.
func (b *Book) RaceConfig() race.Config {
	return race.Config{
		Scores:      append([]int(nil), b.Scores...),
		MaxTicks:    b.Course.MaxTicks,
		SpeedRange:  b.Course.SpeedRange,
		TrackLength: b.Course.TrackLength,
	}
}

// CheckReveal reports whether seed is the one the book committed to.
func (b *Book) CheckReveal(seed engine.Seed) error {
	if engine.Commitment(seed) != b.SeedCommitment {
		return fmt.Errorf("%w: commitment %s", ErrSeedMismatch, b.SeedCommitment.Hex())
	}
	return nil
}

// BettingOpen reports whether now falls inside the betting window.
func (b *Book) BettingOpen(now time.Time) bool {
	return !now.Before(b.BettingOpensAt) && now.Before(b.BettingClosesAt)
}

// FinalizeLineup fixes the per-lane scores.
func (b *Book) FinalizeLineup(scores []int) error {
	if b.Settled {
		return ErrRaceSettled
	}
	if b.LineupFinalized {
		return ErrLineupFinalized
	}
	if len(scores) != b.Lanes {
		return fmt.Errorf("%w: book has %d lanes, lineup has %d", ErrLaneCountMismatch, b.Lanes, len(scores))
	}
	b.Scores = append([]int(nil), scores...)
	b.LineupFinalized = true
	return nil
}

// SetOdds installs the odds table once. The state guards run in a fixed
// order (lineup finalized, not settled, odds not yet set, betting window
// open) before the table reaches the validator. A rejected table leaves
// the book untouched and is reported through the Result, not an error.
func (b *Book) SetOdds(now time.Time, odds []uint64, houseEdgeBps uint32) (Result, error) {
	if !b.LineupFinalized {
		return Result{}, ErrLineupNotFinalized
	}
	if b.Settled {
		return Result{}, ErrRaceSettled
	}
	if b.Odds != nil {
		return Result{}, ErrOddsAlreadySet
	}
	if !b.BettingOpen(now) {
		return Result{}, fmt.Errorf("%w: window %s to %s", ErrBettingClosed,
			b.BettingOpensAt.Format(time.RFC3339), b.BettingClosesAt.Format(time.RFC3339))
	}
	if len(odds) != b.Lanes {
		return Result{}, fmt.Errorf("%w: book has %d lanes, odds table has %d", ErrLaneCountMismatch, b.Lanes, len(odds))
	}

	res, err := Validate(odds, houseEdgeBps)
	if err != nil || !res.Accepted {
		return res, err
	}

	at := now.UTC()
	b.Odds = append([]uint64(nil), odds...)
	b.HouseEdgeBps = houseEdgeBps
	b.OddsSetAt = &at
	return res, nil
}

// Settle records the race outcome once betting has closed. Only a race run
// from the committed seed under accepted odds settles the book.
func (b *Book) Settle(now time.Time, raceID string, result *race.Result) error {
	if !b.LineupFinalized {
		return ErrLineupNotFinalized
	}
	if b.Settled {
		return ErrRaceSettled
	}
	if b.Odds == nil {
		return ErrOddsNotSet
	}
	if now.Before(b.BettingClosesAt) {
		return ErrBettingOpen
	}
	if err := b.CheckReveal(result.Seed); err != nil {
		return err
	}
	if len(result.Final) != b.Lanes {
		return fmt.Errorf("%w: book has %d lanes, result has %d", ErrLaneCountMismatch, b.Lanes, len(result.Final))
	}

	at := now.UTC()
	b.Settled = true
	b.SettledAt = &at
	b.RaceID = raceID
	b.Winners = append([]int(nil), result.Winners...)
	b.FinishOrder = result.FinishOrder
	return nil
}
