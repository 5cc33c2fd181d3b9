package odds

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MJE43/race-pf-replay-go/internal/engine"
	"github.com/MJE43/race-pf-replay-go/internal/race"
)

var (
	opens  = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	closes = opens.Add(30 * time.Minute)
	during = opens.Add(10 * time.Minute)

	bookSeed = engine.Keccak256([]byte("book-seed"))
	course   = Course{MaxTicks: 500, SpeedRange: 10, TrackLength: 1000}
)

func newTestBook(t *testing.T) *Book {
	t.Helper()
	b, err := NewBook("book-1", 4, engine.Commitment(bookSeed), course, opens, closes)
	require.NoError(t, err)
	return b
}

func settledResult() *race.Result {
	final := []uint64{1012, 1030, 1015, 1030}
	order := race.CalculateFinishOrder(final)
	return &race.Result{Seed: bookSeed, Final: final, Winners: race.WinnerSet(final), FinishOrder: &order}
}

func TestNewBook(t *testing.T) {
	commitment := engine.Commitment(bookSeed)
	_, err := NewBook("b", 0, commitment, course, opens, closes)
	require.ErrorIs(t, err, ErrLaneCountMismatch)

	_, err = NewBook("b", 4, commitment, course, closes, opens)
	require.ErrorIs(t, err, ErrInvalidBettingClose)

	b := newTestBook(t)
	assert.Equal(t, StatusOpen, b.Status())
	assert.True(t, b.BettingOpen(opens))
	assert.True(t, b.BettingOpen(during))
	assert.False(t, b.BettingOpen(closes))
	assert.False(t, b.BettingOpen(opens.Add(-time.Second)))
}

func TestSetOddsGuardOrder(t *testing.T) {
	book := uniform(4, 30000)

	t.Run("lineup first", func(t *testing.T) {
		b := newTestBook(t)
		// outside the window too, but the lineup guard runs first
		_, err := b.SetOdds(closes.Add(time.Hour), book, 500)
		require.ErrorIs(t, err, ErrLineupNotFinalized)
	})

	t.Run("settled before already set", func(t *testing.T) {
		b := newTestBook(t)
		require.NoError(t, b.FinalizeLineup([]int{5, 6, 7, 8}))
		_, err := b.SetOdds(during, book, 500)
		require.NoError(t, err)
		require.NoError(t, b.Settle(closes, "race-1", settledResult()))

		_, err = b.SetOdds(during, book, 500)
		require.ErrorIs(t, err, ErrRaceSettled)
	})

	t.Run("already set before window", func(t *testing.T) {
		b := newTestBook(t)
		require.NoError(t, b.FinalizeLineup([]int{5, 6, 7, 8}))
		_, err := b.SetOdds(during, book, 500)
		require.NoError(t, err)

		_, err = b.SetOdds(closes.Add(time.Hour), book, 500)
		require.ErrorIs(t, err, ErrOddsAlreadySet)
	})

	t.Run("window before lane count", func(t *testing.T) {
		b := newTestBook(t)
		require.NoError(t, b.FinalizeLineup([]int{5, 6, 7, 8}))

		_, err := b.SetOdds(closes, uniform(3, 30000), 500)
		require.ErrorIs(t, err, ErrBettingClosed)

		_, err = b.SetOdds(opens.Add(-time.Minute), book, 500)
		require.ErrorIs(t, err, ErrBettingClosed)

		_, err = b.SetOdds(during, uniform(3, 30000), 500)
		require.ErrorIs(t, err, ErrLaneCountMismatch)
	})
}

func TestSetOddsValidation(t *testing.T) {
	b := newTestBook(t)
	require.NoError(t, b.FinalizeLineup([]int{5, 6, 7, 8}))
	assert.Equal(t, StatusLineupFinalized, b.Status())

	// 4 lanes at 4.0x is exactly a 100% book: rejected at 5% edge
	res, err := b.SetOdds(during, uniform(4, 40000), 500)
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, ReasonOverroundBelowMinimum, res.Reason)
	assert.Nil(t, b.Odds, "rejected odds must not be stored")
	assert.Equal(t, StatusLineupFinalized, b.Status())

	odds := []uint64{30000, 30000, 35000, 40000}
	res, err = b.SetOdds(during, odds, 500)
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, odds, b.Odds)
	assert.Equal(t, uint32(500), b.HouseEdgeBps)
	require.NotNil(t, b.OddsSetAt)
	assert.Equal(t, during, *b.OddsSetAt)
	assert.Equal(t, StatusOddsSet, b.Status())

	odds[0] = 99999
	assert.Equal(t, uint64(30000), b.Odds[0], "book keeps its own copy")
}

func TestFinalizeLineup(t *testing.T) {
	b := newTestBook(t)
	require.ErrorIs(t, b.FinalizeLineup([]int{1, 2}), ErrLaneCountMismatch)
	require.NoError(t, b.FinalizeLineup([]int{1, 2, 3, 4}))
	require.ErrorIs(t, b.FinalizeLineup([]int{1, 2, 3, 4}), ErrLineupFinalized)
}

func TestSettle(t *testing.T) {
	b := newTestBook(t)
	require.ErrorIs(t, b.Settle(closes, "r", settledResult()), ErrLineupNotFinalized)

	require.NoError(t, b.FinalizeLineup([]int{5, 6, 7, 8}))
	require.ErrorIs(t, b.Settle(closes, "r", settledResult()), ErrOddsNotSet,
		"a book settles only against odds it accepted")
	assert.False(t, b.Settled)

	_, err := b.SetOdds(during, []uint64{30000, 30000, 35000, 40000}, 500)
	require.NoError(t, err)
	require.ErrorIs(t, b.Settle(during, "r", settledResult()), ErrBettingOpen)

	forged := settledResult()
	forged.Seed = engine.DeriveSeed(bookSeed, 0)
	require.ErrorIs(t, b.Settle(closes, "r", forged), ErrSeedMismatch)
	assert.False(t, b.Settled)

	short := &race.Result{Seed: bookSeed, Final: []uint64{1, 2}}
	require.ErrorIs(t, b.Settle(closes, "r", short), ErrLaneCountMismatch)

	require.NoError(t, b.Settle(closes, "race-9", settledResult()))
	assert.Equal(t, StatusSettled, b.Status())
	assert.Equal(t, []int{1, 3}, b.Winners)
	require.NotNil(t, b.FinishOrder)
	assert.Equal(t, []int{1, 3}, b.FinishOrder.First.Lanes)
	assert.True(t, b.FinishOrder.Second.Vacant())
	assert.Equal(t, "race-9", b.RaceID)

	require.ErrorIs(t, b.Settle(closes, "again", settledResult()), ErrRaceSettled)
	require.ErrorIs(t, b.FinalizeLineup([]int{1, 2, 3, 4}), ErrRaceSettled)
}

func TestCheckReveal(t *testing.T) {
	b := newTestBook(t)
	require.NoError(t, b.CheckReveal(bookSeed))
	require.ErrorIs(t, b.CheckReveal(engine.Seed{}), ErrSeedMismatch)
	require.ErrorIs(t, b.CheckReveal(engine.Commitment(bookSeed)), ErrSeedMismatch,
		"the commitment itself is not the seed")
}

func TestRaceConfig(t *testing.T) {
	b := newTestBook(t)
	require.NoError(t, b.FinalizeLineup([]int{5, 6, 7, 8}))

	cfg := b.RaceConfig()
	assert.Equal(t, race.Config{Scores: []int{5, 6, 7, 8}, MaxTicks: 500, SpeedRange: 10, TrackLength: 1000}, cfg)
	cfg.Scores[0] = 1
	assert.Equal(t, 5, b.Scores[0], "config gets its own copy of the scores")
}
