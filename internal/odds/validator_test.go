package odds

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func uniform(lanes int, odds uint64) []uint64 {
	out := make([]uint64, lanes)
	for i := range out {
		out[i] = odds
	}
	return out
}

func TestMinOverroundBps(t *testing.T) {
	tests := []struct {
		edge uint32
		want uint64
	}{
		{0, 10000},
		{25, 10026},
		{26, 10027},
		{500, 10527},
		{3000, 14286},
	}
	for _, tt := range tests {
		got, err := MinOverroundBps(tt.edge)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "house edge %d", tt.edge)
	}

	_, err := MinOverroundBps(3001)
	require.ErrorIs(t, err, ErrHouseEdgeOutOfRange)
}

func TestImpliedProbabilityRoundsUp(t *testing.T) {
	assert.Equal(t, uint64(6000), ImpliedProbabilityBps(16667))
	assert.Equal(t, uint64(1671), ImpliedProbabilityBps(59880))
	assert.Equal(t, uint64(10000), ImpliedProbabilityBps(10000))
	assert.Equal(t, uint64(5000), ImpliedProbabilityBps(20000))
}

func TestValidateSixLaneBook(t *testing.T) {
	// 59880 bps is 5.988x, about 16.7% per lane: a 100.26% book
	book := uniform(6, 59880)

	tests := []struct {
		name     string
		edge     uint32
		accepted bool
	}{
		{"no edge", 0, true},
		{"edge at the book's margin", 25, true},
		{"edge one bps past the margin", 26, false},
		{"five percent edge", 500, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Validate(book, tt.edge)
			require.NoError(t, err)
			assert.Equal(t, tt.accepted, res.Accepted)
			assert.Equal(t, uint64(10026), res.InvSumBps)
			assert.Equal(t, tt.edge, res.HouseEdgeBps)
			if tt.accepted {
				assert.Equal(t, ReasonNone, res.Reason)
			} else {
				assert.Equal(t, ReasonOverroundBelowMinimum, res.Reason)
				assert.Nil(t, res.Lane)
			}
		})
	}
}

func TestValidateShortOddsBook(t *testing.T) {
	// 16667 bps is 1.6667x (60% implied per lane): a 360% book clears any legal edge
	book := uniform(6, 16667)

	for _, edge := range []uint32{0, 500, MaxHouseEdgeBps} {
		res, err := Validate(book, edge)
		require.NoError(t, err)
		assert.True(t, res.Accepted, "edge %d", edge)
		assert.Equal(t, uint64(36000), res.InvSumBps)
	}
}

func TestValidateMinimumOddsBoundary(t *testing.T) {
	res, err := Validate([]uint64{MinDecimalOddsBps, MinDecimalOddsBps}, 500)
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, uint64(19802), res.InvSumBps)

	res, err = Validate([]uint64{MinDecimalOddsBps, MinDecimalOddsBps - 1}, 500)
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, ReasonOddsBelowMinimum, res.Reason)
	require.NotNil(t, res.Lane)
	assert.Equal(t, 1, *res.Lane)
	assert.Zero(t, res.InvSumBps, "sum is not computed once a lane fails")
}

func TestValidateRuleOrder(t *testing.T) {
	// lane 2 is too short and the book is also far too generous; the lane rule wins
	res, err := Validate([]uint64{500000, 500000, 10000}, 500)
	require.NoError(t, err)
	assert.Equal(t, ReasonOddsBelowMinimum, res.Reason)
	require.NotNil(t, res.Lane)
	assert.Equal(t, 2, *res.Lane)
}

func TestValidatePreconditions(t *testing.T) {
	_, err := Validate(nil, 500)
	require.ErrorIs(t, err, ErrEmptyBook)

	_, err = Validate([]uint64{20000, 20000}, 3001)
	require.ErrorIs(t, err, ErrHouseEdgeOutOfRange)
}

func TestValidateConcurrent(t *testing.T) {
	book := uniform(6, 59880)
	var wg sync.WaitGroup
	results := make([]Result, 32)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = Validate(book, uint32(i))
		}(i)
	}
	wg.Wait()

	for i, res := range results {
		assert.Equal(t, i <= 25, res.Accepted, "edge %d", i)
	}
}

func TestHouseEdge(t *testing.T) {
	h, err := NewHouseEdge(500)
	require.NoError(t, err)
	assert.Equal(t, uint32(500), h.Load())

	require.NoError(t, h.Store(MaxHouseEdgeBps))
	assert.Equal(t, uint32(MaxHouseEdgeBps), h.Load())

	require.ErrorIs(t, h.Store(MaxHouseEdgeBps+1), ErrHouseEdgeOutOfRange)
	assert.Equal(t, uint32(MaxHouseEdgeBps), h.Load(), "rejected store must not change the edge")

	_, err = NewHouseEdge(4000)
	require.ErrorIs(t, err, ErrHouseEdgeOutOfRange)
}

func TestNewQuote(t *testing.T) {
	odds := []uint64{16667, 59880}
	res, err := Validate(odds, 500)
	require.NoError(t, err)

	q := NewQuote(odds, res)
	require.Len(t, q.Lanes, 2)
	assert.Equal(t, "1.6667", q.Lanes[0].Decimal)
	assert.Equal(t, "60.00", q.Lanes[0].ImpliedPct)
	assert.Equal(t, "5.9880", q.Lanes[1].Decimal)
	assert.Equal(t, "16.71", q.Lanes[1].ImpliedPct)
	assert.Equal(t, "76.71", q.OverroundPct)
	assert.Equal(t, "-23.29", q.MarginPct)
	assert.Equal(t, "105.27", q.MinOverroundPct)
	assert.Equal(t, "5.00", q.HouseEdgePct)
	assert.False(t, q.Lanes[0].BelowMinimum)

	low := NewQuote([]uint64{10000, 0}, Result{})
	assert.True(t, low.Lanes[0].BelowMinimum)
	assert.True(t, low.Lanes[1].BelowMinimum)
	assert.Equal(t, "n/a", low.Lanes[1].ImpliedPct)
}

func TestFairOdds(t *testing.T) {
	got, err := FairOdds([]uint64{500, 300, 200}, 1000, 500)
	require.NoError(t, err)
	assert.Equal(t, []uint64{19000, 31666, 47500}, got)

	res, err := Validate(got, 500)
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, uint64(10528), res.InvSumBps)

	got, err = FairOdds([]uint64{995, 5, 0}, 1000, 500)
	require.NoError(t, err)
	assert.Equal(t, []uint64{MinDecimalOddsBps, MaxQuotedOddsBps, MaxQuotedOddsBps}, got)

	_, err = FairOdds(nil, 10, 0)
	require.ErrorIs(t, err, ErrEmptyBook)
	_, err = FairOdds([]uint64{1}, 0, 0)
	require.Error(t, err)
	_, err = FairOdds([]uint64{1}, 1, 3001)
	require.ErrorIs(t, err, ErrHouseEdgeOutOfRange)
}
