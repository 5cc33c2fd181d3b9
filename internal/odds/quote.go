package odds

import (
	"github.com/shopspring/decimal"
)

// LaneQuote is one lane of an odds table in display units.
type LaneQuote struct {
	Lane         int    `json:"lane"`
	OddsBps      uint64 `json:"odds_bps"`
	Decimal      string `json:"decimal"`
	ImpliedPct   string `json:"implied_pct"`
	BelowMinimum bool   `json:"below_minimum,omitempty"`
}

// Quote renders an odds table and its validation for humans. Integer basis
// points stay authoritative; the strings are presentation only.
type Quote struct {
	Lanes           []LaneQuote `json:"lanes"`
	OverroundPct    string      `json:"overround_pct"`
	MinOverroundPct string      `json:"min_overround_pct"`
	HouseEdgePct    string      `json:"house_edge_pct"`
	MarginPct       string      `json:"margin_pct"`
}

// DecimalOdds converts odds basis points to decimal odds (16667 -> 1.6667).
func DecimalOdds(oddsBps uint64) decimal.Decimal {
	return decimal.New(int64(oddsBps), -4)
}

// Percent converts probability basis points to a percentage (10026 -> 100.26).
func Percent(bps uint64) decimal.Decimal {
	return decimal.New(int64(bps), -2)
}

// NewQuote builds the display form of odds and the result of validating them.
func NewQuote(odds []uint64, res Result) Quote {
	q := Quote{
		Lanes:           make([]LaneQuote, len(odds)),
		MinOverroundPct: Percent(res.MinOverroundBps).StringFixed(2),
		HouseEdgePct:    Percent(uint64(res.HouseEdgeBps)).StringFixed(2),
	}

	var sum uint64
	for i, o := range odds {
		lq := LaneQuote{Lane: i, OddsBps: o, Decimal: DecimalOdds(o).StringFixed(4)}
		if o == 0 {
			lq.BelowMinimum = true
			lq.ImpliedPct = "n/a"
			q.Lanes[i] = lq
			continue
		}
		implied := ImpliedProbabilityBps(o)
		sum += implied
		lq.ImpliedPct = Percent(implied).StringFixed(2)
		lq.BelowMinimum = o < MinDecimalOddsBps
		q.Lanes[i] = lq
	}

	overround := Percent(sum)
	q.OverroundPct = overround.StringFixed(2)
	q.MarginPct = overround.Sub(decimal.NewFromInt(100)).StringFixed(2)
	return q
}
