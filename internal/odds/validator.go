package odds

import (
	"errors"
	"fmt"
)

const (
	// OddsScale is 1.0000x in decimal-odds basis points.
	OddsScale = 10000
	// MinDecimalOddsBps is the shortest odds a lane may be offered (1.01x).
	MinDecimalOddsBps = 10100
	// MaxHouseEdgeBps caps the configurable house edge at 30%.
	MaxHouseEdgeBps = 3000
)

var (
	ErrEmptyBook           = errors.New("odds table is empty")
	ErrHouseEdgeOutOfRange = errors.New("house edge out of range")
)

// Reason says which rule rejected an odds table.
type Reason string

const (
	ReasonNone                  Reason = ""
	ReasonOddsBelowMinimum      Reason = "odds_below_minimum"
	ReasonOverroundBelowMinimum Reason = "overround_below_minimum"
)

// Result is the outcome of validating an odds table. A rejection is a
// normal result, not an error.
type Result struct {
	Accepted        bool   `json:"accepted"`
	Reason          Reason `json:"reason,omitempty"`
	Lane            *int   `json:"lane,omitempty"`
	InvSumBps       uint64 `json:"inv_sum_bps"`
	MinOverroundBps uint64 `json:"min_overround_bps"`
	HouseEdgeBps    uint32 `json:"house_edge_bps"`
}

func ceilDiv(a, b uint64) uint64 {
	return (a + b - 1) / b
}

// ImpliedProbabilityBps returns ceil(OddsScale^2 / odds), the win
// probability a lane's odds imply, rounded against the bettor.
func ImpliedProbabilityBps(oddsBps uint64) uint64 {
	return ceilDiv(OddsScale*OddsScale, oddsBps)
}

// MinOverroundBps is the smallest book the house edge allows:
// ceil(OddsScale^2 / (OddsScale - houseEdgeBps)).
func MinOverroundBps(houseEdgeBps uint32) (uint64, error) {
	if houseEdgeBps > MaxHouseEdgeBps {
		return 0, fmt.Errorf("%w: %d bps (max %d)", ErrHouseEdgeOutOfRange, houseEdgeBps, MaxHouseEdgeBps)
	}
	return ceilDiv(OddsScale*OddsScale, OddsScale-uint64(houseEdgeBps)), nil
}

// Validate checks a per-lane odds table against the house edge. Rules run
// in order: every lane must meet MinDecimalOddsBps, then the summed implied
// probabilities must reach the minimum overround. It is pure and safe to
// call concurrently.
func Validate(odds []uint64, houseEdgeBps uint32) (Result, error) {
	if len(odds) == 0 {
		return Result{}, ErrEmptyBook
	}
	minOverround, err := MinOverroundBps(houseEdgeBps)
	if err != nil {
		return Result{}, err
	}

	res := Result{MinOverroundBps: minOverround, HouseEdgeBps: houseEdgeBps}
	for i, o := range odds {
		if o < MinDecimalOddsBps {
			lane := i
			res.Reason = ReasonOddsBelowMinimum
			res.Lane = &lane
			return res, nil
		}
	}

	for _, o := range odds {
		res.InvSumBps += ImpliedProbabilityBps(o)
	}
	if res.InvSumBps < minOverround {
		res.Reason = ReasonOverroundBelowMinimum
		return res, nil
	}

	res.Accepted = true
	return res, nil
}
