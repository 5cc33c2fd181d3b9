package odds

import "fmt"

// MaxQuotedOddsBps caps derived odds at 100x; lanes that never won in a
// sample are quoted here.
const MaxQuotedOddsBps = 1_000_000

// FairOdds derives a per-lane odds table from simulated win counts out of
// total races, shortened by the house edge and rounded down. Dead-heat
// winners each count as a win, so the counts sum to at least total and the
// table clears the minimum overround for the same house edge unless a heavy
// favourite had to be lifted to MinDecimalOddsBps.
func FairOdds(wins []uint64, total uint64, houseEdgeBps uint32) ([]uint64, error) {
	if len(wins) == 0 {
		return nil, ErrEmptyBook
	}
	if total == 0 {
		return nil, fmt.Errorf("fair odds need at least one race")
	}
	if houseEdgeBps > MaxHouseEdgeBps {
		return nil, fmt.Errorf("%w: %d bps (max %d)", ErrHouseEdgeOutOfRange, houseEdgeBps, MaxHouseEdgeBps)
	}

	out := make([]uint64, len(wins))
	for i, w := range wins {
		if w == 0 {
			out[i] = MaxQuotedOddsBps
			continue
		}
		o := total * (OddsScale - uint64(houseEdgeBps)) / w
		if o < MinDecimalOddsBps {
			o = MinDecimalOddsBps
		}
		if o > MaxQuotedOddsBps {
			o = MaxQuotedOddsBps
		}
		out[i] = o
	}
	return out, nil
}
