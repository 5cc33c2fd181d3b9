package race

import "sort"

// Place is one podium position. More than one lane means a dead heat; no
// lanes means the place was consumed by a dead heat above it.
type Place struct {
	Lanes []int `json:"lanes"`
	Count int   `json:"count"`
}

// Vacant reports whether no lane holds the place.
func (p Place) Vacant() bool {
	return p.Count == 0
}

// FinishOrder is the win/place/show result of a race.
type FinishOrder struct {
	First  Place `json:"first"`
	Second Place `json:"second"`
	Third  Place `json:"third"`
}

// Places returns the three places in rank order.
func (f FinishOrder) Places() [3]Place {
	return [3]Place{f.First, f.Second, f.Third}
}

// PlaceOf returns the 1-based place a lane finished in, or 0 when it is
// off the podium.
func (f FinishOrder) PlaceOf(lane int) int {
	for i, p := range f.Places() {
		for _, l := range p.Lanes {
			if l == lane {
				return i + 1
			}
		}
	}
	return 0
}

// Placed returns how many lanes hold a place.
func (f FinishOrder) Placed() int {
	return f.First.Count + f.Second.Count + f.Third.Count
}

// CalculateFinishOrder ranks lanes by distance, highest first. Lanes with
// equal distance share a place, and a dead heat of k lanes uses up k places:
// a two-way tie for first leaves second vacant and the next group takes third.
func CalculateFinishOrder(distances []uint64) FinishOrder {
	order := make([]int, len(distances))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return distances[order[a]] > distances[order[b]]
	})

	var places [3]Place
	rank := 0
	for start := 0; start < len(order) && rank < len(places); {
		end := start + 1
		for end < len(order) && distances[order[end]] == distances[order[start]] {
			end++
		}

		group := append([]int(nil), order[start:end]...)
		places[rank] = Place{Lanes: group, Count: len(group)}
		rank += len(group)
		start = end
	}

	for i := range places {
		if places[i].Lanes == nil {
			places[i].Lanes = []int{}
		}
	}
	return FinishOrder{First: places[0], Second: places[1], Third: places[2]}
}

// WinnerSet returns every lane whose distance equals the maximum, in lane order.
func WinnerSet(distances []uint64) []int {
	if len(distances) == 0 {
		return []int{}
	}
	best := distances[0]
	for _, d := range distances[1:] {
		if d > best {
			best = d
		}
	}
	winners := make([]int, 0, 1)
	for i, d := range distances {
		if d == best {
			winners = append(winners, i)
		}
	}
	return winners
}
