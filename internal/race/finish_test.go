package race

import (
	"reflect"
	"testing"

	"github.com/MJE43/race-pf-replay-go/internal/engine"
)

func TestCalculateFinishOrder(t *testing.T) {
	tests := []struct {
		name      string
		distances []uint64
		first     []int
		second    []int
		third     []int
	}{
		{"distinct", []uint64{5, 9, 7, 1}, []int{1}, []int{2}, []int{0}},
		{"two way tie for first leaves second vacant", []uint64{9, 9, 7, 5}, []int{0, 1}, []int{}, []int{2}},
		{"three way tie for first fills the podium", []uint64{9, 9, 9, 5}, []int{0, 1, 2}, []int{}, []int{}},
		{"tie for second leaves third vacant", []uint64{10, 8, 8, 3}, []int{0}, []int{1, 2}, []int{}},
		{"three way tie for third", []uint64{10, 8, 5, 5, 5}, []int{0}, []int{1}, []int{2, 3, 4}},
		{"all lanes tied", []uint64{4, 4, 4, 4, 4, 4}, []int{0, 1, 2, 3, 4, 5}, []int{}, []int{}},
		{"tied lanes listed in lane order", []uint64{7, 9, 9}, []int{1, 2}, []int{}, []int{0}},
		{"single lane", []uint64{4}, []int{0}, []int{}, []int{}},
		{"two lanes", []uint64{2, 4}, []int{1}, []int{0}, []int{}},
		{"no lanes", nil, []int{}, []int{}, []int{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateFinishOrder(tt.distances)

			if !reflect.DeepEqual(got.First.Lanes, tt.first) || got.First.Count != len(tt.first) {
				t.Errorf("first = %+v, want %v", got.First, tt.first)
			}
			if !reflect.DeepEqual(got.Second.Lanes, tt.second) || got.Second.Count != len(tt.second) {
				t.Errorf("second = %+v, want %v", got.Second, tt.second)
			}
			if !reflect.DeepEqual(got.Third.Lanes, tt.third) || got.Third.Count != len(tt.third) {
				t.Errorf("third = %+v, want %v", got.Third, tt.third)
			}
		})
	}
}

// TestFinishOrderInvariants checks the dead-heat rules over many random
// distance vectors with plenty of collisions.
func TestFinishOrderInvariants(t *testing.T) {
	d := engine.NewDice(engine.Keccak256([]byte("finish-order-invariants")))

	for iter := 0; iter < 2000; iter++ {
		lanes := int(d.MustRoll(8)) + 1
		distances := make([]uint64, lanes)
		for i := range distances {
			distances[i] = d.MustRoll(4)
		}

		order := CalculateFinishOrder(distances)
		places := order.Places()

		seen := make(map[int]int)
		for p, place := range places {
			if place.Count != len(place.Lanes) {
				t.Fatalf("%v: place %d count %d with %d lanes", distances, p+1, place.Count, len(place.Lanes))
			}
			for _, lane := range place.Lanes {
				if prev, dup := seen[lane]; dup {
					t.Fatalf("%v: lane %d in places %d and %d", distances, lane, prev, p+1)
				}
				seen[lane] = p + 1
				if distances[lane] != distances[place.Lanes[0]] {
					t.Fatalf("%v: place %d mixes distances", distances, p+1)
				}
			}
			if place.Count >= 2 {
				for skip := p + 1; skip < p+place.Count && skip < len(places); skip++ {
					if !places[skip].Vacant() {
						t.Fatalf("%v: dead heat at place %d should vacate place %d", distances, p+1, skip+1)
					}
				}
			}
		}

		// lanes tied on distance land in the same place or all off the podium
		for a := range distances {
			for b := range distances {
				if distances[a] == distances[b] && order.PlaceOf(a) != order.PlaceOf(b) {
					t.Fatalf("%v: tied lanes %d and %d in places %d and %d", distances, a, b, order.PlaceOf(a), order.PlaceOf(b))
				}
			}
		}

		if order.First.Count == 0 {
			t.Fatalf("%v: first place vacant", distances)
		}
		if !reflect.DeepEqual(order.First.Lanes, WinnerSet(distances)) {
			t.Fatalf("%v: first place %v differs from winner set %v", distances, order.First.Lanes, WinnerSet(distances))
		}
	}
}

func TestPlaceOf(t *testing.T) {
	order := CalculateFinishOrder([]uint64{9, 9, 7, 5, 1})

	want := map[int]int{0: 1, 1: 1, 2: 3, 3: 0, 4: 0}
	for lane, place := range want {
		if got := order.PlaceOf(lane); got != place {
			t.Errorf("PlaceOf(%d) = %d, want %d", lane, got, place)
		}
	}
	if order.Placed() != 3 {
		t.Errorf("Placed() = %d, want 3", order.Placed())
	}
}

func TestWinnerSet(t *testing.T) {
	tests := []struct {
		distances []uint64
		want      []int
	}{
		{[]uint64{3, 7, 5}, []int{1}},
		{[]uint64{7, 7, 5, 7}, []int{0, 1, 3}},
		{[]uint64{0}, []int{0}},
		{nil, []int{}},
	}

	for _, tt := range tests {
		if got := WinnerSet(tt.distances); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("WinnerSet(%v) = %v, want %v", tt.distances, got, tt.want)
		}
	}
}
