package race

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/MJE43/race-pf-replay-go/internal/engine"
)

type RaceVector struct {
	Description string   `json:"description"`
	Strategy    string   `json:"strategy"`
	Seed        string   `json:"seed"`
	Scores      []int    `json:"scores"`
	MaxTicks    int      `json:"max_ticks"`
	SpeedRange  uint64   `json:"speed_range"`
	TrackLength uint64   `json:"track_length"`
	Ticks       int      `json:"ticks"`
	Final       []uint64 `json:"final"`
	Winners     []int    `json:"winners"`
	Frame10     []uint64 `json:"frame_10"`
	FinishOrder [][]int  `json:"finish_order,omitempty"`
}

func (v RaceVector) config() Config {
	return Config{Scores: v.Scores, MaxTicks: v.MaxTicks, SpeedRange: v.SpeedRange, TrackLength: v.TrackLength}
}

func TestRaceGoldenVectors(t *testing.T) {
	vectors, err := loadRaceVectors()
	if err != nil {
		t.Fatalf("Failed to load golden vectors: %v", err)
	}

	for _, v := range vectors {
		t.Run(v.Description, func(t *testing.T) {
			seed := engine.MustParseSeed(v.Seed)

			result, err := Run(v.Strategy, seed, v.config())
			if err != nil {
				t.Fatalf("Run: %v", err)
			}

			if result.Ticks != v.Ticks {
				t.Errorf("ticks = %d, want %d", result.Ticks, v.Ticks)
			}
			if !reflect.DeepEqual(result.Final, v.Final) {
				t.Errorf("final = %v, want %v", result.Final, v.Final)
			}
			if !reflect.DeepEqual(result.Winners, v.Winners) {
				t.Errorf("winners = %v, want %v", result.Winners, v.Winners)
			}
			if len(result.Frames) != v.Ticks+1 {
				t.Fatalf("frames = %d, want %d", len(result.Frames), v.Ticks+1)
			}
			if !reflect.DeepEqual(result.Frames[10], v.Frame10) {
				t.Errorf("frame 10 = %v, want %v", result.Frames[10], v.Frame10)
			}

			if v.FinishOrder == nil {
				if result.FinishOrder != nil {
					t.Errorf("%s should not produce a finish order", v.Strategy)
				}
				return
			}
			if result.FinishOrder == nil {
				t.Fatal("missing finish order")
			}
			for i, place := range result.FinishOrder.Places() {
				if !reflect.DeepEqual(place.Lanes, v.FinishOrder[i]) {
					t.Errorf("place %d = %v, want %v", i+1, place.Lanes, v.FinishOrder[i])
				}
			}
		})
	}
}

func loadRaceVectors() ([]RaceVector, error) {
	path := filepath.Join("..", "..", "testdata", "race_golden.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var vectors []RaceVector
	err = json.Unmarshal(data, &vectors)
	return vectors, err
}
