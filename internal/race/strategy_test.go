package race

import (
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/MJE43/race-pf-replay-go/internal/engine"
)

var derbySeed = engine.MustParseSeed("eef6e07b5267d670f6afe02483bc7a88f3349c220320e763e18da36b2e3fcc99")

func topScores(lanes int) []int {
	scores := make([]int, lanes)
	for i := range scores {
		scores[i] = 10
	}
	return scores
}

func TestSpeedBps(t *testing.T) {
	tests := []struct {
		score  int
		minBps uint64
		want   uint64
	}{
		{1, BatchedMinSpeedBps, 9525},
		{5, BatchedMinSpeedBps, 9736},
		{10, BatchedMinSpeedBps, 10000},
		{0, BatchedMinSpeedBps, 9525},
		{-3, BatchedMinSpeedBps, 9525},
		{11, BatchedMinSpeedBps, 10000},
		{1, SequentialMinSpeedBps, 9585},
		{5, SequentialMinSpeedBps, 9769},
		{10, SequentialMinSpeedBps, 10000},
	}

	for _, tt := range tests {
		if got := SpeedBps(tt.score, tt.minBps); got != tt.want {
			t.Errorf("SpeedBps(%d, %d) = %d, want %d", tt.score, tt.minBps, got, tt.want)
		}
	}
}

func TestScaledSpeedAndStep(t *testing.T) {
	q, rem := scaledSpeed(7, 9736)
	if q != 6 || rem != 8152 {
		t.Errorf("scaledSpeed(7, 9736) = %d, %d, want 6, 8152", q, rem)
	}
	q, rem = scaledSpeed(10, 10000)
	if q != 10 || rem != 0 {
		t.Errorf("scaledSpeed(10, 10000) = %d, %d, want 10, 0", q, rem)
	}
	if stepLength(0) != 1 || stepLength(5) != 5 {
		t.Error("stepLength must be max(1, q)")
	}
}

func TestRegistry(t *testing.T) {
	ids := IDs()
	if !reflect.DeepEqual(ids, []string{"batched", "sequential"}) {
		t.Fatalf("IDs() = %v", ids)
	}

	for _, spec := range List() {
		s, ok := Get(spec.ID)
		if !ok {
			t.Fatalf("Get(%q) failed", spec.ID)
		}
		if s.Spec() != spec {
			t.Errorf("spec mismatch for %s", spec.ID)
		}
	}

	batched, _ := Get("batched")
	if spec := batched.Spec(); spec.MinSpeedBps != 9525 || !spec.FinishOrder || spec.Termination != StopAllPastOvershoot {
		t.Errorf("batched spec = %+v", spec)
	}
	sequential, _ := Get("sequential")
	if spec := sequential.Spec(); spec.MinSpeedBps != 9585 || spec.FinishOrder || spec.Termination != StopFirstToFinish {
		t.Errorf("sequential spec = %+v", spec)
	}

	if _, err := Run("photo-finish", derbySeed, Config{Scores: []int{1}, MaxTicks: 1, TrackLength: 1}); !errors.Is(err, ErrStrategyNotFound) {
		t.Errorf("unknown strategy error = %v", err)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name     string
		strategy string
		cfg      Config
	}{
		{"no lanes", "batched", Config{MaxTicks: 10, TrackLength: 10}},
		{"zero max ticks", "batched", Config{Scores: []int{5}, TrackLength: 10}},
		{"negative max ticks", "sequential", Config{Scores: []int{5}, MaxTicks: -1, TrackLength: 10}},
		{"max ticks too large", "sequential", Config{Scores: []int{5}, MaxTicks: MaxTicksLimit + 1, TrackLength: 10}},
		{"zero track", "sequential", Config{Scores: []int{5}, MaxTicks: 10}},
		{"track past the limit", "sequential", Config{Scores: []int{5}, MaxTicks: 10, TrackLength: MaxTrackLength + 1}},
		{"batched finish line would wrap", "batched", Config{Scores: []int{5, 5}, MaxTicks: 10, TrackLength: math.MaxUint64 - 5}},
		{"too many batched lanes", "batched", Config{Scores: topScores(17), MaxTicks: 10, TrackLength: 10}},
		{"batched speed range past a byte", "batched", Config{Scores: []int{5}, MaxTicks: 10, TrackLength: 10, SpeedRange: 257}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Run(tt.strategy, derbySeed, tt.cfg)
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("error = %v, want ErrInvalidConfig", err)
			}
			if errors.Is(err, ErrMaxTicksExceeded) {
				t.Error("config error must not read as max ticks exhaustion")
			}
		})
	}
}

func TestMaxTicksExceeded(t *testing.T) {
	cfg := Config{Scores: topScores(6), MaxTicks: 20, TrackLength: 1000}

	for _, id := range IDs() {
		t.Run(id, func(t *testing.T) {
			result, err := Run(id, derbySeed, cfg)
			if !errors.Is(err, ErrMaxTicksExceeded) {
				t.Fatalf("error = %v, want ErrMaxTicksExceeded", err)
			}
			if errors.Is(err, ErrInvalidConfig) {
				t.Error("exhaustion must not read as a config error")
			}
			if result != nil {
				t.Error("no result expected on exhaustion")
			}
		})
	}
}

// TestSixLaneScenario is the reference end-to-end race.
func TestSixLaneScenario(t *testing.T) {
	cfg := Config{Scores: topScores(6), MaxTicks: 500, TrackLength: 1000}

	result, err := Run("batched", derbySeed, cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Ticks >= cfg.MaxTicks {
		t.Errorf("race used %d ticks, expected fewer than %d", result.Ticks, cfg.MaxTicks)
	}
	for lane, d := range result.Final {
		if d < cfg.TrackLength+Overshoot {
			t.Errorf("lane %d finished at %d, want >= %d", lane, d, cfg.TrackLength+Overshoot)
		}
	}

	order := result.FinishOrder
	if order == nil {
		t.Fatal("batched race must produce a finish order")
	}
	if placed := order.Placed(); placed < 3 || placed > 6 {
		t.Errorf("placed lanes = %d, want 3..6", placed)
	}
	seen := make(map[int]bool)
	for _, place := range order.Places() {
		for _, lane := range place.Lanes {
			if seen[lane] {
				t.Errorf("lane %d appears in more than one place", lane)
			}
			seen[lane] = true
		}
	}
}

func TestFramesAndIdempotence(t *testing.T) {
	cfg := Config{Scores: []int{3, 10, 6, 1, 8, 5}, MaxTicks: 600, TrackLength: 500}

	for _, id := range IDs() {
		t.Run(id, func(t *testing.T) {
			first, err := Run(id, derbySeed, cfg)
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			second, err := Run(id, derbySeed, cfg)
			if err != nil {
				t.Fatalf("second Run: %v", err)
			}
			if !reflect.DeepEqual(first, second) {
				t.Fatal("same seed and config produced different results")
			}

			if len(first.Frames) != first.Ticks+1 {
				t.Fatalf("frames = %d, ticks = %d", len(first.Frames), first.Ticks)
			}
			for lane, d := range first.Frames[0] {
				if d != 0 {
					t.Errorf("frame 0 lane %d = %d, want 0", lane, d)
				}
			}
			for i := 1; i < len(first.Frames); i++ {
				for lane := range first.Frames[i] {
					if first.Frames[i][lane] <= first.Frames[i-1][lane] {
						t.Fatalf("lane %d did not advance at tick %d", lane, i)
					}
				}
			}
			if !reflect.DeepEqual(first.Frames[len(first.Frames)-1], first.Final) {
				t.Error("last frame differs from final distances")
			}

			s, _ := Get(id)
			bare, err := s.Run(derbySeed, cfg, false)
			if err != nil {
				t.Fatalf("Run without frames: %v", err)
			}
			if bare.Frames != nil {
				t.Error("frames recorded when not requested")
			}
			if !reflect.DeepEqual(bare.Final, first.Final) || bare.Ticks != first.Ticks {
				t.Error("frame recording changed the outcome")
			}
		})
	}
}

func TestSequentialStopsAtFirstFinisher(t *testing.T) {
	cfg := Config{Scores: topScores(4), MaxTicks: 500, TrackLength: 300}

	result, err := Run("sequential", derbySeed, cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	reached := 0
	for _, d := range result.Final {
		if d >= cfg.TrackLength {
			reached++
		}
	}
	if reached == 0 {
		t.Fatal("no lane reached the track length")
	}
	for lane, d := range result.Frames[len(result.Frames)-2] {
		if d >= cfg.TrackLength {
			t.Errorf("lane %d had finished a tick early", lane)
		}
	}
	if !reflect.DeepEqual(result.Winners, WinnerSet(result.Final)) {
		t.Errorf("winners = %v", result.Winners)
	}
}

func TestSequentialRaceStepper(t *testing.T) {
	cfg := Config{Scores: []int{2, 9, 5}, MaxTicks: 400, TrackLength: 250}

	full, err := Run("sequential", derbySeed, cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	r, err := NewSequentialRace(derbySeed, cfg)
	if err != nil {
		t.Fatalf("NewSequentialRace: %v", err)
	}
	for tick := 1; ; tick++ {
		frame, done, err := r.Step()
		if err != nil {
			t.Fatalf("Step: %v", err)
		}
		if !reflect.DeepEqual(frame, full.Frames[tick]) {
			t.Fatalf("tick %d frame = %v, want %v", tick, frame, full.Frames[tick])
		}
		if done {
			break
		}
	}

	if !r.Done() || r.Tick() != full.Ticks {
		t.Errorf("stepper finished at tick %d, want %d", r.Tick(), full.Ticks)
	}
	if _, _, err := r.Step(); !errors.Is(err, ErrRaceFinished) {
		t.Errorf("Step after finish error = %v", err)
	}
}

func TestBatchedTickUsesFixedOffsets(t *testing.T) {
	speeds := []uint64{10000, 10000}
	distance := make([]uint64, 2)
	BatchedTick(derbySeed, 0, speeds, 10, distance)

	digest := engine.IndexedHash(derbySeed, 0)
	for lane := range speeds {
		// full-speed lanes never round, so the step is the raw base speed
		want := uint64(digest[lane])%10 + 1
		if distance[lane] != want {
			t.Errorf("lane %d moved %d, want %d", lane, distance[lane], want)
		}
	}
}

func BenchmarkBatchedRace(b *testing.B) {
	s, _ := Get("batched")
	cfg := Config{Scores: topScores(6), MaxTicks: 500, TrackLength: 1000}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.Run(derbySeed, cfg, false); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkSequentialRace(b *testing.B) {
	s, _ := Get("sequential")
	cfg := Config{Scores: topScores(6), MaxTicks: 500, TrackLength: 1000}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.Run(derbySeed, cfg, false); err != nil {
			b.Fatal(err)
		}
	}
}
