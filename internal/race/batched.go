package race

import (
	"fmt"

	"github.com/MJE43/race-pf-replay-go/internal/engine"
)

const (
	// BatchedMinSpeedBps is the handicap floor of the batched generation.
	BatchedMinSpeedBps = 9525

	// Digest layout of a batched tick: lane i reads its speed byte at
	// offset i and its rounding byte at offset roundingOffset+i.
	roundingOffset = 16
	batchedLanes   = 16
)

// BatchedStrategy computes one keccak256(seed || uint256(tick)) digest per
// tick and reads lane bytes at fixed offsets instead of drawing from a Dice.
// The race runs until every lane is Overshoot units past the track.
type BatchedStrategy struct{}

func (s *BatchedStrategy) Spec() StrategySpec {
	return StrategySpec{
		ID:            "batched",
		Name:          "Batched tick hash",
		MinSpeedBps:   BatchedMinSpeedBps,
		Termination:   StopAllPastOvershoot,
		FinishOrder:   true,
		MaxLanes:      batchedLanes,
		MaxSpeedRange: 256,
	}
}

func (s *BatchedStrategy) Run(seed engine.Seed, cfg Config, withFrames bool) (*Result, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(s.Spec()); err != nil {
		return nil, err
	}

	speeds := laneSpeeds(cfg.Scores, BatchedMinSpeedBps)
	distance := make([]uint64, cfg.Lanes())
	finishLine := cfg.TrackLength + Overshoot

	var frames [][]uint64
	if withFrames {
		frames = append(frames, make([]uint64, cfg.Lanes()))
	}

	for tick := 0; tick < cfg.MaxTicks; tick++ {
		BatchedTick(seed, uint64(tick), speeds, cfg.SpeedRange, distance)
		if withFrames {
			frames = append(frames, append([]uint64(nil), distance...))
		}

		if allReached(distance, finishLine) {
			final := append([]uint64(nil), distance...)
			order := CalculateFinishOrder(final)
			return &Result{
				Strategy:    s.Spec().ID,
				Seed:        seed,
				Config:      cfg,
				Ticks:       tick + 1,
				Frames:      frames,
				Final:       final,
				Winners:     WinnerSet(final),
				FinishOrder: &order,
			}, nil
		}
	}

	return nil, fmt.Errorf("%w: batched race after %d ticks, track %d + overshoot %d", ErrMaxTicksExceeded, cfg.MaxTicks, cfg.TrackLength, Overshoot)
}

// BatchedTick advances every lane in distance by one batched tick. speeds
// holds each lane's speed in basis points; at most 16 lanes fit the digest.
func BatchedTick(seed engine.Seed, tick uint64, speeds []uint64, speedRange uint64, distance []uint64) {
	digest := engine.IndexedHash(seed, tick)
	for lane, speed := range speeds {
		base := uint64(digest[lane])%speedRange + 1
		q, rem := scaledSpeed(base, speed)
		// round up with probability rem/10000, resolved at 1/256 granularity
		if rem > 0 && uint64(digest[roundingOffset+lane])*BpsScale < rem*256 {
			q++
		}
		distance[lane] += stepLength(q)
	}
}

func allReached(distance []uint64, line uint64) bool {
	for _, d := range distance {
		if d < line {
			return false
		}
	}
	return true
}
