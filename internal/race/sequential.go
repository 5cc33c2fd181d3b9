package race

import (
	"fmt"

	"github.com/MJE43/race-pf-replay-go/internal/engine"
)

// SequentialMinSpeedBps is the handicap floor of the sequential generation.
const SequentialMinSpeedBps = 9585

// SequentialStrategy is the legacy generation. Every speed and rounding draw
// comes from one Dice stream, lane by lane and tick by tick, and the race
// stops as soon as any lane reaches the track length. It reports a flat
// winner set only.
type SequentialStrategy struct{}

func (s *SequentialStrategy) Spec() StrategySpec {
	return StrategySpec{
		ID:          "sequential",
		Name:        "Sequential stream",
		MinSpeedBps: SequentialMinSpeedBps,
		Termination: StopFirstToFinish,
		FinishOrder: false,
		MaxLanes:    64,
		// base*speedBps must stay far from uint64 overflow
		MaxSpeedRange: 1 << 32,
	}
}

func (s *SequentialStrategy) Run(seed engine.Seed, cfg Config, withFrames bool) (*Result, error) {
	r, err := NewSequentialRace(seed, cfg)
	if err != nil {
		return nil, err
	}

	var frames [][]uint64
	if withFrames {
		frames = append(frames, make([]uint64, cfg.Lanes()))
	}
	for {
		frame, done, err := r.Step()
		if err != nil {
			return nil, err
		}
		if withFrames {
			frames = append(frames, frame)
		}
		if done {
			break
		}
	}

	final := r.Distances()
	return &Result{
		Strategy: s.Spec().ID,
		Seed:     seed,
		Config:   r.cfg,
		Ticks:    r.Tick(),
		Frames:   frames,
		Final:    final,
		Winners:  WinnerSet(final),
	}, nil
}

// SequentialRace advances a sequential race one tick at a time, for callers
// that render or stream a race while it is being generated.
type SequentialRace struct {
	cfg      Config
	speeds   []uint64
	dice     *engine.Dice
	distance []uint64
	tick     int
	done     bool
}

// NewSequentialRace validates cfg and positions every lane at zero.
func NewSequentialRace(seed engine.Seed, cfg Config) (*SequentialRace, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate((&SequentialStrategy{}).Spec()); err != nil {
		return nil, err
	}
	return &SequentialRace{
		cfg:      cfg,
		speeds:   laneSpeeds(cfg.Scores, SequentialMinSpeedBps),
		dice:     engine.NewDice(seed),
		distance: make([]uint64, cfg.Lanes()),
	}, nil
}

// Step runs one tick and returns a copy of the distances after it. done is
// true once a lane has reached the track length.
func (r *SequentialRace) Step() ([]uint64, bool, error) {
	if r.done {
		return nil, true, ErrRaceFinished
	}
	if r.tick >= r.cfg.MaxTicks {
		return nil, false, fmt.Errorf("%w: sequential race at tick %d, track %d", ErrMaxTicksExceeded, r.tick, r.cfg.TrackLength)
	}

	for lane, speed := range r.speeds {
		base := r.dice.MustRoll(r.cfg.SpeedRange) + 1
		q, rem := scaledSpeed(base, speed)
		if rem > 0 && r.dice.MustRoll(BpsScale) < rem {
			q++
		}
		r.distance[lane] += stepLength(q)
	}
	r.tick++

	for _, d := range r.distance {
		if d >= r.cfg.TrackLength {
			r.done = true
			break
		}
	}
	return r.Distances(), r.done, nil
}

// Distances returns a copy of the current lane distances.
func (r *SequentialRace) Distances() []uint64 {
	return append([]uint64(nil), r.distance...)
}

// Tick returns how many ticks have run.
func (r *SequentialRace) Tick() int {
	return r.tick
}

// Done reports whether the stop condition has been met.
func (r *SequentialRace) Done() bool {
	return r.done
}
