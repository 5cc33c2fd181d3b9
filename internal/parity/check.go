package parity

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/MJE43/race-pf-replay-go/internal/engine"
	"github.com/MJE43/race-pf-replay-go/internal/race"
)

// MaxCheckRange caps how many derived races one CheckRange call replays.
const MaxCheckRange = 10_000

var ErrInvalidRange = errors.New("invalid check range")

// Divergence locates the first frame where the engine and the reference
// disagree. Lane is -1 when the races ended on different ticks.
type Divergence struct {
	Tick      int    `json:"tick"`
	Lane      int    `json:"lane"`
	Engine    uint64 `json:"engine"`
	Reference uint64 `json:"reference"`
}

// Report is the outcome of replaying one race in both implementations.
type Report struct {
	Strategy       string      `json:"strategy"`
	Seed           engine.Seed `json:"seed"`
	Index          *uint64     `json:"index,omitempty"`
	Match          bool        `json:"match"`
	EngineTicks    int         `json:"engine_ticks"`
	ReferenceTicks int         `json:"reference_ticks"`
	Divergence     *Divergence `json:"divergence,omitempty"`
	Detail         string      `json:"detail,omitempty"`
}

// RollReport compares a dice sequence drawn by both implementations.
type RollReport struct {
	Seed          engine.Seed `json:"seed"`
	Bounds        []uint64    `json:"bounds"`
	Engine        []uint64    `json:"engine"`
	Reference     []uint64    `json:"reference"`
	Match         bool        `json:"match"`
	FirstMismatch int         `json:"first_mismatch"`
}

// RangeReport summarizes CheckRange. Mismatches are ordered by index.
type RangeReport struct {
	Strategy   string      `json:"strategy"`
	BaseSeed   engine.Seed `json:"base_seed"`
	Start      uint64      `json:"start"`
	End        uint64      `json:"end"`
	Checked    uint64      `json:"checked"`
	Mismatches []Report    `json:"mismatches"`
}

// Check replays one race in a fresh VM.
func Check(seed engine.Seed, strategy string, cfg race.Config) (*Report, error) {
	vm, err := NewVM()
	if err != nil {
		return nil, err
	}
	return vm.Check(seed, strategy, cfg)
}

// Check runs the race in the engine and in the reference and compares
// every frame, the winner set and the finish order.
func (vm *VM) Check(seed engine.Seed, strategy string, cfg race.Config) (*Report, error) {
	s, ok := race.Get(strategy)
	if !ok {
		return nil, fmt.Errorf("%w: %q", race.ErrStrategyNotFound, strategy)
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(s.Spec()); err != nil {
		return nil, err
	}

	report := &Report{Strategy: strategy, Seed: seed}
	res, engineErr := s.Run(seed, cfg, true)
	trace, refErr := vm.Run(strategy, seed, cfg)

	switch {
	case engineErr != nil && !errors.Is(engineErr, race.ErrMaxTicksExceeded):
		return nil, engineErr
	case refErr != nil && !isMaxTicks(refErr):
		return nil, refErr
	case engineErr != nil && refErr != nil:
		report.Match = true
		report.Detail = "both exhausted max ticks"
		return report, nil
	case engineErr != nil:
		report.ReferenceTicks = trace.Ticks
		report.Detail = "engine exhausted max ticks, reference finished"
		return report, nil
	case refErr != nil:
		report.EngineTicks = res.Ticks
		report.Detail = "reference exhausted max ticks, engine finished"
		return report, nil
	}

	compare(report, res, trace)
	return report, nil
}

// compare fills in the match fields of report.
func compare(report *Report, res *race.Result, trace *Trace) {
	report.EngineTicks = res.Ticks
	report.ReferenceTicks = trace.Ticks

	frames := min(len(res.Frames), len(trace.Frames))
	for t := 0; t < frames; t++ {
		for lane := range res.Frames[t] {
			var ref uint64
			if lane < len(trace.Frames[t]) {
				ref = trace.Frames[t][lane]
			}
			if res.Frames[t][lane] != ref {
				report.Divergence = &Divergence{Tick: t, Lane: lane, Engine: res.Frames[t][lane], Reference: ref}
				report.Detail = "distance mismatch"
				return
			}
		}
	}
	if res.Ticks != trace.Ticks || len(res.Frames) != len(trace.Frames) {
		report.Divergence = &Divergence{Tick: frames, Lane: -1}
		report.Detail = "tick count mismatch"
		return
	}
	if !slices.Equal(res.Winners, trace.Winners) {
		report.Detail = "winner set mismatch"
		return
	}
	if res.FinishOrder != nil {
		places := res.FinishOrder.Places()
		if len(trace.FinishOrder) != len(places) {
			report.Detail = "finish order missing from reference"
			return
		}
		for i, p := range places {
			if !slices.Equal(p.Lanes, trace.FinishOrder[i]) {
				report.Detail = fmt.Sprintf("finish order mismatch at place %d", i+1)
				return
			}
		}
	}
	report.Match = true
}

// CheckRolls draws the same bounds from both dice implementations.
func (vm *VM) CheckRolls(seed engine.Seed, bounds []uint64) (*RollReport, error) {
	ref, err := vm.Rolls(seed, bounds)
	if err != nil {
		return nil, err
	}
	got, err := engine.Rolls(seed, bounds)
	if err != nil {
		return nil, err
	}

	report := &RollReport{Seed: seed, Bounds: bounds, Engine: got, Reference: ref, Match: true, FirstMismatch: -1}
	for i := range got {
		if i >= len(ref) || got[i] != ref[i] {
			report.Match = false
			report.FirstMismatch = i
			break
		}
	}
	return report, nil
}

// CheckRange replays the races derived from base for every index in
// [start, end], spread over concurrency workers that each own a VM.
func CheckRange(ctx context.Context, base engine.Seed, start, end uint64, strategy string, cfg race.Config, concurrency int) (*RangeReport, error) {
	if end < start || end-start >= MaxCheckRange {
		return nil, fmt.Errorf("%w: [%d, %d] (max %d indices)", ErrInvalidRange, start, end, MaxCheckRange)
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	if n := int(end-start) + 1; concurrency > n {
		concurrency = n
	}

	var (
		mu         sync.Mutex
		mismatches []Report
		checked    uint64
	)

	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < concurrency; w++ {
		first := start + uint64(w)
		g.Go(func() error {
			vm, err := NewVM()
			if err != nil {
				return err
			}
			for i := first; ; i += uint64(concurrency) {
				if err := ctx.Err(); err != nil {
					return err
				}
				report, err := vm.Check(engine.DeriveSeed(base, i), strategy, cfg)
				if err != nil {
					return fmt.Errorf("index %d: %w", i, err)
				}
				atomic.AddUint64(&checked, 1)
				if !report.Match {
					idx := i
					report.Index = &idx
					mu.Lock()
					mismatches = append(mismatches, *report)
					mu.Unlock()
				}
				if end-i < uint64(concurrency) {
					return nil
				}
			}
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(mismatches, func(i, j int) bool { return *mismatches[i].Index < *mismatches[j].Index })
	if mismatches == nil {
		mismatches = []Report{}
	}
	return &RangeReport{
		Strategy:   strategy,
		BaseSeed:   base,
		Start:      start,
		End:        end,
		Checked:    checked,
		Mismatches: mismatches,
	}, nil
}
