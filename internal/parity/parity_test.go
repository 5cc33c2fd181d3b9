package parity

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MJE43/race-pf-replay-go/internal/engine"
	"github.com/MJE43/race-pf-replay-go/internal/race"
)

type diceVector struct {
	Description string   `json:"description"`
	Seed        string   `json:"seed"`
	Bounds      []uint64 `json:"bounds"`
	Expected    []uint64 `json:"expected"`
}

type raceVector struct {
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
	FinishOrder [][]int  `json:"finish_order,omitempty"`
}

func loadVectors(t *testing.T, name string, out any) {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("..", "..", "testdata", name))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, out))
}

func newVM(t *testing.T) *VM {
	t.Helper()
	vm, err := NewVM()
	require.NoError(t, err)
	return vm
}

var derbySeed = engine.Keccak256([]byte("derby"))

func TestReferenceKeccak(t *testing.T) {
	vm := newVM(t)
	v, err := vm.runtime.RunString(`keccak256("")`)
	require.NoError(t, err)
	assert.Equal(t, "c5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470", v.String())
}

func TestReferenceDiceGolden(t *testing.T) {
	var vectors []diceVector
	loadVectors(t, "dice_golden.json", &vectors)

	vm := newVM(t)
	for _, v := range vectors {
		t.Run(v.Description, func(t *testing.T) {
			seed := engine.MustParseSeed(v.Seed)
			got, err := vm.Rolls(seed, v.Bounds)
			for _, b := range v.Bounds {
				if b > MaxBound {
					require.ErrorIs(t, err, ErrBoundUnsupported)
					return
				}
			}
			require.NoError(t, err)
			assert.Equal(t, v.Expected, got)
		})
	}
}

func TestReferenceRaceGolden(t *testing.T) {
	var vectors []raceVector
	loadVectors(t, "race_golden.json", &vectors)

	vm := newVM(t)
	for _, v := range vectors {
		t.Run(v.Description, func(t *testing.T) {
			cfg := race.Config{Scores: v.Scores, MaxTicks: v.MaxTicks, SpeedRange: v.SpeedRange, TrackLength: v.TrackLength}
			trace, err := vm.Run(v.Strategy, engine.MustParseSeed(v.Seed), cfg)
			require.NoError(t, err)
			assert.Equal(t, v.Ticks, trace.Ticks)
			assert.Equal(t, v.Final, trace.Final)
			assert.Equal(t, v.Winners, trace.Winners)
			assert.Len(t, trace.Frames, v.Ticks+1)
			if v.FinishOrder != nil {
				assert.Equal(t, v.FinishOrder, trace.FinishOrder)
			}
		})
	}
}

func TestCheckMatches(t *testing.T) {
	cfg := race.Config{Scores: []int{10, 9, 7, 5, 3, 1}, MaxTicks: 500, TrackLength: 300}
	for _, strategy := range race.IDs() {
		t.Run(strategy, func(t *testing.T) {
			report, err := Check(derbySeed, strategy, cfg)
			require.NoError(t, err)
			assert.True(t, report.Match, "detail: %s", report.Detail)
			assert.Nil(t, report.Divergence)
			assert.Equal(t, report.EngineTicks, report.ReferenceTicks)
			assert.Positive(t, report.EngineTicks)
		})
	}
}

func TestCheckBothExhausted(t *testing.T) {
	cfg := race.Config{Scores: []int{5, 5}, MaxTicks: 3, TrackLength: 1000}
	report, err := Check(derbySeed, "batched", cfg)
	require.NoError(t, err)
	assert.True(t, report.Match)
	assert.Equal(t, "both exhausted max ticks", report.Detail)
}

func TestCheckRejectsBadInput(t *testing.T) {
	vm := newVM(t)
	_, err := vm.Check(derbySeed, "nope", race.Config{Scores: []int{5}, MaxTicks: 10, TrackLength: 10})
	require.ErrorIs(t, err, race.ErrStrategyNotFound)

	_, err = vm.Check(derbySeed, "batched", race.Config{MaxTicks: 10, TrackLength: 10})
	require.ErrorIs(t, err, race.ErrInvalidConfig)
}

func TestCompareFindsFirstDivergence(t *testing.T) {
	res, err := race.Run("batched", derbySeed, race.Config{Scores: []int{10, 10, 10}, MaxTicks: 500, TrackLength: 100})
	require.NoError(t, err)

	trace := &Trace{Ticks: res.Ticks, Final: res.Final, Winners: res.Winners}
	for _, f := range res.Frames {
		trace.Frames = append(trace.Frames, append([]uint64(nil), f...))
	}
	for _, p := range res.FinishOrder.Places() {
		trace.FinishOrder = append(trace.FinishOrder, p.Lanes)
	}

	report := &Report{}
	compare(report, res, trace)
	require.True(t, report.Match, report.Detail)

	trace.Frames[4][2]++
	trace.Frames[7][0]++
	report = &Report{}
	compare(report, res, trace)
	assert.False(t, report.Match)
	require.NotNil(t, report.Divergence)
	assert.Equal(t, 4, report.Divergence.Tick)
	assert.Equal(t, 2, report.Divergence.Lane)
	assert.Equal(t, res.Frames[4][2]+1, report.Divergence.Reference)

	trace.Frames[4][2]--
	trace.Frames[7][0]--
	trace.Frames = trace.Frames[:len(trace.Frames)-1]
	trace.Ticks--
	report = &Report{}
	compare(report, res, trace)
	assert.False(t, report.Match)
	require.NotNil(t, report.Divergence)
	assert.Equal(t, -1, report.Divergence.Lane)
	assert.Equal(t, "tick count mismatch", report.Detail)
}

func TestCheckRolls(t *testing.T) {
	vm := newVM(t)
	report, err := vm.CheckRolls(derbySeed, []uint64{10, 10000, 7, 1 << 40, 3, MaxBound})
	require.NoError(t, err)
	assert.True(t, report.Match)
	assert.Equal(t, -1, report.FirstMismatch)
	assert.Equal(t, report.Engine, report.Reference)

	_, err = vm.CheckRolls(derbySeed, []uint64{10, 0})
	require.ErrorIs(t, err, engine.ErrInvalidBound)

	_, err = vm.CheckRolls(derbySeed, []uint64{MaxBound + 1})
	require.ErrorIs(t, err, ErrBoundUnsupported)
}

func TestCheckRange(t *testing.T) {
	cfg := race.Config{Scores: []int{8, 8, 6, 6}, MaxTicks: 400, TrackLength: 150}
	report, err := CheckRange(context.Background(), derbySeed, 100, 115, "batched", cfg, 4)
	require.NoError(t, err)
	assert.Equal(t, uint64(16), report.Checked)
	assert.Empty(t, report.Mismatches)

	report, err = CheckRange(context.Background(), derbySeed, 0, 2, "sequential", cfg, 8)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), report.Checked)

	_, err = CheckRange(context.Background(), derbySeed, 5, 4, "batched", cfg, 1)
	require.ErrorIs(t, err, ErrInvalidRange)
	_, err = CheckRange(context.Background(), derbySeed, 0, MaxCheckRange, "batched", cfg, 1)
	require.ErrorIs(t, err, ErrInvalidRange)
}

func TestCheckRangeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := race.Config{Scores: []int{5, 5}, MaxTicks: 400, TrackLength: 150}
	_, err := CheckRange(ctx, derbySeed, 0, 50, "batched", cfg, 2)
	require.ErrorIs(t, err, context.Canceled)
}
