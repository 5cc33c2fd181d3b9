package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/MJE43/race-pf-replay-go/internal/engine"
	"github.com/MJE43/race-pf-replay-go/internal/race"
)

func main() {
	seedHex := flag.String("seed", "", "32-byte race seed as hex (default: keccak256(\"debug\"))")
	strategy := flag.String("strategy", "batched", "simulator strategy")
	scores := flag.String("scores", "5,5,5,5", "comma separated lane scores")
	track := flag.Uint64("track", 1000, "track length")
	ticks := flag.Int("ticks", 2000, "maximum ticks")
	frames := flag.Bool("frames", false, "print every frame")
	rolls := flag.String("rolls", "", "comma separated dice bounds; prints raw rolls instead of racing")
	flag.Parse()

	seed := engine.Keccak256([]byte("debug"))
	if *seedHex != "" {
		s, err := engine.ParseSeed(*seedHex)
		if err != nil {
			fail(err)
		}
		seed = s
	}

	fmt.Printf("Seed:       %s\n", seed.Hex())
	fmt.Printf("Commitment: %s\n", engine.Commitment(seed).Hex())

	if *rolls != "" {
		bounds, err := parseUints(*rolls)
		if err != nil {
			fail(err)
		}
		out, err := engine.Rolls(seed, bounds)
		if err != nil {
			fail(err)
		}
		fmt.Println("\n=== Dice ===")
		for i, v := range out {
			fmt.Printf("roll %3d  bound=%-16d value=%d\n", i, bounds[i], v)
		}
		return
	}

	laneScores, err := parseInts(*scores)
	if err != nil {
		fail(err)
	}
	cfg := race.Config{Scores: laneScores, MaxTicks: *ticks, TrackLength: *track}.WithDefaults()

	res, err := race.Run(*strategy, seed, cfg)
	if err != nil {
		fail(err)
	}

	fmt.Printf("\n=== Race (%s) ===\n", res.Strategy)
	if *frames {
		for i, f := range res.Frames {
			fmt.Printf("tick %4d  %v\n", i+1, f)
		}
	}
	fmt.Printf("Ticks:   %d\n", res.Ticks)
	fmt.Printf("Final:   %v\n", res.Final)
	fmt.Printf("Winners: %v\n", res.Winners)
	if res.FinishOrder != nil {
		for i, p := range res.FinishOrder.Places() {
			fmt.Printf("Place %d: lanes=%v\n", i+1, p.Lanes)
		}
	}
}

func parseInts(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", p)
		}
		out = append(out, v)
	}
	return out, nil
}

func parseUints(s string) ([]uint64, error) {
	parts := strings.Split(s, ",")
	out := make([]uint64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid bound %q", p)
		}
		out = append(out, v)
	}
	return out, nil
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
