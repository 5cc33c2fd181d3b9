package scan

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MJE43/race-pf-replay-go/internal/engine"
	"github.com/MJE43/race-pf-replay-go/internal/odds"
	"github.com/MJE43/race-pf-replay-go/internal/race"
)

// MaxRange is the largest number of indices a single scan may cover.
const MaxRange = 1_000_000

// Place is the finishing position a scan looks for.
type Place string

const (
	PlaceWin   Place = "win"
	PlacePlace Place = "place" // top 2
	PlaceShow  Place = "show"  // top 3
)

// Rank returns the lowest podium position that satisfies p, or 0 for an
// unknown place.
func (p Place) Rank() int {
	switch p {
	case PlaceWin:
		return 1
	case PlacePlace:
		return 2
	case PlaceShow:
		return 3
	default:
		return 0
	}
}

// ScanRequest describes a sweep over races derived from one base seed.
type ScanRequest struct {
	Strategy     string      `json:"strategy"`
	BaseSeed     engine.Seed `json:"base_seed"`
	IndexStart   uint64      `json:"index_start"`
	IndexEnd     uint64      `json:"index_end"`
	Config       race.Config `json:"config"`
	TargetLane   int         `json:"target_lane"`
	TargetPlace  Place       `json:"target_place"`
	Limit        int         `json:"limit,omitempty"`
	TimeoutMs    int         `json:"timeout_ms,omitempty"`
	HouseEdgeBps uint32      `json:"house_edge_bps"`
}

// Hit is one race in which the target lane reached the target place.
type Hit struct {
	Index uint64      `json:"index"`
	Seed  engine.Seed `json:"seed"`
	Place int         `json:"place"`
	Ticks int         `json:"ticks"`
}

// Summary contains aggregate statistics. LaneWins counts every dead-heat
// winner, so it can sum to more than TotalEvaluated.
type Summary struct {
	TotalEvaluated    uint64   `json:"total_evaluated"`
	Failures          uint64   `json:"failures"`
	HitsFound         int      `json:"hits_found"`
	LaneWins          []uint64 `json:"lane_wins"`
	WinProbabilityBps []uint64 `json:"win_probability_bps"`
	TimedOut          bool     `json:"timed_out,omitempty"`
}

// ScanResult contains the complete scan results.
type ScanResult struct {
	Hits          []Hit         `json:"hits"`
	Summary       Summary       `json:"summary"`
	SuggestedOdds []uint64      `json:"suggested_odds,omitempty"`
	OddsCheck     *odds.Result  `json:"odds_check,omitempty"`
	Echo          ScanRequest   `json:"echo"`
	Simulated     uint64        `json:"simulated"`
	Elapsed       time.Duration `json:"elapsed_ns"`
}

// ScanJob is a batch of indices handed to one worker.
type ScanJob struct {
	IndexStart uint64
	IndexEnd   uint64
}

// batchResult is what a worker reports for one job.
type batchResult struct {
	hits      []Hit
	wins      []uint64
	evaluated uint64
	failed    uint64
}

// ScanWorker simulates the races of the jobs it receives.
type ScanWorker struct {
	id       int
	jobs     <-chan ScanJob
	results  chan<- batchResult
	strategy race.Strategy
	req      *ScanRequest
	rank     int
	progress *uint64
}

// Scanner runs scans across a fixed number of workers.
type Scanner struct {
	workerCount int
	batchSize   uint64
}

// NewScanner creates a scanner. workers <= 0 uses GOMAXPROCS.
func NewScanner(workers int) *Scanner {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Scanner{workerCount: workers, batchSize: 256}
}

// Workers returns the number of workers a scan uses.
func (s *Scanner) Workers() int {
	return s.workerCount
}

func (s *Scanner) validate(req *ScanRequest) (race.Strategy, error) {
	strategy, ok := race.Get(req.Strategy)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrStrategyNotFound, req.Strategy)
	}
	spec := strategy.Spec()

	if req.IndexEnd < req.IndexStart {
		return nil, fmt.Errorf("%w: index_end %d before index_start %d", ErrInvalidRange, req.IndexEnd, req.IndexStart)
	}
	if req.IndexEnd-req.IndexStart >= MaxRange {
		return nil, fmt.Errorf("%w: range exceeds %d indices", ErrInvalidRange, MaxRange)
	}

	req.Config = req.Config.WithDefaults()
	if err := req.Config.Validate(spec); err != nil {
		return nil, err
	}
	if req.TargetLane < 0 || req.TargetLane >= req.Config.Lanes() {
		return nil, fmt.Errorf("%w: lane %d of %d", ErrInvalidTarget, req.TargetLane, req.Config.Lanes())
	}

	if req.TargetPlace == "" {
		req.TargetPlace = PlaceWin
	}
	rank := req.TargetPlace.Rank()
	if rank == 0 {
		return nil, fmt.Errorf("%w: unknown place %q", ErrUnsupportedPlace, req.TargetPlace)
	}
	if rank > 1 && !spec.FinishOrder {
		return nil, fmt.Errorf("%w: %s reports winners only", ErrUnsupportedPlace, spec.ID)
	}
	if req.HouseEdgeBps > odds.MaxHouseEdgeBps {
		return nil, fmt.Errorf("%w: %d bps", odds.ErrHouseEdgeOutOfRange, req.HouseEdgeBps)
	}
	return strategy, nil
}

// Scan simulates every index in [IndexStart, IndexEnd] in parallel. Races
// that exhaust MaxTicks are counted as failures and skipped. On timeout the
// partial result is returned with TimedOut set.
func (s *Scanner) Scan(ctx context.Context, req ScanRequest) (*ScanResult, error) {
	started := time.Now()
	strategy, err := s.validate(&req)
	if err != nil {
		return nil, err
	}

	if req.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	jobs := make(chan ScanJob, s.workerCount*2)
	results := make(chan batchResult, s.workerCount*2)

	var progress uint64
	var wg sync.WaitGroup

	for i := 0; i < s.workerCount; i++ {
		worker := &ScanWorker{
			id:       i,
			jobs:     jobs,
			results:  results,
			strategy: strategy,
			req:      &req,
			rank:     req.TargetPlace.Rank(),
			progress: &progress,
		}
		wg.Add(1)
		go worker.Run(ctx, &wg)
	}

	go s.generateJobs(ctx, jobs, req.IndexStart, req.IndexEnd)
	go func() {
		wg.Wait()
		close(results)
	}()

	collector := &ResultCollector{
		results: results,
		lanes:   req.Config.Lanes(),
		limit:   req.Limit,
	}
	result := collector.Collect(ctx)
	result.Simulated = atomic.LoadUint64(&progress)

	if result.Summary.TotalEvaluated > 0 {
		suggested, err := odds.FairOdds(result.Summary.LaneWins, result.Summary.TotalEvaluated, req.HouseEdgeBps)
		if err != nil {
			return nil, err
		}
		check, err := odds.Validate(suggested, req.HouseEdgeBps)
		if err != nil {
			return nil, err
		}
		result.SuggestedOdds = suggested
		result.OddsCheck = &check
	}

	result.Echo = req
	result.Elapsed = time.Since(started)
	return result, nil
}

// Run processes jobs until the channel closes or ctx is done.
func (sw *ScanWorker) Run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		select {
		case job, ok := <-sw.jobs:
			if !ok {
				return
			}
			res, complete := sw.processJob(ctx, job)
			if !complete {
				return
			}
			select {
			case sw.results <- res:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// processJob simulates one batch. A batch interrupted by ctx is discarded
// so the summary only counts whole batches.
func (sw *ScanWorker) processJob(ctx context.Context, job ScanJob) (batchResult, bool) {
	res := batchResult{wins: make([]uint64, sw.req.Config.Lanes())}

	for index := job.IndexStart; ; index++ {
		select {
		case <-ctx.Done():
			return batchResult{}, false
		default:
		}

		seed := engine.DeriveSeed(sw.req.BaseSeed, index)
		r, err := sw.strategy.Run(seed, sw.req.Config, false)
		atomic.AddUint64(sw.progress, 1)
		if err != nil {
			// config was validated up front, so this is max ticks exhaustion
			res.failed++
		} else {
			res.evaluated++
			for _, lane := range r.Winners {
				res.wins[lane]++
			}
			if place := placeOf(r, sw.req.TargetLane); place > 0 && place <= sw.rank {
				res.hits = append(res.hits, Hit{Index: index, Seed: seed, Place: place, Ticks: r.Ticks})
			}
		}

		if index == job.IndexEnd {
			break
		}
	}

	return res, true
}

// placeOf returns the lane's podium position. Strategies without a finish
// order only distinguish winners.
func placeOf(r *race.Result, lane int) int {
	if r.FinishOrder != nil {
		return r.FinishOrder.PlaceOf(lane)
	}
	for _, w := range r.Winners {
		if w == lane {
			return 1
		}
	}
	return 0
}

// generateJobs splits the index range into batches.
func (s *Scanner) generateJobs(ctx context.Context, jobs chan<- ScanJob, start, end uint64) {
	defer close(jobs)

	for current := start; ; {
		batchEnd := current + s.batchSize - 1
		if batchEnd > end || batchEnd < current {
			batchEnd = end
		}

		select {
		case jobs <- ScanJob{IndexStart: current, IndexEnd: batchEnd}:
		case <-ctx.Done():
			return
		}
		if batchEnd == end {
			return
		}
		current = batchEnd + 1
	}
}

// ResultCollector merges worker batches into a ScanResult.
type ResultCollector struct {
	results <-chan batchResult
	lanes   int
	limit   int
}

// Collect drains batches until the workers finish or ctx is done. Hits are
// ordered by index before the limit is applied, so a completed scan returns
// the same hits regardless of worker scheduling.
func (rc *ResultCollector) Collect(ctx context.Context) *ScanResult {
	hits := make([]Hit, 0, 64)
	wins := make([]uint64, rc.lanes)
	var summary Summary

	merge := func(b batchResult) {
		hits = append(hits, b.hits...)
		summary.HitsFound += len(b.hits)
		summary.TotalEvaluated += b.evaluated
		summary.Failures += b.failed
		for i, w := range b.wins {
			wins[i] += w
		}
	}

collect:
	for {
		select {
		case b, ok := <-rc.results:
			if !ok {
				// workers also stop early when ctx ends
				summary.TimedOut = ctx.Err() != nil
				break collect
			}
			merge(b)
		case <-ctx.Done():
			summary.TimedOut = true
			break collect
		}
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Index < hits[j].Index })
	if rc.limit > 0 && len(hits) > rc.limit {
		hits = hits[:rc.limit]
	}

	return &ScanResult{
		Hits:    hits,
		Summary: rc.calculateSummary(summary, wins),
	}
}

// calculateSummary derives the per-lane win rates from the merged counts.
func (rc *ResultCollector) calculateSummary(summary Summary, wins []uint64) Summary {
	summary.LaneWins = wins
	summary.WinProbabilityBps = make([]uint64, len(wins))
	if summary.TotalEvaluated == 0 {
		return summary
	}
	for i, w := range wins {
		summary.WinProbabilityBps[i] = w * odds.OddsScale / summary.TotalEvaluated
	}
	return summary
}
