package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/MJE43/race-pf-replay-go/internal/engine"
	"github.com/MJE43/race-pf-replay-go/internal/odds"
	"github.com/MJE43/race-pf-replay-go/internal/parity"
	"github.com/MJE43/race-pf-replay-go/internal/race"
	"github.com/MJE43/race-pf-replay-go/internal/scan"
	"github.com/MJE43/race-pf-replay-go/internal/store"
)

const defaultScanTimeoutMs = 60_000

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, GetVersionInfo())
}

func (s *Server) handleListStrategies(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, StrategiesResponse{
		Strategies:    race.List(),
		Default:       s.cfg.Strategy,
		EngineVersion: EngineVersion,
	})
}

// handleDiceRoll draws bounded integers from a fresh stream
func (s *Server) handleDiceRoll(w http.ResponseWriter, r *http.Request) {
	var req DiceRollRequest
	if !s.decodeJSON(w, r, &req) || !s.validate(w, r, ValidateDiceRollRequest(&req)) {
		return
	}

	dice := engine.NewDice(*req.Seed)
	rolls, err := dice.Rolls(req.Bounds)
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	digest, offset, rehashes := dice.Cursor()

	s.writeJSON(w, http.StatusOK, DiceRollResponse{
		Rolls:         rolls,
		Digest:        digest,
		Offset:        offset,
		Rehashes:      rehashes,
		EngineVersion: EngineVersion,
		Echo:          req,
	})
}

// handleSeedHash publishes the commitment of a seed
func (s *Server) handleSeedHash(w http.ResponseWriter, r *http.Request) {
	var req SeedHashRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.Seed == nil {
		s.errorHandler.HandleValidationError(w, r, "seed", "seed is required")
		return
	}

	commitment := engine.Commitment(*req.Seed).Hex()
	s.securityLogger.LogSeedHashOperation(middleware.GetReqID(r.Context()), *req.Seed, commitment)

	s.writeJSON(w, http.StatusOK, SeedHashResponse{
		Hash:          commitment,
		EngineVersion: EngineVersion,
		Echo:          req,
	})
}

// handleSimulateRace runs a race and records it
func (s *Server) handleSimulateRace(w http.ResponseWriter, r *http.Request) {
	var req SimulateRequest
	if !s.decodeJSON(w, r, &req) || !s.validate(w, r, ValidateSimulateRequest(&req)) {
		return
	}
	req.Strategy = s.strategyOr(req.Strategy)
	req.Config = s.withRequestDefaults(req.Config)
	seed := *req.Seed

	start := time.Now()
	res, err := race.Run(req.Strategy, seed, req.Config)
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}

	rec := store.NewRace(res, engine.Commitment(seed).Hex(), EngineVersion)
	if err := s.db.SaveRace(rec); err != nil {
		s.errorHandler.HandleError(w, r, fmt.Errorf("save race: %w", err))
		return
	}

	requestID := middleware.GetReqID(r.Context())
	s.securityLogger.LogRaceOperation(requestID, "simulate", seed, res)
	s.securityLogger.LogPerformanceMetrics(requestID, "race_simulate", time.Since(start), uint64(res.Ticks), true)

	resp := RaceResponse{Race: rec, EngineVersion: EngineVersion}
	if req.Frames {
		resp.Frames = res.Frames
	}
	s.writeJSON(w, http.StatusCreated, resp)
}

// handleVerifyRace replays a race and reports every field that differs
func (s *Server) handleVerifyRace(w http.ResponseWriter, r *http.Request) {
	var req VerifyRaceRequest
	if !s.decodeJSON(w, r, &req) || !s.validate(w, r, ValidateVerifyRaceRequest(&req)) {
		return
	}

	var (
		seed     engine.Seed
		strategy string
		cfg      race.Config
		stored   *store.Race
	)
	if req.RaceID != "" {
		rec, err := s.db.GetRace(req.RaceID)
		if err != nil {
			s.errorHandler.HandleError(w, r, err)
			return
		}
		parsed, err := engine.ParseSeed(rec.Seed)
		if err != nil {
			s.errorHandler.HandleError(w, r, fmt.Errorf("stored race %s: %w", rec.ID, err))
			return
		}
		seed, strategy, cfg, stored = parsed, rec.Strategy, rec.Config(), rec
	} else {
		seed, strategy, cfg = *req.Seed, s.strategyOr(req.Strategy), s.withRequestDefaults(req.Config)
	}

	res, err := race.Run(strategy, seed, cfg)
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}

	var mismatches []string
	if stored != nil {
		mismatches = compareStored(stored, res)
	} else if !slices.Equal(req.Winners, res.Winners) {
		mismatches = append(mismatches, fmt.Sprintf("winners: claimed %v, replayed %v", req.Winners, res.Winners))
	}

	s.securityLogger.LogRaceOperation(middleware.GetReqID(r.Context()), "verify", seed, res)
	res.Frames = nil
	s.writeJSON(w, http.StatusOK, VerifyRaceResponse{
		Match:         len(mismatches) == 0,
		Mismatches:    mismatches,
		Replayed:      res,
		EngineVersion: EngineVersion,
	})
}

func compareStored(rec *store.Race, res *race.Result) []string {
	var out []string
	if rec.Ticks != res.Ticks {
		out = append(out, fmt.Sprintf("ticks: stored %d, replayed %d", rec.Ticks, res.Ticks))
	}
	if !slices.Equal(rec.Final, res.Final) {
		out = append(out, fmt.Sprintf("final: stored %v, replayed %v", rec.Final, res.Final))
	}
	if !slices.Equal(rec.Winners, res.Winners) {
		out = append(out, fmt.Sprintf("winners: stored %v, replayed %v", rec.Winners, res.Winners))
	}
	if (rec.FinishOrder == nil) != (res.FinishOrder == nil) {
		out = append(out, "finish_order: presence differs")
	} else if rec.FinishOrder != nil {
		got := res.FinishOrder.Places()
		for i, want := range rec.FinishOrder.Places() {
			if !slices.Equal(want.Lanes, got[i].Lanes) {
				out = append(out, fmt.Sprintf("finish_order: place %d stored %v, replayed %v", i+1, want.Lanes, got[i].Lanes))
			}
		}
	}
	return out
}

func (s *Server) handleListRaces(w http.ResponseWriter, r *http.Request) {
	list, err := s.db.ListRaces(store.RacesQuery{
		Strategy: r.URL.Query().Get("strategy"),
		Page:     queryInt(r, "page", 1),
		PerPage:  queryInt(r, "perPage", 50),
	})
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, list)
}

// handleGetRace returns a recorded race. Frames are not stored, so
// ?frames=true replays the race to produce them.
func (s *Server) handleGetRace(w http.ResponseWriter, r *http.Request) {
	rec, err := s.db.GetRace(chi.URLParam(r, "id"))
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}

	resp := RaceResponse{Race: rec, EngineVersion: EngineVersion}
	if r.URL.Query().Get("frames") == "true" {
		seed, err := engine.ParseSeed(rec.Seed)
		if err != nil {
			s.errorHandler.HandleError(w, r, fmt.Errorf("stored race %s: %w", rec.ID, err))
			return
		}
		res, err := race.Run(rec.Strategy, seed, rec.Config())
		if err != nil {
			s.errorHandler.HandleError(w, r, err)
			return
		}
		resp.Frames = res.Frames
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleValidateOdds checks an odds table without touching any book
func (s *Server) handleValidateOdds(w http.ResponseWriter, r *http.Request) {
	var req OddsValidateRequest
	if !s.decodeJSON(w, r, &req) || !s.validate(w, r, ValidateOddsRequest(req.Odds)) {
		return
	}

	houseEdge := s.houseEdge.Load()
	if req.HouseEdgeBps != nil {
		houseEdge = *req.HouseEdgeBps
	}
	res, err := odds.Validate(req.Odds, houseEdge)
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, OddsValidateResponse{
		Result:        res,
		Quote:         odds.NewQuote(req.Odds, res),
		EngineVersion: EngineVersion,
	})
}

func (s *Server) bookResponse(b *odds.Book) BookResponse {
	return BookResponse{Book: b, Status: b.Status(), EngineVersion: EngineVersion}
}

func (s *Server) handleCreateBook(w http.ResponseWriter, r *http.Request) {
	var req CreateBookRequest
	if !s.decodeJSON(w, r, &req) || !s.validate(w, r, ValidateCreateBookRequest(&req)) {
		return
	}

	course := s.withRequestDefaults(race.Config{
		Scores:      make([]int, req.Lanes),
		MaxTicks:    req.MaxTicks,
		SpeedRange:  req.SpeedRange,
		TrackLength: req.TrackLength,
	})
	// the lineup is not known yet; any scores check the course against the
	// deployment strategy's lane and range limits
	for i := range course.Scores {
		course.Scores[i] = race.MinScore
	}
	strategy, ok := race.Get(s.cfg.Strategy)
	if !ok {
		s.errorHandler.HandleError(w, r, fmt.Errorf("%w: %q", race.ErrStrategyNotFound, s.cfg.Strategy))
		return
	}
	if err := course.Validate(strategy.Spec()); err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}

	book, err := odds.NewBook("", req.Lanes, *req.SeedCommitment, odds.Course{
		MaxTicks:    course.MaxTicks,
		SpeedRange:  course.SpeedRange,
		TrackLength: course.TrackLength,
	}, req.BettingOpensAt, req.BettingClosesAt)
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	if err := s.db.SaveBook(book); err != nil {
		s.errorHandler.HandleError(w, r, fmt.Errorf("save book: %w", err))
		return
	}

	s.securityLogger.LogAuditEvent(middleware.GetReqID(r.Context()), "book_created", book.ID, "success",
		map[string]interface{}{"lanes": book.Lanes, "seed_commitment": book.SeedCommitment.Hex(), "track_length": book.Course.TrackLength})
	s.writeJSON(w, http.StatusCreated, s.bookResponse(book))
}

func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request) {
	book, err := s.db.GetBook(chi.URLParam(r, "id"))
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.bookResponse(book))
}

func (s *Server) handleFinalizeLineup(w http.ResponseWriter, r *http.Request) {
	var req FinalizeLineupRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	s.bookMu.Lock()
	defer s.bookMu.Unlock()

	book, err := s.db.GetBook(chi.URLParam(r, "id"))
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	if err := book.FinalizeLineup(req.Scores); err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	if err := s.db.UpdateBook(book); err != nil {
		s.errorHandler.HandleError(w, r, fmt.Errorf("update book: %w", err))
		return
	}

	s.securityLogger.LogAuditEvent(middleware.GetReqID(r.Context()), "lineup_finalized", book.ID, "success",
		map[string]interface{}{"scores": book.Scores})
	s.writeJSON(w, http.StatusOK, s.bookResponse(book))
}

// handleSetOdds installs a book's odds under the current house edge. A
// rejected table leaves the book as it was.
func (s *Server) handleSetOdds(w http.ResponseWriter, r *http.Request) {
	var req SetOddsRequest
	if !s.decodeJSON(w, r, &req) || !s.validate(w, r, ValidateOddsRequest(req.Odds)) {
		return
	}

	s.bookMu.Lock()
	defer s.bookMu.Unlock()

	book, err := s.db.GetBook(chi.URLParam(r, "id"))
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}

	requestID := middleware.GetReqID(r.Context())
	res, err := book.SetOdds(s.now(), req.Odds, s.houseEdge.Load())
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	if !res.Accepted {
		s.securityLogger.LogAuditEvent(requestID, "odds_set", book.ID, "rejected",
			map[string]interface{}{"reason": res.Reason, "inv_sum_bps": res.InvSumBps})
		s.errorHandler.HandleOddsRejected(w, r, res)
		return
	}
	if err := s.db.UpdateBook(book); err != nil {
		s.errorHandler.HandleError(w, r, fmt.Errorf("update book: %w", err))
		return
	}

	s.securityLogger.LogAuditEvent(requestID, "odds_set", book.ID, "accepted",
		map[string]interface{}{"inv_sum_bps": res.InvSumBps, "house_edge_bps": res.HouseEdgeBps})

	quote := odds.NewQuote(book.Odds, res)
	resp := s.bookResponse(book)
	resp.Result = &res
	resp.Quote = &quote
	s.writeJSON(w, http.StatusOK, resp)
}

// handleSettleBook reveals the book's seed, runs its race on the course
// fixed at creation under the deployment strategy and records the outcome.
// The race is only stored once the book accepts it.
func (s *Server) handleSettleBook(w http.ResponseWriter, r *http.Request) {
	var req SettleRequest
	if !s.decodeJSON(w, r, &req) || !s.validate(w, r, ValidateSettleRequest(&req)) {
		return
	}
	seed := *req.Seed
	requestID := middleware.GetReqID(r.Context())

	s.bookMu.Lock()
	defer s.bookMu.Unlock()

	book, err := s.db.GetBook(chi.URLParam(r, "id"))
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	if !book.LineupFinalized {
		s.errorHandler.HandleError(w, r, odds.ErrLineupNotFinalized)
		return
	}
	if err := book.CheckReveal(seed); err != nil {
		s.securityLogger.LogSecurityEvent(requestID, "seed_reveal_mismatch", "revealed seed does not match commitment",
			map[string]interface{}{"book_id": book.ID, "seed": seed}, r.RemoteAddr)
		s.errorHandler.HandleError(w, r, err)
		return
	}

	res, err := race.Run(s.cfg.Strategy, seed, s.withRequestDefaults(book.RaceConfig()))
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}

	rec := store.NewRace(res, book.SeedCommitment.Hex(), EngineVersion)
	rec.ID = uuid.New().String()
	if err := book.Settle(s.now(), rec.ID, res); err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	if err := s.db.SaveRace(rec); err != nil {
		s.errorHandler.HandleError(w, r, fmt.Errorf("save race: %w", err))
		return
	}
	if err := s.db.UpdateBook(book); err != nil {
		s.errorHandler.HandleError(w, r, fmt.Errorf("update book: %w", err))
		return
	}

	s.securityLogger.LogRaceOperation(requestID, "settle", seed, res)
	s.securityLogger.LogAuditEvent(requestID, "book_settled", book.ID, "success",
		map[string]interface{}{"race_id": rec.ID, "winners": book.Winners})

	resp := s.bookResponse(book)
	resp.Race = rec
	s.writeJSON(w, http.StatusOK, resp)
}

// handleScan sweeps derived races, then records the run and its hits
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if !s.decodeJSON(w, r, &req) || !s.validate(w, r, ValidateScanRequest(&req)) {
		return
	}
	req.Strategy = s.strategyOr(req.Strategy)
	req.Config = s.withRequestDefaults(req.Config)
	if req.TargetPlace == "" {
		req.TargetPlace = scan.PlaceWin
	}
	if req.TimeoutMs == 0 {
		req.TimeoutMs = defaultScanTimeoutMs
	}

	requestID := middleware.GetReqID(r.Context())
	houseEdge := s.houseEdge.Load()
	s.securityLogger.LogScanOperation(requestID, &req, houseEdge)

	result, err := s.scanner.Scan(r.Context(), scan.ScanRequest{
		Strategy:     req.Strategy,
		BaseSeed:     *req.BaseSeed,
		IndexStart:   req.IndexStart,
		IndexEnd:     req.IndexEnd,
		Config:       req.Config,
		TargetLane:   req.TargetLane,
		TargetPlace:  req.TargetPlace,
		Limit:        req.Limit,
		TimeoutMs:    req.TimeoutMs,
		HouseEdgeBps: houseEdge,
	})
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}

	run, err := s.saveRun(&req, houseEdge, result)
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}

	s.securityLogger.LogPerformanceMetrics(requestID, "scan", result.Elapsed, result.Summary.TotalEvaluated, !result.Summary.TimedOut)
	s.logger.Printf(
		"scan_completed run_id=%s strategy=%s hits_found=%d total_evaluated=%d failures=%d elapsed=%v timed_out=%t",
		run.ID, req.Strategy, result.Summary.HitsFound, result.Summary.TotalEvaluated,
		result.Summary.Failures, result.Elapsed, result.Summary.TimedOut,
	)

	s.writeJSON(w, http.StatusOK, ScanResponse{
		RunID:         run.ID,
		Hits:          result.Hits,
		Summary:       result.Summary,
		SuggestedOdds: result.SuggestedOdds,
		OddsCheck:     result.OddsCheck,
		EngineVersion: EngineVersion,
		Echo:          req,
	})
}

func (s *Server) saveRun(req *ScanRequest, houseEdge uint32, result *scan.ScanResult) (*store.Run, error) {
	cfgJSON, err := json.Marshal(req.Config)
	if err != nil {
		return nil, fmt.Errorf("encode scan config: %w", err)
	}

	run := &store.Run{
		Strategy:       req.Strategy,
		BaseSeedHash:   engine.Commitment(*req.BaseSeed).Hex(),
		IndexStart:     req.IndexStart,
		IndexEnd:       req.IndexEnd,
		ConfigJSON:     string(cfgJSON),
		TargetLane:     req.TargetLane,
		TargetPlace:    string(req.TargetPlace),
		HouseEdgeBps:   houseEdge,
		HitLimit:       req.Limit,
		TimedOut:       result.Summary.TimedOut,
		HitCount:       len(result.Hits),
		TotalEvaluated: result.Summary.TotalEvaluated,
		Failures:       result.Summary.Failures,
		LaneWins:       result.Summary.LaneWins,
		SuggestedOdds:  result.SuggestedOdds,
		EngineVersion:  EngineVersion,
	}
	if result.OddsCheck != nil {
		accepted := result.OddsCheck.Accepted
		run.OddsAccepted = &accepted
	}
	if err := s.db.SaveRun(run); err != nil {
		return nil, fmt.Errorf("save run: %w", err)
	}

	hits := make([]store.Hit, len(result.Hits))
	for i, h := range result.Hits {
		hits[i] = store.Hit{RunID: run.ID, Index: h.Index, Seed: h.Seed.Hex(), Place: h.Place, Ticks: h.Ticks}
	}
	if err := s.db.SaveHits(run.ID, hits); err != nil {
		return nil, fmt.Errorf("save hits: %w", err)
	}
	return run, nil
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := s.db.GetRun(id)
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	hits, err := s.db.GetRunHits(id, queryInt(r, "page", 1), queryInt(r, "perPage", 100))
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, RunResponse{Run: run, Hits: hits, EngineVersion: EngineVersion})
}

// handleParityCheck replays dice draws or races in the embedded reference
// implementation and reports the first divergence.
func (s *Server) handleParityCheck(w http.ResponseWriter, r *http.Request) {
	var req ParityRequest
	if !s.decodeJSON(w, r, &req) || !s.validate(w, r, ValidateParityRequest(&req)) {
		return
	}
	req.Strategy = s.strategyOr(req.Strategy)
	seed := *req.Seed

	start := time.Now()
	resp := ParityResponse{EngineVersion: EngineVersion}
	var checked uint64 = 1

	switch {
	case len(req.Bounds) > 0:
		vm, err := parity.NewVM()
		if err != nil {
			s.errorHandler.HandleError(w, r, err)
			return
		}
		report, err := vm.CheckRolls(seed, req.Bounds)
		if err != nil {
			s.errorHandler.HandleError(w, r, err)
			return
		}
		resp.Rolls, resp.Match = report, report.Match
		checked = uint64(len(req.Bounds))

	case req.IndexEnd != nil:
		concurrency := req.Concurrency
		if concurrency == 0 {
			concurrency = s.scanner.Workers()
		}
		cfg := s.withRequestDefaults(req.Config)
		report, err := parity.CheckRange(r.Context(), seed, req.IndexStart, *req.IndexEnd, req.Strategy, cfg, concurrency)
		if err != nil {
			s.errorHandler.HandleError(w, r, err)
			return
		}
		resp.Range, resp.Match = report, len(report.Mismatches) == 0
		checked = report.Checked

	default:
		report, err := parity.Check(seed, req.Strategy, s.withRequestDefaults(req.Config))
		if err != nil {
			s.errorHandler.HandleError(w, r, err)
			return
		}
		resp.Race, resp.Match = report, report.Match
	}

	requestID := middleware.GetReqID(r.Context())
	if !resp.Match {
		s.securityLogger.LogSecurityEvent(requestID, "parity_mismatch", "engine and reference disagree",
			map[string]interface{}{"seed": seed, "strategy": req.Strategy}, r.RemoteAddr)
	}
	s.securityLogger.LogPerformanceMetrics(requestID, "parity_check", time.Since(start), checked, resp.Match)
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) houseEdgeResponse() (HouseEdgeResponse, error) {
	bps := s.houseEdge.Load()
	minOverround, err := odds.MinOverroundBps(bps)
	if err != nil {
		return HouseEdgeResponse{}, err
	}
	return HouseEdgeResponse{HouseEdgeBps: bps, MinOverroundBps: minOverround, EngineVersion: EngineVersion}, nil
}

func (s *Server) handleGetHouseEdge(w http.ResponseWriter, r *http.Request) {
	resp, err := s.houseEdgeResponse()
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleSetHouseEdge replaces the house edge for future validations. Odds
// already accepted keep the edge they were accepted under.
func (s *Server) handleSetHouseEdge(w http.ResponseWriter, r *http.Request) {
	var req HouseEdgeRequest
	if !s.decodeJSON(w, r, &req) || !s.validate(w, r, ValidateHouseEdgeRequest(&req)) {
		return
	}

	previous := s.houseEdge.Load()
	if err := s.houseEdge.Store(req.HouseEdgeBps); err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.securityLogger.LogHouseEdgeChange(middleware.GetReqID(r.Context()), previous, req.HouseEdgeBps, r.RemoteAddr)

	resp, err := s.houseEdgeResponse()
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}
