package api

import (
	"fmt"

	"github.com/MJE43/race-pf-replay-go/internal/odds"
	"github.com/MJE43/race-pf-replay-go/internal/parity"
	"github.com/MJE43/race-pf-replay-go/internal/race"
	"github.com/MJE43/race-pf-replay-go/internal/scan"
	"github.com/MJE43/race-pf-replay-go/internal/store"
)

const (
	maxRollBounds  = 10_000
	maxHitLimit    = 100_000
	maxTimeoutMs   = 300_000
	maxScanWorkers = 64

	// widest lineup any strategy accepts
	maxLanes = 64
)

// FieldError is a request validation failure tied to one JSON field.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func fieldErr(field, format string, args ...any) *FieldError {
	return &FieldError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ValidateDiceRollRequest validates a dice roll request
func ValidateDiceRollRequest(req *DiceRollRequest) error {
	if req.Seed == nil {
		return fieldErr("seed", "seed is required")
	}
	if len(req.Bounds) == 0 {
		return fieldErr("bounds", "at least one bound is required")
	}
	if len(req.Bounds) > maxRollBounds {
		return fieldErr("bounds", "too many bounds (max %d)", maxRollBounds)
	}
	for i, b := range req.Bounds {
		if b == 0 {
			return fieldErr("bounds", "bound %d must be positive", i)
		}
	}
	return nil
}

// validateRaceConfig checks only what the strategy cannot: presence of the
// scores. Range checks stay with race.Config.Validate.
func validateRaceConfig(cfg *race.Config) error {
	if len(cfg.Scores) == 0 {
		return fieldErr("config.scores", "at least one lane is required")
	}
	for i, s := range cfg.Scores {
		if s < 0 {
			return fieldErr("config.scores", "score %d must not be negative", i)
		}
	}
	if cfg.TrackLength == 0 {
		return fieldErr("config.track_length", "track_length is required")
	}
	return nil
}

// ValidateSimulateRequest validates a simulate request
func ValidateSimulateRequest(req *SimulateRequest) error {
	if req.Seed == nil {
		return fieldErr("seed", "seed is required")
	}
	return validateRaceConfig(&req.Config)
}

// ValidateVerifyRaceRequest validates a verify request. A stored race needs
// nothing else; an inline race needs its seed, config and claimed winners.
func ValidateVerifyRaceRequest(req *VerifyRaceRequest) error {
	if req.RaceID != "" {
		return nil
	}
	if req.Seed == nil {
		return fieldErr("seed", "seed or race_id is required")
	}
	if len(req.Winners) == 0 {
		return fieldErr("winners", "winners are required when verifying an inline race")
	}
	return validateRaceConfig(&req.Config)
}

// ValidateOddsRequest validates an odds table
func ValidateOddsRequest(oddsBps []uint64) error {
	if len(oddsBps) == 0 {
		return fieldErr("odds", "odds table is empty")
	}
	if len(oddsBps) > maxLanes {
		return fieldErr("odds", "too many lanes (max %d)", maxLanes)
	}
	return nil
}

// ValidateCreateBookRequest validates a new book
func ValidateCreateBookRequest(req *CreateBookRequest) error {
	if req.Lanes <= 0 || req.Lanes > maxLanes {
		return fieldErr("lanes", "lanes must be in 1..%d", maxLanes)
	}
	if req.SeedCommitment == nil {
		return fieldErr("seed_commitment", "seed_commitment is required")
	}
	if req.TrackLength == 0 {
		return fieldErr("track_length", "track_length is required")
	}
	if req.BettingOpensAt.IsZero() {
		return fieldErr("betting_opens_at", "betting_opens_at is required")
	}
	if !req.BettingClosesAt.After(req.BettingOpensAt) {
		return fieldErr("betting_closes_at", "betting_closes_at must be after betting_opens_at")
	}
	return nil
}

// ValidateSettleRequest validates a settlement
func ValidateSettleRequest(req *SettleRequest) error {
	if req.Seed == nil {
		return fieldErr("seed", "seed is required")
	}
	return nil
}

// ValidateScanRequest validates a scan request and returns any validation errors
func ValidateScanRequest(req *ScanRequest) error {
	if req.BaseSeed == nil {
		return fieldErr("base_seed", "base_seed is required")
	}
	if req.IndexEnd < req.IndexStart {
		return fieldErr("index_end", "index_end (%d) must be >= index_start (%d)", req.IndexEnd, req.IndexStart)
	}
	if req.IndexEnd > store.MaxIndex {
		return fieldErr("index_end", "index_end must be at most %d", uint64(store.MaxIndex))
	}
	if req.IndexEnd-req.IndexStart >= scan.MaxRange {
		return fieldErr("index_end", "index range too large (max %d indices)", scan.MaxRange)
	}
	if err := validateRaceConfig(&req.Config); err != nil {
		return err
	}
	if req.TargetLane < 0 || req.TargetLane >= len(req.Config.Scores) {
		return fieldErr("target_lane", "target_lane must be in 0..%d", len(req.Config.Scores)-1)
	}
	if req.TargetPlace != "" && req.TargetPlace.Rank() == 0 {
		return fieldErr("target_place", "target_place must be one of: win, place, show")
	}
	if req.Limit < 0 || req.Limit > maxHitLimit {
		return fieldErr("limit", "limit must be in 0..%d", maxHitLimit)
	}
	if req.TimeoutMs < 0 || req.TimeoutMs > maxTimeoutMs {
		return fieldErr("timeout_ms", "timeout_ms must be in 0..%d", maxTimeoutMs)
	}
	return nil
}

// ValidateParityRequest validates a parity check
func ValidateParityRequest(req *ParityRequest) error {
	if req.Seed == nil {
		return fieldErr("seed", "seed is required")
	}
	if len(req.Bounds) > 0 {
		if len(req.Bounds) > maxRollBounds {
			return fieldErr("bounds", "too many bounds (max %d)", maxRollBounds)
		}
		for i, b := range req.Bounds {
			if b == 0 || b > parity.MaxBound {
				return fieldErr("bounds", "bound %d must be in 1..%d", i, uint64(parity.MaxBound))
			}
		}
		return nil
	}
	if req.IndexEnd != nil {
		if *req.IndexEnd < req.IndexStart || *req.IndexEnd-req.IndexStart >= parity.MaxCheckRange {
			return fieldErr("index_end", "index range must cover 1..%d indices", parity.MaxCheckRange)
		}
		if req.Concurrency < 0 || req.Concurrency > maxScanWorkers {
			return fieldErr("concurrency", "concurrency must be in 0..%d", maxScanWorkers)
		}
	}
	return validateRaceConfig(&req.Config)
}

// ValidateHouseEdgeRequest validates a house edge update
func ValidateHouseEdgeRequest(req *HouseEdgeRequest) error {
	if req.HouseEdgeBps > odds.MaxHouseEdgeBps {
		return fieldErr("house_edge_bps", "house_edge_bps must be in 0..%d", odds.MaxHouseEdgeBps)
	}
	return nil
}
