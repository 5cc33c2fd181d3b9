package api

import (
	"time"

	"github.com/MJE43/race-pf-replay-go/internal/engine"
	"github.com/MJE43/race-pf-replay-go/internal/odds"
	"github.com/MJE43/race-pf-replay-go/internal/parity"
	"github.com/MJE43/race-pf-replay-go/internal/race"
	"github.com/MJE43/race-pf-replay-go/internal/scan"
	"github.com/MJE43/race-pf-replay-go/internal/store"
)

// EngineError represents a structured error response with context
type EngineError struct {
	Type      string                 `json:"type"`
	Message   string                 `json:"message"`
	Context   map[string]interface{} `json:"context,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
	Timestamp string                 `json:"timestamp,omitempty"`
}

// Error implements the error interface
func (e EngineError) Error() string {
	return e.Message
}

// Error types with proper categorization
const (
	// Input validation errors
	ErrTypeInvalidSeed   = "invalid_seed"
	ErrTypeInvalidConfig = "invalid_config"
	ErrTypeInvalidBound  = "invalid_bound"
	ErrTypeValidation    = "validation_error"

	// Race errors
	ErrTypeStrategyNotFound  = "strategy_not_found"
	ErrTypeMaxTicksExceeded  = "max_ticks_exceeded"
	ErrTypeParityUnsupported = "parity_unsupported"

	// Book and odds errors
	ErrTypeBookState    = "book_state_conflict"
	ErrTypeOddsRejected = "odds_rejected"
	ErrTypeSeedMismatch = "seed_mismatch"

	// System errors
	ErrTypeNotFound           = "not_found"
	ErrTypeUnauthorized       = "unauthorized"
	ErrTypeAdminDisabled      = "admin_disabled"
	ErrTypeTimeout            = "timeout"
	ErrTypeInternal           = "internal_error"
	ErrTypeServiceUnavailable = "service_unavailable"
)

// ErrorCategory represents error categories for monitoring
type ErrorCategory string

const (
	CategoryValidation ErrorCategory = "validation"
	CategoryRace       ErrorCategory = "race"
	CategoryBook       ErrorCategory = "book"
	CategoryAuth       ErrorCategory = "auth"
	CategorySystem     ErrorCategory = "system"
	CategoryTimeout    ErrorCategory = "timeout"
)

// GetErrorCategory returns the category for an error type
func GetErrorCategory(errType string) ErrorCategory {
	switch errType {
	case ErrTypeInvalidSeed, ErrTypeInvalidConfig, ErrTypeInvalidBound, ErrTypeValidation:
		return CategoryValidation
	case ErrTypeStrategyNotFound, ErrTypeMaxTicksExceeded, ErrTypeParityUnsupported:
		return CategoryRace
	case ErrTypeBookState, ErrTypeOddsRejected, ErrTypeSeedMismatch:
		return CategoryBook
	case ErrTypeUnauthorized, ErrTypeAdminDisabled:
		return CategoryAuth
	case ErrTypeTimeout:
		return CategoryTimeout
	default:
		return CategorySystem
	}
}

// VersionInfo contains engine version information
type VersionInfo struct {
	EngineVersion string   `json:"engine_version"`
	GitCommit     string   `json:"git_commit,omitempty"`
	BuildTime     string   `json:"build_time,omitempty"`
	Strategies    []string `json:"strategies"`
}

// StrategiesResponse lists the simulator generations
type StrategiesResponse struct {
	Strategies    []race.StrategySpec `json:"strategies"`
	Default       string              `json:"default"`
	EngineVersion string              `json:"engine_version"`
}

// DiceRollRequest draws a sequence of bounded integers from a seed
type DiceRollRequest struct {
	Seed   *engine.Seed `json:"seed"`
	Bounds []uint64     `json:"bounds"`
}

// DiceRollResponse carries the draws and where the stream stopped
type DiceRollResponse struct {
	Rolls         []uint64        `json:"rolls"`
	Digest        engine.Seed     `json:"digest"`
	Offset        int             `json:"offset"`
	Rehashes      uint64          `json:"rehashes"`
	EngineVersion string          `json:"engine_version"`
	Echo          DiceRollRequest `json:"echo"`
}

// SimulateRequest runs and records one race
type SimulateRequest struct {
	Seed     *engine.Seed `json:"seed"`
	Strategy string       `json:"strategy,omitempty"`
	Config   race.Config  `json:"config"`
	Frames   bool         `json:"frames,omitempty"`
}

// RaceResponse is a recorded race, with frames when they were asked for
type RaceResponse struct {
	Race          *store.Race `json:"race"`
	Frames        [][]uint64  `json:"frames,omitempty"`
	EngineVersion string      `json:"engine_version"`
}

// VerifyRaceRequest replays a recorded race, or an inline race against the
// winners a caller claims for it.
type VerifyRaceRequest struct {
	RaceID   string       `json:"race_id,omitempty"`
	Seed     *engine.Seed `json:"seed,omitempty"`
	Strategy string       `json:"strategy,omitempty"`
	Config   race.Config  `json:"config"`
	Winners  []int        `json:"winners,omitempty"`
}

// VerifyRaceResponse reports whether the replay agrees with the record
type VerifyRaceResponse struct {
	Match         bool         `json:"match"`
	Mismatches    []string     `json:"mismatches,omitempty"`
	Replayed      *race.Result `json:"replayed"`
	EngineVersion string       `json:"engine_version"`
}

// OddsValidateRequest checks an odds table. HouseEdgeBps defaults to the
// current process-wide value.
type OddsValidateRequest struct {
	Odds         []uint64 `json:"odds"`
	HouseEdgeBps *uint32  `json:"house_edge_bps,omitempty"`
}

// OddsValidateResponse carries the verdict and its display form
type OddsValidateResponse struct {
	Result        odds.Result `json:"result"`
	Quote         odds.Quote  `json:"quote"`
	EngineVersion string      `json:"engine_version"`
}

// CreateBookRequest opens a book for one race. The seed stays with the
// operator; the book keeps its commitment and the course the race will run.
type CreateBookRequest struct {
	Lanes           int          `json:"lanes"`
	SeedCommitment  *engine.Seed `json:"seed_commitment"`
	MaxTicks        int          `json:"max_ticks,omitempty"`
	SpeedRange      uint64       `json:"speed_range,omitempty"`
	TrackLength     uint64       `json:"track_length"`
	BettingOpensAt  time.Time    `json:"betting_opens_at"`
	BettingClosesAt time.Time    `json:"betting_closes_at"`
}

// FinalizeLineupRequest fixes a book's scores
type FinalizeLineupRequest struct {
	Scores []int `json:"scores"`
}

// SetOddsRequest installs a book's odds table
type SetOddsRequest struct {
	Odds []uint64 `json:"odds"`
}

// SettleRequest reveals the seed a book committed to
type SettleRequest struct {
	Seed *engine.Seed `json:"seed"`
}

// BookResponse wraps a book and, after odds or settlement, what produced it
type BookResponse struct {
	Book          *odds.Book   `json:"book"`
	Status        odds.Status  `json:"status"`
	Result        *odds.Result `json:"odds_result,omitempty"`
	Quote         *odds.Quote  `json:"quote,omitempty"`
	Race          *store.Race  `json:"race,omitempty"`
	EngineVersion string       `json:"engine_version"`
}

// ScanRequest represents a scan operation request. The house edge is the
// process-wide value at the time of the scan.
type ScanRequest struct {
	Strategy    string       `json:"strategy,omitempty"`
	BaseSeed    *engine.Seed `json:"base_seed"`
	IndexStart  uint64       `json:"index_start"`
	IndexEnd    uint64       `json:"index_end"`
	Config      race.Config  `json:"config"`
	TargetLane  int          `json:"target_lane"`
	TargetPlace scan.Place   `json:"target_place,omitempty"`
	Limit       int          `json:"limit,omitempty"`
	TimeoutMs   int          `json:"timeout_ms,omitempty"`
}

// ScanResponse represents the complete scan response
type ScanResponse struct {
	RunID         string       `json:"run_id"`
	Hits          []scan.Hit   `json:"hits"`
	Summary       scan.Summary `json:"summary"`
	SuggestedOdds []uint64     `json:"suggested_odds,omitempty"`
	OddsCheck     *odds.Result `json:"odds_check,omitempty"`
	EngineVersion string       `json:"engine_version"`
	Echo          ScanRequest  `json:"echo"`
}

// RunResponse is a persisted scan with one page of its hits
type RunResponse struct {
	Run           *store.Run      `json:"run"`
	Hits          *store.HitsPage `json:"hits"`
	EngineVersion string          `json:"engine_version"`
}

// ParityRequest selects one of three checks: dice draws when Bounds is set,
// a range of derived races when IndexEnd is set, otherwise a single race.
type ParityRequest struct {
	Seed        *engine.Seed `json:"seed"`
	Strategy    string       `json:"strategy,omitempty"`
	Config      race.Config  `json:"config"`
	Bounds      []uint64     `json:"bounds,omitempty"`
	IndexStart  uint64       `json:"index_start,omitempty"`
	IndexEnd    *uint64      `json:"index_end,omitempty"`
	Concurrency int          `json:"concurrency,omitempty"`
}

// ParityResponse holds whichever report the request selected
type ParityResponse struct {
	Match         bool                `json:"match"`
	Race          *parity.Report      `json:"race,omitempty"`
	Rolls         *parity.RollReport  `json:"rolls,omitempty"`
	Range         *parity.RangeReport `json:"range,omitempty"`
	EngineVersion string              `json:"engine_version"`
}

// SeedHashRequest represents a seed hashing request
type SeedHashRequest struct {
	Seed *engine.Seed `json:"seed"`
}

// SeedHashResponse carries the public commitment of a seed
type SeedHashResponse struct {
	Hash          string          `json:"hash"`
	EngineVersion string          `json:"engine_version"`
	Echo          SeedHashRequest `json:"echo"`
}

// HouseEdgeRequest replaces the process-wide house edge
type HouseEdgeRequest struct {
	HouseEdgeBps uint32 `json:"house_edge_bps"`
}

// HouseEdgeResponse reports the process-wide house edge
type HouseEdgeResponse struct {
	HouseEdgeBps    uint32 `json:"house_edge_bps"`
	MinOverroundBps uint64 `json:"min_overround_bps"`
	EngineVersion   string `json:"engine_version"`
}
