package store

import (
	"errors"
	"math"
	"time"

	"github.com/MJE43/race-pf-replay-go/internal/odds"
	"github.com/MJE43/race-pf-replay-go/internal/race"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrIndexOutOfRange is returned for scan indices SQLite cannot hold.
var ErrIndexOutOfRange = errors.New("scan index out of storable range")

// MaxIndex is the largest scan index a run or hit can record: SQLite
// integers are signed 64-bit.
const MaxIndex = math.MaxInt64

// DB represents the database interface
type DB interface {
	Close() error
	Migrate() error

	SaveRace(r *Race) error
	GetRace(id string) (*Race, error)
	ListRaces(query RacesQuery) (*RacesList, error)

	SaveBook(b *odds.Book) error
	UpdateBook(b *odds.Book) error
	GetBook(id string) (*odds.Book, error)

	SaveRun(run *Run) error
	SaveHits(runID string, hits []Hit) error
	GetRun(id string) (*Run, error)
	GetRunHits(runID string, page, perPage int) (*HitsPage, error)
}

// Race is a persisted race result. Frames are not stored; they are
// reproduced from the seed on demand.
type Race struct {
	ID            string            `json:"id"`
	Strategy      string            `json:"strategy"`
	Seed          string            `json:"seed"`
	SeedHash      string            `json:"seed_hash"`
	Scores        []int             `json:"scores"`
	MaxTicks      int               `json:"max_ticks"`
	SpeedRange    uint64            `json:"speed_range"`
	TrackLength   uint64            `json:"track_length"`
	Ticks         int               `json:"ticks"`
	Final         []uint64          `json:"final"`
	Winners       []int             `json:"winners"`
	FinishOrder   *race.FinishOrder `json:"finish_order,omitempty"`
	EngineVersion string            `json:"engine_version"`
	CreatedAt     time.Time         `json:"created_at"`
}

// Config rebuilds the race config the result was simulated with.
func (r *Race) Config() race.Config {
	return race.Config{Scores: r.Scores, MaxTicks: r.MaxTicks, SpeedRange: r.SpeedRange, TrackLength: r.TrackLength}
}

// NewRace builds a record from a simulation result.
func NewRace(res *race.Result, seedHash, engineVersion string) *Race {
	return &Race{
		Strategy:      res.Strategy,
		Seed:          res.Seed.Hex(),
		SeedHash:      seedHash,
		Scores:        res.Config.Scores,
		MaxTicks:      res.Config.MaxTicks,
		SpeedRange:    res.Config.SpeedRange,
		TrackLength:   res.Config.TrackLength,
		Ticks:         res.Ticks,
		Final:         res.Final,
		Winners:       res.Winners,
		FinishOrder:   res.FinishOrder,
		EngineVersion: engineVersion,
	}
}

// RacesQuery represents query parameters for listing races
type RacesQuery struct {
	Strategy string `json:"strategy,omitempty"`
	Page     int    `json:"page"`
	PerPage  int    `json:"perPage"`
}

// RacesList represents a paginated races response
type RacesList struct {
	Races      []Race `json:"races"`
	TotalCount int    `json:"totalCount"`
	Page       int    `json:"page"`
	PerPage    int    `json:"perPage"`
	TotalPages int    `json:"totalPages"`
}

// Run represents a persisted scan. Only the commitment of the base seed is
// stored.
type Run struct {
	ID             string    `json:"id"`
	Strategy       string    `json:"strategy"`
	BaseSeedHash   string    `json:"base_seed_hash"`
	IndexStart     uint64    `json:"index_start"`
	IndexEnd       uint64    `json:"index_end"`
	ConfigJSON     string    `json:"config_json"`
	TargetLane     int       `json:"target_lane"`
	TargetPlace    string    `json:"target_place"`
	HouseEdgeBps   uint32    `json:"house_edge_bps"`
	HitLimit       int       `json:"hit_limit"`
	TimedOut       bool      `json:"timed_out"`
	HitCount       int       `json:"hit_count"`
	TotalEvaluated uint64    `json:"total_evaluated"`
	Failures       uint64    `json:"failures"`
	LaneWins       []uint64  `json:"lane_wins"`
	SuggestedOdds  []uint64  `json:"suggested_odds,omitempty"`
	OddsAccepted   *bool     `json:"odds_accepted,omitempty"`
	EngineVersion  string    `json:"engine_version"`
	CreatedAt      time.Time `json:"created_at"`
}

// Hit represents a single matching race of a scan
type Hit struct {
	ID    int64  `json:"id"`
	RunID string `json:"run_id"`
	Index uint64 `json:"index"`
	Seed  string `json:"seed"`
	Place int    `json:"place"`
	Ticks int    `json:"ticks"`
}

// HitWithDelta represents a hit with the index distance to the previous hit
type HitWithDelta struct {
	Hit
	DeltaIndex *uint64 `json:"delta_index,omitempty"`
}

// HitsPage represents a paginated hits response
type HitsPage struct {
	Hits       []HitWithDelta `json:"hits"`
	TotalCount int            `json:"totalCount"`
	Page       int            `json:"page"`
	PerPage    int            `json:"perPage"`
	TotalPages int            `json:"totalPages"`
}
