package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/MJE43/race-pf-replay-go/internal/engine"
	"github.com/MJE43/race-pf-replay-go/internal/odds"
	"github.com/MJE43/race-pf-replay-go/internal/race"
)

// SQLiteDB implements the DB interface using SQLite
type SQLiteDB struct {
	db *sql.DB
}

// NewSQLiteDB creates a new SQLite database connection
func NewSQLiteDB(path string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// every connection to :memory: is a separate database
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	return &SQLiteDB{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

// Ping checks that the database answers.
func (s *SQLiteDB) Ping() error {
	return s.db.Ping()
}

// Migrate runs database migrations
func (s *SQLiteDB) Migrate() error {
	baseMigrations := []string{
		`CREATE TABLE IF NOT EXISTS races (
			id TEXT PRIMARY KEY,
			strategy TEXT NOT NULL,
			seed TEXT NOT NULL,
			seed_hash TEXT NOT NULL,
			scores_json TEXT NOT NULL,
			max_ticks INTEGER NOT NULL,
			speed_range INTEGER NOT NULL,
			track_length INTEGER NOT NULL,
			ticks INTEGER NOT NULL,
			final_json TEXT NOT NULL,
			winners_json TEXT NOT NULL,
			engine_version TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS books (
			id TEXT PRIMARY KEY,
			lanes INTEGER NOT NULL,
			betting_opens_at TEXT NOT NULL,
			betting_closes_at TEXT NOT NULL,
			lineup_finalized INTEGER NOT NULL DEFAULT 0,
			scores_json TEXT,
			odds_json TEXT,
			house_edge_bps INTEGER NOT NULL DEFAULT 0,
			odds_set_at TEXT,
			settled INTEGER NOT NULL DEFAULT 0,
			settled_at TEXT,
			race_id TEXT,
			winners_json TEXT,
			finish_order_json TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			strategy TEXT NOT NULL,
			base_seed_hash TEXT NOT NULL,
			index_start INTEGER NOT NULL,
			index_end INTEGER NOT NULL,
			config_json TEXT NOT NULL,
			target_lane INTEGER NOT NULL,
			target_place TEXT NOT NULL,
			hit_count INTEGER NOT NULL DEFAULT 0,
			total_evaluated INTEGER NOT NULL DEFAULT 0,
			engine_version TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS hits (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			idx INTEGER NOT NULL,
			seed TEXT NOT NULL,
			place INTEGER NOT NULL,
			ticks INTEGER NOT NULL,
			FOREIGN KEY (run_id) REFERENCES runs(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_hits_run_id ON hits(run_id)`,
	}

	for _, migration := range baseMigrations {
		if _, err := s.db.Exec(migration); err != nil {
			return fmt.Errorf("base migration failed: %w", err)
		}
	}

	// Columns added after the first schema. Re-running them is expected to
	// fail with a duplicate column error.
	alterMigrations := []string{
		`ALTER TABLE races ADD COLUMN finish_order_json TEXT`,
		`ALTER TABLE books ADD COLUMN updated_at TEXT`,
		`ALTER TABLE books ADD COLUMN seed_commitment TEXT`,
		`ALTER TABLE books ADD COLUMN max_ticks INTEGER DEFAULT 0`,
		`ALTER TABLE books ADD COLUMN speed_range INTEGER DEFAULT 0`,
		`ALTER TABLE books ADD COLUMN track_length INTEGER DEFAULT 0`,
		`ALTER TABLE runs ADD COLUMN house_edge_bps INTEGER DEFAULT 0`,
		`ALTER TABLE runs ADD COLUMN hit_limit INTEGER DEFAULT 0`,
		`ALTER TABLE runs ADD COLUMN timed_out INTEGER DEFAULT 0`,
		`ALTER TABLE runs ADD COLUMN failures INTEGER DEFAULT 0`,
		`ALTER TABLE runs ADD COLUMN lane_wins_json TEXT`,
		`ALTER TABLE runs ADD COLUMN suggested_odds_json TEXT`,
		`ALTER TABLE runs ADD COLUMN odds_accepted INTEGER`,
	}

	for _, migration := range alterMigrations {
		if _, err := s.db.Exec(migration); err != nil {
			if !isDuplicateColumnError(err) {
				return fmt.Errorf("alter migration failed: %w", err)
			}
		}
	}

	indexMigrations := []string{
		`CREATE INDEX IF NOT EXISTS idx_races_created_at ON races(created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_races_strategy ON races(strategy, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_races_seed_hash ON races(seed_hash)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_hits_run_idx ON hits(run_id, idx)`,
	}

	for _, migration := range indexMigrations {
		if _, err := s.db.Exec(migration); err != nil {
			return fmt.Errorf("index migration failed: %w", err)
		}
	}

	return nil
}

// isDuplicateColumnError checks if the error is a duplicate column error
func isDuplicateColumnError(err error) bool {
	return strings.Contains(err.Error(), "duplicate column name")
}

func encodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// nullJSON encodes v, storing NULL for nil values.
func nullJSON(v any, isNil bool) (sql.NullString, error) {
	if isNil {
		return sql.NullString{}, nil
	}
	s, err := encodeJSON(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: s, Valid: true}, nil
}

func decodeJSON(s sql.NullString, out any) error {
	if !s.Valid || s.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(s.String), out)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// SaveRace saves a race result to the database
func (s *SQLiteDB) SaveRace(r *Race) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}

	scores, err := encodeJSON(r.Scores)
	if err != nil {
		return err
	}
	final, err := encodeJSON(r.Final)
	if err != nil {
		return err
	}
	winners, err := encodeJSON(r.Winners)
	if err != nil {
		return err
	}
	order, err := nullJSON(r.FinishOrder, r.FinishOrder == nil)
	if err != nil {
		return err
	}

	query := `INSERT INTO races (
		id, strategy, seed, seed_hash, scores_json, max_ticks, speed_range,
		track_length, ticks, final_json, winners_json, finish_order_json, engine_version
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.Exec(query,
		r.ID, r.Strategy, r.Seed, r.SeedHash, scores, r.MaxTicks, r.SpeedRange,
		r.TrackLength, r.Ticks, final, winners, order, r.EngineVersion,
	)
	return err
}

const raceColumns = `id, strategy, seed, seed_hash, scores_json, max_ticks, speed_range,
		track_length, ticks, final_json, winners_json, finish_order_json, engine_version, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRace(row rowScanner) (*Race, error) {
	var r Race
	var scores, final, winners, order sql.NullString

	err := row.Scan(
		&r.ID, &r.Strategy, &r.Seed, &r.SeedHash, &scores, &r.MaxTicks, &r.SpeedRange,
		&r.TrackLength, &r.Ticks, &final, &winners, &order, &r.EngineVersion, &r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := decodeJSON(scores, &r.Scores); err != nil {
		return nil, fmt.Errorf("decode scores: %w", err)
	}
	if err := decodeJSON(final, &r.Final); err != nil {
		return nil, fmt.Errorf("decode final distances: %w", err)
	}
	if err := decodeJSON(winners, &r.Winners); err != nil {
		return nil, fmt.Errorf("decode winners: %w", err)
	}
	if order.Valid {
		r.FinishOrder = &race.FinishOrder{}
		if err := decodeJSON(order, r.FinishOrder); err != nil {
			return nil, fmt.Errorf("decode finish order: %w", err)
		}
	}
	return &r, nil
}

// GetRace retrieves a race by ID
func (s *SQLiteDB) GetRace(id string) (*Race, error) {
	r, err := scanRace(s.db.QueryRow(`SELECT `+raceColumns+` FROM races WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return r, nil
}

// ListRaces retrieves races with pagination and filtering
func (s *SQLiteDB) ListRaces(query RacesQuery) (*RacesList, error) {
	whereClause := ""
	args := []any{}

	if query.Strategy != "" {
		whereClause = "WHERE strategy = ?"
		args = append(args, query.Strategy)
	}

	var totalCount int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM races "+whereClause, args...).Scan(&totalCount); err != nil {
		return nil, fmt.Errorf("failed to get total count: %w", err)
	}

	if query.PerPage <= 0 {
		query.PerPage = 50
	}
	if query.Page <= 0 {
		query.Page = 1
	}

	totalPages := (totalCount + query.PerPage - 1) / query.PerPage
	offset := (query.Page - 1) * query.PerPage

	mainQuery := `SELECT ` + raceColumns + ` FROM races ` + whereClause + `
		ORDER BY created_at DESC, rowid DESC
		LIMIT ? OFFSET ?`
	args = append(args, query.PerPage, offset)

	rows, err := s.db.Query(mainQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query races: %w", err)
	}
	defer rows.Close()

	races := []Race{}
	for rows.Next() {
		r, err := scanRace(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan race: %w", err)
		}
		races = append(races, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating races: %w", err)
	}

	return &RacesList{
		Races:      races,
		TotalCount: totalCount,
		Page:       query.Page,
		PerPage:    query.PerPage,
		TotalPages: totalPages,
	}, nil
}

// bookArgs encodes the mutable columns of a book.
func bookArgs(b *odds.Book) ([]any, error) {
	scores, err := nullJSON(b.Scores, b.Scores == nil)
	if err != nil {
		return nil, err
	}
	oddsJSON, err := nullJSON(b.Odds, b.Odds == nil)
	if err != nil {
		return nil, err
	}
	winners, err := nullJSON(b.Winners, b.Winners == nil)
	if err != nil {
		return nil, err
	}
	order, err := nullJSON(b.FinishOrder, b.FinishOrder == nil)
	if err != nil {
		return nil, err
	}
	raceID := sql.NullString{String: b.RaceID, Valid: b.RaceID != ""}
	now := time.Now()

	return []any{
		boolInt(b.LineupFinalized), scores, oddsJSON, b.HouseEdgeBps, nullTime(b.OddsSetAt),
		boolInt(b.Settled), nullTime(b.SettledAt), raceID, winners, order, nullTime(&now),
	}, nil
}

// SaveBook inserts a new book
func (s *SQLiteDB) SaveBook(b *odds.Book) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	args, err := bookArgs(b)
	if err != nil {
		return err
	}

	query := `INSERT INTO books (
		id, lanes, seed_commitment, max_ticks, speed_range, track_length,
		betting_opens_at, betting_closes_at,
		lineup_finalized, scores_json, odds_json, house_edge_bps, odds_set_at,
		settled, settled_at, race_id, winners_json, finish_order_json, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	head := []any{
		b.ID, b.Lanes, b.SeedCommitment.Hex(), b.Course.MaxTicks, b.Course.SpeedRange, b.Course.TrackLength,
		nullTime(&b.BettingOpensAt), nullTime(&b.BettingClosesAt),
	}
	_, err = s.db.Exec(query, append(head, args...)...)
	return err
}

// UpdateBook writes the lifecycle state of an existing book
func (s *SQLiteDB) UpdateBook(b *odds.Book) error {
	args, err := bookArgs(b)
	if err != nil {
		return err
	}

	query := `UPDATE books SET
		lineup_finalized = ?, scores_json = ?, odds_json = ?, house_edge_bps = ?, odds_set_at = ?,
		settled = ?, settled_at = ?, race_id = ?, winners_json = ?, finish_order_json = ?, updated_at = ?
		WHERE id = ?`

	res, err := s.db.Exec(query, append(args, b.ID)...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetBook retrieves a book by ID
func (s *SQLiteDB) GetBook(id string) (*odds.Book, error) {
	query := `SELECT
		id, lanes, seed_commitment, max_ticks, speed_range, track_length,
		betting_opens_at, betting_closes_at,
		lineup_finalized, scores_json, odds_json, house_edge_bps, odds_set_at,
		settled, settled_at, race_id, winners_json, finish_order_json
		FROM books WHERE id = ?`

	var b odds.Book
	var commitment, opens, closes, oddsSetAt, settledAt, raceID sql.NullString
	var scores, oddsJSON, winners, order sql.NullString
	var lineupInt, settledInt int

	err := s.db.QueryRow(query, id).Scan(
		&b.ID, &b.Lanes, &commitment, &b.Course.MaxTicks, &b.Course.SpeedRange, &b.Course.TrackLength,
		&opens, &closes,
		&lineupInt, &scores, &oddsJSON, &b.HouseEdgeBps, &oddsSetAt,
		&settledInt, &settledAt, &raceID, &winners, &order,
	)
	if err != nil {
		return nil, notFound(err)
	}

	opensAt, err := parseNullTime(opens)
	if err != nil || opensAt == nil {
		return nil, fmt.Errorf("invalid betting_opens_at for book %s: %v", id, err)
	}
	closesAt, err := parseNullTime(closes)
	if err != nil || closesAt == nil {
		return nil, fmt.Errorf("invalid betting_closes_at for book %s: %v", id, err)
	}
	b.BettingOpensAt, b.BettingClosesAt = *opensAt, *closesAt

	// books from before commitments were recorded keep a zero commitment,
	// which no revealed seed can match
	if commitment.Valid && commitment.String != "" {
		if b.SeedCommitment, err = engine.ParseSeed(commitment.String); err != nil {
			return nil, fmt.Errorf("invalid seed_commitment for book %s: %w", id, err)
		}
	}

	if b.OddsSetAt, err = parseNullTime(oddsSetAt); err != nil {
		return nil, err
	}
	if b.SettledAt, err = parseNullTime(settledAt); err != nil {
		return nil, err
	}

	b.LineupFinalized = lineupInt == 1
	b.Settled = settledInt == 1
	if raceID.Valid {
		b.RaceID = raceID.String
	}

	if err := decodeJSON(scores, &b.Scores); err != nil {
		return nil, fmt.Errorf("decode scores: %w", err)
	}
	if err := decodeJSON(oddsJSON, &b.Odds); err != nil {
		return nil, fmt.Errorf("decode odds: %w", err)
	}
	if err := decodeJSON(winners, &b.Winners); err != nil {
		return nil, fmt.Errorf("decode winners: %w", err)
	}
	if order.Valid {
		b.FinishOrder = &race.FinishOrder{}
		if err := decodeJSON(order, b.FinishOrder); err != nil {
			return nil, fmt.Errorf("decode finish order: %w", err)
		}
	}

	return &b, nil
}

// SaveRun saves a scan run to the database
func (s *SQLiteDB) SaveRun(run *Run) error {
	if run.IndexStart > MaxIndex || run.IndexEnd > MaxIndex {
		return fmt.Errorf("%w: %d..%d", ErrIndexOutOfRange, run.IndexStart, run.IndexEnd)
	}
	if run.ID == "" {
		run.ID = uuid.New().String()
	}

	laneWins, err := nullJSON(run.LaneWins, run.LaneWins == nil)
	if err != nil {
		return err
	}
	suggested, err := nullJSON(run.SuggestedOdds, run.SuggestedOdds == nil)
	if err != nil {
		return err
	}
	var accepted sql.NullInt64
	if run.OddsAccepted != nil {
		accepted = sql.NullInt64{Int64: int64(boolInt(*run.OddsAccepted)), Valid: true}
	}

	query := `INSERT INTO runs (
		id, strategy, base_seed_hash, index_start, index_end, config_json,
		target_lane, target_place, house_edge_bps, hit_limit, timed_out,
		hit_count, total_evaluated, failures, lane_wins_json, suggested_odds_json,
		odds_accepted, engine_version
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.Exec(query,
		run.ID, run.Strategy, run.BaseSeedHash, run.IndexStart, run.IndexEnd, run.ConfigJSON,
		run.TargetLane, run.TargetPlace, run.HouseEdgeBps, run.HitLimit, boolInt(run.TimedOut),
		run.HitCount, run.TotalEvaluated, run.Failures, laneWins, suggested,
		accepted, run.EngineVersion,
	)
	return err
}

// SaveHits saves multiple hits to the database
func (s *SQLiteDB) SaveHits(runID string, hits []Hit) error {
	if len(hits) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare("INSERT INTO hits (run_id, idx, seed, place, ticks) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, hit := range hits {
		if hit.Index > MaxIndex {
			return fmt.Errorf("%w: %d", ErrIndexOutOfRange, hit.Index)
		}
		if _, err := stmt.Exec(runID, hit.Index, hit.Seed, hit.Place, hit.Ticks); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetRun retrieves a run by ID
func (s *SQLiteDB) GetRun(id string) (*Run, error) {
	query := `SELECT
		id, strategy, base_seed_hash, index_start, index_end, config_json,
		target_lane, target_place, house_edge_bps, hit_limit, timed_out,
		hit_count, total_evaluated, failures, lane_wins_json, suggested_odds_json,
		odds_accepted, engine_version, created_at
		FROM runs WHERE id = ?`

	var run Run
	var timedOutInt int
	var laneWins, suggested sql.NullString
	var accepted sql.NullInt64

	err := s.db.QueryRow(query, id).Scan(
		&run.ID, &run.Strategy, &run.BaseSeedHash, &run.IndexStart, &run.IndexEnd, &run.ConfigJSON,
		&run.TargetLane, &run.TargetPlace, &run.HouseEdgeBps, &run.HitLimit, &timedOutInt,
		&run.HitCount, &run.TotalEvaluated, &run.Failures, &laneWins, &suggested,
		&accepted, &run.EngineVersion, &run.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}

	if err := decodeJSON(laneWins, &run.LaneWins); err != nil {
		return nil, fmt.Errorf("decode lane wins: %w", err)
	}
	if err := decodeJSON(suggested, &run.SuggestedOdds); err != nil {
		return nil, fmt.Errorf("decode suggested odds: %w", err)
	}
	if accepted.Valid {
		ok := accepted.Int64 == 1
		run.OddsAccepted = &ok
	}
	run.TimedOut = timedOutInt == 1

	return &run, nil
}

// GetRunHits retrieves hits for a run with pagination and the index gap to
// the previous hit
func (s *SQLiteDB) GetRunHits(runID string, page, perPage int) (*HitsPage, error) {
	var totalCount int
	err := s.db.QueryRow("SELECT COUNT(*) FROM hits WHERE run_id = ?", runID).Scan(&totalCount)
	if err != nil {
		return nil, fmt.Errorf("failed to get hits count: %w", err)
	}

	if perPage <= 0 {
		perPage = 100
	}
	if page <= 0 {
		page = 1
	}

	totalPages := (totalCount + perPage - 1) / perPage
	offset := (page - 1) * perPage

	query := `SELECT id, run_id, idx, seed, place, ticks
		FROM hits WHERE run_id = ?
		ORDER BY idx
		LIMIT ? OFFSET ?`

	rows, err := s.db.Query(query, runID, perPage, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query hits: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var hit Hit
		if err := rows.Scan(&hit.ID, &hit.RunID, &hit.Index, &hit.Seed, &hit.Place, &hit.Ticks); err != nil {
			return nil, fmt.Errorf("failed to scan hit: %w", err)
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating hits: %w", err)
	}

	withDelta := make([]HitWithDelta, len(hits))
	for i, hit := range hits {
		withDelta[i] = HitWithDelta{Hit: hit}

		if i > 0 {
			delta := hit.Index - hits[i-1].Index
			withDelta[i].DeltaIndex = &delta
		} else if page > 1 {
			// first hit of a later page: measure from the last hit of the previous page
			var prev uint64
			err := s.db.QueryRow(`SELECT idx FROM hits WHERE run_id = ? AND idx < ? ORDER BY idx DESC LIMIT 1`,
				runID, hit.Index).Scan(&prev)
			if err == nil {
				delta := hit.Index - prev
				withDelta[i].DeltaIndex = &delta
			}
		}
	}

	return &HitsPage{
		Hits:       withDelta,
		TotalCount: totalCount,
		Page:       page,
		PerPage:    perPage,
		TotalPages: totalPages,
	}, nil
}

var _ DB = (*SQLiteDB)(nil)
