// Package storage provides SQLite-backed persistence for finalized rounds.
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rewired-gh/roundwatch/internal/models"
	_ "modernc.org/sqlite"
)

// Storage wraps a SQLite database of round features. Each Storage carries a
// session id that is stamped on rounds inserted without one.
type Storage struct {
	db        *sql.DB
	maxRounds int
	sessionID string
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/roundwatch/rounds.sqlite.
func New(maxRounds int, dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "roundwatch", "rounds.sqlite")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	s := &Storage{db: db, maxRounds: maxRounds, sessionID: uuid.NewString()}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

// SessionID returns the id stamped on rounds recorded by this process.
func (s *Storage) SessionID() string {
	return s.sessionID
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS round_features (
			id               TEXT PRIMARY KEY,
			session_id       TEXT NOT NULL,
			started_at       INTEGER NOT NULL,
			ended_at         INTEGER NOT NULL,
			duration_sec     REAL NOT NULL,
			cooldown_sec     REAL,
			start_reason     TEXT NOT NULL,
			end_reason       TEXT NOT NULL,
			game_ids         TEXT NOT NULL DEFAULT '[]',
			num_trades       INTEGER NOT NULL,
			num_side_bets    INTEGER NOT NULL,
			unique_players   INTEGER NOT NULL,
			unique_usernames INTEGER NOT NULL,
			total_side_bet   REAL NOT NULL,
			total_qty_buy    REAL NOT NULL,
			total_qty_sell   REAL NOT NULL,
			net_qty          REAL NOT NULL,
			tick_min         REAL,
			tick_max         REAL,
			max_wager        REAL,
			avg_bet_size     REAL NOT NULL,
			trade_intensity  REAL NOT NULL,
			volatility       REAL NOT NULL,
			recorded_at      INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_round_features_started_at ON round_features(started_at)`,
		`CREATE INDEX IF NOT EXISTS idx_round_features_session ON round_features(session_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// InsertRoundFeature validates and stores r, replacing any record with the
// same id, then trims the table to maxRounds.
func (s *Storage) InsertRoundFeature(r *models.RoundFeature) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("invalid round: %w", err)
	}
	sessionID := r.SessionID
	if sessionID == "" {
		sessionID = s.sessionID
	}
	gameIDs := r.GameIDs
	if gameIDs == nil {
		gameIDs = []string{}
	}
	gameIDsJSON, err := json.Marshal(gameIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal game ids: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.Exec(`
		INSERT OR REPLACE INTO round_features
			(`+roundCols+`, recorded_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.ID, sessionID, r.StartedAt.UnixNano(), r.EndedAt.UnixNano(),
		r.DurationSec, nullFloat(r.CooldownSec), string(r.StartReason), string(r.EndReason),
		string(gameIDsJSON),
		r.NumTrades, r.NumSideBets, r.UniquePlayers, r.UniqueUsernames,
		r.TotalSideBet, r.TotalQtyBuy, r.TotalQtySell, r.NetQty,
		nullFloat(r.TickMin), nullFloat(r.TickMax), nullFloat(r.MaxWager),
		r.AvgBetSize, r.TradeIntensity, r.Volatility,
		time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert round: %w", err)
	}

	if _, err = tx.Exec(`
		DELETE FROM round_features WHERE id NOT IN (
			SELECT id FROM round_features ORDER BY started_at DESC LIMIT ?
		)`, s.maxRounds); err != nil {
		return fmt.Errorf("failed to enforce round cap: %w", err)
	}

	return tx.Commit()
}

func (s *Storage) GetRound(id string) (*models.RoundFeature, error) {
	row := s.db.QueryRow(`SELECT `+roundCols+` FROM round_features WHERE id = ?`, id)
	r, err := scanRound(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("round not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get round: %w", err)
	}
	return r, nil
}

// GetRecentRounds returns up to k rounds, newest first.
func (s *Storage) GetRecentRounds(k int) ([]*models.RoundFeature, error) {
	return s.queryRounds(`SELECT `+roundCols+` FROM round_features ORDER BY started_at DESC LIMIT ?`, k)
}

// AllRounds returns every stored round in chronological order.
func (s *Storage) AllRounds() ([]*models.RoundFeature, error) {
	return s.queryRounds(`SELECT ` + roundCols + ` FROM round_features ORDER BY started_at ASC`)
}

func (s *Storage) CountRounds() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM round_features`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count rounds: %w", err)
	}
	return n, nil
}

// RotateRounds keeps at most maxRounds newest rounds by start time.
func (s *Storage) RotateRounds() error {
	_, err := s.db.Exec(`
		DELETE FROM round_features WHERE id NOT IN (
			SELECT id FROM round_features ORDER BY started_at DESC LIMIT ?
		)`, s.maxRounds)
	if err != nil {
		return fmt.Errorf("failed to rotate rounds: %w", err)
	}
	return nil
}

func (s *Storage) queryRounds(query string, args ...any) ([]*models.RoundFeature, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rounds: %w", err)
	}
	defer rows.Close()
	rounds := []*models.RoundFeature{}
	for rows.Next() {
		r, err := scanRound(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan round: %w", err)
		}
		rounds = append(rounds, r)
	}
	return rounds, rows.Err()
}

const roundCols = `id, session_id, started_at, ended_at, duration_sec, cooldown_sec,
	start_reason, end_reason, game_ids,
	num_trades, num_side_bets, unique_players, unique_usernames,
	total_side_bet, total_qty_buy, total_qty_sell, net_qty,
	tick_min, tick_max, max_wager, avg_bet_size, trade_intensity, volatility`

func scanRound(scan func(...any) error) (*models.RoundFeature, error) {
	var r models.RoundFeature
	var startedAtNano, endedAtNano int64
	var startReason, endReason, gameIDsJSON string
	var cooldown, tickMin, tickMax, maxWager sql.NullFloat64
	err := scan(
		&r.ID, &r.SessionID, &startedAtNano, &endedAtNano, &r.DurationSec, &cooldown,
		&startReason, &endReason, &gameIDsJSON,
		&r.NumTrades, &r.NumSideBets, &r.UniquePlayers, &r.UniqueUsernames,
		&r.TotalSideBet, &r.TotalQtyBuy, &r.TotalQtySell, &r.NetQty,
		&tickMin, &tickMax, &maxWager, &r.AvgBetSize, &r.TradeIntensity, &r.Volatility,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(gameIDsJSON), &r.GameIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal game ids: %w", err)
	}
	r.StartedAt = time.Unix(0, startedAtNano).UTC()
	r.EndedAt = time.Unix(0, endedAtNano).UTC()
	r.StartReason = models.BoundaryReason(startReason)
	r.EndReason = models.BoundaryReason(endReason)
	r.CooldownSec = floatPtr(cooldown)
	r.TickMin = floatPtr(tickMin)
	r.TickMax = floatPtr(tickMax)
	r.MaxWager = floatPtr(maxWager)
	return &r, nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	f := n.Float64
	return &f
}
