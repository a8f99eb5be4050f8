package risk

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS risk_configs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    max_leverage INTEGER NOT NULL,
    max_position_value REAL NOT NULL,
    max_total_exposure REAL NOT NULL,
    max_total_positions INTEGER NOT NULL,
    daily_loss_limit REAL NOT NULL,
    max_daily_trades INTEGER NOT NULL,
    consecutive_loss_limit INTEGER NOT NULL,
    pause_duration_sec INTEGER NOT NULL,
    is_active INTEGER NOT NULL DEFAULT 1,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS risk_daily (
    date TEXT PRIMARY KEY,
    pnl REAL NOT NULL DEFAULT 0,
    trades INTEGER NOT NULL DEFAULT 0,
    wins INTEGER NOT NULL DEFAULT 0,
    losses INTEGER NOT NULL DEFAULT 0
);
`

// Store persists risk limits and daily stats so a restart does not forget
// today's losses or a tightened config.
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if needed) the SQLite database at path and
// ensures the schema exists.
func OpenStore(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("risk store path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite prefers single writer.
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply risk schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying DB handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// LoadConfig returns the active config, or nil when none has been saved.
func (s *Store) LoadConfig() (*Config, error) {
	var (
		cfg      Config
		pauseSec int64
	)
	err := s.db.QueryRow(`
		SELECT max_leverage, max_position_value, max_total_exposure,
		       max_total_positions, daily_loss_limit, max_daily_trades,
		       consecutive_loss_limit, pause_duration_sec
		FROM risk_configs
		WHERE is_active = 1
		ORDER BY id DESC
		LIMIT 1
	`).Scan(
		&cfg.MaxLeverage,
		&cfg.MaxPositionValue,
		&cfg.MaxTotalExposure,
		&cfg.MaxTotalPositions,
		&cfg.DailyLossLimit,
		&cfg.MaxDailyTrades,
		&cfg.ConsecutiveLossLimit,
		&pauseSec,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	cfg.PauseDuration = time.Duration(pauseSec) * time.Second
	return &cfg, nil
}

// SaveConfig deactivates prior configs and inserts cfg as the active one.
func (s *Store) SaveConfig(cfg Config) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE risk_configs SET is_active = 0 WHERE is_active = 1`); err != nil {
		return err
	}
	_, err = tx.Exec(`
		INSERT INTO risk_configs (
			max_leverage, max_position_value, max_total_exposure,
			max_total_positions, daily_loss_limit, max_daily_trades,
			consecutive_loss_limit, pause_duration_sec, is_active
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1)
	`,
		cfg.MaxLeverage,
		cfg.MaxPositionValue,
		cfg.MaxTotalExposure,
		cfg.MaxTotalPositions,
		cfg.DailyLossLimit,
		cfg.MaxDailyTrades,
		cfg.ConsecutiveLossLimit,
		int64(cfg.PauseDuration/time.Second),
	)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// LoadDailyStats returns the stats row for date (YYYY-MM-DD), or nil.
func (s *Store) LoadDailyStats(date string) (*DailyStats, error) {
	stats := DailyStats{Date: date}
	err := s.db.QueryRow(`
		SELECT pnl, trades, wins, losses FROM risk_daily WHERE date = ?
	`, date).Scan(&stats.PnL, &stats.Trades, &stats.Wins, &stats.Losses)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// SaveDailyStats upserts one day's aggregates.
func (s *Store) SaveDailyStats(stats DailyStats) error {
	_, err := s.db.Exec(`
		INSERT INTO risk_daily (date, pnl, trades, wins, losses)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			pnl = excluded.pnl,
			trades = excluded.trades,
			wins = excluded.wins,
			losses = excluded.losses
	`, stats.Date, stats.PnL, stats.Trades, stats.Wins, stats.Losses)
	return err
}
