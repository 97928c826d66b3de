package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
)

// SQLiteStore keeps players in a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." && path != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps :memory: databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS players (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		points INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_players_points ON players (points DESC);
	`)
	return err
}

func (s *SQLiteStore) CreatePlayer(ctx context.Context, username, passwordHash string) (*Player, error) {
	p := &Player{ID: uuid.NewString(), Username: username, PasswordHash: passwordHash}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO players (id, username, password_hash) VALUES (?, ?, ?)",
		p.ID, p.Username, p.PasswordHash,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return nil, ErrDuplicateUsername
		}
		return nil, fmt.Errorf("failed to insert player: %w", err)
	}
	return s.FindByID(ctx, p.ID)
}

func (s *SQLiteStore) FindByUsername(ctx context.Context, username string) (*Player, error) {
	return s.findOne(ctx, "username", username)
}

func (s *SQLiteStore) FindByID(ctx context.Context, id string) (*Player, error) {
	return s.findOne(ctx, "id", id)
}

func (s *SQLiteStore) findOne(ctx context.Context, column, value string) (*Player, error) {
	var p Player
	err := s.db.QueryRowContext(ctx,
		"SELECT id, username, password_hash, points, created_at FROM players WHERE "+column+" = ?",
		value,
	).Scan(&p.ID, &p.Username, &p.PasswordHash, &p.Points, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query player by %s: %w", column, err)
	}
	return &p, nil
}

func (s *SQLiteStore) IncrementScore(ctx context.Context, userID string, amount int) error {
	res, err := s.db.ExecContext(ctx, "UPDATE players SET points = points + ? WHERE id = ?", amount, userID)
	if err != nil {
		return fmt.Errorf("failed to increment score: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to increment score: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	query := "SELECT id, username, points FROM players ORDER BY points DESC, username ASC"
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query leaderboard: %w", err)
	}
	defer rows.Close()

	entries := []LeaderboardEntry{}
	for rows.Next() {
		var e LeaderboardEntry
		if err := rows.Scan(&e.ID, &e.Username, &e.Points); err != nil {
			return nil, fmt.Errorf("failed to scan leaderboard: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
