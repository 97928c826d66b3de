package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/fourinarow/fourinarow-server-go/internal/config"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const pgUniqueViolation = "23505"

// NewDB creates a pgx connection pool and verifies connectivity.
func NewDB(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("connected to postgres",
		zap.String("host", poolCfg.ConnConfig.Host),
		zap.String("database", poolCfg.ConnConfig.Database),
		zap.Int32("max_conns", poolCfg.MaxConns),
	)
	return pool, nil
}

// PostgresStore keeps players in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an open pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the players table if needed.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS players (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			points INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_players_points ON players (points DESC);
	`)
	if err != nil {
		return fmt.Errorf("failed to migrate players table: %w", err)
	}
	return nil
}

// Stats exposes pool statistics.
func (s *PostgresStore) Stats() *pgxpool.Stat {
	return s.pool.Stat()
}

func (s *PostgresStore) CreatePlayer(ctx context.Context, username, passwordHash string) (*Player, error) {
	p := &Player{ID: uuid.NewString(), Username: username, PasswordHash: passwordHash}

	err := s.pool.QueryRow(ctx, `
		INSERT INTO players (id, username, password_hash)
		VALUES ($1, $2, $3)
		RETURNING points, created_at
	`, p.ID, p.Username, p.PasswordHash).Scan(&p.Points, &p.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, ErrDuplicateUsername
		}
		return nil, fmt.Errorf("failed to insert player: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) FindByUsername(ctx context.Context, username string) (*Player, error) {
	return s.findOne(ctx, "username", username)
}

func (s *PostgresStore) FindByID(ctx context.Context, id string) (*Player, error) {
	return s.findOne(ctx, "id", id)
}

func (s *PostgresStore) findOne(ctx context.Context, column, value string) (*Player, error) {
	var p Player
	err := s.pool.QueryRow(ctx,
		"SELECT id, username, password_hash, points, created_at FROM players WHERE "+column+" = $1",
		value,
	).Scan(&p.ID, &p.Username, &p.PasswordHash, &p.Points, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query player by %s: %w", column, err)
	}
	return &p, nil
}

func (s *PostgresStore) IncrementScore(ctx context.Context, userID string, amount int) error {
	tag, err := s.pool.Exec(ctx, "UPDATE players SET points = points + $1 WHERE id = $2", amount, userID)
	if err != nil {
		return fmt.Errorf("failed to increment score: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	query := "SELECT id, username, points FROM players ORDER BY points DESC, username ASC"
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query leaderboard: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (LeaderboardEntry, error) {
		var e LeaderboardEntry
		err := row.Scan(&e.ID, &e.Username, &e.Points)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan leaderboard: %w", err)
	}
	if entries == nil {
		entries = []LeaderboardEntry{}
	}
	return entries, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
