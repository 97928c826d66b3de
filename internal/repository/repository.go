// Package repository persists player accounts and scores.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fourinarow/fourinarow-server-go/internal/config"
	"go.uber.org/zap"
)

var (
	// ErrNotFound is returned when no player matches.
	ErrNotFound = errors.New("player not found")
	// ErrDuplicateUsername is returned when the username is taken.
	ErrDuplicateUsername = errors.New("username already taken")
)

// Player is a stored account.
type Player struct {
	ID           string
	Username     string
	PasswordHash string
	Points       int
	CreatedAt    time.Time
}

// LeaderboardEntry is one ranked player.
type LeaderboardEntry struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Points   int    `json:"points"`
}

// PlayerStore is implemented by every backend.
type PlayerStore interface {
	CreatePlayer(ctx context.Context, username, passwordHash string) (*Player, error)
	FindByUsername(ctx context.Context, username string) (*Player, error)
	FindByID(ctx context.Context, id string) (*Player, error)
	IncrementScore(ctx context.Context, userID string, amount int) error
	Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error)
	Ping(ctx context.Context) error
	Close() error
}

// Open connects to the backend selected by cfg.Driver and ensures the
// schema exists.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (PlayerStore, error) {
	switch cfg.Driver {
	case "postgres":
		pool, err := NewDB(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		store := NewPostgresStore(pool)
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return store, nil
	case "sqlite":
		store, err := NewSQLiteStore(cfg.Path)
		if err != nil {
			return nil, err
		}
		logger.Info("sqlite player store opened", zap.String("path", cfg.Path))
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}
