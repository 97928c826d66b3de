// Package user handles account registration and sign-in.
package user

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/fourinarow/fourinarow-server-go/internal/auth"
	"github.com/fourinarow/fourinarow-server-go/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// Account constraints.
const (
	MinUsernameLength = 3
	MaxUsernameLength = 15
	MinPasswordLength = 3
	MaxPasswordLength = 72 // bcrypt input limit
)

var (
	// ErrInvalidInput is returned when a username or password breaks the
	// length rules.
	ErrInvalidInput = errors.New("invalid username or password")
	// ErrInvalidCredentials is returned for an unknown user or wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUsernameTaken is returned when registering an existing name.
	ErrUsernameTaken = errors.New("username already taken")
)

// SignIn is the result of a successful authentication.
type SignIn struct {
	Token    string `json:"token"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// Manager coordinates accounts, password hashes and tokens.
type Manager struct {
	store      repository.PlayerStore
	tokens     *auth.TokenService
	bcryptCost int
	logger     *zap.Logger
}

// NewManager creates a user manager.
func NewManager(store repository.PlayerStore, tokens *auth.TokenService, bcryptCost int, logger *zap.Logger) *Manager {
	return &Manager{
		store:      store,
		tokens:     tokens,
		bcryptCost: bcryptCost,
		logger:     logger,
	}
}

// Validate checks account field lengths.
func Validate(username, password string) error {
	if n := utf8.RuneCountInString(username); n < MinUsernameLength || n > MaxUsernameLength {
		return fmt.Errorf("%w: username must be %d-%d characters", ErrInvalidInput, MinUsernameLength, MaxUsernameLength)
	}
	if n := len(password); n < MinPasswordLength || n > MaxPasswordLength {
		return fmt.Errorf("%w: password must be %d-%d bytes", ErrInvalidInput, MinPasswordLength, MaxPasswordLength)
	}
	return nil
}

// Register creates a new account.
func (m *Manager) Register(ctx context.Context, username, password string) (*repository.Player, error) {
	if err := Validate(username, password); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), m.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	player, err := m.store.CreatePlayer(ctx, username, string(hash))
	if errors.Is(err, repository.ErrDuplicateUsername) {
		return nil, ErrUsernameTaken
	}
	if err != nil {
		return nil, err
	}

	m.logger.Info("player registered",
		zap.String("user_id", player.ID),
		zap.String("username", player.Username),
	)
	return player, nil
}

// Authenticate checks a password and issues a token.
func (m *Manager) Authenticate(ctx context.Context, username, password string) (*SignIn, error) {
	if err := Validate(username, password); err != nil {
		return nil, err
	}

	player, err := m.store.FindByUsername(ctx, username)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(player.PasswordHash), []byte(password)); err != nil {
		m.logger.Debug("password mismatch", zap.String("username", username))
		return nil, ErrInvalidCredentials
	}

	token, err := m.tokens.Issue(auth.Identity{UserID: player.ID, DisplayName: player.Username})
	if err != nil {
		return nil, err
	}

	return &SignIn{Token: token, UserID: player.ID, Username: player.Username}, nil
}

// VerifyToken resolves a bearer token to a still-existing player.
func (m *Manager) VerifyToken(ctx context.Context, token string) (auth.Identity, error) {
	id, err := m.tokens.Verify(token)
	if err != nil {
		return auth.Identity{}, err
	}

	player, err := m.store.FindByID(ctx, id.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		return auth.Identity{}, fmt.Errorf("%w: unknown user", auth.ErrInvalidToken)
	}
	if err != nil {
		return auth.Identity{}, err
	}

	return auth.Identity{UserID: player.ID, DisplayName: player.Username}, nil
}

// Leaderboard returns players ordered by points.
func (m *Manager) Leaderboard(ctx context.Context, limit int) ([]repository.LeaderboardEntry, error) {
	return m.store.Leaderboard(ctx, limit)
}
