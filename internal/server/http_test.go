package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fourinarow/fourinarow-server-go/internal/config"
	"github.com/fourinarow/fourinarow-server-go/internal/repository"
	"github.com/fourinarow/fourinarow-server-go/internal/user"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeAccounts struct {
	registerErr error
	signIn      *user.SignIn
	signInErr   error
	board       []repository.LeaderboardEntry
	boardErr    error
	lastLimit   int
}

func (f *fakeAccounts) Register(_ context.Context, username, _ string) (*repository.Player, error) {
	if f.registerErr != nil {
		return nil, f.registerErr
	}
	return &repository.Player{ID: "id-" + username, Username: username}, nil
}

func (f *fakeAccounts) Authenticate(context.Context, string, string) (*user.SignIn, error) {
	return f.signIn, f.signInErr
}

func (f *fakeAccounts) Leaderboard(_ context.Context, limit int) ([]repository.LeaderboardEntry, error) {
	f.lastLimit = limit
	return f.board, f.boardErr
}

type fixedStats struct{ rooms, queued int }

func (s fixedStats) ActiveRooms() int { return s.rooms }
func (s fixedStats) Len() int         { return s.queued }

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func newTestRouter(accounts Accounts, pinger Pinger, origins []string) http.Handler {
	logger := zap.NewNop()
	stats := fixedStats{rooms: 2, queued: 1}
	api := NewAPI(accounts, stats, stats, pinger, "test", logger)
	ws := NewWebSocketHandler(config.ServerConfig{SendQueueSize: 8}, nil, nil, nil, logger)
	return NewRouter(api, ws, origins)
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestSignUp(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		body       string
		wantStatus int
		wantMsg    string
	}{
		{name: "ok", body: `{"username":"alice","password":"pw1"}`, wantStatus: http.StatusOK, wantMsg: "Signed up"},
		{name: "bad json", body: `{"username":`, wantStatus: http.StatusBadRequest, wantMsg: "Incorrect inputs"},
		{name: "invalid input", err: user.ErrInvalidInput, body: `{"username":"a","password":"pw1"}`, wantStatus: http.StatusBadRequest, wantMsg: "Incorrect inputs"},
		{name: "taken", err: user.ErrUsernameTaken, body: `{"username":"alice","password":"pw1"}`, wantStatus: http.StatusConflict, wantMsg: "Failed to signup"},
		{name: "store failure", err: errors.New("disk full"), body: `{"username":"alice","password":"pw1"}`, wantStatus: http.StatusInternalServerError, wantMsg: "Failed to signup"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestRouter(&fakeAccounts{registerErr: tt.err}, fakePinger{}, nil)
			rec, out := do(t, h, http.MethodPost, "/signup", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantMsg, out["message"])
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		})
	}
}

func TestSignIn(t *testing.T) {
	ok := &fakeAccounts{signIn: &user.SignIn{Token: "tok", UserID: "u1", Username: "alice"}}
	rec, out := do(t, newTestRouter(ok, fakePinger{}, nil), http.MethodPost, "/signin", `{"username":"alice","password":"pw1"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"token": "tok", "userId": "u1", "username": "alice"}, out)

	denied := &fakeAccounts{signInErr: user.ErrInvalidCredentials}
	rec, out = do(t, newTestRouter(denied, fakePinger{}, nil), http.MethodPost, "/signin", `{"username":"alice","password":"nope"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid credentials", out["message"])

	rec, _ = do(t, newTestRouter(ok, fakePinger{}, nil), http.MethodPost, "/signin", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLeaderboard(t *testing.T) {
	accounts := &fakeAccounts{board: []repository.LeaderboardEntry{
		{ID: "b", Username: "bob", Points: 3},
		{ID: "a", Username: "alice", Points: 1},
	}}
	h := newTestRouter(accounts, fakePinger{}, nil)

	rec, out := do(t, h, http.MethodGet, "/leaderboard", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, defaultLeaderboardLimit, accounts.lastLimit)

	entries, ok := out["leaderBoard"].([]any)
	require.True(t, ok)
	require.Len(t, entries, 2)
	assert.Equal(t, map[string]any{"id": "b", "username": "bob", "points": float64(3)}, entries[0])

	do(t, h, http.MethodGet, "/leaderboard?limit=5000", "")
	assert.Equal(t, maxLeaderboardLimit, accounts.lastLimit)

	rec, _ = do(t, h, http.MethodGet, "/leaderboard?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLeaderboardFailure(t *testing.T) {
	h := newTestRouter(&fakeAccounts{boardErr: errors.New("db down")}, fakePinger{}, nil)
	rec, out := do(t, h, http.MethodGet, "/leaderboard", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Error fetching leader board", out["message"])
}

func TestHealth(t *testing.T) {
	rec, out := do(t, newTestRouter(&fakeAccounts{}, fakePinger{}, nil), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", out["status"])
	assert.Equal(t, float64(2), out["activeRooms"])
	assert.Equal(t, float64(1), out["queued"])
	assert.Equal(t, "test", out["version"])

	rec, out = do(t, newTestRouter(&fakeAccounts{}, fakePinger{err: errors.New("gone")}, nil), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", out["status"])
	assert.Equal(t, "unavailable", out["database"])
}

func TestCORS(t *testing.T) {
	h := newTestRouter(&fakeAccounts{}, fakePinger{}, []string{"https://play.example.com"})

	req := httptest.NewRequest(http.MethodOptions, "/signin", nil)
	req.Header.Set("Origin", "https://play.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://play.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestUnknownRoute(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec := httptest.NewRecorder()
	newTestRouter(&fakeAccounts{}, fakePinger{}, nil).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
