// Package server exposes the game over HTTP, WebSocket and gRPC.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/fourinarow/fourinarow-server-go/internal/repository"
	"github.com/fourinarow/fourinarow-server-go/internal/user"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
)

const (
	defaultLeaderboardLimit = 100
	maxLeaderboardLimit     = 1000
	maxBodyBytes            = 1 << 12
)

// Accounts is the account surface used by the HTTP API.
type Accounts interface {
	Register(ctx context.Context, username, password string) (*repository.Player, error)
	Authenticate(ctx context.Context, username, password string) (*user.SignIn, error)
	Leaderboard(ctx context.Context, limit int) ([]repository.LeaderboardEntry, error)
}

// Stats reports live counters for /health.
type Stats interface {
	ActiveRooms() int
}

// QueueStats reports matchmaking depth for /health.
type QueueStats interface {
	Len() int
}

// Pinger checks backing storage.
type Pinger interface {
	Ping(ctx context.Context) error
}

// API serves account, leaderboard and health endpoints.
type API struct {
	accounts Accounts
	rooms    Stats
	queue    QueueStats
	store    Pinger
	version  string
	started  time.Time
	logger   *zap.Logger
}

// NewAPI creates the HTTP API.
func NewAPI(accounts Accounts, rooms Stats, queue QueueStats, store Pinger, version string, logger *zap.Logger) *API {
	return &API{
		accounts: accounts,
		rooms:    rooms,
		queue:    queue,
		store:    store,
		version:  version,
		started:  time.Now(),
		logger:   logger.Named("http"),
	}
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type leaderboardResponse struct {
	LeaderBoard []repository.LeaderboardEntry `json:"leaderBoard"`
}

type healthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Uptime      string `json:"uptime"`
	ActiveRooms int    `json:"activeRooms"`
	Queued      int    `json:"queued"`
	Database    string `json:"database"`
}

// NewRouter wires every route.
func NewRouter(api *API, ws *WebSocketHandler, allowedOrigins []string) http.Handler {
	router := httprouter.New()

	router.GET("/ws", ws.Handle)
	router.POST("/signup", api.signUp)
	router.POST("/signin", api.signIn)
	router.GET("/leaderboard", api.leaderboard)
	router.GET("/health", api.health)

	router.HandleOPTIONS = true
	router.GlobalOPTIONS = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	router.PanicHandler = func(w http.ResponseWriter, r *http.Request, rec any) {
		api.logger.Error("panic in http handler",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Any("panic", rec),
			zap.Stack("stack"),
		)
		writeJSON(w, http.StatusInternalServerError, messageResponse{Message: "Internal server error"})
	}

	return withCORS(router, allowedOrigins)
}

func (a *API) signUp(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	creds, ok := decodeCredentials(w, r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: "Incorrect inputs"})
		return
	}

	_, err := a.accounts.Register(r.Context(), creds.Username, creds.Password)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, messageResponse{Message: "Signed up"})
	case errors.Is(err, user.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: "Incorrect inputs"})
	case errors.Is(err, user.ErrUsernameTaken):
		writeJSON(w, http.StatusConflict, messageResponse{Message: "Failed to signup"})
	default:
		a.logger.Error("signup failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, messageResponse{Message: "Failed to signup"})
	}
}

func (a *API) signIn(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	creds, ok := decodeCredentials(w, r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: "Invalid inputs"})
		return
	}

	result, err := a.accounts.Authenticate(r.Context(), creds.Username, creds.Password)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, result)
	case errors.Is(err, user.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: "Invalid inputs"})
	case errors.Is(err, user.ErrInvalidCredentials):
		writeJSON(w, http.StatusUnauthorized, messageResponse{Message: "Invalid credentials"})
	default:
		a.logger.Error("signin failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, messageResponse{Message: "Internal server error"})
	}
}

func (a *API) leaderboard(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	limit := defaultLeaderboardLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, messageResponse{Message: "limit must be a positive integer"})
			return
		}
		limit = min(n, maxLeaderboardLimit)
	}

	entries, err := a.accounts.Leaderboard(r.Context(), limit)
	if err != nil {
		a.logger.Error("leaderboard query failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, messageResponse{Message: "Error fetching leader board"})
		return
	}
	writeJSON(w, http.StatusOK, leaderboardResponse{LeaderBoard: entries})
}

func (a *API) health(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	resp := healthResponse{
		Status:      "ok",
		Version:     a.version,
		Uptime:      time.Since(a.started).Round(time.Second).String(),
		ActiveRooms: a.rooms.ActiveRooms(),
		Queued:      a.queue.Len(),
		Database:    "ok",
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.store.Ping(ctx); err != nil {
		a.logger.Warn("database ping failed", zap.Error(err))
		resp.Status = "degraded"
		resp.Database = "unavailable"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func decodeCredentials(w http.ResponseWriter, r *http.Request) (credentials, bool) {
	var creds credentials
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&creds); err != nil {
		return credentials{}, false
	}
	return creds, true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func withCORS(next http.Handler, allowed []string) http.Handler {
	allow := originChecker(allowed)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && allow(r) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Add("Vary", "Origin")
		}
		next.ServeHTTP(w, r)
	})
}
