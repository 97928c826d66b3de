// Command autoplayer signs in as a player and plays games against whoever
// the server pairs it with, choosing moves with the bot engine.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fourinarow/fourinarow-server-go/internal/game"
	"github.com/fourinarow/fourinarow-server-go/internal/game/bot"
	"github.com/fourinarow/fourinarow-server-go/internal/protocol"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	serverURL = flag.String("server", "http://localhost:8080", "base URL of the game server")
	username  = flag.String("username", "autoplayer", "account username")
	password  = flag.String("password", "autoplayer", "account password")
	signup    = flag.Bool("signup", false, "create the account before signing in")
	games     = flag.Int("games", 1, "number of games to play")
	think     = flag.Duration("think", 250*time.Millisecond, "pause before each move")
)

// inbound is the union of every server message.
type inbound struct {
	Type             protocol.Type `json:"type"`
	Message          string        `json:"message"`
	Column           int           `json:"column"`
	GameState        *game.State   `json:"gameState"`
	PlayerSymbol     game.Player   `json:"playerSymbol"`
	OpponentUsername string        `json:"opponentUsername"`
}

// player tracks one game from the client's point of view.
type player struct {
	engine *bot.Engine
	symbol game.Player
	state  game.State
	over   bool
}

// handle updates the view and returns the column to play, or -1.
func (p *player) handle(msg inbound) int {
	switch msg.Type {
	case protocol.TypeStart:
		p.symbol = msg.PlayerSymbol
	case protocol.TypeMove:
	default:
		return -1
	}
	if msg.GameState == nil {
		return -1
	}
	p.state = *msg.GameState
	if p.state.GameOver {
		p.over = true
		return -1
	}
	if p.symbol == "" || p.state.CurrentPlayer != p.symbol {
		return -1
	}
	return p.engine.ChooseColumn(p.state)
}

func (p *player) result() string {
	switch {
	case p.state.IsDraw:
		return "draw"
	case p.state.Winner == p.symbol:
		return "win"
	default:
		return "loss"
	}
}

func main() {
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := &http.Client{Timeout: 10 * time.Second}

	if *signup {
		if err := postJSON(ctx, client, "/signup", nil); err != nil {
			logger.Warn("signup failed", zap.Error(err))
		}
	}

	var signIn struct {
		Token    string `json:"token"`
		UserID   string `json:"userId"`
		Username string `json:"username"`
	}
	if err := postJSON(ctx, client, "/signin", &signIn); err != nil {
		logger.Fatal("signin failed", zap.Error(err))
	}
	logger.Info("signed in", zap.String("user_id", signIn.UserID), zap.String("username", signIn.Username))

	tally := map[string]int{}
	for i := 0; i < *games && ctx.Err() == nil; i++ {
		outcome, err := playGame(ctx, signIn.Token, logger.With(zap.Int("game", i+1)))
		if err != nil {
			logger.Error("game aborted", zap.Error(err))
			tally["aborted"]++
			continue
		}
		tally[outcome]++
	}

	logger.Info("finished",
		zap.Int("wins", tally["win"]),
		zap.Int("losses", tally["loss"]),
		zap.Int("draws", tally["draw"]),
		zap.Int("aborted", tally["aborted"]),
	)
}

func playGame(ctx context.Context, token string, logger *zap.Logger) (string, error) {
	wsURL, err := websocketURL(*serverURL, token)
	if err != nil {
		return "", err
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return "", fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-finished:
		}
	}()

	p := &player{engine: bot.NewEngine()}
	for {
		var msg inbound
		if err := conn.ReadJSON(&msg); err != nil {
			return "", fmt.Errorf("read: %w", err)
		}

		switch msg.Type {
		case protocol.TypeInfo:
			logger.Info("server notice", zap.String("message", msg.Message))
			if msg.Message == protocol.InfoServerShutdown {
				return "", errors.New(msg.Message)
			}
			continue
		case protocol.TypeStart:
			logger.Info("game started",
				zap.String("symbol", string(msg.PlayerSymbol)),
				zap.String("opponent", msg.OpponentUsername),
			)
		}

		column := p.handle(msg)
		if p.over {
			outcome := p.result()
			logger.Info("game over", zap.String("result", outcome))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return outcome, nil
		}
		if column < 0 {
			continue
		}

		time.Sleep(*think)
		logger.Debug("playing", zap.Int("column", column))
		if err := conn.WriteJSON(protocol.NewMoveRequest(column)); err != nil {
			return "", fmt.Errorf("write: %w", err)
		}
	}
}

func postJSON(ctx context.Context, client *http.Client, path string, out any) error {
	body, err := json.Marshal(map[string]string{"username": *username, "password": *password})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(*serverURL, "/")+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var failure struct {
			Message string `json:"message"`
		}
		json.NewDecoder(resp.Body).Decode(&failure)
		return fmt.Errorf("%s: %s (%d)", path, failure.Message, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func websocketURL(base, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = url.Values{"token": {token}}.Encode()
	return u.String(), nil
}
