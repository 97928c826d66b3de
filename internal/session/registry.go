// Package session owns live rooms and routes player moves into them.
package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/fourinarow/fourinarow-server-go/internal/game"
	"github.com/fourinarow/fourinarow-server-go/internal/game/bot"
	"github.com/fourinarow/fourinarow-server-go/internal/protocol"
	"go.uber.org/zap"
)

var (
	// ErrAlreadyInRoom is returned when a connection is already seated.
	ErrAlreadyInRoom = errors.New("connection already in a room")
	// ErrRegistryClosed is returned after Shutdown.
	ErrRegistryClosed = errors.New("session registry closed")
)

const scoreTimeout = 5 * time.Second

// ScoreLedger persists wins.
type ScoreLedger interface {
	IncrementScore(ctx context.Context, userID string, amount int) error
}

// Options tune bot pacing and scoring.
type Options struct {
	BotName     string
	BotMinDelay time.Duration
	BotMaxDelay time.Duration
	WinPoints   int
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{
		BotName:     "Bot",
		BotMinDelay: 400 * time.Millisecond,
		BotMaxDelay: 1000 * time.Millisecond,
		WinPoints:   1,
	}
}

// Registry maps connections to rooms.
type Registry struct {
	mu     sync.RWMutex
	byConn map[string]*Room // connID -> room
	rooms  map[string]*Room // roomID -> room
	closed bool

	opts    Options
	engine  *bot.Engine
	ledger  ScoreLedger
	replays *game.ReplayRecorder
	logger  *zap.Logger

	rngMu sync.Mutex
	rng   *rand.Rand

	pending sync.WaitGroup
}

// NewRegistry creates a registry. replays may be nil.
func NewRegistry(opts Options, ledger ScoreLedger, replays *game.ReplayRecorder, logger *zap.Logger) *Registry {
	return &Registry{
		byConn:  make(map[string]*Room),
		rooms:   make(map[string]*Room),
		opts:    opts,
		engine:  bot.NewEngine(),
		ledger:  ledger,
		replays: replays,
		logger:  logger,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// StartRoom registers room under each human connection and sends the
// start message to every human seat.
func (r *Registry) StartRoom(room *Room) error {
	if room.BotBacked {
		if i := room.botSeat(); i >= 0 && room.Seats[i].DisplayName == "" {
			room.Seats[i].DisplayName = r.opts.BotName
		}
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRegistryClosed
	}
	for _, seat := range room.Seats {
		if seat.IsBot() {
			continue
		}
		if _, exists := r.byConn[seat.Conn.ID()]; exists {
			r.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrAlreadyInRoom, seat.Conn.ID())
		}
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	for i, seat := range room.Seats {
		if !seat.IsBot() {
			r.byConn[seat.Conn.ID()] = room
			room.connected[i] = true
		}
	}
	r.rooms[room.ID] = room
	r.mu.Unlock()

	r.replays.StartRecording(room.ID)
	r.replays.RecordState(room.ID, game.NewSnapshot(room.ID, 0, -1, game.Empty, room.state))

	for i, seat := range room.Seats {
		if seat.IsBot() {
			continue
		}
		opponent := room.Seats[1-i].DisplayName
		if err := seat.Conn.Send(protocol.NewStart(room.state, seat.Symbol, opponent)); err != nil {
			r.logger.Warn("failed to send start message",
				zap.String("room_id", room.ID),
				zap.String("conn_id", seat.Conn.ID()),
				zap.Error(err),
			)
		}
	}

	r.logger.Info("room started",
		zap.String("room_id", room.ID),
		zap.String("player_x", room.Seats[0].DisplayName),
		zap.String("player_o", room.Seats[1].DisplayName),
		zap.Bool("bot", room.BotBacked),
	)
	return nil
}

// OnMove handles one raw client message from conn.
func (r *Registry) OnMove(conn Conn, raw []byte) {
	room := r.RoomFor(conn.ID())
	if room == nil {
		return
	}

	cmd, err := protocol.Parse(raw)
	if err != nil {
		r.logger.Debug("malformed client message",
			zap.String("room_id", room.ID),
			zap.String("conn_id", conn.ID()),
			zap.Error(err),
		)
		if sendErr := conn.Send(protocol.NewInfo(protocol.InfoCouldNotProcess)); sendErr != nil {
			r.logger.Debug("failed to send info", zap.String("conn_id", conn.ID()), zap.Error(sendErr))
		}
		return
	}

	move, ok := cmd.(protocol.MoveCommand)
	if !ok {
		return
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	seat := room.seatOf(conn.ID())
	if seat < 0 || !room.connected[seat] {
		return
	}
	r.applyLocked(room, seat, move.Column)
}

// applyLocked plays column for seat and broadcasts the outcome. room.mu
// must be held.
func (r *Registry) applyLocked(room *Room, seat, column int) {
	mover := room.Seats[seat].Symbol

	var next game.State
	if !room.state.GameOver && room.state.CurrentPlayer != mover {
		next = room.state.Rejected()
	} else {
		next = game.ApplyMove(room.state, column)
	}

	logger := r.logger.With(
		zap.String("room_id", room.ID),
		zap.String("player", string(mover)),
		zap.Int("column", column),
	)

	if next.InvalidMove {
		logger.Debug("move rejected")
	} else {
		room.state = next
		room.ply++
		r.replays.RecordState(room.ID, game.NewSnapshot(room.ID, room.ply, column, mover, next))
		logger.Debug("move applied", zap.Int("ply", room.ply), zap.String("board", "\n"+next.Board.String()))
	}

	for _, err := range room.broadcastLocked(protocol.NewMove(column, next)) {
		logger.Debug("failed to broadcast move", zap.Error(err))
	}

	if next.InvalidMove {
		return
	}

	if next.GameOver {
		r.finishLocked(room, logger)
		return
	}

	if room.BotBacked && next.CurrentPlayer == room.botSymbol() {
		r.scheduleBotLocked(room)
	}
}

func (r *Registry) finishLocked(room *Room, logger *zap.Logger) {
	s := room.state
	logger.Info("game over",
		zap.String("winner", string(s.Winner)),
		zap.Bool("draw", s.IsDraw),
		zap.Int("ply", room.ply),
	)

	if r.replays.Enabled() {
		r.pending.Add(1)
		go func() {
			defer r.pending.Done()
			if err := r.replays.SaveReplay(room.ID); err != nil {
				r.logger.Warn("failed to save replay", zap.String("room_id", room.ID), zap.Error(err))
			}
		}()
	}

	if s.Winner == "" {
		return
	}
	for _, seat := range room.Seats {
		if seat.Symbol == s.Winner && !seat.IsBot() {
			r.awardWin(room.ID, seat.UserID)
		}
	}
}

// awardWin credits userID without blocking the room. Failures are logged
// and never retried.
func (r *Registry) awardWin(roomID, userID string) {
	if r.ledger == nil || userID == "" {
		return
	}

	r.pending.Add(1)
	go func() {
		defer r.pending.Done()

		ctx, cancel := context.WithTimeout(context.Background(), scoreTimeout)
		defer cancel()

		if err := r.ledger.IncrementScore(ctx, userID, r.opts.WinPoints); err != nil {
			r.logger.Error("failed to increment score",
				zap.String("room_id", roomID),
				zap.String("user_id", userID),
				zap.Error(err),
			)
			return
		}
		r.logger.Debug("score incremented",
			zap.String("room_id", roomID),
			zap.String("user_id", userID),
			zap.Int("points", r.opts.WinPoints),
		)
	}()
}

func (r *Registry) scheduleBotLocked(room *Room) {
	room.stopBotLocked()
	delay := r.botDelay()
	room.botTimer = time.AfterFunc(delay, func() { r.playBot(room) })

	r.logger.Debug("bot move scheduled",
		zap.String("room_id", room.ID),
		zap.Duration("delay", delay),
	)
}

func (r *Registry) botDelay() time.Duration {
	spread := r.opts.BotMaxDelay - r.opts.BotMinDelay
	if spread <= 0 {
		return r.opts.BotMinDelay
	}

	r.rngMu.Lock()
	defer r.rngMu.Unlock()
	return r.opts.BotMinDelay + time.Duration(r.rng.Int63n(int64(spread)))
}

// playBot runs when a scheduled bot move fires. The room may have moved on
// since scheduling, so every precondition is checked again.
func (r *Registry) playBot(room *Room) {
	room.mu.Lock()
	defer room.mu.Unlock()

	room.botTimer = nil
	seat := room.botSeat()
	if room.closed || seat < 0 || room.state.GameOver || room.state.CurrentPlayer != room.Seats[seat].Symbol {
		return
	}

	r.applyLocked(room, seat, r.engine.ChooseColumn(room.state))
}

// OnDisconnect drops the mapping for conn. The room closes once no human
// remains; the remaining player is not notified.
func (r *Registry) OnDisconnect(conn Conn) {
	r.mu.Lock()
	room, ok := r.byConn[conn.ID()]
	if ok {
		delete(r.byConn, conn.ID())
	}
	r.mu.Unlock()

	if !ok {
		return
	}

	room.mu.Lock()
	if seat := room.seatOf(conn.ID()); seat >= 0 {
		room.connected[seat] = false
	}
	closing := !room.closed && !room.connected[0] && !room.connected[1]
	if closing {
		room.closed = true
		room.stopBotLocked()
	}
	gameOver := room.state.GameOver
	room.mu.Unlock()

	r.logger.Info("player left room",
		zap.String("room_id", room.ID),
		zap.String("conn_id", conn.ID()),
		zap.Bool("room_closed", closing),
	)

	if !closing {
		return
	}

	r.mu.Lock()
	delete(r.rooms, room.ID)
	r.mu.Unlock()

	if !gameOver {
		r.replays.ClearReplay(room.ID)
	}
}

// RoomFor returns the room conn is seated in, or nil.
func (r *Registry) RoomFor(connID string) *Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byConn[connID]
}

// ActiveRooms returns the number of rooms with at least one human left.
func (r *Registry) ActiveRooms() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// Shutdown stops pending bot moves and waits for in-flight score and
// replay writes.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	rooms := make([]*Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		rooms = append(rooms, room)
	}
	r.mu.Unlock()

	for _, room := range rooms {
		room.mu.Lock()
		room.stopBotLocked()
		room.mu.Unlock()
	}

	done := make(chan struct{})
	go func() {
		r.pending.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until background score and replay writes finish.
func (r *Registry) Wait() {
	r.pending.Wait()
}
