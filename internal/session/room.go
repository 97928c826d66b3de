package session

import (
	"sync"
	"time"

	"github.com/fourinarow/fourinarow-server-go/internal/game"
	"github.com/fourinarow/fourinarow-server-go/internal/protocol"
	"github.com/google/uuid"
)

// Conn is the transport handle of one connected player.
type Conn interface {
	ID() string
	Send(msg protocol.Message) error
	Close() error
}

// Participant identifies whoever occupies a seat. Conn is nil for the bot.
type Participant struct {
	Conn        Conn
	UserID      string
	DisplayName string
}

// IsBot reports whether the participant is engine-controlled.
func (p Participant) IsBot() bool {
	return p.Conn == nil
}

// Seat binds a participant to a symbol.
type Seat struct {
	Participant
	Symbol game.Player
}

// Room is a pair of seats sharing one game state.
type Room struct {
	ID        string
	Seats     [2]Seat
	BotBacked bool
	CreatedAt time.Time

	mu        sync.Mutex
	state     game.State
	ply       int
	connected [2]bool
	closed    bool
	botTimer  *time.Timer
}

// NewHumanRoom seats x first and o second.
func NewHumanRoom(x, o Participant) *Room {
	return newRoom(x, o, false)
}

// NewBotRoom seats the human as X against the engine as O.
func NewBotRoom(human Participant) *Room {
	return newRoom(human, Participant{}, true)
}

func newRoom(x, o Participant, botBacked bool) *Room {
	return &Room{
		ID: uuid.NewString(),
		Seats: [2]Seat{
			{Participant: x, Symbol: game.PlayerX},
			{Participant: o, Symbol: game.PlayerO},
		},
		BotBacked: botBacked,
		CreatedAt: time.Now(),
		state:     game.NewState(),
	}
}

// State returns a copy of the current game state.
func (r *Room) State() game.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Closed reports whether every human has left.
func (r *Room) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// seatOf returns the seat index held by connID, or -1.
func (r *Room) seatOf(connID string) int {
	for i, seat := range r.Seats {
		if seat.Conn != nil && seat.Conn.ID() == connID {
			return i
		}
	}
	return -1
}

func (r *Room) botSeat() int {
	for i, seat := range r.Seats {
		if seat.IsBot() {
			return i
		}
	}
	return -1
}

func (r *Room) botSymbol() game.Player {
	if i := r.botSeat(); i >= 0 {
		return r.Seats[i].Symbol
	}
	return game.Empty
}

// broadcastLocked sends msg to every connected human. r.mu must be held.
func (r *Room) broadcastLocked(msg protocol.Message) []error {
	var errs []error
	for i, seat := range r.Seats {
		if seat.IsBot() || !r.connected[i] {
			continue
		}
		if err := seat.Conn.Send(msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func (r *Room) stopBotLocked() {
	if r.botTimer != nil {
		r.botTimer.Stop()
		r.botTimer = nil
	}
}
