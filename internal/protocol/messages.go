// Package protocol defines the JSON messages exchanged over the game socket.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/fourinarow/fourinarow-server-go/internal/game"
)

// Type discriminates message payloads.
type Type string

const (
	TypeInfo  Type = "info"
	TypeStart Type = "start"
	TypeMove  Type = "move"
)

// ErrMalformed is returned for payloads that cannot be decoded.
var ErrMalformed = errors.New("malformed message")

// Info notices sent to clients.
const (
	InfoConnected       = "connected"
	InfoCouldNotProcess = "Could not process message"
	InfoAuthFailed      = "authentication failed"
	InfoServerShutdown  = "server shutting down"
)

// Message is any server-to-client payload.
type Message interface {
	MessageType() Type
}

// Info carries an acknowledgement or an error notice.
type Info struct {
	Type    Type   `json:"type"`
	Message string `json:"message"`
}

// NewInfo builds an info message.
func NewInfo(message string) Info {
	return Info{Type: TypeInfo, Message: message}
}

func (Info) MessageType() Type { return TypeInfo }

// Start tells a participant that its room has formed.
type Start struct {
	Type             Type        `json:"type"`
	GameState        game.State  `json:"gameState"`
	PlayerSymbol     game.Player `json:"playerSymbol"`
	OpponentUsername string      `json:"opponentUsername"`
}

// NewStart builds a start message.
func NewStart(state game.State, symbol game.Player, opponent string) Start {
	return Start{
		Type:             TypeStart,
		GameState:        state,
		PlayerSymbol:     symbol,
		OpponentUsername: opponent,
	}
}

func (Start) MessageType() Type { return TypeStart }

// Move echoes every attempted move together with the resulting state.
type Move struct {
	Type      Type       `json:"type"`
	Column    int        `json:"column"`
	GameState game.State `json:"gameState"`
}

// NewMove builds a move echo.
func NewMove(column int, state game.State) Move {
	return Move{Type: TypeMove, Column: column, GameState: state}
}

func (Move) MessageType() Type { return TypeMove }

// Command is a decoded client-to-server message.
type Command interface {
	command()
}

// MoveCommand asks to drop a piece into Column.
type MoveCommand struct {
	Column int
}

// UnknownCommand is any well-formed message whose type is not handled.
type UnknownCommand struct {
	Type Type
}

// MoveRequest is the wire form of a move sent by a client.
type MoveRequest struct {
	Type   Type `json:"type"`
	Column int  `json:"column"`
}

// NewMoveRequest builds the client message for column.
func NewMoveRequest(column int) MoveRequest {
	return MoveRequest{Type: TypeMove, Column: column}
}

func (MoveCommand) command()    {}
func (UnknownCommand) command() {}

type inbound struct {
	Type   Type            `json:"type"`
	Column json.RawMessage `json:"column"`
}

// Parse decodes a raw client message.
//
// Columns may be JSON numbers or numeric strings. Numbers without an exact
// integer value decode to -1 so the rules engine rejects the move instead
// of the protocol layer.
func Parse(raw []byte) (Command, error) {
	var msg inbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if msg.Type != TypeMove {
		return UnknownCommand{Type: msg.Type}, nil
	}

	column, err := parseColumn(msg.Column)
	if err != nil {
		return nil, err
	}
	return MoveCommand{Column: column}, nil
}

func parseColumn(raw json.RawMessage) (int, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, fmt.Errorf("%w: missing column", ErrMalformed)
	}

	var text string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return 0, fmt.Errorf("%w: column: %v", ErrMalformed, err)
		}
		text = strings.TrimSpace(text)
	} else {
		text = string(raw)
	}

	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: column %q is not a number", ErrMalformed, text)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || f < math.MinInt32 || f > math.MaxInt32 {
		return -1, nil
	}
	return int(f), nil
}

// Encode marshals an outbound message.
func Encode(m Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s message: %w", m.MessageType(), err)
	}
	return data, nil
}
