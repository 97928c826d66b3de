package game

import "fmt"

// Phase is the coarse lifecycle position of a game.
type Phase int

const (
	PhaseEmpty Phase = iota
	PhaseInProgress
	PhaseWon
	PhaseDraw
)

var phaseNames = map[Phase]string{
	PhaseEmpty:      "EMPTY",
	PhaseInProgress: "IN_PROGRESS",
	PhaseWon:        "WON",
	PhaseDraw:       "DRAW",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return fmt.Sprintf("PHASE_%d", int(p))
}

// State is the authoritative game state broadcast to clients.
//
// Winner and IsDraw are only set once GameOver is true, and never both.
// InvalidMove only ever appears on the result of a rejected ApplyMove.
type State struct {
	Board         Board  `json:"board"`
	CurrentPlayer Player `json:"currentPlayer"`
	GameOver      bool   `json:"gameOver"`
	Winner        Player `json:"winner,omitempty"`
	IsDraw        bool   `json:"isDraw,omitempty"`
	InvalidMove   bool   `json:"invalidMove,omitempty"`
}

// NewState returns an empty game with X to move.
func NewState() State {
	return State{
		Board:         NewBoard(),
		CurrentPlayer: PlayerX,
	}
}

// Phase derives the lifecycle phase from the state.
func (s State) Phase() Phase {
	switch {
	case s.GameOver && s.IsDraw:
		return PhaseDraw
	case s.GameOver:
		return PhaseWon
	case s.Board.Count() == 0:
		return PhaseEmpty
	default:
		return PhaseInProgress
	}
}

// Settled returns the state without the transient InvalidMove flag.
func (s State) Settled() State {
	s.InvalidMove = false
	return s
}

// Rejected returns s flagged as the result of a refused move.
func (s State) Rejected() State {
	s.InvalidMove = true
	return s
}

// ApplyMove attempts to drop the current player's piece into column.
// The input is never modified; a rejected move returns the original state
// with InvalidMove set and the turn does not advance.
func ApplyMove(s State, column int) State {
	if s.GameOver {
		return s.Rejected()
	}

	mover := s.CurrentPlayer
	board, err := s.Board.Drop(column, mover)
	if err != nil {
		return s.Rejected()
	}

	if board.HasFourInARow(mover) {
		return State{
			Board:         board,
			CurrentPlayer: mover,
			GameOver:      true,
			Winner:        mover,
		}
	}

	if board.IsFull() {
		return State{
			Board:         board,
			CurrentPlayer: mover,
			GameOver:      true,
			IsDraw:        true,
		}
	}

	return State{
		Board:         board,
		CurrentPlayer: Opponent(mover),
	}
}
