package game

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// drawnBoard is a full board without four in a row for either side.
var drawnBoard = []string{
	"XXOOXXO",
	"OOXXOOX",
	"XXOOXXO",
	"OOXXOOX",
	"XXOOXXO",
	"OOXXOOX",
}

func TestNewState(t *testing.T) {
	s := NewState()
	assert.Equal(t, PlayerX, s.CurrentPlayer)
	assert.False(t, s.GameOver)
	assert.Equal(t, Empty, NewBoard()[0][0])
	assert.Equal(t, PhaseEmpty, s.Phase())
}

func TestApplyMoveAlternatesTurns(t *testing.T) {
	s := NewState()

	s = ApplyMove(s, 3)
	assert.False(t, s.InvalidMove)
	assert.Equal(t, PlayerO, s.CurrentPlayer)
	assert.Equal(t, PlayerX, s.Board[Rows-1][3])
	assert.Equal(t, PhaseInProgress, s.Phase())

	s = ApplyMove(s, 3)
	assert.Equal(t, PlayerX, s.CurrentPlayer)
	assert.Equal(t, PlayerO, s.Board[Rows-2][3])
}

func TestApplyMoveDoesNotMutateInput(t *testing.T) {
	s := NewState()
	before := s

	next := ApplyMove(s, 0)

	assert.Equal(t, before, s)
	assert.NotEqual(t, s.Board, next.Board)
}

func TestVerticalWinInColumnThree(t *testing.T) {
	s := NewState()
	for i := 0; i < 3; i++ {
		s = ApplyMove(s, 3)
		require.False(t, s.GameOver)
		s = ApplyMove(s, 4)
		require.False(t, s.GameOver)
	}

	s = ApplyMove(s, 3)

	assert.True(t, s.GameOver)
	assert.Equal(t, PlayerX, s.Winner)
	assert.Equal(t, PlayerX, s.CurrentPlayer, "winner stays reported as current player")
	assert.False(t, s.IsDraw)
	assert.Equal(t, PhaseWon, s.Phase())
}

func TestWinsInEveryOrientation(t *testing.T) {
	tests := []struct {
		name   string
		moves  []int
		winner Player
	}{
		{name: "horizontal", moves: []int{0, 0, 1, 1, 2, 2, 3}, winner: PlayerX},
		{name: "vertical for O", moves: []int{0, 1, 2, 1, 2, 1, 3, 1}, winner: PlayerO},
		// X builds a rising diagonal 0..3 while O fills support cells.
		{name: "diagonal up-right", moves: []int{0, 1, 1, 2, 2, 3, 2, 3, 3, 6, 3}, winner: PlayerX},
		// Mirror image of the above.
		{name: "diagonal up-left", moves: []int{6, 5, 5, 4, 4, 3, 4, 3, 3, 0, 3}, winner: PlayerX},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewState()
			for i, col := range tt.moves {
				require.False(t, s.GameOver, "game ended early at move %d", i)
				s = ApplyMove(s, col)
				require.False(t, s.InvalidMove, "move %d rejected", i)
			}
			assert.True(t, s.GameOver)
			assert.Equal(t, tt.winner, s.Winner)
			assert.True(t, s.Board.HasFourInARow(tt.winner))
		})
	}
}

func TestOutOfRangeColumnIsInvalid(t *testing.T) {
	s := ApplyMove(NewState(), 2)
	before := s

	for _, col := range []int{7, -1, 100} {
		next := ApplyMove(s, col)
		assert.True(t, next.InvalidMove)
		assert.Equal(t, before.Board, next.Board)
		assert.Equal(t, before.CurrentPlayer, next.CurrentPlayer)
		assert.Equal(t, before.GameOver, next.GameOver)
	}
}

func TestFullColumnIsInvalid(t *testing.T) {
	s := NewState()
	for i := 0; i < Rows; i++ {
		s = ApplyMove(s, 5)
		require.False(t, s.InvalidMove)
	}
	current := s.CurrentPlayer

	next := ApplyMove(s, 5)
	assert.True(t, next.InvalidMove)
	assert.Equal(t, s.Board, next.Board)
	assert.Equal(t, current, next.CurrentPlayer)
}

func TestMovesAfterGameOverAreRejected(t *testing.T) {
	s := NewState()
	for _, col := range []int{0, 0, 1, 1, 2, 2, 3} {
		s = ApplyMove(s, col)
	}
	require.True(t, s.GameOver)

	for col := 0; col < Columns; col++ {
		next := ApplyMove(s, col)
		assert.True(t, next.InvalidMove)
		assert.Equal(t, s.Board, next.Board)
		assert.Equal(t, s.Winner, next.Winner)
		assert.Equal(t, s.IsDraw, next.IsDraw)
		assert.True(t, next.GameOver)
	}
}

func TestDrawOnFullBoard(t *testing.T) {
	full := boardFromRows(t, drawnBoard...)
	require.True(t, full.IsFull())
	require.False(t, full.HasFourInARow(PlayerX))
	require.False(t, full.HasFourInARow(PlayerO))

	board := full
	board[0][6] = Empty
	s := State{Board: board, CurrentPlayer: PlayerO}

	s = ApplyMove(s, 6)

	assert.True(t, s.GameOver)
	assert.True(t, s.IsDraw)
	assert.Equal(t, "", string(s.Winner))
	assert.Equal(t, full, s.Board)
	assert.Equal(t, PhaseDraw, s.Phase())

	rejected := ApplyMove(s, 0)
	assert.True(t, rejected.InvalidMove)
	assert.True(t, rejected.IsDraw)
}

func TestRandomPlayoutsKeepInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for game := 0; game < 200; game++ {
		s := NewState()
		for !s.GameOver {
			legal := s.Board.LegalColumns()
			require.NotEmpty(t, legal)
			mover := s.CurrentPlayer
			before := s.Board.Count()

			s = ApplyMove(s, legal[rng.Intn(len(legal))])

			require.False(t, s.InvalidMove)
			require.Equal(t, before+1, s.Board.Count())
			if s.GameOver {
				if s.IsDraw {
					assert.Empty(t, string(s.Winner))
					assert.True(t, s.Board.IsFull())
				} else {
					assert.Equal(t, mover, s.Winner)
					assert.True(t, s.Board.HasFourInARow(mover))
				}
			} else {
				assert.Equal(t, Opponent(mover), s.CurrentPlayer)
			}
		}
	}
}

func TestSettledClearsInvalidMove(t *testing.T) {
	s := NewState().Rejected()
	assert.True(t, s.InvalidMove)
	assert.False(t, s.Settled().InvalidMove)
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "IN_PROGRESS", PhaseInProgress.String())
	assert.Equal(t, "PHASE_9", Phase(9).String())
}
