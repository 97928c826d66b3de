// Package bot selects moves for the automated opponent.
//
// The engine is a one-ply heuristic: win if possible, block an immediate
// loss, otherwise score every legal column by its four-cell windows and
// penalise moves that hand the opponent a winning reply.
package bot

import (
	"github.com/fourinarow/fourinarow-server-go/internal/game"
)

// Window and position weights.
const (
	ScoreFour          = 10000
	ScoreThree         = 150
	ScoreTwo           = 15
	ScoreOpponentThree = -200
	ScoreOpponentTwo   = -10
	ScoreCenterPiece   = 25
	PenaltyLosingReply = 750
	windowLength       = 4
	fallbackColumn     = 0
)

// directions are the four line orientations as (row, column) steps.
var directions = [4][2]int{
	{0, 1},  // horizontal
	{1, 0},  // vertical
	{1, 1},  // diagonal down-right
	{1, -1}, // diagonal down-left
}

// Engine is stateless and safe for concurrent use.
type Engine struct{}

// NewEngine returns a bot engine.
func NewEngine() *Engine {
	return &Engine{}
}

// ChooseColumn picks a column for the side to move in s.
func (e *Engine) ChooseColumn(s game.State) int {
	return e.ChooseColumnFor(s.Board, s.CurrentPlayer)
}

// ChooseColumnFor picks a column for bot on board.
func (e *Engine) ChooseColumnFor(board game.Board, bot game.Player) int {
	opponent := game.Opponent(bot)
	legal := board.LegalColumns()
	if len(legal) == 0 {
		return fallbackColumn
	}

	if col, ok := winningColumn(board, legal, bot); ok {
		return col
	}
	if col, ok := winningColumn(board, legal, opponent); ok {
		return col
	}

	best := legal[0]
	bestScore := 0
	for i, col := range legal {
		score := e.scoreCandidate(board, col, bot)
		if i == 0 || better(col, score, best, bestScore) {
			best, bestScore = col, score
		}
	}
	return best
}

// scoreCandidate evaluates the position after bot drops into col.
func (e *Engine) scoreCandidate(board game.Board, col int, bot game.Player) int {
	next, err := board.Drop(col, bot)
	if err != nil {
		return 0
	}

	score := e.Evaluate(next, bot)
	if _, ok := winningColumn(next, next.LegalColumns(), game.Opponent(bot)); ok {
		score -= PenaltyLosingReply
	}
	return score
}

// Evaluate scores board from bot's point of view: the sum of every
// four-cell window plus a bonus for each bot piece in the center column.
func (e *Engine) Evaluate(board game.Board, bot game.Player) int {
	opponent := game.Opponent(bot)
	score := 0

	for r := 0; r < game.Rows; r++ {
		for c := 0; c < game.Columns; c++ {
			for _, d := range directions {
				endRow := r + d[0]*(windowLength-1)
				endCol := c + d[1]*(windowLength-1)
				if endRow < 0 || endRow >= game.Rows || endCol < 0 || endCol >= game.Columns {
					continue
				}
				score += scoreWindow(board, r, c, d, bot, opponent)
			}
		}
	}

	for r := 0; r < game.Rows; r++ {
		if board[r][game.CenterColumn] == bot {
			score += ScoreCenterPiece
		}
	}

	return score
}

func scoreWindow(board game.Board, row, col int, d [2]int, bot, opponent game.Player) int {
	var mine, theirs, empty int
	for i := 0; i < windowLength; i++ {
		switch board[row+d[0]*i][col+d[1]*i] {
		case bot:
			mine++
		case opponent:
			theirs++
		default:
			empty++
		}
	}

	switch {
	case mine == 4:
		return ScoreFour
	case mine == 3 && empty == 1:
		return ScoreThree
	case mine == 2 && empty == 2:
		return ScoreTwo
	case theirs == 3 && empty == 1:
		return ScoreOpponentThree
	case theirs == 2 && empty == 2:
		return ScoreOpponentTwo
	default:
		return 0
	}
}

// winningColumn returns the first column in cols where p completes four.
func winningColumn(board game.Board, cols []int, p game.Player) (int, bool) {
	for _, col := range cols {
		next, err := board.Drop(col, p)
		if err != nil {
			continue
		}
		if next.HasFourInARow(p) {
			return col, true
		}
	}
	return 0, false
}

// better orders candidates by score, then distance to the center, then index.
func better(col, score, bestCol, bestScore int) bool {
	if score != bestScore {
		return score > bestScore
	}
	dist, bestDist := centerDistance(col), centerDistance(bestCol)
	if dist != bestDist {
		return dist < bestDist
	}
	return col < bestCol
}

func centerDistance(col int) int {
	d := col - game.CenterColumn
	if d < 0 {
		return -d
	}
	return d
}
