package game

import (
	"errors"
	"strconv"
	"strings"
)

// Board dimensions are fixed.
const (
	Rows    = 6
	Columns = 7

	// CenterColumn participates in the most four-cell windows.
	CenterColumn = Columns / 2
)

var (
	ErrColumnOutOfRange = errors.New("column out of range")
	ErrColumnFull       = errors.New("column is full")
)

// Player is a cell value and a seat symbol at the same time.
type Player string

const (
	Empty   Player = "."
	PlayerX Player = "X"
	PlayerO Player = "O"
)

// Opponent returns the other seat symbol. Empty has no opponent.
func Opponent(p Player) Player {
	switch p {
	case PlayerX:
		return PlayerO
	case PlayerO:
		return PlayerX
	default:
		return Empty
	}
}

// Board is a 6x7 grid. Row 0 is the top row, pieces fall towards row Rows-1.
// It is a value type: assigning or passing a Board copies every cell.
type Board [Rows][Columns]Player

// NewBoard returns a board with every cell empty.
func NewBoard() Board {
	var b Board
	for r := 0; r < Rows; r++ {
		for c := 0; c < Columns; c++ {
			b[r][c] = Empty
		}
	}
	return b
}

// Drop places p in the lowest empty cell of column and returns the new board.
// The receiver is never modified.
func (b Board) Drop(column int, p Player) (Board, error) {
	if column < 0 || column >= Columns {
		return b, ErrColumnOutOfRange
	}
	if b.ColumnFull(column) {
		return b, ErrColumnFull
	}

	for row := Rows - 1; row >= 0; row-- {
		if b[row][column] == Empty {
			b[row][column] = p
			return b, nil
		}
	}
	return b, ErrColumnFull
}

// ColumnFull reports whether the top cell of column is occupied.
// Out of range columns count as full.
func (b Board) ColumnFull(column int) bool {
	if column < 0 || column >= Columns {
		return true
	}
	return b[0][column] != Empty
}

// LegalColumns lists the playable columns in ascending order.
func (b Board) LegalColumns() []int {
	cols := make([]int, 0, Columns)
	for c := 0; c < Columns; c++ {
		if !b.ColumnFull(c) {
			cols = append(cols, c)
		}
	}
	return cols
}

// HasFourInARow reports whether p owns four contiguous cells in any row,
// column or diagonal.
func (b Board) HasFourInARow(p Player) bool {
	if p == Empty {
		return false
	}

	// Rows
	for r := 0; r < Rows; r++ {
		for c := 0; c <= Columns-4; c++ {
			if b[r][c] == p && b[r][c+1] == p && b[r][c+2] == p && b[r][c+3] == p {
				return true
			}
		}
	}

	// Columns
	for c := 0; c < Columns; c++ {
		for r := 0; r <= Rows-4; r++ {
			if b[r][c] == p && b[r+1][c] == p && b[r+2][c] == p && b[r+3][c] == p {
				return true
			}
		}
	}

	// Diagonal down-right
	for r := 0; r <= Rows-4; r++ {
		for c := 0; c <= Columns-4; c++ {
			if b[r][c] == p && b[r+1][c+1] == p && b[r+2][c+2] == p && b[r+3][c+3] == p {
				return true
			}
		}
	}

	// Diagonal down-left
	for r := 0; r <= Rows-4; r++ {
		for c := 3; c < Columns; c++ {
			if b[r][c] == p && b[r+1][c-1] == p && b[r+2][c-2] == p && b[r+3][c-3] == p {
				return true
			}
		}
	}

	return false
}

// IsFull reports whether no cell is empty.
func (b Board) IsFull() bool {
	for r := 0; r < Rows; r++ {
		for c := 0; c < Columns; c++ {
			if b[r][c] == Empty {
				return false
			}
		}
	}
	return true
}

// Count returns the number of occupied cells.
func (b Board) Count() int {
	n := 0
	for r := 0; r < Rows; r++ {
		for c := 0; c < Columns; c++ {
			if b[r][c] != Empty {
				n++
			}
		}
	}
	return n
}

// String renders the board one row per line with a column legend,
// suitable for debug logs.
func (b Board) String() string {
	var sb strings.Builder
	for r := 0; r < Rows; r++ {
		for c := 0; c < Columns; c++ {
			if c > 0 {
				sb.WriteByte(' ')
			}
			cell := b[r][c]
			if cell == "" {
				cell = Empty
			}
			sb.WriteString(string(cell))
		}
		sb.WriteByte('\n')
	}
	for c := 0; c < Columns; c++ {
		if c > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(strconv.Itoa(c))
	}
	return sb.String()
}
