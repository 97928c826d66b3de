package game

import (
	"fmt"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Snapshot is one recorded position of a room's game.
type Snapshot struct {
	RoomID    string
	Ply       int
	Column    int
	Mover     Player
	State     State
	Timestamp time.Time
}

// NewSnapshot captures s after a move in column by mover. The transient
// InvalidMove flag is never recorded.
func NewSnapshot(roomID string, ply, column int, mover Player, s State) *Snapshot {
	return &Snapshot{
		RoomID:    roomID,
		Ply:       ply,
		Column:    column,
		Mover:     mover,
		State:     s.Settled(),
		Timestamp: time.Now(),
	}
}

// SerializationChecksum is a deterministic digest of a snapshot.
type SerializationChecksum struct {
	Hash    uint64
	Version int
}

func (c SerializationChecksum) String() string {
	return fmt.Sprintf("v%d:%016x", c.Version, c.Hash)
}

// ComputeChecksum hashes the deterministic fields of the snapshot.
// Timestamps are excluded so that two recordings of the same game agree.
func (snapshot *Snapshot) ComputeChecksum() SerializationChecksum {
	return SerializationChecksum{
		Hash:    xxhash.Sum64String(snapshot.buildDeterministicRepresentation()),
		Version: 1,
	}
}

func (snapshot *Snapshot) buildDeterministicRepresentation() string {
	var sb strings.Builder

	s := snapshot.State
	fmt.Fprintf(&sb, "ROOM:%s|%d|%d|%s\n", snapshot.RoomID, snapshot.Ply, snapshot.Column, snapshot.Mover)
	fmt.Fprintf(&sb, "STATE:%s|%t|%s|%t\n", s.CurrentPlayer, s.GameOver, s.Winner, s.IsDraw)

	for r := 0; r < Rows; r++ {
		sb.WriteString("ROW:")
		for c := 0; c < Columns; c++ {
			sb.WriteString(string(s.Board[r][c]))
		}
		sb.WriteByte('\n')
	}

	return sb.String()
}
