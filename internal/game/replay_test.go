package game

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// recordGame plays columns from an empty board and records every position.
func recordGame(t *testing.T, roomID string, columns ...int) *Replay {
	t.Helper()

	replay := NewReplay(roomID)
	s := NewState()
	for i, col := range columns {
		mover := s.CurrentPlayer
		s = ApplyMove(s, col)
		require.False(t, s.InvalidMove)
		replay.RecordState(NewSnapshot(roomID, i+1, col, mover, s))
	}
	return replay
}

func TestNewReplay(t *testing.T) {
	replay := NewReplay("room-123")
	assert.Equal(t, "room-123", replay.RoomID)
	assert.Equal(t, 0, replay.Size())
	assert.Nil(t, replay.Final())
	assert.Empty(t, replay.Moves())
	assert.NoError(t, replay.Verify())
}

func TestReplayMovesAndFinal(t *testing.T) {
	replay := NewReplay("room-123")
	replay.RecordState(NewSnapshot("room-123", 0, -1, Empty, NewState()))
	recorded := recordGame(t, "room-123", 3, 4, 3, 4, 3)
	for i := 0; i < recorded.Size(); i++ {
		replay.RecordState(recorded.GetStateAt(i))
	}

	assert.Equal(t, 6, replay.Size())
	assert.Equal(t, []int{3, 4, 3, 4, 3}, replay.Moves())

	final := replay.Final()
	require.NotNil(t, final)
	assert.Equal(t, 5, final.Ply)
	assert.Equal(t, PlayerX, final.Mover)
	assert.Equal(t, PlayerO, final.State.CurrentPlayer)
}

func TestReplayVerify(t *testing.T) {
	replay := recordGame(t, "room-123", 3, 4, 3, 4, 3, 4, 3)
	require.NoError(t, replay.Verify())

	tests := []struct {
		name   string
		tamper func(*Snapshot)
	}{
		{name: "wrong mover", tamper: func(s *Snapshot) { s.Mover = PlayerX }},
		{name: "wrong ply", tamper: func(s *Snapshot) { s.Ply = 7 }},
		{name: "illegal column", tamper: func(s *Snapshot) { s.Column = 9 }},
		{name: "edited board", tamper: func(s *Snapshot) { s.State.Board[0][0] = PlayerO }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			copied := recordGame(t, "room-123", 3, 4, 3)
			snap := *copied.Snapshots[1]
			tt.tamper(&snap)
			copied.Snapshots[1] = &snap

			err := copied.Verify()
			assert.ErrorIs(t, err, ErrReplayDiverged)
		})
	}
}

func TestReplayGetStateAt(t *testing.T) {
	replay := recordGame(t, "room-123", 0, 1, 2)

	assert.Equal(t, 1, replay.GetStateAt(0).Ply)
	assert.Equal(t, 3, replay.GetStateAt(2).Ply)
	assert.Nil(t, replay.GetStateAt(-1))
	assert.Nil(t, replay.GetStateAt(3))
}

func TestReplaySaveAndLoad(t *testing.T) {
	tempDir := t.TempDir()
	replay := recordGame(t, "room-123", 3, 4, 3, 4, 3, 4, 3)

	require.NoError(t, replay.SaveToFile(tempDir))

	_, err := os.Stat(filepath.Join(tempDir, "room-123.replay"))
	require.NoError(t, err)

	loaded, err := LoadReplayFromFile(tempDir, "room-123")
	require.NoError(t, err)

	assert.Equal(t, replay.RoomID, loaded.RoomID)
	require.Equal(t, replay.Size(), loaded.Size())
	for i := 0; i < replay.Size(); i++ {
		original := replay.GetStateAt(i)
		got := loaded.GetStateAt(i)
		assert.Equal(t, original.Ply, got.Ply)
		assert.Equal(t, original.Column, got.Column)
		assert.Equal(t, original.State, got.State)
	}

	last := loaded.GetStateAt(loaded.Size() - 1)
	assert.True(t, last.State.GameOver)
	assert.Equal(t, PlayerX, last.State.Winner)
}

var errDeviceFull = errors.New("device full")

// shortWriter accepts limit bytes and then fails every write.
type shortWriter struct {
	buf   bytes.Buffer
	limit int
}

func (w *shortWriter) Write(p []byte) (int, error) {
	if w.buf.Len()+len(p) > w.limit {
		return 0, errDeviceFull
	}
	return w.buf.Write(p)
}

func TestReplayWriteReportsFlushFailure(t *testing.T) {
	replay := recordGame(t, "room-123", 3, 4, 3, 4, 3, 4, 3)

	// Room for the gzip header only; the compressed body is written on close.
	w := &shortWriter{limit: 10}
	err := replay.writeLocked(w)
	require.Error(t, err)
	assert.ErrorIs(t, err, errDeviceFull)

	var full bytes.Buffer
	require.NoError(t, replay.writeLocked(&full))
	assert.Greater(t, full.Len(), 10)
}

func TestReplaySaveCreatesDirectory(t *testing.T) {
	replay := recordGame(t, "room-123", 0)

	dir := filepath.Join(t.TempDir(), "subdir", "another")
	require.NoError(t, replay.SaveToFile(dir))

	_, err := os.Stat(filepath.Join(dir, "room-123.replay"))
	assert.NoError(t, err)
}

func TestLoadReplayMissingFile(t *testing.T) {
	_, err := LoadReplayFromFile(t.TempDir(), "missing")
	assert.Error(t, err)
}

func TestReplayRecorderLifecycle(t *testing.T) {
	dir := t.TempDir()
	recorder := NewReplayRecorder(zap.NewNop(), dir)
	require.True(t, recorder.Enabled())

	recorder.StartRecording("room-1")
	s := ApplyMove(NewState(), 3)
	recorder.RecordState("room-1", NewSnapshot("room-1", 1, 3, PlayerX, s))
	recorder.RecordState("unknown-room", NewSnapshot("unknown-room", 1, 3, PlayerX, s))

	replay, ok := recorder.GetReplay("room-1")
	require.True(t, ok)
	assert.Equal(t, 1, replay.Size())

	_, ok = recorder.GetReplay("unknown-room")
	assert.False(t, ok)

	require.NoError(t, recorder.SaveReplay("room-1"))
	_, ok = recorder.GetReplay("room-1")
	assert.False(t, ok, "saved replays leave memory")

	loaded, err := recorder.LoadReplay("room-1")
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.Size())

	assert.Error(t, recorder.SaveReplay("room-1"))
}

func TestReplayRecorderClear(t *testing.T) {
	recorder := NewReplayRecorder(zap.NewNop(), t.TempDir())
	recorder.StartRecording("room-1")
	recorder.ClearReplay("room-1")

	_, ok := recorder.GetReplay("room-1")
	assert.False(t, ok)
}

func TestDisabledReplayRecorder(t *testing.T) {
	recorder := NewReplayRecorder(zap.NewNop(), "")
	assert.False(t, recorder.Enabled())

	recorder.StartRecording("room-1")
	_, ok := recorder.GetReplay("room-1")
	assert.False(t, ok)
	assert.NoError(t, recorder.SaveReplay("room-1"))

	var nilRecorder *ReplayRecorder
	assert.False(t, nilRecorder.Enabled())
	nilRecorder.RecordState("room-1", nil)
	nilRecorder.ClearReplay("room-1")
}
