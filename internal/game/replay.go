package game

import (
	"compress/gzip"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrReplayDiverged is returned when a recorded position cannot be
// reproduced by replaying the recorded moves.
var ErrReplayDiverged = errors.New("replay diverged")

// Replay is the ordered list of snapshots recorded for one room. The first
// snapshot is normally the empty starting position (Column -1).
type Replay struct {
	RoomID    string
	Snapshots []*Snapshot
	mu        sync.RWMutex
}

// NewReplay creates an empty replay for a room.
func NewReplay(roomID string) *Replay {
	return &Replay{RoomID: roomID}
}

// RecordState appends a snapshot.
func (r *Replay) RecordState(snapshot *Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Snapshots = append(r.Snapshots, snapshot)
}

// Size returns the number of recorded snapshots.
func (r *Replay) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.Snapshots)
}

// GetStateAt returns the snapshot at index, or nil when out of range.
func (r *Replay) GetStateAt(index int) *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if index < 0 || index >= len(r.Snapshots) {
		return nil
	}
	return r.Snapshots[index]
}

// Final returns the last recorded snapshot.
func (r *Replay) Final() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.Snapshots) == 0 {
		return nil
	}
	return r.Snapshots[len(r.Snapshots)-1]
}

// Moves returns the played columns in order.
func (r *Replay) Moves() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	moves := make([]int, 0, len(r.Snapshots))
	for _, snap := range r.Snapshots {
		if snap.Column >= 0 {
			moves = append(moves, snap.Column)
		}
	}
	return moves
}

// Verify replays every recorded move from an empty board and checks that
// each recorded position, mover and ply matches.
func (r *Replay) Verify() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := NewState()
	ply := 0
	for i, snap := range r.Snapshots {
		if snap.Column >= 0 {
			if snap.Mover != s.CurrentPlayer {
				return fmt.Errorf("%w: snapshot %d moved by %s, expected %s", ErrReplayDiverged, i, snap.Mover, s.CurrentPlayer)
			}
			s = ApplyMove(s, snap.Column)
			if s.InvalidMove {
				return fmt.Errorf("%w: snapshot %d plays illegal column %d", ErrReplayDiverged, i, snap.Column)
			}
			ply++
		}
		if snap.Ply != ply {
			return fmt.Errorf("%w: snapshot %d has ply %d, expected %d", ErrReplayDiverged, i, snap.Ply, ply)
		}
		if snap.State != s {
			return fmt.Errorf("%w: snapshot %d position differs after ply %d", ErrReplayDiverged, i, ply)
		}
	}
	return nil
}

// SaveToFile writes the replay as a gzipped gob stream into directory.
func (r *Replay) SaveToFile(directory string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if err := os.MkdirAll(directory, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	filename := filepath.Join(directory, fmt.Sprintf("%s.replay", r.RoomID))
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	if err := r.writeLocked(file); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}
	return nil
}

// writeLocked encodes the replay as a gzipped gob stream. r.mu must be held.
func (r *Replay) writeLocked(w io.Writer) error {
	gzipWriter := gzip.NewWriter(w)
	encoder := gob.NewEncoder(gzipWriter)

	metadata := replayMetadata{
		RoomID:     r.RoomID,
		Timestamp:  time.Now(),
		Version:    1,
		StateCount: len(r.Snapshots),
	}
	if err := encoder.Encode(&metadata); err != nil {
		gzipWriter.Close()
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	for i, state := range r.Snapshots {
		record := replayRecord{
			Snapshot: *state,
			Checksum: state.ComputeChecksum().Hash,
		}
		if err := encoder.Encode(&record); err != nil {
			gzipWriter.Close()
			return fmt.Errorf("failed to encode state %d: %w", i, err)
		}
	}

	if err := gzipWriter.Close(); err != nil {
		return fmt.Errorf("failed to flush replay: %w", err)
	}
	return nil
}

// LoadReplayFromFile reads a replay written by SaveToFile and verifies the
// checksum of every snapshot.
func LoadReplayFromFile(directory, roomID string) (*Replay, error) {
	filename := filepath.Join(directory, fmt.Sprintf("%s.replay", roomID))

	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	gzipReader, err := gzip.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gzipReader.Close()

	decoder := gob.NewDecoder(gzipReader)

	var metadata replayMetadata
	if err := decoder.Decode(&metadata); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}

	if metadata.Version != 1 {
		return nil, fmt.Errorf("unsupported replay version: %d", metadata.Version)
	}

	replay := NewReplay(metadata.RoomID)

	for i := 0; i < metadata.StateCount; i++ {
		var record replayRecord
		if err := decoder.Decode(&record); err != nil {
			return nil, fmt.Errorf("failed to decode state %d: %w", i, err)
		}
		snapshot := record.Snapshot
		if got := snapshot.ComputeChecksum().Hash; got != record.Checksum {
			return nil, fmt.Errorf("checksum mismatch for state %d: %016x != %016x", i, got, record.Checksum)
		}
		replay.Snapshots = append(replay.Snapshots, &snapshot)
	}

	return replay, nil
}

type replayMetadata struct {
	RoomID     string
	Timestamp  time.Time
	Version    int
	StateCount int
}

type replayRecord struct {
	Snapshot Snapshot
	Checksum uint64
}

// ReplayRecorder keeps in-memory replays for live rooms and persists them
// when a game finishes.
type ReplayRecorder struct {
	logger  *zap.Logger
	mu      sync.RWMutex
	replays map[string]*Replay // roomID -> Replay
	saveDir string
}

// NewReplayRecorder creates a recorder writing into saveDir. An empty
// saveDir disables recording entirely.
func NewReplayRecorder(logger *zap.Logger, saveDir string) *ReplayRecorder {
	return &ReplayRecorder{
		logger:  logger,
		replays: make(map[string]*Replay),
		saveDir: saveDir,
	}
}

// Enabled reports whether the recorder persists anything.
func (rr *ReplayRecorder) Enabled() bool {
	return rr != nil && rr.saveDir != ""
}

// StartRecording begins recording a room.
func (rr *ReplayRecorder) StartRecording(roomID string) {
	if !rr.Enabled() {
		return
	}

	rr.mu.Lock()
	defer rr.mu.Unlock()

	rr.replays[roomID] = NewReplay(roomID)

	rr.logger.Debug("started replay recording", zap.String("room_id", roomID))
}

// RecordState appends a snapshot if the room is being recorded.
func (rr *ReplayRecorder) RecordState(roomID string, snapshot *Snapshot) {
	if !rr.Enabled() {
		return
	}

	rr.mu.RLock()
	replay := rr.replays[roomID]
	rr.mu.RUnlock()

	if replay == nil {
		return
	}

	replay.RecordState(snapshot)
}

// GetReplay returns the in-memory replay for a room.
func (rr *ReplayRecorder) GetReplay(roomID string) (*Replay, bool) {
	if rr == nil {
		return nil, false
	}

	rr.mu.RLock()
	defer rr.mu.RUnlock()

	replay, exists := rr.replays[roomID]
	return replay, exists
}

// SaveReplay writes a replay to disk and drops it from memory.
func (rr *ReplayRecorder) SaveReplay(roomID string) error {
	if !rr.Enabled() {
		return nil
	}

	rr.mu.Lock()
	replay, exists := rr.replays[roomID]
	if !exists {
		rr.mu.Unlock()
		return fmt.Errorf("no replay found for room %s", roomID)
	}
	delete(rr.replays, roomID)
	rr.mu.Unlock()

	if err := replay.SaveToFile(rr.saveDir); err != nil {
		return fmt.Errorf("failed to save replay: %w", err)
	}

	rr.logger.Info("saved replay to disk",
		zap.String("room_id", roomID),
		zap.Int("state_count", replay.Size()),
		zap.String("directory", rr.saveDir),
	)

	return nil
}

// LoadReplay reads a saved replay and checks it against the rules.
func (rr *ReplayRecorder) LoadReplay(roomID string) (*Replay, error) {
	replay, err := LoadReplayFromFile(rr.saveDir, roomID)
	if err != nil {
		return nil, err
	}
	if err := replay.Verify(); err != nil {
		return nil, err
	}
	return replay, nil
}

// ClearReplay discards a replay without saving it.
func (rr *ReplayRecorder) ClearReplay(roomID string) {
	if rr == nil {
		return
	}

	rr.mu.Lock()
	defer rr.mu.Unlock()

	delete(rr.replays, roomID)
}
