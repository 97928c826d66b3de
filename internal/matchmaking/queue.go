// Package matchmaking pairs waiting players and falls back to a bot when
// nobody else shows up in time.
package matchmaking

import (
	"errors"
	"sync"
	"time"

	"github.com/fourinarow/fourinarow-server-go/internal/session"
	"go.uber.org/zap"
)

// DefaultTimeout is how long a lone waiter waits before getting a bot.
const DefaultTimeout = 10 * time.Second

var (
	// ErrQueueClosed is returned by Enqueue after Close.
	ErrQueueClosed = errors.New("matchmaking queue closed")
	// ErrAlreadyQueued is returned when the connection is already waiting.
	ErrAlreadyQueued = errors.New("connection already queued")
)

// RoomStarter receives rooms formed by the queue.
type RoomStarter interface {
	StartRoom(room *session.Room) error
}

type waiter struct {
	session.Participant
	seq      uint64
	queuedAt time.Time
	timer    *time.Timer
}

// Queue is a stack of waiters; the newest arrivals pair first.
type Queue struct {
	mu      sync.Mutex
	waiters []*waiter // most recent first
	nextSeq uint64
	closed  bool

	timeout time.Duration
	starter RoomStarter
	logger  *zap.Logger
}

// NewQueue creates a queue handing rooms to starter.
func NewQueue(starter RoomStarter, timeout time.Duration, logger *zap.Logger) *Queue {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Queue{
		timeout: timeout,
		starter: starter,
		logger:  logger,
	}
}

// Enqueue adds p to the front of the queue and arms its timeout. If two
// waiters are present afterwards, the two most recent are paired at once.
func (q *Queue) Enqueue(p session.Participant) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if q.indexOf(p.Conn.ID()) >= 0 {
		return ErrAlreadyQueued
	}

	q.nextSeq++
	w := &waiter{Participant: p, seq: q.nextSeq, queuedAt: time.Now()}
	seq := w.seq
	w.timer = time.AfterFunc(q.timeout, func() { q.expire(seq) })
	q.waiters = append([]*waiter{w}, q.waiters...)

	q.logger.Debug("player queued",
		zap.String("conn_id", p.Conn.ID()),
		zap.String("user_id", p.UserID),
		zap.Int("queue_len", len(q.waiters)),
	)

	for len(q.waiters) >= 2 {
		newest, older := q.waiters[0], q.waiters[1]
		q.waiters = q.waiters[2:]
		newest.timer.Stop()
		older.timer.Stop()

		room := session.NewHumanRoom(older.Participant, newest.Participant)
		q.logger.Info("players paired",
			zap.String("room_id", room.ID),
			zap.String("player_x", older.DisplayName),
			zap.String("player_o", newest.DisplayName),
			zap.Duration("waited", time.Since(older.queuedAt)),
		)
		q.startLocked(room)
	}
	return nil
}

// expire promotes a waiter to a bot room. A timer whose waiter has already
// left the queue does nothing.
func (q *Queue) expire(seq uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	idx := -1
	for i, w := range q.waiters {
		if w.seq == seq {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}

	w := q.waiters[idx]
	q.waiters = append(q.waiters[:idx], q.waiters[idx+1:]...)

	room := session.NewBotRoom(w.Participant)
	q.logger.Info("matchmaking timed out, starting bot game",
		zap.String("room_id", room.ID),
		zap.String("conn_id", w.Conn.ID()),
		zap.Duration("waited", time.Since(w.queuedAt)),
	)
	q.startLocked(room)
}

func (q *Queue) startLocked(room *session.Room) {
	if err := q.starter.StartRoom(room); err != nil {
		q.logger.Error("failed to start room",
			zap.String("room_id", room.ID),
			zap.Error(err),
		)
	}
}

// Remove drops a waiter that disconnected before being paired. It reports
// whether the connection was still queued.
func (q *Queue) Remove(connID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx := q.indexOf(connID)
	if idx < 0 {
		return false
	}

	w := q.waiters[idx]
	w.timer.Stop()
	q.waiters = append(q.waiters[:idx], q.waiters[idx+1:]...)

	q.logger.Debug("player left queue",
		zap.String("conn_id", connID),
		zap.Duration("waited", time.Since(w.queuedAt)),
	)
	return true
}

// Len returns the number of waiters.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiters)
}

// Close stops every pending timeout and rejects further arrivals. Waiting
// participants are returned so the caller can notify them.
func (q *Queue) Close() []session.Participant {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	left := make([]session.Participant, 0, len(q.waiters))
	for _, w := range q.waiters {
		w.timer.Stop()
		left = append(left, w.Participant)
	}
	q.waiters = nil
	return left
}

func (q *Queue) indexOf(connID string) int {
	for i, w := range q.waiters {
		if w.Conn.ID() == connID {
			return i
		}
	}
	return -1
}
