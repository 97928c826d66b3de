package matchmaking

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fourinarow/fourinarow-server-go/internal/game"
	"github.com/fourinarow/fourinarow-server-go/internal/protocol"
	"github.com/fourinarow/fourinarow-server-go/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type stubConn struct {
	id string

	mu   sync.Mutex
	msgs []protocol.Message
}

func (c *stubConn) ID() string { return c.id }

func (c *stubConn) Send(msg protocol.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *stubConn) Close() error { return nil }

func (c *stubConn) messages() []protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Message(nil), c.msgs...)
}

type recordingStarter struct {
	mu    sync.Mutex
	rooms []*session.Room
	err   error
}

func (s *recordingStarter) StartRoom(room *session.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms = append(s.rooms, room)
	return s.err
}

func (s *recordingStarter) started() []*session.Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*session.Room(nil), s.rooms...)
}

func player(id string) session.Participant {
	return session.Participant{Conn: &stubConn{id: id}, UserID: "user-" + id, DisplayName: id}
}

func TestTwoWaitersArePairedImmediately(t *testing.T) {
	starter := &recordingStarter{}
	q := NewQueue(starter, 30*time.Millisecond, zap.NewNop())

	require.NoError(t, q.Enqueue(player("first")))
	assert.Equal(t, 1, q.Len())
	require.NoError(t, q.Enqueue(player("second")))

	rooms := starter.started()
	require.Len(t, rooms, 1)
	room := rooms[0]
	assert.False(t, room.BotBacked)
	assert.Equal(t, "first", room.Seats[0].Conn.ID())
	assert.Equal(t, game.PlayerX, room.Seats[0].Symbol)
	assert.Equal(t, "second", room.Seats[1].Conn.ID())
	assert.Equal(t, game.PlayerO, room.Seats[1].Symbol)
	assert.Equal(t, 0, q.Len())

	// Both timeouts were cancelled: no bot room appears later.
	assert.Never(t, func() bool {
		return len(starter.started()) > 1
	}, 100*time.Millisecond, 10*time.Millisecond)
}

func TestLoneWaiterGetsBotRoom(t *testing.T) {
	starter := &recordingStarter{}
	q := NewQueue(starter, 20*time.Millisecond, zap.NewNop())

	require.NoError(t, q.Enqueue(player("solo")))

	assert.Eventually(t, func() bool {
		return len(starter.started()) == 1
	}, time.Second, 5*time.Millisecond)

	room := starter.started()[0]
	assert.True(t, room.BotBacked)
	assert.Equal(t, "solo", room.Seats[0].Conn.ID())
	assert.Equal(t, game.PlayerX, room.Seats[0].Symbol)
	assert.True(t, room.Seats[1].IsBot())
	assert.Equal(t, game.PlayerO, room.Seats[1].Symbol)
	assert.Equal(t, 0, q.Len())
}

func TestThirdArrivalWaitsForBot(t *testing.T) {
	starter := &recordingStarter{}
	q := NewQueue(starter, 30*time.Millisecond, zap.NewNop())

	require.NoError(t, q.Enqueue(player("a")))
	require.NoError(t, q.Enqueue(player("b")))
	require.NoError(t, q.Enqueue(player("c")))
	assert.Equal(t, 1, q.Len())

	assert.Eventually(t, func() bool {
		return len(starter.started()) == 2
	}, time.Second, 5*time.Millisecond)

	rooms := starter.started()
	assert.False(t, rooms[0].BotBacked)
	assert.True(t, rooms[1].BotBacked)
	assert.Equal(t, "c", rooms[1].Seats[0].Conn.ID())
}

func TestRemoveCancelsTimeout(t *testing.T) {
	starter := &recordingStarter{}
	q := NewQueue(starter, 20*time.Millisecond, zap.NewNop())

	require.NoError(t, q.Enqueue(player("leaver")))
	assert.True(t, q.Remove("leaver"))
	assert.False(t, q.Remove("leaver"))
	assert.Equal(t, 0, q.Len())

	assert.Never(t, func() bool {
		return len(starter.started()) > 0
	}, 100*time.Millisecond, 10*time.Millisecond)
}

func TestRemoveUnknownConnection(t *testing.T) {
	q := NewQueue(&recordingStarter{}, time.Second, zap.NewNop())
	assert.False(t, q.Remove("nobody"))
}

func TestStaleTimerIsNoop(t *testing.T) {
	starter := &recordingStarter{}
	q := NewQueue(starter, time.Hour, zap.NewNop())

	require.NoError(t, q.Enqueue(player("a")))
	q.expire(999)

	assert.Empty(t, starter.started())
	assert.Equal(t, 1, q.Len())
	q.Close()
}

func TestEnqueueRejectsDuplicate(t *testing.T) {
	q := NewQueue(&recordingStarter{}, time.Hour, zap.NewNop())
	p := player("dup")

	require.NoError(t, q.Enqueue(p))
	assert.ErrorIs(t, q.Enqueue(p), ErrAlreadyQueued)
	assert.Equal(t, 1, q.Len())
	q.Close()
}

func TestCloseStopsTimersAndRejectsArrivals(t *testing.T) {
	starter := &recordingStarter{}
	q := NewQueue(starter, 20*time.Millisecond, zap.NewNop())

	require.NoError(t, q.Enqueue(player("waiting")))
	left := q.Close()

	require.Len(t, left, 1)
	assert.Equal(t, "waiting", left[0].Conn.ID())
	assert.ErrorIs(t, q.Enqueue(player("late")), ErrQueueClosed)
	assert.Never(t, func() bool {
		return len(starter.started()) > 0
	}, 80*time.Millisecond, 10*time.Millisecond)
}

func TestStarterErrorIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	starter := &recordingStarter{err: errors.New("registry closed")}
	q := NewQueue(starter, time.Hour, zap.New(core))

	require.NoError(t, q.Enqueue(player("a")))
	require.NoError(t, q.Enqueue(player("b")))

	assert.Equal(t, 1, logs.FilterMessage("failed to start room").Len())
	assert.Equal(t, 0, q.Len())
}

func TestDefaultTimeout(t *testing.T) {
	q := NewQueue(&recordingStarter{}, 0, zap.NewNop())
	assert.Equal(t, DefaultTimeout, q.timeout)
}

func TestConcurrentRemoveAndPairingNeverDoubleProcess(t *testing.T) {
	starter := &recordingStarter{}
	q := NewQueue(starter, 5*time.Millisecond, zap.NewNop())

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		p := player(string(rune('A'+i%26)) + string(rune('a'+i/26)))
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, q.Enqueue(p))
			q.Remove(p.Conn.ID())
		}()
	}
	wg.Wait()

	assert.Eventually(t, func() bool { return q.Len() == 0 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	seen := make(map[string]int)
	for _, room := range starter.started() {
		for _, seat := range room.Seats {
			if !seat.IsBot() {
				seen[seat.Conn.ID()]++
			}
		}
	}
	for id, count := range seen {
		assert.Equal(t, 1, count, "%s seated more than once", id)
	}
}

func TestQueueFeedsRegistry(t *testing.T) {
	reg := session.NewRegistry(session.DefaultOptions(), nil, nil, zap.NewNop())
	q := NewQueue(reg, time.Hour, zap.NewNop())

	a, b := player("alice"), player("bob")
	require.NoError(t, q.Enqueue(a))
	require.NoError(t, q.Enqueue(b))

	assert.Equal(t, 1, reg.ActiveRooms())
	for _, p := range []session.Participant{a, b} {
		msgs := p.Conn.(*stubConn).messages()
		require.Len(t, msgs, 1)
		_, ok := msgs[0].(protocol.Start)
		assert.True(t, ok)
	}
}
