package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"chatrelay/internal/app/presence"
	"chatrelay/internal/app/user"
)

// fakeConn implements wsConn without a network. Written frames are recorded,
// reads block until fed or the conn is closed.
type fakeConn struct {
	mu        sync.Mutex
	frames    []fakeFrame
	readCh    chan []byte
	closeCh   chan struct{}
	closeOnce sync.Once
}

type fakeFrame struct {
	messageType int
	data        []byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		readCh:  make(chan []byte, 16),
		closeCh: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data, ok := <-c.readCh:
		if !ok {
			return 0, nil, errors.New("read channel closed")
		}
		return websocket.TextMessage, data, nil
	case <-c.closeCh:
		return 0, nil, errors.New("use of closed connection")
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	select {
	case <-c.closeCh:
		return errors.New("use of closed connection")
	default:
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, fakeFrame{messageType: messageType, data: data})
	return nil
}

func (c *fakeConn) WriteControl(messageType int, data []byte, _ time.Time) error {
	return c.WriteMessage(messageType, data)
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closeCh) })
	return nil
}

func (c *fakeConn) closed() bool {
	select {
	case <-c.closeCh:
		return true
	default:
		return false
	}
}

func (c *fakeConn) closeFrames() []fakeFrame {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []fakeFrame
	for _, f := range c.frames {
		if f.messageType == websocket.CloseMessage {
			out = append(out, f)
		}
	}
	return out
}

func (c *fakeConn) SetReadLimit(int64)                {}
func (c *fakeConn) SetReadDeadline(time.Time) error   { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error  { return nil }
func (c *fakeConn) SetPongHandler(func(string) error) {}

// fakePresence records presence writes for assertions.
type fakePresence struct {
	mu     sync.Mutex
	writes []presenceWrite
}

type presenceWrite struct {
	userID string
	status presence.Status
	at     time.Time
}

func (f *fakePresence) SetStatus(_ context.Context, userID string, status presence.Status, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, presenceWrite{userID: userID, status: status, at: at})
	return nil
}

// countFor returns how many writes were recorded for userID with the given status.
func (f *fakePresence) countFor(userID string, status presence.Status) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, w := range f.writes {
		if w.userID == userID && w.status == status {
			n++
		}
	}
	return n
}

// lastFor returns the most recent write for userID with the given status.
func (f *fakePresence) lastFor(userID string, status presence.Status) (presenceWrite, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := len(f.writes) - 1; i >= 0; i-- {
		if f.writes[i].userID == userID && f.writes[i].status == status {
			return f.writes[i], true
		}
	}
	return presenceWrite{}, false
}

// newTestSession builds a session on a fake connection without starting its pumps.
// Tests interact with it through dispatch/start/teardown and read outbound frames
// straight off the send channel.
func newTestSession(reg *Registry, pw PresenceWriter, ident user.Identity) (*Session, *fakeConn) {
	conn := newFakeConn()

	return &Session{
		id:       uuid.New().String(),
		registry: reg,
		presence: pw,
		conn:     conn,
		identity: ident,
		send:     make(chan []byte, sendQueueSize),
		done:     make(chan struct{}),
		logger:   zerolog.Nop(),
	}, conn
}

// recvEnvelope pops the next queued outbound frame for s, failing the test if
// none arrives in time.
func recvEnvelope(t *testing.T, s *Session) Envelope {
	t.Helper()

	select {
	case raw := <-s.send:
		var env Envelope
		require.NoError(t, json.Unmarshal(raw, &env))
		return env
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for outbound event")
		return Envelope{}
	}
}

// requireNoEnvelope asserts that s has nothing queued.
func requireNoEnvelope(t *testing.T, s *Session) {
	t.Helper()

	select {
	case raw := <-s.send:
		t.Fatalf("unexpected outbound event: %s", raw)
	case <-time.After(50 * time.Millisecond):
	}
}

// decodePayload re-marshals an Envelope payload into the concrete shape.
func decodePayload(t *testing.T, env Envelope, dst any) {
	t.Helper()

	raw, err := json.Marshal(env.Payload)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, dst))
}
