package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"chatrelay/internal/app/db"
	"chatrelay/internal/app/presence"
	"chatrelay/internal/app/relay"
	"chatrelay/internal/app/user"
	"chatrelay/internal/configs"
	"chatrelay/internal/pkg/auth/jwt"
	"chatrelay/internal/pkg/errs"
)

// stubVerifier resolves tokens from a fixed map; the token string doubles as
// the lookup key so tests can connect as any user.
type stubVerifier struct {
	users map[string]user.Identity
}

func (s *stubVerifier) Verify(_ context.Context, token string) (user.Identity, *errs.CustomError) {
	if token == "" {
		return user.Identity{}, errs.NewError(errs.ErrTokenMissing)
	}

	ident, ok := s.users[token]
	if !ok {
		return user.Identity{}, errs.NewError(errs.ErrTokenInvalid)
	}
	return ident, nil
}

// memPresence is an in-memory PresenceStore.
type memPresence struct {
	mu      sync.Mutex
	records map[string]presence.Record
}

func newMemPresence() *memPresence {
	return &memPresence{records: make(map[string]presence.Record)}
}

func (m *memPresence) SetStatus(_ context.Context, userID string, status presence.Status, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[userID] = presence.Record{UserID: userID, Status: status, LastSeen: at}
	return nil
}

func (m *memPresence) GetPresence(_ context.Context, userID string) (presence.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[userID]
	if !ok {
		return presence.Record{}, db.ErrUserNotFound
	}
	return rec, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *memPresence, *configs.AppConfig) {
	t.Helper()

	cfg := &configs.AppConfig{
		Environment: "development",
		Port:        8080,
		JWTSecret:   "handler-test-secret",
	}

	store := newMemPresence()

	deps := &AppDeps{
		Registry: relay.NewRegistry(),
		Config:   cfg,
		Verifier: &stubVerifier{users: map[string]user.Identity{
			"alice-token": {ID: "u1", Username: "alice"},
			"bob-token":   {ID: "u2", Username: "bob"},
		}},
		Presence: store,
	}

	srv := httptest.NewServer(Router(deps))
	t.Cleanup(srv.Close)

	return srv, store, cfg
}

func wsURL(srv *httptest.Server, token string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token
}

func decodeResponse(t *testing.T, resp *http.Response) (int, json.RawMessage) {
	t.Helper()
	defer resp.Body.Close()

	var body struct {
		Code int             `json:"code"`
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body.Code, body.Data
}

type wireEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func readEnvelope(t *testing.T, conn *websocket.Conn) wireEnvelope {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var env wireEnvelope
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &env))
	return env
}

func TestHandshakeRejectedBeforeUpgrade(t *testing.T) {
	srv, _, _ := newTestServer(t)

	tests := []struct {
		name     string
		path     string
		wantCode int
	}{
		{"missing token", "/ws", errs.ErrTokenMissing},
		{"invalid token", "/ws?token=forged", errs.ErrTokenInvalid},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Get(srv.URL + tc.path)
			require.NoError(t, err)
			require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

			code, _ := decodeResponse(t, resp)
			require.Equal(t, tc.wantCode, code)
		})
	}
}

func TestRelayEndToEnd(t *testing.T) {
	srv, store, _ := newTestServer(t)

	alice, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "alice-token"), nil)
	require.NoError(t, err)
	defer alice.Close()

	bob, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "bob-token"), nil)
	require.NoError(t, err)
	defer bob.Close()

	// Alice is told that Bob came online; Bob gets no echo of his own arrival.
	env := readEnvelope(t, alice)
	require.Equal(t, "user:online", env.Type)

	var online struct {
		UserID   string `json:"userId"`
		Username string `json:"username"`
	}
	require.NoError(t, json.Unmarshal(env.Payload, &online))
	require.Equal(t, "u2", online.UserID)
	require.Equal(t, "bob", online.Username)

	// Alice messages Bob through the relay.
	sentAt := time.Now()
	require.NoError(t, alice.WriteJSON(map[string]any{
		"type":    "message:private",
		"payload": map[string]string{"recipientId": "u2", "content": "hi"},
	}))

	env = readEnvelope(t, bob)
	require.Equal(t, "message:receive", env.Type)

	var msg struct {
		SenderID   string    `json:"senderId"`
		SenderName string    `json:"senderName"`
		Content    string    `json:"content"`
		Timestamp  time.Time `json:"timestamp"`
	}
	require.NoError(t, json.Unmarshal(env.Payload, &msg))
	require.Equal(t, "u1", msg.SenderID)
	require.Equal(t, "alice", msg.SenderName)
	require.Equal(t, "hi", msg.Content)
	require.WithinDuration(t, sentAt, msg.Timestamp, 2*time.Second)

	// Typing signal follows the same path.
	require.NoError(t, alice.WriteJSON(map[string]any{
		"type":    "typing:start",
		"payload": map[string]string{"recipientId": "u2"},
	}))

	env = readEnvelope(t, bob)
	require.Equal(t, "typing:indicator", env.Type)

	var typing struct {
		UserID   string `json:"userId"`
		IsTyping bool   `json:"isTyping"`
	}
	require.NoError(t, json.Unmarshal(env.Payload, &typing))
	require.Equal(t, "u1", typing.UserID)
	require.True(t, typing.IsTyping)

	// Alice disconnects; Bob hears user:offline and the store records it.
	require.NoError(t, alice.Close())

	env = readEnvelope(t, bob)
	require.Equal(t, "user:offline", env.Type)

	var offline struct {
		UserID string `json:"userId"`
	}
	require.NoError(t, json.Unmarshal(env.Payload, &offline))
	require.Equal(t, "u1", offline.UserID)

	require.Eventually(t, func() bool {
		rec, err := store.GetPresence(context.Background(), "u1")
		return err == nil && rec.Status == presence.StatusOffline
	}, 2*time.Second, 20*time.Millisecond)
}

func TestPresenceRESTSurface(t *testing.T) {
	srv, store, cfg := newTestServer(t)

	// Seed a persisted record and read it back.
	require.NoError(t, store.SetStatus(context.Background(), "u1", presence.StatusAway, time.Now()))

	resp, err := http.Get(srv.URL + "/api/presence/u1")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	code, data := decodeResponse(t, resp)
	require.Equal(t, 0, code)

	var rec presence.Record
	require.NoError(t, json.Unmarshal(data, &rec))
	require.Equal(t, presence.StatusAway, rec.Status)

	// Unknown users are reported as such.
	resp, err = http.Get(srv.URL + "/api/presence/ghost")
	require.NoError(t, err)
	code, _ = decodeResponse(t, resp)
	require.Equal(t, errs.ErrUserNotFound, code)

	// Manual status change requires a signed-in identity.
	body := bytes.NewBufferString(`{"status":"busy"}`)
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/presence/status", body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	// With a valid token the write lands in the store.
	token, err := jwt.GenerateToken(&jwt.Payload{ID: "u1", Username: "alice"}, cfg.JWTSecret, time.Hour)
	require.NoError(t, err)

	body = bytes.NewBufferString(`{"status":"busy"}`)
	req, err = http.NewRequest(http.MethodPost, srv.URL+"/api/presence/status", body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	code, _ = decodeResponse(t, resp)
	require.Equal(t, 0, code)

	rec, getErr := store.GetPresence(context.Background(), "u1")
	require.NoError(t, getErr)
	require.Equal(t, presence.StatusBusy, rec.Status)

	// Offline is reserved for the relay's own disconnect transition.
	body = bytes.NewBufferString(`{"status":"offline"}`)
	req, err = http.NewRequest(http.MethodPost, srv.URL+"/api/presence/status", body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	code, _ = decodeResponse(t, resp)
	require.Equal(t, errs.ErrInvalidStatus, code)
}

func TestAPIRateLimitEnforced(t *testing.T) {
	srv, _, _ := newTestServer(t)

	// Hammer the REST surface well past the per-IP burst; the tail of the flood
	// must be refused with the rate-limit code.
	limited := false
	for i := 0; i < 3*APIBurst; i++ {
		resp, err := http.Get(srv.URL + "/api/presence/online")
		require.NoError(t, err)

		if resp.StatusCode == http.StatusTooManyRequests {
			code, _ := decodeResponse(t, resp)
			require.Equal(t, errs.ErrRateLimitExceeded, code)
			limited = true
			break
		}
		resp.Body.Close()
	}
	require.True(t, limited, "flood was never rate limited")
}

func TestOnlineSnapshotTracksConnections(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/presence/online")
	require.NoError(t, err)
	_, data := decodeResponse(t, resp)

	var snapshot struct {
		Users []user.Identity `json:"users"`
		Count int             `json:"count"`
	}
	require.NoError(t, json.Unmarshal(data, &snapshot))
	require.Zero(t, snapshot.Count)

	alice, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "alice-token"), nil)
	require.NoError(t, err)
	defer alice.Close()

	require.Eventually(t, func() bool {
		resp, err := http.Get(srv.URL + "/api/presence/online")
		if err != nil {
			return false
		}
		_, data := decodeResponse(t, resp)
		if err := json.Unmarshal(data, &snapshot); err != nil {
			return false
		}
		return snapshot.Count == 1 && len(snapshot.Users) == 1 && snapshot.Users[0].ID == "u1"
	}, 2*time.Second, 20*time.Millisecond)
}
