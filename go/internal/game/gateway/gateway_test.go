package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/mafia/go/internal/game/engine"
	"github.com/mcdev12/mafia/go/internal/models"
)

type fakeEngine struct {
	mu    sync.Mutex
	calls []string
	err   error
	view  engine.View
	views chan engine.View
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		view:  engine.View{State: models.EmptyState(), Version: 1},
		views: make(chan engine.View, 8),
	}
}

func (f *fakeEngine) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeEngine) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeEngine) ID() string { return "session-1" }

func (f *fakeEngine) Snapshot() engine.View {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.view
}

func (f *fakeEngine) Subscribe() (<-chan engine.View, func()) { return f.views, func() {} }

func (f *fakeEngine) CreateRoom(name string) error { return f.record("create:" + name) }
func (f *fakeEngine) JoinRoom(name, code string) error {
	return f.record(fmt.Sprintf("join:%s:%s", name, code))
}
func (f *fakeEngine) CastVote(target string) error    { return f.record("vote:" + target) }
func (f *fakeEngine) NightAction(target string) error { return f.record("night:" + target) }
func (f *fakeEngine) SendChat(message string) error   { return f.record("chat:" + message) }
func (f *fakeEngine) StartGame() error                { return f.record("start") }
func (f *fakeEngine) ReplayGame() error               { return f.record("replay") }
func (f *fakeEngine) DisbandRoom() error              { return f.record("disband") }
func (f *fakeEngine) ClearError() error               { return f.record("clear") }

func newTestMux(e Engine) *http.ServeMux {
	mux := http.NewServeMux()
	NewService(e, DefaultConfig()).RegisterRoutes(mux)
	return mux
}

func do(t *testing.T, mux http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestShapeName(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		expect string
	}{
		{"trimmed", "  Alice  ", "Alice"},
		{"exactly twenty", "abcdefghijklmnopqrst", "abcdefghijklmnopqrst"},
		{"cut to twenty runes", "abcdefghijklmnopqrstuvwxyz", "abcdefghijklmnopqrst"},
		{"multibyte", strings.Repeat("é", 25), strings.Repeat("é", 20)},
		{"blank", "   ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, ShapeName(tt.input))
		})
	}
}

func TestShapeRoomCode(t *testing.T) {
	assert.Equal(t, "AB12", ShapeRoomCode(" ab12 "))
	assert.Equal(t, "", ShapeRoomCode("  "))
}

func TestHandler_Intents(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		body   string
		expect string
	}{
		{"create room", "/api/rooms", `{"name":"  Alice "}`, "create:Alice"},
		{"join room", "/api/rooms/join", `{"name":"Bob","room_code":"ab12"}`, "join:Bob:AB12"},
		{"vote", "/api/vote", `{"target":"p2"}`, "vote:p2"},
		{"night action", "/api/night-action", `{"target":"p3"}`, "night:p3"},
		{"chat", "/api/chat", `{"message":"hello"}`, "chat:hello"},
		{"start", "/api/game/start", ``, "start"},
		{"replay", "/api/game/replay", ``, "replay"},
		{"disband", "/api/room/disband", ``, "disband"},
		{"clear error", "/api/error/clear", ``, "clear"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newFakeEngine()
			rec := do(t, newTestMux(e), http.MethodPost, tt.path, tt.body)

			assert.Equal(t, http.StatusAccepted, rec.Code)
			assert.JSONEq(t, `{"status":"accepted"}`, rec.Body.String())
			assert.Equal(t, []string{tt.expect}, e.recorded())
		})
	}
}

func TestHandler_IntentErrors(t *testing.T) {
	t.Run("invalid intent", func(t *testing.T) {
		e := newFakeEngine()
		e.err = fmt.Errorf("%w: player name is required", engine.ErrInvalidIntent)

		rec := do(t, newTestMux(e), http.MethodPost, "/api/rooms", `{"name":""}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.JSONEq(t, `{"error":"invalid intent: player name is required"}`, rec.Body.String())
	})

	t.Run("engine closed", func(t *testing.T) {
		e := newFakeEngine()
		e.err = engine.ErrClosed

		rec := do(t, newTestMux(e), http.MethodPost, "/api/game/start", ``)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		e := newFakeEngine()

		rec := do(t, newTestMux(e), http.MethodPost, "/api/chat", `{"message":`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, e.recorded())
	})

	t.Run("wrong method", func(t *testing.T) {
		rec := do(t, newTestMux(newFakeEngine()), http.MethodGet, "/api/vote", ``)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestHandler_GetState(t *testing.T) {
	e := newFakeEngine()
	e.view.State.Identity = models.RoomIdentity{RoomCode: "AB12", PlayerID: "p1", IsInGame: true}
	e.view.TimeRemaining = 42

	rec := do(t, newTestMux(e), http.MethodGet, "/api/state", ``)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got engine.View
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "AB12", got.State.Identity.RoomCode)
	assert.Equal(t, 42, got.TimeRemaining)
	assert.Equal(t, models.ConnectionDisconnected, got.State.Connection)
}

func TestHandler_HealthAndStats(t *testing.T) {
	mux := newTestMux(newFakeEngine())

	rec := do(t, mux, http.MethodGet, "/health", ``)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec = do(t, mux, http.MethodGet, "/api/stats", ``)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"service":"mafia_sync","session_id":"session-1","connection":"DISCONNECTED","version":1,"viewers":0}`, rec.Body.String())
}

func TestServer_CORSPreflight(t *testing.T) {
	srv := NewServer(DefaultConfig(), newTestMux(newFakeEngine()))

	req := httptest.NewRequest(http.MethodOptions, "/api/vote", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)

	assert.Less(t, rec.Code, 300)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func readView(t *testing.T, conn *websocket.Conn) engine.View {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var v engine.View
	require.NoError(t, conn.ReadJSON(&v))
	return v
}

func TestViewHub_PushesViews(t *testing.T) {
	e := newFakeEngine()
	svc := NewService(e, DefaultConfig())
	mux := http.NewServeMux()
	svc.RegisterRoutes(mux)

	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Start(ctx)
		close(done)
	}()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/view"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	first := readView(t, conn)
	assert.Equal(t, uint64(1), first.Version)
	assert.Eventually(t, func() bool { return svc.hub.Viewers() == 1 }, 2*time.Second, 5*time.Millisecond)

	next := engine.View{State: models.EmptyState(), TimeRemaining: 9, Version: 2}
	next.State.Connection = models.ConnectionConnected
	e.views <- next

	got := readView(t, conn)
	assert.Equal(t, uint64(2), got.Version)
	assert.Equal(t, 9, got.TimeRemaining)
	assert.Equal(t, models.ConnectionConnected, got.State.Connection)

	cancel()
	<-done

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "viewer should be closed on shutdown, got %v", err)
	assert.Eventually(t, func() bool { return svc.hub.Viewers() == 0 }, 2*time.Second, 5*time.Millisecond)
}
