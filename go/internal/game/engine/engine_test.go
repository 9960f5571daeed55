package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/mafia/go/internal/game/connection/conntest"
	"github.com/mcdev12/mafia/go/internal/game/engine"
	"github.com/mcdev12/mafia/go/internal/game/wire"
	"github.com/mcdev12/mafia/go/internal/models"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type fixture struct {
	clock  *clockwork.FakeClock
	dialer *conntest.Dialer
	engine *engine.Engine
}

func start(t *testing.T, dialer *conntest.Dialer, opts ...engine.Option) *fixture {
	t.Helper()
	f := &fixture{clock: clockwork.NewFakeClock(), dialer: dialer}
	opts = append([]engine.Option{
		engine.WithClock(f.clock),
		engine.WithDialer(dialer),
		engine.WithLogger(zerolog.Nop()),
	}, opts...)
	f.engine = engine.New(engine.DefaultConfig(), opts...)
	t.Cleanup(func() { f.engine.Close() })
	return f
}

// connected starts an engine and waits for its first session.
func connected(t *testing.T, opts ...engine.Option) (*fixture, *conntest.Conn) {
	t.Helper()
	f := start(t, conntest.NewDialer(), opts...)
	conn := f.dialer.NextConn(t)
	f.eventually(t, func(v engine.View) bool { return v.State.Connection == models.ConnectionConnected })
	return f, conn
}

func (f *fixture) eventually(t *testing.T, cond func(engine.View) bool, msgAndArgs ...interface{}) {
	t.Helper()
	assert.Eventually(t, func() bool { return cond(f.engine.Snapshot()) }, waitFor, tick, msgAndArgs...)
}

func (f *fixture) waitTimer(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, f.clock.BlockUntilContext(ctx, 1))
}

func (f *fixture) advanceSecond(t *testing.T, want int) {
	t.Helper()
	f.waitTimer(t)
	f.clock.Advance(time.Second)
	f.eventually(t, func(v engine.View) bool { return v.TimeRemaining == want }, "countdown should reach %d", want)
}

func TestEngine_InitialState(t *testing.T) {
	f := start(t, conntest.NewDialer())

	v := f.engine.Snapshot()
	assert.Nil(t, v.State.GameState)
	assert.Nil(t, v.State.PlayerSelf)
	assert.Empty(t, v.State.Roster)
	assert.Empty(t, v.State.ChatLog)
	assert.False(t, v.State.Identity.IsInGame)
	assert.NotEmpty(t, f.engine.ID())

	f.dialer.NextConn(t)
	f.eventually(t, func(v engine.View) bool { return v.State.Connection == models.ConnectionConnected })
	assert.Equal(t, models.ConnectionConnected, f.engine.Status())
}

func TestEngine_CreateRoomAndIdentity(t *testing.T) {
	f, conn := connected(t)

	require.NoError(t, f.engine.CreateRoom("Alice"))
	assert.Eventually(t, func() bool { return len(conn.Written()) == 1 }, waitFor, tick)
	assert.JSONEq(t, `{"type":"new_room","name":"Alice"}`, conn.Written()[0])

	conn.Push(`{"type":"error","message":"Name taken"}`)
	f.eventually(t, func(v engine.View) bool { return v.State.LastError == "Name taken" })

	conn.Push(`{"type":"room_created","room_code":"AB12","player_id":"p1"}`)
	f.eventually(t, func(v engine.View) bool { return v.State.Identity.IsInGame })

	assert.Equal(t, models.RoomIdentity{RoomCode: "AB12", PlayerID: "p1", IsInGame: true}, f.engine.Identity())
	assert.Empty(t, f.engine.LastError())
}

func TestEngine_RosterThenChat(t *testing.T) {
	f, conn := connected(t)

	conn.Push(`{"type":"players_update","players":[{"id":"p1","name":"A","is_alive":true},{"id":"p2","name":"B","is_alive":true}]}`)
	conn.Push(`{"type":"chat_message","chat":{"sender":"A","message":"hi","timestamp":1,"is_server":false}}`)

	f.eventually(t, func(v engine.View) bool { return len(v.State.ChatLog) == 1 })

	v := f.engine.Snapshot()
	require.Len(t, v.State.Roster, 2)
	assert.Equal(t, "A", v.State.Roster[0].Name)
	assert.Equal(t, "B", v.State.Roster[1].Name)
	assert.Equal(t, models.ChatEntry{Sender: "A", Message: "hi", TimestampMillis: 1}, v.State.ChatLog[0])
}

func TestEngine_Countdown(t *testing.T) {
	t.Run("ticks to zero and stops", func(t *testing.T) {
		f, conn := connected(t)

		conn.Push(`{"type":"game_state","phase":"night","time_remaining":10}`)
		f.eventually(t, func(v engine.View) bool { return v.TimeRemaining == 10 })

		for want := 9; want >= 0; want-- {
			f.advanceSecond(t, want)
		}

		f.clock.Advance(5 * time.Second)
		time.Sleep(20 * time.Millisecond)
		v := f.engine.Snapshot()
		assert.Equal(t, 0, v.TimeRemaining)
		assert.Equal(t, 10, v.State.GameState.TimeRemainingSeconds, "authoritative value is not rewritten by ticks")
	})

	t.Run("rebases on every game state", func(t *testing.T) {
		f, conn := connected(t)

		conn.Push(`{"type":"game_state","phase":"day","time_remaining":10}`)
		f.eventually(t, func(v engine.View) bool { return v.TimeRemaining == 10 })
		for want := 9; want >= 7; want-- {
			f.advanceSecond(t, want)
		}

		conn.Push(`{"type":"game_state","phase":"day","time_remaining":5}`)
		f.eventually(t, func(v engine.View) bool { return v.TimeRemaining == 5 })

		f.advanceSecond(t, 4)
		f.advanceSecond(t, 3)
	})

	t.Run("disband stops the countdown", func(t *testing.T) {
		f, conn := connected(t)

		conn.Push(`{"type":"game_state","phase":"night","time_remaining":30}`)
		f.eventually(t, func(v engine.View) bool { return v.TimeRemaining == 30 })
		f.waitTimer(t)

		conn.Push(`{"type":"room_disbanded"}`)
		f.eventually(t, func(v engine.View) bool { return v.State.LastError != "" })

		f.clock.Advance(10 * time.Second)
		time.Sleep(20 * time.Millisecond)
		assert.Equal(t, 0, f.engine.Snapshot().TimeRemaining)
	})
}

func TestEngine_RoomDisbandedResetsState(t *testing.T) {
	f, conn := connected(t)

	conn.Push(`{"type":"room_created","room_code":"AB12","player_id":"p1"}`)
	conn.Push(`{"type":"player_info","id":"p1","name":"Alice","role":"Detective","is_alive":true,"is_host":true}`)
	conn.Push(`{"type":"players_update","players":[{"id":"p1","name":"Alice","is_alive":true}]}`)
	conn.Push(`{"type":"chat_message","chat":{"sender":"Alice","message":"hello"}}`)
	conn.Push(`{"type":"room_disbanded","message":"Host left the game"}`)

	f.eventually(t, func(v engine.View) bool { return v.State.LastError == "Host left the game" })

	want := models.EmptyState()
	want.Connection = models.ConnectionConnected
	want.LastError = "Host left the game"
	assert.Equal(t, want, f.engine.Snapshot().State)
}

func TestEngine_UnrecognizedFrameIsNoop(t *testing.T) {
	f, conn := connected(t)

	conn.Push(`{"type":"room_joined","room_code":"XY99","player_id":"p3"}`)
	f.eventually(t, func(v engine.View) bool { return v.State.Identity.IsInGame })
	before := f.engine.Snapshot()

	conn.Push(`{"type":"vote_cast","voter":"A","target":"B"}`)
	conn.Push(`{"type":"game_state"}`)
	conn.Push(`{"type":"error","message":"Not your turn."}`)
	f.eventually(t, func(v engine.View) bool { return v.State.LastError == "Not your turn." })

	after := f.engine.Snapshot()
	assert.Equal(t, before.Version+1, after.Version)
	assert.Equal(t, before.State.Identity, after.State.Identity)
}

func TestEngine_IntentsDroppedWhileDisconnected(t *testing.T) {
	dialer := conntest.NewDialer()
	dialer.FailAttempt(1, errors.New("connection refused"))
	f := start(t, dialer)

	f.eventually(t, func(v engine.View) bool {
		return v.State.Connection == models.ConnectionDisconnected && v.State.LastError == "Connection error"
	})

	require.NoError(t, f.engine.CreateRoom("Alice"))
	require.NoError(t, f.engine.CastVote("p2"))
	require.NoError(t, f.engine.StartGame())

	f.waitTimer(t)
	f.clock.Advance(3 * time.Second)
	conn := dialer.NextConn(t)
	f.eventually(t, func(v engine.View) bool { return v.State.Connection == models.ConnectionConnected })
	assert.Empty(t, f.engine.LastError(), "connecting clears the connection error")

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, conn.Written(), "nothing is replayed after reconnecting")
}

func TestEngine_TransportFaultAndReconnect(t *testing.T) {
	f, conn := connected(t)

	conn.Push(`{"type":"room_created","room_code":"AB12","player_id":"p1"}`)
	f.eventually(t, func(v engine.View) bool { return v.State.Identity.IsInGame })

	conn.Fail(errors.New("connection reset by peer"))
	f.eventually(t, func(v engine.View) bool {
		return v.State.Connection == models.ConnectionDisconnected && v.State.LastError == "Connection error"
	})
	assert.True(t, conn.IsClosed())
	assert.Equal(t, "AB12", f.engine.Identity().RoomCode, "identity survives a transport fault")

	f.waitTimer(t)
	f.clock.Advance(3 * time.Second)
	next := f.dialer.NextConn(t)
	f.eventually(t, func(v engine.View) bool { return v.State.Connection == models.ConnectionConnected })
	assert.Empty(t, f.engine.LastError())

	require.NoError(t, f.engine.SendChat("back"))
	assert.Eventually(t, func() bool { return len(next.Written()) == 1 }, waitFor, tick)
	assert.JSONEq(t, `{"type":"chat","message":"back"}`, next.Written()[0])
}

func TestEngine_IntentCommands(t *testing.T) {
	f, conn := connected(t)

	require.NoError(t, f.engine.JoinRoom("Bob", "AB12"))
	require.NoError(t, f.engine.CastVote("p2"))
	require.NoError(t, f.engine.NightAction("p3"))
	require.NoError(t, f.engine.SendChat("hello"))
	require.NoError(t, f.engine.StartGame())
	require.NoError(t, f.engine.ReplayGame())
	require.NoError(t, f.engine.DisbandRoom())

	want := []string{
		`{"type":"join_room","name":"Bob","room_code":"AB12"}`,
		`{"type":"vote","target":"p2"}`,
		`{"type":"night_action","target":"p3"}`,
		`{"type":"chat","message":"hello"}`,
		`{"type":"start_game"}`,
		`{"type":"replay_game"}`,
		`{"type":"disband_room"}`,
	}
	assert.Eventually(t, func() bool { return len(conn.Written()) == len(want) }, waitFor, tick)
	for i, frame := range conn.Written() {
		assert.JSONEq(t, want[i], frame)
	}
}

func TestEngine_InvalidIntents(t *testing.T) {
	f := start(t, conntest.NewDialer())

	tests := []struct {
		name string
		call func() error
	}{
		{"blank name", func() error { return f.engine.CreateRoom("  ") }},
		{"join without code", func() error { return f.engine.JoinRoom("Alice", "") }},
		{"join without name", func() error { return f.engine.JoinRoom("", "AB12") }},
		{"vote without target", func() error { return f.engine.CastVote("") }},
		{"night action without target", func() error { return f.engine.NightAction("") }},
		{"empty chat", func() error { return f.engine.SendChat(" \t") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.call(), engine.ErrInvalidIntent)
		})
	}
}

func TestEngine_ClearError(t *testing.T) {
	f, conn := connected(t)

	conn.Push(`{"type":"error","message":"Room not found."}`)
	f.eventually(t, func(v engine.View) bool { return v.State.LastError == "Room not found." })

	require.NoError(t, f.engine.ClearError())
	f.eventually(t, func(v engine.View) bool { return v.State.LastError == "" })
}

func TestEngine_Subscribe(t *testing.T) {
	f, conn := connected(t)

	views, unsubscribe := f.engine.Subscribe()
	defer unsubscribe()

	conn.Push(`{"type":"room_created","room_code":"AB12","player_id":"p1"}`)

	deadline := time.After(waitFor)
	for {
		select {
		case v := <-views:
			if v.State.Identity.RoomCode == "AB12" {
				assert.Equal(t, f.engine.Snapshot().Version, v.Version)
				return
			}
		case <-deadline:
			t.Fatal("subscriber never saw the new room")
		}
	}
}

func TestEngine_Close(t *testing.T) {
	f, conn := connected(t)
	views, _ := f.engine.Subscribe()

	require.NoError(t, f.engine.Close())
	require.NoError(t, f.engine.Close())

	assert.True(t, conn.IsClosed())
	assert.Equal(t, models.ConnectionDisconnected, f.engine.Status())
	assert.ErrorIs(t, f.engine.CreateRoom("Alice"), engine.ErrClosed)
	assert.ErrorIs(t, f.engine.ClearError(), engine.ErrClosed)

	for range views {
	}

	f.clock.Advance(time.Minute)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, f.dialer.Dials(), "no reconnect after close")
}

type relayCall struct {
	tag  wire.Tag
	room string
}

type recordingRelay struct {
	mu    sync.Mutex
	calls []relayCall
}

func (r *recordingRelay) Forward(event wire.InboundEvent, roomCode string, raw []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, relayCall{tag: event.Tag(), room: roomCode})
}

func (r *recordingRelay) snapshot() []relayCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]relayCall(nil), r.calls...)
}

func TestEngine_Relay(t *testing.T) {
	relay := &recordingRelay{}
	f, conn := connected(t, engine.WithRelay(relay))

	conn.Push(`{"type":"error","message":"bad"}`)
	conn.Push(`{"type":"room_created","room_code":"AB12","player_id":"p1"}`)
	conn.Push(`{"type":"player_left","name":"B"}`)
	conn.Push(`{"type":"room_disbanded"}`)

	f.eventually(t, func(v engine.View) bool { return v.State.LastError == "Room was disbanded" })
	assert.Eventually(t, func() bool { return len(relay.snapshot()) == 3 }, waitFor, tick)

	assert.Equal(t, []relayCall{
		{tag: wire.TagError, room: ""},
		{tag: wire.TagRoomCreated, room: "AB12"},
		{tag: wire.TagRoomDisbanded, room: "AB12"},
	}, relay.snapshot())
}

func TestEngine_SessionID(t *testing.T) {
	f := start(t, conntest.NewDialer(), engine.WithSessionID("session-42"))
	assert.Equal(t, "session-42", f.engine.ID())
}
