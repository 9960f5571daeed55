package connection

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/mafia/go/internal/game/wire"
	"github.com/mcdev12/mafia/go/internal/models"
)

// Config holds connection manager settings
type Config struct {
	URL            string
	ReconnectDelay time.Duration
	SendBufferSize int
}

// DefaultConfig returns the default connection manager configuration
func DefaultConfig() Config {
	return Config{
		URL:            "ws://localhost:8081",
		ReconnectDelay: 3 * time.Second,
		SendBufferSize: 64,
	}
}

// Dispatcher runs fn on the owner's event loop. It returns false when the loop
// has stopped and fn was not run.
type Dispatcher func(fn func()) bool

// Handler receives connection lifecycle and inbound events. Every call is
// made from the owner's event loop.
type Handler interface {
	OnStatus(status models.ConnectionStatus)
	OnTransportError(err error)
	OnEvent(event wire.InboundEvent, raw []byte)
}

// Manager owns the single transport session to the game server. It reconnects
// after a fixed delay whenever a session ends, until Close is called.
//
// Manager is not safe for concurrent use. Connect, Send, Status and Close must
// be called from the goroutine that drains the Dispatcher; the read and write
// pumps only ever reach back through it.
type Manager struct {
	config   Config
	dialer   Dialer
	clock    clockwork.Clock
	dispatch Dispatcher
	handler  Handler
	logger   zerolog.Logger

	status       models.ConnectionStatus
	session      *session
	reconnect    clockwork.Timer
	reconnectGen uint64
	closed       bool
}

type session struct {
	id     string
	conn   Conn
	cancel context.CancelFunc
	send   chan []byte
	done   chan struct{}
}

// NewManager creates a disconnected manager. Call Connect to start.
func NewManager(config Config, dialer Dialer, clock clockwork.Clock, dispatch Dispatcher, handler Handler) *Manager {
	if config.SendBufferSize <= 0 {
		config.SendBufferSize = DefaultConfig().SendBufferSize
	}
	return &Manager{
		config:   config,
		dialer:   dialer,
		clock:    clock,
		dispatch: dispatch,
		handler:  handler,
		logger:   log.With().Str("component", "connection").Str("url", config.URL).Logger(),
		status:   models.ConnectionDisconnected,
	}
}

// WithLogger replaces the manager's logger.
func (m *Manager) WithLogger(logger zerolog.Logger) *Manager {
	m.logger = logger.With().Str("component", "connection").Str("url", m.config.URL).Logger()
	return m
}

// Status returns the current connection status.
func (m *Manager) Status() models.ConnectionStatus {
	return m.status
}

// Connect starts a dial unless a session is already connecting or connected.
func (m *Manager) Connect() {
	if m.closed || m.status != models.ConnectionDisconnected {
		return
	}
	m.stopReconnect()

	ctx, cancel := context.WithCancel(context.Background())
	s := &session{id: uuid.NewString(), cancel: cancel}
	m.session = s
	m.setStatus(models.ConnectionConnecting)

	m.logger.Info().Str("session_id", s.id).Msg("connecting to game server")

	go func() {
		conn, err := m.dialer.Dial(ctx, m.config.URL)
		if !m.dispatch(func() { m.handleDial(s, conn, err) }) && conn != nil {
			conn.Close()
		}
	}()
}

// Send hands cmd to the write pump. Commands are dropped, never queued, while
// the connection is not open. It reports whether the command was accepted.
func (m *Manager) Send(cmd wire.OutboundCommand) bool {
	if m.status != models.ConnectionConnected || m.session == nil {
		m.logger.Debug().
			Str("command", string(cmd.Tag())).
			Str("status", string(m.status)).
			Msg("websocket is not connected, dropping command")
		return false
	}

	select {
	case m.session.send <- wire.Encode(cmd):
		return true
	default:
		m.logger.Warn().
			Str("session_id", m.session.id).
			Str("command", string(cmd.Tag())).
			Msg("send buffer full, dropping command")
		return false
	}
}

// Close tears down the session and stops reconnecting. It is final.
func (m *Manager) Close() {
	if m.closed {
		return
	}
	m.closed = true
	m.stopReconnect()

	if s := m.session; s != nil {
		m.teardown(s)
		m.setStatus(models.ConnectionDisconnected)
	}
	m.logger.Info().Msg("connection manager closed")
}

func (m *Manager) handleDial(s *session, conn Conn, err error) {
	if s != m.session {
		if conn != nil {
			conn.Close()
		}
		return
	}

	if err != nil {
		m.logger.Warn().Err(err).Str("session_id", s.id).Msg("failed to connect to game server")
		m.handler.OnTransportError(err)
		m.endSession(s)
		return
	}

	s.conn = conn
	s.send = make(chan []byte, m.config.SendBufferSize)
	s.done = make(chan struct{})
	m.setStatus(models.ConnectionConnected)

	go m.readPump(s)
	go m.writePump(s)

	m.logger.Info().Str("session_id", s.id).Msg("connected to game server")
}

func (m *Manager) handleFrame(s *session, raw []byte) {
	if s != m.session {
		return
	}

	event, err := wire.Decode(raw)
	if err != nil {
		m.logger.Warn().
			Err(err).
			Str("session_id", s.id).
			Int("bytes", len(raw)).
			Msg("discarding undecodable frame")
		return
	}
	if u, ok := event.(wire.Unrecognized); ok {
		m.logger.Debug().Str("type", u.RawTag).Msg("ignoring unrecognized frame")
	}

	m.handler.OnEvent(event, raw)
}

func (m *Manager) handleTransportError(s *session, err error) {
	if s != m.session {
		return
	}

	if errors.Is(err, io.EOF) {
		m.logger.Info().Str("session_id", s.id).Msg("game server closed the connection")
	} else {
		m.logger.Error().Err(err).Str("session_id", s.id).Msg("websocket transport error")
		m.handler.OnTransportError(err)
	}
	m.endSession(s)
}

// endSession moves to Disconnected and arms the reconnect timer.
func (m *Manager) endSession(s *session) {
	m.teardown(s)
	m.setStatus(models.ConnectionDisconnected)
	m.scheduleReconnect()
}

func (m *Manager) teardown(s *session) {
	s.cancel()
	if s.done != nil {
		close(s.done)
	}
	if s.conn != nil {
		s.conn.Close()
	}
	if m.session == s {
		m.session = nil
	}
}

func (m *Manager) scheduleReconnect() {
	if m.closed {
		return
	}
	m.stopReconnect()

	gen := m.reconnectGen
	m.reconnect = m.clock.AfterFunc(m.config.ReconnectDelay, func() {
		m.dispatch(func() {
			if gen != m.reconnectGen {
				return
			}
			m.reconnect = nil
			m.Connect()
		})
	})

	m.logger.Info().Dur("delay", m.config.ReconnectDelay).Msg("scheduled reconnect")
}

func (m *Manager) stopReconnect() {
	m.reconnectGen++
	if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}
}

func (m *Manager) setStatus(status models.ConnectionStatus) {
	if m.status == status {
		return
	}
	m.status = status
	m.handler.OnStatus(status)
}

// readPump forwards frames to the loop in arrival order.
func (m *Manager) readPump(s *session) {
	for {
		data, err := s.conn.ReadMessage()
		if err != nil {
			m.dispatch(func() { m.handleTransportError(s, err) })
			return
		}
		if !m.dispatch(func() { m.handleFrame(s, data) }) {
			s.conn.Close()
			return
		}
	}
}

// writePump is the only writer on the session's connection.
func (m *Manager) writePump(s *session) {
	for {
		select {
		case <-s.done:
			return
		case data := <-s.send:
			if err := s.conn.WriteMessage(data); err != nil {
				m.dispatch(func() { m.handleTransportError(s, err) })
				return
			}
		}
	}
}
