// Package engine is the client-side synchronization engine: it owns the
// connection to the authoritative game server, mirrors server-pushed state,
// runs the local countdown and exposes the operator's outbound intents.
//
// All state changes happen on a single event loop goroutine. Transport pumps
// and timers never touch engine state; they post closures to the loop's
// mailbox, which is drained one at a time in arrival order.
package engine

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/mafia/go/internal/game/connection"
	"github.com/mcdev12/mafia/go/internal/game/countdown"
	"github.com/mcdev12/mafia/go/internal/game/state"
	"github.com/mcdev12/mafia/go/internal/game/wire"
	"github.com/mcdev12/mafia/go/internal/models"
)

// Config holds engine configuration
type Config struct {
	Connection  connection.Config
	Transport   connection.TransportConfig
	MailboxSize int
}

// DefaultConfig returns the default engine configuration
func DefaultConfig() Config {
	return Config{
		Connection:  connection.DefaultConfig(),
		Transport:   connection.DefaultTransportConfig(),
		MailboxSize: 256,
	}
}

// Relay receives every decoded server event after it has been reduced.
// Implementations must not block the caller for long.
type Relay interface {
	Forward(event wire.InboundEvent, roomCode string, raw []byte)
}

// View is what the rendering layer reads: the synchronized state plus the
// locally ticking countdown. State.GameState keeps the last authoritative
// time; TimeRemaining is the smoothed display value.
type View struct {
	State         models.SynchronizedState `json:"state"`
	TimeRemaining int                      `json:"time_remaining"`
	Version       uint64                   `json:"version"`
}

// Engine is safe for concurrent use by the rendering layer.
type Engine struct {
	id     string
	clock  clockwork.Clock
	logger zerolog.Logger
	relay  Relay

	mailbox   chan func()
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	// owned by the loop goroutine
	conn      *connection.Manager
	countdown *countdown.Countdown
	state     models.SynchronizedState
	version   uint64

	view atomic.Pointer[View]

	subsMu     sync.Mutex
	subs       map[int]chan View
	nextSub    int
	subsClosed bool
}

// Option configures an Engine
type Option func(*options)

type options struct {
	id     string
	clock  clockwork.Clock
	dialer connection.Dialer
	logger *zerolog.Logger
	relay  Relay
}

// WithClock replaces the real clock, for tests.
func WithClock(clock clockwork.Clock) Option {
	return func(o *options) { o.clock = clock }
}

// WithDialer replaces the gorilla/websocket dialer.
func WithDialer(dialer connection.Dialer) Option {
	return func(o *options) { o.dialer = dialer }
}

// WithLogger sets the base logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = &logger }
}

// WithSessionID sets the id stamped on logs, used instead of a random one.
func WithSessionID(id string) Option {
	return func(o *options) { o.id = id }
}

// WithRelay forwards every inbound event to r.
func WithRelay(r Relay) Option {
	return func(o *options) { o.relay = r }
}

// New creates an engine, starts its event loop and makes the first
// connection attempt. Call Close to dispose of it.
func New(cfg Config, opts ...Option) *Engine {
	o := options{clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.id == "" {
		o.id = uuid.NewString()
	}
	if o.dialer == nil {
		o.dialer = connection.NewWebSocketDialer(cfg.Transport)
	}
	base := log.Logger
	if o.logger != nil {
		base = *o.logger
	}
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = DefaultConfig().MailboxSize
	}

	e := &Engine{
		id:      o.id,
		clock:   o.clock,
		relay:   o.relay,
		mailbox: make(chan func(), cfg.MailboxSize),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		state:   models.EmptyState(),
		subs:    make(map[int]chan View),
	}
	e.logger = base.With().Str("session_id", e.id).Logger()

	e.conn = connection.NewManager(cfg.Connection, o.dialer, e.clock, e.post, handler{e}).WithLogger(e.logger)
	e.countdown = countdown.New(e.clock, func(fn func()) { e.post(fn) }, func(int) { e.publish() })
	e.publish()

	go e.run()
	e.post(e.conn.Connect)

	e.logger.Info().Str("url", cfg.Connection.URL).Msg("sync engine started")
	return e
}

// ID identifies this engine instance in logs and relayed subjects.
func (e *Engine) ID() string {
	return e.id
}

// Close tears down the transport, cancels all timers and stops the loop.
// Intents issued afterwards return ErrClosed.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		close(e.quit)
		<-e.done

		e.subsMu.Lock()
		for id, ch := range e.subs {
			close(ch)
			delete(e.subs, id)
		}
		e.subsClosed = true
		e.subsMu.Unlock()

		e.logger.Info().Msg("sync engine stopped")
	})
	return nil
}

// Snapshot returns the latest fully-formed view. The slices inside it are
// shared and must not be modified.
func (e *Engine) Snapshot() View {
	return *e.view.Load()
}

// Status returns the current connection status.
func (e *Engine) Status() models.ConnectionStatus {
	return e.Snapshot().State.Connection
}

// LastError returns the operator-visible error, if any.
func (e *Engine) LastError() string {
	return e.Snapshot().State.LastError
}

// Identity returns the room the operator is seated in.
func (e *Engine) Identity() models.RoomIdentity {
	return e.Snapshot().State.Identity
}

// Subscribe returns a channel that receives the latest view after every
// change. Slow readers only ever see the most recent view. The returned
// func unsubscribes; the channel is closed on unsubscribe or Close.
func (e *Engine) Subscribe() (<-chan View, func()) {
	ch := make(chan View, 1)
	ch <- e.Snapshot()

	e.subsMu.Lock()
	if e.subsClosed {
		e.subsMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch
	e.subsMu.Unlock()

	return ch, func() {
		e.subsMu.Lock()
		defer e.subsMu.Unlock()
		if c, ok := e.subs[id]; ok {
			close(c)
			delete(e.subs, id)
		}
	}
}

func (e *Engine) run() {
	defer close(e.done)

	for {
		select {
		case fn := <-e.mailbox:
			fn()
		case <-e.quit:
			e.countdown.Stop()
			e.conn.Close()
			e.drain()
			return
		}
	}
}

// drain runs closures queued before shutdown so late dial results get closed.
func (e *Engine) drain() {
	for {
		select {
		case fn := <-e.mailbox:
			fn()
		default:
			return
		}
	}
}

// post queues fn on the loop. It returns false once the loop has stopped.
func (e *Engine) post(fn func()) bool {
	select {
	case <-e.quit:
		return false
	default:
	}

	select {
	case e.mailbox <- fn:
		return true
	case <-e.quit:
		return false
	}
}

// apply installs next as the current state and publishes it.
func (e *Engine) apply(next models.SynchronizedState) {
	e.state = next
	e.publish()
}

func (e *Engine) publish() {
	e.version++
	v := &View{
		State:         e.state,
		TimeRemaining: e.countdown.Remaining(),
		Version:       e.version,
	}
	e.view.Store(v)

	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- *v:
		default:
			// replace the stale view nobody has read yet
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- *v:
			default:
			}
		}
	}
}

func (e *Engine) handleEvent(event wire.InboundEvent, raw []byte) {
	prior := e.state
	next := state.Reduce(prior, event)

	switch ev := event.(type) {
	case wire.GameStateUpdate:
		e.countdown.Rebase(ev.State.TimeRemainingSeconds)
	case wire.RoomDisbanded:
		e.countdown.Rebase(0)
	case wire.Unrecognized:
		return
	}
	e.apply(next)

	if e.relay != nil {
		room := next.Identity.RoomCode
		if room == "" {
			room = prior.Identity.RoomCode
		}
		e.relay.Forward(event, room, raw)
	}
}

// handler adapts the engine to connection.Handler without exporting the callbacks.
type handler struct{ e *Engine }

func (h handler) OnStatus(status models.ConnectionStatus) {
	h.e.apply(state.ReduceLocal(h.e.state, state.ConnectionChanged{Status: status}))
}

func (h handler) OnTransportError(err error) {
	h.e.apply(state.ReduceLocal(h.e.state, state.TransportFailed{Message: state.ConnectionErrorMessage}))
}

func (h handler) OnEvent(event wire.InboundEvent, raw []byte) {
	h.e.handleEvent(event, raw)
}
