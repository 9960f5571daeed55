// Package relay republishes the server events a client observes onto NATS
// JetStream so other processes can follow a room without a game connection.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/mafia/go/internal/game/wire"
)

// LobbyToken stands in for the room segment of a subject before the client
// has been seated in a room.
const LobbyToken = "lobby"

type Config struct {
	URL             string
	StreamName      string
	SubjectPrefix   string
	MaxReconnects   int
	ReconnectWait   time.Duration
	MaxAge          time.Duration // how long the stream keeps events
	MaxMsgs         int64
	Replicas        int
	DuplicateWindow time.Duration
	BufferSize      int
	PublishTimeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		URL:             nats.DefaultURL,
		StreamName:      "MAFIA_EVENTS",
		SubjectPrefix:   "mafia.events",
		MaxReconnects:   -1, // infinite
		ReconnectWait:   2 * time.Second,
		MaxAge:          24 * time.Hour,
		MaxMsgs:         -1,
		Replicas:        1,
		DuplicateWindow: 2 * time.Minute,
		BufferSize:      256,
		PublishTimeout:  5 * time.Second,
	}
}

// publisher is the part of jetstream.JetStream the relay uses.
type publisher interface {
	PublishMsg(ctx context.Context, msg *nats.Msg, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// Envelope is the body of every relayed message.
type Envelope struct {
	EventID   string          `json:"eventId"`
	EventType string          `json:"eventType"`
	RoomCode  string          `json:"roomCode,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

type outgoing struct {
	subject string
	env     Envelope
}

// JetStreamRelay publishes on its own goroutine. Forward never blocks: when
// the buffer is full the event is dropped and logged.
type JetStreamRelay struct {
	nc     *nats.Conn
	js     publisher
	config Config
	clock  clockwork.Clock
	logger zerolog.Logger

	sessionID string
	queue     chan outgoing
	quit      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Option configures a JetStreamRelay
type Option func(*JetStreamRelay)

// WithSessionID stamps every envelope with the engine session that saw it.
func WithSessionID(id string) Option {
	return func(r *JetStreamRelay) { r.sessionID = id }
}

func WithClock(clock clockwork.Clock) Option {
	return func(r *JetStreamRelay) { r.clock = clock }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(r *JetStreamRelay) { r.logger = logger.With().Str("component", "relay").Logger() }
}

// Connect dials NATS, makes sure the stream exists and starts publishing.
func Connect(ctx context.Context, cfg Config, opts ...Option) (*JetStreamRelay, error) {
	natsOpts := []nats.Option{
		nats.Name("mafia-sync"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, natsOpts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	if err := ensureStream(ctx, js, cfg); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}

	r := newRelay(js, cfg, opts...)
	r.nc = nc
	return r, nil
}

func newRelay(js publisher, cfg Config, opts ...Option) *JetStreamRelay {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultConfig().PublishTimeout
	}
	r := &JetStreamRelay{
		js:     js,
		config: cfg,
		clock:  clockwork.NewRealClock(),
		logger: log.With().Str("component", "relay").Logger(),
		queue:  make(chan outgoing, cfg.BufferSize),
		quit:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.wg.Add(1)
	go r.run()
	return r
}

func ensureStream(ctx context.Context, js jetstream.JetStream, cfg Config) error {
	sc := jetstream.StreamConfig{
		Name:        cfg.StreamName,
		Description: "Mafia room events observed by sync clients",
		Subjects:    []string{fmt.Sprintf("%s.>", cfg.SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      cfg.MaxAge,
		MaxMsgs:     cfg.MaxMsgs,
		Storage:     jetstream.FileStorage,
		Replicas:    cfg.Replicas,
		Duplicates:  cfg.DuplicateWindow,
	}

	stream, err := js.Stream(ctx, cfg.StreamName)
	if errors.Is(err, jetstream.ErrStreamNotFound) {
		if _, err := js.CreateStream(ctx, sc); err != nil {
			return fmt.Errorf("create stream: %w", err)
		}
		log.Info().Str("stream", cfg.StreamName).Msg("created JetStream stream")
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup stream: %w", err)
	}

	info, err := stream.Info(ctx)
	if err != nil {
		return fmt.Errorf("get stream info: %w", err)
	}
	if !streamConfigEqual(info.Config, sc) {
		if _, err := js.UpdateStream(ctx, sc); err != nil {
			return fmt.Errorf("update stream: %w", err)
		}
		log.Info().Str("stream", cfg.StreamName).Msg("updated JetStream stream")
	}
	return nil
}

func streamConfigEqual(a, b jetstream.StreamConfig) bool {
	return a.Name == b.Name &&
		a.MaxAge == b.MaxAge &&
		a.MaxMsgs == b.MaxMsgs &&
		a.Replicas == b.Replicas &&
		a.Duplicates == b.Duplicates
}

// Subject builds <prefix>.<room>.<event type>. Characters NATS reserves in
// subject tokens are replaced in the room segment.
func Subject(prefix, roomCode string, tag wire.Tag) string {
	room := sanitizeToken(roomCode)
	if room == "" {
		room = LobbyToken
	}
	return fmt.Sprintf("%s.%s.%s", prefix, room, sanitizeToken(string(tag)))
}

func sanitizeToken(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, strings.TrimSpace(s))
}

// Forward queues event for publishing. It satisfies engine.Relay.
func (r *JetStreamRelay) Forward(event wire.InboundEvent, roomCode string, raw []byte) {
	select {
	case <-r.quit:
		return
	default:
	}

	msg := outgoing{
		subject: Subject(r.config.SubjectPrefix, roomCode, event.Tag()),
		env: Envelope{
			EventID:   uuid.NewString(),
			EventType: string(event.Tag()),
			RoomCode:  roomCode,
			SessionID: r.sessionID,
			Timestamp: r.clock.Now().UTC(),
			Payload:   json.RawMessage(append([]byte(nil), raw...)),
		},
	}

	select {
	case r.queue <- msg:
	default:
		r.logger.Warn().Str("subject", msg.subject).Msg("relay buffer full, dropping event")
	}
}

// Close publishes what is already queued, then disconnects from NATS.
func (r *JetStreamRelay) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.quit)
		r.wg.Wait()
		if r.nc != nil {
			err = r.nc.Drain()
		}
	})
	return err
}

func (r *JetStreamRelay) run() {
	defer r.wg.Done()
	for {
		select {
		case msg := <-r.queue:
			r.publish(msg)
		case <-r.quit:
			for {
				select {
				case msg := <-r.queue:
					r.publish(msg)
				default:
					return
				}
			}
		}
	}
}

func (r *JetStreamRelay) publish(msg outgoing) {
	data, err := json.Marshal(msg.env)
	if err != nil {
		r.logger.Error().Err(err).Str("subject", msg.subject).Msg("failed to marshal relayed event")
		return
	}

	header := nats.Header{}
	header.Set("Event-Type", msg.env.EventType)
	header.Set("Event-ID", msg.env.EventID)
	if msg.env.RoomCode != "" {
		header.Set("Room-Code", msg.env.RoomCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.config.PublishTimeout)
	defer cancel()

	ack, err := r.js.PublishMsg(ctx, &nats.Msg{Subject: msg.subject, Data: data, Header: header},
		jetstream.WithMsgID(msg.env.EventID),
		jetstream.WithExpectStream(r.config.StreamName),
	)
	if err != nil {
		r.logger.Error().Err(err).Str("subject", msg.subject).Msg("failed to publish to JetStream")
		return
	}

	r.logger.Debug().
		Str("subject", msg.subject).
		Str("event_id", msg.env.EventID).
		Uint64("sequence", ack.Sequence).
		Str("stream", ack.Stream).
		Msg("published to JetStream")
}
