package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/mafia/go/internal/game/engine"
)

// ViewSource publishes engine views.
type ViewSource interface {
	Snapshot() engine.View
	Subscribe() (<-chan engine.View, func())
}

// HubConfig holds configuration for viewer websocket connections
type HubConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultHubConfig returns default viewer websocket configuration
func DefaultHubConfig() HubConfig {
	return HubConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024, // viewers only send control frames
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		SendBufferSize:  16,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// ViewHub pushes every published view to connected websocket viewers.
type ViewHub struct {
	source   ViewSource
	upgrader websocket.Upgrader
	config   HubConfig

	mu      sync.RWMutex
	viewers map[*viewer]bool
}

type viewer struct {
	id          string
	conn        *websocket.Conn
	send        chan []byte
	hub         *ViewHub
	connectedAt time.Time
}

// NewViewHub creates a hub fed by source
func NewViewHub(source ViewSource, config HubConfig) *ViewHub {
	if config.SendBufferSize <= 0 {
		config.SendBufferSize = DefaultHubConfig().SendBufferSize
	}
	return &ViewHub{
		source: source,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:  config,
		viewers: make(map[*viewer]bool),
	}
}

// Start relays views until ctx is done, then disconnects every viewer.
func (h *ViewHub) Start(ctx context.Context) {
	views, unsubscribe := h.source.Subscribe()
	defer unsubscribe()

	log.Info().Msg("view hub started")
	for {
		select {
		case <-ctx.Done():
			h.disconnectAll()
			log.Info().Msg("view hub shutting down")
			return
		case v, ok := <-views:
			if !ok {
				h.disconnectAll()
				log.Info().Msg("view source closed")
				return
			}
			h.broadcast(v)
		}
	}
}

// HandleViewConnection handles GET /ws/view
func (h *ViewHub) HandleViewConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already replied
		log.Error().Err(err).Msg("failed to upgrade viewer connection")
		return
	}

	v := &viewer{
		id:          uuid.NewString(),
		conn:        conn,
		send:        make(chan []byte, h.config.SendBufferSize),
		hub:         h,
		connectedAt: time.Now(),
	}

	h.register(v)

	go v.writePump()
	go v.readPump()

	log.Info().
		Str("viewer_id", v.id).
		Str("remote_addr", r.RemoteAddr).
		Msg("viewer connected")
}

// RegisterRoutes registers websocket routes with an HTTP mux
func (h *ViewHub) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/view", h.HandleViewConnection)
}

// Viewers returns the number of connected viewers.
func (h *ViewHub) Viewers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.viewers)
}

// register adds v and primes it with the current view. Viewers may see an
// older view after it; Version orders them.
func (h *ViewHub) register(v *viewer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.viewers[v] = true

	if data, err := json.Marshal(h.source.Snapshot()); err == nil {
		v.send <- data
	}

	log.Debug().
		Str("viewer_id", v.id).
		Int("total_viewers", len(h.viewers)).
		Msg("viewer registered")
}

func (h *ViewHub) unregister(v *viewer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.viewers[v]; ok {
		delete(h.viewers, v)
		close(v.send)

		log.Info().
			Str("viewer_id", v.id).
			Dur("connected_for", time.Since(v.connectedAt)).
			Msg("viewer unregistered")
	}
}

func (h *ViewHub) disconnectAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for v := range h.viewers {
		delete(h.viewers, v)
		close(v.send)
	}
}

func (h *ViewHub) broadcast(view engine.View) {
	data, err := json.Marshal(view)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal view for broadcast")
		return
	}

	var slow []*viewer
	h.mu.RLock()
	for v := range h.viewers {
		select {
		case v.send <- data:
		default:
			slow = append(slow, v)
		}
	}
	n := len(h.viewers)
	h.mu.RUnlock()

	for _, v := range slow {
		log.Warn().Str("viewer_id", v.id).Msg("viewer send buffer full, closing connection")
		h.unregister(v)
	}

	log.Debug().
		Uint64("version", view.Version).
		Int("viewers", n).
		Msg("view broadcasted")
}

func (v *viewer) writePump() {
	ticker := time.NewTicker(v.hub.config.PingInterval)
	defer func() {
		ticker.Stop()
		v.conn.Close()
		v.hub.unregister(v)
	}()

	for {
		select {
		case message, ok := <-v.send:
			v.conn.SetWriteDeadline(time.Now().Add(v.hub.config.WriteTimeout))
			if !ok {
				v.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := v.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().Err(err).Str("viewer_id", v.id).Msg("failed to write view to websocket")
				return
			}

		case <-ticker.C:
			v.conn.SetWriteDeadline(time.Now().Add(v.hub.config.WriteTimeout))
			if err := v.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().Err(err).Str("viewer_id", v.id).Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump only services control frames; viewers are read-only.
func (v *viewer) readPump() {
	defer func() {
		v.hub.unregister(v)
		v.conn.Close()
	}()

	v.conn.SetReadLimit(v.hub.config.MaxMessageSize)
	v.conn.SetReadDeadline(time.Now().Add(v.hub.config.ReadTimeout))
	v.conn.SetPongHandler(func(string) error {
		v.conn.SetReadDeadline(time.Now().Add(v.hub.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := v.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("viewer_id", v.id).Msg("unexpected viewer close error")
			}
			return
		}
		log.Debug().
			Str("viewer_id", v.id).
			Str("message", fmt.Sprintf("%.64s", message)).
			Msg("ignoring viewer message")
	}
}
