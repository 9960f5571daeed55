// Package conntest provides an in-memory transport for tests of code built on
// the connection manager.
package conntest

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/mcdev12/mafia/go/internal/game/connection"
)

// ErrClosed is returned by reads on a connection closed from the client side.
var ErrClosed = errors.New("use of closed network connection")

// Conn is a fake server session. Frames pushed into it are read by the client;
// frames written by the client are recorded.
type Conn struct {
	inbound   chan []byte
	readErr   chan error
	closed    chan struct{}
	closeOnce sync.Once
	eofOnce   sync.Once

	mu      sync.Mutex
	written []string
}

// NewConn creates an open connection.
func NewConn() *Conn {
	return &Conn{
		inbound: make(chan []byte, 64),
		readErr: make(chan error, 1),
		closed:  make(chan struct{}),
	}
}

// Push queues a frame for the client to read.
func (c *Conn) Push(frame string) {
	c.inbound <- []byte(frame)
}

// CloseFromServer ends the session cleanly; the client reads io.EOF once
// pending frames are drained.
func (c *Conn) CloseFromServer() {
	c.eofOnce.Do(func() { close(c.inbound) })
}

// Fail makes the next read return err.
func (c *Conn) Fail(err error) {
	c.readErr <- err
}

// Written returns the frames written by the client so far.
func (c *Conn) Written() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.written...)
}

// IsClosed reports whether the client closed the connection.
func (c *Conn) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *Conn) ReadMessage() ([]byte, error) {
	select {
	case data, ok := <-c.inbound:
		if !ok {
			return nil, io.EOF
		}
		return data, nil
	case err := <-c.readErr:
		return nil, err
	case <-c.closed:
		return nil, ErrClosed
	}
}

func (c *Conn) WriteMessage(data []byte) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, string(data))
	return nil
}

func (c *Conn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// Dialer hands out Conns and counts dial attempts.
type Dialer struct {
	mu    sync.Mutex
	dials int
	fail  map[int]error
	conns chan *Conn
}

// NewDialer creates a dialer whose every attempt succeeds until told otherwise.
func NewDialer() *Dialer {
	return &Dialer{fail: map[int]error{}, conns: make(chan *Conn, 64)}
}

// FailAttempt makes the n-th dial (1-based) return err.
func (d *Dialer) FailAttempt(n int, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail[n] = err
}

// Dials returns the number of dial attempts so far.
func (d *Dialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// Dial implements connection.Dialer.
func (d *Dialer) Dial(ctx context.Context, url string) (connection.Conn, error) {
	d.mu.Lock()
	d.dials++
	err := d.fail[d.dials]
	d.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := NewConn()
	d.conns <- c
	return c, nil
}

// NextConn waits for the next successful dial.
func (d *Dialer) NextConn(t testing.TB) *Conn {
	t.Helper()
	select {
	case c := <-d.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("conntest: no connection dialed")
		return nil
	}
}
