// Package transport accepts WebSocket connections and exposes them as
// message channels with heartbeats, read limits and rate limiting applied.
package transport

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// ErrSlowConsumer is returned by WriteMessage when the connection's outbound
// buffer is full. The caller decides whether to drop the frame or the
// connection.
var ErrSlowConsumer = errors.New("transport: outbound buffer full")

// ErrClosed is returned by operations on a closed connection.
var ErrClosed = errors.New("transport: connection closed")

// Conn is a single client connection carrying JSON text frames.
type Conn interface {
	// ReadMessage blocks until the next inbound frame. Rate limiting is
	// applied before the frame is returned.
	ReadMessage() ([]byte, error)
	// WriteMessage queues an outbound frame. It never blocks; a full buffer
	// yields ErrSlowConsumer.
	WriteMessage(frame []byte) error
	// Close tears the connection down. Safe to call more than once.
	Close() error
	// RemoteAddr returns the peer address for logging.
	RemoteAddr() string
}

// Config configures a Listener.
type Config struct {
	// Log is the logger. Defaults to slog.Default().
	Log *slog.Logger
	// Handler is invoked on its own goroutine for every accepted
	// connection. Required.
	Handler func(Conn)
	// Heartbeat is the ping interval. Defaults to 30s.
	Heartbeat time.Duration
	// ConnectionTimeout is the read deadline extended by pongs and inbound
	// frames. Defaults to 60s.
	ConnectionTimeout time.Duration
	// MaxMessageSize caps inbound frame size in bytes. Defaults to 65536.
	MaxMessageSize int64
	// MaxMessagesPerSecond is the per-connection inbound rate limit.
	// Defaults to 60. Negative disables limiting.
	MaxMessagesPerSecond int
	// MaxConnections caps concurrent connections. 0 means unlimited.
	MaxConnections int
	// WriteBuffer is the outbound frame buffer per connection. Defaults to
	// 256.
	WriteBuffer int
}

// Listener upgrades HTTP requests to WebSocket connections. It implements
// http.Handler and is typically mounted on /ws.
type Listener struct {
	conf     Config
	upgrader websocket.Upgrader

	count  atomic.Int64
	closed atomic.Bool
	conns  sync.Map
}

// NewListener creates a Listener, filling config defaults.
func NewListener(conf Config) *Listener {
	if conf.Handler == nil {
		panic("transport: listener requires a handler")
	}
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	if conf.Heartbeat <= 0 {
		conf.Heartbeat = 30 * time.Second
	}
	if conf.ConnectionTimeout <= 0 {
		conf.ConnectionTimeout = 60 * time.Second
	}
	if conf.MaxMessageSize <= 0 {
		conf.MaxMessageSize = 65536
	}
	if conf.MaxMessagesPerSecond == 0 {
		conf.MaxMessagesPerSecond = 60
	}
	if conf.WriteBuffer <= 0 {
		conf.WriteBuffer = 256
	}
	return &Listener{
		conf: conf,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser-based dev tooling connects from any origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ConnectionCount returns the number of open connections.
func (l *Listener) ConnectionCount() int { return int(l.count.Load()) }

// ServeHTTP upgrades the request and hands the connection to the handler.
func (l *Listener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if l.closed.Load() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	if max := l.conf.MaxConnections; max > 0 && int(l.count.Load()) >= max {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}
	ws, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.conf.Log.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	c := newConn(ws, l.conf)
	l.count.Add(1)
	l.conns.Store(c, struct{}{})
	go func() {
		defer func() {
			c.Close()
			l.conns.Delete(c)
			l.count.Add(-1)
		}()
		l.conf.Handler(c)
	}()
}

// Close refuses new connections and closes all open ones.
func (l *Listener) Close() {
	l.closed.Store(true)
	l.conns.Range(func(key, _ any) bool {
		key.(*conn).Close()
		return true
	})
}

type conn struct {
	ws   *websocket.Conn
	conf Config

	outbound  chan []byte
	closing   chan struct{}
	closeOnce sync.Once

	// limiter state, touched only by the read loop.
	tokens     float64
	lastRefill time.Time
}

func newConn(ws *websocket.Conn, conf Config) *conn {
	c := &conn{
		ws:         ws,
		conf:       conf,
		outbound:   make(chan []byte, conf.WriteBuffer),
		closing:    make(chan struct{}),
		tokens:     float64(conf.MaxMessagesPerSecond),
		lastRefill: time.Now(),
	}
	ws.SetReadLimit(conf.MaxMessageSize)
	ws.SetReadDeadline(time.Now().Add(conf.ConnectionTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(conf.ConnectionTimeout))
	})
	go c.writeLoop()
	return c
}

// writeLoop owns all writes to the socket: queued frames and periodic pings.
func (c *conn) writeLoop() {
	ticker := time.NewTicker(c.conf.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case frame := <-c.outbound:
			c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.closing:
			return
		}
	}
}

func (c *conn) ReadMessage() ([]byte, error) {
	for {
		select {
		case <-c.closing:
			return nil, ErrClosed
		default:
		}
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		c.ws.SetReadDeadline(time.Now().Add(c.conf.ConnectionTimeout))
		if c.allow() {
			return frame, nil
		}
		// Over the rate limit: the frame is dropped, not buffered.
	}
}

// allow implements a token bucket refilled at MaxMessagesPerSecond.
func (c *conn) allow() bool {
	if c.conf.MaxMessagesPerSecond < 0 {
		return true
	}
	rate := float64(c.conf.MaxMessagesPerSecond)
	now := time.Now()
	c.tokens += now.Sub(c.lastRefill).Seconds() * rate
	if c.tokens > rate {
		c.tokens = rate
	}
	c.lastRefill = now
	if c.tokens < 1 {
		return false
	}
	c.tokens--
	return true
}

func (c *conn) WriteMessage(frame []byte) error {
	select {
	case <-c.closing:
		return ErrClosed
	default:
	}
	select {
	case c.outbound <- frame:
		return nil
	default:
		return ErrSlowConsumer
	}
}

func (c *conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closing)
		c.ws.Close()
	})
	return nil
}

func (c *conn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}
