package transport

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(url, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return ws
}

func TestRoundTrip(t *testing.T) {
	accepted := make(chan Conn, 1)
	l := NewListener(Config{Handler: func(c Conn) {
		accepted <- c
		for {
			frame, err := c.ReadMessage()
			if err != nil {
				return
			}
			if err := c.WriteMessage(frame); err != nil {
				return
			}
		}
	}})
	defer l.Close()
	srv := httptest.NewServer(l)
	defer srv.Close()

	ws := dial(t, srv.URL)
	defer ws.Close()

	if err := ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"hello"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, echo, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(echo) != `{"type":"hello"}` {
		t.Fatalf("unexpected echo %q", echo)
	}

	select {
	case c := <-accepted:
		if c.RemoteAddr() == "" {
			t.Fatal("empty remote addr")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("handler never ran")
	}
}

func TestMaxConnections(t *testing.T) {
	block := make(chan struct{})
	l := NewListener(Config{
		MaxConnections: 1,
		Handler: func(c Conn) {
			<-block
		},
	})
	defer l.Close()
	defer close(block)
	srv := httptest.NewServer(l)
	defer srv.Close()

	first := dial(t, srv.URL)
	defer first.Close()

	// The listener counts the connection from the upgrade goroutine; give it
	// a moment to register.
	deadline := time.Now().Add(5 * time.Second)
	for l.ConnectionCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	if _, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil); err == nil {
		t.Fatal("second connection must be refused")
	}
}

func TestSlowConsumer(t *testing.T) {
	ready := make(chan Conn, 1)
	l := NewListener(Config{WriteBuffer: 4, Handler: func(c Conn) {
		ready <- c
		for {
			if _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}})
	defer l.Close()
	srv := httptest.NewServer(l)
	defer srv.Close()

	ws := dial(t, srv.URL)
	defer ws.Close()

	var c Conn
	select {
	case c = <-ready:
	case <-time.After(5 * time.Second):
		t.Fatal("no connection")
	}

	// The client never reads, so once the buffer and socket fill the writes
	// must start failing with ErrSlowConsumer instead of blocking.
	var sawSlow bool
	payload := []byte(strings.Repeat("x", 1024))
	for i := 0; i < 10000; i++ {
		if err := c.WriteMessage(payload); err == ErrSlowConsumer {
			sawSlow = true
			break
		}
	}
	if !sawSlow {
		t.Fatal("expected ErrSlowConsumer under backpressure")
	}
}

func TestCloseRefusesNewConnections(t *testing.T) {
	l := NewListener(Config{Handler: func(c Conn) {
		for {
			if _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}})
	srv := httptest.NewServer(l)
	defer srv.Close()

	l.Close()
	if _, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil); err == nil {
		t.Fatal("closed listener must refuse connections")
	}
}
