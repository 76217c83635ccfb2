// Package websocket streams hub notifications to WebSocket clients.
package websocket

import (
	"net/http"
	"time"

	gorillaws "github.com/gorilla/websocket"

	"wellnesskit/core"
	"wellnesskit/realtime"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

type options struct {
	buffer  int
	origins map[string]struct{}
}

// Option configures Handler.
type Option func(*options)

// WithBuffer sets the per-connection notification buffer.
func WithBuffer(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.buffer = n
		}
	}
}

// WithAllowedOrigins restricts upgrades to the given Origin values. "*" or no
// origins allows any.
func WithAllowedOrigins(origins ...string) Option {
	return func(o *options) {
		for _, og := range origins {
			o.origins[og] = struct{}{}
		}
	}
}

// Handler returns an http.Handler that upgrades to WebSocket and streams
// notifications from the hub. A user query parameter limits the stream to
// that user's notifications.
func Handler(hub *realtime.Hub, opts ...Option) http.Handler {
	o := options{buffer: 256, origins: map[string]struct{}{}}
	for _, opt := range opts {
		opt(&o)
	}
	upgrader := gorillaws.Upgrader{CheckOrigin: func(r *http.Request) bool {
		if len(o.origins) == 0 {
			return true
		}
		if _, ok := o.origins["*"]; ok {
			return true
		}
		_, ok := o.origins[r.Header.Get("Origin")]
		return ok
	}}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		id, ch := hub.SubscribeUser(core.UserID(r.URL.Query().Get("user")), o.buffer)
		defer hub.Unsubscribe(id)

		closed := make(chan struct{})
		go readPump(conn, closed)

		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case n, ok := <-ch:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(gorillaws.TextMessage, realtime.MarshalJSON(n)); err != nil {
					return
				}
			case <-ticker.C:
				if err := conn.WriteControl(gorillaws.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			case <-closed:
				return
			case <-r.Context().Done():
				return
			}
		}
	})
}

// readPump discards client frames and closes done when the peer goes away.
func readPump(conn *gorillaws.Conn, done chan<- struct{}) {
	defer close(done)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
