package api

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/banshee-data/stewart/internal/telemetry"
)

// wsReadLimit bounds inbound client messages, which are only read to notice
// disconnects.
const wsReadLimit = 4096

// wsClient is a telemetry.Sink writing to one WebSocket connection. Only the
// broadcaster's consumer calls Send; pings go through WriteControl, which
// gorilla/websocket allows concurrently with it.
type wsClient struct {
	conn    *websocket.Conn
	timeout time.Duration
}

func (c *wsClient) Send(ctx context.Context, msg telemetry.Message) error {
	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, msg.Body); err != nil {
		// Unblocks the read loop so the handler unsubscribes.
		c.conn.Close()
		return err
	}
	return nil
}

func (c *wsClient) ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.timeout))
}

// handleTelemetryWS handles GET /ws/telemetry. Every broadcast message is
// forwarded as one text frame until the client goes away.
func (s *Server) handleTelemetryWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("api: websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	client := &wsClient{conn: conn, timeout: s.wsWrite}
	id := s.p.Broadcaster.Subscribe(client)
	defer s.p.Broadcaster.Unsubscribe(id)
	log.Printf("api: telemetry subscriber %s connected (%d active)", id, s.p.Broadcaster.Count())

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(s.wsPing)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := client.ping(); err != nil {
					conn.Close()
					return
				}
			case <-done:
				return
			}
		}
	}()

	pongWait := 2 * s.wsPing
	conn.SetReadLimit(wsReadLimit)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("api: telemetry subscriber %s: %v", id, err)
			}
			break
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
	}
	log.Printf("api: telemetry subscriber %s disconnected", id)
}
