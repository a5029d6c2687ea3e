package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const (
	eventWriteTimeout = 10 * time.Second
	eventPingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Browser origin checks are handled by the security middleware; the
	// events endpoint is consumed by the field client, not browsers.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Events streams session snapshots over a websocket. A supervisor dashboard
// subscribes here to watch an interview progress live.
// GET /api/v1/sessions/:id/events
func (h *Handlers) Events(c echo.Context) error {
	session, err := h.session(c)
	if err != nil {
		return h.sessionError(c, err)
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	snapshots, cancel := session.Subscribe()
	defer cancel()

	// Initial state so the subscriber does not wait for the next change.
	conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
	if err := conn.WriteJSON(session.Snapshot()); err != nil {
		return nil
	}

	// Drain reads so close frames and pongs are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(eventPingInterval)
	defer ping.Stop()

	for {
		select {
		case snap, ok := <-snapshots:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"),
					time.Now().Add(eventWriteTimeout))
				return nil
			}
			conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
			if err := conn.WriteJSON(snap); err != nil {
				return nil
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(eventWriteTimeout)); err != nil {
				return nil
			}
		}
	}
}
