package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lucasew/easysave/internal/savedevice"
	"github.com/lucasew/easysave/internal/sseutil"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // tokens, not origins, gate access
	},
}

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
	wsPongWait   = wsPingPeriod * 2
	sseKeepalive = 15 * time.Second
)

// EventServer streams completions to HTTP clients, either as server sent
// events or over a WebSocket.
type EventServer struct {
	device savedevice.Device
	logger *slog.Logger
}

func NewEventServer(device savedevice.Device, logger *slog.Logger) *EventServer {
	return &EventServer{device: device, logger: logger}
}

// HandleSSE streams one event per completion the caller may see. The event
// name is the operation kind and the event id is the operation id.
func (s *EventServer) HandleSSE(w http.ResponseWriter, r *http.Request) {
	sseutil.SetHeaders(w)

	ch := s.device.Subscribe()
	defer s.device.Unsubscribe(ch)
	claims := claimsFrom(r.Context())

	if err := sseutil.Write(w, sseutil.Event{Name: "connected", Data: map[string]string{"code": "connected"}}); err != nil {
		return
	}
	sseutil.Flush(w)

	keepalive := time.NewTicker(sseKeepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			if err := sseutil.WriteComment(w, "keepalive"); err != nil {
				return
			}
			sseutil.Flush(w)
		case c, ok := <-ch:
			if !ok {
				return
			}
			if !claims.Allows(c.Container) {
				continue
			}
			ev := sseutil.Event{Name: string(c.Kind), ID: c.OpID, Data: completionJSON(c)}
			if err := sseutil.Write(w, ev); err != nil {
				s.logger.Debug("sse client went away", "error", err)
				return
			}
			sseutil.Flush(w)
		}
	}
}

// HandleWebSocket sends every visible completion as a JSON text message.
// Messages from the client are read and dropped so control frames are
// processed and a closed peer is noticed.
func (s *EventServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	ch := s.device.Subscribe()
	defer s.device.Unsubscribe(ch)
	claims := claimsFrom(r.Context())

	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteJSON(map[string]string{"code": "connected"}); err != nil {
		return
	}

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-gone:
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case c, ok := <-ch:
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "device closed"))
				return
			}
			if !claims.Allows(c.Container) {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(completionJSON(c)); err != nil {
				s.logger.Debug("websocket client went away", "error", err)
				return
			}
		}
	}
}
