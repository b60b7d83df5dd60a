package daemon

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"lectern/internal/api"
	"lectern/internal/events"
	"lectern/internal/logging"
	"lectern/internal/services"
)

const (
	socketWriteWait  = 10 * time.Second
	socketPongWait   = 60 * time.Second
	socketPingPeriod = (socketPongWait * 9) / 10
	socketReadLimit  = 4096
)

func newUpgrader(token string) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     allowOrigin(token),
	}
}

// allowOrigin accepts any origin once a bearer token guards the API. Without
// one, only same-host and loopback pages may open the stream.
func allowOrigin(token string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		if token != "" {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil || u.Host == "" {
			return false
		}
		if strings.EqualFold(u.Host, r.Host) {
			return true
		}
		host := u.Hostname()
		if strings.EqualFold(host, "localhost") {
			return true
		}
		ip := net.ParseIP(host)
		return ip != nil && ip.IsLoopback()
	}
}

// handleEvents streams hub events to a websocket client. The stream ends when
// the client goes away, the subscription closes or the daemon stops.
func (s *apiServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	var opts []events.SubscribeOption
	if raw := strings.TrimSpace(r.URL.Query().Get("course")); raw != "" {
		courseID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || courseID <= 0 {
			s.writeFailure(w, r, services.Wrap(services.ErrValidation, "api", "parse query", "course must be a positive id", nil))
			return
		}
		opts = append(opts, events.WithCourse(courseID))
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	if base := s.serverContext(); base != nil {
		stop := context.AfterFunc(base, cancel)
		defer stop()
	}

	sub, err := s.daemon.workflow.Subscribe(ctx, opts...)
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	defer sub.Close()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		s.logger.Debug("websocket upgrade failed", logging.Error(err))
		return
	}
	defer conn.Close()

	client := uuid.New()
	logger := logging.WithContext(r.Context(), s.logger).With(logging.String("client", client.String()))
	logger.Info("event stream connected", logging.String(logging.FieldEventType, "event_stream_connected"))
	defer logger.Info("event stream closed", logging.String(logging.FieldEventType, "event_stream_closed"))

	if err := writeFrame(conn, api.SocketFrame{Type: api.FrameConnected, Client: client.String()}); err != nil {
		return
	}

	go readPump(conn, cancel)

	ticker := time.NewTicker(socketPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case evt, ok := <-sub.C():
			if !ok {
				closeSocket(conn, websocket.CloseGoingAway, "event stream closed")
				return
			}
			if err := writeFrame(conn, api.SocketFrame{Type: api.FrameEvent, Event: &evt}); err != nil {
				logger.Debug("event stream write failed", logging.Error(err))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(socketWriteWait)); err != nil {
				return
			}
		case <-ctx.Done():
			closeSocket(conn, websocket.CloseGoingAway, "daemon shutting down")
			return
		}
	}
}

// readPump discards client messages and keeps the read deadline alive on
// pongs. Any read error ends the stream.
func readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(socketReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(socketPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(socketPongWait))
	})
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}

func writeFrame(conn *websocket.Conn, frame api.SocketFrame) error {
	_ = conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
	return conn.WriteJSON(frame)
}

func closeSocket(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(socketWriteWait))
}
