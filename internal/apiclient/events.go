package apiclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"

	"lectern/internal/api"
	"lectern/internal/events"
)

// EventStream is an open /api/events websocket.
type EventStream struct {
	conn   *websocket.Conn
	client string
}

// Events opens the event stream. A courseID of zero streams every course.
func (c *Client) Events(ctx context.Context, courseID int64) (*EventStream, error) {
	target := *c.baseURL
	target.Scheme = "ws"
	if c.baseURL.Scheme == "https" {
		target.Scheme = "wss"
	}
	target.Path += "/api/events"
	if courseID > 0 {
		q := target.Query()
		q.Set("course", strconv.FormatInt(courseID, 10))
		target.RawQuery = q.Encode()
	}

	header := http.Header{}
	c.authorize(header)
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, target.String(), header)
	if err != nil {
		if resp != nil {
			return nil, &Error{Status: resp.StatusCode, Message: fmt.Sprintf("open event stream: %s", resp.Status)}
		}
		return nil, fmt.Errorf("open event stream: %w", err)
	}

	var hello api.SocketFrame
	if err := conn.ReadJSON(&hello); err != nil {
		conn.Close()
		return nil, fmt.Errorf("read event stream greeting: %w", err)
	}
	if hello.Type != api.FrameConnected {
		conn.Close()
		return nil, fmt.Errorf("unexpected event stream greeting %q", hello.Type)
	}

	stream := &EventStream{conn: conn, client: hello.Client}
	// Closing the socket unblocks a pending Next when ctx ends.
	context.AfterFunc(ctx, func() { _ = conn.Close() })
	return stream, nil
}

// ClientID is the id the daemon assigned to this stream.
func (s *EventStream) ClientID() string {
	return s.client
}

// Next blocks for the next event. It returns ErrStreamClosed once the daemon
// closes the stream normally.
func (s *EventStream) Next() (events.Event, error) {
	for {
		var frame api.SocketFrame
		if err := s.conn.ReadJSON(&frame); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return events.Event{}, ErrStreamClosed
			}
			return events.Event{}, err
		}
		if frame.Type == api.FrameEvent && frame.Event != nil {
			return *frame.Event, nil
		}
	}
}

// Close closes the websocket.
func (s *EventStream) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = s.conn.WriteMessage(websocket.CloseMessage, msg)
	return s.conn.Close()
}

// ErrStreamClosed reports a normal end of the event stream.
var ErrStreamClosed = errors.New("event stream closed")
