package client

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"chat-relay/domain/event"

	"github.com/fasthttp/websocket"
)

const liveBufferSize = 256

// Live is the client end of a /ws connection. Incoming frames are decoded once
// and handed out on Events(), which is closed when the connection ends.
type Live struct {
	log     *slog.Logger
	conn    *websocket.Conn
	writeMu sync.Mutex
	events  chan event.Event
	done    chan struct{}
	once    sync.Once
}

// DialLive opens the live connection. wsURL is the full endpoint, e.g. ws://host:8080/ws.
func DialLive(ctx context.Context, log *slog.Logger, wsURL, token string) (*Live, error) {
	target, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("live url: %w", err)
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, target.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("live handshake: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("live handshake: %w", err)
	}

	l := &Live{log: log, conn: conn, events: make(chan event.Event, liveBufferSize), done: make(chan struct{})}
	go l.readLoop()
	return l, nil
}

func (l *Live) Events() <-chan event.Event {
	return l.events
}

func (l *Live) Send(e event.Event) error {
	frame, err := event.Encode(e)
	if err != nil {
		return err
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	_ = l.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return l.conn.WriteMessage(websocket.TextMessage, frame)
}

// Close says goodbye to the server and closes the socket.
func (l *Live) Close() error {
	var err error
	l.once.Do(func() {
		close(l.done)
		l.writeMu.Lock()
		_ = l.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		l.writeMu.Unlock()
		err = l.conn.Close()
	})
	return err
}

func (l *Live) readLoop() {
	defer close(l.events)
	for {
		messageType, raw, err := l.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				l.log.Warn("Live connection lost", "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		e, err := event.Decode(raw)
		if err != nil {
			l.log.Warn("Dropping undecodable frame", "error", err)
			continue
		}
		select {
		case l.events <- e:
		case <-l.done:
			return
		}
	}
}
