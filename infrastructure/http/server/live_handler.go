package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"chat-relay/auth"
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"chat-relay/observability"
	"chat-relay/services"
	"chat-relay/sink"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// LiveHandler serves the /ws endpoint. Each connection gets a reader loop
// (this goroutine) and a writer goroutine draining its outbound queue.
type LiveHandler struct {
	log        *slog.Logger
	cfg        Config
	gateway    contract.IGateway
	service    services.IMessageService
	monitoring *observability.MonitoringManager
}

func NewLiveHandler(log *slog.Logger, cfg Config, gateway contract.IGateway,
	service services.IMessageService, monitoring *observability.MonitoringManager) *LiveHandler {
	return &LiveHandler{log: log, cfg: cfg, gateway: gateway, service: service, monitoring: monitoring}
}

// Upgrade refuses plain HTTP requests on the live endpoint.
func (h *LiveHandler) Upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

func (h *LiveHandler) Handler() fiber.Handler {
	return websocket.New(h.serve)
}

func (h *LiveHandler) serve(conn *websocket.Conn) {
	userID, _ := conn.Locals(auth.UserIDKey).(string)
	out := sink.NewConnectionSink(domain.ConnectionID(uuid.NewString()), h.cfg.LiveQueueSize)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.log.Debug("Live connection opened", "connection_id", out.ID(), "user_id", userID)
	writerDone := make(chan struct{})
	go h.writeLoop(conn, out, writerDone)

	h.readLoop(ctx, conn, out, userID)

	h.gateway.Disconnect(ctx, out)
	out.Close()
	<-writerDone
	h.log.Debug("Live connection closed", "connection_id", out.ID(), "user_id", userID)
}

func (h *LiveHandler) readLoop(ctx context.Context, conn *websocket.Conn, out *sink.ConnectionSink, userID string) {
	limiter := rate.NewLimiter(rate.Limit(h.cfg.LiveEventsPerSecond), h.cfg.LiveBurst)
	if h.cfg.LiveReadLimit > 0 {
		conn.SetReadLimit(h.cfg.LiveReadLimit)
	}
	if h.cfg.PongWait > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
		})
	}

	for {
		messageType, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debug("Live connection read failed", "connection_id", out.ID(), "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if !limiter.Allow() {
			h.reject(ctx, out, fmt.Errorf("too many events: %w", errors.ErrValidation))
			continue
		}

		e, err := event.Decode(raw)
		if err != nil {
			h.reject(ctx, out, err)
			continue
		}
		if err := h.dispatch(ctx, out, userID, e); err != nil {
			h.reject(ctx, out, err)
		}
	}
}

// dispatch routes one inbound event. Anything other than joining requires the
// connection to be in the room the event targets.
func (h *LiveHandler) dispatch(ctx context.Context, out *sink.ConnectionSink, userID string, e event.Event) error {
	if !event.IsInbound(e) {
		return fmt.Errorf("%s cannot be sent by a client: %w", e.Type(), errors.ErrUnknownEvent)
	}
	if evt, ok := e.(event.JoinProject); ok {
		h.gateway.Join(ctx, out, evt.ProjectID, evt.DisplayName)
		return nil
	}

	room, ok := h.gateway.RoomOf(out.ID())
	if !ok || room != e.Project() {
		return fmt.Errorf("connection has not joined project %s: %w", e.Project(), errors.ErrForbidden)
	}

	switch evt := e.(type) {
	case event.LeaveProject:
		h.gateway.Leave(ctx, out, evt.ProjectID, evt.DisplayName)
	case event.SendMessage:
		return h.relay(ctx, userID, evt)
	case event.DeleteMessage:
		deleted, err := h.service.SoftDelete(ctx, domain.DeleteMessageCommand{
			ProjectID:   evt.ProjectID,
			MessageID:   evt.MessageID,
			RequesterID: userID,
		})
		if err != nil {
			return err
		}
		h.gateway.Broadcast(ctx, evt.ProjectID, event.MessageDeleted{ProjectID: evt.ProjectID, MessageID: deleted.ID})
	case event.Typing:
		h.gateway.TypingNotice(ctx, evt.ProjectID, evt.DisplayName, evt.Typing)
	}
	return nil
}

// relay fans out an unpersisted copy of a client message. The copy carries no id
// and the sender is always the authenticated user, so receivers only ever
// treat it as provisional.
func (h *LiveHandler) relay(ctx context.Context, userID string, evt event.SendMessage) error {
	cmd := domain.PostMessageCommand{ProjectID: evt.ProjectID, SenderID: userID}
	if evt.Message.Kind == domain.KindImage {
		cmd.Image = evt.Message.Body
	} else {
		cmd.Text = evt.Message.Body
	}
	message, err := h.service.Preview(ctx, cmd)
	if err != nil {
		return err
	}
	h.gateway.Broadcast(ctx, evt.ProjectID, event.ReceiveMessage{
		ProjectID: evt.ProjectID,
		Message:   message,
		ClientKey: evt.ClientKey,
	})
	return nil
}

// reject answers the offending connection only.
func (h *LiveHandler) reject(ctx context.Context, out *sink.ConnectionSink, err error) {
	h.monitoring.IncrRejected()
	h.log.Debug("Inbound event rejected", "connection_id", out.ID(), "error", err)
	_ = out.Consume(ctx, event.Error{Message: err.Error()})
}

func (h *LiveHandler) writeLoop(conn *websocket.Conn, out *sink.ConnectionSink, done chan<- struct{}) {
	defer close(done)
	var ping <-chan time.Time
	if h.cfg.PingInterval > 0 {
		ticker := time.NewTicker(h.cfg.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case e, ok := <-out.Events():
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				return
			}
			frame, err := event.Encode(e)
			if err != nil {
				h.log.Error("Cannot encode outbound event", "event", e.Type(), "error", err)
				continue
			}
			if err := h.write(conn, websocket.TextMessage, frame); err != nil {
				h.fail(conn, out, err)
				return
			}
		case <-ping:
			if err := h.write(conn, websocket.PingMessage, nil); err != nil {
				h.fail(conn, out, err)
				return
			}
		}
	}
}

func (h *LiveHandler) write(conn *websocket.Conn, messageType int, data []byte) error {
	if h.cfg.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
	}
	return conn.WriteMessage(messageType, data)
}

// fail closes a connection whose writes no longer go through so the reader
// stops too, then drains whatever the gateway still enqueues until Close.
func (h *LiveHandler) fail(conn *websocket.Conn, out *sink.ConnectionSink, err error) {
	h.log.Debug("Live connection write failed", "connection_id", out.ID(), "error", err)
	_ = conn.Close()
	for range out.Events() {
	}
}
