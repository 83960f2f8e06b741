package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"chat-relay/auth"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/errors"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultJoinTimeout         = 10 * time.Second
	defaultReconnectMaxElapsed = time.Minute
)

type Config struct {
	BaseURL             string
	LiveURL             string
	Token               string
	ProjectID           domain.ProjectID
	DisplayName         string
	Timeout             time.Duration
	RetryMaxElapsed     time.Duration
	ReconnectMaxElapsed time.Duration
	Tolerance           time.Duration
}

// Chat drives one project chat: live connection first, then room join, then
// history, so nothing published in between is lost. A dropped live connection
// is dialed again and the history reloaded.
type Chat struct {
	log       *slog.Logger
	conf      Config
	userID    string
	api       *API
	session   *Session
	updates   chan struct{}
	pumpDone  chan struct{}
	lastError chan string
	ctx       context.Context
	cancel    context.CancelFunc

	mu     sync.Mutex
	live   *Live
	closed bool
}

// Connect joins the project, opens the live connection and loads the history.
func Connect(ctx context.Context, log *slog.Logger, conf Config) (*Chat, error) {
	userID, name, err := identityOf(conf.Token)
	if err != nil {
		return nil, err
	}
	if conf.DisplayName == "" {
		conf.DisplayName = name
	}
	if conf.DisplayName == "" {
		conf.DisplayName = userID
	}
	if conf.ReconnectMaxElapsed <= 0 {
		conf.ReconnectMaxElapsed = defaultReconnectMaxElapsed
	}

	api := NewAPI(APIConfig{
		BaseURL:         conf.BaseURL,
		Token:           conf.Token,
		Timeout:         conf.Timeout,
		RetryMaxElapsed: conf.RetryMaxElapsed,
	})
	if err := api.Join(ctx, conf.ProjectID); err != nil {
		return nil, fmt.Errorf("join project %s: %w", conf.ProjectID, err)
	}

	options := []SessionOption{}
	if conf.Tolerance > 0 {
		options = append(options, WithTolerance(conf.Tolerance))
	}
	background, cancel := context.WithCancel(context.Background())
	c := &Chat{
		log:       log,
		conf:      conf,
		userID:    userID,
		api:       api,
		session:   NewSession(conf.ProjectID, userID, options...),
		updates:   make(chan struct{}, 1),
		pumpDone:  make(chan struct{}),
		lastError: make(chan string, 16),
		ctx:       background,
		cancel:    cancel,
	}
	if err := c.attach(ctx); err != nil {
		cancel()
		if live := c.current(); live != nil {
			_ = live.Close()
		}
		return nil, err
	}
	go c.pump()
	return c, nil
}

// Send shows the message right away as provisional and confirms it once the
// log stored it. A failed write leaves nothing behind.
func (c *Chat) Send(ctx context.Context, text, image string) (domain.Message, error) {
	key, _ := c.session.BeginSend(text, image)
	c.notify()

	message, err := c.api.Post(ctx, c.conf.ProjectID, text, image, key)
	if err != nil {
		c.session.FailSend(key)
		c.notify()
		return domain.Message{}, err
	}
	c.session.ConfirmSend(key, message)
	c.notify()
	return message, nil
}

func (c *Chat) Delete(ctx context.Context, messageID uuid.UUID) error {
	if _, err := c.api.Delete(ctx, c.conf.ProjectID, messageID); err != nil {
		return err
	}
	c.session.Apply(event.MessageDeleted{ProjectID: c.conf.ProjectID, MessageID: messageID})
	c.notify()
	return nil
}

func (c *Chat) Typing(isTyping bool) error {
	return c.current().Send(event.Typing{ProjectID: c.conf.ProjectID, DisplayName: c.conf.DisplayName, Typing: isTyping})
}

// Reconnect drops the live connection. The event pump dials again, rejoins the
// room and reloads the history.
func (c *Chat) Reconnect() error {
	return c.current().Close()
}

func (c *Chat) UserID() string             { return c.userID }
func (c *Chat) Messages() []domain.Message { return c.session.Messages() }
func (c *Chat) Presence() []string         { return c.session.Presence() }
func (c *Chat) TypingUsers() []string      { return c.session.Typing() }
func (c *Chat) Updates() <-chan struct{}   { return c.updates }
func (c *Chat) Errors() <-chan string      { return c.lastError }
func (c *Chat) Done() <-chan struct{}      { return c.pumpDone }

// Close leaves the room and closes the live connection.
func (c *Chat) Close() error {
	c.cancel()
	c.mu.Lock()
	c.closed = true
	live := c.live
	c.mu.Unlock()

	// Best effort, the socket may already be gone.
	_ = live.Send(event.LeaveProject{ProjectID: c.conf.ProjectID, DisplayName: c.conf.DisplayName})
	err := live.Close()
	<-c.pumpDone
	return err
}

// attach dials the live endpoint and joins the room, then waits for the relay to
// announce us before reading the history. Events that arrive meanwhile are
// queued by the session and replayed on top of the history.
func (c *Chat) attach(ctx context.Context) error {
	live, err := DialLive(ctx, c.log, c.conf.LiveURL, c.conf.Token)
	if err != nil {
		return err
	}
	if err := c.swap(live); err != nil {
		_ = live.Close()
		return err
	}
	if err := live.Send(event.JoinProject{ProjectID: c.conf.ProjectID, DisplayName: c.conf.DisplayName}); err != nil {
		_ = live.Close()
		return fmt.Errorf("join room: %w", err)
	}
	if err := c.awaitJoin(ctx, live); err != nil {
		_ = live.Close()
		return err
	}

	history, err := c.api.History(ctx, c.conf.ProjectID)
	if err != nil {
		_ = live.Close()
		return fmt.Errorf("load history: %w", err)
	}
	c.session.LoadHistory(history)

	members, err := c.api.Presence(ctx, c.conf.ProjectID)
	if err != nil {
		c.log.Warn("Presence snapshot unavailable", "project_id", c.conf.ProjectID, "error", err)
	} else {
		c.session.SetPresence(members)
	}
	c.notify()
	return nil
}

func (c *Chat) awaitJoin(ctx context.Context, live *Live) error {
	timeout := c.conf.Timeout
	if timeout <= 0 {
		timeout = defaultJoinTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case e, ok := <-live.Events():
			if !ok {
				return fmt.Errorf("live connection closed before joining: %w", errors.ErrTransport)
			}
			if refused, isError := e.(event.Error); isError {
				return fmt.Errorf("join refused: %s", refused.Message)
			}
			c.session.Apply(e)
			if joined, isJoin := e.(event.UserJoined); isJoin &&
				joined.ProjectID == c.conf.ProjectID && joined.DisplayName == c.conf.DisplayName {
				return nil
			}
		case <-timer.C:
			return fmt.Errorf("no join confirmation after %s: %w", timeout, errors.ErrTransport)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Chat) swap(live *Live) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("chat closed: %w", errors.ErrTransport)
	}
	previous := c.live
	c.live = live
	if previous != nil {
		_ = previous.Close()
	}
	return nil
}

func (c *Chat) current() *Live {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live
}

func (c *Chat) pump() {
	defer close(c.pumpDone)
	for {
		c.consume(c.current())
		if c.ctx.Err() != nil {
			return
		}
		c.log.Warn("Live connection lost, reconnecting", "project_id", c.conf.ProjectID)
		if err := c.reconnect(); err != nil {
			if c.ctx.Err() == nil {
				c.log.Error("Giving up on the live connection", "project_id", c.conf.ProjectID, "error", err)
				c.report(fmt.Sprintf("live connection lost: %v", err))
			}
			return
		}
		c.log.Info("Live connection restored", "project_id", c.conf.ProjectID)
	}
}

func (c *Chat) consume(live *Live) {
	for e := range live.Events() {
		if evt, ok := e.(event.Error); ok {
			c.log.Warn("Relay refused an event", "message", evt.Message)
			c.report(evt.Message)
			continue
		}
		c.session.Apply(e)
		c.notify()
	}
}

// reconnect retries attach with exponential backoff until it works, the chat
// is closed or ReconnectMaxElapsed is spent.
func (c *Chat) reconnect() error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxElapsedTime = c.conf.ReconnectMaxElapsed
	return backoff.Retry(func() error {
		c.session.Reconnecting()
		c.notify()
		err := c.attach(c.ctx)
		if err != nil {
			c.log.Warn("Reconnect attempt failed", "project_id", c.conf.ProjectID, "error", err)
		}
		return err
	}, backoff.WithContext(b, c.ctx))
}

func (c *Chat) report(message string) {
	select {
	case c.lastError <- message:
	default:
	}
}

func (c *Chat) notify() {
	select {
	case c.updates <- struct{}{}:
	default:
	}
}

// identityOf reads the user id out of the token. The relay verifies it, the
// client only needs to know who it is.
func identityOf(token string) (string, string, error) {
	claims := &auth.CustomClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", "", fmt.Errorf("read token: %w", err)
	}
	if claims.UserID == "" {
		return "", "", fmt.Errorf("token carries no user id")
	}
	return claims.UserID, claims.Name, nil
}
