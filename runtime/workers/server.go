package workers

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
)

// ServerWorker serves a fiber app until its context ends, then shuts it down gracefully.
type ServerWorker struct {
	log             *slog.Logger
	app             *fiber.App
	addr            string
	shutdownTimeout time.Duration

	mu      sync.RWMutex
	boundTo string
}

func NewServerWorker(log *slog.Logger, app *fiber.App, addr string, shutdownTimeout time.Duration) *ServerWorker {
	return &ServerWorker{log: log, app: app, addr: addr, shutdownTimeout: shutdownTimeout}
}

// Addr is the address actually listened on, empty until the listener is up.
func (w *ServerWorker) Addr() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.boundTo
}

func (w *ServerWorker) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", w.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", w.addr, err)
	}
	w.mu.Lock()
	w.boundTo = ln.Addr().String()
	w.mu.Unlock()
	w.log.Info("HTTP server listening", "addr", ln.Addr().String())

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- w.app.Listener(ln)
	}()

	select {
	case <-ctx.Done():
		w.log.Info("Shutting down HTTP server")
		if err := w.app.ShutdownWithTimeout(w.shutdownTimeout); err != nil {
			w.log.Warn("HTTP server shutdown", "error", err)
		}
		<-serveErr
		return nil
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	}
}
