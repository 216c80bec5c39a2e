package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/samber/do/v2"

	"github.com/andrewwphillips/bookql"
	"github.com/andrewwphillips/bookql/internal/auth"
	"github.com/andrewwphillips/bookql/internal/config"
	"github.com/andrewwphillips/bookql/internal/pubsub"
	"github.com/andrewwphillips/bookql/internal/ratelimit"
)

// ProvideAPI provides the GraphQL server.
func ProvideAPI(i do.Injector) (*bookql.Server, error) {
	cfg := do.MustInvoke[*config.Config](i)
	logger := do.MustInvoke[logr.Logger](i)

	return bookql.New(bookql.Deps{
		Store:    do.MustInvoke[*StoreHandle](i).Store,
		Bus:      do.MustInvoke[*pubsub.Bus](i),
		Tokens:   do.MustInvoke[*auth.Tokens](i),
		Password: do.MustInvoke[*auth.Password](i),
		Logins:   do.MustInvoke[*ratelimit.Keyed](i),
	},
		bookql.Path(cfg.Path),
		bookql.CORSOrigins(cfg.CORSOrigins...),
		bookql.Logger(logger),
		bookql.InitialTimeout(cfg.WSInitialTimeout),
		bookql.PingFrequency(cfg.WSPingFrequency),
		bookql.PongTimeout(cfg.WSPongTimeout),
	)
}

// HTTPServerHandle wraps http.Server so the container shuts it down.
type HTTPServerHandle struct {
	*http.Server
	listener net.Listener
	done     chan struct{}
}

// ListenAddr is the address actually listened on (useful with port 0).
func (h *HTTPServerHandle) ListenAddr() net.Addr {
	return h.listener.Addr()
}

// Done is closed once the server has stopped serving.
func (h *HTTPServerHandle) Done() <-chan struct{} {
	return h.done
}

// Shutdown implements do.ShutdownerWithContextAndError.
func (h *HTTPServerHandle) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	return h.Server.Shutdown(ctx)
}

// ProvideHTTPServer listens on the configured address and serves in the background.
func ProvideHTTPServer(i do.Injector) (*HTTPServerHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	logger := do.MustInvoke[logr.Logger](i)
	api := do.MustInvoke[*bookql.Server](i)

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", cfg.Addr, err)
	}
	srv := &http.Server{
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	h := &HTTPServerHandle{Server: srv, listener: ln, done: make(chan struct{})}

	// Start in background
	go func() {
		defer close(h.done)
		logger.Info("server listening", "addr", ln.Addr().String(), "path", cfg.Path)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(err, "server failed")
		}
	}()
	return h, nil
}
