// Package logging carries a logr.Logger in the context.
package logging

import (
	"context"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
)

func FromContext(ctx context.Context) logr.Logger {
	return logr.FromContextOrDiscard(ctx)
}

func WithLogger(ctx context.Context, logger logr.Logger) context.Context {
	return logr.NewContext(ctx, logger)
}

// New returns a logger writing to stderr through the standard log package.
// level is "error", "info" or "debug"; debug enables V(1) messages.
func New(level string) logr.Logger {
	std := log.New(os.Stderr, "", log.LstdFlags)
	switch strings.ToLower(level) {
	case "debug":
		stdr.SetVerbosity(1)
	default:
		stdr.SetVerbosity(0)
	}
	logger := stdr.New(std)
	if strings.EqualFold(level, "error") {
		return logr.New(errorOnly{logger.GetSink()})
	}
	return logger
}

// errorOnly passes errors through to its sink and discards info messages.
type errorOnly struct {
	logr.LogSink
}

func (errorOnly) Enabled(int) bool { return false }

func (s errorOnly) WithValues(kv ...any) logr.LogSink {
	return errorOnly{s.LogSink.WithValues(kv...)}
}

func (s errorOnly) WithName(name string) logr.LogSink {
	return errorOnly{s.LogSink.WithName(name)}
}

// Middleware puts logger in the context of every request and logs the
// request at V(1) once it has been served.
func Middleware(logger logr.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r.WithContext(WithLogger(r.Context(), logger)))
			logger.V(1).Info("served request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
		})
	}
}
