package providers

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/samber/do/v2"

	"github.com/andrewwphillips/bookql/internal/config"
	"github.com/andrewwphillips/bookql/internal/logging"
	"github.com/andrewwphillips/bookql/internal/pubsub"
	"github.com/andrewwphillips/bookql/internal/seed"
	"github.com/andrewwphillips/bookql/internal/store"
	"github.com/andrewwphillips/bookql/internal/store/backend"
)

// StoreHandle wraps the store so the container closes it on shutdown.
type StoreHandle struct {
	store.Store
}

// Shutdown implements do.ShutdownerWithContextAndError.
func (h *StoreHandle) Shutdown(ctx context.Context) error {
	return h.Close(ctx)
}

// ProvideStore opens the store named by the configured URI, loading the
// sample catalog if asked to.
func ProvideStore(i do.Injector) (*StoreHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	logger := do.MustInvoke[logr.Logger](i)

	ctx, cancel := context.WithTimeout(logging.WithLogger(context.Background(), logger), shutdownTimeout)
	defer cancel()

	s, err := backend.Open(ctx, cfg.StoreURI)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	if cfg.Seed {
		catalog, err := seed.Sample()
		if err == nil {
			var n int
			n, err = seed.Load(ctx, s, catalog)
			logger.Info("sample catalog loaded", "books", n)
		}
		if err != nil {
			_ = s.Close(ctx)
			return nil, fmt.Errorf("failed to seed store: %w", err)
		}
	}
	return &StoreHandle{Store: s}, nil
}

// ProvideBus provides the change notifier. *pubsub.Bus is closed by the
// container as it has a Shutdown method.
func ProvideBus(i do.Injector) (*pubsub.Bus, error) {
	logger := do.MustInvoke[logr.Logger](i)
	return pubsub.New(logger, 0), nil
}
