package providers

import (
	"github.com/go-logr/logr"
	"github.com/samber/do/v2"

	"github.com/andrewwphillips/bookql/internal/config"
	"github.com/andrewwphillips/bookql/internal/logging"
)

// ProvideLogger provides the root logger.
func ProvideLogger(i do.Injector) (logr.Logger, error) {
	cfg := do.MustInvoke[*config.Config](i)

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting bookql",
		"addr", cfg.Addr,
		"path", cfg.Path,
		"log_level", cfg.LogLevel,
		"seed", cfg.Seed,
	)
	return logger, nil
}
