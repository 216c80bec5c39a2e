// Command bookql serves the library catalog GraphQL API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/samber/do/v2"

	"github.com/andrewwphillips/bookql/internal/config"
	"github.com/andrewwphillips/bookql/internal/di"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	injector := di.NewContainer(cfg)
	srv, err := di.Bootstrap(injector)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap server: %v\n", err)
		injector.Shutdown()
		os.Exit(1)
	}
	log := do.MustInvoke[logr.Logger](injector)

	// Wait for a signal, or the server failing
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.Info("shutting down", "signal", sig.String())
	case <-srv.Done():
		log.Info("server stopped, shutting down")
	}

	// The container stops the HTTP server before closing the store
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if report := injector.ShutdownWithContext(ctx); !report.Succeed {
		log.Error(report, "shutdown failed")
		os.Exit(1)
	}
	log.Info("bye")
}
