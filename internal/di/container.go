// Package di wires the server's services together with samber/do.
package di

import (
	"fmt"

	"github.com/samber/do/v2"

	"github.com/andrewwphillips/bookql/internal/config"
	"github.com/andrewwphillips/bookql/internal/di/providers"
)

// NewContainer creates the container for cfg. Services are built lazily,
// see Bootstrap.
func NewContainer(cfg *config.Config) *do.RootScope {
	injector := do.New()

	// Core infrastructure
	do.ProvideValue(injector, cfg)
	do.Provide(injector, providers.ProvideLogger)

	// Storage and notification
	do.Provide(injector, providers.ProvideStore)
	do.Provide(injector, providers.ProvideBus)

	// Credentials
	do.Provide(injector, providers.ProvideTokens)
	do.Provide(injector, providers.ProvidePassword)
	do.Provide(injector, providers.ProvideLoginLimiter)

	// Server
	do.Provide(injector, providers.ProvideAPI)
	do.Provide(injector, providers.ProvideHTTPServer)

	return injector
}

// Bootstrap builds every service, which starts the HTTP server.
func Bootstrap(injector *do.RootScope) (*providers.HTTPServerHandle, error) {
	srv, err := do.Invoke[*providers.HTTPServerHandle](injector)
	if err != nil {
		return nil, fmt.Errorf("failed to start server: %w", err)
	}
	return srv, nil
}
