package bookql

// options.go handles options that can be used to control the GraphQL server.
// Most are just passed on to the handler or to graphql-go. (See internal/handler/options.go
// for details on how closures are used to handle options.)

import (
	"time"

	"github.com/go-logr/logr"
)

const defaultPath = "/graphql"

type options struct {
	path        string
	corsOrigins []string
	logger      logr.Logger

	// handler options
	initialTimeout, pingFrequency, pongTimeout time.Duration

	// graphql-go options
	noIntrospection bool
	maxDepth        int
	maxParallelism  int
}

// Path sets the URL path of the GraphQL endpoint (default /graphql)
func Path(path string) func(*options) {
	return func(opt *options) {
		opt.path = path
	}
}

// CORSOrigins sets the origins allowed to make cross-origin requests (default any)
func CORSOrigins(origins ...string) func(*options) {
	return func(opt *options) {
		opt.corsOrigins = origins
	}
}

// Logger sets the logger placed in the context of every request (default discards everything)
func Logger(logger logr.Logger) func(*options) {
	return func(opt *options) {
		opt.logger = logger
	}
}

// NoIntrospection controls whether introspection queries are permitted
func NoIntrospection(on bool) func(*options) {
	return func(opt *options) {
		opt.noIntrospection = on
	}
}

// MaxDepth limits the nesting of selections in a query (0 means no limit)
func MaxDepth(n int) func(*options) {
	return func(opt *options) {
		opt.maxDepth = n
	}
}

// MaxParallelism limits how many fields of a query are resolved concurrently
func MaxParallelism(n int) func(*options) {
	return func(opt *options) {
		opt.maxParallelism = n
	}
}

// InitialTimeout is how long a websocket client has to send connection_init (default 10s)
func InitialTimeout(timeout time.Duration) func(*options) {
	return func(opt *options) {
		opt.initialTimeout = timeout
	}
}

// PingFrequency is the websocket keep-alive interval (default 20s)
func PingFrequency(freq time.Duration) func(*options) {
	return func(opt *options) {
		opt.pingFrequency = freq
	}
}

// PongTimeout is how long a websocket client has to answer a ping (default 5s)
func PongTimeout(timeout time.Duration) func(*options) {
	return func(opt *options) {
		opt.pongTimeout = timeout
	}
}
