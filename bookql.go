package bookql

// bookql.go provides the Server type for generating the library GraphQL HTTP handler or schema

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-logr/logr"
	"github.com/graph-gophers/graphql-go"
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/formatter"

	"github.com/andrewwphillips/bookql/internal/auth"
	"github.com/andrewwphillips/bookql/internal/handler"
	"github.com/andrewwphillips/bookql/internal/logging"
	"github.com/andrewwphillips/bookql/internal/resolver"
)

// Deps are the services the server is built on. Logins may be nil, which
// disables login throttling.
type Deps = resolver.Deps

// Server is the library GraphQL server.
type Server struct {
	opts       options
	schema     *graphql.Schema
	sdl        string
	identities *auth.Resolver
	router     chi.Router
}

// New binds the library schema to the services in deps.
func New(deps Deps, opts ...func(*options)) (*Server, error) {
	if deps.Store == nil || deps.Bus == nil || deps.Tokens == nil || deps.Password == nil {
		return nil, errors.New("bookql: missing dependency")
	}
	s := &Server{
		opts: options{
			path:        defaultPath,
			corsOrigins: []string{"*"},
			logger:      logr.Discard(),
		},
		identities: auth.NewResolver(deps.Tokens, deps.Store),
	}
	for _, opt := range opts {
		opt(&s.opts)
	}

	var schemaOpts []graphql.SchemaOpt
	if s.opts.noIntrospection {
		schemaOpts = append(schemaOpts, graphql.DisableIntrospection())
	}
	if s.opts.maxDepth > 0 {
		schemaOpts = append(schemaOpts, graphql.MaxDepth(s.opts.maxDepth))
	}
	if s.opts.maxParallelism > 0 {
		schemaOpts = append(schemaOpts, graphql.MaxParallelism(s.opts.maxParallelism))
	}
	var err error
	if s.schema, err = resolver.NewSchema(resolver.New(deps), schemaOpts...); err != nil {
		return nil, err
	}
	if s.sdl, err = formatSDL(resolver.SDL); err != nil {
		return nil, err
	}

	s.setupRoutes()
	return s, nil
}

// Handler returns the HTTP handler serving GraphQL at the configured path plus
// /healthz and /schema
func (s *Server) Handler() http.Handler {
	return s.router
}

// Schema returns the GraphQL schema (SDL) the server implements
func (s *Server) Schema() string {
	return s.sdl
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(logging.Middleware(s.opts.logger))

	r.Get("/healthz", handleHealth)
	r.Get("/schema", s.handleSchema)

	gql := handler.New(s.schema,
		handler.InitialTimeout(s.opts.initialTimeout),
		handler.PingFrequency(s.opts.pingFrequency),
		handler.PongTimeout(s.opts.pongTimeout),
		handler.OnInit(s.initConnection),
		handler.CheckOrigin(allowedOrigin(s.opts.corsOrigins)),
	)
	r.With(s.identities.Middleware).Handle(s.opts.path, gql)
	s.router = r
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleSchema(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(s.sdl))
}

// initConnection resolves a token sent in the websocket connection_init payload, as
// browsers cannot set headers on the upgrade request. Without one the identity
// found by the HTTP middleware stands.
func (s *Server) initConnection(ctx context.Context, payload map[string]interface{}) (context.Context, error) {
	header := authorization(payload)
	if header == "" {
		return ctx, nil
	}
	id, err := s.identities.Resolve(ctx, header)
	if err != nil {
		return nil, err
	}
	if id.State == auth.Invalid {
		return nil, id.Err
	}
	return auth.WithIdentity(ctx, id), nil
}

// allowedOrigin checks the Origin of a websocket upgrade against the CORS
// origins. Browsers do not apply CORS to websockets, so it is done here.
// A request without an Origin header is not from a browser and is allowed.
func allowedOrigin(origins []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range origins {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

// authorization finds the Authorization value in a connection_init payload, either
// at the top level or within "headers" (both spellings are used by clients)
func authorization(payload map[string]interface{}) string {
	for _, m := range []interface{}{payload, payload["headers"]} {
		m, ok := m.(map[string]interface{})
		if !ok {
			continue
		}
		for k, v := range m {
			if s, ok := v.(string); ok && strings.EqualFold(k, "authorization") {
				return s
			}
		}
	}
	return ""
}

// formatSDL validates the schema with gqlparser and pretty prints it
func formatSDL(sdl string) (string, error) {
	schema, err := gqlparser.LoadSchema(&ast.Source{Name: "schema.graphql", Input: sdl})
	if err != nil {
		return "", fmt.Errorf("invalid schema: %w", err)
	}
	var buf strings.Builder
	formatter.NewFormatter(&buf).FormatSchema(schema)
	return buf.String(), nil
}
