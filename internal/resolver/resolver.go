// Package resolver binds the library GraphQL schema to the store, the token
// service and the change notifier.
package resolver

import (
	"context"
	_ "embed"
	"fmt"
	"runtime/debug"

	"github.com/graph-gophers/graphql-go"
	"github.com/graph-gophers/graphql-go/errors"

	"github.com/andrewwphillips/bookql/internal/auth"
	"github.com/andrewwphillips/bookql/internal/logging"
	"github.com/andrewwphillips/bookql/internal/pubsub"
	"github.com/andrewwphillips/bookql/internal/ratelimit"
	"github.com/andrewwphillips/bookql/internal/store"
)

// SDL is the schema the resolvers implement.
//
//go:embed schema.graphql
var SDL string

// TopicBookAdded is the bus topic addBook publishes the new *domain.Book on.
const TopicBookAdded = "BOOK_ADDED"

// Deps are the collaborators of the resolvers.
type Deps struct {
	Store    store.Store
	Bus      *pubsub.Bus
	Tokens   *auth.Tokens
	Password *auth.Password
	Logins   *ratelimit.Keyed // nil disables login throttling
}

// Resolver is the root resolver: it has a method for every field of Query,
// Mutation and Subscription.
type Resolver struct {
	store    store.Store
	bus      *pubsub.Bus
	tokens   *auth.Tokens
	password *auth.Password
	logins   *ratelimit.Keyed
}

func New(d Deps) *Resolver {
	return &Resolver{
		store:    d.Store,
		bus:      d.Bus,
		tokens:   d.Tokens,
		password: d.Password,
		logins:   d.Logins,
	}
}

// NewSchema parses SDL and binds r to it. Extra options are appended to the
// defaults (string descriptions, panics logged through the context logger).
func NewSchema(r *Resolver, opts ...graphql.SchemaOpt) (*graphql.Schema, error) {
	opts = append([]graphql.SchemaOpt{
		graphql.UseStringDescriptions(),
		graphql.Logger(panicLogger{}),
		graphql.PanicHandler(panicHandler{}),
	}, opts...)
	schema, err := graphql.ParseSchema(SDL, r, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to bind schema: %w", err)
	}
	return schema, nil
}

type panicLogger struct{}

func (panicLogger) LogPanic(ctx context.Context, value interface{}) {
	logging.FromContext(ctx).Error(fmt.Errorf("%v", value), "panic in resolver", "stack", string(debug.Stack()))
}

// panicHandler keeps the panic value out of the response.
type panicHandler struct{}

func (panicHandler) MakePanicError(context.Context, interface{}) *errors.QueryError {
	return errors.Errorf("internal server error")
}
