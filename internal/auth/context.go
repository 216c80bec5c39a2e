package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/andrewwphillips/bookql/internal/domain"
	"github.com/andrewwphillips/bookql/internal/store"
)

// State says what kind of credential came with a request.
type State int

const (
	Absent   State = iota // no bearer token: anonymous
	Invalid               // bearer token that failed verification
	Verified              // good token (the user may still have gone)
)

func (s State) String() string {
	switch s {
	case Absent:
		return "absent"
	case Invalid:
		return "invalid"
	case Verified:
		return "verified"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Identity is the outcome of resolving a request's credential.
// User is nil unless State is Verified and the user still exists.
type Identity struct {
	State  State
	Claims *Claims
	User   *domain.User
	Err    error // why an Invalid token was rejected
}

type contextKey struct{ name string }

var identityKey = &contextKey{"identity"}

// WithIdentity stores id in the context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFrom returns the identity stored in ctx; without one the
// request is anonymous.
func IdentityFrom(ctx context.Context) Identity {
	id, _ := ctx.Value(identityKey).(Identity)
	return id
}

// CurrentUser returns the logged in user, or nil.
func CurrentUser(ctx context.Context) *domain.User {
	return IdentityFrom(ctx).User
}

// UserFinder looks up the user a token was issued to.
type UserFinder interface {
	UserByID(ctx context.Context, id string) (*domain.User, error)
}

// Resolver turns an Authorization header into an Identity.
type Resolver struct {
	tokens *Tokens
	users  UserFinder
}

func NewResolver(tokens *Tokens, users UserFinder) *Resolver {
	return &Resolver{tokens: tokens, users: users}
}

const bearerPrefix = "Bearer "

// Resolve classifies header. An error is only returned if the user lookup
// fails for a reason other than the user not existing.
func (r *Resolver) Resolve(ctx context.Context, header string) (Identity, error) {
	if !strings.HasPrefix(header, bearerPrefix) {
		return Identity{State: Absent}, nil
	}
	claims, err := r.tokens.Verify(header[len(bearerPrefix):])
	if err != nil {
		return Identity{State: Invalid, Err: err}, nil
	}

	id := Identity{State: Verified, Claims: claims}
	u, err := r.users.UserByID(ctx, claims.UserID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		// token outlived its user
	case err != nil:
		return Identity{}, fmt.Errorf("failed to look up user %s: %w", claims.UserID, err)
	default:
		id.User = u
	}
	return id, nil
}
