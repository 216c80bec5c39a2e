// mutation.go resolves the fields of the Mutation type

package resolver

import (
	"context"

	"github.com/andrewwphillips/bookql/internal/auth"
	"github.com/andrewwphillips/bookql/internal/domain"
	apperrors "github.com/andrewwphillips/bookql/internal/errors"
	"github.com/andrewwphillips/bookql/internal/logging"
	"github.com/andrewwphillips/bookql/internal/store"
)

type addBookArgs struct {
	Title     string
	Author    string
	Published int32
	Genres    []string
}

// AddBook stores a book (creating its author if new) and notifies bookAdded
// subscribers. A rejected author reports the author name as the invalid
// argument; a rejected book reports all the arguments.
func (r *Resolver) AddBook(ctx context.Context, args addBookArgs) (*BookResolver, error) {
	user := auth.CurrentUser(ctx)
	if user == nil {
		return nil, apperrors.ErrUnauthenticated
	}
	logger := logging.FromContext(ctx).WithValues("user", user.Username)

	b, err := r.store.AddBook(ctx, domain.NewBook{
		Title:     args.Title,
		Author:    args.Author,
		Published: int(args.Published),
		Genres:    args.Genres,
	})
	var we *store.WriteError
	switch {
	case apperrors.As(err, &we) && we.Entity == store.EntityAuthor:
		logger.V(1).Info("author rejected", "author", args.Author, "reason", we.Err.Error())
		return nil, apperrors.BadUserInput("saving author failed", args.Author, we.Err)
	case apperrors.As(err, &we):
		logger.V(1).Info("book rejected", "title", args.Title, "reason", we.Err.Error())
		return nil, apperrors.BadUserInput("saving book failed", map[string]interface{}{
			"title":     args.Title,
			"author":    args.Author,
			"published": args.Published,
			"genres":    args.Genres,
		}, we.Err)
	case err != nil:
		logger.Error(err, "failed to add book", "title", args.Title)
		return nil, err
	}

	n := r.bus.Publish(TopicBookAdded, b)
	logger.V(1).Info("book added", "id", b.ID, "title", b.Title, "author", args.Author, "notified", n)
	return &BookResolver{root: r, b: b}, nil
}

// EditAuthor returns null, not an error, if there is no author called name.
func (r *Resolver) EditAuthor(ctx context.Context, args struct {
	Name      string
	SetBornTo int32
}) (*AuthorResolver, error) {
	if auth.CurrentUser(ctx) == nil {
		return nil, apperrors.ErrUnauthenticated
	}
	a, err := r.store.SetAuthorBorn(ctx, args.Name, int(args.SetBornTo))
	if apperrors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		logging.FromContext(ctx).Error(err, "failed to edit author", "name", args.Name)
		return nil, err
	}
	return &AuthorResolver{root: r, a: a}, nil
}

func (r *Resolver) CreateUser(ctx context.Context, args struct {
	Username      string
	FavoriteGenre string
}) (*UserResolver, error) {
	u := &domain.User{Username: args.Username, FavoriteGenre: args.FavoriteGenre}
	err := r.store.CreateUser(ctx, u)
	var we *store.WriteError
	if apperrors.As(err, &we) {
		return nil, apperrors.BadUserInput("creating the user failed", args.Username, we.Err)
	}
	if err != nil {
		logging.FromContext(ctx).Error(err, "failed to create user", "username", args.Username)
		return nil, err
	}
	logging.FromContext(ctx).V(1).Info("user created", "username", u.Username, "id", u.ID)
	return &UserResolver{u: u}, nil
}

// Login checks the shared password of an existing user and returns a token
// naming them. Unknown users and wrong passwords get the same error. Only
// failed attempts count towards the throttle.
func (r *Resolver) Login(ctx context.Context, args struct {
	Username string
	Password string
}) (*TokenResolver, error) {
	logger := logging.FromContext(ctx)
	if r.logins != nil && !r.logins.Allow(args.Username) {
		logger.Info("login throttled", "username", args.Username, "tracked", r.logins.Len())
		return nil, apperrors.Forbidden("too many login attempts")
	}
	u, err := r.store.UserByUsername(ctx, args.Username)
	if err != nil && !apperrors.Is(err, store.ErrNotFound) {
		logger.Error(err, "failed to look up user", "username", args.Username)
		return nil, err
	}
	if u == nil || !r.password.Check(args.Password) {
		if r.logins != nil {
			r.logins.Charge(args.Username)
		}
		return nil, apperrors.Forbidden("wrong credentials")
	}

	token, err := r.tokens.Issue(u)
	if err != nil {
		return nil, err
	}
	return &TokenResolver{value: token}, nil
}
