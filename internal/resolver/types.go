// types.go has the resolvers of the object types

package resolver

import (
	"context"
	"fmt"

	"github.com/graph-gophers/graphql-go"

	"github.com/andrewwphillips/bookql/internal/domain"
)

type UserResolver struct {
	u *domain.User
}

func (r *UserResolver) Username() string      { return r.u.Username }
func (r *UserResolver) FavoriteGenre() string { return r.u.FavoriteGenre }
func (r *UserResolver) ID() graphql.ID        { return graphql.ID(r.u.ID) }

type TokenResolver struct {
	value string
}

func (r *TokenResolver) Value() string { return r.value }

type BookResolver struct {
	root *Resolver
	b    *domain.Book
}

func (r *BookResolver) Title() string    { return r.b.Title }
func (r *BookResolver) Published() int32 { return int32(r.b.Published) }
func (r *BookResolver) ID() graphql.ID   { return graphql.ID(r.b.ID) }
func (r *BookResolver) Genres() []string { return r.b.Genres }

// Author returns the author the store resolved with the book, looking it up
// if the store did not.
func (r *BookResolver) Author(ctx context.Context) (*AuthorResolver, error) {
	if r.b.Author != nil {
		return &AuthorResolver{root: r.root, a: r.b.Author}, nil
	}
	a, err := r.root.store.AuthorByID(ctx, r.b.AuthorID)
	if err != nil {
		return nil, fmt.Errorf("author of book %s: %w", r.b.ID, err)
	}
	return &AuthorResolver{root: r.root, a: a}, nil
}

type AuthorResolver struct {
	root *Resolver
	a    *domain.Author
}

func (r *AuthorResolver) Name() string   { return r.a.Name }
func (r *AuthorResolver) ID() graphql.ID { return graphql.ID(r.a.ID) }

func (r *AuthorResolver) Born() *int32 {
	if r.a.Born == nil {
		return nil
	}
	born := int32(*r.a.Born)
	return &born
}

// BookCount is computed on demand for each author returned.
func (r *AuthorResolver) BookCount(ctx context.Context) (*int32, error) {
	n, err := r.root.store.CountBooksByAuthor(ctx, r.a.ID)
	if err != nil {
		return nil, err
	}
	count := int32(n)
	return &count, nil
}

func (r *Resolver) books(books []*domain.Book) []*BookResolver {
	out := make([]*BookResolver, len(books))
	for i, b := range books {
		out[i] = &BookResolver{root: r, b: b}
	}
	return out
}
