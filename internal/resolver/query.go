// query.go resolves the fields of the Query type

package resolver

import (
	"context"

	"github.com/andrewwphillips/bookql/internal/auth"
	"github.com/andrewwphillips/bookql/internal/store"
)

// Me returns the current user, or null if the request is anonymous.
func (r *Resolver) Me(ctx context.Context) *UserResolver {
	u := auth.CurrentUser(ctx)
	if u == nil {
		return nil
	}
	return &UserResolver{u: u}
}

func (r *Resolver) BookCount(ctx context.Context) (int32, error) {
	n, err := r.store.CountBooks(ctx)
	return int32(n), err
}

func (r *Resolver) AuthorCount(ctx context.Context) (int32, error) {
	n, err := r.store.CountAuthors(ctx)
	return int32(n), err
}

// AllBooks applies genre in the store query and author to the resolved
// author relation; given both, a book must match both.
func (r *Resolver) AllBooks(ctx context.Context, args struct {
	Author *string
	Genre  *string
}) ([]*BookResolver, error) {
	var f store.BookFilter
	if args.Author != nil {
		f.Author = *args.Author
	}
	if args.Genre != nil {
		f.Genre = *args.Genre
	}
	books, err := r.store.Books(ctx, f)
	if err != nil {
		return nil, err
	}
	return r.books(books), nil
}

func (r *Resolver) AllAuthors(ctx context.Context) ([]*AuthorResolver, error) {
	authors, err := r.store.Authors(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*AuthorResolver, len(authors))
	for i, a := range authors {
		out[i] = &AuthorResolver{root: r, a: a}
	}
	return out, nil
}
