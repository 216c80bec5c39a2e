// Package store defines the document store used by the catalog and the
// credential records.
//
// Two backends implement Store: badgerstore (embedded, the default) and
// mongostore (a MongoDB server). Both are checked by the storetest suite.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/andrewwphillips/bookql/internal/domain"
)

// Sentinel errors.
var (
	ErrNotFound      = errors.New("record not found")
	ErrAlreadyExists = errors.New("record already exists")
)

// Entity names used in WriteError.
const (
	EntityUser   = "user"
	EntityAuthor = "author"
	EntityBook   = "book"
)

// WriteError reports a write the store rejected: a validation failure or a
// uniqueness violation. Entity says which record kind was being written.
type WriteError struct {
	Entity string
	Err    error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Entity, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// BookFilter selects books. Empty fields do not filter.
// Genre is applied to the book records; Author is applied to the resolved
// author relation and excludes books whose author does not match.
type BookFilter struct {
	Author string
	Genre  string
}

// Store is the narrow find/create/update/count API the resolvers need over
// users, authors and books. Every method may block on I/O.
type Store interface {
	// CreateUser assigns u.ID and persists u. A duplicate username or an
	// invalid record returns a *WriteError.
	CreateUser(ctx context.Context, u *domain.User) error
	UserByID(ctx context.Context, id string) (*domain.User, error)
	UserByUsername(ctx context.Context, username string) (*domain.User, error)

	CountAuthors(ctx context.Context) (int, error)
	Authors(ctx context.Context) ([]*domain.Author, error)
	AuthorByID(ctx context.Context, id string) (*domain.Author, error)
	// SetAuthorBorn updates the birth year of the author with this exact name
	// and returns the updated record, or ErrNotFound.
	SetAuthorBorn(ctx context.Context, name string, born int) (*domain.Author, error)

	CountBooks(ctx context.Context) (int, error)
	CountBooksByAuthor(ctx context.Context, authorID string) (int, error)
	// Books returns the books matching f, each with Author resolved.
	Books(ctx context.Context, f BookFilter) ([]*domain.Book, error)
	// AddBook ensures an author named nb.Author exists (creating it if needed)
	// then persists the book, as one operation. The returned book has Author
	// resolved. Rejected writes return a *WriteError naming the entity.
	AddBook(ctx context.Context, nb domain.NewBook) (*domain.Book, error)

	Close(ctx context.Context) error
}
