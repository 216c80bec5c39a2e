package badgerstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrewwphillips/bookql/internal/domain"
	"github.com/andrewwphillips/bookql/internal/store"
	"github.com/andrewwphillips/bookql/internal/store/badgerstore"
	"github.com/andrewwphillips/bookql/internal/store/storetest"
)

func openInMemory(t *testing.T) store.Store {
	s, err := badgerstore.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func TestStore(t *testing.T) {
	storetest.Run(t, openInMemory)
}

func TestReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := badgerstore.Open(dir)
	require.NoError(t, err)
	_, err = s.AddBook(ctx, domain.NewBook{Title: "Demons", Author: "Fyodor Dostoevsky", Published: 1872, Genres: []string{"classic"}})
	require.NoError(t, err)
	require.NoError(t, s.Close(ctx))

	s, err = badgerstore.Open(dir)
	require.NoError(t, err)
	defer s.Close(ctx)
	books, err := s.Books(ctx, store.BookFilter{Genre: "classic"})
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Equal(t, "Fyodor Dostoevsky", books[0].Author.Name)
}

// Genres are matched whole, so a genre that extends another is not a match.
func TestGenreIndexBoundary(t *testing.T) {
	ctx := context.Background()
	s := openInMemory(t)
	_, err := s.AddBook(ctx, domain.NewBook{Title: "Dune", Author: "Frank Herbert", Published: 1965, Genres: []string{"sci"}})
	require.NoError(t, err)
	_, err = s.AddBook(ctx, domain.NewBook{Title: "Hyperion", Author: "Dan Simmons", Published: 1989, Genres: []string{"scifi"}})
	require.NoError(t, err)

	books, err := s.Books(ctx, store.BookFilter{Genre: "sci"})
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Equal(t, "Dune", books[0].Title)
}

func TestGenreContainingSeparator(t *testing.T) {
	ctx := context.Background()
	s := openInMemory(t)
	_, err := s.AddBook(ctx, domain.NewBook{Title: "Dune", Author: "Frank Herbert", Published: 1965, Genres: []string{"sci\x00fi"}})
	require.NoError(t, err)
	_, err = s.AddBook(ctx, domain.NewBook{Title: "Hyperion", Author: "Dan Simmons", Published: 1989, Genres: []string{"sci", "sci\x00fi"}})
	require.NoError(t, err)

	books, err := s.Books(ctx, store.BookFilter{Genre: "sci"})
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Equal(t, "Hyperion", books[0].Title)

	books, err = s.Books(ctx, store.BookFilter{Genre: "sci\x00fi"})
	require.NoError(t, err)
	assert.Len(t, books, 2)
}

func TestCanceledContext(t *testing.T) {
	s := openInMemory(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.AddBook(ctx, domain.NewBook{Title: "Dune", Author: "Frank Herbert", Published: 1965})
	assert.ErrorIs(t, err, context.Canceled)
	_, err = s.CountBooks(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
