// Package storetest is a behavioural test suite that every store.Store
// backend must pass.
package storetest

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrewwphillips/bookql/internal/domain"
	"github.com/andrewwphillips/bookql/internal/store"
)

// Opener returns an empty store. It should register its own cleanup with t.
type Opener func(t *testing.T) store.Store

// Run runs the whole suite, opening a fresh store for each test.
func Run(t *testing.T, open Opener) {
	tests := map[string]func(t *testing.T, s store.Store){
		"CreateUser":              testCreateUser,
		"CreateUserDuplicate":     testCreateUserDuplicate,
		"CreateUserInvalid":       testCreateUserInvalid,
		"CreateUserConcurrent":    testCreateUserConcurrent,
		"UserNotFound":            testUserNotFound,
		"AddBookCreatesAuthor":    testAddBookCreatesAuthor,
		"AddBookReusesAuthor":     testAddBookReusesAuthor,
		"AddBookInvalidAuthor":    testAddBookInvalidAuthor,
		"AddBookInvalidBook":      testAddBookInvalidBook,
		"AddBookConcurrentAuthor": testAddBookConcurrentAuthor,
		"BooksFilter":             testBooksFilter,
		"SetAuthorBorn":           testSetAuthorBorn,
		"SetAuthorBornNotFound":   testSetAuthorBornNotFound,
		"Counts":                  testCounts,
	}
	for name, test := range tests {
		test := test
		t.Run(name, func(t *testing.T) {
			test(t, open(t))
		})
	}
}

func addBook(t *testing.T, s store.Store, title, author string, published int, genres ...string) *domain.Book {
	t.Helper()
	b, err := s.AddBook(context.Background(), domain.NewBook{
		Title:     title,
		Author:    author,
		Published: published,
		Genres:    genres,
	})
	require.NoError(t, err)
	return b
}

func titles(books []*domain.Book) []string {
	r := make([]string, len(books))
	for i, b := range books {
		r[i] = b.Title
	}
	return r
}

func testCreateUser(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := &domain.User{Username: "mluukkai", FavoriteGenre: "refactoring"}
	require.NoError(t, s.CreateUser(ctx, u))
	require.NotEmpty(t, u.ID)

	byID, err := s.UserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, u, byID)

	byName, err := s.UserByUsername(ctx, "mluukkai")
	require.NoError(t, err)
	assert.Equal(t, u, byName)
}

func testCreateUserDuplicate(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateUser(ctx, &domain.User{Username: "root", FavoriteGenre: "crime"}))

	err := s.CreateUser(ctx, &domain.User{Username: "root", FavoriteGenre: "classic"})
	var we *store.WriteError
	require.ErrorAs(t, err, &we)
	assert.Equal(t, store.EntityUser, we.Entity)
	assert.ErrorIs(t, err, store.ErrAlreadyExists)
}

func testCreateUserInvalid(t *testing.T, s store.Store) {
	err := s.CreateUser(context.Background(), &domain.User{Username: "ab", FavoriteGenre: "crime"})
	var we *store.WriteError
	require.ErrorAs(t, err, &we)
	assert.Equal(t, store.EntityUser, we.Entity)
}

// Racing creates of one username: one wins, the rest see a duplicate.
func testCreateUserConcurrent(t *testing.T, s store.Store) {
	ctx := context.Background()
	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.CreateUser(ctx, &domain.User{Username: "mluukkai", FavoriteGenre: "refactoring"})
		}(i)
	}
	wg.Wait()

	created := 0
	for _, err := range errs {
		if err == nil {
			created++
			continue
		}
		var we *store.WriteError
		require.ErrorAs(t, err, &we)
		assert.Equal(t, store.EntityUser, we.Entity)
		assert.ErrorIs(t, err, store.ErrAlreadyExists)
	}
	assert.Equal(t, 1, created)
}

func testUserNotFound(t *testing.T, s store.Store) {
	ctx := context.Background()
	_, err := s.UserByID(ctx, "nonexistent-id")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.UserByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testAddBookCreatesAuthor(t *testing.T, s store.Store) {
	ctx := context.Background()
	b := addBook(t, s, "Dune", "Frank Herbert", 1965, "scifi", "classic")
	assert.NotEmpty(t, b.ID)
	assert.Equal(t, "Dune", b.Title)
	assert.Equal(t, 1965, b.Published)
	assert.Equal(t, []string{"scifi", "classic"}, b.Genres)
	require.NotNil(t, b.Author)
	assert.Equal(t, "Frank Herbert", b.Author.Name)
	assert.Nil(t, b.Author.Born)
	assert.Equal(t, b.Author.ID, b.AuthorID)

	a, err := s.AuthorByID(ctx, b.AuthorID)
	require.NoError(t, err)
	assert.Equal(t, "Frank Herbert", a.Name)
}

func testAddBookReusesAuthor(t *testing.T, s store.Store) {
	ctx := context.Background()
	b1 := addBook(t, s, "Crime and punishment", "Fyodor Dostoevsky", 1866, "classic", "crime")
	b2 := addBook(t, s, "Demons", "Fyodor Dostoevsky", 1872, "classic", "revolution")
	assert.Equal(t, b1.AuthorID, b2.AuthorID)

	n, err := s.CountAuthors(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = s.CountBooksByAuthor(ctx, b1.AuthorID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func testAddBookInvalidAuthor(t *testing.T, s store.Store) {
	_, err := s.AddBook(context.Background(), domain.NewBook{Title: "Anonymous", Published: 2000})
	var we *store.WriteError
	require.ErrorAs(t, err, &we)
	assert.Equal(t, store.EntityAuthor, we.Entity)
}

func testAddBookInvalidBook(t *testing.T, s store.Store) {
	ctx := context.Background()
	_, err := s.AddBook(ctx, domain.NewBook{Author: "Sandi Metz", Published: 2012, Genres: []string{"design"}})
	var we *store.WriteError
	require.ErrorAs(t, err, &we)
	assert.Equal(t, store.EntityBook, we.Entity)

	n, err := s.CountBooks(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

// Author names are unique so racing adds for a new author share one record.
func testAddBookConcurrentAuthor(t *testing.T, s store.Store) {
	ctx := context.Background()
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, title := range []string{"Refactoring, edition 2", "Patterns of Enterprise Application Architecture"} {
		wg.Add(1)
		go func(i int, title string) {
			defer wg.Done()
			_, errs[i] = s.AddBook(ctx, domain.NewBook{Title: title, Author: "Martin Fowler", Published: 2002})
		}(i, title)
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	authors, err := s.Authors(ctx)
	require.NoError(t, err)
	require.Len(t, authors, 1)
	n, err := s.CountBooksByAuthor(ctx, authors[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func testBooksFilter(t *testing.T, s store.Store) {
	addBook(t, s, "Clean Code", "Robert Martin", 2008, "refactoring")
	addBook(t, s, "Agile software development", "Robert Martin", 2002, "agile", "patterns", "design")
	addBook(t, s, "Refactoring to patterns", "Joshua Kerievsky", 2008, "refactoring", "patterns")
	addBook(t, s, "Demons", "Fyodor Dostoevsky", 1872, "classic", "revolution")

	tests := map[string]struct {
		filter store.BookFilter
		want   []string
	}{
		"none":        {store.BookFilter{}, []string{"Agile software development", "Clean Code", "Demons", "Refactoring to patterns"}},
		"genre":       {store.BookFilter{Genre: "refactoring"}, []string{"Clean Code", "Refactoring to patterns"}},
		"author":      {store.BookFilter{Author: "Robert Martin"}, []string{"Agile software development", "Clean Code"}},
		"both":        {store.BookFilter{Author: "Robert Martin", Genre: "patterns"}, []string{"Agile software development"}},
		"no author":   {store.BookFilter{Author: "Someone Else"}, []string{}},
		"no genre":    {store.BookFilter{Genre: "scifi"}, []string{}},
		"genre case":  {store.BookFilter{Genre: "Refactoring"}, []string{}},
		"prefix only": {store.BookFilter{Genre: "pattern"}, []string{}},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			books, err := s.Books(context.Background(), tt.filter)
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.want, titles(books))
			for _, b := range books {
				require.NotNil(t, b.Author, b.Title)
				assert.Equal(t, b.AuthorID, b.Author.ID)
			}
		})
	}
}

func testSetAuthorBorn(t *testing.T, s store.Store) {
	ctx := context.Background()
	b := addBook(t, s, "Clean Code", "Robert Martin", 2008, "refactoring")

	a, err := s.SetAuthorBorn(ctx, "Robert Martin", 1952)
	require.NoError(t, err)
	assert.Equal(t, "Robert Martin", a.Name)
	assert.Equal(t, b.AuthorID, a.ID)
	require.NotNil(t, a.Born)
	assert.Equal(t, 1952, *a.Born)

	books, err := s.Books(ctx, store.BookFilter{Author: "Robert Martin"})
	require.NoError(t, err)
	require.Len(t, books, 1)
	require.NotNil(t, books[0].Author.Born)
	assert.Equal(t, 1952, *books[0].Author.Born)
}

func testSetAuthorBornNotFound(t *testing.T, s store.Store) {
	_, err := s.SetAuthorBorn(context.Background(), "Nobody", 1900)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testCounts(t *testing.T, s store.Store) {
	ctx := context.Background()
	n, err := s.CountBooks(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	addBook(t, s, "Clean Code", "Robert Martin", 2008)
	addBook(t, s, "Demons", "Fyodor Dostoevsky", 1872)
	addBook(t, s, "Crime and punishment", "Fyodor Dostoevsky", 1866)

	n, err = s.CountBooks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	n, err = s.CountAuthors(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
