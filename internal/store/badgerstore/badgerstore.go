// Package badgerstore implements store.Store on an embedded Badger database.
//
// Records are JSON documents. Unique names and the genre/author relations are
// kept in index keys written in the same transaction as the record:
//
//	user:<id>                        user record
//	author:<id>                      author record
//	book:<id>                        book record
//	idx:user:username:<username>     -> user id
//	idx:author:name:<name>           -> author id
//	idx:book:genre:<genre>\x00<id>   -> book id
//	idx:book:author:<author>\x00<id> -> book id
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v4"

	"github.com/andrewwphillips/bookql/internal/domain"
	"github.com/andrewwphillips/bookql/internal/id"
	"github.com/andrewwphillips/bookql/internal/store"
)

const (
	userPrefix   = "user:"
	authorPrefix = "author:"
	bookPrefix   = "book:"

	userNameIndex   = "idx:user:username:"
	authorNameIndex = "idx:author:name:"
	bookGenreIndex  = "idx:book:genre:"
	bookAuthorIndex = "idx:book:author:"

	sep = "\x00" // separates the indexed value from the book id in relation indexes

	// writeAttempts bounds the retries of a write after a transaction conflict
	writeAttempts = 5
)

// Store is a store.Store backed by Badger.
type Store struct {
	db *badger.DB
}

var _ store.Store = (*Store)(nil)

// Open opens (creating if necessary) the database in directory path.
func Open(path string) (*Store, error) {
	return open(badger.DefaultOptions(path))
}

// OpenInMemory opens a database that lives only in memory, for tests and demos.
func OpenInMemory() (*Store, error) {
	return open(badger.DefaultOptions("").WithInMemory(true))
}

func open(opts badger.Options) (*Store, error) {
	opts.Logger = nil // Badger's own logging is too chatty
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close(context.Context) error {
	return s.db.Close()
}

// CreateUser persists a new user, enforcing a unique username.
func (s *Store) CreateUser(ctx context.Context, u *domain.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := u.Validate(); err != nil {
		return &store.WriteError{Entity: store.EntityUser, Err: err}
	}
	newID, err := id.Generate(id.User)
	if err != nil {
		return err
	}

	// A conflict means another transaction wrote the same username index key,
	// so running again finds the duplicate.
	for attempt := 0; attempt < writeAttempts; attempt++ {
		err = s.db.Update(func(txn *badger.Txn) error {
			if err := checkUnique(txn, userNameIndex+u.Username); err != nil {
				return &store.WriteError{Entity: store.EntityUser, Err: fmt.Errorf("username %q: %w", u.Username, err)}
			}
			rec := *u
			rec.ID = newID
			if err := setJSON(txn, userPrefix+newID, &rec); err != nil {
				return err
			}
			return txn.Set([]byte(userNameIndex+u.Username), []byte(newID))
		})
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
	}
	switch {
	case errors.Is(err, badger.ErrConflict):
		return &store.WriteError{Entity: store.EntityUser, Err: fmt.Errorf("username %q: %w", u.Username, store.ErrAlreadyExists)}
	case err != nil:
		return err
	}
	u.ID = newID
	return nil
}

// UserByID returns the user with this id or store.ErrNotFound.
func (s *Store) UserByID(ctx context.Context, userID string) (*domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var u domain.User
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, userPrefix+userID, &u)
	})
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// UserByUsername returns the user with this username or store.ErrNotFound.
func (s *Store) UserByUsername(ctx context.Context, username string) (*domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var u domain.User
	err := s.db.View(func(txn *badger.Txn) error {
		userID, err := getIndex(txn, userNameIndex+username)
		if err != nil {
			return err
		}
		return getJSON(txn, userPrefix+userID, &u)
	})
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// CountAuthors returns the number of author records.
func (s *Store) CountAuthors(ctx context.Context) (int, error) {
	return s.count(ctx, authorPrefix)
}

// CountBooks returns the number of book records.
func (s *Store) CountBooks(ctx context.Context) (int, error) {
	return s.count(ctx, bookPrefix)
}

// CountBooksByAuthor returns the number of books referencing authorID.
func (s *Store) CountBooksByAuthor(ctx context.Context, authorID string) (int, error) {
	return s.count(ctx, bookAuthorIndex+authorID+sep)
}

// Authors returns all authors ordered by name.
func (s *Store) Authors(ctx context.Context) ([]*domain.Author, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var authors []*domain.Author
	err := s.db.View(func(txn *badger.Txn) error {
		return eachValue(txn, authorPrefix, func(val []byte) error {
			a := new(domain.Author)
			if err := json.Unmarshal(val, a); err != nil {
				return fmt.Errorf("failed to unmarshal author: %w", err)
			}
			authors = append(authors, a)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(authors, func(i, j int) bool { return authors[i].Name < authors[j].Name })
	return authors, nil
}

// AuthorByID returns the author with this id or store.ErrNotFound.
func (s *Store) AuthorByID(ctx context.Context, authorID string) (*domain.Author, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var a domain.Author
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, authorPrefix+authorID, &a)
	})
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// SetAuthorBorn sets the birth year of the named author.
func (s *Store) SetAuthorBorn(ctx context.Context, name string, born int) (*domain.Author, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var a domain.Author
	err := s.db.Update(func(txn *badger.Txn) error {
		authorID, err := getIndex(txn, authorNameIndex+name)
		if err != nil {
			return err
		}
		if err := getJSON(txn, authorPrefix+authorID, &a); err != nil {
			return err
		}
		a.Born = &born
		return setJSON(txn, authorPrefix+a.ID, &a)
	})
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Books returns the books with genre f.Genre (if set) whose author resolves
// and, if f.Author is set, has that name. Books are ordered by title.
func (s *Store) Books(ctx context.Context, f store.BookFilter) ([]*domain.Book, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var books []*domain.Book
	err := s.db.View(func(txn *badger.Txn) error {
		var candidates []*domain.Book
		decode := func(val []byte) error {
			b := new(domain.Book)
			if err := json.Unmarshal(val, b); err != nil {
				return fmt.Errorf("failed to unmarshal book: %w", err)
			}
			candidates = append(candidates, b)
			return nil
		}

		if f.Genre == "" {
			if err := eachValue(txn, bookPrefix, decode); err != nil {
				return err
			}
		} else {
			// a genre may itself contain sep, so the prefix scan can also
			// find other genres: keep only exact matches, once each
			seen := make(map[string]bool)
			err := eachValue(txn, bookGenreIndex+f.Genre+sep, func(val []byte) error {
				if seen[string(val)] {
					return nil
				}
				seen[string(val)] = true
				item, err := txn.Get([]byte(bookPrefix + string(val)))
				if err != nil {
					return fmt.Errorf("genre index refers to missing book %s: %w", val, err)
				}
				if err := item.Value(decode); err != nil {
					return err
				}
				if b := candidates[len(candidates)-1]; !b.HasGenre(f.Genre) {
					candidates = candidates[:len(candidates)-1]
				}
				return nil
			})
			if err != nil {
				return err
			}
		}

		// populate the author relation, discarding books it excludes
		authors := make(map[string]*domain.Author)
		for _, b := range candidates {
			a, ok := authors[b.AuthorID]
			if !ok {
				a = new(domain.Author)
				if err := getJSON(txn, authorPrefix+b.AuthorID, a); err != nil {
					if !errors.Is(err, store.ErrNotFound) {
						return err
					}
					a = nil
				}
				authors[b.AuthorID] = a
			}
			if a == nil || (f.Author != "" && a.Name != f.Author) {
				continue
			}
			b.Author = a
			books = append(books, b)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(books, func(i, j int) bool { return books[i].Title < books[j].Title })
	return books, nil
}

// AddBook runs ensure-author-then-create-book in one transaction. When two
// calls race to create the same author, Badger reports a conflict for the
// later commit and the operation is retried, so it finds the author the
// other call created.
func (s *Store) AddBook(ctx context.Context, nb domain.NewBook) (*domain.Book, error) {
	var err error
	for attempt := 0; attempt < writeAttempts; attempt++ {
		if err = ctx.Err(); err != nil {
			return nil, err
		}
		var b *domain.Book
		b, err = s.addBook(nb)
		if !errors.Is(err, badger.ErrConflict) {
			return b, err
		}
	}
	return nil, fmt.Errorf("add book %q: %w", nb.Title, err)
}

func (s *Store) addBook(nb domain.NewBook) (*domain.Book, error) {
	var b *domain.Book
	err := s.db.Update(func(txn *badger.Txn) error {
		a, err := ensureAuthor(txn, nb.Author)
		if err != nil {
			return err
		}

		genres := make([]string, len(nb.Genres))
		copy(genres, nb.Genres)
		b = &domain.Book{
			Title:     nb.Title,
			Published: nb.Published,
			AuthorID:  a.ID,
			Genres:    genres,
		}
		if err := b.Validate(); err != nil {
			return &store.WriteError{Entity: store.EntityBook, Err: err}
		}
		if b.ID, err = id.Generate(id.Book); err != nil {
			return err
		}
		if err := setJSON(txn, bookPrefix+b.ID, b); err != nil {
			return err
		}
		for _, g := range genres {
			if err := txn.Set([]byte(bookGenreIndex+g+sep+b.ID), []byte(b.ID)); err != nil {
				return err
			}
		}
		if err := txn.Set([]byte(bookAuthorIndex+a.ID+sep+b.ID), []byte(b.ID)); err != nil {
			return err
		}
		b.Author = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// ensureAuthor returns the author called name, creating it if it does not exist.
func ensureAuthor(txn *badger.Txn, name string) (*domain.Author, error) {
	a := new(domain.Author)
	authorID, err := getIndex(txn, authorNameIndex+name)
	if err == nil {
		return a, getJSON(txn, authorPrefix+authorID, a)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	a.Name = name
	if err := a.Validate(); err != nil {
		return nil, &store.WriteError{Entity: store.EntityAuthor, Err: err}
	}
	if a.ID, err = id.Generate(id.Author); err != nil {
		return nil, err
	}
	if err := setJSON(txn, authorPrefix+a.ID, a); err != nil {
		return nil, err
	}
	if err := txn.Set([]byte(authorNameIndex+name), []byte(a.ID)); err != nil {
		return nil, err
	}
	return a, nil
}

// count returns the number of keys with the prefix.
func (s *Store) count(ctx context.Context, prefix string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// eachValue calls fn with the value of every key with the prefix, in key order.
func eachValue(txn *badger.Txn, prefix string, fn func(val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()
	for it.Rewind(); it.Valid(); it.Next() {
		if err := it.Item().Value(fn); err != nil {
			return err
		}
	}
	return nil
}

func getJSON(txn *badger.Txn, key string, dest any) error {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get %s: %w", key, err)
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, dest)
	})
}

func setJSON(txn *badger.Txn, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return txn.Set([]byte(key), data)
}

// getIndex returns the id stored under an index key.
func getIndex(txn *badger.Txn, key string) (string, error) {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return "", err
	}
	return string(val), nil
}

// checkUnique returns store.ErrAlreadyExists if the index key is taken.
func checkUnique(txn *badger.Txn, key string) error {
	_, err := txn.Get([]byte(key))
	if err == nil {
		return store.ErrAlreadyExists
	}
	if !errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("failed to check index key: %w", err)
	}
	return nil
}
