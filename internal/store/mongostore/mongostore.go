// Package mongostore implements store.Store on a MongoDB server.
//
// Records live in the collections users, authors and books. Unique indexes on
// users.username and authors.name enforce the uniqueness rules; books refer to
// their author by ObjectID.
package mongostore

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"

	"github.com/andrewwphillips/bookql/internal/domain"
	"github.com/andrewwphillips/bookql/internal/store"
)

// DefaultDatabase is used when the connection string does not name a database.
const DefaultDatabase = "library"

const (
	usersCollection   = "users"
	authorsCollection = "authors"
	booksCollection   = "books"
)

type userDoc struct {
	ID            primitive.ObjectID `bson:"_id,omitempty"`
	Username      string             `bson:"username"`
	FavoriteGenre string             `bson:"favoriteGenre"`
}

type authorDoc struct {
	ID   primitive.ObjectID `bson:"_id,omitempty"`
	Name string             `bson:"name"`
	Born *int               `bson:"born,omitempty"`
}

type bookDoc struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	Title     string             `bson:"title"`
	Published int                `bson:"published"`
	Author    primitive.ObjectID `bson:"author"`
	Genres    []string           `bson:"genres"`
}

// populatedBook is a book with its author relation looked up.
type populatedBook struct {
	Book      bookDoc   `bson:",inline"`
	AuthorDoc authorDoc `bson:"authorDoc"`
}

func (d *userDoc) domain() *domain.User {
	return &domain.User{ID: d.ID.Hex(), Username: d.Username, FavoriteGenre: d.FavoriteGenre}
}

func (d *authorDoc) domain() *domain.Author {
	return &domain.Author{ID: d.ID.Hex(), Name: d.Name, Born: d.Born}
}

func (d *bookDoc) domain(a *domain.Author) *domain.Book {
	genres := d.Genres
	if genres == nil {
		genres = []string{}
	}
	return &domain.Book{
		ID:        d.ID.Hex(),
		Title:     d.Title,
		Published: d.Published,
		AuthorID:  d.Author.Hex(),
		Genres:    genres,
		Author:    a,
	}
}

// Store is a store.Store backed by MongoDB.
type Store struct {
	client  *mongo.Client
	db      *mongo.Database
	users   *mongo.Collection
	authors *mongo.Collection
	books   *mongo.Collection
}

var _ store.Store = (*Store)(nil)

// Open connects to the server at uri, checks it is reachable and ensures the
// indexes of database exist. If database is empty the one named in uri is
// used, else DefaultDatabase.
func Open(ctx context.Context, uri, database string) (*Store, error) {
	opts := options.Client().ApplyURI(uri)
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mongodb uri: %w", err)
	}
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to reach mongodb: %w", err)
	}

	if database == "" {
		database = databaseFromURI(uri)
	}
	db := client.Database(database)
	s := &Store{
		client:  client,
		db:      db,
		users:   db.Collection(usersCollection),
		authors: db.Collection(authorsCollection),
		books:   db.Collection(booksCollection),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	indexes := []struct {
		coll  *mongo.Collection
		model mongo.IndexModel
	}{
		{s.users, mongo.IndexModel{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true)}},
		{s.authors, mongo.IndexModel{Keys: bson.D{{Key: "name", Value: 1}}, Options: options.Index().SetUnique(true)}},
		{s.books, mongo.IndexModel{Keys: bson.D{{Key: "genres", Value: 1}}}},
		{s.books, mongo.IndexModel{Keys: bson.D{{Key: "author", Value: 1}}}},
	}
	for _, idx := range indexes {
		if _, err := idx.coll.Indexes().CreateOne(ctx, idx.model); err != nil {
			return fmt.Errorf("failed to create index on %s: %w", idx.coll.Name(), err)
		}
	}
	return nil
}

// Database gives access to the underlying database, eg so tests can drop it.
func (s *Store) Database() *mongo.Database { return s.db }

// Close disconnects from the server.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// CreateUser inserts a new user; the unique index rejects a duplicate username.
func (s *Store) CreateUser(ctx context.Context, u *domain.User) error {
	if err := u.Validate(); err != nil {
		return &store.WriteError{Entity: store.EntityUser, Err: err}
	}
	res, err := s.users.InsertOne(ctx, userDoc{Username: u.Username, FavoriteGenre: u.FavoriteGenre})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			err = fmt.Errorf("username %q: %w", u.Username, store.ErrAlreadyExists)
		}
		return writeError(store.EntityUser, err)
	}
	u.ID = res.InsertedID.(primitive.ObjectID).Hex()
	return nil
}

// UserByID returns the user with this id or store.ErrNotFound.
func (s *Store) UserByID(ctx context.Context, id string) (*domain.User, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, store.ErrNotFound // not an id this store could have issued
	}
	var doc userDoc
	if err := findOne(ctx, s.users, bson.M{"_id": oid}, &doc); err != nil {
		return nil, err
	}
	return doc.domain(), nil
}

// UserByUsername returns the user with this username or store.ErrNotFound.
func (s *Store) UserByUsername(ctx context.Context, username string) (*domain.User, error) {
	var doc userDoc
	if err := findOne(ctx, s.users, bson.M{"username": username}, &doc); err != nil {
		return nil, err
	}
	return doc.domain(), nil
}

// CountAuthors returns the number of authors.
func (s *Store) CountAuthors(ctx context.Context) (int, error) {
	n, err := s.authors.CountDocuments(ctx, bson.D{})
	return int(n), err
}

// Authors returns all authors ordered by name.
func (s *Store) Authors(ctx context.Context) ([]*domain.Author, error) {
	cur, err := s.authors.Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to find authors: %w", err)
	}
	var docs []authorDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to read authors: %w", err)
	}
	authors := make([]*domain.Author, len(docs))
	for i := range docs {
		authors[i] = docs[i].domain()
	}
	return authors, nil
}

// AuthorByID returns the author with this id or store.ErrNotFound.
func (s *Store) AuthorByID(ctx context.Context, id string) (*domain.Author, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, store.ErrNotFound
	}
	var doc authorDoc
	if err := findOne(ctx, s.authors, bson.M{"_id": oid}, &doc); err != nil {
		return nil, err
	}
	return doc.domain(), nil
}

// SetAuthorBorn sets born on the author called name and returns the result.
func (s *Store) SetAuthorBorn(ctx context.Context, name string, born int) (*domain.Author, error) {
	var doc authorDoc
	err := s.authors.FindOneAndUpdate(ctx,
		bson.M{"name": name},
		bson.M{"$set": bson.M{"born": born}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update author %q: %w", name, err)
	}
	return doc.domain(), nil
}

// CountBooks returns the number of books.
func (s *Store) CountBooks(ctx context.Context) (int, error) {
	n, err := s.books.CountDocuments(ctx, bson.D{})
	return int(n), err
}

// CountBooksByAuthor returns the number of books referencing authorID.
func (s *Store) CountBooksByAuthor(ctx context.Context, authorID string) (int, error) {
	oid, err := primitive.ObjectIDFromHex(authorID)
	if err != nil {
		return 0, nil
	}
	n, err := s.books.CountDocuments(ctx, bson.M{"author": oid})
	return int(n), err
}

// Books matches the genre on the books collection, looks up each author and
// drops books whose author is missing or, if f.Author is set, has another name.
func (s *Store) Books(ctx context.Context, f store.BookFilter) ([]*domain.Book, error) {
	var pipeline mongo.Pipeline
	if f.Genre != "" {
		pipeline = append(pipeline, bson.D{{Key: "$match", Value: bson.M{"genres": f.Genre}}})
	}
	pipeline = append(pipeline,
		bson.D{{Key: "$lookup", Value: bson.M{
			"from":         authorsCollection,
			"localField":   "author",
			"foreignField": "_id",
			"as":           "authorDoc",
		}}},
		bson.D{{Key: "$unwind", Value: "$authorDoc"}},
	)
	if f.Author != "" {
		pipeline = append(pipeline, bson.D{{Key: "$match", Value: bson.M{"authorDoc.name": f.Author}}})
	}
	pipeline = append(pipeline, bson.D{{Key: "$sort", Value: bson.D{{Key: "title", Value: 1}}}})

	cur, err := s.books.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to find books: %w", err)
	}
	var docs []populatedBook
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to read books: %w", err)
	}
	books := make([]*domain.Book, len(docs))
	for i := range docs {
		books[i] = docs[i].Book.domain(docs[i].AuthorDoc.domain())
	}
	return books, nil
}

// AddBook upserts the author against the unique name index, so concurrent
// calls for a new name converge on one record, then inserts the book.
func (s *Store) AddBook(ctx context.Context, nb domain.NewBook) (*domain.Book, error) {
	author := &domain.Author{Name: nb.Author}
	if err := author.Validate(); err != nil {
		return nil, &store.WriteError{Entity: store.EntityAuthor, Err: err}
	}
	a, err := s.ensureAuthor(ctx, nb.Author)
	if err != nil {
		return nil, writeError(store.EntityAuthor, err)
	}

	genres := make([]string, len(nb.Genres))
	copy(genres, nb.Genres)
	b := &domain.Book{Title: nb.Title, Published: nb.Published, AuthorID: a.ID.Hex(), Genres: genres}
	if err := b.Validate(); err != nil {
		return nil, &store.WriteError{Entity: store.EntityBook, Err: err}
	}
	doc := bookDoc{Title: b.Title, Published: b.Published, Author: a.ID, Genres: genres}
	res, err := s.books.InsertOne(ctx, doc)
	if err != nil {
		return nil, writeError(store.EntityBook, err)
	}
	doc.ID = res.InsertedID.(primitive.ObjectID)
	return doc.domain(a.domain()), nil
}

func (s *Store) ensureAuthor(ctx context.Context, name string) (*authorDoc, error) {
	upsert := func() (*authorDoc, error) {
		var doc authorDoc
		err := s.authors.FindOneAndUpdate(ctx,
			bson.M{"name": name},
			bson.M{"$setOnInsert": bson.M{"name": name}},
			options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
		).Decode(&doc)
		return &doc, err
	}
	doc, err := upsert()
	if mongo.IsDuplicateKeyError(err) {
		// lost the insert race: the other writer's record now exists
		doc, err = upsert()
	}
	return doc, err
}

func findOne(ctx context.Context, coll *mongo.Collection, filter any, dest any) error {
	err := coll.FindOne(ctx, filter).Decode(dest)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to find in %s: %w", coll.Name(), err)
	}
	return nil
}

// writeError turns a rejected write into a *store.WriteError. Other failures,
// such as an unreachable server, are returned unchanged.
func writeError(entity string, err error) error {
	var we mongo.WriteException
	var cmd mongo.CommandError
	switch {
	case errors.Is(err, store.ErrAlreadyExists),
		errors.As(err, &we),
		errors.As(err, &cmd) && cmd.HasErrorCode(121): // DocumentValidationFailure
		return &store.WriteError{Entity: entity, Err: err}
	}
	return err
}

// databaseFromURI returns the database named in the path of uri, if any.
func databaseFromURI(uri string) string {
	cs, err := connstring.Parse(uri)
	if err != nil || cs.Database == "" {
		return DefaultDatabase
	}
	return cs.Database
}
