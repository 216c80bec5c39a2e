// Package domain holds the records of the library catalog and its users.
package domain

import "github.com/andrewwphillips/bookql/internal/validation"

// User is an account that can log in and add books.
type User struct {
	ID            string `json:"id"`
	Username      string `json:"username" validate:"required,min=3,max=32"`
	FavoriteGenre string `json:"favoriteGenre" validate:"required,max=64"`
}

// Author is created on demand the first time a book names them.
// Name is unique; Born is nil until set with editAuthor.
type Author struct {
	ID   string `json:"id"`
	Name string `json:"name" validate:"required,max=128"`
	Born *int   `json:"born,omitempty"`
}

// Book references its author by ID. Author is filled in when a store
// resolves the relation and is never persisted.
type Book struct {
	ID        string   `json:"id"`
	Title     string   `json:"title" validate:"required,max=256"`
	Published int      `json:"published" validate:"gte=-5000,lte=9999"`
	AuthorID  string   `json:"authorId"`
	Genres    []string `json:"genres" validate:"dive,required,max=64"`
	Author    *Author  `json:"-"`
}

// NewBook is the input of the ensure-author-then-create-book operation.
type NewBook struct {
	Title     string   `json:"title"`
	Author    string   `json:"author"`
	Published int      `json:"published"`
	Genres    []string `json:"genres"`
}

// HasGenre reports whether genre is one of the book's genres (exact match).
func (b *Book) HasGenre(genre string) bool {
	for _, g := range b.Genres {
		if g == genre {
			return true
		}
	}
	return false
}

// Validate checks the user's fields.
func (u *User) Validate() error { return validation.Validate(u) }

// Validate checks the author's fields.
func (a *Author) Validate() error { return validation.Validate(a) }

// Validate checks the book's fields.
func (b *Book) Validate() error { return validation.Validate(b) }
