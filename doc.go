// Package bookql is a GraphQL server for a library catalog.
//
// The catalog holds books and their authors. Anyone can query it and create
// a user; a user who logs in gets a token and, by sending it in the
// Authorization header as "Bearer <token>", can add books and set authors'
// birth years. Clients can also subscribe to be told about every book added.
//
// For example, this adds a book (creating its author if needed):
//
//	mutation {
//	  addBook(title: "Demons", author: "Fyodor Dostoevsky", published: 1872, genres: ["classic", "revolution"]) {
//	    title
//	    author { name born bookCount }
//	  }
//	}
//
// Server.Handler returns an http.Handler that serves GraphQL over HTTP (POST,
// or GET for queries) and over a websocket using either the
// graphql-transport-ws or the older graphql-ws sub-protocol. The catalog is
// kept in an embedded Badger database or in MongoDB (see internal/store).
//
// The cmd/bookql program runs the server.
package bookql
