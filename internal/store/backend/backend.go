// Package backend opens the store.Store named by a URI.
package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/andrewwphillips/bookql/internal/logging"
	"github.com/andrewwphillips/bookql/internal/store"
	"github.com/andrewwphillips/bookql/internal/store/badgerstore"
	"github.com/andrewwphillips/bookql/internal/store/mongostore"
)

// Memory is the URI of a Badger database that is discarded on Close.
const Memory = "badger://memory"

// Open returns the store for uri:
//
//	badger://memory   in-memory Badger (also the empty string)
//	badger://<dir>    Badger database in directory dir
//	mongodb://...     MongoDB server (or mongodb+srv://...)
func Open(ctx context.Context, uri string) (store.Store, error) {
	logger := logging.FromContext(ctx)
	switch {
	case uri == "" || uri == Memory:
		logger.Info("opening in-memory badger store")
		return badgerstore.OpenInMemory()

	case strings.HasPrefix(uri, "badger://"):
		dir := strings.TrimPrefix(uri, "badger://")
		logger.Info("opening badger store", "dir", dir)
		return badgerstore.Open(dir)

	case strings.HasPrefix(uri, "mongodb://"), strings.HasPrefix(uri, "mongodb+srv://"):
		logger.Info("opening mongodb store")
		return mongostore.Open(ctx, uri, "")
	}
	return nil, fmt.Errorf("unsupported store uri %q", uri)
}
