// Package seed loads the sample catalog into an empty store.
package seed

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/goccy/go-yaml"

	"github.com/andrewwphillips/bookql/internal/domain"
	"github.com/andrewwphillips/bookql/internal/logging"
	"github.com/andrewwphillips/bookql/internal/store"
)

//go:embed catalog.yaml
var catalogYAML []byte

// Catalog is a set of authors and books to load.
type Catalog struct {
	Authors []struct {
		Name string `yaml:"name"`
		Born *int   `yaml:"born"`
	} `yaml:"authors"`
	Books []domain.NewBook `yaml:"books"`
}

// Sample returns the built-in sample catalog.
func Sample() (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(catalogYAML, &c); err != nil {
		return nil, fmt.Errorf("decoding sample catalog: %w", err)
	}
	return &c, nil
}

// Load adds the catalog's books (creating their authors) and sets the known
// birth years. A store that already has books is left alone. It returns the
// number of books added.
func Load(ctx context.Context, s store.Store, c *Catalog) (int, error) {
	n, err := s.CountBooks(ctx)
	if err != nil {
		return 0, err
	}
	logger := logging.FromContext(ctx)
	if n > 0 {
		logger.V(1).Info("store not empty, skipping seed", "books", n)
		return 0, nil
	}

	for _, nb := range c.Books {
		if _, err := s.AddBook(ctx, nb); err != nil {
			return 0, fmt.Errorf("adding %q: %w", nb.Title, err)
		}
	}
	for _, a := range c.Authors {
		if a.Born == nil {
			continue
		}
		if _, err := s.SetAuthorBorn(ctx, a.Name, *a.Born); err != nil {
			return 0, fmt.Errorf("setting birth year of %q: %w", a.Name, err)
		}
	}
	logger.Info("loaded sample catalog", "books", len(c.Books), "authors", len(c.Authors))
	return len(c.Books), nil
}
