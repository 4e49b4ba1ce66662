// Package catalog serves products from a slow, flaky backend through
// cached pipelines.
package catalog

import (
	"context"
	"errors"
)

var (
	ErrNotFound    = errors.New("product not found")
	ErrUnavailable = errors.New("backend unavailable")
)

type Product struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Price    int64  `json:"price_cents"`
}

// Backend is the system of record.
type Backend interface {
	Fetch(ctx context.Context, id string) (Product, error)
	List(ctx context.Context, category string) ([]Product, error)
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
