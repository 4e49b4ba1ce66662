package catalog

import (
	"context"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"time"
)

// Simulated is an in-memory Backend with artificial latency and random
// transient failures.
type Simulated struct {
	mu          sync.Mutex
	products    map[string]Product
	latency     time.Duration
	failureRate float64
	rng         *rand.Rand
}

// NewSimulated creates a backend seeded with products. failureRate is the
// probability in [0, 1] that a call fails with ErrUnavailable.
func NewSimulated(latency time.Duration, failureRate float64, seed uint64, products ...Product) *Simulated {
	s := &Simulated{
		products:    make(map[string]Product, len(products)),
		latency:     latency,
		failureRate: failureRate,
		rng:         rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
	for _, p := range products {
		s.products[p.ID] = p
	}
	return s
}

// Put inserts or replaces a product.
func (s *Simulated) Put(p Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

func (s *Simulated) Fetch(ctx context.Context, id string) (Product, error) {
	if err := s.call(ctx, "fetch "+id); err != nil {
		return Product{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return Product{}, fmt.Errorf("fetch %s: %w", id, ErrNotFound)
	}
	return p, nil
}

// List returns the products in category sorted by ID. An empty category
// lists everything.
func (s *Simulated) List(ctx context.Context, category string) ([]Product, error) {
	if err := s.call(ctx, "list "+category); err != nil {
		return nil, err
	}

	s.mu.Lock()
	out := make([]Product, 0, len(s.products))
	for _, p := range s.products {
		if category == "" || strings.EqualFold(p.Category, category) {
			out = append(out, p)
		}
	}
	s.mu.Unlock()

	slices.SortFunc(out, func(a, b Product) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

// call waits out the latency and rolls for a failure.
func (s *Simulated) call(ctx context.Context, op string) error {
	if s.latency > 0 {
		timer := time.NewTimer(s.latency)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	fail := s.failureRate > 0 && s.rng.Float64() < s.failureRate
	s.mu.Unlock()
	if fail {
		return fmt.Errorf("%s: %w", op, ErrUnavailable)
	}
	return nil
}
