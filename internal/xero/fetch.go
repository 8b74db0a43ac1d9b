package xero

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Gate limits simultaneous in-flight API calls per tenant. The external
// platform enforces its own concurrency cap, so the gate is defensive
// backpressure during a sync burst rather than a throughput mechanism.
type Gate struct {
	mu      sync.Mutex
	weight  int64
	tenants map[string]*semaphore.Weighted
}

// NewGate builds a gate registry allowing weight concurrent calls per tenant.
func NewGate(weight int64) *Gate {
	if weight <= 0 {
		weight = 1
	}
	return &Gate{weight: weight, tenants: make(map[string]*semaphore.Weighted)}
}

func (g *Gate) tenant(tenantID string) *semaphore.Weighted {
	g.mu.Lock()
	defer g.mu.Unlock()
	sem, ok := g.tenants[tenantID]
	if !ok {
		sem = semaphore.NewWeighted(g.weight)
		g.tenants[tenantID] = sem
	}
	return sem
}

// Acquire blocks until a slot for the tenant is free or ctx is done.
func (g *Gate) Acquire(ctx context.Context, tenantID string) error {
	return g.tenant(tenantID).Acquire(ctx, 1)
}

// Release frees a previously acquired slot.
func (g *Gate) Release(tenantID string) {
	g.tenant(tenantID).Release(1)
}

// FetchPageFunc fetches one page of a listing. Pages are numbered from 1.
type FetchPageFunc[T any] func(ctx context.Context, page, pageSize int) (Page[T], error)

// FetchAll drains a paginated listing into a single ordered slice. Each page
// fetch holds a gate slot for the duration of the call; the slot is released
// unconditionally, including when the fetch fails. Fetching stops at the
// first empty page, or once maxItems results have been collected (0 means no
// ceiling). A page error propagates immediately; there is no retry and no
// backoff. The rate-limit state from the last page fetched is returned for
// the caller to log.
func FetchAll[T any](ctx context.Context, gate *Gate, tenantID string, pageSize, maxItems int, fetch FetchPageFunc[T]) ([]T, RateLimit, error) {
	if pageSize <= 0 {
		return nil, RateLimit{}, fmt.Errorf("xero: page size must be positive, got %d", pageSize)
	}

	var all []T
	var limits RateLimit
	for page := 1; ; page++ {
		result, err := fetchOnePage(ctx, gate, tenantID, page, pageSize, fetch)
		if err != nil {
			return nil, limits, err
		}
		limits = result.RateLimit
		if len(result.Results) == 0 {
			return all, limits, nil
		}
		all = append(all, result.Results...)
		if maxItems > 0 && len(all) >= maxItems {
			return all[:maxItems], limits, nil
		}
	}
}

func fetchOnePage[T any](ctx context.Context, gate *Gate, tenantID string, page, pageSize int, fetch FetchPageFunc[T]) (Page[T], error) {
	if err := gate.Acquire(ctx, tenantID); err != nil {
		return Page[T]{}, fmt.Errorf("xero: acquire slot for tenant %s: %w", tenantID, err)
	}
	defer gate.Release(tenantID)

	result, err := fetch(ctx, page, pageSize)
	if err != nil {
		return Page[T]{}, fmt.Errorf("xero: fetch page %d: %w", page, err)
	}
	return result, nil
}
