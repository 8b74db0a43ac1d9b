package xero

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func pagedFetcher(items []int, pageSize int) FetchPageFunc[int] {
	return func(ctx context.Context, page, size int) (Page[int], error) {
		start := (page - 1) * pageSize
		if start >= len(items) {
			return Page[int]{}, nil
		}
		end := start + pageSize
		if end > len(items) {
			end = len(items)
		}
		return Page[int]{Results: items[start:end]}, nil
	}
}

func TestFetchAllDrainsPagesInOrder(t *testing.T) {
	items := make([]int, 0, 25)
	for i := 1; i <= 25; i++ {
		items = append(items, i)
	}
	gate := NewGate(1)

	got, _, err := FetchAll(context.Background(), gate, "tenant-a", 10, 0, pagedFetcher(items, 10))
	require.NoError(t, err)
	require.Equal(t, items, got)
}

func TestFetchAllStopsAtEmptyPage(t *testing.T) {
	gate := NewGate(1)
	var pagesFetched int
	fetch := func(ctx context.Context, page, size int) (Page[int], error) {
		pagesFetched++
		if page > 2 {
			return Page[int]{}, nil
		}
		return Page[int]{Results: []int{page}}, nil
	}

	got, _, err := FetchAll(context.Background(), gate, "tenant-a", 1, 0, FetchPageFunc[int](fetch))
	require.NoError(t, err)
	require.Equal(t, []int{1, 2}, got)
	require.Equal(t, 3, pagesFetched)
}

func TestFetchAllHonoursItemCeiling(t *testing.T) {
	items := make([]int, 100)
	for i := range items {
		items[i] = i
	}
	gate := NewGate(1)

	got, _, err := FetchAll(context.Background(), gate, "tenant-a", 30, 50, pagedFetcher(items, 30))
	require.NoError(t, err)
	require.Len(t, got, 50)
	require.Equal(t, items[:50], got)
}

func TestFetchAllSurfacesLastRateLimit(t *testing.T) {
	gate := NewGate(1)
	fetch := func(ctx context.Context, page, size int) (Page[int], error) {
		if page > 2 {
			return Page[int]{RateLimit: RateLimit{MinuteRemaining: 55, DayRemaining: 4800}}, nil
		}
		return Page[int]{
			Results:   []int{page},
			RateLimit: RateLimit{MinuteRemaining: 60 - page},
		}, nil
	}

	got, limits, err := FetchAll(context.Background(), gate, "tenant-a", 1, 0, FetchPageFunc[int](fetch))
	require.NoError(t, err)
	require.Equal(t, []int{1, 2}, got)
	require.Equal(t, 55, limits.MinuteRemaining)
	require.Equal(t, 4800, limits.DayRemaining)
}

func TestFetchAllPropagatesPageError(t *testing.T) {
	gate := NewGate(1)
	boom := errors.New("rate limited")
	fetch := func(ctx context.Context, page, size int) (Page[int], error) {
		if page == 3 {
			return Page[int]{}, boom
		}
		return Page[int]{Results: []int{page}}, nil
	}

	_, _, err := FetchAll(context.Background(), gate, "tenant-a", 1, 0, FetchPageFunc[int](fetch))
	require.ErrorIs(t, err, boom)
	require.ErrorContains(t, err, "page 3")
}

func TestFetchAllReleasesGateSlotOnError(t *testing.T) {
	gate := NewGate(1)
	fetch := func(ctx context.Context, page, size int) (Page[int], error) {
		return Page[int]{}, errors.New("boom")
	}

	_, _, err := FetchAll(context.Background(), gate, "tenant-a", 1, 0, FetchPageFunc[int](fetch))
	require.Error(t, err)

	// The single slot must be free again.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, gate.Acquire(ctx, "tenant-a"))
	gate.Release("tenant-a")
}

func TestGateIsPerTenant(t *testing.T) {
	gate := NewGate(1)
	ctx := context.Background()

	require.NoError(t, gate.Acquire(ctx, "tenant-a"))

	// A different tenant is not blocked by tenant-a's held slot.
	otherCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, gate.Acquire(otherCtx, "tenant-b"))

	// The same tenant is.
	blockedCtx, cancelBlocked := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancelBlocked()
	require.ErrorIs(t, gate.Acquire(blockedCtx, "tenant-a"), context.DeadlineExceeded)

	gate.Release("tenant-a")
	gate.Release("tenant-b")
}

func TestGateLimitsConcurrentFetches(t *testing.T) {
	const weight = 2
	gate := NewGate(weight)

	var (
		mu      sync.Mutex
		current int
		peak    int
	)
	fetch := func(ctx context.Context, page, size int) (Page[int], error) {
		mu.Lock()
		current++
		if current > peak {
			peak = current
		}
		mu.Unlock()

		time.Sleep(10 * time.Millisecond)

		mu.Lock()
		current--
		mu.Unlock()
		if page > 3 {
			return Page[int]{}, nil
		}
		return Page[int]{Results: []int{page}}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, _, err := FetchAll(context.Background(), gate, "tenant-a", 1, 0, FetchPageFunc[int](fetch))
			if err != nil {
				panic(fmt.Sprintf("worker %d: %v", n, err))
			}
		}(i)
	}
	wg.Wait()

	require.LessOrEqual(t, peak, weight)
}
