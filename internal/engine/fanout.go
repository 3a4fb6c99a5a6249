package engine

import (
	"context"
	"sync"
	"time"

	"github.com/talgya/polis/internal/roles"
)

type callResult[T any] struct {
	val T
	err error
}

// fanOut runs call for every role with at most limit in flight, each
// under its own deadline, and returns results indexed like roster. It
// blocks until every call returned; the tick barrier depends on that.
func fanOut[T any](ctx context.Context, roster []*roles.Role, limit int, timeout time.Duration,
	call func(ctx context.Context, r *roles.Role) (T, error)) []callResult[T] {

	if limit <= 0 {
		limit = 1
	}
	results := make([]callResult[T], len(roster))
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup

	for i, r := range roster {
		wg.Add(1)
		go func(i int, r *roles.Role) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			callCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			results[i].val, results[i].err = call(callCtx, r)
		}(i, r)
	}

	wg.Wait()
	return results
}
