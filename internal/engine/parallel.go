package engine

import (
	"context"
	"runtime"
	"sync"

	"github.com/hivdb/susc-match/internal/drdb"
	"github.com/hivdb/susc-match/internal/mutation"
	"github.com/hivdb/susc-match/internal/summary"
)

// WorkItem is one named query of a batch.
type WorkItem struct {
	Seq       int
	Name      string
	Family    drdb.Family
	Mutations mutation.Set
}

// WorkResult holds the summary of one work item.
type WorkResult struct {
	Seq     int
	Name    string
	Family  drdb.Family
	Summary *summary.Summary
	Err     error
}

// ParallelSummarize summarizes work items on a pool of workers.
// Results arrive in completion order; use OrderedCollect to consume them in
// sequence-number order. If workers is 0, runtime.NumCPU() is used. Once ctx
// is done, remaining items are answered with ctx.Err() without being
// summarized.
func (e *Engine) ParallelSummarize(ctx context.Context, version string, items <-chan WorkItem, workers int) <-chan WorkResult {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	results := make(chan WorkResult, 2*workers)

	var wg sync.WaitGroup
	wg.Add(workers)

	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for item := range items {
				var s *summary.Summary
				err := ctx.Err()
				if err == nil {
					s, err = e.Summarize(ctx, version, item.Family, item.Mutations)
				}
				results <- WorkResult{
					Seq:     item.Seq,
					Name:    item.Name,
					Family:  item.Family,
					Summary: s,
					Err:     err,
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	return results
}

// OrderedCollect hands batch summaries to fn in the order the queries were
// submitted, so output rows follow the query file no matter which worker
// finished first. An error from fn stops the batch; the remaining summaries
// are discarded.
func OrderedCollect(results <-chan WorkResult, fn func(WorkResult) error) error {
	early := make(map[int]WorkResult)
	next := 0

	for r := range results {
		early[r.Seq] = r
		for {
			ready, ok := early[next]
			if !ok {
				break
			}
			delete(early, next)
			next++
			if err := fn(ready); err != nil {
				for range results {
				}
				return err
			}
		}
	}
	return nil
}
