package retry

import (
	"context"
	"sync"
)

// NamedOperation pairs an Operation with a label used to identify its
// BatchResult, and the Options it should run with.
type NamedOperation[T any] struct {
	Name    string
	Op      Operation[T]
	Options Options[T]
}

// BatchResult is one named operation's outcome from ExecuteBatch.
type BatchResult[T any] struct {
	Name   string
	Result Result[T]
}

// BatchOptions configures ExecuteBatch. Parallel mode ignores
// StopOnFirstFailure per spec §4.3.
type BatchOptions struct {
	Parallel            bool
	StopOnFirstFailure  bool
	// MaxConcurrency bounds the worker pool in parallel mode. <= 0 defaults
	// to 8 (this module's supplemental batch-parallel feature).
	MaxConcurrency int
}

// ExecuteBatch runs every named operation through Execute, sequentially or
// concurrently per bopts.
func ExecuteBatch[T any](ctx context.Context, eng *Engine, ops []NamedOperation[T], bopts BatchOptions) []BatchResult[T] {
	if bopts.Parallel {
		return executeBatchParallel(ctx, eng, ops, bopts)
	}
	return executeBatchSequential(ctx, eng, ops, bopts)
}

func executeBatchSequential[T any](ctx context.Context, eng *Engine, ops []NamedOperation[T], bopts BatchOptions) []BatchResult[T] {
	results := make([]BatchResult[T], 0, len(ops))
	for _, namedOp := range ops {
		r := Execute(ctx, eng, namedOp.Op, namedOp.Options)
		results = append(results, BatchResult[T]{Name: namedOp.Name, Result: r})
		if !r.Success && bopts.StopOnFirstFailure {
			break
		}
	}
	return results
}

func executeBatchParallel[T any](ctx context.Context, eng *Engine, ops []NamedOperation[T], bopts BatchOptions) []BatchResult[T] {
	concurrency := bopts.MaxConcurrency
	if concurrency <= 0 {
		concurrency = 8
	}
	if concurrency > len(ops) {
		concurrency = len(ops)
	}
	if concurrency == 0 {
		return nil
	}

	results := make([]BatchResult[T], len(ops))
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i, namedOp := range ops {
		i, namedOp := i, namedOp
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			r := Execute(ctx, eng, namedOp.Op, namedOp.Options)
			results[i] = BatchResult[T]{Name: namedOp.Name, Result: r}
		}()
	}

	wg.Wait()
	return results
}
