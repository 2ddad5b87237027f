// Package batch runs an operation over a sequence of items in fixed-size concurrent groups.
//
// Each group is launched at once and must fully settle before the next one starts, so the group size
// is both the parallelism bound and the only backpressure against the remote API and local disk. An
// item failure is recorded in its Outcome and never cancels siblings or later groups.
package batch

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Outcome is the settled result of one item.
type Outcome[T any] struct {
	Index int
	Item  T
	Err   error
}

// Op is the per-item operation.
type Op[T any] func(ctx context.Context, item T) error

type options struct {
	logger *zap.Logger
	label  string
}

// Option customizes Run.
type Option func(*options)

// WithLogger records item failures on the given logger at debug level.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithLabel names the batch in log lines.
func WithLabel(label string) Option {
	return func(o *options) {
		o.label = label
	}
}

// Run applies op to every item, at most limit at a time, and returns one Outcome per item in input
// order. A limit below one is treated as one. Once ctx is done no further group is launched and the
// remaining items settle with the context error.
func Run[T any](ctx context.Context, items []T, limit int, op Op[T], opts ...Option) []Outcome[T] {
	o := options{logger: zap.NewNop(), label: "batch"}
	for _, opt := range opts {
		opt(&o)
	}
	if limit < 1 {
		limit = 1
	}

	outcomes := make([]Outcome[T], len(items))
	for start := 0; start < len(items); start += limit {
		end := min(start+limit, len(items))
		if err := ctx.Err(); err != nil {
			for i := start; i < len(items); i++ {
				outcomes[i] = Outcome[T]{Index: i, Item: items[i], Err: err}
			}
			o.logger.Debug("batch stopped before completion",
				zap.String("batch", o.label),
				zap.Int("skipped", len(items)-start),
				zap.Error(err),
			)
			break
		}

		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				err := call(ctx, op, items[i])
				outcomes[i] = Outcome[T]{Index: i, Item: items[i], Err: err}
				if err != nil {
					o.logger.Debug("batch item failed",
						zap.String("batch", o.label),
						zap.Int("index", i),
						zap.Error(err),
					)
				}
				return nil
			})
		}
		_ = g.Wait()
	}
	return outcomes
}

// call shields the group from a panicking item.
func call[T any](ctx context.Context, op Op[T], item T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("batch item panicked: %v", r)
		}
	}()
	return op(ctx, item)
}

// Failed counts the outcomes that carry an error.
func Failed[T any](outcomes []Outcome[T]) int {
	n := 0
	for _, out := range outcomes {
		if out.Err != nil {
			n++
		}
	}
	return n
}
