package compassone

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// BulkResult is the outcome of one item in a bulk invocation. Index refers
// to the position in the submitted slice.
type BulkResult struct {
	Index  int
	Result *Result
	Err    error
}

// InvokeBulk executes the requests with at most MaxConcurrentOperations in
// flight at once. Each item independently runs the full retry, backoff and
// credential contract; one item failing never cancels its siblings. The
// returned slice is ordered like the input. The call itself only errors on
// a precondition violation (limit exceeded, disconnected client).
func (c *Client) InvokeBulk(ctx context.Context, requests []Request) ([]BulkResult, error) {
	if c.closed.Load() {
		return nil, newError(ErrorTypeConfiguration, "invoke on disconnected client", ErrClientClosed)
	}
	if len(requests) > c.cfg.BulkOperationLimit {
		return nil, newError(ErrorTypeClient,
			fmt.Sprintf("bulk operation holds %d items, limit is %d", len(requests), c.cfg.BulkOperationLimit), nil)
	}

	results := make([]BulkResult, len(requests))

	var g errgroup.Group
	g.SetLimit(c.cfg.MaxConcurrentOperations)

	for i, req := range requests {
		i, req := i, req
		g.Go(func() error {
			res, err := c.Invoke(ctx, req)
			results[i] = BulkResult{Index: i, Result: res, Err: err}
			// Sibling isolation: per-item failures live in results, never in
			// the group error.
			return nil
		})
	}

	// Wait never returns an error here, but the slice must be complete
	// before it is handed back.
	_ = g.Wait()

	if c.metrics != nil {
		for _, r := range results {
			outcome := "success"
			if r.Err != nil {
				outcome = "failure"
			}
			c.metrics.RecordBulkItem(outcome)
		}
	}

	return results, nil
}
