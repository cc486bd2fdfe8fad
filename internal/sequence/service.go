package sequence

import (
	"context"
	"fmt"
	"strings"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// CounterStore performs the atomic read-increment-return for one
// (tenant, key) counter. Implementations must guarantee that two
// concurrent callers never observe the same number.
type CounterStore interface {
	Increment(ctx context.Context, tenantID int64, key string) (Counter, error)
}

// Next issues the next document number for (tenantID, key) through the
// given store and formats it as prefix + zero-padded number. A store that
// cannot confirm the increment applied exactly once must return
// shared.ErrDuplicateNumber; it is never retried here because a reused
// number is a correctness violation, not a transient fault.
func Next(ctx context.Context, store CounterStore, tenantID int64, key string) (Issued, error) {
	if tenantID <= 0 {
		return Issued{}, fmt.Errorf("%w: tenant id required", shared.ErrValidation)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return Issued{}, fmt.Errorf("%w: counter key required", shared.ErrValidation)
	}
	counter, err := store.Increment(ctx, tenantID, key)
	if err != nil {
		return Issued{}, err
	}
	if counter.NextNumber <= 0 {
		return Issued{}, fmt.Errorf("%w: counter %s returned %d", shared.ErrDuplicateNumber, key, counter.NextNumber)
	}
	return Issued{Number: counter.NextNumber, Formatted: Format(counter)}, nil
}

// Format renders a counter's current number with its prefix and padding.
// Counters without an explicit prefix use "KEY-".
func Format(c Counter) string {
	prefix := c.Prefix
	if prefix == "" {
		prefix = c.Key + "-"
	}
	padding := c.Padding
	if padding <= 0 {
		padding = DefaultPadding
	}
	return fmt.Sprintf("%s%0*d", prefix, padding, c.NextNumber)
}
