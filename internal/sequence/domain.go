// Package sequence issues gapless, per-tenant document numbers.
package sequence

import "time"

// Default formatting applied when a counter row carries no explicit
// prefix or padding.
const (
	DefaultPadding = 5
)

// Counter tracks the next number for one (tenant, key) pair.
type Counter struct {
	TenantID   int64
	Key        string
	NextNumber int64
	Prefix     string
	Padding    int
	UpdatedAt  time.Time
}

// Issued is one number handed out by the sequencer.
type Issued struct {
	Number    int64
	Formatted string
}
