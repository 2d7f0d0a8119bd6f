// Package guard holds the scheduling guards of a send cycle: the
// business-hours gate, the per-cycle send cap and the SMTP pacer.
package guard

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// =============================================================================
// Business hours
// =============================================================================

// BusinessHours is a weekday window [Start, End) in hours of Location.
type BusinessHours struct {
	Location *time.Location
	Start    int
	End      int
}

// Open reports whether t falls inside the window on a Monday to Friday.
func (b BusinessHours) Open(t time.Time) bool {
	loc := b.Location
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	h := local.Hour()
	return h >= b.Start && h < b.End
}

// =============================================================================
// Rate cap
// =============================================================================

// RateCap bounds the number of sends in one cycle. It is not safe for
// concurrent use; a cycle is single-threaded.
type RateCap struct {
	limit int
	used  int
}

// NewRateCap returns a cap of limit sends. A limit below 1 means 1.
func NewRateCap(limit int) *RateCap {
	if limit < 1 {
		limit = 1
	}
	return &RateCap{limit: limit}
}

// Take consumes one slot and reports whether one was available.
func (c *RateCap) Take() bool {
	if c.used >= c.limit {
		return false
	}
	c.used++
	return true
}

// Remaining returns the number of unused slots.
func (c *RateCap) Remaining() int {
	return c.limit - c.used
}

// Used returns the number of consumed slots.
func (c *RateCap) Used() int {
	return c.used
}

// =============================================================================
// Pacer
// =============================================================================

// Pacer spaces SMTP submissions so a burst of due executions does not trip
// the provider's throttling. A zero rate disables pacing.
type Pacer struct {
	limiter *rate.Limiter
}

// NewPacer allows perSecond sends with a burst of one.
func NewPacer(perSecond float64) *Pacer {
	if perSecond <= 0 {
		return &Pacer{}
	}
	return &Pacer{limiter: rate.NewLimiter(rate.Limit(perSecond), 1)}
}

// Wait blocks until the next send is allowed or ctx is done.
func (p *Pacer) Wait(ctx context.Context) error {
	if p == nil || p.limiter == nil {
		return ctx.Err()
	}
	return p.limiter.Wait(ctx)
}
