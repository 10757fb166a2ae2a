// Package filter implements the point-wise filter chain that runs on every valid point of a frame
// before temporal aggregation.
package filter

import (
	"github.com/golang/geo/r3"
)

// PointFilter is one stage of the chain. Reset is called once at the start of every frame and is
// the only place a filter may clear state. Apply may modify p in place and returns false to reject
// the point.
type PointFilter interface {
	Reset()
	Apply(p *r3.Vector) bool
}

// Chain is an ordered, mutable list of filters. The zero value is an empty chain that accepts
// every point.
type Chain struct {
	filters []PointFilter
}

// NewChain returns a chain running filters in the given order.
func NewChain(filters ...PointFilter) *Chain {
	return &Chain{filters: append([]PointFilter(nil), filters...)}
}

// Add appends f to the end of the chain.
func (c *Chain) Add(f PointFilter) {
	c.filters = append(c.filters, f)
}

// Remove removes the first registration of f. Removing an unknown filter is a no-op.
func (c *Chain) Remove(f PointFilter) {
	for i, existing := range c.filters {
		if existing == f {
			c.filters = append(c.filters[:i], c.filters[i+1:]...)
			return
		}
	}
}

// Len returns the number of registered filters.
func (c *Chain) Len() int {
	return len(c.filters)
}

// Reset calls every filter's per-frame hook in registration order.
func (c *Chain) Reset() {
	for _, f := range c.filters {
		f.Reset()
	}
}

// Apply runs p through the filters in registration order, stopping at the first rejection.
func (c *Chain) Apply(p *r3.Vector) bool {
	for _, f := range c.filters {
		if !f.Apply(p) {
			return false
		}
	}
	return true
}
