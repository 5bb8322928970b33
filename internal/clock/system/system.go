// Package system provides the wall clock used to close crawl windows and time
// runs.
package system

import "time"

// Clock reports wall time in a fixed location.
type Clock struct {
	loc *time.Location
}

// New creates a Clock reporting in loc. A nil loc means UTC.
func New(loc *time.Location) *Clock {
	if loc == nil {
		loc = time.UTC
	}
	return &Clock{loc: loc}
}

// Now returns the current time in the clock's location.
func (c *Clock) Now() time.Time {
	return time.Now().In(c.loc)
}

// Since reports the time elapsed since t.
func (c *Clock) Since(t time.Time) time.Duration {
	return time.Since(t)
}
