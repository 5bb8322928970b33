package crawler

import (
	"fmt"
	"time"
)

// Page carries the pagination fields of one response.
type Page struct {
	HasMore    bool
	NextCursor string
	// OldestTS is the oldest record timestamp on the page. It becomes the
	// next lower bound when the response has no cursor token.
	OldestTS string
}

// PageCursor tracks resumable pagination state for one collection endpoint.
type PageCursor struct {
	token      string
	lowerBound string
	boundAt    time.Time
	advanced   bool
	timeBound  bool
	done       bool
	pages      int
}

// NewTokenCursor paginates an endpoint driven purely by an opaque cursor
// (the channel list): it is exhausted when the next cursor is empty.
func NewTokenCursor() *PageCursor {
	return &PageCursor{}
}

// NewWindowCursor paginates a time-bounded endpoint starting at oldest. The
// "has more" flag ends pagination; without a cursor token the page's oldest
// timestamp becomes the next lower bound.
func NewWindowCursor(oldest string) *PageCursor {
	c := &PageCursor{lowerBound: oldest, timeBound: true}
	if t, err := ParseTimestamp(oldest); err == nil {
		c.boundAt = t
	}
	return c
}

// Advance consumes one response. It returns ErrCursorStalled, and marks the
// cursor done, when a timestamp bound fails to move forward.
func (c *PageCursor) Advance(p Page) error {
	c.pages++
	if !c.timeBound {
		c.token = p.NextCursor
		c.done = p.NextCursor == ""
		return nil
	}
	if !p.HasMore {
		c.token = ""
		c.done = true
		return nil
	}
	if p.NextCursor != "" {
		c.token = p.NextCursor
		return nil
	}
	next, err := ParseTimestamp(p.OldestTS)
	if err != nil || !next.After(c.boundAt) {
		c.done = true
		return fmt.Errorf("%w: bound %q -> %q", ErrCursorStalled, c.lowerBound, p.OldestTS)
	}
	c.token = ""
	c.lowerBound = p.OldestTS
	c.boundAt = next
	c.advanced = true
	return nil
}

// Done reports whether pagination is exhausted.
func (c *PageCursor) Done() bool { return c.done }

// Token is the cursor to send with the next request, empty when none.
func (c *PageCursor) Token() string { return c.token }

// Oldest is the lower bound to send with the next request.
func (c *PageCursor) Oldest() string { return c.lowerBound }

// BoundAdvanced reports whether the lower bound moved past the window start,
// after which the server excludes already-seen records.
func (c *PageCursor) BoundAdvanced() bool { return c.advanced }

// Pages is the number of responses consumed.
func (c *PageCursor) Pages() int { return c.pages }

// oldestTimestamp returns the earliest parseable timestamp on a page.
func oldestTimestamp(msgs []RawMessage) string {
	var (
		oldest   string
		oldestAt time.Time
	)
	for _, m := range msgs {
		t, err := ParseTimestamp(m.TS)
		if err != nil {
			continue
		}
		if oldest == "" || t.Before(oldestAt) {
			oldest, oldestAt = m.TS, t
		}
	}
	return oldest
}
