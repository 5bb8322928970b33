// Package memory records run summaries in memory for tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/slack-history-crawler/internal/publisher"
)

// Publisher keeps every published summary.
type Publisher struct {
	mu        sync.RWMutex
	summaries []publisher.RunSummary
	closed    bool
}

var _ publisher.Publisher = (*Publisher)(nil)

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the summary and returns a pseudo id.
func (p *Publisher) Publish(_ context.Context, summary publisher.RunSummary) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return "", fmt.Errorf("publisher closed")
	}
	p.summaries = append(p.summaries, summary)
	return fmt.Sprintf("memory-%d", len(p.summaries)), nil
}

// Summaries returns a copy of what was published.
func (p *Publisher) Summaries() []publisher.RunSummary {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]publisher.RunSummary, len(p.summaries))
	copy(out, p.summaries)
	return out
}

// Close rejects further publishes.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
