// Package publisher announces finished crawl runs to downstream consumers.
package publisher

import (
	"context"
	"time"

	"github.com/JakeFAU/slack-history-crawler/internal/crawler"
)

// RunSummary is the JSON payload published once per run.
type RunSummary struct {
	crawler.Summary
	Mode       string    `json:"mode"`
	Artifacts  []string  `json:"artifacts,omitempty"`
	Error      string    `json:"error,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

// Publisher delivers run summaries and returns a message id.
type Publisher interface {
	Publish(ctx context.Context, summary RunSummary) (string, error)
	Close() error
}

// Noop drops every summary. It is used when no topic is configured.
type Noop struct{}

// Publish does nothing.
func (Noop) Publish(context.Context, RunSummary) (string, error) { return "", nil }

// Close does nothing.
func (Noop) Close() error { return nil }
