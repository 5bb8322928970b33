package crawler

import (
	"context"

	"go.uber.org/zap"
)

// ChannelLister enumerates the non-archived channels of the workspace.
type ChannelLister struct {
	api     API
	limiter *RateLimiter
	logger  *zap.Logger
}

// NewChannelLister builds a lister sharing the run's limiter.
func NewChannelLister(api API, limiter *RateLimiter, logger *zap.Logger) *ChannelLister {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChannelLister{api: api, limiter: limiter, logger: logger}
}

// ListActiveChannels pages through the channel list until the cursor is
// exhausted. On error it returns the channels gathered so far alongside it.
// Order is whatever the platform returns.
func (l *ChannelLister) ListActiveChannels(ctx context.Context) ([]Channel, error) {
	var channels []Channel
	cursor := NewTokenCursor()
	for !cursor.Done() {
		var page ChannelPage
		err := l.limiter.Do(ctx, OpListChannels, "", func(ctx context.Context) error {
			var err error
			page, err = l.api.ListChannels(ctx, cursor.Token())
			return err
		})
		if err != nil {
			return channels, err
		}
		for _, ch := range page.Channels {
			if ch.IsArchived {
				l.logger.Debug("skipping archived channel", zap.String("channel_id", ch.ID))
				continue
			}
			channels = append(channels, Channel{ID: ch.ID, Name: ch.Name})
		}
		if err := cursor.Advance(Page{NextCursor: page.NextCursor}); err != nil {
			return channels, err
		}
	}
	l.logger.Info("listed channels", zap.Int("count", len(channels)), zap.Int("pages", cursor.Pages()))
	return channels, nil
}
