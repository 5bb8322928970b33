package crawler

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// Fetched is the raw material gathered for one channel.
type Fetched struct {
	// Messages holds history records followed, per thread, by the thread's
	// replies. Thread roots appear twice; the normalizer drops the repeat.
	Messages       []RawMessage
	Threads        int
	ThreadFailures int
	// Stalls counts paginations cut short by ErrCursorStalled. Whatever
	// they returned is kept, but the channel is not complete.
	Stalls int
}

// Complete reports whether every page of history and replies was read.
func (f Fetched) Complete() bool {
	return f.ThreadFailures == 0 && f.Stalls == 0
}

// HistoryFetcher retrieves a channel's messages for a window plus every
// thread's replies, each call going through the shared RateLimiter.
type HistoryFetcher struct {
	api     API
	limiter *RateLimiter
	logger  *zap.Logger
}

// NewHistoryFetcher builds a fetcher sharing the run's limiter.
func NewHistoryFetcher(api API, limiter *RateLimiter, logger *zap.Logger) *HistoryFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoryFetcher{api: api, limiter: limiter, logger: logger}
}

// FetchWindow pages through a channel's history between the window bounds.
// A stalled cursor returns the messages read so far with an error wrapping
// ErrCursorStalled.
func (f *HistoryFetcher) FetchWindow(ctx context.Context, channelID string, w Window) ([]RawMessage, error) {
	var out []RawMessage
	cursor := NewWindowCursor(w.Oldest())
	for !cursor.Done() {
		req := HistoryRequest{
			ChannelID: channelID,
			Oldest:    cursor.Oldest(),
			Latest:    w.Latest(),
			Cursor:    cursor.Token(),
			Inclusive: !cursor.BoundAdvanced(),
		}
		var page MessagePage
		err := f.limiter.Do(ctx, OpListHistory, channelID, func(ctx context.Context) error {
			var err error
			page, err = f.api.ListHistory(ctx, req)
			return err
		})
		if err != nil {
			return out, err
		}
		out = append(out, page.Messages...)
		if err := cursor.Advance(pageOf(page)); err != nil {
			f.stalled(channelID, "", err)
			return out, err
		}
	}
	return out, nil
}

// FetchReplies pages through one thread's replies within the window. The
// thread root is part of the response. Stalls are reported as in FetchWindow.
func (f *HistoryFetcher) FetchReplies(ctx context.Context, channelID, threadTS string, w Window) ([]RawMessage, error) {
	var out []RawMessage
	cursor := NewWindowCursor(w.Oldest())
	for !cursor.Done() {
		req := RepliesRequest{
			ChannelID: channelID,
			ThreadTS:  threadTS,
			Oldest:    cursor.Oldest(),
			Latest:    w.Latest(),
			Cursor:    cursor.Token(),
		}
		var page MessagePage
		err := f.limiter.Do(ctx, OpListReplies, channelID, func(ctx context.Context) error {
			var err error
			page, err = f.api.ListThreadReplies(ctx, req)
			return err
		})
		if err != nil {
			return out, err
		}
		out = append(out, page.Messages...)
		if err := cursor.Advance(pageOf(page)); err != nil {
			f.stalled(channelID, threadTS, err)
			return out, err
		}
	}
	return out, nil
}

// FetchChannel gathers history and, once per thread, the thread's replies.
// A failed thread is logged and abandoned; a failed history page abandons
// the channel. Authentication and cancellation always propagate. Abandoned
// threads and stalled paginations leave the result incomplete.
func (f *HistoryFetcher) FetchChannel(ctx context.Context, channelID string, w Window) (Fetched, error) {
	var res Fetched
	history, err := f.FetchWindow(ctx, channelID, w)
	switch {
	case errors.Is(err, ErrCursorStalled):
		res.Stalls++
	case err != nil:
		return Fetched{}, err
	}
	res.Messages = make([]RawMessage, 0, len(history))
	threads := make(map[string]struct{})
	for _, msg := range history {
		res.Messages = append(res.Messages, msg)
		if msg.ThreadTS == "" {
			continue
		}
		if _, seen := threads[msg.ThreadTS]; seen {
			continue
		}
		threads[msg.ThreadTS] = struct{}{}
		replies, err := f.FetchReplies(ctx, channelID, msg.ThreadTS, w)
		if errors.Is(err, ErrCursorStalled) {
			res.Stalls++
			err = nil
		}
		if err != nil {
			if errors.Is(err, ErrAuth) || ctx.Err() != nil {
				return Fetched{}, err
			}
			res.ThreadFailures++
			f.logger.Error("abandoning thread",
				zap.String("channel_id", channelID),
				zap.String("thread_ts", msg.ThreadTS),
				zap.Error(err))
			continue
		}
		res.Threads++
		res.Messages = append(res.Messages, replies...)
	}
	return res, nil
}

func (f *HistoryFetcher) stalled(channelID, threadTS string, err error) {
	f.logger.Warn("stopping pagination",
		zap.String("channel_id", channelID),
		zap.String("thread_ts", threadTS),
		zap.Error(err))
}

func pageOf(p MessagePage) Page {
	return Page{HasMore: p.HasMore, NextCursor: p.NextCursor, OldestTS: oldestTimestamp(p.Messages)}
}
