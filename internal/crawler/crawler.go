package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// State is the position of a run in its lifecycle:
// INIT -> LISTING_CHANNELS -> (FETCHING -> NORMALIZING -> FLUSHING)* -> DONE.
type State int

// Run states.
const (
	StateInit State = iota
	StateListingChannels
	StateFetching
	StateNormalizing
	StateFlushing
	StateDone
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateListingChannels:
		return "LISTING_CHANNELS"
	case StateFetching:
		return "FETCHING"
	case StateNormalizing:
		return "NORMALIZING"
	case StateFlushing:
		return "FLUSHING"
	case StateDone:
		return "DONE"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText renders the state name in summaries.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Option customizes a Crawler.
type Option func(*Crawler)

// WithCheckpoints enables per-channel resume.
func WithCheckpoints(cp Checkpointer) Option {
	return func(c *Crawler) { c.checkpoints = cp }
}

// WithRunID tags logs and the summary with a run identifier.
func WithRunID(id string) Option {
	return func(c *Crawler) { c.runID = id }
}

// Crawler drives ChannelLister, HistoryFetcher, Normalizer and a MergeSink
// for one window. Channels are processed one at a time and each channel is
// flushed as a single batch.
type Crawler struct {
	lister      *ChannelLister
	fetcher     *HistoryFetcher
	sink        MergeSink
	checkpoints Checkpointer
	runID       string
	logger      *zap.Logger
	state       State
}

// New wires a Crawler around api and sink. The api doubles as the joiner for
// not-in-channel recovery.
func New(api API, sink MergeSink, cfg Config, logger *zap.Logger, opts ...Option) *Crawler {
	if logger == nil {
		logger = zap.NewNop()
	}
	limiter := NewRateLimiter(RateLimiterConfig{
		Interval:           cfg.CallInterval,
		MaxThrottleRetries: cfg.MaxThrottleRetries,
	}, api, logger.Named("ratelimit"))
	c := &Crawler{
		lister:  NewChannelLister(api, limiter, logger.Named("lister")),
		fetcher: NewHistoryFetcher(api, limiter, logger.Named("history")),
		sink:    sink,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.runID != "" {
		c.logger = c.logger.With(zap.String("run_id", c.runID))
	}
	return c
}

// State returns the current lifecycle state.
func (c *Crawler) State() State { return c.state }

// Run harvests every active channel for w. A failed channel is logged and
// skipped; a sink failure, an authentication failure or cancellation ends
// the run with an error. The summary is valid in every case.
func (c *Crawler) Run(ctx context.Context, w Window) (Summary, error) {
	summary := Summary{RunID: c.runID, Window: w}

	c.setState(StateInit)
	if c.checkpoints != nil {
		if err := c.checkpoints.Begin(w); err != nil {
			summary.State = c.state
			return summary, fmt.Errorf("begin checkpoint: %w", err)
		}
	}

	c.setState(StateListingChannels)
	channels, err := c.lister.ListActiveChannels(ctx)
	if err != nil {
		if errors.Is(err, ErrAuth) || ctx.Err() != nil {
			summary.State = c.state
			return summary, fmt.Errorf("list channels: %w", err)
		}
		summary.ListingIncomplete = true
		c.logger.Error("channel listing incomplete, continuing with partial list",
			zap.Int("channels", len(channels)), zap.Error(err))
	}
	summary.ChannelsListed = len(channels)

	normalizer := NewNormalizer()
	for _, ch := range channels {
		if err := ctx.Err(); err != nil {
			c.logger.Warn("crawl canceled between channels", zap.String("next_channel_id", ch.ID))
			summary.State = c.state
			return summary, fmt.Errorf("crawl canceled: %w", err)
		}
		if c.alreadyDone(w, ch) {
			summary.ChannelsSkipped++
			channelsTotal.WithLabelValues("skipped").Inc()
			continue
		}

		err := c.processChannel(ctx, w, ch, normalizer, &summary)
		if err == nil {
			summary.ChannelsSucceeded++
			channelsTotal.WithLabelValues("succeeded").Inc()
			continue
		}
		var perr *PersistenceError
		if errors.As(err, &perr) || errors.Is(err, ErrAuth) || ctx.Err() != nil {
			channelsTotal.WithLabelValues("failed").Inc()
			summary.State = c.state
			return summary, err
		}
		summary.ChannelsFailed++
		channelsTotal.WithLabelValues("failed").Inc()
		op := "fetch"
		var aerr *APIError
		if errors.As(err, &aerr) {
			op = aerr.Op
		}
		summary.Failures = append(summary.Failures, ChannelFailure{ChannelID: ch.ID, Op: op, Error: err.Error()})
		c.logger.Error("abandoning channel",
			zap.String("channel_id", ch.ID),
			zap.String("channel_name", ch.Name),
			zap.String("op", op),
			zap.Error(err))
	}

	c.setState(StateDone)
	summary.State = c.state
	if c.checkpoints != nil && summary.Complete() {
		if err := c.checkpoints.Finish(w); err != nil {
			c.logger.Warn("failed to finish checkpoint", zap.Error(err))
		}
	}
	c.logger.Info("crawl finished",
		zap.Int("channels", summary.ChannelsListed),
		zap.Int("succeeded", summary.ChannelsSucceeded),
		zap.Int("failed", summary.ChannelsFailed),
		zap.Int("skipped", summary.ChannelsSkipped),
		zap.Int("messages", summary.Messages),
		zap.Int("reactions", summary.Reactions))
	return summary, nil
}

func (c *Crawler) processChannel(ctx context.Context, w Window, ch Channel, n *Normalizer, summary *Summary) error {
	log := c.logger.With(zap.String("channel_id", ch.ID), zap.String("channel_name", ch.Name))

	c.setState(StateFetching)
	fetched, err := c.fetcher.FetchChannel(ctx, ch.ID, w)
	if err != nil {
		return err
	}
	summary.ThreadFailures += fetched.ThreadFailures
	summary.PaginationStalls += fetched.Stalls

	c.setState(StateNormalizing)
	batch := NewBatch(ch)
	for _, raw := range fetched.Messages {
		msg, reactions, ok, err := n.Normalize(raw, ch.ID, ch.Name)
		if err != nil {
			summary.RejectedRecords++
			log.Warn("rejecting malformed record", zap.String("ts", raw.TS), zap.Error(err))
			continue
		}
		if !ok {
			summary.Duplicates++
			continue
		}
		batch.AddMessage(msg)
		for _, r := range reactions {
			batch.AddReaction(r)
		}
	}

	c.setState(StateFlushing)
	start := time.Now()
	if err := c.sink.Write(ctx, batch); err != nil {
		var perr *PersistenceError
		if errors.As(err, &perr) {
			return err
		}
		return &PersistenceError{Op: "flush", ChannelID: ch.ID, Err: err}
	}
	flushDurationSeconds.Observe(time.Since(start).Seconds())
	entitiesFlushedTotal.WithLabelValues("message").Add(float64(len(batch.Messages())))
	entitiesFlushedTotal.WithLabelValues("reaction").Add(float64(len(batch.Reactions())))
	summary.Messages += len(batch.Messages())
	summary.Reactions += len(batch.Reactions())

	switch {
	case c.checkpoints == nil:
	case !fetched.Complete():
		// Left unmarked so a resumed run fetches the channel again.
		log.Warn("channel incomplete, not checkpointed",
			zap.Int("thread_failures", fetched.ThreadFailures),
			zap.Int("stalls", fetched.Stalls))
	default:
		if err := c.checkpoints.MarkDone(w, ch.ID); err != nil {
			log.Warn("failed to checkpoint channel", zap.Error(err))
		}
	}
	log.Info("channel flushed",
		zap.Int("messages", len(batch.Messages())),
		zap.Int("reactions", len(batch.Reactions())),
		zap.Int("threads", fetched.Threads))
	return nil
}

func (c *Crawler) alreadyDone(w Window, ch Channel) bool {
	if c.checkpoints == nil {
		return false
	}
	done, err := c.checkpoints.Done(w, ch.ID)
	if err != nil {
		c.logger.Warn("checkpoint lookup failed, crawling channel", zap.String("channel_id", ch.ID), zap.Error(err))
		return false
	}
	if done {
		c.logger.Info("channel already harvested for window", zap.String("channel_id", ch.ID))
	}
	return done
}

func (c *Crawler) setState(s State) {
	if c.state != s {
		c.logger.Debug("state transition", zap.Stringer("from", c.state), zap.Stringer("to", s))
	}
	c.state = s
}
