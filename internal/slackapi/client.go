// Package slackapi adapts the slack-go Web API client to the crawler's API
// interface, translating platform error codes into crawler errors.
package slackapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"github.com/JakeFAU/slack-history-crawler/internal/crawler"
)

// DefaultPageLimit is the largest page the platform serves.
const DefaultPageLimit = 1000

// Config captures the parameters required to talk to the workspace.
type Config struct {
	Token        string
	APIURL       string
	PageLimit    int
	ChannelTypes []string
	HTTPClient   *http.Client
}

// Client implements crawler.API over slack-go.
type Client struct {
	api          *slack.Client
	pageLimit    int
	channelTypes []string
	logger       *zap.Logger
}

var _ crawler.API = (*Client)(nil)

// New builds a client for the bot token in cfg.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("slack token is required: %w", crawler.ErrAuth)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []slack.Option{}
	if cfg.APIURL != "" {
		u := cfg.APIURL
		if !strings.HasSuffix(u, "/") {
			u += "/"
		}
		opts = append(opts, slack.OptionAPIURL(u))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, slack.OptionHTTPClient(cfg.HTTPClient))
	}
	limit := cfg.PageLimit
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	types := cfg.ChannelTypes
	if len(types) == 0 {
		types = []string{"public_channel"}
	}
	return &Client{
		api:          slack.New(cfg.Token, opts...),
		pageLimit:    limit,
		channelTypes: types,
		logger:       logger,
	}, nil
}

// AuthTest verifies the token and returns the bot's team and user names.
func (c *Client) AuthTest(ctx context.Context) (team, user string, err error) {
	resp, err := c.api.AuthTestContext(ctx)
	if err != nil {
		return "", "", fmt.Errorf("auth test: %w", translate(err))
	}
	c.logger.Info("authenticated",
		zap.String("team", resp.Team),
		zap.String("user", resp.User),
		zap.String("user_id", resp.UserID))
	return resp.Team, resp.User, nil
}

// ListChannels returns one page of the workspace's channels.
func (c *Client) ListChannels(ctx context.Context, cursor string) (crawler.ChannelPage, error) {
	channels, next, err := c.api.GetConversationsContext(ctx, &slack.GetConversationsParameters{
		Cursor: cursor,
		Limit:  c.pageLimit,
		Types:  c.channelTypes,
	})
	if err != nil {
		return crawler.ChannelPage{}, translate(err)
	}
	page := crawler.ChannelPage{
		Channels:   make([]crawler.RawChannel, 0, len(channels)),
		NextCursor: next,
	}
	for _, ch := range channels {
		page.Channels = append(page.Channels, crawler.RawChannel{
			ID:         ch.ID,
			Name:       ch.Name,
			IsArchived: ch.IsArchived,
		})
	}
	return page, nil
}

// ListHistory returns one page of a channel's history.
func (c *Client) ListHistory(ctx context.Context, req crawler.HistoryRequest) (crawler.MessagePage, error) {
	resp, err := c.api.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
		ChannelID: req.ChannelID,
		Cursor:    req.Cursor,
		Oldest:    req.Oldest,
		Latest:    req.Latest,
		Inclusive: req.Inclusive,
		Limit:     c.pageLimit,
	})
	if err != nil {
		return crawler.MessagePage{}, translate(err)
	}
	return crawler.MessagePage{
		Messages:   convertMessages(resp.Messages),
		HasMore:    resp.HasMore,
		NextCursor: resp.ResponseMetaData.NextCursor,
	}, nil
}

// ListThreadReplies returns one page of a thread, root included.
func (c *Client) ListThreadReplies(ctx context.Context, req crawler.RepliesRequest) (crawler.MessagePage, error) {
	msgs, hasMore, next, err := c.api.GetConversationRepliesContext(ctx, &slack.GetConversationRepliesParameters{
		ChannelID: req.ChannelID,
		Timestamp: req.ThreadTS,
		Cursor:    req.Cursor,
		Oldest:    req.Oldest,
		Latest:    req.Latest,
		Inclusive: true,
		Limit:     c.pageLimit,
	})
	if err != nil {
		return crawler.MessagePage{}, translate(err)
	}
	return crawler.MessagePage{
		Messages:   convertMessages(msgs),
		HasMore:    hasMore,
		NextCursor: next,
	}, nil
}

// JoinChannel adds the bot to a public channel.
func (c *Client) JoinChannel(ctx context.Context, channelID string) error {
	_, warning, warnings, err := c.api.JoinConversationContext(ctx, channelID)
	if err != nil {
		return translate(err)
	}
	if warning != "" || len(warnings) > 0 {
		c.logger.Warn("join returned warnings",
			zap.String("channel_id", channelID),
			zap.String("warning", warning),
			zap.Strings("warnings", warnings))
	}
	return nil
}

func convertMessages(msgs []slack.Message) []crawler.RawMessage {
	out := make([]crawler.RawMessage, 0, len(msgs))
	for _, m := range msgs {
		raw := crawler.RawMessage{
			TS:         m.Timestamp,
			User:       m.User,
			Text:       m.Text,
			ThreadTS:   m.ThreadTimestamp,
			ReplyCount: m.ReplyCount,
		}
		for _, r := range m.Reactions {
			raw.Reactions = append(raw.Reactions, crawler.RawReaction{
				Name:  r.Name,
				Count: r.Count,
				Users: r.Users,
			})
		}
		out = append(out, raw)
	}
	return out
}

var authCodes = map[string]bool{
	"invalid_auth":     true,
	"not_authed":       true,
	"account_inactive": true,
	"token_revoked":    true,
	"token_expired":    true,
}

// translate maps slack-go failures onto the crawler's error vocabulary.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var limited *slack.RateLimitedError
	if errors.As(err, &limited) {
		return &crawler.ThrottledError{RetryAfter: limited.RetryAfter, Err: err}
	}
	code := err.Error()
	var resp slack.SlackErrorResponse
	if errors.As(err, &resp) {
		code = resp.Err
	}
	switch {
	case code == "not_in_channel":
		return fmt.Errorf("%w: %s", crawler.ErrNotInChannel, code)
	case authCodes[code]:
		return fmt.Errorf("%w: %s", crawler.ErrAuth, code)
	default:
		return err
	}
}
