package crawler

import (
	"time"
)

// Channel is a non-archived channel discovered during a run.
type Channel struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// MessageKey is the natural key of a message: channel plus its timestamp in
// unix nanoseconds. Sub-second precision is part of the key.
type MessageKey struct {
	ChannelID string
	TS        int64
}

// Message is the canonical, normalized form of a top-level message or reply.
type Message struct {
	ChannelID   string
	ChannelName string
	Timestamp   time.Time
	User        string
	Text        string
	// ThreadTimestamp is nil for messages outside a thread and equals
	// Timestamp for thread roots.
	ThreadTimestamp *time.Time
	ReplyCount      int
}

// Key returns the message's natural key.
func (m Message) Key() MessageKey {
	return MessageKey{ChannelID: m.ChannelID, TS: m.Timestamp.UnixNano()}
}

// IsReply reports whether the message belongs to a thread rooted elsewhere.
func (m Message) IsReply() bool {
	return m.ThreadTimestamp != nil && !m.ThreadTimestamp.Equal(m.Timestamp)
}

// ReactionKey is the natural key of one flattened (emoji, user) reaction row.
type ReactionKey struct {
	Message MessageKey
	Name    string
	User    string
}

// Reaction is one reacting user for one emoji on one message. Count is the
// upstream total for the emoji and is repeated on every row of that emoji.
type Reaction struct {
	ChannelID        string
	ChannelName      string
	MessageTimestamp time.Time
	MessageUser      string
	Name             string
	Count            int
	User             string
}

// Key returns the reaction's natural key.
func (r Reaction) Key() ReactionKey {
	return ReactionKey{
		Message: MessageKey{ChannelID: r.ChannelID, TS: r.MessageTimestamp.UnixNano()},
		Name:    r.Name,
		User:    r.User,
	}
}

// Window is the harvest time range. Since is inclusive.
type Window struct {
	Since time.Time `json:"since"`
	Until time.Time `json:"until"`
}

// Oldest renders Since in the platform's timestamp format.
func (w Window) Oldest() string {
	return FormatTimestamp(w.Since)
}

// Latest renders Until in the platform's timestamp format.
func (w Window) Latest() string {
	return FormatTimestamp(w.Until)
}

// Key identifies the window for checkpointing.
func (w Window) Key() string {
	return w.Oldest() + "-" + w.Latest()
}

// Summary reports what a run did. DONE means every channel was attempted.
type Summary struct {
	RunID             string           `json:"run_id"`
	Window            Window           `json:"window"`
	State             State            `json:"state"`
	ChannelsListed    int              `json:"channels_listed"`
	ChannelsSkipped   int              `json:"channels_skipped"`
	ChannelsSucceeded int              `json:"channels_succeeded"`
	ChannelsFailed    int              `json:"channels_failed"`
	Messages          int              `json:"messages"`
	Reactions         int              `json:"reactions"`
	Duplicates        int              `json:"duplicates"`
	RejectedRecords   int              `json:"rejected_records"`
	ThreadFailures    int              `json:"thread_failures"`
	PaginationStalls  int              `json:"pagination_stalls"`
	ListingIncomplete bool             `json:"listing_incomplete"`
	Failures          []ChannelFailure `json:"failures,omitempty"`
}

// Complete reports whether every listed channel landed in the sink.
func (s Summary) Complete() bool {
	return s.State == StateDone && !s.ListingIncomplete && s.ChannelsFailed == 0 &&
		s.ThreadFailures == 0 && s.PaginationStalls == 0
}

// ChannelFailure records an abandoned channel.
type ChannelFailure struct {
	ChannelID string `json:"channel_id"`
	Op        string `json:"op"`
	Error     string `json:"error"`
}
