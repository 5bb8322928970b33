package crawler

import (
	"context"
)

// RawChannel is a channel entry as the platform lists it.
type RawChannel struct {
	ID         string
	Name       string
	IsArchived bool
}

// RawReaction is one emoji entry of a raw message.
type RawReaction struct {
	Name  string
	Count int
	Users []string
}

// RawMessage is a history or reply record before normalization. Timestamps
// are the platform's fractional-second strings.
type RawMessage struct {
	TS         string
	User       string
	Text       string
	ThreadTS   string
	ReplyCount int
	Reactions  []RawReaction
}

// ChannelPage is one page of the channel list.
type ChannelPage struct {
	Channels   []RawChannel
	NextCursor string
}

// HistoryRequest asks for one page of channel history.
type HistoryRequest struct {
	ChannelID string
	Oldest    string
	Latest    string
	Cursor    string
	Inclusive bool
}

// RepliesRequest asks for one page of a thread's replies.
type RepliesRequest struct {
	ChannelID string
	ThreadTS  string
	Oldest    string
	Latest    string
	Cursor    string
}

// MessagePage is one page of history or thread replies.
type MessagePage struct {
	Messages   []RawMessage
	HasMore    bool
	NextCursor string
}

// API is the chat-platform capability the harvest depends on. Implementations
// report a missing membership as ErrNotInChannel and bad credentials as ErrAuth.
type API interface {
	ListChannels(ctx context.Context, cursor string) (ChannelPage, error)
	ListHistory(ctx context.Context, req HistoryRequest) (MessagePage, error)
	ListThreadReplies(ctx context.Context, req RepliesRequest) (MessagePage, error)
	JoinChannel(ctx context.Context, channelID string) error
}

// Joiner recovers from ErrNotInChannel.
type Joiner interface {
	JoinChannel(ctx context.Context, channelID string) error
}

// MergeSink persists one channel's batch. Write must be atomic per batch for
// transactional sinks; append sinks write the rows verbatim.
type MergeSink interface {
	Write(ctx context.Context, batch *Batch) error
	Close() error
}

// Checkpointer remembers which channels of a window landed in full so a
// restarted run can skip them.
type Checkpointer interface {
	Begin(w Window) error
	Done(w Window, channelID string) (bool, error)
	MarkDone(w Window, channelID string) error
	Finish(w Window) error
}
