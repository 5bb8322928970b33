package crawler

import (
	"fmt"
	"time"
)

// Normalizer turns raw records into canonical entities. It holds the run's
// set of seen message keys and performs no I/O.
type Normalizer struct {
	seen map[MessageKey]struct{}
}

// NewNormalizer starts an empty run-wide dedup set.
func NewNormalizer() *Normalizer {
	return &Normalizer{seen: make(map[MessageKey]struct{})}
}

// Normalize converts raw into a Message and its flattened Reactions. ok is
// false, with zero values, when the key was already normalized this run.
func (n *Normalizer) Normalize(raw RawMessage, channelID, channelName string) (msg Message, reactions []Reaction, ok bool, err error) {
	ts, err := ParseTimestamp(raw.TS)
	if err != nil {
		return Message{}, nil, false, fmt.Errorf("message ts: %w", err)
	}
	key := MessageKey{ChannelID: channelID, TS: ts.UnixNano()}
	if _, dup := n.seen[key]; dup {
		return Message{}, nil, false, nil
	}

	var thread *time.Time
	if raw.ThreadTS != "" {
		t, err := ParseTimestamp(raw.ThreadTS)
		if err != nil {
			return Message{}, nil, false, fmt.Errorf("thread ts: %w", err)
		}
		thread = &t
	}

	msg = Message{
		ChannelID:       channelID,
		ChannelName:     channelName,
		Timestamp:       ts,
		User:            raw.User,
		Text:            raw.Text,
		ThreadTimestamp: thread,
		ReplyCount:      raw.ReplyCount,
	}
	// Only roots carry an authoritative reply count.
	if msg.IsReply() {
		msg.ReplyCount = 0
	}

	for _, rx := range raw.Reactions {
		for _, user := range rx.Users {
			reactions = append(reactions, Reaction{
				ChannelID:        channelID,
				ChannelName:      channelName,
				MessageTimestamp: ts,
				MessageUser:      raw.User,
				Name:             rx.Name,
				Count:            rx.Count,
				User:             user,
			})
		}
	}

	n.seen[key] = struct{}{}
	return msg, reactions, true, nil
}

// Seen reports whether key was normalized during this run.
func (n *Normalizer) Seen(key MessageKey) bool {
	_, ok := n.seen[key]
	return ok
}

// Len is the number of distinct messages normalized this run.
func (n *Normalizer) Len() int { return len(n.seen) }
