package crawler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBatchKeepsOneEntityPerKey(t *testing.T) {
	b := NewBatch(Channel{ID: "C1", Name: "general"})
	require.True(t, b.Empty())

	ts := time.Unix(1700000000, 100000).UTC()
	m := Message{ChannelID: "C1", Timestamp: ts, Text: "first"}
	require.True(t, b.AddMessage(m))
	require.False(t, b.AddMessage(Message{ChannelID: "C1", Timestamp: ts, Text: "second"}))
	require.True(t, b.AddMessage(Message{ChannelID: "C1", Timestamp: ts.Add(time.Microsecond)}))

	got, ok := b.Message(m.Key())
	require.True(t, ok)
	require.Equal(t, "first", got.Text)
	require.Len(t, b.Messages(), 2)

	r := Reaction{ChannelID: "C1", MessageTimestamp: ts, Name: "+1", User: "U1", Count: 2}
	require.True(t, b.AddReaction(r))
	require.False(t, b.AddReaction(r))
	r.User = "U2"
	require.True(t, b.AddReaction(r))
	require.Len(t, b.Reactions(), 2)
	require.False(t, b.Empty())
}
