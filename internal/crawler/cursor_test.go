package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTokenCursorStopsOnEmptyCursor(t *testing.T) {
	c := NewTokenCursor()
	require.False(t, c.Done())
	require.Empty(t, c.Token())

	require.NoError(t, c.Advance(Page{NextCursor: "abc"}))
	require.False(t, c.Done())
	require.Equal(t, "abc", c.Token())

	require.NoError(t, c.Advance(Page{}))
	require.True(t, c.Done())
	require.Equal(t, 2, c.Pages())
}

func TestWindowCursorStopsWhenNoMore(t *testing.T) {
	c := NewWindowCursor("1700000000.000000")
	// A trailing cursor token does not keep a finished window alive.
	require.NoError(t, c.Advance(Page{HasMore: false, NextCursor: "ignored"}))
	require.True(t, c.Done())
	require.Empty(t, c.Token())
}

func TestWindowCursorPrefersToken(t *testing.T) {
	c := NewWindowCursor("1700000000.000000")
	require.NoError(t, c.Advance(Page{HasMore: true, NextCursor: "next", OldestTS: "1700000500.000000"}))
	require.False(t, c.Done())
	require.Equal(t, "next", c.Token())
	require.Equal(t, "1700000000.000000", c.Oldest())
	require.False(t, c.BoundAdvanced())
}

func TestWindowCursorAdvancesLowerBound(t *testing.T) {
	c := NewWindowCursor("1700000000.000000")
	require.NoError(t, c.Advance(Page{HasMore: true, OldestTS: "1700000500.000100"}))
	require.False(t, c.Done())
	require.Empty(t, c.Token())
	require.Equal(t, "1700000500.000100", c.Oldest())
	require.True(t, c.BoundAdvanced())
}

func TestWindowCursorDetectsStall(t *testing.T) {
	c := NewWindowCursor("1700000000.000000")
	err := c.Advance(Page{HasMore: true, OldestTS: "1700000000.000000"})
	require.ErrorIs(t, err, ErrCursorStalled)
	require.True(t, c.Done())

	c = NewWindowCursor("1700000000.000000")
	err = c.Advance(Page{HasMore: true})
	require.ErrorIs(t, err, ErrCursorStalled)
}

func TestOldestTimestampSkipsMalformed(t *testing.T) {
	msgs := []RawMessage{{TS: "1700000300.000000"}, {TS: "bad"}, {TS: "1700000100.000002"}, {TS: "1700000200.0"}}
	require.Equal(t, "1700000100.000002", oldestTimestamp(msgs))
	require.Empty(t, oldestTimestamp(nil))
}
