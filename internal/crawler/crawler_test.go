package crawler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func historyFor(channelID string) interface{} {
	return mock.MatchedBy(func(r HistoryRequest) bool { return r.ChannelID == channelID })
}

func twoChannelAPI() *MockAPI {
	api := new(MockAPI)
	api.On("ListChannels", mock.Anything, "").Return(ChannelPage{
		Channels: []RawChannel{{ID: "C1", Name: "general"}, {ID: "C2", Name: "random"}},
	}, nil)
	return api
}

func testConfig() Config {
	return Config{MaxThrottleRetries: 1}
}

func TestRunHarvestsEveryChannel(t *testing.T) {
	api := twoChannelAPI()
	root := RawMessage{TS: "1700000100.000000", ThreadTS: "1700000100.000000", ReplyCount: 1, User: "U1",
		Reactions: []RawReaction{{Name: "+1", Count: 2, Users: []string{"U1", "U2"}}}}
	reply := RawMessage{TS: "1700000110.000000", ThreadTS: "1700000100.000000", User: "U2"}
	api.On("ListHistory", mock.Anything, historyFor("C1")).Return(MessagePage{Messages: []RawMessage{root}}, nil)
	api.On("ListThreadReplies", mock.Anything, mock.Anything).Return(MessagePage{Messages: []RawMessage{root, reply}}, nil)
	api.On("ListHistory", mock.Anything, historyFor("C2")).Return(MessagePage{Messages: []RawMessage{{TS: "1700000200.000000"}}}, nil)

	sink := new(MockSink)
	sink.On("Write", mock.Anything, mock.Anything).Return(nil)
	cp := newMemCheckpoints()

	c := New(api, sink, testConfig(), nil, WithCheckpoints(cp), WithRunID("run-1"))
	summary, err := c.Run(context.Background(), testWindow())
	require.NoError(t, err)
	require.Equal(t, StateDone, summary.State)
	require.Equal(t, StateDone, c.State())
	require.True(t, summary.Complete())
	require.Equal(t, "run-1", summary.RunID)
	require.Equal(t, 2, summary.ChannelsListed)
	require.Equal(t, 2, summary.ChannelsSucceeded)
	require.Equal(t, 3, summary.Messages)
	require.Equal(t, 2, summary.Reactions)
	require.Equal(t, 1, summary.Duplicates, "thread root is returned by both history and replies")

	require.Len(t, sink.batches, 2)
	first := sink.batches[0]
	require.Equal(t, "C1", first.Channel.ID)
	require.Len(t, first.Messages(), 2)
	require.Equal(t, 1, first.Messages()[0].ReplyCount)
	require.Zero(t, first.Messages()[1].ReplyCount)
	require.Equal(t, 1, cp.finished)
}

func TestRunContinuesPastFailedChannel(t *testing.T) {
	api := twoChannelAPI()
	api.On("ListHistory", mock.Anything, historyFor("C1")).Return(MessagePage{}, errors.New("channel_not_found"))
	api.On("ListHistory", mock.Anything, historyFor("C2")).Return(MessagePage{Messages: []RawMessage{{TS: "1700000200.000000"}}}, nil)

	sink := new(MockSink)
	sink.On("Write", mock.Anything, mock.Anything).Return(nil).Once()
	cp := newMemCheckpoints()

	summary, err := New(api, sink, testConfig(), nil, WithCheckpoints(cp)).Run(context.Background(), testWindow())
	require.NoError(t, err)
	require.Equal(t, StateDone, summary.State)
	require.False(t, summary.Complete())
	require.Equal(t, 1, summary.ChannelsFailed)
	require.Equal(t, 1, summary.ChannelsSucceeded)
	require.Len(t, summary.Failures, 1)
	require.Equal(t, "C1", summary.Failures[0].ChannelID)
	require.Equal(t, OpListHistory, summary.Failures[0].Op)
	require.Zero(t, cp.finished, "an incomplete run keeps its checkpoint")
	sink.AssertExpectations(t)
}

func TestRunStopsOnPersistenceFailure(t *testing.T) {
	api := twoChannelAPI()
	api.On("ListHistory", mock.Anything, historyFor("C1")).Return(MessagePage{Messages: []RawMessage{{TS: "1700000200.000000"}}}, nil)

	sink := new(MockSink)
	sink.On("Write", mock.Anything, mock.Anything).Return(errors.New("disk full")).Once()

	summary, err := New(api, sink, testConfig(), nil).Run(context.Background(), testWindow())
	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, "C1", perr.ChannelID)
	require.Equal(t, StateFlushing, summary.State)
	require.Zero(t, summary.Messages)
	api.AssertNotCalled(t, "ListHistory", mock.Anything, historyFor("C2"))
}

func TestRunStopsBetweenChannelsOnCancel(t *testing.T) {
	api := twoChannelAPI()
	api.On("ListHistory", mock.Anything, historyFor("C1")).Return(MessagePage{Messages: []RawMessage{{TS: "1700000200.000000"}}}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := new(MockSink)
	sink.On("Write", mock.Anything, mock.Anything).Return(nil).Run(func(mock.Arguments) { cancel() }).Once()

	summary, err := New(api, sink, testConfig(), nil).Run(ctx, testWindow())
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, summary.ChannelsSucceeded)
	require.NotEqual(t, StateDone, summary.State)
	api.AssertNotCalled(t, "ListHistory", mock.Anything, historyFor("C2"))
}

func TestRunSkipsCheckpointedChannels(t *testing.T) {
	api := twoChannelAPI()
	api.On("ListHistory", mock.Anything, historyFor("C2")).Return(MessagePage{}, nil)

	sink := new(MockSink)
	sink.On("Write", mock.Anything, mock.Anything).Return(nil).Once()
	cp := newMemCheckpoints()
	w := testWindow()
	require.NoError(t, cp.MarkDone(w, "C1"))

	summary, err := New(api, sink, testConfig(), nil, WithCheckpoints(cp)).Run(context.Background(), w)
	require.NoError(t, err)
	require.Equal(t, 1, summary.ChannelsSkipped)
	require.Equal(t, 1, summary.ChannelsSucceeded)
	api.AssertNotCalled(t, "ListHistory", mock.Anything, historyFor("C1"))
	require.Equal(t, 1, cp.finished)
}

func TestRunRefetchesChannelWithAbandonedThreadOnResume(t *testing.T) {
	api := twoChannelAPI()
	root := RawMessage{TS: "1700000100.000000", ThreadTS: "1700000100.000000", ReplyCount: 1, User: "U1"}
	reply := RawMessage{TS: "1700000110.000000", ThreadTS: "1700000100.000000", User: "U2", Text: "reply"}
	api.On("ListHistory", mock.Anything, historyFor("C1")).Return(MessagePage{Messages: []RawMessage{root}}, nil)
	api.On("ListHistory", mock.Anything, historyFor("C2")).Return(MessagePage{Messages: []RawMessage{{TS: "1700000200.000000"}}}, nil)
	api.On("ListThreadReplies", mock.Anything, mock.Anything).Return(MessagePage{}, errors.New("internal_error")).Once()
	api.On("ListThreadReplies", mock.Anything, mock.Anything).Return(MessagePage{Messages: []RawMessage{root, reply}}, nil).Once()

	cp := newMemCheckpoints()
	w := testWindow()

	first := new(MockSink)
	first.On("Write", mock.Anything, mock.Anything).Return(nil)
	summary, err := New(api, first, testConfig(), nil, WithCheckpoints(cp)).Run(context.Background(), w)
	require.NoError(t, err)
	require.Equal(t, 1, summary.ThreadFailures)
	require.False(t, summary.Complete())
	require.Zero(t, cp.finished)
	done, _ := cp.Done(w, "C1")
	require.False(t, done, "a channel with an abandoned thread is not checkpointed")
	done, _ = cp.Done(w, "C2")
	require.True(t, done)

	second := new(MockSink)
	second.On("Write", mock.Anything, mock.Anything).Return(nil)
	summary, err = New(api, second, testConfig(), nil, WithCheckpoints(cp)).Run(context.Background(), w)
	require.NoError(t, err)
	require.True(t, summary.Complete())
	require.Equal(t, 1, summary.ChannelsSkipped)
	require.Equal(t, 1, summary.ChannelsSucceeded)
	require.Len(t, second.batches, 1)
	require.Equal(t, "C1", second.batches[0].Channel.ID)
	require.Len(t, second.batches[0].Messages(), 2)
	require.Equal(t, 1, cp.finished)
}

func TestRunDoesNotCheckpointStalledChannel(t *testing.T) {
	api := new(MockAPI)
	api.On("ListChannels", mock.Anything, "").Return(ChannelPage{Channels: []RawChannel{{ID: "C1", Name: "general"}}}, nil)
	w := testWindow()
	api.On("ListHistory", mock.Anything, historyFor("C1")).Return(MessagePage{
		Messages: []RawMessage{{TS: w.Oldest()}},
		HasMore:  true,
	}, nil)
	sink := new(MockSink)
	sink.On("Write", mock.Anything, mock.Anything).Return(nil)
	cp := newMemCheckpoints()

	summary, err := New(api, sink, testConfig(), nil, WithCheckpoints(cp)).Run(context.Background(), w)
	require.NoError(t, err)
	require.Equal(t, 1, summary.PaginationStalls)
	require.Equal(t, 1, summary.Messages, "pages read before the stall are still flushed")
	require.False(t, summary.Complete())
	done, _ := cp.Done(w, "C1")
	require.False(t, done)
	require.Zero(t, cp.finished)
}

func TestRunContinuesWithPartialChannelList(t *testing.T) {
	api := new(MockAPI)
	api.On("ListChannels", mock.Anything, "").Return(ChannelPage{
		Channels: []RawChannel{{ID: "C1", Name: "general"}}, NextCursor: "c1",
	}, nil)
	api.On("ListChannels", mock.Anything, "c1").Return(ChannelPage{}, errors.New("internal_error"))
	api.On("ListHistory", mock.Anything, historyFor("C1")).Return(MessagePage{}, nil)

	sink := new(MockSink)
	sink.On("Write", mock.Anything, mock.Anything).Return(nil)

	summary, err := New(api, sink, testConfig(), nil).Run(context.Background(), testWindow())
	require.NoError(t, err)
	require.True(t, summary.ListingIncomplete)
	require.Equal(t, 1, summary.ChannelsSucceeded)
	require.False(t, summary.Complete())
}

func TestRunFailsOnAuthError(t *testing.T) {
	api := new(MockAPI)
	api.On("ListChannels", mock.Anything, "").Return(ChannelPage{}, ErrAuth)
	sink := new(MockSink)

	summary, err := New(api, sink, testConfig(), nil).Run(context.Background(), testWindow())
	require.ErrorIs(t, err, ErrAuth)
	require.Equal(t, StateListingChannels, summary.State)
	sink.AssertNotCalled(t, "Write", mock.Anything, mock.Anything)
}

func TestRunCountsRejectedRecords(t *testing.T) {
	api := new(MockAPI)
	api.On("ListChannels", mock.Anything, "").Return(ChannelPage{Channels: []RawChannel{{ID: "C1", Name: "general"}}}, nil)
	api.On("ListHistory", mock.Anything, historyFor("C1")).Return(MessagePage{
		Messages: []RawMessage{{TS: "garbage"}, {TS: "1700000200.000000"}},
	}, nil)
	sink := new(MockSink)
	sink.On("Write", mock.Anything, mock.Anything).Return(nil)

	summary, err := New(api, sink, testConfig(), nil).Run(context.Background(), testWindow())
	require.NoError(t, err)
	require.Equal(t, 1, summary.RejectedRecords)
	require.Equal(t, 1, summary.Messages)
}

func TestSummaryStateMarshalsAsName(t *testing.T) {
	raw, err := json.Marshal(Summary{State: StateDone})
	require.NoError(t, err)
	require.Contains(t, string(raw), `"state":"DONE"`)
	require.Equal(t, "State(42)", State(42).String())
}
