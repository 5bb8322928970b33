package crawler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
)

// MockAPI is a mock implementation of the API interface.
type MockAPI struct {
	mock.Mock
}

func (m *MockAPI) ListChannels(ctx context.Context, cursor string) (ChannelPage, error) {
	args := m.Called(ctx, cursor)
	return args.Get(0).(ChannelPage), args.Error(1)
}

func (m *MockAPI) ListHistory(ctx context.Context, req HistoryRequest) (MessagePage, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(MessagePage), args.Error(1)
}

func (m *MockAPI) ListThreadReplies(ctx context.Context, req RepliesRequest) (MessagePage, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(MessagePage), args.Error(1)
}

func (m *MockAPI) JoinChannel(ctx context.Context, channelID string) error {
	args := m.Called(ctx, channelID)
	return args.Error(0)
}

// MockSink is a mock implementation of the MergeSink interface.
type MockSink struct {
	mock.Mock
	batches []*Batch
}

func (m *MockSink) Write(ctx context.Context, batch *Batch) error {
	args := m.Called(ctx, batch)
	if args.Error(0) == nil {
		m.batches = append(m.batches, batch)
	}
	return args.Error(0)
}

func (m *MockSink) Close() error {
	args := m.Called()
	return args.Error(0)
}

// memCheckpoints is an in-memory Checkpointer.
type memCheckpoints struct {
	mu       sync.Mutex
	done     map[string]bool
	begun    int
	finished int
}

func newMemCheckpoints() *memCheckpoints {
	return &memCheckpoints{done: make(map[string]bool)}
}

func (c *memCheckpoints) Begin(Window) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.begun++
	return nil
}

func (c *memCheckpoints) Done(w Window, channelID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done[w.Key()+"/"+channelID], nil
}

func (c *memCheckpoints) MarkDone(w Window, channelID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.done[w.Key()+"/"+channelID] = true
	return nil
}

func (c *memCheckpoints) Finish(Window) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finished++
	return nil
}

func testWindow() Window {
	return Window{
		Since: time.Unix(1700000000, 0).UTC(),
		Until: time.Unix(1700086400, 0).UTC(),
	}
}

func newTestLimiter(t *testing.T, joiner Joiner) *RateLimiter {
	t.Helper()
	rl := NewRateLimiter(RateLimiterConfig{MaxThrottleRetries: 2}, joiner, nil)
	rl.sleep = func(context.Context, time.Duration) error { return nil }
	return rl
}
