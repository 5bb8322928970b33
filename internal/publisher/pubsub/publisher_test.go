package pubsub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/slack-history-crawler/internal/crawler"
	"github.com/JakeFAU/slack-history-crawler/internal/publisher"
)

func TestPublishSendsSummary(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	admin, err := pubsub.NewClient(ctx, "proj", option.WithGRPCConn(conn))
	require.NoError(t, err)
	_, err = admin.CreateTopic(ctx, "crawl-runs")
	require.NoError(t, err)

	pub, err := New(ctx, Config{ProjectID: "proj", Topic: "crawl-runs"}, option.WithGRPCConn(conn))
	require.NoError(t, err)

	summary := publisher.RunSummary{
		Summary: crawler.Summary{
			RunID:             "run-1",
			State:             crawler.StateDone,
			ChannelsSucceeded: 3,
			Messages:          42,
		},
		Mode:       "db",
		FinishedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	id, err := pub.Publish(ctx, summary)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.NoError(t, pub.Close())

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "run-1", msgs[0].Attributes["run_id"])
	require.Equal(t, "DONE", msgs[0].Attributes["state"])

	var got map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	require.Equal(t, "db", got["mode"])
	require.Equal(t, "DONE", got["state"])
	require.EqualValues(t, 42, got["messages"])
}

func TestNewValidates(t *testing.T) {
	_, err := New(context.Background(), Config{Topic: "t"})
	require.Error(t, err)
	_, err = New(context.Background(), Config{ProjectID: "p"})
	require.Error(t, err)
}
