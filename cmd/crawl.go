// Package cmd defines and implements the CLI commands for the slack-history-crawler executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/slack-history-crawler/internal/app"
	"github.com/JakeFAU/slack-history-crawler/internal/checkpoint"
	"github.com/JakeFAU/slack-history-crawler/internal/config"
	"github.com/JakeFAU/slack-history-crawler/internal/crawler"
	"github.com/JakeFAU/slack-history-crawler/internal/metrics"
	"github.com/JakeFAU/slack-history-crawler/internal/publisher"
)

// afterRunTimeout bounds artifact upload and summary publishing, which run
// even when the crawl itself was interrupted.
const afterRunTimeout = 30 * time.Second

var errUpToDate = errors.New("nothing to harvest since the last finished window")

// newCrawlCmd creates and configures the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl <csv|db>",
		Short: "Harvests channel history into csv files or a database",
		Long: `Lists every public channel, joins the ones the bot is not a member of,
pages through their history and thread replies inside the crawl window and
merges messages and reactions into the selected output.

  csv  append to slack_messages_<start>-<end>.csv and slack_reactions_<start>-<end>.csv
  db   upsert into the channels, messages and reactions tables

Failed channels are logged and reported in the run summary; the command still
exits zero. Authentication and persistence failures exit nonzero.`,
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{app.ModeCSV, app.ModeDB},
		RunE:      runCrawlCommand,
	}
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	appInstance, err := resolveApp(ctx)
	if err != nil {
		return err
	}

	mode := args[0]
	cfg := appInstance.Config()
	logger := appInstance.GetLogger().With(zap.String("mode", mode))
	started := appInstance.Now()

	team, user, err := appInstance.GetWorkspace().AuthTest(ctx)
	if err != nil {
		return fmt.Errorf("verify credentials: %w", err)
	}
	logger.Info("Authenticated", zap.String("team", team), zap.String("user", user))

	checkpoints := appInstance.GetCheckpoints(mode)
	window, err := resolveWindow(cfg, checkpoints, started, logger)
	if errors.Is(err, errUpToDate) {
		logger.Info("Crawl skipped", zap.Error(err))
		return nil
	}
	if err != nil {
		return err
	}

	runID := appInstance.NewRunID()
	logger = logger.With(zap.String("run_id", runID))

	sink, err := appInstance.OpenSink(ctx, mode, window)
	if err != nil {
		return fmt.Errorf("open %s output: %w", mode, err)
	}

	opts := []crawler.Option{crawler.WithRunID(runID)}
	if checkpoints != nil {
		opts = append(opts, crawler.WithCheckpoints(checkpoints))
	}
	engine := crawler.New(appInstance.GetWorkspace(), sink, cfg.CrawlerConfig(), logger, opts...)

	summary, runErr := engine.Run(ctx, window)
	if cerr := sink.Close(); cerr != nil && runErr == nil {
		runErr = &crawler.PersistenceError{Op: "close", Err: cerr}
	}

	afterCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), afterRunTimeout)
	defer cancel()

	var artifacts []string
	if files, ok := sink.(interface{ Paths() []string }); ok {
		artifacts, err = appInstance.GetUploader().UploadArtifacts(afterCtx, files.Paths())
		if err != nil {
			logger.Warn("Artifact upload failed", zap.Error(err))
		}
	}

	finished := appInstance.Now()
	result := runResult(summary, runErr)
	metrics.ObserveRun(mode, result, finished.Sub(started), finished)

	report := publisher.RunSummary{
		Summary:    summary,
		Mode:       mode,
		Artifacts:  artifacts,
		FinishedAt: finished.UTC(),
	}
	if runErr != nil {
		report.Error = runErr.Error()
	}
	if id, err := appInstance.GetPublisher().Publish(afterCtx, report); err != nil {
		logger.Warn("Failed to publish run summary", zap.Error(err))
	} else if id != "" {
		logger.Info("Published run summary", zap.String("message_id", id))
	}

	logger.Info("Crawl command finished.",
		zap.String("result", result),
		zap.Stringer("state", summary.State),
		zap.Int("channels_succeeded", summary.ChannelsSucceeded),
		zap.Int("channels_failed", summary.ChannelsFailed),
		zap.Int("channels_skipped", summary.ChannelsSkipped),
		zap.Int("messages", summary.Messages),
		zap.Int("reactions", summary.Reactions),
		zap.Duration("elapsed", finished.Sub(started)),
	)

	switch {
	case runErr == nil:
		return nil
	case errors.Is(runErr, context.Canceled):
		logger.Warn("Crawl interrupted; rerun to resume", zap.Error(runErr))
		return nil
	default:
		return fmt.Errorf("run crawler: %w", runErr)
	}
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// resolveWindow picks the harvest window. An unfinished window from the
// checkpoint store wins when resume is on; otherwise the configured window is
// used, with its lower bound raised to the last finished bound in
// incremental mode.
func resolveWindow(cfg config.Config, cp app.Checkpoints, now time.Time, logger *zap.Logger) (crawler.Window, error) {
	if cp != nil && cfg.Crawl.Resume {
		w, err := cp.Pending()
		switch {
		case err == nil:
			logger.Info("Resuming unfinished window", zap.String("window", w.Key()))
			return w, nil
		case !errors.Is(err, checkpoint.ErrNoPending):
			return crawler.Window{}, fmt.Errorf("read pending window: %w", err)
		}
	}

	w, err := cfg.Window(now)
	if err != nil {
		return crawler.Window{}, err
	}

	if cp != nil && cfg.Crawl.Incremental {
		last, ok, err := cp.LastUntil()
		if err != nil {
			return crawler.Window{}, fmt.Errorf("read last harvested bound: %w", err)
		}
		if ok && last.After(w.Since) {
			if !last.Before(w.Until) {
				return crawler.Window{}, errUpToDate
			}
			logger.Info("Incremental crawl", zap.Time("since", last))
			w.Since = last.UTC()
		}
	}
	return w, nil
}

func runResult(summary crawler.Summary, runErr error) string {
	switch {
	case runErr != nil:
		return "failed"
	case summary.Complete():
		return "complete"
	default:
		return "partial"
	}
}
