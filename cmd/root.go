package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/slack-history-crawler/internal/app"
	"github.com/JakeFAU/slack-history-crawler/internal/config"
	"github.com/JakeFAU/slack-history-crawler/internal/crawler"
	"github.com/JakeFAU/slack-history-crawler/internal/logging"
	"github.com/JakeFAU/slack-history-crawler/internal/publisher"
	"github.com/JakeFAU/slack-history-crawler/internal/storage"
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands will use.
// This allows us to inject a fake app during tests.
type App interface {
	Close()
	Config() config.Config
	GetLogger() *zap.Logger
	GetWorkspace() app.Workspace
	GetCheckpoints(mode string) app.Checkpoints
	GetUploader() *storage.Uploader
	GetPublisher() publisher.Publisher
	OpenSink(ctx context.Context, mode string, w crawler.Window) (crawler.MergeSink, error)
	Now() time.Time
	NewRunID() string
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfgPath string) (App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)

	a, err := app.NewApp(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return a, nil
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slack-history-crawler",
		Short: "Harvests public channel history from a Slack workspace.",
		Long: `slack-history-crawler pages through every public channel of a workspace,
including thread replies and reactions, and merges the result into csv files
or a relational database. Repeated runs over overlapping windows never
duplicate stored rows in database mode.`,
		SilenceUsage: true,

		// Runs after argument validation and before the subcommand's RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	cmd.AddCommand(newCrawlCmd())

	return cmd
}

// execute runs the root command with args and closes the App afterwards,
// whether or not the command succeeded.
func execute(ctx context.Context, args []string) error {
	root := newRootCmd()
	root.SetArgs(args)
	executed, err := root.ExecuteContextC(ctx)
	if executed != nil && executed.Context() != nil {
		if appInstance, ok := executed.Context().Value(appKey).(App); ok && appInstance != nil {
			appInstance.Close()
		}
	}
	return err
}

// Execute is the main entry point. It exits nonzero when the command fails.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := execute(ctx, os.Args[1:])
	stop()
	if err != nil {
		os.Exit(1)
	}
}
