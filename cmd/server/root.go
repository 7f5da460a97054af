package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hangwatch/backend/internal/activity"
	"github.com/hangwatch/backend/internal/config"
	"github.com/hangwatch/backend/internal/mock"
	"github.com/hangwatch/backend/internal/notify"
	"github.com/hangwatch/backend/internal/poller"
	"github.com/hangwatch/backend/internal/search"
	"github.com/hangwatch/backend/internal/session"
	"github.com/hangwatch/backend/internal/stats"
	"github.com/hangwatch/backend/internal/ws"
)

type options struct {
	configPath string
	mock       bool
	port       int
	logLevel   string
	watch      bool
}

func newRootCmd() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:           "hangwatch",
		Short:         "Discover live hangouts and stream them to WebSocket clients",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts, cmd.ErrOrStderr())
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.configPath, "config", "config.yaml", "path to config file")
	f.BoolVar(&opts.mock, "mock", false, "use the simulated search source")
	f.IntVar(&opts.port, "port", 0, "override server port")
	f.StringVar(&opts.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	f.BoolVar(&opts.watch, "watch", true, "reload the config file when it changes")

	return cmd
}

func run(ctx context.Context, opts options, logOut io.Writer) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.port > 0 {
		cfg.Server.Port = opts.port
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := newLogger(cfg.Log, logOut)
	slog.SetDefault(logger)

	searcher, err := newSearcher(cfg, opts.mock, logger)
	if err != nil {
		return err
	}

	settings := config.NewSettingsFrom(cfg)

	store := session.NewStore()
	broadcaster := ws.NewBroadcaster(store, cfg.Broadcast.Throttle, cfg.Broadcast.SnapshotInterval, cfg.Broadcast.MaxConnections)
	broadcaster.SetLogger(logger)
	defer broadcaster.Stop()
	defer broadcaster.WatchSettings(settings)()

	notifiers := activity.Notifiers{
		activity.LogNotifier{Logger: logger},
		broadcaster,
	}
	if cfg.Notify.Redis.Addr != "" {
		client, err := notify.Dial(ctx, cfg.Notify.Redis)
		if err != nil {
			return err
		}
		defer client.Close()
		notifiers = append(notifiers, notify.NewRedis(client, cfg.Notify.Redis.Channel))
		logger.Info("publishing signals to redis", "addr", cfg.Notify.Redis.Addr, "channel", cfg.Notify.Redis.Channel)
	}

	tracker, events := stats.NewTracker()

	p := poller.New(cfg, searcher, store, broadcaster, logger)
	p.SetNotifier(notifiers)
	p.SetEvents(events)
	defer p.WatchSettings(settings)()

	server := ws.NewServer(cfg, store, broadcaster, logger)
	server.SetObserver(p)
	server.SetStatsTracker(tracker)
	server.SetHealthSource(p.Health)

	mux := http.NewServeMux()
	server.SetupRoutes(mux)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p.Start(gctx)
		return nil
	})
	g.Go(func() error {
		tracker.Run(gctx)
		return nil
	})
	if _, err := os.Stat(opts.configPath); opts.watch && err == nil {
		g.Go(func() error {
			return config.NewWatcher(opts.configPath, settings, logger).Run(gctx)
		})
	}
	g.Go(func() error {
		return ws.ListenAndServe(gctx, cfg.Server.Host, cfg.Server.Port, server.Handler(mux), logger)
	})

	err = g.Wait()
	logger.Info("shut down")
	return err
}

func newSearcher(cfg *config.Config, useMock bool, logger *slog.Logger) (poller.Searcher, error) {
	if useMock {
		logger.Info("using simulated search source", "seed", cfg.Mock.Seed, "failure_rate", cfg.Mock.FailureRate)
		return mock.NewGenerator(cfg.Mock.Seed, cfg.Mock.FailureRate), nil
	}
	client, err := search.NewClient(cfg.Search, logger)
	if err != nil {
		return nil, errors.Wrap(err, "configuring search client (use --mock to run without one)")
	}
	return client, nil
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
