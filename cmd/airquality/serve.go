package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jgoulah/airquality/internal/pipeline"
	"github.com/jgoulah/airquality/internal/publisher"
	"github.com/jgoulah/airquality/internal/server"
	"github.com/jgoulah/airquality/internal/snapshot"
)

var serveListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduled pipeline and serve the latest snapshot",
	Long: `Runs one cycle immediately and then one per configured interval (default 1h),
while serving the most recent successful snapshot on GET /.

Failed cycles are logged and recorded; the previous snapshot keeps being served.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "HTTP listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if serveListen != "" {
		cfg.Listen = serveListen
	}

	db, err := openDB(cfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if n, err := db.PruneCycles(ctx, time.Now().Add(-cfg.GetCycleRetention())); err != nil {
		logger.Warn("could not prune cycle log", "err", err)
	} else if n > 0 {
		logger.Info("pruned cycle log", "deleted", n)
	}

	store := snapshot.NewStore()
	if cfg.RestoreSnapshot {
		snap, updated, ok, err := db.LatestSnapshot(ctx)
		switch {
		case err != nil:
			logger.Warn("could not restore cached snapshot", "err", err)
		case ok:
			store.Publish(snap)
			logger.Info("restored cached snapshot", "date", snap.Date(), "cached_at", updated)
		}
	}

	sinks := []pipeline.Sink{db}
	pub, err := publisher.New(cfg.MQTT, cfg.GetTopicPrefix(), cfg.HomeAssistant)
	if err != nil {
		return fmt.Errorf("creating publisher: %w", err)
	}
	defer pub.Close()
	if pub.Enabled() {
		sinks = append(sinks, pub)
	}

	sched := pipeline.NewScheduler(logger, newPipeline(logger, cfg), store, cfg.GetInterval(),
		pipeline.WithCycleTimeout(cfg.GetCycleTimeout()),
		pipeline.WithRecorder(db),
		pipeline.WithSinks(sinks...),
	)
	srv := server.New(logger, cfg.GetListen(), store, sched)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sched.Run(gctx)
	})
	g.Go(func() error {
		return srv.Run(gctx)
	})

	return g.Wait()
}
