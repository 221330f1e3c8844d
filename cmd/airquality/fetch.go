package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jgoulah/airquality/internal/pipeline"
	"github.com/jgoulah/airquality/internal/snapshot"
)

var (
	fetchVisible bool
	fetchRecord  bool
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Run a single cycle and print the resulting snapshot",
	Long: `Resolves the current download link, fetches and parses the dataset, and prints
the latest value of every field as JSON. Working files are written to the
configured work directory.`,
	Args: cobra.NoArgs,
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().BoolVar(&fetchVisible, "visible", false, "Show browser window (for debugging)")
	fetchCmd.Flags().BoolVar(&fetchRecord, "record", false, "Record the cycle and cache the snapshot in the database")
	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	fmt.Printf("=== Fetch started at %s ===\n", time.Now().Format("2006-01-02 15:04:05 MST"))

	logger := newLogger()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if fetchVisible {
		cfg.Browser.Visible = true
	}

	var opts []pipeline.Option
	if fetchRecord {
		db, err := openDB(cfg)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer db.Close()
		opts = append(opts, pipeline.WithRecorder(db), pipeline.WithSinks(db))
	}
	opts = append(opts, pipeline.WithCycleTimeout(cfg.GetCycleTimeout()))

	sched := pipeline.NewScheduler(logger, newPipeline(logger, cfg), snapshot.NewStore(), cfg.GetInterval(), opts...)
	res, err := sched.RunOnce(context.Background())
	if err != nil {
		return fmt.Errorf("cycle failed (%s): %w", pipeline.Kind(err), err)
	}

	fmt.Printf("✓ Parsed %d records from %s\n", res.Records, res.URL)
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(res.Snapshot)
}
