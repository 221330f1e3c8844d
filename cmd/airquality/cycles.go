package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	cyclesLimit  int
	cyclesFailed bool
)

var cyclesCmd = &cobra.Command{
	Use:   "cycles",
	Short: "List recent pipeline cycles",
	Long:  `Displays the cycle log recorded by 'serve' (and 'fetch --record'), newest first.`,
	Args:  cobra.NoArgs,
	RunE:  runCycles,
}

func init() {
	cyclesCmd.Flags().IntVar(&cyclesLimit, "limit", 24, "Number of cycles to show (0 = all)")
	cyclesCmd.Flags().BoolVar(&cyclesFailed, "failed", false, "Only show failed cycles")
	rootCmd.AddCommand(cyclesCmd)
}

func runCycles(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	db, err := openDB(cfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	ctx := context.Background()
	cycles, err := db.ListCycles(ctx, cyclesLimit)
	if err != nil {
		return fmt.Errorf("listing cycles: %w", err)
	}

	if len(cycles) == 0 {
		fmt.Println("No cycles recorded")
		return nil
	}

	fmt.Println("--------------------------------------------------------------------------")
	fmt.Printf("%-20s  %-10s  %-11s  %8s  %8s\n", "Started", "Status", "Kind", "Records", "Took")
	fmt.Println("--------------------------------------------------------------------------")

	var succeeded, failed int
	for _, c := range cycles {
		if c.Status == "succeeded" {
			succeeded++
		} else {
			failed++
		}
		if cyclesFailed && c.Status == "succeeded" {
			continue
		}
		took := c.FinishedAt.Sub(c.StartedAt).Round(100 * time.Millisecond)
		fmt.Printf("%-20s  %-10s  %-11s  %8d  %8s\n", humanize.Time(c.StartedAt), c.Status, c.ErrorKind, c.Records, took)
		if c.Error != "" {
			fmt.Printf("    %s\n", c.Error)
		}
	}

	fmt.Println("--------------------------------------------------------------------------")
	fmt.Printf("Succeeded: %d, Failed: %d (of %d shown)\n", succeeded, failed, len(cycles))

	if snap, updated, ok, err := db.LatestSnapshot(ctx); err == nil && ok {
		fmt.Printf("Cached snapshot: %s (saved %s)\n", snap.Date(), humanize.Time(updated))
	}

	return nil
}
