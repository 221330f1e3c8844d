package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jgoulah/airquality/internal/publisher"
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish the cached snapshot to MQTT / Home Assistant",
	Long: `Reads the last successful snapshot from the database and sends it to the
configured MQTT broker and/or Home Assistant without running a cycle.`,
	Args: cobra.NoArgs,
	RunE: runPublish,
}

func init() {
	rootCmd.AddCommand(publishCmd)
}

func runPublish(cmd *cobra.Command, args []string) error {
	fmt.Printf("=== Publish started at %s ===\n", time.Now().Format("2006-01-02 15:04:05 MST"))

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	pub, err := publisher.New(cfg.MQTT, cfg.GetTopicPrefix(), cfg.HomeAssistant)
	if err != nil {
		return fmt.Errorf("creating publisher: %w", err)
	}
	defer pub.Close()
	if !pub.Enabled() {
		return fmt.Errorf("neither MQTT nor Home Assistant is enabled in config")
	}

	db, err := openDB(cfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	snap, updated, ok, err := db.LatestSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("reading cached snapshot: %w", err)
	}
	if !ok {
		fmt.Println("No cached snapshot; run 'airquality fetch --record' or 'airquality serve' first")
		return nil
	}

	fmt.Printf("Publishing snapshot %s (cached %s)... ", snap.Date(), updated.Format(time.RFC3339))
	if err := pub.Publish(ctx, snap); err != nil {
		fmt.Println("FAILED")
		return fmt.Errorf("publishing: %w", err)
	}
	fmt.Println("✓")
	return nil
}
