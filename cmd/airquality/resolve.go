package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jgoulah/airquality/internal/scraper"
)

var resolveVisible bool

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Print the current one-time download URL",
	Long:  `Walks the data selector wizard in a browser and prints the export link it produces.`,
	Args:  cobra.NoArgs,
	RunE:  runResolve,
}

func init() {
	resolveCmd.Flags().BoolVar(&resolveVisible, "visible", false, "Show browser window (for debugging)")
	rootCmd.AddCommand(resolveCmd)
}

func runResolve(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if resolveVisible {
		cfg.Browser.Visible = true
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.GetCycleTimeout())
	defer cancel()

	link, err := scraper.NewChromeResolver(newLogger(), cfg).Resolve(ctx)
	if err != nil {
		return err
	}

	fmt.Println(link)
	return nil
}
