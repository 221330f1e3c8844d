package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/spf13/cobra"

	"github.com/jgoulah/airquality/internal/scraper"
)

var (
	debugVisible    bool
	debugOutput     string
	debugScreenshot string
)

var debugCmd = &cobra.Command{
	Use:   "debug",
	Short: "Walk the data selector and save the final page for inspection",
	Long: `Runs the configured wizard steps and saves the resulting page HTML (and
optionally a screenshot) so selectors can be updated when the site changes.

Flags:
  --visible      Open visible browser and pause for inspection
  --output       Save HTML to this file (default: print to stdout)
  --screenshot   Save a full-page PNG screenshot to this file`,
	Args: cobra.NoArgs,
	RunE: runDebug,
}

func init() {
	debugCmd.Flags().BoolVar(&debugVisible, "visible", false, "Open visible browser and pause")
	debugCmd.Flags().StringVar(&debugOutput, "output", "", "Save HTML to this file")
	debugCmd.Flags().StringVar(&debugScreenshot, "screenshot", "", "Save a screenshot to this file")
	rootCmd.AddCommand(debugCmd)
}

func runDebug(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if debugVisible {
		cfg.Browser.Visible = true
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.GetCycleTimeout())
	defer cancel()

	browserCtx, closeBrowser, err := scraper.NewBrowser(ctx, scraper.BrowserOptions{
		RemoteURL: cfg.Browser.RemoteURL,
		Visible:   cfg.Browser.Visible,
	})
	if err != nil {
		return err
	}
	defer closeBrowser()

	fmt.Printf("Walking %d steps on %s...\n", len(cfg.GetSteps()), cfg.GetBaseURL())
	resolver := scraper.NewChromeResolver(newLogger(), cfg)
	walkErr := resolver.Walk(browserCtx)
	if walkErr != nil {
		// Still save what the page looked like when the step failed
		fmt.Printf("⚠ %v\n", walkErr)
	}

	var html string
	var shot []byte
	actions := []chromedp.Action{chromedp.OuterHTML("html", &html, chromedp.ByQuery)}
	if debugScreenshot != "" {
		actions = append(actions, chromedp.FullScreenshot(&shot, 90))
	}
	if err := chromedp.Run(browserCtx, actions...); err != nil {
		return fmt.Errorf("capturing page: %w", err)
	}

	var href string
	var ok bool
	linkCtx, linkCancel := context.WithTimeout(browserCtx, 2*time.Second)
	linkErr := chromedp.Run(linkCtx, chromedp.AttributeValue(cfg.GetLinkSelector(), "href", &href, &ok, chromedp.ByQuery))
	linkCancel()
	switch {
	case linkErr != nil:
		fmt.Printf("✗ No export link matched %q: %v\n", cfg.GetLinkSelector(), linkErr)
	case !ok:
		fmt.Printf("✗ Export link %q has no href attribute\n", cfg.GetLinkSelector())
	default:
		fmt.Printf("✓ Export link: %s\n", href)
	}

	if debugOutput != "" {
		if err := os.WriteFile(debugOutput, []byte(html), 0644); err != nil {
			return fmt.Errorf("writing HTML: %w", err)
		}
		fmt.Printf("HTML saved to %s (%d bytes)\n", debugOutput, len(html))
	} else {
		fmt.Println(html)
	}

	if debugScreenshot != "" {
		if err := os.WriteFile(debugScreenshot, shot, 0644); err != nil {
			return fmt.Errorf("writing screenshot: %w", err)
		}
		fmt.Printf("Screenshot saved to %s\n", debugScreenshot)
	}

	if cfg.Browser.Visible {
		fmt.Println("Browser is open for inspection. Press Enter to close...")
		bufio.NewReader(os.Stdin).ReadBytes('\n')
	}

	return walkErr
}
