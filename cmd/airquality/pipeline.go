package main

import (
	"log/slog"

	"github.com/jgoulah/airquality/internal/config"
	"github.com/jgoulah/airquality/internal/pipeline"
	"github.com/jgoulah/airquality/internal/scraper"
)

// newPipeline wires the browser resolver and HTTP fetcher into one cycle
func newPipeline(logger *slog.Logger, cfg *config.Config) *pipeline.Pipeline {
	return &pipeline.Pipeline{
		Logger:      logger,
		Resolver:    scraper.NewChromeResolver(logger, cfg),
		Fetcher:     scraper.NewFetcher(logger, nil),
		CSVPath:     cfg.CSVPath(),
		RecordsPath: cfg.RecordsPath(),
		Fields:      cfg.GetFields(),
	}
}
