// Package pipeline runs the resolve, fetch, parse and reduce cycle and
// schedules it on a fixed interval.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jgoulah/airquality/internal/dataset"
	"github.com/jgoulah/airquality/internal/scraper"
	"github.com/jgoulah/airquality/internal/snapshot"
	"github.com/jgoulah/airquality/pkg/models"
)

// Fetcher downloads a dataset export to a local path with its preamble removed
type Fetcher interface {
	Fetch(ctx context.Context, url, dest string) error
}

// Result describes one completed cycle
type Result struct {
	URL      string
	Records  int
	Snapshot models.Snapshot
}

// Pipeline is one cycle's worth of strictly sequential steps
type Pipeline struct {
	Logger      *slog.Logger
	Resolver    scraper.Resolver
	Fetcher     Fetcher
	CSVPath     string
	RecordsPath string
	Fields      []models.Field
}

// Run executes resolve, fetch, parse and reduce. On error the returned Result
// carries whatever was learned before the failing step.
func (p *Pipeline) Run(ctx context.Context) (Result, error) {
	var res Result

	url, err := p.Resolver.Resolve(ctx)
	if err != nil {
		return res, fmt.Errorf("resolving download link: %w", err)
	}
	res.URL = url

	if err := p.Fetcher.Fetch(ctx, url, p.CSVPath); err != nil {
		return res, fmt.Errorf("fetching dataset: %w", err)
	}

	table, err := dataset.ParseFile(p.CSVPath)
	if err != nil {
		if !errors.Is(err, dataset.ErrParse) {
			// The working file is local IO, classed with the download
			err = fmt.Errorf("%w: %v", scraper.ErrFetchFailed, err)
		}
		return res, fmt.Errorf("parsing dataset: %w", err)
	}
	res.Records = len(table.Records)

	if p.RecordsPath != "" {
		if err := table.SaveJSON(p.RecordsPath); err != nil {
			// The records file is a cache artifact; the snapshot does not depend on it.
			p.Logger.Warn("could not write records file", "path", p.RecordsPath, "err", err)
		}
	}

	snap, err := snapshot.Reduce(table.Records, p.Fields)
	if err != nil {
		return res, fmt.Errorf("reducing records: %w", err)
	}
	res.Snapshot = snap

	return res, nil
}

// Kind classifies a cycle error into a short, stable label
func Kind(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, scraper.ErrResolutionFailed):
		return "resolution"
	case errors.Is(err, scraper.ErrMalformedFile):
		return "malformed"
	case errors.Is(err, scraper.ErrFetchFailed):
		return "fetch"
	case errors.Is(err, dataset.ErrParse):
		return "parse"
	case errors.Is(err, snapshot.ErrEmptyDataset):
		return "empty"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "other"
	}
}
