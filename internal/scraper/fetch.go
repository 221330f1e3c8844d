package scraper

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
)

var (
	// ErrFetchFailed is returned on transport or local IO errors
	ErrFetchFailed = errors.New("fetching dataset failed")
	// ErrMalformedFile is returned when the download has no preamble line to strip
	ErrMalformedFile = errors.New("malformed dataset file")
)

// Fetcher downloads the dataset export to a local working file
type Fetcher struct {
	logger  *slog.Logger
	httpCli *http.Client
}

// NewFetcher creates a fetcher. A nil client gets a transport with dial and
// header timeouts but no overall deadline; the caller's context bounds it.
func NewFetcher(logger *slog.Logger, httpCli *http.Client) *Fetcher {
	if httpCli == nil {
		httpCli = &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   30 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: time.Minute,
				IdleConnTimeout:       30 * time.Second,
			},
		}
	}
	return &Fetcher{logger: logger, httpCli: httpCli}
}

// Fetch streams url to dest and then removes the first (metadata) line,
// leaving the CSV header and rows byte-identical.
func (f *Fetcher) Fetch(ctx context.Context, url, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("%w: creating work directory: %v", ErrFetchFailed, err)
	}

	n, err := f.download(ctx, url, dest)
	if err != nil {
		return err
	}
	f.logger.Info("download completed", "bytes", humanize.Bytes(uint64(n)), "path", dest)

	return StripPreamble(dest)
}

func (f *Fetcher) download(ctx context.Context, url, dest string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: creating request: %v", ErrFetchFailed, err)
	}

	resp, err := f.httpCli.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: HTTP status %d", ErrFetchFailed, resp.StatusCode)
	}

	file, err := os.Create(dest)
	if err != nil {
		return 0, fmt.Errorf("%w: creating %s: %v", ErrFetchFailed, dest, err)
	}

	n, err := io.Copy(file, resp.Body)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("%w: writing %s: %v", ErrFetchFailed, dest, err)
	}
	return n, nil
}

// StripPreamble rewrites path without everything up to and including the
// first newline. The rewrite goes through a sibling temp file and a rename so
// a failure never leaves a half-stripped file behind.
func StripPreamble(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: opening %s: %v", ErrFetchFailed, path, err)
	}
	defer src.Close()

	r := bufio.NewReader(src)
	if _, err := r.ReadString('\n'); err != nil {
		if err == io.EOF {
			return fmt.Errorf("%w: no lines found in %s", ErrMalformedFile, path)
		}
		return fmt.Errorf("%w: reading %s: %v", ErrFetchFailed, path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("%w: creating temp file: %v", ErrFetchFailed, err)
	}
	defer os.Remove(tmp.Name())

	_, err = io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("%w: rewriting %s: %v", ErrFetchFailed, path, err)
	}

	src.Close()
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("%w: replacing %s: %v", ErrFetchFailed, path, err)
	}
	return nil
}
