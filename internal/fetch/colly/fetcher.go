// Package collyfetcher implements Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/fordonad/inventory-ingest/internal/ingest"
)

const defaultTimeout = 15 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Fetcher implements ingest.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
}

// New builds a Fetcher with a pooled transport shared by all fetches.
func New(cfg Config) *Fetcher {
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
	)
	transport := newHTTPTransport()
	c.WithTransport(transport)

	return &Fetcher{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
	}
}

// Fetch executes a single HTTP GET. Non-2xx responses are returned as pages
// with their status code; only transport-level failures produce an error.
func (f *Fetcher) Fetch(ctx context.Context, url string, timeout time.Duration) (ingest.Page, error) {
	if timeout <= 0 {
		timeout = f.cfg.Timeout
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	start := time.Now()
	trace := &ingest.FetchTrace{RequestedURL: url}

	var (
		page     ingest.Page
		got      bool
		fetchErr error
	)

	collector := f.baseCollector.Clone()
	collector.WithTransport(f.transport)
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.SetRequestTimeout(timeout)

	collector.OnResponse(func(r *colly.Response) {
		page = pageFromResponse(r)
		got = true
	})
	collector.OnError(func(r *colly.Response, err error) {
		// Colly reports non-2xx statuses here; surface them as pages so
		// the caller owns status handling.
		if r != nil && r.StatusCode > 0 {
			page = pageFromResponse(r)
			got = true
			return
		}
		fetchErr = err
	})

	visitErr := f.runCollector(ctx, collector, url)
	trace.DurationMs = time.Since(start).Milliseconds()

	// Visit reports non-2xx statuses as errors; when a response was
	// captured the page takes precedence over the visit error.
	if got {
		trace.FinalURL = page.FinalURL
		trace.StatusCode = page.StatusCode
		page.Trace = trace
		return page, nil
	}
	if visitErr != nil {
		trace.Error = visitErr.Error()
		return ingest.Page{Trace: trace}, visitErr
	}
	if fetchErr != nil {
		trace.Error = fetchErr.Error()
		return ingest.Page{Trace: trace}, fmt.Errorf("fetch %s: %w", url, fetchErr)
	}
	trace.Error = "no response received"
	return ingest.Page{Trace: trace}, fmt.Errorf("fetch %s: no response received", url)
}

func pageFromResponse(r *colly.Response) ingest.Page {
	return ingest.Page{
		StatusCode: r.StatusCode,
		Body:       string(r.Body),
		FinalURL:   r.Request.URL.String(),
	}
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("visit %s: %w", url, err)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
