// Package collyfetcher implements Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/intel-collector/internal/collector"
)

// DefaultTimeout bounds a request when the config sets no timeout.
const DefaultTimeout = 15 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	Headers   http.Header
}

// Fetcher implements collector.Fetcher using the Colly collector. Crawl
// permissions are enforced upstream by the politeness gate, so the collector
// itself ignores robots.txt.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.IgnoreRobotsTxt = true
	c.ParseHTTPErrorResponse = true
	c.WithTransport(newHTTPTransport())
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	// The HTTP backend is shared by every clone, so the timeout is set once.
	c.SetRequestTimeout(cfg.Timeout)
	return &Fetcher{cfg: cfg, baseCollector: c}
}

// Fetch executes a single HTTP GET using Colly. Non-2xx/3xx responses are
// returned as *collector.FetchError classified by status code.
func (f *Fetcher) Fetch(ctx context.Context, target collector.CrawlTarget) (collector.CrawlResult, error) {
	var (
		result   collector.CrawlResult
		fetchErr error
	)
	start := time.Now()
	c := f.buildCollector(start, &result, &fetchErr)

	if err := f.runCollector(ctx, c, target.URL, &fetchErr); err != nil {
		return collector.CrawlResult{}, err
	}
	if kind := collector.ClassifyStatus(result.StatusCode); kind != collector.KindNone {
		return collector.CrawlResult{}, collector.NewStatusError(target.URL, result.StatusCode)
	}
	return result, nil
}

func (f *Fetcher) buildCollector(
	start time.Time,
	result *collector.CrawlResult,
	fetchErr *error,
) *colly.Collector {
	c := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		c.UserAgent = f.cfg.UserAgent
	}
	f.configureCollectorHooks(c, start, result, fetchErr)
	return c
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	start time.Time,
	result *collector.CrawlResult,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		f.copyHeaders(r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = collector.CrawlResult{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			result.StatusCode = r.StatusCode
		}
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, c *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- c.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err == nil {
			err = *fetchErr
		}
		if err == nil {
			return nil
		}
		return classifyTransportError(url, err)
	}
}

// classifyTransportError maps errors that occurred before a usable response
// was read. Requests colly refuses outright are permanent; timeouts and
// network failures are transient.
func classifyTransportError(url string, err error) error {
	kind := collector.KindTransient
	if errors.Is(err, colly.ErrForbiddenDomain) || errors.Is(err, colly.ErrMissingURL) {
		kind = collector.KindPermanent
	}
	return &collector.FetchError{Kind: kind, URL: url, Err: fmt.Errorf("colly visit failed: %w", err)}
}

func (f *Fetcher) copyHeaders(r *colly.Request) {
	if f.cfg.Headers == nil {
		return
	}
	for key, values := range f.cfg.Headers {
		for _, v := range values {
			r.Headers.Add(key, v)
		}
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
