// Package stub provides a scripted Fetcher for tests and dry runs.
package stub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/intel-collector/internal/collector"
)

// Response is one scripted outcome. A zero Status means 200.
type Response struct {
	Status int
	Body   []byte
	Err    error
	Delay  time.Duration
}

// Fetcher replays scripted responses per URL. When a URL's script is
// exhausted the last response repeats; unscripted URLs get Default.
type Fetcher struct {
	mu      sync.Mutex
	scripts map[string][]Response
	calls   map[string]int
	Default Response
}

// New creates an empty stub whose default response is an empty 200.
func New() *Fetcher {
	return &Fetcher{
		scripts: make(map[string][]Response),
		calls:   make(map[string]int),
		Default: Response{Status: 200, Body: []byte("{}")},
	}
}

// Script sets the sequence of responses returned for rawURL.
func (f *Fetcher) Script(rawURL string, responses ...Response) *Fetcher {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[rawURL] = append([]Response(nil), responses...)
	return f
}

// Calls returns how many times rawURL was fetched.
func (f *Fetcher) Calls(rawURL string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[rawURL]
}

// Fetch implements collector.Fetcher.
func (f *Fetcher) Fetch(ctx context.Context, target collector.CrawlTarget) (collector.CrawlResult, error) {
	resp := f.next(target.URL)
	if resp.Delay > 0 {
		timer := time.NewTimer(resp.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return collector.CrawlResult{}, fmt.Errorf("stub fetch canceled: %w", ctx.Err())
		case <-timer.C:
		}
	}
	if resp.Err != nil {
		return collector.CrawlResult{}, resp.Err
	}
	status := resp.Status
	if status == 0 {
		status = 200
	}
	if collector.ClassifyStatus(status) != collector.KindNone {
		return collector.CrawlResult{}, collector.NewStatusError(target.URL, status)
	}
	return collector.CrawlResult{
		URL:        target.URL,
		StatusCode: status,
		Body:       append([]byte(nil), resp.Body...),
		Duration:   resp.Delay,
	}, nil
}

func (f *Fetcher) next(rawURL string) Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.calls[rawURL]
	f.calls[rawURL] = n + 1
	script, ok := f.scripts[rawURL]
	if !ok || len(script) == 0 {
		return f.Default
	}
	if n >= len(script) {
		return script[len(script)-1]
	}
	return script[n]
}
