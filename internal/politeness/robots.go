package politeness

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
)

const maxRobotsBytes = 1 << 20

// RobotsChecker loads crawl permissions from a host's robots.txt.
type RobotsChecker struct {
	client    *http.Client
	userAgent string
	logger    *zap.Logger
}

// NewRobotsChecker builds a RobotsChecker. A nil client gets a 10s timeout.
func NewRobotsChecker(client *http.Client, userAgent string, logger *zap.Logger) *RobotsChecker {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RobotsChecker{client: client, userAgent: userAgent, logger: logger}
}

// Permissions fetches and parses robots.txt for target's host. Server errors
// are returned as errors so they are not cached as a blanket disallow.
func (r *RobotsChecker) Permissions(ctx context.Context, target *url.URL) (Permissions, error) {
	robotsURL := url.URL{Scheme: target.Scheme, Host: target.Host, Path: "/robots.txt"}
	if robotsURL.Scheme == "" {
		robotsURL.Scheme = "https"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("new robots request: %w", err)
	}
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			r.logger.Debug("failed to close robots response body", zap.Error(cerr))
		}
	}()
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("fetch robots: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil {
		return nil, fmt.Errorf("read robots body: %w", err)
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots: %w", err)
	}
	return robotsPermissions{group: data.FindGroup(r.userAgent)}, nil
}

type robotsPermissions struct {
	group *robotstxt.Group
}

func (p robotsPermissions) Allows(path string) bool {
	if p.group == nil {
		return true
	}
	return p.group.Test(path)
}
