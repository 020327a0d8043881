// Package politeness implements the per-domain rate limiter and the cached
// crawl-permission check applied before any fetch.
package politeness

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/intel-collector/internal/collector"
	"github.com/JakeFAU/intel-collector/internal/metrics"
)

// DefaultPermissionTTL is how long a domain's crawl permission is cached.
const DefaultPermissionTTL = time.Hour

// Permissions answers whether a path on a domain may be crawled.
type Permissions interface {
	Allows(path string) bool
}

// PermissionChecker loads the crawl permissions of the host in target.
type PermissionChecker interface {
	Permissions(ctx context.Context, target *url.URL) (Permissions, error)
}

// Config controls the Gate.
type Config struct {
	PermissionTTL time.Duration
}

// RateBucket is the per-domain spacing state.
type RateBucket struct {
	Domain        string
	LastRequestAt time.Time
	MinInterval   time.Duration
}

// bucket spaces requests to one domain with a single-token limiter, so two
// slots are always at least MinInterval apart. The limiter is created on the
// first request with a positive interval.
type bucket struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	state   RateBucket
}

type permissionEntry struct {
	mu      sync.Mutex
	perms   Permissions
	expires time.Time
}

// Gate serializes requests per domain and enforces crawl permissions.
// Requests to different domains never block each other.
type Gate struct {
	checker PermissionChecker
	clock   collector.Clock
	ttl     time.Duration
	logger  *zap.Logger
	// chargeChecks is set when permission refreshes hit the target host.
	chargeChecks bool

	bucketsMu sync.Mutex
	buckets   map[string]*bucket

	permsMu sync.Mutex
	perms   map[string]*permissionEntry
}

// NewGate constructs a Gate. A nil checker allows every path.
func NewGate(cfg Config, checker PermissionChecker, clock collector.Clock, logger *zap.Logger) *Gate {
	if checker == nil {
		checker = AllowAll{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := cfg.PermissionTTL
	if ttl <= 0 {
		ttl = DefaultPermissionTTL
	}
	_, passive := checker.(AllowAll)
	return &Gate{
		checker:      checker,
		clock:        clock,
		ttl:          ttl,
		logger:       logger,
		chargeChecks: !passive,
		buckets:      make(map[string]*bucket),
		perms:        make(map[string]*permissionEntry),
	}
}

// Acquire blocks until a request to rawURL's domain may start, then records
// the request time. It returns ErrPolicyViolation when crawling is disallowed.
// A permission refresh that fetches from the domain takes a slot of its own.
func (g *Gate) Acquire(ctx context.Context, rawURL string, minInterval time.Duration) error {
	target, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: parse url: %v", collector.ErrValidation, err)
	}
	domain := strings.ToLower(target.Hostname())
	if domain == "" {
		return fmt.Errorf("%w: url %q has no host", collector.ErrValidation, rawURL)
	}

	b := g.bucket(domain)
	b.mu.Lock()
	defer b.mu.Unlock()
	if minInterval > 0 && minInterval != b.state.MinInterval {
		if b.limiter == nil {
			b.limiter = rate.NewLimiter(rate.Every(minInterval), 1)
		} else {
			b.limiter.SetLimitAt(g.clock.Now(), rate.Every(minInterval))
		}
	}
	b.state.MinInterval = minInterval

	perms, err := g.permissions(ctx, domain, target, b)
	if err != nil {
		return err
	}
	if !perms.Allows(requestPath(target)) {
		metrics.ObservePolicyViolation(domain)
		return fmt.Errorf("%w: %s", collector.ErrPolicyViolation, rawURL)
	}
	return g.wait(ctx, b)
}

// Bucket returns a snapshot of a domain's rate bucket.
func (g *Gate) Bucket(domain string) (RateBucket, bool) {
	g.bucketsMu.Lock()
	b, ok := g.buckets[strings.ToLower(domain)]
	g.bucketsMu.Unlock()
	if !ok {
		return RateBucket{}, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state, true
}

// Forget evicts the cached permissions of a domain.
func (g *Gate) Forget(domain string) {
	g.permsMu.Lock()
	delete(g.perms, strings.ToLower(domain))
	g.permsMu.Unlock()
}

func (g *Gate) bucket(domain string) *bucket {
	g.bucketsMu.Lock()
	defer g.bucketsMu.Unlock()
	b, ok := g.buckets[domain]
	if !ok {
		b = &bucket{state: RateBucket{Domain: domain}}
		g.buckets[domain] = b
	}
	return b
}

// wait reserves the next slot of b and sleeps until it starts. The caller
// holds b.mu. A bucket without a minimum interval never waits.
func (g *Gate) wait(ctx context.Context, b *bucket) error {
	start := g.clock.Now()
	if b.limiter == nil || b.state.MinInterval <= 0 {
		b.state.LastRequestAt = start
		return nil
	}
	reservation := b.limiter.ReserveN(start, 1)
	if !reservation.OK() {
		return fmt.Errorf("rate limit wait: no slot for %s", b.state.Domain)
	}
	if delay := reservation.DelayFrom(start); delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			reservation.CancelAt(g.clock.Now())
			return fmt.Errorf("rate limit wait: %w", ctx.Err())
		case <-timer.C:
		}
	}
	now := g.clock.Now()
	b.state.LastRequestAt = now
	if delay := now.Sub(start); delay > time.Millisecond {
		metrics.ObserveRateLimitDelay(b.state.Domain, delay)
	}
	return nil
}

// permissions returns the cached permissions of a domain, refreshing them
// when missing or expired. Load failures allow access and are not cached.
func (g *Gate) permissions(ctx context.Context, domain string, target *url.URL, b *bucket) (Permissions, error) {
	g.permsMu.Lock()
	entry, ok := g.perms[domain]
	if !ok {
		entry = &permissionEntry{}
		g.perms[domain] = entry
	}
	g.permsMu.Unlock()

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.perms != nil && g.clock.Now().Before(entry.expires) {
		return entry.perms, nil
	}
	if g.chargeChecks {
		if err := g.wait(ctx, b); err != nil {
			return nil, err
		}
	}
	perms, err := g.checker.Permissions(ctx, target)
	if err != nil {
		g.logger.Warn("permission check failed; allowing access",
			zap.String("domain", domain),
			zap.Error(err),
		)
		return AllowAll{}, nil
	}
	entry.perms = perms
	entry.expires = g.clock.Now().Add(g.ttl)
	return perms, nil
}

func requestPath(u *url.URL) string {
	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	if u.RawQuery != "" {
		p += "?" + u.RawQuery
	}
	return p
}

// AllowAll permits every path.
type AllowAll struct{}

// Allows implements Permissions.
func (AllowAll) Allows(string) bool { return true }

// Permissions implements PermissionChecker.
func (AllowAll) Permissions(context.Context, *url.URL) (Permissions, error) { return AllowAll{}, nil }
