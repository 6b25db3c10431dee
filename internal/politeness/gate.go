// Package politeness enforces robots.txt directives and per-domain pacing.
package politeness

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const robotsBodyLimit = 1 << 20

// Config controls Gate behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	// MinDelay is the minimum interval between requests to one domain.
	MinDelay time.Duration
	// RobotsTimeout bounds the robots.txt fetch itself.
	RobotsTimeout time.Duration
}

// Gate implements crawl.PolitenessGate. Robots decisions are cached per
// domain; pacing is enforced with one rate limiter per domain so callers
// for different domains never block each other.
type Gate struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger

	robots sync.Map // domain -> *robotstxt.RobotsData

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New builds a Gate.
func New(cfg Config, logger *zap.Logger) *Gate {
	if cfg.RobotsTimeout <= 0 {
		cfg.RobotsTimeout = 10 * time.Second
	}
	return &Gate{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.RobotsTimeout,
		},
		logger:   logger,
		limiters: make(map[string]*rate.Limiter),
	}
}

// CanFetch reports whether robots.txt permits the URL for the configured
// user agent. Robots fetch errors, timeouts and malformed files resolve to
// allowed (fail-open) so a flaky robots host cannot starve the frontier.
func (g *Gate) CanFetch(ctx context.Context, rawURL string) bool {
	if !g.cfg.RespectRobots {
		return true
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return false
	}
	data, err := g.load(ctx, parsed)
	if err != nil {
		g.logger.Warn("robots fetch failed; allowing access",
			zap.String("host", parsed.Host), zap.Error(err))
		return true
	}
	group := data.FindGroup(g.cfg.UserAgent)
	if group == nil {
		return true
	}
	path := parsed.EscapedPath()
	if path == "" {
		path = "/"
	}
	return group.Test(path)
}

func (g *Gate) load(ctx context.Context, parsed *url.URL) (*robotstxt.RobotsData, error) {
	key := strings.ToLower(parsed.Scheme + "://" + parsed.Host)
	if cached, ok := g.robots.Load(key); ok {
		data, assertOK := cached.(*robotstxt.RobotsData)
		if !assertOK {
			return nil, fmt.Errorf("robots cache type mismatch: %T", cached)
		}
		return data, nil
	}

	robotsURL := url.URL{
		Scheme: parsed.Scheme,
		Host:   parsed.Host,
		Path:   "/robots.txt",
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("new robots request: %w", err)
	}
	req.Header.Set("User-Agent", g.cfg.UserAgent)
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			g.logger.Debug("close robots body failed", zap.Error(cerr))
		}
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, robotsBodyLimit))
	if err != nil {
		return nil, fmt.Errorf("read robots body: %w", err)
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots: %w", err)
	}
	g.robots.Store(key, data)
	return data, nil
}

// AwaitTurn blocks until the domain's minimum inter-request interval has
// elapsed, then claims the slot. Callers for the same domain are serialized;
// callers for different domains proceed independently.
func (g *Gate) AwaitTurn(ctx context.Context, domain string) error {
	if g.cfg.MinDelay <= 0 {
		return nil
	}
	if err := g.limiterFor(domain).Wait(ctx); err != nil {
		return fmt.Errorf("await turn for %s: %w", domain, err)
	}
	return nil
}

func (g *Gate) limiterFor(domain string) *rate.Limiter {
	key := strings.ToLower(domain)
	g.mu.Lock()
	defer g.mu.Unlock()
	limiter, ok := g.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(g.cfg.MinDelay), 1)
		g.limiters[key] = limiter
	}
	return limiter
}
