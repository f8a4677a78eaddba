package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/Laza223/axxen-scraper-sub001/antidetect"
	"github.com/Laza223/axxen-scraper-sub001/browser"
	"github.com/Laza223/axxen-scraper-sub001/cache"
	"github.com/Laza223/axxen-scraper-sub001/config"
	"github.com/Laza223/axxen-scraper-sub001/geo"
	"github.com/Laza223/axxen-scraper-sub001/metrics"
	"github.com/Laza223/axxen-scraper-sub001/models"
	"github.com/Laza223/axxen-scraper-sub001/resilience"
	"github.com/Laza223/axxen-scraper-sub001/scraper"
)

// Typed crawl failures. Callers match them with errors.Is / errors.As.
var (
	ErrCircuitOpen   = resilience.ErrCircuitOpen
	ErrPoolExhausted = browser.ErrPoolExhausted
	ErrInvalidQuery  = errors.New("keyword and location are required")
)

// NavigationError reports a crawl that produced nothing because the target
// could not be reached.
type NavigationError struct {
	URL string
	Err error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigation to %s failed: %v", e.URL, e.Err)
}

func (e *NavigationError) Unwrap() error { return e.Err }

// PageReader is everything the crawler needs from a browser tab. Selector
// knowledge stays behind it.
type PageReader interface {
	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	CurrentURL(ctx context.Context) (string, error)
	DismissConsent(ctx context.Context) (bool, error)
	DetectChallenge(ctx context.Context) (scraper.Challenge, error)
	Rescope(ctx context.Context, query string, cell models.GridCell) error
	CollectLinks(ctx context.Context) ([]scraper.Candidate, error)
	ScrollFeed(ctx context.Context) (exhausted bool, err error)
	ExtractDetail(ctx context.Context) (scraper.Detail, error)
}

// ReaderFactory wraps a leased page in a PageReader.
type ReaderFactory func(browser.Page) PageReader

// PagePool leases browser pages.
type PagePool interface {
	Acquire(ctx context.Context) (*browser.Lease, error)
	Release(instanceID string, page browser.Page)
}

// Deps are the process-wide collaborators shared by every crawl.
type Deps struct {
	Pool        PagePool
	NewReader   ReaderFactory
	Breaker     *resilience.CircuitBreaker
	Planner     *geo.Planner
	Cache       cache.Cache
	Metrics     metrics.Sink
	Profile     antidetect.Provider
	Limiter     *rate.Limiter
	Relevance   *RelevanceScorer
	Scorer      QualityScorer
	Categorizer Categorizer
	Logger      *logrus.Logger
}

// Crawler runs map crawls for (keyword, location) requests.
type Crawler struct {
	cfg   config.Config
	deps  Deps
	retry resilience.RetryOptions
	group singleflight.Group

	mu      sync.Mutex
	flights map[string]*flight

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewCrawler wires a crawler. Pool, NewReader, Breaker and Planner are
// required; the rest fall back to in-process defaults.
func NewCrawler(cfg config.Config, deps Deps) *Crawler {
	if deps.Cache == nil {
		deps.Cache = cache.NewMemory(0)
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Nop{}
	}
	if deps.Profile == nil {
		deps.Profile = antidetect.NewRotating(antidetect.RotatingOptions{Proxies: cfg.Proxies})
	}
	if deps.Limiter == nil {
		deps.Limiter = newLimiter(cfg.RequestsPerSecond)
	}
	if deps.Relevance == nil {
		deps.Relevance = NewRelevanceScorer(MustRelevanceTables())
	}
	if deps.Scorer == nil {
		deps.Scorer = CompletenessScorer{}
	}
	if deps.Categorizer == nil {
		deps.Categorizer = NopCategorizer{}
	}
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = scraper.DefaultBaseURL
	}
	return &Crawler{
		cfg:  cfg,
		deps: deps,
		retry: resilience.RetryOptions{
			MaxRetries:   cfg.MaxRetries,
			InitialDelay: cfg.RetryInitial,
			MaxDelay:     cfg.RetryMax,
			Multiplier:   cfg.RetryMultiplier,
			Logger:       deps.Logger,
			Name:         "navigate",
		},
		sleep: sleepCtx,
		now:   time.Now,
	}
}

func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(rps), 1)
}

// ScrapePlaces returns leads for opts. Cached results are served unless
// ForceRefresh is set. A crawl that collected anything returns it even when
// it was cut short; only a crawl with nothing to show returns an error.
func (c *Crawler) ScrapePlaces(ctx context.Context, opts models.ScrapeOptions) ([]models.ScrapedListing, error) {
	opts.Keyword = strings.TrimSpace(opts.Keyword)
	opts.Location = strings.TrimSpace(opts.Location)
	if opts.Keyword == "" || opts.Location == "" {
		return nil, ErrInvalidQuery
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = c.cfg.MaxResults
	}
	log := c.deps.Logger.WithFields(logrus.Fields{"keyword": opts.Keyword, "location": opts.Location})

	key := cache.ScrapeKey(opts.Keyword, opts.Location)
	if !opts.ForceRefresh {
		var cached []models.ScrapedListing
		ok, err := c.deps.Cache.Get(ctx, key, &cached)
		if err != nil {
			log.WithError(err).Warn("cache lookup failed")
		}
		if ok {
			c.deps.Metrics.RecordCacheHit()
			log.WithField("cached", len(cached)).Info("serving cached results")
			return postProcess(cached, opts, c.deps.Scorer, c.deps.Categorizer), nil
		}
		c.deps.Metrics.RecordCacheMiss()
	}

	if c.deps.Breaker.IsOpen() {
		return nil, fmt.Errorf("%w: refusing to crawl %q", ErrCircuitOpen, key)
	}

	rawTarget := int(math.Ceil(float64(opts.MaxResults) * math.Max(c.cfg.Overfetch, 1)))
	flightKey := fmt.Sprintf("%s|%d", key, rawTarget)
	crawlCtx, leave := c.join(ctx, flightKey)
	defer leave()

	ch := c.group.DoChan(flightKey, func() (any, error) {
		return c.crawl(crawlCtx, opts, rawTarget)
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if res.Shared {
		log.Debug("joined an in-flight crawl")
	}
	v, err := res.Val, res.Err
	raw, _ := v.([]models.ScrapedListing)

	if len(raw) == 0 && err != nil {
		return nil, err
	}
	if err != nil {
		log.WithError(err).Warn("⚠ crawl cut short; returning partial results")
	}
	return postProcess(raw, opts, c.deps.Scorer, c.deps.Categorizer), nil
}

// flight is the lifetime of one shared crawl. It ends when GlobalTimeout
// passes or every caller waiting on it has gone.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// join registers the caller on the crawl for key and returns the context
// that crawl runs under. The caller must call leave once it stops waiting.
func (c *Crawler) join(ctx context.Context, key string) (context.Context, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.flights == nil {
		c.flights = make(map[string]*flight)
	}
	f := c.flights[key]
	if f == nil {
		f = &flight{}
		f.ctx, f.cancel = context.WithCancel(context.WithoutCancel(ctx))
		if c.cfg.GlobalTimeout > 0 {
			var cancelTimeout context.CancelFunc
			f.ctx, cancelTimeout = context.WithTimeout(f.ctx, c.cfg.GlobalTimeout)
			cancel := f.cancel
			f.cancel = func() {
				cancelTimeout()
				cancel()
			}
		}
		c.flights[key] = f
	}
	f.waiters++

	var once sync.Once
	return f.ctx, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			f.waiters--
			if f.waiters == 0 {
				f.cancel()
				if c.flights[key] == f {
					delete(c.flights, key)
				}
			}
		})
	}
}

// crawl locates the map center, then sweeps the planned targets and caches the raw
// listings it collected.
func (c *Crawler) crawl(ctx context.Context, opts models.ScrapeOptions, rawTarget int) ([]models.ScrapedListing, error) {
	started := c.now()
	run := &crawlRun{
		c:         c,
		opts:      opts,
		rawTarget: rawTarget,
		seen:      make(map[string]bool),
		log:       c.deps.Logger.WithFields(logrus.Fields{"keyword": opts.Keyword, "location": opts.Location, "run_id": uuid.NewString()}),
	}

	lease, err := c.deps.Pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire crawl page: %w", err)
	}
	defer c.deps.Pool.Release(lease.InstanceID, lease.Page)
	reader := c.deps.NewReader(lease.Page)

	center, err := run.locate(ctx, reader)
	if err == nil {
		plan := c.deps.Planner.BuildPlan(opts.Location, center)
		targets := c.targetsFor(plan, opts)
		run.log.WithFields(logrus.Fields{
			"tier":    plan.Extent.Tier,
			"mode":    plan.Mode.String(),
			"targets": len(targets),
		}).Info("▶ crawl planned")
		err = run.sweep(ctx, reader, targets)
	}

	if len(run.results) > 0 {
		if cerr := c.deps.Cache.Set(context.WithoutCancel(ctx), cache.ScrapeKey(opts.Keyword, opts.Location), run.results, c.cfg.CacheTTL); cerr != nil {
			run.log.WithError(cerr).Warn("cache store failed")
		}
	}

	run.log.WithFields(logrus.Fields{
		"listings": len(run.results),
		"elapsed":  c.now().Sub(started).Round(time.Millisecond).String(),
	}).Info("✓ crawl finished")

	if err != nil {
		return run.results, err
	}
	if len(run.results) == 0 && run.navErr != nil {
		return nil, run.navErr
	}
	return run.results, nil
}

// sweepTarget is one search the crawl visits.
type sweepTarget struct {
	label string
	query string
	cell  *models.GridCell
}

var cardinalDirections = []string{"norte", "sur", "este", "oeste"}

// targetsFor turns a plan into concrete searches.
func (c *Crawler) targetsFor(plan geo.Plan, opts models.ScrapeOptions) []sweepTarget {
	base := c.baseQuery(opts.Keyword, opts.Location)
	var targets []sweepTarget
	switch plan.Mode {
	case geo.ModeSettlements:
		for _, t := range plan.Targets {
			targets = append(targets, sweepTarget{label: t.Label, query: c.baseQuery(opts.Keyword, t.Query)})
		}
	case geo.ModeGrid:
		for _, t := range plan.Targets {
			targets = append(targets, sweepTarget{label: t.Label, query: opts.Keyword, cell: t.Cell})
		}
	default:
		targets = append(targets, sweepTarget{label: "base", query: base})
		for _, d := range cardinalDirections {
			targets = append(targets, sweepTarget{label: d, query: base + " " + d})
		}
		qualifiers := c.cfg.ExtraQualifiers
		if len(qualifiers) > 3 {
			qualifiers = qualifiers[:3]
		}
		for _, q := range qualifiers {
			targets = append(targets, sweepTarget{label: q, query: base + " " + q})
		}
	}
	return targets
}

func (c *Crawler) baseQuery(keyword, place string) string {
	if c.cfg.QueryConnector == "" {
		return keyword + " " + place
	}
	return keyword + " " + c.cfg.QueryConnector + " " + place
}

// navigate loads url through the rate limiter, the breaker and the retry
// policy, then handles any bot challenge the page shows.
func (c *Crawler) navigate(ctx context.Context, reader PageReader, url string) error {
	if err := c.deps.Limiter.Wait(ctx); err != nil {
		return err
	}
	start := c.now()
	err := c.deps.Breaker.Execute(func() error {
		return resilience.WithRetry(ctx, c.retry, func(ctx context.Context) error {
			navCtx := ctx
			if c.cfg.NavigationTimeout > 0 {
				var cancel context.CancelFunc
				navCtx, cancel = context.WithTimeout(ctx, c.cfg.NavigationTimeout)
				defer cancel()
			}
			return reader.Navigate(navCtx, url)
		})
	})
	event := metrics.RequestEvent{URL: url, Success: err == nil, Duration: c.now().Sub(start)}
	if err != nil {
		c.deps.Metrics.RecordRequest(event)
		return err
	}

	challenge, cerr := reader.DetectChallenge(ctx)
	if cerr == nil && challenge.Detected {
		event.Blocked, event.Captcha = true, challenge.Captcha
	}
	c.deps.Metrics.RecordRequest(event)
	if event.Blocked {
		return c.coolDown(ctx, reader, url, challenge)
	}
	return nil
}

// coolDown waits out a bot challenge and reloads the page. A challenge is
// not a failure; the caller carries on with whatever the reload shows.
func (c *Crawler) coolDown(ctx context.Context, reader PageReader, url string, ch scraper.Challenge) error {
	wait := c.cfg.ChallengeCooldown + c.deps.Profile.HumanDelay(0, c.cfg.ChallengeCooldown/2)
	c.deps.Logger.WithFields(logrus.Fields{
		"url":     url,
		"captcha": ch.Captcha,
		"wait":    wait.String(),
	}).Warn("⚠ bot challenge detected; cooling down")
	if err := c.sleep(ctx, wait); err != nil {
		return err
	}
	if err := reader.Reload(ctx); err != nil {
		c.deps.Logger.WithError(err).Warn("reload after challenge failed")
	}
	return nil
}

// pause sleeps a human-looking interval, occasionally a long one.
func (c *Crawler) pause(ctx context.Context) error {
	if c.deps.Profile.ShouldTakeLongPause() {
		d := c.deps.Profile.LongPauseDelay()
		c.deps.Logger.WithField("pause", d.String()).Debug("taking a long pause")
		return c.sleep(ctx, d)
	}
	return c.sleep(ctx, c.deps.Profile.HumanDelay(c.cfg.DelayMin, c.cfg.DelayMax))
}

// isAbort reports errors that end the whole crawl rather than one step. A
// navigation timeout is a step failure; the crawl's own context ending is
// not.
func isAbort(ctx context.Context, err error) bool {
	return ctx.Err() != nil ||
		errors.Is(err, ErrCircuitOpen) ||
		errors.Is(err, ErrPoolExhausted) ||
		errors.Is(err, browser.ErrPoolClosed)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
