package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/Laza223/axxen-scraper-sub001/antidetect"
	"github.com/Laza223/axxen-scraper-sub001/browser"
	"github.com/Laza223/axxen-scraper-sub001/cache"
	"github.com/Laza223/axxen-scraper-sub001/config"
	"github.com/Laza223/axxen-scraper-sub001/geo"
	"github.com/Laza223/axxen-scraper-sub001/logging"
	"github.com/Laza223/axxen-scraper-sub001/metrics"
	"github.com/Laza223/axxen-scraper-sub001/models"
	"github.com/Laza223/axxen-scraper-sub001/resilience"
	"github.com/Laza223/axxen-scraper-sub001/scraper"
)

const testCenter = "@-34.5880000,-58.4300000,15z"

// fakeSite plays the map target for every reader handed out in a test.
type fakeSite struct {
	mu          sync.Mutex
	navigations []string
	reloads     int
	rescopes    int
	scrolls     int

	navErr    func(url string) error
	feed      func(url string) []scraper.Candidate
	detail    func(url string) (scraper.Detail, error)
	challenge func(url string) scraper.Challenge
	noCenter  bool
	// endless keeps the feed from ever reporting its end.
	endless bool
}

func (s *fakeSite) navigated() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.navigations...)
}

func (s *fakeSite) reader(browser.Page) PageReader { return &fakeReader{site: s} }

type fakeReader struct {
	site    *fakeSite
	current string
	checked bool
}

func (r *fakeReader) Navigate(_ context.Context, url string) error {
	r.site.mu.Lock()
	r.site.navigations = append(r.site.navigations, url)
	r.site.mu.Unlock()
	if r.site.navErr != nil {
		if err := r.site.navErr(url); err != nil {
			return err
		}
	}
	r.current = url
	r.checked = false
	return nil
}

func (r *fakeReader) Reload(context.Context) error {
	r.site.mu.Lock()
	r.site.reloads++
	r.site.mu.Unlock()
	return nil
}

func (r *fakeReader) CurrentURL(context.Context) (string, error) {
	if !r.site.noCenter && strings.Contains(r.current, "/maps/search/") && !strings.Contains(r.current, "/@") {
		return r.current + "/" + testCenter, nil
	}
	return r.current, nil
}

func (r *fakeReader) DismissConsent(context.Context) (bool, error) { return false, nil }

func (r *fakeReader) DetectChallenge(context.Context) (scraper.Challenge, error) {
	if r.site.challenge == nil || r.checked {
		return scraper.Challenge{}, nil
	}
	r.checked = true
	return r.site.challenge(r.current), nil
}

func (r *fakeReader) Rescope(context.Context, string, models.GridCell) error {
	r.site.mu.Lock()
	r.site.rescopes++
	r.site.mu.Unlock()
	return nil
}

func (r *fakeReader) CollectLinks(context.Context) ([]scraper.Candidate, error) {
	if r.site.feed == nil {
		return nil, nil
	}
	return r.site.feed(r.current), nil
}

func (r *fakeReader) ScrollFeed(context.Context) (bool, error) {
	r.site.mu.Lock()
	r.site.scrolls++
	r.site.mu.Unlock()
	return !r.site.endless, nil
}

func (r *fakeReader) ExtractDetail(context.Context) (scraper.Detail, error) {
	if r.site.detail == nil {
		return scraper.Detail{Name: "Sin nombre", URL: r.current}, nil
	}
	return r.site.detail(r.current)
}

type idlePage struct{}

func (idlePage) Run(context.Context, ...chromedp.Action) error { return nil }
func (idlePage) Close() error                                  { return nil }

// fakePool hands out unlimited pages unless exhausted.
type fakePool struct {
	mu       sync.Mutex
	leased   int
	released int
	exhaust  bool
}

func (p *fakePool) Acquire(context.Context) (*browser.Lease, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exhaust {
		return nil, fmt.Errorf("%w: no instance freed up", browser.ErrPoolExhausted)
	}
	p.leased++
	return &browser.Lease{InstanceID: fmt.Sprintf("i-%d", p.leased), Page: idlePage{}}, nil
}

func (p *fakePool) Release(string, browser.Page) {
	p.mu.Lock()
	p.released++
	p.mu.Unlock()
}

// quietProfile never waits.
type quietProfile struct{}

func (quietProfile) RandomUserAgent() string { return "test-agent" }

func (quietProfile) RandomResolution() antidetect.Resolution { return antidetect.Resolution{} }

func (quietProfile) RandomProxy() string { return "" }

func (quietProfile) RandomHeaders() map[string]string { return nil }

func (quietProfile) HumanDelay(min, _ time.Duration) time.Duration { return min }

func (quietProfile) ShouldTakeLongPause() bool { return false }

func (quietProfile) LongPauseDelay() time.Duration { return 0 }

// recordingMetrics counts events.
type recordingMetrics struct {
	mu       sync.Mutex
	requests []metrics.RequestEvent
	places   int
	hits     int
	misses   int
}

func (m *recordingMetrics) RecordRequest(e metrics.RequestEvent) {
	m.mu.Lock()
	m.requests = append(m.requests, e)
	m.mu.Unlock()
}

func (m *recordingMetrics) RecordPlaceFound(metrics.PlaceEvent) {
	m.mu.Lock()
	m.places++
	m.mu.Unlock()
}

func (m *recordingMetrics) RecordCacheHit() {
	m.mu.Lock()
	m.hits++
	m.mu.Unlock()
}

func (m *recordingMetrics) RecordCacheMiss() {
	m.mu.Lock()
	m.misses++
	m.mu.Unlock()
}

func testConfig() config.Config {
	return config.Config{
		BaseURL:             "https://www.google.com/maps/search/",
		MaxResults:          20,
		DetailConcurrency:   3,
		StallLimit:          2,
		MaxScrollAttempts:   5,
		CellSlack:           5,
		Overfetch:           1.5,
		CacheTTL:            time.Hour,
		GeocodeTTL:          time.Hour,
		ChallengeCooldown:   time.Second,
		MaxRetries:          0,
		RetryInitial:        time.Millisecond,
		RetryMax:            time.Millisecond,
		RetryMultiplier:     1,
		BreakerThreshold:    3,
		BreakerResetTimeout: time.Minute,
		QueryConnector:      "en",
		ExtraQualifiers:     []string{"centro", "cerca", "mejores"},
	}
}

type harness struct {
	crawler *Crawler
	site    *fakeSite
	pool    *fakePool
	cache   *cache.Memory
	breaker *resilience.CircuitBreaker
	metrics *recordingMetrics
	slept   []time.Duration
}

func newHarness(t *testing.T, site *fakeSite, mutate ...func(*config.Config)) *harness {
	t.Helper()
	cfg := testConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	h := &harness{
		site:    site,
		pool:    &fakePool{},
		cache:   cache.NewMemory(0),
		metrics: &recordingMetrics{},
	}
	h.breaker = resilience.NewCircuitBreaker(resilience.BreakerConfig{
		Name:         "maps",
		Threshold:    cfg.BreakerThreshold,
		ResetTimeout: cfg.BreakerResetTimeout,
	})
	h.crawler = NewCrawler(cfg, Deps{
		Pool:      h.pool,
		NewReader: site.reader,
		Breaker:   h.breaker,
		Planner:   geo.NewPlanner(geo.MustDefaultTables()),
		Cache:     h.cache,
		Metrics:   h.metrics,
		Profile:   quietProfile{},
		Logger:    logging.Discard(),
	})
	var mu sync.Mutex
	h.crawler.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		h.slept = append(h.slept, d)
		mu.Unlock()
		return ctx.Err()
	}
	return h
}

// placeURL is a listing link carrying id as its stable identifier.
func placeURL(id string) string {
	return "https://www.google.com/maps/place/x/data=!4m2!3m1!1s" + id
}

// cellFeed returns one listing per grid cell, identified by the cell center.
func cellFeed(url string) []scraper.Candidate {
	i := strings.Index(url, "/@")
	if i < 0 {
		return nil
	}
	id := strings.NewReplacer(",", "_", ".", "").Replace(url[i+2:])
	return []scraper.Candidate{{URL: placeURL(id), PlaceID: id, Name: "Resto " + id}}
}

// echoDetail names the listing after its id.
func echoDetail(url string) (scraper.Detail, error) {
	id, _ := scraper.PlaceID(url)
	return scraper.Detail{Name: "Restaurante " + id, Category: "Restaurante", URL: url, Phone: "011 4444-0000"}, nil
}

func (p *fakePool) balanced() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.leased == p.released
}
