package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/Laza223/axxen-scraper-sub001/antidetect"
	"github.com/Laza223/axxen-scraper-sub001/browser"
	"github.com/Laza223/axxen-scraper-sub001/cache"
	"github.com/Laza223/axxen-scraper-sub001/config"
	"github.com/Laza223/axxen-scraper-sub001/geo"
	"github.com/Laza223/axxen-scraper-sub001/metrics"
	"github.com/Laza223/axxen-scraper-sub001/models"
	"github.com/Laza223/axxen-scraper-sub001/resilience"
	"github.com/Laza223/axxen-scraper-sub001/scraper"
	"github.com/Laza223/axxen-scraper-sub001/services"
	"github.com/Laza223/axxen-scraper-sub001/storage"
	"github.com/Laza223/axxen-scraper-sub001/utils"
)

const rule = "═══════════════════════════════════════════════════"

func runScrape(ctx context.Context, cfg config.Config, opts models.ScrapeOptions, out io.Writer, logger *logrus.Logger) error {
	fmt.Fprintln(out, "╔═══════════════════════════════════════════════════╗")
	fmt.Fprintln(out, "║          Map Lead Crawler (Concurrent)            ║")
	fmt.Fprintln(out, "╚═══════════════════════════════════════════════════╝")
	fmt.Fprintf(out, "Keyword   : %s\n", cfg.Keyword)
	fmt.Fprintf(out, "Locations : %s\n", strings.Join(cfg.Locations, ", "))
	fmt.Fprintf(out, "Workers   : %d (locations processed concurrently)\n", cfg.Workers)
	fmt.Fprintf(out, "Browsers  : %d-%d, %d detail tabs per crawl\n", cfg.MinBrowsers, cfg.MaxBrowsers, cfg.DetailConcurrency)
	fmt.Fprintf(out, "Max leads : %d per location\n", cfg.MaxResults)
	fmt.Fprintf(out, "Output    : %s\n", cfg.OutFile)
	if cfg.Persist {
		fmt.Fprintf(out, "Postgres  : %s:%d/%s\n", cfg.DBHost, cfg.DBPort, cfg.DBName)
	}

	prom := metrics.NewPrometheus(prometheus.DefaultRegisterer, "leadcrawl")
	if cfg.MetricsAddr != "" {
		srv := serveMetrics(cfg.MetricsAddr, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	store, closeCache := openCache(ctx, cfg, logger)
	defer closeCache()

	profile := antidetect.NewRotating(antidetect.RotatingOptions{Proxies: cfg.Proxies})
	pool := browser.NewPool(browser.PoolConfig{
		MinBrowsers:         cfg.MinBrowsers,
		MaxBrowsers:         cfg.MaxBrowsers,
		MaxPagesPerBrowser:  cfg.MaxPagesPerBrowser,
		BrowserTTL:          cfg.BrowserTTL,
		IdleTimeout:         cfg.IdleTimeout,
		AcquireTimeout:      cfg.AcquireTimeout,
		AcquirePoll:         cfg.AcquirePoll,
		MaintenanceInterval: cfg.MaintenanceInterval,
	}, browser.NewChromeLauncher(cfg, logger), profile, logger)
	stopPool, err := startPool(ctx, pool, logger)
	if err != nil {
		return err
	}
	defer stopPool()

	stopPoolStats := publishPoolStats(pool, prom, 15*time.Second)
	defer stopPoolStats()

	breaker := resilience.NewCircuitBreaker(resilience.BreakerConfig{
		Name:         "maps",
		Threshold:    cfg.BreakerThreshold,
		ResetTimeout: cfg.BreakerResetTimeout,
		Logger:       logger,
		OnStateChange: func(name string, from, to resilience.State) {
			prom.RecordBreakerTransition(name, from.String(), to.String(), int(to))
		},
	})

	relevance := services.NewRelevanceScorer(services.MustRelevanceTables())
	crawler := services.NewCrawler(cfg, services.Deps{
		Pool: pool,
		NewReader: func(p browser.Page) services.PageReader {
			return scraper.NewMapsReader(p, scraper.WithBaseURL(cfg.BaseURL), scraper.WithLogger(logger))
		},
		Breaker:     breaker,
		Planner:     geo.NewPlanner(geo.MustDefaultTables()),
		Cache:       store,
		Metrics:     prom,
		Profile:     profile,
		Relevance:   relevance,
		Scorer:      services.CompletenessScorer{},
		Categorizer: services.NewFranchiseCategorizer(relevance),
		Logger:      logger,
	})

	// Each crawl is bounded by GlobalTimeout inside the crawler.
	results := services.RunAll(ctx, crawler, opts, cfg.Locations, cfg.Workers, logger)

	total, err := utils.WriteJSON(cfg.OutFile, results)
	if err != nil {
		return fmt.Errorf("write JSON: %w", err)
	}

	savedCount := -1
	if cfg.Persist {
		savedCount, err = persist(cfg, results)
		if err != nil {
			return err
		}
	}

	printSummary(out, cfg, results, total, savedCount)

	if allFailed(results) {
		return errors.New("every location failed")
	}
	return nil
}

type poolLifecycle interface {
	Initialize(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// startPool warms the pool up and returns its shutdown. A failed start
// still shuts down whatever Initialize managed to launch.
func startPool(ctx context.Context, pool poolLifecycle, logger *logrus.Logger) (func(), error) {
	stop := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := pool.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("Browser pool shutdown incomplete")
		}
	}
	if err := pool.Initialize(ctx); err != nil {
		stop()
		return nil, fmt.Errorf("start browser pool: %w", err)
	}
	return stop, nil
}

func openCache(ctx context.Context, cfg config.Config, logger *logrus.Logger) (cache.Cache, func()) {
	if cfg.RedisURL == "" {
		return cache.NewMemory(0), func() {}
	}
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	r, err := cache.NewRedisFromURL(dialCtx, cfg.RedisURL, "leadcrawl:")
	if err != nil {
		logger.WithError(err).Warn("Redis unavailable, falling back to in-memory cache")
		return cache.NewMemory(0), func() {}
	}
	return r, func() { _ = r.Close() }
}

func serveMetrics(addr string, logger *logrus.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.WithField("addr", addr).Info("Serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Metrics server stopped")
		}
	}()
	return srv
}

func publishPoolStats(pool *browser.Pool, prom *metrics.Prometheus, every time.Duration) func() {
	ticker := time.NewTicker(every)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				s := pool.Stats()
				prom.RecordPool(s.Total, s.InUse, s.TotalPagesOpened)
			case <-done:
				return
			}
		}
	}()
	return func() {
		ticker.Stop()
		close(done)
	}
}

func persist(cfg config.Config, results []models.QueryResult) (int, error) {
	store, err := storage.NewPostgresStore(cfg)
	if err != nil {
		return 0, fmt.Errorf("connect to PostgreSQL: %w", err)
	}
	defer store.Close()

	dbCtx, cancelDB := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelDB()
	saved, err := store.SaveResults(dbCtx, results)
	if err != nil {
		return 0, fmt.Errorf("store leads in PostgreSQL: %w", err)
	}
	return saved, nil
}

func allFailed(results []models.QueryResult) bool {
	for _, r := range results {
		if r.Err == nil {
			return false
		}
	}
	return len(results) > 0
}

func printSummary(out io.Writer, cfg config.Config, results []models.QueryResult, total, saved int) {
	fmt.Fprintln(out, rule)
	fmt.Fprintf(out, "  DONE - %d total leads → %s\n", total, cfg.OutFile)
	if saved >= 0 {
		fmt.Fprintf(out, "  DB   - %d leads upserted → leads table\n", saved)
	}
	for _, r := range results {
		status := fmt.Sprintf("%d leads", len(r.Listings))
		if r.Err != nil {
			status = "ERROR: " + describe(r.Err)
		}
		fmt.Fprintf(out, "    %-24s %s\n", r.Location+":", status)
	}

	stats := utils.BuildSummaryStats(results)
	fmt.Fprintln(out, "  STATS")
	fmt.Fprintf(out, "    Total Leads            : %d\n", stats.TotalLeads)
	fmt.Fprintf(out, "    With Phone             : %d\n", stats.WithPhone)
	fmt.Fprintf(out, "    With Website           : %d (%d own site, %d social only)\n", stats.WithWebsite, stats.WithRealWebsite, stats.WithSocialOnly)
	fmt.Fprintf(out, "    Franchises             : %d\n", stats.Franchises)
	fmt.Fprintf(out, "    Average Rating         : %.2f\n", stats.AverageRating)
	fmt.Fprintf(out, "    Average Quality        : %.1f\n", stats.AverageQuality)

	fmt.Fprintln(out, "    Leads per Location")
	for _, l := range stats.LeadsPerLocation {
		fmt.Fprintf(out, "      - %s: %d\n", l.Location, l.Count)
	}
	fmt.Fprintln(out, "    Leads per Category")
	for _, c := range stats.LeadsPerCategory {
		fmt.Fprintf(out, "      - %s: %d\n", c.Category, c.Count)
	}
	fmt.Fprintln(out, "    Top 5 Highest Rated")
	for i, l := range stats.TopRatedLeads {
		fmt.Fprintf(out, "      %d) %.1f★ (%d) | %s\n", i+1, l.Rating, l.ReviewCount, l.Name)
	}
	fmt.Fprintln(out, rule)
}

// describe turns typed crawl failures into operator-facing text.
func describe(err error) string {
	var navErr *services.NavigationError
	switch {
	case errors.Is(err, services.ErrCircuitOpen):
		return "circuit open, target is refusing requests; retry later"
	case errors.Is(err, services.ErrPoolExhausted):
		return "no browser available; lower --workers or raise POOL_MAX_BROWSERS"
	case errors.As(err, &navErr):
		return "could not reach " + navErr.URL
	case errors.Is(err, context.DeadlineExceeded):
		return "global timeout reached"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return err.Error()
	}
}
