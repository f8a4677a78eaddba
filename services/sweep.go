package services

import (
	"context"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Laza223/axxen-scraper-sub001/cache"
	"github.com/Laza223/axxen-scraper-sub001/geo"
	"github.com/Laza223/axxen-scraper-sub001/metrics"
	"github.com/Laza223/axxen-scraper-sub001/models"
	"github.com/Laza223/axxen-scraper-sub001/scraper"
)

// crawlRun is the state of one crawl. Only the crawl goroutine touches it;
// detail tasks hand their listings back through slots.
type crawlRun struct {
	c         *Crawler
	opts      models.ScrapeOptions
	rawTarget int
	log       *logrus.Entry

	seen    map[string]bool
	results []models.ScrapedListing
	byID    map[string]bool
	navErr  *NavigationError
}

// locate runs the unparameterized search and recovers the map center from
// the resulting URL, falling back to a previously cached center.
func (r *crawlRun) locate(ctx context.Context, reader PageReader) (*models.Coordinate, error) {
	c := r.c
	url := geo.SearchURL(c.cfg.BaseURL, c.baseQuery(r.opts.Keyword, r.opts.Location), nil)

	if err := c.navigate(ctx, reader, url); err != nil {
		if isAbort(ctx, err) {
			return nil, err
		}
		r.recordNavFailure(url, err)
		r.log.WithError(err).Warn("⚠ initial search failed")
	} else {
		if _, err := reader.DismissConsent(ctx); err != nil {
			r.log.WithError(err).Debug("consent dismissal failed")
		}
		if loc, err := reader.CurrentURL(ctx); err == nil {
			if center, _, ok := geo.ParseCenter(loc); ok && !center.IsZero() {
				c.deps.Planner.RememberCenter(r.opts.Location, center)
				if err := c.deps.Cache.Set(ctx, cache.GeocodeKey(r.opts.Location), center, c.cfg.GeocodeTTL); err != nil {
					r.log.WithError(err).Warn("geocode cache store failed")
				}
				return &center, nil
			}
		}
	}

	var cached models.Coordinate
	if ok, err := c.deps.Cache.Get(ctx, cache.GeocodeKey(r.opts.Location), &cached); err == nil && ok && !cached.IsZero() {
		r.log.WithField("center", cached.String()).Debug("using cached center")
		return &cached, nil
	}
	return nil, nil
}

// sweep visits targets in order until the raw target is met. Step failures
// are logged and skipped; aborting errors end the sweep.
func (r *crawlRun) sweep(ctx context.Context, reader PageReader, targets []sweepTarget) error {
	c := r.c
	for i, t := range targets {
		if len(r.results) >= r.rawTarget {
			break
		}
		budget := cellBudget(r.rawTarget-len(r.results), len(targets)-i, c.cfg.CellSlack)
		log := r.log.WithFields(logrus.Fields{"target": t.label, "budget": budget})

		url := geo.SearchURL(c.cfg.BaseURL, t.query, t.cell)
		if err := c.navigate(ctx, reader, url); err != nil {
			if isAbort(ctx, err) {
				return err
			}
			r.recordNavFailure(url, err)
			log.WithError(err).Warn("⚠ target skipped")
			continue
		}
		if _, err := reader.DismissConsent(ctx); err != nil {
			log.WithError(err).Debug("consent dismissal failed")
		}
		if t.cell != nil {
			if err := reader.Rescope(ctx, t.query, *t.cell); err != nil {
				if isAbort(ctx, err) {
					return err
				}
				log.WithError(err).Debug("rescope failed")
			}
		}

		candidates, err := r.collect(ctx, reader, budget)
		if err != nil {
			if isAbort(ctx, err) {
				return err
			}
			log.WithError(err).Warn("⚠ collection stopped early")
		}
		before := len(r.results)
		if err := r.extract(ctx, t.label, candidates); err != nil {
			return err
		}
		log.WithFields(logrus.Fields{
			"candidates": len(candidates),
			"new":        len(r.results) - before,
			"total":      len(r.results),
		}).Info("target done")

		if i < len(targets)-1 {
			if err := c.pause(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// cellBudget spreads what is still missing over the targets left, plus a
// slack so early rich targets can make up for sparse later ones.
func cellBudget(remaining, targetsLeft, slack int) int {
	if targetsLeft < 1 {
		targetsLeft = 1
	}
	if remaining < 0 {
		remaining = 0
	}
	return int(math.Ceil(float64(remaining)/float64(targetsLeft))) + slack
}

// collect scrolls the feed gathering unseen candidates until budget is met,
// the feed stalls for StallLimit scrolls, or the attempt ceiling is hit.
func (r *crawlRun) collect(ctx context.Context, reader PageReader, budget int) ([]scraper.Candidate, error) {
	c := r.c
	var fresh []scraper.Candidate
	local := make(map[string]bool)
	stalls := 0
	final := false

	for attempt := 0; attempt <= c.cfg.MaxScrollAttempts; attempt++ {
		links, err := reader.CollectLinks(ctx)
		if err != nil {
			return fresh, fmt.Errorf("collect links: %w", err)
		}
		added := 0
		for _, l := range links {
			key := candidateKey(l)
			if r.seen[key] || local[key] {
				continue
			}
			local[key] = true
			fresh = append(fresh, l)
			added++
			if len(fresh) >= budget {
				return fresh, nil
			}
		}
		if final {
			break
		}
		if added == 0 {
			stalls++
			if stalls >= c.cfg.StallLimit {
				break
			}
		} else {
			stalls = 0
		}

		exhausted, err := reader.ScrollFeed(ctx)
		if err != nil {
			return fresh, fmt.Errorf("scroll feed: %w", err)
		}
		final = exhausted
		if err := c.sleep(ctx, c.deps.Profile.HumanDelay(c.cfg.DelayMin/2, c.cfg.DelayMax/2)); err != nil {
			return fresh, err
		}
	}
	return fresh, nil
}

func candidateKey(c scraper.Candidate) string {
	if c.PlaceID != "" {
		return "id:" + c.PlaceID
	}
	return "url:" + c.URL
}

// extract opens candidates in bounded-parallel batches, each task on its own
// leased page. Listings merge after the batch completes.
func (r *crawlRun) extract(ctx context.Context, label string, candidates []scraper.Candidate) error {
	c := r.c
	limit := c.cfg.DetailConcurrency
	if limit < 1 {
		limit = 1
	}

	for start := 0; start < len(candidates); start += limit {
		end := min(start+limit, len(candidates))
		batch := candidates[start:end]
		slots := make([]*models.ScrapedListing, len(batch))

		g, gctx := errgroup.WithContext(ctx)
		for i, cand := range batch {
			r.seen[candidateKey(cand)] = true
			g.Go(func() error {
				l, err := r.extractOne(gctx, cand)
				if err != nil {
					if isAbort(gctx, err) {
						return err
					}
					r.log.WithError(err).WithField("url", cand.URL).Warn("⚠ listing skipped")
					return nil
				}
				l.Target = label
				slots[i] = l
				return nil
			})
		}
		err := g.Wait()

		for _, l := range slots {
			if l != nil {
				r.add(*l)
			}
		}
		if err != nil {
			return err
		}
		if len(r.results) >= r.rawTarget {
			return nil
		}
	}
	return nil
}

// add appends l unless a listing with the same place id is already kept.
func (r *crawlRun) add(l models.ScrapedListing) {
	if r.byID == nil {
		r.byID = make(map[string]bool)
	}
	key := listingKey(l)
	if r.byID[key] {
		return
	}
	r.byID[key] = true
	r.results = append(r.results, l)
}

// extractOne leases a page, opens the candidate and turns it into a listing.
func (r *crawlRun) extractOne(ctx context.Context, cand scraper.Candidate) (*models.ScrapedListing, error) {
	c := r.c
	lease, err := c.deps.Pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire detail page: %w", err)
	}
	defer c.deps.Pool.Release(lease.InstanceID, lease.Page)
	reader := c.deps.NewReader(lease.Page)

	if err := c.navigate(ctx, reader, cand.URL); err != nil {
		return nil, err
	}

	detailCtx := ctx
	if c.cfg.DetailTimeout > 0 {
		var cancel context.CancelFunc
		detailCtx, cancel = context.WithTimeout(ctx, c.cfg.DetailTimeout)
		defer cancel()
	}
	d, err := reader.ExtractDetail(detailCtx)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", cand.URL, err)
	}

	l := r.toListing(d, cand)
	c.deps.Metrics.RecordPlaceFound(metrics.PlaceEvent{
		Phone:          l.Phone != "",
		Website:        l.Website != "",
		RealWebsite:    l.HasRealWebsite,
		SocialMedia:    l.IsSocialMedia,
		Directory:      l.IsDirectory,
		RelevanceScore: l.RelevanceScore,
	})
	return &l, nil
}

func (r *crawlRun) toListing(d scraper.Detail, cand scraper.Candidate) models.ScrapedListing {
	pageURL := d.URL
	if pageURL == "" {
		pageURL = cand.URL
	}
	id, ok := scraper.PlaceID(pageURL)
	if !ok {
		id = cand.PlaceID
	}
	name := d.Name
	if name == "" {
		name = cand.Name
	}

	class := scraper.ClassifyWebsite(d.Website)
	links := d.SocialLinks
	if class.Social {
		links = append(append([]string(nil), links...), d.Website)
	}

	return models.ScrapedListing{
		PlaceID:        id,
		Name:           name,
		Category:       d.Category,
		Address:        d.Address,
		Phone:          d.Phone,
		Website:        d.Website,
		Rating:         d.Rating,
		ReviewCount:    d.ReviewCount,
		Coordinate:     d.Coordinate,
		URL:            pageURL,
		HasRealWebsite: class.Real,
		IsSocialMedia:  class.Social,
		IsDirectory:    class.Directory,
		RelevanceScore: r.c.deps.Relevance.Score(r.opts.Keyword, name, d.Category),
		SocialHandles:  scraper.SocialHandles(links...),
	}
}

// recordNavFailure keeps the first navigation failure for reporting when
// the crawl ends up empty.
func (r *crawlRun) recordNavFailure(url string, err error) {
	if r.navErr == nil {
		r.navErr = &NavigationError{URL: url, Err: err}
	}
}
