package services

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Laza223/axxen-scraper-sub001/models"
)

// PlaceScraper runs one crawl.
type PlaceScraper interface {
	ScrapePlaces(ctx context.Context, opts models.ScrapeOptions) ([]models.ScrapedListing, error)
}

// RunAll crawls every location for the same options concurrently and
// returns results in the order the locations were given.
func RunAll(rootCtx context.Context, s PlaceScraper, base models.ScrapeOptions, locations []string, workers int, logger *logrus.Logger) []models.QueryResult {
	ordered := make([]models.QueryResult, len(locations))
	if len(locations) == 0 {
		return ordered
	}

	if workers <= 0 {
		workers = 1
	}
	if workers > len(locations) {
		workers = len(locations)
	}

	type queryJob struct {
		index    int
		location string
	}

	jobs := make(chan queryJob)
	results := make(chan models.QueryResult, len(locations))

	var wg sync.WaitGroup
	for workerID := 0; workerID < workers; workerID++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				opts := base
				opts.Location = job.location
				log := logger.WithFields(logrus.Fields{"keyword": opts.Keyword, "location": job.location, "worker": workerID})

				log.Info("▶ starting")
				listings, err := s.ScrapePlaces(rootCtx, opts)
				if err != nil {
					log.WithError(err).Error("✗ crawl failed")
				} else {
					log.WithField("listings", len(listings)).Info("✓ leads collected")
				}

				results <- models.QueryResult{
					Keyword:  opts.Keyword,
					Location: job.location,
					Index:    job.index,
					Listings: listings,
					Err:      err,
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i, location := range locations {
			select {
			case jobs <- queryJob{index: i, location: location}:
			case <-rootCtx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	done := make([]bool, len(locations))
	for result := range results {
		ordered[result.Index] = result
		done[result.Index] = true
	}

	// Locations never dispatched because the context ended.
	for i := range ordered {
		if !done[i] {
			ordered[i] = models.QueryResult{Keyword: base.Keyword, Location: locations[i], Index: i, Err: rootCtx.Err()}
		}
	}
	return ordered
}
