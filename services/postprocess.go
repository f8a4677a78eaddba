package services

import (
	"sort"
	"strings"

	"github.com/Laza223/axxen-scraper-sub001/models"
)

// QualityScorer derives a completeness score for a listing.
type QualityScorer interface {
	Score(models.ScrapedListing) int
}

// Categorizer assigns a business type and franchise flag.
type Categorizer interface {
	Categorize(models.ScrapedListing) (businessType string, franchise bool)
}

// NopCategorizer leaves listings uncategorized.
type NopCategorizer struct{}

func (NopCategorizer) Categorize(models.ScrapedListing) (string, bool) { return "", false }

// CompletenessScorer scores a listing 0..100 by how reachable and
// established it looks.
type CompletenessScorer struct{}

func (CompletenessScorer) Score(l models.ScrapedListing) int {
	score := 0
	if strings.TrimSpace(l.Phone) != "" {
		score += 25
	}
	switch {
	case l.HasRealWebsite:
		score += 25
	case l.IsSocialMedia || len(l.SocialHandles) > 0:
		score += 10
	}
	if strings.TrimSpace(l.Address) != "" {
		score += 10
	}
	if l.Rating > 0 {
		score += 10
	}
	if l.Rating >= 4 {
		score += 10
	}
	if l.ReviewCount >= 10 {
		score += 10
	}
	if l.ReviewCount >= 100 {
		score += 10
	}
	return score
}

// dedupeByPlaceID keeps the first listing per place id. Listings without an
// id are keyed by URL.
func dedupeByPlaceID(in []models.ScrapedListing) []models.ScrapedListing {
	out := make([]models.ScrapedListing, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, l := range in {
		key := listingKey(l)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, l)
	}
	return out
}

func listingKey(l models.ScrapedListing) string {
	if l.PlaceID != "" {
		return "id:" + l.PlaceID
	}
	return "url:" + l.URL
}

// postProcess dedupes, scores, categorizes, filters, sorts and truncates a
// raw result set. The input is not modified.
func postProcess(raw []models.ScrapedListing, opts models.ScrapeOptions, scorer QualityScorer, categorizer Categorizer) []models.ScrapedListing {
	listings := dedupeByPlaceID(raw)

	out := listings[:0]
	for _, l := range listings {
		l.QualityScore = scorer.Score(l)
		l.BusinessType, l.IsFranchise = categorizer.Categorize(l)

		if l.QualityScore < opts.MinQuality {
			continue
		}
		if opts.StrictMatch && l.RelevanceScore < StrictRelevance {
			continue
		}
		if opts.ExcludeFranchises && l.IsFranchise {
			continue
		}
		out = append(out, l)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].QualityScore != out[j].QualityScore {
			return out[i].QualityScore > out[j].QualityScore
		}
		return out[i].RelevanceScore > out[j].RelevanceScore
	})

	if opts.MaxResults > 0 && len(out) > opts.MaxResults {
		out = out[:opts.MaxResults]
	}
	return out
}
