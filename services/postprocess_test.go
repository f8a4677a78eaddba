package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Laza223/axxen-scraper-sub001/models"
)

type brandCategorizer struct{ franchises map[string]bool }

func (b brandCategorizer) Categorize(l models.ScrapedListing) (string, bool) {
	return "gastronomia", b.franchises[l.Name]
}

func sampleListings() []models.ScrapedListing {
	return []models.ScrapedListing{
		{PlaceID: "a", Name: "Completo", Phone: "1", HasRealWebsite: true, Address: "x", Rating: 4.5, ReviewCount: 200, RelevanceScore: 100},
		{PlaceID: "b", Name: "Solo social", IsSocialMedia: true, RelevanceScore: 60},
		{PlaceID: "a", Name: "Completo duplicado", RelevanceScore: 180},
		{PlaceID: "c", Name: "Cadena", Phone: "1", Address: "x", RelevanceScore: 100},
		{PlaceID: "d", Name: "Poco relevante", Phone: "1", Address: "x", RelevanceScore: 20},
		{URL: "https://maps/x", Name: "Sin id", RelevanceScore: 40},
		{URL: "https://maps/x", Name: "Sin id duplicado", RelevanceScore: 40},
	}
}

func TestCompletenessScorer(t *testing.T) {
	var s CompletenessScorer
	assert.Equal(t, 100, s.Score(sampleListings()[0]))
	assert.Equal(t, 10, s.Score(sampleListings()[1]))
	assert.Equal(t, 0, s.Score(models.ScrapedListing{}))
}

func TestPostProcessDedupesSortsAndCategorizes(t *testing.T) {
	in := sampleListings()
	out := postProcess(in, models.ScrapeOptions{}, CompletenessScorer{}, brandCategorizer{})

	names := make([]string, 0, len(out))
	for _, l := range out {
		names = append(names, l.Name)
		assert.Equal(t, "gastronomia", l.BusinessType)
	}
	// Quality first, relevance breaks the tie between Cadena and Poco relevante.
	assert.Equal(t, []string{"Completo", "Cadena", "Poco relevante", "Solo social", "Sin id"}, names)
	assert.Zero(t, in[0].QualityScore, "input is left untouched")
}

func TestPostProcessFilters(t *testing.T) {
	cat := brandCategorizer{franchises: map[string]bool{"Cadena": true}}

	out := postProcess(sampleListings(), models.ScrapeOptions{MinQuality: 35}, CompletenessScorer{}, cat)
	assert.Len(t, out, 3)

	out = postProcess(sampleListings(), models.ScrapeOptions{StrictMatch: true}, CompletenessScorer{}, cat)
	for _, l := range out {
		assert.GreaterOrEqual(t, l.RelevanceScore, StrictRelevance)
	}
	assert.Len(t, out, 3)

	out = postProcess(sampleListings(), models.ScrapeOptions{ExcludeFranchises: true}, CompletenessScorer{}, cat)
	for _, l := range out {
		assert.NotEqual(t, "Cadena", l.Name)
	}
	assert.Len(t, out, 4)
}

func TestPostProcessTruncates(t *testing.T) {
	out := postProcess(sampleListings(), models.ScrapeOptions{MaxResults: 2}, CompletenessScorer{}, NopCategorizer{})
	assert.Len(t, out, 2)
	assert.Equal(t, "Completo", out[0].Name)
}
