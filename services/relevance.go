package services

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Laza223/axxen-scraper-sub001/geo"
	"github.com/Laza223/axxen-scraper-sub001/models"
)

// Relevance score weights.
const (
	scoreNameMatch            = 100
	scoreCategoryMatch        = 80
	scoreSynonymNameMatch     = 60
	scoreSynonymCategoryMatch = 40
	scoreNoMatch              = 20
	excludedCategoryPenalty   = 100

	// StrictRelevance is the minimum score kept when strict matching is on.
	StrictRelevance = scoreSynonymNameMatch
)

//go:embed data/relevance.yaml
var relevanceYAML []byte

// RelevanceTables holds the keyword tables, keyed by normalized singular
// keyword.
type RelevanceTables struct {
	Synonyms   map[string][]string `yaml:"synonyms"`
	Excluded   map[string][]string `yaml:"excluded"`
	Franchises []string            `yaml:"franchises"`
}

// LoadRelevanceTables parses the embedded tables.
func LoadRelevanceTables() (RelevanceTables, error) {
	var t RelevanceTables
	if err := yaml.Unmarshal(relevanceYAML, &t); err != nil {
		return RelevanceTables{}, fmt.Errorf("parse relevance tables: %w", err)
	}
	return t.normalized(), nil
}

// MustRelevanceTables is LoadRelevanceTables for process start.
func MustRelevanceTables() RelevanceTables {
	t, err := LoadRelevanceTables()
	if err != nil {
		panic(err)
	}
	return t
}

func (t RelevanceTables) normalized() RelevanceTables {
	out := RelevanceTables{
		Synonyms: make(map[string][]string, len(t.Synonyms)),
		Excluded: make(map[string][]string, len(t.Excluded)),
	}
	for k, v := range t.Synonyms {
		out.Synonyms[geo.Normalize(k)] = normalizeAll(v)
	}
	for k, v := range t.Excluded {
		out.Excluded[geo.Normalize(k)] = normalizeAll(v)
	}
	out.Franchises = normalizeAll(t.Franchises)
	return out
}

func normalizeAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if n := geo.Normalize(s); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// RelevanceScorer rates how well a listing matches a search keyword.
type RelevanceScorer struct {
	tables RelevanceTables
}

// NewRelevanceScorer creates a scorer over tables.
func NewRelevanceScorer(tables RelevanceTables) *RelevanceScorer {
	return &RelevanceScorer{tables: tables}
}

// Score rates name and category against keyword:
//
//	+100 keyword in name, +80 keyword in category,
//	+60 synonym in name, +40 synonym in category (when the literal missed),
//	20 when nothing matched, then -100 floored at 0 for an excluded category.
func (s *RelevanceScorer) Score(keyword, name, category string) int {
	forms := keywordForms(keyword)
	n, c := geo.Normalize(name), geo.Normalize(category)

	score := 0
	nameHit := anyPhrase(n, forms)
	catHit := anyPhrase(c, forms)
	if nameHit {
		score += scoreNameMatch
	}
	if catHit {
		score += scoreCategoryMatch
	}

	synonyms := s.lookup(s.tables.Synonyms, forms)
	if !nameHit && anyPhrase(n, synonyms) {
		score += scoreSynonymNameMatch
	}
	if !catHit && anyPhrase(c, synonyms) {
		score += scoreSynonymCategoryMatch
	}
	if score == 0 {
		score = scoreNoMatch
	}

	if anyPhrase(c, s.lookup(s.tables.Excluded, forms)) {
		score -= excludedCategoryPenalty
		if score < 0 {
			score = 0
		}
	}
	return score
}

func (s *RelevanceScorer) lookup(table map[string][]string, forms []string) []string {
	for _, f := range forms {
		if v, ok := table[f]; ok {
			return v
		}
	}
	return nil
}

// IsFranchise reports whether name contains a known chain brand.
func (s *RelevanceScorer) IsFranchise(name string) bool {
	return anyPhrase(geo.Normalize(name), s.tables.Franchises)
}

// keywordForms returns the normalized keyword followed by its plausible
// singular forms.
func keywordForms(keyword string) []string {
	k := geo.Normalize(keyword)
	if k == "" {
		return nil
	}
	forms := []string{k}
	if strings.HasSuffix(k, "es") && len(k) > 4 {
		forms = append(forms, strings.TrimSuffix(k, "es"))
	}
	if strings.HasSuffix(k, "s") && len(k) > 3 {
		forms = append(forms, strings.TrimSuffix(k, "s"))
	}
	return forms
}

func anyPhrase(text string, phrases []string) bool {
	if text == "" {
		return false
	}
	padded := " " + text + " "
	for _, p := range phrases {
		if p != "" && strings.Contains(padded, " "+p+" ") {
			return true
		}
	}
	return false
}

// FranchiseCategorizer labels listings with their category as business type
// and flags chain brands.
type FranchiseCategorizer struct {
	scorer *RelevanceScorer
}

// NewFranchiseCategorizer creates a categorizer backed by the franchise table.
func NewFranchiseCategorizer(scorer *RelevanceScorer) *FranchiseCategorizer {
	return &FranchiseCategorizer{scorer: scorer}
}

func (f *FranchiseCategorizer) Categorize(l models.ScrapedListing) (string, bool) {
	return strings.TrimSpace(l.Category), f.scorer.IsFranchise(l.Name)
}
