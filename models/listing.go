package models

// ScrapedListing holds all data extracted for a single map listing.
type ScrapedListing struct {
	PlaceID        string     `json:"place_id"`
	Name           string     `json:"name"`
	Category       string     `json:"category"`
	Address        string     `json:"address"`
	Phone          string     `json:"phone,omitempty"`
	Website        string     `json:"website,omitempty"`
	Rating         float64    `json:"rating,omitempty"`
	ReviewCount    int        `json:"review_count,omitempty"`
	Coordinate     Coordinate `json:"coordinate"`
	URL            string     `json:"url"`
	HasRealWebsite bool       `json:"has_real_website"`
	IsSocialMedia  bool       `json:"is_social_media"`
	IsDirectory    bool       `json:"is_directory"`
	RelevanceScore int        `json:"relevance_score"`
	SocialHandles  []string   `json:"social_handles,omitempty"`

	// Filled during post-processing by external collaborators.
	QualityScore int    `json:"quality_score"`
	BusinessType string `json:"business_type,omitempty"`
	IsFranchise  bool   `json:"is_franchise,omitempty"`

	// Target is the grid cell label, settlement or query variant that surfaced the listing.
	Target string `json:"target,omitempty"`
}

// ScrapeOptions describes one crawl request.
type ScrapeOptions struct {
	Keyword           string
	Location          string
	MaxResults        int
	StrictMatch       bool
	ForceRefresh      bool
	MinQuality        int
	ExcludeFranchises bool
}

// QueryResult is sent back from each batch worker.
type QueryResult struct {
	Keyword  string
	Location string
	Index    int // original position in the query list
	Listings []ScrapedListing
	Err      error
}
