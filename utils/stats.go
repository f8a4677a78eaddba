package utils

import (
	"sort"
	"strings"

	"github.com/Laza223/axxen-scraper-sub001/models"
)

type LocationCount struct {
	Location string
	Count    int
}

type CategoryCount struct {
	Category string
	Count    int
}

type SummaryStats struct {
	TotalLeads       int
	WithPhone        int
	WithWebsite      int
	WithRealWebsite  int
	WithSocialOnly   int
	Franchises       int
	AverageRating    float64
	AverageQuality   float64
	LeadsPerLocation []LocationCount
	LeadsPerCategory []CategoryCount
	TopRatedLeads    []models.ScrapedListing
	FailedQueries    int
}

func BuildSummaryStats(results []models.QueryResult) SummaryStats {
	all := make([]models.ScrapedListing, 0)
	locationCounts := make(map[string]int)
	categoryCounts := make(map[string]int)

	stats := SummaryStats{}
	for _, result := range results {
		if result.Err != nil {
			stats.FailedQueries++
			continue
		}
		location := strings.TrimSpace(result.Location)
		if location == "" {
			location = "Unknown"
		}
		for _, listing := range result.Listings {
			all = append(all, listing)
			locationCounts[location]++
			category := strings.TrimSpace(listing.BusinessType)
			if category == "" {
				category = strings.TrimSpace(listing.Category)
			}
			if category == "" {
				category = "Sin categoría"
			}
			categoryCounts[category]++
		}
	}

	stats.TotalLeads = len(all)
	if len(all) == 0 {
		return stats
	}

	var ratingSum float64
	rated := 0
	qualitySum := 0
	for _, l := range all {
		if l.Phone != "" {
			stats.WithPhone++
		}
		if l.Website != "" {
			stats.WithWebsite++
		}
		if l.HasRealWebsite {
			stats.WithRealWebsite++
		} else if l.IsSocialMedia || len(l.SocialHandles) > 0 {
			stats.WithSocialOnly++
		}
		if l.IsFranchise {
			stats.Franchises++
		}
		if l.Rating > 0 {
			ratingSum += l.Rating
			rated++
		}
		qualitySum += l.QualityScore
	}
	if rated > 0 {
		stats.AverageRating = ratingSum / float64(rated)
	}
	stats.AverageQuality = float64(qualitySum) / float64(len(all))

	perLocation := make([]LocationCount, 0, len(locationCounts))
	for location, count := range locationCounts {
		perLocation = append(perLocation, LocationCount{Location: location, Count: count})
	}
	sort.Slice(perLocation, func(i, j int) bool {
		if perLocation[i].Count == perLocation[j].Count {
			return perLocation[i].Location < perLocation[j].Location
		}
		return perLocation[i].Count > perLocation[j].Count
	})
	stats.LeadsPerLocation = perLocation

	perCategory := make([]CategoryCount, 0, len(categoryCounts))
	for category, count := range categoryCounts {
		perCategory = append(perCategory, CategoryCount{Category: category, Count: count})
	}
	sort.Slice(perCategory, func(i, j int) bool {
		if perCategory[i].Count == perCategory[j].Count {
			return perCategory[i].Category < perCategory[j].Category
		}
		return perCategory[i].Count > perCategory[j].Count
	})
	stats.LeadsPerCategory = perCategory

	topRated := make([]models.ScrapedListing, len(all))
	copy(topRated, all)
	sort.SliceStable(topRated, func(i, j int) bool {
		if topRated[i].Rating == topRated[j].Rating {
			return topRated[i].ReviewCount > topRated[j].ReviewCount
		}
		return topRated[i].Rating > topRated[j].Rating
	})
	if len(topRated) > 5 {
		topRated = topRated[:5]
	}
	stats.TopRatedLeads = topRated

	return stats
}
