package scraper

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/Laza223/axxen-scraper-sub001/geo"
	"github.com/Laza223/axxen-scraper-sub001/models"
)

// Candidate is a listing link collected from the results feed.
type Candidate struct {
	URL     string
	Name    string
	PlaceID string
}

// Detail is the raw set of fields read from a listing page.
type Detail struct {
	Name        string
	Category    string
	Address     string
	Phone       string
	Website     string
	Rating      float64
	ReviewCount int
	Coordinate  models.Coordinate
	URL         string
	SocialLinks []string
}

// Challenge reports whether a page is a bot-defence interstitial.
type Challenge struct {
	Detected bool
	Captcha  bool
}

// ParseFeedLinks returns the place links found in the results feed, in page
// order and deduplicated by place id (or URL when no id is present).
func ParseFeedLinks(html string) ([]Candidate, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse feed html: %w", err)
	}

	root := doc.Selection
	if feed := doc.Find(FeedSelector); feed.Length() > 0 {
		root = feed
	}

	var out []Candidate
	seen := map[string]bool{}
	root.Find(PlaceLinkSelector).Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = absoluteMapsURL(strings.TrimSpace(href))
		if !IsPlaceLink(href) {
			return
		}
		id, ok := PlaceID(href)
		key := id
		if !ok {
			key = href
		}
		if seen[key] {
			return
		}
		seen[key] = true

		name, _ := s.Attr("aria-label")
		if name == "" {
			name = cleanText(s.Text())
		}
		out = append(out, Candidate{URL: href, Name: strings.TrimSpace(name), PlaceID: id})
	})
	return out, nil
}

// FeedExhausted reports whether the feed shows its end-of-list marker.
func FeedExhausted(html string) bool {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false
	}
	text := strings.ToLower(doc.Find(FeedEndSelector).Text())
	return strings.Contains(text, "llegaste al final") ||
		strings.Contains(text, "reached the end") ||
		strings.Contains(text, "final de la lista")
}

// ParseDetail reads a listing page. pageURL is the URL the browser ended up
// on and is used for the place id and coordinates.
func ParseDetail(html, pageURL string) (Detail, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Detail{}, fmt.Errorf("parse detail html: %w", err)
	}

	d := Detail{
		URL:      pageURL,
		Name:     firstText(doc, nameSelectors),
		Category: firstText(doc, categorySelectors),
		Address:  firstText(doc, addressSelectors),
		Phone:    firstPhone(doc),
		Website:  firstWebsite(doc),
		Rating:   parseRating(firstText(doc, ratingSelectors)),
	}
	d.ReviewCount = firstReviewCount(doc)
	if c, _, ok := geo.ParseCenter(pageURL); ok {
		d.Coordinate = c
	} else if c, ok := parsePinCoordinate(pageURL); ok {
		d.Coordinate = c
	}

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = UnwrapRedirect(href)
		if ClassifyWebsite(href).Social {
			d.SocialLinks = append(d.SocialLinks, href)
		}
	})

	if d.Name == "" {
		return d, fmt.Errorf("detail page has no listing name")
	}
	return d, nil
}

// DetectChallengeHTML looks for bot-defence markers in a page.
func DetectChallengeHTML(html, pageURL string) Challenge {
	if strings.Contains(pageURL, "/sorry/") {
		return Challenge{Detected: true, Captcha: true}
	}
	lower := strings.ToLower(html)
	captcha := strings.Contains(lower, "g-recaptcha") ||
		strings.Contains(lower, "recaptcha/api") ||
		strings.Contains(lower, `id="captcha-form"`)
	blocked := strings.Contains(lower, "unusual traffic") ||
		strings.Contains(lower, "tráfico inusual") ||
		strings.Contains(lower, "trafico inusual")
	return Challenge{Detected: captcha || blocked, Captcha: captcha}
}

func firstText(doc *goquery.Document, selectors []string) string {
	for _, sel := range selectors {
		s := doc.Find(sel).First()
		if s.Length() == 0 {
			continue
		}
		if t := cleanText(s.Text()); t != "" {
			return t
		}
		if label, ok := s.Attr("aria-label"); ok {
			if t := stripAriaPrefix(label); t != "" {
				return t
			}
		}
	}
	return ""
}

func firstPhone(doc *goquery.Document) string {
	for _, sel := range phoneSelectors {
		s := doc.Find(sel).First()
		if s.Length() == 0 {
			continue
		}
		if id, ok := s.Attr("data-item-id"); ok && strings.HasPrefix(id, "phone:tel:") {
			return strings.TrimPrefix(id, "phone:tel:")
		}
		if href, ok := s.Attr("href"); ok && strings.HasPrefix(href, "tel:") {
			return strings.TrimPrefix(href, "tel:")
		}
		if t := cleanText(s.Text()); t != "" {
			return t
		}
	}
	return ""
}

func firstWebsite(doc *goquery.Document) string {
	for _, sel := range websiteSelectors {
		s := doc.Find(sel).First()
		if href, ok := s.Attr("href"); ok && strings.TrimSpace(href) != "" {
			return UnwrapRedirect(strings.TrimSpace(href))
		}
	}
	return ""
}

func firstReviewCount(doc *goquery.Document) int {
	for _, sel := range reviewCountSelectors {
		var n int
		doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			label, _ := s.Attr("aria-label")
			for _, candidate := range []string{label, s.Text()} {
				lower := strings.ToLower(candidate)
				if strings.Contains(lower, "reseña") || strings.Contains(lower, "review") || strings.Contains(candidate, "(") {
					if v := parseReviews(candidate); v > 0 {
						n = v
						return false
					}
				}
			}
			return true
		})
		if n > 0 {
			return n
		}
	}
	return 0
}

var pinPattern = regexp.MustCompile(`!3d(-?\d+(?:\.\d+)?)!4d(-?\d+(?:\.\d+)?)`)

// parsePinCoordinate reads the marker position encoded in a place URL.
func parsePinCoordinate(pageURL string) (models.Coordinate, bool) {
	m := pinPattern.FindStringSubmatch(pageURL)
	if m == nil {
		return models.Coordinate{}, false
	}
	lat, err1 := strconv.ParseFloat(m[1], 64)
	lng, err2 := strconv.ParseFloat(m[2], 64)
	if err1 != nil || err2 != nil {
		return models.Coordinate{}, false
	}
	return models.Coordinate{Lat: lat, Lng: lng}, true
}

// parseRating handles both "4,5" and "4.5".
func parseRating(s string) float64 {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", "."))
	if s == "" {
		return 0
	}
	end := 0
	for end < len(s) && (s[end] == '.' || (s[end] >= '0' && s[end] <= '9')) {
		end++
	}
	v, err := strconv.ParseFloat(s[:end], 64)
	if err != nil || v < 0 || v > 5 {
		return 0
	}
	return v
}

// parseReviews keeps only the digits, so "(1.234)" and "1,234 reviews" both
// read as 1234.
func parseReviews(s string) int {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	n, _ := strconv.Atoi(b.String())
	return n
}

func stripAriaPrefix(label string) string {
	label = strings.TrimSpace(label)
	for _, p := range ariaPrefixes {
		if strings.HasPrefix(label, p) {
			return strings.TrimSpace(strings.TrimPrefix(label, p))
		}
	}
	return label
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func absoluteMapsURL(href string) string {
	if strings.HasPrefix(href, "/") {
		return "https://www.google.com" + href
	}
	return href
}
