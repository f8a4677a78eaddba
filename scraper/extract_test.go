package scraper

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixture(t *testing.T, name string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return string(b)
}

func TestParseFeedLinks(t *testing.T) {
	links, err := ParseFeedLinks(fixture(t, "feed.html"))
	require.NoError(t, err)
	require.Len(t, links, 2)

	assert.Equal(t, "La Cabrera", links[0].Name)
	assert.Equal(t, "0x95bcb59c2a1b1c1d:0x8a1b2c3d4e5f6a7b", links[0].PlaceID)

	assert.Equal(t, "Don Julio", links[1].Name)
	assert.Equal(t, "0x95bcb5a0f0e0d0c0:0x1234567890abcdef", links[1].PlaceID)
	assert.Contains(t, links[1].URL, "https://www.google.com/maps/place/Don+Julio")
}

func TestFeedExhausted(t *testing.T) {
	assert.True(t, FeedExhausted(fixture(t, "feed_end.html")))
	assert.False(t, FeedExhausted(fixture(t, "feed.html")))
}

func TestParseDetail(t *testing.T) {
	pageURL := "https://www.google.com/maps/place/Don+Julio/@-34.5866,-58.4293,17z/data=!4m6!3m5!1s0x95bcb5a0f0e0d0c0:0x1234567890abcdef!8m2!3d-34.58661!4d-58.42931"
	d, err := ParseDetail(fixture(t, "detail.html"), pageURL)
	require.NoError(t, err)

	assert.Equal(t, "Parrilla Don Julio", d.Name)
	assert.Equal(t, "Parrilla", d.Category)
	assert.Equal(t, "Guatemala 4691, C1425 CABA", d.Address)
	assert.Equal(t, "011 4832-9430", d.Phone)
	assert.Equal(t, "https://www.parrilladonjulio.com/", d.Website)
	assert.InDelta(t, 4.6, d.Rating, 1e-9)
	assert.Equal(t, 12345, d.ReviewCount)
	assert.InDelta(t, -34.5866, d.Coordinate.Lat, 1e-9)
	assert.InDelta(t, -58.4293, d.Coordinate.Lng, 1e-9)
	assert.Equal(t, []string{"instagram:parrilladonjulio"}, SocialHandles(d.SocialLinks...))
}

func TestParseDetailFallbackSelectors(t *testing.T) {
	d, err := ParseDetail(fixture(t, "detail_social.html"),
		"https://www.google.com/maps/place/Guerrin/data=!4m2!3m1!1s0x1:0x2!3d-34.6038!4d-58.3877")
	require.NoError(t, err)

	assert.Equal(t, "Pizzería Güerrín", d.Name)
	assert.Equal(t, "Pizzería", d.Category)
	assert.Equal(t, "+541143711181", d.Phone)
	assert.Equal(t, "https://instagram.com/guerrinpizzeria", d.Website)
	assert.True(t, ClassifyWebsite(d.Website).Social)
	assert.Zero(t, d.Rating)
	assert.InDelta(t, -34.6038, d.Coordinate.Lat, 1e-9)
}

func TestParseDetailWithoutNameFails(t *testing.T) {
	_, err := ParseDetail("<html><body><div role=\"main\"></div></body></html>", "")
	assert.Error(t, err)
}

func TestDetectChallengeHTML(t *testing.T) {
	c := DetectChallengeHTML(fixture(t, "sorry.html"), "https://www.google.com/maps")
	assert.True(t, c.Detected)
	assert.True(t, c.Captcha)

	c = DetectChallengeHTML("<html></html>", "https://www.google.com/sorry/index?continue=x")
	assert.True(t, c.Captcha)

	c = DetectChallengeHTML("<html><body>We detected unusual traffic</body></html>", "https://www.google.com/maps")
	assert.True(t, c.Detected)
	assert.False(t, c.Captcha)

	assert.False(t, DetectChallengeHTML(fixture(t, "feed.html"), "https://www.google.com/maps").Detected)
}

func TestParseRatingAndReviews(t *testing.T) {
	assert.InDelta(t, 4.5, parseRating("4,5"), 1e-9)
	assert.InDelta(t, 3.9, parseRating(" 3.9 estrellas"), 1e-9)
	assert.Zero(t, parseRating("nueve"))
	assert.Zero(t, parseRating("7.2"))

	assert.Equal(t, 1234, parseReviews("(1.234)"))
	assert.Equal(t, 1234, parseReviews("1,234 reviews"))
	assert.Zero(t, parseReviews("sin reseñas"))
}
