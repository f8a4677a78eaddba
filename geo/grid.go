package geo

import (
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strconv"

	"github.com/Laza223/axxen-scraper-sub001/models"
)

const kmPerDegreeLat = 111.32

// BoundingBoxAround returns the box spanning radiusKm on each side of center.
func BoundingBoxAround(center models.Coordinate, radiusKm float64) models.BoundingBox {
	dLat := radiusKm / kmPerDegreeLat
	cosLat := math.Cos(center.Lat * math.Pi / 180)
	if cosLat < 0.01 {
		cosLat = 0.01
	}
	dLng := radiusKm / (kmPerDegreeLat * cosLat)
	return models.BoundingBox{
		North: center.Lat + dLat,
		South: center.Lat - dLat,
		East:  center.Lng + dLng,
		West:  center.Lng - dLng,
	}
}

// BuildGrid splits box into size × size cells, row A along the north edge.
// Adjacent cells share their edges exactly.
func BuildGrid(box models.BoundingBox, size int, zoom int) []models.GridCell {
	if size < 1 {
		return nil
	}
	latEdges := splitEdges(box.North, box.South, size)
	lngEdges := splitEdges(box.West, box.East, size)

	cells := make([]models.GridCell, 0, size*size)
	for row := 0; row < size; row++ {
		for col := 0; col < size; col++ {
			bounds := models.BoundingBox{
				North: latEdges[row],
				South: latEdges[row+1],
				West:  lngEdges[col],
				East:  lngEdges[col+1],
			}
			cells = append(cells, models.GridCell{
				Label: cellLabel(row, col),
				Center: models.Coordinate{
					Lat: (bounds.North + bounds.South) / 2,
					Lng: (bounds.West + bounds.East) / 2,
				},
				Zoom:   zoom,
				Bounds: bounds,
			})
		}
	}
	return cells
}

// splitEdges returns n+1 edges from start to end with exact endpoints.
func splitEdges(start, end float64, n int) []float64 {
	edges := make([]float64, n+1)
	step := (end - start) / float64(n)
	for i := 0; i <= n; i++ {
		edges[i] = start + step*float64(i)
	}
	edges[n] = end
	return edges
}

func cellLabel(row, col int) string {
	letters := ""
	for r := row; ; r = r/26 - 1 {
		letters = string(rune('A'+r%26)) + letters
		if r < 26 {
			break
		}
	}
	return letters + strconv.Itoa(col+1)
}

// HaversineKm is the great-circle distance between a and b.
func HaversineKm(a, b models.Coordinate) float64 {
	const earthRadiusKm = 6371.0
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

var centerPattern = regexp.MustCompile(`@(-?\d+(?:\.\d+)?),(-?\d+(?:\.\d+)?),(\d+(?:\.\d+)?)z`)

// ParseCenter extracts the map center and zoom from a URL carrying
// "@<lat>,<lng>,<zoom>z".
func ParseCenter(rawURL string) (models.Coordinate, float64, bool) {
	if unescaped, err := url.PathUnescape(rawURL); err == nil {
		rawURL = unescaped
	}
	m := centerPattern.FindStringSubmatch(rawURL)
	if m == nil {
		return models.Coordinate{}, 0, false
	}
	lat, errLat := strconv.ParseFloat(m[1], 64)
	lng, errLng := strconv.ParseFloat(m[2], 64)
	zoom, errZoom := strconv.ParseFloat(m[3], 64)
	if errLat != nil || errLng != nil || errZoom != nil {
		return models.Coordinate{}, 0, false
	}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return models.Coordinate{}, 0, false
	}
	return models.Coordinate{Lat: lat, Lng: lng}, zoom, true
}

// SearchURL builds a map search URL, centered on cell when one is given.
func SearchURL(baseURL, query string, cell *models.GridCell) string {
	u := baseURL + url.PathEscape(query)
	if cell != nil {
		u += fmt.Sprintf("/@%.7f,%.7f,%dz", cell.Center.Lat, cell.Center.Lng, cell.Zoom)
	}
	return u
}
