package scraper

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"

	"github.com/Laza223/axxen-scraper-sub001/geo"
	"github.com/Laza223/axxen-scraper-sub001/models"
)

// RescopeStrategy is one attempt at making the results feed reflect a new
// map area. Apply returns nil when it believes the feed was refreshed.
type RescopeStrategy interface {
	Name() string
	Apply(ctx context.Context, r *MapsReader, query string, cell models.GridCell) error
}

// DefaultRescopeChain is drag, then "search this area", then zoom out and
// in, then a cache-busted reload.
func DefaultRescopeChain() []RescopeStrategy {
	return []RescopeStrategy{
		DragStrategy{},
		SearchAreaStrategy{},
		ZoomStrategy{},
		ReloadStrategy{Now: time.Now},
	}
}

var errNotRefreshed = errors.New("results were not refreshed")

// DragStrategy pans the map with a mouse gesture so its center lands on the
// cell, then clicks "search this area" if Maps offers it.
type DragStrategy struct{}

// mapViewScript reports the window size and the map element's box.
const mapViewScript = `(() => {
  const el = document.querySelector(%q);
  const r = el ? el.getBoundingClientRect() : null;
  return {w: window.innerWidth, h: window.innerHeight,
    x: r ? r.left : 0, y: r ? r.top : 0, mw: r ? r.width : 0, mh: r ? r.height : 0};
})()`

type mapView struct {
	Width     float64 `json:"w"`
	Height    float64 `json:"h"`
	MapX      float64 `json:"x"`
	MapY      float64 `json:"y"`
	MapWidth  float64 `json:"mw"`
	MapHeight float64 `json:"mh"`
}

// dragOrigin is the center of the map element, or a point right of the
// results feed when the map could not be located.
func (v mapView) dragOrigin() (float64, float64) {
	if v.MapWidth > 0 && v.MapHeight > 0 {
		return v.MapX + v.MapWidth/2, v.MapY + v.MapHeight/2
	}
	return v.Width * 0.7, v.Height * 0.5
}

func (DragStrategy) Name() string { return "drag" }

func (DragStrategy) Apply(ctx context.Context, r *MapsReader, _ string, cell models.GridCell) error {
	loc, err := r.CurrentURL(ctx)
	if err != nil {
		return err
	}
	current, zoom, ok := geo.ParseCenter(loc)
	if !ok {
		return fmt.Errorf("no map center in %q", loc)
	}

	var view mapView
	if err := r.page.Run(ctx, chromedp.Evaluate(fmt.Sprintf(mapViewScript, MapCanvasSelector), &view)); err != nil {
		return fmt.Errorf("read viewport: %w", err)
	}
	if view.Width == 0 || view.Height == 0 {
		return errors.New("empty viewport")
	}

	startX, startY := view.dragOrigin()
	dx, dy := DragVector(current, cell.Center, zoom)
	endX := clamp(startX+dx, 10, view.Width-10)
	endY := clamp(startY+dy, 10, view.Height-10)

	const steps = 8
	actions := []chromedp.Action{
		chromedp.MouseEvent(input.MouseMoved, startX, startY),
		chromedp.MouseEvent(input.MousePressed, startX, startY, chromedp.ButtonLeft, chromedp.ClickCount(1)),
	}
	for i := 1; i <= steps; i++ {
		f := float64(i) / steps
		actions = append(actions,
			chromedp.MouseEvent(input.MouseMoved, startX+(endX-startX)*f, startY+(endY-startY)*f, chromedp.ButtonLeft),
			chromedp.Sleep(40*time.Millisecond),
		)
	}
	actions = append(actions,
		chromedp.MouseEvent(input.MouseReleased, endX, endY, chromedp.ButtonLeft, chromedp.ClickCount(1)),
		chromedp.Sleep(r.settle),
	)
	if err := r.page.Run(ctx, actions...); err != nil {
		return fmt.Errorf("drag map: %w", err)
	}

	var clicked bool
	_ = r.page.Run(ctx, chromedp.Evaluate(clickByLabelScript(searchAreaLabels), &clicked), chromedp.Sleep(r.settle))

	loc, err = r.CurrentURL(ctx)
	if err != nil {
		return err
	}
	moved, _, ok := geo.ParseCenter(loc)
	if !ok || geo.HaversineKm(moved, cell.Center) > cellTolerance(cell) {
		return errNotRefreshed
	}
	return nil
}

// SearchAreaStrategy clicks the "search this area" button.
type SearchAreaStrategy struct{}

func (SearchAreaStrategy) Name() string { return "search-area" }

func (SearchAreaStrategy) Apply(ctx context.Context, r *MapsReader, _ string, _ models.GridCell) error {
	var clicked bool
	if err := r.page.Run(ctx, chromedp.Evaluate(clickByLabelScript(searchAreaLabels), &clicked)); err != nil {
		return fmt.Errorf("click search area: %w", err)
	}
	if !clicked {
		return errors.New("search-this-area button not shown")
	}
	return r.page.Run(ctx, chromedp.Sleep(r.settle))
}

// ZoomStrategy zooms out and back in, which makes Maps re-run the search
// for the visible area.
type ZoomStrategy struct{}

func (ZoomStrategy) Name() string { return "zoom" }

func (ZoomStrategy) Apply(ctx context.Context, r *MapsReader, _ string, _ models.GridCell) error {
	var out, in bool
	if err := r.page.Run(ctx,
		chromedp.Evaluate(clickFirstScript([]string{ZoomOutSelector}), &out),
		chromedp.Sleep(r.settle),
		chromedp.Evaluate(clickFirstScript([]string{ZoomInSelector}), &in),
		chromedp.Sleep(r.settle),
	); err != nil {
		return fmt.Errorf("zoom map: %w", err)
	}
	if !out || !in {
		return errors.New("zoom controls not found")
	}
	var feed bool
	if err := r.page.Run(ctx, chromedp.Evaluate(fmt.Sprintf(`!!document.querySelector(%q)`, FeedSelector), &feed)); err != nil {
		return err
	}
	if !feed {
		return errNotRefreshed
	}
	return nil
}

// ReloadStrategy navigates to the cell's search URL with a cache-busting
// parameter.
type ReloadStrategy struct {
	Now func() time.Time
}

func (ReloadStrategy) Name() string { return "reload" }

func (s ReloadStrategy) Apply(ctx context.Context, r *MapsReader, query string, cell models.GridCell) error {
	return r.Navigate(ctx, CacheBustedURL(r.baseURL, query, cell, s.now()))
}

func (s ReloadStrategy) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

// CacheBustedURL is the search URL for cell with a unique query string.
func CacheBustedURL(baseURL, query string, cell models.GridCell, now time.Time) string {
	return geo.SearchURL(baseURL, query, &cell) + "?entry=ttu&_cb=" + strconv.FormatInt(now.UnixNano(), 10)
}

// DragVector is the mouse movement in CSS pixels that pans a Web Mercator
// map at zoom from one center to another.
func DragVector(from, to models.Coordinate, zoom float64) (dx, dy float64) {
	scale := 256 * math.Pow(2, zoom)
	fx, fy := mercator(from, scale)
	tx, ty := mercator(to, scale)
	// Dragging moves content with the cursor, so the gesture is the
	// opposite of the desired pan.
	return fx - tx, fy - ty
}

func mercator(c models.Coordinate, scale float64) (x, y float64) {
	lat := c.Lat * math.Pi / 180
	x = (c.Lng + 180) / 360 * scale
	y = (1 - math.Log(math.Tan(lat)+1/math.Cos(lat))/math.Pi) / 2 * scale
	return x, y
}

// cellTolerance is how far from the cell center a map may settle and still
// count as showing the cell.
func cellTolerance(cell models.GridCell) float64 {
	if cell.Bounds == (models.BoundingBox{}) {
		return 1
	}
	return geo.HaversineKm(cell.Center, models.Coordinate{Lat: cell.Bounds.North, Lng: cell.Bounds.East})
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
