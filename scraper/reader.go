// Package scraper drives a map results page in a leased browser tab and
// turns its HTML into listing fields.
package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/sirupsen/logrus"

	"github.com/Laza223/axxen-scraper-sub001/browser"
	"github.com/Laza223/axxen-scraper-sub001/models"
)

// DefaultBaseURL is the map search endpoint queries are appended to.
const DefaultBaseURL = "https://www.google.com/maps/search/"

// scrollScript advances the results feed by one viewport.
const scrollScript = `(function () {
  const feed = document.querySelector('div[role="feed"]');
  if (!feed) {
    return false;
  }
  feed.scrollBy(0, feed.offsetHeight);
  return true;
})();`

// MapsReader reads one browser tab. It is not safe for concurrent use; each
// lease gets its own reader.
type MapsReader struct {
	page       browser.Page
	baseURL    string
	settle     time.Duration
	strategies []RescopeStrategy
	logger     *logrus.Logger
}

// ReaderOption customises a MapsReader.
type ReaderOption func(*MapsReader)

// WithBaseURL points the reader at another search endpoint.
func WithBaseURL(u string) ReaderOption {
	return func(r *MapsReader) { r.baseURL = u }
}

// WithSettleDelay sets the pause after navigation and gestures.
func WithSettleDelay(d time.Duration) ReaderOption {
	return func(r *MapsReader) { r.settle = d }
}

// WithRescopeStrategies replaces the default rescope chain.
func WithRescopeStrategies(s ...RescopeStrategy) ReaderOption {
	return func(r *MapsReader) { r.strategies = s }
}

// WithLogger sets the reader's logger.
func WithLogger(l *logrus.Logger) ReaderOption {
	return func(r *MapsReader) { r.logger = l }
}

// NewMapsReader wraps a leased page.
func NewMapsReader(page browser.Page, opts ...ReaderOption) *MapsReader {
	r := &MapsReader{
		page:       page,
		baseURL:    DefaultBaseURL,
		settle:     1200 * time.Millisecond,
		strategies: DefaultRescopeChain(),
		logger:     logrus.StandardLogger(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Navigate loads url and waits for the document body.
func (r *MapsReader) Navigate(ctx context.Context, url string) error {
	if err := r.page.Run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(r.settle),
	); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

// Reload reloads the current page.
func (r *MapsReader) Reload(ctx context.Context) error {
	if err := r.page.Run(ctx,
		chromedp.Reload(),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(r.settle),
	); err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	return nil
}

// CurrentURL returns the tab's location.
func (r *MapsReader) CurrentURL(ctx context.Context) (string, error) {
	var loc string
	if err := r.page.Run(ctx, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}
	return loc, nil
}

// HTML returns the outer HTML of the document.
func (r *MapsReader) HTML(ctx context.Context) (string, error) {
	var html string
	if err := r.page.Run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read html: %w", err)
	}
	return html, nil
}

// DismissConsent clicks the first cookie-consent button found. It reports
// whether one was clicked.
func (r *MapsReader) DismissConsent(ctx context.Context) (bool, error) {
	var clicked bool
	if err := r.page.Run(ctx, chromedp.Evaluate(clickFirstScript(consentSelectors), &clicked)); err != nil {
		return false, fmt.Errorf("dismiss consent: %w", err)
	}
	if clicked {
		_ = r.page.Run(ctx, chromedp.Sleep(r.settle))
	}
	return clicked, nil
}

// DetectChallenge inspects the current page for bot-defence markers.
func (r *MapsReader) DetectChallenge(ctx context.Context) (Challenge, error) {
	loc, err := r.CurrentURL(ctx)
	if err != nil {
		return Challenge{}, err
	}
	html, err := r.HTML(ctx)
	if err != nil {
		return Challenge{}, err
	}
	return DetectChallengeHTML(html, loc), nil
}

// CollectLinks returns the place links currently rendered in the feed.
func (r *MapsReader) CollectLinks(ctx context.Context) ([]Candidate, error) {
	html, err := r.HTML(ctx)
	if err != nil {
		return nil, err
	}
	return ParseFeedLinks(html)
}

// ScrollFeed scrolls the results feed once. It reports true when the feed
// is missing or shows its end marker.
func (r *MapsReader) ScrollFeed(ctx context.Context) (bool, error) {
	var scrolled bool
	if err := r.page.Run(ctx,
		chromedp.Evaluate(scrollScript, &scrolled),
		chromedp.Sleep(r.settle),
	); err != nil {
		return false, fmt.Errorf("scroll feed: %w", err)
	}
	if !scrolled {
		return true, nil
	}
	html, err := r.HTML(ctx)
	if err != nil {
		return false, err
	}
	return FeedExhausted(html), nil
}

// ExtractDetail reads the listing page the tab is on.
func (r *MapsReader) ExtractDetail(ctx context.Context) (Detail, error) {
	if err := r.page.Run(ctx, chromedp.WaitReady(DetailReadySelector, chromedp.ByQuery)); err != nil {
		return Detail{}, fmt.Errorf("wait for detail page: %w", err)
	}
	loc, err := r.CurrentURL(ctx)
	if err != nil {
		return Detail{}, err
	}
	html, err := r.HTML(ctx)
	if err != nil {
		return Detail{}, err
	}
	return ParseDetail(html, loc)
}

// Rescope forces the results to refresh for cell by walking the strategy
// chain until one succeeds. Failure of every strategy is not an error; the
// caller collects whatever the page shows.
func (r *MapsReader) Rescope(ctx context.Context, query string, cell models.GridCell) error {
	for _, s := range r.strategies {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.Apply(ctx, r, query, cell)
		if err == nil {
			r.logger.WithFields(logrus.Fields{"cell": cell.Label, "strategy": s.Name()}).Debug("rescoped results")
			return nil
		}
		r.logger.WithFields(logrus.Fields{"cell": cell.Label, "strategy": s.Name()}).WithError(err).Debug("rescope strategy failed")
	}
	r.logger.WithField("cell", cell.Label).Warn("all rescope strategies failed; continuing with current results")
	return nil
}

// clickFirstScript builds a script clicking the first element matching any
// of selectors and returning whether it did.
func clickFirstScript(selectors []string) string {
	list, _ := json.Marshal(selectors)
	return fmt.Sprintf(`(function () {
  const selectors = %s;
  for (const sel of selectors) {
    const el = document.querySelector(sel);
    if (el) {
      el.click();
      return true;
    }
  }
  return false;
})();`, list)
}

// clickByLabelScript clicks the first button whose visible text or
// aria-label contains one of labels.
func clickByLabelScript(labels []string) string {
	lowered := make([]string, len(labels))
	for i, l := range labels {
		lowered[i] = strings.ToLower(l)
	}
	list, _ := json.Marshal(lowered)
	return fmt.Sprintf(`(function () {
  const labels = %s;
  const buttons = Array.from(document.querySelectorAll('button'));
  for (const btn of buttons) {
    const text = ((btn.getAttribute('aria-label') || '') + ' ' + (btn.textContent || '')).toLowerCase();
    if (labels.some(l => text.includes(l))) {
      btn.click();
      return true;
    }
  }
  return false;
})();`, list)
}
