package scraper

// CSS selectors used across the scraper.
// Centralising them makes future updates trivial. Lists are tried in order;
// the first selector yielding a non-empty value wins.
const (
	// Results feed
	FeedSelector      = `div[role="feed"]`
	PlaceLinkSelector = `a[href*="/maps/place/"]`
	FeedEndSelector   = `span.HlvSq, p.fontBodyMedium > span > span`

	// Map chrome
	MapCanvasSelector = `#scene canvas, div[aria-label^="Mapa"], div[aria-label^="Map"]`
	ZoomInSelector    = `button#widget-zoom-in, button[aria-label="Acercar"], button[aria-label="Zoom in"]`
	ZoomOutSelector   = `button#widget-zoom-out, button[aria-label="Alejar"], button[aria-label="Zoom out"]`

	// Detail page
	DetailReadySelector = `h1, div[role="main"]`
)

var (
	nameSelectors = []string{
		`h1.DUwDvf`,
		`h1.fontHeadlineLarge`,
		`div[role="main"] h1`,
		`h1`,
	}
	categorySelectors = []string{
		`button.DkEaL`,
		`button[jsaction*="category"]`,
		`span.mgr77e button`,
		`div.fontBodyMedium span span button`,
	}
	addressSelectors = []string{
		`button[data-item-id="address"] .Io6YTe`,
		`button[data-item-id="address"]`,
		`div[data-item-id="address"]`,
	}
	phoneSelectors = []string{
		`button[data-item-id^="phone:tel"] .Io6YTe`,
		`button[data-item-id^="phone:tel"]`,
		`a[href^="tel:"]`,
		`div[data-item-id^="phone"] span`,
	}
	websiteSelectors = []string{
		`a[data-item-id="authority"]`,
		`a[data-item-id="website"]`,
		`a[aria-label^="Sitio web"]`,
		`a[aria-label^="Website"]`,
	}
	ratingSelectors = []string{
		`div.F7nice span[aria-hidden="true"]`,
		`span.ceNzKf`,
		`div.fontDisplayLarge`,
	}
	reviewCountSelectors = []string{
		`div.F7nice span[aria-label]`,
		`button[jsaction*="reviewChart"] span`,
		`span[aria-label*="reseñas"]`,
		`span[aria-label*="reviews"]`,
	}

	// Labels Maps prefixes to aria-label values; stripped when the value is
	// read from the attribute.
	ariaPrefixes = []string{
		"Dirección: ", "Address: ",
		"Teléfono: ", "Phone: ",
		"Sitio web: ", "Website: ",
	}

	consentSelectors = []string{
		`button[aria-label="Aceptar todo"]`,
		`button[aria-label="Accept all"]`,
		`button[aria-label="Acepto"]`,
		`button[aria-label="I agree"]`,
		`form[action*="consent"] button`,
		`button.VfPpkd-LgbsSe-OWXEXe-k8QpJ`,
	}
	searchAreaLabels = []string{
		"Buscar en esta zona",
		"Buscar en esta área",
		"Search this area",
	}
)
