package scraper

import (
	"net/url"
	"regexp"
	"sort"
	"strings"
)

var placeIDPattern = regexp.MustCompile(`!1s([^!?&#/]+)`)

// PlaceID extracts the stable listing identifier from a place URL.
func PlaceID(rawURL string) (string, bool) {
	m := placeIDPattern.FindStringSubmatch(rawURL)
	if m == nil {
		return "", false
	}
	id, err := url.PathUnescape(m[1])
	if err != nil {
		id = m[1]
	}
	return id, id != ""
}

// IsPlaceLink reports whether href points at a listing detail page.
func IsPlaceLink(href string) bool {
	return strings.Contains(href, "/maps/place/")
}

// WebsiteClass is the classification of a listing's website.
type WebsiteClass struct {
	Real      bool
	Social    bool
	Directory bool
}

var socialDomains = map[string]string{
	"facebook.com":  "facebook",
	"fb.com":        "facebook",
	"instagram.com": "instagram",
	"twitter.com":   "twitter",
	"x.com":         "twitter",
	"tiktok.com":    "tiktok",
	"linkedin.com":  "linkedin",
	"youtube.com":   "youtube",
	"wa.me":         "whatsapp",
	"whatsapp.com":  "whatsapp",
	"linktr.ee":     "linktree",
}

var directoryDomains = []string{
	"pedidosya.com",
	"pedidosya.com.ar",
	"rappi.com",
	"rappi.com.ar",
	"tripadvisor.com",
	"tripadvisor.com.ar",
	"yelp.com",
	"booking.com",
	"despegar.com",
	"mercadolibre.com.ar",
	"paginasamarillas.com.ar",
	"guiaoleo.com.ar",
	"restorando.com",
	"thefork.com",
	"doctoralia.com.ar",
	"google.com",
	"goo.gl",
	"g.page",
	"sites.google.com",
	"wixsite.com",
	"negocio.site",
	"business.site",
}

// ClassifyWebsite sorts a website into real, social-media or directory. An
// empty or unparsable value is none of them.
func ClassifyWebsite(raw string) WebsiteClass {
	host := hostOf(raw)
	if host == "" {
		return WebsiteClass{}
	}
	if _, ok := socialNetwork(host); ok {
		return WebsiteClass{Social: true}
	}
	for _, d := range directoryDomains {
		if domainMatches(host, d) {
			return WebsiteClass{Directory: true}
		}
	}
	return WebsiteClass{Real: true}
}

// SocialHandles returns "network:handle" entries for every social profile
// among links, sorted and deduplicated.
func SocialHandles(links ...string) []string {
	seen := map[string]struct{}{}
	for _, link := range links {
		u, err := parseLoose(link)
		if err != nil {
			continue
		}
		network, ok := socialNetwork(strings.ToLower(u.Hostname()))
		if !ok {
			continue
		}
		handle := firstPathSegment(u.Path)
		if handle == "" || reservedPaths[handle] {
			continue
		}
		seen[network+":"+strings.TrimPrefix(handle, "@")] = struct{}{}
	}
	if len(seen) == 0 {
		return nil
	}
	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

var reservedPaths = map[string]bool{
	"share": true, "sharer": true, "sharer.php": true, "intent": true,
	"p": true, "reel": true, "watch": true, "profile.php": true, "pages": true,
}

// UnwrapRedirect returns the target of a google.com/url?q= redirect.
func UnwrapRedirect(raw string) string {
	u, err := parseLoose(raw)
	if err != nil {
		return raw
	}
	if strings.HasSuffix(u.Hostname(), "google.com") && u.Path == "/url" {
		if q := u.Query().Get("q"); q != "" {
			return q
		}
		if q := u.Query().Get("url"); q != "" {
			return q
		}
	}
	return raw
}

func socialNetwork(host string) (string, bool) {
	for domain, network := range socialDomains {
		if domainMatches(host, domain) {
			return network, true
		}
	}
	return "", false
}

func domainMatches(host, domain string) bool {
	return host == domain || strings.HasSuffix(host, "."+domain)
}

func hostOf(raw string) string {
	u, err := parseLoose(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

func parseLoose(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw != "" && !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	return url.Parse(raw)
}

func firstPathSegment(p string) string {
	for _, seg := range strings.Split(p, "/") {
		if seg != "" {
			return seg
		}
	}
	return ""
}
