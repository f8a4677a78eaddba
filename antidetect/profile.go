// Package antidetect supplies randomized browser fingerprints and humanized
// pacing to the crawler.
package antidetect

import (
	"math/rand"
	"strings"
	"sync"
	"time"
)

// Resolution is a viewport size in CSS pixels.
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Fingerprint is the identity applied to one browser instance and its pages.
type Fingerprint struct {
	UserAgent  string
	Platform   string
	Resolution Resolution
	Headers    map[string]string
	Proxy      string
}

// Provider is the anti-detection collaborator consumed by the pool and the
// crawler.
type Provider interface {
	RandomUserAgent() string
	RandomResolution() Resolution
	RandomProxy() string
	RandomHeaders() map[string]string
	HumanDelay(min, max time.Duration) time.Duration
	ShouldTakeLongPause() bool
	LongPauseDelay() time.Duration
}

// NewFingerprint draws one consistent fingerprint from p.
func NewFingerprint(p Provider) Fingerprint {
	ua := p.RandomUserAgent()
	return Fingerprint{
		UserAgent:  ua,
		Platform:   platformFor(ua),
		Resolution: p.RandomResolution(),
		Headers:    p.RandomHeaders(),
		Proxy:      p.RandomProxy(),
	}
}

// RotatingOptions tunes a Rotating provider.
type RotatingOptions struct {
	UserAgents  []string
	Proxies     []string
	PauseChance float64 // probability of a long pause between targets
	PauseMin    time.Duration
	PauseMax    time.Duration
	Seed        int64
}

// Rotating picks fingerprints uniformly from fixed tables.
type Rotating struct {
	mu   sync.Mutex
	rnd  *rand.Rand
	opts RotatingOptions
}

// NewRotating creates a provider. Zero-valued options fall back to the
// built-in tables.
func NewRotating(opts RotatingOptions) *Rotating {
	if len(opts.UserAgents) == 0 {
		opts.UserAgents = defaultUserAgents
	}
	if opts.PauseChance == 0 {
		opts.PauseChance = 0.08
	}
	if opts.PauseMin == 0 {
		opts.PauseMin = 8 * time.Second
	}
	if opts.PauseMax < opts.PauseMin {
		opts.PauseMax = opts.PauseMin + 12*time.Second
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Rotating{rnd: rand.New(rand.NewSource(seed)), opts: opts}
}

func (r *Rotating) RandomUserAgent() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.opts.UserAgents[r.rnd.Intn(len(r.opts.UserAgents))]
}

func (r *Rotating) RandomResolution() Resolution {
	r.mu.Lock()
	defer r.mu.Unlock()
	return defaultResolutions[r.rnd.Intn(len(defaultResolutions))]
}

// RandomProxy returns "" when no proxies are configured.
func (r *Rotating) RandomProxy() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.opts.Proxies) == 0 {
		return ""
	}
	return r.opts.Proxies[r.rnd.Intn(len(r.opts.Proxies))]
}

func (r *Rotating) RandomHeaders() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return map[string]string{
		"Accept-Language": acceptLanguages[r.rnd.Intn(len(acceptLanguages))],
		"DNT":             "1",
	}
}

// HumanDelay returns a uniform duration in [min, max].
func (r *Rotating) HumanDelay(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return min + time.Duration(r.rnd.Int63n(int64(max-min)+1))
}

func (r *Rotating) ShouldTakeLongPause() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rnd.Float64() < r.opts.PauseChance
}

func (r *Rotating) LongPauseDelay() time.Duration {
	return r.HumanDelay(r.opts.PauseMin, r.opts.PauseMax)
}

func platformFor(ua string) string {
	switch {
	case strings.Contains(ua, "Macintosh"):
		return "MacIntel"
	case strings.Contains(ua, "Linux"):
		return "Linux x86_64"
	default:
		return "Win32"
	}
}

var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/138.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/137.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/138.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/136.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/138.0.0.0 Safari/537.36",
}

var defaultResolutions = []Resolution{
	{Width: 1920, Height: 1080},
	{Width: 1536, Height: 864},
	{Width: 1440, Height: 900},
	{Width: 1366, Height: 768},
	{Width: 1280, Height: 800},
}

var acceptLanguages = []string{
	"es-AR,es;q=0.9,en;q=0.8",
	"es-419,es;q=0.9,en;q=0.7",
	"es-ES,es;q=0.9,en-US;q=0.8,en;q=0.7",
}
