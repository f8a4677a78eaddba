// Package metrics records crawl observability counters.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RequestEvent describes one navigation.
type RequestEvent struct {
	URL      string
	Success  bool
	Duration time.Duration
	Blocked  bool
	Captcha  bool
}

// PlaceEvent describes one newly extracted listing.
type PlaceEvent struct {
	Phone          bool
	Website        bool
	RealWebsite    bool
	SocialMedia    bool
	Directory      bool
	RelevanceScore int
}

// Sink is the metrics collaborator consumed by the crawler.
type Sink interface {
	RecordRequest(RequestEvent)
	RecordPlaceFound(PlaceEvent)
	RecordCacheHit()
	RecordCacheMiss()
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordRequest(RequestEvent)  {}
func (Nop) RecordPlaceFound(PlaceEvent) {}
func (Nop) RecordCacheHit()             {}
func (Nop) RecordCacheMiss()            {}

// Prometheus exports crawl metrics.
type Prometheus struct {
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	blocked         *prometheus.CounterVec
	places          *prometheus.CounterVec
	relevance       prometheus.Histogram
	cache           *prometheus.CounterVec
	breakerState    *prometheus.GaugeVec
	breakerChanges  *prometheus.CounterVec
	poolInstances   *prometheus.GaugeVec
	poolPages       prometheus.Gauge
}

// NewPrometheus creates and registers the collectors under namespace.
func NewPrometheus(reg prometheus.Registerer, namespace string) *Prometheus {
	p := &Prometheus{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "navigation_requests_total",
			Help:      "Navigations by outcome",
		}, []string{"outcome"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "navigation_duration_seconds",
			Help:      "Navigation latency",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 45},
		}, []string{"outcome"}),
		blocked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "navigation_challenges_total",
			Help:      "Navigations that hit bot defences",
		}, []string{"kind"}),
		places: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "places_found_total",
			Help:      "Extracted listings by contact channel",
		}, []string{"channel"}),
		relevance: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "place_relevance_score",
			Help:      "Relevance score of extracted listings",
			Buckets:   []float64{0, 20, 40, 60, 80, 100, 140, 180, 280},
		}),
		cache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Result cache lookups by outcome",
		}, []string{"result"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"breaker"}),
		breakerChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_transitions_total",
			Help:      "Circuit breaker state transitions",
		}, []string{"breaker", "from", "to"}),
		poolInstances: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "browser_pool_instances",
			Help:      "Browser instances by state",
		}, []string{"state"}),
		poolPages: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "browser_pool_pages_opened",
			Help:      "Pages opened since the pool started",
		}),
	}
	reg.MustRegister(
		p.requests, p.requestDuration, p.blocked, p.places, p.relevance,
		p.cache, p.breakerState, p.breakerChanges, p.poolInstances, p.poolPages,
	)
	return p
}

func (p *Prometheus) RecordRequest(e RequestEvent) {
	outcome := "success"
	if !e.Success {
		outcome = "failure"
	}
	p.requests.WithLabelValues(outcome).Inc()
	p.requestDuration.WithLabelValues(outcome).Observe(e.Duration.Seconds())
	if e.Captcha {
		p.blocked.WithLabelValues("captcha").Inc()
	} else if e.Blocked {
		p.blocked.WithLabelValues("blocked").Inc()
	}
}

func (p *Prometheus) RecordPlaceFound(e PlaceEvent) {
	p.places.WithLabelValues("any").Inc()
	if e.Phone {
		p.places.WithLabelValues("phone").Inc()
	}
	if e.Website {
		p.places.WithLabelValues("website").Inc()
	}
	if e.RealWebsite {
		p.places.WithLabelValues("real_website").Inc()
	}
	if e.SocialMedia {
		p.places.WithLabelValues("social").Inc()
	}
	if e.Directory {
		p.places.WithLabelValues("directory").Inc()
	}
	p.relevance.Observe(float64(e.RelevanceScore))
}

func (p *Prometheus) RecordCacheHit()  { p.cache.WithLabelValues("hit").Inc() }
func (p *Prometheus) RecordCacheMiss() { p.cache.WithLabelValues("miss").Inc() }

// RecordBreakerTransition tracks a circuit breaker state change. state is
// the numeric value of the new state.
func (p *Prometheus) RecordBreakerTransition(name, from, to string, state int) {
	p.breakerState.WithLabelValues(name).Set(float64(state))
	p.breakerChanges.WithLabelValues(name, from, to).Inc()
}

// RecordPool publishes browser pool counters.
func (p *Prometheus) RecordPool(total, inUse int, pagesOpened int64) {
	p.poolInstances.WithLabelValues("in_use").Set(float64(inUse))
	p.poolInstances.WithLabelValues("available").Set(float64(total - inUse))
	p.poolPages.Set(float64(pagesOpened))
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
