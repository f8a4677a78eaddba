package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPrometheusSink(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheus(reg, "leadcrawl")

	p.RecordRequest(RequestEvent{URL: "https://maps", Success: true, Duration: time.Second})
	p.RecordRequest(RequestEvent{URL: "https://maps", Success: false, Captcha: true})
	p.RecordRequest(RequestEvent{URL: "https://maps", Success: false, Blocked: true})
	p.RecordPlaceFound(PlaceEvent{Phone: true, Website: true, RealWebsite: true, RelevanceScore: 100})
	p.RecordPlaceFound(PlaceEvent{SocialMedia: true, RelevanceScore: 20})
	p.RecordCacheHit()
	p.RecordCacheMiss()
	p.RecordCacheMiss()
	p.RecordBreakerTransition("maps", "closed", "open", 1)
	p.RecordPool(3, 1, 12)

	assert.Equal(t, 1.0, testutil.ToFloat64(p.requests.WithLabelValues("success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.requests.WithLabelValues("failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.blocked.WithLabelValues("captcha")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.blocked.WithLabelValues("blocked")))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.places.WithLabelValues("any")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.places.WithLabelValues("real_website")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.places.WithLabelValues("social")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.cache.WithLabelValues("hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.cache.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.breakerState.WithLabelValues("maps")))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.poolInstances.WithLabelValues("available")))
	assert.Equal(t, 12.0, testutil.ToFloat64(p.poolPages))
}

func TestNopSatisfiesSink(t *testing.T) {
	var s Sink = Nop{}
	s.RecordRequest(RequestEvent{})
	s.RecordPlaceFound(PlaceEvent{})
	s.RecordCacheHit()
	s.RecordCacheMiss()
}
