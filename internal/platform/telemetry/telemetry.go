// Package telemetry records HTTP server metrics and serves them in the
// Prometheus text exposition format.
package telemetry

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
)

// Request duration buckets in seconds.
var defaultDurationBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// histogram stores non-cumulative bucket counts; cumulative counts are
// computed at export time.
type histogram struct {
	boundaries   []float64
	bucketCounts []int64
	count        int64
	sum          uint64 // math.Float64bits
	mu           sync.Mutex
}

func newHistogram(boundaries []float64) *histogram {
	return &histogram{
		boundaries:   boundaries,
		bucketCounts: make([]int64, len(boundaries)),
	}
}

func (h *histogram) Observe(v float64) {
	atomic.AddInt64(&h.count, 1)
	for {
		old := atomic.LoadUint64(&h.sum)
		next := math.Float64bits(math.Float64frombits(old) + v)
		if atomic.CompareAndSwapUint64(&h.sum, old, next) {
			break
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for i, b := range h.boundaries {
		if v <= b {
			h.bucketCounts[i]++
			return
		}
	}
}

func (h *histogram) Count() int64 { return atomic.LoadInt64(&h.count) }

func (h *histogram) Sum() float64 { return math.Float64frombits(atomic.LoadUint64(&h.sum)) }

func (h *histogram) cumulativeBuckets() []int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	cum := make([]int64, len(h.bucketCounts))
	var running int64
	for i, c := range h.bucketCounts {
		running += c
		cum[i] = running
	}
	return cum
}

// LabelsKey builds the key of a request histogram.
func LabelsKey(method, route, status string) string {
	return method + "|" + route + "|" + status
}

// GaugeFunc is sampled on every scrape.
type GaugeFunc func() float64

type gauge struct {
	name, help string
	fn         GaugeFunc
}

// Provider holds the metrics of one server.
type Provider struct {
	mu       sync.RWMutex
	requests map[string]*histogram
	gauges   []gauge
	active   int64
}

func NewProvider() *Provider {
	return &Provider{requests: make(map[string]*histogram)}
}

// RegisterGauge adds a gauge sampled at scrape time. name must be a valid
// Prometheus metric name.
func (p *Provider) RegisterGauge(name, help string, fn GaugeFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gauges = append(p.gauges, gauge{name: name, help: help, fn: fn})
}

func (p *Provider) requestHistogram(key string) *histogram {
	p.mu.RLock()
	h, ok := p.requests[key]
	p.mu.RUnlock()
	if ok {
		return h
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if h, ok = p.requests[key]; !ok {
		h = newHistogram(defaultDurationBuckets)
		p.requests[key] = h
	}
	return h
}

// Requests returns the number of requests recorded under key.
func (p *Provider) Requests(key string) int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if h, ok := p.requests[key]; ok {
		return h.Count()
	}
	return 0
}

// Middleware records the duration of every request by method, route
// pattern and status.
func (p *Provider) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			atomic.AddInt64(&p.active, 1)
			start := time.Now()

			err := next(c)

			atomic.AddInt64(&p.active, -1)
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			key := LabelsKey(c.Request().Method, route, strconv.Itoa(status))
			p.requestHistogram(key).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Handler serves the metrics at /metrics.
func (p *Provider) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		var b strings.Builder
		p.write(&b)
		return c.Blob(http.StatusOK, "text/plain; version=0.0.4; charset=utf-8", []byte(b.String()))
	}
}

func (p *Provider) write(b *strings.Builder) {
	p.mu.RLock()
	keys := make([]string, 0, len(p.requests))
	for k := range p.requests {
		keys = append(keys, k)
	}
	snap := make(map[string]*histogram, len(p.requests))
	for k, h := range p.requests {
		snap[k] = h
	}
	gauges := append([]gauge(nil), p.gauges...)
	p.mu.RUnlock()
	sort.Strings(keys)

	const name = "http_server_request_duration_seconds"
	fmt.Fprintf(b, "# HELP %s Duration of HTTP requests in seconds.\n", name)
	fmt.Fprintf(b, "# TYPE %s histogram\n", name)
	for _, k := range keys {
		parts := strings.SplitN(k, "|", 3)
		if len(parts) != 3 {
			continue
		}
		labels := fmt.Sprintf("method=%q,route=%q,status_code=%q", parts[0], parts[1], parts[2])
		writeHistogram(b, name, labels, snap[k])
	}
	b.WriteByte('\n')

	b.WriteString("# HELP http_server_active_requests Number of active HTTP requests.\n")
	b.WriteString("# TYPE http_server_active_requests gauge\n")
	fmt.Fprintf(b, "http_server_active_requests %d\n\n", atomic.LoadInt64(&p.active))

	for _, g := range gauges {
		fmt.Fprintf(b, "# HELP %s %s\n", g.name, g.help)
		fmt.Fprintf(b, "# TYPE %s gauge\n", g.name)
		fmt.Fprintf(b, "%s %g\n\n", g.name, g.fn())
	}
}

func writeHistogram(b *strings.Builder, name, labels string, h *histogram) {
	cum := h.cumulativeBuckets()
	for i, bound := range h.boundaries {
		fmt.Fprintf(b, "%s_bucket{%s,le=\"%g\"} %d\n", name, labels, bound, cum[i])
	}
	fmt.Fprintf(b, "%s_bucket{%s,le=\"+Inf\"} %d\n", name, labels, h.Count())
	fmt.Fprintf(b, "%s_sum{%s} %g\n", name, labels, h.Sum())
	fmt.Fprintf(b, "%s_count{%s} %d\n", name, labels, h.Count())
}
