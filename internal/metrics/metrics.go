// Package metrics exposes the service's Prometheus instrumentation behind
// one provider on a private registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Provider struct {
	reg *prometheus.Registry

	RunsTotal       *prometheus.CounterVec
	RunDuration     prometheus.Histogram
	FeaturesRead    prometheus.Counter
	SnapshotsTotal  prometheus.Counter
	DiffsTotal      *prometheus.CounterVec
	QualityRuns     *prometheus.CounterVec
	FindingsTotal   *prometheus.CounterVec
	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
	EventsPublished *prometheus.CounterVec
}

func NewProvider() *Provider {
	reg := prometheus.NewRegistry()
	p := &Provider{
		reg: reg,

		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "driftwatch_change_runs_total",
			Help: "Change-detection runs by outcome.",
		}, []string{"outcome"}),

		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "driftwatch_change_run_seconds",
			Help:    "Duration of change-detection runs.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),

		FeaturesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "driftwatch_features_read_total",
			Help: "Features streamed from remote tables.",
		}),

		SnapshotsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "driftwatch_snapshots_created_total",
			Help: "Snapshots written.",
		}),

		DiffsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "driftwatch_diffs_created_total",
			Help: "Diffs recorded by type.",
		}, []string{"type"}),

		QualityRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "driftwatch_quality_runs_total",
			Help: "Quality runs by outcome.",
		}, []string{"outcome"}),

		FindingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "driftwatch_findings_total",
			Help: "Findings recorded by category and result.",
		}, []string{"category", "result"}),

		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "driftwatch_http_requests_total",
			Help: "HTTP requests by route and status class.",
		}, []string{"route", "status"}),

		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "driftwatch_http_request_seconds",
			Help:    "HTTP request duration by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),

		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "driftwatch_events_published_total",
			Help: "Diff events published by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		p.RunsTotal, p.RunDuration, p.FeaturesRead, p.SnapshotsTotal,
		p.DiffsTotal, p.QualityRuns, p.FindingsTotal,
		p.HTTPRequests, p.HTTPDuration, p.EventsPublished,
	)
	return p
}

// Handler serves the private registry.
func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{})
}
