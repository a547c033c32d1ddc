// Package metrics instruments the build/publish pipeline. A batch job has
// nothing to scrape, so metrics are pushed to a Pushgateway at the end of a
// run when one is configured; the preview server exposes the same registry
// over /metrics instead.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/davidsbond/blog/internal/version"
	"github.com/davidsbond/blog/internal/xerrors"
)

type BuildMetrics struct {
	reg     *prometheus.Registry
	handler http.Handler

	buildInfo         *prometheus.GaugeVec
	postsLoaded       prometheus.Gauge
	draftsSkipped     prometheus.Gauge
	artifactsRendered prometheus.Gauge
	stageDuration     *prometheus.HistogramVec
	publishTotal      *prometheus.CounterVec
	publishedBytes    prometheus.Counter
	buildSuccessTs    prometheus.Gauge

	reqTotal *prometheus.CounterVec
	reqDur   *prometheus.HistogramVec
	inflight prometheus.Gauge
}

// New returns a fresh registry with standard collectors plus pipeline
// metrics. Safe label sets only; artifact paths never become labels.
func New() *BuildMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &BuildMetrics{
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "version", "commit", "go_version"}),
		postsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "blog_posts_loaded",
			Help: "Posts loaded from the content store in the last run",
		}),
		draftsSkipped: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "blog_drafts_skipped",
			Help: "Draft posts excluded from the last render",
		}),
		artifactsRendered: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "blog_artifacts_rendered",
			Help: "Artifacts produced by the last render",
		}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "blog_stage_duration_seconds",
			Help:    "Duration of each pipeline stage",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		}, []string{"stage"}),
		publishTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blog_publish_objects_total",
			Help: "Published objects by result (uploaded or skipped)",
		}, []string{"result"}),
		publishedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blog_published_bytes_total",
			Help: "Total bytes uploaded to the deployment target",
		}),
		buildSuccessTs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "blog_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Preview server requests by method and status",
		}, []string{"method", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Preview server request latency by method",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"method"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight preview requests",
		}),
	}

	reg.MustRegister(
		m.buildInfo,
		m.postsLoaded,
		m.draftsSkipped,
		m.artifactsRendered,
		m.stageDuration,
		m.publishTotal,
		m.publishedBytes,
		m.buildSuccessTs,
		m.reqTotal,
		m.reqDur,
		m.inflight,
	)

	m.reg = reg
	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	return m
}

func (m *BuildMetrics) SetBuildInfo(vi version.Info) {
	m.buildInfo.WithLabelValues(vi.AppName, vi.Version, vi.Commit, vi.GoVersion).Set(1)
}

func (m *BuildMetrics) SetPostsLoaded(n int)       { m.postsLoaded.Set(float64(n)) }
func (m *BuildMetrics) SetDraftsSkipped(n int)     { m.draftsSkipped.Set(float64(n)) }
func (m *BuildMetrics) SetArtifactsRendered(n int) { m.artifactsRendered.Set(float64(n)) }

func (m *BuildMetrics) ObserveStage(stage string, d time.Duration) {
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *BuildMetrics) AddPublished(uploaded, skipped int, bytes int64) {
	m.publishTotal.WithLabelValues("uploaded").Add(float64(uploaded))
	m.publishTotal.WithLabelValues("skipped").Add(float64(skipped))
	m.publishedBytes.Add(float64(bytes))
}

func (m *BuildMetrics) SetLastSuccess(t time.Time) {
	m.buildSuccessTs.Set(float64(t.Unix()))
}

// Handler serves the registry for the preview server's /metrics route.
func (m *BuildMetrics) Handler() http.Handler { return m.handler }

// Push sends the registry to a Pushgateway, grouped by job. Called once at
// the end of a batch run; failures are the caller's to log, not fatal.
func (m *BuildMetrics) Push(ctx context.Context, gatewayURL, job string) error {
	if gatewayURL == "" {
		return xerrors.New("pushgateway URL is empty")
	}
	err := push.New(gatewayURL, job).Gatherer(m.reg).PushContext(ctx)
	return xerrors.Wrap(err, "push metrics")
}
