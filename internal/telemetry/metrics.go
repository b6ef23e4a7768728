package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsCreated       = prometheus.NewCounter(prometheus.CounterOpts{Name: "goldmine_render_jobs_created_total", Help: "Render jobs accepted"})
	JobsRejected      = prometheus.NewCounter(prometheus.CounterOpts{Name: "goldmine_render_jobs_rejected_total", Help: "Render job creations rejected because a job was active"})
	JobsFinished      = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "goldmine_render_jobs_finished_total", Help: "Render jobs by terminal status"}, []string{"status"})
	ActiveJobs        = prometheus.NewGauge(prometheus.GaugeOpts{Name: "goldmine_render_jobs_active", Help: "Render jobs currently driven"})
	JobDocuments      = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "goldmine_job_documents_total", Help: "Per-document outcomes observed by the supervisor"}, []string{"outcome"})
	DocumentRenders   = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "goldmine_document_renders_total", Help: "Document render pipeline outcomes"}, []string{"outcome"})
	RenderDuration    = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "goldmine_renderer_duration_seconds", Help: "Converter wall time", Buckets: prometheus.ExponentialBuckets(0.25, 2, 10)})
	SegmentMismatch   = prometheus.NewCounter(prometheus.CounterOpts{Name: "goldmine_search_text_mismatch_total", Help: "Documents whose HTML segment count differed from the exercise count"})
	PreviewRenders    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "goldmine_pdf_previews_total", Help: "PDF page previews by cache outcome"}, []string{"outcome"})
	StreamSubscribers = prometheus.NewGauge(prometheus.GaugeOpts{Name: "goldmine_job_stream_subscribers", Help: "Open job snapshot websocket streams"})
)

// Handler exposes the /metrics handler, registering collectors once.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsCreated,
			JobsRejected,
			JobsFinished,
			ActiveJobs,
			JobDocuments,
			DocumentRenders,
			RenderDuration,
			SegmentMismatch,
			PreviewRenders,
			StreamSubscribers,
		)
	})
	return promhttp.Handler()
}
