package metrics

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every collector exported by the service.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	analysisStartedTotal = factory.NewCounter(prometheus.CounterOpts{
		Name: "analysis_started_total",
		Help: "Total analyses started",
	})
	analysisCompletedTotal = factory.NewCounter(prometheus.CounterOpts{
		Name: "analysis_completed_total",
		Help: "Total analyses completed",
	})
	analysisFailedTotal = factory.NewCounter(prometheus.CounterOpts{
		Name: "analysis_failed_total",
		Help: "Total analyses failed",
	})
	analysisDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Name:    "analysis_duration_ms",
		Help:    "Analysis duration in milliseconds",
		Buckets: []float64{100, 250, 500, 1000, 2000, 5000, 10000, 30000, 60000},
	})

	generationStartedTotal = factory.NewCounter(prometheus.CounterOpts{
		Name: "generation_started_total",
		Help: "Total resume generations started",
	})
	generationCompletedTotal = factory.NewCounter(prometheus.CounterOpts{
		Name: "generation_completed_total",
		Help: "Total resume generations completed",
	})
	generationFailedTotal = factory.NewCounter(prometheus.CounterOpts{
		Name: "generation_failed_total",
		Help: "Total resume generations failed",
	})
	generationDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Name:    "generation_duration_ms",
		Help:    "Resume generation duration in milliseconds",
		Buckets: []float64{100, 250, 500, 1000, 2000, 5000, 10000, 30000, 60000},
	})

	feedbackFallbackTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "feedback_fallback_total",
		Help: "Feedback responses replaced by the built-in fallback record",
	}, []string{"reason"})

	llmRequestsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_requests_total",
		Help: "Requests sent to the text-generation service",
	}, []string{"kind", "outcome"})

	uploadsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "uploads_total",
		Help: "Document uploads by result",
	}, []string{"result"})

	staleResultsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "stale_results_total",
		Help: "Completions discarded because the session moved on",
	}, []string{"kind"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// IncAnalysisStarted increments the started counter.
func IncAnalysisStarted() {
	analysisStartedTotal.Inc()
}

// IncAnalysisCompleted increments the completed counter.
func IncAnalysisCompleted() {
	analysisCompletedTotal.Inc()
}

// IncAnalysisFailed increments the failed counter.
func IncAnalysisFailed() {
	analysisFailedTotal.Inc()
}

// ObserveAnalysisDuration records how long an analysis call took.
func ObserveAnalysisDuration(d time.Duration) {
	analysisDuration.Observe(millis(d))
}

func IncGenerationStarted() {
	generationStartedTotal.Inc()
}

func IncGenerationCompleted() {
	generationCompletedTotal.Inc()
}

func IncGenerationFailed() {
	generationFailedTotal.Inc()
}

// ObserveGenerationDuration records how long a regeneration call took.
func ObserveGenerationDuration(d time.Duration) {
	generationDuration.Observe(millis(d))
}

// IncFeedbackFallback counts a fallback substitution labelled by reason.
func IncFeedbackFallback(reason string) {
	feedbackFallbackTotal.WithLabelValues(reason).Inc()
}

// IncLLMRequest counts an outbound generate call. kind is "feedback" or "resume".
func IncLLMRequest(kind, outcome string) {
	llmRequestsTotal.WithLabelValues(kind, outcome).Inc()
}

func IncUpload(result string) {
	uploadsTotal.WithLabelValues(result).Inc()
}

func IncStaleResult(kind string) {
	staleResultsTotal.WithLabelValues(kind).Inc()
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(Registry, promhttp.HandlerOpts{}))
}

func millis(d time.Duration) float64 {
	if d < 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
