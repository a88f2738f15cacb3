package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var totalForwardPasses atomic.Int64

var (
	ExtractionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spyglass_extractions_total",
		Help: "Total number of feature extraction operations",
	}, []string{"op"})

	ExtractionDuration = promauto.NewSummary(prometheus.SummaryOpts{
		Name: "spyglass_extraction_duration_seconds",
		Help: "Duration of extraction operations including forward passes",
	})

	ForwardDuration = promauto.NewSummary(prometheus.SummaryOpts{
		Name: "spyglass_forward_duration_seconds",
		Help: "Duration of instrumented forward passes",
	})

	CapturedTensors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spyglass_captured_tensors_total",
		Help: "Total number of tensors captured, by tap point",
	}, []string{"kind"})

	ShapeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spyglass_shape_errors_total",
		Help: "Total number of shape validation failures",
	}, []string{"operation", "error_type"})

	PatchCount = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "spyglass_patch_count",
		Help:    "Distribution of token counts per processed image",
		Buckets: []float64{50, 100, 197, 257, 400, 785, 1000, 2000},
	})

	NumericalInstability = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spyglass_numerical_instability_total",
		Help: "Total number of NaN/Inf values detected in captured tensors",
	}, []string{"tensor", "type"})

	FlightExports = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spyglass_flight_exports_total",
		Help: "Total number of Arrow Flight export attempts",
	}, []string{"status"})
)

// RecordExtraction records one completed public extraction operation.
func RecordExtraction(op string, duration time.Duration) {
	ExtractionsTotal.WithLabelValues(op).Inc()
	ExtractionDuration.Observe(duration.Seconds())
}

// RecordForward records one instrumented forward pass.
func RecordForward(duration time.Duration) {
	totalForwardPasses.Add(1)
	ForwardDuration.Observe(duration.Seconds())
}

// RecordCapture records tensors buffered for a tap point.
func RecordCapture(kind string, count int) {
	CapturedTensors.WithLabelValues(kind).Add(float64(count))
}

// RecordShapeError records a shape validation failure.
func RecordShapeError(operation, errorType string) {
	ShapeErrors.WithLabelValues(operation, errorType).Inc()
}

// RecordPatchCount records the token count of a processed image.
func RecordPatchCount(n int) {
	PatchCount.Observe(float64(n))
}

// RecordNumericalInstability records NaN/Inf detections for a tensor.
func RecordNumericalInstability(tensor string, nans, infs int) {
	if nans > 0 {
		NumericalInstability.WithLabelValues(tensor, "nan").Add(float64(nans))
	}
	if infs > 0 {
		NumericalInstability.WithLabelValues(tensor, "inf").Add(float64(infs))
	}
}

// RecordFlightExport records the outcome of a Flight export.
func RecordFlightExport(ok bool) {
	status := "ok"
	if !ok {
		status = "error"
	}
	FlightExports.WithLabelValues(status).Inc()
}

// TotalForwardPasses returns the process-lifetime forward pass count.
func TotalForwardPasses() int64 {
	return totalForwardPasses.Load()
}
