package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Engine collectors. Labels are drawn from small fixed sets (channel,
// outcome, feed ID) so cardinality stays bounded.
var (
	inboundMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_inbound_messages_total",
			Help: "Connector messages received, by channel and outcome (accepted, duplicate, invalid, error).",
		},
		[]string{"channel", "outcome"},
	)

	resolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_identity_resolutions_total",
			Help: "Identity resolutions by outcome (existing, auto_attach, suggested, new).",
		},
		[]string{"outcome"},
	)

	contactOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_contact_operations_total",
			Help: "Manual contact operations by kind (merge, unmerge) and outcome.",
		},
		[]string{"op", "outcome"},
	)

	annotations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_annotations_total",
			Help: "Annotation attempts by outcome (stored, dropped, failed).",
		},
		[]string{"outcome"},
	)

	annotationLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "inbox_annotation_duration_seconds",
			Help:    "Time spent obtaining an annotation, retries included.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	rescans = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_feed_rescans_total",
			Help: "Completed feed re-scans by feed.",
		},
		[]string{"feed"},
	)

	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "inbox_queue_depth",
			Help: "Jobs waiting in background queues.",
		},
		[]string{"queue"},
	)

	queueDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_queue_dropped_total",
			Help: "Jobs dropped because a queue was full; the periodic sweep recovers them.",
		},
		[]string{"queue"},
	)
)

func init() {
	prometheus.MustRegister(inboundMessages, resolutions, contactOps, annotations,
		annotationLatency, rescans, queueDepth, queueDropped)
}

// InboundMessage counts one connector delivery.
func InboundMessage(channel, outcome string) { inboundMessages.WithLabelValues(channel, outcome).Inc() }

// Resolution counts one identity resolution.
func Resolution(outcome string) { resolutions.WithLabelValues(outcome).Inc() }

// ContactOp counts one merge or unmerge.
func ContactOp(op, outcome string) { contactOps.WithLabelValues(op, outcome).Inc() }

// Annotation records the outcome and duration of one annotation job.
func Annotation(outcome string, seconds float64) {
	annotations.WithLabelValues(outcome).Inc()
	annotationLatency.Observe(seconds)
}

// Rescan counts a completed feed re-scan.
func Rescan(feedID string) { rescans.WithLabelValues(feedID).Inc() }

// QueueDepth sets the current depth of a queue.
func QueueDepth(queue string, n int) { queueDepth.WithLabelValues(queue).Set(float64(n)) }

// QueueDropped counts a job dropped from a full queue.
func QueueDropped(queue string) { queueDropped.WithLabelValues(queue).Inc() }
