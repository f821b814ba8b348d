// Package metrics registers the Prometheus counters, histograms, and
// gauges the transformer pipeline updates. Every ambient and domain
// component is handed the package-level vars directly, mirroring the
// teacher's package-level-vars-plus-Register() shape.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	PermanentPayloadErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wifitransformer_permanent_payload_errors_total",
			Help: "Non-retriable payload failures by stage (envelope, fetch, decode, parse).",
		},
		[]string{"stage"},
	)

	NotificationProcessingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wifitransformer_notification_processing_duration_seconds",
			Help:    "End-to-end per-notification processing latency.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)

	RecordsEmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wifitransformer_records_emitted_total",
			Help: "Measurements accepted by the Publisher, by connection_status.",
		},
		[]string{"connection_status"},
	)

	RecordsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wifitransformer_records_dropped_total",
			Help: "Per-record drops by reason (validation, timestamp, hotspot, oversize, serialization).",
		},
		[]string{"reason"},
	)

	PublisherBatchCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "wifitransformer_publisher_batch_count",
			Help: "Records currently accumulated in the publisher's in-progress batch.",
		},
	)

	PublisherBatchBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "wifitransformer_publisher_batch_bytes",
			Help: "Bytes currently accumulated in the publisher's in-progress batch.",
		},
	)

	BatchesEmittedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wifitransformer_batches_emitted_total",
			Help: "Batches handed to the delivery client.",
		},
	)

	DeliveredRecordsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wifitransformer_delivered_records_total",
			Help: "Records successfully delivered to the downstream stream.",
		},
	)

	DeliveryRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wifitransformer_delivery_retries_total",
			Help: "Delivery retry attempts by failure class.",
		},
		[]string{"class"},
	)

	DeadLetteredRecordsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wifitransformer_dead_lettered_records_total",
			Help: "Records that exhausted all delivery attempts.",
		},
	)

	HotspotDetectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wifitransformer_hotspot_detections_total",
			Help: "Mobile-hotspot OUI matches by configured action.",
		},
		[]string{"action"},
	)
)

var registerOnce sync.Once

// Register registers every metric above with the default Prometheus
// registry. Safe to call more than once; only the first call takes
// effect.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			PermanentPayloadErrorsTotal,
			NotificationProcessingDuration,
			RecordsEmittedTotal,
			RecordsDroppedTotal,
			PublisherBatchCount,
			PublisherBatchBytes,
			BatchesEmittedTotal,
			DeliveredRecordsTotal,
			DeliveryRetriesTotal,
			DeadLetteredRecordsTotal,
			HotspotDetectionsTotal,
		)
	})
}
