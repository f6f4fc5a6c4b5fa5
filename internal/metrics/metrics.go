package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	DownloadEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "novacl",
			Name:      "download_events_total",
			Help:      "Count of download events processed by the reconciler.",
		},
		[]string{"type"},
	)

	SegmentRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "novacl",
			Name:      "segment_retries_total",
			Help:      "Segment fetch attempts retried after a transient failure.",
		},
	)

	FetchErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "novacl",
			Name:      "fetch_errors_total",
			Help:      "Errors from HTTP fetches by failure class.",
		},
		[]string{"kind"},
	)

	FetchLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "novacl",
			Name:      "fetch_latency_seconds",
			Help:      "Time until response headers for HTTP fetches.",
		},
		[]string{"method"},
	)

	BytesDownloaded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "novacl",
			Name:      "bytes_downloaded_total",
			Help:      "Bytes written to destination files.",
		},
	)

	ActiveSegments = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "novacl",
			Name:      "active_segments",
			Help:      "Number of segment fetchers currently running.",
		},
	)

	ActiveDownloads = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "novacl",
			Name:      "active_downloads",
			Help:      "Number of downloads with a running coordinator.",
		},
	)

	EventSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "novacl",
			Name:      "event_subscribers",
			Help:      "Connected event stream subscribers.",
		},
	)

	EventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "novacl",
			Name:      "events_dropped_total",
			Help:      "Events not delivered to a slow event stream subscriber.",
		},
	)
)

// Collectors lists every NovaCL collector.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		DownloadEvents, SegmentRetries, FetchErrors, FetchLatency,
		BytesDownloaded, ActiveSegments, ActiveDownloads,
		EventSubscribers, EventsDropped,
	}
}

// Register registers the NovaCL metrics into the default registry.
func Register() {
	prometheus.MustRegister(Collectors()...)
}
