package metrics

import (
	"net/http"
	"slices"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cinema"

var (
	descConnectionsAccepted = prometheus.NewDesc(
		namespace+"_connections_accepted_total",
		"Connections accepted by the collector.",
		nil, nil)
	descConnectionsActive = prometheus.NewDesc(
		namespace+"_connections_active",
		"Connections currently open.",
		nil, nil)
	descSessionsCompleted = prometheus.NewDesc(
		namespace+"_sessions_completed_total",
		"Sessions that completed the handshake.",
		nil, nil)
	descSessionsFailed = prometheus.NewDesc(
		namespace+"_sessions_failed_total",
		"Sessions that failed, by reason.",
		[]string{"reason"}, nil)
	descFilesWritten = prometheus.NewDesc(
		namespace+"_files_written_total",
		"Files committed to the output location.",
		nil, nil)
	descBytesReceived = prometheus.NewDesc(
		namespace+"_bytes_received_total",
		"File content bytes committed to the output location.",
		nil, nil)
	descStorageWrites = prometheus.NewDesc(
		namespace+"_storage_writes_total",
		"Writes to the output location, by result.",
		[]string{"result"}, nil)
	descAdapterPublish = prometheus.NewDesc(
		namespace+"_adapter_publish_total",
		"Notification publish attempts, by result.",
		[]string{"result"}, nil)
	descInfo = prometheus.NewDesc(
		namespace+"_collector_info",
		"Collector configuration dimensions.",
		[]string{"storage_backend", "adapter"}, nil)
)

// Exporter adapts a Collector to prometheus.Collector. Values are read from
// a Snapshot on every scrape.
type Exporter struct {
	c *Collector
}

// Verify Exporter implements prometheus.Collector.
var _ prometheus.Collector = (*Exporter)(nil)

// NewExporter wraps c.
func NewExporter(c *Collector) *Exporter {
	return &Exporter{c: c}
}

// Describe implements prometheus.Collector.
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	ch <- descConnectionsAccepted
	ch <- descConnectionsActive
	ch <- descSessionsCompleted
	ch <- descSessionsFailed
	ch <- descFilesWritten
	ch <- descBytesReceived
	ch <- descStorageWrites
	ch <- descAdapterPublish
	ch <- descInfo
}

// Collect implements prometheus.Collector.
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	s := e.c.Snapshot()

	ch <- prometheus.MustNewConstMetric(descConnectionsAccepted, prometheus.CounterValue, float64(s.ConnectionsAccepted))
	ch <- prometheus.MustNewConstMetric(descConnectionsActive, prometheus.GaugeValue, float64(s.ConnectionsActive))
	ch <- prometheus.MustNewConstMetric(descSessionsCompleted, prometheus.CounterValue, float64(s.SessionsCompleted))

	reasons := make([]string, 0, len(s.FailedByReason))
	for reason := range s.FailedByReason {
		reasons = append(reasons, reason)
	}
	slices.Sort(reasons)
	for _, reason := range reasons {
		ch <- prometheus.MustNewConstMetric(descSessionsFailed, prometheus.CounterValue,
			float64(s.FailedByReason[reason]), reason)
	}

	ch <- prometheus.MustNewConstMetric(descFilesWritten, prometheus.CounterValue, float64(s.FilesWritten))
	ch <- prometheus.MustNewConstMetric(descBytesReceived, prometheus.CounterValue, float64(s.BytesReceived))
	ch <- prometheus.MustNewConstMetric(descStorageWrites, prometheus.CounterValue, float64(s.StorageWriteSuccess), "success")
	ch <- prometheus.MustNewConstMetric(descStorageWrites, prometheus.CounterValue, float64(s.StorageWriteFailure), "failure")
	ch <- prometheus.MustNewConstMetric(descAdapterPublish, prometheus.CounterValue, float64(s.AdapterPublishSuccess), "success")
	ch <- prometheus.MustNewConstMetric(descAdapterPublish, prometheus.CounterValue, float64(s.AdapterPublishFailure), "failure")
	ch <- prometheus.MustNewConstMetric(descInfo, prometheus.GaugeValue, 1, s.StorageBackend, s.Adapter)
}

// Handler returns an HTTP handler serving c in the Prometheus text format,
// together with the Go runtime and process collectors.
func Handler(c *Collector) http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		NewExporter(c),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
