package stats

import "github.com/prometheus/client_golang/prometheus"

var (
	descAttemptedConnections = prometheus.NewDesc(
		"gridpoll_attempted_connections_total",
		"FTP sessions attempted per device.",
		[]string{"device"}, nil)
	descSuccessfulConnections = prometheus.NewDesc(
		"gridpoll_successful_connections_total",
		"FTP sessions established per device.",
		[]string{"device"}, nil)
	descFailedConnections = prometheus.NewDesc(
		"gridpoll_failed_connections_total",
		"FTP session failures per device.",
		[]string{"device"}, nil)
	descAttemptedDialUps = prometheus.NewDesc(
		"gridpoll_attempted_dialups_total",
		"Dial-up attempts per device.",
		[]string{"device"}, nil)
	descSuccessfulDialUps = prometheus.NewDesc(
		"gridpoll_successful_dialups_total",
		"Dial-up connections established per device.",
		[]string{"device"}, nil)
	descFailedDialUps = prometheus.NewDesc(
		"gridpoll_failed_dialups_total",
		"Dial-up failures per device.",
		[]string{"device"}, nil)
	descFilesDownloaded = prometheus.NewDesc(
		"gridpoll_files_downloaded_total",
		"Files downloaded per device over the process lifetime.",
		[]string{"device"}, nil)
	descMegaBytesDownloaded = prometheus.NewDesc(
		"gridpoll_megabytes_downloaded_total",
		"Megabytes downloaded per device (base 1000).",
		[]string{"device"}, nil)
	descConnectedSeconds = prometheus.NewDesc(
		"gridpoll_connected_seconds_total",
		"Total FTP-connected time per device.",
		[]string{"device"}, nil)
	descDialUpSeconds = prometheus.NewDesc(
		"gridpoll_dialup_seconds_total",
		"Total dialed-up time per device.",
		[]string{"device"}, nil)
	descEnabled = prometheus.NewDesc(
		"gridpoll_device_enabled",
		"Whether the device is enabled (0/1).",
		[]string{"device"}, nil)
)

// Collector exposes the registry's counters as Prometheus metrics. Values
// are read at scrape time from the per-device snapshots.
type Collector struct {
	registry *Registry
}

// NewCollector wraps a stats registry for scraping.
func NewCollector(registry *Registry) *Collector {
	return &Collector{registry: registry}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descAttemptedConnections
	ch <- descSuccessfulConnections
	ch <- descFailedConnections
	ch <- descAttemptedDialUps
	ch <- descSuccessfulDialUps
	ch <- descFailedDialUps
	ch <- descFilesDownloaded
	ch <- descMegaBytesDownloaded
	ch <- descConnectedSeconds
	ch <- descDialUpSeconds
	ch <- descEnabled
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for device, snap := range c.registry.Snapshot() {
		counter := func(desc *prometheus.Desc, v float64) {
			ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, v, device)
		}
		counter(descAttemptedConnections, float64(snap.AttemptedConnections))
		counter(descSuccessfulConnections, float64(snap.SuccessfulConnections))
		counter(descFailedConnections, float64(snap.FailedConnections))
		counter(descAttemptedDialUps, float64(snap.AttemptedDialUps))
		counter(descSuccessfulDialUps, float64(snap.SuccessfulDialUps))
		counter(descFailedDialUps, float64(snap.FailedDialUps))
		counter(descFilesDownloaded, float64(snap.TotalFilesDownloaded))
		counter(descMegaBytesDownloaded, snap.MegaBytesDownloaded)
		counter(descConnectedSeconds, float64(snap.TotalConnectedTime))
		counter(descDialUpSeconds, float64(snap.TotalDialUpTime))
		ch <- prometheus.MustNewConstMetric(descEnabled, prometheus.GaugeValue,
			float64(snap.Enabled), device)
	}
}
