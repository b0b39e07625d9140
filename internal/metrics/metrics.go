package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"magnet-queue/internal/domain"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "magnetq",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, route and status code.",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "magnetq",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.3, 1, 3},
	}, []string{"method", "route"})

	ItemsByState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "magnetq",
		Name:      "items",
		Help:      "Number of scheduled items by state.",
	}, []string{"state"})

	DownloadSpeedBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "magnetq",
		Name:      "download_speed_bytes",
		Help:      "Current aggregate download speed in bytes per second.",
	})

	UploadSpeedBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "magnetq",
		Name:      "upload_speed_bytes",
		Help:      "Current aggregate upload speed in bytes per second.",
	})

	PeersConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "magnetq",
		Name:      "peers_connected",
		Help:      "Total number of peers connected across all items.",
	})

	CommandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "magnetq",
		Name:      "commands_total",
		Help:      "Commands submitted to the scheduler by kind and result.",
	}, []string{"kind", "result"})

	NotificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "magnetq",
		Name:      "notifications_total",
		Help:      "Scheduler notifications consumed by kind.",
	}, []string{"kind"})

	ExportsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "magnetq",
		Name:      "exports_total",
		Help:      "Completed items exported to object storage by result.",
	}, []string{"result"})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ItemsByState,
		DownloadSpeedBytes,
		UploadSpeedBytes,
		PeersConnected,
		CommandsTotal,
		NotificationsTotal,
		ExportsTotal,
	)
}

// ObserveItems sets the state and throughput gauges from a scheduler snapshot.
func ObserveItems(items []domain.DownloadItem) {
	counts := make(map[domain.ItemState]int, len(domain.AllStates))
	var down, up int64
	var peers int
	for _, it := range items {
		counts[it.State]++
		down += it.DownloadRate
		up += it.UploadRate
		peers += it.PeerCount
	}
	for _, state := range domain.AllStates {
		ItemsByState.WithLabelValues(string(state)).Set(float64(counts[state]))
	}
	DownloadSpeedBytes.Set(float64(down))
	UploadSpeedBytes.Set(float64(up))
	PeersConnected.Set(float64(peers))
}
