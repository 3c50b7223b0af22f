package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the relay's Prometheus collectors.
type Metrics struct {
	Messages             *prometheus.CounterVec
	AudioDeliverySeconds prometheus.Histogram
	BackgroundTasks      prometheus.Gauge
	StaleSwept           prometheus.Counter
	HTTPRequests         *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Messages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "whatsapp_relay_messages_total",
			Help: "Messages by type and final status",
		}, []string{"type", "status"}),
		AudioDeliverySeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "whatsapp_relay_audio_delivery_seconds",
			Help:    "Duration of background audio delivery tasks",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40},
		}),
		BackgroundTasks: f.NewGauge(prometheus.GaugeOpts{
			Name: "whatsapp_relay_background_tasks",
			Help: "Background tasks currently running",
		}),
		StaleSwept: f.NewCounter(prometheus.CounterOpts{
			Name: "whatsapp_relay_stale_swept_total",
			Help: "Processing messages failed by the stale sweeper",
		}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "whatsapp_relay_http_requests_total",
			Help: "HTTP requests by method and status code",
		}, []string{"method", "code"}),
	}
}

func (m *Metrics) MessageDone(msgType, status string) {
	if m == nil {
		return
	}
	m.Messages.WithLabelValues(msgType, status).Inc()
}
