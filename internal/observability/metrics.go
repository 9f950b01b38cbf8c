package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service. A nil
// *Metrics is valid and records nothing, so tests can pass nil freely.
type Metrics struct {
	ChatRequests     *prometheus.CounterVec
	UpstreamAttempts *prometheus.CounterVec
	UpstreamRetries  prometheus.Counter
	PersistDegrades  prometheus.Counter
	SendDuration     prometheus.Histogram
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ChatRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_requests_total",
			Help:      "Chat send cycles by outcome.",
		}, []string{"outcome"}),
		UpstreamAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_attempts_total",
			Help:      "Upstream completion attempts by result.",
		}, []string{"result"}),
		UpstreamRetries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_retries_total",
			Help:      "Backoff sleeps taken before upstream re-attempts.",
		}),
		PersistDegrades: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_persist_degrades_total",
			Help:      "Times the transcript was halved after a storage capacity error.",
		}),
		SendDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "send_duration_seconds",
			Help:      "Wall time of one full send cycle including retries.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
		}),
	}
}

func (m *Metrics) IncChatRequest(outcome string) {
	if m == nil {
		return
	}
	m.ChatRequests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncUpstreamAttempt(result string) {
	if m == nil {
		return
	}
	m.UpstreamAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) IncUpstreamRetry() {
	if m == nil {
		return
	}
	m.UpstreamRetries.Inc()
}

func (m *Metrics) IncPersistDegrade() {
	if m == nil {
		return
	}
	m.PersistDegrades.Inc()
}

func (m *Metrics) ObserveSendDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.SendDuration.Observe(d.Seconds())
}

// Handler exposes the default Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
