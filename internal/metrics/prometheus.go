package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	onlineGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "salesflow_stream_clients",
		Help: "Number of connected admin stream clients",
	})
	pushCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "salesflow_stream_push_total",
		Help: "Total number of queue events pushed to stream clients",
	})
	enqueueCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "salesflow_queue_enqueue_total",
		Help: "Enqueue calls by result (new or duplicate)",
	}, []string{"result"})
	claimCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "salesflow_queue_claim_total",
		Help: "Queue entries claimed by workers",
	})
	outcomeCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "salesflow_queue_outcome_total",
		Help: "Processed queue entries by resulting status",
	}, []string{"status"})
	processingLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "salesflow_queue_processing_seconds",
		Help:    "Time spent processing one claimed entry",
		Buckets: prometheus.DefBuckets,
	})
	staleCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "salesflow_queue_stale_requeued_total",
		Help: "Processing entries moved back to retry by the stale sweep",
	})
	depthGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "salesflow_queue_depth",
		Help: "Queue entries per status",
	}, []string{"status"})
)

type prometheusObserver struct{}

// NewPrometheusObserver returns an observer backed by the default registry.
func NewPrometheusObserver() Observer {
	return &prometheusObserver{}
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func (p *prometheusObserver) IncOnline() {
	onlineGauge.Inc()
}
func (p *prometheusObserver) DecOnline() {
	onlineGauge.Dec()
}
func (p *prometheusObserver) RecordPush() {
	pushCounter.Inc()
}

func (p *prometheusObserver) RecordEnqueue(isNew bool) {
	result := "duplicate"
	if isNew {
		result = "new"
	}
	enqueueCounter.WithLabelValues(result).Inc()
}

func (p *prometheusObserver) RecordClaim() {
	claimCounter.Inc()
}

func (p *prometheusObserver) RecordOutcome(status string, elapsed time.Duration) {
	outcomeCounter.WithLabelValues(status).Inc()
	processingLatency.Observe(elapsed.Seconds())
}

func (p *prometheusObserver) RecordStaleRequeue(n int64) {
	staleCounter.Add(float64(n))
}

func (p *prometheusObserver) SetDepth(status string, n int64) {
	depthGauge.WithLabelValues(status).Set(float64(n))
}
