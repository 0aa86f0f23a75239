package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records admission pipeline outcomes.
type Metrics interface {
	IncVerdict(status, context string)
	IncRejectionReason(reason string)
	ObserveStage(stage string, durationSeconds float64)
	SetQuarantinePending(n float64)
}

// Noop implements Metrics without emitting anything. Used in tests and in
// the sweeper binary.
type Noop struct{}

func (Noop) IncVerdict(string, string)      {}
func (Noop) IncRejectionReason(string)      {}
func (Noop) ObserveStage(string, float64)   {}
func (Noop) SetQuarantinePending(float64)   {}

// Prom implements Metrics backed by Prometheus collectors.
type Prom struct {
	verdicts          *prometheus.CounterVec
	rejectionReasons  *prometheus.CounterVec
	stageDuration     *prometheus.HistogramVec
	quarantinePending prometheus.Gauge
	once              sync.Once
}

func NewProm(namespace string) *Prom {
	p := &Prom{
		verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verdicts_total",
			Help:      "Admission verdicts by status and upload context",
		}, []string{"status", "context"}),
		rejectionReasons: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejection_reasons_total",
			Help:      "Rejection reason codes",
		}, []string{"reason"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		quarantinePending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "quarantine_pending",
			Help:      "Records currently awaiting review",
		}),
	}
	p.register()
	return p
}

func (p *Prom) register() {
	p.once.Do(func() {
		prometheus.MustRegister(p.verdicts, p.rejectionReasons, p.stageDuration, p.quarantinePending)
	})
}

func (p *Prom) IncVerdict(status, context string) {
	p.verdicts.WithLabelValues(status, context).Inc()
}

func (p *Prom) IncRejectionReason(reason string) {
	p.rejectionReasons.WithLabelValues(reason).Inc()
}

func (p *Prom) ObserveStage(stage string, durationSeconds float64) {
	p.stageDuration.WithLabelValues(stage).Observe(durationSeconds)
}

func (p *Prom) SetQuarantinePending(n float64) {
	p.quarantinePending.Set(n)
}
